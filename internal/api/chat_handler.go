package api

import (
	"fmt"
	"net/http"
	"strings"

	"skillswap-chat/internal/service"
	"skillswap-chat/pkg/logger"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// 处理一对一聊天相关的HTTP请求
type ChatHandler struct {
	chatService *service.ChatService
	fileService *service.FileService
}

// 创建一个新的聊天处理器实例
func NewChatHandler(chatService *service.ChatService, fileService *service.FileService) *ChatHandler {
	return &ChatHandler{
		chatService: chatService,
		fileService: fileService,
	}
}

type sendMessageRequest struct {
	ReceiverID  string `json:"receiver_id" binding:"required"`
	Content     string `json:"content" binding:"required"`
	ClientMsgID string `json:"client_msg_id"`
}

// 会话列表
func (h *ChatHandler) GetConversations(c *gin.Context) {
	sender, ok := senderFromContext(c)
	if !ok {
		return
	}
	convs, err := h.chatService.Conversations(c.Request.Context(), sender.ID)
	if err != nil {
		respondError(c, err, "Failed to retrieve conversations")
		return
	}
	c.JSON(http.StatusOK, gin.H{"conversations": convs})
}

// 获取与某个用户的聊天历史，同时标记为已读
func (h *ChatHandler) GetConversation(c *gin.Context) {
	sender, ok := senderFromContext(c)
	if !ok {
		return
	}
	peerID := c.Param("userId")
	if peerID == sender.ID {
		c.JSON(http.StatusBadRequest, gin.H{"error": "cannot fetch chat history with oneself"})
		return
	}

	limit, offset := pagination(c)
	messages, err := h.chatService.ConversationHistory(c.Request.Context(), sender.ID, peerID, limit, offset)
	if err != nil {
		respondError(c, err, "Failed to retrieve chat history")
		return
	}
	c.JSON(http.StatusOK, gin.H{"messages": messages})
}

// 发送消息，落库后广播到会话房间
func (h *ChatHandler) SendMessage(c *gin.Context) {
	sender, ok := senderFromContext(c)
	if !ok {
		return
	}

	// 解析请求体
	var req sendMessageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		logger.L.Warn("Failed to bind SendMessage request", zap.Error(err))
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body: " + err.Error()})
		return
	}

	msg, err := h.chatService.SendDirect(c.Request.Context(), sender, service.DirectRequest{
		ReceiverID:  req.ReceiverID,
		Content:     req.Content,
		ClientMsgID: req.ClientMsgID,
	})
	if err != nil {
		respondError(c, err, "Failed to send message")
		return
	}
	c.JSON(http.StatusCreated, gin.H{"message": msg})
}

// 发送附件，表单字段 file、receiver_id、content（可选）
func (h *ChatHandler) SendFile(c *gin.Context) {
	sender, ok := senderFromContext(c)
	if !ok {
		return
	}
	receiverID := c.PostForm("receiver_id")
	if receiverID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "receiver_id is required"})
		return
	}
	// 先校验接收者，避免被拒绝的上传留下文件
	if _, err := h.chatService.CheckDirectTarget(c.Request.Context(), sender, receiverID); err != nil {
		respondError(c, err, "Failed to send file")
		return
	}
	fh, err := c.FormFile("file")
	if err != nil {
		respondError(c, service.ErrNoFile, "Failed to read uploaded file")
		return
	}

	info, err := h.fileService.StoreFile(c.Request.Context(), fh, sender.ID)
	if err != nil {
		respondError(c, err, "Failed to store uploaded file")
		return
	}
	msg, err := h.chatService.SendDirectFile(c.Request.Context(), sender, receiverID, c.PostForm("content"), info)
	if err != nil {
		h.fileService.Remove(c.Request.Context(), info.Key)
		respondError(c, err, "Failed to send file")
		return
	}
	c.JSON(http.StatusCreated, gin.H{"message": msg})
}

// 标记会话已读
func (h *ChatHandler) MarkRead(c *gin.Context) {
	sender, ok := senderFromContext(c)
	if !ok {
		return
	}
	n, err := h.chatService.MarkRead(c.Request.Context(), sender.ID, c.Param("conversationId"))
	if err != nil {
		respondError(c, err, "Failed to mark conversation read")
		return
	}
	c.JSON(http.StatusOK, gin.H{"updated": n})
}

// 下载附件，只有会话双方或群成员可以访问
func (h *ChatHandler) GetFile(c *gin.Context) {
	sender, ok := senderFromContext(c)
	if !ok {
		return
	}
	key := c.Param("filename")
	msg, err := h.chatService.Attachment(c.Request.Context(), sender.ID, key)
	if err != nil {
		respondError(c, err, "Failed to access attachment")
		return
	}

	body, err := h.fileService.Open(c.Request.Context(), key)
	if err != nil {
		respondError(c, err, "Failed to open attachment")
		return
	}
	defer body.Close()

	size := msg.FileSize
	if size <= 0 {
		size = -1
	}
	disposition := "attachment"
	if strings.HasPrefix(msg.MimeType, "image/") {
		disposition = "inline"
	}
	c.DataFromReader(http.StatusOK, size, msg.MimeType, body, map[string]string{
		"Content-Disposition": fmt.Sprintf("%s; filename=%q", disposition, msg.FileName),
	})
}
