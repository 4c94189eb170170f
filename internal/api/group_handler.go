package api

import (
	"net/http"

	"skillswap-chat/internal/model"
	"skillswap-chat/internal/service"
	"skillswap-chat/pkg/logger"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// 群消息的 REST 入口。消息先落库，再以 AlreadyPersisted 交给中继广播
type GroupHandler struct {
	chatService *service.ChatService
	fileService *service.FileService
}

func NewGroupHandler(chatService *service.ChatService, fileService *service.FileService) *GroupHandler {
	return &GroupHandler{
		chatService: chatService,
		fileService: fileService,
	}
}

type groupMessageRequest struct {
	Content     string `json:"content" binding:"required"`
	ClientMsgID string `json:"client_msg_id"`
}

func getGroupIDFromParam(c *gin.Context) (string, bool) {
	groupID := c.Param("id")
	if groupID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid group id parameter"})
		return "", false
	}
	return groupID, true
}

func (h *GroupHandler) GetMessages(c *gin.Context) {
	sender, ok := senderFromContext(c)
	if !ok {
		return
	}
	groupID, ok := getGroupIDFromParam(c)
	if !ok {
		return
	}

	limit, offset := pagination(c)
	messages, err := h.chatService.GroupHistory(c.Request.Context(), sender.ID, groupID, limit, offset)
	if err != nil {
		respondError(c, err, "Failed to retrieve group messages")
		return
	}
	c.JSON(http.StatusOK, gin.H{"messages": messages})
}

func (h *GroupHandler) PostMessage(c *gin.Context) {
	sender, ok := senderFromContext(c)
	if !ok {
		return
	}
	groupID, ok := getGroupIDFromParam(c)
	if !ok {
		return
	}

	var req groupMessageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		logger.L.Warn("Failed to bind group message request", zap.Error(err))
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body: content is required"})
		return
	}

	msg, err := h.chatService.CreateGroupMessage(c.Request.Context(), sender, groupID, req.Content, nil)
	if err != nil {
		respondError(c, err, "Failed to create group message")
		return
	}
	h.relay(c, sender, msg, req.ClientMsgID)
}

// 群附件，表单字段 file、content（可选）
func (h *GroupHandler) PostFile(c *gin.Context) {
	sender, ok := senderFromContext(c)
	if !ok {
		return
	}
	groupID, ok := getGroupIDFromParam(c)
	if !ok {
		return
	}
	// 非成员不能写入存储
	if err := h.chatService.CheckGroupSender(c.Request.Context(), sender, groupID); err != nil {
		respondError(c, err, "Failed to create group message")
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
	msg, err := h.chatService.CreateGroupMessage(c.Request.Context(), sender, groupID, c.PostForm("content"), info)
	if err != nil {
		h.fileService.Remove(c.Request.Context(), info.Key)
		respondError(c, err, "Failed to create group message")
		return
	}
	h.relay(c, sender, msg, "")
}

// 已经落库的消息即使广播失败也返回 201，客户端可以通过历史拉取
func (h *GroupHandler) relay(c *gin.Context, sender service.Sender, msg *model.Message, clientMsgID string) {
	sent, err := h.chatService.SendGroup(c.Request.Context(), sender, service.AlreadyPersisted{
		MessageID:   msg.ID,
		GroupID:     msg.GroupID,
		ClientMsgID: clientMsgID,
	})
	if err != nil {
		logger.L.Error("Failed to relay persisted group message", zap.String("messageID", msg.ID), zap.Error(err))
		sent = msg
	}
	c.JSON(http.StatusCreated, gin.H{"message": sent})
}
