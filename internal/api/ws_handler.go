package api

import (
	"net/http"
	"slices"

	"skillswap-chat/internal/interfaces"
	"skillswap-chat/internal/middleware"
	internalws "skillswap-chat/internal/websocket"
	"skillswap-chat/pkg/config"
	"skillswap-chat/pkg/logger"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

// 没有配置 allowed_origins 时不限制来源；非浏览器客户端不带 Origin
func checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	allowed := config.GlobalConfig.Server.AllowedOrigins
	if origin == "" || len(allowed) == 0 {
		return true
	}
	if slices.Contains(allowed, origin) {
		return true
	}
	logger.L.Warn("Rejected WebSocket origin", zap.String("origin", origin))
	return false
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     checkOrigin,
}

type WSHandler struct {
	hub     interfaces.ConnectionManager
	handler interfaces.EventHandler
}

func NewWSHandler(hub interfaces.ConnectionManager, handler interfaces.EventHandler) *WSHandler {
	return &WSHandler{
		hub:     hub,
		handler: handler,
	}
}

// 认证在升级之前完成，失败时不会建立连接
func (h *WSHandler) HandleConnection(c *gin.Context) {
	userID := c.GetString(middleware.ContextUserID)
	if userID == "" {
		logger.L.Error("userID not found in context for WebSocket")
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "User not authenticated"})
		return
	}
	name := c.GetString(middleware.ContextUserName)

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		logger.L.Error("Failed to upgrade WebSocket connection", zap.String("userID", userID), zap.Error(err))
		return
	}

	client := internalws.NewClient(userID, name, conn, h.handler, h.hub)
	logger.L.Info("WebSocket connection upgraded", zap.String("userID", userID), zap.String("connID", client.ConnID()))
	h.hub.Register(client)

	go client.WritePump()
	go client.ReadPump()
}
