package api

import (
	"net/http"

	"skillswap-chat/internal/presence"

	"github.com/gin-gonic/gin"
)

type PresenceHandler struct {
	registry *presence.Registry
}

func NewPresenceHandler(registry *presence.Registry) *PresenceHandler {
	return &PresenceHandler{registry: registry}
}

// 本进程内的在线用户
func (h *PresenceHandler) GetOnlineUsers(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"users": h.registry.Snapshot()})
}
