package api

import (
	"net/http"

	"skillswap-chat/internal/interfaces"
	"skillswap-chat/internal/metrics"
	"skillswap-chat/internal/middleware"

	"github.com/gin-gonic/gin"
)

type Handlers struct {
	Chat     *ChatHandler
	Group    *GroupHandler
	WS       *WSHandler
	Presence *PresenceHandler
}

// NewRouter 注册所有路由。users 为 nil 时认证只依赖令牌声明
func NewRouter(h Handlers, users interfaces.UserDirectory) *gin.Engine {
	r := gin.New()
	r.Use(middleware.GinZapLogger(), gin.Recovery())

	// 公开路由
	r.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	r.GET("/metrics", gin.WrapH(metrics.Handler()))

	auth := middleware.AuthMiddleware(users)

	// 受保护的路由
	r.GET("/ws", auth, h.WS.HandleConnection)

	apiGroup := r.Group("/api", auth)
	{
		chat := apiGroup.Group("/chat")
		chat.GET("/conversations", h.Chat.GetConversations)
		chat.GET("/conversation/:userId", h.Chat.GetConversation)
		chat.POST("/send", h.Chat.SendMessage)
		chat.POST("/send-file", h.Chat.SendFile)
		chat.PUT("/read/:conversationId", h.Chat.MarkRead)
		chat.GET("/file/:filename", h.Chat.GetFile)

		groups := apiGroup.Group("/groups")
		groups.GET("/:id/messages", h.Group.GetMessages)
		groups.POST("/:id/messages", h.Group.PostMessage)
		groups.POST("/:id/messages/file", h.Group.PostFile)

		apiGroup.GET("/presence", h.Presence.GetOnlineUsers)
	}
	return r
}
