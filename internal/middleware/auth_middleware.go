package middleware

import (
	"net/http"
	"strings"

	"skillswap-chat/internal/interfaces"
	"skillswap-chat/pkg/logger"
	"skillswap-chat/pkg/utils"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

const (
	ContextUserID   = "userID"
	ContextUserName = "userName"
	ContextUser     = "user"
)

// 浏览器无法在 websocket 握手时设置请求头，因此也接受 ?token=
func bearerToken(c *gin.Context) (string, string) {
	authHeader := c.GetHeader("Authorization")
	if authHeader == "" {
		if token := c.Query("token"); token != "" {
			return token, ""
		}
		return "", "authorization header is required"
	}

	// 通常Authorization格式为: "Bearer token"
	parts := strings.SplitN(authHeader, " ", 2)
	if !(len(parts) == 2 && parts[0] == "Bearer") || parts[1] == "" {
		return "", "invalid authorization format"
	}
	return parts[1], ""
}

// 验证JWT中间件
// users 为 nil 时信任令牌中的名字，不查询用户目录
func AuthMiddleware(users interfaces.UserDirectory) gin.HandlerFunc {
	return func(c *gin.Context) {
		tokenString, problem := bearerToken(c)
		if problem != "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": problem})
			return
		}

		// 解析token
		claims, err := utils.ParseToken(tokenString)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid or expired token"})
			return
		}

		name := claims.Name
		if users != nil {
			// 获取用户信息
			user, err := users.FindByID(c.Request.Context(), claims.UserID)
			if err != nil {
				logger.L.Error("Failed to look up authenticated user", zap.String("userID", claims.UserID), zap.Error(err))
				c.AbortWithStatusJSON(http.StatusServiceUnavailable, gin.H{"error": "user directory unavailable"})
				return
			}
			if user == nil {
				c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "user not found"})
				return
			}
			name = user.Name
			c.Set(ContextUser, user)
		}

		// 将用户ID存储在上下文中
		c.Set(ContextUserID, claims.UserID)
		c.Set(ContextUserName, name)

		c.Next()
	}
}
