package api

import (
	"errors"
	"net/http"
	"strconv"

	"skillswap-chat/internal/middleware"
	"skillswap-chat/internal/repository"
	"skillswap-chat/internal/service"
	"skillswap-chat/internal/storage"
	"skillswap-chat/pkg/logger"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

const (
	defaultPageSize = 50
	maxPageSize     = 200
)

// 当前请求的发送者身份，由认证中间件写入上下文
func senderFromContext(c *gin.Context) (service.Sender, bool) {
	userID := c.GetString(middleware.ContextUserID)
	if userID == "" {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "User not authenticated"})
		return service.Sender{}, false
	}
	return service.Sender{ID: userID, Name: c.GetString(middleware.ContextUserName)}, true
}

// 获取分页参数
func pagination(c *gin.Context) (int, int) {
	limit, err := strconv.Atoi(c.DefaultQuery("limit", strconv.Itoa(defaultPageSize)))
	if err != nil || limit <= 0 || limit > maxPageSize {
		limit = defaultPageSize
	}
	offset, err := strconv.Atoi(c.DefaultQuery("offset", "0"))
	if err != nil || offset < 0 {
		offset = 0
	}
	return limit, offset
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, service.ErrInvalidRequest),
		errors.Is(err, service.ErrSelfMessage),
		errors.Is(err, service.ErrNoFile),
		errors.Is(err, service.ErrFileTooLarge),
		errors.Is(err, service.ErrInvalidFileType):
		return http.StatusBadRequest
	case errors.Is(err, service.ErrForbidden),
		errors.Is(err, service.ErrNotGroupMember):
		return http.StatusForbidden
	case errors.Is(err, service.ErrReceiverNotFound),
		errors.Is(err, service.ErrMessageNotFound),
		errors.Is(err, storage.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, repository.ErrStoreUnavailable):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// 服务端错误不把内部细节返回给客户端
func respondError(c *gin.Context, err error, action string) {
	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		logger.L.Error(action, zap.Error(err), zap.String("userID", c.GetString(middleware.ContextUserID)))
		c.JSON(status, gin.H{"error": action, "code": service.ErrorCode(err)})
		return
	}
	logger.L.Warn(action, zap.Error(err), zap.String("userID", c.GetString(middleware.ContextUserID)))
	c.JSON(status, gin.H{"error": err.Error(), "code": service.ErrorCode(err)})
}
