package dashboard

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	apperrors "github.com/weitek/telegram-channel-meaning/pkg/errors"
	"github.com/weitek/telegram-channel-meaning/pkg/logger"
)

// 统一响应: {"success":true,"data":…} / {"success":false,"error":{"code","message"}}。

func success(c *gin.Context, data any) {
	c.JSON(http.StatusOK, gin.H{"success": true, "data": data})
}

func accepted(c *gin.Context, data any) {
	c.JSON(http.StatusAccepted, gin.H{"success": true, "data": data})
}

func fail(c *gin.Context, status int, code, message string) {
	c.JSON(status, gin.H{"success": false, "error": gin.H{"code": code, "message": message}})
}

func badRequest(c *gin.Context, message string) {
	fail(c, http.StatusBadRequest, "invalid_request", message)
}

func notFound(c *gin.Context, message string) {
	fail(c, http.StatusNotFound, "not_found", message)
}

// respondError 按错误类别映射状态码; 未分类错误记录日志并隐藏细节。
func respondError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, apperrors.ErrInvalidInput):
		badRequest(c, err.Error())
	case errors.Is(err, apperrors.ErrNotFound):
		notFound(c, err.Error())
	case errors.Is(err, apperrors.ErrRemoteFailure):
		logger.FromContext(c.Request.Context()).Warn("dashboard: remote failure", logger.FieldError, err)
		fail(c, http.StatusBadGateway, "remote_failure", "telegram gateway unavailable")
	default:
		logger.FromContext(c.Request.Context()).Error("dashboard: internal error",
			logger.FieldPath, c.FullPath(), logger.FieldError, err)
		fail(c, http.StatusInternalServerError, "internal_error", "internal server error")
	}
}
