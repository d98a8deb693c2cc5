package views

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/WebGisViewer/WebViewer-V2-BackEnd/logger"
	"github.com/WebGisViewer/WebViewer-V2-BackEnd/methods"
	"github.com/WebGisViewer/WebViewer-V2-BackEnd/models"
	"github.com/WebGisViewer/WebViewer-V2-BackEnd/response"
	"github.com/WebGisViewer/WebViewer-V2-BackEnd/services"
	"github.com/gin-gonic/gin"
)

// statusOf 错误分类对应的HTTP状态码
func statusOf(err error) int {
	switch {
	case services.IsValidation(err):
		return http.StatusBadRequest
	case services.IsNotFound(err):
		return http.StatusNotFound
	case services.IsAuthRequired(err):
		return http.StatusUnauthorized
	case services.IsAccessDenied(err):
		return http.StatusForbidden
	case services.IsImportFailure(err):
		return http.StatusInternalServerError
	}
	return http.StatusInternalServerError
}

// messageOf 未分类的错误不把内部信息返回给客户端
func messageOf(err error, status int) string {
	var (
		v *services.ValidationError
		n *services.NotFoundError
		i *services.ImportError
		a *services.AccessDeniedError
		r *services.AuthRequiredError
	)
	switch {
	case errors.As(err, &v), errors.As(err, &n), errors.As(err, &i), errors.As(err, &a), errors.As(err, &r):
		return err.Error()
	}
	return http.StatusText(status)
}

// writeError 上传, 分块, 场景接口的错误格式 {"error": "..."}
func writeError(c *gin.Context, err error) {
	status := statusOf(err)
	if status == http.StatusInternalServerError {
		logger.L().Error("request failed", "path", c.Request.URL.Path, "error", err)
	}
	_ = c.Error(err)
	c.JSON(status, gin.H{"error": messageOf(err, status)})
}

// writeEnvelopeError 管理接口的错误格式
func writeEnvelopeError(c *gin.Context, err error) {
	status := statusOf(err)
	if status == http.StatusInternalServerError {
		logger.L().Error("request failed", "path", c.Request.URL.Path, "error", err)
	}
	_ = c.Error(err)
	response.Error(c, status, messageOf(err, status))
}

func parseUintParam(c *gin.Context, name string) (uint, error) {
	id, err := strconv.ParseUint(c.Param(name), 10, 32)
	if err != nil {
		return 0, services.Validationf("Invalid %s", name)
	}
	return uint(id), nil
}

func clientIP(c *gin.Context) *string {
	return methods.ClientIP(c.GetHeader("X-Forwarded-For"), c.Request.RemoteAddr)
}

func caller(c *gin.Context) services.Caller {
	return services.Caller{User: CurrentUser(c), IP: clientIP(c)}
}

// CurrentUser 认证中间件放入上下文的用户, 匿名请求为 nil
func CurrentUser(c *gin.Context) *models.User {
	v, ok := c.Get(userContextKey)
	if !ok {
		return nil
	}
	u, _ := v.(*models.User)
	return u
}
