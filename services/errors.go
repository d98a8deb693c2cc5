package services

import (
	"errors"
	"fmt"
	"strings"
)

// ValidationError 请求参数缺失或不合法
type ValidationError struct {
	Message string
	Missing []string
	Invalid []string
}

func (e *ValidationError) Error() string { return e.Message }

func Validationf(format string, args ...interface{}) error {
	return &ValidationError{Message: fmt.Sprintf(format, args...)}
}

// MissingFields 一次性列出所有缺失字段
func MissingFields(fields []string) error {
	return FieldErrors(fields, nil)
}

// FieldErrors 缺失字段与类型不符的字段合并为一个错误
func FieldErrors(missing, invalid []string) error {
	var parts []string
	if len(missing) > 0 {
		parts = append(parts, "Missing required fields: "+strings.Join(missing, ", "))
	}
	if len(invalid) > 0 {
		parts = append(parts, "Invalid fields: "+strings.Join(invalid, ", "))
	}
	return &ValidationError{Message: strings.Join(parts, "; "), Missing: missing, Invalid: invalid}
}

// NotFoundError 资源不存在; Expired 表示暂存文件已过期
type NotFoundError struct {
	Message string
	Expired bool
}

func (e *NotFoundError) Error() string { return e.Message }

func NotFoundf(format string, args ...interface{}) error {
	return &NotFoundError{Message: fmt.Sprintf(format, args...)}
}

// ImportError 解析或投影失败, 本次导入已整体回滚
type ImportError struct {
	Message string
	Err     error
}

func (e *ImportError) Error() string {
	if e.Err == nil {
		return e.Message
	}
	if e.Message == "" {
		return e.Err.Error()
	}
	return e.Message + ": " + e.Err.Error()
}

func (e *ImportError) Unwrap() error { return e.Err }

// AccessDeniedError 有身份但无权限, 与不存在区分
type AccessDeniedError struct {
	Message string
}

func (e *AccessDeniedError) Error() string { return e.Message }

// AuthRequiredError 需要登录
type AuthRequiredError struct{}

func (e *AuthRequiredError) Error() string { return "Authentication required" }

var (
	ErrAccessDenied = &AccessDeniedError{Message: "Access denied"}
	ErrAuthRequired = &AuthRequiredError{}
)

func IsValidation(err error) bool {
	var e *ValidationError
	return errors.As(err, &e)
}

func IsNotFound(err error) bool {
	var e *NotFoundError
	return errors.As(err, &e)
}

func IsImportFailure(err error) bool {
	var e *ImportError
	return errors.As(err, &e)
}

func IsAccessDenied(err error) bool {
	var e *AccessDeniedError
	return errors.As(err, &e)
}

func IsAuthRequired(err error) bool {
	var e *AuthRequiredError
	return errors.As(err, &e)
}
