// Package errors 提供统一的错误定义
package errors

import (
	stderrors "errors"
	"fmt"
	"maps"
	"net/http"
)

// ErrorCode 错误码类型
type ErrorCode string

// 预定义错误码
const (
	// 通用错误 (1xxx)
	CodeSuccess            ErrorCode = "0"
	CodeUnknown            ErrorCode = "1000"
	CodeInvalidParam       ErrorCode = "1001"
	CodeUnauthorized       ErrorCode = "1002"
	CodeForbidden          ErrorCode = "1003"
	CodeNotFound           ErrorCode = "1004"
	CodeConflict           ErrorCode = "1005"
	CodeTooManyRequests    ErrorCode = "1006"
	CodeInternalError      ErrorCode = "1007"
	CodeServiceUnavailable ErrorCode = "1008"

	// 认证授权错误 (2xxx)
	CodeTokenExpired     ErrorCode = "2001"
	CodeTokenInvalid     ErrorCode = "2002"
	CodeTokenMissing     ErrorCode = "2003"
	CodePermissionDenied ErrorCode = "2004"
	CodeAuthRequired     ErrorCode = "2005"

	// 资源错误 (3xxx)
	CodeDeckNotFound   ErrorCode = "3101"
	CodeThreadNotFound ErrorCode = "3102"

	// 业务错误 (4xxx)
	CodeLLMCallFailed      ErrorCode = "4005"
	CodeEmbeddingFailed    ErrorCode = "4006"
	CodeQuotaExceeded      ErrorCode = "4101"
	CodeValidationRepaired ErrorCode = "4102"
	CodeTokenBudgetSpent   ErrorCode = "4103"

	// 外部服务错误 (5xxx)
	CodeDatabaseError      ErrorCode = "5001"
	CodeCacheError         ErrorCode = "5002"
	CodeVectorDBError      ErrorCode = "5003"
	CodeLLMProviderError   ErrorCode = "5005"
	CodeBackendUnavailable ErrorCode = "5101"
)

// AppError 应用错误
type AppError struct {
	Code       ErrorCode      `json:"code"`
	Message    string         `json:"message"`
	Detail     string         `json:"detail,omitempty"`
	Details    map[string]any `json:"details,omitempty"`
	HTTPStatus int            `json:"-"`
	Err        error          `json:"-"`
}

// Error 实现 error 接口
func (e *AppError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap 返回底层错误
func (e *AppError) Unwrap() error {
	return e.Err
}

// Is 按错误码匹配，预定义错误的副本也能被 errors.Is 识别
func (e *AppError) Is(target error) bool {
	t, ok := target.(*AppError)
	if !ok {
		return false
	}
	return e.Code == t.Code
}

// clone 复制一份，避免修改共享的预定义错误
func (e *AppError) clone() *AppError {
	c := *e
	if e.Details != nil {
		c.Details = maps.Clone(e.Details)
	}
	return &c
}

// WithDetail 添加详细信息
func (e *AppError) WithDetail(detail string) *AppError {
	c := e.clone()
	c.Detail = detail
	return c
}

// WithDetails 添加结构化详情
func (e *AppError) WithDetails(details map[string]any) *AppError {
	c := e.clone()
	if c.Details == nil {
		c.Details = make(map[string]any, len(details))
	}
	maps.Copy(c.Details, details)
	return c
}

// WithError 添加底层错误
func (e *AppError) WithError(err error) *AppError {
	c := e.clone()
	c.Err = err
	return c
}

// New 创建新的应用错误
func New(code ErrorCode, message string) *AppError {
	return &AppError{
		Code:       code,
		Message:    message,
		HTTPStatus: codeToHTTPStatus(code),
	}
}

// Wrap 包装错误
func Wrap(err error, code ErrorCode, message string) *AppError {
	return &AppError{
		Code:       code,
		Message:    message,
		HTTPStatus: codeToHTTPStatus(code),
		Err:        err,
	}
}

// codeToHTTPStatus 错误码转 HTTP 状态码
func codeToHTTPStatus(code ErrorCode) int {
	switch code {
	case CodeSuccess:
		return http.StatusOK
	case CodeInvalidParam:
		return http.StatusBadRequest
	case CodeUnauthorized, CodeTokenExpired, CodeTokenInvalid, CodeTokenMissing, CodeAuthRequired:
		return http.StatusUnauthorized
	case CodeForbidden, CodePermissionDenied:
		return http.StatusForbidden
	case CodeNotFound, CodeDeckNotFound, CodeThreadNotFound:
		return http.StatusNotFound
	case CodeConflict:
		return http.StatusConflict
	case CodeTooManyRequests, CodeQuotaExceeded, CodeTokenBudgetSpent:
		return http.StatusTooManyRequests
	case CodeServiceUnavailable, CodeBackendUnavailable:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// 预定义错误
var (
	ErrInvalidParam       = New(CodeInvalidParam, "invalid parameter")
	ErrUnauthorized       = New(CodeUnauthorized, "unauthorized")
	ErrForbidden          = New(CodeForbidden, "forbidden")
	ErrNotFound           = New(CodeNotFound, "resource not found")
	ErrTooManyRequests    = New(CodeTooManyRequests, "too many requests")
	ErrInternalError      = New(CodeInternalError, "internal server error")
	ErrServiceUnavailable = New(CodeServiceUnavailable, "service unavailable")

	ErrTokenExpired = New(CodeTokenExpired, "token expired")
	ErrTokenInvalid = New(CodeTokenInvalid, "token invalid")
	ErrAuthRequired = New(CodeAuthRequired, "authentication required")

	ErrDeckNotFound   = New(CodeDeckNotFound, "deck not found")
	ErrThreadNotFound = New(CodeThreadNotFound, "thread not found")

	ErrQuotaExceeded      = New(CodeQuotaExceeded, "quota exceeded")
	ErrTokenBudgetSpent   = New(CodeTokenBudgetSpent, "daily token budget exhausted")
	ErrValidationRepaired = New(CodeValidationRepaired, "answer repaired by guardrails")
	ErrBackendUnavailable = New(CodeBackendUnavailable, "LLM backend unavailable")
	ErrLLMCallFailed      = New(CodeLLMCallFailed, "LLM call failed")
)

// IsAppError 检查是否为 AppError
func IsAppError(err error) bool {
	var appErr *AppError
	return stderrors.As(err, &appErr)
}

// AsAppError 将错误转换为 AppError
func AsAppError(err error) *AppError {
	var appErr *AppError
	if stderrors.As(err, &appErr) {
		return appErr
	}
	return Wrap(err, CodeInternalError, "internal server error")
}
