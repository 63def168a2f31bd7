package llm

import (
	"context"
	"errors"
	"io"
	"net"
	"regexp"
	"strconv"
	"strings"
	"syscall"
)

// ErrorClass LLM 调用错误分类
type ErrorClass string

const (
	ClassUnknown       ErrorClass = "unknown"
	ClassTimeout       ErrorClass = "timeout"
	ClassNetwork       ErrorClass = "network"
	ClassServer        ErrorClass = "server"
	ClassRateLimited   ErrorClass = "rate_limited"
	ClassAuth          ErrorClass = "auth"
	ClassCapability    ErrorClass = "capability"
	ClassContextLength ErrorClass = "context_length"
	ClassClient        ErrorClass = "client"
)

// Retryable 只有网络错误与 5xx 可以在阶段内重试
func (c ErrorClass) Retryable() bool {
	return c == ClassNetwork || c == ClassServer
}

// StatusError 携带 HTTP 状态码的错误
type StatusError struct {
	Code    int
	Message string
}

func (e *StatusError) Error() string {
	return "error, status code: " + strconv.Itoa(e.Code) + ", message: " + e.Message
}

// openai 兼容客户端的错误文本形如 "error, status code: 429, status: ..."
var statusCodePattern = regexp.MustCompile(`status code: (\d{3})`)

var capabilityHints = []string{
	"model not found",
	"model_not_found",
	"does not exist",
	"unavailable",
	"not a chat model",
	"unsupported parameter",
	"unsupported value",
	"invalid parameter",
	"response_format",
	"json_schema",
}

var contextLengthHints = []string{
	"context_length_exceeded",
	"maximum context length",
	"context length",
	"too many tokens",
}

// StatusCode 提取错误中的 HTTP 状态码，无则返回 0
func StatusCode(err error) int {
	if err == nil {
		return 0
	}
	var se *StatusError
	if errors.As(err, &se) {
		return se.Code
	}
	if m := statusCodePattern.FindStringSubmatch(err.Error()); m != nil {
		code, _ := strconv.Atoi(m[1])
		return code
	}
	return 0
}

// Classify 对错误分类
func Classify(err error) ErrorClass {
	if err == nil {
		return ClassUnknown
	}
	// context 错误同时满足 net.Error，需先判断
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return ClassTimeout
	}

	msg := strings.ToLower(err.Error())
	if code := StatusCode(err); code != 0 {
		switch {
		case code == 429:
			return ClassRateLimited
		case code == 408:
			return ClassTimeout
		case code >= 500:
			return ClassServer
		case code == 401 || code == 403:
			return ClassAuth
		case code >= 400:
			if containsAny(msg, contextLengthHints) {
				return ClassContextLength
			}
			if containsAny(msg, capabilityHints) {
				return ClassCapability
			}
			return ClassClient
		}
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		return ClassNetwork
	}
	if errors.Is(err, io.ErrUnexpectedEOF) || errors.Is(err, syscall.ECONNRESET) || errors.Is(err, syscall.ECONNREFUSED) {
		return ClassNetwork
	}
	return ClassUnknown
}

func containsAny(s string, subs []string) bool {
	for _, sub := range subs {
		if strings.Contains(s, sub) {
			return true
		}
	}
	return false
}
