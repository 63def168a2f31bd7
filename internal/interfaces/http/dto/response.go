// Package dto 提供 HTTP 层数据传输对象
package dto

import (
	"net/http"

	"github.com/gin-gonic/gin"

	apperrors "deck-assistant-api/pkg/errors"
	"deck-assistant-api/pkg/logger"
)

// ErrorResponse 统一错误响应
type ErrorResponse struct {
	OK      bool           `json:"ok"`
	Error   string         `json:"error"`
	Code    string         `json:"code"`
	Status  int            `json:"status"`
	Details map[string]any `json:"details,omitempty"`
	TraceID string         `json:"traceId,omitempty"`
}

// PageMeta 分页元数据
type PageMeta struct {
	Page       int `json:"page"`
	PageSize   int `json:"pageSize"`
	Total      int `json:"total"`
	TotalPages int `json:"totalPages"`
}

// NewPageMeta 创建分页元数据
func NewPageMeta(page, pageSize, total int) *PageMeta {
	totalPages := 0
	if pageSize > 0 {
		totalPages = total / pageSize
		if total%pageSize > 0 {
			totalPages++
		}
	}
	return &PageMeta{
		Page:       page,
		PageSize:   pageSize,
		Total:      total,
		TotalPages: totalPages,
	}
}

// Success 返回 200，响应体即 data
func Success[T any](c *gin.Context, data T) {
	c.JSON(http.StatusOK, data)
}

// Created 返回 201
func Created[T any](c *gin.Context, data T) {
	c.JSON(http.StatusCreated, data)
}

// Fail 将错误渲染为统一错误响应并终止请求
//
// 5xx 只返回通用错误码，细节写入日志。
func Fail(c *gin.Context, err error) {
	appErr := apperrors.AsAppError(err)
	status := appErr.HTTPStatus
	if status == 0 {
		status = http.StatusInternalServerError
	}

	resp := ErrorResponse{
		OK:      false,
		Error:   appErr.Message,
		Code:    string(appErr.Code),
		Status:  status,
		Details: appErr.Details,
		TraceID: c.GetString("trace_id"),
	}

	if status >= http.StatusInternalServerError {
		logger.Error(c.Request.Context(), "request failed", err,
			"code", string(appErr.Code),
			"path", c.Request.URL.Path,
		)
		if status != http.StatusServiceUnavailable {
			resp.Error = apperrors.ErrInternalError.Message
			resp.Code = string(apperrors.CodeInternalError)
			resp.Details = nil
		}
	} else if appErr.Detail != "" {
		resp.Error = appErr.Message + ": " + appErr.Detail
	}

	c.AbortWithStatusJSON(status, resp)
}

// BadRequest 参数错误
func BadRequest(c *gin.Context, detail string) {
	Fail(c, apperrors.ErrInvalidParam.WithDetail(detail))
}
