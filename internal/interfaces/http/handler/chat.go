// Package handler 提供 HTTP 请求处理器
package handler

import (
	"context"
	"strconv"

	"github.com/gin-gonic/gin"

	"deck-assistant-api/internal/application/chat"
	"deck-assistant-api/internal/domain/entity"
	"deck-assistant-api/internal/domain/repository"
	"deck-assistant-api/internal/interfaces/http/dto"
	"deck-assistant-api/internal/interfaces/http/middleware"
	apperrors "deck-assistant-api/pkg/errors"
)

const (
	defaultHistoryLimit = 50
	maxHistoryLimit     = 100
)

// ChatService 对话应用服务
type ChatService interface {
	Handle(ctx context.Context, id entity.Identity, req chat.ChatRequest) (*chat.ChatResponse, error)
	History(ctx context.Context, id entity.Identity, threadID string, limit int) (*repository.PagedResult[*entity.ChatMessage], error)
}

// ChatHandler 对话处理器
type ChatHandler struct {
	svc ChatService
}

// NewChatHandler 创建对话处理器
func NewChatHandler(svc ChatService) *ChatHandler {
	return &ChatHandler{svc: svc}
}

// PostMessage 发送一条对话消息
// @Summary 发送对话消息
// @Tags Chat
// @Accept json
// @Produce json
// @Param body body dto.ChatMessageRequest true "消息"
// @Success 200 {object} dto.ChatMessageResponse
// @Failure 400 {object} dto.ErrorResponse
// @Failure 401 {object} dto.ErrorResponse
// @Failure 429 {object} dto.ErrorResponse
// @Router /api/v1/chat/messages [post]
func (h *ChatHandler) PostMessage(c *gin.Context) {
	id, ok := middleware.GetIdentity(c)
	if !ok {
		dto.Fail(c, apperrors.ErrAuthRequired)
		return
	}

	var req dto.ChatMessageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		dto.BadRequest(c, "invalid request body: "+err.Error())
		return
	}

	resp, err := h.svc.Handle(c.Request.Context(), id, req.ToChatRequest())
	if err != nil {
		dto.Fail(c, err)
		return
	}
	dto.Success(c, dto.ToChatMessageResponse(resp))
}

// ListThreadMessages 列出线程消息
// @Summary 线程消息列表
// @Tags Chat
// @Produce json
// @Param tid path string true "线程 ID"
// @Param limit query int false "条数"
// @Success 200 {object} dto.ThreadMessageListResponse
// @Failure 401 {object} dto.ErrorResponse
// @Failure 404 {object} dto.ErrorResponse
// @Router /api/v1/chat/threads/{tid}/messages [get]
func (h *ChatHandler) ListThreadMessages(c *gin.Context) {
	id, ok := middleware.GetIdentity(c)
	if !ok {
		dto.Fail(c, apperrors.ErrAuthRequired)
		return
	}

	threadID := c.Param("tid")
	limit := defaultHistoryLimit
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 {
			dto.BadRequest(c, "limit must be a positive integer")
			return
		}
		limit = min(n, maxHistoryLimit)
	}

	page, err := h.svc.History(c.Request.Context(), id, threadID, limit)
	if err != nil {
		dto.Fail(c, err)
		return
	}

	out := &dto.ThreadMessageListResponse{
		ThreadID: threadID,
		Messages: make([]*dto.ThreadMessageResponse, 0, len(page.Items)),
		Meta:     dto.NewPageMeta(page.Page, page.PageSize, int(page.Total)),
	}
	for _, m := range page.Items {
		out.Messages = append(out.Messages, dto.ToThreadMessageResponse(m))
	}
	dto.Success(c, out)
}
