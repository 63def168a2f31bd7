package dto

import (
	"encoding/json"
	"time"

	"deck-assistant-api/internal/application/chat"
	"deck-assistant-api/internal/domain/entity"
)

// PreferencesDTO 用户偏好
type PreferencesDTO struct {
	Format   string   `json:"format,omitempty" binding:"omitempty,max=32"`
	Budget   string   `json:"budget,omitempty" binding:"omitempty,max=32"`
	Colors   []string `json:"colors,omitempty" binding:"omitempty,max=5,dive,max=16"`
	Teaching bool     `json:"teaching,omitempty"`
}

// ChatContextDTO 套牌上下文
type ChatContextDTO struct {
	DeckID string   `json:"deckId,omitempty" binding:"omitempty,max=64"`
	Budget string   `json:"budget,omitempty" binding:"omitempty,max=32"`
	Colors []string `json:"colors,omitempty" binding:"omitempty,max=5,dive,max=16"`
}

// ChatMessageRequest 发送对话消息
type ChatMessageRequest struct {
	Message     string         `json:"message" binding:"required"`
	ThreadID    string         `json:"threadId,omitempty" binding:"omitempty,max=64"`
	Preferences PreferencesDTO `json:"preferences"`
	Context     ChatContextDTO `json:"context"`
}

// ToChatRequest 转换为应用层请求
func (r *ChatMessageRequest) ToChatRequest() chat.ChatRequest {
	return chat.ChatRequest{
		Message:  r.Message,
		ThreadID: r.ThreadID,
		Preferences: chat.Preferences{
			Format:   r.Preferences.Format,
			Budget:   r.Preferences.Budget,
			Colors:   r.Preferences.Colors,
			Teaching: r.Preferences.Teaching,
		},
		Context: chat.RequestContext{
			DeckID: r.Context.DeckID,
			Budget: r.Context.Budget,
			Colors: r.Context.Colors,
		},
	}
}

// ChatMessageResponse 对话回答
type ChatMessageResponse struct {
	Text     string `json:"text"`
	ThreadID string `json:"threadId"`
	Provider string `json:"provider"`
}

// ToChatMessageResponse 转换应用层响应
func ToChatMessageResponse(resp *chat.ChatResponse) *ChatMessageResponse {
	if resp == nil {
		return nil
	}
	return &ChatMessageResponse{
		Text:     resp.Text,
		ThreadID: resp.ThreadID,
		Provider: string(resp.Provider),
	}
}

// ThreadMessageResponse 线程中的一条消息
type ThreadMessageResponse struct {
	ID        string          `json:"id"`
	Role      string          `json:"role"`
	Content   string          `json:"content"`
	Metadata  json.RawMessage `json:"metadata,omitempty"`
	CreatedAt string          `json:"createdAt"`
}

// ThreadMessageListResponse 线程消息列表
type ThreadMessageListResponse struct {
	ThreadID string                   `json:"threadId"`
	Messages []*ThreadMessageResponse `json:"messages"`
	Meta     *PageMeta                `json:"meta,omitempty"`
}

// ToThreadMessageResponse 转换消息实体
func ToThreadMessageResponse(m *entity.ChatMessage) *ThreadMessageResponse {
	if m == nil {
		return nil
	}
	return &ThreadMessageResponse{
		ID:        m.ID,
		Role:      string(m.Role),
		Content:   m.Content,
		Metadata:  m.Metadata,
		CreatedAt: m.CreatedAt.Format(time.RFC3339),
	}
}
