// Package entity 定义领域实体
package entity

import (
	"encoding/json"
	"time"
)

// ChatThread 对话线程
type ChatThread struct {
	ID      string `json:"id" gorm:"type:uuid;primaryKey;default:gen_random_uuid()"`
	OwnerID string `json:"owner_id" gorm:"type:varchar(64);index;not null"`
	DeckID  string `json:"deck_id,omitempty" gorm:"type:varchar(64)"`
	Title   string `json:"title" gorm:"type:varchar(160)"`
	// Summary 滚动摘要，由后台任务刷新
	Summary   string    `json:"summary,omitempty" gorm:"type:text"`
	CreatedAt time.Time `json:"created_at" gorm:"autoCreateTime"`
	UpdatedAt time.Time `json:"updated_at" gorm:"autoUpdateTime"`
}

func (ChatThread) TableName() string {
	return "chat_threads"
}

func NewChatThread(ownerID, deckID, title string) *ChatThread {
	now := time.Now()
	return &ChatThread{
		OwnerID:   ownerID,
		DeckID:    deckID,
		Title:     title,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// ChatMessage 线程中的一条消息
type ChatMessage struct {
	ID        string          `json:"id" gorm:"type:uuid;primaryKey;default:gen_random_uuid()"`
	ThreadID  string          `json:"thread_id" gorm:"type:uuid;index;not null"`
	Role      Role            `json:"role" gorm:"type:varchar(16);not null"`
	Content   string          `json:"content" gorm:"type:text;not null"`
	Metadata  json.RawMessage `json:"metadata,omitempty" gorm:"type:jsonb"`
	CreatedAt time.Time       `json:"created_at" gorm:"autoCreateTime;index"`
}

func (ChatMessage) TableName() string {
	return "chat_messages"
}

func NewChatMessage(threadID string, role Role, content string, metadata json.RawMessage) *ChatMessage {
	return &ChatMessage{
		ThreadID:  threadID,
		Role:      role,
		Content:   content,
		Metadata:  metadata,
		CreatedAt: time.Now(),
	}
}
