// Package prompt 管理内嵌的提示词模板
package prompt

import (
	"context"
	"embed"
	"fmt"
	"strings"
	"sync"

	einoprompt "github.com/cloudwego/eino/components/prompt"
	"github.com/cloudwego/eino/schema"

	"deck-assistant-api/internal/domain/entity"
	"deck-assistant-api/internal/domain/service"
)

//go:embed templates/*.txt
var templatesFS embed.FS

type PromptID string

const (
	PromptAnswerV1   PromptID = "answer_v1"
	PromptReviewV1   PromptID = "review_v1"
	PromptResearchV1 PromptID = "research_v1"
	PromptSummaryV1  PromptID = "summary_v1"
)

// historyKey 历史消息占位符
const historyKey = "history"

type Registry struct {
	mu    sync.RWMutex
	cache map[PromptID]einoprompt.ChatTemplate
}

func NewRegistry() *Registry {
	return &Registry{
		cache: make(map[PromptID]einoprompt.ChatTemplate),
	}
}

func (r *Registry) ChatTemplate(id PromptID) (einoprompt.ChatTemplate, error) {
	if r == nil {
		return nil, fmt.Errorf("prompt registry is nil")
	}

	r.mu.RLock()
	if tpl, ok := r.cache[id]; ok {
		r.mu.RUnlock()
		return tpl, nil
	}
	r.mu.RUnlock()

	r.mu.Lock()
	defer r.mu.Unlock()
	if tpl, ok := r.cache[id]; ok {
		return tpl, nil
	}

	system, err := readEmbeddedText(fmt.Sprintf("templates/%s.system.txt", id))
	if err != nil {
		return nil, fmt.Errorf("unknown prompt id %s: %w", id, err)
	}
	user, err := readEmbeddedText(fmt.Sprintf("templates/%s.user.txt", id))
	if err != nil {
		return nil, fmt.Errorf("unknown prompt id %s: %w", id, err)
	}

	tpl := einoprompt.FromMessages(
		schema.FString,
		schema.SystemMessage(system),
		schema.MessagesPlaceholder(historyKey, true),
		schema.UserMessage(user),
	)
	r.cache[id] = tpl
	return tpl, nil
}

// Render 渲染模板，history 插入在 system 与 user 之间
func (r *Registry) Render(ctx context.Context, id PromptID, vars map[string]any, history []service.Message) ([]service.Message, error) {
	tpl, err := r.ChatTemplate(id)
	if err != nil {
		return nil, err
	}

	values := make(map[string]any, len(vars)+1)
	for k, v := range vars {
		values[k] = v
	}
	if len(history) > 0 {
		hist := make([]*schema.Message, 0, len(history))
		for _, m := range history {
			hist = append(hist, &schema.Message{Role: schema.RoleType(m.Role), Content: m.Content})
		}
		values[historyKey] = hist
	}

	msgs, err := tpl.Format(ctx, values)
	if err != nil {
		return nil, fmt.Errorf("render prompt %s: %w", id, err)
	}

	out := make([]service.Message, 0, len(msgs))
	for _, m := range msgs {
		out = append(out, service.Message{
			Role:    entity.Role(m.Role),
			Content: strings.TrimSpace(m.Content),
		})
	}
	return out, nil
}

func readEmbeddedText(path string) (string, error) {
	b, err := templatesFS.ReadFile(path)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(string(b)), nil
}
