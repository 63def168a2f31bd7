package chat

import (
	"context"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"deck-assistant-api/internal/config"
	"deck-assistant-api/internal/domain/entity"
	"deck-assistant-api/internal/domain/repository"
	"deck-assistant-api/internal/domain/service"
	"deck-assistant-api/internal/infrastructure/messaging"
	"deck-assistant-api/internal/workflow/prompt"
	"deck-assistant-api/pkg/logger"
	"deck-assistant-api/pkg/metrics"
)

const (
	summaryRecentKeep   = 6
	summaryTriggerTurns = 12
	summaryMaxRunes     = 2000
	summaryTurnMaxRunes = 400
	// summaryHistoryWindow 刷新时读取的最近消息条数
	summaryHistoryWindow = 60
)

// SummaryRefresher 后台刷新线程滚动摘要
type SummaryRefresher struct {
	convs    repository.ConversationRepository
	backend  service.LLMBackend
	selector *ModelSelector
	prompts  *prompt.Registry
	snippets *SnippetIndex

	stage   config.StageConfig
	timeout time.Duration
}

// NewSummaryRefresher backend 为 nil 时只做确定性压缩；snippets 为 nil 时不写向量库
func NewSummaryRefresher(convs repository.ConversationRepository, backend service.LLMBackend, selector *ModelSelector, prompts *prompt.Registry, snippets *SnippetIndex, llmCfg *config.LLMConfig, chatCfg *config.ChatConfig) *SummaryRefresher {
	r := &SummaryRefresher{
		convs:    convs,
		backend:  backend,
		selector: selector,
		prompts:  prompts,
		snippets: snippets,
		timeout:  30 * time.Second,
	}
	if r.selector == nil {
		r.selector = NewModelSelector(llmCfg)
	}
	if r.prompts == nil {
		r.prompts = prompt.NewRegistry()
	}
	if llmCfg != nil {
		r.stage = llmCfg.Stages.Summary
	}
	if chatCfg != nil && chatCfg.SummaryTimeout > 0 {
		r.timeout = chatCfg.SummaryTimeout
	}
	return r
}

// HandleMessage 消费 summary_refresh 消息
func (r *SummaryRefresher) HandleMessage(ctx context.Context, msg *messaging.Message) error {
	var job messaging.SummaryRefreshMessage
	if err := msg.UnmarshalPayload(&job); err != nil {
		metrics.SummaryRefreshTotal.WithLabelValues("decode", "failed").Inc()
		return fmt.Errorf("decode summary job: %w", err)
	}
	return r.Refresh(ctx, &job)
}

// Refresh 用户轮次超过阈值时压缩较早的对话
func (r *SummaryRefresher) Refresh(ctx context.Context, job *messaging.SummaryRefreshMessage) error {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()
	ctx = logger.WithContext(ctx, logger.ThreadIDKey, job.ThreadID)
	ctx = service.WithSubject(ctx, job.UserKey)

	r.indexSnippets(ctx, job)

	thread, err := r.convs.GetThread(ctx, job.ThreadID)
	if err != nil {
		metrics.SummaryRefreshTotal.WithLabelValues("load", "failed").Inc()
		return fmt.Errorf("load thread: %w", err)
	}
	history, err := r.convs.GetHistory(ctx, job.ThreadID, summaryHistoryWindow)
	if err != nil {
		metrics.SummaryRefreshTotal.WithLabelValues("load", "failed").Inc()
		return fmt.Errorf("load history: %w", err)
	}

	older, ok := olderTurns(history)
	if !ok {
		metrics.SummaryRefreshTotal.WithLabelValues("skip", "success").Inc()
		return nil
	}

	mode := "llm"
	summary, err := r.llmSummary(ctx, entity.ParseTier(job.Tier), thread.Summary, older)
	if err != nil {
		logger.Warn(ctx, "llm summary unavailable, compacting deterministically", "error", err.Error())
		mode = "deterministic"
		summary = compactSummary(thread.Summary, older)
	}

	if err := r.convs.UpdateSummary(ctx, job.ThreadID, summary); err != nil {
		metrics.SummaryRefreshTotal.WithLabelValues(mode, "failed").Inc()
		return fmt.Errorf("update summary: %w", err)
	}
	metrics.SummaryRefreshTotal.WithLabelValues(mode, "success").Inc()
	logger.Debug(ctx, "thread summary refreshed", "mode", mode, "runes", utf8.RuneCountInString(summary))
	return nil
}

func (r *SummaryRefresher) llmSummary(ctx context.Context, tier entity.Tier, previous string, older []*entity.ChatMessage) (string, error) {
	if r.backend == nil || !r.stage.Enabled {
		return "", fmt.Errorf("summary call disabled")
	}
	prev := strings.TrimSpace(previous)
	if prev == "" {
		prev = "(none)"
	}
	msgs, err := r.prompts.Render(ctx, prompt.PromptSummaryV1, map[string]any{
		"max_chars":  summaryMaxRunes,
		"summary":    prev,
		"transcript": transcript(older),
	}, nil)
	if err != nil {
		return "", err
	}

	sel := r.selector.Select(ctx, tier, service.CallSummary)
	callCtx := ctx
	if r.stage.Timeout > 0 {
		var cancel context.CancelFunc
		callCtx, cancel = context.WithTimeout(ctx, r.stage.Timeout)
		defer cancel()
	}
	res := r.backend.Complete(callCtx, msgs, service.ModelSpec{
		Provider:      sel.Provider,
		Model:         sel.Model,
		FallbackModel: sel.FallbackModel,
		MaxTokens:     r.stage.MaxTokens,
		Temperature:   r.stage.Temperature,
		Kind:          service.CallSummary,
	})
	switch v := res.(type) {
	case service.Success:
		return truncateRunes(v.Text, summaryMaxRunes), nil
	case service.Degraded:
		return "", fmt.Errorf("summary degraded: %s", v.Reason)
	case service.Failure:
		return "", v.Err
	default:
		return "", fmt.Errorf("summary: unexpected result %T", res)
	}
}

// indexSnippets 向量写入失败不影响摘要
func (r *SummaryRefresher) indexSnippets(ctx context.Context, job *messaging.SummaryRefreshMessage) {
	if r.snippets == nil {
		return
	}
	err := r.snippets.Index(ctx, job.ThreadID, map[entity.Role]string{
		entity.RoleUser:      job.UserMessage,
		entity.RoleAssistant: job.AssistantMessage,
	})
	if err != nil {
		logger.Warn(ctx, "index thread snippets failed", "error", err.Error())
	}
}

// olderTurns 返回最近 summaryRecentKeep 个用户轮次之前的消息，未超过阈值时返回 false
func olderTurns(history []*entity.ChatMessage) ([]*entity.ChatMessage, bool) {
	userTurns := 0
	for _, m := range history {
		if m.Role == entity.RoleUser {
			userTurns++
		}
	}
	if userTurns <= summaryTriggerTurns {
		return nil, false
	}

	seen := 0
	cut := len(history)
	for i := len(history) - 1; i >= 0; i-- {
		if history[i].Role != entity.RoleUser {
			continue
		}
		seen++
		if seen == summaryRecentKeep {
			cut = i
			break
		}
	}
	if cut == 0 {
		return nil, false
	}
	return history[:cut], true
}

func transcript(msgs []*entity.ChatMessage) string {
	var b strings.Builder
	for _, m := range msgs {
		text := strings.TrimSpace(m.Content)
		if text == "" || m.Role == entity.RoleSystem {
			continue
		}
		fmt.Fprintf(&b, "%s: %s\n", m.Role, truncateRunes(text, summaryTurnMaxRunes))
	}
	return strings.TrimSpace(b.String())
}

// compactSummary 确定性压缩：旧摘要追加较早的用户轮次，去重后保留最新部分
func compactSummary(previous string, older []*entity.ChatMessage) string {
	var lines []string
	seen := make(map[string]bool)
	add := func(line string) {
		line = strings.TrimSpace(line)
		if line == "" || seen[line] {
			return
		}
		seen[line] = true
		lines = append(lines, line)
	}

	for _, l := range strings.Split(previous, "\n") {
		add(l)
	}
	for _, m := range older {
		if m.Role != entity.RoleUser {
			continue
		}
		add("- " + truncateRunes(strings.Join(strings.Fields(m.Content), " "), summaryTurnMaxRunes))
	}

	total := 0
	start := len(lines)
	for start > 0 {
		n := utf8.RuneCountInString(lines[start-1]) + 1
		if total+n > summaryMaxRunes+1 {
			break
		}
		total += n
		start--
	}
	return strings.Join(lines[start:], "\n")
}
