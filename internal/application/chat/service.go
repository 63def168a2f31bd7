package chat

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"

	"deck-assistant-api/internal/application/quota"
	"deck-assistant-api/internal/config"
	"deck-assistant-api/internal/domain/entity"
	"deck-assistant-api/internal/domain/repository"
	"deck-assistant-api/internal/infrastructure/messaging"
	apperrors "deck-assistant-api/pkg/errors"
	"deck-assistant-api/pkg/logger"
	"deck-assistant-api/pkg/metrics"
)

const (
	// MaxMessageRunes 单条消息长度上限
	MaxMessageRunes  = 4000
	threadTitleRunes = 60
	publishTimeout   = 5 * time.Second
)

// SummaryPublisher 投递摘要刷新任务
type SummaryPublisher interface {
	PublishSummaryRefresh(ctx context.Context, job *messaging.SummaryRefreshMessage) (string, error)
}

// Service 对话入口，串联配额、线程、上下文与编排
type Service struct {
	guard        *quota.Guard
	convs        repository.ConversationRepository
	composer     Composer
	orchestrator *Orchestrator
	publisher    SummaryPublisher
	tx           repository.Transactor

	summaryEnabled bool
	wg             sync.WaitGroup
}

// NewService publisher 为 nil 时不刷新摘要
func NewService(guard *quota.Guard, convs repository.ConversationRepository, composer Composer, orchestrator *Orchestrator, publisher SummaryPublisher, features *config.FeaturesConfig) *Service {
	s := &Service{
		guard:          guard,
		convs:          convs,
		composer:       composer,
		orchestrator:   orchestrator,
		publisher:      publisher,
		summaryEnabled: true,
	}
	if features != nil {
		s.summaryEnabled = features.Summary.Enabled
	}
	return s
}

// WithTransactor 一轮问答的两条消息在同一事务内写入
func (s *Service) WithTransactor(tx repository.Transactor) *Service {
	s.tx = tx
	return s
}

// Handle 处理一条对话消息
func (s *Service) Handle(ctx context.Context, id entity.Identity, req ChatRequest) (*ChatResponse, error) {
	req.Message = strings.TrimSpace(req.Message)
	if req.Message == "" {
		return nil, apperrors.ErrInvalidParam.WithDetail("message is required")
	}
	if utf8.RuneCountInString(req.Message) > MaxMessageRunes {
		return nil, apperrors.ErrInvalidParam.WithDetail("message is too long")
	}

	threadID, persisted, err := s.resolveThread(ctx, id, req)
	if err != nil {
		return nil, err
	}

	if _, err := s.guard.Admit(ctx, id); err != nil {
		return nil, err
	}

	if persisted && threadID == "" {
		if threadID, err = s.createThread(ctx, id, req); err != nil {
			return nil, err
		}
	}
	req.ThreadID = threadID
	ctx = logger.WithContext(ctx, logger.ThreadIDKey, threadID)

	cc, err := s.composer.Compose(ctx, req, id)
	if err != nil {
		return nil, err
	}

	out, err := s.orchestrator.Run(ctx, req, id, cc)
	if err != nil {
		return nil, err
	}
	metrics.ChatRequestsTotal.WithLabelValues(string(id.Kind), string(out.Provider)).Inc()
	gate := "off"
	if out.Gate != nil {
		gate = out.Gate.Mode.String() + ":" + out.Gate.Reason
	}
	logger.Info(ctx, "chat answered",
		"provider", string(out.Provider),
		"draft_calls", out.DraftCalls(),
		"gate", gate,
		"trace", traceString(out.Trace),
	)

	if persisted {
		s.persist(ctx, threadID, req.Message, out)
		if out.DegradedReason == "" {
			s.scheduleSummary(ctx, id, threadID, req.Message, out.Text)
		}
	}

	return &ChatResponse{Text: out.Text, ThreadID: threadID, Provider: out.Provider}, nil
}

// History 列出线程消息，只允许线程所有者读取
func (s *Service) History(ctx context.Context, id entity.Identity, threadID string, limit int) (*repository.PagedResult[*entity.ChatMessage], error) {
	if id.IsGuest() {
		return nil, apperrors.ErrAuthRequired
	}
	if _, err := s.ownedThread(ctx, id, threadID); err != nil {
		return nil, err
	}
	page, err := s.convs.ListMessages(ctx, threadID, repository.NewPagination(1, limit))
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.CodeDatabaseError, "list messages")
	}
	return page, nil
}

// Wait 等待后台投递结束
func (s *Service) Wait() {
	s.wg.Wait()
}

// resolveThread 在扣减配额前校验线程归属；访客使用临时线程 ID，不落库。
// 已登录用户未指定线程时返回空 ID，由 createThread 在准入后创建
func (s *Service) resolveThread(ctx context.Context, id entity.Identity, req ChatRequest) (string, bool, error) {
	if id.IsGuest() || s.convs == nil {
		if req.ThreadID != "" {
			return req.ThreadID, false, nil
		}
		return uuid.NewString(), false, nil
	}

	if req.ThreadID != "" {
		thread, err := s.ownedThread(ctx, id, req.ThreadID)
		if err != nil {
			return "", false, err
		}
		return thread.ID, true, nil
	}
	return "", true, nil
}

func (s *Service) createThread(ctx context.Context, id entity.Identity, req ChatRequest) (string, error) {
	thread := entity.NewChatThread(id.ID, req.Context.DeckID, threadTitle(req.Message))
	thread.ID = uuid.NewString()
	if err := s.convs.CreateThread(ctx, thread); err != nil {
		return "", apperrors.Wrap(err, apperrors.CodeDatabaseError, "create thread")
	}
	return thread.ID, nil
}

func (s *Service) ownedThread(ctx context.Context, id entity.Identity, threadID string) (*entity.ChatThread, error) {
	if _, err := uuid.Parse(threadID); err != nil {
		return nil, apperrors.ErrThreadNotFound.WithDetail(threadID)
	}
	thread, err := s.convs.GetThread(ctx, threadID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, apperrors.ErrThreadNotFound.WithDetail(threadID)
		}
		return nil, apperrors.Wrap(err, apperrors.CodeDatabaseError, "load thread")
	}
	if thread.OwnerID != id.ID {
		return nil, apperrors.ErrThreadNotFound.WithDetail(threadID)
	}
	return thread, nil
}

// persist 写入失败只记录日志，不影响已生成的答案
func (s *Service) persist(ctx context.Context, threadID, message string, out *Outcome) {
	meta, _ := json.Marshal(map[string]any{
		"provider": out.Provider,
		"issues":   issueCount(out),
	})
	msgs := []*entity.ChatMessage{
		entity.NewChatMessage(threadID, entity.RoleUser, message, nil),
		entity.NewChatMessage(threadID, entity.RoleAssistant, out.Text, meta),
	}
	write := func(ctx context.Context) error {
		for _, m := range msgs {
			if err := s.convs.AppendMessage(ctx, m); err != nil {
				return fmt.Errorf("append %s message: %w", m.Role, err)
			}
		}
		return nil
	}

	var err error
	if s.tx != nil {
		err = s.tx.WithTransaction(ctx, write)
	} else {
		err = write(ctx)
	}
	if err != nil {
		logger.Error(ctx, "persist chat turn failed", err)
	}
}

// scheduleSummary 脱离请求上下文异步投递，不阻塞响应
func (s *Service) scheduleSummary(ctx context.Context, id entity.Identity, threadID, userMsg, answer string) {
	if !s.summaryEnabled || s.publisher == nil {
		return
	}
	job := &messaging.SummaryRefreshMessage{
		ThreadID:         threadID,
		UserKey:          id.Key,
		Tier:             string(id.Kind),
		UserMessage:      userMsg,
		AssistantMessage: answer,
	}

	bg := context.WithoutCancel(ctx)
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		pctx, cancel := context.WithTimeout(bg, publishTimeout)
		defer cancel()
		if _, err := s.publisher.PublishSummaryRefresh(pctx, job); err != nil {
			logger.Warn(pctx, "schedule summary refresh failed", "error", err.Error())
		}
	}()
}

func threadTitle(message string) string {
	title := strings.Join(strings.Fields(message), " ")
	return truncateRunes(title, threadTitleRunes)
}

func issueCount(out *Outcome) int {
	if out.Validation == nil {
		return 0
	}
	return len(out.Validation.Issues)
}

func traceString(trace []State) string {
	parts := make([]string, 0, len(trace))
	for _, s := range trace {
		parts = append(parts, s.String())
	}
	return strings.Join(parts, ">")
}

func truncateRunes(s string, max int) string {
	if max <= 0 || utf8.RuneCountInString(s) <= max {
		return s
	}
	r := []rune(s)
	return string(r[:max])
}
