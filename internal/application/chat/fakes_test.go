package chat

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"deck-assistant-api/internal/application/cache"
	"deck-assistant-api/internal/config"
	"deck-assistant-api/internal/domain/entity"
	"deck-assistant-api/internal/domain/repository"
	"deck-assistant-api/internal/domain/service"
	"deck-assistant-api/internal/infrastructure/messaging"
)

// fakeBackend 按调用类型计数，respond 决定返回值
type fakeBackend struct {
	mu      sync.Mutex
	calls   map[service.CallKind]int
	specs   []service.ModelSpec
	last    map[service.CallKind][]service.Message
	respond func(kind service.CallKind, n int, msgs []service.Message) service.Result
	// stall 中的调用类型一直阻塞到 ctx 结束
	stall map[service.CallKind]bool
}

func newFakeBackend(respond func(kind service.CallKind, n int, msgs []service.Message) service.Result) *fakeBackend {
	return &fakeBackend{
		calls:   make(map[service.CallKind]int),
		last:    make(map[service.CallKind][]service.Message),
		respond: respond,
	}
}

func (b *fakeBackend) Complete(ctx context.Context, msgs []service.Message, spec service.ModelSpec) service.Result {
	b.mu.Lock()
	b.calls[spec.Kind]++
	n := b.calls[spec.Kind]
	b.specs = append(b.specs, spec)
	b.last[spec.Kind] = msgs
	b.mu.Unlock()
	if b.stall[spec.Kind] {
		<-ctx.Done()
		return service.Failure{Err: ctx.Err()}
	}
	return b.respond(spec.Kind, n, msgs)
}

func (b *fakeBackend) count(kind service.CallKind) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.calls[kind]
}

func (b *fakeBackend) total() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	n := 0
	for _, c := range b.calls {
		n += c
	}
	return n
}

func (b *fakeBackend) lastMessages(kind service.CallKind) []service.Message {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.last[kind]
}

func success(text string) service.Result {
	return service.Success{Text: text, Model: "gpt-4o-mini", Usage: service.Usage{PromptTokens: 20, CompletionTokens: 10, TotalTokens: 30}}
}

// scripted 草稿与审校分别返回固定文本
func scripted(draft, reviewed string) func(service.CallKind, int, []service.Message) service.Result {
	return func(kind service.CallKind, n int, msgs []service.Message) service.Result {
		switch kind {
		case service.CallReview:
			return success(reviewed)
		default:
			return success(draft)
		}
	}
}

type memConvs struct {
	mu       sync.Mutex
	threads  map[string]*entity.ChatThread
	messages map[string][]*entity.ChatMessage
	err      error
}

func newMemConvs() *memConvs {
	return &memConvs{
		threads:  make(map[string]*entity.ChatThread),
		messages: make(map[string][]*entity.ChatMessage),
	}
}

func (m *memConvs) CreateThread(ctx context.Context, thread *entity.ChatThread) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if thread.ID == "" {
		thread.ID = uuid.NewString()
	}
	cp := *thread
	m.threads[thread.ID] = &cp
	return nil
}

func (m *memConvs) GetThread(ctx context.Context, id string) (*entity.ChatThread, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.threads[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	cp := *t
	return &cp, nil
}

func (m *memConvs) GetHistory(ctx context.Context, threadID string, limit int) ([]*entity.ChatMessage, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return nil, m.err
	}
	msgs := m.messages[threadID]
	if limit > 0 && len(msgs) > limit {
		msgs = msgs[len(msgs)-limit:]
	}
	return append([]*entity.ChatMessage(nil), msgs...), nil
}

func (m *memConvs) AppendMessage(ctx context.Context, msg *entity.ChatMessage) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.messages[msg.ThreadID] = append(m.messages[msg.ThreadID], msg)
	return nil
}

func (m *memConvs) UpdateSummary(ctx context.Context, threadID, summary string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.threads[threadID]
	if !ok {
		return repository.ErrNotFound
	}
	t.Summary = summary
	return nil
}

func (m *memConvs) ListMessages(ctx context.Context, threadID string, p repository.Pagination) (*repository.PagedResult[*entity.ChatMessage], error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	msgs := m.messages[threadID]
	end := p.Offset() + p.Limit()
	if end > len(msgs) {
		end = len(msgs)
	}
	var items []*entity.ChatMessage
	if p.Offset() < len(msgs) {
		items = msgs[p.Offset():end]
	}
	return repository.NewPagedResult(items, int64(len(msgs)), p), nil
}

func (m *memConvs) summary(threadID string) string {
	m.mu.Lock()
	defer m.mu.Unlock()
	if t, ok := m.threads[threadID]; ok {
		return t.Summary
	}
	return ""
}

const testDeckID = "4f9a7c2e-1b3d-4e5f-8a6b-7c8d9e0f1a2b"

type memDecks map[string]*entity.Deck

func (d memDecks) GetDeck(ctx context.Context, id string) (*entity.Deck, error) {
	deck, ok := d[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return deck, nil
}

type memQuota struct {
	mu     sync.Mutex
	counts map[string]int64
	calls  int
	err    error
}

func (q *memQuota) IncrementAndCheck(ctx context.Context, key string, w repository.WindowSpec) (repository.QuotaDecision, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.calls++
	if q.err != nil {
		return repository.QuotaDecision{}, q.err
	}
	if q.counts == nil {
		q.counts = make(map[string]int64)
	}
	q.counts[key]++
	return repository.QuotaDecision{
		Allowed: q.counts[key] <= int64(w.Limit),
		Count:   q.counts[key],
		ResetAt: time.Now().Add(w.Size),
	}, nil
}

type recordingPublisher struct {
	mu   sync.Mutex
	jobs []*messaging.SummaryRefreshMessage
}

func (p *recordingPublisher) PublishSummaryRefresh(ctx context.Context, job *messaging.SummaryRefreshMessage) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.jobs = append(p.jobs, job)
	return "1-0", nil
}

func (p *recordingPublisher) count() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.jobs)
}

type fixedUsage struct {
	used int64
	err  error
}

func (f fixedUsage) Create(ctx context.Context, event *entity.LLMUsageEvent) error { return nil }

func (f fixedUsage) GetTokenUsage(ctx context.Context, subjectKey string, start, end time.Time) (int64, error) {
	return f.used, f.err
}

func testLLMConfig() *config.LLMConfig {
	stage := func(enabled bool) config.StageConfig {
		return config.StageConfig{Enabled: enabled, Timeout: time.Second}
	}
	return &config.LLMConfig{
		DefaultProvider: "openai",
		Stages: config.StagesConfig{
			Research: stage(false),
			Answer:   stage(true),
			Review:   stage(true),
			Regen:    stage(true),
			Summary:  stage(true),
		},
	}
}

func newTestOrchestrator(backend service.LLMBackend, kv repository.KVCache, mutate ...func(*config.LLMConfig)) *Orchestrator {
	llmCfg := testLLMConfig()
	for _, m := range mutate {
		m(llmCfg)
	}
	kb, err := ParseKnowledgeBase(embeddedKnowledge)
	if err != nil {
		panic(err)
	}
	return NewOrchestrator(OrchestratorDeps{
		Backend:   backend,
		Responses: cache.NewResponseCache(kv, time.Hour),
		Knowledge: kb,
	}, llmCfg, &config.ChatConfig{KeepDraftOnFailure: true}, &config.FeaturesConfig{
		Research: config.FeatureToggle{Enabled: true},
	})
}

func rampDeck() *entity.Deck {
	cards := []*entity.DeckCard{
		{Name: "Sol Ring", Quantity: 1},
		{Name: "Arcane Signet", Quantity: 1},
		{Name: "Command Tower", Quantity: 1},
		{Name: "Forest", Quantity: 30},
	}
	return &entity.Deck{
		ID:            testDeckID,
		OwnerID:       "u1",
		Name:          "Selvala Ramp",
		Format:        "commander",
		Commander:     "Selvala, Heart of the Wilds",
		ColorIdentity: "G",
		Cards:         cards,
	}
}

func composed(deck *entity.Deck) *ComposedContext {
	hash, err := ContextHash("commander", "brewer", deck, preferenceSubset{Colors: []string{}})
	if err != nil {
		panic(err)
	}
	return &ComposedContext{
		SystemPrompt: "Format: Commander.",
		ContextHash:  hash,
		FormatKey:    "commander",
		PersonaID:    "brewer",
		Deck:         deck,
	}
}
