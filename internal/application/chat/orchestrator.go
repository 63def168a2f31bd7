package chat

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"deck-assistant-api/internal/application/cache"
	"deck-assistant-api/internal/application/guardrail"
	"deck-assistant-api/internal/application/quota"
	"deck-assistant-api/internal/config"
	"deck-assistant-api/internal/domain/entity"
	"deck-assistant-api/internal/domain/service"
	"deck-assistant-api/internal/workflow/prompt"
	apperrors "deck-assistant-api/pkg/errors"
	"deck-assistant-api/pkg/logger"
	"deck-assistant-api/pkg/metrics"
	"deck-assistant-api/pkg/tracer"
)

// OfflineNotice 后端不可用时的固定答复，不写缓存
const OfflineNotice = "[Offline] The deck assistant could not reach its language model, so no answer was generated. Please try again in a few minutes."

// maxDraftCalls 产生草稿的调用次数上限（ANSWER 与 REGEN_ANSWER）
const maxDraftCalls = 2

const (
	defaultMiniModel       = "gpt-4o-mini"
	defaultNearBudgetRatio = 0.8
)

// State 编排状态
type State int

const (
	StateIdle State = iota
	StateCacheCheck
	StateHit
	StateMiss
	StateGate
	StateStatic
	StateResearch
	StateAnswer
	StateReview
	StateValid
	StateNeedsRegen
	StateRegenAnswer
	StateRevalidate
	StateDegraded
	StateDone
)

var stateNames = [...]string{
	StateIdle:        "idle",
	StateCacheCheck:  "cache_check",
	StateHit:         "hit",
	StateMiss:        "miss",
	StateGate:        "gate",
	StateStatic:      "static",
	StateResearch:    "research",
	StateAnswer:      "answer",
	StateReview:      "review",
	StateValid:       "valid",
	StateNeedsRegen:  "needs_regen",
	StateRegenAnswer: "regen_answer",
	StateRevalidate:  "revalidate",
	StateDegraded:    "degraded",
	StateDone:        "done",
}

func (s State) String() string {
	if s < 0 || int(s) >= len(stateNames) {
		return fmt.Sprintf("state(%d)", int(s))
	}
	return stateNames[s]
}

// InferenceAttempt 一次模型调用的参数记录
type InferenceAttempt struct {
	Stage         State
	Model         string
	FallbackModel string
	MaxTokens     int
	Timeout       time.Duration
	Substituted   bool
	Outcome       string
}

// Outcome 编排结果
type Outcome struct {
	Text           string
	Provider       Provider
	Usage          service.Usage
	Attempts       []InferenceAttempt
	Validation     *guardrail.Result
	Trace          []State
	DegradedReason string
	// Gate 未启用分流或命中缓存时为 nil
	Gate *GateDecision
}

// DraftCalls 产生草稿的调用次数
func (o *Outcome) DraftCalls() int {
	n := 0
	for _, a := range o.Attempts {
		if a.Stage == StateAnswer || a.Stage == StateRegenAnswer {
			n++
		}
	}
	return n
}

// OrchestratorDeps 编排器依赖
type OrchestratorDeps struct {
	Backend   service.LLMBackend
	Selector  *ModelSelector
	Prompts   *prompt.Registry
	Responses *cache.ResponseCache
	Notes     *cache.NoteCache
	Knowledge *KnowledgeBase
	Validator *guardrail.Validator
	Tokens    *quota.TokenQuotaChecker
}

// Orchestrator 推理编排状态机，每个请求内各阶段严格串行
type Orchestrator struct {
	backend   service.LLMBackend
	selector  *ModelSelector
	prompts   *prompt.Registry
	responses *cache.ResponseCache
	notes     *cache.NoteCache
	knowledge *KnowledgeBase
	validator *guardrail.Validator
	tokens    *quota.TokenQuotaChecker

	stages          config.StagesConfig
	keepDraft       bool
	researchEnabled bool
	gateEnabled     bool
	miniModel       string
	nearBudgetRatio float64
}

// NewOrchestrator 创建编排器
func NewOrchestrator(deps OrchestratorDeps, llmCfg *config.LLMConfig, chatCfg *config.ChatConfig, features *config.FeaturesConfig) *Orchestrator {
	o := &Orchestrator{
		backend:         deps.Backend,
		selector:        deps.Selector,
		prompts:         deps.Prompts,
		responses:       deps.Responses,
		notes:           deps.Notes,
		knowledge:       deps.Knowledge,
		validator:       deps.Validator,
		tokens:          deps.Tokens,
		keepDraft:       true,
		researchEnabled: true,
		miniModel:       defaultMiniModel,
		nearBudgetRatio: defaultNearBudgetRatio,
	}
	if o.selector == nil {
		o.selector = NewModelSelector(llmCfg)
	}
	if o.prompts == nil {
		o.prompts = prompt.NewRegistry()
	}
	if o.notes == nil {
		o.notes = cache.NewNoteCache(0)
	}
	if o.validator == nil {
		o.validator = guardrail.NewValidator(nil)
	}
	if llmCfg != nil {
		o.stages = llmCfg.Stages
	}
	if chatCfg != nil {
		o.keepDraft = chatCfg.KeepDraftOnFailure
		if chatCfg.Gate.MiniModel != "" {
			o.miniModel = chatCfg.Gate.MiniModel
		}
		if chatCfg.Gate.NearBudgetRatio > 0 {
			o.nearBudgetRatio = chatCfg.Gate.NearBudgetRatio
		}
	}
	if features != nil {
		o.researchEnabled = features.Research.Enabled
		o.gateEnabled = features.Gate.Enabled
	}
	return o
}

// run 单次请求的状态
type run struct {
	req ChatRequest
	id  entity.Identity
	cc  *ComposedContext

	state State
	key   string

	research   string
	nearCap    bool
	gate       *GateDecision
	answerMsgs []service.Message
	text       string
	validation guardrail.Result
	validated  bool

	fallback       bool
	usage          service.Usage
	draftCalls     int
	attempts       []InferenceAttempt
	trace          []State
	provider       Provider
	degradedReason string
}

// Run 执行状态机直到 DONE
func (o *Orchestrator) Run(ctx context.Context, req ChatRequest, id entity.Identity, cc *ComposedContext) (*Outcome, error) {
	if cc == nil {
		return nil, apperrors.ErrInternalError.WithDetail("missing composed context")
	}
	ctx = service.WithSubject(ctx, id.Key)
	r := &run{req: req, id: id, cc: cc, state: StateIdle}

	for r.state != StateDone {
		r.trace = append(r.trace, r.state)
		start := time.Now()
		stage := r.state

		next, err := o.step(ctx, r)
		if err != nil {
			metrics.ChatStageDuration.WithLabelValues(stage.String(), "error").Observe(time.Since(start).Seconds())
			return nil, err
		}
		metrics.ChatStageDuration.WithLabelValues(stage.String(), next.String()).Observe(time.Since(start).Seconds())
		r.state = next
	}
	r.trace = append(r.trace, StateDone)

	out := &Outcome{
		Text:           r.text,
		Provider:       r.provider,
		Usage:          r.usage,
		Attempts:       r.attempts,
		Trace:          r.trace,
		DegradedReason: r.degradedReason,
		Gate:           r.gate,
	}
	if r.validated {
		v := r.validation
		out.Validation = &v
	}
	return out, nil
}

func (o *Orchestrator) step(ctx context.Context, r *run) (State, error) {
	switch r.state {
	case StateIdle:
		return StateCacheCheck, nil
	case StateCacheCheck:
		return o.cacheCheck(ctx, r), nil
	case StateHit:
		return StateDone, nil
	case StateMiss:
		return o.miss(ctx, r)
	case StateGate:
		return o.decide(ctx, r), nil
	case StateStatic:
		return o.static(ctx, r), nil
	case StateResearch:
		return o.doResearch(ctx, r), nil
	case StateAnswer:
		return o.answer(ctx, r), nil
	case StateReview:
		return o.review(ctx, r), nil
	case StateValid:
		return o.finish(ctx, r), nil
	case StateNeedsRegen:
		return o.needsRegen(ctx, r), nil
	case StateRegenAnswer:
		return o.regenerate(ctx, r), nil
	case StateRevalidate:
		return o.revalidate(ctx, r), nil
	case StateDegraded:
		return o.degrade(ctx, r), nil
	default:
		return StateDone, fmt.Errorf("orchestrator: unexpected state %s", r.state)
	}
}

func (o *Orchestrator) cacheCheck(ctx context.Context, r *run) State {
	r.key = cache.Fingerprint(r.req.Message, r.cc.ContextHash, subsetOf(r.req))
	if o.responses == nil {
		return StateMiss
	}
	entry, ok := o.responses.Get(ctx, r.key)
	if !ok || entry.IsFallback {
		return StateMiss
	}
	r.text = entry.Text
	r.usage = entry.Usage
	r.provider = ProviderCached
	return StateHit
}

// miss 未命中后先检查 Token 日预算
func (o *Orchestrator) miss(ctx context.Context, r *run) (State, error) {
	used, budget, err := o.tokens.CheckDailyTokens(ctx, r.id.Key)
	if err != nil {
		var exceeded quota.TokenQuotaExceededError
		if errors.As(err, &exceeded) {
			return StateDone, apperrors.ErrTokenBudgetSpent.WithDetails(map[string]any{
				"used":  exceeded.Used,
				"limit": exceeded.Max,
			})
		}
		logger.Warn(ctx, "token budget check failed, continuing", "error", err.Error())
	} else if budget > 0 {
		r.nearCap = float64(used) >= float64(budget)*o.nearBudgetRatio
	}

	if o.gateEnabled {
		return StateGate, nil
	}
	return o.afterGate(r), nil
}

// decide 前置分流：固定答复、小模型或完整流水线
func (o *Orchestrator) decide(ctx context.Context, r *run) State {
	d := decideGate(o.knowledge, gateInput{
		message:       r.req.Message,
		hasDeck:       r.cc.Deck != nil,
		nearBudgetCap: r.nearCap,
	})
	if d.Mode == GateMini && d.MaxTokens <= 0 {
		d.MaxTokens = miniCeilingNormal
	}
	r.gate = &d
	metrics.ChatGateDecisions.WithLabelValues(d.Mode.String(), d.Reason).Inc()
	logger.Debug(ctx, "gate decision", "mode", d.Mode.String(), "reason", d.Reason, "handler", d.Handler)

	if d.Mode == GateStatic {
		return StateStatic
	}
	return o.afterGate(r)
}

// static 固定答复不调用模型，也不写缓存
func (o *Orchestrator) static(ctx context.Context, r *run) State {
	r.text = r.gate.Text
	r.provider = ProviderPrimary
	return StateDone
}

func (o *Orchestrator) afterGate(r *run) State {
	if o.researchEnabled && needsResearch(r.req.Message) {
		return StateResearch
	}
	return StateAnswer
}

func (r *run) mini() bool {
	return r.gate != nil && r.gate.Mode == GateMini
}

// doResearch 规则检索，失败不影响回答
func (o *Orchestrator) doResearch(ctx context.Context, r *run) State {
	topic, known := o.knowledge.Match(r.req.Message)
	key := "topic:" + topic
	if !known {
		key = "question:" + cache.NormalizeMessage(r.req.Message)
	}

	note, err := o.notes.GetOrLoad(ctx, key, func(ctx context.Context) (string, error) {
		if known {
			if note, ok := o.knowledge.Lookup(topic); ok {
				return note, nil
			}
		}
		return o.researchCall(ctx, r)
	})
	if err != nil {
		logger.Warn(ctx, "research skipped", "error", err.Error())
		return StateAnswer
	}
	r.research = strings.TrimSpace(note)
	return StateAnswer
}

func (o *Orchestrator) researchCall(ctx context.Context, r *run) (string, error) {
	if !o.stages.Research.Enabled {
		return "", errors.New("research call disabled")
	}
	msgs, err := o.prompts.Render(ctx, prompt.PromptResearchV1, map[string]any{"question": r.req.Message}, nil)
	if err != nil {
		return "", err
	}
	sel := o.selector.Select(ctx, r.id.Kind, service.CallResearch)
	res := o.call(ctx, r, StateResearch, service.CallResearch, msgs, sel, o.stageTokens(o.stages.Research, 160), o.stages.Research)
	switch v := res.(type) {
	case service.Success:
		return v.Text, nil
	case service.Degraded:
		return "", fmt.Errorf("research degraded: %s", v.Reason)
	case service.Failure:
		return "", v.Err
	default:
		return "", errors.New("research: unknown result")
	}
}

func (o *Orchestrator) answer(ctx context.Context, r *run) State {
	vars := map[string]any{
		"context":  r.cc.SystemPrompt,
		"research": researchBlock(r.research),
		"message":  r.req.Message,
	}
	msgs, err := o.prompts.Render(ctx, prompt.PromptAnswerV1, vars, historyMessages(r.cc.History))
	if err != nil {
		logger.Error(ctx, "render answer prompt failed", err)
		r.degradedReason = "prompt_error"
		return StateDegraded
	}
	r.answerMsgs = msgs

	kind := o.answerKind(r)
	var sel Selection
	var maxTokens int
	if r.mini() {
		kind = service.CallChat
		sel = o.selector.Pin(r.id.Kind, o.miniModel)
		maxTokens = r.gate.MaxTokens
		if sel.TierCap > 0 && maxTokens > sel.TierCap {
			maxTokens = sel.TierCap
		}
	} else {
		sel = o.selector.Select(ctx, r.id.Kind, kind)
		maxTokens = maxTokensFor(r.req.Message, deckCardCount(r.cc.Deck), sel.TierCap)
	}
	r.draftCalls++
	res := o.call(ctx, r, StateAnswer, kind, msgs, sel, maxTokens, o.stages.Answer)

	switch v := res.(type) {
	case service.Success:
		r.text = v.Text
		r.fallback = sel.Substituted || v.FallbackUsed
		r.usage = addUsage(r.usage, v.Usage)
		return StateReview
	case service.Degraded:
		r.degradedReason = v.Reason
	case service.Failure:
		r.degradedReason = "backend_failure"
		logger.Warn(ctx, "answer call failed", "error", v.Err.Error())
	}
	return StateDegraded
}

// review 审校草稿；审校失败或为空时按配置保留草稿
func (o *Orchestrator) review(ctx context.Context, r *run) State {
	if o.stages.Review.Enabled && !r.mini() {
		reviewed, ok := o.reviewCall(ctx, r)
		switch {
		case ok:
			r.text = reviewed
		case !o.keepDraft:
			r.degradedReason = "review_failed"
			return StateDegraded
		}
	}

	r.validation = o.validate(ctx, r, false)
	if r.validation.NeedsRegeneration {
		return StateNeedsRegen
	}
	return StateValid
}

func (o *Orchestrator) reviewCall(ctx context.Context, r *run) (string, bool) {
	commander := "none"
	format := r.cc.FormatKey
	deck := ""
	if d := r.cc.Deck; d != nil {
		if d.Commander != "" {
			commander = d.Commander
		}
		deck = deckList(d, maxDeckLines)
	}
	vars := map[string]any{
		"format":    format,
		"commander": commander,
		"deck":      strings.TrimSpace(deck),
		"message":   r.req.Message,
		"draft":     r.text,
	}
	msgs, err := o.prompts.Render(ctx, prompt.PromptReviewV1, vars, nil)
	if err != nil {
		logger.Warn(ctx, "render review prompt failed", "error", err.Error())
		return "", false
	}

	sel := o.selector.Select(ctx, r.id.Kind, service.CallReview)
	maxTokens := o.stageTokens(o.stages.Review, sel.TierCap)
	res := o.call(ctx, r, StateReview, service.CallReview, msgs, sel, maxTokens, o.stages.Review)
	v, ok := res.(service.Success)
	if !ok {
		logger.Warn(ctx, "review unavailable, keeping draft", "result", fmt.Sprintf("%T", res))
		return "", false
	}
	r.usage = addUsage(r.usage, v.Usage)
	return v.Text, true
}

func (o *Orchestrator) needsRegen(ctx context.Context, r *run) State {
	if !o.stages.Regen.Enabled || r.mini() || r.draftCalls >= maxDraftCalls {
		metrics.ChatRegenerationsTotal.WithLabelValues("skipped").Inc()
		r.text = r.validation.RepairedText
		return StateValid
	}
	logger.Info(ctx, "guardrails requested regeneration",
		"issues", len(r.validation.Issues),
		"blocks_remaining", r.validation.BlocksRemaining,
	)
	return StateRegenAnswer
}

// regenerate 仅允许一次；失败时退回已修复的文本
func (o *Orchestrator) regenerate(ctx context.Context, r *run) State {
	msgs := make([]service.Message, 0, len(r.answerMsgs)+3)
	msgs = append(msgs, r.answerMsgs...)
	msgs = append(msgs,
		service.Message{Role: entity.RoleAssistant, Content: r.text},
		service.Message{Role: entity.RoleSystem, Content: guardrail.RepairSystemMessage},
		service.Message{Role: entity.RoleUser, Content: repairRequest(r.validation.Issues)},
	)

	kind := o.answerKind(r)
	sel := o.selector.Select(ctx, r.id.Kind, kind)
	maxTokens := maxTokensFor(r.req.Message, deckCardCount(r.cc.Deck), sel.TierCap)
	r.draftCalls++
	res := o.call(ctx, r, StateRegenAnswer, kind, msgs, sel, maxTokens, o.stages.Regen)

	if v, ok := res.(service.Success); ok {
		metrics.ChatRegenerationsTotal.WithLabelValues("success").Inc()
		r.text = v.Text
		r.fallback = r.fallback || sel.Substituted || v.FallbackUsed
		r.usage = addUsage(r.usage, v.Usage)
		return StateRevalidate
	}
	metrics.ChatRegenerationsTotal.WithLabelValues("failed").Inc()
	r.text = r.validation.RepairedText
	return StateRevalidate
}

// revalidate 重写后的结果直接接受修复文本，不再请求重写
func (o *Orchestrator) revalidate(ctx context.Context, r *run) State {
	r.validation = o.validate(ctx, r, true)
	r.text = r.validation.RepairedText
	return o.finish(ctx, r)
}

func (o *Orchestrator) validate(ctx context.Context, r *run, regenPass bool) guardrail.Result {
	in := guardrail.Input{
		Text:      r.text,
		FormatKey: r.cc.FormatKey,
		RegenPass: regenPass,
	}
	if d := r.cc.Deck; d != nil {
		in.CommanderName = d.Commander
		in.ColorIdentity = d.ColorIdentity
		in.DeckCards = make([]guardrail.DeckCard, 0, len(d.Cards))
		for _, c := range d.Cards {
			in.DeckCards = append(in.DeckCards, guardrail.DeckCard{Name: c.Name, Count: c.Quantity})
		}
	}
	res := o.validator.Validate(ctx, in)
	r.validated = true
	if !res.Valid {
		logger.Info(ctx, "answer repaired by guardrails",
			"code", string(apperrors.CodeValidationRepaired),
			"issues", len(res.Issues),
			"regen_pass", regenPass,
		)
	}
	return res
}

// finish 后处理并决定来源；只有主模型的答案写缓存
func (o *Orchestrator) finish(ctx context.Context, r *run) State {
	if r.state == StateValid && r.validation.RepairedText != "" {
		r.text = r.validation.RepairedText
	}
	r.text = guardrail.PostProcess(r.text)
	if strings.TrimSpace(r.text) == "" {
		r.degradedReason = service.DegradedEmptyResponse
		return StateDegraded
	}

	if r.fallback {
		r.provider = ProviderFallback
		return StateDone
	}
	r.provider = ProviderPrimary
	if o.responses != nil {
		o.responses.Set(ctx, r.key, cache.Entry{Text: r.text, Usage: r.usage})
	}
	return StateDone
}

func (o *Orchestrator) degrade(ctx context.Context, r *run) State {
	logger.Warn(ctx, "answer degraded to offline notice", "reason", r.degradedReason)
	r.text = OfflineNotice
	r.provider = ProviderFallback
	return StateDone
}

// call 单阶段调用，带独立超时与追踪
func (o *Orchestrator) call(ctx context.Context, r *run, stage State, kind service.CallKind, msgs []service.Message, sel Selection, maxTokens int, sc config.StageConfig) service.Result {
	timeout := sc.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	ctx, span := tracer.Start(ctx, "chat."+stage.String())
	span.SetAttributes(
		attribute.String("llm.model", sel.Model),
		attribute.Int("llm.max_tokens", maxTokens),
		attribute.Bool("llm.substituted", sel.Substituted),
	)

	attempt := InferenceAttempt{
		Stage:         stage,
		Model:         sel.Model,
		FallbackModel: sel.FallbackModel,
		MaxTokens:     maxTokens,
		Timeout:       timeout,
		Substituted:   sel.Substituted,
	}

	res := o.backend.Complete(ctx, msgs, service.ModelSpec{
		Provider:      sel.Provider,
		Model:         sel.Model,
		FallbackModel: sel.FallbackModel,
		MaxTokens:     maxTokens,
		Temperature:   sc.Temperature,
		Kind:          kind,
	})

	var spanErr error
	switch v := res.(type) {
	case service.Success:
		attempt.Outcome = "success"
		if v.FallbackUsed {
			attempt.Outcome = "success_fallback"
		}
	case service.Degraded:
		attempt.Outcome = "degraded_" + v.Reason
	case service.Failure:
		attempt.Outcome = "failure"
		spanErr = v.Err
	}
	tracer.End(span, spanErr)
	r.attempts = append(r.attempts, attempt)
	return res
}

// answerKind 大套牌分析走长上下文能力
func (o *Orchestrator) answerKind(r *run) service.CallKind {
	if deckCardCount(r.cc.Deck) >= largeDeckThreshold && isLongAnswerRequest(r.req.Message) {
		return service.CallLongContext
	}
	return service.CallChat
}

func (o *Orchestrator) stageTokens(sc config.StageConfig, fallback int) int {
	if sc.MaxTokens > 0 {
		return sc.MaxTokens
	}
	return fallback
}

func researchBlock(note string) string {
	if note == "" {
		return ""
	}
	return "Rules reference:\n" + note
}

func historyMessages(history []*entity.ChatMessage) []service.Message {
	out := make([]service.Message, 0, len(history))
	for _, m := range history {
		if m == nil || !m.Role.Valid() || m.Role == entity.RoleSystem {
			continue
		}
		out = append(out, service.Message{Role: m.Role, Content: m.Content})
	}
	return out
}

func repairRequest(issues []guardrail.Issue) string {
	var b strings.Builder
	b.WriteString("Revise your previous answer. Fix these problems:\n")
	for _, is := range issues {
		b.WriteString("- ")
		b.WriteString(is.Message)
		b.WriteString("\n")
	}
	return strings.TrimSpace(b.String())
}

func deckCardCount(d *entity.Deck) int {
	if d == nil {
		return 0
	}
	return d.CardCount()
}

func addUsage(a, b service.Usage) service.Usage {
	return service.Usage{
		PromptTokens:     a.PromptTokens + b.PromptTokens,
		CompletionTokens: a.CompletionTokens + b.CompletionTokens,
		TotalTokens:      a.TotalTokens + b.TotalTokens,
	}
}
