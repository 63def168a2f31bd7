package chat

import (
	"context"
	"regexp"
	"strings"

	"deck-assistant-api/internal/config"
	"deck-assistant-api/internal/domain/entity"
	"deck-assistant-api/internal/domain/service"
	"deck-assistant-api/pkg/logger"
	"deck-assistant-api/pkg/metrics"
)

// Capability 模型能力
type Capability string

const (
	CapChat        Capability = "chat"
	CapReview      Capability = "review"
	CapResearch    Capability = "research"
	CapSummary     Capability = "summary"
	CapLongContext Capability = "long_context"
	CapJSON        Capability = "json"
)

func capabilityFor(kind service.CallKind) Capability {
	switch kind {
	case service.CallReview:
		return CapReview
	case service.CallResearch:
		return CapResearch
	case service.CallSummary:
		return CapSummary
	case service.CallLongContext:
		return CapLongContext
	default:
		return CapChat
	}
}

var defaultTierModels = map[entity.Tier]config.TierModelConfig{
	entity.TierGuest: {Model: "gpt-4o-mini", FallbackModel: "gpt-4o-mini", MaxTokensCap: 256},
	entity.TierFree:  {Model: "gpt-4o-mini", FallbackModel: "gpt-4o-mini", MaxTokensCap: 384},
	entity.TierPro:   {Model: "gpt-4o", FallbackModel: "gpt-4o-mini", MaxTokensCap: 512},
}

// Selection 一次调用的模型选择结果
type Selection struct {
	Model         string
	Provider      string
	FallbackModel string
	// Requested 替换前的模型
	Requested   string
	Substituted bool
	TierCap     int
}

// ModelSelector 按等级与调用类型选择模型
type ModelSelector struct {
	tiers           map[entity.Tier]config.TierModelConfig
	models          map[string]config.ModelConfig
	defaultProvider string
}

// NewModelSelector 从 LLM 配置构建选择器，缺失的等级使用内置默认
func NewModelSelector(cfg *config.LLMConfig) *ModelSelector {
	s := &ModelSelector{
		tiers:  make(map[entity.Tier]config.TierModelConfig, len(defaultTierModels)),
		models: make(map[string]config.ModelConfig),
	}
	for tier, tc := range defaultTierModels {
		s.tiers[tier] = tc
	}
	if cfg == nil {
		return s
	}

	s.defaultProvider = cfg.DefaultProvider
	for name, tc := range cfg.Tiers {
		tier := entity.Tier(strings.ToLower(name))
		def := s.tiers[tier]
		if tc.Model == "" {
			tc.Model = def.Model
		}
		if tc.FallbackModel == "" {
			tc.FallbackModel = def.FallbackModel
		}
		if tc.MaxTokensCap <= 0 {
			tc.MaxTokensCap = def.MaxTokensCap
		}
		s.tiers[tier] = tc
	}
	for name, mc := range cfg.Models {
		s.models[name] = mc
	}
	return s
}

// Select 选择模型；缺少所需能力时替换为回退模型并记录
func (s *ModelSelector) Select(ctx context.Context, tier entity.Tier, kind service.CallKind) Selection {
	tc, ok := s.tiers[tier]
	if !ok {
		tc = s.tiers[entity.TierFree]
	}
	capability := capabilityFor(kind)

	sel := Selection{
		Model:     tc.Model,
		Requested: tc.Model,
		TierCap:   tc.MaxTokensCap,
	}
	if !s.Supports(tc.Model, capability) {
		if candidate := s.substituteFor(tc, capability); candidate != "" {
			metrics.ChatModelSubstitutions.WithLabelValues(tc.Model, candidate, string(capability)).Inc()
			logger.Warn(ctx, "model lacks capability, substituting",
				"model", tc.Model,
				"substitute", candidate,
				"capability", string(capability),
				"tier", string(tier),
			)
			sel.Model = candidate
			sel.Substituted = true
		} else {
			logger.Warn(ctx, "no model with required capability, keeping tier model",
				"model", tc.Model,
				"capability", string(capability),
			)
		}
	}

	sel.Provider = s.ProviderFor(sel.Model)
	sel.FallbackModel = s.fallbackFor(sel.Model, tc)
	return sel
}

// Pin 固定使用指定模型，上限仍按等级计算
func (s *ModelSelector) Pin(tier entity.Tier, model string) Selection {
	tc, ok := s.tiers[tier]
	if !ok {
		tc = s.tiers[entity.TierFree]
	}
	return Selection{
		Model:         model,
		Requested:     model,
		Provider:      s.ProviderFor(model),
		FallbackModel: s.fallbackFor(model, tc),
		TierCap:       tc.MaxTokensCap,
	}
}

// Supports 未声明能力的模型视为全能
func (s *ModelSelector) Supports(model string, capability Capability) bool {
	mc, ok := s.models[model]
	if !ok || len(mc.Capabilities) == 0 {
		return true
	}
	for _, c := range mc.Capabilities {
		if Capability(c) == capability {
			return true
		}
	}
	return false
}

// ProviderFor 解析模型所属提供商
func (s *ModelSelector) ProviderFor(model string) string {
	if mc, ok := s.models[model]; ok && mc.Provider != "" {
		return mc.Provider
	}
	return s.defaultProvider
}

// TierCap 等级的最大输出 token
func (s *ModelSelector) TierCap(tier entity.Tier) int {
	if tc, ok := s.tiers[tier]; ok && tc.MaxTokensCap > 0 {
		return tc.MaxTokensCap
	}
	return defaultTierModels[entity.TierFree].MaxTokensCap
}

func (s *ModelSelector) substituteFor(tc config.TierModelConfig, capability Capability) string {
	candidates := []string{s.models[tc.Model].Fallback, tc.FallbackModel}
	for _, c := range candidates {
		if c != "" && c != tc.Model && s.Supports(c, capability) {
			return c
		}
	}
	return ""
}

func (s *ModelSelector) fallbackFor(model string, tc config.TierModelConfig) string {
	if fb := s.models[model].Fallback; fb != "" && fb != model {
		return fb
	}
	if tc.FallbackModel != model {
		return tc.FallbackModel
	}
	return ""
}

const (
	baseTokensSimple   = 192
	baseTokensComplex  = 320
	deckBonusSmall     = 64
	deckBonusLarge     = 128
	largeDeckThreshold = 60
)

var (
	longAnswerPatterns = []*regexp.Regexp{
		regexp.MustCompile(`(?i)\b(analy[sz]e|analysis|improve|suggest|recommend|optimi[sz]e|upgrade|what.*wrong|what to change)\b`),
		regexp.MustCompile(`(?i)\b(how can i|what should i|help me (with|improve)|review my deck)\b`),
		regexp.MustCompile(`(?i)\b(synergy|strategy|game plan|curve|mana base)\b`),
	}
	complexPattern = regexp.MustCompile(`(?i)\b(why|compare|explain|combo|versus|vs\.?|build|swap|cut|replace)\b`)
)

// isLongAnswerRequest 分析、改进、推荐类问题
func isLongAnswerRequest(message string) bool {
	for _, re := range longAnswerPatterns {
		if re.MatchString(message) {
			return true
		}
	}
	return false
}

func isComplexRequest(message string) bool {
	return complexPattern.MatchString(message) || len(strings.Fields(message)) > 25
}

// maxTokensFor 输出上限：基础值加套牌加成，按等级封顶；长回答直接取封顶值
func maxTokensFor(message string, deckCards, tierCap int) int {
	if isLongAnswerRequest(message) {
		return tierCap
	}
	base := baseTokensSimple
	if isComplexRequest(message) {
		base = baseTokensComplex
	}
	switch {
	case deckCards >= largeDeckThreshold:
		base += deckBonusLarge
	case deckCards > 0:
		base += deckBonusSmall
	}
	if tierCap > 0 && base > tierCap {
		return tierCap
	}
	return base
}
