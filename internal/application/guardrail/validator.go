// Package guardrail 对模型输出做确定性的规则校验与修复
package guardrail

import (
	"context"
	"strings"

	"deck-assistant-api/internal/domain/entity"
	"deck-assistant-api/internal/domain/repository"
	"deck-assistant-api/pkg/logger"
	"deck-assistant-api/pkg/metrics"
)

// MinBlocksBeforeRegeneration 修复后剩余推荐少于该值时考虑重写
const MinBlocksBeforeRegeneration = 3

// RepairSystemMessage 重写时附加的系统消息
const RepairSystemMessage = "Previous suggestions included invalid, duplicate, or illegal cards. " +
	"Regenerate recommendations using only legal, non-duplicate cards for this format. " +
	"Preserve the original structure and tone; only repair the invalid recommendations."

// DeckCard 校验用的套牌条目
type DeckCard struct {
	Name  string
	Count int
}

// Input 校验输入
type Input struct {
	Text          string
	DeckCards     []DeckCard
	FormatKey     string
	CommanderName string
	ColorIdentity string
	// RegenPass 校验重写结果时为 true，此时不再请求重写
	RegenPass bool
}

// Result 校验结果
type Result struct {
	Valid             bool
	Issues            []Issue
	RepairedText      string
	NeedsRegeneration bool
	BlocksRemaining   int
}

// CardIndex 卡牌目录，按规范化卡名批量查询
type CardIndex interface {
	LookupCards(ctx context.Context, normalizedNames []string) (map[string]*entity.Card, error)
}

// Validator 规则引擎
type Validator struct {
	rules []Rule
	index CardIndex
}

// NewValidator index 可为 nil，此时跳过依赖卡牌目录的规则
func NewValidator(index CardIndex) *Validator {
	return &Validator{rules: DefaultRules(), index: index}
}

// NewValidatorWithRules 使用自定义规则集
func NewValidatorWithRules(index CardIndex, rules []Rule) *Validator {
	return &Validator{rules: rules, index: index}
}

// Validate 依次执行规则，始终给出修复后的文本
func (v *Validator) Validate(ctx context.Context, in Input) Result {
	blocks := ParseBlocks(in.Text)
	rc := v.newRuleContext(ctx, in, blocks)

	state := &repairState{lines: strings.Split(in.Text, "\n")}
	state.drop = make([]bool, len(state.lines))

	var issues []Issue
	flagged := make([]bool, len(blocks))
	regenerate := false
	for _, rule := range v.rules {
		for i, b := range blocks {
			if flagged[i] {
				continue
			}
			msg, hit := rule.Predicate(rc, b)
			if !hit {
				continue
			}
			flagged[i] = true
			if rule.Repair != nil {
				rule.Repair(state, b)
			}
			issues = append(issues, Issue{Rule: rule.Name, Severity: rule.Severity, Card: b.Add, Message: msg})
			if rule.Severity == SeverityRegenerate {
				regenerate = true
			}
			metrics.ValidationIssuesTotal.WithLabelValues(rule.Name, formatLabel(in.FormatKey)).Inc()
		}
	}

	remaining := 0
	for _, f := range flagged {
		if !f {
			remaining++
		}
	}

	res := Result{
		Valid:           len(issues) == 0,
		Issues:          issues,
		RepairedText:    state.text(),
		BlocksRemaining: remaining,
	}
	res.NeedsRegeneration = !in.RegenPass && len(issues) > 0 &&
		(remaining < MinBlocksBeforeRegeneration || regenerate)
	return res
}

func (v *Validator) newRuleContext(ctx context.Context, in Input, blocks []Block) *ruleContext {
	rc := &ruleContext{
		singleton: entity.IsSingletonFormat(in.FormatKey),
		deck:      make(map[string]bool, len(in.DeckCards)),
		present:   make(map[string]bool, len(in.DeckCards)+1),
		counts:    make(map[string]int, len(in.DeckCards)),
		colors:    in.ColorIdentity,
	}
	for _, c := range in.DeckCards {
		n := NormalizeName(BaseCardName(c.Name))
		rc.deck[n] = true
		rc.present[n] = true
		count := c.Count
		if count <= 0 {
			count = 1
		}
		rc.counts[n] += count
	}
	if in.CommanderName != "" {
		rc.present[NormalizeName(BaseCardName(in.CommanderName))] = true
	}

	if v.index != nil && len(blocks) > 0 {
		names := make([]string, 0, len(blocks))
		for _, b := range blocks {
			names = append(names, NormalizeName(b.Add))
		}
		cards, err := v.index.LookupCards(ctx, names)
		if err != nil {
			logger.Warn(ctx, "card index unavailable, skipping catalog rules", "error", err.Error())
		} else {
			rc.cards = cards
		}
	}
	return rc
}

func formatLabel(format string) string {
	f := strings.ToLower(strings.TrimSpace(format))
	if f == "" {
		return "unknown"
	}
	return f
}

// RepositoryIndex 基于卡牌仓储的目录
type RepositoryIndex struct {
	repo repository.CardRepository
}

func NewRepositoryIndex(repo repository.CardRepository) *RepositoryIndex {
	return &RepositoryIndex{repo: repo}
}

func (r *RepositoryIndex) LookupCards(ctx context.Context, normalizedNames []string) (map[string]*entity.Card, error) {
	cards, err := r.repo.GetByNormalizedNames(ctx, normalizedNames)
	if err != nil {
		return nil, err
	}
	out := make(map[string]*entity.Card, len(cards))
	for _, c := range cards {
		out[c.NormalizedName] = c
	}
	return out, nil
}
