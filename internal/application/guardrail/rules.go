package guardrail

import (
	"fmt"
	"strings"

	"deck-assistant-api/internal/domain/entity"
)

// Severity 问题级别
type Severity int

const (
	// SeverityRepair 可在本地修复
	SeverityRepair Severity = iota
	// SeverityRegenerate 值得让模型重写
	SeverityRegenerate
)

func (s Severity) String() string {
	if s == SeverityRegenerate {
		return "regenerate"
	}
	return "repair"
}

// 规则名
const (
	RuleAddAlreadyInDeck = "add_already_in_deck"
	RuleCutNotInDeck     = "cut_not_in_deck"
	RuleInventedCard     = "invented_card"
	RuleOffColor         = "off_color"
	RuleOverCopyLimit    = "over_copy_limit"
	RuleStrictlyWorse    = "strictly_worse"
)

// MaxCopies 非单卡赛制同名卡上限
const MaxCopies = 4

// Issue 一个校验问题
type Issue struct {
	Rule     string   `json:"rule"`
	Severity Severity `json:"-"`
	Card     string   `json:"card,omitempty"`
	Message  string   `json:"message"`
}

// RepairFunc 对命中的块做确定性修复
type RepairFunc func(s *repairState, b Block)

// Rule 声明式规则：Predicate 命中即调用 Repair
type Rule struct {
	Name      string
	Severity  Severity
	Predicate func(rc *ruleContext, b Block) (message string, hit bool)
	Repair    RepairFunc
}

// ruleContext 一次校验共享的只读数据
type ruleContext struct {
	singleton bool
	deck      map[string]bool
	present   map[string]bool
	counts    map[string]int
	colors    string
	// cards 卡牌目录查询结果，nil 表示目录不可用
	cards map[string]*entity.Card
}

type repairState struct {
	lines []string
	drop  []bool
}

func dropBlock(s *repairState, b Block) {
	for i := b.Start; i < b.End && i < len(s.drop); i++ {
		s.drop[i] = true
	}
}

func (s *repairState) text() string {
	out := make([]string, 0, len(s.lines))
	for i, l := range s.lines {
		if !s.drop[i] {
			out = append(out, l)
		}
	}
	return collapseBlankLines(strings.Join(out, "\n"))
}

// strictlyWorse ADD 严格劣于已在套牌中的 CUT
var strictlyWorse = map[string][]string{
	"murder":     {"putrefy"},
	"doomblade":  {"goforthethroat"},
	"terror":     {"putrefy"},
	"cancel":     {"counterspell", "arcanedenial"},
	"divination": {"expressiveiteration", "memorydeluge", "nightswhisper"},
	"shock":      {"lightningbolt"},
	"naturalize": {"natureclaim", "returntonature"},
}

// DefaultRules 按顺序执行，先命中的规则优先
func DefaultRules() []Rule {
	return []Rule{
		{
			Name:     RuleAddAlreadyInDeck,
			Severity: SeverityRegenerate,
			Predicate: func(rc *ruleContext, b Block) (string, bool) {
				if !rc.singleton || !rc.present[NormalizeName(b.Add)] {
					return "", false
				}
				return fmt.Sprintf("ADD %s is already in the deck", b.Add), true
			},
			Repair: dropBlock,
		},
		{
			Name:     RuleCutNotInDeck,
			Severity: SeverityRepair,
			Predicate: func(rc *ruleContext, b Block) (string, bool) {
				if b.Cut == "" || rc.deck[NormalizeName(b.Cut)] {
					return "", false
				}
				return fmt.Sprintf("CUT %s is not in the deck", b.Cut), true
			},
			Repair: dropBlock,
		},
		{
			Name:     RuleInventedCard,
			Severity: SeverityRegenerate,
			Predicate: func(rc *ruleContext, b Block) (string, bool) {
				if rc.cards == nil {
					return "", false
				}
				if _, ok := rc.cards[NormalizeName(b.Add)]; ok {
					return "", false
				}
				return fmt.Sprintf("ADD %s not found (invalid or invented)", b.Add), true
			},
			Repair: dropBlock,
		},
		{
			Name:     RuleOffColor,
			Severity: SeverityRepair,
			Predicate: func(rc *ruleContext, b Block) (string, bool) {
				if !rc.singleton || rc.colors == "" || rc.cards == nil {
					return "", false
				}
				card, ok := rc.cards[NormalizeName(b.Add)]
				if !ok {
					return "", false
				}
				if !card.IdentityKnown() {
					return fmt.Sprintf("ADD %s has no color identity on record", b.Add), true
				}
				if withinColors(card.ColorIdentity, rc.colors) {
					return "", false
				}
				return fmt.Sprintf("ADD %s is outside the deck's color identity", b.Add), true
			},
			Repair: dropBlock,
		},
		{
			Name:     RuleOverCopyLimit,
			Severity: SeverityRepair,
			Predicate: func(rc *ruleContext, b Block) (string, bool) {
				if rc.singleton || IsBasicLand(b.Add) {
					return "", false
				}
				if rc.counts[NormalizeName(b.Add)]+b.Copies <= MaxCopies {
					return "", false
				}
				return fmt.Sprintf("ADD %s would exceed %d copies", b.Add, MaxCopies), true
			},
			Repair: dropBlock,
		},
		{
			Name:     RuleStrictlyWorse,
			Severity: SeverityRepair,
			Predicate: func(rc *ruleContext, b Block) (string, bool) {
				if b.Cut == "" {
					return "", false
				}
				cut := NormalizeName(b.Cut)
				for _, better := range strictlyWorse[NormalizeName(b.Add)] {
					if better == cut {
						return fmt.Sprintf("ADD %s is strictly worse than CUT %s", b.Add, b.Cut), true
					}
				}
				return "", false
			},
			Repair: dropBlock,
		},
	}
}

// withinColors 无色卡总是合法
func withinColors(card, allowed string) bool {
	allowed = strings.ToUpper(allowed)
	for _, c := range strings.ToUpper(card) {
		if c == 'C' {
			continue
		}
		if !strings.ContainsRune(allowed, c) {
			return false
		}
	}
	return true
}
