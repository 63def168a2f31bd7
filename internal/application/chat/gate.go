package chat

import (
	"fmt"
	"regexp"
	"strings"
	"unicode/utf8"
)

// GateMode 缓存未命中后的分流方式
type GateMode int

const (
	// GateFull 完整流水线：回答、审校、必要时重写
	GateFull GateMode = iota
	// GateMini 单次小模型调用，输出上限更低，不审校不重写
	GateMini
	// GateStatic 不调用模型，直接返回固定答复
	GateStatic
)

var gateModeNames = [...]string{
	GateFull:   "full_llm",
	GateMini:   "mini_only",
	GateStatic: "no_llm",
}

func (m GateMode) String() string {
	if m < 0 || int(m) >= len(gateModeNames) {
		return fmt.Sprintf("gate(%d)", int(m))
	}
	return gateModeNames[m]
}

// 固定答复的处理方式
const (
	GateHandlerFAQ          = "static_faq"
	GateHandlerNeedMoreInfo = "need_more_info"
	GateHandlerOffTopic     = "off_topic"
)

const (
	miniCeilingTight  = 128
	miniCeilingNormal = 192
	oneLinerRunes     = 80
	simpleRulesRunes  = 120
	offTopicMinRunes  = 12
)

// NeedDeckNotice 需要套牌但请求未携带套牌时的答复
const NeedDeckNotice = "I need your decklist for that. Open the deck you want me to look at and ask again from there, or paste the list into the chat."

// OffTopicNotice 与万智牌无关的问题的答复
const OffTopicNotice = "I can only help with Magic: The Gathering questions, such as deckbuilding, card choices and rules."

// GateDecision 分流结果，Reason 写入日志与指标
type GateDecision struct {
	Mode      GateMode
	Reason    string
	Handler   string
	Text      string
	MaxTokens int
}

type gateInput struct {
	message       string
	hasDeck       bool
	nearBudgetCap bool
}

var (
	deckAnalysisPatterns = []*regexp.Regexp{
		regexp.MustCompile(`(?i)\b(analy[sz]e|analysis|improve|upgrade|optimi[sz]e|review)\s+(my\s+|this\s+)?(deck|list)\b`),
		regexp.MustCompile(`(?i)\b(what'?s?|what is)\s+wrong\s+(with\s+)?(my\s+)?(deck|list)\b`),
		regexp.MustCompile(`(?i)\bsuggest\s+(swap|card|upgrade)s?\b`),
		regexp.MustCompile(`(?i)\bbudget\s+swap|swap\s+suggestions\b`),
		regexp.MustCompile(`(?i)\b(how can i|what should i)\s+(improve|upgrade|fix)\b`),
		regexp.MustCompile(`(?i)\b(deck|list)\s+(analysis|improvement|suggestions)\b`),
	}
	simpleRulesPatterns = []*regexp.Regexp{
		regexp.MustCompile(`(?i)\bwhat\s+is\s+(ward|trample|haste|vigilance|first strike|double strike|lifelink|menace|reach|deathtouch)\b`),
		regexp.MustCompile(`(?i)\bwhat\s+does\s+(trample|ward|haste|vigilance|lifelink|menace|reach|deathtouch)\s+do\b`),
		regexp.MustCompile(`(?i)\bcommander\s+tax\b`),
		regexp.MustCompile(`(?i)\bwhat\s+is\s+(the\s+)?(command\s+zone|stack|priority)\b`),
		regexp.MustCompile(`(?i)\bwhat\s+(is|does)\s+(cmc|mana\s+value)\b`),
		regexp.MustCompile(`(?i)\bwhat\s+is\s+(color\s+identity|colorless\s+mana|convoke|flashback|equip)\b`),
	}
	notSimplePattern = regexp.MustCompile(`(?i)\b(analy[sz]e|improve|suggest|optimi[sz]e|synergy|strategy|combo|engine)\b`)
)

var mtgScopeKeywords = []string{
	"mtg", "magic", "commander", "edh", "deck", "card", "mana", "planeswalker",
	"creature", "sorcery", "instant", "artifact", "enchantment", "land",
	"trample", "flying", "lifelink", "vigilance", "first strike", "double strike", "hexproof", "ward", "sol ring",
	"format", "brew", "list", "swap", "ramp", "draw", "removal", "combo", "synergy", "suggest", "improve",
	"[[", "banned", "legal", "cedh", "wotc", "scryfall", "tcg", "edhrec",
}

func matchesAny(patterns []*regexp.Regexp, msg string) bool {
	for _, re := range patterns {
		if re.MatchString(msg) {
			return true
		}
	}
	return false
}

// isDeckAnalysisRequest 需要套牌上下文的分析、改进类问题
func isDeckAnalysisRequest(msg string) bool {
	return matchesAny(deckAnalysisPatterns, msg)
}

// isSimpleRulesOrTerm 短小的规则或术语问题
func isSimpleRulesOrTerm(msg string) bool {
	if utf8.RuneCountInString(msg) > simpleRulesRunes {
		return false
	}
	return matchesAny(simpleRulesPatterns, msg)
}

// isOffTopic 不含任何万智牌关键字且不命中知识库；过短的寒暄不算
func isOffTopic(kb *KnowledgeBase, msg string) bool {
	if utf8.RuneCountInString(msg) < offTopicMinRunes {
		return false
	}
	lower := strings.ToLower(msg)
	for _, kw := range mtgScopeKeywords {
		if strings.Contains(lower, kw) {
			return false
		}
	}
	_, known := kb.Match(msg)
	return !known
}

// decideGate 确定性分流，规则按顺序匹配
func decideGate(kb *KnowledgeBase, in gateInput) GateDecision {
	msg := strings.TrimSpace(in.message)

	if !in.hasDeck && isDeckAnalysisRequest(msg) {
		return GateDecision{Mode: GateStatic, Reason: "needs_deck_no_context", Handler: GateHandlerNeedMoreInfo, Text: NeedDeckNotice}
	}
	if answer, ok := kb.FAQ(msg); ok {
		return GateDecision{Mode: GateStatic, Reason: "static_faq_match", Handler: GateHandlerFAQ, Text: answer}
	}
	if isOffTopic(kb, msg) {
		return GateDecision{Mode: GateStatic, Reason: "off_topic", Handler: GateHandlerOffTopic, Text: OffTopicNotice}
	}

	if !in.hasDeck && isSimpleRulesOrTerm(msg) {
		return GateDecision{Mode: GateMini, Reason: "simple_rules_or_term", MaxTokens: miniCeilingTight}
	}

	complexDeck := in.hasDeck && (isDeckAnalysisRequest(msg) || isLongAnswerRequest(msg))
	if in.nearBudgetCap && !complexDeck {
		return GateDecision{Mode: GateMini, Reason: "near_budget_cap", MaxTokens: miniCeilingNormal}
	}
	if complexDeck {
		return GateDecision{Mode: GateFull, Reason: "deck_context_complex_or_long"}
	}

	if !in.hasDeck && utf8.RuneCountInString(msg) < oneLinerRunes && !notSimplePattern.MatchString(msg) {
		return GateDecision{Mode: GateMini, Reason: "simple_one_liner_no_deck", MaxTokens: miniCeilingNormal}
	}
	return GateDecision{Mode: GateFull, Reason: "default"}
}
