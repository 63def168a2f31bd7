package chat

import (
	_ "embed"
	"fmt"
	"os"
	"regexp"
	"strings"
	"unicode/utf8"

	"gopkg.in/yaml.v3"
)

//go:embed knowledge/rules.yaml
var embeddedKnowledge []byte

// maxResearchRunes 超过该长度的问题不走规则检索
const maxResearchRunes = 120

var researchTrigger = regexp.MustCompile(`(?i)\b(rules?|ruling|oracle|how does|does .+ work|can i|is it legal|legal in|stack|priority|trigger(?:s|ed)?|resolve[sd]?|damage|layers?|mulligan)\b`)

// KnowledgeTopic 一条静态规则知识
type KnowledgeTopic struct {
	Topic    string   `yaml:"topic"`
	Keywords []string `yaml:"keywords"`
	Note     string   `yaml:"note"`
}

// FAQEntry 关于助手本身的静态问答
type FAQEntry struct {
	ID      string   `yaml:"id"`
	Phrases []string `yaml:"phrases"`
	Answer  string   `yaml:"answer"`
}

type knowledgeFile struct {
	Topics []KnowledgeTopic `yaml:"topics"`
	FAQ    []FAQEntry       `yaml:"faq"`
}

// KnowledgeBase 只读规则知识库
type KnowledgeBase struct {
	topics []KnowledgeTopic
	byKey  map[string]string
	faq    []FAQEntry
}

// LoadKnowledgeBase 读取知识库，path 为空时使用内嵌文件
func LoadKnowledgeBase(path string) (*KnowledgeBase, error) {
	data := embeddedKnowledge
	if strings.TrimSpace(path) != "" {
		b, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read knowledge file: %w", err)
		}
		data = b
	}
	return ParseKnowledgeBase(data)
}

// ParseKnowledgeBase 解析 YAML 知识库
func ParseKnowledgeBase(data []byte) (*KnowledgeBase, error) {
	var f knowledgeFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parse knowledge base: %w", err)
	}

	kb := &KnowledgeBase{byKey: make(map[string]string, len(f.Topics))}
	for _, t := range f.Topics {
		key := strings.TrimSpace(t.Topic)
		note := strings.TrimSpace(t.Note)
		if key == "" || note == "" {
			continue
		}
		for i := range t.Keywords {
			t.Keywords[i] = strings.ToLower(strings.TrimSpace(t.Keywords[i]))
		}
		t.Topic, t.Note = key, note
		kb.topics = append(kb.topics, t)
		kb.byKey[key] = note
	}
	for _, e := range f.FAQ {
		answer := strings.TrimSpace(e.Answer)
		if answer == "" || len(e.Phrases) == 0 {
			continue
		}
		for i := range e.Phrases {
			e.Phrases[i] = strings.ToLower(strings.TrimSpace(e.Phrases[i]))
		}
		e.Answer = answer
		kb.faq = append(kb.faq, e)
	}
	return kb, nil
}

// FAQ 返回命中的静态答复
func (kb *KnowledgeBase) FAQ(message string) (string, bool) {
	if kb == nil {
		return "", false
	}
	msg := " " + strings.ToLower(strings.TrimSpace(message)) + " "
	for _, e := range kb.faq {
		for _, p := range e.Phrases {
			if p != "" && containsWord(msg, p) {
				return e.Answer, true
			}
		}
	}
	return "", false
}

// Lookup 按主题键查询
func (kb *KnowledgeBase) Lookup(topic string) (string, bool) {
	if kb == nil {
		return "", false
	}
	note, ok := kb.byKey[topic]
	return note, ok
}

// Match 返回问题命中的第一个主题，关键字最长者优先
func (kb *KnowledgeBase) Match(message string) (string, bool) {
	if kb == nil {
		return "", false
	}
	msg := " " + strings.ToLower(message) + " "
	best, bestLen := "", 0
	for _, t := range kb.topics {
		for _, kw := range t.Keywords {
			if kw == "" || len(kw) <= bestLen {
				continue
			}
			if containsWord(msg, kw) {
				best, bestLen = t.Topic, len(kw)
			}
		}
	}
	return best, best != ""
}

// Len 主题数量
func (kb *KnowledgeBase) Len() int {
	if kb == nil {
		return 0
	}
	return len(kb.topics)
}

func containsWord(haystack, word string) bool {
	idx := strings.Index(haystack, word)
	for idx >= 0 {
		before := haystack[idx-1]
		end := idx + len(word)
		if !isWordByte(before) && (end >= len(haystack) || !isWordByte(haystack[end])) {
			return true
		}
		next := strings.Index(haystack[idx+1:], word)
		if next < 0 {
			return false
		}
		idx += next + 1
	}
	return false
}

func isWordByte(b byte) bool {
	return b == '_' || (b >= 'a' && b <= 'z') || (b >= '0' && b <= '9')
}

// needsResearch 短小的规则类问题才做检索
func needsResearch(message string) bool {
	msg := strings.TrimSpace(message)
	if msg == "" || utf8.RuneCountInString(msg) > maxResearchRunes {
		return false
	}
	return researchTrigger.MatchString(msg)
}
