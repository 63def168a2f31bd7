package chat

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"deck-assistant-api/internal/config"
	"deck-assistant-api/internal/domain/entity"
	"deck-assistant-api/internal/domain/repository"
	apperrors "deck-assistant-api/pkg/errors"
	"deck-assistant-api/pkg/logger"
	"deck-assistant-api/pkg/tracer"
)

const (
	defaultFormat       = "commander"
	defaultHistoryLimit = 12
	// maxDeckLines 写入提示词的卡牌行数上限
	maxDeckLines = 120
)

// ComposedContext 单次请求的指令上下文
type ComposedContext struct {
	SystemPrompt string
	ContextHash  string
	FormatKey    string
	PersonaID    string

	Deck     *entity.Deck
	History  []*entity.ChatMessage
	Summary  string
	Snippets []string
}

// Composer 上下文组装
type Composer interface {
	Compose(ctx context.Context, req ChatRequest, id entity.Identity) (*ComposedContext, error)
}

var personaSeeds = map[string]string{
	"brewer":  "Persona: a practical deck brewer. Be direct and budget-aware, lead with the recommendation and keep explanations short.",
	"tutor": "Persona: a patient tutor. Explain why each suggestion helps, define jargon the first time it appears and give one concrete play example.",
}

var formatNotes = map[string]string{
	"commander":   "Format: Commander. 100-card singleton including the commander; every card must match the commander's color identity.",
	"brawl":       "Format: Brawl. 60-card singleton with a commander, Standard-legal cards only.",
	"oathbreaker": "Format: Oathbreaker. 60-card singleton led by a planeswalker and a signature spell.",
	"standard":    "Format: Standard. 60-card minimum, up to 4 copies of each card except basic lands.",
	"modern":      "Format: Modern. 60-card minimum, up to 4 copies of each card except basic lands.",
	"pioneer":     "Format: Pioneer. 60-card minimum, up to 4 copies of each card except basic lands.",
	"pauper":      "Format: Pauper. Commons only, up to 4 copies of each card except basic lands.",
}

// DefaultComposer 从套牌与对话存储组装上下文
type DefaultComposer struct {
	decks    repository.DeckRepository
	convs    repository.ConversationRepository
	snippets SnippetRetriever

	historyLimit    int
	timeout         time.Duration
	defaultPersona  string
	teachingPersona string
}

var _ Composer = (*DefaultComposer)(nil)

// NewDefaultComposer snippets 为 nil 时不做片段检索
func NewDefaultComposer(decks repository.DeckRepository, convs repository.ConversationRepository, snippets SnippetRetriever, cfg *config.ChatConfig) *DefaultComposer {
	c := &DefaultComposer{
		decks:           decks,
		convs:           convs,
		snippets:        snippets,
		historyLimit:    defaultHistoryLimit,
		timeout:         3 * time.Second,
		defaultPersona:  "brewer",
		teachingPersona: "tutor",
	}
	if cfg != nil {
		if cfg.HistoryLimit > 0 {
			c.historyLimit = cfg.HistoryLimit
		}
		if cfg.ComposeTimeout > 0 {
			c.timeout = cfg.ComposeTimeout
		}
		if cfg.DefaultPersona != "" {
			c.defaultPersona = cfg.DefaultPersona
		}
		if cfg.TeachingPersona != "" {
			c.teachingPersona = cfg.TeachingPersona
		}
	}
	return c
}

// ownedDeck 非法 id 与他人的套牌都按不存在处理
func (c *DefaultComposer) ownedDeck(ctx context.Context, id entity.Identity, deckID string) (*entity.Deck, error) {
	if _, err := uuid.Parse(deckID); err != nil {
		return nil, apperrors.ErrDeckNotFound.WithDetail(deckID)
	}
	deck, err := c.decks.GetDeck(ctx, deckID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, apperrors.ErrDeckNotFound.WithDetail(deckID)
		}
		return nil, apperrors.Wrap(err, apperrors.CodeDatabaseError, "load deck")
	}
	if id.IsGuest() || deck.OwnerID != id.ID {
		return nil, apperrors.ErrDeckNotFound.WithDetail(deckID)
	}
	return deck, nil
}

// Compose 并发加载套牌、历史、摘要与片段；只有套牌加载失败是致命错误
func (c *DefaultComposer) Compose(ctx context.Context, req ChatRequest, id entity.Identity) (*ComposedContext, error) {
	ctx, span := tracer.Start(ctx, "chat.compose")
	var err error
	defer func() { tracer.End(span, err) }()

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	out := &ComposedContext{PersonaID: c.defaultPersona}
	if req.Preferences.Teaching {
		out.PersonaID = c.teachingPersona
	}

	persisted := req.ThreadID != "" && !id.IsGuest()
	g, gctx := errgroup.WithContext(ctx)

	if deckID := strings.TrimSpace(req.Context.DeckID); deckID != "" && c.decks != nil {
		g.Go(func() error {
			deck, err := c.ownedDeck(gctx, id, deckID)
			if err != nil {
				return err
			}
			out.Deck = deck
			return nil
		})
	}

	if persisted && c.convs != nil {
		g.Go(func() error {
			history, err := c.convs.GetHistory(gctx, req.ThreadID, c.historyLimit)
			if err != nil {
				logger.Warn(gctx, "load history failed, composing without it", "error", err.Error())
				return nil
			}
			out.History = history
			return nil
		})
		g.Go(func() error {
			thread, err := c.convs.GetThread(gctx, req.ThreadID)
			if err != nil {
				if !errors.Is(err, repository.ErrNotFound) {
					logger.Warn(gctx, "load thread summary failed", "error", err.Error())
				}
				return nil
			}
			out.Summary = strings.TrimSpace(thread.Summary)
			return nil
		})
	}

	if persisted && c.snippets != nil {
		g.Go(func() error {
			snippets, err := c.snippets.Retrieve(gctx, req.ThreadID, req.Message)
			if err != nil {
				logger.Warn(gctx, "snippet retrieval failed", "error", err.Error())
				return nil
			}
			out.Snippets = snippets
			return nil
		})
	}

	if err = g.Wait(); err != nil {
		return nil, err
	}

	out.FormatKey = resolveFormat(req, out.Deck)
	out.ContextHash, err = ContextHash(out.FormatKey, out.PersonaID, out.Deck, subsetOf(req))
	if err != nil {
		return nil, err
	}
	out.SystemPrompt = buildSystemPrompt(out, req)
	return out, nil
}

type hashCard struct {
	Name string `json:"name"`
	Qty  int    `json:"qty"`
}

type hashInput struct {
	Format    string           `json:"format"`
	Commander string           `json:"commander"`
	Cards     []hashCard       `json:"cards"`
	Persona   string           `json:"persona"`
	Prefs     preferenceSubset `json:"prefs"`
}

// ContextHash 套牌状态与偏好的稳定哈希，不含历史与片段
func ContextHash(format, persona string, deck *entity.Deck, prefs preferenceSubset) (string, error) {
	in := hashInput{Format: format, Persona: persona, Prefs: prefs, Cards: []hashCard{}}
	if deck != nil {
		in.Commander = strings.ToLower(strings.TrimSpace(deck.Commander))
		qty := make(map[string]int, len(deck.Cards))
		for _, c := range deck.Cards {
			name := strings.ToLower(strings.TrimSpace(c.Name))
			if name == "" {
				continue
			}
			qty[name] += c.Quantity
		}
		for name, n := range qty {
			in.Cards = append(in.Cards, hashCard{Name: name, Qty: n})
		}
		sort.Slice(in.Cards, func(i, j int) bool { return in.Cards[i].Name < in.Cards[j].Name })
	}

	b, err := json.Marshal(in)
	if err != nil {
		return "", fmt.Errorf("marshal context hash input: %w", err)
	}
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:]), nil
}

func resolveFormat(req ChatRequest, deck *entity.Deck) string {
	if f := normalizeFormat(req.Preferences.Format); f != "" {
		return f
	}
	if deck != nil {
		if f := normalizeFormat(deck.Format); f != "" {
			return f
		}
	}
	return defaultFormat
}

func normalizeFormat(format string) string {
	f := strings.ToLower(strings.TrimSpace(format))
	if f == "edh" {
		return "commander"
	}
	return f
}

func sortedUpper(colors []string) []string {
	if len(colors) == 0 {
		return []string{}
	}
	out := make([]string, 0, len(colors))
	for _, c := range colors {
		if c = strings.ToUpper(strings.TrimSpace(c)); c != "" {
			out = append(out, c)
		}
	}
	sort.Strings(out)
	return out
}

func buildSystemPrompt(cc *ComposedContext, req ChatRequest) string {
	var b strings.Builder
	if seed, ok := personaSeeds[cc.PersonaID]; ok {
		b.WriteString(seed)
		b.WriteString("\n")
	}
	if note, ok := formatNotes[cc.FormatKey]; ok {
		b.WriteString(note)
		b.WriteString("\n")
	} else {
		fmt.Fprintf(&b, "Format: %s.\n", cc.FormatKey)
	}

	prefs := subsetOf(req)
	if prefs.Budget != "" {
		fmt.Fprintf(&b, "Budget: %s.\n", prefs.Budget)
	}
	if len(prefs.Colors) > 0 {
		fmt.Fprintf(&b, "Preferred colors: %s.\n", strings.Join(prefs.Colors, ""))
	}

	if d := cc.Deck; d != nil {
		b.WriteString("\nDeck: ")
		b.WriteString(d.Name)
		b.WriteString("\n")
		if d.Commander != "" {
			fmt.Fprintf(&b, "Commander: %s\n", d.Commander)
		}
		if d.ColorIdentity != "" {
			fmt.Fprintf(&b, "Color identity: %s\n", d.ColorIdentity)
		}
		fmt.Fprintf(&b, "Cards (%d):\n", d.CardCount())
		b.WriteString(deckList(d, maxDeckLines))
	}

	if cc.Summary != "" {
		b.WriteString("\nConversation so far:\n")
		b.WriteString(cc.Summary)
		b.WriteString("\n")
	}
	if len(cc.Snippets) > 0 {
		b.WriteString("\nRelated earlier messages:\n")
		for _, s := range cc.Snippets {
			b.WriteString("- ")
			b.WriteString(s)
			b.WriteString("\n")
		}
	}
	return strings.TrimSpace(b.String())
}

// deckList 每行 "N Name"，超出 limit 时截断
func deckList(d *entity.Deck, limit int) string {
	if d == nil || len(d.Cards) == 0 {
		return ""
	}
	var b strings.Builder
	for i, c := range d.Cards {
		if limit > 0 && i >= limit {
			fmt.Fprintf(&b, "... and %d more\n", len(d.Cards)-limit)
			break
		}
		fmt.Fprintf(&b, "%d %s\n", c.Quantity, c.Name)
	}
	return b.String()
}
