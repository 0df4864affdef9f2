// Package knowledge implements the built-in FAQ reply engine: keyword-scored
// lookup over a SQLite-backed entry set, with short-circuit replies for
// greetings and commands.
package knowledge

import (
	"context"
	"fmt"
	"log/slog"
	"regexp"
	"strings"
	"sync"

	"botgate/internal/domain"
)

// scoreThreshold is the minimum keyword relevance for an entry to win.
const scoreThreshold = 0.1

var wordPattern = regexp.MustCompile(`\pL[\pL\pN]*`)

var greetingWords = []string{"hi", "hello", "hey", "good morning", "good afternoon", "good evening"}

var farewellWords = []string{"bye", "goodbye", "see you", "thanks", "thank you"}

// Engine answers message text from the FAQ entry set. Entries are loaded once
// at startup and cached; Reload refreshes the cache from the store.
type Engine struct {
	store  *SQLiteStore
	logger *slog.Logger

	mu      sync.RWMutex
	entries []Entry
}

func NewEngine(store *SQLiteStore, logger *slog.Logger) (*Engine, error) {
	e := &Engine{store: store, logger: logger}
	if err := e.Reload(context.Background()); err != nil {
		return nil, err
	}
	return e, nil
}

// Reload replaces the in-memory entry cache from the store.
func (e *Engine) Reload(ctx context.Context) error {
	entries, err := e.store.List(ctx)
	if err != nil {
		return fmt.Errorf("cannot load faq entries: %w", err)
	}
	e.mu.Lock()
	e.entries = entries
	e.mu.Unlock()
	e.logger.Info("faq entries loaded", "count", len(entries))
	return nil
}

// Resolve implements domain.Resolver.
func (e *Engine) Resolve(ctx context.Context, text string, rc domain.ResolveContext) (string, error) {
	_ = ctx

	lower := strings.ToLower(strings.TrimSpace(text))

	switch lower {
	case "/start", "/help", "help":
		return e.helpReply(), nil
	}

	// FAQ search runs before the greeting/farewell short-circuits so a
	// question carrying a pleasantry ("thanks, what are your prices?")
	// still gets its answer.
	if entry, score := e.search(lower); entry != nil {
		e.logger.Debug("faq match",
			"chat", string(rc.Platform)+":"+rc.ChatID, "entry", entry.ID, "score", score)
		return entry.Answer, nil
	}

	if containsAny(lower, greetingWords) {
		return "Hello! Ask me anything about our products, prices, delivery, or how to reach us.", nil
	}
	if containsAny(lower, farewellWords) {
		return "Goodbye! If any other questions come up, just write here.", nil
	}

	return "I couldn't find an answer to that in my knowledge base. " +
		"Try rephrasing the question, or ask about products, prices, delivery, or contacts.", nil
}

// search returns the best entry for the normalized query, or nil when nothing
// clears the relevance threshold. Exact question substring match wins before
// keyword scoring.
func (e *Engine) search(query string) (*Entry, float64) {
	if query == "" {
		return nil, 0
	}
	words := wordPattern.FindAllString(query, -1)

	e.mu.RLock()
	defer e.mu.RUnlock()

	for i := range e.entries {
		if strings.Contains(strings.ToLower(e.entries[i].Question), query) {
			return &e.entries[i], 1
		}
	}

	var best *Entry
	bestScore := 0.0
	for i := range e.entries {
		score := keywordScore(words, e.entries[i].Keywords)
		if score > bestScore {
			bestScore = score
			best = &e.entries[i]
		}
	}
	if bestScore >= scoreThreshold {
		return best, bestScore
	}
	return nil, bestScore
}

// keywordScore is the fraction of an entry's keywords matched by the query
// words. Matching is forgiving: equality, containment either way, or a shared
// prefix all count, so inflected forms still hit.
func keywordScore(queryWords, keywords []string) float64 {
	if len(keywords) == 0 || len(queryWords) == 0 {
		return 0
	}
	matches := 0
	for _, kw := range keywords {
		kw = strings.ToLower(kw)
		for _, w := range queryWords {
			if kw == w || strings.Contains(w, kw) || strings.Contains(kw, w) ||
				strings.HasPrefix(kw, w) || strings.HasPrefix(w, kw) {
				matches++
				break
			}
		}
	}
	return float64(matches) / float64(len(keywords))
}

func (e *Engine) helpReply() string {
	e.mu.RLock()
	defer e.mu.RUnlock()

	var sb strings.Builder
	sb.WriteString("I answer common questions. Try asking:\n")
	for i, entry := range e.entries {
		if i >= 5 {
			break
		}
		sb.WriteString("  - ")
		sb.WriteString(entry.Question)
		sb.WriteString("\n")
	}
	sb.WriteString("Just type your question in plain words.")
	return sb.String()
}

// containsAny reports whether text contains any needle. Single-word needles
// must match a whole word so "hi" doesn't fire inside "which".
func containsAny(text string, needles []string) bool {
	words := wordPattern.FindAllString(text, -1)
	for _, n := range needles {
		if strings.Contains(n, " ") {
			if strings.Contains(text, n) {
				return true
			}
			continue
		}
		for _, w := range words {
			if w == n {
				return true
			}
		}
	}
	return false
}
