// Package extractor mines conversation turns for durable facts about
// the speaker. It runs after the response is already delivered, on the
// fast model, and fails open: a malformed model reply extracts nothing
// and is never surfaced to the user.
package extractor

import (
	"context"
	"encoding/json"
	"log/slog"
	"strings"

	"github.com/Goifal/mindhome-assistant/internal/facts"
	"github.com/Goifal/mindhome-assistant/internal/llm"
)

// MinWords is the minimum utterance length worth extracting from.
// Short device commands carry no personal information.
const MinWords = 5

// trivialCommands are utterances skipped outright even when long enough.
var trivialCommands = []string{
	"licht an", "licht aus", "gute nacht", "guten morgen",
	"musik an", "musik aus", "stopp", "stop", "pause",
	"lauter", "leiser", "danke",
}

const systemPrompt = `Du extrahierst Fakten über eine Person aus Gesprächen.
Antworte NUR mit einem JSON-Array. Jedes Element:
{"category": "preference|person|habit|health|work|general", "text": "..."}
Extrahiere nur dauerhaft nützliche Fakten (Vorlieben, Gewohnheiten,
Personen, Gesundheit, Arbeit). Keine Gerätebefehle, kein Smalltalk.
Wenn nichts extrahierbar ist, antworte mit [].`

// FactStore is the destination for extracted facts.
type FactStore interface {
	StoreFact(ctx context.Context, person string, category facts.Category, text string, confidence float64) (*facts.Fact, bool, error)
}

// Extractor extracts facts from finished turns.
type Extractor struct {
	llm    *llm.Client
	model  string
	store  FactStore
	logger *slog.Logger
}

// New creates an extractor using the given fast model.
func New(client *llm.Client, model string, store FactStore, logger *slog.Logger) *Extractor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Extractor{llm: client, model: model, store: store, logger: logger}
}

type extracted struct {
	Category string `json:"category"`
	Text     string `json:"text"`
}

// Extract analyzes one exchange and stores whatever facts it yields.
// Returns the number of facts stored. Errors are logged, not returned
// to the conversation path.
func (e *Extractor) Extract(ctx context.Context, person, userText, response string) int {
	if !e.worthExtracting(userText) {
		return 0
	}

	prompt := "Nutzer (" + person + "): " + userText + "\nAssistent: " + response

	raw, err := e.llm.Generate(ctx, e.model, systemPrompt, prompt, &llm.Options{
		Temperature: 0.1,
		NumPredict:  256,
	})
	if err != nil {
		e.logger.Warn("fact extraction failed", "person", person, "error", err)
		return 0
	}

	items := parseFacts(raw)
	stored := 0
	for _, item := range items {
		if strings.TrimSpace(item.Text) == "" {
			continue
		}
		_, created, err := e.store.StoreFact(ctx, person, facts.Category(item.Category), item.Text, facts.DefaultConfidence)
		if err != nil {
			e.logger.Warn("store extracted fact failed", "person", person, "error", err)
			continue
		}
		stored++
		e.logger.Debug("fact extracted", "person", person, "category", item.Category, "created", created)
	}
	return stored
}

// worthExtracting filters out short utterances and known device commands.
func (e *Extractor) worthExtracting(userText string) bool {
	text := strings.ToLower(strings.TrimSpace(userText))
	if len(strings.Fields(text)) < MinWords {
		return false
	}
	for _, cmd := range trivialCommands {
		if text == cmd {
			return false
		}
	}
	return true
}

// parseFacts decodes the model output. Models sometimes wrap the array
// in prose or code fences, so a bracket scan recovers the JSON before
// giving up.
func parseFacts(raw string) []extracted {
	raw = strings.TrimSpace(raw)

	var items []extracted
	if err := json.Unmarshal([]byte(raw), &items); err == nil {
		return items
	}

	start := strings.Index(raw, "[")
	end := strings.LastIndex(raw, "]")
	if start == -1 || end <= start {
		return nil
	}
	if err := json.Unmarshal([]byte(raw[start:end+1]), &items); err != nil {
		return nil
	}
	return items
}
