// Package router decides which model tier handles an utterance. Short
// device commands go to the fast model so the lights react instantly;
// everything else gets the capable model. Decisions are recorded for
// inspection via the admin surface.
package router

import (
	"log/slog"
	"strings"
	"sync"
	"time"
)

// Tier is a model tier.
type Tier string

const (
	TierFast    Tier = "fast"
	TierCapable Tier = "capable"
)

// Config tunes routing.
type Config struct {
	MaxFastWords    int      // word count must be below this for the fast tier
	CommandKeywords []string // one must appear (substring, case insensitive)
	FastModel       string
	CapableModel    string
}

// Decision records one routing choice.
type Decision struct {
	Text      string    `json:"text"`
	Tier      Tier      `json:"tier"`
	Model     string    `json:"model"`
	WordCount int       `json:"word_count"`
	Matched   string    `json:"matched_keyword,omitempty"`
	Reason    string    `json:"reason"`
	Timestamp time.Time `json:"timestamp"`
}

const maxAuditEntries = 200

// Router routes utterances to model tiers.
type Router struct {
	cfg    Config
	logger *slog.Logger

	mu       sync.Mutex
	auditLog []Decision
	stats    map[Tier]int
}

// New creates a router.
func New(cfg Config, logger *slog.Logger) *Router {
	if cfg.MaxFastWords == 0 {
		cfg.MaxFastWords = 5
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Router{
		cfg:    cfg,
		logger: logger,
		stats:  make(map[Tier]int),
	}
}

// Route picks the tier for an utterance. The fast tier requires BOTH a
// word count under the limit AND a command keyword; ambiguity always
// falls through to the capable tier.
func (r *Router) Route(text string) Decision {
	words := len(strings.Fields(text))
	lower := strings.ToLower(text)

	d := Decision{
		Text:      text,
		WordCount: words,
		Timestamp: time.Now(),
	}

	if words < r.cfg.MaxFastWords {
		for _, kw := range r.cfg.CommandKeywords {
			if strings.Contains(lower, kw) {
				d.Tier = TierFast
				d.Model = r.cfg.FastModel
				d.Matched = kw
				d.Reason = "short command with device keyword"
				r.record(d)
				return d
			}
		}
		d.Reason = "short but no device keyword"
	} else {
		d.Reason = "too long for fast tier"
	}

	d.Tier = TierCapable
	d.Model = r.cfg.CapableModel
	r.record(d)
	return d
}

func (r *Router) record(d Decision) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.stats[d.Tier]++
	r.auditLog = append(r.auditLog, d)
	if len(r.auditLog) > maxAuditEntries {
		r.auditLog = r.auditLog[len(r.auditLog)-maxAuditEntries:]
	}

	r.logger.Debug("routed utterance",
		"tier", d.Tier,
		"model", d.Model,
		"words", d.WordCount,
		"reason", d.Reason,
	)
}

// AuditLog returns a copy of recent decisions, newest last.
func (r *Router) AuditLog() []Decision {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Decision, len(r.auditLog))
	copy(out, r.auditLog)
	return out
}

// Stats returns per-tier decision counts.
func (r *Router) Stats() map[Tier]int {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make(map[Tier]int, len(r.stats))
	for k, v := range r.stats {
		out[k] = v
	}
	return out
}
