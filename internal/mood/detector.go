// Package mood infers the speaker's mood from conversational cadence
// and wording. The label feeds the personality composer so the
// assistant answers tersely when the user is frustrated and minimally
// when they are tired.
package mood

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

// Label is a detected mood.
type Label string

const (
	Neutral    Label = "neutral"
	Rapid      Label = "rapid"      // commands arriving in quick succession
	Impatient  Label = "impatient"  // clipped, demanding phrasing
	Frustrated Label = "frustrated" // repeated friction, overrides the rest
	Tired      Label = "tired"      // late-night interaction
)

// impatientWords are phrasings that signal impatience directly.
var impatientWords = []string{
	"sofort", "jetzt", "endlich", "schon wieder", "nochmal", "mach schon",
}

// frustratedWords escalate the frustration counter on sight.
var frustratedWords = []string{
	"funktioniert nicht", "kaputt", "warum geht", "schon dreimal",
	"verdammt", "nervt", "blöd",
}

// State is the per-person mood state. It persists across utterances in
// Redis so the mood survives process restarts within its TTL.
type State struct {
	Label            Label     `json:"label"`
	FrustrationLevel int       `json:"frustration_level"`
	LastUtteranceAt  time.Time `json:"last_utterance_at"`
	UpdatedAt        time.Time `json:"updated_at"`
}

// Config tunes the detector. Zero values fall back to defaults.
type Config struct {
	RapidInterval        time.Duration // inter-arrival below this counts as rapid
	ShortUtteranceWords  int           // at or below this is clipped
	FrustrationThreshold int           // at or above this the label is frustrated
	DecayWindow          time.Duration // frustration decays one level per window
	NightStartHour       int           // late-night window start (inclusive)
	NightEndHour         int           // late-night window end (exclusive)
}

func (c Config) withDefaults() Config {
	if c.RapidInterval == 0 {
		c.RapidInterval = 5 * time.Second
	}
	if c.ShortUtteranceWords == 0 {
		c.ShortUtteranceWords = 3
	}
	if c.FrustrationThreshold == 0 {
		c.FrustrationThreshold = 3
	}
	if c.DecayWindow == 0 {
		c.DecayWindow = 5 * time.Minute
	}
	if c.NightStartHour == 0 {
		c.NightStartHour = 23
	}
	if c.NightEndHour == 0 {
		c.NightEndHour = 5
	}
	return c
}

const (
	statePrefix = "mindhome:mood:"
	stateTTL    = 2 * time.Hour

	// tiredWindow bounds how recent the previous utterance must be for
	// the late-night hour to read as tiredness. The clock alone says
	// nothing; only an ongoing late-night conversation does.
	tiredWindow = 30 * time.Minute
)

// Detector analyzes utterances and tracks per-person mood state.
type Detector struct {
	cfg    Config
	rdb    *redis.Client
	logger *slog.Logger
	now    func() time.Time
}

// New creates a mood detector.
func New(cfg Config, rdb *redis.Client, logger *slog.Logger) *Detector {
	if logger == nil {
		logger = slog.Default()
	}
	return &Detector{
		cfg:    cfg.withDefaults(),
		rdb:    rdb,
		logger: logger,
		now:    time.Now,
	}
}

// Analyze updates the person's mood state with a new utterance and
// returns the resulting state. Store failures degrade to a fresh
// neutral state rather than failing the request.
func (d *Detector) Analyze(ctx context.Context, person, text string) State {
	state, err := d.load(ctx, person)
	if err != nil {
		d.logger.Warn("mood state load failed", "person", person, "error", err)
		state = State{Label: Neutral}
	}

	now := d.now()
	state = d.step(state, text, now)

	if err := d.save(ctx, person, state); err != nil {
		d.logger.Warn("mood state save failed", "person", person, "error", err)
	}
	return state
}

// Current returns the stored state without analyzing a new utterance.
func (d *Detector) Current(ctx context.Context, person string) State {
	state, err := d.load(ctx, person)
	if err != nil || state.UpdatedAt.IsZero() {
		return State{Label: Neutral}
	}
	// Apply decay so a stale frustrated state does not linger.
	state.FrustrationLevel = d.decayed(state, d.now())
	state.Label = d.classify(state, "", false, d.now())
	return state
}

// step applies one utterance to the state.
func (d *Detector) step(state State, text string, now time.Time) State {
	state.FrustrationLevel = d.decayed(state, now)

	rapid := !state.LastUtteranceAt.IsZero() && now.Sub(state.LastUtteranceAt) < d.cfg.RapidInterval
	if rapid {
		state.FrustrationLevel++
	}

	lower := strings.ToLower(text)
	for _, w := range frustratedWords {
		if strings.Contains(lower, w) {
			state.FrustrationLevel++
			break
		}
	}
	if strings.Count(text, "!") >= 2 {
		state.FrustrationLevel++
	}

	state.Label = d.classify(state, text, rapid, now)
	state.LastUtteranceAt = now
	state.UpdatedAt = now
	return state
}

// decayed returns the frustration level after linear decay: one level
// per decay window elapsed since the last update.
func (d *Detector) decayed(state State, now time.Time) int {
	if state.UpdatedAt.IsZero() || state.FrustrationLevel == 0 {
		return state.FrustrationLevel
	}
	elapsed := now.Sub(state.UpdatedAt)
	steps := int(elapsed / d.cfg.DecayWindow)
	level := state.FrustrationLevel - steps
	if level < 0 {
		level = 0
	}
	return level
}

// classify picks the label. Frustration wins over everything; tiredness
// over the cadence signals.
func (d *Detector) classify(state State, text string, rapid bool, now time.Time) Label {
	if state.FrustrationLevel >= d.cfg.FrustrationThreshold {
		return Frustrated
	}

	hour := now.Hour()
	night := hour >= d.cfg.NightStartHour || hour < d.cfg.NightEndHour
	if night && !state.LastUtteranceAt.IsZero() && now.Sub(state.LastUtteranceAt) <= tiredWindow {
		return Tired
	}

	if rapid {
		return Rapid
	}

	if text != "" {
		lower := strings.ToLower(text)
		for _, w := range impatientWords {
			if strings.Contains(lower, w) {
				return Impatient
			}
		}
		if len(strings.Fields(text)) <= d.cfg.ShortUtteranceWords {
			return Impatient
		}
	}

	return Neutral
}

func (d *Detector) load(ctx context.Context, person string) (State, error) {
	data, err := d.rdb.Get(ctx, statePrefix+person).Bytes()
	if errors.Is(err, redis.Nil) {
		return State{Label: Neutral}, nil
	}
	if err != nil {
		return State{}, fmt.Errorf("get mood state: %w", err)
	}

	var state State
	if err := json.Unmarshal(data, &state); err != nil {
		return State{}, fmt.Errorf("decode mood state: %w", err)
	}
	return state, nil
}

func (d *Detector) save(ctx context.Context, person string, state State) error {
	data, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("encode mood state: %w", err)
	}
	if err := d.rdb.Set(ctx, statePrefix+person, data, stateTTL).Err(); err != nil {
		return fmt.Errorf("set mood state: %w", err)
	}
	return nil
}
