// Package contextbuilder assembles the situational context for one
// utterance: who is speaking, where, what the house is doing, what we
// know about the person, and what was recently said. It only reads.
// Every source can fail independently; a dead store degrades its field
// to empty instead of failing the request.
package contextbuilder

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/Goifal/mindhome-assistant/internal/activity"
	"github.com/Goifal/mindhome-assistant/internal/episodic"
	"github.com/Goifal/mindhome-assistant/internal/facts"
	"github.com/Goifal/mindhome-assistant/internal/homeassistant"
	"github.com/Goifal/mindhome-assistant/internal/memory"
	"github.com/Goifal/mindhome-assistant/internal/mood"
	"github.com/Goifal/mindhome-assistant/internal/personality"
)

// Limits for context assembly.
const (
	MaxPersonFacts    = 5
	MaxMemories       = 2
	MaxRecentTurns    = 5
	MinFactConfidence = 0.5
	// MinMemoryRelevance filters out episodic matches that are merely
	// the least-bad of a poor field.
	MinMemoryRelevance = 0.4
	// MaxDeviceStates caps the device snapshot so the prompt stays small.
	MaxDeviceStates = 12
)

// Context is the assembled situational context.
type Context struct {
	Person       string
	Room         string
	TimeBucket   personality.Bucket
	Mood         mood.State
	Activity     activity.State
	PersonFacts  []*facts.Fact
	Memories     []episodic.SearchResult
	RecentTurns  []memory.Turn
	DeviceStates []string
	AssembledAt  time.Time
}

// FactSource provides person facts.
type FactSource interface {
	ForPerson(ctx context.Context, person string, minConfidence float64, limit int) ([]*facts.Fact, error)
}

// MemorySource provides episodic recall.
type MemorySource interface {
	Search(ctx context.Context, query string, kind episodic.Kind, k int) ([]episodic.SearchResult, error)
}

// TurnSource provides recent conversation turns.
type TurnSource interface {
	RecentTurns(ctx context.Context, n int) ([]memory.Turn, error)
	GetContext(ctx context.Context, key string) (string, error)
}

// StateSource provides the monitored entity snapshot.
type StateSource interface {
	GetStates(ctx context.Context) ([]homeassistant.State, error)
}

// Builder assembles contexts.
type Builder struct {
	factSrc   FactSource
	memorySrc MemorySource
	turnSrc   TurnSource
	stateSrc  StateSource
	logger    *slog.Logger
	now       func() time.Time
}

// New creates a builder.
func New(factSrc FactSource, memorySrc MemorySource, turnSrc TurnSource, stateSrc StateSource, logger *slog.Logger) *Builder {
	if logger == nil {
		logger = slog.Default()
	}
	return &Builder{
		factSrc:   factSrc,
		memorySrc: memorySrc,
		turnSrc:   turnSrc,
		stateSrc:  stateSrc,
		logger:    logger,
		now:       time.Now,
	}
}

// Build assembles the context for an utterance. moodState and
// activityState are passed in because the detectors already ran for
// this utterance.
func (b *Builder) Build(ctx context.Context, person, text string, moodState mood.State, activityState activity.State) Context {
	now := b.now()
	out := Context{
		Person:      person,
		TimeBucket:  personality.BucketFor(now),
		Mood:        moodState,
		Activity:    activityState,
		AssembledAt: now,
	}

	if room, err := b.turnSrc.GetContext(ctx, "room:"+person); err == nil {
		out.Room = room
	}

	if personFacts, err := b.factSrc.ForPerson(ctx, person, MinFactConfidence, MaxPersonFacts); err != nil {
		b.logger.Warn("facts unavailable for context", "person", person, "error", err)
	} else {
		out.PersonFacts = personFacts
	}

	if results, err := b.memorySrc.Search(ctx, text, "", MaxMemories); err != nil {
		b.logger.Warn("episodic recall unavailable", "error", err)
	} else {
		for _, r := range results {
			if r.Similarity >= MinMemoryRelevance {
				out.Memories = append(out.Memories, r)
			}
		}
	}

	if turns, err := b.turnSrc.RecentTurns(ctx, MaxRecentTurns); err != nil {
		b.logger.Warn("recent turns unavailable", "error", err)
	} else {
		out.RecentTurns = turns
	}

	if states, err := b.stateSrc.GetStates(ctx); err != nil {
		b.logger.Warn("device snapshot unavailable", "error", err)
	} else {
		out.DeviceStates = deviceLines(states)
	}

	return out
}

// deviceLines condenses the entity snapshot into prompt lines: lights
// that are on, climate targets, playing media, alarm and lock states.
func deviceLines(states []homeassistant.State) []string {
	var lines []string
	add := func(line string) {
		if len(lines) < MaxDeviceStates {
			lines = append(lines, line)
		}
	}

	for _, s := range states {
		switch s.Domain() {
		case "light":
			if s.State != "on" {
				continue
			}
			// Gateway brightness is 0-255.
			if br, ok := s.Attributes["brightness"].(float64); ok && br > 0 {
				add(fmt.Sprintf("%s: %d%%", s.FriendlyName(), int(br/255*100+0.5)))
			} else {
				add(s.FriendlyName() + ": an")
			}
		case "climate":
			cur, _ := s.Attributes["current_temperature"].(float64)
			target, _ := s.Attributes["temperature"].(float64)
			add(fmt.Sprintf("%s: %.1f°C (Ziel %.1f°C, %s)", s.FriendlyName(), cur, target, s.State))
		case "media_player":
			if s.State != "playing" {
				continue
			}
			if title, ok := s.Attributes["media_title"].(string); ok && title != "" {
				add(s.FriendlyName() + " spielt: " + title)
			} else {
				add(s.FriendlyName() + " spielt")
			}
		case "alarm_control_panel", "lock":
			add(s.FriendlyName() + ": " + s.State)
		}
	}
	return lines
}

// FormatPrompt renders the context as the German block the system
// prompt embeds. Empty fields are omitted.
func (c Context) FormatPrompt() string {
	var b strings.Builder

	fmt.Fprintf(&b, "Uhrzeit: %s (%s)\n", c.AssembledAt.Format("15:04"), c.TimeBucket)
	if c.Room != "" {
		fmt.Fprintf(&b, "Raum: %s\n", c.Room)
	}
	fmt.Fprintf(&b, "Hausaktivität: %s\n", c.Activity.Activity)

	if len(c.PersonFacts) > 0 {
		b.WriteString("Bekannt über die Person:\n")
		for _, f := range c.PersonFacts {
			fmt.Fprintf(&b, "- %s\n", f.Text)
		}
	}

	if len(c.Memories) > 0 {
		b.WriteString("Relevante Erinnerungen:\n")
		for _, m := range c.Memories {
			fmt.Fprintf(&b, "- %s\n", m.Episode.Text)
		}
	}

	if len(c.DeviceStates) > 0 {
		b.WriteString("Gerätezustände:\n")
		for _, d := range c.DeviceStates {
			fmt.Fprintf(&b, "- %s\n", d)
		}
	}

	return strings.TrimRight(b.String(), "\n")
}
