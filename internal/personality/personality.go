// Package personality composes the system prompt that shapes how the
// assistant speaks: time of day sets the base tone, the speaker's mood
// and the household activity modify it. Sentence limits are a prompt
// contract, not a hard cap; the model is asked, not policed.
package personality

import (
	"fmt"
	"strings"
	"time"

	"github.com/Goifal/mindhome-assistant/internal/activity"
	"github.com/Goifal/mindhome-assistant/internal/mood"
)

// Bucket is a time-of-day personality layer.
type Bucket string

const (
	EarlyMorning Bucket = "early_morning" // 05:00-08:00
	Morning      Bucket = "morning"       // 08:00-12:00
	Afternoon    Bucket = "afternoon"     // 12:00-18:00
	Evening      Bucket = "evening"       // 18:00-22:00
	Night        Bucket = "night"         // 22:00-05:00
)

// BucketFor returns the bucket containing t.
func BucketFor(t time.Time) Bucket {
	switch h := t.Hour(); {
	case h >= 5 && h < 8:
		return EarlyMorning
	case h >= 8 && h < 12:
		return Morning
	case h >= 12 && h < 18:
		return Afternoon
	case h >= 18 && h < 22:
		return Evening
	default:
		return Night
	}
}

// layer is the base style of one bucket.
type layer struct {
	style        string
	maxSentences int
}

var layers = map[Bucket]layer{
	EarlyMorning: {
		style:        "Sei leise und knapp. Keine Begeisterung, kein Smalltalk.",
		maxSentences: 2,
	},
	Morning: {
		style:        "Sei freundlich und informativ. Ein kurzer Ausblick auf den Tag ist willkommen.",
		maxSentences: 4,
	},
	Afternoon: {
		style:        "Sei sachlich und effizient.",
		maxSentences: 3,
	},
	Evening: {
		style:        "Sei entspannt und warm. Humor ist in Ordnung.",
		maxSentences: 4,
	},
	Night: {
		style:        "Sei sehr leise und minimal. Nur das Nötigste.",
		maxSentences: 1,
	},
}

const basePrompt = `Du bist der Sprachassistent dieses Hauses. Du steuerst Geräte,
beantwortest Fragen und kennst die Bewohner. Du sprichst Deutsch,
natürlich und ohne Floskeln. Du erwähnst nie, dass du ein Sprachmodell
bist, und erfindest keine Gerätezustände.`

// Composer builds system prompts.
type Composer struct {
	now func() time.Time
}

// New creates a composer.
func New() *Composer {
	return &Composer{now: time.Now}
}

// Compose builds the system prompt for one utterance. contextBlock is
// the formatted situational context (room, facts, recent events) and
// may be empty.
func (c *Composer) Compose(person string, m mood.Label, act activity.Activity, contextBlock string) string {
	bucket := BucketFor(c.now())
	l := layers[bucket]
	maxSentences := l.maxSentences

	var b strings.Builder
	b.WriteString(basePrompt)
	b.WriteString("\n\n")
	b.WriteString(l.style)

	switch m {
	case mood.Frustrated:
		b.WriteString("\nDer Nutzer ist gerade frustriert. Antworte extrem knapp, kein Humor, keine Rückfragen außer wenn unvermeidbar.")
		maxSentences = 1
	case mood.Tired:
		b.WriteString("\nDer Nutzer ist müde. Antworte so kurz wie möglich.")
		if maxSentences > 1 {
			maxSentences--
		}
	case mood.Impatient, mood.Rapid:
		b.WriteString("\nDer Nutzer will schnelle Ergebnisse. Bestätige Aktionen in einem Satz.")
	}

	if act == activity.ViewingMedia {
		b.WriteString("\nEs läuft gerade ein Film oder Musik. Antworte kurz und störe nicht weiter.")
	}

	fmt.Fprintf(&b, "\nAntworte in höchstens %d Sätzen.", maxSentences)

	if person != "" {
		fmt.Fprintf(&b, "\nDu sprichst gerade mit %s.", person)
	}

	if contextBlock != "" {
		b.WriteString("\n\nAktueller Kontext:\n")
		b.WriteString(contextBlock)
	}

	return b.String()
}

// MaxSentences returns the sentence budget the prompt will request for
// the given bucket and mood. Exposed for the admin surface.
func MaxSentences(bucket Bucket, m mood.Label) int {
	n := layers[bucket].maxSentences
	switch m {
	case mood.Frustrated:
		return 1
	case mood.Tired:
		if n > 1 {
			n--
		}
	}
	return n
}
