// Package feedback learns which proactive notifications the household
// actually wants. Every event type carries a score in [0,1]; reactions
// move it, and the score gates future notifications and stretches their
// cooldowns. A notification nobody reacts to counts as ignored after a
// timeout.
package feedback

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/Goifal/mindhome-assistant/internal/activity"
)

// Reaction is how a person responded to a notification.
type Reaction string

const (
	ReactionIgnored      Reaction = "ignored"
	ReactionDismissed    Reaction = "dismissed"
	ReactionAcknowledged Reaction = "acknowledged"
	ReactionEngaged      Reaction = "engaged"
	ReactionThanked      Reaction = "thanked"
)

// deltas move the event-type score per reaction, clamped to [0,1].
var deltas = map[Reaction]float64{
	ReactionIgnored:      -0.05,
	ReactionDismissed:    -0.10,
	ReactionAcknowledged: +0.05,
	ReactionEngaged:      +0.10,
	ReactionThanked:      +0.20,
}

// Score bands. The suppression floor sits three ignores below the
// default score, so an event type nobody reacts to three times in a row
// goes quiet on its own.
const (
	DefaultScore      = 0.5
	SuppressThreshold = 0.40
	ReduceThreshold   = 0.45
	NormalThreshold   = 0.50
	BoostThreshold    = 0.70
)

// PendingTimeout is how long a notification waits for a reaction
// before counting as ignored.
const PendingTimeout = 2 * time.Minute

const (
	scorePrefix   = "mindhome:feedback:score:"
	countPrefix   = "mindhome:feedback:count:"
	pendingPrefix = "mindhome:feedback:pending:"
)

// Tracker stores and applies feedback.
type Tracker struct {
	rdb     *redis.Client
	logger  *slog.Logger
	timeout time.Duration

	mu      sync.Mutex
	pending map[string]pendingEntry // notification ID -> event type
}

type pendingEntry struct {
	EventType string    `json:"event_type"`
	SentAt    time.Time `json:"sent_at"`
}

// New creates a tracker.
func New(rdb *redis.Client, timeout time.Duration, logger *slog.Logger) *Tracker {
	if timeout <= 0 {
		timeout = PendingTimeout
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Tracker{
		rdb:     rdb,
		logger:  logger,
		timeout: timeout,
		pending: make(map[string]pendingEntry),
	}
}

// Score returns the current score for an event type, DefaultScore when
// unseen or the store is unreachable.
func (t *Tracker) Score(ctx context.Context, eventType string) float64 {
	val, err := t.rdb.Get(ctx, scorePrefix+eventType).Result()
	if errors.Is(err, redis.Nil) {
		return DefaultScore
	}
	if err != nil {
		t.logger.Warn("feedback score read failed", "event_type", eventType, "error", err)
		return DefaultScore
	}
	score, err := strconv.ParseFloat(val, 64)
	if err != nil {
		return DefaultScore
	}
	return score
}

// Record applies a reaction to an event type and returns the new score.
func (t *Tracker) Record(ctx context.Context, eventType string, reaction Reaction) (float64, error) {
	delta, ok := deltas[reaction]
	if !ok {
		return 0, fmt.Errorf("unknown reaction: %s", reaction)
	}

	score := t.Score(ctx, eventType) + delta
	if score < 0 {
		score = 0
	}
	if score > 1 {
		score = 1
	}

	pipe := t.rdb.TxPipeline()
	pipe.Set(ctx, scorePrefix+eventType, strconv.FormatFloat(score, 'f', 4, 64), 0)
	pipe.HIncrBy(ctx, countPrefix+eventType, string(reaction), 1)
	if _, err := pipe.Exec(ctx); err != nil {
		return score, fmt.Errorf("store feedback: %w", err)
	}

	t.logger.Info("feedback recorded",
		"event_type", eventType,
		"reaction", reaction,
		"score", score,
	)
	return score, nil
}

// RecordByNotification resolves a pending notification ID to its event
// type and applies the reaction.
func (t *Tracker) RecordByNotification(ctx context.Context, notificationID string, reaction Reaction) (float64, error) {
	t.mu.Lock()
	entry, ok := t.pending[notificationID]
	if ok {
		delete(t.pending, notificationID)
	}
	t.mu.Unlock()

	if !ok {
		// Fall back to the persisted pending record in case the process
		// restarted between delivery and reaction.
		data, err := t.rdb.GetDel(ctx, pendingPrefix+notificationID).Bytes()
		if err != nil {
			return 0, fmt.Errorf("unknown notification: %s", notificationID)
		}
		if err := json.Unmarshal(data, &entry); err != nil {
			return 0, fmt.Errorf("decode pending entry: %w", err)
		}
	}

	return t.Record(ctx, entry.EventType, reaction)
}

// Track registers a delivered notification. If no reaction arrives
// within the timeout, it is recorded as ignored.
func (t *Tracker) Track(ctx context.Context, notificationID, eventType string) {
	entry := pendingEntry{EventType: eventType, SentAt: time.Now()}

	t.mu.Lock()
	t.pending[notificationID] = entry
	t.mu.Unlock()

	if data, err := json.Marshal(entry); err == nil {
		if err := t.rdb.Set(ctx, pendingPrefix+notificationID, data, t.timeout).Err(); err != nil {
			t.logger.Warn("persist pending notification failed", "error", err)
		}
	}

	time.AfterFunc(t.timeout, func() {
		t.mu.Lock()
		_, still := t.pending[notificationID]
		if still {
			delete(t.pending, notificationID)
		}
		t.mu.Unlock()

		if still {
			timeoutCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if _, err := t.Record(timeoutCtx, eventType, ReactionIgnored); err != nil {
				t.logger.Warn("auto-ignore failed", "event_type", eventType, "error", err)
			}
		}
	})
}

// Suppressed reports whether the event type has been learned away
// entirely.
func (t *Tracker) Suppressed(ctx context.Context, eventType string) bool {
	return t.Score(ctx, eventType) < SuppressThreshold
}

// AllowsUrgency reports whether the score permits a notification of
// the given urgency. Critical always passes; lower urgencies need
// progressively better scores.
func (t *Tracker) AllowsUrgency(ctx context.Context, eventType string, u activity.Urgency) bool {
	if u == activity.UrgencyCritical {
		return true
	}

	score := t.Score(ctx, eventType)
	switch u {
	case activity.UrgencyHigh:
		return score >= SuppressThreshold
	case activity.UrgencyMedium:
		return score >= ReduceThreshold
	default:
		return score >= NormalThreshold
	}
}

// CooldownMultiplier stretches or shrinks the notification cooldown
// based on how welcome the event type is.
func (t *Tracker) CooldownMultiplier(ctx context.Context, eventType string) float64 {
	score := t.Score(ctx, eventType)
	switch {
	case score >= BoostThreshold:
		return 0.6
	case score >= NormalThreshold:
		return 1.0
	case score >= ReduceThreshold:
		return 2.0
	default:
		return 5.0
	}
}

// Stats returns per-reaction counts and the score for an event type.
func (t *Tracker) Stats(ctx context.Context, eventType string) map[string]any {
	counts, err := t.rdb.HGetAll(ctx, countPrefix+eventType).Result()
	if err != nil {
		counts = map[string]string{}
	}
	return map[string]any{
		"event_type": eventType,
		"score":      t.Score(ctx, eventType),
		"reactions":  counts,
	}
}
