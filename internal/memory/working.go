// Package memory provides the working memory tier: a Redis-backed ring
// buffer of recent conversation turns plus per-day archives that feed
// the nightly summarizer.
package memory

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

const (
	// BufferSize is the capacity of the recent-turns ring buffer.
	// Older turns fall off the end; the archive keeps the full day.
	BufferSize = 50

	// ArchiveTTL is how long per-day archives are retained.
	ArchiveTTL = 30 * 24 * time.Hour

	turnsKey      = "mindhome:conversations"
	archivePrefix = "mindhome:archive:"
	contextPrefix = "mindhome:context:"
)

// Turn is one conversational exchange: what the user said and what the
// assistant answered, with the resolved speaker and room.
type Turn struct {
	ID         string         `json:"id"`
	Person     string         `json:"person"`
	Room       string         `json:"room,omitempty"`
	UserText   string         `json:"user_text"`
	Response   string         `json:"response"`
	ModelUsed  string         `json:"model_used,omitempty"`
	ActionsRun []string       `json:"actions_run,omitempty"`
	Mood       string         `json:"mood,omitempty"`
	Meta       map[string]any `json:"meta,omitempty"`
	CreatedAt  time.Time      `json:"created_at"`
}

// Working is the Redis-backed working memory store.
type Working struct {
	rdb    *redis.Client
	logger *slog.Logger
}

// NewWorking creates a working memory store on the given Redis client.
func NewWorking(rdb *redis.Client, logger *slog.Logger) *Working {
	if logger == nil {
		logger = slog.Default()
	}
	return &Working{rdb: rdb, logger: logger}
}

// StoreTurn appends a turn to the ring buffer and the day's archive.
// The buffer is trimmed to BufferSize; the archive expires after
// ArchiveTTL.
func (w *Working) StoreTurn(ctx context.Context, turn Turn) error {
	if turn.ID == "" {
		id, err := uuid.NewV7()
		if err != nil {
			return fmt.Errorf("generate turn id: %w", err)
		}
		turn.ID = id.String()
	}
	if turn.CreatedAt.IsZero() {
		turn.CreatedAt = time.Now()
	}

	data, err := json.Marshal(turn)
	if err != nil {
		return fmt.Errorf("marshal turn: %w", err)
	}

	pipe := w.rdb.TxPipeline()
	pipe.LPush(ctx, turnsKey, data)
	pipe.LTrim(ctx, turnsKey, 0, BufferSize-1)

	archiveKey := archivePrefix + turn.CreatedAt.Format("2006-01-02")
	pipe.LPush(ctx, archiveKey, data)
	pipe.Expire(ctx, archiveKey, ArchiveTTL)

	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("store turn: %w", err)
	}
	return nil
}

// RecentTurns returns up to n recent turns, oldest first.
func (w *Working) RecentTurns(ctx context.Context, n int) ([]Turn, error) {
	if n <= 0 || n > BufferSize {
		n = BufferSize
	}

	raw, err := w.rdb.LRange(ctx, turnsKey, 0, int64(n-1)).Result()
	if err != nil {
		return nil, fmt.Errorf("read turns: %w", err)
	}

	// LPUSH stores newest first; reverse to chronological order.
	turns := make([]Turn, 0, len(raw))
	for i := len(raw) - 1; i >= 0; i-- {
		var t Turn
		if err := json.Unmarshal([]byte(raw[i]), &t); err != nil {
			w.logger.Warn("skipping undecodable turn", "error", err)
			continue
		}
		turns = append(turns, t)
	}
	return turns, nil
}

// TurnsForDate returns the archived turns of the given day, oldest
// first. Used by the summarizer.
func (w *Working) TurnsForDate(ctx context.Context, date time.Time) ([]Turn, error) {
	key := archivePrefix + date.Format("2006-01-02")
	raw, err := w.rdb.LRange(ctx, key, 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("read archive: %w", err)
	}

	turns := make([]Turn, 0, len(raw))
	for i := len(raw) - 1; i >= 0; i-- {
		var t Turn
		if err := json.Unmarshal([]byte(raw[i]), &t); err != nil {
			w.logger.Warn("skipping undecodable archived turn", "error", err)
			continue
		}
		turns = append(turns, t)
	}
	return turns, nil
}

// SetContext stores a transient context value (current room, active
// scene) with an optional TTL. A zero TTL means no expiry.
func (w *Working) SetContext(ctx context.Context, key, value string, ttl time.Duration) error {
	if err := w.rdb.Set(ctx, contextPrefix+key, value, ttl).Err(); err != nil {
		return fmt.Errorf("set context %s: %w", key, err)
	}
	return nil
}

// GetContext reads a context value. Returns "" when the key is absent.
func (w *Working) GetContext(ctx context.Context, key string) (string, error) {
	val, err := w.rdb.Get(ctx, contextPrefix+key).Result()
	if errors.Is(err, redis.Nil) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("get context %s: %w", key, err)
	}
	return val, nil
}

// Clear removes the ring buffer. Archives stay until their TTL.
func (w *Working) Clear(ctx context.Context) error {
	if err := w.rdb.Del(ctx, turnsKey).Err(); err != nil {
		return fmt.Errorf("clear turns: %w", err)
	}
	return nil
}

// Ping verifies the Redis connection.
func (w *Working) Ping(ctx context.Context) error {
	return w.rdb.Ping(ctx).Err()
}
