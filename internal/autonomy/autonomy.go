// Package autonomy governs how much the assistant may do unprompted.
// The level (1-5) is a single household-wide dial, persisted in Redis
// so it survives restarts, and each unprompted action class declares
// the minimum level it needs.
package autonomy

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"sync"

	"github.com/redis/go-redis/v9"
)

// Action classes the assistant can take on its own.
const (
	ActionRespondToCommand = "respond_to_command"
	ActionSecurityAlert    = "security_alert"
	ActionProactiveInfo    = "proactive_info"
	ActionMorningBriefing  = "morning_briefing"
	ActionArrivalGreeting  = "arrival_greeting"
	ActionAdjustSmall      = "adjust_small"
	ActionModifyRoutine    = "modify_routine"
	ActionCreateAutomation = "create_automation"
)

// permissions maps each action class to the minimum level it needs.
var permissions = map[string]int{
	ActionRespondToCommand: 1,
	ActionSecurityAlert:    1,
	ActionProactiveInfo:    2,
	ActionMorningBriefing:  2,
	ActionArrivalGreeting:  2,
	ActionAdjustSmall:      3,
	ActionModifyRoutine:    4,
	ActionCreateAutomation: 5,
}

// levelNames describe each level for the settings surface.
var levelNames = map[int]string{
	1: "Nur antworten",
	2: "Proaktiv informieren",
	3: "Kleine Anpassungen",
	4: "Routinen ändern",
	5: "Voll autonom",
}

const levelKey = "mindhome:autonomy:level"

// Manager holds the current autonomy level.
type Manager struct {
	rdb    *redis.Client
	logger *slog.Logger

	mu    sync.RWMutex
	level int
}

// New creates a manager, restoring the persisted level or falling back
// to defaultLevel.
func New(ctx context.Context, rdb *redis.Client, defaultLevel int, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	if defaultLevel < 1 || defaultLevel > 5 {
		defaultLevel = 2
	}

	m := &Manager{rdb: rdb, logger: logger, level: defaultLevel}

	val, err := rdb.Get(ctx, levelKey).Result()
	if err == nil {
		if lvl, perr := strconv.Atoi(val); perr == nil && lvl >= 1 && lvl <= 5 {
			m.level = lvl
		}
	} else if !errors.Is(err, redis.Nil) {
		logger.Warn("autonomy level restore failed", "error", err)
	}

	return m
}

// Level returns the current level.
func (m *Manager) Level() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.level
}

// SetLevel updates and persists the level. Levels outside 1-5 are
// rejected.
func (m *Manager) SetLevel(ctx context.Context, level int) error {
	if level < 1 || level > 5 {
		return fmt.Errorf("autonomy level must be 1-5, got %d", level)
	}

	m.mu.Lock()
	m.level = level
	m.mu.Unlock()

	if err := m.rdb.Set(ctx, levelKey, strconv.Itoa(level), 0).Err(); err != nil {
		return fmt.Errorf("persist autonomy level: %w", err)
	}

	m.logger.Info("autonomy level changed", "level", level, "name", levelNames[level])
	return nil
}

// Allows reports whether the current level permits an action class.
// Unknown classes are never allowed.
func (m *Manager) Allows(action string) bool {
	required, ok := permissions[action]
	if !ok {
		return false
	}
	return m.Level() >= required
}

// Info describes the current level for the settings surface.
func (m *Manager) Info() map[string]any {
	level := m.Level()
	allowed := []string{}
	for action, required := range permissions {
		if level >= required {
			allowed = append(allowed, action)
		}
	}
	return map[string]any{
		"level":           level,
		"name":            levelNames[level],
		"allowed_actions": allowed,
	}
}
