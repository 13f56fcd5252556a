// Package proactive turns engine events (state changes, timers, device
// alerts) into unprompted notifications, or into silence. Every
// candidate runs a gauntlet of gates: autonomy, learned feedback,
// cooldown, and household activity. Critical events bypass the gates
// with one deliberate exception: active silence scenes mute everything,
// including critical.
package proactive

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/Goifal/mindhome-assistant/internal/activity"
	"github.com/Goifal/mindhome-assistant/internal/autonomy"
	"github.com/Goifal/mindhome-assistant/internal/events"
	"github.com/Goifal/mindhome-assistant/internal/feedback"
	"github.com/Goifal/mindhome-assistant/internal/llm"
)

// EngineEvent is a condition that might warrant a notification.
type EngineEvent struct {
	Type    string            `json:"type"`    // e.g. "appliance.washer_done"
	Urgency activity.Urgency  `json:"urgency"`
	Data    map[string]string `json:"data,omitempty"`
}

// Decision records why a candidate was delivered or dropped.
type Decision struct {
	EventType      string          `json:"event_type"`
	Delivered      bool            `json:"delivered"`
	Method         activity.Method `json:"method,omitempty"`
	NotificationID string          `json:"notification_id,omitempty"`
	Reason         string          `json:"reason"`
}

// Config tunes the manager.
type Config struct {
	BaseCooldown  time.Duration
	SilenceScenes []string
	PhrasingModel string // capable tier, suggestions carry nuance
}

// SceneSource reports the currently active scene, "" when none.
type SceneSource interface {
	ActiveScene(ctx context.Context) string
}

// ActivitySource classifies current household activity.
type ActivitySource interface {
	Detect(ctx context.Context) activity.State
}

const (
	cooldownPrefix  = "mindhome:proactive:cooldown:"
	deliveredPrefix = "mindhome:proactive:delivered:"

	// Delivered archives expire with the turn archives so the nightly
	// summary can replay the day's notifications.
	deliveredTTL = 30 * 24 * time.Hour
)

// Delivered is one archived notification of a given day.
type Delivered struct {
	EventType string    `json:"event_type"`
	Text      string    `json:"text"`
	Method    string    `json:"method"`
	At        time.Time `json:"at"`
}

// DeliveredForDate returns the day's delivered notifications, oldest
// first.
func DeliveredForDate(ctx context.Context, rdb *redis.Client, date time.Time) ([]Delivered, error) {
	key := deliveredPrefix + date.Format("2006-01-02")
	raw, err := rdb.LRange(ctx, key, 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("read delivered archive: %w", err)
	}
	out := make([]Delivered, 0, len(raw))
	for i := len(raw) - 1; i >= 0; i-- {
		var d Delivered
		if err := json.Unmarshal([]byte(raw[i]), &d); err != nil {
			continue
		}
		out = append(out, d)
	}
	return out, nil
}

// Manager gates and delivers proactive notifications.
type Manager struct {
	cfg      Config
	rdb      *redis.Client
	llm      *llm.Client
	bus      *events.Bus
	feedback *feedback.Tracker
	autonomy *autonomy.Manager
	activity ActivitySource
	scenes   SceneSource
	logger   *slog.Logger
}

// New creates a manager.
func New(cfg Config, rdb *redis.Client, client *llm.Client, bus *events.Bus,
	fb *feedback.Tracker, auto *autonomy.Manager, act ActivitySource, scenes SceneSource,
	logger *slog.Logger) *Manager {

	if cfg.BaseCooldown <= 0 {
		cfg.BaseCooldown = 5 * time.Minute
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{
		cfg:      cfg,
		rdb:      rdb,
		llm:      client,
		bus:      bus,
		feedback: fb,
		autonomy: auto,
		activity: act,
		scenes:   scenes,
		logger:   logger,
	}
}

// Handle runs one engine event through the gates and, if it survives,
// phrases and emits a notification.
func (m *Manager) Handle(ctx context.Context, ev EngineEvent) Decision {
	if ev.Urgency == "" {
		ev.Urgency = activity.UrgencyLow
	}

	// Silence scenes mute everything, critical included. A film evening
	// or meditation session is an explicit request for quiet.
	if scene := m.activeSilenceScene(ctx); scene != "" {
		return m.drop(ev, "silence scene active: "+scene)
	}

	if ev.Urgency != activity.UrgencyCritical {
		if !m.autonomy.Allows(autonomy.ActionProactiveInfo) {
			return m.drop(ev, "autonomy level too low")
		}
		if m.feedback.Suppressed(ctx, ev.Type) {
			return m.drop(ev, "learned suppression")
		}
		if !m.feedback.AllowsUrgency(ctx, ev.Type, ev.Urgency) {
			return m.drop(ev, "feedback score below urgency floor")
		}
		if m.onCooldown(ctx, ev.Type) {
			return m.drop(ev, "cooldown")
		}

		state := m.activity.Detect(ctx)
		if activity.DeliveryFor(state.Activity, ev.Urgency) == activity.MethodSuppress {
			return m.drop(ev, fmt.Sprintf("activity %s suppresses %s", state.Activity, ev.Urgency))
		}
	}

	message := m.phrase(ctx, ev)

	// Conditions shift while the model phrases; check the room again
	// right before speaking.
	state := m.activity.Detect(ctx)
	method := activity.DeliveryFor(state.Activity, ev.Urgency)
	if method == activity.MethodSuppress {
		return m.drop(ev, "activity changed during phrasing")
	}

	id, _ := uuid.NewV7()
	notificationID := id.String()

	m.bus.Publish(events.Event{
		Timestamp: time.Now(),
		Source:    events.SourceProactive,
		Kind:      events.KindProactive,
		Data: map[string]any{
			"notification_id": notificationID,
			"event_type":      ev.Type,
			"urgency":         string(ev.Urgency),
			"text":            message,
			"method":          string(method),
		},
	})

	m.feedback.Track(ctx, notificationID, ev.Type)
	m.startCooldown(ctx, ev.Type)
	m.archiveDelivered(ctx, Delivered{
		EventType: ev.Type,
		Text:      message,
		Method:    string(method),
		At:        time.Now(),
	})

	m.logger.Info("proactive notification delivered",
		"event_type", ev.Type,
		"urgency", ev.Urgency,
		"method", method,
		"notification_id", notificationID,
	)

	return Decision{
		EventType:      ev.Type,
		Delivered:      true,
		Method:         method,
		NotificationID: notificationID,
		Reason:         "delivered",
	}
}

// Run consumes engine events from a channel until ctx is done.
func (m *Manager) Run(ctx context.Context, eventCh <-chan EngineEvent) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-eventCh:
			if !ok {
				return
			}
			m.Handle(ctx, ev)
		}
	}
}

func (m *Manager) drop(ev EngineEvent, reason string) Decision {
	m.logger.Debug("proactive candidate dropped", "event_type", ev.Type, "reason", reason)
	return Decision{EventType: ev.Type, Delivered: false, Reason: reason}
}

// activeSilenceScene returns the matching configured scene name, or "".
func (m *Manager) activeSilenceScene(ctx context.Context) string {
	if m.scenes == nil {
		return ""
	}
	active := strings.ToLower(m.scenes.ActiveScene(ctx))
	if active == "" {
		return ""
	}
	for _, s := range m.cfg.SilenceScenes {
		if strings.Contains(active, strings.ToLower(s)) {
			return s
		}
	}
	return ""
}

func (m *Manager) onCooldown(ctx context.Context, eventType string) bool {
	n, err := m.rdb.Exists(ctx, cooldownPrefix+eventType).Result()
	if err != nil {
		m.logger.Warn("cooldown check failed", "error", err)
		return false
	}
	return n > 0
}

// archiveDelivered appends the notification to its day's archive list.
func (m *Manager) archiveDelivered(ctx context.Context, d Delivered) {
	data, err := json.Marshal(d)
	if err != nil {
		return
	}
	key := deliveredPrefix + d.At.Format("2006-01-02")
	pipe := m.rdb.Pipeline()
	pipe.LPush(ctx, key, data)
	pipe.Expire(ctx, key, deliveredTTL)
	if _, err := pipe.Exec(ctx); err != nil {
		m.logger.Warn("delivered archive write failed", "error", err)
	}
}

// startCooldown sets the adaptive per-event-type cooldown: welcome
// events come back sooner, unwelcome ones much later.
func (m *Manager) startCooldown(ctx context.Context, eventType string) {
	ttl := time.Duration(float64(m.cfg.BaseCooldown) * m.feedback.CooldownMultiplier(ctx, eventType))
	if err := m.rdb.Set(ctx, cooldownPrefix+eventType, "1", ttl).Err(); err != nil {
		m.logger.Warn("cooldown set failed", "error", err)
	}
}

// phrase asks the model for a short spoken line; a gateway failure
// falls back to a plain template.
func (m *Manager) phrase(ctx context.Context, ev EngineEvent) string {
	prompt := "Ereignis: " + ev.Type
	for k, v := range ev.Data {
		prompt += fmt.Sprintf("\n%s: %s", k, v)
	}

	text, err := m.llm.Generate(ctx, m.cfg.PhrasingModel,
		"Formuliere eine kurze, natürliche deutsche Sprachbenachrichtigung für das folgende Hausereignis. Maximal ein Satz.",
		prompt, &llm.Options{Temperature: 0.4, NumPredict: 60})
	if err != nil || strings.TrimSpace(text) == "" {
		m.logger.Warn("phrasing failed, using fallback", "event_type", ev.Type, "error", err)
		return "Hinweis: " + ev.Type
	}
	return text
}
