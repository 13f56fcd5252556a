package proactive

import (
	"context"
	"encoding/json"
	"log/slog"
	"strings"

	"github.com/Goifal/mindhome-assistant/internal/activity"
	"github.com/Goifal/mindhome-assistant/internal/homeassistant"
)

// Rule maps a Home Assistant state change to an engine event. Entity
// matches on substring so one rule covers "binary_sensor.rauchmelder_kueche"
// and "binary_sensor.rauchmelder_flur".
type Rule struct {
	EntityContains string           `yaml:"entity_contains"`
	ToState        string           `yaml:"to_state"`
	FromState      string           `yaml:"from_state,omitempty"` // empty matches any
	EventType      string           `yaml:"event_type"`
	Urgency        activity.Urgency `yaml:"urgency"`
}

// DefaultRules covers the conditions the household actually cares
// about. Config can replace the whole set.
func DefaultRules() []Rule {
	return []Rule{
		{EntityContains: "rauchmelder", ToState: "on", EventType: "safety.smoke_detected", Urgency: activity.UrgencyCritical},
		{EntityContains: "smoke", ToState: "on", EventType: "safety.smoke_detected", Urgency: activity.UrgencyCritical},
		{EntityContains: "wasserleck", ToState: "on", EventType: "safety.water_leak", Urgency: activity.UrgencyCritical},
		{EntityContains: "water_leak", ToState: "on", EventType: "safety.water_leak", Urgency: activity.UrgencyCritical},
		{EntityContains: "waschmaschine", ToState: "off", FromState: "on", EventType: "appliance.washer_done", Urgency: activity.UrgencyLow},
		{EntityContains: "trockner", ToState: "off", FromState: "on", EventType: "appliance.dryer_done", Urgency: activity.UrgencyLow},
		{EntityContains: "geschirrspueler", ToState: "off", FromState: "on", EventType: "appliance.dishwasher_done", Urgency: activity.UrgencyLow},
		{EntityContains: "haustuer", ToState: "on", EventType: "security.door_opened", Urgency: activity.UrgencyMedium},
		{EntityContains: "front_door", ToState: "on", EventType: "security.door_opened", Urgency: activity.UrgencyMedium},
		{EntityContains: "klingel", ToState: "on", EventType: "security.doorbell", Urgency: activity.UrgencyHigh},
		{EntityContains: "doorbell", ToState: "on", EventType: "security.doorbell", Urgency: activity.UrgencyHigh},
	}
}

// Bridge converts Home Assistant state changes into engine events for
// the manager. Person arrivals get their own handling since the
// interesting transition is anything-to-home.
type Bridge struct {
	rules  []Rule
	out    chan<- EngineEvent
	logger *slog.Logger
}

// NewBridge creates a bridge feeding out. Nil or empty rules fall back
// to DefaultRules.
func NewBridge(rules []Rule, out chan<- EngineEvent, logger *slog.Logger) *Bridge {
	if len(rules) == 0 {
		rules = DefaultRules()
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Bridge{rules: rules, out: out, logger: logger}
}

// Run consumes Home Assistant events until ctx is done or the channel
// closes.
func (b *Bridge) Run(ctx context.Context, haEvents <-chan homeassistant.Event) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-haEvents:
			if !ok {
				return
			}
			if ev.Type != "state_changed" {
				continue
			}
			b.handleStateChange(ctx, ev)
		}
	}
}

func (b *Bridge) handleStateChange(ctx context.Context, ev homeassistant.Event) {
	var data homeassistant.StateChangedData
	if err := json.Unmarshal(ev.Data, &data); err != nil {
		b.logger.Debug("undecodable state change", "error", err)
		return
	}
	if data.NewState == nil {
		return
	}

	if engineEv, ok := b.match(data); ok {
		select {
		case b.out <- engineEv:
		case <-ctx.Done():
		}
	}
}

func (b *Bridge) match(data homeassistant.StateChangedData) (EngineEvent, bool) {
	entity := strings.ToLower(data.EntityID)
	newState := data.NewState.State
	oldState := ""
	if data.OldState != nil {
		oldState = data.OldState.State
	}

	// Arrivals: person entity flips to home from anywhere else.
	if strings.HasPrefix(entity, "person.") && newState == "home" && oldState != "home" {
		return EngineEvent{
			Type:    "presence.arrival",
			Urgency: activity.UrgencyLow,
			Data:    map[string]string{"entity_id": data.EntityID, "person": data.NewState.FriendlyName()},
		}, true
	}

	for _, r := range b.rules {
		if !strings.Contains(entity, r.EntityContains) {
			continue
		}
		if newState != r.ToState {
			continue
		}
		if r.FromState != "" && oldState != r.FromState {
			continue
		}
		return EngineEvent{
			Type:    r.EventType,
			Urgency: r.Urgency,
			Data: map[string]string{
				"entity_id": data.EntityID,
				"name":      data.NewState.FriendlyName(),
				"from":      oldState,
				"to":        newState,
			},
		}, true
	}
	return EngineEvent{}, false
}
