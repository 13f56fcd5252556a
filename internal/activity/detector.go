// Package activity classifies what the household is doing right now by
// polling entity states, and decides how (or whether) a notification of
// a given urgency may be delivered while that activity is ongoing.
package activity

import (
	"context"
	"log/slog"
	"strconv"
	"sync"
	"time"

	"github.com/Goifal/mindhome-assistant/internal/homeassistant"
)

// Activity is a classified household state.
type Activity string

const (
	Idle          Activity = "idle"
	ViewingMedia  Activity = "viewing_media"
	OnCall        Activity = "on_call"
	Sleeping      Activity = "sleeping"
	Focused       Activity = "focused"
	GuestsPresent Activity = "guests_present"
	Away          Activity = "away"
)

// Urgency ranks how important a notification is.
type Urgency string

const (
	UrgencyLow      Urgency = "low"
	UrgencyMedium   Urgency = "medium"
	UrgencyHigh     Urgency = "high"
	UrgencyCritical Urgency = "critical"
)

// Method is how a notification is delivered.
type Method string

const (
	MethodLoud     Method = "tts_loud"
	MethodQuiet    Method = "tts_quiet"
	MethodSignal   Method = "led_blink"
	MethodSuppress Method = "suppress"
)

// silenceMatrix maps activity and urgency to a delivery method.
// Critical entries are the bypass: they stay audible in every state.
var silenceMatrix = map[Activity]map[Urgency]Method{
	Idle: {
		UrgencyLow: MethodQuiet, UrgencyMedium: MethodLoud,
		UrgencyHigh: MethodLoud, UrgencyCritical: MethodLoud,
	},
	ViewingMedia: {
		UrgencyLow: MethodSuppress, UrgencyMedium: MethodSignal,
		UrgencyHigh: MethodQuiet, UrgencyCritical: MethodLoud,
	},
	OnCall: {
		UrgencyLow: MethodSuppress, UrgencyMedium: MethodSuppress,
		UrgencyHigh: MethodSignal, UrgencyCritical: MethodLoud,
	},
	Sleeping: {
		UrgencyLow: MethodSuppress, UrgencyMedium: MethodSuppress,
		UrgencyHigh: MethodSignal, UrgencyCritical: MethodLoud,
	},
	Focused: {
		UrgencyLow: MethodSuppress, UrgencyMedium: MethodSignal,
		UrgencyHigh: MethodQuiet, UrgencyCritical: MethodLoud,
	},
	GuestsPresent: {
		UrgencyLow: MethodSuppress, UrgencyMedium: MethodQuiet,
		UrgencyHigh: MethodQuiet, UrgencyCritical: MethodLoud,
	},
	Away: {
		UrgencyLow: MethodSuppress, UrgencyMedium: MethodSuppress,
		UrgencyHigh: MethodSuppress, UrgencyCritical: MethodLoud,
	},
}

// DeliveryFor returns the delivery method for an urgency during an
// activity. Unknown combinations suppress.
func DeliveryFor(a Activity, u Urgency) Method {
	if row, ok := silenceMatrix[a]; ok {
		if m, ok := row[u]; ok {
			return m
		}
	}
	return MethodSuppress
}

// State is one classification snapshot.
type State struct {
	Activity    Activity  `json:"activity"`
	PersonsHome int       `json:"persons_home"`
	DetectedAt  time.Time `json:"detected_at"`
}

// StateSource provides entity states. Satisfied by homeassistant.Client.
type StateSource interface {
	GetState(ctx context.Context, entityID string) (*homeassistant.State, error)
}

// Config lists the entity groups to poll.
type Config struct {
	MediaPlayers []string
	MicSensors   []string // "on" while a call is active
	BedSensors   []string // occupancy
	PCSensors    []string // workstation in use
	Persons      []string // person.* trackers
	NightLights  []string // lights checked for the sleeping heuristic
	GuestCount   int      // persons home from which guests_present holds, default 2
}

// Detector polls entities and classifies household activity.
type Detector struct {
	cfg    Config
	source StateSource
	logger *slog.Logger
	now    func() time.Time

	mu   sync.Mutex
	last State
}

// New creates an activity detector.
func New(cfg Config, source StateSource, logger *slog.Logger) *Detector {
	if cfg.GuestCount <= 0 {
		cfg.GuestCount = 2
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Detector{cfg: cfg, source: source, logger: logger, now: time.Now}
}

// Detect polls the configured entities and classifies the current
// activity. Unreachable entities are treated as inactive; a fully
// unreachable gateway classifies as idle rather than failing.
func (d *Detector) Detect(ctx context.Context) State {
	now := d.now()

	personsHome := 0
	for _, e := range d.cfg.Persons {
		if d.stateIs(ctx, e, "home") {
			personsHome++
		}
	}

	state := State{PersonsHome: personsHome, DetectedAt: now}

	switch {
	case len(d.cfg.Persons) > 0 && personsHome == 0:
		state.Activity = Away
	case d.sleeping(ctx, now):
		state.Activity = Sleeping
	case d.anyStateIs(ctx, d.cfg.MicSensors, "on"):
		state.Activity = OnCall
	case d.anyStateIs(ctx, d.cfg.MediaPlayers, "playing"):
		state.Activity = ViewingMedia
	case personsHome >= d.cfg.GuestCount:
		state.Activity = GuestsPresent
	case d.anyStateIs(ctx, d.cfg.PCSensors, "on"):
		state.Activity = Focused
	default:
		state.Activity = Idle
	}

	d.mu.Lock()
	d.last = state
	d.mu.Unlock()

	d.logger.Debug("activity detected", "activity", state.Activity, "persons_home", personsHome)
	return state
}

// Last returns the most recent snapshot without polling. The zero
// snapshot classifies as idle.
func (d *Detector) Last() State {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.last.Activity == "" {
		return State{Activity: Idle}
	}
	return d.last
}

// sleeping holds at night (22:00-07:00) when a bed reports occupancy
// or all monitored lights are off.
func (d *Detector) sleeping(ctx context.Context, now time.Time) bool {
	hour := now.Hour()
	if hour < 22 && hour >= 7 {
		return false
	}

	if d.anyStateIs(ctx, d.cfg.BedSensors, "on") {
		return true
	}

	if len(d.cfg.NightLights) == 0 {
		return false
	}
	for _, e := range d.cfg.NightLights {
		if d.stateIs(ctx, e, "on") {
			return false
		}
	}
	return true
}

func (d *Detector) anyStateIs(ctx context.Context, entities []string, want string) bool {
	for _, e := range entities {
		if d.stateIs(ctx, e, want) {
			return true
		}
	}
	return false
}

func (d *Detector) stateIs(ctx context.Context, entityID, want string) bool {
	s, err := d.source.GetState(ctx, entityID)
	if err != nil {
		d.logger.Debug("entity unreachable", "entity", entityID, "error", err)
		return false
	}
	return s.State == want
}

// ParseUrgency normalizes an urgency string, defaulting to low.
func ParseUrgency(s string) Urgency {
	switch Urgency(s) {
	case UrgencyLow, UrgencyMedium, UrgencyHigh, UrgencyCritical:
		return Urgency(s)
	}
	if n, err := strconv.Atoi(s); err == nil {
		switch {
		case n >= 3:
			return UrgencyCritical
		case n == 2:
			return UrgencyHigh
		case n == 1:
			return UrgencyMedium
		}
	}
	return UrgencyLow
}
