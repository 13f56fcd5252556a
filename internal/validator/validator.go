// Package validator checks tool calls against safety limits before
// they reach the automation gateway. It is pure: no I/O, no state, same
// input always yields the same verdict.
package validator

import (
	"fmt"
	"strings"
)

// Verdict is the outcome of validating one tool call.
type Verdict struct {
	OK                bool   `json:"ok"`
	NeedsConfirmation bool   `json:"needs_confirmation"`
	Reason            string `json:"reason,omitempty"`
}

// Config defines the safety limits.
type Config struct {
	ClimateMin float64
	ClimateMax float64
	// ConfirmActions are "tool:value" pairs requiring explicit user
	// confirmation, e.g. "lock_door:unlock" or "set_alarm:disarm".
	ConfirmActions []string
}

// Validator validates tool calls.
type Validator struct {
	cfg     Config
	confirm map[string]struct{}
}

// New creates a validator.
func New(cfg Config) *Validator {
	if cfg.ClimateMin == 0 && cfg.ClimateMax == 0 {
		cfg.ClimateMin = 15
		cfg.ClimateMax = 28
	}
	confirm := make(map[string]struct{}, len(cfg.ConfirmActions))
	for _, pair := range cfg.ConfirmActions {
		confirm[strings.ToLower(pair)] = struct{}{}
	}
	return &Validator{cfg: cfg, confirm: confirm}
}

// Validate checks one tool call. Rejections carry a human-readable
// reason; confirmation requirements are flagged, not rejected.
func (v *Validator) Validate(tool string, args map[string]any) Verdict {
	switch tool {
	case "set_climate":
		if temp, ok := numArg(args, "temperature"); ok {
			if temp < v.cfg.ClimateMin || temp > v.cfg.ClimateMax {
				return Verdict{
					Reason: fmt.Sprintf("Temperatur %.1f°C liegt außerhalb des erlaubten Bereichs %.0f-%.0f°C",
						temp, v.cfg.ClimateMin, v.cfg.ClimateMax),
				}
			}
		}

	case "set_light":
		if br, ok := numArg(args, "brightness"); ok {
			if br < 0 || br > 100 {
				return Verdict{Reason: fmt.Sprintf("Helligkeit %.0f liegt außerhalb von 0-100", br)}
			}
		}

	case "set_cover":
		if pos, ok := numArg(args, "position"); ok {
			if pos < 0 || pos > 100 {
				return Verdict{Reason: fmt.Sprintf("Position %.0f liegt außerhalb von 0-100", pos)}
			}
		}
	}

	if v.requiresConfirmation(tool, args) {
		return Verdict{OK: true, NeedsConfirmation: true, Reason: "Diese Aktion braucht eine Bestätigung"}
	}

	return Verdict{OK: true}
}

// requiresConfirmation checks the tool and its action-carrying argument
// against the configured confirmation pairs.
func (v *Validator) requiresConfirmation(tool string, args map[string]any) bool {
	for _, key := range []string{"action", "state", "mode"} {
		if val, ok := args[key].(string); ok {
			pair := strings.ToLower(tool + ":" + val)
			if _, need := v.confirm[pair]; need {
				return true
			}
		}
	}
	return false
}

// numArg extracts a numeric argument. JSON decoding yields float64;
// models occasionally send numbers as strings, which is tolerated.
func numArg(args map[string]any, key string) (float64, bool) {
	switch val := args[key].(type) {
	case float64:
		return val, true
	case int:
		return float64(val), true
	case string:
		var f float64
		if _, err := fmt.Sscanf(val, "%g", &f); err == nil {
			return f, true
		}
	}
	return 0, false
}
