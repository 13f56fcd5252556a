package validator

import "testing"

func newTestValidator() *Validator {
	return New(Config{
		ClimateMin: 15,
		ClimateMax: 28,
		ConfirmActions: []string{
			"lock_door:unlock",
			"set_alarm:disarm",
			"set_climate:off",
		},
	})
}

func TestValidateClimate(t *testing.T) {
	v := newTestValidator()

	tests := []struct {
		name string
		temp any
		ok   bool
	}{
		{name: "in range", temp: 21.5, ok: true},
		{name: "at min", temp: 15.0, ok: true},
		{name: "at max", temp: 28.0, ok: true},
		{name: "too hot", temp: 35.0, ok: false},
		{name: "too cold", temp: 10.0, ok: false},
		{name: "int argument", temp: 22, ok: true},
		{name: "string argument", temp: "35", ok: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := v.Validate("set_climate", map[string]any{"room": "büro", "temperature": tt.temp})
			if got.OK != tt.ok {
				t.Errorf("Validate(temperature=%v).OK = %v, want %v (reason: %s)", tt.temp, got.OK, tt.ok, got.Reason)
			}
			if !tt.ok && got.Reason == "" {
				t.Error("rejection carries no reason")
			}
		})
	}
}

func TestValidateBrightnessAndPosition(t *testing.T) {
	v := newTestValidator()

	if got := v.Validate("set_light", map[string]any{"brightness": 150.0}); got.OK {
		t.Error("brightness 150 accepted")
	}
	if got := v.Validate("set_light", map[string]any{"brightness": 80.0}); !got.OK {
		t.Errorf("brightness 80 rejected: %s", got.Reason)
	}
	if got := v.Validate("set_cover", map[string]any{"position": -10.0}); got.OK {
		t.Error("position -10 accepted")
	}
	if got := v.Validate("set_cover", map[string]any{"position": 100.0}); !got.OK {
		t.Errorf("position 100 rejected: %s", got.Reason)
	}
}

func TestValidateConfirmation(t *testing.T) {
	v := newTestValidator()

	tests := []struct {
		name    string
		tool    string
		args    map[string]any
		confirm bool
	}{
		{name: "unlock needs confirmation", tool: "lock_door", args: map[string]any{"action": "unlock"}, confirm: true},
		{name: "lock is fine", tool: "lock_door", args: map[string]any{"action": "lock"}, confirm: false},
		{name: "disarm via state key", tool: "set_alarm", args: map[string]any{"state": "disarm"}, confirm: true},
		{name: "climate off via mode key", tool: "set_climate", args: map[string]any{"mode": "off"}, confirm: true},
		{name: "case insensitive", tool: "lock_door", args: map[string]any{"action": "UNLOCK"}, confirm: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := v.Validate(tt.tool, tt.args)
			if !got.OK {
				t.Fatalf("Validate rejected outright: %s", got.Reason)
			}
			if got.NeedsConfirmation != tt.confirm {
				t.Errorf("NeedsConfirmation = %v, want %v", got.NeedsConfirmation, tt.confirm)
			}
		})
	}
}

func TestValidateUnknownToolPasses(t *testing.T) {
	v := newTestValidator()

	got := v.Validate("play_media", map[string]any{"action": "play"})
	if !got.OK || got.NeedsConfirmation {
		t.Errorf("unconstrained tool blocked: %+v", got)
	}
}

func TestValidateMissingArgument(t *testing.T) {
	v := newTestValidator()

	// No temperature argument means no range to enforce.
	if got := v.Validate("set_climate", map[string]any{"room": "bad"}); !got.OK {
		t.Errorf("missing temperature rejected: %s", got.Reason)
	}
}
