package router

import (
	"log/slog"
	"testing"
)

func newTestRouter() *Router {
	return New(Config{
		MaxFastWords:    5,
		CommandKeywords: []string{"licht", "lampe", "musik", "aus", "an", "temperatur"},
		FastModel:       "fast-model",
		CapableModel:    "capable-model",
	}, slog.Default())
}

func TestRoute(t *testing.T) {
	r := newTestRouter()

	tests := []struct {
		name string
		text string
		want Tier
	}{
		{name: "short command", text: "Licht aus", want: TierFast},
		{name: "short command with room", text: "Mach die Lampe an", want: TierFast},
		{name: "keyword case insensitive", text: "LICHT AUS", want: TierFast},
		{name: "short but no keyword", text: "Wie geht es dir", want: TierCapable},
		{name: "keyword but too long", text: "Kannst du bitte gleich das Licht im Wohnzimmer ausmachen", want: TierCapable},
		{name: "exactly at word limit", text: "mach bitte das licht aus", want: TierCapable},
		{name: "conversation", text: "Was steht morgen an und mach das Büro fertig für die Nacht", want: TierCapable},
		{name: "empty", text: "", want: TierCapable},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := r.Route(tt.text)
			if got.Tier != tt.want {
				t.Errorf("Route(%q).Tier = %v, want %v (reason: %s)", tt.text, got.Tier, tt.want, got.Reason)
			}
		})
	}
}

func TestRouteModelNames(t *testing.T) {
	r := newTestRouter()

	if d := r.Route("Licht aus"); d.Model != "fast-model" {
		t.Errorf("fast tier model = %q, want fast-model", d.Model)
	}
	if d := r.Route("Erzähl mir etwas über den Tag morgen"); d.Model != "capable-model" {
		t.Errorf("capable tier model = %q, want capable-model", d.Model)
	}
}

func TestRouteMatchedKeyword(t *testing.T) {
	r := newTestRouter()

	d := r.Route("Musik leiser bitte")
	if d.Tier != TierFast {
		t.Fatalf("tier = %v, want fast", d.Tier)
	}
	if d.Matched != "musik" {
		t.Errorf("matched keyword = %q, want musik", d.Matched)
	}
}

func TestStatsAndAuditLog(t *testing.T) {
	r := newTestRouter()

	r.Route("Licht aus")
	r.Route("Licht an")
	r.Route("Erzähl mir bitte eine lange Geschichte über das Haus")

	stats := r.Stats()
	if stats[TierFast] != 2 {
		t.Errorf("fast count = %d, want 2", stats[TierFast])
	}
	if stats[TierCapable] != 1 {
		t.Errorf("capable count = %d, want 1", stats[TierCapable])
	}

	log := r.AuditLog()
	if len(log) != 3 {
		t.Fatalf("audit log length = %d, want 3", len(log))
	}
	if log[0].Text != "Licht aus" {
		t.Errorf("first decision text = %q", log[0].Text)
	}
}

func TestAuditLogBounded(t *testing.T) {
	r := newTestRouter()

	for range maxAuditEntries + 50 {
		r.Route("Licht aus")
	}

	if got := len(r.AuditLog()); got != maxAuditEntries {
		t.Errorf("audit log length = %d, want %d", got, maxAuditEntries)
	}
}
