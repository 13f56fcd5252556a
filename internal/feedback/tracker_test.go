package feedback

import (
	"context"
	"math"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"github.com/Goifal/mindhome-assistant/internal/activity"
)

func newTestTracker(t *testing.T) *Tracker {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { rdb.Close() })
	return New(rdb, time.Minute, nil)
}

func TestScoreDefault(t *testing.T) {
	tr := newTestTracker(t)

	if got := tr.Score(context.Background(), "appliance.washer_done"); got != DefaultScore {
		t.Errorf("Score for unseen event type = %v, want %v", got, DefaultScore)
	}
}

func TestRecordDeltas(t *testing.T) {
	tests := []struct {
		reaction Reaction
		want     float64
	}{
		{ReactionIgnored, 0.45},
		{ReactionDismissed, 0.40},
		{ReactionAcknowledged, 0.55},
		{ReactionEngaged, 0.60},
		{ReactionThanked, 0.70},
	}

	for _, tt := range tests {
		t.Run(string(tt.reaction), func(t *testing.T) {
			tr := newTestTracker(t)
			got, err := tr.Record(context.Background(), "security.door_opened", tt.reaction)
			if err != nil {
				t.Fatalf("Record: %v", err)
			}
			if math.Abs(got-tt.want) > 1e-9 {
				t.Errorf("score after %s = %v, want %v", tt.reaction, got, tt.want)
			}
		})
	}
}

func TestRecordUnknownReaction(t *testing.T) {
	tr := newTestTracker(t)

	if _, err := tr.Record(context.Background(), "x", Reaction("shrugged")); err == nil {
		t.Error("unknown reaction accepted")
	}
}

func TestThreeIgnoresSuppress(t *testing.T) {
	tr := newTestTracker(t)
	ctx := context.Background()

	// 0.50 -> 0.45 -> 0.40: still audible after two ignores.
	tr.Record(ctx, "appliance.washer_done", ReactionIgnored)
	tr.Record(ctx, "appliance.washer_done", ReactionIgnored)
	if tr.Suppressed(ctx, "appliance.washer_done") {
		t.Fatal("suppressed after only two ignores")
	}

	// The third ignore drops below the floor.
	tr.Record(ctx, "appliance.washer_done", ReactionIgnored)
	if !tr.Suppressed(ctx, "appliance.washer_done") {
		t.Fatal("not suppressed after three consecutive ignores")
	}

	// One engaged reaction brings it back.
	tr.Record(ctx, "appliance.washer_done", ReactionEngaged)
	if tr.Suppressed(ctx, "appliance.washer_done") {
		t.Error("still suppressed after an engaged reaction")
	}
}

func TestScoreClamped(t *testing.T) {
	tr := newTestTracker(t)
	ctx := context.Background()

	var score float64
	for range 5 {
		score, _ = tr.Record(ctx, "presence.arrival", ReactionThanked)
	}
	if score != 1.0 {
		t.Errorf("score after repeated thanks = %v, want 1.0", score)
	}

	for range 15 {
		score, _ = tr.Record(ctx, "presence.arrival", ReactionDismissed)
	}
	if score != 0.0 {
		t.Errorf("score after repeated dismissals = %v, want 0.0", score)
	}
}

func TestAllowsUrgency(t *testing.T) {
	tr := newTestTracker(t)
	ctx := context.Background()

	// Push the score to 0.40: below normal, at the suppression floor.
	tr.Record(ctx, "appliance.dryer_done", ReactionDismissed)

	tests := []struct {
		urgency activity.Urgency
		want    bool
	}{
		{activity.UrgencyCritical, true},
		{activity.UrgencyHigh, true},
		{activity.UrgencyMedium, false},
		{activity.UrgencyLow, false},
	}
	for _, tt := range tests {
		if got := tr.AllowsUrgency(ctx, "appliance.dryer_done", tt.urgency); got != tt.want {
			t.Errorf("AllowsUrgency(%s) at score 0.40 = %v, want %v", tt.urgency, got, tt.want)
		}
	}

	// Critical passes even when fully learned away.
	for range 10 {
		tr.Record(ctx, "appliance.dryer_done", ReactionDismissed)
	}
	if !tr.AllowsUrgency(ctx, "appliance.dryer_done", activity.UrgencyCritical) {
		t.Error("critical blocked by a zero score")
	}
}

func TestCooldownMultiplier(t *testing.T) {
	tr := newTestTracker(t)
	ctx := context.Background()

	if got := tr.CooldownMultiplier(ctx, "fresh.event"); got != 1.0 {
		t.Errorf("multiplier at default score = %v, want 1.0", got)
	}

	tr.Record(ctx, "welcome.event", ReactionThanked) // 0.70
	if got := tr.CooldownMultiplier(ctx, "welcome.event"); got != 0.6 {
		t.Errorf("multiplier at boosted score = %v, want 0.6", got)
	}

	tr.Record(ctx, "meh.event", ReactionIgnored) // 0.45
	if got := tr.CooldownMultiplier(ctx, "meh.event"); got != 2.0 {
		t.Errorf("multiplier at reduced score = %v, want 2.0", got)
	}

	tr.Record(ctx, "bad.event", ReactionDismissed)
	tr.Record(ctx, "bad.event", ReactionDismissed) // 0.30
	if got := tr.CooldownMultiplier(ctx, "bad.event"); got != 5.0 {
		t.Errorf("multiplier at suppressed score = %v, want 5.0", got)
	}
}

func TestRecordByNotification(t *testing.T) {
	tr := newTestTracker(t)
	ctx := context.Background()

	tr.Track(ctx, "notif-1", "security.doorbell")
	score, err := tr.RecordByNotification(ctx, "notif-1", ReactionEngaged)
	if err != nil {
		t.Fatalf("RecordByNotification: %v", err)
	}
	if math.Abs(score-0.60) > 1e-9 {
		t.Errorf("score = %v, want 0.60", score)
	}

	// A second reaction to the same ID no longer resolves.
	if _, err := tr.RecordByNotification(ctx, "notif-1", ReactionEngaged); err == nil {
		t.Error("consumed notification resolved twice")
	}

	if _, err := tr.RecordByNotification(ctx, "no-such-id", ReactionThanked); err == nil {
		t.Error("unknown notification resolved")
	}
}

func TestRecordByNotificationAfterRestart(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer rdb.Close()
	ctx := context.Background()

	tr1 := New(rdb, time.Minute, nil)
	tr1.Track(ctx, "notif-2", "safety.smoke_detected")

	// A fresh tracker has no in-memory pending map but shares the store.
	tr2 := New(rdb, time.Minute, nil)
	score, err := tr2.RecordByNotification(ctx, "notif-2", ReactionAcknowledged)
	if err != nil {
		t.Fatalf("RecordByNotification after restart: %v", err)
	}
	if math.Abs(score-0.55) > 1e-9 {
		t.Errorf("score = %v, want 0.55", score)
	}
}

func TestStats(t *testing.T) {
	tr := newTestTracker(t)
	ctx := context.Background()

	tr.Record(ctx, "security.door_opened", ReactionEngaged)
	tr.Record(ctx, "security.door_opened", ReactionIgnored)

	stats := tr.Stats(ctx, "security.door_opened")
	counts, ok := stats["reactions"].(map[string]string)
	if !ok {
		t.Fatalf("reactions have type %T", stats["reactions"])
	}
	if counts["engaged"] != "1" || counts["ignored"] != "1" {
		t.Errorf("counts = %v", counts)
	}
}
