package proactive

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"github.com/Goifal/mindhome-assistant/internal/activity"
	"github.com/Goifal/mindhome-assistant/internal/autonomy"
	"github.com/Goifal/mindhome-assistant/internal/events"
	"github.com/Goifal/mindhome-assistant/internal/feedback"
	"github.com/Goifal/mindhome-assistant/internal/llm"
)

type stubScenes struct {
	active string
}

func (s *stubScenes) ActiveScene(context.Context) string { return s.active }

type stubActivity struct {
	state activity.Activity
}

func (s *stubActivity) Detect(context.Context) activity.State {
	return activity.State{Activity: s.state, DetectedAt: time.Now()}
}

type fixture struct {
	manager  *Manager
	bus      *events.Bus
	feedback *feedback.Tracker
	autonomy *autonomy.Manager
	scenes   *stubScenes
	activity *stubActivity
	redis    *miniredis.Miniredis
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { rdb.Close() })

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(llm.ChatResponse{
			Message: llm.Message{Role: "assistant", Content: "Die Waschmaschine ist fertig."},
			Done:    true,
		})
	}))
	t.Cleanup(srv.Close)

	bus := events.New()
	fb := feedback.New(rdb, time.Minute, nil)
	auto := autonomy.New(context.Background(), rdb, 2, nil)
	scenes := &stubScenes{}
	act := &stubActivity{state: activity.Idle}

	m := New(Config{
		BaseCooldown:  time.Minute,
		SilenceScenes: []string{"filmabend", "meditation"},
		PhrasingModel: "qwen2.5:14b",
	}, rdb, llm.NewClient(srv.URL, nil), bus, fb, auto, act, scenes, nil)

	return &fixture{manager: m, bus: bus, feedback: fb, autonomy: auto, scenes: scenes, activity: act, redis: mr}
}

func TestHandleDelivers(t *testing.T) {
	f := newFixture(t)
	sub := f.bus.Subscribe(4)
	defer f.bus.Unsubscribe(sub)

	d := f.manager.Handle(context.Background(), EngineEvent{
		Type:    "appliance.washer_done",
		Urgency: activity.UrgencyLow,
	})
	if !d.Delivered {
		t.Fatalf("not delivered: %s", d.Reason)
	}
	if d.NotificationID == "" {
		t.Error("no notification ID")
	}
	if d.Method != activity.MethodQuiet {
		t.Errorf("method = %q, want tts_quiet for low urgency while idle", d.Method)
	}

	select {
	case ev := <-sub:
		if ev.Kind != events.KindProactive {
			t.Errorf("kind = %q", ev.Kind)
		}
		if ev.Data["text"] != "Die Waschmaschine ist fertig." {
			t.Errorf("text = %v", ev.Data["text"])
		}
	case <-time.After(time.Second):
		t.Fatal("no event on the bus")
	}
}

func TestDeliveredArchivedPerDay(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	d := f.manager.Handle(ctx, EngineEvent{Type: "appliance.washer_done", Urgency: activity.UrgencyLow})
	if !d.Delivered {
		t.Fatalf("not delivered: %s", d.Reason)
	}

	rdb := redis.NewClient(&redis.Options{Addr: f.redis.Addr()})
	defer rdb.Close()

	got, err := DeliveredForDate(ctx, rdb, time.Now())
	if err != nil {
		t.Fatalf("DeliveredForDate: %v", err)
	}
	if len(got) != 1 {
		t.Fatalf("archived = %d entries, want 1", len(got))
	}
	if got[0].EventType != "appliance.washer_done" || got[0].Text != "Die Waschmaschine ist fertig." {
		t.Errorf("archived = %+v", got[0])
	}

	// Yesterday stays empty.
	prev, err := DeliveredForDate(ctx, rdb, time.Now().AddDate(0, 0, -1))
	if err != nil || len(prev) != 0 {
		t.Errorf("yesterday = %v, %v", prev, err)
	}
}

func TestSilenceSceneMutesEverything(t *testing.T) {
	f := newFixture(t)
	f.scenes.active = "scene.filmabend_wohnzimmer"

	// Even a critical event stays silent during an active silence scene.
	d := f.manager.Handle(context.Background(), EngineEvent{
		Type:    "safety.smoke_detected",
		Urgency: activity.UrgencyCritical,
	})
	if d.Delivered {
		t.Fatal("critical event delivered during a silence scene")
	}

	f.scenes.active = ""
	d = f.manager.Handle(context.Background(), EngineEvent{
		Type:    "safety.smoke_detected",
		Urgency: activity.UrgencyCritical,
	})
	if !d.Delivered {
		t.Fatalf("critical event dropped without a silence scene: %s", d.Reason)
	}
}

func TestCriticalBypassesOtherGates(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	// Lowest autonomy, the event type fully learned away, the household
	// asleep: critical still gets through, loud.
	f.autonomy.SetLevel(ctx, 1)
	for range 10 {
		f.feedback.Record(ctx, "safety.water_leak", feedback.ReactionDismissed)
	}
	f.activity.state = activity.Sleeping

	d := f.manager.Handle(ctx, EngineEvent{
		Type:    "safety.water_leak",
		Urgency: activity.UrgencyCritical,
	})
	if !d.Delivered {
		t.Fatalf("critical dropped: %s", d.Reason)
	}
	if d.Method != activity.MethodLoud {
		t.Errorf("method = %q, want tts_loud", d.Method)
	}
}

func TestAutonomyGate(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.autonomy.SetLevel(ctx, 1)

	d := f.manager.Handle(ctx, EngineEvent{Type: "appliance.washer_done", Urgency: activity.UrgencyLow})
	if d.Delivered {
		t.Fatal("delivered at autonomy level 1")
	}
	if d.Reason != "autonomy level too low" {
		t.Errorf("reason = %q", d.Reason)
	}
}

func TestLearnedSuppressionGate(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	for range 3 {
		f.feedback.Record(ctx, "appliance.washer_done", feedback.ReactionIgnored)
	}

	d := f.manager.Handle(ctx, EngineEvent{Type: "appliance.washer_done", Urgency: activity.UrgencyLow})
	if d.Delivered {
		t.Fatal("suppressed event type delivered")
	}
	if d.Reason != "learned suppression" {
		t.Errorf("reason = %q", d.Reason)
	}
}

func TestCooldownGate(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	first := f.manager.Handle(ctx, EngineEvent{Type: "security.door_opened", Urgency: activity.UrgencyMedium})
	if !first.Delivered {
		t.Fatalf("first event dropped: %s", first.Reason)
	}

	second := f.manager.Handle(ctx, EngineEvent{Type: "security.door_opened", Urgency: activity.UrgencyMedium})
	if second.Delivered {
		t.Fatal("second event delivered within the cooldown")
	}
	if second.Reason != "cooldown" {
		t.Errorf("reason = %q", second.Reason)
	}

	// The cooldown expires and the event type speaks again.
	f.redis.FastForward(2 * time.Minute)
	third := f.manager.Handle(ctx, EngineEvent{Type: "security.door_opened", Urgency: activity.UrgencyMedium})
	if !third.Delivered {
		t.Errorf("event dropped after cooldown expiry: %s", third.Reason)
	}
}

func TestActivityGate(t *testing.T) {
	f := newFixture(t)
	f.activity.state = activity.Sleeping

	d := f.manager.Handle(context.Background(), EngineEvent{
		Type:    "appliance.dryer_done",
		Urgency: activity.UrgencyLow,
	})
	if d.Delivered {
		t.Fatal("low urgency delivered while sleeping")
	}

	// High urgency while sleeping degrades to the LED, not speech.
	d = f.manager.Handle(context.Background(), EngineEvent{
		Type:    "security.doorbell",
		Urgency: activity.UrgencyHigh,
	})
	if !d.Delivered {
		t.Fatalf("high urgency dropped while sleeping: %s", d.Reason)
	}
	if d.Method != activity.MethodSignal {
		t.Errorf("method = %q, want led_blink", d.Method)
	}
}

func TestDefaultUrgencyIsLow(t *testing.T) {
	f := newFixture(t)
	f.activity.state = activity.ViewingMedia

	// Viewing media suppresses low urgency, which is the default.
	d := f.manager.Handle(context.Background(), EngineEvent{Type: "appliance.washer_done"})
	if d.Delivered {
		t.Errorf("delivered: %+v", d)
	}
}
