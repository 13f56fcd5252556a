package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/Goifal/mindhome-assistant/internal/events"
)

func dialSatellite(t *testing.T, s *Server) *websocket.Conn {
	t.Helper()

	srv := httptest.NewServer(http.HandlerFunc(s.handleWebSocket))
	t.Cleanup(srv.Close)

	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	conn.SetReadDeadline(time.Now().Add(3 * time.Second))
	return conn
}

func TestWebSocketBridgesBusEvents(t *testing.T) {
	s, _ := newTestServer(t)
	conn := dialSatellite(t, s)

	// Give the handler a moment to subscribe before publishing.
	time.Sleep(50 * time.Millisecond)
	s.bus.Publish(events.Event{
		Timestamp: time.Now(),
		Source:    events.SourceBrain,
		Kind:      events.KindSpeaking,
		Data:      map[string]any{"text": "Erledigt."},
	})

	var env wsEnvelope
	if err := conn.ReadJSON(&env); err != nil {
		t.Fatalf("read envelope: %v", err)
	}
	if env.Event != events.KindSpeaking {
		t.Errorf("event = %q, want speaking", env.Event)
	}
	var data map[string]string
	if err := json.Unmarshal(env.Data, &data); err != nil || data["text"] != "Erledigt." {
		t.Errorf("data = %s", env.Data)
	}
	if env.Timestamp == "" {
		t.Error("no timestamp")
	}
}

func TestWebSocketFeedbackFrame(t *testing.T) {
	s, _ := newTestServer(t)
	ctx := context.Background()

	s.feedback.Track(ctx, "notif-ws", "waschmaschine_fertig")
	conn := dialSatellite(t, s)

	frame := `{"event": "feedback", "data": {"notification_id": "notif-ws", "event_type": "waschmaschine_fertig", "feedback_type": "engaged"}}`
	if err := conn.WriteMessage(websocket.TextMessage, []byte(frame)); err != nil {
		t.Fatalf("write frame: %v", err)
	}

	// The handler records asynchronously; poll for the score change.
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if score := s.feedback.Score(ctx, "waschmaschine_fertig"); score > 0.59 {
			return
		}
		time.Sleep(20 * time.Millisecond)
	}
	t.Errorf("score = %v, want 0.60", s.feedback.Score(ctx, "waschmaschine_fertig"))
}

func TestWebSocketUnknownEvent(t *testing.T) {
	s, _ := newTestServer(t)
	conn := dialSatellite(t, s)

	if err := conn.WriteMessage(websocket.TextMessage, []byte(`{"event": "dance"}`)); err != nil {
		t.Fatalf("write frame: %v", err)
	}

	var env wsEnvelope
	if err := conn.ReadJSON(&env); err != nil {
		t.Fatalf("read envelope: %v", err)
	}
	if env.Event != "error" {
		t.Errorf("event = %q, want error", env.Event)
	}
}

func TestWebSocketBadFeedbackFrame(t *testing.T) {
	s, _ := newTestServer(t)
	conn := dialSatellite(t, s)

	frame := `{"event": "feedback", "data": {"feedback_type": "engaged"}}`
	if err := conn.WriteMessage(websocket.TextMessage, []byte(frame)); err != nil {
		t.Fatalf("write frame: %v", err)
	}

	var env wsEnvelope
	if err := conn.ReadJSON(&env); err != nil {
		t.Fatalf("read envelope: %v", err)
	}
	if env.Event != "error" {
		t.Errorf("event = %q, want error", env.Event)
	}
}
