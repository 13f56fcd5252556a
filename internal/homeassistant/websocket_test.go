package homeassistant

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
)

// fakeWSServer speaks the gateway's WebSocket handshake: auth_required,
// auth check, then result replies for subscribe_events. After a
// successful subscription it pushes one state_changed event.
func fakeWSServer(t *testing.T, acceptToken string, subscribeOK bool) *httptest.Server {
	t.Helper()
	upgrader := websocket.Upgrader{}

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/websocket" {
			http.NotFound(w, r)
			return
		}
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()

		conn.WriteJSON(map[string]string{"type": "auth_required"})

		var auth struct {
			Type        string `json:"type"`
			AccessToken string `json:"access_token"`
		}
		if err := conn.ReadJSON(&auth); err != nil {
			return
		}
		if auth.AccessToken != acceptToken {
			conn.WriteJSON(map[string]string{"type": "auth_invalid"})
			return
		}
		conn.WriteJSON(map[string]string{"type": "auth_ok"})

		for {
			var msg map[string]any
			if err := conn.ReadJSON(&msg); err != nil {
				return
			}
			if msg["type"] != "subscribe_events" {
				continue
			}
			id := msg["id"]
			if !subscribeOK {
				conn.WriteJSON(map[string]any{
					"id": id, "type": "result", "success": false,
					"error": map[string]string{"code": "invalid_format", "message": "bad subscription"},
				})
				continue
			}
			conn.WriteJSON(map[string]any{"id": id, "type": "result", "success": true})
			conn.WriteJSON(map[string]any{
				"type": "event",
				"event": map[string]any{
					"event_type": "state_changed",
					"data": map[string]any{
						"entity_id": "light.buero_decke",
						"new_state": map[string]any{"entity_id": "light.buero_decke", "state": "on"},
					},
				},
			})
		}
	}))
	t.Cleanup(srv.Close)
	return srv
}

func newWSClient(url, token string) *WSClient {
	return NewWSClient(url, token, slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func TestWSConnectAndSubscribe(t *testing.T) {
	srv := fakeWSServer(t, "good-token", true)
	c := newWSClient(srv.URL, "good-token")
	ctx := context.Background()

	if err := c.Connect(ctx); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	defer c.Close()

	if err := c.Subscribe(ctx, "state_changed"); err != nil {
		t.Fatalf("Subscribe: %v", err)
	}

	select {
	case ev := <-c.Events():
		if ev.Type != "state_changed" {
			t.Errorf("event type = %q", ev.Type)
		}
		var data StateChangedData
		if err := json.Unmarshal(ev.Data, &data); err != nil {
			t.Fatalf("unmarshal event data: %v", err)
		}
		if data.EntityID != "light.buero_decke" || data.NewState.State != "on" {
			t.Errorf("event data = %+v", data)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("no event delivered")
	}
}

func TestWSAuthInvalid(t *testing.T) {
	srv := fakeWSServer(t, "good-token", true)
	c := newWSClient(srv.URL, "wrong-token")

	err := c.Connect(context.Background())
	if err == nil {
		c.Close()
		t.Fatal("connect succeeded with a bad token")
	}
	if !strings.Contains(err.Error(), "authentication failed") {
		t.Errorf("error = %v", err)
	}
}

func TestWSSubscribeRejected(t *testing.T) {
	srv := fakeWSServer(t, "good-token", false)
	c := newWSClient(srv.URL, "good-token")
	ctx := context.Background()

	if err := c.Connect(ctx); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	defer c.Close()

	err := c.Subscribe(ctx, "state_changed")
	if err == nil || !strings.Contains(err.Error(), "invalid_format") {
		t.Errorf("error = %v", err)
	}
}

func TestWSConnectRefused(t *testing.T) {
	c := newWSClient("http://127.0.0.1:1", "token")

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := c.Connect(ctx); err == nil {
		c.Close()
		t.Fatal("connect succeeded against a closed port")
	}
}
