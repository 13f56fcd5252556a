package api

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/Goifal/mindhome-assistant/internal/events"
	"github.com/Goifal/mindhome-assistant/internal/feedback"
)

const (
	wsWriteTimeout = 10 * time.Second
	wsPingInterval = 30 * time.Second
	wsReadLimit    = 64 * 1024
)

// Satellites run on the same LAN; the HTTP API binds to localhost or a
// trusted interface, so cross-origin checks add nothing here.
var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// wsConn serializes writes; gorilla allows only one concurrent writer
// and both the event loop and the read loop send frames.
type wsConn struct {
	conn *websocket.Conn
	mu   sync.Mutex
}

func (c *wsConn) writeJSON(v any) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
	return c.conn.WriteJSON(v)
}

func (c *wsConn) ping() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
	return c.conn.WriteMessage(websocket.PingMessage, nil)
}

// wsEnvelope is the frame format in both directions.
type wsEnvelope struct {
	Event     string          `json:"event"`
	Data      json.RawMessage `json:"data,omitempty"`
	Timestamp string          `json:"timestamp,omitempty"`
}

// wsTextData is a client "text" event: an utterance from a satellite.
type wsTextData struct {
	Person string `json:"person"`
	Text   string `json:"text"`
	Room   string `json:"room,omitempty"`
}

// wsFeedbackData is a client "feedback" event. The event type is
// resolved from the tracked notification; the client's copy is
// informational only.
type wsFeedbackData struct {
	NotificationID string `json:"notification_id"`
	EventType      string `json:"event_type,omitempty"`
	FeedbackType   string `json:"feedback_type"`
}

// handleWebSocket upgrades the connection and bridges the event bus to
// the satellite. Incoming frames are utterances and feedback; outgoing
// frames are the assistant's realtime events.
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	raw, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("websocket upgrade failed", "error", err)
		return
	}
	defer raw.Close()
	raw.SetReadLimit(wsReadLimit)
	conn := &wsConn{conn: raw}

	s.logger.Info("satellite connected", "remote", r.RemoteAddr)
	defer s.logger.Info("satellite disconnected", "remote", r.RemoteAddr)

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	sub := s.bus.Subscribe(100)
	defer s.bus.Unsubscribe(sub)

	go s.wsWriteLoop(ctx, conn, sub)
	s.wsReadLoop(ctx, conn)
}

func (s *Server) wsWriteLoop(ctx context.Context, conn *wsConn, sub <-chan events.Event) {
	ping := time.NewTicker(wsPingInterval)
	defer ping.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ping.C:
			if err := conn.ping(); err != nil {
				return
			}
		case ev, ok := <-sub:
			if !ok {
				return
			}
			data, err := json.Marshal(ev.Data)
			if err != nil {
				s.logger.Debug("marshal event failed", "error", err)
				continue
			}
			if err := conn.writeJSON(wsEnvelope{
				Event:     ev.Kind,
				Data:      data,
				Timestamp: ev.Timestamp.UTC().Format(time.RFC3339),
			}); err != nil {
				return
			}
		}
	}
}

func (s *Server) wsReadLoop(ctx context.Context, conn *wsConn) {
	for {
		var env wsEnvelope
		if err := conn.conn.ReadJSON(&env); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				s.logger.Debug("websocket read failed", "error", err)
			}
			return
		}

		switch env.Event {
		case "text":
			var data wsTextData
			if err := json.Unmarshal(env.Data, &data); err != nil || data.Text == "" {
				s.wsError(conn, "text event requires person and text")
				continue
			}
			if data.Person == "" {
				data.Person = "unbekannt"
			}
			if data.Room != "" {
				if err := s.working.SetContext(ctx, "room:"+data.Person, data.Room, time.Hour); err != nil {
					s.logger.Warn("set room context failed", "error", err)
				}
			}
			// The reply reaches the satellite through the bus as a
			// "speaking" event, so Chat runs detached from this frame.
			go s.brain.Chat(ctx, data.Person, data.Text)

		case "feedback":
			var data wsFeedbackData
			if err := json.Unmarshal(env.Data, &data); err != nil || data.NotificationID == "" {
				s.wsError(conn, "feedback event requires notification_id and feedback_type")
				continue
			}
			if _, err := s.feedback.RecordByNotification(ctx, data.NotificationID, feedback.Reaction(data.FeedbackType)); err != nil {
				s.wsError(conn, err.Error())
			}

		case "interrupt":
			// A wake word during playback. Nothing to cancel server-side
			// yet; acknowledge so the satellite can stop its TTS.
			s.bus.Publish(events.Event{
				Timestamp: time.Now(),
				Source:    events.SourceBrain,
				Kind:      events.KindListening,
			})

		default:
			s.wsError(conn, "unknown event: "+env.Event)
		}
	}
}

func (s *Server) wsError(conn *wsConn, message string) {
	data, _ := json.Marshal(map[string]string{"message": message})
	if err := conn.writeJSON(wsEnvelope{
		Event:     "error",
		Data:      data,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	}); err != nil {
		s.logger.Debug("websocket error write failed", "error", err)
	}
}
