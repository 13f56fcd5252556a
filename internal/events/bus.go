// Package events provides a publish/subscribe event bus carrying the
// assistant's realtime channel. Events flow from components (brain,
// executor, proactive manager) to subscribers (the WebSocket handler
// that feeds connected voice satellites). The bus is nil-safe: calling
// Publish on a nil *Bus is a no-op, so components do not need guard
// checks.
package events

import (
	"sync"
	"time"
)

// Source constants identify which component published an event.
const (
	// SourceBrain identifies events from the conversation pipeline.
	SourceBrain = "brain"
	// SourceExecutor identifies events from action execution.
	SourceExecutor = "executor"
	// SourceProactive identifies events from the proactive manager.
	SourceProactive = "proactive"
	// SourceSummarizer identifies events from the nightly summarizer.
	SourceSummarizer = "summarizer"
)

// Kind constants describe the type of event within a source. These are
// the server-to-client events of the realtime channel.
const (
	// KindThinking signals the assistant started processing an utterance.
	// Data: person, text_len.
	KindThinking = "thinking"
	// KindSpeaking carries the assistant's spoken response.
	// Data: person, response, model_used.
	KindSpeaking = "speaking"
	// KindAction signals a device action was executed.
	// Data: tool, success, message.
	KindAction = "action"
	// KindListening signals the assistant is idle and ready.
	KindListening = "listening"
	// KindProactive carries an unprompted notification.
	// Data: notification_id, event_type, urgency, message, method.
	KindProactive = "proactive"
)

// Event represents a single event published by a component.
type Event struct {
	// Timestamp is when the event occurred.
	Timestamp time.Time `json:"ts"`
	// Source identifies the component that published the event.
	Source string `json:"source"`
	// Kind describes the type of event within the source.
	Kind string `json:"kind"`
	// Data holds event-specific key/value pairs.
	Data map[string]any `json:"data,omitempty"`
}

// Bus is a non-blocking broadcast event bus. Subscribers receive events
// on buffered channels; slow subscribers miss events rather than
// blocking publishers.
type Bus struct {
	mu   sync.RWMutex
	subs map[chan Event]struct{}
	// recvToSend maps the receive-only channel returned by Subscribe
	// back to the bidirectional channel stored in subs, so Unsubscribe
	// can accept the caller's <-chan Event view.
	recvToSend map[<-chan Event]chan Event
}

// New creates a new event bus ready for use.
func New() *Bus {
	return &Bus{
		subs:       make(map[chan Event]struct{}),
		recvToSend: make(map[<-chan Event]chan Event),
	}
}

// Publish sends an event to all subscribers. Non-blocking: if a
// subscriber's channel is full, the event is dropped for that
// subscriber. Safe to call on a nil receiver (no-op).
func (b *Bus) Publish(e Event) {
	if b == nil {
		return
	}
	b.mu.RLock()
	defer b.mu.RUnlock()
	for ch := range b.subs {
		select {
		case ch <- e:
		default:
			// Subscriber is full, drop the event rather than block.
		}
	}
}

// Subscribe returns a channel that receives published events. The
// caller must eventually call Unsubscribe to avoid resource leaks.
func (b *Bus) Subscribe(bufSize int) <-chan Event {
	ch := make(chan Event, bufSize)
	b.mu.Lock()
	defer b.mu.Unlock()
	b.subs[ch] = struct{}{}
	b.recvToSend[ch] = ch
	return ch
}

// Unsubscribe removes a subscription and closes the channel. Safe to
// call with a channel that is already unsubscribed (no-op).
func (b *Bus) Unsubscribe(ch <-chan Event) {
	b.mu.Lock()
	defer b.mu.Unlock()
	sendCh, ok := b.recvToSend[ch]
	if !ok {
		return
	}
	delete(b.subs, sendCh)
	delete(b.recvToSend, ch)
	close(sendCh)
}

// SubscriberCount returns the number of active subscribers.
func (b *Bus) SubscriberCount() int {
	if b == nil {
		return 0
	}
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}
