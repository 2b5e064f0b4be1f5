package engine

import (
	"sync"
	"time"

	"github.com/germanamz/illias/pkg/chats/message"
)

// EventKind identifies the type of engine event.
type EventKind string

const (
	EventMessageAppended    EventKind = "message_appended"
	EventRequestStarted     EventKind = "request_started"
	EventRequestFinished    EventKind = "request_finished"
	EventStatsUpdated       EventKind = "stats_updated"
	EventCredentialRequired EventKind = "credential_required"
	EventCleared            EventKind = "cleared"
	EventProviderChanged    EventKind = "provider_changed"
	EventModelChanged       EventKind = "model_changed"
)

// Event is an immutable notification of session activity.
type Event struct {
	Kind      EventKind `json:"kind"`
	SessionID string    `json:"session_id"`
	Timestamp time.Time `json:"timestamp"`
	Data      any       `json:"data,omitempty"`
}

// MessageAppended is the payload of EventMessageAppended.
type MessageAppended struct {
	Index   int             `json:"index"`
	Message message.Message `json:"message"`
}

// RequestFinished is the payload of EventRequestFinished. Error is the
// display message of Err.
type RequestFinished struct {
	OK       bool          `json:"ok"`
	Err      error         `json:"-"`
	Error    string        `json:"error,omitempty"`
	Duration time.Duration `json:"duration"`
}

// CredentialRequired is the payload of EventCredentialRequired.
type CredentialRequired struct {
	Provider       string `json:"provider"`
	KeyHint        string `json:"key_hint,omitempty"`
	KeyPlaceholder string `json:"key_placeholder,omitempty"`
}

// SelectionChanged is the payload of EventProviderChanged and EventModelChanged.
type SelectionChanged struct {
	Provider string `json:"provider"`
	Model    string `json:"model"`
}

// Subscription receives events from an EventBus.
type Subscription struct {
	C  <-chan Event
	ch chan Event
}

// EventBus fans out events to all active subscribers. It is safe for
// concurrent use.
type EventBus struct {
	mu   sync.RWMutex
	subs map[*Subscription]struct{}
}

// NewEventBus creates an EventBus ready for use.
func NewEventBus() *EventBus {
	return &EventBus{
		subs: make(map[*Subscription]struct{}),
	}
}

// Subscribe creates a new subscription with the given channel buffer size.
// The caller should read from sub.C and eventually call Unsubscribe.
func (b *EventBus) Subscribe(bufSize int) *Subscription {
	ch := make(chan Event, bufSize)
	sub := &Subscription{C: ch, ch: ch}

	b.mu.Lock()
	b.subs[sub] = struct{}{}
	b.mu.Unlock()

	return sub
}

// Unsubscribe removes the subscription and closes its channel.
func (b *EventBus) Unsubscribe(sub *Subscription) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if _, ok := b.subs[sub]; ok {
		delete(b.subs, sub)
		close(sub.ch)
	}
}

// Publish sends an event to all subscribers. A subscriber whose buffer is
// full misses the event; publishing never blocks a session.
func (b *EventBus) Publish(e Event) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	for sub := range b.subs {
		select {
		case sub.ch <- e:
		default:
		}
	}
}
