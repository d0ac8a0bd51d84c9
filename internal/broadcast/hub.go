// Package broadcast fans events out to real-time subscribers.
package broadcast

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"

	"github.com/google/uuid"
)

// DefaultBuffer is the number of undelivered messages a subscriber may hold
// before new ones are dropped
const DefaultBuffer = 64

var (
	// ErrUnknownSubscriber is returned by Send for a handle that is not
	// subscribed
	ErrUnknownSubscriber = errors.New("unknown subscriber")

	// ErrSubscriberBusy is returned by Send when the subscriber's buffer is
	// full and the message was dropped
	ErrSubscriberBusy = errors.New("subscriber busy")
)

// Message is the envelope of every event delivered to subscribers
type Message struct {
	Event string `json:"event"`
	Data  any    `json:"data"`
}

// Observer is notified whenever the number of subscribers changes
type Observer interface {
	SetSubscribers(n int)
}

// Subscriber is a single receiver of hub events
type Subscriber struct {
	id       string
	messages chan []byte
}

// ID returns the handle the subscriber is addressed by
func (s *Subscriber) ID() string {
	return s.id
}

// Messages returns the encoded events delivered to the subscriber. The
// channel is closed when the subscriber is removed from the hub.
func (s *Subscriber) Messages() <-chan []byte {
	return s.messages
}

// WithLogger sets the logger for the hub
func WithLogger(logger *slog.Logger) func(*Hub) {
	return func(h *Hub) {
		h.logger = logger.With(slog.String("component", "broadcast"))
	}
}

// WithBuffer sets the per-subscriber message buffer
func WithBuffer(n int) func(*Hub) {
	return func(h *Hub) {
		if n > 0 {
			h.buffer = n
		}
	}
}

// WithObserver registers an observer for the subscriber count
func WithObserver(o Observer) func(*Hub) {
	return func(h *Hub) {
		h.observer = o
	}
}

// Hub delivers events to its subscribers. Delivery is best-effort: a
// subscriber that does not keep up misses messages instead of blocking
// publishers.
type Hub struct {
	mu          sync.RWMutex
	subscribers map[string]*Subscriber

	buffer   int
	observer Observer
	logger   *slog.Logger
}

// NewHub creates a new Hub
func NewHub(options ...func(*Hub)) *Hub {
	h := Hub{
		subscribers: make(map[string]*Subscriber),
		buffer:      DefaultBuffer,
		logger:      slog.New(slog.NewTextHandler(io.Discard, nil)),
	}

	for _, option := range options {
		option(&h)
	}

	return &h
}

// Subscribe adds a new subscriber
func (h *Hub) Subscribe() *Subscriber {
	s := Subscriber{
		id:       uuid.NewString(),
		messages: make(chan []byte, h.buffer),
	}

	h.mu.Lock()
	h.subscribers[s.id] = &s
	n := len(h.subscribers)
	h.mu.Unlock()

	h.notify(n)
	h.logger.Debug("subscriber added", slog.String("subscriber", s.id))
	return &s
}

// Unsubscribe removes a subscriber and closes its message channel. Unknown
// handles are ignored.
func (h *Hub) Unsubscribe(handle string) {
	h.mu.Lock()
	s, ok := h.subscribers[handle]
	if ok {
		delete(h.subscribers, handle)
		close(s.messages)
	}
	n := len(h.subscribers)
	h.mu.Unlock()

	if ok {
		h.notify(n)
		h.logger.Debug("subscriber removed", slog.String("subscriber", handle))
	}
}

// Len returns the number of subscribers
func (h *Hub) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subscribers)
}

// Broadcast delivers an event to every subscriber
func (h *Hub) Broadcast(event string, payload any) {
	p, err := encode(event, payload)
	if err != nil {
		h.logger.Error(err.Error(), slog.String("event", event))
		return
	}

	h.mu.RLock()
	defer h.mu.RUnlock()

	for id, s := range h.subscribers {
		select {
		case s.messages <- p:
		default:
			h.logger.Debug("subscriber busy, message dropped",
				slog.String("subscriber", id),
				slog.String("event", event))
		}
	}
}

// Send delivers an event to a single subscriber
func (h *Hub) Send(handle, event string, payload any) error {
	p, err := encode(event, payload)
	if err != nil {
		return err
	}

	h.mu.RLock()
	defer h.mu.RUnlock()

	s, ok := h.subscribers[handle]
	if !ok {
		return fmt.Errorf("subscriber '%s': %w", handle, ErrUnknownSubscriber)
	}

	select {
	case s.messages <- p:
		return nil
	default:
		return fmt.Errorf("subscriber '%s': %w", handle, ErrSubscriberBusy)
	}
}

// Close removes every subscriber
func (h *Hub) Close() {
	h.mu.Lock()
	for id, s := range h.subscribers {
		delete(h.subscribers, id)
		close(s.messages)
	}
	h.mu.Unlock()

	h.notify(0)
}

func (h *Hub) notify(n int) {
	if h.observer != nil {
		h.observer.SetSubscribers(n)
	}
}

func encode(event string, payload any) ([]byte, error) {
	p, err := json.Marshal(Message{Event: event, Data: payload})
	if err != nil {
		return nil, fmt.Errorf("encoding event '%s': %w", event, err)
	}
	return p, nil
}
