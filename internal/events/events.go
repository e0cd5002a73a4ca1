package events

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/shopspring/decimal"
)

const (
	EventBookingCreated    = "booking_created"
	EventBookingCancelled  = "booking_cancelled"
	EventPurchaseCompleted = "purchase_completed"
)

// LedgerEventTypes lists every event emitted after a committed ledger mutation.
var LedgerEventTypes = []string{EventBookingCreated, EventBookingCancelled, EventPurchaseCompleted}

// BookingEventPayload describes the reservation snapshot for event consumers.
type BookingEventPayload struct {
	ReservationID int64           `json:"reservation_id"`
	AccountID     int64           `json:"account_id"`
	ResourceID    int64           `json:"resource_id"`
	Start         time.Time       `json:"start"`
	End           time.Time       `json:"end"`
	Status        string          `json:"status"`
	Amount        decimal.Decimal `json:"amount"`
	EntryID       int64           `json:"entry_id"`
	ActorID       int64           `json:"actor_id,omitempty"`
	Privileged    bool            `json:"privileged,omitempty"`
}

type PurchaseEventPayload struct {
	EntryID   int64           `json:"entry_id"`
	AccountID int64           `json:"account_id"`
	BookID    int64           `json:"book_id"`
	Quantity  int             `json:"quantity"`
	Amount    decimal.Decimal `json:"amount"`
}

// Event represents a lightweight domain event.
type Event struct {
	Type      string          `json:"type"`
	Payload   json.RawMessage `json:"payload"`
	CreatedAt time.Time       `json:"created_at"`
}

// EventHandler reacts to an event.
type EventHandler func(event *Event) error

// EventBus provides in-process pub/sub for events.
type EventBus struct {
	subscribers map[string][]EventHandler
	mu          sync.RWMutex
}

// NewEventBus constructs an empty bus.
func NewEventBus() *EventBus {
	return &EventBus{subscribers: make(map[string][]EventHandler)}
}

// Subscribe registers a handler for a given event type.
func (b *EventBus) Subscribe(eventType string, handler EventHandler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.subscribers[eventType] = append(b.subscribers[eventType], handler)
}

// SubscribeAll registers handler for every ledger event type.
func (b *EventBus) SubscribeAll(handler EventHandler) {
	for _, eventType := range LedgerEventTypes {
		b.Subscribe(eventType, handler)
	}
}

// Publish notifies subscribers of the event type and returns the first
// handler error. Every handler runs regardless.
func (b *EventBus) Publish(event *Event) error {
	b.mu.RLock()
	handlers := append([]EventHandler(nil), b.subscribers[event.Type]...)
	b.mu.RUnlock()

	if event.CreatedAt.IsZero() {
		event.CreatedAt = time.Now().UTC()
	}

	var firstErr error
	for _, handler := range handlers {
		// Handlers run synchronously; caller decides concurrency model.
		if err := handler(event); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// PublishJSON serializes the payload and publishes an event.
func (b *EventBus) PublishJSON(eventType string, payload interface{}) error {
	if b == nil {
		return nil
	}

	event, err := NewJSONEvent(eventType, payload)
	if err != nil {
		return err
	}
	return b.Publish(&event)
}

// NewJSONEvent builds an Event with JSON payload for manual publishing.
func NewJSONEvent(eventType string, payload interface{}) (Event, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return Event{}, err
	}

	return Event{Type: eventType, Payload: raw, CreatedAt: time.Now().UTC()}, nil
}
