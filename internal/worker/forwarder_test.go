package worker

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"libris/internal/config"
	"libris/internal/events"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testEventsConfig = config.EventsConfig{
	ForwardEnabled: true,
	QueueKey:       "libris:events",
	DeadLetterKey:  "libris:events:deadletter",
	MaxRetries:     3,
}

// failingPusher rejects pushes to one key and records the rest.
type failingPusher struct {
	mu      sync.Mutex
	failKey string
	pushed  map[string][][]byte
}

func (p *failingPusher) LPush(ctx context.Context, key string, values ...interface{}) *redis.IntCmd {
	p.mu.Lock()
	defer p.mu.Unlock()
	if key == p.failKey {
		return redis.NewIntResult(0, errors.New("connection refused"))
	}
	if p.pushed == nil {
		p.pushed = make(map[string][][]byte)
	}
	for _, v := range values {
		p.pushed[key] = append(p.pushed[key], v.([]byte))
	}
	return redis.NewIntResult(int64(len(p.pushed[key])), nil)
}

func TestEventForwarder_ForwardsToRedis(t *testing.T) {
	s, err := miniredis.Run()
	require.NoError(t, err)
	defer s.Close()

	client := redis.NewClient(&redis.Options{Addr: s.Addr()})
	defer client.Close()

	bus := events.NewEventBus()
	fwd := NewEventForwarder(client, testEventsConfig, RetryPolicy{}, nil)
	fwd.Attach(bus)

	require.NoError(t, bus.PublishJSON(events.EventPurchaseCompleted, events.PurchaseEventPayload{EntryID: 7, BookID: 1, Quantity: 2}))

	task := <-fwd.queue
	fwd.process(context.Background(), task)

	items, err := s.List(testEventsConfig.QueueKey)
	require.NoError(t, err)
	require.Len(t, items, 1)

	var event events.Event
	require.NoError(t, json.Unmarshal([]byte(items[0]), &event))
	assert.Equal(t, events.EventPurchaseCompleted, event.Type)

	var payload events.PurchaseEventPayload
	require.NoError(t, json.Unmarshal(event.Payload, &payload))
	assert.Equal(t, int64(7), payload.EntryID)
	assert.Equal(t, 2, payload.Quantity)
}

func TestEventForwarder_RetriesThenDeadLetters(t *testing.T) {
	pusher := &failingPusher{failKey: testEventsConfig.QueueKey}
	fwd := NewEventForwarder(pusher, testEventsConfig, RetryPolicy{InitialDelay: time.Second}, nil)

	var delays []time.Duration
	fwd.after = func(d time.Duration, f func()) {
		delays = append(delays, d)
		f()
	}

	event, err := events.NewJSONEvent(events.EventBookingCreated, events.BookingEventPayload{ReservationID: 3})
	require.NoError(t, err)
	require.NoError(t, fwd.Handle(&event))

	ctx := context.Background()
	for i := 0; i < testEventsConfig.MaxRetries; i++ {
		select {
		case task := <-fwd.queue:
			fwd.process(ctx, task)
		default:
			t.Fatalf("expected task on attempt %d", i+1)
		}
	}

	assert.Equal(t, []time.Duration{time.Second, 2 * time.Second}, delays)
	assert.Empty(t, fwd.queue)

	dead := pusher.pushed[testEventsConfig.DeadLetterKey]
	require.Len(t, dead, 1)

	var task forwardTask
	require.NoError(t, json.Unmarshal(dead[0], &task))
	assert.Equal(t, events.EventBookingCreated, task.Event.Type)
	assert.Equal(t, 3, task.Attempt)
	assert.Contains(t, task.Error, "connection refused")
}

func TestEventForwarder_StartDrainsOnShutdown(t *testing.T) {
	pusher := &failingPusher{}
	fwd := NewEventForwarder(pusher, testEventsConfig, RetryPolicy{}, nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		fwd.Start(ctx)
		close(done)
	}()

	for i := 0; i < 5; i++ {
		event, err := events.NewJSONEvent(events.EventBookingCancelled, events.BookingEventPayload{ReservationID: int64(i)})
		require.NoError(t, err)
		require.NoError(t, fwd.Handle(&event))
	}
	cancel()

	select {
	case <-done:
	case <-time.After(3 * time.Second):
		t.Fatal("forwarder did not stop")
	}

	pusher.mu.Lock()
	defer pusher.mu.Unlock()
	assert.Len(t, pusher.pushed[testEventsConfig.QueueKey], 5)
}

func TestEventForwarder_NilEvent(t *testing.T) {
	fwd := NewEventForwarder(nil, testEventsConfig, RetryPolicy{}, nil)
	assert.Error(t, fwd.Handle(nil))
}
