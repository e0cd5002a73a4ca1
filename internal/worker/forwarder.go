package worker

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"libris/internal/config"
	"libris/internal/events"
	"libris/internal/metrics"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

// Forwarding outcomes reported to metrics.
const (
	ResultForwarded  = "forwarded"
	ResultRetry      = "retry"
	ResultDeadLetter = "dead_letter"
	ResultDropped    = "dropped"
)

// ListPusher is the slice of the Redis client the forwarder needs.
type ListPusher interface {
	LPush(ctx context.Context, key string, values ...interface{}) *redis.IntCmd
}

type forwardTask struct {
	Event   events.Event `json:"event"`
	Attempt int          `json:"attempt"`
	Error   string       `json:"error,omitempty"`
}

// EventForwarder relays committed ledger events to a Redis list so that
// other services can consume them. Delivery is at-least-once with
// exponential backoff; events that keep failing go to a dead-letter list.
type EventForwarder struct {
	redis         ListPusher
	retryPolicy   RetryPolicy
	queue         chan forwardTask
	queueKey      string
	deadLetterKey string
	logger        *zerolog.Logger
	after         func(d time.Duration, f func())
}

func NewEventForwarder(redisClient ListPusher, cfg config.EventsConfig, retry RetryPolicy, logger *zerolog.Logger) *EventForwarder {
	if logger == nil {
		nop := zerolog.Nop()
		logger = &nop
	}

	return &EventForwarder{
		redis:         redisClient,
		retryPolicy:   retry.withDefaults(cfg),
		queue:         make(chan forwardTask, 256),
		queueKey:      cfg.QueueKey,
		deadLetterKey: cfg.DeadLetterKey,
		logger:        logger,
		after: func(d time.Duration, f func()) {
			time.AfterFunc(d, f)
		},
	}
}

// Attach subscribes the forwarder to every ledger event on the bus.
func (f *EventForwarder) Attach(bus *events.EventBus) {
	bus.SubscribeAll(f.Handle)
}

// Handle queues the event without blocking the publisher.
func (f *EventForwarder) Handle(event *events.Event) error {
	if event == nil {
		return errors.New("event is nil")
	}
	f.enqueue(forwardTask{Event: *event})
	return nil
}

func (f *EventForwarder) enqueue(task forwardTask) {
	select {
	case f.queue <- task:
	default:
		metrics.IncForwarded(ResultDropped)
		f.logger.Warn().Str("event", task.Event.Type).Msg("forward queue full, event dropped")
	}
}

// Start consumes the queue until ctx is done, then drains what is left.
func (f *EventForwarder) Start(ctx context.Context) {
	f.logger.Info().Str("queue", f.queueKey).Msg("event forwarder started")
	defer f.logger.Info().Msg("event forwarder stopped")

	for {
		select {
		case <-ctx.Done():
			f.drain()
			return
		case task := <-f.queue:
			f.process(ctx, task)
		}
	}
}

func (f *EventForwarder) drain() {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	for {
		select {
		case task := <-f.queue:
			if err := f.push(ctx, f.queueKey, task.Event); err != nil {
				f.deadLetter(ctx, task, err)
			}
		default:
			return
		}
	}
}

func (f *EventForwarder) process(ctx context.Context, task forwardTask) {
	err := f.push(ctx, f.queueKey, task.Event)
	if err == nil {
		metrics.IncForwarded(ResultForwarded)
		return
	}

	task.Attempt++
	if f.retryPolicy.Exhausted(task.Attempt) {
		f.deadLetter(ctx, task, err)
		return
	}

	delay := f.retryPolicy.NextDelay(task.Attempt)
	metrics.IncForwarded(ResultRetry)
	f.logger.Warn().Err(err).
		Str("event", task.Event.Type).
		Int("attempt", task.Attempt).
		Dur("delay", delay).
		Msg("event forward failed, retrying")
	f.after(delay, func() { f.enqueue(task) })
}

func (f *EventForwarder) deadLetter(ctx context.Context, task forwardTask, cause error) {
	metrics.IncForwarded(ResultDeadLetter)
	task.Error = cause.Error()
	if err := f.push(ctx, f.deadLetterKey, task); err != nil {
		f.logger.Error().Err(err).Str("event", task.Event.Type).Msg("dead-letter push failed, event lost")
		return
	}
	f.logger.Error().Err(cause).Str("event", task.Event.Type).Int("attempts", task.Attempt).Msg("event moved to dead-letter list")
}

func (f *EventForwarder) push(ctx context.Context, key string, v interface{}) error {
	if f.redis == nil {
		return errors.New("redis client is nil")
	}
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return f.redis.LPush(ctx, key, data).Err()
}
