package worker

import (
	"context"
	"encoding/json"
	"errors"
	"math"
	"time"

	"stolik/internal/events"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

// RetryPolicy defines exponential backoff parameters.
type RetryPolicy struct {
	MaxRetries    int
	InitialDelay  time.Duration
	MaxDelay      time.Duration
	BackoffFactor float64
}

// NextDelay returns delay for a given attempt (1-based) with clamping.
func (r RetryPolicy) NextDelay(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	initial := r.InitialDelay
	if initial <= 0 {
		initial = time.Second
	}
	factor := r.BackoffFactor
	if factor <= 0 {
		factor = 2
	}

	d := time.Duration(float64(initial) * math.Pow(factor, float64(attempt-1)))
	if r.MaxDelay > 0 && d > r.MaxDelay {
		d = r.MaxDelay
	}
	if d <= 0 {
		d = initial
	}
	return d
}

// Sink delivers one event to an external system.
type Sink interface {
	Handle(event *events.Event) error
}

// queuedEvent is the form an event takes in the Redis overflow and dead-letter lists.
type queuedEvent struct {
	Type      string          `json:"type"`
	Payload   json.RawMessage `json:"payload"`
	CreatedAt time.Time       `json:"created_at"`
	Error     string          `json:"error,omitempty"`
}

// EventDispatcher decouples bus publishing from slow sinks. Events are queued
// in memory, overflow to a Redis list when one is configured, and are retried
// with backoff before landing in the dead-letter list.
type EventDispatcher struct {
	sink          Sink
	redis         *redis.Client
	retryPolicy   RetryPolicy
	queue         chan *events.Event
	redisQueueKey string
	deadLetterKey string
	pollInterval  time.Duration
	logger        *zerolog.Logger
}

func NewEventDispatcher(sink Sink, redisClient *redis.Client, retry RetryPolicy, logger *zerolog.Logger) *EventDispatcher {
	if retry.MaxRetries == 0 {
		retry.MaxRetries = 5
	}
	if retry.InitialDelay == 0 {
		retry.InitialDelay = 500 * time.Millisecond
	}
	if retry.MaxDelay == 0 {
		retry.MaxDelay = 30 * time.Second
	}
	if retry.BackoffFactor == 0 {
		retry.BackoffFactor = 2
	}

	return &EventDispatcher{
		sink:          sink,
		redis:         redisClient,
		retryPolicy:   retry,
		queue:         make(chan *events.Event, 256),
		redisQueueKey: "events:queue",
		deadLetterKey: "events:deadletter",
		pollInterval:  time.Second,
		logger:        logger,
	}
}

// Attach routes every bus event through the dispatcher.
func (d *EventDispatcher) Attach(bus *events.EventBus) {
	bus.SubscribeAll(d.Enqueue)
}

// Enqueue never blocks the publisher.
func (d *EventDispatcher) Enqueue(event *events.Event) error {
	select {
	case d.queue <- event:
		return nil
	default:
	}

	if d.redis == nil {
		d.logger.Warn().Str("event", event.Type).Msg("Event queue full, event dropped")
		return errors.New("event queue full")
	}
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := d.pushRedis(ctx, d.redisQueueKey, event, nil); err != nil {
		d.logger.Error().Err(err).Str("event", event.Type).Msg("Event overflow push failed")
		return err
	}
	return nil
}

// Start delivers events until ctx is done. Undelivered in-memory events are
// parked in Redis on shutdown when possible.
func (d *EventDispatcher) Start(ctx context.Context) {
	d.logger.Info().Msg("Event dispatcher started")
	defer d.logger.Info().Msg("Event dispatcher stopped")

	for {
		if event, ok := d.tryLocalQueue(); ok {
			d.deliver(ctx, event)
			continue
		}
		if event, ok := d.tryRedis(ctx); ok {
			d.deliver(ctx, event)
			continue
		}

		select {
		case <-ctx.Done():
			d.park()
			return
		case event := <-d.queue:
			d.deliver(ctx, event)
		case <-time.After(d.pollInterval):
		}
	}
}

func (d *EventDispatcher) tryLocalQueue() (*events.Event, bool) {
	select {
	case event := <-d.queue:
		return event, true
	default:
		return nil, false
	}
}

func (d *EventDispatcher) tryRedis(ctx context.Context) (*events.Event, bool) {
	if d.redis == nil {
		return nil, false
	}
	raw, err := d.redis.RPop(ctx, d.redisQueueKey).Result()
	if err != nil {
		if !errors.Is(err, redis.Nil) && ctx.Err() == nil {
			d.logger.Warn().Err(err).Msg("Event overflow pop failed")
		}
		return nil, false
	}

	var q queuedEvent
	if err := json.Unmarshal([]byte(raw), &q); err != nil {
		d.logger.Error().Err(err).Msg("Decode queued event")
		return nil, false
	}
	return &events.Event{Type: q.Type, Payload: q.Payload, CreatedAt: q.CreatedAt}, true
}

// deliver tries the sink up to MaxRetries times.
func (d *EventDispatcher) deliver(ctx context.Context, event *events.Event) {
	var err error
	for attempt := 1; attempt <= d.retryPolicy.MaxRetries; attempt++ {
		if err = d.sink.Handle(event); err == nil {
			return
		}
		if attempt == d.retryPolicy.MaxRetries {
			break
		}

		delay := d.retryPolicy.NextDelay(attempt)
		d.logger.Warn().Err(err).Str("event", event.Type).Int("attempt", attempt).Dur("retry_in", delay).Msg("Event delivery failed")
		select {
		case <-ctx.Done():
			d.pushDeadLetter(event, err)
			return
		case <-time.After(delay):
		}
	}

	d.logger.Error().Err(err).Str("event", event.Type).Msg("Event delivery gave up")
	d.pushDeadLetter(event, err)
}

func (d *EventDispatcher) park() {
	for {
		event, ok := d.tryLocalQueue()
		if !ok {
			return
		}
		if d.redis == nil {
			d.logger.Warn().Str("event", event.Type).Msg("Event dropped on shutdown")
			continue
		}
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		if err := d.pushRedis(ctx, d.redisQueueKey, event, nil); err != nil {
			d.logger.Error().Err(err).Str("event", event.Type).Msg("Park event on shutdown")
		}
		cancel()
	}
}

func (d *EventDispatcher) pushRedis(ctx context.Context, key string, event *events.Event, cause error) error {
	if d.redis == nil {
		return errors.New("redis client is nil")
	}
	q := queuedEvent{Type: event.Type, Payload: event.Payload, CreatedAt: event.CreatedAt}
	if cause != nil {
		q.Error = cause.Error()
	}
	data, err := json.Marshal(q)
	if err != nil {
		return err
	}
	return d.redis.LPush(ctx, key, data).Err()
}

func (d *EventDispatcher) pushDeadLetter(event *events.Event, cause error) {
	if d.redis == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := d.pushRedis(ctx, d.deadLetterKey, event, cause); err != nil {
		d.logger.Error().Err(err).Str("event", event.Type).Msg("Dead-letter push failed")
	}
}
