package worker

import (
	"context"
	"encoding/json"
	"time"

	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/google/uuid"
	"github.com/provalivre/exam-engine/internal/config"
	"github.com/provalivre/exam-engine/internal/events"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

const (
	BatchSize    = 50
	BatchTimeout = 2 * time.Second

	// maxPending bounds the events kept for retry while the database rejects inserts.
	maxPending = 10 * BatchSize
)

// EventSink stores attempt events.
type EventSink interface {
	CopyEvents(ctx context.Context, batch []*events.AttemptEvent) error
	InsertEvent(ctx context.Context, e *events.AttemptEvent) error
}

// MonitorNotifier fans events out to live monitors. *redis.Client satisfies it.
type MonitorNotifier interface {
	Publish(ctx context.Context, channel string, message interface{}) *redis.IntCmd
}

// AuditWorker subscribes to attempt lifecycle events, forwards each one to
// the application's monitor channel and batch inserts them into
// attempt_events.
type AuditWorker struct {
	sub          message.Subscriber
	topic        string
	sink         EventSink
	notifier     MonitorNotifier
	batchSize    int
	batchTimeout time.Duration
	log          zerolog.Logger
}

// NewAuditWorker creates a new AuditWorker.
func NewAuditWorker(sub message.Subscriber, topic string, sink EventSink, notifier MonitorNotifier, log zerolog.Logger) *AuditWorker {
	return &AuditWorker{
		sub:          sub,
		topic:        topic,
		sink:         sink,
		notifier:     notifier,
		batchSize:    BatchSize,
		batchTimeout: BatchTimeout,
		log:          log.With().Str("component", "audit_worker").Logger(),
	}
}

// Start consumes events until ctx is cancelled or the subscription closes,
// then flushes the buffer. Call in a goroutine.
func (w *AuditWorker) Start(ctx context.Context) {
	msgs, err := w.sub.Subscribe(ctx, w.topic)
	if err != nil {
		w.log.Error().Err(err).Str("topic", w.topic).Msg("Subscribe failed, audit trail disabled")
		return
	}
	w.log.Info().Str("topic", w.topic).Msg("Worker started")

	ticker := time.NewTicker(w.batchTimeout)
	defer ticker.Stop()

	buffer := make([]*events.AttemptEvent, 0, w.batchSize)
	for {
		select {
		case <-ctx.Done():
			w.shutdown(buffer)
			return

		case msg, ok := <-msgs:
			if !ok {
				w.shutdown(buffer)
				return
			}
			e, err := events.Decode(msg)
			// Acked once buffered; a malformed payload can never succeed.
			msg.Ack()
			if err != nil {
				w.log.Error().Err(err).Msg("Discarding malformed event")
				continue
			}

			w.notify(ctx, e)
			buffer = append(buffer, e)
			if len(buffer) >= w.batchSize {
				buffer = w.flushSafe(ctx, buffer)
			}

		case <-ticker.C:
			if len(buffer) > 0 {
				buffer = w.flushSafe(ctx, buffer)
			}
		}
	}
}

func (w *AuditWorker) notify(ctx context.Context, e *events.AttemptEvent) {
	body, err := json.Marshal(e)
	if err != nil {
		w.log.Error().Err(err).Str("event_id", e.ID).Msg("Marshal monitor event failed")
		return
	}
	channel := config.CacheKey.ApplicationMonitorChannel(e.ApplicationID)
	if err := w.notifier.Publish(ctx, channel, body).Err(); err != nil {
		w.log.Warn().Err(err).Str("channel", channel).Msg("Monitor publish failed")
	}
}

// flushSafe tries a bulk COPY, then falls back to row-by-row inserts. Events
// that still fail are returned so the next flush retries them.
func (w *AuditWorker) flushSafe(ctx context.Context, batch []*events.AttemptEvent) []*events.AttemptEvent {
	err := w.sink.CopyEvents(ctx, batch)
	if err == nil {
		return batch[:0]
	}
	w.log.Warn().Err(err).Int("count", len(batch)).Msg("Bulk insert failed, attempting row-by-row recovery")

	failed := w.fallbackInsert(ctx, batch)
	if len(failed) > maxPending {
		w.log.Error().
			Int("dropped", len(failed)-maxPending).
			Msg("CRITICAL: Audit retry buffer full. Data loss occurred.")
		failed = failed[len(failed)-maxPending:]
	}
	return failed
}

func (w *AuditWorker) fallbackInsert(ctx context.Context, batch []*events.AttemptEvent) []*events.AttemptEvent {
	var failed []*events.AttemptEvent
	for _, e := range batch {
		if err := uuid.Validate(e.ID); err != nil {
			w.log.Error().Str("event_id", e.ID).Msg("Dropping event with invalid id")
			continue
		}
		if err := w.sink.InsertEvent(ctx, e); err != nil {
			w.log.Error().Err(err).
				Str("event_id", e.ID).
				Str("attempt_id", e.AttemptID.String()).
				Msg("Insert failed, keeping for retry")
			failed = append(failed, e)
		}
	}
	return failed
}

func (w *AuditWorker) shutdown(buffer []*events.AttemptEvent) {
	w.log.Info().Msg("Worker stopping, flushing remaining buffer...")
	if len(buffer) == 0 {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if left := w.flushSafe(ctx, buffer); len(left) > 0 {
		w.log.Error().Int("count", len(left)).Msg("CRITICAL: Events lost on shutdown")
	}
}
