package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/provalivre/exam-engine/internal/config"
	"github.com/provalivre/exam-engine/internal/model"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

const (
	pollTimeout = time.Second // BLPop needs at least one second
	retryDelay  = 5 * time.Second
)

// AnswerPersister writes an autosaved answer of an attempt that is still
// open, unless a newer version is already stored.
type AnswerPersister interface {
	UpsertOpenAnswer(ctx context.Context, attemptID uuid.UUID, a model.Answer, savedAt time.Time) (bool, error)
}

// AutosaveWorker consumes the persist-answers queue and writes each autosaved
// answer to PostgreSQL. Answers for attempts submitted in the meantime, and
// jobs older than the stored answer, are skipped by the persister, so a job
// requeued behind a newer one is harmless.
type AutosaveWorker struct {
	store AnswerPersister
	rdb   *redis.Client
	queue string
	log   zerolog.Logger
}

// NewAutosaveWorker creates a new AutosaveWorker.
func NewAutosaveWorker(store AnswerPersister, rdb *redis.Client, log zerolog.Logger) *AutosaveWorker {
	return &AutosaveWorker{
		store: store,
		rdb:   rdb,
		queue: config.WorkerKey.PersistAnswersQueue,
		log:   log.With().Str("component", "autosave_worker").Logger(),
	}
}

// Start runs until ctx is cancelled, then drains what is left in the queue.
// Call in a goroutine.
func (w *AutosaveWorker) Start(ctx context.Context) {
	w.log.Info().Msg("Worker started")

	for {
		select {
		case <-ctx.Done():
			w.log.Info().Msg("Worker stopping...")
			drainCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			w.drain(drainCtx)
			cancel()
			w.log.Info().Msg("Worker stopped")
			return
		default:
			w.processNext(ctx)
		}
	}
}

func (w *AutosaveWorker) processNext(ctx context.Context) {
	result, err := w.rdb.BLPop(ctx, pollTimeout, w.queue).Result()
	if err != nil {
		if !errors.Is(err, redis.Nil) && ctx.Err() == nil {
			w.log.Error().Err(err).Msg("BLPop error, sleeping 3s")
			time.Sleep(3 * time.Second)
		}
		return
	}
	if len(result) < 2 {
		return
	}

	if err := w.handle(ctx, result[1]); err != nil {
		if errors.Is(err, errMalformedJob) {
			w.log.Error().Err(err).Str("data", result[1]).Msg("Discarding malformed job")
			return
		}
		w.log.Error().Err(err).Msg("Persist error, requeueing in 5s")
		w.rdb.RPush(ctx, w.queue, result[1])
		time.Sleep(retryDelay)
	}
}

var errMalformedJob = errors.New("malformed answer job")

// handle decodes one queued job and persists its answer.
func (w *AutosaveWorker) handle(ctx context.Context, raw string) error {
	var job model.AnswerJob
	if err := json.Unmarshal([]byte(raw), &job); err != nil {
		return fmt.Errorf("%w: %v", errMalformedJob, err)
	}
	if job.AttemptID == uuid.Nil || job.Answer.QuestionID == 0 {
		return fmt.Errorf("%w: missing attempt or question id", errMalformedJob)
	}

	written, err := w.store.UpsertOpenAnswer(ctx, job.AttemptID, job.Answer, job.SavedAt)
	if err != nil {
		return fmt.Errorf("persist answer of attempt %s: %w", job.AttemptID, err)
	}
	if !written {
		w.log.Debug().
			Str("attempt_id", job.AttemptID.String()).
			Int("question_id", job.Answer.QuestionID).
			Time("saved_at", job.SavedAt).
			Msg("Skipped stale or closed answer")
	}
	return nil
}

// drain persists the remaining queued jobs before shutdown. A job that fails
// goes back to the queue and stops the drain.
func (w *AutosaveWorker) drain(ctx context.Context) {
	drained := 0
	for {
		raw, err := w.rdb.LPop(ctx, w.queue).Result()
		if err != nil {
			break
		}

		if err := w.handle(ctx, raw); err != nil {
			if errors.Is(err, errMalformedJob) {
				w.log.Error().Err(err).Msg("Drain discarded malformed job")
				continue
			}
			w.log.Error().Err(err).Msg("Drain persist error")
			w.rdb.RPush(ctx, w.queue, raw)
			break
		}
		drained++
	}

	if drained > 0 {
		w.log.Info().Int("count", drained).Msg("Drained remaining items")
	}
}
