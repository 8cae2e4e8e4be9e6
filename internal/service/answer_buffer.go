package service

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/provalivre/exam-engine/internal/config"
	"github.com/provalivre/exam-engine/internal/model"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

// answerBufferTTL outlives any attempt; the key is cleared on submit anyway.
const answerBufferTTL = 48 * time.Hour

// AnswerBuffer holds autosaved answers of open attempts until submission.
type AnswerBuffer interface {
	Put(ctx context.Context, attemptID uuid.UUID, a model.Answer, savedAt time.Time) error
	All(ctx context.Context, attemptID uuid.UUID) (map[int]model.Answer, error)
	Clear(ctx context.Context, attemptID uuid.UUID) error
}

// RedisAnswerBuffer keeps answers in a per-attempt Redis hash keyed by
// question id and queues each write for durable persistence.
type RedisAnswerBuffer struct {
	rdb *redis.Client
	log zerolog.Logger
}

// NewRedisAnswerBuffer creates a new RedisAnswerBuffer.
func NewRedisAnswerBuffer(rdb *redis.Client, log zerolog.Logger) *RedisAnswerBuffer {
	return &RedisAnswerBuffer{
		rdb: rdb,
		log: log.With().Str("component", "answer_buffer").Logger(),
	}
}

// Put stores one answer and enqueues it for the autosave worker.
func (b *RedisAnswerBuffer) Put(ctx context.Context, attemptID uuid.UUID, a model.Answer, savedAt time.Time) error {
	value, err := json.Marshal(a)
	if err != nil {
		return fmt.Errorf("marshal answer: %w", err)
	}
	job, err := json.Marshal(model.AnswerJob{AttemptID: attemptID, Answer: a, SavedAt: savedAt})
	if err != nil {
		return fmt.Errorf("marshal answer job: %w", err)
	}

	key := config.CacheKey.AttemptAnswersKey(attemptID.String())
	pipe := b.rdb.TxPipeline()
	pipe.HSet(ctx, key, strconv.Itoa(a.QuestionID), value)
	pipe.Expire(ctx, key, answerBufferTTL)
	pipe.RPush(ctx, config.WorkerKey.PersistAnswersQueue, job)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("buffer answer: %w", err)
	}
	return nil
}

// All returns every buffered answer of an attempt. Entries that cannot be
// decoded are logged and left out; the durable copy written by the autosave
// worker still holds them.
func (b *RedisAnswerBuffer) All(ctx context.Context, attemptID uuid.UUID) (map[int]model.Answer, error) {
	raw, err := b.rdb.HGetAll(ctx, config.CacheKey.AttemptAnswersKey(attemptID.String())).Result()
	if err != nil {
		return nil, fmt.Errorf("read buffered answers: %w", err)
	}

	answers, corrupt := decodeBufferedAnswers(raw)
	for field, err := range corrupt {
		b.log.Warn().Err(err).
			Str("attempt_id", attemptID.String()).
			Str("field", field).
			Str("value", raw[field]).
			Msg("Skipping corrupt buffered answer")
	}
	return answers, nil
}

// decodeBufferedAnswers parses a buffer hash of question id to answer JSON,
// returning the fields that could not be decoded with their errors.
func decodeBufferedAnswers(raw map[string]string) (map[int]model.Answer, map[string]error) {
	answers := make(map[int]model.Answer, len(raw))
	corrupt := map[string]error{}
	for field, value := range raw {
		questionID, err := strconv.Atoi(field)
		if err != nil || questionID <= 0 {
			corrupt[field] = fmt.Errorf("invalid question id %q", field)
			continue
		}
		var a model.Answer
		if err := json.Unmarshal([]byte(value), &a); err != nil {
			corrupt[field] = fmt.Errorf("decode answer: %w", err)
			continue
		}
		a.QuestionID = questionID
		answers[questionID] = a
	}
	return answers, corrupt
}

// Clear drops an attempt's buffered answers.
func (b *RedisAnswerBuffer) Clear(ctx context.Context, attemptID uuid.UUID) error {
	return b.rdb.Del(ctx, config.CacheKey.AttemptAnswersKey(attemptID.String())).Err()
}
