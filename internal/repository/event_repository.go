package repository

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/provalivre/exam-engine/internal/events"
)

var eventColumns = []string{"id", "attempt_id", "application_id", "student_id", "event_type", "payload", "occurred_at"}

// EventRepository stores the attempt lifecycle audit trail.
type EventRepository struct {
	db DBTX
}

// NewEventRepository creates a new EventRepository.
func NewEventRepository(pool *pgxpool.Pool) *EventRepository {
	return &EventRepository{db: pool}
}

func eventRow(e *events.AttemptEvent) ([]any, error) {
	id, err := uuid.Parse(e.ID)
	if err != nil {
		return nil, fmt.Errorf("event id %q: %w", e.ID, err)
	}
	var payload []byte
	if len(e.Data) > 0 {
		payload = e.Data
	}
	return []any{id, e.AttemptID, e.ApplicationID, e.StudentID, string(e.Type), payload, e.OccurredAt}, nil
}

// CopyEvents bulk inserts a batch with COPY. The whole batch fails if any row
// is rejected, including a replayed event id.
func (r *EventRepository) CopyEvents(ctx context.Context, batch []*events.AttemptEvent) error {
	rows := make([][]any, 0, len(batch))
	for _, e := range batch {
		row, err := eventRow(e)
		if err != nil {
			return err
		}
		rows = append(rows, row)
	}

	_, err := r.db.CopyFrom(ctx, pgx.Identifier{"attempt_events"}, eventColumns, pgx.CopyFromRows(rows))
	return err
}

// InsertEvent stores one event, ignoring ids already recorded.
func (r *EventRepository) InsertEvent(ctx context.Context, e *events.AttemptEvent) error {
	row, err := eventRow(e)
	if err != nil {
		return err
	}
	_, err = r.db.Exec(ctx,
		`INSERT INTO attempt_events (id, attempt_id, application_id, student_id, event_type, payload, occurred_at)
		 VALUES ($1, $2, $3, $4, $5, $6::jsonb, $7)
		 ON CONFLICT (id) DO NOTHING`,
		row...,
	)
	return err
}

// ListByAttempt returns an attempt's events in the order they happened.
func (r *EventRepository) ListByAttempt(ctx context.Context, attemptID uuid.UUID) ([]events.AttemptEvent, error) {
	rows, err := r.db.Query(ctx,
		`SELECT id, attempt_id, application_id, student_id, event_type, payload, occurred_at
		 FROM attempt_events
		 WHERE attempt_id = $1
		 ORDER BY occurred_at, id`, attemptID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var list []events.AttemptEvent
	for rows.Next() {
		var (
			e    events.AttemptEvent
			id   uuid.UUID
			kind string
		)
		if err := rows.Scan(&id, &e.AttemptID, &e.ApplicationID, &e.StudentID, &kind, &e.Data, &e.OccurredAt); err != nil {
			return nil, fmt.Errorf("scan attempt event: %w", err)
		}
		e.ID = id.String()
		e.Type = events.EventType(kind)
		list = append(list, e)
	}
	return list, rows.Err()
}
