package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/provalivre/exam-engine/internal/model"
	"github.com/provalivre/exam-engine/internal/repository"
)

// AttemptStore is the attempt persistence used by the ledger and the
// attempt service.
type AttemptStore interface {
	repository.LedgerTx
	WithLedger(ctx context.Context, applicationID, studentID int, fn func(tx repository.LedgerTx) error) error
	ListResults(ctx context.Context, applicationID int) ([]repository.AttemptResult, error)
}

// AttemptLedger answers attempt-count and running-attempt questions for an
// (application, student) pair.
type AttemptLedger struct {
	store AttemptStore
	clock Clock
}

// NewAttemptLedger creates a new AttemptLedger.
func NewAttemptLedger(store AttemptStore, clock Clock) *AttemptLedger {
	return &AttemptLedger{store: store, clock: clock}
}

// CountAttempts returns how many attempts the student has started.
func (l *AttemptLedger) CountAttempts(ctx context.Context, app *model.Application, studentID int) (int, error) {
	return countAttempts(ctx, l.store, app, studentID)
}

// HasRunningAttempt reports whether the student's latest attempt is neither
// submitted nor expired while the application is still open.
func (l *AttemptLedger) HasRunningAttempt(ctx context.Context, app *model.Application, studentID int) (bool, error) {
	latest, err := latestAttempt(ctx, l.store, app.ID, studentID)
	if err != nil {
		return false, err
	}
	return IsRunning(app, latest, l.clock()), nil
}

func countAttempts(ctx context.Context, tx repository.LedgerTx, app *model.Application, studentID int) (int, error) {
	n, err := tx.CountAttempts(ctx, app.ID, studentID)
	if err != nil {
		return 0, fmt.Errorf("count attempts: %w", err)
	}
	return n, nil
}

// latestAttempt returns nil without error when the pair has no attempt yet.
func latestAttempt(ctx context.Context, tx repository.LedgerTx, applicationID, studentID int) (*model.Attempt, error) {
	a, err := tx.LatestAttempt(ctx, applicationID, studentID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("get latest attempt: %w", err)
	}
	return a, nil
}
