package service

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/provalivre/exam-engine/internal/events"
	"github.com/provalivre/exam-engine/internal/model"
	"github.com/provalivre/exam-engine/internal/repository"
	"github.com/rs/zerolog"
)

// ApplicationSource loads applications.
type ApplicationSource interface {
	GetByID(ctx context.Context, id int) (*model.Application, error)
}

// QuestionResolver materializes the question snapshot of a new attempt.
type QuestionResolver interface {
	ResolveQuestionSet(ctx context.Context, examID int, seed int64) ([]model.ResolvedQuestion, error)
}

// EventPublisher receives attempt lifecycle events.
type EventPublisher interface {
	Publish(ctx context.Context, e *events.AttemptEvent) error
}

// AttemptService drives a student's attempts through the application
// lifecycle: start, autosave, submit and review.
type AttemptService struct {
	apps     ApplicationSource
	store    AttemptStore
	resolver QuestionResolver
	buffer   AnswerBuffer
	events   EventPublisher
	ledger   *AttemptLedger
	clock    Clock
	log      zerolog.Logger

	allowRestartAfterExpiry bool
}

// NewAttemptService creates a new AttemptService.
func NewAttemptService(
	apps ApplicationSource,
	store AttemptStore,
	resolver QuestionResolver,
	buffer AnswerBuffer,
	publisher EventPublisher,
	allowRestartAfterExpiry bool,
	log zerolog.Logger,
) *AttemptService {
	clock := Clock(time.Now)
	return &AttemptService{
		apps:                    apps,
		store:                   store,
		resolver:                resolver,
		buffer:                  buffer,
		events:                  publisher,
		ledger:                  NewAttemptLedger(store, clock),
		clock:                   clock,
		log:                     log.With().Str("component", "attempt_service").Logger(),
		allowRestartAfterExpiry: allowRestartAfterExpiry,
	}
}

// Ledger exposes the attempt ledger backing this service.
func (s *AttemptService) Ledger() *AttemptLedger {
	return s.ledger
}

// StartAttempt opens a new attempt for the student. The question snapshot is
// resolved before the ledger lock is taken, so the locked section only runs
// queries on its own transaction. Under the lock the start is checked again
// (running attempt first, then the attempt budget) before the attempt is
// recorded and the counter bumped. Concurrent starts for the same pair
// serialize on the lock, so only one can win and the rest see its running
// attempt; a losing start discards its snapshot.
func (s *AttemptService) StartAttempt(ctx context.Context, applicationID, studentID int) (*model.Attempt, error) {
	app, err := s.application(ctx, applicationID)
	if err != nil {
		return nil, err
	}

	now := s.clock()
	if now.Before(app.StartedAt) {
		return nil, ErrApplicationNotStarted
	}
	if now.After(app.EndedAt) {
		return nil, ErrApplicationEnded
	}

	// Unlocked pre-check spares the resolver for starts that cannot succeed.
	if err := s.checkStart(ctx, s.store, app, studentID, now); err != nil {
		s.logRejectedStart(err, app.ID, studentID)
		return nil, err
	}

	id := uuid.New()
	seed := SeedFromAttemptID(id)
	questions, err := s.resolver.ResolveQuestionSet(ctx, app.ExamID, seed)
	if err != nil {
		s.logRejectedStart(err, app.ID, studentID)
		return nil, err
	}
	attempt := &model.Attempt{
		ID:            id,
		ApplicationID: app.ID,
		StudentID:     studentID,
		Seed:          seed,
		InitializedAt: now,
		Questions:     questions,
		Answers:       map[int]model.Answer{},
	}

	err = s.store.WithLedger(ctx, app.ID, studentID, func(tx repository.LedgerTx) error {
		if err := s.checkStart(ctx, tx, app, studentID, now); err != nil {
			return err
		}
		if err := tx.InsertAttempt(ctx, attempt); err != nil {
			return fmt.Errorf("insert attempt: %w", err)
		}
		if err := tx.IncrementAttempts(ctx, app.ID, studentID); err != nil {
			return fmt.Errorf("increment attempts: %w", err)
		}
		return nil
	})
	if err != nil {
		s.logRejectedStart(err, app.ID, studentID)
		return nil, err
	}

	s.log.Info().
		Str("attempt_id", attempt.ID.String()).
		Int("application_id", app.ID).
		Int("student_id", studentID).
		Int("questions", len(attempt.Questions)).
		Msg("Attempt started")

	s.publish(ctx, events.EventAttemptStarted, attempt, now, map[string]int{"questions": len(attempt.Questions)})
	return attempt, nil
}

// checkStart reports why the pair may not start a new attempt at now, if
// anything: a running attempt, an exhausted budget, or an expired attempt
// when restarts after expiry are disabled.
func (s *AttemptService) checkStart(ctx context.Context, q repository.LedgerTx, app *model.Application, studentID int, now time.Time) error {
	latest, err := latestAttempt(ctx, q, app.ID, studentID)
	if err != nil {
		return err
	}
	if IsRunning(app, latest, now) {
		return &RunningAttemptError{AttemptID: latest.ID}
	}

	used, err := countAttempts(ctx, q, app, studentID)
	if err != nil {
		return err
	}
	if used >= app.Attempts {
		return &NoAttemptsLeftError{Used: used, Allowed: app.Attempts}
	}
	if latest != nil && !s.allowRestartAfterExpiry && DeriveStatus(app, latest, now) == model.StatusExpired {
		return &NoAttemptsLeftError{Used: used, Allowed: app.Attempts}
	}
	return nil
}

func (s *AttemptService) logRejectedStart(err error, applicationID, studentID int) {
	s.log.Info().Err(err).
		Int("application_id", applicationID).
		Int("student_id", studentID).
		Msg("Start attempt rejected")
}

// SaveAnswer validates and buffers one answer of an attempt that is still in
// progress.
func (s *AttemptService) SaveAnswer(ctx context.Context, attemptID uuid.UUID, studentID int, answer model.Answer) error {
	attempt, app, err := s.ownedAttempt(ctx, attemptID, studentID)
	if err != nil {
		return err
	}

	now := s.clock()
	if err := acceptingAnswers(DeriveStatus(app, attempt, now)); err != nil {
		return err
	}
	if err := validateAnswers(attempt, []model.Answer{answer}); err != nil {
		return err
	}

	if err := s.buffer.Put(ctx, attempt.ID, answer, now); err != nil {
		return err
	}

	s.publish(ctx, events.EventAttemptAutosaved, attempt, now, map[string]int{"question_id": answer.QuestionID})
	return nil
}

// SubmitAttempt hands in an attempt. Explicit answers override autosaved ones
// for the same question. Submission is refused once the attempt has expired
// or the application has ended.
func (s *AttemptService) SubmitAttempt(ctx context.Context, attemptID uuid.UUID, studentID int, answers []model.Answer) (*model.SubmissionResult, error) {
	owned, app, err := s.ownedAttempt(ctx, attemptID, studentID)
	if err != nil {
		return nil, err
	}

	now := s.clock()
	var result *model.SubmissionResult
	err = s.store.WithLedger(ctx, app.ID, studentID, func(tx repository.LedgerTx) error {
		// The row lock orders this submission against autosave writes.
		attempt, err := tx.LockAttempt(ctx, owned.ID)
		if err != nil {
			return fmt.Errorf("reload attempt: %w", err)
		}
		if err := acceptingAnswers(DeriveStatus(app, attempt, now)); err != nil {
			return err
		}
		if err := validateAnswers(attempt, answers); err != nil {
			return err
		}

		buffered, err := s.buffer.All(ctx, attempt.ID)
		if err != nil {
			return err
		}
		merged := mergeAnswers(attempt, attempt.Answers, buffered, answers)

		if err := tx.UpsertAnswers(ctx, attempt.ID, merged, now); err != nil {
			return fmt.Errorf("save answers: %w", err)
		}
		if err := tx.MarkSubmitted(ctx, attempt.ID, now); err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return ErrAlreadySubmitted
			}
			return fmt.Errorf("mark submitted: %w", err)
		}

		submitted := now
		attempt.SubmittedAt = &submitted
		result = &model.SubmissionResult{
			AttemptID:     attempt.ID,
			Status:        DeriveStatus(app, attempt, now),
			SubmittedAt:   now,
			AnsweredCount: len(merged),
			QuestionCount: len(attempt.Questions),
		}
		return nil
	})
	if err != nil {
		s.log.Info().Err(err).
			Str("attempt_id", attemptID.String()).
			Int("student_id", studentID).
			Msg("Submit attempt rejected")
		return nil, err
	}

	if err := s.buffer.Clear(ctx, owned.ID); err != nil {
		s.log.Warn().Err(err).Str("attempt_id", owned.ID.String()).Msg("Failed to clear answer buffer")
	}

	s.log.Info().
		Str("attempt_id", owned.ID.String()).
		Str("status", string(result.Status)).
		Int("answered", result.AnsweredCount).
		Msg("Attempt submitted")

	s.publish(ctx, events.EventAttemptSubmitted, owned, now, result)
	return result, nil
}

// AttemptState summarizes a student's position in an application.
type AttemptState struct {
	ApplicationID    int                     `json:"application_id"`
	Status           model.ApplicationStatus `json:"status"`
	AttemptsUsed     int                     `json:"attempts_used"`
	AttemptsAllowed  int                     `json:"attempts_allowed"`
	CanStart         bool                    `json:"can_start"`
	RemainingSeconds *int64                  `json:"remaining_seconds,omitempty"`
	Attempt          *AttemptView            `json:"attempt,omitempty"`
}

// CurrentState derives the student's status from the clock and the latest
// attempt. It never writes: an expired attempt stays as it is in storage.
func (s *AttemptService) CurrentState(ctx context.Context, applicationID, studentID int) (*AttemptState, error) {
	app, err := s.application(ctx, applicationID)
	if err != nil {
		return nil, err
	}

	latest, err := latestAttempt(ctx, s.store, app.ID, studentID)
	if err != nil {
		return nil, err
	}
	used, err := s.ledger.CountAttempts(ctx, app, studentID)
	if err != nil {
		return nil, err
	}

	now := s.clock()
	status := DeriveStatus(app, latest, now)
	state := &AttemptState{
		ApplicationID:   app.ID,
		Status:          status,
		AttemptsUsed:    used,
		AttemptsAllowed: app.Attempts,
		CanStart:        s.canStart(app, status, used),
	}

	if latest != nil {
		if err := s.overlayBuffered(ctx, latest); err != nil {
			return nil, err
		}
		state.Attempt = buildView(app, latest, status)
		if status == model.StatusInitialized {
			remaining := int64(Deadline(app, latest).Sub(now).Seconds())
			state.RemainingSeconds = &remaining
		}
	}
	return state, nil
}

func (s *AttemptService) canStart(app *model.Application, status model.ApplicationStatus, used int) bool {
	if used >= app.Attempts {
		return false
	}
	switch status {
	case model.StatusStarted, model.StatusSubmitted, model.StatusAwaitingCorrection:
		return true
	case model.StatusExpired:
		return s.allowRestartAfterExpiry
	default:
		return false
	}
}

// AttemptView returns an attempt as the student may see it. Correct options
// are revealed only after submission and only when the application shows
// answers; question scores only when it shows scores.
func (s *AttemptService) AttemptView(ctx context.Context, attemptID uuid.UUID, studentID int) (*AttemptView, error) {
	attempt, app, err := s.ownedAttempt(ctx, attemptID, studentID)
	if err != nil {
		return nil, err
	}
	if err := s.overlayBuffered(ctx, attempt); err != nil {
		return nil, err
	}
	return buildView(app, attempt, DeriveStatus(app, attempt, s.clock())), nil
}

// overlayBuffered adds autosaved answers not yet persisted to an open attempt.
func (s *AttemptService) overlayBuffered(ctx context.Context, attempt *model.Attempt) error {
	if attempt.Submitted() {
		return nil
	}
	buffered, err := s.buffer.All(ctx, attempt.ID)
	if err != nil {
		return err
	}
	if attempt.Answers == nil {
		attempt.Answers = make(map[int]model.Answer, len(buffered))
	}
	for id, a := range buffered {
		attempt.Answers[id] = a
	}
	return nil
}

func (s *AttemptService) application(ctx context.Context, id int) (*model.Application, error) {
	app, err := s.apps.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrApplicationNotFound
		}
		return nil, fmt.Errorf("get application: %w", err)
	}
	return app, nil
}

// ownedAttempt loads an attempt and its application, hiding attempts of
// other students behind ErrAttemptNotFound.
func (s *AttemptService) ownedAttempt(ctx context.Context, attemptID uuid.UUID, studentID int) (*model.Attempt, *model.Application, error) {
	attempt, err := s.store.GetAttempt(ctx, attemptID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil, ErrAttemptNotFound
		}
		return nil, nil, fmt.Errorf("get attempt: %w", err)
	}
	if attempt.StudentID != studentID {
		return nil, nil, ErrAttemptNotFound
	}

	app, err := s.application(ctx, attempt.ApplicationID)
	if err != nil {
		return nil, nil, err
	}
	return attempt, app, nil
}

func (s *AttemptService) publish(ctx context.Context, t events.EventType, attempt *model.Attempt, at time.Time, data any) {
	e, err := events.NewAttemptEvent(t, attempt.ID, attempt.ApplicationID, attempt.StudentID, at, data)
	if err == nil {
		err = s.events.Publish(ctx, e)
	}
	if err != nil {
		s.log.Warn().Err(err).
			Str("event_type", string(t)).
			Str("attempt_id", attempt.ID.String()).
			Msg("Failed to publish attempt event")
	}
}

// acceptingAnswers maps a derived status to the error a write should fail with.
func acceptingAnswers(status model.ApplicationStatus) error {
	switch status {
	case model.StatusInitialized:
		return nil
	case model.StatusExpired:
		return ErrExpiredAttempt
	case model.StatusEnded:
		return ErrApplicationEnded
	case model.StatusSubmitted, model.StatusAwaitingCorrection:
		return ErrAlreadySubmitted
	default:
		return ErrAttemptNotActive
	}
}

// validateAnswers checks answers against the attempt snapshot: each must
// target a snapshot question once, option answers may only name options of
// that question, and text answers must fit the question's max length.
func validateAnswers(attempt *model.Attempt, answers []model.Answer) error {
	seen := make(map[int]bool, len(answers))
	for _, a := range answers {
		q, ok := attempt.Question(a.QuestionID)
		if !ok {
			return fmt.Errorf("%w: question %d is not part of this attempt", ErrInvalidAnswer, a.QuestionID)
		}
		if seen[a.QuestionID] {
			return fmt.Errorf("%w: question %d answered twice", ErrInvalidAnswer, a.QuestionID)
		}
		seen[a.QuestionID] = true

		switch q.Type {
		case model.QuestionTypeOptions:
			if a.Text != "" {
				return fmt.Errorf("%w: question %d expects options, not text", ErrInvalidAnswer, a.QuestionID)
			}
			picked := make(map[int]bool, len(a.OptionIDs))
			for _, optID := range a.OptionIDs {
				if picked[optID] || !slices.ContainsFunc(q.Options, func(o model.QuestionOption) bool { return o.ID == optID }) {
					return fmt.Errorf("%w: option %d is not valid for question %d", ErrInvalidAnswer, optID, a.QuestionID)
				}
				picked[optID] = true
			}
		case model.QuestionTypeDiscursive:
			if len(a.OptionIDs) > 0 {
				return fmt.Errorf("%w: question %d expects text, not options", ErrInvalidAnswer, a.QuestionID)
			}
			if q.MaxLength != nil && utf8.RuneCountInString(a.Text) > *q.MaxLength {
				return fmt.Errorf("%w: answer to question %d exceeds %d characters", ErrInvalidAnswer, a.QuestionID, *q.MaxLength)
			}
		}
	}
	return nil
}

// mergeAnswers layers persisted, buffered and explicit answers, later layers
// winning, and returns them in snapshot order. Answers for questions outside
// the snapshot are dropped.
func mergeAnswers(attempt *model.Attempt, persisted, buffered map[int]model.Answer, explicit []model.Answer) []model.Answer {
	merged := make(map[int]model.Answer, len(attempt.Questions))
	for _, layer := range []map[int]model.Answer{persisted, buffered} {
		for id, a := range layer {
			a.QuestionID = id
			merged[id] = a
		}
	}
	for _, a := range explicit {
		merged[a.QuestionID] = a
	}

	out := make([]model.Answer, 0, len(merged))
	for _, q := range attempt.Questions {
		if a, ok := merged[q.QuestionID]; ok {
			out = append(out, a)
		}
	}
	return out
}
