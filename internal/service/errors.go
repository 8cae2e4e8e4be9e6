package service

import (
	"errors"
	"fmt"

	"github.com/google/uuid"
)

// Domain errors. Handlers map them to response codes with errors.Is/As.
var (
	ErrCategoryNotFound    = errors.New("category not found")
	ErrQuestionNotFound    = errors.New("question not found")
	ErrExamNotFound        = errors.New("exam not found")
	ErrApplicationNotFound = errors.New("application not found")
	ErrAttemptNotFound     = errors.New("attempt not found")
	ErrInvalidCategory     = errors.New("invalid category")
	ErrInvalidExamRule     = errors.New("invalid exam rule")
	ErrInvalidQuestion     = errors.New("invalid question")
	ErrInvalidApplication  = errors.New("invalid application")
	ErrInvalidAnswer       = errors.New("invalid answer")

	ErrApplicationNotStarted = errors.New("application has not started yet")
	ErrApplicationEnded      = errors.New("application has ended")
	ErrNoAttemptsLeft        = errors.New("no attempts left for this application")
	ErrRunningAttempt        = errors.New("an attempt is already running")
	ErrAlreadySubmitted      = errors.New("attempt already submitted")
	ErrExpiredAttempt        = errors.New("attempt time limit has expired")
	ErrAttemptNotActive      = errors.New("attempt is not accepting answers")
)

// ConstraintError reports that linking a question to a category would give it
// two siblings under a parent that forbids multiple selection.
type ConstraintError struct {
	ParentID   int
	ParentName string
}

func (e *ConstraintError) Error() string {
	return fmt.Sprintf("category %q (id %d) allows only one selected subcategory per question", e.ParentName, e.ParentID)
}

// InsufficientQuestionsError reports that a generated exam rule matched fewer
// candidate questions than it asks for.
type InsufficientQuestionsError struct {
	RuleID    int
	Requested int
	Available int
}

func (e *InsufficientQuestionsError) Error() string {
	return fmt.Sprintf("exam rule %d requests %d questions but only %d are available", e.RuleID, e.Requested, e.Available)
}

// NoAttemptsLeftError reports an exhausted attempt budget. It matches
// ErrNoAttemptsLeft.
type NoAttemptsLeftError struct {
	Used    int
	Allowed int
}

func (e *NoAttemptsLeftError) Error() string {
	return fmt.Sprintf("%s (%d of %d used)", ErrNoAttemptsLeft, e.Used, e.Allowed)
}

func (e *NoAttemptsLeftError) Is(target error) bool {
	return target == ErrNoAttemptsLeft
}

// RunningAttemptError reports the attempt that blocks a new start. It matches
// ErrRunningAttempt.
type RunningAttemptError struct {
	AttemptID uuid.UUID
}

func (e *RunningAttemptError) Error() string {
	return fmt.Sprintf("%s (%s)", ErrRunningAttempt, e.AttemptID)
}

func (e *RunningAttemptError) Is(target error) bool {
	return target == ErrRunningAttempt
}
