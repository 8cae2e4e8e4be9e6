package model

import (
	"time"

	"github.com/google/uuid"
)

// ApplicationStatus is the derived lifecycle state of a student's application.
type ApplicationStatus string

const (
	StatusWaiting            ApplicationStatus = "WAITING"
	StatusStarted            ApplicationStatus = "STARTED"
	StatusInitialized        ApplicationStatus = "INITIALIZED"
	StatusSubmitted          ApplicationStatus = "SUBMITTED"
	StatusAwaitingCorrection ApplicationStatus = "AWAITING_CORRECTION"
	StatusEnded              ApplicationStatus = "ENDED"
	StatusExpired            ApplicationStatus = "EXPIRED"
)

// Attempt is one student's timed try at an application. Questions is the
// snapshot materialized at start and is never rewritten.
type Attempt struct {
	ID            uuid.UUID          `json:"id"`
	ApplicationID int                `json:"application_id"`
	StudentID     int                `json:"student_id"`
	Seed          int64              `json:"-"`
	InitializedAt time.Time          `json:"initialized_at"`
	SubmittedAt   *time.Time         `json:"submitted_at,omitempty"`
	Questions     []ResolvedQuestion `json:"questions"`
	Answers       map[int]Answer     `json:"answers,omitempty"`
}

// Submitted reports whether the attempt has been handed in.
func (a *Attempt) Submitted() bool {
	return a.SubmittedAt != nil
}

// NeedsManualCorrection reports whether the snapshot contains questions that
// cannot be graded automatically.
func (a *Attempt) NeedsManualCorrection() bool {
	for _, q := range a.Questions {
		if q.Type == QuestionTypeDiscursive {
			return true
		}
	}
	return false
}

// Question returns the snapshot entry for questionID.
func (a *Attempt) Question(questionID int) (*ResolvedQuestion, bool) {
	for i := range a.Questions {
		if a.Questions[i].QuestionID == questionID {
			return &a.Questions[i], true
		}
	}
	return nil, false
}

// ResolvedQuestion is a question frozen into an attempt snapshot along with
// the score it is worth in that attempt.
type ResolvedQuestion struct {
	QuestionID  int              `json:"question_id"`
	RuleID      int              `json:"rule_id"`
	Position    int              `json:"position"`
	Type        QuestionType     `json:"type"`
	Description string           `json:"description"`
	MaxLength   *int             `json:"max_length,omitempty"`
	Score       float64          `json:"score"`
	Options     []QuestionOption `json:"options,omitempty"`
}

// Answer is a student's response to one snapshot question.
type Answer struct {
	QuestionID int    `json:"question_id"`
	OptionIDs  []int  `json:"option_ids,omitempty"`
	Text       string `json:"text,omitempty"`
}

// SubmitAttemptRequest is the payload for handing in an attempt.
type SubmitAttemptRequest struct {
	Answers []Answer `json:"answers" binding:"omitempty,dive"`
}

// SaveAnswerRequest is the payload for autosaving a single answer.
type SaveAnswerRequest struct {
	OptionIDs []int  `json:"option_ids" binding:"omitempty,dive,min=1"`
	Text      string `json:"text" binding:"omitempty,max=20000"`
}

// SubmissionResult is returned when an attempt is handed in.
type SubmissionResult struct {
	AttemptID     uuid.UUID         `json:"attempt_id"`
	Status        ApplicationStatus `json:"status"`
	SubmittedAt   time.Time         `json:"submitted_at"`
	AnsweredCount int               `json:"answered_count"`
	QuestionCount int               `json:"question_count"`
}

// AnswerJob is queued for the autosave worker to persist. SavedAt orders
// jobs for the same question: an older job never overwrites a newer answer.
type AnswerJob struct {
	AttemptID uuid.UUID `json:"attempt_id"`
	Answer    Answer    `json:"answer"`
	SavedAt   time.Time `json:"saved_at"`
}
