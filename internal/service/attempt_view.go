package service

import (
	"time"

	"github.com/google/uuid"
	"github.com/provalivre/exam-engine/internal/model"
)

// AttemptView is an attempt as exposed to the student who owns it.
type AttemptView struct {
	ID            uuid.UUID               `json:"id"`
	ApplicationID int                     `json:"application_id"`
	Status        model.ApplicationStatus `json:"status"`
	InitializedAt time.Time               `json:"initialized_at"`
	SubmittedAt   *time.Time              `json:"submitted_at,omitempty"`
	Deadline      *time.Time              `json:"deadline,omitempty"`
	Questions     []QuestionView          `json:"questions"`
	Answers       []model.Answer          `json:"answers"`
}

// QuestionView is a snapshot question with grading data filtered out.
type QuestionView struct {
	QuestionID  int                `json:"question_id"`
	Position    int                `json:"position"`
	Type        model.QuestionType `json:"type"`
	Description string             `json:"description"`
	MaxLength   *int               `json:"max_length,omitempty"`
	Score       *float64           `json:"score,omitempty"`
	Options     []OptionView       `json:"options,omitempty"`
}

// OptionView is an option; IsCorrect is set only when answers are revealed.
type OptionView struct {
	ID          int    `json:"id"`
	Description string `json:"description"`
	IsCorrect   *bool  `json:"is_correct,omitempty"`
}

func buildView(app *model.Application, attempt *model.Attempt, status model.ApplicationStatus) *AttemptView {
	revealAnswers := attempt.Submitted() && app.ShowAnswers

	v := &AttemptView{
		ID:            attempt.ID,
		ApplicationID: attempt.ApplicationID,
		Status:        status,
		InitializedAt: attempt.InitializedAt,
		SubmittedAt:   attempt.SubmittedAt,
		Questions:     make([]QuestionView, 0, len(attempt.Questions)),
		Answers:       make([]model.Answer, 0, len(attempt.Answers)),
	}
	if status == model.StatusInitialized {
		deadline := Deadline(app, attempt)
		v.Deadline = &deadline
	}

	for _, q := range attempt.Questions {
		qv := QuestionView{
			QuestionID:  q.QuestionID,
			Position:    q.Position,
			Type:        q.Type,
			Description: q.Description,
			MaxLength:   q.MaxLength,
		}
		if app.ShowScores {
			score := q.Score
			qv.Score = &score
		}
		for _, o := range q.Options {
			ov := OptionView{ID: o.ID, Description: o.Description}
			if revealAnswers {
				correct := o.IsCorrect
				ov.IsCorrect = &correct
			}
			qv.Options = append(qv.Options, ov)
		}
		v.Questions = append(v.Questions, qv)

		if a, ok := attempt.Answers[q.QuestionID]; ok {
			v.Answers = append(v.Answers, a)
		}
	}
	return v
}
