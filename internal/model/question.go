package model

import "time"

// QuestionType enumerates how a question is answered.
type QuestionType string

const (
	QuestionTypeDiscursive QuestionType = "discursive"
	QuestionTypeOptions    QuestionType = "options"
)

// Valid reports whether t is a known question type.
func (t QuestionType) Valid() bool {
	return t == QuestionTypeDiscursive || t == QuestionTypeOptions
}

// Question is a company-owned question that exam rules draw from.
type Question struct {
	ID          int              `json:"id"`
	CompanyID   int              `json:"company_id"`
	Description string           `json:"description"`
	Type        QuestionType     `json:"type"`
	MaxLength   *int             `json:"max_length,omitempty"`
	Enabled     bool             `json:"enabled"`
	CategoryIDs []int            `json:"category_ids"`
	Options     []QuestionOption `json:"options,omitempty"`
	CreatedAt   time.Time        `json:"created_at"`
	UpdatedAt   time.Time        `json:"updated_at"`
}

// QuestionOption is one choice of an options-type question.
type QuestionOption struct {
	ID          int    `json:"id"`
	QuestionID  int    `json:"question_id"`
	Description string `json:"description"`
	IsCorrect   bool   `json:"is_correct"`
}

// QuestionFilter narrows the candidate pool of a generated exam rule.
// A nil Type or empty CategoryIDs means "any".
type QuestionFilter struct {
	CompanyID   int
	Type        *QuestionType
	CategoryIDs []int
}

// SetQuestionEnabledRequest toggles whether generated rules may draw a question.
type SetQuestionEnabledRequest struct {
	Enabled *bool `json:"enabled" binding:"required"`
}
