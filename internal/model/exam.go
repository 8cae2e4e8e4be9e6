package model

import "time"

// Exam is a company-owned exam composed from ordered exam rules.
type Exam struct {
	ID          int       `json:"id"`
	CompanyID   int       `json:"company_id"`
	Title       string    `json:"title"`
	Description string    `json:"description"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// ExamRule selects questions into an exam: either a pinned question or
// QuestionsCount questions drawn from a filtered pool.
type ExamRule struct {
	ID             int           `json:"id"`
	ExamID         int           `json:"exam_id"`
	QuestionID     *int          `json:"question_id,omitempty"`
	QuestionsCount int           `json:"questions_count"`
	QuestionType   *QuestionType `json:"question_type,omitempty"`
	CategoryIDs    []int         `json:"category_ids"`
	Score          *float64      `json:"score,omitempty"`
}

// Pinned reports whether the rule always emits one fixed question.
func (r *ExamRule) Pinned() bool {
	return r.QuestionID != nil
}

// CreateExamRequest is the payload for creating an exam.
type CreateExamRequest struct {
	Title       string `json:"title" binding:"required,min=3,max=255"`
	Description string `json:"description" binding:"omitempty,max=5000"`
}

// AddExamRuleRequest is the payload for appending a rule to an exam.
type AddExamRuleRequest struct {
	QuestionID     *int     `json:"question_id" binding:"omitempty,min=1"`
	QuestionsCount int      `json:"questions_count" binding:"omitempty,min=1,max=500"`
	QuestionType   *string  `json:"question_type" binding:"omitempty,question_type"`
	CategoryIDs    []int    `json:"category_ids" binding:"omitempty,dive,min=1"`
	Score          *float64 `json:"score" binding:"omitempty,min=0"`
}
