package model

import "time"

// Application is a scheduled, timed instance of an exam assigned to students.
type Application struct {
	ID          int       `json:"id"`
	CompanyID   int       `json:"company_id"`
	ExamID      int       `json:"exam_id"`
	StartedAt   time.Time `json:"started_at"`
	EndedAt     time.Time `json:"ended_at"`
	Attempts    int       `json:"attempts"`
	LimitTime   *int      `json:"limit_time,omitempty"` // minutes per attempt
	ShowAnswers bool      `json:"show_answers"`
	ShowScores  bool      `json:"show_scores"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// TimeLimit returns the per-attempt budget, or zero when unlimited.
func (a *Application) TimeLimit() time.Duration {
	if a.LimitTime == nil {
		return 0
	}
	return time.Duration(*a.LimitTime) * time.Minute
}

// CreateApplicationRequest is the payload for scheduling an application.
type CreateApplicationRequest struct {
	ExamID      int       `json:"exam_id" binding:"required,min=1"`
	StartedAt   time.Time `json:"started_at" binding:"required"`
	EndedAt     time.Time `json:"ended_at" binding:"required,gtfield=StartedAt"`
	Attempts    int       `json:"attempts" binding:"required,min=1,max=100"`
	LimitTime   *int      `json:"limit_time" binding:"omitempty,min=1,max=1440"`
	ShowAnswers bool      `json:"show_answers"`
	ShowScores  bool      `json:"show_scores"`
}
