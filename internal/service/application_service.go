package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/provalivre/exam-engine/internal/events"
	"github.com/provalivre/exam-engine/internal/model"
	"github.com/provalivre/exam-engine/internal/repository"
	"github.com/provalivre/exam-engine/internal/response"
	"github.com/rs/zerolog"
	"github.com/xuri/excelize/v2"
)

// ApplicationStore is the application persistence used by ApplicationService.
type ApplicationStore interface {
	ApplicationSource
	Create(ctx context.Context, a *model.Application) error
	ListByCompany(ctx context.Context, companyID, limit, offset int) ([]model.Application, int, error)
	ListOpen(ctx context.Context, companyID int, now time.Time) ([]model.Application, error)
}

// ExamChecker dry-runs an exam's rules.
type ExamChecker interface {
	CheckExam(ctx context.Context, examID int) error
}

// EventLog reads the recorded lifecycle events of an attempt.
type EventLog interface {
	ListByAttempt(ctx context.Context, attemptID uuid.UUID) ([]events.AttemptEvent, error)
}

// ApplicationService schedules applications and reports on their attempts.
type ApplicationService struct {
	apps     ApplicationStore
	exams    ExamSource
	attempts AttemptStore
	checker  ExamChecker
	eventLog EventLog
	clock    Clock
	log      zerolog.Logger
}

// NewApplicationService creates a new ApplicationService.
func NewApplicationService(apps ApplicationStore, exams ExamSource, attempts AttemptStore, checker ExamChecker, eventLog EventLog, log zerolog.Logger) *ApplicationService {
	return &ApplicationService{
		apps:     apps,
		exams:    exams,
		attempts: attempts,
		checker:  checker,
		eventLog: eventLog,
		clock:    time.Now,
		log:      log.With().Str("component", "application_service").Logger(),
	}
}

// Create schedules an application of one of the company's exams. The exam
// must resolve for every attempt seed, otherwise the rule shortage is
// returned as an *InsufficientQuestionsError.
func (s *ApplicationService) Create(ctx context.Context, companyID int, req *model.CreateApplicationRequest) (*model.Application, error) {
	if !req.EndedAt.After(req.StartedAt) {
		return nil, fmt.Errorf("%w: ended_at must be after started_at", ErrInvalidApplication)
	}
	if req.Attempts < 1 {
		return nil, fmt.Errorf("%w: attempts must be at least 1", ErrInvalidApplication)
	}
	if req.LimitTime != nil && *req.LimitTime < 1 {
		return nil, fmt.Errorf("%w: limit_time must be positive", ErrInvalidApplication)
	}

	exam, err := s.exams.GetByID(ctx, req.ExamID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrExamNotFound
		}
		return nil, fmt.Errorf("get exam: %w", err)
	}
	if exam.CompanyID != companyID {
		return nil, ErrExamNotFound
	}

	if err := s.checker.CheckExam(ctx, exam.ID); err != nil {
		return nil, err
	}

	app := &model.Application{
		CompanyID:   companyID,
		ExamID:      exam.ID,
		StartedAt:   req.StartedAt.UTC(),
		EndedAt:     req.EndedAt.UTC(),
		Attempts:    req.Attempts,
		LimitTime:   req.LimitTime,
		ShowAnswers: req.ShowAnswers,
		ShowScores:  req.ShowScores,
	}
	if err := s.apps.Create(ctx, app); err != nil {
		return nil, fmt.Errorf("create application: %w", err)
	}

	s.log.Info().
		Int("application_id", app.ID).
		Int("exam_id", exam.ID).
		Time("started_at", app.StartedAt).
		Time("ended_at", app.EndedAt).
		Msg("Application scheduled")
	return app, nil
}

// Get returns an application owned by the company.
func (s *ApplicationService) Get(ctx context.Context, companyID, id int) (*model.Application, error) {
	app, err := s.apps.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrApplicationNotFound
		}
		return nil, fmt.Errorf("get application: %w", err)
	}
	if app.CompanyID != companyID {
		return nil, ErrApplicationNotFound
	}
	return app, nil
}

// List returns a page of the company's applications.
func (s *ApplicationService) List(ctx context.Context, companyID, page, perPage int) ([]model.Application, *response.Pagination, error) {
	page, perPage, limit, offset := pageWindow(page, perPage)

	apps, total, err := s.apps.ListByCompany(ctx, companyID, limit, offset)
	if err != nil {
		return nil, nil, err
	}
	if apps == nil {
		apps = []model.Application{}
	}
	return apps, newPagination(page, perPage, total), nil
}

// LobbyEntry is an open application as listed for one student.
type LobbyEntry struct {
	model.Application
	Status       model.ApplicationStatus `json:"status"`
	AttemptsUsed int                     `json:"attempts_used"`
}

// Lobby lists the company's applications that have not closed, with the
// student's derived status in each.
func (s *ApplicationService) Lobby(ctx context.Context, companyID, studentID int) ([]LobbyEntry, error) {
	now := s.clock()
	apps, err := s.apps.ListOpen(ctx, companyID, now)
	if err != nil {
		return nil, fmt.Errorf("list open applications: %w", err)
	}

	entries := make([]LobbyEntry, 0, len(apps))
	for i := range apps {
		app := &apps[i]
		latest, err := latestAttempt(ctx, s.attempts, app.ID, studentID)
		if err != nil {
			return nil, err
		}
		used, err := countAttempts(ctx, s.attempts, app, studentID)
		if err != nil {
			return nil, err
		}
		entries = append(entries, LobbyEntry{
			Application:  *app,
			Status:       DeriveStatus(app, latest, now),
			AttemptsUsed: used,
		})
	}
	return entries, nil
}

// AttemptSummary is one attempt row in an application's results.
type AttemptSummary struct {
	AttemptID     uuid.UUID               `json:"attempt_id"`
	StudentID     int                     `json:"student_id"`
	Status        model.ApplicationStatus `json:"status"`
	InitializedAt time.Time               `json:"initialized_at"`
	SubmittedAt   *time.Time              `json:"submitted_at,omitempty"`
	QuestionCount int                     `json:"question_count"`
	AnswerCount   int                     `json:"answer_count"`
}

// Results lists every attempt of an application with its derived status.
func (s *ApplicationService) Results(ctx context.Context, companyID, applicationID int) ([]AttemptSummary, error) {
	app, err := s.Get(ctx, companyID, applicationID)
	if err != nil {
		return nil, err
	}

	rows, err := s.attempts.ListResults(ctx, app.ID)
	if err != nil {
		return nil, fmt.Errorf("list results: %w", err)
	}

	now := s.clock()
	summaries := make([]AttemptSummary, 0, len(rows))
	for _, r := range rows {
		summaries = append(summaries, AttemptSummary{
			AttemptID:     r.AttemptID,
			StudentID:     r.StudentID,
			Status:        DeriveStatus(app, resultAttempt(&r), now),
			InitializedAt: r.InitializedAt,
			SubmittedAt:   r.SubmittedAt,
			QuestionCount: r.QuestionCount,
			AnswerCount:   r.AnswerCount,
		})
	}
	return summaries, nil
}

// AttemptEvents returns the audit trail of one attempt of the application.
func (s *ApplicationService) AttemptEvents(ctx context.Context, companyID, applicationID int, attemptID uuid.UUID) ([]events.AttemptEvent, error) {
	app, err := s.Get(ctx, companyID, applicationID)
	if err != nil {
		return nil, err
	}

	attempt, err := s.attempts.GetAttempt(ctx, attemptID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrAttemptNotFound
		}
		return nil, fmt.Errorf("get attempt: %w", err)
	}
	if attempt.ApplicationID != app.ID {
		return nil, ErrAttemptNotFound
	}

	list, err := s.eventLog.ListByAttempt(ctx, attemptID)
	if err != nil {
		return nil, fmt.Errorf("list attempt events: %w", err)
	}
	if list == nil {
		list = []events.AttemptEvent{}
	}
	return list, nil
}

// resultAttempt rebuilds the parts of an attempt that DeriveStatus reads.
func resultAttempt(r *repository.AttemptResult) *model.Attempt {
	a := &model.Attempt{
		ID:            r.AttemptID,
		StudentID:     r.StudentID,
		InitializedAt: r.InitializedAt,
		SubmittedAt:   r.SubmittedAt,
	}
	if r.HasDiscursive {
		a.Questions = []model.ResolvedQuestion{{Type: model.QuestionTypeDiscursive}}
	}
	return a
}

var resultHeaders = []string{
	"Attempt ID", "Student ID", "Status", "Initialized At", "Submitted At", "Questions", "Answered",
}

// ExportResults renders an application's results as an .xlsx workbook.
func (s *ApplicationService) ExportResults(ctx context.Context, companyID, applicationID int) ([]byte, error) {
	summaries, err := s.Results(ctx, companyID, applicationID)
	if err != nil {
		return nil, err
	}

	f := excelize.NewFile()
	defer f.Close()

	const sheet = "Results"
	index, err := f.NewSheet(sheet)
	if err != nil {
		return nil, fmt.Errorf("create sheet: %w", err)
	}
	f.SetActiveSheet(index)
	if err := f.DeleteSheet("Sheet1"); err != nil {
		return nil, fmt.Errorf("delete default sheet: %w", err)
	}

	for i, h := range resultHeaders {
		cell, _ := excelize.CoordinatesToCellName(i+1, 1)
		if err := f.SetCellValue(sheet, cell, h); err != nil {
			return nil, fmt.Errorf("write header: %w", err)
		}
	}

	for rowIdx, r := range summaries {
		submitted := ""
		if r.SubmittedAt != nil {
			submitted = r.SubmittedAt.UTC().Format(time.RFC3339)
		}
		row := []interface{}{
			r.AttemptID.String(),
			r.StudentID,
			string(r.Status),
			r.InitializedAt.UTC().Format(time.RFC3339),
			submitted,
			r.QuestionCount,
			r.AnswerCount,
		}
		cell, _ := excelize.CoordinatesToCellName(1, rowIdx+2)
		if err := f.SetSheetRow(sheet, cell, &row); err != nil {
			return nil, fmt.Errorf("write row %d: %w", rowIdx+2, err)
		}
	}

	buf, err := f.WriteToBuffer()
	if err != nil {
		return nil, fmt.Errorf("write workbook: %w", err)
	}
	return buf.Bytes(), nil
}
