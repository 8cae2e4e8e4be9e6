package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/provalivre/exam-engine/internal/model"
)

// ApplicationRepository handles application data access.
type ApplicationRepository struct {
	pool *pgxpool.Pool
}

// NewApplicationRepository creates a new ApplicationRepository.
func NewApplicationRepository(pool *pgxpool.Pool) *ApplicationRepository {
	return &ApplicationRepository{pool: pool}
}

const applicationColumns = `id, company_id, exam_id, started_at, ended_at, attempts, limit_time,
	show_answers, show_scores, created_at, updated_at`

func scanApplication(row interface{ Scan(dest ...any) error }, a *model.Application) error {
	return row.Scan(&a.ID, &a.CompanyID, &a.ExamID, &a.StartedAt, &a.EndedAt, &a.Attempts, &a.LimitTime,
		&a.ShowAnswers, &a.ShowScores, &a.CreatedAt, &a.UpdatedAt)
}

// Create inserts a new application.
func (r *ApplicationRepository) Create(ctx context.Context, a *model.Application) error {
	return r.pool.QueryRow(ctx,
		`INSERT INTO applications (company_id, exam_id, started_at, ended_at, attempts, limit_time, show_answers, show_scores)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		 RETURNING id, created_at, updated_at`,
		a.CompanyID, a.ExamID, a.StartedAt.UTC(), a.EndedAt.UTC(), a.Attempts, a.LimitTime, a.ShowAnswers, a.ShowScores,
	).Scan(&a.ID, &a.CreatedAt, &a.UpdatedAt)
}

// GetByID retrieves an application by ID.
func (r *ApplicationRepository) GetByID(ctx context.Context, id int) (*model.Application, error) {
	a := &model.Application{}
	err := scanApplication(r.pool.QueryRow(ctx,
		`SELECT `+applicationColumns+` FROM applications WHERE id = $1`, id), a)
	if err != nil {
		return nil, err
	}
	return a, nil
}

// ListByCompany returns a page of a company's applications, latest window first.
func (r *ApplicationRepository) ListByCompany(ctx context.Context, companyID, limit, offset int) ([]model.Application, int, error) {
	var total int
	if err := r.pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM applications WHERE company_id = $1`, companyID,
	).Scan(&total); err != nil {
		return nil, 0, err
	}

	rows, err := r.pool.Query(ctx,
		`SELECT `+applicationColumns+`
		 FROM applications
		 WHERE company_id = $1
		 ORDER BY started_at DESC, id DESC
		 LIMIT $2 OFFSET $3`, companyID, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var apps []model.Application
	for rows.Next() {
		var a model.Application
		if err := scanApplication(rows, &a); err != nil {
			return nil, 0, fmt.Errorf("scan application: %w", err)
		}
		apps = append(apps, a)
	}
	return apps, total, rows.Err()
}

// ListOpen returns a company's applications whose window has not closed,
// soonest first. Students use it as their lobby.
func (r *ApplicationRepository) ListOpen(ctx context.Context, companyID int, now time.Time) ([]model.Application, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT `+applicationColumns+`
		 FROM applications
		 WHERE company_id = $1 AND ended_at > $2
		 ORDER BY started_at, id`, companyID, now)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var apps []model.Application
	for rows.Next() {
		var a model.Application
		if err := scanApplication(rows, &a); err != nil {
			return nil, fmt.Errorf("scan application: %w", err)
		}
		apps = append(apps, a)
	}
	return apps, rows.Err()
}
