package repository

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/provalivre/exam-engine/internal/model"
)

// ExamRepository handles exam and exam rule data access.
type ExamRepository struct {
	pool *pgxpool.Pool
}

// NewExamRepository creates a new ExamRepository.
func NewExamRepository(pool *pgxpool.Pool) *ExamRepository {
	return &ExamRepository{pool: pool}
}

// Create inserts a new exam.
func (r *ExamRepository) Create(ctx context.Context, e *model.Exam) error {
	return r.pool.QueryRow(ctx,
		`INSERT INTO exams (company_id, title, description)
		 VALUES ($1, $2, $3)
		 RETURNING id, created_at, updated_at`,
		e.CompanyID, e.Title, e.Description,
	).Scan(&e.ID, &e.CreatedAt, &e.UpdatedAt)
}

// GetByID retrieves an exam by ID.
func (r *ExamRepository) GetByID(ctx context.Context, id int) (*model.Exam, error) {
	e := &model.Exam{}
	err := r.pool.QueryRow(ctx,
		`SELECT id, company_id, title, description, created_at, updated_at
		 FROM exams WHERE id = $1`, id,
	).Scan(&e.ID, &e.CompanyID, &e.Title, &e.Description, &e.CreatedAt, &e.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return e, nil
}

// ListByCompany returns a page of a company's exams, newest first.
func (r *ExamRepository) ListByCompany(ctx context.Context, companyID, limit, offset int) ([]model.Exam, int, error) {
	var total int
	if err := r.pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM exams WHERE company_id = $1`, companyID,
	).Scan(&total); err != nil {
		return nil, 0, err
	}

	rows, err := r.pool.Query(ctx,
		`SELECT id, company_id, title, description, created_at, updated_at
		 FROM exams
		 WHERE company_id = $1
		 ORDER BY created_at DESC, id DESC
		 LIMIT $2 OFFSET $3`, companyID, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var exams []model.Exam
	for rows.Next() {
		var e model.Exam
		if err := rows.Scan(&e.ID, &e.CompanyID, &e.Title, &e.Description, &e.CreatedAt, &e.UpdatedAt); err != nil {
			return nil, 0, fmt.Errorf("scan exam: %w", err)
		}
		exams = append(exams, e)
	}
	return exams, total, rows.Err()
}

// AddRule appends a rule to an exam. Rules resolve in id order.
func (r *ExamRepository) AddRule(ctx context.Context, rule *model.ExamRule) error {
	var qType *string
	if rule.QuestionType != nil {
		s := string(*rule.QuestionType)
		qType = &s
	}
	categoryIDs := rule.CategoryIDs
	if categoryIDs == nil {
		categoryIDs = []int{}
	}
	return r.pool.QueryRow(ctx,
		`INSERT INTO exam_rules (exam_id, question_id, questions_count, question_type, category_ids, score)
		 VALUES ($1, $2, $3, $4, $5, $6)
		 RETURNING id`,
		rule.ExamID, rule.QuestionID, rule.QuestionsCount, qType, categoryIDs, rule.Score,
	).Scan(&rule.ID)
}

// ListRules returns an exam's rules in definition order.
func (r *ExamRepository) ListRules(ctx context.Context, examID int) ([]model.ExamRule, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT id, exam_id, question_id, questions_count, question_type, category_ids, score::float8
		 FROM exam_rules
		 WHERE exam_id = $1
		 ORDER BY id`, examID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var rules []model.ExamRule
	for rows.Next() {
		var rule model.ExamRule
		if err := rows.Scan(&rule.ID, &rule.ExamID, &rule.QuestionID, &rule.QuestionsCount,
			&rule.QuestionType, &rule.CategoryIDs, &rule.Score); err != nil {
			return nil, fmt.Errorf("scan exam rule: %w", err)
		}
		rules = append(rules, rule)
	}
	return rules, rows.Err()
}

// DeleteRule removes a rule from an exam.
func (r *ExamRepository) DeleteRule(ctx context.Context, examID, ruleID int) error {
	tag, err := r.pool.Exec(ctx,
		`DELETE FROM exam_rules WHERE id = $1 AND exam_id = $2`, ruleID, examID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return pgx.ErrNoRows
	}
	return nil
}
