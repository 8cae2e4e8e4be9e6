package repository

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/provalivre/exam-engine/internal/model"
)

// QuestionRepository handles question data access.
type QuestionRepository struct {
	pool *pgxpool.Pool
}

// NewQuestionRepository creates a new QuestionRepository.
func NewQuestionRepository(pool *pgxpool.Pool) *QuestionRepository {
	return &QuestionRepository{pool: pool}
}

// Create inserts a question with its options and category links.
func (r *QuestionRepository) Create(ctx context.Context, q *model.Question) error {
	return withTx(ctx, r.pool, func(tx pgx.Tx) error {
		err := tx.QueryRow(ctx,
			`INSERT INTO questions (company_id, description, type, max_length, enabled)
			 VALUES ($1, $2, $3, $4, $5)
			 RETURNING id, created_at, updated_at`,
			q.CompanyID, q.Description, string(q.Type), q.MaxLength, q.Enabled,
		).Scan(&q.ID, &q.CreatedAt, &q.UpdatedAt)
		if err != nil {
			return fmt.Errorf("insert question: %w", err)
		}

		for i := range q.Options {
			opt := &q.Options[i]
			opt.QuestionID = q.ID
			if err := tx.QueryRow(ctx,
				`INSERT INTO question_options (question_id, description, is_correct)
				 VALUES ($1, $2, $3) RETURNING id`,
				q.ID, opt.Description, opt.IsCorrect,
			).Scan(&opt.ID); err != nil {
				return fmt.Errorf("insert option: %w", err)
			}
		}
		return nil
	})
}

// SetEnabled toggles whether a question can be drawn by generated rules.
func (r *QuestionRepository) SetEnabled(ctx context.Context, companyID, id int, enabled bool) error {
	tag, err := r.pool.Exec(ctx,
		`UPDATE questions SET enabled = $1, updated_at = NOW()
		 WHERE id = $2 AND company_id = $3`, enabled, id, companyID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return pgx.ErrNoRows
	}
	return nil
}

// ListByCompany returns a page of a company's questions without options.
func (r *QuestionRepository) ListByCompany(ctx context.Context, companyID, limit, offset int) ([]model.Question, int, error) {
	var total int
	if err := r.pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM questions WHERE company_id = $1`, companyID,
	).Scan(&total); err != nil {
		return nil, 0, err
	}

	rows, err := r.pool.Query(ctx,
		`SELECT q.id, q.company_id, q.description, q.type, q.max_length, q.enabled,
		        COALESCE(ARRAY_AGG(qc.category_id ORDER BY qc.category_id)
		                 FILTER (WHERE qc.category_id IS NOT NULL), '{}'),
		        q.created_at, q.updated_at
		 FROM questions q
		 LEFT JOIN question_categories qc ON qc.question_id = q.id
		 WHERE q.company_id = $1
		 GROUP BY q.id
		 ORDER BY q.id
		 LIMIT $2 OFFSET $3`, companyID, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var questions []model.Question
	for rows.Next() {
		var q model.Question
		if err := rows.Scan(&q.ID, &q.CompanyID, &q.Description, &q.Type, &q.MaxLength, &q.Enabled,
			&q.CategoryIDs, &q.CreatedAt, &q.UpdatedAt); err != nil {
			return nil, 0, fmt.Errorf("scan question: %w", err)
		}
		questions = append(questions, q)
	}
	return questions, total, rows.Err()
}

// ListCandidateIDs returns, in ascending id order, the enabled questions of
// the filter's company that match its type and are linked to at least one of
// its categories. Empty criteria match everything.
func (r *QuestionRepository) ListCandidateIDs(ctx context.Context, f model.QuestionFilter) ([]int, error) {
	var qType *string
	if f.Type != nil {
		s := string(*f.Type)
		qType = &s
	}
	categoryIDs := f.CategoryIDs
	if categoryIDs == nil {
		categoryIDs = []int{}
	}

	rows, err := r.pool.Query(ctx,
		`SELECT q.id
		 FROM questions q
		 WHERE q.company_id = $1
		   AND q.enabled
		   AND ($2::text IS NULL OR q.type = $2)
		   AND (cardinality($3::int[]) = 0 OR EXISTS (
		        SELECT 1 FROM question_categories qc
		        WHERE qc.question_id = q.id AND qc.category_id = ANY($3)))
		 ORDER BY q.id`, f.CompanyID, qType, categoryIDs)
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, pgx.RowTo[int])
}

// GetMany loads questions with their options and category ids. The result
// follows the order of ids; missing ids are skipped.
func (r *QuestionRepository) GetMany(ctx context.Context, ids []int) ([]model.Question, error) {
	if len(ids) == 0 {
		return nil, nil
	}

	rows, err := r.pool.Query(ctx,
		`SELECT q.id, q.company_id, q.description, q.type, q.max_length, q.enabled,
		        COALESCE(ARRAY_AGG(qc.category_id ORDER BY qc.category_id)
		                 FILTER (WHERE qc.category_id IS NOT NULL), '{}'),
		        q.created_at, q.updated_at
		 FROM questions q
		 LEFT JOIN question_categories qc ON qc.question_id = q.id
		 WHERE q.id = ANY($1)
		 GROUP BY q.id`, ids)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	byID := make(map[int]*model.Question, len(ids))
	for rows.Next() {
		q := &model.Question{}
		if err := rows.Scan(&q.ID, &q.CompanyID, &q.Description, &q.Type, &q.MaxLength, &q.Enabled,
			&q.CategoryIDs, &q.CreatedAt, &q.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan question: %w", err)
		}
		byID[q.ID] = q
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	optRows, err := r.pool.Query(ctx,
		`SELECT id, question_id, description, is_correct
		 FROM question_options
		 WHERE question_id = ANY($1)
		 ORDER BY question_id, id`, ids)
	if err != nil {
		return nil, err
	}
	defer optRows.Close()

	for optRows.Next() {
		var o model.QuestionOption
		if err := optRows.Scan(&o.ID, &o.QuestionID, &o.Description, &o.IsCorrect); err != nil {
			return nil, fmt.Errorf("scan option: %w", err)
		}
		if q, ok := byID[o.QuestionID]; ok {
			q.Options = append(q.Options, o)
		}
	}
	if err := optRows.Err(); err != nil {
		return nil, err
	}

	questions := make([]model.Question, 0, len(byID))
	for _, id := range ids {
		if q, ok := byID[id]; ok {
			questions = append(questions, *q)
		}
	}
	return questions, nil
}
