package repository

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/provalivre/exam-engine/internal/model"
)

// CategoryTx is the category surface available inside a transaction.
type CategoryTx interface {
	GetByID(ctx context.Context, id int) (*model.Category, error)
	LockCategory(ctx context.Context, id int) error
	ListChildIDs(ctx context.Context, parentID int) ([]int, error)
	QuestionCompanyID(ctx context.Context, questionID int) (int, error)
	CountQuestionLinks(ctx context.Context, questionID int, categoryIDs []int) (int, error)
	LinkQuestion(ctx context.Context, questionID, categoryID int) error
}

// CategoryRepository handles category and question-category link data access.
type CategoryRepository struct {
	pool *pgxpool.Pool
	db   DBTX
}

// NewCategoryRepository creates a new CategoryRepository.
func NewCategoryRepository(pool *pgxpool.Pool) *CategoryRepository {
	return &CategoryRepository{pool: pool, db: pool}
}

// InTx runs fn with a repository bound to a single transaction.
func (r *CategoryRepository) InTx(ctx context.Context, fn func(tx CategoryTx) error) error {
	return withTx(ctx, r.pool, func(tx pgx.Tx) error {
		return fn(&CategoryRepository{pool: r.pool, db: tx})
	})
}

// GetByID retrieves a category by ID.
func (r *CategoryRepository) GetByID(ctx context.Context, id int) (*model.Category, error) {
	c := &model.Category{}
	err := r.db.QueryRow(ctx,
		`SELECT id, company_id, name, parent_id, allow_multiple_selection, created_at, updated_at
		 FROM categories WHERE id = $1`, id,
	).Scan(&c.ID, &c.CompanyID, &c.Name, &c.ParentID, &c.AllowMultipleSelection, &c.CreatedAt, &c.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return c, nil
}

// LockCategory takes a row lock on a category until the transaction ends.
// Writers linking questions under the same parent serialize on it.
func (r *CategoryRepository) LockCategory(ctx context.Context, id int) error {
	var locked int
	return r.db.QueryRow(ctx,
		`SELECT id FROM categories WHERE id = $1 FOR UPDATE`, id,
	).Scan(&locked)
}

// ListChildIDs returns the ids of the direct children of a category.
func (r *CategoryRepository) ListChildIDs(ctx context.Context, parentID int) ([]int, error) {
	rows, err := r.db.Query(ctx,
		`SELECT id FROM categories WHERE parent_id = $1 ORDER BY id`, parentID)
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, pgx.RowTo[int])
}

// QuestionCompanyID returns the owning company of a question.
func (r *CategoryRepository) QuestionCompanyID(ctx context.Context, questionID int) (int, error) {
	var companyID int
	err := r.db.QueryRow(ctx,
		`SELECT company_id FROM questions WHERE id = $1`, questionID,
	).Scan(&companyID)
	return companyID, err
}

// CountQuestionLinks counts how many of categoryIDs the question is linked to.
func (r *CategoryRepository) CountQuestionLinks(ctx context.Context, questionID int, categoryIDs []int) (int, error) {
	if len(categoryIDs) == 0 {
		return 0, nil
	}
	var n int
	err := r.db.QueryRow(ctx,
		`SELECT COUNT(*) FROM question_categories
		 WHERE question_id = $1 AND category_id = ANY($2)`, questionID, categoryIDs,
	).Scan(&n)
	return n, err
}

// LinkQuestion attaches a question to a category. Re-linking is a no-op.
func (r *CategoryRepository) LinkQuestion(ctx context.Context, questionID, categoryID int) error {
	_, err := r.db.Exec(ctx,
		`INSERT INTO question_categories (question_id, category_id)
		 VALUES ($1, $2)
		 ON CONFLICT (question_id, category_id) DO NOTHING`, questionID, categoryID)
	return err
}

// UnlinkQuestion detaches a question from a category.
func (r *CategoryRepository) UnlinkQuestion(ctx context.Context, questionID, categoryID int) error {
	_, err := r.db.Exec(ctx,
		`DELETE FROM question_categories WHERE question_id = $1 AND category_id = $2`,
		questionID, categoryID)
	return err
}

// Create inserts a new category.
func (r *CategoryRepository) Create(ctx context.Context, c *model.Category) error {
	return r.db.QueryRow(ctx,
		`INSERT INTO categories (company_id, name, parent_id, allow_multiple_selection)
		 VALUES ($1, $2, $3, $4)
		 RETURNING id, created_at, updated_at`,
		c.CompanyID, c.Name, c.ParentID, c.AllowMultipleSelection,
	).Scan(&c.ID, &c.CreatedAt, &c.UpdatedAt)
}

// ListByCompany returns every category of a company, parents before children.
func (r *CategoryRepository) ListByCompany(ctx context.Context, companyID int) ([]model.Category, error) {
	rows, err := r.db.Query(ctx,
		`SELECT id, company_id, name, parent_id, allow_multiple_selection, created_at, updated_at
		 FROM categories
		 WHERE company_id = $1
		 ORDER BY parent_id NULLS FIRST, name, id`, companyID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var categories []model.Category
	for rows.Next() {
		var c model.Category
		if err := rows.Scan(&c.ID, &c.CompanyID, &c.Name, &c.ParentID, &c.AllowMultipleSelection, &c.CreatedAt, &c.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan category: %w", err)
		}
		categories = append(categories, c)
	}
	return categories, rows.Err()
}

// Delete removes a category. Its subtree and question links cascade.
func (r *CategoryRepository) Delete(ctx context.Context, companyID, id int) error {
	tag, err := r.db.Exec(ctx,
		`DELETE FROM categories WHERE id = $1 AND company_id = $2`, id, companyID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return pgx.ErrNoRows
	}
	return nil
}
