package service

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/provalivre/exam-engine/internal/model"
	"github.com/provalivre/exam-engine/internal/repository"
)

// CategoryStore is the category persistence used by CategoryService.
type CategoryStore interface {
	repository.CategoryTx
	InTx(ctx context.Context, fn func(tx repository.CategoryTx) error) error
	UnlinkQuestion(ctx context.Context, questionID, categoryID int) error
	Create(ctx context.Context, c *model.Category) error
	ListByCompany(ctx context.Context, companyID int) ([]model.Category, error)
	Delete(ctx context.Context, companyID, id int) error
}

// CategoryService manages the category tree and question-category links.
type CategoryService struct {
	store CategoryStore
}

// NewCategoryService creates a new CategoryService.
func NewCategoryService(store CategoryStore) *CategoryService {
	return &CategoryService{store: store}
}

// ValidateCategoryAssignment checks whether a question may be linked to a
// category. When the category's parent does not allow multiple selection and
// the question is already linked to any child of that parent, it returns a
// *ConstraintError naming the parent. Root categories and multiple-selection
// parents always pass. Nothing is written.
func (s *CategoryService) ValidateCategoryAssignment(ctx context.Context, companyID, questionID, categoryID int) error {
	return validateAssignment(ctx, s.store, companyID, questionID, categoryID)
}

// AssignCategory links a question to a category. The parent row is locked for
// the duration of the check and insert, so two concurrent assignments under a
// single-selection parent cannot both pass validation.
func (s *CategoryService) AssignCategory(ctx context.Context, companyID, questionID, categoryID int) error {
	return s.store.InTx(ctx, func(tx repository.CategoryTx) error {
		cat, err := tx.GetByID(ctx, categoryID)
		if err != nil {
			return categoryLookupErr(err)
		}
		if cat.ParentID != nil {
			if err := tx.LockCategory(ctx, *cat.ParentID); err != nil {
				return fmt.Errorf("lock parent category: %w", err)
			}
		}

		if err := validateAssignment(ctx, tx, companyID, questionID, categoryID); err != nil {
			return err
		}

		if err := tx.LinkQuestion(ctx, questionID, categoryID); err != nil {
			return fmt.Errorf("link question: %w", err)
		}
		return nil
	})
}

// UnassignCategory removes a question-category link.
func (s *CategoryService) UnassignCategory(ctx context.Context, companyID, questionID, categoryID int) error {
	cat, err := s.store.GetByID(ctx, categoryID)
	if err != nil {
		return categoryLookupErr(err)
	}
	if cat.CompanyID != companyID {
		return ErrCategoryNotFound
	}
	if err := checkQuestionOwner(ctx, s.store, companyID, questionID); err != nil {
		return err
	}
	return s.store.UnlinkQuestion(ctx, questionID, categoryID)
}

func checkQuestionOwner(ctx context.Context, tx repository.CategoryTx, companyID, questionID int) error {
	owner, err := tx.QuestionCompanyID(ctx, questionID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return ErrQuestionNotFound
		}
		return fmt.Errorf("get question: %w", err)
	}
	if owner != companyID {
		return ErrQuestionNotFound
	}
	return nil
}

func validateAssignment(ctx context.Context, tx repository.CategoryTx, companyID, questionID, categoryID int) error {
	cat, err := tx.GetByID(ctx, categoryID)
	if err != nil {
		return categoryLookupErr(err)
	}
	if cat.CompanyID != companyID {
		return ErrCategoryNotFound
	}

	if err := checkQuestionOwner(ctx, tx, companyID, questionID); err != nil {
		return err
	}

	if cat.ParentID == nil {
		return nil
	}

	parent, err := tx.GetByID(ctx, *cat.ParentID)
	if err != nil {
		return categoryLookupErr(err)
	}
	if parent.AllowMultipleSelection {
		return nil
	}

	siblings, err := tx.ListChildIDs(ctx, parent.ID)
	if err != nil {
		return fmt.Errorf("list sibling categories: %w", err)
	}
	linked, err := tx.CountQuestionLinks(ctx, questionID, siblings)
	if err != nil {
		return fmt.Errorf("count question links: %w", err)
	}
	if linked >= 1 {
		return &ConstraintError{ParentID: parent.ID, ParentName: parent.Name}
	}
	return nil
}

// CreateCategory adds a category under an optional parent of the same company.
func (s *CategoryService) CreateCategory(ctx context.Context, companyID int, req *model.CreateCategoryRequest) (*model.Category, error) {
	name := strings.TrimSpace(req.Name)
	if name == "" {
		return nil, fmt.Errorf("%w: name is required", ErrInvalidCategory)
	}

	if req.ParentID != nil {
		parent, err := s.store.GetByID(ctx, *req.ParentID)
		if err != nil {
			return nil, categoryLookupErr(err)
		}
		if parent.CompanyID != companyID {
			return nil, ErrCategoryNotFound
		}
	}

	c := &model.Category{
		CompanyID:              companyID,
		Name:                   name,
		ParentID:               req.ParentID,
		AllowMultipleSelection: req.AllowMultipleSelection,
	}
	if err := s.store.Create(ctx, c); err != nil {
		return nil, fmt.Errorf("create category: %w", err)
	}
	return c, nil
}

// ListCategories returns a company's categories flat, parents first.
func (s *CategoryService) ListCategories(ctx context.Context, companyID int) ([]model.Category, error) {
	categories, err := s.store.ListByCompany(ctx, companyID)
	if err != nil {
		return nil, err
	}
	if categories == nil {
		categories = []model.Category{}
	}
	return categories, nil
}

// Tree returns a company's categories nested under their parents.
func (s *CategoryService) Tree(ctx context.Context, companyID int) ([]*model.CategoryNode, error) {
	categories, err := s.ListCategories(ctx, companyID)
	if err != nil {
		return nil, err
	}
	return BuildTree(categories), nil
}

// DeleteCategory removes a category with its subtree. Question links to the
// removed categories are detached.
func (s *CategoryService) DeleteCategory(ctx context.Context, companyID, id int) error {
	if err := s.store.Delete(ctx, companyID, id); err != nil {
		return categoryLookupErr(err)
	}
	return nil
}

// BuildTree nests a flat category list. Categories whose parent is missing
// from the list are treated as roots. Sibling order follows the input.
func BuildTree(categories []model.Category) []*model.CategoryNode {
	nodes := make(map[int]*model.CategoryNode, len(categories))
	for _, c := range categories {
		nodes[c.ID] = &model.CategoryNode{Category: c, Children: []*model.CategoryNode{}}
	}

	roots := []*model.CategoryNode{}
	for _, c := range categories {
		node := nodes[c.ID]
		if c.ParentID != nil {
			if parent, ok := nodes[*c.ParentID]; ok {
				parent.Children = append(parent.Children, node)
				continue
			}
		}
		roots = append(roots, node)
	}
	return roots
}

func categoryLookupErr(err error) error {
	if errors.Is(err, pgx.ErrNoRows) {
		return ErrCategoryNotFound
	}
	return fmt.Errorf("get category: %w", err)
}
