package service

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/provalivre/exam-engine/internal/model"
	"github.com/provalivre/exam-engine/internal/response"
)

// QuestionStore is the question persistence used by QuestionService.
type QuestionStore interface {
	QuestionSource
	Create(ctx context.Context, q *model.Question) error
	SetEnabled(ctx context.Context, companyID, id int, enabled bool) error
	ListByCompany(ctx context.Context, companyID, limit, offset int) ([]model.Question, int, error)
}

// CreateQuestionRequest is the payload for authoring a question.
type CreateQuestionRequest struct {
	Description string                 `json:"description" binding:"required,min=1"`
	Type        string                 `json:"type" binding:"required,question_type"`
	MaxLength   *int                   `json:"max_length" binding:"omitempty,min=1"`
	Options     []CreateQuestionOption `json:"options" binding:"omitempty,dive"`
}

// CreateQuestionOption is one option of a new options-type question.
type CreateQuestionOption struct {
	Description string `json:"description" binding:"required"`
	IsCorrect   bool   `json:"is_correct"`
}

// QuestionService handles question authoring.
type QuestionService struct {
	store QuestionStore
}

// NewQuestionService creates a new QuestionService.
func NewQuestionService(store QuestionStore) *QuestionService {
	return &QuestionService{store: store}
}

// Create adds an enabled question. Options questions need at least two
// options with one marked correct; discursive questions take none.
func (s *QuestionService) Create(ctx context.Context, companyID int, req *CreateQuestionRequest) (*model.Question, error) {
	q := &model.Question{
		CompanyID:   companyID,
		Description: strings.TrimSpace(req.Description),
		Type:        model.QuestionType(req.Type),
		Enabled:     true,
	}
	if q.Description == "" {
		return nil, fmt.Errorf("%w: description is required", ErrInvalidQuestion)
	}

	switch q.Type {
	case model.QuestionTypeDiscursive:
		if len(req.Options) > 0 {
			return nil, fmt.Errorf("%w: discursive questions have no options", ErrInvalidQuestion)
		}
		q.MaxLength = req.MaxLength
	case model.QuestionTypeOptions:
		if req.MaxLength != nil {
			return nil, fmt.Errorf("%w: max_length applies to discursive questions only", ErrInvalidQuestion)
		}
		if len(req.Options) < 2 {
			return nil, fmt.Errorf("%w: options questions need at least two options", ErrInvalidQuestion)
		}
		correct := 0
		for _, o := range req.Options {
			if o.IsCorrect {
				correct++
			}
			q.Options = append(q.Options, model.QuestionOption{Description: o.Description, IsCorrect: o.IsCorrect})
		}
		if correct == 0 {
			return nil, fmt.Errorf("%w: at least one option must be correct", ErrInvalidQuestion)
		}
	default:
		return nil, fmt.Errorf("%w: unknown type %q", ErrInvalidQuestion, req.Type)
	}

	if err := s.store.Create(ctx, q); err != nil {
		return nil, fmt.Errorf("create question: %w", err)
	}
	return q, nil
}

// Get returns a question of the company with its options.
func (s *QuestionService) Get(ctx context.Context, companyID, id int) (*model.Question, error) {
	found, err := s.store.GetMany(ctx, []int{id})
	if err != nil {
		return nil, fmt.Errorf("get question: %w", err)
	}
	if len(found) == 0 || found[0].CompanyID != companyID {
		return nil, ErrQuestionNotFound
	}
	return &found[0], nil
}

// List returns a page of the company's questions.
func (s *QuestionService) List(ctx context.Context, companyID, page, perPage int) ([]model.Question, *response.Pagination, error) {
	page, perPage, limit, offset := pageWindow(page, perPage)

	questions, total, err := s.store.ListByCompany(ctx, companyID, limit, offset)
	if err != nil {
		return nil, nil, err
	}
	if questions == nil {
		questions = []model.Question{}
	}
	return questions, newPagination(page, perPage, total), nil
}

// SetEnabled toggles whether generated rules may draw the question. Existing
// attempt snapshots are unaffected.
func (s *QuestionService) SetEnabled(ctx context.Context, companyID, id int, enabled bool) error {
	if err := s.store.SetEnabled(ctx, companyID, id, enabled); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return ErrQuestionNotFound
		}
		return fmt.Errorf("set question enabled: %w", err)
	}
	return nil
}
