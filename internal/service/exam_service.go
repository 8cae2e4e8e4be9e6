package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/provalivre/exam-engine/internal/model"
	"github.com/provalivre/exam-engine/internal/response"
	"github.com/rs/zerolog"
)

// ExamStore is the exam persistence used by ExamService.
type ExamStore interface {
	ExamSource
	Create(ctx context.Context, e *model.Exam) error
	ListByCompany(ctx context.Context, companyID, limit, offset int) ([]model.Exam, int, error)
	AddRule(ctx context.Context, rule *model.ExamRule) error
	DeleteRule(ctx context.Context, examID, ruleID int) error
}

// ExamService handles exam authoring.
type ExamService struct {
	exams     ExamStore
	questions QuestionSource
	resolver  *RuleResolver
	log       zerolog.Logger
}

// NewExamService creates a new ExamService.
func NewExamService(exams ExamStore, questions QuestionSource, resolver *RuleResolver, log zerolog.Logger) *ExamService {
	return &ExamService{
		exams:     exams,
		questions: questions,
		resolver:  resolver,
		log:       log.With().Str("component", "exam_service").Logger(),
	}
}

// Create inserts a new exam for the company.
func (s *ExamService) Create(ctx context.Context, companyID int, req *model.CreateExamRequest) (*model.Exam, error) {
	exam := &model.Exam{
		CompanyID:   companyID,
		Title:       req.Title,
		Description: req.Description,
	}
	if err := s.exams.Create(ctx, exam); err != nil {
		return nil, fmt.Errorf("create exam: %w", err)
	}
	return exam, nil
}

// Get returns an exam owned by the company.
func (s *ExamService) Get(ctx context.Context, companyID, examID int) (*model.Exam, error) {
	exam, err := s.exams.GetByID(ctx, examID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrExamNotFound
		}
		return nil, fmt.Errorf("get exam: %w", err)
	}
	if exam.CompanyID != companyID {
		return nil, ErrExamNotFound
	}
	return exam, nil
}

// List returns a page of the company's exams.
func (s *ExamService) List(ctx context.Context, companyID, page, perPage int) ([]model.Exam, *response.Pagination, error) {
	page, perPage, limit, offset := pageWindow(page, perPage)

	exams, total, err := s.exams.ListByCompany(ctx, companyID, limit, offset)
	if err != nil {
		return nil, nil, err
	}
	if exams == nil {
		exams = []model.Exam{}
	}
	return exams, newPagination(page, perPage, total), nil
}

// Rules returns an exam's rules in resolution order.
func (s *ExamService) Rules(ctx context.Context, companyID, examID int) ([]model.ExamRule, error) {
	if _, err := s.Get(ctx, companyID, examID); err != nil {
		return nil, err
	}
	rules, err := s.exams.ListRules(ctx, examID)
	if err != nil {
		return nil, fmt.Errorf("list exam rules: %w", err)
	}
	if rules == nil {
		rules = []model.ExamRule{}
	}
	return rules, nil
}

// AddRule appends a rule. A pinned rule names one question of the company
// and nothing else; a generated rule asks for at least one question and may
// narrow the pool by type and categories.
func (s *ExamService) AddRule(ctx context.Context, companyID, examID int, req *model.AddExamRuleRequest) (*model.ExamRule, error) {
	if _, err := s.Get(ctx, companyID, examID); err != nil {
		return nil, err
	}

	rule := &model.ExamRule{
		ExamID:      examID,
		CategoryIDs: req.CategoryIDs,
		Score:       req.Score,
	}
	if req.QuestionType != nil {
		t := model.QuestionType(*req.QuestionType)
		if !t.Valid() {
			return nil, fmt.Errorf("%w: unknown question type %q", ErrInvalidExamRule, *req.QuestionType)
		}
		rule.QuestionType = &t
	}

	if req.QuestionID != nil {
		if req.QuestionsCount > 1 || rule.QuestionType != nil || len(req.CategoryIDs) > 0 {
			return nil, fmt.Errorf("%w: a pinned rule selects exactly one question and takes no filters", ErrInvalidExamRule)
		}
		found, err := s.questions.GetMany(ctx, []int{*req.QuestionID})
		if err != nil {
			return nil, fmt.Errorf("get question: %w", err)
		}
		if len(found) == 0 || found[0].CompanyID != companyID {
			return nil, ErrQuestionNotFound
		}

		existing, err := s.exams.ListRules(ctx, examID)
		if err != nil {
			return nil, fmt.Errorf("list exam rules: %w", err)
		}
		for _, r := range existing {
			if r.Pinned() && *r.QuestionID == *req.QuestionID {
				return nil, fmt.Errorf("%w: question %d is already pinned", ErrInvalidExamRule, *req.QuestionID)
			}
		}
		rule.QuestionID = req.QuestionID
		rule.QuestionsCount = 1
	} else {
		if req.QuestionsCount < 1 {
			return nil, fmt.Errorf("%w: questions_count must be at least 1", ErrInvalidExamRule)
		}
		rule.QuestionsCount = req.QuestionsCount
	}

	if err := s.exams.AddRule(ctx, rule); err != nil {
		return nil, fmt.Errorf("add exam rule: %w", err)
	}

	s.log.Info().
		Int("exam_id", examID).
		Int("rule_id", rule.ID).
		Bool("pinned", rule.Pinned()).
		Msg("Exam rule added")
	return rule, nil
}

// DeleteRule removes a rule from an exam.
func (s *ExamService) DeleteRule(ctx context.Context, companyID, examID, ruleID int) error {
	if _, err := s.Get(ctx, companyID, examID); err != nil {
		return err
	}
	if err := s.exams.DeleteRule(ctx, examID, ruleID); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return fmt.Errorf("%w: rule %d not found", ErrInvalidExamRule, ruleID)
		}
		return fmt.Errorf("delete exam rule: %w", err)
	}
	return nil
}

// Check dry-runs rule resolution so authors see shortages before students do.
func (s *ExamService) Check(ctx context.Context, companyID, examID int) error {
	if _, err := s.Get(ctx, companyID, examID); err != nil {
		return err
	}
	return s.resolver.CheckExam(ctx, examID)
}
