package service

import (
	"context"
	"errors"
	"fmt"
	"hash/fnv"
	"math/rand/v2"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/provalivre/exam-engine/internal/model"
)

const defaultRuleScore = 1.0

// ExamSource loads exams and their rules.
type ExamSource interface {
	GetByID(ctx context.Context, id int) (*model.Exam, error)
	ListRules(ctx context.Context, examID int) ([]model.ExamRule, error)
}

// QuestionSource loads candidate pools and question bodies.
type QuestionSource interface {
	ListCandidateIDs(ctx context.Context, f model.QuestionFilter) ([]int, error)
	GetMany(ctx context.Context, ids []int) ([]model.Question, error)
}

// RuleResolver materializes an exam's rules into a concrete question list.
type RuleResolver struct {
	exams     ExamSource
	questions QuestionSource
}

// NewRuleResolver creates a new RuleResolver.
func NewRuleResolver(exams ExamSource, questions QuestionSource) *RuleResolver {
	return &RuleResolver{exams: exams, questions: questions}
}

// SeedFromAttemptID derives the sampling seed of an attempt from its id, so
// the same attempt always resolves to the same questions.
func SeedFromAttemptID(id uuid.UUID) int64 {
	h := fnv.New64a()
	h.Write(id[:])
	return int64(h.Sum64())
}

type pick struct {
	questionID int
	ruleID     int
	score      float64
}

// ResolveQuestionSet walks the exam's rules in definition order. A pinned
// rule emits its question; a generated rule draws QuestionsCount distinct
// questions from the enabled questions of the exam's company that match its
// type and categories. Pinned questions are never drawn by generated rules
// and no question appears twice. The draw depends only on the seed and the
// data, so equal inputs give equal output.
func (r *RuleResolver) ResolveQuestionSet(ctx context.Context, examID int, seed int64) ([]model.ResolvedQuestion, error) {
	exam, rules, err := r.load(ctx, examID)
	if err != nil {
		return nil, err
	}

	reserved, err := pinnedQuestions(rules)
	if err != nil {
		return nil, err
	}

	emitted := make(map[int]bool, len(reserved))
	picks := make([]pick, 0, len(rules))
	for _, rule := range rules {
		score := defaultRuleScore
		if rule.Score != nil {
			score = *rule.Score
		}

		if rule.Pinned() {
			picks = append(picks, pick{questionID: *rule.QuestionID, ruleID: rule.ID, score: score})
			emitted[*rule.QuestionID] = true
			continue
		}

		pool, err := r.pool(ctx, exam.CompanyID, &rule, func(id int) bool { return reserved[id] || emitted[id] })
		if err != nil {
			return nil, err
		}
		if len(pool) < rule.QuestionsCount {
			return nil, &InsufficientQuestionsError{RuleID: rule.ID, Requested: rule.QuestionsCount, Available: len(pool)}
		}

		for _, id := range sample(pool, rule.QuestionsCount, seed, rule.ID) {
			picks = append(picks, pick{questionID: id, ruleID: rule.ID, score: score})
			emitted[id] = true
		}
	}

	ids := make([]int, len(picks))
	for i, p := range picks {
		ids[i] = p.questionID
	}
	questions, err := r.questions.GetMany(ctx, ids)
	if err != nil {
		return nil, fmt.Errorf("load questions: %w", err)
	}
	byID := make(map[int]*model.Question, len(questions))
	for i := range questions {
		byID[questions[i].ID] = &questions[i]
	}

	resolved := make([]model.ResolvedQuestion, 0, len(picks))
	for i, p := range picks {
		q, ok := byID[p.questionID]
		if !ok || q.CompanyID != exam.CompanyID {
			return nil, fmt.Errorf("%w: rule %d references question %d", ErrQuestionNotFound, p.ruleID, p.questionID)
		}
		resolved = append(resolved, model.ResolvedQuestion{
			QuestionID:  q.ID,
			RuleID:      p.ruleID,
			Position:    i + 1,
			Type:        q.Type,
			Description: q.Description,
			MaxLength:   q.MaxLength,
			Score:       p.score,
			Options:     q.Options,
		})
	}
	return resolved, nil
}

// CheckExam verifies at authoring time that the exam resolves for every
// seed. Each generated rule must still have QuestionsCount candidates after
// removing pinned questions and the most that earlier generated rules could
// take from the overlap of their pools.
func (r *RuleResolver) CheckExam(ctx context.Context, examID int) error {
	exam, rules, err := r.load(ctx, examID)
	if err != nil {
		return err
	}

	reserved, err := pinnedQuestions(rules)
	if err != nil {
		return err
	}
	if len(reserved) > 0 {
		ids := make([]int, 0, len(reserved))
		for id := range reserved {
			ids = append(ids, id)
		}
		found, err := r.questions.GetMany(ctx, ids)
		if err != nil {
			return fmt.Errorf("load pinned questions: %w", err)
		}
		owned := 0
		for _, q := range found {
			if q.CompanyID == exam.CompanyID {
				owned++
			}
		}
		if owned != len(reserved) {
			return fmt.Errorf("%w: exam references a missing question", ErrQuestionNotFound)
		}
	}

	type drawn struct {
		pool  map[int]bool
		count int
	}
	var earlier []drawn
	for _, rule := range rules {
		if rule.Pinned() {
			continue
		}
		pool, err := r.pool(ctx, exam.CompanyID, &rule, func(id int) bool { return reserved[id] })
		if err != nil {
			return err
		}

		set := make(map[int]bool, len(pool))
		for _, id := range pool {
			set[id] = true
		}

		available := len(pool)
		for _, d := range earlier {
			overlap := 0
			for id := range d.pool {
				if set[id] {
					overlap++
				}
			}
			available -= min(overlap, d.count)
		}
		if available < rule.QuestionsCount {
			return &InsufficientQuestionsError{RuleID: rule.ID, Requested: rule.QuestionsCount, Available: max(available, 0)}
		}
		earlier = append(earlier, drawn{pool: set, count: rule.QuestionsCount})
	}
	return nil
}

func (r *RuleResolver) load(ctx context.Context, examID int) (*model.Exam, []model.ExamRule, error) {
	exam, err := r.exams.GetByID(ctx, examID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil, ErrExamNotFound
		}
		return nil, nil, fmt.Errorf("get exam: %w", err)
	}
	rules, err := r.exams.ListRules(ctx, examID)
	if err != nil {
		return nil, nil, fmt.Errorf("list exam rules: %w", err)
	}
	if len(rules) == 0 {
		return nil, nil, fmt.Errorf("%w: exam %d has no rules", ErrInvalidExamRule, examID)
	}
	return exam, rules, nil
}

// pool returns the rule's candidates in ascending id order minus excluded ids.
func (r *RuleResolver) pool(ctx context.Context, companyID int, rule *model.ExamRule, excluded func(int) bool) ([]int, error) {
	candidates, err := r.questions.ListCandidateIDs(ctx, model.QuestionFilter{
		CompanyID:   companyID,
		Type:        rule.QuestionType,
		CategoryIDs: rule.CategoryIDs,
	})
	if err != nil {
		return nil, fmt.Errorf("list candidates for rule %d: %w", rule.ID, err)
	}
	pool := candidates[:0:0]
	for _, id := range candidates {
		if !excluded(id) {
			pool = append(pool, id)
		}
	}
	return pool, nil
}

func pinnedQuestions(rules []model.ExamRule) (map[int]bool, error) {
	reserved := make(map[int]bool)
	for _, rule := range rules {
		if !rule.Pinned() {
			continue
		}
		if reserved[*rule.QuestionID] {
			return nil, fmt.Errorf("%w: question %d is pinned by more than one rule", ErrInvalidExamRule, *rule.QuestionID)
		}
		reserved[*rule.QuestionID] = true
	}
	return reserved, nil
}

// sample picks k ids from pool with a partial Fisher-Yates shuffle driven by
// a PCG stream keyed on (seed, ruleID). pool is not modified.
func sample(pool []int, k int, seed int64, ruleID int) []int {
	ids := make([]int, len(pool))
	copy(ids, pool)

	rng := rand.New(rand.NewPCG(uint64(seed), uint64(ruleID)))
	for i := 0; i < k; i++ {
		j := i + rng.IntN(len(ids)-i)
		ids[i], ids[j] = ids[j], ids[i]
	}
	return ids[:k]
}
