package service

import (
	"context"
	"testing"

	"github.com/provalivre/exam-engine/internal/model"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newExamFixture(questions ...model.Question) (*ExamService, *memExams) {
	exams := newMemExams()
	exams.exams[testExamID] = model.Exam{ID: testExamID, CompanyID: companyA, Title: "Final"}
	qs := newMemQuestions(questions...)
	return NewExamService(exams, qs, NewRuleResolver(exams, qs), zerolog.Nop()), exams
}

func TestAddRule(t *testing.T) {
	ctx := context.Background()
	foreign := optionsQuestion(9)
	foreign.CompanyID = companyB

	t.Run("pinned rule", func(t *testing.T) {
		svc, _ := newExamFixture(optionsQuestion(1))
		rule, err := svc.AddRule(ctx, companyA, testExamID, &model.AddExamRuleRequest{QuestionID: ptr(1), Score: ptr(4.0)})
		require.NoError(t, err)
		assert.True(t, rule.Pinned())
		assert.Equal(t, 1, rule.QuestionsCount)

		_, err = svc.AddRule(ctx, companyA, testExamID, &model.AddExamRuleRequest{QuestionID: ptr(1)})
		assert.ErrorIs(t, err, ErrInvalidExamRule, "question pinned twice")
	})

	t.Run("pinned rule takes no filters", func(t *testing.T) {
		svc, _ := newExamFixture(optionsQuestion(1))
		_, err := svc.AddRule(ctx, companyA, testExamID, &model.AddExamRuleRequest{QuestionID: ptr(1), QuestionsCount: 2})
		assert.ErrorIs(t, err, ErrInvalidExamRule)
		_, err = svc.AddRule(ctx, companyA, testExamID, &model.AddExamRuleRequest{QuestionID: ptr(1), CategoryIDs: []int{3}})
		assert.ErrorIs(t, err, ErrInvalidExamRule)
	})

	t.Run("pinned question of another company", func(t *testing.T) {
		svc, _ := newExamFixture(foreign)
		_, err := svc.AddRule(ctx, companyA, testExamID, &model.AddExamRuleRequest{QuestionID: ptr(9)})
		assert.ErrorIs(t, err, ErrQuestionNotFound)
	})

	t.Run("generated rule", func(t *testing.T) {
		svc, exams := newExamFixture()
		rule, err := svc.AddRule(ctx, companyA, testExamID, &model.AddExamRuleRequest{
			QuestionsCount: 3, QuestionType: ptr("discursive"), CategoryIDs: []int{4, 5},
		})
		require.NoError(t, err)
		assert.False(t, rule.Pinned())
		require.NotNil(t, rule.QuestionType)
		assert.Equal(t, model.QuestionTypeDiscursive, *rule.QuestionType)
		assert.Len(t, exams.rules[testExamID], 1)

		_, err = svc.AddRule(ctx, companyA, testExamID, &model.AddExamRuleRequest{})
		assert.ErrorIs(t, err, ErrInvalidExamRule)
		_, err = svc.AddRule(ctx, companyA, testExamID, &model.AddExamRuleRequest{QuestionsCount: 1, QuestionType: ptr("essay")})
		assert.ErrorIs(t, err, ErrInvalidExamRule)
	})

	t.Run("exam of another company", func(t *testing.T) {
		svc, _ := newExamFixture()
		_, err := svc.AddRule(ctx, companyB, testExamID, &model.AddExamRuleRequest{QuestionsCount: 1})
		assert.ErrorIs(t, err, ErrExamNotFound)
	})
}

func TestExamCheckAndDeleteRule(t *testing.T) {
	ctx := context.Background()
	svc, _ := newExamFixture(optionsQuestion(1))

	rule, err := svc.AddRule(ctx, companyA, testExamID, &model.AddExamRuleRequest{QuestionsCount: 2})
	require.NoError(t, err)

	var ierr *InsufficientQuestionsError
	assert.ErrorAs(t, svc.Check(ctx, companyA, testExamID), &ierr)

	require.NoError(t, svc.DeleteRule(ctx, companyA, testExamID, rule.ID))
	assert.ErrorIs(t, svc.DeleteRule(ctx, companyA, testExamID, rule.ID), ErrInvalidExamRule)

	rules, err := svc.Rules(ctx, companyA, testExamID)
	require.NoError(t, err)
	assert.Empty(t, rules)
}
