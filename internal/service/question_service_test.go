package service

import (
	"context"
	"testing"

	"github.com/provalivre/exam-engine/internal/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCreateQuestion(t *testing.T) {
	ctx := context.Background()

	tests := []struct {
		name    string
		req     CreateQuestionRequest
		wantErr bool
	}{
		{"discursive", CreateQuestionRequest{Description: "Explain", Type: "discursive", MaxLength: ptr(500)}, false},
		{"options", CreateQuestionRequest{Description: "Pick", Type: "options", Options: []CreateQuestionOption{
			{Description: "a", IsCorrect: true}, {Description: "b"},
		}}, false},
		{"discursive with options", CreateQuestionRequest{Description: "Explain", Type: "discursive", Options: []CreateQuestionOption{{Description: "a"}}}, true},
		{"options without a correct one", CreateQuestionRequest{Description: "Pick", Type: "options", Options: []CreateQuestionOption{
			{Description: "a"}, {Description: "b"},
		}}, true},
		{"single option", CreateQuestionRequest{Description: "Pick", Type: "options", Options: []CreateQuestionOption{{Description: "a", IsCorrect: true}}}, true},
		{"options with max length", CreateQuestionRequest{Description: "Pick", Type: "options", MaxLength: ptr(3), Options: []CreateQuestionOption{
			{Description: "a", IsCorrect: true}, {Description: "b"},
		}}, true},
		{"blank description", CreateQuestionRequest{Description: "  ", Type: "discursive"}, true},
		{"unknown type", CreateQuestionRequest{Description: "x", Type: "matching"}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc := NewQuestionService(newMemQuestions())
			q, err := svc.Create(ctx, companyA, &tt.req)
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrInvalidQuestion)
				return
			}
			require.NoError(t, err)
			assert.True(t, q.Enabled)
			assert.Equal(t, model.QuestionType(tt.req.Type), q.Type)
			assert.Len(t, q.Options, len(tt.req.Options))
		})
	}
}

func TestQuestionEnableAndGet(t *testing.T) {
	ctx := context.Background()
	svc := NewQuestionService(newMemQuestions(optionsQuestion(1)))

	require.NoError(t, svc.SetEnabled(ctx, companyA, 1, false))
	q, err := svc.Get(ctx, companyA, 1)
	require.NoError(t, err)
	assert.False(t, q.Enabled)

	assert.ErrorIs(t, svc.SetEnabled(ctx, companyB, 1, true), ErrQuestionNotFound)
	_, err = svc.Get(ctx, companyB, 1)
	assert.ErrorIs(t, err, ErrQuestionNotFound)

	list, page, err := svc.List(ctx, companyA, 0, 0)
	require.NoError(t, err)
	assert.Len(t, list, 1)
	assert.Equal(t, 1, page.Page)
	assert.Equal(t, 10, page.PerPage)
	assert.Equal(t, 1, page.TotalPages)
}
