package handler

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/provalivre/exam-engine/internal/response"
	"github.com/provalivre/exam-engine/internal/service"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func serveError(t *testing.T, err error) (int, response.Response) {
	t.Helper()
	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	c.Request = httptest.NewRequest(http.MethodPost, "/", nil)

	respondError(c, zerolog.Nop(), err)

	var body response.Response
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	require.NotNil(t, body.Error)
	return w.Code, body
}

func TestRespondErrorSentinels(t *testing.T) {
	tests := []struct {
		err    error
		status int
		code   response.ErrCode
	}{
		{service.ErrApplicationNotFound, http.StatusNotFound, response.ErrNotFound},
		{fmt.Errorf("%w: bad type", service.ErrInvalidExamRule), http.StatusBadRequest, response.ErrInvalidExamRule},
		{service.ErrInvalidAnswer, http.StatusUnprocessableEntity, response.ErrInvalidAnswer},
		{service.ErrApplicationNotStarted, http.StatusConflict, response.ErrApplicationNotStarted},
		{service.ErrApplicationEnded, http.StatusConflict, response.ErrApplicationEnded},
		{service.ErrAlreadySubmitted, http.StatusConflict, response.ErrAlreadySubmitted},
		{service.ErrExpiredAttempt, http.StatusConflict, response.ErrExpiredAttempt},
		{errors.New("connection reset by peer"), http.StatusInternalServerError, response.ErrInternal},
	}

	for _, tt := range tests {
		t.Run(string(tt.code), func(t *testing.T) {
			status, body := serveError(t, tt.err)
			assert.Equal(t, tt.status, status)
			assert.Equal(t, tt.code, body.Error.Code)
			assert.Equal(t, response.GetMessage(tt.code), body.Error.Message)
			assert.Equal(t, tt.code, errorCode(tt.err))
		})
	}
}

func TestRespondErrorTypedDetails(t *testing.T) {
	t.Run("constraint", func(t *testing.T) {
		status, body := serveError(t, &service.ConstraintError{ParentID: 4, ParentName: "Difficulty"})
		assert.Equal(t, http.StatusConflict, status)
		assert.Equal(t, response.ErrCategoryConstraint, body.Error.Code)
		assert.Equal(t, map[string]string{"parent_id": "4", "parent_name": "Difficulty"}, body.Error.Fields)
	})

	t.Run("insufficient questions", func(t *testing.T) {
		err := fmt.Errorf("check exam: %w", &service.InsufficientQuestionsError{RuleID: 9, Requested: 5, Available: 3})
		status, body := serveError(t, err)
		assert.Equal(t, http.StatusUnprocessableEntity, status)
		assert.Equal(t, response.ErrInsufficientQuestions, body.Error.Code)
		assert.Equal(t, map[string]string{"rule_id": "9", "requested": "5", "available": "3"}, body.Error.Fields)
	})

	t.Run("no attempts left", func(t *testing.T) {
		status, body := serveError(t, &service.NoAttemptsLeftError{Used: 2, Allowed: 2})
		assert.Equal(t, http.StatusConflict, status)
		assert.Equal(t, response.ErrNoAttemptsLeft, body.Error.Code)
		assert.Equal(t, "2", body.Error.Fields["allowed"])
	})

	t.Run("running attempt", func(t *testing.T) {
		id := uuid.New()
		status, body := serveError(t, &service.RunningAttemptError{AttemptID: id})
		assert.Equal(t, http.StatusConflict, status)
		assert.Equal(t, response.ErrRunningAttempt, body.Error.Code)
		assert.Equal(t, id.String(), body.Error.Fields["attempt_id"])
	})
}

func TestParamInt(t *testing.T) {
	for _, raw := range []string{"abc", "0", "-3"} {
		w := httptest.NewRecorder()
		c, _ := gin.CreateTestContext(w)
		c.Request = httptest.NewRequest(http.MethodGet, "/", nil)
		c.Params = gin.Params{{Key: "exam_id", Value: raw}}

		_, ok := paramInt(c, "exam_id")
		assert.False(t, ok, raw)
		assert.Equal(t, http.StatusBadRequest, w.Code)
	}

	c, _ := gin.CreateTestContext(httptest.NewRecorder())
	c.Params = gin.Params{{Key: "exam_id", Value: "12"}}
	id, ok := paramInt(c, "exam_id")
	assert.True(t, ok)
	assert.Equal(t, 12, id)
}
