package handler

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/provalivre/exam-engine/internal/response"
	"github.com/provalivre/exam-engine/internal/service"
	"github.com/rs/zerolog"
)

// errorMapping pairs a service sentinel with its HTTP status and code.
var errorMapping = []struct {
	err    error
	status int
	code   response.ErrCode
}{
	{service.ErrCategoryNotFound, http.StatusNotFound, response.ErrNotFound},
	{service.ErrQuestionNotFound, http.StatusNotFound, response.ErrNotFound},
	{service.ErrExamNotFound, http.StatusNotFound, response.ErrNotFound},
	{service.ErrApplicationNotFound, http.StatusNotFound, response.ErrNotFound},
	{service.ErrAttemptNotFound, http.StatusNotFound, response.ErrNotFound},

	{service.ErrInvalidCategory, http.StatusBadRequest, response.ErrInvalidCategory},
	{service.ErrInvalidQuestion, http.StatusBadRequest, response.ErrInvalidQuestion},
	{service.ErrInvalidExamRule, http.StatusBadRequest, response.ErrInvalidExamRule},
	{service.ErrInvalidApplication, http.StatusBadRequest, response.ErrInvalidApplication},
	{service.ErrInvalidAnswer, http.StatusUnprocessableEntity, response.ErrInvalidAnswer},

	{service.ErrApplicationNotStarted, http.StatusConflict, response.ErrApplicationNotStarted},
	{service.ErrApplicationEnded, http.StatusConflict, response.ErrApplicationEnded},
	{service.ErrNoAttemptsLeft, http.StatusConflict, response.ErrNoAttemptsLeft},
	{service.ErrRunningAttempt, http.StatusConflict, response.ErrRunningAttempt},
	{service.ErrAlreadySubmitted, http.StatusConflict, response.ErrAlreadySubmitted},
	{service.ErrExpiredAttempt, http.StatusConflict, response.ErrExpiredAttempt},
	{service.ErrAttemptNotActive, http.StatusConflict, response.ErrAttemptNotActive},
}

// respondError writes the error envelope for a service error. Typed errors
// carry their details in the fields map; anything unrecognized is logged and
// reported as an internal error.
func respondError(c *gin.Context, log zerolog.Logger, err error) {
	var (
		constraintErr   *service.ConstraintError
		insufficientErr *service.InsufficientQuestionsError
		noAttemptsErr   *service.NoAttemptsLeftError
		runningErr      *service.RunningAttemptError
	)

	switch {
	case errors.As(err, &constraintErr):
		response.FailWithFields(c, http.StatusConflict, response.ErrCategoryConstraint, map[string]string{
			"parent_id":   strconv.Itoa(constraintErr.ParentID),
			"parent_name": constraintErr.ParentName,
		})
		return
	case errors.As(err, &insufficientErr):
		response.FailWithFields(c, http.StatusUnprocessableEntity, response.ErrInsufficientQuestions, map[string]string{
			"rule_id":   strconv.Itoa(insufficientErr.RuleID),
			"requested": strconv.Itoa(insufficientErr.Requested),
			"available": strconv.Itoa(insufficientErr.Available),
		})
		return
	case errors.As(err, &noAttemptsErr):
		response.FailWithFields(c, http.StatusConflict, response.ErrNoAttemptsLeft, map[string]string{
			"used":    strconv.Itoa(noAttemptsErr.Used),
			"allowed": strconv.Itoa(noAttemptsErr.Allowed),
		})
		return
	case errors.As(err, &runningErr):
		response.FailWithFields(c, http.StatusConflict, response.ErrRunningAttempt, map[string]string{
			"attempt_id": runningErr.AttemptID.String(),
		})
		return
	}

	for _, m := range errorMapping {
		if errors.Is(err, m.err) {
			response.Fail(c, m.status, m.code)
			return
		}
	}

	log.Error().Err(err).
		Str("method", c.Request.Method).
		Str("path", c.FullPath()).
		Msg("Unhandled error")
	response.Fail(c, http.StatusInternalServerError, response.ErrInternal)
}

// errorCode returns the API code of a service error, or ErrInternal.
func errorCode(err error) response.ErrCode {
	var (
		constraintErr   *service.ConstraintError
		insufficientErr *service.InsufficientQuestionsError
	)
	switch {
	case errors.As(err, &constraintErr):
		return response.ErrCategoryConstraint
	case errors.As(err, &insufficientErr):
		return response.ErrInsufficientQuestions
	}
	for _, m := range errorMapping {
		if errors.Is(err, m.err) {
			return m.code
		}
	}
	return response.ErrInternal
}

// paramInt parses a positive integer path parameter, writing INVALID_ID on
// failure.
func paramInt(c *gin.Context, name string) (int, bool) {
	id, err := strconv.Atoi(c.Param(name))
	if err != nil || id <= 0 {
		response.Fail(c, http.StatusBadRequest, response.ErrInvalidID)
		return 0, false
	}
	return id, true
}

// pageQuery reads the page and per_page query parameters.
func pageQuery(c *gin.Context) (page, perPage int) {
	page, _ = strconv.Atoi(c.DefaultQuery("page", "1"))
	perPage, _ = strconv.Atoi(c.DefaultQuery("per_page", "10"))
	return page, perPage
}
