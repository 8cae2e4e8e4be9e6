package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/provalivre/exam-engine/internal/middleware"
	"github.com/provalivre/exam-engine/internal/model"
	"github.com/provalivre/exam-engine/internal/response"
	"github.com/provalivre/exam-engine/internal/service"
	"github.com/provalivre/exam-engine/internal/validator"
	"github.com/rs/zerolog"
)

// AttemptHandler handles the student side of applications: the lobby,
// starting, answering and submitting attempts.
type AttemptHandler struct {
	attemptService     *service.AttemptService
	applicationService *service.ApplicationService
	log                zerolog.Logger
}

// NewAttemptHandler creates a new AttemptHandler.
func NewAttemptHandler(attemptService *service.AttemptService, applicationService *service.ApplicationService, log zerolog.Logger) *AttemptHandler {
	return &AttemptHandler{
		attemptService:     attemptService,
		applicationService: applicationService,
		log:                log.With().Str("component", "attempt_handler").Logger(),
	}
}

// Lobby godoc
// GET /api/v1/student/applications
// Lists open applications with the student's status in each.
func (h *AttemptHandler) Lobby(c *gin.Context) {
	claims := middleware.GetClaims(c)

	entries, err := h.applicationService.Lobby(c.Request.Context(), claims.CompanyID, claims.UserID)
	if err != nil {
		respondError(c, h.log, err)
		return
	}
	response.Success(c, http.StatusOK, gin.H{"applications": entries})
}

// GetState godoc
// GET /api/v1/student/applications/:application_id
// Returns the derived status, attempts left, remaining time and current attempt.
func (h *AttemptHandler) GetState(c *gin.Context) {
	claims := middleware.GetClaims(c)
	id, ok := paramInt(c, "application_id")
	if !ok {
		return
	}

	ctx := c.Request.Context()
	if _, err := h.applicationService.Get(ctx, claims.CompanyID, id); err != nil {
		respondError(c, h.log, err)
		return
	}

	state, err := h.attemptService.CurrentState(ctx, id, claims.UserID)
	if err != nil {
		respondError(c, h.log, err)
		return
	}
	response.Success(c, http.StatusOK, gin.H{"state": state})
}

// StartAttempt godoc
// POST /api/v1/student/applications/:application_id/attempts
// Materializes a new attempt with its own question set.
func (h *AttemptHandler) StartAttempt(c *gin.Context) {
	claims := middleware.GetClaims(c)
	id, ok := paramInt(c, "application_id")
	if !ok {
		return
	}

	ctx := c.Request.Context()
	if _, err := h.applicationService.Get(ctx, claims.CompanyID, id); err != nil {
		respondError(c, h.log, err)
		return
	}

	attempt, err := h.attemptService.StartAttempt(ctx, id, claims.UserID)
	if err != nil {
		respondError(c, h.log, err)
		return
	}

	view, err := h.attemptService.AttemptView(ctx, attempt.ID, claims.UserID)
	if err != nil {
		respondError(c, h.log, err)
		return
	}
	response.Created(c, gin.H{"attempt": view})
}

// GetAttempt godoc
// GET /api/v1/student/attempts/:attempt_id
// Returns the attempt as the student may see it; correct options and scores
// appear only after submission when the application allows them.
func (h *AttemptHandler) GetAttempt(c *gin.Context) {
	claims := middleware.GetClaims(c)
	attemptID, ok := paramAttemptID(c)
	if !ok {
		return
	}

	view, err := h.attemptService.AttemptView(c.Request.Context(), attemptID, claims.UserID)
	if err != nil {
		respondError(c, h.log, err)
		return
	}
	response.Success(c, http.StatusOK, gin.H{"attempt": view})
}

// SaveAnswer godoc
// PUT /api/v1/student/attempts/:attempt_id/answers/:question_id
func (h *AttemptHandler) SaveAnswer(c *gin.Context) {
	claims := middleware.GetClaims(c)
	attemptID, ok := paramAttemptID(c)
	if !ok {
		return
	}
	questionID, ok := paramInt(c, "question_id")
	if !ok {
		return
	}

	var req model.SaveAnswerRequest
	if fields := validator.Bind(c, &req); fields != nil {
		response.FailWithFields(c, http.StatusBadRequest, response.ErrValidation, fields)
		return
	}

	answer := model.Answer{QuestionID: questionID, OptionIDs: req.OptionIDs, Text: req.Text}
	if err := h.attemptService.SaveAnswer(c.Request.Context(), attemptID, claims.UserID, answer); err != nil {
		respondError(c, h.log, err)
		return
	}
	response.Success(c, http.StatusOK, gin.H{"status": "saved"})
}

// SubmitAttempt godoc
// POST /api/v1/student/attempts/:attempt_id/submit
// Hands in the attempt. Answers in the body override autosaved ones.
func (h *AttemptHandler) SubmitAttempt(c *gin.Context) {
	claims := middleware.GetClaims(c)
	attemptID, ok := paramAttemptID(c)
	if !ok {
		return
	}

	var req model.SubmitAttemptRequest
	if c.Request.ContentLength != 0 {
		if fields := validator.Bind(c, &req); fields != nil {
			response.FailWithFields(c, http.StatusBadRequest, response.ErrValidation, fields)
			return
		}
	}

	result, err := h.attemptService.SubmitAttempt(c.Request.Context(), attemptID, claims.UserID, req.Answers)
	if err != nil {
		respondError(c, h.log, err)
		return
	}
	response.Success(c, http.StatusOK, gin.H{"submission": result})
}

func paramAttemptID(c *gin.Context) (uuid.UUID, bool) {
	id, err := uuid.Parse(c.Param("attempt_id"))
	if err != nil {
		response.Fail(c, http.StatusBadRequest, response.ErrInvalidID)
		return uuid.Nil, false
	}
	return id, true
}
