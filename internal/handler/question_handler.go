package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/provalivre/exam-engine/internal/middleware"
	"github.com/provalivre/exam-engine/internal/model"
	"github.com/provalivre/exam-engine/internal/response"
	"github.com/provalivre/exam-engine/internal/service"
	"github.com/provalivre/exam-engine/internal/validator"
	"github.com/rs/zerolog"
)

// QuestionHandler handles the question bank endpoints.
type QuestionHandler struct {
	questionService *service.QuestionService
	log             zerolog.Logger
}

// NewQuestionHandler creates a new QuestionHandler.
func NewQuestionHandler(questionService *service.QuestionService, log zerolog.Logger) *QuestionHandler {
	return &QuestionHandler{
		questionService: questionService,
		log:             log.With().Str("component", "question_handler").Logger(),
	}
}

// ListQuestions godoc
// GET /api/v1/staff/questions
func (h *QuestionHandler) ListQuestions(c *gin.Context) {
	claims := middleware.GetClaims(c)
	page, perPage := pageQuery(c)

	questions, pagination, err := h.questionService.List(c.Request.Context(), claims.CompanyID, page, perPage)
	if err != nil {
		respondError(c, h.log, err)
		return
	}
	response.Paginated(c, gin.H{"questions": questions}, pagination)
}

// CreateQuestion godoc
// POST /api/v1/staff/questions
func (h *QuestionHandler) CreateQuestion(c *gin.Context) {
	claims := middleware.GetClaims(c)

	var req service.CreateQuestionRequest
	if fields := validator.Bind(c, &req); fields != nil {
		response.FailWithFields(c, http.StatusBadRequest, response.ErrValidation, fields)
		return
	}

	question, err := h.questionService.Create(c.Request.Context(), claims.CompanyID, &req)
	if err != nil {
		respondError(c, h.log, err)
		return
	}
	response.Created(c, gin.H{"question": question})
}

// GetQuestion godoc
// GET /api/v1/staff/questions/:question_id
func (h *QuestionHandler) GetQuestion(c *gin.Context) {
	claims := middleware.GetClaims(c)
	id, ok := paramInt(c, "question_id")
	if !ok {
		return
	}

	question, err := h.questionService.Get(c.Request.Context(), claims.CompanyID, id)
	if err != nil {
		respondError(c, h.log, err)
		return
	}
	response.Success(c, http.StatusOK, gin.H{"question": question})
}

// SetQuestionEnabled godoc
// PATCH /api/v1/staff/questions/:question_id
// Enables or disables a question for generated rules.
func (h *QuestionHandler) SetQuestionEnabled(c *gin.Context) {
	claims := middleware.GetClaims(c)
	id, ok := paramInt(c, "question_id")
	if !ok {
		return
	}

	var req model.SetQuestionEnabledRequest
	if fields := validator.Bind(c, &req); fields != nil {
		response.FailWithFields(c, http.StatusBadRequest, response.ErrValidation, fields)
		return
	}

	if err := h.questionService.SetEnabled(c.Request.Context(), claims.CompanyID, id, *req.Enabled); err != nil {
		respondError(c, h.log, err)
		return
	}
	response.Success(c, http.StatusOK, gin.H{"question_id": id, "enabled": *req.Enabled})
}
