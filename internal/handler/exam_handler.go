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

// ExamHandler handles exam and exam rule management endpoints.
type ExamHandler struct {
	examService *service.ExamService
	log         zerolog.Logger
}

// NewExamHandler creates a new ExamHandler.
func NewExamHandler(examService *service.ExamService, log zerolog.Logger) *ExamHandler {
	return &ExamHandler{
		examService: examService,
		log:         log.With().Str("component", "exam_handler").Logger(),
	}
}

// ListExams godoc
// GET /api/v1/staff/exams
func (h *ExamHandler) ListExams(c *gin.Context) {
	claims := middleware.GetClaims(c)
	page, perPage := pageQuery(c)

	exams, pagination, err := h.examService.List(c.Request.Context(), claims.CompanyID, page, perPage)
	if err != nil {
		respondError(c, h.log, err)
		return
	}
	response.Paginated(c, gin.H{"exams": exams}, pagination)
}

// CreateExam godoc
// POST /api/v1/staff/exams
func (h *ExamHandler) CreateExam(c *gin.Context) {
	claims := middleware.GetClaims(c)

	var req model.CreateExamRequest
	if fields := validator.Bind(c, &req); fields != nil {
		response.FailWithFields(c, http.StatusBadRequest, response.ErrValidation, fields)
		return
	}

	exam, err := h.examService.Create(c.Request.Context(), claims.CompanyID, &req)
	if err != nil {
		respondError(c, h.log, err)
		return
	}
	response.Created(c, gin.H{"exam": exam})
}

// GetExam godoc
// GET /api/v1/staff/exams/:exam_id
// Returns the exam with its rules in definition order.
func (h *ExamHandler) GetExam(c *gin.Context) {
	claims := middleware.GetClaims(c)
	examID, ok := paramInt(c, "exam_id")
	if !ok {
		return
	}

	ctx := c.Request.Context()
	exam, err := h.examService.Get(ctx, claims.CompanyID, examID)
	if err != nil {
		respondError(c, h.log, err)
		return
	}
	rules, err := h.examService.Rules(ctx, claims.CompanyID, examID)
	if err != nil {
		respondError(c, h.log, err)
		return
	}
	response.Success(c, http.StatusOK, gin.H{"exam": exam, "rules": rules})
}

// AddRule godoc
// POST /api/v1/staff/exams/:exam_id/rules
// Appends a pinned (question_id) or generated (questions_count + filters) rule.
func (h *ExamHandler) AddRule(c *gin.Context) {
	claims := middleware.GetClaims(c)
	examID, ok := paramInt(c, "exam_id")
	if !ok {
		return
	}

	var req model.AddExamRuleRequest
	if fields := validator.Bind(c, &req); fields != nil {
		response.FailWithFields(c, http.StatusBadRequest, response.ErrValidation, fields)
		return
	}

	rule, err := h.examService.AddRule(c.Request.Context(), claims.CompanyID, examID, &req)
	if err != nil {
		respondError(c, h.log, err)
		return
	}
	response.Created(c, gin.H{"rule": rule})
}

// DeleteRule godoc
// DELETE /api/v1/staff/exams/:exam_id/rules/:rule_id
func (h *ExamHandler) DeleteRule(c *gin.Context) {
	claims := middleware.GetClaims(c)
	examID, ok := paramInt(c, "exam_id")
	if !ok {
		return
	}
	ruleID, ok := paramInt(c, "rule_id")
	if !ok {
		return
	}

	if err := h.examService.DeleteRule(c.Request.Context(), claims.CompanyID, examID, ruleID); err != nil {
		respondError(c, h.log, err)
		return
	}
	response.Success(c, http.StatusOK, gin.H{"message": "rule deleted"})
}

// CheckExam godoc
// POST /api/v1/staff/exams/:exam_id/check
// Dry-runs rule resolution and reports the first rule that cannot be satisfied.
func (h *ExamHandler) CheckExam(c *gin.Context) {
	claims := middleware.GetClaims(c)
	examID, ok := paramInt(c, "exam_id")
	if !ok {
		return
	}

	if err := h.examService.Check(c.Request.Context(), claims.CompanyID, examID); err != nil {
		respondError(c, h.log, err)
		return
	}
	response.Success(c, http.StatusOK, gin.H{"resolvable": true})
}
