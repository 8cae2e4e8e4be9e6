package handler

import (
	"fmt"
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

const xlsxContentType = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"

// ApplicationHandler handles application scheduling and reporting for staff.
type ApplicationHandler struct {
	applicationService *service.ApplicationService
	log                zerolog.Logger
}

// NewApplicationHandler creates a new ApplicationHandler.
func NewApplicationHandler(applicationService *service.ApplicationService, log zerolog.Logger) *ApplicationHandler {
	return &ApplicationHandler{
		applicationService: applicationService,
		log:                log.With().Str("component", "application_handler").Logger(),
	}
}

// ListApplications godoc
// GET /api/v1/staff/applications
func (h *ApplicationHandler) ListApplications(c *gin.Context) {
	claims := middleware.GetClaims(c)
	page, perPage := pageQuery(c)

	apps, pagination, err := h.applicationService.List(c.Request.Context(), claims.CompanyID, page, perPage)
	if err != nil {
		respondError(c, h.log, err)
		return
	}
	response.Paginated(c, gin.H{"applications": apps}, pagination)
}

// CreateApplication godoc
// POST /api/v1/staff/applications
// Schedules an exam. Fails with INSUFFICIENT_QUESTIONS when a rule cannot be met.
func (h *ApplicationHandler) CreateApplication(c *gin.Context) {
	claims := middleware.GetClaims(c)

	var req model.CreateApplicationRequest
	if fields := validator.Bind(c, &req); fields != nil {
		response.FailWithFields(c, http.StatusBadRequest, response.ErrValidation, fields)
		return
	}

	app, err := h.applicationService.Create(c.Request.Context(), claims.CompanyID, &req)
	if err != nil {
		respondError(c, h.log, err)
		return
	}
	response.Created(c, gin.H{"application": app})
}

// GetApplication godoc
// GET /api/v1/staff/applications/:application_id
func (h *ApplicationHandler) GetApplication(c *gin.Context) {
	claims := middleware.GetClaims(c)
	id, ok := paramInt(c, "application_id")
	if !ok {
		return
	}

	app, err := h.applicationService.Get(c.Request.Context(), claims.CompanyID, id)
	if err != nil {
		respondError(c, h.log, err)
		return
	}
	response.Success(c, http.StatusOK, gin.H{"application": app})
}

// GetResults godoc
// GET /api/v1/staff/applications/:application_id/results
func (h *ApplicationHandler) GetResults(c *gin.Context) {
	claims := middleware.GetClaims(c)
	id, ok := paramInt(c, "application_id")
	if !ok {
		return
	}

	results, err := h.applicationService.Results(c.Request.Context(), claims.CompanyID, id)
	if err != nil {
		respondError(c, h.log, err)
		return
	}
	response.Success(c, http.StatusOK, gin.H{"results": results})
}

// ExportResults godoc
// GET /api/v1/staff/applications/:application_id/results/export
// Downloads the results as an .xlsx workbook.
func (h *ApplicationHandler) ExportResults(c *gin.Context) {
	claims := middleware.GetClaims(c)
	id, ok := paramInt(c, "application_id")
	if !ok {
		return
	}

	data, err := h.applicationService.ExportResults(c.Request.Context(), claims.CompanyID, id)
	if err != nil {
		respondError(c, h.log, err)
		return
	}

	c.Header("Content-Disposition", fmt.Sprintf(`attachment; filename="application-%d-results.xlsx"`, id))
	c.Data(http.StatusOK, xlsxContentType, data)
}

// GetAttemptEvents godoc
// GET /api/v1/staff/applications/:application_id/attempts/:attempt_id/events
// Returns the recorded lifecycle events of one attempt.
func (h *ApplicationHandler) GetAttemptEvents(c *gin.Context) {
	claims := middleware.GetClaims(c)
	id, ok := paramInt(c, "application_id")
	if !ok {
		return
	}
	attemptID, err := uuid.Parse(c.Param("attempt_id"))
	if err != nil {
		response.Fail(c, http.StatusBadRequest, response.ErrInvalidID)
		return
	}

	list, err := h.applicationService.AttemptEvents(c.Request.Context(), claims.CompanyID, id, attemptID)
	if err != nil {
		respondError(c, h.log, err)
		return
	}
	response.Success(c, http.StatusOK, gin.H{"events": list})
}
