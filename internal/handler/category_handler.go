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

// CategoryHandler handles the category tree and question tagging endpoints.
type CategoryHandler struct {
	categoryService *service.CategoryService
	log             zerolog.Logger
}

// NewCategoryHandler creates a new CategoryHandler.
func NewCategoryHandler(categoryService *service.CategoryService, log zerolog.Logger) *CategoryHandler {
	return &CategoryHandler{
		categoryService: categoryService,
		log:             log.With().Str("component", "category_handler").Logger(),
	}
}

// ListCategories godoc
// GET /api/v1/staff/categories
// Lists the company's categories flat, or nested with ?tree=true.
func (h *CategoryHandler) ListCategories(c *gin.Context) {
	claims := middleware.GetClaims(c)

	if c.Query("tree") == "true" {
		tree, err := h.categoryService.Tree(c.Request.Context(), claims.CompanyID)
		if err != nil {
			respondError(c, h.log, err)
			return
		}
		response.Success(c, http.StatusOK, gin.H{"categories": tree})
		return
	}

	categories, err := h.categoryService.ListCategories(c.Request.Context(), claims.CompanyID)
	if err != nil {
		respondError(c, h.log, err)
		return
	}
	response.Success(c, http.StatusOK, gin.H{"categories": categories})
}

// CreateCategory godoc
// POST /api/v1/staff/categories
func (h *CategoryHandler) CreateCategory(c *gin.Context) {
	claims := middleware.GetClaims(c)

	var req model.CreateCategoryRequest
	if fields := validator.Bind(c, &req); fields != nil {
		response.FailWithFields(c, http.StatusBadRequest, response.ErrValidation, fields)
		return
	}

	category, err := h.categoryService.CreateCategory(c.Request.Context(), claims.CompanyID, &req)
	if err != nil {
		respondError(c, h.log, err)
		return
	}
	response.Created(c, gin.H{"category": category})
}

// DeleteCategory godoc
// DELETE /api/v1/staff/categories/:category_id
// Deletes a category and its subtree; question links are detached.
func (h *CategoryHandler) DeleteCategory(c *gin.Context) {
	claims := middleware.GetClaims(c)
	id, ok := paramInt(c, "category_id")
	if !ok {
		return
	}

	if err := h.categoryService.DeleteCategory(c.Request.Context(), claims.CompanyID, id); err != nil {
		respondError(c, h.log, err)
		return
	}
	response.Success(c, http.StatusOK, gin.H{"message": "category deleted"})
}

// ValidateAssignment godoc
// POST /api/v1/staff/questions/:question_id/categories/validate
// Checks whether the question may be linked to the category without linking it.
func (h *CategoryHandler) ValidateAssignment(c *gin.Context) {
	claims := middleware.GetClaims(c)
	questionID, ok := paramInt(c, "question_id")
	if !ok {
		return
	}

	var req model.AssignCategoryRequest
	if fields := validator.Bind(c, &req); fields != nil {
		response.FailWithFields(c, http.StatusBadRequest, response.ErrValidation, fields)
		return
	}

	if err := h.categoryService.ValidateCategoryAssignment(c.Request.Context(), claims.CompanyID, questionID, req.CategoryID); err != nil {
		respondError(c, h.log, err)
		return
	}
	response.Success(c, http.StatusOK, gin.H{"valid": true})
}

// AssignCategory godoc
// POST /api/v1/staff/questions/:question_id/categories
func (h *CategoryHandler) AssignCategory(c *gin.Context) {
	claims := middleware.GetClaims(c)
	questionID, ok := paramInt(c, "question_id")
	if !ok {
		return
	}

	var req model.AssignCategoryRequest
	if fields := validator.Bind(c, &req); fields != nil {
		response.FailWithFields(c, http.StatusBadRequest, response.ErrValidation, fields)
		return
	}

	if err := h.categoryService.AssignCategory(c.Request.Context(), claims.CompanyID, questionID, req.CategoryID); err != nil {
		respondError(c, h.log, err)
		return
	}
	response.Created(c, gin.H{"question_id": questionID, "category_id": req.CategoryID})
}

// UnassignCategory godoc
// DELETE /api/v1/staff/questions/:question_id/categories/:category_id
func (h *CategoryHandler) UnassignCategory(c *gin.Context) {
	claims := middleware.GetClaims(c)
	questionID, ok := paramInt(c, "question_id")
	if !ok {
		return
	}
	categoryID, ok := paramInt(c, "category_id")
	if !ok {
		return
	}

	if err := h.categoryService.UnassignCategory(c.Request.Context(), claims.CompanyID, questionID, categoryID); err != nil {
		respondError(c, h.log, err)
		return
	}
	response.Success(c, http.StatusOK, gin.H{"message": "category unassigned"})
}
