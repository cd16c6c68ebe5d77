package handler

import (
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/shule-api/internal/models"
	"github.com/noah-isme/shule-api/internal/service"
	appErrors "github.com/noah-isme/shule-api/pkg/errors"
	"github.com/noah-isme/shule-api/pkg/response"
)

// FeeHandler exposes fee record endpoints.
type FeeHandler struct {
	fees *service.FeeService
}

// NewFeeHandler constructs handler.
func NewFeeHandler(fees *service.FeeService) *FeeHandler {
	return &FeeHandler{fees: fees}
}

// List godoc
// @Summary List fee records
// @Tags Fees
// @Produce json
// @Param studentId query string false "Filter by student"
// @Param academicYear query string false "Filter by academic year"
// @Param term query int false "Filter by term"
// @Param status query string false "Filter by status"
// @Success 200 {object} response.Envelope
// @Router /fees [get]
func (h *FeeHandler) List(c *gin.Context) {
	filter := models.FeeFilter{
		StudentID:    c.Query("studentId"),
		AcademicYear: c.Query("academicYear"),
		Term:         queryInt(c, "term", 0),
		Status:       c.Query("status"),
		Page:         queryInt(c, "page", 1),
		PageSize:     queryInt(c, "pageSize", 50),
	}
	records, pagination, err := h.fees.List(c.Request.Context(), filter)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, records, pagination)
}

// Get godoc
// @Summary Get a fee record
// @Tags Fees
// @Produce json
// @Param id path string true "Fee record id"
// @Success 200 {object} response.Envelope
// @Router /fees/{id} [get]
func (h *FeeHandler) Get(c *gin.Context) {
	record, err := h.fees.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, record, nil)
}

// Generate godoc
// @Summary Generate term fee records for a grade
// @Tags Fees
// @Accept json
// @Produce json
// @Param payload body service.GenerateFeeRecordsRequest true "Generation payload"
// @Success 201 {object} response.Envelope
// @Router /fees/generate [post]
func (h *FeeHandler) Generate(c *gin.Context) {
	var req service.GenerateFeeRecordsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid payload"))
		return
	}
	records, err := h.fees.GenerateRecords(c.Request.Context(), req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, gin.H{"created": len(records), "records": records})
}

// Defaulters godoc
// @Summary List fee defaulters
// @Tags Fees
// @Produce json
// @Param academicYear query string true "Academic year"
// @Param term query int true "Term"
// @Success 200 {object} response.Envelope
// @Router /fees/defaulters [get]
func (h *FeeHandler) Defaulters(c *gin.Context) {
	defaulters, err := h.fees.Defaulters(c.Request.Context(), c.Query("academicYear"), queryInt(c, "term", 1))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, defaulters, nil)
}

// ExportDefaulters godoc
// @Summary Export fee defaulters as CSV
// @Tags Fees
// @Produce text/csv
// @Param academicYear query string true "Academic year"
// @Param term query int true "Term"
// @Success 200 {file} file
// @Router /fees/defaulters/export [get]
func (h *FeeHandler) ExportDefaulters(c *gin.Context) {
	academicYear := c.Query("academicYear")
	term := queryInt(c, "term", 1)
	payload, err := h.fees.ExportDefaultersCSV(c.Request.Context(), academicYear, term)
	if err != nil {
		response.Error(c, err)
		return
	}
	filename := fmt.Sprintf("defaulters-%s-term%d.csv", academicYear, term)
	c.Header("Content-Disposition", fmt.Sprintf("attachment; filename=%q", filename))
	c.Data(http.StatusOK, "text/csv", payload)
}

// Remind godoc
// @Summary Send fee reminder SMS to defaulters
// @Tags Fees
// @Produce json
// @Param academicYear query string true "Academic year"
// @Param term query int true "Term"
// @Success 200 {object} response.Envelope
// @Router /fees/defaulters/remind [post]
func (h *FeeHandler) Remind(c *gin.Context) {
	result, err := h.fees.SendReminders(c.Request.Context(), c.Query("academicYear"), queryInt(c, "term", 1))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, result, nil)
}

// MarkOverdue godoc
// @Summary Mark unpaid records past due date as overdue
// @Tags Fees
// @Produce json
// @Param academicYear query string true "Academic year"
// @Param term query int true "Term"
// @Param cutoff query string false "Cutoff date (RFC3339, defaults to now)"
// @Success 200 {object} response.Envelope
// @Router /fees/overdue [post]
func (h *FeeHandler) MarkOverdue(c *gin.Context) {
	cutoff := time.Now().UTC()
	if raw := c.Query("cutoff"); raw != "" {
		parsed, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			response.Error(c, appErrors.Clone(appErrors.ErrValidation, "invalid cutoff date"))
			return
		}
		cutoff = parsed
	}
	count, err := h.fees.MarkOverdue(c.Request.Context(), c.Query("academicYear"), queryInt(c, "term", 1), cutoff)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, gin.H{"updated": count}, nil)
}
