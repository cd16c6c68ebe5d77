package handler

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/shule-api/internal/models"
	"github.com/noah-isme/shule-api/internal/service"
	appErrors "github.com/noah-isme/shule-api/pkg/errors"
	"github.com/noah-isme/shule-api/pkg/response"
)

// TimetableHandler exposes timetable endpoints.
type TimetableHandler struct {
	timetable *service.TimetableService
}

// NewTimetableHandler constructs handler.
func NewTimetableHandler(timetable *service.TimetableService) *TimetableHandler {
	return &TimetableHandler{timetable: timetable}
}

// List godoc
// @Summary List time slots
// @Tags Timetable
// @Produce json
// @Param classId query string false "Filter by class"
// @Param teacherId query string false "Filter by teacher"
// @Param academicYear query string false "Filter by academic year"
// @Param term query int false "Filter by term"
// @Param day query string false "Filter by day of week"
// @Success 200 {object} response.Envelope
// @Router /timetable/slots [get]
func (h *TimetableHandler) List(c *gin.Context) {
	filter := models.TimeSlotFilter{
		ClassID:      c.Query("classId"),
		TeacherID:    c.Query("teacherId"),
		AcademicYear: c.Query("academicYear"),
		DayOfWeek:    c.Query("day"),
		Term:         queryInt(c, "term", 0),
		Page:         queryInt(c, "page", 1),
		PageSize:     queryInt(c, "pageSize", 50),
	}
	slots, pagination, err := h.timetable.List(c.Request.Context(), filter)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, slots, pagination)
}

// Get godoc
// @Summary Get a time slot
// @Tags Timetable
// @Produce json
// @Param id path string true "Slot id"
// @Success 200 {object} response.Envelope
// @Router /timetable/slots/{id} [get]
func (h *TimetableHandler) Get(c *gin.Context) {
	slot, err := h.timetable.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, slot, nil)
}

// Create godoc
// @Summary Create a time slot
// @Tags Timetable
// @Accept json
// @Produce json
// @Param payload body service.SlotRequest true "Slot payload"
// @Success 201 {object} response.Envelope
// @Failure 409 {object} response.Envelope
// @Router /timetable/slots [post]
func (h *TimetableHandler) Create(c *gin.Context) {
	var req service.SlotRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid payload"))
		return
	}
	slot, err := h.timetable.Create(c.Request.Context(), req)
	if err != nil {
		respondConflicts(c, err)
		return
	}
	response.Created(c, slot)
}

// Update godoc
// @Summary Update a time slot
// @Tags Timetable
// @Accept json
// @Produce json
// @Param id path string true "Slot id"
// @Param payload body service.SlotRequest true "Slot payload"
// @Success 200 {object} response.Envelope
// @Failure 409 {object} response.Envelope
// @Router /timetable/slots/{id} [put]
func (h *TimetableHandler) Update(c *gin.Context) {
	var req service.SlotRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid payload"))
		return
	}
	slot, err := h.timetable.Update(c.Request.Context(), c.Param("id"), req)
	if err != nil {
		respondConflicts(c, err)
		return
	}
	response.JSON(c, http.StatusOK, slot, nil)
}

// Delete godoc
// @Summary Delete a time slot
// @Tags Timetable
// @Param id path string true "Slot id"
// @Success 204
// @Router /timetable/slots/{id} [delete]
func (h *TimetableHandler) Delete(c *gin.Context) {
	if err := h.timetable.Delete(c.Request.Context(), c.Param("id")); err != nil {
		response.Error(c, err)
		return
	}
	response.NoContent(c)
}

// Bulk godoc
// @Summary Bulk create time slots
// @Tags Timetable
// @Accept json
// @Produce json
// @Param payload body service.BulkSlotsRequest true "Bulk payload"
// @Success 200 {object} response.Envelope
// @Router /timetable/slots/bulk [post]
func (h *TimetableHandler) Bulk(c *gin.Context) {
	var req service.BulkSlotsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid payload"))
		return
	}
	result, err := h.timetable.BulkCreate(c.Request.Context(), req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, result, nil)
}

// Check godoc
// @Summary Dry-run conflict check
// @Tags Timetable
// @Accept json
// @Produce json
// @Param payload body service.SlotRequest true "Candidate slot"
// @Success 200 {object} response.Envelope
// @Router /timetable/check [post]
func (h *TimetableHandler) Check(c *gin.Context) {
	var req service.SlotRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid payload"))
		return
	}
	day, ok := models.ParseDayOfWeek(req.DayOfWeek)
	if !ok {
		response.Error(c, appErrors.Clone(appErrors.ErrValidation, "invalid day of week"))
		return
	}
	candidate := models.TimeSlot{
		ClassID:      req.ClassID,
		SubjectID:    req.SubjectID,
		TeacherID:    req.TeacherID,
		DayOfWeek:    day,
		StartTime:    req.StartTime,
		EndTime:      req.EndTime,
		Room:         req.Room,
		AcademicYear: req.AcademicYear,
		Term:         req.Term,
	}
	conflicts, err := h.timetable.CheckConflicts(c.Request.Context(), candidate, c.Query("excludeId"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, gin.H{
		"has_conflicts": len(conflicts) > 0,
		"conflicts":     conflicts,
	}, nil)
}

// ClassTimetable godoc
// @Summary Class timetable grouped by day
// @Tags Timetable
// @Produce json
// @Param classId path string true "Class id"
// @Param academicYear query string true "Academic year"
// @Param term query int true "Term"
// @Success 200 {object} response.Envelope
// @Router /timetable/class/{classId} [get]
func (h *TimetableHandler) ClassTimetable(c *gin.Context) {
	timetable, err := h.timetable.ClassTimetable(c.Request.Context(), c.Param("classId"), c.Query("academicYear"), queryInt(c, "term", 1))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, timetable, nil)
}

// TeacherTimetable godoc
// @Summary Teacher timetable grouped by day
// @Tags Timetable
// @Produce json
// @Param teacherId path string true "Teacher id"
// @Param academicYear query string true "Academic year"
// @Param term query int true "Term"
// @Success 200 {object} response.Envelope
// @Router /timetable/teacher/{teacherId} [get]
func (h *TimetableHandler) TeacherTimetable(c *gin.Context) {
	timetable, err := h.timetable.TeacherTimetable(c.Request.Context(), c.Param("teacherId"), c.Query("academicYear"), queryInt(c, "term", 1))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, timetable, nil)
}

// DeleteClassTimetable godoc
// @Summary Delete a class timetable
// @Tags Timetable
// @Produce json
// @Param classId path string true "Class id"
// @Param academicYear query string false "Academic year"
// @Param term query int false "Term"
// @Success 200 {object} response.Envelope
// @Router /timetable/class/{classId} [delete]
func (h *TimetableHandler) DeleteClassTimetable(c *gin.Context) {
	count, err := h.timetable.DeleteByClass(c.Request.Context(), c.Param("classId"), c.Query("academicYear"), queryInt(c, "term", 0))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, gin.H{"deleted": count}, nil)
}

// Statistics godoc
// @Summary Timetable statistics
// @Tags Timetable
// @Produce json
// @Param academicYear query string true "Academic year"
// @Param term query int true "Term"
// @Success 200 {object} response.Envelope
// @Router /timetable/statistics [get]
func (h *TimetableHandler) Statistics(c *gin.Context) {
	stats, err := h.timetable.Statistics(c.Request.Context(), c.Query("academicYear"), queryInt(c, "term", 1))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, stats, nil)
}

// respondConflicts renders scheduling rejections with the full conflict
// list; other errors pass through the common envelope.
func respondConflicts(c *gin.Context, err error) {
	var conflictErr *models.SlotConflictError
	if errors.As(err, &conflictErr) {
		c.Header("Cache-Control", "no-store")
		c.JSON(http.StatusConflict, response.Envelope{
			Error: appErrors.FromError(err),
			Data:  gin.H{"conflicts": conflictErr.Conflicts},
		})
		return
	}
	response.Error(c, err)
}

func queryInt(c *gin.Context, key string, fallback int) int {
	raw := c.Query(key)
	if raw == "" {
		return fallback
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return fallback
	}
	return v
}
