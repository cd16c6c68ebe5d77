package service

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/noah-isme/shule-api/internal/models"
	"github.com/noah-isme/shule-api/internal/repository"
	appErrors "github.com/noah-isme/shule-api/pkg/errors"
)

type timeSlotRepository interface {
	List(ctx context.Context, filter models.TimeSlotFilter) ([]models.TimeSlot, int, error)
	FindByID(ctx context.Context, id string) (*models.TimeSlot, error)
	ListByDay(ctx context.Context, academicYear string, term int, day models.DayOfWeek) ([]models.TimeSlot, error)
	ListByClass(ctx context.Context, classID, academicYear string, term int) ([]models.TimeSlot, error)
	ListByTeacher(ctx context.Context, teacherID, academicYear string, term int) ([]models.TimeSlot, error)
	Create(ctx context.Context, slot *models.TimeSlot) error
	Update(ctx context.Context, slot *models.TimeSlot) error
	Delete(ctx context.Context, id string) error
	DeleteByClass(ctx context.Context, classID, academicYear string, term int) (int64, error)
	Statistics(ctx context.Context, academicYear string, term int) (*repository.TimetableStatistics, error)
}

type timetableCache interface {
	Get(ctx context.Context, key string, dest interface{}) error
	Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error
	DeleteByPattern(ctx context.Context, pattern string) error
}

// SlotRequest describes payload for creating or updating a slot.
type SlotRequest struct {
	ClassID      string `json:"class_id" validate:"required"`
	SubjectID    string `json:"subject_id" validate:"required"`
	TeacherID    string `json:"teacher_id" validate:"required"`
	DayOfWeek    string `json:"day_of_week" validate:"required"`
	StartTime    string `json:"start_time" validate:"required"`
	EndTime      string `json:"end_time" validate:"required"`
	Room         string `json:"room"`
	AcademicYear string `json:"academic_year" validate:"required"`
	Term         int    `json:"term" validate:"required,min=1,max=3"`
}

// BulkSlotsRequest holds multiple slots for sequential creation.
type BulkSlotsRequest struct {
	Slots []SlotRequest `json:"slots" validate:"required,min=1,dive"`
}

// BulkSlotFailure records one rejected candidate in a bulk request.
type BulkSlotFailure struct {
	Slot      SlotRequest           `json:"slot"`
	Error     string                `json:"error"`
	Conflicts []models.SlotConflict `json:"conflicts,omitempty"`
}

// BulkSlotsResult summarises a bulk creation run.
type BulkSlotsResult struct {
	Created  []models.TimeSlot `json:"created"`
	Failures []BulkSlotFailure `json:"failures,omitempty"`
}

// DayTimetable groups a timetable's slots by day of week.
type DayTimetable map[models.DayOfWeek][]models.TimeSlot

// TimetableService coordinates slot scheduling and conflict detection.
type TimetableService struct {
	repo      timeSlotRepository
	cache     timetableCache
	cacheTTL  time.Duration
	metrics   *MetricsService
	validator *validator.Validate
	logger    *zap.Logger
}

// NewTimetableService instantiates TimetableService. Cache and metrics
// may be nil.
func NewTimetableService(repo timeSlotRepository, cache timetableCache, cacheTTL time.Duration, metrics *MetricsService, validate *validator.Validate, logger *zap.Logger) *TimetableService {
	if validate == nil {
		validate = validator.New()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &TimetableService{
		repo:      repo,
		cache:     cache,
		cacheTTL:  cacheTTL,
		metrics:   metrics,
		validator: validate,
		logger:    logger,
	}
}

// List returns slots with pagination metadata.
func (s *TimetableService) List(ctx context.Context, filter models.TimeSlotFilter) ([]models.TimeSlot, *models.Pagination, error) {
	slots, total, err := s.repo.List(ctx, filter)
	if err != nil {
		return nil, nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list time slots")
	}
	page := filter.Page
	if page < 1 {
		page = 1
	}
	size := filter.PageSize
	if size <= 0 {
		size = 50
	}
	pagination := &models.Pagination{Page: page, PageSize: size, TotalCount: total}
	return slots, pagination, nil
}

// Get loads a single slot.
func (s *TimetableService) Get(ctx context.Context, id string) (*models.TimeSlot, error) {
	slot, err := s.repo.FindByID(ctx, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "time slot not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load time slot")
	}
	return slot, nil
}

// CheckConflicts scans committed slots sharing the candidate's year, term
// and day, and reports every conflict found. excludeID removes a slot's
// previous identity from the comparison set during updates.
func (s *TimetableService) CheckConflicts(ctx context.Context, candidate models.TimeSlot, excludeID string) ([]models.SlotConflict, error) {
	candStart, err := models.MinuteOfDay(candidate.StartTime)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid start time")
	}
	candEnd, err := models.MinuteOfDay(candidate.EndTime)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid end time")
	}

	existing, err := s.repo.ListByDay(ctx, candidate.AcademicYear, candidate.Term, candidate.DayOfWeek)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load slots for conflict check")
	}

	if s.metrics != nil {
		s.metrics.ConflictCheck()
	}

	var conflicts []models.SlotConflict
	for _, slot := range existing {
		if excludeID != "" && slot.ID == excludeID {
			continue
		}

		start, err := models.MinuteOfDay(slot.StartTime)
		if err != nil {
			return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "stored slot has malformed start time")
		}
		end, err := models.MinuteOfDay(slot.EndTime)
		if err != nil {
			return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "stored slot has malformed end time")
		}

		if !models.Overlaps(candStart, candEnd, start, end) {
			continue
		}

		// One overlapping slot can conflict on several dimensions at once.
		if slot.TeacherID == candidate.TeacherID {
			conflicts = append(conflicts, s.conflict(models.ConflictTeacher,
				fmt.Sprintf("teacher %s is already scheduled for class %s at this time", slot.TeacherID, slot.ClassID), slot))
		}
		if slot.ClassID == candidate.ClassID {
			conflicts = append(conflicts, s.conflict(models.ConflictClass,
				fmt.Sprintf("class %s already has a lesson scheduled at this time", slot.ClassID), slot))
		}
		if candidate.Room != "" && slot.Room != "" && strings.EqualFold(slot.Room, candidate.Room) {
			conflicts = append(conflicts, s.conflict(models.ConflictRoom,
				fmt.Sprintf("room %s is already booked at this time", slot.Room), slot))
		}
	}

	return conflicts, nil
}

func (s *TimetableService) conflict(dim models.ConflictType, message string, slot models.TimeSlot) models.SlotConflict {
	if s.metrics != nil {
		s.metrics.ConflictDetected(string(dim))
	}
	return models.SlotConflict{Type: dim, Message: message, Slot: slot}
}

// Create inserts a new slot after full conflict detection.
func (s *TimetableService) Create(ctx context.Context, req SlotRequest) (*models.TimeSlot, error) {
	slot, err := s.slotFromRequest(req)
	if err != nil {
		return nil, err
	}

	conflicts, err := s.CheckConflicts(ctx, *slot, "")
	if err != nil {
		return nil, err
	}
	if len(conflicts) > 0 {
		return nil, s.conflictError(conflicts)
	}

	if err := s.repo.Create(ctx, slot); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to create time slot")
	}
	s.invalidate(ctx, slot.AcademicYear, slot.Term)
	return slot, nil
}

// Update modifies an existing slot, excluding its own previous identity
// from the conflict comparison set.
func (s *TimetableService) Update(ctx context.Context, id string, req SlotRequest) (*models.TimeSlot, error) {
	existing, err := s.repo.FindByID(ctx, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "time slot not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load time slot")
	}

	slot, err := s.slotFromRequest(req)
	if err != nil {
		return nil, err
	}
	slot.ID = existing.ID
	slot.CreatedAt = existing.CreatedAt

	conflicts, err := s.CheckConflicts(ctx, *slot, existing.ID)
	if err != nil {
		return nil, err
	}
	if len(conflicts) > 0 {
		return nil, s.conflictError(conflicts)
	}

	if err := s.repo.Update(ctx, slot); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to update time slot")
	}
	s.invalidate(ctx, slot.AcademicYear, slot.Term)
	if existing.AcademicYear != slot.AcademicYear || existing.Term != slot.Term {
		s.invalidate(ctx, existing.AcademicYear, existing.Term)
	}
	return slot, nil
}

// Delete removes a slot.
func (s *TimetableService) Delete(ctx context.Context, id string) error {
	existing, err := s.repo.FindByID(ctx, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return appErrors.Clone(appErrors.ErrNotFound, "time slot not found")
		}
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load time slot")
	}

	if err := s.repo.Delete(ctx, id); err != nil {
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to delete time slot")
	}
	s.invalidate(ctx, existing.AcademicYear, existing.Term)
	return nil
}

// DeleteByClass wipes a class timetable, returning the removed count.
func (s *TimetableService) DeleteByClass(ctx context.Context, classID, academicYear string, term int) (int64, error) {
	count, err := s.repo.DeleteByClass(ctx, classID, academicYear, term)
	if err != nil {
		return 0, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to delete class timetable")
	}
	if academicYear != "" {
		s.invalidate(ctx, academicYear, term)
	} else {
		s.invalidateAll(ctx)
	}
	return count, nil
}

// BulkCreate processes candidates sequentially: each candidate is checked
// against the slots already committed, including those created earlier in
// the same batch. Conflicting candidates are collected and skipped; the
// remainder are created.
func (s *TimetableService) BulkCreate(ctx context.Context, req BulkSlotsRequest) (*BulkSlotsResult, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid bulk slots payload")
	}

	result := &BulkSlotsResult{}
	for _, item := range req.Slots {
		slot, err := s.slotFromRequest(item)
		if err != nil {
			result.Failures = append(result.Failures, BulkSlotFailure{Slot: item, Error: err.Error()})
			continue
		}

		conflicts, err := s.CheckConflicts(ctx, *slot, "")
		if err != nil {
			return nil, err
		}
		if len(conflicts) > 0 {
			result.Failures = append(result.Failures, BulkSlotFailure{
				Slot:      item,
				Error:     "scheduling conflicts detected",
				Conflicts: conflicts,
			})
			continue
		}

		// Created immediately so later candidates in the batch see it.
		if err := s.repo.Create(ctx, slot); err != nil {
			return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to create time slot")
		}
		result.Created = append(result.Created, *slot)
	}

	if len(result.Created) > 0 {
		seen := map[string]struct{}{}
		for _, slot := range result.Created {
			key := fmt.Sprintf("%s:%d", slot.AcademicYear, slot.Term)
			if _, ok := seen[key]; ok {
				continue
			}
			seen[key] = struct{}{}
			s.invalidate(ctx, slot.AcademicYear, slot.Term)
		}
	}
	return result, nil
}

// ClassTimetable returns a class timetable grouped by day.
func (s *TimetableService) ClassTimetable(ctx context.Context, classID, academicYear string, term int) (DayTimetable, error) {
	key := fmt.Sprintf("timetable:%s:%d:class:%s", academicYear, term, classID)
	var cached DayTimetable
	if s.cacheGet(ctx, key, &cached) {
		return cached, nil
	}

	slots, err := s.repo.ListByClass(ctx, classID, academicYear, term)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load class timetable")
	}
	grouped := groupByDay(slots)
	s.cacheSet(ctx, key, grouped)
	return grouped, nil
}

// TeacherTimetable returns a teacher timetable grouped by day.
func (s *TimetableService) TeacherTimetable(ctx context.Context, teacherID, academicYear string, term int) (DayTimetable, error) {
	key := fmt.Sprintf("timetable:%s:%d:teacher:%s", academicYear, term, teacherID)
	var cached DayTimetable
	if s.cacheGet(ctx, key, &cached) {
		return cached, nil
	}

	slots, err := s.repo.ListByTeacher(ctx, teacherID, academicYear, term)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load teacher timetable")
	}
	grouped := groupByDay(slots)
	s.cacheSet(ctx, key, grouped)
	return grouped, nil
}

// Statistics summarises the year/term timetable.
func (s *TimetableService) Statistics(ctx context.Context, academicYear string, term int) (*repository.TimetableStatistics, error) {
	stats, err := s.repo.Statistics(ctx, academicYear, term)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load timetable statistics")
	}
	return stats, nil
}

func (s *TimetableService) slotFromRequest(req SlotRequest) (*models.TimeSlot, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid slot payload")
	}

	day, ok := models.ParseDayOfWeek(req.DayOfWeek)
	if !ok {
		return nil, appErrors.Clone(appErrors.ErrValidation, fmt.Sprintf("invalid day of week %q", req.DayOfWeek))
	}

	start, err := models.MinuteOfDay(req.StartTime)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid start time")
	}
	end, err := models.MinuteOfDay(req.EndTime)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid end time")
	}
	if start >= end {
		return nil, appErrors.Clone(appErrors.ErrValidation, "start time must be before end time")
	}

	return &models.TimeSlot{
		ClassID:      req.ClassID,
		SubjectID:    req.SubjectID,
		TeacherID:    req.TeacherID,
		DayOfWeek:    day,
		StartTime:    req.StartTime,
		EndTime:      req.EndTime,
		Room:         req.Room,
		AcademicYear: req.AcademicYear,
		Term:         req.Term,
	}, nil
}

func (s *TimetableService) conflictError(conflicts []models.SlotConflict) error {
	domainErr := &models.SlotConflictError{Conflicts: conflicts}
	return appErrors.Wrap(domainErr, appErrors.ErrConflict.Code, appErrors.ErrConflict.Status, "scheduling conflicts detected")
}

func (s *TimetableService) cacheGet(ctx context.Context, key string, dest interface{}) bool {
	if s.cache == nil {
		return false
	}
	if err := s.cache.Get(ctx, key, dest); err != nil {
		return false
	}
	return true
}

func (s *TimetableService) cacheSet(ctx context.Context, key string, value interface{}) {
	if s.cache == nil {
		return
	}
	if err := s.cache.Set(ctx, key, value, s.cacheTTL); err != nil {
		s.logger.Warn("timetable cache set failed", zap.String("key", key), zap.Error(err))
	}
}

func (s *TimetableService) invalidate(ctx context.Context, academicYear string, term int) {
	if s.cache == nil {
		return
	}
	pattern := fmt.Sprintf("timetable:%s:%d:*", academicYear, term)
	if err := s.cache.DeleteByPattern(ctx, pattern); err != nil {
		s.logger.Warn("timetable cache invalidation failed", zap.String("pattern", pattern), zap.Error(err))
	}
}

func (s *TimetableService) invalidateAll(ctx context.Context) {
	if s.cache == nil {
		return
	}
	if err := s.cache.DeleteByPattern(ctx, "timetable:*"); err != nil {
		s.logger.Warn("timetable cache invalidation failed", zap.Error(err))
	}
}

func groupByDay(slots []models.TimeSlot) DayTimetable {
	grouped := DayTimetable{}
	for _, slot := range slots {
		grouped[slot.DayOfWeek] = append(grouped[slot.DayOfWeek], slot)
	}
	return grouped
}
