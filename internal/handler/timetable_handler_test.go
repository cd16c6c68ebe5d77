package handler

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/noah-isme/shule-api/internal/models"
	"github.com/noah-isme/shule-api/internal/repository"
	"github.com/noah-isme/shule-api/internal/service"
	"github.com/noah-isme/shule-api/pkg/response"
)

type timetableRepoStub struct {
	slots []models.TimeSlot
}

func (s *timetableRepoStub) List(ctx context.Context, filter models.TimeSlotFilter) ([]models.TimeSlot, int, error) {
	return s.slots, len(s.slots), nil
}

func (s *timetableRepoStub) FindByID(ctx context.Context, id string) (*models.TimeSlot, error) {
	for i := range s.slots {
		if s.slots[i].ID == id {
			slot := s.slots[i]
			return &slot, nil
		}
	}
	return nil, sql.ErrNoRows
}

func (s *timetableRepoStub) ListByDay(ctx context.Context, academicYear string, term int, day models.DayOfWeek) ([]models.TimeSlot, error) {
	var matched []models.TimeSlot
	for _, slot := range s.slots {
		if slot.AcademicYear == academicYear && slot.Term == term && slot.DayOfWeek == day {
			matched = append(matched, slot)
		}
	}
	return matched, nil
}

func (s *timetableRepoStub) ListByClass(ctx context.Context, classID, academicYear string, term int) ([]models.TimeSlot, error) {
	return s.slots, nil
}

func (s *timetableRepoStub) ListByTeacher(ctx context.Context, teacherID, academicYear string, term int) ([]models.TimeSlot, error) {
	return s.slots, nil
}

func (s *timetableRepoStub) Create(ctx context.Context, slot *models.TimeSlot) error {
	slot.ID = "slot-created"
	s.slots = append(s.slots, *slot)
	return nil
}

func (s *timetableRepoStub) Update(ctx context.Context, slot *models.TimeSlot) error {
	return nil
}

func (s *timetableRepoStub) Delete(ctx context.Context, id string) error {
	return nil
}

func (s *timetableRepoStub) DeleteByClass(ctx context.Context, classID, academicYear string, term int) (int64, error) {
	return int64(len(s.slots)), nil
}

func (s *timetableRepoStub) Statistics(ctx context.Context, academicYear string, term int) (*repository.TimetableStatistics, error) {
	return &repository.TimetableStatistics{TotalSlots: len(s.slots)}, nil
}

func newTimetableHandler(repo *timetableRepoStub) *TimetableHandler {
	svc := service.NewTimetableService(repo, nil, time.Minute, nil, nil, zap.NewNop())
	return NewTimetableHandler(svc)
}

func slotPayload(t *testing.T) []byte {
	t.Helper()
	body, err := json.Marshal(service.SlotRequest{
		ClassID:      "class-a",
		SubjectID:    "sub-1",
		TeacherID:    "teacher-1",
		DayOfWeek:    "Monday",
		StartTime:    "08:00",
		EndTime:      "09:00",
		Room:         "R1",
		AcademicYear: "2026",
		Term:         1,
	})
	require.NoError(t, err)
	return body
}

func TestTimetableHandlerCreateSuccess(t *testing.T) {
	gin.SetMode(gin.TestMode)
	h := newTimetableHandler(&timetableRepoStub{})

	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	req, _ := http.NewRequest(http.MethodPost, "/timetable/slots", bytes.NewReader(slotPayload(t)))
	req.Header.Set("Content-Type", "application/json")
	c.Request = req

	h.Create(c)
	require.Equal(t, http.StatusCreated, w.Code)

	var envelope response.Envelope
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &envelope))
	assert.Nil(t, envelope.Error)
}

func TestTimetableHandlerCreateConflictListsDimensions(t *testing.T) {
	gin.SetMode(gin.TestMode)
	existing := models.TimeSlot{
		ID:           "slot-1",
		ClassID:      "class-a",
		SubjectID:    "sub-1",
		TeacherID:    "teacher-1",
		DayOfWeek:    models.Monday,
		StartTime:    "08:30",
		EndTime:      "09:30",
		Room:         "R1",
		AcademicYear: "2026",
		Term:         1,
	}
	h := newTimetableHandler(&timetableRepoStub{slots: []models.TimeSlot{existing}})

	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	req, _ := http.NewRequest(http.MethodPost, "/timetable/slots", bytes.NewReader(slotPayload(t)))
	req.Header.Set("Content-Type", "application/json")
	c.Request = req

	h.Create(c)
	require.Equal(t, http.StatusConflict, w.Code)

	var body struct {
		Data struct {
			Conflicts []models.SlotConflict `json:"conflicts"`
		} `json:"data"`
		Error *struct {
			Code string `json:"code"`
		} `json:"error"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	require.NotNil(t, body.Error)
	assert.Equal(t, "CONFLICT", body.Error.Code)
	// teacher, class and room all collide
	assert.Len(t, body.Data.Conflicts, 3)
}

func TestTimetableHandlerCreateInvalidBody(t *testing.T) {
	gin.SetMode(gin.TestMode)
	h := newTimetableHandler(&timetableRepoStub{})

	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	req, _ := http.NewRequest(http.MethodPost, "/timetable/slots", bytes.NewReader([]byte(`not-json`)))
	req.Header.Set("Content-Type", "application/json")
	c.Request = req

	h.Create(c)
	require.Equal(t, http.StatusBadRequest, w.Code)
}

func TestTimetableHandlerCheckReportsWithoutPersisting(t *testing.T) {
	gin.SetMode(gin.TestMode)
	repo := &timetableRepoStub{}
	h := newTimetableHandler(repo)

	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	req, _ := http.NewRequest(http.MethodPost, "/timetable/check", bytes.NewReader(slotPayload(t)))
	req.Header.Set("Content-Type", "application/json")
	c.Request = req

	h.Check(c)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Empty(t, repo.slots)

	var body struct {
		Data struct {
			HasConflicts bool `json:"has_conflicts"`
		} `json:"data"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.False(t, body.Data.HasConflicts)
}
