package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/sma-timetable/internal/dto"
	internalmiddleware "github.com/noah-isme/sma-timetable/internal/middleware"
	"github.com/noah-isme/sma-timetable/internal/models"
	"github.com/noah-isme/sma-timetable/internal/service"
	appErrors "github.com/noah-isme/sma-timetable/pkg/errors"
)

type timetableServiceMock struct {
	captured    dto.GenerateTimetableRequest
	generateErr error
	resp        *dto.GenerateTimetableResponse
	job         *dto.GenerationJob
	entries     []dto.TimetableEntryView
	entriesArgs [2]string
	active      string
}

func (m *timetableServiceMock) Generate(ctx context.Context, req dto.GenerateTimetableRequest) (*dto.GenerateTimetableResponse, error) {
	m.captured = req
	return m.resp, m.generateErr
}

func (m *timetableServiceMock) Enqueue(ctx context.Context, req dto.GenerateTimetableRequest) (*dto.GenerationJob, error) {
	m.captured = req
	return m.job, nil
}

func (m *timetableServiceMock) Job(ctx context.Context, id string) (*dto.GenerationJob, error) {
	if m.job == nil || m.job.ID != id {
		return nil, appErrors.Clone(appErrors.ErrNotFound, "generation job not found or expired")
	}
	return m.job, nil
}

func (m *timetableServiceMock) List(ctx context.Context) ([]models.Timetable, error) {
	return []models.Timetable{{ID: "tt-1", Active: true}}, nil
}

func (m *timetableServiceMock) Entries(ctx context.Context, timetableID, divisionID string) ([]dto.TimetableEntryView, error) {
	m.entriesArgs = [2]string{timetableID, divisionID}
	return m.entries, nil
}

func (m *timetableServiceMock) ActiveEntries(ctx context.Context, divisionID string) (string, []dto.TimetableEntryView, error) {
	if m.active == "" {
		return "", nil, appErrors.Clone(appErrors.ErrNotFound, "no active timetable")
	}
	m.entriesArgs = [2]string{m.active, divisionID}
	return m.active, m.entries, nil
}

type exporterMock struct {
	format dto.ExportFormat
	err    error
}

func (m *exporterMock) Export(ctx context.Context, timetableID, divisionID string, format dto.ExportFormat) (*dto.ExportFile, error) {
	m.format = format
	if m.err != nil {
		return nil, m.err
	}
	return &dto.ExportFile{Filename: "timetable_tt-1.csv", ContentType: "text/csv", Body: []byte("day,period\n")}, nil
}

func newTimetableRouter(svc *timetableServiceMock, exp *exporterMock) *gin.Engine {
	gin.SetMode(gin.TestMode)
	h := NewTimetableHandler(svc, exp)
	router := gin.New()
	router.POST("/timetables/generate", h.Generate)
	router.POST("/timetables/jobs", h.Enqueue)
	router.GET("/timetables/jobs/:id", h.Job)
	router.GET("/timetables", h.List)
	router.GET("/timetables/active/entries", h.ActiveEntries)
	router.GET("/timetables/:id/entries", h.Entries)
	router.GET("/timetables/:id/export", h.Export)
	return router
}

func decodeEnvelope(t *testing.T, body []byte) map[string]json.RawMessage {
	t.Helper()
	var envelope map[string]json.RawMessage
	require.NoError(t, json.Unmarshal(body, &envelope))
	return envelope
}

func TestTimetableHandlerGenerateCreated(t *testing.T) {
	svc := &timetableServiceMock{resp: &dto.GenerateTimetableResponse{TimetableID: "tt-1", Outcome: "SUCCESS", Seed: 7}}
	router := newTimetableRouter(svc, &exporterMock{})

	req := httptest.NewRequest(http.MethodPost, "/timetables/generate", bytes.NewBufferString(`{"seed":7,"divisionIds":["d1"]}`))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	require.Equal(t, http.StatusCreated, w.Code)
	require.NotNil(t, svc.captured.Seed)
	assert.Equal(t, int64(7), *svc.captured.Seed)
	assert.Equal(t, []string{"d1"}, svc.captured.DivisionIDs)
	assert.Contains(t, string(decodeEnvelope(t, w.Body.Bytes())["data"]), `"timetableId":"tt-1"`)
}

func TestTimetableHandlerGenerateEmptyBody(t *testing.T) {
	svc := &timetableServiceMock{resp: &dto.GenerateTimetableResponse{TimetableID: "tt-1", Outcome: "SUCCESS"}}
	router := newTimetableRouter(svc, &exporterMock{})

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/timetables/generate", nil))

	require.Equal(t, http.StatusCreated, w.Code)
	assert.Nil(t, svc.captured.Seed)
}

func TestTimetableHandlerGenerateDryRun(t *testing.T) {
	svc := &timetableServiceMock{resp: &dto.GenerateTimetableResponse{Outcome: "SUCCESS"}}
	router := newTimetableRouter(svc, &exporterMock{})

	req := httptest.NewRequest(http.MethodPost, "/timetables/generate", bytes.NewBufferString(`{"dryRun":true}`))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"mode":"dry-run"}`, string(decodeEnvelope(t, w.Body.Bytes())["meta"]))
}

func TestTimetableHandlerGenerateInfeasible(t *testing.T) {
	svc := &timetableServiceMock{resp: &dto.GenerateTimetableResponse{
		Outcome: "ASSIGNMENT_INFEASIBLE",
		Reasons: []string{"subject phy: required 3 hours but only 0 available"},
	}}
	router := newTimetableRouter(svc, &exporterMock{})

	req := httptest.NewRequest(http.MethodPost, "/timetables/generate", bytes.NewBufferString(`{}`))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	require.Equal(t, http.StatusUnprocessableEntity, w.Code)
	envelope := decodeEnvelope(t, w.Body.Bytes())
	assert.Contains(t, string(envelope["data"]), "ASSIGNMENT_INFEASIBLE")
	assert.Contains(t, string(envelope["data"]), "only 0 available")
}

func TestTimetableHandlerGenerateValidation(t *testing.T) {
	router := newTimetableRouter(&timetableServiceMock{}, &exporterMock{})

	req := httptest.NewRequest(http.MethodPost, "/timetables/generate", bytes.NewBufferString(`{"seed":`))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	require.Equal(t, http.StatusBadRequest, w.Code)
}

func TestTimetableHandlerGenerateServiceError(t *testing.T) {
	svc := &timetableServiceMock{generateErr: appErrors.ErrSchedulerDisabled}
	router := newTimetableRouter(svc, &exporterMock{})

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/timetables/generate", nil))

	require.Equal(t, http.StatusServiceUnavailable, w.Code)
	assert.Contains(t, w.Body.String(), "SCHEDULER_DISABLED")
}

func TestTimetableHandlerJobs(t *testing.T) {
	svc := &timetableServiceMock{job: &dto.GenerationJob{ID: "job-1", Status: dto.JobStatusQueued}}
	router := newTimetableRouter(svc, &exporterMock{})

	req := httptest.NewRequest(http.MethodPost, "/timetables/jobs", bytes.NewBufferString(`{"timeoutSeconds":30}`))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	require.Equal(t, http.StatusAccepted, w.Code)
	assert.Equal(t, "jobs/job-1", w.Header().Get("Location"))
	assert.Equal(t, 30, svc.captured.TimeoutSeconds)

	w = httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/timetables/jobs/job-1", nil))
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"status":"QUEUED"`)

	w = httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/timetables/jobs/missing", nil))
	require.Equal(t, http.StatusNotFound, w.Code)
}

func TestTimetableHandlerListAndEntries(t *testing.T) {
	svc := &timetableServiceMock{entries: []dto.TimetableEntryView{{DivisionID: "d1", SubjectID: "phy", TimeSlot: 13, Day: 1, Period: 2, SessionType: "LECTURE"}}}
	router := newTimetableRouter(svc, &exporterMock{})

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/timetables", nil))
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "tt-1")

	w = httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/timetables/tt-1/entries?divisionId=d1", nil))
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, [2]string{"tt-1", "d1"}, svc.entriesArgs)
	assert.Contains(t, w.Body.String(), `"timeSlot":13`)
}

func TestTimetableHandlerActiveEntries(t *testing.T) {
	svc := &timetableServiceMock{entries: []dto.TimetableEntryView{{DivisionID: "d1", SubjectID: "phy", TimeSlot: 4}}}
	router := newTimetableRouter(svc, &exporterMock{})

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/timetables/active/entries", nil))
	require.Equal(t, http.StatusNotFound, w.Code)

	svc.active = "tt-9"
	w = httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/timetables/active/entries?divisionId=d1", nil))
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, [2]string{"tt-9", "d1"}, svc.entriesArgs)

	envelope := decodeEnvelope(t, w.Body.Bytes())
	assert.JSONEq(t, `{"count":1,"timetableId":"tt-9"}`, string(envelope["meta"]))
	assert.Contains(t, string(envelope["data"]), `"timeSlot":4`)
}

func TestTimetableHandlerExport(t *testing.T) {
	exp := &exporterMock{}
	router := newTimetableRouter(&timetableServiceMock{}, exp)

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/timetables/tt-1/export", nil))

	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, dto.ExportCSV, exp.format)
	assert.Equal(t, "text/csv", w.Header().Get("Content-Type"))
	assert.Contains(t, w.Header().Get("Content-Disposition"), "timetable_tt-1.csv")
	assert.Equal(t, "day,period\n", w.Body.String())
}

func TestTimetableHandlerExportError(t *testing.T) {
	exp := &exporterMock{err: appErrors.Clone(appErrors.ErrValidation, "unsupported export format")}
	router := newTimetableRouter(&timetableServiceMock{}, exp)

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/timetables/tt-1/export?format=XLSX", nil))

	require.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, dto.ExportFormat("xlsx"), exp.format)
}

func TestTimetableHandlerGenerateForbiddenForTeacher(t *testing.T) {
	gin.SetMode(gin.TestMode)
	h := NewTimetableHandler(&timetableServiceMock{}, &exporterMock{})
	router := gin.New()
	router.Use(func(c *gin.Context) {
		c.Set(internalmiddleware.ContextUserKey, &models.JWTClaims{UserID: "t1", Role: models.RoleTeacher})
	})
	router.POST("/timetables/generate", internalmiddleware.RequireRoles(models.RoleAdmin), h.Generate)

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/timetables/generate", nil))

	require.Equal(t, http.StatusForbidden, w.Code)
}

type preferenceServiceMock struct {
	teacherID string
	req       dto.UpsertPreferenceRequest
	err       error
}

func (m *preferenceServiceMock) List(ctx context.Context, teacherID string) ([]models.SubjectPreference, error) {
	m.teacherID = teacherID
	return []models.SubjectPreference{{TeacherID: teacherID, SubjectID: "phy", Score: 4}}, m.err
}

func (m *preferenceServiceMock) Upsert(ctx context.Context, teacherID string, req dto.UpsertPreferenceRequest) (*models.SubjectPreference, error) {
	m.teacherID = teacherID
	m.req = req
	if m.err != nil {
		return nil, m.err
	}
	return &models.SubjectPreference{TeacherID: teacherID, SubjectID: req.SubjectID, Score: req.Score}, nil
}

func newPreferenceRouter(svc *preferenceServiceMock, claims *models.JWTClaims) *gin.Engine {
	gin.SetMode(gin.TestMode)
	h := NewTeacherPreferenceHandler(svc)
	router := gin.New()
	router.Use(func(c *gin.Context) {
		if claims != nil {
			c.Set(internalmiddleware.ContextUserKey, claims)
		}
	})
	guard := internalmiddleware.RBAC(string(models.RoleAdmin), internalmiddleware.SelfParam)
	router.GET("/teachers/:id/preferences", guard, h.List)
	router.PUT("/teachers/:id/preferences", guard, h.Upsert)
	return router
}

func TestTeacherPreferenceHandlerSelfUpsert(t *testing.T) {
	svc := &preferenceServiceMock{}
	router := newPreferenceRouter(svc, &models.JWTClaims{UserID: "t1", Role: models.RoleTeacher})

	req := httptest.NewRequest(http.MethodPut, "/teachers/t1/preferences", bytes.NewBufferString(`{"subjectId":"phy","score":5}`))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "t1", svc.teacherID)
	assert.Equal(t, dto.UpsertPreferenceRequest{SubjectID: "phy", Score: 5}, svc.req)
	assert.Equal(t, "t1", w.Header().Get("X-Updated-By"))
}

func TestTeacherPreferenceHandlerOtherTeacherForbidden(t *testing.T) {
	router := newPreferenceRouter(&preferenceServiceMock{}, &models.JWTClaims{UserID: "t2", Role: models.RoleTeacher})

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/teachers/t1/preferences", nil))

	require.Equal(t, http.StatusForbidden, w.Code)
}

func TestTeacherPreferenceHandlerAdminList(t *testing.T) {
	svc := &preferenceServiceMock{}
	router := newPreferenceRouter(svc, &models.JWTClaims{UserID: "u1", Role: models.RoleAdmin})

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/teachers/t1/preferences", nil))

	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "t1", svc.teacherID)
	assert.Contains(t, w.Body.String(), `"phy"`)
}

func TestTeacherPreferenceHandlerBadPayload(t *testing.T) {
	router := newPreferenceRouter(&preferenceServiceMock{}, &models.JWTClaims{UserID: "u1", Role: models.RoleAdmin})

	req := httptest.NewRequest(http.MethodPut, "/teachers/t1/preferences", bytes.NewBufferString(`{"score":"high"}`))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	require.Equal(t, http.StatusBadRequest, w.Code)
}

type teacherFinderStub struct{}

func (teacherFinderStub) FindByID(ctx context.Context, id string) (*models.Teacher, error) {
	return &models.Teacher{ID: id, MaxWorkload: 18}, nil
}

type subjectCatalogueStub struct{}

func (subjectCatalogueStub) List(ctx context.Context) ([]models.Subject, error) {
	return []models.Subject{{ID: "phy", Name: "Physics"}}, nil
}

type preferenceStoreStub struct{ upserted []models.SubjectPreference }

func (s *preferenceStoreStub) List(ctx context.Context) ([]models.SubjectPreference, error) {
	return s.upserted, nil
}

func (s *preferenceStoreStub) Upsert(ctx context.Context, pref *models.SubjectPreference) error {
	s.upserted = append(s.upserted, *pref)
	return nil
}

func TestTeacherPreferenceHandlerRejectsOutOfRangeScore(t *testing.T) {
	gin.SetMode(gin.TestMode)
	store := &preferenceStoreStub{}
	svc := service.NewTeacherPreferenceService(teacherFinderStub{}, subjectCatalogueStub{}, store, nil, nil)
	router := gin.New()
	router.PUT("/teachers/:id/preferences", NewTeacherPreferenceHandler(svc).Upsert)

	put := func(score int) *httptest.ResponseRecorder {
		body := fmt.Sprintf(`{"subjectId":"phy","score":%d}`, score)
		req := httptest.NewRequest(http.MethodPut, "/teachers/t1/preferences", bytes.NewBufferString(body))
		req.Header.Set("Content-Type", "application/json")
		w := httptest.NewRecorder()
		router.ServeHTTP(w, req)
		return w
	}

	for _, score := range []int{-100, -1, 0, 11, 100} {
		w := put(score)
		assert.Equal(t, http.StatusBadRequest, w.Code, "score %d", score)
		assert.Contains(t, w.Body.String(), appErrors.ErrValidation.Code)
	}
	assert.Empty(t, store.upserted)

	for _, score := range []int{1, 10} {
		assert.Equal(t, http.StatusOK, put(score).Code, "score %d", score)
	}
	assert.Len(t, store.upserted, 2)
}

func TestMetricsHandlerReady(t *testing.T) {
	gin.SetMode(gin.TestMode)
	h := NewMetricsHandler(nil, map[string]Pinger{
		"postgres": func(ctx context.Context) error { return nil },
		"redis":    func(ctx context.Context) error { return errors.New("connection refused") },
	})
	router := gin.New()
	router.GET("/ready", h.Ready)
	router.GET("/health", h.Health)
	router.GET("/metrics", h.Prometheus)

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/ready", nil))
	require.Equal(t, http.StatusServiceUnavailable, w.Code)
	assert.Contains(t, w.Body.String(), `"redis":"connection refused"`)
	assert.Contains(t, w.Body.String(), `"postgres":"ok"`)

	w = httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/health", nil))
	require.Equal(t, http.StatusOK, w.Code)

	w = httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusServiceUnavailable, w.Code)
}
