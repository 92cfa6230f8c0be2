package handler

import (
	"context"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/sma-timetable/internal/dto"
	"github.com/noah-isme/sma-timetable/internal/engine"
	"github.com/noah-isme/sma-timetable/internal/models"
	appErrors "github.com/noah-isme/sma-timetable/pkg/errors"
	"github.com/noah-isme/sma-timetable/pkg/response"
)

type timetableService interface {
	Generate(ctx context.Context, req dto.GenerateTimetableRequest) (*dto.GenerateTimetableResponse, error)
	Enqueue(ctx context.Context, req dto.GenerateTimetableRequest) (*dto.GenerationJob, error)
	Job(ctx context.Context, id string) (*dto.GenerationJob, error)
	List(ctx context.Context) ([]models.Timetable, error)
	Entries(ctx context.Context, timetableID, divisionID string) ([]dto.TimetableEntryView, error)
	ActiveEntries(ctx context.Context, divisionID string) (string, []dto.TimetableEntryView, error)
}

type timetableExporter interface {
	Export(ctx context.Context, timetableID, divisionID string, format dto.ExportFormat) (*dto.ExportFile, error)
}

// TimetableHandler exposes timetable generation and retrieval endpoints.
type TimetableHandler struct {
	service  timetableService
	exporter timetableExporter
}

// NewTimetableHandler constructs the handler.
func NewTimetableHandler(service timetableService, exporter timetableExporter) *TimetableHandler {
	return &TimetableHandler{service: service, exporter: exporter}
}

// Generate godoc
// @Summary Generate and activate a timetable
// @Description Runs teacher assignment and session placement synchronously. A run that cannot produce a timetable answers 422 with the outcome and its reasons. Dry runs are never persisted.
// @Tags Timetable
// @Accept json
// @Produce json
// @Param payload body dto.GenerateTimetableRequest true "Generation payload"
// @Success 201 {object} response.Envelope
// @Success 200 {object} response.Envelope
// @Failure 422 {object} response.Envelope
// @Router /timetables/generate [post]
func (h *TimetableHandler) Generate(c *gin.Context) {
	req, ok := bindGenerateRequest(c)
	if !ok {
		return
	}
	result, err := h.service.Generate(c.Request.Context(), req)
	if err != nil {
		response.Error(c, err)
		return
	}
	switch {
	case result.Outcome != string(engine.OutcomeSuccess):
		response.JSON(c, http.StatusUnprocessableEntity, result, map[string]interface{}{"outcome": result.Outcome})
	case req.DryRun:
		response.JSON(c, http.StatusOK, result, map[string]interface{}{"mode": "dry-run"})
	default:
		response.Created(c, result)
	}
}

// Enqueue godoc
// @Summary Queue an asynchronous timetable generation
// @Tags Timetable
// @Accept json
// @Produce json
// @Param payload body dto.GenerateTimetableRequest true "Generation payload"
// @Success 202 {object} response.Envelope
// @Failure 503 {object} response.Envelope
// @Router /timetables/jobs [post]
func (h *TimetableHandler) Enqueue(c *gin.Context) {
	req, ok := bindGenerateRequest(c)
	if !ok {
		return
	}
	job, err := h.service.Enqueue(c.Request.Context(), req)
	if err != nil {
		response.Error(c, err)
		return
	}
	c.Header("Location", "jobs/"+job.ID)
	response.Accepted(c, job)
}

// Job godoc
// @Summary Get the state of a generation job
// @Tags Timetable
// @Produce json
// @Param id path string true "Job ID"
// @Success 200 {object} response.Envelope
// @Router /timetables/jobs/{id} [get]
func (h *TimetableHandler) Job(c *gin.Context) {
	job, err := h.service.Job(c.Request.Context(), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, job)
}

// List godoc
// @Summary List stored timetables
// @Tags Timetable
// @Produce json
// @Success 200 {object} response.Envelope
// @Router /timetables [get]
func (h *TimetableHandler) List(c *gin.Context) {
	list, err := h.service.List(c.Request.Context())
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, list, map[string]interface{}{"count": len(list)})
}

// Entries godoc
// @Summary List the entries of a timetable
// @Tags Timetable
// @Produce json
// @Param id path string true "Timetable ID"
// @Param divisionId query string false "Division ID"
// @Success 200 {object} response.Envelope
// @Router /timetables/{id}/entries [get]
func (h *TimetableHandler) Entries(c *gin.Context) {
	entries, err := h.service.Entries(c.Request.Context(), c.Param("id"), strings.TrimSpace(c.Query("divisionId")))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, entries, map[string]interface{}{"count": len(entries)})
}

// ActiveEntries godoc
// @Summary List the entries of the active timetable
// @Tags Timetable
// @Produce json
// @Param divisionId query string false "Division ID"
// @Success 200 {object} response.Envelope
// @Failure 404 {object} response.Envelope
// @Router /timetables/active/entries [get]
func (h *TimetableHandler) ActiveEntries(c *gin.Context) {
	id, entries, err := h.service.ActiveEntries(c.Request.Context(), strings.TrimSpace(c.Query("divisionId")))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, entries, map[string]interface{}{"count": len(entries), "timetableId": id})
}

// Export godoc
// @Summary Download a timetable as CSV or PDF
// @Description With divisionId the download is the weekly grid of that division, otherwise a flat list of every entry.
// @Tags Timetable
// @Produce text/csv
// @Produce application/pdf
// @Param id path string true "Timetable ID"
// @Param divisionId query string false "Division ID"
// @Param format query string false "csv or pdf" default(csv)
// @Success 200 {file} file
// @Router /timetables/{id}/export [get]
func (h *TimetableHandler) Export(c *gin.Context) {
	format := dto.ExportFormat(strings.ToLower(strings.TrimSpace(c.DefaultQuery("format", string(dto.ExportCSV)))))
	file, err := h.exporter.Export(c.Request.Context(), c.Param("id"), strings.TrimSpace(c.Query("divisionId")), format)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Attachment(c, file.Filename, file.ContentType, file.Body)
}

func bindGenerateRequest(c *gin.Context) (dto.GenerateTimetableRequest, bool) {
	var req dto.GenerateTimetableRequest
	if c.Request.ContentLength == 0 {
		return req, true
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid generation payload"))
		return req, false
	}
	return req, true
}
