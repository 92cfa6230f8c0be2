package handler

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/sma-timetable/internal/dto"
	"github.com/noah-isme/sma-timetable/internal/models"
	appErrors "github.com/noah-isme/sma-timetable/pkg/errors"
	"github.com/noah-isme/sma-timetable/pkg/response"
)

type teacherPreferenceService interface {
	List(ctx context.Context, teacherID string) ([]models.SubjectPreference, error)
	Upsert(ctx context.Context, teacherID string, req dto.UpsertPreferenceRequest) (*models.SubjectPreference, error)
}

// TeacherPreferenceHandler exposes /teachers/:id/preferences.
type TeacherPreferenceHandler struct {
	service teacherPreferenceService
}

// NewTeacherPreferenceHandler constructs the handler.
func NewTeacherPreferenceHandler(service teacherPreferenceService) *TeacherPreferenceHandler {
	return &TeacherPreferenceHandler{service: service}
}

// List godoc
// @Summary List the subject preferences of a teacher
// @Tags Preferences
// @Produce json
// @Param id path string true "Teacher ID"
// @Success 200 {object} response.Envelope
// @Router /teachers/{id}/preferences [get]
func (h *TeacherPreferenceHandler) List(c *gin.Context) {
	prefs, err := h.service.List(c.Request.Context(), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, prefs)
}

// Upsert godoc
// @Summary Record a subject preference for a teacher
// @Tags Preferences
// @Accept json
// @Produce json
// @Param id path string true "Teacher ID"
// @Param payload body dto.UpsertPreferenceRequest true "Preference payload"
// @Success 200 {object} response.Envelope
// @Router /teachers/{id}/preferences [put]
func (h *TeacherPreferenceHandler) Upsert(c *gin.Context) {
	var req dto.UpsertPreferenceRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid preference payload"))
		return
	}
	pref, err := h.service.Upsert(c.Request.Context(), c.Param("id"), req)
	if err != nil {
		response.Error(c, err)
		return
	}
	if actor := actorID(c); actor != "" {
		c.Header("X-Updated-By", actor)
	}
	response.JSON(c, http.StatusOK, pref)
}
