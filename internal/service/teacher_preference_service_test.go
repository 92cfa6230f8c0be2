package service

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/sma-timetable/internal/dto"
	"github.com/noah-isme/sma-timetable/internal/models"
	appErrors "github.com/noah-isme/sma-timetable/pkg/errors"
)

func newPreferenceFixture() (*TeacherPreferenceService, *preferenceListerStub) {
	teachers := &teacherListerStub{items: []models.Teacher{{ID: "t1"}, {ID: "t2"}}}
	subjects := subjectListerStub{items: []models.Subject{{ID: "math"}, {ID: "phy"}}}
	prefs := &preferenceListerStub{items: []models.SubjectPreference{
		{TeacherID: "t1", SubjectID: "math", Score: 3},
		{TeacherID: "t2", SubjectID: "phy", Score: 1},
	}}
	return NewTeacherPreferenceService(teachers, subjects, prefs, nil, nil), prefs
}

func TestTeacherPreferenceServiceList(t *testing.T) {
	svc, _ := newPreferenceFixture()

	prefs, err := svc.List(context.Background(), "t1")
	require.NoError(t, err)
	require.Len(t, prefs, 1)
	assert.Equal(t, "math", prefs[0].SubjectID)

	_, err = svc.List(context.Background(), "ghost")
	assert.Equal(t, appErrors.ErrNotFound.Code, appErrors.FromError(err).Code)
}

func TestTeacherPreferenceServiceUpsert(t *testing.T) {
	svc, repo := newPreferenceFixture()

	pref, err := svc.Upsert(context.Background(), "t1", dto.UpsertPreferenceRequest{SubjectID: "phy", Score: 8})
	require.NoError(t, err)
	assert.Equal(t, 8, pref.Score)
	require.Len(t, repo.upserted, 1)
	assert.Equal(t, models.SubjectPreference{TeacherID: "t1", SubjectID: "phy", Score: 8}, repo.upserted[0])

	_, err = svc.Upsert(context.Background(), "t1", dto.UpsertPreferenceRequest{SubjectID: "art", Score: 1})
	assert.Equal(t, appErrors.ErrNotFound.Code, appErrors.FromError(err).Code)

	_, err = svc.Upsert(context.Background(), "t1", dto.UpsertPreferenceRequest{Score: 1})
	assert.Equal(t, appErrors.ErrValidation.Code, appErrors.FromError(err).Code)

	for _, score := range []int{500, 11, 0, -3} {
		_, err = svc.Upsert(context.Background(), "t1", dto.UpsertPreferenceRequest{SubjectID: "phy", Score: score})
		assert.Equal(t, appErrors.ErrValidation.Code, appErrors.FromError(err).Code, "score %d", score)
	}
	assert.Len(t, repo.upserted, 1)
}
