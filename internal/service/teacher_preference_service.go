package service

import (
	"context"
	"database/sql"
	"errors"

	"github.com/go-playground/validator/v10"
	"github.com/samber/lo"
	"go.uber.org/zap"

	"github.com/noah-isme/sma-timetable/internal/dto"
	"github.com/noah-isme/sma-timetable/internal/models"
	appErrors "github.com/noah-isme/sma-timetable/pkg/errors"
)

type teacherFinder interface {
	FindByID(ctx context.Context, id string) (*models.Teacher, error)
}

type subjectPreferenceRepo interface {
	List(ctx context.Context) ([]models.SubjectPreference, error)
	Upsert(ctx context.Context, pref *models.SubjectPreference) error
}

// TeacherPreferenceService manages the subject preferences that drive teacher assignment.
type TeacherPreferenceService struct {
	teachers  teacherFinder
	subjects  subjectLister
	repo      subjectPreferenceRepo
	validator *validator.Validate
	logger    *zap.Logger
}

// NewTeacherPreferenceService builds the service.
func NewTeacherPreferenceService(teachers teacherFinder, subjects subjectLister, repo subjectPreferenceRepo, validate *validator.Validate, logger *zap.Logger) *TeacherPreferenceService {
	if validate == nil {
		validate = validator.New()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &TeacherPreferenceService{
		teachers:  teachers,
		subjects:  subjects,
		repo:      repo,
		validator: validate,
		logger:    logger,
	}
}

// List returns the preferences of a teacher.
func (s *TeacherPreferenceService) List(ctx context.Context, teacherID string) ([]models.SubjectPreference, error) {
	if err := s.ensureTeacher(ctx, teacherID); err != nil {
		return nil, err
	}
	prefs, err := s.repo.List(ctx)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load subject preferences")
	}
	return lo.Filter(prefs, func(p models.SubjectPreference, _ int) bool { return p.TeacherID == teacherID }), nil
}

// Upsert stores how much a teacher wants to teach a subject. Re-scoring keeps the original
// creation time, which breaks ties between equal scores.
func (s *TeacherPreferenceService) Upsert(ctx context.Context, teacherID string, req dto.UpsertPreferenceRequest) (*models.SubjectPreference, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid preference payload")
	}
	if err := s.ensureTeacher(ctx, teacherID); err != nil {
		return nil, err
	}
	subjects, err := s.subjects.List(ctx)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load subjects")
	}
	if !lo.ContainsBy(subjects, func(sub models.Subject) bool { return sub.ID == req.SubjectID }) {
		return nil, appErrors.Clone(appErrors.ErrNotFound, "subject not found")
	}

	pref := &models.SubjectPreference{TeacherID: teacherID, SubjectID: req.SubjectID, Score: req.Score}
	if err := s.repo.Upsert(ctx, pref); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to upsert subject preference")
	}
	s.logger.Info("subject preference stored",
		zap.String("teacher_id", teacherID),
		zap.String("subject_id", req.SubjectID),
		zap.Int("score", req.Score),
	)
	return pref, nil
}

func (s *TeacherPreferenceService) ensureTeacher(ctx context.Context, teacherID string) error {
	if teacherID == "" {
		return appErrors.Clone(appErrors.ErrValidation, "teacher id is required")
	}
	if _, err := s.teachers.FindByID(ctx, teacherID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return appErrors.Clone(appErrors.ErrNotFound, "teacher not found")
		}
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load teacher")
	}
	return nil
}
