package service

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/samber/lo"
	"go.uber.org/zap"

	"github.com/noah-isme/sma-timetable/internal/dto"
	"github.com/noah-isme/sma-timetable/internal/engine"
	"github.com/noah-isme/sma-timetable/internal/models"
	appErrors "github.com/noah-isme/sma-timetable/pkg/errors"
	"github.com/noah-isme/sma-timetable/pkg/jobs"
)

// JobTypeGenerate tags queued generation jobs.
const JobTypeGenerate = "timetable.generate"

type timetableStore interface {
	Create(ctx context.Context, exec sqlx.ExtContext, timetable *models.Timetable) error
	Activate(ctx context.Context, exec sqlx.ExtContext, id string) error
	List(ctx context.Context) ([]models.Timetable, error)
	FindByID(ctx context.Context, id string) (*models.Timetable, error)
	FindActive(ctx context.Context) (*models.Timetable, error)
}

type timetableEntryStore interface {
	InsertBatch(ctx context.Context, exec sqlx.ExtContext, entries []models.TimetableEntry) error
	ListByTimetable(ctx context.Context, timetableID, divisionID string) ([]models.TimetableEntry, error)
}

type teacherLister interface {
	ListActive(ctx context.Context, ids []string) ([]models.Teacher, error)
}

type subjectLister interface {
	List(ctx context.Context) ([]models.Subject, error)
}

type divisionLister interface {
	List(ctx context.Context, ids []string) ([]models.Division, error)
	ListSubjects(ctx context.Context, divisionIDs []string) ([]models.DivisionSubject, error)
}

type classroomLister interface {
	List(ctx context.Context, ids []string) ([]models.Classroom, error)
}

type preferenceLister interface {
	List(ctx context.Context) ([]models.SubjectPreference, error)
}

type txProvider interface {
	BeginTxx(ctx context.Context, opts *sql.TxOptions) (*sqlx.Tx, error)
}

type jobDispatcher interface {
	Enqueue(job jobs.Job) error
}

type timetableGenerator interface {
	Generate(ctx context.Context, snapshot engine.Snapshot, opts engine.Options) (*engine.Result, error)
}

// TimetableRepositories groups the persistence dependencies of TimetableService.
type TimetableRepositories struct {
	Timetables  timetableStore
	Entries     timetableEntryStore
	Teachers    teacherLister
	Subjects    subjectLister
	Divisions   divisionLister
	Classrooms  classroomLister
	Preferences preferenceLister
	Tx          txProvider
}

// TimetableServiceConfig governs generation defaults.
type TimetableServiceConfig struct {
	Enabled           bool
	PlacementTimeout  time.Duration
	SolverTimeLimit   time.Duration
	RequirePreference bool
	MissingScore      int
	Precheck          bool
	ProgressEvery     int
	JobTTL            time.Duration
	CacheTTL          time.Duration
}

// TimetableService loads school data, runs the engine and persists successful timetables.
type TimetableService struct {
	repos     TimetableRepositories
	engine    timetableGenerator
	queue     jobDispatcher
	cache     *CacheService
	metrics   *MetricsService
	validator *validator.Validate
	logger    *zap.Logger
	cfg       TimetableServiceConfig
	jobs      *jobStore
	now       func() time.Time
	seed      func() int64
}

// NewTimetableService wires the generation pipeline.
func NewTimetableService(
	repos TimetableRepositories,
	gen timetableGenerator,
	queue jobDispatcher,
	cache *CacheService,
	metrics *MetricsService,
	validate *validator.Validate,
	logger *zap.Logger,
	cfg TimetableServiceConfig,
) *TimetableService {
	if validate == nil {
		validate = validator.New()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.JobTTL <= 0 {
		cfg.JobTTL = time.Hour
	}
	if cfg.ProgressEvery <= 0 {
		cfg.ProgressEvery = engine.DefaultObserveEvery
	}
	return &TimetableService{
		repos:     repos,
		engine:    gen,
		queue:     queue,
		cache:     cache,
		metrics:   metrics,
		validator: validate,
		logger:    logger,
		cfg:       cfg,
		jobs:      newJobStore(cfg.JobTTL, time.Now),
		now:       time.Now,
		seed:      func() int64 { return time.Now().UnixNano() },
	}
}

// Generate runs a generation synchronously. Expected failures such as an infeasible assignment
// come back as a response with a non-success outcome; errors are reserved for bad input and
// infrastructure faults.
func (s *TimetableService) Generate(ctx context.Context, req dto.GenerateTimetableRequest) (*dto.GenerateTimetableResponse, error) {
	return s.generate(ctx, req, s.logger)
}

func (s *TimetableService) generate(ctx context.Context, req dto.GenerateTimetableRequest, logger *zap.Logger) (*dto.GenerateTimetableResponse, error) {
	if !s.cfg.Enabled {
		return nil, appErrors.ErrSchedulerDisabled
	}
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid timetable generation payload")
	}

	snapshot, err := s.loadSnapshot(ctx, req)
	if err != nil {
		return nil, err
	}

	opts := s.options(req, logger)
	result, err := s.engine.Generate(ctx, snapshot, opts)
	if err != nil {
		switch {
		case errors.Is(err, engine.ErrInvalidSnapshot):
			return nil, appErrors.Wrap(err, appErrors.ErrPreconditionFailed.Code, appErrors.ErrPreconditionFailed.Status, err.Error())
		case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
			return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "timetable generation cancelled")
		default:
			return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "timetable generation failed")
		}
	}
	s.metrics.ObserveGeneration(result)

	resp := ResponseFromResult(result)
	if !result.Outcome.Succeeded() {
		logger.Info("timetable generation did not produce a timetable",
			zap.String("outcome", resp.Outcome),
			zap.Strings("reasons", resp.Reasons),
			zap.Int64("seed", resp.Seed),
		)
		return resp, nil
	}
	if req.DryRun {
		return resp, nil
	}

	id, err := s.persist(ctx, result)
	if err != nil {
		return nil, err
	}
	resp.TimetableID = id
	if err := s.cache.InvalidateTimetables(ctx); err != nil {
		logger.Warn("failed to invalidate timetable cache", zap.Error(err))
	}
	logger.Info("timetable activated", zap.String("timetable_id", id), zap.Int("entries", len(resp.Entries)))
	return resp, nil
}

func (s *TimetableService) options(req dto.GenerateTimetableRequest, logger *zap.Logger) engine.Options {
	seed := s.seed()
	if req.Seed != nil {
		seed = *req.Seed
	}
	timeout := s.cfg.PlacementTimeout
	if req.TimeoutSeconds > 0 {
		timeout = time.Duration(req.TimeoutSeconds) * time.Second
	}
	missing := s.cfg.MissingScore
	if req.MissingScore != nil {
		missing = *req.MissingScore
	}
	return engine.Options{
		Universe: engine.Universe{
			TeacherIDs:   req.TeacherIDs,
			ClassroomIDs: req.ClassroomIDs,
			DivisionIDs:  req.DivisionIDs,
		},
		Assignment: engine.AssignmentOptions{
			RequirePreference: s.cfg.RequirePreference && !req.AllowMissingPreference,
			MissingScore:      missing,
			TimeLimit:         s.cfg.SolverTimeLimit,
		},
		PlacementTimeout: timeout,
		Precheck:         s.cfg.Precheck,
		Seed:             seed,
		ObserveEvery:     s.cfg.ProgressEvery,
		Observer: func(p engine.SearchProgress) {
			logger.Debug("placement search progress",
				zap.Int("nodes", p.Nodes),
				zap.Int("depth", p.Depth),
				zap.Int("sessions", p.Total),
				zap.Duration("elapsed", p.Elapsed),
			)
		},
	}
}

func (s *TimetableService) loadSnapshot(ctx context.Context, req dto.GenerateTimetableRequest) (engine.Snapshot, error) {
	started := s.now()
	defer func() { s.metrics.ObserveDBQuery("load_snapshot", s.now().Sub(started)) }()

	wrap := func(err error, what string) error {
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load "+what)
	}

	var src SnapshotSource
	var err error
	if src.Teachers, err = s.repos.Teachers.ListActive(ctx, req.TeacherIDs); err != nil {
		return engine.Snapshot{}, wrap(err, "teachers")
	}
	if src.Subjects, err = s.repos.Subjects.List(ctx); err != nil {
		return engine.Snapshot{}, wrap(err, "subjects")
	}
	if src.Divisions, err = s.repos.Divisions.List(ctx, req.DivisionIDs); err != nil {
		return engine.Snapshot{}, wrap(err, "divisions")
	}
	divisionIDs := lo.Map(src.Divisions, func(d models.Division, _ int) string { return d.ID })
	if src.DivisionSubjects, err = s.repos.Divisions.ListSubjects(ctx, divisionIDs); err != nil {
		return engine.Snapshot{}, wrap(err, "division subjects")
	}
	if src.Classrooms, err = s.repos.Classrooms.List(ctx, req.ClassroomIDs); err != nil {
		return engine.Snapshot{}, wrap(err, "classrooms")
	}
	prefs, err := s.repos.Preferences.List(ctx)
	if err != nil {
		return engine.Snapshot{}, wrap(err, "subject preferences")
	}
	teacherIDs := lo.SliceToMap(src.Teachers, func(t models.Teacher) (string, struct{}) { return t.ID, struct{}{} })
	src.Preferences = lo.Filter(prefs, func(p models.SubjectPreference, _ int) bool {
		_, ok := teacherIDs[p.TeacherID]
		return ok
	})

	snapshot, err := BuildSnapshot(src)
	if err != nil {
		return engine.Snapshot{}, appErrors.Wrap(err, appErrors.ErrPreconditionFailed.Code, appErrors.ErrPreconditionFailed.Status, err.Error())
	}
	return snapshot, nil
}

// persist stores the timetable and its entries and activates it in one transaction. The
// previous timetable stays active until commit.
func (s *TimetableService) persist(ctx context.Context, result *engine.Result) (id string, err error) {
	if s.repos.Tx == nil {
		return "", appErrors.Clone(appErrors.ErrInternal, "transaction provider missing")
	}
	meta, err := timetableMeta(result)
	if err != nil {
		return "", appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to encode timetable metadata")
	}

	tx, err := s.repos.Tx.BeginTxx(ctx, nil)
	if err != nil {
		return "", appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to begin transaction")
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	now := s.now().UTC()
	record := &models.Timetable{Seed: result.Seed, Meta: meta, CreatedAt: now}
	if err = s.repos.Timetables.Create(ctx, tx, record); err != nil {
		err = appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to create timetable")
		return "", err
	}
	if err = s.repos.Entries.InsertBatch(ctx, tx, toEntries(record.ID, result.Placements, now)); err != nil {
		err = appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to persist timetable entries")
		return "", err
	}
	if err = s.repos.Timetables.Activate(ctx, tx, record.ID); err != nil {
		err = appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to activate timetable")
		return "", err
	}
	if err = tx.Commit(); err != nil {
		err = appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to commit timetable transaction")
		return "", err
	}
	return record.ID, nil
}

// Enqueue schedules an asynchronous generation and returns its pollable record.
func (s *TimetableService) Enqueue(ctx context.Context, req dto.GenerateTimetableRequest) (*dto.GenerationJob, error) {
	if !s.cfg.Enabled {
		return nil, appErrors.ErrSchedulerDisabled
	}
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid timetable generation payload")
	}
	if s.queue == nil {
		return nil, appErrors.Clone(appErrors.ErrInternal, "generation queue unavailable")
	}
	// Pin the seed so a retried job reproduces the same shuffle.
	if req.Seed == nil {
		seed := s.seed()
		req.Seed = &seed
	}

	now := s.now().UTC()
	job := dto.GenerationJob{
		ID:        uuid.NewString(),
		Status:    dto.JobStatusQueued,
		Request:   req,
		CreatedAt: now,
		UpdatedAt: now,
	}
	s.jobs.Save(job)
	if err := s.queue.Enqueue(jobs.Job{ID: job.ID, Type: JobTypeGenerate, Payload: req}); err != nil {
		s.jobs.Delete(job.ID)
		if errors.Is(err, jobs.ErrQueueFull) {
			return nil, appErrors.Wrap(err, appErrors.ErrQueueFull.Code, appErrors.ErrQueueFull.Status, appErrors.ErrQueueFull.Message)
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to enqueue timetable generation")
	}
	return &job, nil
}

// Job returns the state of an asynchronous generation.
func (s *TimetableService) Job(ctx context.Context, id string) (*dto.GenerationJob, error) {
	job, ok := s.jobs.Get(id)
	if !ok {
		return nil, appErrors.Clone(appErrors.ErrNotFound, "generation job not found or expired")
	}
	return &job, nil
}

// HandleJob runs a queued generation. Infrastructure faults are returned so the queue retries;
// every other failure is final.
func (s *TimetableService) HandleJob(ctx context.Context, job jobs.Job) error {
	req, ok := job.Payload.(dto.GenerateTimetableRequest)
	if !ok {
		s.FailJob(job, fmt.Errorf("unexpected payload %T", job.Payload))
		return nil
	}
	s.jobs.Update(job.ID, func(j *dto.GenerationJob) { j.Status = dto.JobStatusRunning })
	s.metrics.JobStarted()
	defer s.metrics.JobFinished()

	logger := s.logger.With(zap.String("job_id", job.ID), zap.Int("attempt", job.Attempt))
	resp, err := s.generate(ctx, req, logger)
	if err != nil {
		if appErrors.Retryable(err) {
			logger.Warn("timetable generation job failed", zap.Error(err))
			return err
		}
		s.FailJob(job, err)
		return nil
	}
	s.jobs.Update(job.ID, func(j *dto.GenerationJob) {
		j.Status = dto.JobStatusDone
		j.Result = resp
		j.Error = ""
	})
	return nil
}

// FailJob marks a job as failed for good.
func (s *TimetableService) FailJob(job jobs.Job, err error) {
	s.jobs.Update(job.ID, func(j *dto.GenerationJob) {
		j.Status = dto.JobStatusFailed
		j.Error = err.Error()
	})
}

// List returns stored timetables newest first.
func (s *TimetableService) List(ctx context.Context) ([]models.Timetable, error) {
	list, err := s.repos.Timetables.List(ctx)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list timetables")
	}
	return list, nil
}

// ActiveEntries returns the entries of the active timetable together with its id. The active
// id is resolved on every call; the entries themselves come through the per-timetable cache.
func (s *TimetableService) ActiveEntries(ctx context.Context, divisionID string) (string, []dto.TimetableEntryView, error) {
	active, err := s.repos.Timetables.FindActive(ctx)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", nil, appErrors.Clone(appErrors.ErrNotFound, "no active timetable")
		}
		return "", nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load active timetable")
	}
	views, err := s.Entries(ctx, active.ID, divisionID)
	if err != nil {
		return "", nil, err
	}
	return active.ID, views, nil
}

// Entries returns the entries of a timetable ordered by slot, optionally for one division.
func (s *TimetableService) Entries(ctx context.Context, timetableID, divisionID string) ([]dto.TimetableEntryView, error) {
	if timetableID == "" {
		return nil, appErrors.Clone(appErrors.ErrValidation, "timetable id is required")
	}
	key := timetableEntriesKey(timetableID, divisionID)
	var cached []dto.TimetableEntryView
	if hit, _ := s.cache.Get(ctx, key, &cached); hit {
		return cached, nil
	}

	if _, err := s.repos.Timetables.FindByID(ctx, timetableID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "timetable not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load timetable")
	}
	entries, err := s.repos.Entries.ListByTimetable(ctx, timetableID, divisionID)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list timetable entries")
	}
	views := lo.Map(entries, func(e models.TimetableEntry, _ int) dto.TimetableEntryView { return storedEntryView(e) })
	_ = s.cache.Set(ctx, key, views, s.cfg.CacheTTL)
	return views, nil
}
