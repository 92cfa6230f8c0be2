package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
	"github.com/jmoiron/sqlx"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"
	"go.uber.org/zap"

	_ "github.com/noah-isme/sma-timetable/api/swagger"
	"github.com/noah-isme/sma-timetable/internal/engine"
	"github.com/noah-isme/sma-timetable/internal/handler"
	internalmiddleware "github.com/noah-isme/sma-timetable/internal/middleware"
	"github.com/noah-isme/sma-timetable/internal/models"
	"github.com/noah-isme/sma-timetable/internal/repository"
	"github.com/noah-isme/sma-timetable/internal/service"
	"github.com/noah-isme/sma-timetable/pkg/cache"
	"github.com/noah-isme/sma-timetable/pkg/config"
	"github.com/noah-isme/sma-timetable/pkg/database"
	"github.com/noah-isme/sma-timetable/pkg/jobs"
	"github.com/noah-isme/sma-timetable/pkg/logger"
	corsmiddleware "github.com/noah-isme/sma-timetable/pkg/middleware/cors"
	reqidmiddleware "github.com/noah-isme/sma-timetable/pkg/middleware/requestid"
	"github.com/noah-isme/sma-timetable/pkg/optimizer"
)

const shutdownTimeout = 15 * time.Second

// @title SMA Timetable API
// @version 1.0.0
// @description Weekly timetable generation: teacher assignment followed by session placement.
// @BasePath /api/v1
// @schemes http
// @securityDefinitions.apikey BearerAuth
// @in header
// @name Authorization

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	logr, err := logger.New(cfg)
	if err != nil {
		log.Fatalf("failed to init logger: %v", err)
	}
	defer logr.Sync() //nolint:errcheck

	if cfg.Env == config.EnvProduction {
		gin.SetMode(gin.ReleaseMode)
	}

	db, err := database.NewPostgres(cfg.Database)
	if err != nil {
		logr.Fatal("failed to connect to postgres", zap.Error(err))
	}
	defer db.Close()

	metrics := service.NewMetricsService()

	redisClient := cache.NewOptionalRedis(cfg.Redis, cfg.Cache, logr)
	var (
		cacheRepo  service.CacheRepository
		redisCache *repository.CacheRepository
	)
	if redisClient != nil {
		redisCache = repository.NewCacheRepository(redisClient, logr)
		defer redisCache.Close() //nolint:errcheck
		cacheRepo = redisCache
	}
	cacheSvc := service.NewCacheService(cacheRepo, metrics, cfg.Cache.TTL, logr, cfg.Cache.Enabled)

	backend, err := optimizer.New(cfg.Scheduler.Backend, logr)
	if err != nil {
		logr.Fatal("failed to select assignment backend",
			zap.String("backend", cfg.Scheduler.Backend),
			zap.Strings("available", optimizer.Backends()),
			zap.Error(err),
		)
	}
	gen := engine.New(backend, logr)

	teacherRepo := repository.NewTeacherRepository(db)
	subjectRepo := repository.NewSubjectRepository(db)
	divisionRepo := repository.NewDivisionRepository(db)
	classroomRepo := repository.NewClassroomRepository(db)
	preferenceRepo := repository.NewTeacherPreferenceRepository(db)
	timetableRepo := repository.NewTimetableRepository(db)
	entryRepo := repository.NewTimetableEntryRepository(db)

	// The queue handler and the service refer to each other; the closures resolve the service
	// once it is built.
	var timetableSvc *service.TimetableService
	queue := jobs.NewQueue("timetable-generation", func(ctx context.Context, job jobs.Job) error {
		return timetableSvc.HandleJob(ctx, job)
	}, jobs.QueueConfig{
		Workers:    cfg.Scheduler.JobWorkers,
		BufferSize: cfg.Scheduler.JobBuffer,
		MaxRetries: cfg.Scheduler.JobRetries,
		RetryDelay: cfg.Scheduler.JobRetryDelay,
		Logger:     logr,
		OnExhausted: func(job jobs.Job, err error) {
			timetableSvc.FailJob(job, err)
		},
	})

	metrics.WatchQueue("timetable-generation", queue.Pending)

	validate := validator.New()
	timetableSvc = service.NewTimetableService(service.TimetableRepositories{
		Timetables:  timetableRepo,
		Entries:     entryRepo,
		Teachers:    teacherRepo,
		Subjects:    subjectRepo,
		Divisions:   divisionRepo,
		Classrooms:  classroomRepo,
		Preferences: preferenceRepo,
		Tx:          db,
	}, gen, queue, cacheSvc, metrics, validate, logr, service.TimetableServiceConfig{
		Enabled:           cfg.Scheduler.Enabled,
		PlacementTimeout:  cfg.Scheduler.PlacementTimeout,
		SolverTimeLimit:   cfg.Scheduler.SolverTimeLimit,
		RequirePreference: cfg.Scheduler.RequirePreference,
		MissingScore:      cfg.Scheduler.MissingScore,
		Precheck:          cfg.Scheduler.Precheck,
		ProgressEvery:     cfg.Scheduler.ProgressEvery,
		JobTTL:            cfg.Scheduler.JobTTL,
		CacheTTL:          cfg.Cache.TTL,
	})
	exportSvc := service.NewExportService(timetableSvc, service.ExportLookups{
		Teachers:   teacherRepo,
		Subjects:   subjectRepo,
		Divisions:  divisionRepo,
		Classrooms: classroomRepo,
	}, logr, nil, nil)
	preferenceSvc := service.NewTeacherPreferenceService(teacherRepo, subjectRepo, preferenceRepo, validate, logr)
	tokenSvc := service.NewTokenService(cfg.JWT.Secret)

	rootCtx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	queue.Start(rootCtx)
	defer queue.Stop()

	timetableHandler := handler.NewTimetableHandler(timetableSvc, exportSvc)
	preferenceHandler := handler.NewTeacherPreferenceHandler(preferenceSvc)
	metricsHandler := handler.NewMetricsHandler(metrics, readinessChecks(db, redisCache))

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(reqidmiddleware.Middleware())
	r.Use(logger.GinMiddleware(logr, "/health", "/ready", "/metrics"))
	r.Use(corsmiddleware.New(cfg.CORS.AllowedOrigins))
	r.Use(internalmiddleware.Metrics(metrics))

	r.GET("/health", metricsHandler.Health)
	r.GET("/ready", metricsHandler.Ready)
	r.GET("/metrics", metricsHandler.Prometheus)
	if cfg.Env != config.EnvProduction {
		r.GET("/docs/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))
	}

	api := r.Group(cfg.APIPrefix, internalmiddleware.JWT(tokenSvc))
	adminOnly := internalmiddleware.RequireRoles(models.RoleAdmin)
	staff := internalmiddleware.RequireRoles(models.RoleAdmin, models.RoleTeacher)

	timetables := api.Group("/timetables")
	timetables.POST("/generate", adminOnly, timetableHandler.Generate)
	timetables.POST("/jobs", adminOnly, timetableHandler.Enqueue)
	timetables.GET("/jobs/:id", adminOnly, timetableHandler.Job)
	timetables.GET("", staff, timetableHandler.List)
	timetables.GET("/active/entries", staff, timetableHandler.ActiveEntries)
	timetables.GET("/:id/entries", staff, timetableHandler.Entries)
	timetables.GET("/:id/export", staff, timetableHandler.Export)

	teachers := api.Group("/teachers/:id", internalmiddleware.RBAC(string(models.RoleAdmin), internalmiddleware.SelfParam))
	teachers.GET("/preferences", preferenceHandler.List)
	teachers.PUT("/preferences", preferenceHandler.Upsert)

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Port),
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		logr.Info("server starting",
			zap.String("addr", srv.Addr),
			zap.String("env", cfg.Env),
			zap.String("backend", backend.Name()),
			zap.Bool("scheduler_enabled", cfg.Scheduler.Enabled),
			zap.Bool("cache_enabled", cacheSvc.Enabled()),
		)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logr.Fatal("server failed", zap.Error(err))
		}
	}()

	<-rootCtx.Done()
	logr.Info("shutting down")
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		logr.Error("graceful shutdown failed", zap.Error(err))
	}
}

func readinessChecks(db *sqlx.DB, redisCache *repository.CacheRepository) map[string]handler.Pinger {
	checks := map[string]handler.Pinger{
		"postgres": db.PingContext,
	}
	if redisCache != nil {
		checks["redis"] = redisCache.Ping
	}
	return checks
}
