package config

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

const (
	EnvDevelopment = "development"
	EnvProduction  = "production"

	devJWTSecret = "dev_secret"
)

type Config struct {
	Env       string
	Port      int
	APIPrefix string

	Database  DatabaseConfig
	Redis     RedisConfig
	JWT       JWTConfig
	CORS      CORSConfig
	Log       LogConfig
	Cache     CacheConfig
	Scheduler SchedulerConfig
}

type DatabaseConfig struct {
	Host         string
	Port         int
	User         string
	Password     string
	Name         string
	SSLMode      string
	MaxOpenConns int
	MaxIdleConns int
}

type RedisConfig struct {
	Host     string
	Port     int
	Password string
	DB       int
}

type JWTConfig struct {
	Secret string
}

type CORSConfig struct {
	AllowedOrigins []string
}

type LogConfig struct {
	Level  string
	Format string
}

// CacheConfig governs caching of timetable reads.
type CacheConfig struct {
	Enabled bool
	TTL     time.Duration
}

// SchedulerConfig tunes timetable generation.
type SchedulerConfig struct {
	Enabled           bool
	Backend           string
	PlacementTimeout  time.Duration
	SolverTimeLimit   time.Duration
	RequirePreference bool
	MissingScore      int
	Precheck          bool
	ProgressEvery     int
	JobWorkers        int
	JobBuffer         int
	JobRetries        int
	JobRetryDelay     time.Duration
	JobTTL            time.Duration
}

func Load() (*Config, error) {
	_ = godotenv.Load()

	v := viper.New()
	v.SetConfigFile(".env")
	v.SetConfigType("env")
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) && !isMissingFile(err) {
			return nil, err
		}
	}

	cfg := &Config{}

	cfg.Env = v.GetString("ENV")
	cfg.Port = v.GetInt("PORT")
	cfg.APIPrefix = v.GetString("API_PREFIX")

	cfg.Database = DatabaseConfig{
		Host:         v.GetString("DB_HOST"),
		Port:         v.GetInt("DB_PORT"),
		User:         v.GetString("DB_USER"),
		Password:     v.GetString("DB_PASSWORD"),
		Name:         v.GetString("DB_NAME"),
		SSLMode:      v.GetString("DB_SSL_MODE"),
		MaxOpenConns: v.GetInt("DB_MAX_OPEN_CONNS"),
		MaxIdleConns: v.GetInt("DB_MAX_IDLE_CONNS"),
	}

	cfg.Redis = RedisConfig{
		Host:     v.GetString("REDIS_HOST"),
		Port:     v.GetInt("REDIS_PORT"),
		Password: v.GetString("REDIS_PASSWORD"),
		DB:       v.GetInt("REDIS_DB"),
	}

	cfg.JWT = JWTConfig{Secret: v.GetString("JWT_SECRET")}

	cfg.CORS = CORSConfig{AllowedOrigins: splitAndTrim(v.GetString("ALLOWED_ORIGINS"))}

	cfg.Log = LogConfig{
		Level:  v.GetString("LOG_LEVEL"),
		Format: v.GetString("LOG_FORMAT"),
	}

	cfg.Cache = CacheConfig{
		Enabled: v.GetBool("ENABLE_CACHE"),
		TTL:     parseDuration(v.GetString("CACHE_TTL"), 10*time.Minute),
	}

	cfg.Scheduler = SchedulerConfig{
		Enabled:           v.GetBool("ENABLE_SCHEDULER"),
		Backend:           v.GetString("SCHEDULER_BACKEND"),
		PlacementTimeout:  parseDuration(v.GetString("SCHEDULER_PLACEMENT_TIMEOUT"), 5000*time.Second),
		SolverTimeLimit:   parseDuration(v.GetString("SCHEDULER_SOLVER_TIME_LIMIT"), time.Minute),
		RequirePreference: v.GetBool("SCHEDULER_REQUIRE_PREFERENCE"),
		MissingScore:      v.GetInt("SCHEDULER_MISSING_SCORE"),
		Precheck:          v.GetBool("SCHEDULER_PRECHECK"),
		ProgressEvery:     v.GetInt("SCHEDULER_PROGRESS_EVERY"),
		JobWorkers:        v.GetInt("SCHEDULER_JOB_WORKERS"),
		JobBuffer:         v.GetInt("SCHEDULER_JOB_BUFFER"),
		JobRetries:        v.GetInt("SCHEDULER_JOB_RETRIES"),
		JobRetryDelay:     parseDuration(v.GetString("SCHEDULER_JOB_RETRY_DELAY"), 5*time.Second),
		JobTTL:            parseDuration(v.GetString("SCHEDULER_JOB_TTL"), time.Hour),
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate rejects settings the server cannot start with. All problems are reported at once.
func (c *Config) Validate() error {
	var errs []error
	if c.Port <= 0 || c.Port > 65535 {
		errs = append(errs, fmt.Errorf("PORT %d out of range", c.Port))
	}
	if c.Env == EnvProduction && (c.JWT.Secret == "" || c.JWT.Secret == devJWTSecret) {
		errs = append(errs, errors.New("JWT_SECRET must be set in production"))
	}
	switch c.Log.Format {
	case "", "json", "console":
	default:
		errs = append(errs, fmt.Errorf("LOG_FORMAT %q must be json or console", c.Log.Format))
	}
	if c.Scheduler.PlacementTimeout <= 0 {
		errs = append(errs, errors.New("SCHEDULER_PLACEMENT_TIMEOUT must be positive"))
	}
	if c.Scheduler.SolverTimeLimit < 0 {
		errs = append(errs, errors.New("SCHEDULER_SOLVER_TIME_LIMIT must not be negative"))
	}
	if c.Scheduler.JobWorkers < 1 {
		errs = append(errs, errors.New("SCHEDULER_JOB_WORKERS must be at least 1"))
	}
	if c.Scheduler.JobRetries < 0 {
		errs = append(errs, errors.New("SCHEDULER_JOB_RETRIES must not be negative"))
	}
	if c.Scheduler.ProgressEvery < 0 {
		errs = append(errs, errors.New("SCHEDULER_PROGRESS_EVERY must not be negative"))
	}
	return errors.Join(errs...)
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("ENV", EnvDevelopment)
	v.SetDefault("PORT", 8080)
	v.SetDefault("API_PREFIX", "/api/v1")

	v.SetDefault("DB_HOST", "localhost")
	v.SetDefault("DB_PORT", 5432)
	v.SetDefault("DB_USER", "postgres")
	v.SetDefault("DB_PASSWORD", "postgres")
	v.SetDefault("DB_NAME", "timetable")
	v.SetDefault("DB_SSL_MODE", "disable")
	v.SetDefault("DB_MAX_OPEN_CONNS", 10)
	v.SetDefault("DB_MAX_IDLE_CONNS", 5)

	v.SetDefault("REDIS_HOST", "localhost")
	v.SetDefault("REDIS_PORT", 6379)
	v.SetDefault("REDIS_PASSWORD", "")
	v.SetDefault("REDIS_DB", 0)

	v.SetDefault("JWT_SECRET", devJWTSecret)

	v.SetDefault("ALLOWED_ORIGINS", "")
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("LOG_FORMAT", "json")

	v.SetDefault("ENABLE_CACHE", true)
	v.SetDefault("CACHE_TTL", "10m")

	v.SetDefault("ENABLE_SCHEDULER", true)
	v.SetDefault("SCHEDULER_BACKEND", "branchbound")
	v.SetDefault("SCHEDULER_PLACEMENT_TIMEOUT", "5000s")
	v.SetDefault("SCHEDULER_SOLVER_TIME_LIMIT", "60s")
	v.SetDefault("SCHEDULER_REQUIRE_PREFERENCE", true)
	v.SetDefault("SCHEDULER_MISSING_SCORE", 0)
	v.SetDefault("SCHEDULER_PRECHECK", true)
	v.SetDefault("SCHEDULER_PROGRESS_EVERY", 1000)
	v.SetDefault("SCHEDULER_JOB_WORKERS", 1)
	v.SetDefault("SCHEDULER_JOB_BUFFER", 16)
	v.SetDefault("SCHEDULER_JOB_RETRIES", 1)
	v.SetDefault("SCHEDULER_JOB_RETRY_DELAY", "5s")
	v.SetDefault("SCHEDULER_JOB_TTL", "1h")
}

// isMissingFile reports an absent .env, which viper surfaces as a path error when the
// config file is set explicitly.
func isMissingFile(err error) bool {
	return errors.Is(err, fs.ErrNotExist)
}

func parseDuration(raw string, fallback time.Duration) time.Duration {
	if raw == "" {
		return fallback
	}

	d, err := time.ParseDuration(raw)
	if err != nil {
		return fallback
	}

	return d
}

func splitAndTrim(raw string) []string {
	if raw == "" {
		return nil
	}

	parts := strings.Split(raw, ",")
	result := make([]string, 0, len(parts))
	for _, part := range parts {
		trimmed := strings.TrimSpace(part)
		if trimmed != "" {
			result = append(result, trimmed)
		}
	}

	return result
}
