package config

import (
	"errors"
	"io/fs"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

const (
	EnvDevelopment = "development"
	EnvProduction  = "production"
)

// Cache backends for the view cache.
const (
	CacheBackendMemory = "memory"
	CacheBackendRedis  = "redis"
)

// Stale policies for views that receive invalidation signals.
const (
	StalePolicyRefresh          = "refresh"
	StalePolicyServeThenRefresh = "serve-then-refresh"
)

type Config struct {
	Env       string
	Port      int
	APIPrefix string

	Database DatabaseConfig
	Redis    RedisConfig
	JWT      JWTConfig
	CORS     CORSConfig
	Log      LogConfig
	Upstream UpstreamConfig
	Governor GovernorConfig
	Sync     SyncConfig
	Calendar CalendarConfig
}

type DatabaseConfig struct {
	Driver       string
	SQLitePath   string
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
	Host        string
	Port        int
	Password    string
	DB          int
	PoolSize    int
	DialTimeout time.Duration
}

type JWTConfig struct {
	Secret     string
	Issuer     string
	Expiration time.Duration
}

type CORSConfig struct {
	AllowedOrigins []string
}

type LogConfig struct {
	Level  string
	Format string
}

// UpstreamConfig points the accessor at the classroom and calendar APIs.
type UpstreamConfig struct {
	ClassroomBaseURL string
	CalendarBaseURL  string
	Timeout          time.Duration
}

// GovernorConfig tunes fan-out width and dispatch pacing.
type GovernorConfig struct {
	DispatchInterval          time.Duration
	SubmissionConcurrency     int
	TodoCourseConcurrency     int
	TodoSubmissionConcurrency int
	ProbeConcurrency          int
}

// SyncConfig governs the view cache and refresh behaviour.
type SyncConfig struct {
	CacheBackend        string
	TodoStalePolicy     string
	TodoCourseworkLimit int
	RefreshWorkers      int
	RefreshTimeout      time.Duration
}

// CalendarConfig bounds the schedule view's event listing.
type CalendarConfig struct {
	Window     time.Duration
	MaxResults int
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
		if !errors.As(err, &notFound) && !errors.Is(err, fs.ErrNotExist) {
			return nil, err
		}
	}

	return fromViper(v), nil
}

func fromViper(v *viper.Viper) *Config {
	cfg := &Config{}

	cfg.Env = v.GetString("ENV")
	cfg.Port = v.GetInt("PORT")
	cfg.APIPrefix = v.GetString("API_PREFIX")

	cfg.Database = DatabaseConfig{
		Driver:       strings.ToLower(v.GetString("DB_DRIVER")),
		SQLitePath:   v.GetString("DB_SQLITE_PATH"),
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
		Host:        v.GetString("REDIS_HOST"),
		Port:        v.GetInt("REDIS_PORT"),
		Password:    v.GetString("REDIS_PASSWORD"),
		DB:          v.GetInt("REDIS_DB"),
		PoolSize:    positiveOr(v.GetInt("REDIS_POOL_SIZE"), 10),
		DialTimeout: parseDuration(v.GetString("REDIS_DIAL_TIMEOUT"), 5*time.Second),
	}

	cfg.JWT = JWTConfig{
		Secret:     v.GetString("JWT_SECRET"),
		Issuer:     v.GetString("JWT_ISSUER"),
		Expiration: parseDuration(v.GetString("JWT_EXPIRATION"), time.Hour),
	}

	cfg.CORS = CORSConfig{AllowedOrigins: splitAndTrim(v.GetString("ALLOWED_ORIGINS"))}

	cfg.Log = LogConfig{
		Level:  v.GetString("LOG_LEVEL"),
		Format: v.GetString("LOG_FORMAT"),
	}

	cfg.Upstream = UpstreamConfig{
		ClassroomBaseURL: strings.TrimRight(v.GetString("UPSTREAM_CLASSROOM_BASE_URL"), "/"),
		CalendarBaseURL:  strings.TrimRight(v.GetString("UPSTREAM_CALENDAR_BASE_URL"), "/"),
		Timeout:          parseDuration(v.GetString("UPSTREAM_TIMEOUT"), 30*time.Second),
	}

	cfg.Governor = GovernorConfig{
		DispatchInterval:          parseDuration(v.GetString("GOVERNOR_DISPATCH_INTERVAL"), 100*time.Millisecond),
		SubmissionConcurrency:     positiveOr(v.GetInt("SUBMISSION_CONCURRENCY"), 10),
		TodoCourseConcurrency:     positiveOr(v.GetInt("TODO_COURSE_CONCURRENCY"), 3),
		TodoSubmissionConcurrency: positiveOr(v.GetInt("TODO_SUBMISSION_CONCURRENCY"), 10),
		ProbeConcurrency:          positiveOr(v.GetInt("PROBE_CONCURRENCY"), 10),
	}

	cfg.Sync = SyncConfig{
		CacheBackend:        oneOf(strings.ToLower(v.GetString("SYNC_CACHE_BACKEND")), CacheBackendMemory, CacheBackendMemory, CacheBackendRedis),
		TodoStalePolicy:     oneOf(strings.ToLower(v.GetString("SYNC_TODO_STALE_POLICY")), StalePolicyRefresh, StalePolicyRefresh, StalePolicyServeThenRefresh),
		TodoCourseworkLimit: positiveOr(v.GetInt("TODO_COURSEWORK_LIMIT"), 50),
		RefreshWorkers:      positiveOr(v.GetInt("SYNC_REFRESH_WORKERS"), 2),
		RefreshTimeout:      parseDuration(v.GetString("SYNC_REFRESH_TIMEOUT"), 2*time.Minute),
	}

	cfg.Calendar = CalendarConfig{
		Window:     parseDuration(v.GetString("CALENDAR_WINDOW"), 90*24*time.Hour),
		MaxResults: positiveOr(v.GetInt("CALENDAR_MAX_RESULTS"), 1000),
	}

	return cfg
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("ENV", EnvDevelopment)
	v.SetDefault("PORT", 8080)
	v.SetDefault("API_PREFIX", "/api/v1")

	v.SetDefault("DB_DRIVER", "postgres")
	v.SetDefault("DB_SQLITE_PATH", "./classroom-sync.db")
	v.SetDefault("DB_HOST", "localhost")
	v.SetDefault("DB_PORT", 5432)
	v.SetDefault("DB_USER", "postgres")
	v.SetDefault("DB_PASSWORD", "postgres")
	v.SetDefault("DB_NAME", "classroom_sync")
	v.SetDefault("DB_SSL_MODE", "disable")
	v.SetDefault("DB_MAX_OPEN_CONNS", 10)
	v.SetDefault("DB_MAX_IDLE_CONNS", 5)

	v.SetDefault("REDIS_HOST", "localhost")
	v.SetDefault("REDIS_PORT", 6379)
	v.SetDefault("REDIS_PASSWORD", "")
	v.SetDefault("REDIS_DB", 0)
	v.SetDefault("REDIS_POOL_SIZE", 10)
	v.SetDefault("REDIS_DIAL_TIMEOUT", "5s")

	v.SetDefault("JWT_SECRET", "dev_secret")
	v.SetDefault("JWT_ISSUER", "classroom-sync")
	v.SetDefault("JWT_EXPIRATION", "1h")

	v.SetDefault("ALLOWED_ORIGINS", "")
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("LOG_FORMAT", "json")

	v.SetDefault("UPSTREAM_CLASSROOM_BASE_URL", "https://classroom.googleapis.com/v1")
	v.SetDefault("UPSTREAM_CALENDAR_BASE_URL", "https://www.googleapis.com/calendar/v3")
	v.SetDefault("UPSTREAM_TIMEOUT", "30s")

	v.SetDefault("GOVERNOR_DISPATCH_INTERVAL", "100ms")
	v.SetDefault("SUBMISSION_CONCURRENCY", 10)
	v.SetDefault("TODO_COURSE_CONCURRENCY", 3)
	v.SetDefault("TODO_SUBMISSION_CONCURRENCY", 10)
	v.SetDefault("PROBE_CONCURRENCY", 10)

	v.SetDefault("SYNC_CACHE_BACKEND", CacheBackendMemory)
	v.SetDefault("SYNC_TODO_STALE_POLICY", StalePolicyRefresh)
	v.SetDefault("TODO_COURSEWORK_LIMIT", 50)
	v.SetDefault("SYNC_REFRESH_WORKERS", 2)
	v.SetDefault("SYNC_REFRESH_TIMEOUT", "2m")

	v.SetDefault("CALENDAR_WINDOW", "2160h")
	v.SetDefault("CALENDAR_MAX_RESULTS", 1000)
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

func positiveOr(value, fallback int) int {
	if value <= 0 {
		return fallback
	}
	return value
}

func oneOf(value, fallback string, allowed ...string) string {
	for _, candidate := range allowed {
		if value == candidate {
			return value
		}
	}
	return fallback
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
