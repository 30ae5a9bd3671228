package config

import "time"

// ControlPlaneConfig holds runtime configuration for the rollout control
// plane.
type ControlPlaneConfig struct {
	Environment   string
	Addr          string
	DatabaseURL   string
	MigrationsDir string

	// FlagStoreBackend selects the feature-flag persistence layer:
	// "memory", "redis" or "badger".
	FlagStoreBackend string
	RedisAddr        string
	RedisPassword    string
	RedisDB          int
	BadgerPath       string

	MonitorInterval      time.Duration
	ErrorThreshold       float64
	PerformanceThreshold float64

	ValidationSampleEvery time.Duration
	ValidationDuration    time.Duration

	RateLimitRedisAddr string
	RateLimitRedisPass string
	RateLimitRedisDB   int
}

// LoadControlPlane constructs a ControlPlaneConfig from environment
// variables.
func LoadControlPlane() ControlPlaneConfig {
	return ControlPlaneConfig{
		Environment:   GetString("APP_ENV", "development"),
		Addr:          GetString("ROLLOUT_ADDR", ":4000"),
		DatabaseURL:   GetString("DATABASE_URL", ""),
		MigrationsDir: GetString("DB_MIGRATIONS_DIR", "db/migrations"),

		FlagStoreBackend: GetString("FLAG_STORE_BACKEND", "memory"),
		RedisAddr:        GetString("REDIS_ADDR", ""),
		RedisPassword:    GetString("REDIS_PASSWORD", ""),
		RedisDB:          GetInt("REDIS_DB", 0),
		BadgerPath:       GetString("BADGER_PATH", ""),

		MonitorInterval:      time.Duration(GetInt("MONITOR_INTERVAL_SECONDS", 10)) * time.Second,
		ErrorThreshold:       GetFloat("MONITOR_ERROR_THRESHOLD", 0.05),
		PerformanceThreshold: GetFloat("MONITOR_PERFORMANCE_THRESHOLD_MS", 500),

		ValidationSampleEvery: time.Duration(GetInt("VALIDATION_SAMPLE_SECONDS", 60)) * time.Second,
		ValidationDuration:    time.Duration(GetInt("VALIDATION_DURATION_SECONDS", 3600)) * time.Second,

		RateLimitRedisAddr: GetString("RATE_LIMIT_REDIS_ADDR", ""),
		RateLimitRedisPass: GetString("RATE_LIMIT_REDIS_PASSWORD", ""),
		RateLimitRedisDB:   GetInt("RATE_LIMIT_REDIS_DB", 0),
	}
}
