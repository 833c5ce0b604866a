package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/Moraesssa/agendarbrasil-health-hub-sub007/internal/scheduler"
)

// Config holds application configuration
type Config struct {
	Port           string
	Env            string
	LogLevel       string
	WorkerCount    int
	UseMemoryQueue bool

	AdminJWTSecret string
	AdminRateLimit float64

	DatabaseURL   string
	RedisAddr     string
	RedisPassword string
	RedisTLS      bool
	StateTTL      time.Duration

	AWSRegion           string
	AWSAccessKeyID      string
	AWSSecretAccessKey  string
	AWSEndpointOverride string
	EventQueueURL       string
	OutboundQueueURL    string
	ArchiveBucket       string
	DedupeTable         string

	// Prediction providers
	GoogleMapsAPIKey  string
	WeatherBaseURL    string
	WeatherAPIKey     string
	PredictionTimeout time.Duration
	HistoryLookback   time.Duration

	OptimizationBudget  time.Duration
	EventBatchSize      int
	SimulationScenarios int
	SimulationSeed      uint64
	DayCloseInterval    time.Duration
	ClinicTimezone      string
	DoctorLat           float64
	DoctorLng           float64

	// Cost and throttle overrides, applied over scheduler.DefaultParams.
	BetaIdle                   float64
	DeltaOvertime              float64
	GammaReschedule            float64
	ETAQuantile                float64
	DurationQuantile           float64
	MaxReschedules             int
	QuietMinutes               float64
	EmergencySLAMinutes        float64
	BufferMultiplier           float64
	MinBufferMinutes           float64
	MaxBufferMinutes           float64
	ReoptimizeThresholdMinutes float64
	MaxReoptimizationsPerHour  int
}

// Load reads configuration from environment variables
func Load() *Config {
	def := scheduler.DefaultParams()
	return &Config{
		Port:           getEnv("PORT", "8080"),
		Env:            getEnv("ENV", "development"),
		LogLevel:       getEnv("LOG_LEVEL", "info"),
		WorkerCount:    getEnvAsInt("WORKER_COUNT", 2),
		UseMemoryQueue: getEnvAsBool("USE_MEMORY_QUEUE", false),

		AdminJWTSecret: getEnv("ADMIN_JWT_SECRET", ""),
		AdminRateLimit: getEnvAsFloat("ADMIN_RATE_LIMIT", 5),

		DatabaseURL:   getEnv("DATABASE_URL", ""),
		RedisAddr:     getEnv("REDIS_ADDR", "redis:6379"),
		RedisPassword: getEnv("REDIS_PASSWORD", ""),
		RedisTLS:      getEnvAsBool("REDIS_TLS", false),
		StateTTL:      getEnvAsDuration("STATE_TTL", 36*time.Hour),

		AWSRegion:           getEnv("AWS_REGION", "us-east-1"),
		AWSAccessKeyID:      getEnv("AWS_ACCESS_KEY_ID", ""),
		AWSSecretAccessKey:  getEnv("AWS_SECRET_ACCESS_KEY", ""),
		AWSEndpointOverride: getEnv("AWS_ENDPOINT_OVERRIDE", ""),
		EventQueueURL:       getEnv("SCHEDULER_EVENT_QUEUE_URL", ""),
		OutboundQueueURL:    getEnv("SCHEDULER_OUTBOUND_QUEUE_URL", ""),
		ArchiveBucket:       getEnv("SCHEDULER_ARCHIVE_BUCKET", ""),
		DedupeTable:         getEnv("SCHEDULER_DEDUPE_TABLE", ""),

		GoogleMapsAPIKey:  getEnv("GOOGLE_MAPS_API_KEY", ""),
		WeatherBaseURL:    strings.TrimRight(getEnv("WEATHER_BASE_URL", ""), "/"),
		WeatherAPIKey:     getEnv("WEATHER_API_KEY", ""),
		PredictionTimeout: getEnvAsDuration("PREDICTION_TIMEOUT", 2*time.Second),
		HistoryLookback:   getEnvAsDuration("HISTORY_LOOKBACK", 720*time.Hour),

		OptimizationBudget:  getEnvAsDuration("OPTIMIZATION_BUDGET", def.OptimizationBudget),
		EventBatchSize:      getEnvAsInt("EVENT_BATCH_SIZE", 5),
		SimulationScenarios: getEnvAsInt("SIMULATION_SCENARIOS", 500),
		SimulationSeed:      uint64(getEnvAsInt("SIMULATION_SEED", 0)),
		DayCloseInterval:    getEnvAsDuration("DAY_CLOSE_INTERVAL", 10*time.Minute),
		ClinicTimezone:      getEnv("CLINIC_TIMEZONE", "America/Sao_Paulo"),
		DoctorLat:           getEnvAsFloat("DOCTOR_LAT", 0),
		DoctorLng:           getEnvAsFloat("DOCTOR_LNG", 0),

		BetaIdle:                   getEnvAsFloat("SCHEDULER_BETA_IDLE", def.BetaIdle),
		DeltaOvertime:              getEnvAsFloat("SCHEDULER_DELTA_OVERTIME", def.DeltaOvertime),
		GammaReschedule:            getEnvAsFloat("SCHEDULER_GAMMA_RESCHEDULE", def.GammaReschedule),
		ETAQuantile:                getEnvAsFloat("SCHEDULER_ETA_QUANTILE", def.ETAQuantile),
		DurationQuantile:           getEnvAsFloat("SCHEDULER_DURATION_QUANTILE", def.DurationQuantile),
		MaxReschedules:             getEnvAsInt("SCHEDULER_MAX_RESCHEDULES", def.MaxReschedulesPerPatientPerDay),
		QuietMinutes:               getEnvAsFloat("SCHEDULER_QUIET_MINUTES", def.MinMinutesBeforeReschedule),
		EmergencySLAMinutes:        getEnvAsFloat("SCHEDULER_EMERGENCY_SLA_MINUTES", def.EmergencySLAMinutes),
		BufferMultiplier:           getEnvAsFloat("SCHEDULER_BUFFER_MULTIPLIER", def.BufferMultiplier),
		MinBufferMinutes:           getEnvAsFloat("SCHEDULER_MIN_BUFFER_MINUTES", def.MinBufferMinutes),
		MaxBufferMinutes:           getEnvAsFloat("SCHEDULER_MAX_BUFFER_MINUTES", def.MaxBufferMinutes),
		ReoptimizeThresholdMinutes: getEnvAsFloat("SCHEDULER_REOPTIMIZE_THRESHOLD_MINUTES", def.ReoptimizeThresholdMinutes),
		MaxReoptimizationsPerHour:  getEnvAsInt("SCHEDULER_MAX_REOPTIMIZATIONS_PER_HOUR", def.MaxReoptimizationsPerHour),
	}
}

// SchedulerParams merges the overrides into scheduler.DefaultParams and
// validates the result.
func (c *Config) SchedulerParams() (scheduler.Params, error) {
	p := scheduler.DefaultParams()
	p.BetaIdle = c.BetaIdle
	p.DeltaOvertime = c.DeltaOvertime
	p.GammaReschedule = c.GammaReschedule
	p.ETAQuantile = c.ETAQuantile
	p.DurationQuantile = c.DurationQuantile
	p.MaxReschedulesPerPatientPerDay = c.MaxReschedules
	p.MinMinutesBeforeReschedule = c.QuietMinutes
	p.EmergencySLAMinutes = c.EmergencySLAMinutes
	p.BufferMultiplier = c.BufferMultiplier
	p.MinBufferMinutes = c.MinBufferMinutes
	p.MaxBufferMinutes = c.MaxBufferMinutes
	p.ReoptimizeThresholdMinutes = c.ReoptimizeThresholdMinutes
	p.MaxReoptimizationsPerHour = c.MaxReoptimizationsPerHour
	p.OptimizationBudget = c.OptimizationBudget
	if err := p.Validate(); err != nil {
		return scheduler.Params{}, fmt.Errorf("config: %w", err)
	}
	return p, nil
}

// Location resolves CLINIC_TIMEZONE.
func (c *Config) Location() (*time.Location, error) {
	loc, err := time.LoadLocation(c.ClinicTimezone)
	if err != nil {
		return nil, fmt.Errorf("config: clinic timezone %q: %w", c.ClinicTimezone, err)
	}
	return loc, nil
}

// DoctorLocation is the clinic coordinate used for traffic lookups, or nil
// when unset.
func (c *Config) DoctorLocation() *scheduler.LatLng {
	if c.DoctorLat == 0 && c.DoctorLng == 0 {
		return nil
	}
	return &scheduler.LatLng{Lat: c.DoctorLat, Lng: c.DoctorLng}
}

// getEnv retrieves an environment variable or returns a default value
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvAsInt retrieves an environment variable as an integer or returns a default value
func getEnvAsInt(key string, defaultValue int) int {
	valueStr := getEnv(key, "")
	if value, err := strconv.Atoi(valueStr); err == nil {
		return value
	}
	return defaultValue
}

// getEnvAsBool retrieves an environment variable as a boolean or returns a default value
func getEnvAsBool(key string, defaultValue bool) bool {
	valueStr := getEnv(key, "")
	if value, err := strconv.ParseBool(valueStr); err == nil {
		return value
	}
	return defaultValue
}

func getEnvAsFloat(key string, defaultValue float64) float64 {
	valueStr := getEnv(key, "")
	if value, err := strconv.ParseFloat(valueStr, 64); err == nil {
		return value
	}
	return defaultValue
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	valueStr := getEnv(key, "")
	if valueStr == "" {
		return defaultValue
	}
	if value, err := time.ParseDuration(valueStr); err == nil {
		return value
	}
	return defaultValue
}
