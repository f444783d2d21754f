// Package config defines the configuration of the news reporter binaries.
// Configuration is loaded once at startup and is immutable thereafter.
//
// Values are resolved via a priority chain:
//
//	OS Environment (Highest) -> Dotenv File -> AWS SSM Parameter Store (Lowest)
//
// A missing required value or an invalid format aborts startup.
package config

import (
	"fmt"
	"time"

	"kassenews/internal/types"
)

// SecretString is an alias for types.SecretString so config consumers do not
// need to import types for the secret fields.
type SecretString = types.SecretString

// Config is the top-level configuration. Components receive only the section
// they need.
type Config struct {
	Environment string `envconfig:"APP_ENV" validate:"required,oneof=local dev prod"`
	Service     string `envconfig:"OTEL_SERVICE_NAME" default:"news-reporter"`
	LogLevel    string `envconfig:"LOG_LEVEL" default:"info" validate:"oneof=debug info warn error"`

	Reporter      ReporterConfig
	Database      DatabaseConfig
	Facebook      FacebookConfig
	Checkpoint    CheckpointConfig
	Status        StatusConfig
	AWS           AWSConfig
	Observability ObservabilityConfig

	// Injected via ldflags, not env.
	Build BuildInfo
}

// ReporterConfig tunes the poll loop and the wording of the posts.
type ReporterConfig struct {
	PollInterval time.Duration `envconfig:"REPORTER_POLL_INTERVAL" default:"15s" validate:"gt=0"`
	// Data younger than this is considered still being edited.
	GracePeriod time.Duration `envconfig:"REPORTER_GRACE_PERIOD" default:"5s" validate:"gte=0"`
	Window      time.Duration `envconfig:"REPORTER_WINDOW" default:"12h" validate:"gt=0"`
	MaxRetries  int           `envconfig:"REPORTER_MAX_RETRIES" default:"3" validate:"gte=0"`

	// ProvisionalLegs is the leg count below which a running time is not
	// reported.
	ProvisionalLegs int    `envconfig:"REPORTER_PROVISIONAL_LEGS" default:"5" validate:"gte=1"`
	LinkBaseURL     string `envconfig:"REPORTER_LINK_BASE_URL" default:"http://tket.dk/5/" validate:"required,url"`
	TimeZone        string `envconfig:"REPORTER_TIME_ZONE" default:"Europe/Copenhagen" validate:"required,timezone"`
	// Contests whose lap times are commented on as they come in.
	LapContests []int64 `envconfig:"REPORTER_LAP_CONTESTS"`

	// DryRun prints the posts to stdout instead of publishing them.
	DryRun bool `envconfig:"REPORTER_DRY_RUN" default:"false"`
}

// Location returns the time zone used for dates in posts.
func (c ReporterConfig) Location() (*time.Location, error) {
	loc, err := time.LoadLocation(c.TimeZone)
	if err != nil {
		return nil, fmt.Errorf("loading time zone %q: %w", c.TimeZone, err)
	}
	return loc, nil
}

// DatabaseConfig holds the connection to the stopwatch database and pool
// tuning.
type DatabaseConfig struct {
	URL SecretString `envconfig:"DATABASE_URL" validate:"required"`

	MaxConns          int32         `envconfig:"DB_MAX_CONNS" default:"4" validate:"gte=2"`
	MinConns          int32         `envconfig:"DB_MIN_CONNS" default:"1"`
	MaxConnLifetime   time.Duration `envconfig:"DB_MAX_CONN_LIFETIME" default:"30m"`
	AcquireTimeout    time.Duration `envconfig:"DB_ACQUIRE_TIMEOUT" default:"2s"`
	HealthCheckPeriod time.Duration `envconfig:"DB_HEALTH_CHECK_PERIOD" default:"1m"`
}

// FacebookConfig holds the page the reporter publishes to. Required unless
// Reporter.DryRun is set.
type FacebookConfig struct {
	PageID          string        `envconfig:"FACEBOOK_PAGE_ID"`
	PageAccessToken SecretString  `envconfig:"FACEBOOK_PAGE_ACCESS_TOKEN"`
	AppSecret       SecretString  `envconfig:"FACEBOOK_APP_SECRET"`
	BaseURL         string        `envconfig:"FACEBOOK_GRAPH_URL" validate:"omitempty,url"`
	Timeout         time.Duration `envconfig:"FACEBOOK_TIMEOUT" default:"10s"`
}

// CheckpointConfig selects where the report survives restarts.
type CheckpointConfig struct {
	Backend    string `envconfig:"CHECKPOINT_BACKEND" default:"postgres" validate:"oneof=postgres sqlite none"`
	SQLitePath string `envconfig:"CHECKPOINT_SQLITE_PATH" validate:"required_if=Backend sqlite"`
}

// StatusConfig configures the read-only status server.
type StatusConfig struct {
	Addr string `envconfig:"STATUS_ADDR" default:":8080"`
	// The health check fails when no tick completed for this long.
	MaxTickAge time.Duration `envconfig:"STATUS_MAX_TICK_AGE" default:"2m" validate:"gt=0"`
}

// AWSConfig holds regional configuration.
type AWSConfig struct {
	Region string `envconfig:"AWS_REGION" default:"eu-north-1"`

	// LocalStack Support (Empty in Prod)
	EndpointURL string `envconfig:"AWS_ENDPOINT_URL"`
}

// ObservabilityConfig holds telemetry settings.
type ObservabilityConfig struct {
	MetricNamespace string `envconfig:"METRIC_NAMESPACE" default:"KasseNews"`
	EnableMetrics   bool   `envconfig:"ENABLE_METRICS" default:"false"`
}

// BuildInfo holds build-time metadata injected via ldflags.
type BuildInfo struct {
	Version   string
	Commit    string
	BuildTime string
}

// ConfigErrorType categorizes configuration loading failures.
type ConfigErrorType string

const (
	ErrMissingEnv    ConfigErrorType = "MISSING_ENV"
	ErrSSMResolution ConfigErrorType = "SSM_FAILURE"
	ErrValidation    ConfigErrorType = "VALIDATION_FAILED"
	ErrParsing       ConfigErrorType = "PARSING_FAILED"
)
