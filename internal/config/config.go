// Package config defines the process configuration of the forest agreement
// pipeline. Configuration is loaded once at startup (CLI invocation or Lambda
// cold start) and is immutable thereafter.
//
// Values are resolved via a priority chain:
//
//	OS Environment (Highest) -> Dotenv File -> AWS SSM Parameter Store (Lowest)
//
// Any invalid value fails the load before any dataset is fetched.
package config

import (
	"time"

	"forestagree/internal/types"
)

// SecretString is an alias for types.SecretString, the redacted secret type used
// throughout configuration to prevent accidental logging of sensitive values.
type SecretString = types.SecretString

// Config is the top-level configuration struct. Sub-components receive only
// the subset they require.
type Config struct {
	// System Metadata
	Environment string `envconfig:"APP_ENV" validate:"required,oneof=local dev staging prod"`
	Service     string `envconfig:"SERVICE_NAME" default:"forestagree"`
	LogLevel    string `envconfig:"LOG_LEVEL" default:"info" validate:"oneof=debug info warn error"`

	Analysis      AnalysisConfig
	Export        ExportConfig
	Source        SourceConfig
	Database      DatabaseConfig
	AWS           AWSConfig
	Observability ObservabilityConfig

	// Build Metadata (Injected via ldflags, not Env)
	Build BuildInfo
}

// AnalysisConfig holds the parameters of the agreement computation.
type AnalysisConfig struct {
	ResolutionM float64 `envconfig:"RESOLUTION_M" default:"30" validate:"gt=0"`
	// MMUPixels is the sieve threshold; zero derives it from MMUAreaHa.
	MMUPixels            int     `envconfig:"MMU_PIXELS" default:"0" validate:"gte=0"`
	MMUAreaHa            float64 `envconfig:"MMU_AREA_HA" default:"0.5" validate:"gt=0"`
	NeighborhoodRadius   int     `envconfig:"NEIGHBORHOOD_RADIUS" default:"1" validate:"gte=1"`
	ForestHeightMinM     float64 `envconfig:"FOREST_HEIGHT_MIN_M" default:"5" validate:"gte=0"`
	MinPolygonAreaHa     float64 `envconfig:"MIN_POLYGON_AREA_HA" default:"0.5" validate:"gt=0"`
	AgreementThreshold   int     `envconfig:"AGREEMENT_THRESHOLD" default:"6" validate:"gte=1"`
	ClusterJoinDistanceM float64 `envconfig:"CLUSTER_JOIN_DISTANCE_M" default:"10000" validate:"gt=0"`
	Resampling           string  `envconfig:"RESAMPLING_METHOD" default:"nearest" validate:"oneof=nearest bilinear"`
	MaxUnitPixels        int     `envconfig:"MAX_UNIT_PIXELS" default:"50000000" validate:"gte=0"`
	Concurrency          int     `envconfig:"WORKER_CONCURRENCY" default:"4" validate:"gte=1"`
}

// ResamplingMethod returns Resampling as a typed value.
func (c AnalysisConfig) ResamplingMethod() types.ResamplingMethod {
	return types.ResamplingMethod(c.Resampling)
}

// ExportConfig holds output partitioning and targets. Targets are checked
// when a run starts, since the CLI may supply them per run.
type ExportConfig struct {
	Mode        string `envconfig:"EXPORT_MODE" default:"cluster" validate:"oneof=cluster roi"`
	TileRows    int    `envconfig:"TILE_ROWS" default:"2" validate:"gte=1"`
	TileCols    int    `envconfig:"TILE_COLS" default:"2" validate:"gte=1"`
	Target      string `envconfig:"EXPORT_TARGET"`
	TableTarget string `envconfig:"TABLE_TARGET"`
	TableFormat string `envconfig:"TABLE_FORMAT" default:"csv" validate:"oneof=csv geojson kml kmz shp"`
	// AssetBucket receives rasters of catalog targets.
	AssetBucket string `envconfig:"ASSET_BUCKET"`
}

// ExportMode returns Mode as a typed value.
func (c ExportConfig) ExportMode() types.ExportMode {
	return types.ExportMode(c.Mode)
}

// Format returns TableFormat as a typed value.
func (c ExportConfig) Format() types.TableFormat {
	return types.TableFormat(c.TableFormat)
}

// SourceConfig locates the dataset archive.
type SourceConfig struct {
	// DatasetSource is s3://bucket/prefix or a local directory.
	DatasetSource      string        `envconfig:"DATASET_SOURCE"`
	ProviderMaxRetries int           `envconfig:"PROVIDER_MAX_RETRIES" default:"3" validate:"gte=0"`
	ProviderMinWait    time.Duration `envconfig:"PROVIDER_MIN_WAIT" default:"500ms"`
	ProviderMaxWait    time.Duration `envconfig:"PROVIDER_MAX_WAIT" default:"10s"`
}

// DatabaseConfig holds the catalog database connection. Only catalog
// targets need it.
type DatabaseConfig struct {
	URL SecretString `envconfig:"DATABASE_URL" validate:"omitempty,url"`

	// Tuning Parameters
	MaxConns        int           `envconfig:"DB_MAX_CONNS" default:"4"`
	MinConns        int           `envconfig:"DB_MIN_CONNS" default:"0"`
	MaxConnLifetime time.Duration `envconfig:"DB_MAX_CONN_LIFETIME" default:"30m"`
}

// AWSConfig holds AWS resource identifiers and regional configuration.
type AWSConfig struct {
	Region            string `envconfig:"AWS_REGION" default:"us-east-1"`
	RunEventsQueueURL string `envconfig:"RUN_EVENTS_QUEUE_URL" validate:"omitempty,url"`

	// LocalStack Support (Empty in Prod)
	EndpointURL string `envconfig:"AWS_ENDPOINT_URL"`
}

// ObservabilityConfig holds telemetry settings.
type ObservabilityConfig struct {
	MetricsEnabled  bool   `envconfig:"METRICS_ENABLED" default:"false"`
	MetricNamespace string `envconfig:"METRIC_NAMESPACE" default:"ForestAgree"`
}

// BuildInfo holds build-time metadata injected via ldflags.
// These values are NOT populated from environment variables.
type BuildInfo struct {
	Version   string
	Commit    string
	BuildTime string
}

// ConfigErrorType categorizes configuration loading failures to aid debugging.
type ConfigErrorType string

const (
	// ErrSSMResolution indicates a failure when fetching secrets from AWS SSM.
	ErrSSMResolution ConfigErrorType = "SSM_FAILURE"
	// ErrValidation indicates the configuration failed struct validation rules.
	ErrValidation ConfigErrorType = "VALIDATION_FAILED"
	// ErrParsing indicates a failure when parsing environment variable values
	// into their target types.
	ErrParsing ConfigErrorType = "PARSING_FAILED"
)
