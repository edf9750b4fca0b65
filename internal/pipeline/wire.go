package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/cloudwatch"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/jackc/pgx/v5/pgxpool"

	"forestagree/internal/catalog"
	"forestagree/internal/config"
	"forestagree/internal/db"
	"forestagree/internal/provider"
	"forestagree/internal/queue"
	"forestagree/internal/storage"
	"forestagree/internal/telemetry"
	"forestagree/internal/types"
)

// breakerName identifies the dataset provider circuit breaker in logs.
const breakerName = "dataset-provider"

// FromConfig wires a Pipeline for the process configuration: AWS clients,
// the dataset provider, storage, the catalog database when a catalog
// target is configured, notifications and metrics. The returned cleanup
// releases the database pool.
func FromConfig(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Pipeline, func(), error) {
	if logger == nil {
		logger = slog.Default()
	}
	cleanup := func() {}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(cfg.AWS.Region))
	if err != nil {
		return nil, cleanup, fmt.Errorf("failed to load AWS SDK config: %w", err)
	}
	endpoint := cfg.AWS.EndpointURL

	s3Client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if endpoint != "" {
			o.BaseEndpoint = aws.String(endpoint)
			o.UsePathStyle = true
		}
	})

	var metrics telemetry.Metrics = telemetry.NoopMetrics{}
	if cfg.Observability.MetricsEnabled {
		cw := cloudwatch.NewFromConfig(awsCfg, func(o *cloudwatch.Options) {
			if endpoint != "" {
				o.BaseEndpoint = aws.String(endpoint)
			}
		})
		metrics = telemetry.NewCloudWatchMetrics(cw, cfg.Observability.MetricNamespace, logger)
	}

	var notifier queue.Notifier = queue.NoopNotifier{}
	if cfg.AWS.RunEventsQueueURL != "" {
		sqsClient := sqs.NewFromConfig(awsCfg, func(o *sqs.Options) {
			if endpoint != "" {
				o.BaseEndpoint = aws.String(endpoint)
			}
		})
		notifier = queue.NewSQSNotifier(sqsClient, cfg.AWS.RunEventsQueueURL, logger)
	}

	source, err := provider.NewSource(cfg.Source.DatasetSource, s3Client)
	if err != nil {
		return nil, cleanup, err
	}
	prov := NewProvider(source, cfg.Source, metrics, logger)

	writerOpts := storage.Options{
		S3:          s3Client,
		AssetBucket: cfg.Export.AssetBucket,
		Logger:      logger,
	}
	if usesCatalog(cfg.Export) {
		pool, err := OpenCatalog(ctx, cfg.Database)
		if err != nil {
			return nil, cleanup, err
		}
		cleanup = pool.Close
		writerOpts.Tables = db.NewCatalogTableRepository(pool)
		writerOpts.Assets = db.NewRasterAssetRepository(pool)
	}

	p := New(Config{Analysis: cfg.Analysis, Export: cfg.Export}, Deps{
		Catalog:  catalog.New(cfg.Analysis.ForestHeightMinM),
		Provider: prov,
		Writer:   storage.NewWriter(writerOpts),
		Notifier: notifier,
		Metrics:  metrics,
		Logger:   logger,
	})

	logger.InfoContext(ctx, "pipeline initialized",
		"dataset_source", cfg.Source.DatasetSource,
		"export_mode", cfg.Export.Mode,
		"table_format", cfg.Export.TableFormat,
		"metrics_enabled", cfg.Observability.MetricsEnabled,
		"notifications_enabled", cfg.AWS.RunEventsQueueURL != "",
	)
	return p, cleanup, nil
}

// NewProvider builds the dataset provider over source: the chunked array
// reader wrapped with retries and a circuit breaker. Every retry is counted.
func NewProvider(source provider.ObjectSource, cfg config.SourceConfig, metrics telemetry.Metrics, logger *slog.Logger) provider.Provider {
	policy := provider.RetryPolicy{
		MaxRetries: cfg.ProviderMaxRetries,
		MinWait:    cfg.ProviderMinWait,
		MaxWait:    cfg.ProviderMaxWait,
	}
	return provider.NewResilient(
		provider.NewZarrProvider(source, provider.Options{Logger: logger}),
		breakerName,
		policy,
		provider.WithLogger(logger),
		provider.WithRetryHook(func(ctx context.Context, datasetID string, _ int, _ error) {
			metrics.RecordProviderRetry(ctx, datasetID)
		}),
	)
}

func usesCatalog(cfg config.ExportConfig) bool {
	return strings.HasPrefix(cfg.Target, "catalog:") || strings.HasPrefix(cfg.TableTarget, "catalog:")
}

// OpenCatalog connects to the catalog database and creates its tables.
func OpenCatalog(ctx context.Context, cfg config.DatabaseConfig) (*pgxpool.Pool, error) {
	poolCfg, err := pgxpool.ParseConfig(cfg.URL.Unmask())
	if err != nil {
		return nil, types.NewAppError(types.ErrCodeConfigInvalidParameter, "invalid DATABASE_URL", err)
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = int32(cfg.MaxConns)
	}
	poolCfg.MinConns = int32(cfg.MinConns)
	if cfg.MaxConnLifetime > 0 {
		poolCfg.MaxConnLifetime = cfg.MaxConnLifetime
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to create database pool", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to ping database", err)
	}
	if err := db.EnsureSchema(ctx, pool); err != nil {
		pool.Close()
		return nil, err
	}
	return pool, nil
}
