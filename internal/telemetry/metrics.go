// Package telemetry publishes run and unit metrics to CloudWatch.
package telemetry

import (
	"context"
	"log/slog"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/cloudwatch"
	cwtypes "github.com/aws/aws-sdk-go-v2/service/cloudwatch/types"

	"forestagree/internal/types"
)

// Metrics records run telemetry. Implementations never fail the caller.
type Metrics interface {
	RecordUnit(ctx context.Context, u types.UnitResult)
	RecordRunDuration(ctx context.Context, mode types.ExportMode, d time.Duration)
	RecordRunFailure(ctx context.Context, code types.ErrorCode)
	RecordProviderRetry(ctx context.Context, datasetID string)
	RecordAgreementPixels(ctx context.Context, pixels int)
}

// CloudWatchClient abstracts the CloudWatch PutMetricData operation for testability.
type CloudWatchClient interface {
	PutMetricData(ctx context.Context, params *cloudwatch.PutMetricDataInput, optFns ...func(*cloudwatch.Options)) (*cloudwatch.PutMetricDataOutput, error)
}

var _ Metrics = (*CloudWatchMetrics)(nil)

// CloudWatchMetrics emits to one namespace, ForestAgree unless configured.
//
// Metrics emitted:
//   - UnitOutcome: Dims {UnitKind, Status} on every finished unit
//   - RunDuration: Dims {Mode} once per successful run
//   - RunFailure: Dims {Status} (the error code) once per failed run
//   - ProviderRetry: Dims {Dataset} on every retried fetch
//   - AgreementPixels: no dims, pixels at or above the agreement threshold
type CloudWatchMetrics struct {
	client    CloudWatchClient
	namespace string
	logger    *slog.Logger
}

// NewCloudWatchMetrics creates a CloudWatchMetrics. An empty namespace
// selects types.MetricNamespace.
func NewCloudWatchMetrics(client CloudWatchClient, namespace string, logger *slog.Logger) *CloudWatchMetrics {
	if logger == nil {
		logger = slog.Default()
	}
	if namespace == "" {
		namespace = types.MetricNamespace
	}
	return &CloudWatchMetrics{
		client:    client,
		namespace: namespace,
		logger:    logger,
	}
}

// RecordUnit emits a UnitOutcome count.
func (m *CloudWatchMetrics) RecordUnit(ctx context.Context, u types.UnitResult) {
	m.put(ctx, cwtypes.MetricDatum{
		MetricName: aws.String(types.MetricUnitOutcome),
		Value:      aws.Float64(1),
		Unit:       cwtypes.StandardUnitCount,
		Dimensions: []cwtypes.Dimension{
			dim(types.DimUnitKind, string(u.Kind)),
			dim(types.DimStatus, string(u.Status)),
		},
	}, "unit_id", u.ID)
}

// RecordRunDuration emits the wall time of a run in milliseconds.
func (m *CloudWatchMetrics) RecordRunDuration(ctx context.Context, mode types.ExportMode, d time.Duration) {
	m.put(ctx, cwtypes.MetricDatum{
		MetricName: aws.String(types.MetricRunDuration),
		Value:      aws.Float64(float64(d.Milliseconds())),
		Unit:       cwtypes.StandardUnitMilliseconds,
		Dimensions: []cwtypes.Dimension{dim(types.DimMode, string(mode))},
	}, "duration_ms", d.Milliseconds())
}

// RecordRunFailure emits a RunFailure count tagged with the error code.
func (m *CloudWatchMetrics) RecordRunFailure(ctx context.Context, code types.ErrorCode) {
	m.put(ctx, cwtypes.MetricDatum{
		MetricName: aws.String(types.MetricRunFailure),
		Value:      aws.Float64(1),
		Unit:       cwtypes.StandardUnitCount,
		Dimensions: []cwtypes.Dimension{dim(types.DimStatus, string(code))},
	}, "code", code)
}

// RecordProviderRetry emits a ProviderRetry count.
func (m *CloudWatchMetrics) RecordProviderRetry(ctx context.Context, datasetID string) {
	m.put(ctx, cwtypes.MetricDatum{
		MetricName: aws.String(types.MetricProviderRetry),
		Value:      aws.Float64(1),
		Unit:       cwtypes.StandardUnitCount,
		Dimensions: []cwtypes.Dimension{dim(types.DimDataset, datasetID)},
	}, "dataset", datasetID)
}

// RecordAgreementPixels emits the number of agreeing pixels of a run.
func (m *CloudWatchMetrics) RecordAgreementPixels(ctx context.Context, pixels int) {
	m.put(ctx, cwtypes.MetricDatum{
		MetricName: aws.String(types.MetricAgreementPixels),
		Value:      aws.Float64(float64(pixels)),
		Unit:       cwtypes.StandardUnitCount,
	}, "pixels", pixels)
}

func (m *CloudWatchMetrics) put(ctx context.Context, datum cwtypes.MetricDatum, attrs ...any) {
	input := &cloudwatch.PutMetricDataInput{
		Namespace:  aws.String(m.namespace),
		MetricData: []cwtypes.MetricDatum{datum},
	}
	if _, err := m.client.PutMetricData(ctx, input); err != nil {
		m.logger.ErrorContext(ctx, "failed to record metric",
			append([]any{"metric", aws.ToString(datum.MetricName), "error", err.Error()}, attrs...)...)
	}
}

func dim(name, value string) cwtypes.Dimension {
	return cwtypes.Dimension{Name: aws.String(name), Value: aws.String(value)}
}

// NoopMetrics discards everything. Used when metrics are disabled.
type NoopMetrics struct{}

var _ Metrics = NoopMetrics{}

func (NoopMetrics) RecordUnit(context.Context, types.UnitResult) {}
func (NoopMetrics) RecordRunDuration(context.Context, types.ExportMode, time.Duration) {}
func (NoopMetrics) RecordRunFailure(context.Context, types.ErrorCode) {}
func (NoopMetrics) RecordProviderRetry(context.Context, string) {}
func (NoopMetrics) RecordAgreementPixels(context.Context, int) {}
