package types

// Telemetry metric names for CloudWatch.
// All components MUST use these constants.
const (
	// Metric Names
	MetricUnitOutcome     = "UnitOutcome"
	MetricRunDuration     = "RunDuration"
	MetricRunFailure      = "RunFailure"
	MetricProviderRetry   = "ProviderRetry"
	MetricAgreementPixels = "AgreementPixels"

	// Dimension Keys
	DimUnitKind = "UnitKind"
	DimStatus   = "Status"
	DimDataset  = "Dataset"
	DimMode     = "Mode"

	// Metric Namespace
	MetricNamespace = "ForestAgree"
)
