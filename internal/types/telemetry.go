package types

// Telemetry metric names for CloudWatch.
// All components MUST use these constants.
const (
	// Metric Names
	MetricDeliveryAttempt = "DeliveryAttempt"
	MetricDeliveryLatency = "DeliveryLatency"
	MetricTickDuration    = "TickDuration"
	MetricTickRetry       = "TickRetry"

	// Dimension Keys
	DimAction = "Action"
	DimResult = "Result"

	// Metric Namespace
	MetricNamespace = "KasseNews"
)
