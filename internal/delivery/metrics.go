package delivery

import (
	"context"
	"log/slog"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/cloudwatch"
	cwtypes "github.com/aws/aws-sdk-go-v2/service/cloudwatch/types"

	"kassenews/internal/types"
)

// MetricResult is the Result dimension of a delivery metric.
type MetricResult string

const (
	MetricSuccess     MetricResult = "success"
	MetricUnavailable MetricResult = "unavailable"
	MetricFailed      MetricResult = "failed"
)

// Metrics receives delivery and tick telemetry.
type Metrics interface {
	RecordDelivery(ctx context.Context, action Action, result MetricResult)
	RecordLatency(ctx context.Context, action Action, d time.Duration)
	RecordTick(ctx context.Context, d time.Duration, retried bool)
}

// CloudWatchClient abstracts the CloudWatch PutMetricData operation for testability.
type CloudWatchClient interface {
	PutMetricData(ctx context.Context, params *cloudwatch.PutMetricDataInput, optFns ...func(*cloudwatch.Options)) (*cloudwatch.PutMetricDataOutput, error)
}

var _ Metrics = (*CloudWatchMetrics)(nil)

// CloudWatchMetrics emits metrics to AWS CloudWatch:
//   - DeliveryAttempt: Dims {Action, Result}
//   - DeliveryLatency: Dims {Action}, milliseconds
//   - TickDuration: no dims, milliseconds
//   - TickRetry: no dims, count of ticks postponed because data was changing
//
// Failures to publish are logged and otherwise ignored.
type CloudWatchMetrics struct {
	client    CloudWatchClient
	namespace string
	logger    *slog.Logger
}

// NewCloudWatchMetrics creates a CloudWatchMetrics. An empty namespace
// defaults to types.MetricNamespace.
func NewCloudWatchMetrics(client CloudWatchClient, namespace string, logger *slog.Logger) *CloudWatchMetrics {
	if namespace == "" {
		namespace = types.MetricNamespace
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &CloudWatchMetrics{client: client, namespace: namespace, logger: logger}
}

func (m *CloudWatchMetrics) RecordDelivery(ctx context.Context, action Action, result MetricResult) {
	m.put(ctx, cwtypes.MetricDatum{
		MetricName: aws.String(types.MetricDeliveryAttempt),
		Value:      aws.Float64(1),
		Unit:       cwtypes.StandardUnitCount,
		Dimensions: []cwtypes.Dimension{
			{Name: aws.String(types.DimAction), Value: aws.String(string(action))},
			{Name: aws.String(types.DimResult), Value: aws.String(string(result))},
		},
	})
}

func (m *CloudWatchMetrics) RecordLatency(ctx context.Context, action Action, d time.Duration) {
	m.put(ctx, cwtypes.MetricDatum{
		MetricName: aws.String(types.MetricDeliveryLatency),
		Value:      aws.Float64(float64(d.Milliseconds())),
		Unit:       cwtypes.StandardUnitMilliseconds,
		Dimensions: []cwtypes.Dimension{
			{Name: aws.String(types.DimAction), Value: aws.String(string(action))},
		},
	})
}

func (m *CloudWatchMetrics) RecordTick(ctx context.Context, d time.Duration, retried bool) {
	if retried {
		m.put(ctx, cwtypes.MetricDatum{
			MetricName: aws.String(types.MetricTickRetry),
			Value:      aws.Float64(1),
			Unit:       cwtypes.StandardUnitCount,
		})
		return
	}
	m.put(ctx, cwtypes.MetricDatum{
		MetricName: aws.String(types.MetricTickDuration),
		Value:      aws.Float64(float64(d.Milliseconds())),
		Unit:       cwtypes.StandardUnitMilliseconds,
	})
}

func (m *CloudWatchMetrics) put(ctx context.Context, datum cwtypes.MetricDatum) {
	input := &cloudwatch.PutMetricDataInput{
		Namespace:  aws.String(m.namespace),
		MetricData: []cwtypes.MetricDatum{datum},
	}
	if _, err := m.client.PutMetricData(ctx, input); err != nil {
		m.logger.WarnContext(ctx, "failed to publish metric",
			"metric", aws.ToString(datum.MetricName),
			"error", err,
		)
	}
}

// NoopMetrics discards everything.
type NoopMetrics struct{}

func (NoopMetrics) RecordDelivery(context.Context, Action, MetricResult)  {}
func (NoopMetrics) RecordLatency(context.Context, Action, time.Duration) {}
func (NoopMetrics) RecordTick(context.Context, time.Duration, bool)      {}
