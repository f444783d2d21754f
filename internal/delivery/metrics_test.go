package delivery

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/cloudwatch"
	cwtypes "github.com/aws/aws-sdk-go-v2/service/cloudwatch/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"kassenews/internal/types"
)

// mockCloudWatchClient records PutMetricData calls for verification.
type mockCloudWatchClient struct {
	calls     []*cloudwatch.PutMetricDataInput
	returnErr error
}

func (m *mockCloudWatchClient) PutMetricData(_ context.Context, params *cloudwatch.PutMetricDataInput, _ ...func(*cloudwatch.Options)) (*cloudwatch.PutMetricDataOutput, error) {
	m.calls = append(m.calls, params)
	if m.returnErr != nil {
		return nil, m.returnErr
	}
	return &cloudwatch.PutMetricDataOutput{}, nil
}

func dimensions(d cwtypes.MetricDatum) map[string]string {
	out := make(map[string]string, len(d.Dimensions))
	for _, dim := range d.Dimensions {
		out[aws.ToString(dim.Name)] = aws.ToString(dim.Value)
	}
	return out
}

func TestCloudWatchMetrics_RecordDelivery(t *testing.T) {
	cw := &mockCloudWatchClient{}
	m := NewCloudWatchMetrics(cw, "", discard())

	m.RecordDelivery(context.Background(), ActionComment, MetricUnavailable)

	require.Len(t, cw.calls, 1)
	assert.Equal(t, types.MetricNamespace, aws.ToString(cw.calls[0].Namespace))
	datum := cw.calls[0].MetricData[0]
	assert.Equal(t, types.MetricDeliveryAttempt, aws.ToString(datum.MetricName))
	assert.Equal(t, 1.0, aws.ToFloat64(datum.Value))
	assert.Equal(t, cwtypes.StandardUnitCount, datum.Unit)
	assert.Equal(t, map[string]string{types.DimAction: "comment", types.DimResult: "unavailable"}, dimensions(datum))
}

func TestCloudWatchMetrics_RecordLatency(t *testing.T) {
	cw := &mockCloudWatchClient{}
	m := NewCloudWatchMetrics(cw, "Test", discard())

	m.RecordLatency(context.Background(), ActionNewPost, 1500*time.Millisecond)

	require.Len(t, cw.calls, 1)
	assert.Equal(t, "Test", aws.ToString(cw.calls[0].Namespace))
	datum := cw.calls[0].MetricData[0]
	assert.Equal(t, types.MetricDeliveryLatency, aws.ToString(datum.MetricName))
	assert.Equal(t, 1500.0, aws.ToFloat64(datum.Value))
	assert.Equal(t, cwtypes.StandardUnitMilliseconds, datum.Unit)
}

func TestCloudWatchMetrics_RecordTick(t *testing.T) {
	cw := &mockCloudWatchClient{}
	m := NewCloudWatchMetrics(cw, "", discard())

	m.RecordTick(context.Background(), 250*time.Millisecond, false)
	m.RecordTick(context.Background(), 0, true)

	require.Len(t, cw.calls, 2)
	assert.Equal(t, types.MetricTickDuration, aws.ToString(cw.calls[0].MetricData[0].MetricName))
	assert.Equal(t, 250.0, aws.ToFloat64(cw.calls[0].MetricData[0].Value))
	assert.Equal(t, types.MetricTickRetry, aws.ToString(cw.calls[1].MetricData[0].MetricName))
}

func TestCloudWatchMetrics_PublishErrorIsSwallowed(t *testing.T) {
	cw := &mockCloudWatchClient{returnErr: errors.New("throttled")}
	m := NewCloudWatchMetrics(cw, "", discard())

	assert.NotPanics(t, func() {
		m.RecordDelivery(context.Background(), ActionNewPost, MetricSuccess)
	})
	assert.Len(t, cw.calls, 1)
}
