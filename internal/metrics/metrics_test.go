package metrics

import (
	"testing"

	dto "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/require"
)

func TestRecordFrame_IncrementsCounter(t *testing.T) {
	RecordFrame("ping", "inbound")
	RecordFrame("ping", "inbound")

	m := &dto.Metric{}
	counter, err := FramesTotal.GetMetricWithLabelValues("ping", "inbound")
	require.NoError(t, err)
	require.NoError(t, counter.Write(m))
	require.GreaterOrEqual(t, m.GetCounter().GetValue(), float64(2))
}

func TestRecordRegisterAttempt_SuccessAndFailureLabels(t *testing.T) {
	RecordRegisterAttempt("proof", true)
	RecordRegisterAttempt("proof", false)

	okMetric := &dto.Metric{}
	okCounter, err := RegisterAttemptsTotal.GetMetricWithLabelValues("proof", "ok")
	require.NoError(t, err)
	require.NoError(t, okCounter.Write(okMetric))
	require.GreaterOrEqual(t, okMetric.GetCounter().GetValue(), float64(1))

	failMetric := &dto.Metric{}
	failCounter, err := RegisterAttemptsTotal.GetMetricWithLabelValues("proof", "failure")
	require.NoError(t, err)
	require.NoError(t, failCounter.Write(failMetric))
	require.GreaterOrEqual(t, failMetric.GetCounter().GetValue(), float64(1))
}
