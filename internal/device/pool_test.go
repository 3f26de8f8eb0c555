package device

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/require"
)

func getMetricValue(m prometheus.Metric) float64 {
	var metric dto.Metric
	_ = m.Write(&metric)
	if metric.Counter != nil {
		return *metric.Counter.Value
	}
	if metric.Gauge != nil {
		return *metric.Gauge.Value
	}
	return 0
}

func TestCPU_PoolMetrics(t *testing.T) {
	backend := NewCPUBackend()

	// Metrics are global, so we track deltas.
	startHits := getMetricValue(poolHits)
	startMisses := getMetricValue(poolMisses)

	t1 := backend.GetTensor(64, 64)
	require.Equal(t, 1.0, getMetricValue(poolMisses)+getMetricValue(poolHits)-startMisses-startHits)

	backend.PutTensor(t1)
	t2 := backend.GetTensor(8, 8)
	backend.PutTensor(t2)

	// sync.Pool may drop entries under GC pressure, so only the total is stable.
	total := getMetricValue(poolHits) - startHits + getMetricValue(poolMisses) - startMisses
	require.Equal(t, 2.0, total)
}
