package device

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	poolHits = promauto.NewCounter(prometheus.CounterOpts{
		Name: "bert_tensor_pool_hits_total",
		Help: "Total number of scratch tensors served from the backend pool",
	})

	poolMisses = promauto.NewCounter(prometheus.CounterOpts{
		Name: "bert_tensor_pool_misses_total",
		Help: "Total number of scratch tensor pool misses (allocations)",
	})
)
