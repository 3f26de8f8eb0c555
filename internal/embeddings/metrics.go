package embeddings

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Tokenization metrics
	tokenizationDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "bert_tokenization_duration_seconds",
		Help:    "Time spent in tokenization",
		Buckets: prometheus.DefBuckets,
	})

	tokensPerSecond = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "bert_tokenization_throughput",
		Help: "Tokenization throughput in tokens/second",
	})

	// Inference metrics
	batchDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "bert_batch_duration_seconds",
		Help:    "Time spent running one padded batch through the encoder",
		Buckets: prometheus.DefBuckets,
	}, []string{"task"})

	sequencesProcessed = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "bert_sequences_total",
		Help: "Total number of sequences processed",
	}, []string{"task"})
)
