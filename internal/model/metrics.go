package model

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// LayerDuration tracks time spent in specific model layers
	LayerDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "bert_layer_duration_seconds",
		Help:    "Time spent in specific model layers",
		Buckets: []float64{0.0001, 0.00025, 0.0005, 0.001, 0.0025, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 1},
	}, []string{"layer_type", "backend"})

	// ForwardTotal counts completed forward passes per model head.
	ForwardTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "bert_forward_total",
		Help: "Total number of forward passes",
	}, []string{"head"})

	// ForwardErrors counts forward passes rejected or aborted per model head.
	ForwardErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "bert_forward_errors_total",
		Help: "Total number of failed forward passes",
	}, []string{"head"})

	// TokensProcessed counts tokens embedded, padding included.
	TokensProcessed = promauto.NewCounter(prometheus.CounterOpts{
		Name: "bert_tokens_processed_total",
		Help: "Total number of tokens run through the encoder",
	})
)
