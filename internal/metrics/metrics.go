// Package metrics exposes Prometheus counters for the generation pipeline.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// TurnsTotal counts user turns accepted by the orchestrator.
	TurnsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "chat_turns_total",
		Help: "User turns accepted by the generation orchestrator.",
	})

	// GenerationTotal counts per-character generation outcomes.
	GenerationTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "chat_generation_total",
		Help: "Character generation calls by outcome.",
	}, []string{"outcome"})

	// StreamChunksTotal counts streamed text chunks applied to messages.
	StreamChunksTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "chat_stream_chunks_total",
		Help: "Streamed response chunks received.",
	})

	// GenerationSeconds observes wall time of generation calls.
	GenerationSeconds = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "chat_generation_seconds",
		Help:    "Latency of external generation calls.",
		Buckets: prometheus.DefBuckets,
	})
)
