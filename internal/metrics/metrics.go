package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// CommandsTotal counts processed commands by kind and terminal outcome.
	CommandsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "agent_commands_total",
		Help: "Commands processed by kind and outcome.",
	}, []string{"kind", "outcome"})

	// BuildsTotal counts build pipeline runs by outcome.
	BuildsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "agent_builds_total",
		Help: "Image builds by outcome.",
	}, []string{"outcome"})

	// BuildDuration observes wall-clock build pipeline duration.
	BuildDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "agent_build_duration_seconds",
		Help:    "Build pipeline duration in seconds.",
		Buckets: prometheus.ExponentialBuckets(5, 2, 8),
	})

	// InflightCommands tracks the live-set size.
	InflightCommands = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "agent_inflight_commands",
		Help: "Commands currently executing.",
	})
)
