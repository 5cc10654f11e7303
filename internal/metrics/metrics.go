// Package metrics registers the Prometheus instruments exported on /metrics.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Decisions counts Validate outcomes. The outcome label is "allow" or
	// a block reason code.
	Decisions = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "warden",
		Name:      "validate_decisions_total",
		Help:      "Tool-call validation decisions by outcome.",
	}, []string{"outcome"})

	// ValidateLatency tracks the in-process decision latency. Validation
	// latency adds to every tool call's round-trip, so it must stay low.
	ValidateLatency = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: "warden",
		Name:      "validate_latency_seconds",
		Help:      "Latency of guard validation decisions.",
		Buckets:   []float64{.00001, .00005, .0001, .0005, .001, .005, .01},
	})

	// SessionsStarted counts StartSession calls by agent type.
	SessionsStarted = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "warden",
		Name:      "sessions_started_total",
		Help:      "Sessions opened, by agent type.",
	}, []string{"agent_type"})

	// SessionsEnded counts session terminations by agent type and initiator.
	SessionsEnded = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "warden",
		Name:      "sessions_ended_total",
		Help:      "Sessions ended, by agent type and initiator.",
	}, []string{"agent_type", "ended_by"})

	// WebhooksReceived counts CMS change events by collection and disposition.
	WebhooksReceived = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "warden",
		Name:      "webhooks_received_total",
		Help:      "CMS webhooks received, by collection and disposition.",
	}, []string{"collection", "disposition"})

	// AgentRuns counts agent runner completions by agent type and result.
	AgentRuns = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "warden",
		Name:      "agent_runs_total",
		Help:      "Agent runner invocations, by agent type and result.",
	}, []string{"agent_type", "result"})
)
