// Package metrics registers the prometheus collectors for council
// activity. Collectors are package-level and registered on the default
// registry, so /metrics served by promhttp.Handler exposes them.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "council"

// Outcome labels.
const (
	OutcomeOK          = "ok"
	OutcomePlaceholder = "placeholder"
	OutcomeCanceled    = "canceled"
	OutcomeError       = "error"
)

var (
	agentCalls = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "agent",
		Name:      "calls_total",
		Help:      "Persona responder calls by persona, mode and outcome",
	}, []string{"persona", "mode", "outcome"})

	agentDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Subsystem: "agent",
		Name:      "call_duration_seconds",
		Help:      "Backend streaming duration per persona call",
		Buckets:   prometheus.ExponentialBuckets(0.25, 2, 8), // 250ms to 32s
	}, []string{"persona", "mode"})

	verdicts = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "coordinator",
		Name:      "verdicts_total",
		Help:      "Coordinator verdicts by mode and result",
	}, []string{"mode", "result"})

	droppedInstructions = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "coordinator",
		Name:      "dropped_instructions_total",
		Help:      "Debate instructions discarded as invalid",
	})

	debateRounds = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "debate",
		Name:      "rounds_total",
		Help:      "Debate exchanges started",
	})

	debateTransitions = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "debate",
		Name:      "transitions_total",
		Help:      "Debate pauses, conclusions and forced ends",
	}, []string{"kind"})

	allianceCandidates = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "alliance",
		Name:      "candidates_total",
		Help:      "Alliance trigger candidates by detector",
	}, []string{"trigger"})

	allianceGates = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "alliance",
		Name:      "gate_results_total",
		Help:      "Alliance gate decisions by stage and result",
	}, []string{"stage", "result"})

	allianceDeliveries = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "alliance",
		Name:      "deliveries_total",
		Help:      "Alliance messages delivered",
	})

	privateMessages = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "private",
		Name:      "messages_total",
		Help:      "Private channel messages by persona and origin",
	}, []string{"persona", "origin"})

	activeSessions = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "active_sessions",
		Help:      "Sessions currently held by the server",
	})
)

// AgentCall records one persona call.
func AgentCall(persona, mode, outcome string, streamed time.Duration) {
	agentCalls.WithLabelValues(persona, mode, outcome).Inc()
	if outcome != OutcomeCanceled {
		agentDuration.WithLabelValues(persona, mode).Observe(streamed.Seconds())
	}
}

// Verdict records a coordinator verdict. result is "disagreement",
// "agreement", "pause" or "failed".
func Verdict(mode, result string) {
	verdicts.WithLabelValues(mode, result).Inc()
}

// DroppedInstructions adds n discarded instructions.
func DroppedInstructions(n int) {
	if n > 0 {
		droppedInstructions.Add(float64(n))
	}
}

// DebateRound records one started exchange.
func DebateRound() {
	debateRounds.Inc()
}

// DebateTransition records a pause ("paused"), natural end ("concluded")
// or forced end ("ended").
func DebateTransition(kind string) {
	debateTransitions.WithLabelValues(kind).Inc()
}

// AllianceCandidate records a candidate produced by a detector.
func AllianceCandidate(trigger string) {
	allianceCandidates.WithLabelValues(trigger).Inc()
}

// AllianceGate records a gate decision. stage is "schedule" or "fire".
func AllianceGate(stage, result string) {
	allianceGates.WithLabelValues(stage, result).Inc()
}

// AllianceDelivered records a delivered alliance message.
func AllianceDelivered() {
	allianceDeliveries.Inc()
}

// PrivateMessage records a private channel message. origin is "user",
// "reply", "proactive" or "alliance".
func PrivateMessage(persona, origin string) {
	privateMessages.WithLabelValues(persona, origin).Inc()
}

// SessionOpened increments the active session gauge.
func SessionOpened() { activeSessions.Inc() }

// SessionClosed decrements the active session gauge.
func SessionClosed() { activeSessions.Dec() }
