// Package metrics exposes Prometheus instrumentation for the assessment
// engine.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	SessionsStarted = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "masterypath",
		Subsystem: "assessment",
		Name:      "sessions_started_total",
		Help:      "Adaptive sessions started.",
	})

	SessionsEnded = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "masterypath",
		Subsystem: "assessment",
		Name:      "sessions_ended_total",
		Help:      "Adaptive sessions ended, by end status.",
	}, []string{"status"})

	QuestionsServed = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "masterypath",
		Subsystem: "assessment",
		Name:      "questions_served_total",
		Help:      "Questions served to sessions, by source.",
	}, []string{"source"})

	GenerationFailures = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "masterypath",
		Subsystem: "assessment",
		Name:      "generation_failures_total",
		Help:      "On-demand question generation attempts that exhausted retries.",
	})

	QuestionsFlagged = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "masterypath",
		Subsystem: "assessment",
		Name:      "questions_flagged_total",
		Help:      "Questions flagged for review on low discrimination.",
	})

	MasteryVerified = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "masterypath",
		Subsystem: "assessment",
		Name:      "mastery_verified_total",
		Help:      "Objective mastery verifications persisted.",
	})

	EstimateIterations = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: "masterypath",
		Subsystem: "assessment",
		Name:      "estimate_iterations",
		Help:      "Newton-Raphson iterations per ability estimate.",
		Buckets:   prometheus.LinearBuckets(1, 1, 10),
	})

	SessionLength = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: "masterypath",
		Subsystem: "assessment",
		Name:      "session_questions_asked",
		Help:      "Questions asked per completed session.",
		Buckets:   prometheus.LinearBuckets(1, 2, 10),
	})
)
