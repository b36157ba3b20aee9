// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package observability provides Prometheus metrics for the MathMentor
// pipeline.
//
// # Description
//
// Metrics include:
//   - Pipeline run counters (by intent and outcome) and stage latencies
//   - Verification outcomes
//   - Web search provider results and knowledge store query results
//   - Clarification and guardrail events
//
// # Integration
//
// Metrics are exposed via the /metrics endpoint. Components record through
// Default(), which is nil until InitMetrics is called. Every Record method
// is a no-op on a nil receiver, so packages can be used and tested without
// a registry.
//
// # Thread Safety
//
// All metric operations are thread-safe via Prometheus's internal locking.
package observability

import (
	"sync/atomic"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// =============================================================================
// Metric Definitions
// =============================================================================

// Namespace for all metrics
const metricsNamespace = "aleutian"

// Subsystem for pipeline metrics
const pipelineSubsystem = "mathmentor"

// Outcome labels for pipeline runs.
const (
	OutcomeAnswered      = "answered"
	OutcomeClarification = "clarification"
	OutcomeRateLimited   = "rate_limited"
	OutcomePolicy        = "policy_violation"
	OutcomeError         = "error"
)

// PipelineMetrics holds all Prometheus metrics for the chat pipeline.
//
// # Fields
//
//   - PipelineRunsTotal: Runs by intent and outcome
//   - StageDurationSeconds: Latency of each pipeline stage
//   - VerificationsTotal: Verification results (pass, fail)
//   - ProviderResultsTotal: Web provider calls by provider and status
//   - KnowledgeQueriesTotal: Knowledge store queries by status
//   - ClarificationsTotal: Clarification requests and confirmations
//   - GuardrailBlocksTotal: Guardrail rejections by direction
type PipelineMetrics struct {
	// PipelineRunsTotal counts pipeline runs.
	// Labels: intent (solve, search, general, none), outcome
	PipelineRunsTotal *prometheus.CounterVec

	// StageDurationSeconds measures stage latency.
	// Labels: stage (parse, route, retrieve, solve, verify, explain, general)
	StageDurationSeconds *prometheus.HistogramVec

	// VerificationsTotal counts verifier results.
	// Labels: result (pass, fail)
	VerificationsTotal *prometheus.CounterVec

	// ProviderResultsTotal counts web search provider calls.
	// Labels: provider, status (ok, empty, error, skipped)
	ProviderResultsTotal *prometheus.CounterVec

	// KnowledgeQueriesTotal counts knowledge store queries.
	// Labels: status (hit, miss, error, field_retry)
	KnowledgeQueriesTotal *prometheus.CounterVec

	// ClarificationsTotal counts clarification events.
	// Labels: event (requested, confirmed, expired)
	ClarificationsTotal *prometheus.CounterVec

	// GuardrailBlocksTotal counts guardrail rejections.
	// Labels: direction (input, output)
	GuardrailBlocksTotal *prometheus.CounterVec
}

var defaultMetrics atomic.Pointer[PipelineMetrics]

// Default returns the metrics registered by InitMetrics, or nil.
func Default() *PipelineMetrics {
	return defaultMetrics.Load()
}

// InitMetrics registers the metrics on the Prometheus default registry and
// makes them the Default.
//
// # Examples
//
//	func main() {
//	    observability.InitMetrics()
//	    // ... start server ...
//	}
//
// # Limitations
//
//   - Panics if called twice (duplicate registration).
func InitMetrics() *PipelineMetrics {
	m := NewPipelineMetrics(prometheus.DefaultRegisterer)
	defaultMetrics.Store(m)
	return m
}

// NewPipelineMetrics creates the metrics on reg. Tests pass an isolated
// prometheus.NewRegistry().
func NewPipelineMetrics(reg prometheus.Registerer) *PipelineMetrics {
	factory := promauto.With(reg)
	return &PipelineMetrics{
		PipelineRunsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: pipelineSubsystem,
				Name:      "pipeline_runs_total",
				Help:      "Total pipeline runs by intent and outcome",
			},
			[]string{"intent", "outcome"},
		),

		StageDurationSeconds: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: metricsNamespace,
				Subsystem: pipelineSubsystem,
				Name:      "stage_duration_seconds",
				Help:      "Pipeline stage duration in seconds",
				Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60},
			},
			[]string{"stage"},
		),

		VerificationsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: pipelineSubsystem,
				Name:      "verification_retries_total",
				Help:      "Verification results, one per verify call",
			},
			[]string{"result"},
		),

		ProviderResultsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: pipelineSubsystem,
				Name:      "websearch_provider_results_total",
				Help:      "Web search provider calls by provider and status",
			},
			[]string{"provider", "status"},
		),

		KnowledgeQueriesTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: pipelineSubsystem,
				Name:      "knowledge_queries_total",
				Help:      "Knowledge store queries by status",
			},
			[]string{"status"},
		),

		ClarificationsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: pipelineSubsystem,
				Name:      "clarifications_total",
				Help:      "Clarification events",
			},
			[]string{"event"},
		),

		GuardrailBlocksTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: pipelineSubsystem,
				Name:      "guardrail_blocks_total",
				Help:      "Guardrail rejections by direction",
			},
			[]string{"direction"},
		),
	}
}

// =============================================================================
// Helper Methods
// =============================================================================

// RecordRun records a finished pipeline run. An empty intent is recorded
// as "none".
func (m *PipelineMetrics) RecordRun(intent, outcome string) {
	if m == nil {
		return
	}
	if intent == "" {
		intent = "none"
	}
	m.PipelineRunsTotal.WithLabelValues(intent, outcome).Inc()
}

// ObserveStage records the duration of one stage.
func (m *PipelineMetrics) ObserveStage(stage string, seconds float64) {
	if m == nil {
		return
	}
	m.StageDurationSeconds.WithLabelValues(stage).Observe(seconds)
}

// RecordVerification records one verifier result.
func (m *PipelineMetrics) RecordVerification(passed bool) {
	if m == nil {
		return
	}
	result := "pass"
	if !passed {
		result = "fail"
	}
	m.VerificationsTotal.WithLabelValues(result).Inc()
}

// RecordProvider records one web search provider call.
func (m *PipelineMetrics) RecordProvider(provider, status string) {
	if m == nil {
		return
	}
	m.ProviderResultsTotal.WithLabelValues(provider, status).Inc()
}

// RecordKnowledgeQuery records one knowledge store query.
func (m *PipelineMetrics) RecordKnowledgeQuery(status string) {
	if m == nil {
		return
	}
	m.KnowledgeQueriesTotal.WithLabelValues(status).Inc()
}

// RecordClarification records a clarification event.
func (m *PipelineMetrics) RecordClarification(event string) {
	if m == nil {
		return
	}
	m.ClarificationsTotal.WithLabelValues(event).Inc()
}

// RecordGuardrailBlock records a guardrail rejection.
func (m *PipelineMetrics) RecordGuardrailBlock(direction string) {
	if m == nil {
		return
	}
	m.GuardrailBlocksTotal.WithLabelValues(direction).Inc()
}
