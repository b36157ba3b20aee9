// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package observability

import (
	"sync"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

// ============================================================================
// Test Helper: Create isolated metrics for testing
// ============================================================================

// newTestMetrics creates a PipelineMetrics instance with a custom registry.
// This avoids conflicts with the global Prometheus registry and allows
// parallel testing.
func newTestMetrics(t *testing.T) (*PipelineMetrics, *prometheus.Registry) {
	t.Helper()
	reg := prometheus.NewRegistry()
	return NewPipelineMetrics(reg), reg
}

// ============================================================================
// Tests
// ============================================================================

func TestNewPipelineMetrics_RegistersAll(t *testing.T) {
	m, reg := newTestMetrics(t)

	m.RecordRun("solve", OutcomeAnswered)
	m.ObserveStage("solve", 0.3)
	m.RecordVerification(true)
	m.RecordProvider("tavily-mcp", "ok")
	m.RecordKnowledgeQuery("hit")
	m.RecordClarification("requested")
	m.RecordGuardrailBlock("input")

	families, err := reg.Gather()
	if err != nil {
		t.Fatalf("Gather() error = %v", err)
	}
	if len(families) != 7 {
		t.Errorf("expected 7 metric families, got %d", len(families))
	}
	for _, f := range families {
		if got := f.GetName(); len(got) < len("aleutian_mathmentor_") || got[:len("aleutian_mathmentor_")] != "aleutian_mathmentor_" {
			t.Errorf("metric %q missing namespace/subsystem prefix", got)
		}
	}
}

func TestPipelineMetrics_RecordRun(t *testing.T) {
	m, _ := newTestMetrics(t)

	m.RecordRun("solve", OutcomeAnswered)
	m.RecordRun("solve", OutcomeAnswered)
	m.RecordRun("", OutcomeRateLimited)

	if got := testutil.ToFloat64(m.PipelineRunsTotal.WithLabelValues("solve", OutcomeAnswered)); got != 2 {
		t.Errorf("solve/answered = %v, want 2", got)
	}
	if got := testutil.ToFloat64(m.PipelineRunsTotal.WithLabelValues("none", OutcomeRateLimited)); got != 1 {
		t.Errorf("none/rate_limited = %v, want 1", got)
	}
}

func TestPipelineMetrics_RecordVerification(t *testing.T) {
	m, _ := newTestMetrics(t)

	m.RecordVerification(false)
	m.RecordVerification(true)
	m.RecordVerification(false)

	if got := testutil.ToFloat64(m.VerificationsTotal.WithLabelValues("fail")); got != 2 {
		t.Errorf("fail = %v, want 2", got)
	}
	if got := testutil.ToFloat64(m.VerificationsTotal.WithLabelValues("pass")); got != 1 {
		t.Errorf("pass = %v, want 1", got)
	}
}

func TestPipelineMetrics_ObserveStage(t *testing.T) {
	m, _ := newTestMetrics(t)

	m.ObserveStage("retrieve", 0.2)
	m.ObserveStage("retrieve", 4)

	if got := testutil.CollectAndCount(m.StageDurationSeconds); got != 1 {
		t.Errorf("expected 1 series, got %d", got)
	}
}

func TestPipelineMetrics_NilReceiver(t *testing.T) {
	var m *PipelineMetrics
	m.RecordRun("solve", OutcomeAnswered)
	m.ObserveStage("solve", 1)
	m.RecordVerification(true)
	m.RecordProvider("p", "ok")
	m.RecordKnowledgeQuery("hit")
	m.RecordClarification("requested")
	m.RecordGuardrailBlock("output")
}

func TestPipelineMetrics_ConcurrentSafety(t *testing.T) {
	m, _ := newTestMetrics(t)

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			m.RecordProvider("tavily-sdk", "ok")
		}()
	}
	wg.Wait()

	if got := testutil.ToFloat64(m.ProviderResultsTotal.WithLabelValues("tavily-sdk", "ok")); got != 50 {
		t.Errorf("provider count = %v, want 50", got)
	}
}
