// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package pipeline runs one student question through
// Parse → Route → Retrieve → Solve → Verify(→Solve) → Explain.
//
// # Transitions
//
//   - Parse asks for clarification: the cleaned text is parked with the
//     clarification gate and the run ends. A later confirmation skips Parse
//     and starts at Route with the parked text.
//   - Route to general: one Solve call without context, then done.
//   - Route to solve or search: Retrieve, then a bounded Solve/Verify loop.
//     After MaxRetries failed re-solves the best effort answer is explained
//     anyway and the trace records verification_retries_exhausted.
//   - Explain reformats solve answers only.
//
// # Errors
//
// A rate limit from any model ends the run with an overload Result and a nil
// error. Guardrail violations are returned unchanged. Anything else is
// wrapped and returned.
//
// # Thread Safety
//
// Pipeline is safe for concurrent use. Each Run owns its State.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/AleutianAI/MathMentor/services/llm"
	"github.com/AleutianAI/MathMentor/services/orchestrator/agents"
	"github.com/AleutianAI/MathMentor/services/orchestrator/clarification"
	"github.com/AleutianAI/MathMentor/services/orchestrator/observability"
	"github.com/AleutianAI/MathMentor/services/orchestrator/retrieval"
	"github.com/AleutianAI/MathMentor/services/policy_engine"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

var tracer = otel.Tracer("aleutian.orchestrator.pipeline")

// Retriever gathers solver context. *retrieval.Retriever satisfies it.
type Retriever interface {
	Retrieve(ctx context.Context, query string) retrieval.Result
}

// ClarificationGate is satisfied by *clarification.Gate.
type ClarificationGate interface {
	Resolve(ctx context.Context, conversationID, message string) (string, bool)
	Request(ctx context.Context, conversationID, cleanedText string) error
}

// Guardrails is satisfied by *policy_engine.PolicyEngine.
type Guardrails interface {
	FilterInput(text string) (string, error)
	FilterOutput(text string) (policy_engine.OutputResult, error)
}

// Config wires the stages. Parser, Router, Solver, Verifier and Explainer
// are required.
type Config struct {
	Parser    agents.Parser
	Router    agents.Router
	Solver    agents.Solver
	Verifier  agents.Verifier
	Explainer agents.Explainer

	// Retriever defaults to an empty retriever.
	Retriever Retriever
	// Gate defaults to an in-memory gate.
	Gate ClarificationGate
	// Guardrails may be nil, which disables both filters.
	Guardrails Guardrails

	EnforceInputGuardrails  bool
	EnforceOutputGuardrails bool
}

// Pipeline is the chat state machine.
type Pipeline struct {
	cfg Config
}

// New validates cfg and fills optional collaborators.
func New(cfg Config) (*Pipeline, error) {
	switch {
	case cfg.Parser == nil:
		return nil, errors.New("pipeline: parser is required")
	case cfg.Router == nil:
		return nil, errors.New("pipeline: router is required")
	case cfg.Solver == nil:
		return nil, errors.New("pipeline: solver is required")
	case cfg.Verifier == nil:
		return nil, errors.New("pipeline: verifier is required")
	case cfg.Explainer == nil:
		return nil, errors.New("pipeline: explainer is required")
	}
	if cfg.Retriever == nil {
		cfg.Retriever = retrieval.New(nil, nil, 0)
	}
	if cfg.Gate == nil {
		cfg.Gate = clarification.NewGate(clarification.NewMemoryStore(), clarification.DefaultTTL)
	}
	return &Pipeline{cfg: cfg}, nil
}

// Run executes one chat turn.
//
// # Description
//
// The clarification gate runs first: an affirmative reply to a pending
// clarification replaces the query with the parked text, which passes the
// input filter and goes straight to Route. The stages then run sequentially, appending one trace tag per
// transition.
//
// # Inputs
//
//   - ctx: Carries cancellation from the transport.
//   - req: The chat turn.
//
// # Outputs
//
//   - *Result: The shaped response. Non-nil whenever error is nil.
//   - error: *policy_engine.PolicyViolationError unchanged, or a wrapped
//     stage failure. Rate limits are not errors.
func (p *Pipeline) Run(ctx context.Context, req Request) (*Result, error) {
	runID := uuid.NewString()
	ctx, span := tracer.Start(ctx, "Pipeline.Run")
	defer span.End()
	span.SetAttributes(
		attribute.String("run.id", runID),
		attribute.String("conversation.id", req.ConversationID),
	)
	logger := slog.With("runId", runID, "conversationId", req.ConversationID)

	query, confirmed := p.cfg.Gate.Resolve(ctx, req.ConversationID, req.Query)
	if confirmed {
		logger.Info("Resuming confirmed clarification")
	}

	state := &State{Query: query}
	res, err := p.run(ctx, state, req.ConversationID, req.Modality, confirmed)
	metrics := observability.Default()

	switch {
	case err == nil:
		outcome := observability.OutcomeAnswered
		if res.Source == SourceParserHITL {
			outcome = observability.OutcomeClarification
		}
		metrics.RecordRun(string(state.Intent), outcome)
		span.SetAttributes(attribute.String("source", res.Source), attribute.StringSlice("gateway_trace", res.GatewayTrace))
		logger.Info("Pipeline completed",
			"source", res.Source,
			"intent", state.Intent,
			"retrievedFromKb", res.RetrievedFromKB,
			"knowledgeHits", len(res.KnowledgeHits),
			"trace", res.GatewayTrace,
		)
		return res, nil

	case llm.IsRateLimited(err):
		metrics.RecordRun(string(state.Intent), observability.OutcomeRateLimited)
		span.SetAttributes(attribute.String("source", SourceSystemError))
		logger.Warn("Pipeline rate limited", "error", err, "trace", state.GatewayTrace)
		return overloadResult(state), nil

	case policy_engine.IsPolicyViolation(err):
		metrics.RecordRun(string(state.Intent), observability.OutcomePolicy)
		span.SetStatus(codes.Error, "policy violation")
		logger.Warn("Pipeline blocked by guardrails", "error", err)
		return nil, err

	default:
		metrics.RecordRun(string(state.Intent), observability.OutcomeError)
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		logger.Error("Pipeline failed", "error", err, "trace", state.GatewayTrace)
		return nil, fmt.Errorf("pipeline failed: %w", err)
	}
}

func (p *Pipeline) run(ctx context.Context, state *State, conversationID, modality string, resumed bool) (*Result, error) {
	if resumed {
		if err := p.resume(ctx, state); err != nil {
			return nil, err
		}
	} else if err := p.parse(ctx, state, modality); err != nil {
		return nil, err
	}

	if state.Problem.NeedsClarification {
		if err := p.cfg.Gate.Request(ctx, conversationID, state.Problem.CleanedText); err != nil {
			return nil, err
		}
		state.trace(TraceClarificationRequest)
		return clarificationResult(state), nil
	}

	if err := p.route(ctx, state); err != nil {
		return nil, err
	}

	if state.Intent == agents.IntentGeneral {
		if err := p.general(ctx, state); err != nil {
			return nil, err
		}
	} else {
		p.retrieve(ctx, state)
		if err := p.solveAndVerify(ctx, state); err != nil {
			return nil, err
		}
		if err := p.explain(ctx, state); err != nil {
			return nil, err
		}
	}

	if err := p.filterOutput(state); err != nil {
		return nil, err
	}
	return buildResult(state), nil
}

// =============================================================================
// Stages
// =============================================================================

func (p *Pipeline) parse(ctx context.Context, state *State, modality string) error {
	return p.stage(ctx, "parse", func(ctx context.Context) error {
		sanitized, err := p.filterInput(state)
		if err != nil {
			return err
		}

		problem, err := p.cfg.Parser.Parse(ctx, sanitized, modality)
		if err != nil {
			return fmt.Errorf("parse: %w", err)
		}
		state.Problem = problem
		state.trace(TraceParser)
		return nil
	})
}

// resume rebuilds the problem from confirmed clarification text. The text
// was cleaned by the parse that parked it, so only the input filter runs.
func (p *Pipeline) resume(ctx context.Context, state *State) error {
	return p.stage(ctx, "resume", func(ctx context.Context) error {
		sanitized, err := p.filterInput(state)
		if err != nil {
			return err
		}
		state.Problem = agents.StructuredProblem{OriginalText: state.Query, CleanedText: sanitized}
		state.trace(TraceClarificationResumed)
		return nil
	})
}

func (p *Pipeline) filterInput(state *State) (string, error) {
	sanitized := state.Query
	if p.cfg.Guardrails != nil && p.cfg.EnforceInputGuardrails {
		cleaned, err := p.cfg.Guardrails.FilterInput(state.Query)
		if err != nil {
			observability.Default().RecordGuardrailBlock("input")
			return "", err
		}
		sanitized = cleaned
	}
	state.SanitizedQuery = sanitized
	return sanitized, nil
}

func (p *Pipeline) route(ctx context.Context, state *State) error {
	return p.stage(ctx, "route", func(ctx context.Context) error {
		intent, err := p.cfg.Router.Route(ctx, state.Problem.CleanedText)
		if err != nil {
			return fmt.Errorf("route: %w", err)
		}
		state.Intent = intent
		state.trace(TraceRouter(intent))
		return nil
	})
}

func (p *Pipeline) general(ctx context.Context, state *State) error {
	return p.stage(ctx, "general", func(ctx context.Context) error {
		sol, err := p.cfg.Solver.Solve(ctx, agents.SolveInput{Problem: state.Problem.CleanedText})
		if err != nil {
			return fmt.Errorf("general chat: %w", err)
		}
		state.Steps, state.Answer = sol.Steps, sol.Answer
		state.Source = retrieval.SourceLLM
		state.IsCorrect = true
		state.trace(TraceGeneralChat)
		return nil
	})
}

func (p *Pipeline) retrieve(ctx context.Context, state *State) {
	_ = p.stage(ctx, "retrieve", func(ctx context.Context) error {
		res := p.cfg.Retriever.Retrieve(ctx, state.Problem.CleanedText)
		state.KBHits = res.KBHits
		state.WebHits = res.WebHits
		state.KnowledgeHits = res.KnowledgeHits()
		state.Citations = res.Citations
		state.Source = res.Source()
		state.trace(TraceRetrieval)
		return nil
	})
}

// solveAndVerify is the self-correction loop. RetryCount is incremented
// once per verification and the loop exits once it exceeds MaxRetries.
func (p *Pipeline) solveAndVerify(ctx context.Context, state *State) error {
	for {
		if err := p.solve(ctx, state); err != nil {
			return err
		}
		if err := p.verify(ctx, state); err != nil {
			return err
		}
		if state.IsCorrect {
			return nil
		}
		if state.RetryCount > MaxRetries {
			state.trace(TraceRetriesExhausted)
			slog.Warn("Verification retries exhausted, explaining best effort answer",
				"retries", state.RetryCount, "critique", state.Critique)
			return nil
		}
	}
}

func (p *Pipeline) solve(ctx context.Context, state *State) error {
	return p.stage(ctx, "solve", func(ctx context.Context) error {
		sol, err := p.cfg.Solver.Solve(ctx, agents.SolveInput{
			Problem:  state.Problem.CleanedText,
			Contexts: state.KnowledgeHits,
			Critique: state.Critique,
		})
		if err != nil {
			return fmt.Errorf("solve: %w", err)
		}
		state.Steps, state.Answer = sol.Steps, sol.Answer
		state.trace(TraceSolver)
		return nil
	})
}

func (p *Pipeline) verify(ctx context.Context, state *State) error {
	return p.stage(ctx, "verify", func(ctx context.Context) error {
		v, err := p.cfg.Verifier.Verify(ctx, state.Problem.CleanedText, state.Answer, state.Steps)
		if err != nil {
			if llm.IsRateLimited(err) {
				return err
			}
			slog.Error("Verifier failed, failing open", "error", err)
			v = agents.Verification{IsCorrect: true, Critique: agents.VerifierFailedCritique}
		}
		state.RetryCount++
		state.IsCorrect = v.IsCorrect
		state.Critique = v.Critique
		state.trace(TraceVerification(v.IsCorrect))
		observability.Default().RecordVerification(v.IsCorrect)
		return nil
	})
}

func (p *Pipeline) explain(ctx context.Context, state *State) error {
	return p.stage(ctx, "explain", func(ctx context.Context) error {
		if state.Intent == agents.IntentSolve {
			explanation, err := p.cfg.Explainer.Explain(ctx, state.Problem.CleanedText, state.Answer, state.Steps)
			if err != nil {
				return fmt.Errorf("explain: %w", err)
			}
			state.Answer = explanation
		}
		state.trace(TraceExplainer)
		return nil
	})
}

func (p *Pipeline) filterOutput(state *State) error {
	if p.cfg.Guardrails == nil || !p.cfg.EnforceOutputGuardrails {
		return nil
	}
	out, err := p.cfg.Guardrails.FilterOutput(state.Answer)
	if err != nil {
		observability.Default().RecordGuardrailBlock("output")
		return err
	}
	state.Answer = out.Text
	return nil
}

// stage wraps fn in a span and records its latency.
func (p *Pipeline) stage(ctx context.Context, name string, fn func(ctx context.Context) error) error {
	ctx, span := tracer.Start(ctx, "pipeline."+name)
	defer span.End()

	start := time.Now()
	err := fn(ctx)
	observability.Default().ObserveStage(name, time.Since(start).Seconds())
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	return err
}
