// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package clarification holds problems that are waiting for the student to
// confirm what the parser read.
//
// When the parser is unsure about its input (typically text extracted from an
// image) the pipeline stops and asks the student to confirm. The cleaned text
// is parked here, keyed by conversation, until the student answers with an
// affirmative token such as "yes" or the slot expires.
//
// # Thread Safety
//
// Gate and every Store implementation are safe for concurrent use.
package clarification

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/AleutianAI/MathMentor/services/orchestrator/observability"
)

// DefaultTTL bounds how long a pending clarification waits for confirmation.
const DefaultTTL = 15 * time.Minute

// ErrNoPending is returned by Store.Take when the conversation has no
// unexpired slot.
var ErrNoPending = errors.New("no pending clarification")

// Clarification event labels.
const (
	EventRequested = "requested"
	EventConfirmed = "confirmed"
	EventMissed    = "missed"
)

var confirmations = map[string]struct{}{
	"yes":     {},
	"y":       {},
	"correct": {},
	"sure":    {},
	"ok":      {},
	"okay":    {},
	"verify":  {},
}

// IsConfirmation reports whether msg is an affirmative token. Matching is
// exact after trimming and lower-casing, so "yes please" is not a
// confirmation.
func IsConfirmation(msg string) bool {
	_, ok := confirmations[strings.ToLower(strings.TrimSpace(msg))]
	return ok
}

// Store persists pending clarifications.
type Store interface {
	// Put stores text for the conversation, replacing any previous slot.
	Put(ctx context.Context, conversationID, text string, ttl time.Duration) error

	// Take atomically returns and removes the slot. It returns ErrNoPending
	// when the slot is absent or expired.
	Take(ctx context.Context, conversationID string) (string, error)
}

// =============================================================================
// Gate
// =============================================================================

// Gate decides whether an inbound message confirms a pending clarification.
type Gate struct {
	store Store
	ttl   time.Duration
}

// NewGate creates a Gate. A non-positive ttl selects DefaultTTL.
func NewGate(store Store, ttl time.Duration) *Gate {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Gate{store: store, ttl: ttl}
}

// Request parks cleanedText for the conversation until it is confirmed or
// expires.
func (g *Gate) Request(ctx context.Context, conversationID, cleanedText string) error {
	if err := g.store.Put(ctx, conversationID, cleanedText, g.ttl); err != nil {
		return fmt.Errorf("failed to store pending clarification: %w", err)
	}
	observability.Default().RecordClarification(EventRequested)
	slog.Info("Clarification requested", "conversationId", conversationID, "ttl", g.ttl.String())
	return nil
}

// Resolve maps an inbound message to the query the pipeline should run.
//
// # Description
//
// If message is an affirmative token and the conversation has a pending
// slot, the slot is consumed and its text is returned with confirmed=true.
// In every other case message itself is returned unchanged. A message that
// is not a confirmation leaves the slot in place.
//
// # Inputs
//
//   - ctx: Context for the store call.
//   - conversationID: Conversation the message belongs to.
//   - message: Raw inbound message.
//
// # Outputs
//
//   - string: Query to run.
//   - bool: True when a pending clarification was consumed.
func (g *Gate) Resolve(ctx context.Context, conversationID, message string) (string, bool) {
	if !IsConfirmation(message) {
		return message, false
	}
	text, err := g.store.Take(ctx, conversationID)
	if err != nil {
		if !errors.Is(err, ErrNoPending) {
			slog.Warn("Clarification store lookup failed", "conversationId", conversationID, "error", err)
		}
		observability.Default().RecordClarification(EventMissed)
		return message, false
	}
	observability.Default().RecordClarification(EventConfirmed)
	slog.Info("Clarification confirmed", "conversationId", conversationID)
	return text, true
}
