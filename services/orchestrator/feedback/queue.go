// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package feedback persists student feedback on answers for later review.
package feedback

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/AleutianAI/MathMentor/services/orchestrator/datatypes"
	"github.com/AleutianAI/MathMentor/services/orchestrator/storage/badgerdb"
	"github.com/dgraph-io/badger/v4"
	"github.com/google/uuid"
)

const keyPrefix = "feedback:"

// ErrNotFound is returned by Get for an unknown record id.
var ErrNotFound = errors.New("feedback record not found")

// Record is one stored feedback submission.
type Record struct {
	ID         string                    `json:"id"`
	ReceivedAt time.Time                 `json:"received_at"`
	Request    datatypes.FeedbackRequest `json:"request"`
	// KBUpdated is nil until a knowledge update has been attempted.
	KBUpdated *bool `json:"kb_updated,omitempty"`
}

// Queue is a BadgerDB-backed feedback queue.
type Queue struct {
	db  *badgerdb.DB
	now func() time.Time
}

func NewQueue(db *badgerdb.DB) *Queue {
	return &Queue{db: db, now: time.Now}
}

// Save stores req and returns the new record id.
func (q *Queue) Save(ctx context.Context, req datatypes.FeedbackRequest) (string, error) {
	rec := Record{ID: uuid.NewString(), ReceivedAt: q.now().UTC(), Request: req}
	err := q.db.WithTxn(ctx, func(txn *badger.Txn) error {
		return badgerdb.PutJSON(txn, keyPrefix+rec.ID, rec)
	})
	if err != nil {
		return "", fmt.Errorf("failed to save feedback: %w", err)
	}
	slog.Info("Feedback saved", "feedbackId", rec.ID, "messageId", req.MessageID, "thumbsUp", req.Feedback.ThumbsUp)
	return rec.ID, nil
}

// MarkKBUpdated records the outcome of the knowledge update for id.
func (q *Queue) MarkKBUpdated(ctx context.Context, id string, updated bool) error {
	return q.db.WithTxn(ctx, func(txn *badger.Txn) error {
		var rec Record
		if err := badgerdb.GetJSON(txn, keyPrefix+id, &rec); err != nil {
			if errors.Is(err, badgerdb.ErrKeyNotFound) {
				return ErrNotFound
			}
			return err
		}
		rec.KBUpdated = &updated
		return badgerdb.PutJSON(txn, keyPrefix+id, rec)
	})
}

func (q *Queue) Get(ctx context.Context, id string) (Record, error) {
	var rec Record
	err := q.db.WithReadTxn(ctx, func(txn *badger.Txn) error {
		return badgerdb.GetJSON(txn, keyPrefix+id, &rec)
	})
	if errors.Is(err, badgerdb.ErrKeyNotFound) {
		return Record{}, ErrNotFound
	}
	return rec, err
}

// List returns records newest first. A non-positive limit returns all.
func (q *Queue) List(ctx context.Context, limit int) ([]Record, error) {
	var out []Record
	err := q.db.WithReadTxn(ctx, func(txn *badger.Txn) error {
		return badgerdb.ScanPrefix(txn, keyPrefix, func(_ string, val []byte) error {
			var rec Record
			if err := json.Unmarshal(val, &rec); err != nil {
				return err
			}
			out = append(out, rec)
			return nil
		})
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list feedback: %w", err)
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].ReceivedAt.After(out[j].ReceivedAt)
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}
