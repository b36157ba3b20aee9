// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package history stores chat sessions and their messages in BadgerDB.
//
// # Key Layout
//
//	session:{id}                        -> datatypes.Session
//	msg:{sessionID}:{unixNano}:{msgID}  -> datatypes.HistoryMessage
//
// Message keys embed a zero-padded timestamp so a prefix scan returns a
// session's messages in creation order.
package history

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/AleutianAI/MathMentor/services/orchestrator/datatypes"
	"github.com/AleutianAI/MathMentor/services/orchestrator/storage/badgerdb"
	"github.com/dgraph-io/badger/v4"
	"github.com/google/uuid"
)

// DefaultTitle is used when a session is created without one.
const DefaultTitle = "New Chat"

const (
	sessionPrefix = "session:"
	messagePrefix = "msg:"
)

// ErrSessionNotFound is returned for operations on an unknown session id.
var ErrSessionNotFound = errors.New("session not found")

// Store persists chat sessions.
type Store struct {
	db  *badgerdb.DB
	now func() time.Time
}

func NewStore(db *badgerdb.DB) *Store {
	return &Store{db: db, now: time.Now}
}

func sessionKey(id string) string { return sessionPrefix + id }

func messageKeyPrefix(sessionID string) string {
	return messagePrefix + sessionID + ":"
}

func messageKey(m datatypes.HistoryMessage) string {
	return fmt.Sprintf("%s%020d:%s", messageKeyPrefix(m.SessionID), m.CreatedAt.UnixNano(), m.ID)
}

// CreateSession stores a new session. A blank title becomes DefaultTitle.
func (s *Store) CreateSession(ctx context.Context, title string) (datatypes.Session, error) {
	title = strings.TrimSpace(title)
	if title == "" {
		title = DefaultTitle
	}
	now := s.now().UTC()
	sess := datatypes.Session{ID: uuid.NewString(), Title: title, CreatedAt: now, UpdatedAt: now}
	err := s.db.WithTxn(ctx, func(txn *badger.Txn) error {
		return badgerdb.PutJSON(txn, sessionKey(sess.ID), sess)
	})
	if err != nil {
		return datatypes.Session{}, fmt.Errorf("failed to create session: %w", err)
	}
	return sess, nil
}

func (s *Store) GetSession(ctx context.Context, id string) (datatypes.Session, error) {
	var sess datatypes.Session
	err := s.db.WithReadTxn(ctx, func(txn *badger.Txn) error {
		return getSession(txn, id, &sess)
	})
	return sess, err
}

func getSession(txn *badger.Txn, id string, sess *datatypes.Session) error {
	err := badgerdb.GetJSON(txn, sessionKey(id), sess)
	if errors.Is(err, badgerdb.ErrKeyNotFound) {
		return ErrSessionNotFound
	}
	return err
}

// ListSessions returns all sessions, most recently updated first.
func (s *Store) ListSessions(ctx context.Context) ([]datatypes.Session, error) {
	sessions := []datatypes.Session{}
	err := s.db.WithReadTxn(ctx, func(txn *badger.Txn) error {
		return badgerdb.ScanPrefix(txn, sessionPrefix, func(_ string, val []byte) error {
			var sess datatypes.Session
			if err := json.Unmarshal(val, &sess); err != nil {
				return err
			}
			sessions = append(sessions, sess)
			return nil
		})
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list sessions: %w", err)
	}
	sort.SliceStable(sessions, func(i, j int) bool {
		return sessions[i].UpdatedAt.After(sessions[j].UpdatedAt)
	})
	return sessions, nil
}

// RenameSession changes a session's title. A blank title becomes DefaultTitle.
func (s *Store) RenameSession(ctx context.Context, id, title string) (datatypes.Session, error) {
	title = strings.TrimSpace(title)
	if title == "" {
		title = DefaultTitle
	}
	var sess datatypes.Session
	err := s.db.WithTxn(ctx, func(txn *badger.Txn) error {
		if err := getSession(txn, id, &sess); err != nil {
			return err
		}
		sess.Title = title
		sess.UpdatedAt = s.now().UTC()
		return badgerdb.PutJSON(txn, sessionKey(id), sess)
	})
	return sess, err
}

// DeleteSession removes a session and all of its messages.
func (s *Store) DeleteSession(ctx context.Context, id string) error {
	return s.db.WithTxn(ctx, func(txn *badger.Txn) error {
		var sess datatypes.Session
		if err := getSession(txn, id, &sess); err != nil {
			return err
		}
		n, err := badgerdb.DeletePrefix(txn, messageKeyPrefix(id))
		if err != nil {
			return err
		}
		slog.Info("Deleted session", "sessionId", id, "messages", n)
		return txn.Delete([]byte(sessionKey(id)))
	})
}

// AddMessage appends a message to a session and bumps its UpdatedAt.
func (s *Store) AddMessage(ctx context.Context, sessionID string, req datatypes.AddMessageRequest) (datatypes.HistoryMessage, error) {
	now := s.now().UTC()
	msg := datatypes.HistoryMessage{
		ID:        uuid.NewString(),
		SessionID: sessionID,
		Role:      req.Role,
		Content:   req.Content,
		Metadata:  req.Metadata,
		CreatedAt: now,
	}
	err := s.db.WithTxn(ctx, func(txn *badger.Txn) error {
		var sess datatypes.Session
		if err := getSession(txn, sessionID, &sess); err != nil {
			return err
		}
		if err := badgerdb.PutJSON(txn, messageKey(msg), msg); err != nil {
			return err
		}
		sess.UpdatedAt = now
		return badgerdb.PutJSON(txn, sessionKey(sessionID), sess)
	})
	if err != nil {
		return datatypes.HistoryMessage{}, err
	}
	return msg, nil
}

// Messages returns a session's messages oldest first.
func (s *Store) Messages(ctx context.Context, sessionID string) ([]datatypes.HistoryMessage, error) {
	msgs := []datatypes.HistoryMessage{}
	err := s.db.WithReadTxn(ctx, func(txn *badger.Txn) error {
		var sess datatypes.Session
		if err := getSession(txn, sessionID, &sess); err != nil {
			return err
		}
		return badgerdb.ScanPrefix(txn, messageKeyPrefix(sessionID), func(_ string, val []byte) error {
			var m datatypes.HistoryMessage
			if err := json.Unmarshal(val, &m); err != nil {
				return err
			}
			msgs = append(msgs, m)
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	return msgs, nil
}
