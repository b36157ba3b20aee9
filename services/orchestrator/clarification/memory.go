// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package clarification

import (
	"context"
	"sync"
	"time"
)

type memoryEntry struct {
	text      string
	expiresAt time.Time
}

// MemoryStore keeps pending clarifications in process memory. Expired slots
// are invisible to Take and reclaimed by Sweep.
type MemoryStore struct {
	mu      sync.Mutex
	entries map[string]memoryEntry
	now     func() time.Time
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{entries: make(map[string]memoryEntry), now: time.Now}
}

func (m *MemoryStore) Put(_ context.Context, conversationID, text string, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries[conversationID] = memoryEntry{text: text, expiresAt: m.now().Add(ttl)}
	return nil
}

func (m *MemoryStore) Take(_ context.Context, conversationID string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	entry, ok := m.entries[conversationID]
	if !ok {
		return "", ErrNoPending
	}
	delete(m.entries, conversationID)
	if !m.now().Before(entry.expiresAt) {
		return "", ErrNoPending
	}
	return entry.text, nil
}

// Sweep removes expired slots and returns how many were removed.
func (m *MemoryStore) Sweep(_ context.Context) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := m.now()
	removed := 0
	for id, entry := range m.entries {
		if !now.Before(entry.expiresAt) {
			delete(m.entries, id)
			removed++
		}
	}
	return removed, nil
}

// Len returns the number of stored slots, expired or not.
func (m *MemoryStore) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.entries)
}

var _ Store = (*MemoryStore)(nil)
