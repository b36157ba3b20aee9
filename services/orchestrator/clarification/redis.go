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
	"errors"
	"fmt"
	"time"

	backend "github.com/redis/go-redis/v9"
)

const defaultRedisPrefix = "mathmentor:clarification:"

// RedisStore keeps pending clarifications in Redis so that every orchestrator
// replica sees the same slots. Expiry is delegated to Redis key TTLs.
type RedisStore struct {
	client *backend.Client
	prefix string
}

type RedisOption func(*RedisStore)

// WithPrefix sets the key prefix.
func WithPrefix(prefix string) RedisOption {
	return func(s *RedisStore) {
		s.prefix = prefix
	}
}

// NewRedisStore connects to the Redis server at address.
func NewRedisStore(address, password string, db int, opts ...RedisOption) *RedisStore {
	rdb := backend.NewClient(&backend.Options{
		Addr:     address,
		Password: password,
		DB:       db,
	})
	return NewRedisStoreFromClient(rdb, opts...)
}

// NewRedisStoreFromClient wraps an existing client.
func NewRedisStoreFromClient(client *backend.Client, opts ...RedisOption) *RedisStore {
	store := &RedisStore{client: client, prefix: defaultRedisPrefix}
	for _, opt := range opts {
		opt(store)
	}
	return store
}

func (s *RedisStore) key(conversationID string) string {
	return s.prefix + conversationID
}

func (s *RedisStore) Put(ctx context.Context, conversationID, text string, ttl time.Duration) error {
	if err := s.client.Set(ctx, s.key(conversationID), text, ttl).Err(); err != nil {
		return fmt.Errorf("failed to save to redis: %w", err)
	}
	return nil
}

// Take uses GETDEL, so a slot is consumed by at most one caller across
// replicas.
func (s *RedisStore) Take(ctx context.Context, conversationID string) (string, error) {
	val, err := s.client.GetDel(ctx, s.key(conversationID)).Result()
	if err != nil {
		if errors.Is(err, backend.Nil) {
			return "", ErrNoPending
		}
		return "", fmt.Errorf("failed to take from redis: %w", err)
	}
	return val, nil
}

// Ping checks connectivity.
func (s *RedisStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

// Close closes the redis client.
func (s *RedisStore) Close() error {
	return s.client.Close()
}

var _ Store = (*RedisStore)(nil)
