// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package badgerdb

import (
	"context"
	"errors"
	"testing"

	"github.com/dgraph-io/badger/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type record struct {
	Name  string `json:"name"`
	Count int    `json:"count"`
}

func openTestDB(t *testing.T) *DB {
	t.Helper()
	db, err := OpenInMemory()
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func TestOpen_RequiresPath(t *testing.T) {
	_, err := Open(Config{})
	assert.ErrorContains(t, err, "path is required")
}

func TestOpen_Persistent(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()

	db, err := Open(DefaultConfig(dir))
	require.NoError(t, err)
	require.NoError(t, db.WithTxn(ctx, func(txn *badger.Txn) error {
		return PutJSON(txn, "rec:1", record{Name: "kept", Count: 3})
	}))
	require.NoError(t, db.Close())

	db2, err := Open(DefaultConfig(dir))
	require.NoError(t, err)
	defer db2.Close()

	var got record
	require.NoError(t, db2.WithReadTxn(ctx, func(txn *badger.Txn) error {
		return GetJSON(txn, "rec:1", &got)
	}))
	assert.Equal(t, record{Name: "kept", Count: 3}, got)

	n, err := db2.RunGC(ctx)
	require.NoError(t, err)
	assert.GreaterOrEqual(t, n, 0)
}

func TestJSONHelpers(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()

	require.NoError(t, db.WithTxn(ctx, func(txn *badger.Txn) error {
		for _, r := range []struct {
			key string
			rec record
		}{
			{"a:2", record{Name: "two"}},
			{"a:1", record{Name: "one"}},
			{"b:1", record{Name: "other"}},
		} {
			if err := PutJSON(txn, r.key, r.rec); err != nil {
				return err
			}
		}
		return nil
	}))

	var keys []string
	require.NoError(t, db.WithReadTxn(ctx, func(txn *badger.Txn) error {
		return ScanPrefix(txn, "a:", func(key string, _ []byte) error {
			keys = append(keys, key)
			return nil
		})
	}))
	assert.Equal(t, []string{"a:1", "a:2"}, keys)

	err := db.WithReadTxn(ctx, func(txn *badger.Txn) error {
		var r record
		return GetJSON(txn, "missing", &r)
	})
	assert.ErrorIs(t, err, ErrKeyNotFound)

	var removed int
	require.NoError(t, db.WithTxn(ctx, func(txn *badger.Txn) error {
		var err error
		removed, err = DeletePrefix(txn, "a:")
		return err
	}))
	assert.Equal(t, 2, removed)

	require.NoError(t, db.WithReadTxn(ctx, func(txn *badger.Txn) error {
		var r record
		if err := GetJSON(txn, "b:1", &r); err != nil {
			return err
		}
		assert.Equal(t, "other", r.Name)
		return nil
	}))
}

func TestWithTxn_RollsBackOnError(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()
	boom := errors.New("boom")

	err := db.WithTxn(ctx, func(txn *badger.Txn) error {
		if err := PutJSON(txn, "k", record{Name: "lost"}); err != nil {
			return err
		}
		return boom
	})
	assert.ErrorIs(t, err, boom)

	err = db.WithReadTxn(ctx, func(txn *badger.Txn) error {
		var r record
		return GetJSON(txn, "k", &r)
	})
	assert.ErrorIs(t, err, ErrKeyNotFound)
}

func TestWithTxn_CancelledContext(t *testing.T) {
	db := openTestDB(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := db.WithTxn(ctx, func(*badger.Txn) error { return nil })
	assert.ErrorIs(t, err, context.Canceled)

	n, err := db.RunGC(ctx)
	assert.NoError(t, err, "in-memory databases skip GC")
	assert.Zero(t, n)
}
