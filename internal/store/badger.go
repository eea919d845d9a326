// Punchsync - Biometric Attendance to HR Synchronization Bridge
// Copyright 2026 Punchsync Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/punchsync/punchsync

// Package store persists the OAuth token and the sync cursor in BadgerDB so
// both survive process restarts. The rest of the application consumes it
// through narrow interfaces (token.Store, scheduler.CursorStore).
package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/goccy/go-json"

	"github.com/punchsync/punchsync/internal/models"
)

// ErrNotFound is returned when no value has been persisted under a key yet.
var ErrNotFound = errors.New("store: not found")

const (
	tokenKey  = "oauth:token"
	cursorKey = "sync:cursor"
)

// Store is a BadgerDB-backed key/value store for process state.
type Store struct {
	db *badger.DB
}

// Open opens (or creates) the store at path. An empty path opens an
// in-memory store, which loses state on restart.
func Open(path string) (*Store, error) {
	var opts badger.Options
	if path == "" {
		opts = badger.DefaultOptions("").WithInMemory(true)
	} else {
		opts = badger.DefaultOptions(path)
	}
	// Badger's own logger is noisy at INFO; the store is small and cold.
	opts = opts.WithLogger(nil)

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open badger at %q: %w", path, err)
	}
	return &Store{db: db}, nil
}

// Close releases the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

// SaveToken durably persists the token. Called by the token manager after
// every successful exchange or refresh.
func (s *Store) SaveToken(ctx context.Context, tok models.Token) error {
	data, err := json.Marshal(tok)
	if err != nil {
		return fmt.Errorf("marshal token: %w", err)
	}
	return s.db.Update(func(txn *badger.Txn) error {
		return txn.Set([]byte(tokenKey), data)
	})
}

// LoadToken reads the persisted token. Returns ErrNotFound when no token has
// been stored.
func (s *Store) LoadToken(ctx context.Context) (models.Token, error) {
	var tok models.Token
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(tokenKey))
		if errors.Is(err, badger.ErrKeyNotFound) {
			return ErrNotFound
		}
		if err != nil {
			return fmt.Errorf("get token: %w", err)
		}
		return item.Value(func(val []byte) error {
			return json.Unmarshal(val, &tok)
		})
	})
	if err != nil {
		return models.Token{}, err
	}
	return tok, nil
}

// DeleteToken removes the persisted token, e.g. after revocation.
func (s *Store) DeleteToken(ctx context.Context) error {
	return s.db.Update(func(txn *badger.Txn) error {
		err := txn.Delete([]byte(tokenKey))
		if errors.Is(err, badger.ErrKeyNotFound) {
			return nil
		}
		return err
	})
}

// SaveCursor durably persists the sync watermark.
func (s *Store) SaveCursor(ctx context.Context, cursor time.Time) error {
	data, err := json.Marshal(cursor)
	if err != nil {
		return fmt.Errorf("marshal cursor: %w", err)
	}
	return s.db.Update(func(txn *badger.Txn) error {
		return txn.Set([]byte(cursorKey), data)
	})
}

// LoadCursor reads the persisted watermark. Returns ErrNotFound when no
// cursor has been stored yet (first run).
func (s *Store) LoadCursor(ctx context.Context) (time.Time, error) {
	var cursor time.Time
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(cursorKey))
		if errors.Is(err, badger.ErrKeyNotFound) {
			return ErrNotFound
		}
		if err != nil {
			return fmt.Errorf("get cursor: %w", err)
		}
		return item.Value(func(val []byte) error {
			return json.Unmarshal(val, &cursor)
		})
	})
	if err != nil {
		return time.Time{}, err
	}
	return cursor, nil
}
