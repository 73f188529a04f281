// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package store persists decoded lattices in a local BadgerDB.
//
// BadgerDB gives low-latency embedded storage (~100µs reads), which
// fits the decoder's use cases: keeping lattices around for rescoring
// passes and caching the output of expensive decodes keyed by
// utterance.
//
// License: BadgerDB is Apache 2.0 licensed (github.com/dgraph-io/badger).
package store

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"

	"github.com/dgraph-io/badger/v4"

	"github.com/AleutianAI/AleutianSpeech/services/decoder/fsa"
)

// Sentinel errors for lattice storage.
var (
	ErrNotFound = errors.New("no lattice stored under this key")
	ErrEmptyKey = errors.New("utterance key must not be empty")
)

// Config holds configuration for the lattice database.
type Config struct {
	// Path is the directory for database files.
	// Required unless InMemory is true.
	Path string

	// InMemory enables in-memory mode (no disk persistence).
	// Useful for testing.
	InMemory bool

	// SyncWrites enables synchronous writes for durability.
	SyncWrites bool

	// Logger receives BadgerDB's internal logging.
	// If nil, internal logging is disabled.
	Logger *slog.Logger
}

// DefaultConfig returns durable on-disk settings.
func DefaultConfig(path string) Config {
	return Config{Path: path, SyncWrites: true}
}

// InMemoryConfig returns settings for tests: no disk, no sync.
func InMemoryConfig() Config {
	return Config{InMemory: true}
}

// badgerLogger adapts slog.Logger to BadgerDB's Logger interface.
type badgerLogger struct {
	logger *slog.Logger
}

func (l *badgerLogger) Errorf(format string, args ...interface{}) {
	l.logger.Error(fmt.Sprintf(format, args...))
}

func (l *badgerLogger) Warningf(format string, args ...interface{}) {
	l.logger.Warn(fmt.Sprintf(format, args...))
}

func (l *badgerLogger) Infof(format string, args ...interface{}) {
	l.logger.Info(fmt.Sprintf(format, args...))
}

func (l *badgerLogger) Debugf(format string, args ...interface{}) {
	l.logger.Debug(fmt.Sprintf(format, args...))
}

// Lattice is the stored form of one sequence's decode: the pruned
// automaton plus the arc maps back into the decoding graph and the
// emission matrix.
type Lattice struct {
	NumStates int32     `json:"num_states"`
	Arcs      []fsa.Arc `json:"arcs"`
	ArcMapA   []int32   `json:"arc_map_a"`
	ArcMapB   []int32   `json:"arc_map_b"`
}

// LatticeStore is a keyed store of decoded lattices.
//
// Thread Safety: safe for concurrent use; BadgerDB transactions
// provide isolation.
type LatticeStore struct {
	db *badger.DB
}

// Open creates the database per cfg and wraps it in a LatticeStore.
//
// The caller must Close the store when done.
func Open(cfg Config) (*LatticeStore, error) {
	if !cfg.InMemory && cfg.Path == "" {
		return nil, errors.New("path is required for persistent database")
	}

	var opts badger.Options
	if cfg.InMemory {
		opts = badger.DefaultOptions("").WithInMemory(true)
	} else {
		if err := os.MkdirAll(cfg.Path, 0750); err != nil {
			return nil, fmt.Errorf("create database directory %s: %w", cfg.Path, err)
		}
		opts = badger.DefaultOptions(cfg.Path)
	}
	opts = opts.WithSyncWrites(cfg.SyncWrites)
	if cfg.Logger != nil {
		opts = opts.WithLogger(&badgerLogger{logger: cfg.Logger})
	} else {
		opts = opts.WithLogger(nil)
	}

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open lattice database: %w", err)
	}
	return &LatticeStore{db: db}, nil
}

// Put stores the lattice under the utterance key, replacing any
// previous value.
func (s *LatticeStore) Put(key string, lat *Lattice) error {
	if key == "" {
		return ErrEmptyKey
	}
	raw, err := json.Marshal(lat)
	if err != nil {
		return fmt.Errorf("encode lattice: %w", err)
	}
	err = s.db.Update(func(txn *badger.Txn) error {
		return txn.Set([]byte(key), raw)
	})
	if err != nil {
		return fmt.Errorf("store lattice %q: %w", key, err)
	}
	slog.Debug("lattice stored",
		slog.String("key", key),
		slog.Int("arcs", len(lat.Arcs)),
		slog.Int("bytes", len(raw)))
	return nil
}

// Get loads the lattice stored under the utterance key.
//
// Returns ErrNotFound if the key has never been stored.
func (s *LatticeStore) Get(key string) (*Lattice, error) {
	if key == "" {
		return nil, ErrEmptyKey
	}
	var lat Lattice
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(key))
		if errors.Is(err, badger.ErrKeyNotFound) {
			return fmt.Errorf("%q: %w", key, ErrNotFound)
		}
		if err != nil {
			return err
		}
		return item.Value(func(raw []byte) error {
			return json.Unmarshal(raw, &lat)
		})
	})
	if err != nil {
		return nil, err
	}
	return &lat, nil
}

// Close flushes and closes the underlying database.
func (s *LatticeStore) Close() error {
	return s.db.Close()
}
