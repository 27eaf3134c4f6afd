// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package store provides the assistant's embedded persistence on BadgerDB:
// conversation state, the append-only audit log, and the webhook dedup
// set. Keyspaces share one database and are separated by prefix:
//
//	conv!<identity>           live conversation state
//	archive!<identity>!<ts>   archived conversation state (never deleted)
//	audit!<ts>!<uuid>         append-only audit records
//	dedup!<message_id>        TTL'd dedup markers
package store

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/dgraph-io/badger/v4"
)

// Config holds configuration for the embedded database.
type Config struct {
	// Path is the directory for BadgerDB files. Required for persistent
	// databases; ignored when InMemory is true.
	Path string

	// InMemory enables in-memory mode (no disk persistence).
	// Useful for testing.
	InMemory bool

	// SyncWrites enables synchronous writes for durability.
	// Default: true for production, false for testing.
	SyncWrites bool

	// Logger is the logger for BadgerDB operations.
	// If nil, BadgerDB's internal logging is disabled.
	Logger *slog.Logger

	// GCInterval is how often to run value log garbage collection.
	// Default: 5 minutes. Set to 0 to disable.
	GCInterval time.Duration
}

// DefaultConfig returns sensible defaults for production use.
func DefaultConfig(path string) Config {
	return Config{
		Path:       path,
		SyncWrites: true,
		GCInterval: 5 * time.Minute,
	}
}

// InMemoryConfig returns configuration optimized for testing.
func InMemoryConfig() Config {
	return Config{
		InMemory:   true,
		SyncWrites: false,
		GCInterval: 0, // disabled
	}
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

// DB wraps the Badger handle with its GC loop lifecycle.
type DB struct {
	*badger.DB
}

// Open creates and opens the database with the given configuration,
// creating the directory if it doesn't exist.
func Open(config Config) (*DB, error) {
	var opts badger.Options
	if config.InMemory {
		opts = badger.DefaultOptions("").WithInMemory(true)
	} else {
		if config.Path == "" {
			return nil, fmt.Errorf("store: Path is required for persistent databases")
		}
		if err := os.MkdirAll(filepath.Clean(config.Path), 0o700); err != nil {
			return nil, fmt.Errorf("store: failed to create directory %s: %w", config.Path, err)
		}
		opts = badger.DefaultOptions(config.Path)
	}
	opts = opts.WithSyncWrites(config.SyncWrites)
	if config.Logger != nil {
		opts = opts.WithLogger(&badgerLogger{logger: config.Logger})
	} else {
		opts = opts.WithLogger(nil)
	}

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("store: failed to open badger at %s: %w", config.Path, err)
	}

	d := &DB{DB: db}
	if config.GCInterval > 0 && !config.InMemory {
		go d.runGC(config.GCInterval)
	}
	return d, nil
}

// runGC periodically reclaims value log space until Close.
func (d *DB) runGC(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for range ticker.C {
		if d.DB.IsClosed() {
			return
		}
		// RunValueLogGC returns ErrNoRewrite when there is nothing to do.
		if err := d.DB.RunValueLogGC(0.5); err != nil &&
			err != badger.ErrNoRewrite && err != badger.ErrRejected {
			slog.Warn("badger value log GC failed", "error", err)
		}
	}
}

// Ping verifies the database accepts transactions. Used by the startup
// tier probe.
func (d *DB) Ping() error {
	return d.DB.View(func(txn *badger.Txn) error { return nil })
}

// Close flushes and closes the database.
func (d *DB) Close() error {
	return d.DB.Close()
}
