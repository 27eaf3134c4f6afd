// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package store

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/google/uuid"
)

const auditPrefix = "audit!"

// =============================================================================
// Audit Log
// =============================================================================

// AuditKind identifies what an audit record describes.
type AuditKind string

const (
	// AuditVerdict records the preprocessor's decision for one message,
	// admitted or rejected. Required for compliance review of refusals.
	AuditVerdict AuditKind = "verdict"

	// AuditTransition records one conversation stage transition.
	AuditTransition AuditKind = "transition"

	// AuditReply records an outbound reply delivery attempt.
	AuditReply AuditKind = "reply"
)

// AuditRecord is one append-only compliance entry. Records are never
// updated or deleted by the service.
type AuditRecord struct {
	ID        string    `json:"id"`
	Kind      AuditKind `json:"kind"`
	Identity  string    `json:"identity"`
	MessageID string    `json:"message_id,omitempty"`
	// Detail is a short machine-readable summary: the verdict reason, the
	// "from->to" stage pair, or the delivery result. Message bodies are
	// not stored here; the conversation history holds those.
	Detail    string    `json:"detail"`
	Timestamp time.Time `json:"timestamp"`
}

// AuditLog is the append-only audit sink backed by the shared database.
// Keys embed a zero-padded nanosecond timestamp so lexical order is
// chronological order.
type AuditLog struct {
	db *DB
}

// NewAuditLog wraps an open database.
func NewAuditLog(db *DB) *AuditLog {
	return &AuditLog{db: db}
}

// Append writes one record. Append failures are surfaced to the caller
// but must not block message processing; callers log and continue.
func (a *AuditLog) Append(record AuditRecord) error {
	if record.ID == "" {
		record.ID = uuid.NewString()
	}
	if record.Timestamp.IsZero() {
		record.Timestamp = time.Now()
	}
	payload, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("failed to marshal audit record: %w", err)
	}
	key := fmt.Sprintf("%s%020d!%s", auditPrefix, record.Timestamp.UnixNano(), record.ID)
	err = a.db.Update(func(txn *badger.Txn) error {
		return txn.Set([]byte(key), payload)
	})
	if err != nil {
		return fmt.Errorf("failed to append audit record: %w", err)
	}
	return nil
}

// Recent returns up to n records, newest first, for the admin API and
// engagectl.
func (a *AuditLog) Recent(n int) ([]AuditRecord, error) {
	if n <= 0 {
		n = 50
	}
	var records []AuditRecord
	err := a.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = []byte(auditPrefix)
		opts.Reverse = true
		it := txn.NewIterator(opts)
		defer it.Close()

		// In reverse mode iteration starts from the highest key under
		// the prefix; seek just past it.
		seek := append([]byte(auditPrefix), 0xFF)
		for it.Seek(seek); it.Valid() && len(records) < n; it.Next() {
			var record AuditRecord
			err := it.Item().Value(func(val []byte) error {
				return json.Unmarshal(val, &record)
			})
			if err != nil {
				return err
			}
			records = append(records, record)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to read audit records: %w", err)
	}
	return records, nil
}
