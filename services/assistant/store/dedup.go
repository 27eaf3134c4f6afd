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
	"errors"
	"fmt"
	"time"

	"github.com/dgraph-io/badger/v4"
)

const dedupPrefix = "dedup!"

// DedupSet suppresses duplicate webhook deliveries. Markers are persisted
// with a native TTL so duplicate suppression survives restarts within the
// provider's redelivery window, then expires on its own.
type DedupSet struct {
	db  *DB
	ttl time.Duration
}

// NewDedupSet wraps an open database. The TTL must be at least as long as
// the expected redelivery window; default 10 minutes.
func NewDedupSet(db *DB, ttl time.Duration) *DedupSet {
	if ttl <= 0 {
		ttl = 10 * time.Minute
	}
	return &DedupSet{db: db, ttl: ttl}
}

// Seen atomically records the message id and reports whether it had been
// seen before. The first caller for an id gets false; every caller within
// the TTL afterwards gets true.
func (d *DedupSet) Seen(messageID string) (bool, error) {
	key := []byte(dedupPrefix + messageID)
	seen := false
	err := d.db.Update(func(txn *badger.Txn) error {
		_, err := txn.Get(key)
		if err == nil {
			seen = true
			return nil
		}
		if !errors.Is(err, badger.ErrKeyNotFound) {
			return err
		}
		entry := badger.NewEntry(key, []byte{1}).WithTTL(d.ttl)
		return txn.SetEntry(entry)
	})
	if err != nil {
		return false, fmt.Errorf("failed to check dedup marker for %s: %w", messageID, err)
	}
	return seen, nil
}
