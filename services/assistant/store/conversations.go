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
	"errors"
	"fmt"
	"time"

	"github.com/dgraph-io/badger/v4"

	"github.com/AleutianAI/AleutianEngage/services/assistant/datatypes"
)

const (
	convPrefix    = "conv!"
	archivePrefix = "archive!"
)

// ErrNotFound is returned when no conversation exists for an identity.
var ErrNotFound = errors.New("conversation not found")

// ConversationStore persists one ConversationState per identity.
//
// # Thread Safety
//
// Badger transactions make individual operations atomic. The dialog
// machine's per-identity lock guarantees that load-mutate-save sequences
// for one identity never interleave; this store does not re-check that.
type ConversationStore struct {
	db *DB
}

// NewConversationStore wraps an open database.
func NewConversationStore(db *DB) *ConversationStore {
	return &ConversationStore{db: db}
}

func convKey(identity string) []byte {
	return []byte(convPrefix + identity)
}

// Get loads the live conversation state for an identity.
func (s *ConversationStore) Get(identity string) (*datatypes.ConversationState, error) {
	var state datatypes.ConversationState
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(convKey(identity))
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			return json.Unmarshal(val, &state)
		})
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load conversation for %s: %w", identity, err)
	}
	return &state, nil
}

// Put saves the conversation state. Called on every transition, before
// the per-identity lock is released.
func (s *ConversationStore) Put(state *datatypes.ConversationState) error {
	payload, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("failed to marshal conversation for %s: %w", state.Identity, err)
	}
	err = s.db.Update(func(txn *badger.Txn) error {
		return txn.Set(convKey(state.Identity), payload)
	})
	if err != nil {
		return fmt.Errorf("failed to save conversation for %s: %w", state.Identity, err)
	}
	return nil
}

// ArchiveIdle moves conversations whose LastActivity is before the cutoff
// into the archive keyspace. Archived states are retained indefinitely;
// nothing is deleted. Returns the number of conversations archived.
//
// The scan runs outside the dialog machine's per-identity locks, so a
// customer can refresh a candidate between the scan and the commit. Each
// commit therefore re-reads the live record inside its own transaction
// and skips any conversation that is no longer idle.
func (s *ConversationStore) ArchiveIdle(cutoff time.Time) (int, error) {
	var candidates []string

	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = []byte(convPrefix)
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Rewind(); it.Valid(); it.Next() {
			var state datatypes.ConversationState
			err := it.Item().Value(func(val []byte) error {
				return json.Unmarshal(val, &state)
			})
			if err != nil {
				return err
			}
			if state.LastActivity.Before(cutoff) {
				candidates = append(candidates, state.Identity)
			}
		}
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("failed to scan for idle conversations: %w", err)
	}

	archived := 0
	for _, identity := range candidates {
		moved, err := s.archiveOne(identity, cutoff)
		if err != nil {
			return archived, fmt.Errorf("failed to archive conversation for %s: %w", identity, err)
		}
		if moved {
			archived++
		}
	}
	return archived, nil
}

// archiveOne moves a single conversation into the archive keyspace if it
// is still idle past the cutoff at commit time. Returns false if the
// conversation has disappeared or saw activity since the scan.
func (s *ConversationStore) archiveOne(identity string, cutoff time.Time) (bool, error) {
	moved := false
	err := s.db.Update(func(txn *badger.Txn) error {
		item, err := txn.Get(convKey(identity))
		if errors.Is(err, badger.ErrKeyNotFound) {
			return nil
		}
		if err != nil {
			return err
		}

		var state datatypes.ConversationState
		if err := item.Value(func(val []byte) error {
			return json.Unmarshal(val, &state)
		}); err != nil {
			return err
		}
		if !state.LastActivity.Before(cutoff) {
			return nil
		}

		state.Archived = true
		payload, err := json.Marshal(&state)
		if err != nil {
			return err
		}
		archiveKey := fmt.Sprintf("%s%s!%d", archivePrefix, identity, time.Now().UnixNano())
		if err := txn.Set([]byte(archiveKey), payload); err != nil {
			return err
		}
		if err := txn.Delete(convKey(identity)); err != nil {
			return err
		}
		moved = true
		return nil
	})
	return moved, err
}
