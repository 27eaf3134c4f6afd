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
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/AleutianEngage/services/assistant/datatypes"
)

func openTestDB(t *testing.T) *DB {
	t.Helper()
	db, err := Open(InMemoryConfig())
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func TestConversationStore_RoundTrip(t *testing.T) {
	s := NewConversationStore(openTestDB(t))

	state := datatypes.NewConversationState("+15550001111", time.Now())
	state.Profile.ParentName = "Dana"
	state.Append("user", "hello", time.Now())
	require.NoError(t, s.Put(state))

	loaded, err := s.Get("+15550001111")
	require.NoError(t, err)
	assert.Equal(t, datatypes.StageGreeting, loaded.Stage)
	assert.Equal(t, "Dana", loaded.Profile.ParentName)
	assert.Len(t, loaded.History, 1)
}

func TestConversationStore_GetMissing(t *testing.T) {
	s := NewConversationStore(openTestDB(t))
	_, err := s.Get("+15559999999")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestConversationStore_ArchiveIdle(t *testing.T) {
	s := NewConversationStore(openTestDB(t))
	now := time.Now()

	stale := datatypes.NewConversationState("+15550000001", now.Add(-48*time.Hour))
	fresh := datatypes.NewConversationState("+15550000002", now)
	require.NoError(t, s.Put(stale))
	require.NoError(t, s.Put(fresh))

	archived, err := s.ArchiveIdle(now.Add(-24 * time.Hour))
	require.NoError(t, err)
	assert.Equal(t, 1, archived)

	_, err = s.Get("+15550000001")
	assert.ErrorIs(t, err, ErrNotFound, "archived conversation leaves the live keyspace")

	_, err = s.Get("+15550000002")
	assert.NoError(t, err, "active conversation stays live")
}

func TestAuditLog_AppendAndRecent(t *testing.T) {
	a := NewAuditLog(openTestDB(t))
	base := time.Now()

	for i := 0; i < 5; i++ {
		require.NoError(t, a.Append(AuditRecord{
			Kind:      AuditVerdict,
			Identity:  "+15550001111",
			MessageID: "wamid.1",
			Detail:    "admitted",
			Timestamp: base.Add(time.Duration(i) * time.Second),
		}))
	}

	records, err := a.Recent(3)
	require.NoError(t, err)
	require.Len(t, records, 3)
	// Newest first.
	assert.True(t, records[0].Timestamp.After(records[1].Timestamp))
	assert.True(t, records[1].Timestamp.After(records[2].Timestamp))
	assert.NotEmpty(t, records[0].ID)
}

func TestArchiver_SweepsOnInterval(t *testing.T) {
	s := NewConversationStore(openTestDB(t))
	stale := datatypes.NewConversationState("+15550000001", time.Now().Add(-48*time.Hour))
	require.NoError(t, s.Put(stale))

	a := NewArchiver(s, ArchiverConfig{
		Interval:  10 * time.Millisecond,
		IdleAfter: 24 * time.Hour,
	})
	a.Start()
	defer a.Stop()

	assert.Eventually(t, func() bool {
		_, err := s.Get("+15550000001")
		return err == ErrNotFound
	}, 5*time.Second, 20*time.Millisecond, "idle conversation should be archived by the sweep")
}

func TestDedupSet_Seen(t *testing.T) {
	d := NewDedupSet(openTestDB(t), time.Minute)

	seen, err := d.Seen("wamid.abc")
	require.NoError(t, err)
	assert.False(t, seen, "first delivery is new")

	seen, err = d.Seen("wamid.abc")
	require.NoError(t, err)
	assert.True(t, seen, "second delivery is a duplicate")

	seen, err = d.Seen("wamid.other")
	require.NoError(t, err)
	assert.False(t, seen, "different message id is unaffected")
}

func TestConversationStore_ArchiveCommitRechecksActivity(t *testing.T) {
	s := NewConversationStore(openTestDB(t))
	now := time.Now()
	cutoff := now.Add(-24 * time.Hour)

	// The customer wrote again after the sweep scanned them as idle; the
	// commit must notice the fresh LastActivity and leave the live record.
	refreshed := datatypes.NewConversationState("+15550000001", now)
	require.NoError(t, s.Put(refreshed))

	moved, err := s.archiveOne("+15550000001", cutoff)
	require.NoError(t, err)
	assert.False(t, moved, "a refreshed conversation must not be archived")
	_, err = s.Get("+15550000001")
	assert.NoError(t, err, "the live conversation survives the sweep")

	// A genuinely idle conversation still moves.
	stale := datatypes.NewConversationState("+15550000002", now.Add(-48*time.Hour))
	require.NoError(t, s.Put(stale))

	moved, err = s.archiveOne("+15550000002", cutoff)
	require.NoError(t, err)
	assert.True(t, moved)
	_, err = s.Get("+15550000002")
	assert.ErrorIs(t, err, ErrNotFound)

	// An identity deleted between scan and commit is a clean no-op.
	moved, err = s.archiveOne("+15550000003", cutoff)
	require.NoError(t, err)
	assert.False(t, moved)
}

func TestArchiver_RestartsAfterStop(t *testing.T) {
	s := NewConversationStore(openTestDB(t))
	a := NewArchiver(s, ArchiverConfig{
		Interval:  10 * time.Millisecond,
		IdleAfter: 24 * time.Hour,
	})

	a.Start()
	a.Stop()

	stale := datatypes.NewConversationState("+15550000001", time.Now().Add(-48*time.Hour))
	require.NoError(t, s.Put(stale))

	a.Start()
	defer a.Stop()

	assert.Eventually(t, func() bool {
		_, err := s.Get("+15550000001")
		return err == ErrNotFound
	}, 5*time.Second, 20*time.Millisecond, "a restarted archiver should sweep again")
}
