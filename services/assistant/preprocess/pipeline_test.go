// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package preprocess

import (
	"testing"
	"time"

	"github.com/AleutianAI/AleutianEngage/services/assistant/datatypes"
	"github.com/AleutianAI/AleutianEngage/services/assistant/ratelimit"
	"github.com/AleutianAI/AleutianEngage/services/assistant/rules"
	"github.com/AleutianAI/AleutianEngage/services/assistant/store"
)

// testGate builds a gate over an in-memory store with an always-open (or
// always-closed) schedule.
func testGate(t *testing.T, open bool, limit int, ready bool) (*Gate, *store.AuditLog) {
	t.Helper()
	db, err := store.Open(store.InMemoryConfig())
	if err != nil {
		t.Fatalf("failed to open in-memory store: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })

	sanitizer, err := rules.NewSanitizer(datatypes.MaxMessageBytes)
	if err != nil {
		t.Fatalf("failed to build sanitizer: %v", err)
	}

	schedule := rules.Schedule{}
	if open {
		schedule = rules.Schedule{Days: map[string][]rules.Interval{
			"monday": {{Start: "00:00", End: "23:59"}}, "tuesday": {{Start: "00:00", End: "23:59"}},
			"wednesday": {{Start: "00:00", End: "23:59"}}, "thursday": {{Start: "00:00", End: "23:59"}},
			"friday": {{Start: "00:00", End: "23:59"}}, "saturday": {{Start: "00:00", End: "23:59"}},
			"sunday": {{Start: "00:00", End: "23:59"}},
		}}
	}

	audit := store.NewAuditLog(db)
	gate := NewGate(
		sanitizer,
		ratelimit.NewLimiter(ratelimit.Config{Limit: limit, Window: time.Hour}),
		store.NewDedupSet(db, time.Minute),
		audit,
		func() rules.Schedule { return schedule },
		func() bool { return ready },
		DefaultReplies(),
	)
	return gate, audit
}

func msg(id, identity, text string) datatypes.InboundMessage {
	return datatypes.InboundMessage{
		MessageID:  id,
		Identity:   identity,
		Text:       text,
		ReceivedAt: time.Now(),
	}
}

func TestGate_AdmitsValidMessage(t *testing.T) {
	gate, _ := testGate(t, true, 50, true)
	v := gate.Process(msg("m1", "+15550001111", "hello, I'd like tutoring for my son"))
	if !v.Admitted {
		t.Fatalf("verdict = %+v, want admitted", v)
	}
}

func TestGate_DuplicateDroppedSilently(t *testing.T) {
	gate, _ := testGate(t, true, 50, true)

	first := gate.Process(msg("m1", "+15550001111", "hello"))
	if !first.Admitted {
		t.Fatalf("first delivery should be admitted, got %+v", first)
	}
	second := gate.Process(msg("m1", "+15550001111", "hello"))
	if second.Admitted {
		t.Error("duplicate delivery must not be admitted")
	}
	if second.Reason != datatypes.ReasonDuplicate || !second.Silent() {
		t.Errorf("duplicate verdict = %+v, want silent duplicate", second)
	}
}

func TestGate_DuplicateDoesNotConsumeRateBudget(t *testing.T) {
	gate, _ := testGate(t, true, 2, true)

	gate.Process(msg("m1", "+15550001111", "one"))
	for i := 0; i < 5; i++ {
		gate.Process(msg("m1", "+15550001111", "one")) // redeliveries
	}
	v := gate.Process(msg("m2", "+15550001111", "two"))
	if !v.Admitted {
		t.Errorf("second unique message should be admitted, got %+v", v)
	}
}

func TestGate_SanitationOutranksRateLimitAndHours(t *testing.T) {
	// Closed schedule and a zero-size window: every rule is violated, but
	// the sanitation reason must win.
	gate, _ := testGate(t, false, 1, true)
	gate.Process(msg("m0", "+15550001111", "burn the window"))

	v := gate.Process(msg("m1", "+15550001111", "<script>alert(1)</script>"))
	if v.Admitted || v.Reason != datatypes.ReasonInvalidInput {
		t.Errorf("verdict = %+v, want invalid_input", v)
	}
	if v.Reply == "" || v.Reply == "<script>alert(1)</script>" {
		t.Error("reply must be canned and must not reflect input")
	}
}

func TestGate_RateLimitOutranksHours(t *testing.T) {
	gate, _ := testGate(t, false, 1, true)
	gate.Process(msg("m0", "+15550001111", "first"))

	v := gate.Process(msg("m1", "+15550001111", "second"))
	if v.Reason != datatypes.ReasonRateLimited {
		t.Errorf("reason = %s, want rate_limited before outside_hours", v.Reason)
	}
}

func TestGate_OutsideHoursRejected(t *testing.T) {
	gate, audit := testGate(t, false, 50, true)

	v := gate.Process(msg("m1", "+15550001111", "evening question"))
	if v.Admitted || v.Reason != datatypes.ReasonOutsideHours {
		t.Fatalf("verdict = %+v, want outside_hours rejection", v)
	}
	if v.Reply == "" {
		t.Error("out-of-hours rejection must carry a canned reply")
	}

	// The message is still recorded for human follow-up.
	records, err := audit.Recent(10)
	if err != nil {
		t.Fatalf("audit read failed: %v", err)
	}
	if len(records) != 1 || records[0].Detail != "rejected:outside_hours" {
		t.Errorf("audit records = %+v, want one outside_hours verdict", records)
	}
}

func TestGate_NotReadyRejectsBeforeAnythingElse(t *testing.T) {
	gate, _ := testGate(t, true, 50, false)
	v := gate.Process(msg("m1", "+15550001111", "hello"))
	if v.Reason != datatypes.ReasonUnavailable {
		t.Errorf("reason = %s, want service_unavailable while tiers are down", v.Reason)
	}
}

func TestGate_VerdictsAreAudited(t *testing.T) {
	gate, audit := testGate(t, true, 50, true)
	gate.Process(msg("m1", "+15550001111", "hello"))
	gate.Process(msg("m2", "+15550001111", "<script>x</script>"))

	records, err := audit.Recent(10)
	if err != nil {
		t.Fatalf("audit read failed: %v", err)
	}
	if len(records) != 2 {
		t.Fatalf("len(records) = %d, want 2", len(records))
	}
}
