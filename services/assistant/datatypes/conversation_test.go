// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package datatypes

import (
	"testing"
	"time"
)

func TestStage_ForwardOrder(t *testing.T) {
	order := []Stage{
		StageGreeting,
		StageCollectingProfile,
		StagePresentingOptions,
		StageScheduling,
		StageConfirmingAppointment,
		StageCompleted,
	}
	for i := 0; i < len(order)-1; i++ {
		if got := order[i].Next(); got != order[i+1] {
			t.Errorf("Next(%s) = %s, want %s", order[i], got, order[i+1])
		}
	}
}

func TestStage_TerminalStagesDoNotAdvance(t *testing.T) {
	for _, s := range []Stage{StageCompleted, StageEscalated} {
		if !s.Terminal() {
			t.Errorf("%s should be terminal", s)
		}
		if got := s.Next(); got != s {
			t.Errorf("Next(%s) = %s, terminal stages must not advance", s, got)
		}
	}
}

func TestConversationState_AdvanceResetsRetryCount(t *testing.T) {
	c := NewConversationState("+15550001111", time.Now())
	c.RetryCount = 2
	c.Advance()
	if c.Stage != StageCollectingProfile {
		t.Fatalf("Stage = %s, want collecting_profile", c.Stage)
	}
	if c.RetryCount != 0 {
		t.Errorf("RetryCount = %d, want 0 after advance", c.RetryCount)
	}
}

func TestConversationState_RestartKeepsProfile(t *testing.T) {
	c := NewConversationState("+15550001111", time.Now())
	c.Profile.ParentName = "Dana"
	c.Stage = StageScheduling
	c.Restart()
	if c.Stage != StageGreeting {
		t.Errorf("Stage = %s, want greeting after restart", c.Stage)
	}
	if c.Profile.ParentName != "Dana" {
		t.Errorf("Restart must not clear the collected profile")
	}
}

func TestConversationState_RestartDoesNotResurrectEscalated(t *testing.T) {
	c := NewConversationState("+15550001111", time.Now())
	c.Escalate()
	c.Restart()
	if c.Stage != StageEscalated {
		t.Errorf("Stage = %s, escalated conversations stay escalated", c.Stage)
	}
}

func TestConversationState_HistoryBounded(t *testing.T) {
	c := NewConversationState("+15550001111", time.Now())
	for i := 0; i < MaxHistoryMessages+10; i++ {
		c.Append("user", "hello", time.Now())
	}
	if len(c.History) != MaxHistoryMessages {
		t.Errorf("history length = %d, want %d", len(c.History), MaxHistoryMessages)
	}
}

func TestConversationState_MissingFields(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*ConversationState)
		missing int
	}{
		{
			name:    "collecting profile with empty profile",
			mutate:  func(c *ConversationState) { c.Stage = StageCollectingProfile },
			missing: 3,
		},
		{
			name: "collecting profile fully filled",
			mutate: func(c *ConversationState) {
				c.Stage = StageCollectingProfile
				c.Profile = Profile{ParentName: "Dana", StudentName: "Ari", Grade: "5"}
			},
			missing: 0,
		},
		{
			name:    "greeting requires nothing",
			mutate:  func(c *ConversationState) { c.Stage = StageGreeting },
			missing: 0,
		},
		{
			name:    "scheduling needs preferred slot",
			mutate:  func(c *ConversationState) { c.Stage = StageScheduling },
			missing: 1,
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			c := NewConversationState("+15550001111", time.Now())
			tc.mutate(c)
			if got := len(c.MissingFields()); got != tc.missing {
				t.Errorf("len(MissingFields()) = %d, want %d", got, tc.missing)
			}
		})
	}
}

func TestInboundMessage_Validate(t *testing.T) {
	valid := InboundMessage{
		MessageID:  "wamid.1",
		Identity:   "+15550001111",
		Text:       "hi",
		ReceivedAt: time.Now(),
	}
	if err := valid.Validate(); err != nil {
		t.Fatalf("valid envelope rejected: %v", err)
	}

	oversized := valid
	oversized.Text = string(make([]byte, MaxMessageBytes+1))
	if err := oversized.Validate(); err == nil {
		t.Error("oversized body must fail validation")
	}

	noIdentity := valid
	noIdentity.Identity = ""
	if err := noIdentity.Validate(); err == nil {
		t.Error("missing identity must fail validation")
	}
}

func TestVerdict_DuplicateIsSilent(t *testing.T) {
	v := Reject(ReasonDuplicate, "")
	if !v.Silent() {
		t.Error("duplicate rejections must be silent")
	}
	if Reject(ReasonOutsideHours, "closed").Silent() {
		t.Error("out-of-hours rejections must carry a reply")
	}
}
