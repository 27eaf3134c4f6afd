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
	"fmt"
	"time"
)

// =============================================================================
// Dialogue Stages
// =============================================================================

// Stage is the enumerated position of a conversation within the enrollment
// dialogue. Stages only move forward; the sole backward transition is an
// explicit restart, which returns to StageGreeting.
//
// # State Diagram
//
//	Greeting → CollectingProfile → PresentingOptions → Scheduling
//	        → ConfirmingAppointment → Completed
//
// StageEscalated is reachable from any non-terminal stage and is terminal
// for automation, as is StageCompleted.
type Stage int

const (
	// StageGreeting is the initial stage for a new conversation.
	StageGreeting Stage = iota

	// StageCollectingProfile gathers parent/student details.
	StageCollectingProfile

	// StagePresentingOptions presents programs and the fixed-price quote.
	StagePresentingOptions

	// StageScheduling collects the preferred appointment slot.
	StageScheduling

	// StageConfirmingAppointment confirms the booked slot.
	StageConfirmingAppointment

	// StageCompleted means the booking dialogue finished. Terminal.
	StageCompleted

	// StageEscalated means a human has taken over. Terminal for automation.
	StageEscalated
)

// String returns a stable wire name for the stage.
func (s Stage) String() string {
	switch s {
	case StageGreeting:
		return "greeting"
	case StageCollectingProfile:
		return "collecting_profile"
	case StagePresentingOptions:
		return "presenting_options"
	case StageScheduling:
		return "scheduling"
	case StageConfirmingAppointment:
		return "confirming_appointment"
	case StageCompleted:
		return "completed"
	case StageEscalated:
		return "escalated"
	default:
		return fmt.Sprintf("unknown(%d)", int(s))
	}
}

// Terminal reports whether automation may make further transitions.
func (s Stage) Terminal() bool {
	return s == StageCompleted || s == StageEscalated
}

// Next returns the stage that follows s in the forward dialogue order.
// Terminal stages return themselves.
func (s Stage) Next() Stage {
	if s.Terminal() || s >= StageCompleted {
		return s
	}
	return s + 1
}

// =============================================================================
// Profile Record
// =============================================================================

// Profile holds the customer details collected across the dialogue.
// Every field is optional until filled; empty string (or zero age) means
// not yet collected.
type Profile struct {
	ParentName        string `json:"parent_name,omitempty"`
	StudentName       string `json:"student_name,omitempty"`
	StudentAge        int    `json:"student_age,omitempty"`
	Grade             string `json:"grade,omitempty"`
	ProgramInterest   string `json:"program_interest,omitempty"`
	PreferredSchedule string `json:"preferred_schedule,omitempty"`
}

// =============================================================================
// Conversation State
// =============================================================================

// MaxHistoryMessages bounds the per-conversation message history. The
// history is append-only; once full, the oldest entries are dropped.
const MaxHistoryMessages = 50

// ConversationMessage is a single entry in the conversation history.
type ConversationMessage struct {
	Role      string    `json:"role"` // "user" or "assistant"
	Content   string    `json:"content"`
	Timestamp time.Time `json:"timestamp"`
}

// ConversationState is the per-identity dialogue record. Exactly one
// ConversationState exists per identity, and the dialog machine guarantees
// a single writer per identity at any instant. Archived states are kept
// under a separate keyspace and never deleted.
type ConversationState struct {
	Identity string  `json:"identity"`
	Stage    Stage   `json:"stage"`
	Profile  Profile `json:"profile"`

	History []ConversationMessage `json:"history"`

	// RetryCount tracks clarification attempts for the current stage.
	// Reset on every stage advance.
	RetryCount int `json:"retry_count"`

	// FallbackCount tracks consecutive canned fallback replies caused by
	// downstream failures. Reset on any successful inference.
	FallbackCount int `json:"fallback_count"`

	CreatedAt    time.Time `json:"created_at"`
	LastActivity time.Time `json:"last_activity"`
	Archived     bool      `json:"archived,omitempty"`
}

// NewConversationState creates the initial state for a new identity.
func NewConversationState(identity string, now time.Time) *ConversationState {
	return &ConversationState{
		Identity:     identity,
		Stage:        StageGreeting,
		CreatedAt:    now,
		LastActivity: now,
	}
}

// Append adds a message to the bounded history and bumps LastActivity.
func (c *ConversationState) Append(role, content string, now time.Time) {
	c.History = append(c.History, ConversationMessage{
		Role:      role,
		Content:   content,
		Timestamp: now,
	})
	if len(c.History) > MaxHistoryMessages {
		c.History = c.History[len(c.History)-MaxHistoryMessages:]
	}
	c.LastActivity = now
}

// Advance moves the conversation to the next stage and resets the
// per-stage retry counter. No-op on terminal stages.
func (c *ConversationState) Advance() {
	if c.Stage.Terminal() {
		return
	}
	c.Stage = c.Stage.Next()
	c.RetryCount = 0
}

// Restart returns the conversation to StageGreeting, clearing per-stage
// counters but keeping the collected profile and history. This is the only
// backward stage transition.
func (c *ConversationState) Restart() {
	if c.Stage == StageEscalated {
		return
	}
	c.Stage = StageGreeting
	c.RetryCount = 0
	c.FallbackCount = 0
}

// Escalate hands the conversation to a human. Terminal for automation.
func (c *ConversationState) Escalate() {
	c.Stage = StageEscalated
}

// MissingFields returns the profile fields still required before the
// conversation can advance past its current stage.
func (c *ConversationState) MissingFields() []string {
	var missing []string
	switch c.Stage {
	case StageCollectingProfile:
		if c.Profile.ParentName == "" {
			missing = append(missing, "parent_name")
		}
		if c.Profile.StudentName == "" {
			missing = append(missing, "student_name")
		}
		if c.Profile.Grade == "" {
			missing = append(missing, "grade")
		}
	case StagePresentingOptions:
		if c.Profile.ProgramInterest == "" {
			missing = append(missing, "program_interest")
		}
	case StageScheduling:
		if c.Profile.PreferredSchedule == "" {
			missing = append(missing, "preferred_schedule")
		}
	}
	return missing
}
