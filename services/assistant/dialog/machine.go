// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package dialog drives the enrollment conversation. The Machine is the
// only writer of conversation state: it holds a per-identity lock across
// load, inference, transition, and persist, so concurrent deliveries for
// one identity serialize and deliveries for different identities run in
// parallel.
package dialog

import (
	"context"
	"fmt"
	"hash/fnv"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/AleutianAI/AleutianEngage/services/assistant/datatypes"
	"github.com/AleutianAI/AleutianEngage/services/assistant/recovery"
	"github.com/AleutianAI/AleutianEngage/services/assistant/rules"
	"github.com/AleutianAI/AleutianEngage/services/assistant/store"
	"github.com/AleutianAI/AleutianEngage/services/llm"
)

// llmDependency is the breaker name the machine calls inference under.
const llmDependency = "llm"

// =============================================================================
// Configuration
// =============================================================================

// Config holds the dialogue policy knobs.
type Config struct {
	// MaxClarifications is the ceiling on consecutive unclear messages in
	// one stage before the conversation is escalated. Default: 3.
	MaxClarifications int `yaml:"max_clarifications" json:"max_clarifications"`

	// MaxFallbacks is the ceiling on consecutive canned fallback replies
	// caused by downstream failures before escalation. Default: 3.
	MaxFallbacks int `yaml:"max_fallbacks" json:"max_fallbacks"`

	Replies Replies `yaml:"replies" json:"replies"`
}

// Replies holds the canned dialogue texts used when inference is
// unavailable or the conversation leaves automation.
type Replies struct {
	Fallback  string `yaml:"fallback" json:"fallback"`
	Escalated string `yaml:"escalated" json:"escalated"`
	Clarify   string `yaml:"clarify" json:"clarify"`
	Completed string `yaml:"completed" json:"completed"`
}

// DefaultConfig returns production defaults.
func DefaultConfig() Config {
	return Config{
		MaxClarifications: 3,
		MaxFallbacks:      3,
		Replies: Replies{
			Fallback:  "Sorry, we're having a temporary issue on our side. Please try again in a few minutes.",
			Escalated: "I've passed your conversation to one of our staff, who will get back to you shortly.",
			Clarify:   "Sorry, I didn't quite catch that. Could you rephrase?",
			Completed: "Your appointment is all set! Send \"restart\" if you'd like to book another.",
		},
	}
}

// TransitionFunc observes committed stage transitions, for metrics.
type TransitionFunc func(identity string, from, to datatypes.Stage)

// Outcome is the result of processing one admitted message.
type Outcome struct {
	Reply     string
	Stage     datatypes.Stage
	Escalated bool
}

// =============================================================================
// Machine
// =============================================================================

// lockStripes sizes the fixed lock table. Identities hash onto stripes,
// so the table never grows with traffic; two identities sharing a stripe
// serialize against each other, which is harmless.
const lockStripes = 256

// Machine is the conversation state machine.
//
// # Thread Safety
//
// Safe for concurrent use. A per-identity mutex guards the whole
// load-infer-transition-persist cycle; identities map onto a fixed
// striped lock table, so one identity always takes the same mutex.
type Machine struct {
	conversations *store.ConversationStore
	inference     llm.InferenceClient
	orchestrator  *recovery.Orchestrator
	audit         *store.AuditLog
	pricing       func() rules.PricePolicy
	config        Config
	onTransition  TransitionFunc
	now           func() time.Time

	locks [lockStripes]sync.Mutex
}

// NewMachine wires the dialogue machine. pricing must return the current
// price policy; the config watcher swaps it atomically on reload.
func NewMachine(
	conversations *store.ConversationStore,
	inference llm.InferenceClient,
	orchestrator *recovery.Orchestrator,
	audit *store.AuditLog,
	pricing func() rules.PricePolicy,
	config Config,
) *Machine {
	if config.MaxClarifications <= 0 {
		config.MaxClarifications = 3
	}
	if config.MaxFallbacks <= 0 {
		config.MaxFallbacks = 3
	}
	return &Machine{
		conversations: conversations,
		inference:     inference,
		orchestrator:  orchestrator,
		audit:         audit,
		pricing:       pricing,
		config:        config,
		now:           time.Now,
	}
}

// OnTransition registers the transition observer. Must be called before
// the first ProcessMessage.
func (m *Machine) OnTransition(fn TransitionFunc) {
	m.onTransition = fn
}

func (m *Machine) lockFor(identity string) *sync.Mutex {
	h := fnv.New32a()
	h.Write([]byte(identity))
	return &m.locks[h.Sum32()%lockStripes]
}

// ProcessMessage runs one admitted message through the dialogue.
//
// # Description
//
// Loads (or creates) the identity's conversation, appends the user
// message, runs inference through the recovery orchestrator, applies the
// resulting intent to the state machine, persists on every exit path, and
// returns the reply to deliver. Inference failures never advance the
// stage: the caller gets a fallback reply and the conversation escalates
// only after MaxFallbacks consecutive failures.
func (m *Machine) ProcessMessage(ctx context.Context, msg datatypes.InboundMessage) (Outcome, error) {
	lock := m.lockFor(msg.Identity)
	lock.Lock()
	defer lock.Unlock()

	now := m.now()
	state, err := m.conversations.Get(msg.Identity)
	if err != nil {
		if err != store.ErrNotFound {
			return Outcome{}, fmt.Errorf("failed to load conversation for %s: %w", msg.Identity, err)
		}
		state = datatypes.NewConversationState(msg.Identity, now)
		slog.Info("starting new conversation", "identity", msg.Identity)
	}

	if state.Stage == datatypes.StageEscalated {
		// A human owns this conversation; record the message and hold.
		state.Append("user", msg.Text, now)
		if err := m.conversations.Put(state); err != nil {
			return Outcome{}, err
		}
		return Outcome{Reply: m.config.Replies.Escalated, Stage: state.Stage, Escalated: true}, nil
	}

	state.Append("user", msg.Text, now)

	result, inferErr := m.infer(ctx, state, msg.Text)
	var reply string
	switch {
	case inferErr != nil:
		reply = m.applyFailure(state, inferErr)
	default:
		reply = m.applyResult(state, result)
	}

	state.Append("assistant", reply, m.now())
	if err := m.conversations.Put(state); err != nil {
		return Outcome{}, fmt.Errorf("failed to persist conversation for %s: %w", msg.Identity, err)
	}

	return Outcome{
		Reply:     reply,
		Stage:     state.Stage,
		Escalated: state.Stage == datatypes.StageEscalated,
	}, nil
}

// infer calls the LLM collaborator through its circuit breaker.
func (m *Machine) infer(ctx context.Context, state *datatypes.ConversationState, text string) (*llm.Result, error) {
	req := llm.Request{
		Identity:      state.Identity,
		Stage:         state.Stage.String(),
		Profile:       profileMap(state.Profile),
		MissingFields: state.MissingFields(),
		UserMessage:   text,
	}
	for _, entry := range state.History {
		req.History = append(req.History, llm.Turn{Role: entry.Role, Content: entry.Content})
	}

	var result *llm.Result
	err := m.orchestrator.Do(ctx, llmDependency, func(callCtx context.Context) error {
		var callErr error
		result, callErr = m.inference.Infer(callCtx, req)
		return callErr
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// applyFailure maps a classified inference failure to a reply. The stage
// never changes on failure; repeated failures escalate.
func (m *Machine) applyFailure(state *datatypes.ConversationState, err error) string {
	slog.Warn("inference failed, using fallback reply",
		"identity", state.Identity,
		"stage", state.Stage.String(),
		"unavailable", recovery.IsUnavailable(err),
		"permanent", recovery.IsPermanent(err),
		"error", err)

	state.FallbackCount++
	if state.FallbackCount >= m.config.MaxFallbacks {
		m.transition(state, datatypes.StageEscalated)
		return m.config.Replies.Escalated
	}
	return m.config.Replies.Fallback
}

// applyResult applies a successful inference result to the state machine
// and builds the outbound reply.
func (m *Machine) applyResult(state *datatypes.ConversationState, result *llm.Result) string {
	state.FallbackCount = 0
	applySlots(&state.Profile, result.Slots)

	switch result.Intent {
	case llm.IntentHuman:
		m.transition(state, datatypes.StageEscalated)
		return m.config.Replies.Escalated

	case llm.IntentRestart:
		from := state.Stage
		state.Restart()
		m.recordTransition(state.Identity, from, state.Stage)
		return m.replyText(result, m.config.Replies.Clarify)

	case llm.IntentUnclear:
		if state.Stage == datatypes.StageCompleted {
			return m.config.Replies.Completed
		}
		state.RetryCount++
		if state.RetryCount >= m.config.MaxClarifications {
			m.transition(state, datatypes.StageEscalated)
			return m.config.Replies.Escalated
		}
		return m.replyText(result, m.config.Replies.Clarify)
	}

	if state.Stage == datatypes.StageCompleted {
		return m.config.Replies.Completed
	}

	reply := m.replyText(result, m.config.Replies.Clarify)
	if m.canAdvance(state, result.Intent) {
		from := state.Stage
		state.Advance()
		m.recordTransition(state.Identity, from, state.Stage)

		// Pricing lines are always rebuilt from policy; any figure the
		// model drafted is discarded with the rest of its reply framing.
		switch state.Stage {
		case datatypes.StagePresentingOptions:
			reply = reply + "\n" + m.feeLine()
		case datatypes.StageCompleted:
			reply = reply + "\n" + m.totalLine(state.Profile)
		}
	}
	return reply
}

// canAdvance reports whether the current message moves the dialogue
// forward: all stage-required profile fields are present, and the final
// confirmation stage additionally requires an explicit confirm intent.
func (m *Machine) canAdvance(state *datatypes.ConversationState, intent llm.Intent) bool {
	if state.Stage.Terminal() {
		return false
	}
	if len(state.MissingFields()) > 0 {
		return false
	}
	if state.Stage == datatypes.StageConfirmingAppointment {
		return intent == llm.IntentConfirm
	}
	return true
}

// transition moves to an explicit stage (escalation) and records it.
func (m *Machine) transition(state *datatypes.ConversationState, to datatypes.Stage) {
	from := state.Stage
	if to == datatypes.StageEscalated {
		state.Escalate()
	} else {
		state.Stage = to
	}
	m.recordTransition(state.Identity, from, state.Stage)
}

func (m *Machine) recordTransition(identity string, from, to datatypes.Stage) {
	if from == to {
		return
	}
	slog.Info("conversation stage transition",
		"identity", identity, "from", from.String(), "to", to.String())
	if m.onTransition != nil {
		m.onTransition(identity, from, to)
	}
	if m.audit == nil {
		return
	}
	err := m.audit.Append(store.AuditRecord{
		Kind:     store.AuditTransition,
		Identity: identity,
		Detail:   from.String() + "->" + to.String(),
	})
	if err != nil {
		slog.Error("failed to append transition audit record",
			"identity", identity, "error", err)
	}
}

// replyText prefers the model's draft, falling back to the canned text.
func (m *Machine) replyText(result *llm.Result, fallback string) string {
	if text := strings.TrimSpace(result.ReplyText); text != "" {
		return text
	}
	return fallback
}

// =============================================================================
// Pricing Lines
// =============================================================================

// feeLine states the configured fee schedule. Emitted when the dialogue
// enters the options stage; values come from policy, never from the model.
func (m *Machine) feeLine() string {
	policy := m.pricing()
	return fmt.Sprintf("Our fee is %s per subject per month, plus a one-time %s enrollment fee.",
		policy.FormatAmount(policy.SubjectFeeCents),
		policy.FormatAmount(policy.EnrollmentFeeCents))
}

// totalLine states the total for the chosen subjects, checked against the
// policy post-condition before it leaves the machine.
func (m *Machine) totalLine(profile datatypes.Profile) string {
	policy := m.pricing()
	quote := policy.QuoteFor(countSubjects(profile.ProgramInterest))
	if err := policy.CheckQuote(quote); err != nil {
		slog.Error("quote post-condition failed", "error", err)
		return m.feeLine()
	}
	return fmt.Sprintf("Your total is %s for %d subject(s), including the %s enrollment fee.",
		policy.FormatAmount(quote.TotalCents),
		quote.Subjects,
		policy.FormatAmount(quote.EnrollmentFeeCents))
}

// countSubjects treats the program interest as a comma-separated subject
// list. An empty interest counts as one subject.
func countSubjects(interest string) int {
	n := 0
	for _, part := range strings.Split(interest, ",") {
		if strings.TrimSpace(part) != "" {
			n++
		}
	}
	if n < 1 {
		n = 1
	}
	return n
}

// =============================================================================
// Slot Handling
// =============================================================================

// applySlots copies extracted slot values into the profile. Unknown slot
// names are ignored; existing values are only overwritten by non-empty
// extractions.
func applySlots(profile *datatypes.Profile, slots map[string]string) {
	for name, value := range slots {
		value = strings.TrimSpace(value)
		if value == "" {
			continue
		}
		switch name {
		case "parent_name":
			profile.ParentName = value
		case "student_name":
			profile.StudentName = value
		case "student_age":
			var age int
			if _, err := fmt.Sscanf(value, "%d", &age); err == nil && age > 0 {
				profile.StudentAge = age
			}
		case "grade":
			profile.Grade = value
		case "program_interest":
			profile.ProgramInterest = value
		case "preferred_schedule":
			profile.PreferredSchedule = value
		default:
			slog.Debug("ignoring unknown slot", "slot", name)
		}
	}
}

func profileMap(p datatypes.Profile) map[string]string {
	out := make(map[string]string, 6)
	if p.ParentName != "" {
		out["parent_name"] = p.ParentName
	}
	if p.StudentName != "" {
		out["student_name"] = p.StudentName
	}
	if p.StudentAge > 0 {
		out["student_age"] = fmt.Sprintf("%d", p.StudentAge)
	}
	if p.Grade != "" {
		out["grade"] = p.Grade
	}
	if p.ProgramInterest != "" {
		out["program_interest"] = p.ProgramInterest
	}
	if p.PreferredSchedule != "" {
		out["preferred_schedule"] = p.PreferredSchedule
	}
	return out
}
