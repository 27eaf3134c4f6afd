package llm

import (
	"context"
	"errors"
)

// ErrNoBackend means no inference backend was configured.
var ErrNoBackend = errors.New("no inference backend configured")

// Intent is the parsed purpose of a customer message.
type Intent string

const (
	// IntentProvideInfo means the message filled one or more profile slots.
	IntentProvideInfo Intent = "provide_info"

	// IntentChooseProgram means the customer picked a program option.
	IntentChooseProgram Intent = "choose_program"

	// IntentConfirm means the customer confirmed the proposed appointment.
	IntentConfirm Intent = "confirm"

	// IntentRestart means the customer asked to start over.
	IntentRestart Intent = "restart"

	// IntentHuman means the customer asked for a human.
	IntentHuman Intent = "human"

	// IntentUnclear means the message could not be mapped to the dialogue.
	IntentUnclear Intent = "unclear"
)

// Turn is one prior exchange in the conversation, oldest first.
type Turn struct {
	Role    string `json:"role"` // "user" or "assistant"
	Content string `json:"content"`
}

// Request carries the conversation context for one inference call.
type Request struct {
	Identity      string            `json:"identity"`
	Stage         string            `json:"stage"`
	History       []Turn            `json:"history"`
	Profile       map[string]string `json:"profile"`
	MissingFields []string          `json:"missing_fields"`
	UserMessage   string            `json:"user_message"`
}

// Result is the structured inference output: the parsed intent, any slot
// values extracted from the message, and a draft reply. The dialog machine
// owns the final reply text; in particular all pricing comes from
// configuration, never from ReplyText.
type Result struct {
	Intent    Intent            `json:"intent"`
	Slots     map[string]string `json:"slots"`
	ReplyText string            `json:"reply_text"`
}

// InferenceClient defines the standard interface for any LLM backend.
type InferenceClient interface {
	Infer(ctx context.Context, req Request) (*Result, error)
}

// UnavailableClient is the stand-in when no backend is configured. Every
// call fails with a 503 so the recovery layer serves fallback replies.
type UnavailableClient struct{}

func (UnavailableClient) Infer(_ context.Context, _ Request) (*Result, error) {
	return nil, &ProviderError{Status: 503, Err: ErrNoBackend}
}
