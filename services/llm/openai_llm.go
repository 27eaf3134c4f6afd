package llm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/sashabaranov/go-openai"
)

// systemPrompt constrains the model to the dialogue protocol. The model
// extracts intent and slots; it never decides pricing or stage order.
const systemPrompt = `You are the intake assistant for a tutoring business.
Given the conversation stage, the collected profile, and the customer's
latest WhatsApp message, respond with a single JSON object:
{"intent": one of ["provide_info","choose_program","confirm","restart","human","unclear"],
 "slots": {optional string values for: parent_name, student_name, student_age, grade, program_interest, preferred_schedule},
 "reply_text": a short, friendly draft reply in the customer's language}
Never quote prices or fees. Never include keys other than the three above.`

// ProviderError wraps an upstream API error with its HTTP status so the
// recovery layer can classify it without importing the provider SDK.
type ProviderError struct {
	Status int
	Err    error
}

func (e *ProviderError) Error() string   { return fmt.Sprintf("llm provider error (status %d): %v", e.Status, e.Err) }
func (e *ProviderError) Unwrap() error   { return e.Err }
func (e *ProviderError) HTTPStatus() int { return e.Status }

// OpenAIClient implements InferenceClient over the OpenAI chat API.
type OpenAIClient struct {
	client *openai.Client
	model  string
}

// NewOpenAIClient builds a client from the environment, following the
// container convention of falling back to a mounted secret file.
func NewOpenAIClient() (*OpenAIClient, error) {
	apiKey := os.Getenv("OPENAI_API_KEY")
	model := os.Getenv("OPENAI_MODEL")
	if apiKey == "" {
		secretPath := "/run/secrets/openai_api_key"
		apiKeyBytes, err := os.ReadFile(secretPath)
		if err == nil {
			apiKey = strings.TrimSpace(string(apiKeyBytes))
			slog.Info("Read the OpenAI API Key from container secrets")
		} else {
			slog.Error("OPENAI_API_KEY environment variable not set and secret not found", "path", secretPath)
			return nil, fmt.Errorf("OPENAI_API_KEY environment variable not set")
		}
	}
	if model == "" {
		model = "gpt-4o-mini"
		slog.Warn("OPENAI_MODEL not set, defaulting to gpt-4o-mini")
	}
	slog.Info("Initializing OpenAI inference client", "model", model)
	return &OpenAIClient{
		client: openai.NewClient(apiKey),
		model:  model,
	}, nil
}

// Ping verifies the API key and connectivity with a cheap list call.
// Used by the startup tier probe.
func (o *OpenAIClient) Ping(ctx context.Context) error {
	if _, err := o.client.ListModels(ctx); err != nil {
		return wrapProviderError(err)
	}
	return nil
}

// Infer implements the InferenceClient interface.
func (o *OpenAIClient) Infer(ctx context.Context, req Request) (*Result, error) {
	slog.Debug("Running inference via OpenAI", "model", o.model, "stage", req.Stage)

	messages := []openai.ChatCompletionMessage{
		{Role: openai.ChatMessageRoleSystem, Content: systemPrompt},
		{Role: openai.ChatMessageRoleSystem, Content: buildContext(req)},
	}
	for _, turn := range req.History {
		role := openai.ChatMessageRoleUser
		if turn.Role == "assistant" {
			role = openai.ChatMessageRoleAssistant
		}
		messages = append(messages, openai.ChatCompletionMessage{Role: role, Content: turn.Content})
	}
	messages = append(messages, openai.ChatCompletionMessage{
		Role:    openai.ChatMessageRoleUser,
		Content: req.UserMessage,
	})

	resp, err := o.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:    o.model,
		Messages: messages,
		ResponseFormat: &openai.ChatCompletionResponseFormat{
			Type: openai.ChatCompletionResponseFormatTypeJSONObject,
		},
	})
	if err != nil {
		return nil, wrapProviderError(err)
	}
	if len(resp.Choices) == 0 {
		slog.Warn("OpenAI returned no choices")
		return nil, &ProviderError{Status: 502, Err: fmt.Errorf("OpenAI returned no choices")}
	}

	result, err := ParseResult(resp.Choices[0].Message.Content)
	if err != nil {
		slog.Warn("Failed to parse inference output, treating as unclear", "error", err)
		return &Result{Intent: IntentUnclear}, nil
	}
	return result, nil
}

// buildContext renders the dialogue state for the model.
func buildContext(req Request) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Conversation stage: %s\n", req.Stage)
	if len(req.Profile) > 0 {
		profile, _ := json.Marshal(req.Profile)
		fmt.Fprintf(&b, "Collected profile: %s\n", profile)
	}
	if len(req.MissingFields) > 0 {
		fmt.Fprintf(&b, "Still needed: %s\n", strings.Join(req.MissingFields, ", "))
	}
	return b.String()
}

// ParseResult decodes and normalizes the model's JSON output. Unknown
// intents degrade to IntentUnclear rather than failing the call.
func ParseResult(raw string) (*Result, error) {
	raw = strings.TrimSpace(raw)
	// Some models fence their JSON despite the response format.
	raw = strings.TrimPrefix(raw, "```json")
	raw = strings.TrimPrefix(raw, "```")
	raw = strings.TrimSuffix(raw, "```")

	var result Result
	if err := json.Unmarshal([]byte(strings.TrimSpace(raw)), &result); err != nil {
		return nil, fmt.Errorf("inference output is not valid JSON: %w", err)
	}
	switch result.Intent {
	case IntentProvideInfo, IntentChooseProgram, IntentConfirm, IntentRestart, IntentHuman, IntentUnclear:
	default:
		result.Intent = IntentUnclear
	}
	return &result, nil
}

// wrapProviderError converts SDK error types into ProviderError.
func wrapProviderError(err error) error {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		return &ProviderError{Status: apiErr.HTTPStatusCode, Err: err}
	}
	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) {
		return &ProviderError{Status: reqErr.HTTPStatusCode, Err: err}
	}
	// Transport-level errors carry no status; let the recovery layer's
	// heuristics classify them.
	return err
}
