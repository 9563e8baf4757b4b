package llm

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"
)

// ErrResponseEngine indicates a language-model request failed. The caller
// decides between retry and graceful call teardown.
var ErrResponseEngine = errors.New("response engine failure")

// DefaultBaseURL is the production language-model API host.
const DefaultBaseURL = "https://api.anthropic.com"

// systemPromptTemplate determines what the model is allowed to say. The
// output contract matters: replies are fed directly to speech synthesis, so
// the model must produce only speakable words.
const systemPromptTemplate = `You are %s, an AI phone assistant calling on behalf of %s.
You are on a live voice call.

TASK: communicate the following action to %s: %s

CONTEXT (use to answer questions): %s

RULES:
1. Be concise: 1-3 short sentences per turn.
2. Sound natural and conversational.
3. Stay on topic; if asked outside the context, offer a human follow-up.
4. If asked whether you are an AI, answer honestly.
5. When the action is communicated/confirmed, wrap up naturally.
6. Output only speakable words: no formatting, no stage directions.`

// Config contains language-model client parameters.
type Config struct {
	APIKey    string
	Model     string
	MaxTokens int
	Timeout   time.Duration
	BaseURL   string // overridable for tests; DefaultBaseURL when empty
}

// ConversationParams are the call-specific fields the system prompt and
// opening line are built from.
type ConversationParams struct {
	Action       string
	Context      string
	CalleeName   string
	AgentName    string
	Organization string
}

// Turn is one exchange unit in the conversation. Roles use the model API's
// vocabulary: "user" is the callee, "assistant" is the agent.
type Turn struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Engine holds per-call conversational state against the language model:
// a fixed system instruction plus an append-only turn history. Owned by one
// call session; methods are not safe for concurrent use.
type Engine struct {
	cfg        Config
	httpClient *http.Client
	logger     *slog.Logger

	params ConversationParams
	system string
	turns  []Turn
}

// NewEngine creates an unconfigured engine. Configure must be called with the
// call's parameters before generating responses.
func NewEngine(cfg Config, logger *slog.Logger) *Engine {
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	if cfg.Model == "" {
		cfg.Model = "claude-sonnet-4-20250514"
	}
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = 150
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}

	return &Engine{
		cfg:        cfg,
		httpClient: &http.Client{Timeout: cfg.Timeout},
		logger:     logger,
	}
}

// Configure builds the system instruction from the call specification and
// resets the turn history.
func (e *Engine) Configure(p ConversationParams) {
	e.params = p
	e.system = fmt.Sprintf(systemPromptTemplate,
		p.AgentName, p.Organization, p.CalleeName, p.Action, p.Context)
	e.turns = nil
}

// OpeningLine returns the deterministic greeting for the configured call.
// No model round-trip: the first thing spoken must never wait on model
// latency.
func (e *Engine) OpeningLine() string {
	firstName := "there"
	if fields := strings.Fields(e.params.CalleeName); len(fields) > 0 {
		firstName = fields[0]
	}

	return fmt.Sprintf("Hi %s, this is %s calling from %s. Do you have a quick moment?",
		firstName, e.params.AgentName, e.params.Organization)
}

// RecordAgentTurn appends text spoken by the agent outside a model exchange,
// such as the opening line, so later responses account for it.
func (e *Engine) RecordAgentTurn(text string) {
	e.turns = append(e.turns, Turn{Role: "assistant", Content: text})
}

// Respond appends the callee's utterance, generates the agent's reply in one
// model call, records it, and returns it.
func (e *Engine) Respond(ctx context.Context, calleeUtterance string) (string, error) {
	e.turns = append(e.turns, Turn{Role: "user", Content: calleeUtterance})

	reply, err := e.complete(ctx)
	if err != nil {
		// Drop the dangling user turn so a retry of the same utterance
		// does not record it twice.
		e.turns = e.turns[:len(e.turns)-1]
		return "", err
	}

	e.turns = append(e.turns, Turn{Role: "assistant", Content: reply})
	return reply, nil
}

// RespondStreaming is Respond in streaming-token mode: buffered tokens are
// emitted to onSentence at each sentence-boundary punctuation mark, with any
// remainder flushed at end of stream. This lets synthesis begin on the first
// clause before the model finishes the reply.
func (e *Engine) RespondStreaming(ctx context.Context, calleeUtterance string, onSentence func(string)) (string, error) {
	e.turns = append(e.turns, Turn{Role: "user", Content: calleeUtterance})

	reply, err := e.stream(ctx, onSentence)
	if err != nil {
		// Drop the dangling user turn so a retry of the same utterance
		// does not record it twice.
		e.turns = e.turns[:len(e.turns)-1]
		return "", err
	}

	e.turns = append(e.turns, Turn{Role: "assistant", Content: reply})
	return reply, nil
}

// History returns a copy of the turn history.
func (e *Engine) History() []Turn {
	out := make([]Turn, len(e.turns))
	copy(out, e.turns)
	return out
}
