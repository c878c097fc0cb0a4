package agent

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/nextlevelbuilder/zulipgate/internal/config"
)

const defaultSystemPrompt = "You are a helpful assistant replying inside a team chat. " +
	"Keep answers concise. If no reply is warranted, answer exactly NO_REPLY."

// historyLimit caps the per-session turns kept in memory for model context.
const historyLimit = 40

// AnthropicResponder generates replies with the Anthropic Messages API,
// keeping a bounded in-memory conversation history per session key.
type AnthropicResponder struct {
	client anthropic.Client
	cfg    config.AgentConfig

	mu      sync.Mutex
	history map[string][]anthropic.MessageParam
}

// NewAnthropicResponder creates a responder from agent config.
func NewAnthropicResponder(cfg config.AgentConfig) (*AnthropicResponder, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("agent: missing api_key (set agent.api_key or ZULIPGATE_ANTHROPIC_API_KEY)")
	}
	return &AnthropicResponder{
		client:  anthropic.NewClient(option.WithAPIKey(cfg.APIKey)),
		cfg:     cfg,
		history: make(map[string][]anthropic.MessageParam),
	}, nil
}

// Respond sends the inbound context to the model and emits the reply as a
// single payload. A NO_REPLY answer emits nothing.
func (r *AnthropicResponder) Respond(ctx context.Context, in InboundContext, emit EmitFunc) error {
	userTurn := anthropic.NewUserMessage(anthropic.NewTextBlock(buildPrompt(in)))

	r.mu.Lock()
	msgs := append(append([]anthropic.MessageParam{}, r.history[in.SessionKey]...), userTurn)
	r.mu.Unlock()

	maxTokens := int64(r.cfg.MaxTokens)
	if maxTokens <= 0 {
		maxTokens = 4096
	}

	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(r.cfg.Model),
		Messages:  msgs,
		MaxTokens: maxTokens,
		System:    []anthropic.TextBlockParam{{Text: r.systemPrompt()}},
	}
	if r.cfg.Temperature > 0 {
		params.Temperature = anthropic.Float(r.cfg.Temperature)
	}

	resp, err := r.client.Messages.New(ctx, params)
	if err != nil {
		return fmt.Errorf("anthropic: %w", err)
	}

	var sb strings.Builder
	for _, block := range resp.Content {
		if block.Type == "text" {
			sb.WriteString(block.AsText().Text)
		}
	}
	text := sb.String()

	r.remember(in.SessionKey, userTurn, anthropic.NewAssistantMessage(anthropic.NewTextBlock(text)))

	if strings.TrimSpace(text) == "" || strings.TrimSpace(strings.Trim(text, "`")) == "NO_REPLY" {
		return nil
	}
	emit(ReplyPayload{Text: text})
	return nil
}

func (r *AnthropicResponder) systemPrompt() string {
	if r.cfg.SystemPrompt != "" {
		return r.cfg.SystemPrompt
	}
	return defaultSystemPrompt
}

// remember appends the exchange to the session history, trimming old turns.
func (r *AnthropicResponder) remember(sessionKey string, turns ...anthropic.MessageParam) {
	r.mu.Lock()
	defer r.mu.Unlock()
	h := append(r.history[sessionKey], turns...)
	if len(h) > historyLimit {
		h = h[len(h)-historyLimit:]
	}
	r.history[sessionKey] = h
}

// buildPrompt annotates the body with conversation context so the model
// knows who is talking and where.
func buildPrompt(in InboundContext) string {
	sender := in.SenderName
	if sender == "" {
		sender = in.SenderID
	}
	if in.ChatType == "stream" {
		return fmt.Sprintf("[#%s > %s] %s: %s", in.Stream, in.Topic, sender, in.Body)
	}
	return fmt.Sprintf("%s: %s", sender, in.Body)
}
