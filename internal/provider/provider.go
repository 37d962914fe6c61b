// Package provider models a chat completion provider: its immutable
// configuration, the two wire formats sidekick speaks, and the request
// shapes of the chat-completions contract.
//
// A provider is resolved once per turn. All format branching lives here;
// callers select behavior through Config.WireFormat instead of inspecting
// URLs or model names at call sites.
package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
)

// WireFormat identifies the streaming protocol a provider speaks.
type WireFormat string

const (
	// WireNativeChat is the local-model protocol: POST /api/chat, response
	// is line-delimited JSON objects with a done flag.
	WireNativeChat WireFormat = "native-chat"

	// WireOpenAICompat is the hosted protocol: POST /v1/chat/completions,
	// response is an event stream of "data: " records ended by [DONE].
	WireOpenAICompat WireFormat = "openai-compat"
)

// Valid reports whether f is a known wire format.
func (f WireFormat) Valid() bool {
	return f == WireNativeChat || f == WireOpenAICompat
}

// Message roles on the chat-completions contract.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Message is one entry of the outbound messages list.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Config describes one configured provider. Immutable per turn.
type Config struct {
	ID          string     `mapstructure:"id" json:"id"`
	DisplayName string     `mapstructure:"display_name" json:"display_name"`
	BaseURL     string     `mapstructure:"base_url" json:"base_url"`
	APIKey      string     `mapstructure:"api_key" json:"api_key"` // SENSITIVE: masked by config.MarshalJSON
	Model       string     `mapstructure:"model" json:"model"`
	WireFormat  WireFormat `mapstructure:"wire_format" json:"wire_format"`

	// SupportsSearch gates the whole search pipeline for this provider.
	SupportsSearch bool `mapstructure:"supports_search" json:"supports_search"`
}

// HasCredential reports whether a bearer token is configured.
func (c Config) HasCredential() bool { return c.APIKey != "" }

// Validate checks the fields a turn depends on.
func (c Config) Validate() error {
	if c.ID == "" {
		return fmt.Errorf("provider id is required")
	}
	if c.Model == "" {
		return fmt.Errorf("provider %q: model is required", c.ID)
	}
	if !c.WireFormat.Valid() {
		return fmt.Errorf("provider %q: unknown wire format %q", c.ID, c.WireFormat)
	}
	u, err := url.Parse(c.BaseURL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return fmt.Errorf("provider %q: invalid base URL %q", c.ID, c.BaseURL)
	}
	return nil
}

// ChatEndpoint returns the chat-completions URL for the provider's format.
func (c Config) ChatEndpoint() string {
	base := strings.TrimRight(c.BaseURL, "/")
	switch c.WireFormat {
	case WireNativeChat:
		return base + "/api/chat"
	default:
		return base + "/v1/chat/completions"
	}
}

// chatRequestBody is the shared POST body of both wire formats.
type chatRequestBody struct {
	Model    string    `json:"model"`
	Messages []Message `json:"messages"`
	Stream   bool      `json:"stream"`
}

// NewChatRequest builds the chat-completions POST for cfg. The body is
// replayable (GetBody set) so the retry client can re-issue it.
func NewChatRequest(ctx context.Context, cfg Config, msgs []Message, stream bool) (*http.Request, error) {
	body, err := json.Marshal(chatRequestBody{
		Model:    cfg.Model,
		Messages: msgs,
		Stream:   stream,
	})
	if err != nil {
		return nil, fmt.Errorf("marshaling chat request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, cfg.ChatEndpoint(), bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("building chat request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if cfg.HasCredential() {
		req.Header.Set("Authorization", "Bearer "+cfg.APIKey)
	}
	return req, nil
}

// Doer issues a single HTTP request. Satisfied by *httpx.Client and by
// *http.Client in tests.
type Doer interface {
	Do(req *http.Request) (*http.Response, error)
}

// maxCompletionBytes bounds a non-streaming completion body.
const maxCompletionBytes = 1 << 20

// Complete issues one non-streaming completion and returns the assistant
// text. Used for routing decisions (search need classification) and title
// generation; never shown to the user directly.
func Complete(ctx context.Context, client Doer, cfg Config, msgs []Message) (string, error) {
	req, err := NewChatRequest(ctx, cfg, msgs, false)
	if err != nil {
		return "", err
	}

	resp, err := client.Do(req)
	if err != nil {
		return "", err
	}
	defer func() { _ = resp.Body.Close() }()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxCompletionBytes))
	if err != nil {
		return "", fmt.Errorf("reading completion: %w", err)
	}

	return extractCompletionText(cfg.WireFormat, raw)
}

// extractCompletionText parses the format-specific response envelope.
func extractCompletionText(format WireFormat, raw []byte) (string, error) {
	switch format {
	case WireNativeChat:
		var body struct {
			Message struct {
				Content string `json:"content"`
			} `json:"message"`
		}
		if err := json.Unmarshal(raw, &body); err != nil {
			return "", fmt.Errorf("parsing completion: %w", err)
		}
		return body.Message.Content, nil
	default:
		var body struct {
			Choices []struct {
				Message struct {
					Content string `json:"content"`
				} `json:"message"`
			} `json:"choices"`
		}
		if err := json.Unmarshal(raw, &body); err != nil {
			return "", fmt.Errorf("parsing completion: %w", err)
		}
		if len(body.Choices) == 0 {
			return "", fmt.Errorf("completion contained no choices")
		}
		return body.Choices[0].Message.Content, nil
	}
}
