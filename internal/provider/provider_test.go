package provider

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"sidekick/internal/testutil"
)

func validConfig() Config {
	return Config{
		ID:         "hosted",
		BaseURL:    "https://api.example.com",
		APIKey:     "sk-test",
		Model:      "test-model",
		WireFormat: WireOpenAICompat,
	}
}

func TestConfigValidate(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
	}{
		{name: "valid", mutate: func(c *Config) {}, wantErr: false},
		{name: "missing id", mutate: func(c *Config) { c.ID = "" }, wantErr: true},
		{name: "missing model", mutate: func(c *Config) { c.Model = "" }, wantErr: true},
		{name: "unknown wire format", mutate: func(c *Config) { c.WireFormat = "soap" }, wantErr: true},
		{name: "empty base url", mutate: func(c *Config) { c.BaseURL = "" }, wantErr: true},
		{name: "relative base url", mutate: func(c *Config) { c.BaseURL = "/v1" }, wantErr: true},
		{name: "no credential is fine", mutate: func(c *Config) { c.APIKey = "" }, wantErr: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			cfg := validConfig()
			tt.mutate(&cfg)
			err := cfg.Validate()
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestChatEndpoint(t *testing.T) {
	t.Parallel()

	native := Config{BaseURL: "http://localhost:11434/", WireFormat: WireNativeChat}
	assert.Equal(t, "http://localhost:11434/api/chat", native.ChatEndpoint())

	hosted := Config{BaseURL: "https://api.example.com", WireFormat: WireOpenAICompat}
	assert.Equal(t, "https://api.example.com/v1/chat/completions", hosted.ChatEndpoint())
}

func TestNewChatRequest(t *testing.T) {
	t.Parallel()

	cfg := validConfig()
	msgs := []Message{
		{Role: RoleSystem, Content: "be brief"},
		{Role: RoleUser, Content: "hello"},
	}

	req, err := NewChatRequest(context.Background(), cfg, msgs, true)
	require.NoError(t, err)

	assert.Equal(t, http.MethodPost, req.Method)
	assert.Equal(t, "application/json", req.Header.Get("Content-Type"))
	assert.Equal(t, "Bearer sk-test", req.Header.Get("Authorization"))

	var body struct {
		Model    string    `json:"model"`
		Messages []Message `json:"messages"`
		Stream   bool      `json:"stream"`
	}
	raw, err := io.ReadAll(req.Body)
	require.NoError(t, err)
	require.NoError(t, json.Unmarshal(raw, &body))
	assert.Equal(t, "test-model", body.Model)
	assert.Equal(t, msgs, body.Messages)
	assert.True(t, body.Stream)

	// The body must be replayable for retries.
	require.NotNil(t, req.GetBody)
	replay, err := req.GetBody()
	require.NoError(t, err)
	raw2, err := io.ReadAll(replay)
	require.NoError(t, err)
	assert.Equal(t, raw, raw2)
}

func TestNewChatRequestWithoutCredential(t *testing.T) {
	t.Parallel()

	cfg := validConfig()
	cfg.APIKey = ""
	req, err := NewChatRequest(context.Background(), cfg, nil, false)
	require.NoError(t, err)
	assert.Empty(t, req.Header.Get("Authorization"))
}

func TestComplete(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		format WireFormat
		body   string
		want   string
	}{
		{
			name:   "openai envelope",
			format: WireOpenAICompat,
			body:   testutil.OpenAICompletion("ANSWER"),
			want:   "ANSWER",
		},
		{
			name:   "native envelope",
			format: WireNativeChat,
			body:   testutil.NativeCompletion("SEARCH"),
			want:   "SEARCH",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			srv := testutil.JSONServer(t, http.StatusOK, tt.body)
			cfg := validConfig()
			cfg.BaseURL = srv.URL
			cfg.WireFormat = tt.format

			got, err := Complete(context.Background(), http.DefaultClient, cfg, []Message{
				{Role: RoleUser, Content: "route this"},
			})
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestCompleteMalformedEnvelope(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		format WireFormat
		body   string
	}{
		{name: "broken json", format: WireOpenAICompat, body: "{broken"},
		{name: "no choices", format: WireOpenAICompat, body: `{"choices":[]}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			srv := testutil.JSONServer(t, http.StatusOK, tt.body)
			cfg := validConfig()
			cfg.BaseURL = srv.URL
			cfg.WireFormat = tt.format

			_, err := Complete(context.Background(), http.DefaultClient, cfg, nil)
			assert.Error(t, err)
		})
	}
}
