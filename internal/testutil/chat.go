package testutil

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
)

// EventStreamBody builds a chat-completions event stream: one "data:"
// record per delta, terminated by [DONE].
func EventStreamBody(deltas ...string) string {
	body := ""
	for _, d := range deltas {
		payload, _ := json.Marshal(map[string]any{
			"choices": []map[string]any{
				{"delta": map[string]string{"content": d}},
			},
		})
		body += "data: " + string(payload) + "\n\n"
	}
	return body + "data: [DONE]\n\n"
}

// NDJSONBody builds a native-chat response body: one JSON object per delta,
// then a final done record.
func NDJSONBody(deltas ...string) string {
	body := ""
	for _, d := range deltas {
		payload, _ := json.Marshal(map[string]any{
			"message": map[string]string{"content": d},
			"done":    false,
		})
		body += string(payload) + "\n"
	}
	return body + `{"message":{"content":""},"done":true}` + "\n"
}

// OpenAICompletion builds a non-streaming chat-completions response body.
func OpenAICompletion(content string) string {
	payload, _ := json.Marshal(map[string]any{
		"choices": []map[string]any{
			{"message": map[string]string{"content": content}},
		},
	})
	return string(payload)
}

// NativeCompletion builds a non-streaming native-chat response body.
func NativeCompletion(content string) string {
	payload, _ := json.Marshal(map[string]any{
		"message": map[string]string{"content": content},
		"done":    true,
	})
	return string(payload)
}

// StreamServer returns a server that writes body in chunks of chunkSize
// bytes, flushing after each, so tests exercise arbitrary record splits the
// way a real network delivers them. chunkSize <= 0 writes the body whole.
func StreamServer(t *testing.T, body string, chunkSize int) *httptest.Server {
	t.Helper()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/octet-stream")
		flusher, ok := w.(http.Flusher)
		if !ok {
			t.Error("response writer does not support flushing")
			return
		}
		if chunkSize <= 0 {
			_, _ = w.Write([]byte(body))
			flusher.Flush()
			return
		}
		for i := 0; i < len(body); i += chunkSize {
			end := min(i+chunkSize, len(body))
			if _, err := w.Write([]byte(body[i:end])); err != nil {
				return // client went away
			}
			flusher.Flush()
		}
	}))
	t.Cleanup(srv.Close)
	return srv
}

// JSONServer returns a server answering every request with the given status
// and body.
func JSONServer(t *testing.T, status int, body string) *httptest.Server {
	t.Helper()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_, _ = w.Write([]byte(body))
	}))
	t.Cleanup(srv.Close)
	return srv
}
