package turn

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/lexiqai/voice-relay/internal/resilience"
)

var lightsTool = Tool{
	Name:        "setHueLights",
	Description: "Turn on/off or set color of a certain room's lights",
	Parameters: map[string]any{
		"type": "object",
		"properties": map[string]any{
			"room": map[string]any{"type": "string"},
			"on":   map[string]any{"type": "boolean"},
		},
		"required": []any{"room", "on"},
	},
}

func newOpenAITestServer(t *testing.T, status int, reply string, check func(chatRequest)) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer sk-test" {
			t.Errorf("Expected bearer auth, got %q", r.Header.Get("Authorization"))
		}
		var req chatRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Fatalf("bad request body: %v", err)
		}
		if check != nil {
			check(req)
		}
		w.WriteHeader(status)
		_, _ = w.Write([]byte(reply))
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestOpenAIClient_TextReply(t *testing.T) {
	srv := newOpenAITestServer(t, http.StatusOK,
		`{"choices":[{"message":{"role":"assistant","content":"  It is sunny today. "}}]}`,
		func(req chatRequest) {
			if req.Temperature != 0.2 || req.Model != "gpt-4o-mini" {
				t.Errorf("Unexpected request settings: %+v", req)
			}
			if len(req.Messages) != 2 || req.Messages[0].Role != "system" || req.Messages[1].Content != "what's the weather" {
				t.Errorf("Unexpected messages: %+v", req.Messages)
			}
			if len(req.Tools) != 1 || req.Tools[0].Function.Name != "setHueLights" || req.ToolChoice != "auto" {
				t.Errorf("Expected tools with auto choice, got %+v / %q", req.Tools, req.ToolChoice)
			}
		})

	c := NewOpenAIClient(OpenAIConfig{APIKey: "sk-test", Tools: []Tool{lightsTool}, URL: srv.URL})
	res, err := c.Submit(context.Background(), "what's the weather")
	if err != nil {
		t.Fatalf("Submit failed: %v", err)
	}
	if res.Kind != KindText || res.Text != "It is sunny today." {
		t.Errorf("Unexpected result: %+v", res)
	}
}

func TestOpenAIClient_ToolCall(t *testing.T) {
	srv := newOpenAITestServer(t, http.StatusOK,
		`{"choices":[{"message":{"role":"assistant","content":"","tool_calls":[{"id":"call_1","type":"function","function":{"name":"setHueLights","arguments":"{\"room\":\"living\",\"on\":true}"}}]}}]}`,
		nil)

	c := NewOpenAIClient(OpenAIConfig{APIKey: "sk-test", Tools: []Tool{lightsTool}, URL: srv.URL})
	res, err := c.Submit(context.Background(), "turn the lights on")
	if err != nil {
		t.Fatalf("Submit failed: %v", err)
	}
	if res.Kind != KindAction || res.Action == nil || res.Action.Name != "setHueLights" {
		t.Fatalf("Expected setHueLights action, got %+v", res)
	}
	if res.Action.Arguments["room"] != "living" || res.Action.Arguments["on"] != true {
		t.Errorf("Unexpected arguments: %v", res.Action.Arguments)
	}
}

func TestOpenAIClient_Fallbacks(t *testing.T) {
	tests := []struct {
		name  string
		reply string
		want  string
	}{
		{"no choices", `{"choices":[]}`, NoResponseText},
		{"no message", `{"choices":[{}]}`, EmptyResponseText},
		{"empty content", `{"choices":[{"message":{"content":"   "}}]}`, EmptyResponseText},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := newOpenAITestServer(t, http.StatusOK, tt.reply, nil)
			c := NewOpenAIClient(OpenAIConfig{APIKey: "sk-test", URL: srv.URL})
			res, err := c.Submit(context.Background(), "hello")
			if err != nil {
				t.Fatalf("Submit failed: %v", err)
			}
			if res.Kind != KindText || res.Text != tt.want {
				t.Errorf("Expected %q, got %+v", tt.want, res)
			}
		})
	}
}

func TestOpenAIClient_MalformedToolArguments(t *testing.T) {
	srv := newOpenAITestServer(t, http.StatusOK,
		`{"choices":[{"message":{"tool_calls":[{"function":{"name":"setHueLights","arguments":"{room: living"}}]}}]}`,
		nil)

	c := NewOpenAIClient(OpenAIConfig{APIKey: "sk-test", URL: srv.URL})
	_, err := c.Submit(context.Background(), "lights")
	var terr *Error
	if !errors.As(err, &terr) || terr.Provider != "openai" {
		t.Errorf("Expected openai turn error, got %v", err)
	}
}

func TestOpenAIClient_HTTPErrors(t *testing.T) {
	srv := newOpenAITestServer(t, http.StatusServiceUnavailable, `{"error":"overloaded"}`, nil)
	c := NewOpenAIClient(OpenAIConfig{APIKey: "sk-test", URL: srv.URL})
	_, err := c.Submit(context.Background(), "hello")

	var terr *Error
	if !errors.As(err, &terr) {
		t.Fatalf("Expected turn error, got %v", err)
	}
	if !resilience.IsRetryableNetworkError(err) {
		t.Errorf("Expected 503 to be retryable: %v", err)
	}

	srv = newOpenAITestServer(t, http.StatusUnauthorized, `{"error":"bad key"}`, nil)
	c = NewOpenAIClient(OpenAIConfig{APIKey: "sk-test", URL: srv.URL})
	if _, err := c.Submit(context.Background(), "hello"); resilience.IsRetryableNetworkError(err) {
		t.Errorf("Expected 401 not to be retryable: %v", err)
	}
}
