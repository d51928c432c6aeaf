package turn

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/lexiqai/voice-relay/internal/resilience"
)

const openaiAPIURL = "https://api.openai.com/v1/chat/completions"

// OpenAIConfig holds configuration for the OpenAI client
type OpenAIConfig struct {
	APIKey       string
	Model        string // e.g., "gpt-4o-mini"
	SystemPrompt string
	Tools        []Tool

	URL        string
	HTTPClient *http.Client
}

// OpenAIClient runs turns against the chat completions API with tool calling
type OpenAIClient struct {
	apiKey       string
	model        string
	systemPrompt string
	tools        []chatTool
	url          string
	httpClient   *http.Client
}

// NewOpenAIClient creates a new OpenAI client
func NewOpenAIClient(cfg OpenAIConfig) *OpenAIClient {
	c := &OpenAIClient{
		apiKey:       cfg.APIKey,
		model:        cfg.Model,
		systemPrompt: cfg.SystemPrompt,
		url:          cfg.URL,
		httpClient:   cfg.HTTPClient,
	}
	if c.model == "" {
		c.model = "gpt-4o-mini"
	}
	if c.systemPrompt == "" {
		c.systemPrompt = DefaultSystemPrompt
	}
	if c.url == "" {
		c.url = openaiAPIURL
	}
	if c.httpClient == nil {
		c.httpClient = &http.Client{}
	}
	for _, t := range cfg.Tools {
		c.tools = append(c.tools, chatTool{
			Type:     "function",
			Function: chatFunction{Name: t.Name, Description: t.Description, Parameters: t.Parameters},
		})
	}
	return c
}

type chatMessage struct {
	Role      string     `json:"role"`
	Content   string     `json:"content"`
	ToolCalls []toolCall `json:"tool_calls,omitempty"`
}

type chatTool struct {
	Type     string       `json:"type"`
	Function chatFunction `json:"function"`
}

type chatFunction struct {
	Name        string         `json:"name"`
	Description string         `json:"description,omitempty"`
	Parameters  map[string]any `json:"parameters,omitempty"`
}

type toolCall struct {
	ID       string `json:"id"`
	Type     string `json:"type"`
	Function struct {
		Name      string `json:"name"`
		Arguments string `json:"arguments"`
	} `json:"function"`
}

type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	Tools       []chatTool    `json:"tools,omitempty"`
	ToolChoice  string        `json:"tool_choice,omitempty"`
	Temperature float64       `json:"temperature"`
}

type chatResponse struct {
	Choices []struct {
		Message *chatMessage `json:"message"`
	} `json:"choices"`
}

// Submit sends one utterance and maps the first choice to a Result
func (c *OpenAIClient) Submit(ctx context.Context, text string) (Result, error) {
	req := chatRequest{
		Model: c.model,
		Messages: []chatMessage{
			{Role: "system", Content: c.systemPrompt},
			{Role: "user", Content: text},
		},
		Tools:       c.tools,
		Temperature: 0.2,
	}
	if len(c.tools) > 0 {
		req.ToolChoice = "auto"
	}

	body, err := json.Marshal(req)
	if err != nil {
		return Result{}, &Error{Provider: "openai", Err: fmt.Errorf("failed to marshal request: %w", err)}
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(body))
	if err != nil {
		return Result{}, &Error{Provider: "openai", Err: fmt.Errorf("failed to create request: %w", err)}
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return Result{}, &Error{Provider: "openai", Err: fmt.Errorf("failed to send request: %w", err)}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		var err error = fmt.Errorf("OpenAI API error: status %d - %s", resp.StatusCode, strings.TrimSpace(string(respBody)))
		if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500 {
			err = resilience.NewRetryableError(err)
		}
		return Result{}, &Error{Provider: "openai", Err: err}
	}

	var chatResp chatResponse
	if err := json.NewDecoder(resp.Body).Decode(&chatResp); err != nil {
		return Result{}, &Error{Provider: "openai", Err: fmt.Errorf("failed to decode response: %w", err)}
	}
	return resultFromChat(chatResp)
}

func resultFromChat(resp chatResponse) (Result, error) {
	if len(resp.Choices) == 0 {
		return TextResult(NoResponseText), nil
	}
	msg := resp.Choices[0].Message
	if msg == nil {
		return TextResult(EmptyResponseText), nil
	}

	if len(msg.ToolCalls) > 0 {
		call := msg.ToolCalls[0]
		args, err := decodeArguments(call.Function.Arguments)
		if err != nil {
			return Result{}, &Error{Provider: "openai", Err: err}
		}
		return ActionResult(call.Function.Name, args), nil
	}

	content := strings.TrimSpace(msg.Content)
	if content == "" {
		return TextResult(EmptyResponseText), nil
	}
	return TextResult(content), nil
}

// decodeArguments parses tool-call arguments, which must be a JSON object
func decodeArguments(raw string) (map[string]any, error) {
	if strings.TrimSpace(raw) == "" {
		return map[string]any{}, nil
	}
	var args map[string]any
	if err := json.Unmarshal([]byte(raw), &args); err != nil {
		return nil, fmt.Errorf("malformed tool arguments: %w", err)
	}
	if args == nil {
		return nil, errors.New("malformed tool arguments: not an object")
	}
	return args, nil
}
