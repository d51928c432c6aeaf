package turn

import (
	"context"
	"fmt"
	"strings"

	"google.golang.org/genai"
)

// contentGenerator is the slice of genai.Models the engine uses
type contentGenerator interface {
	GenerateContent(ctx context.Context, model string, contents []*genai.Content, config *genai.GenerateContentConfig) (*genai.GenerateContentResponse, error)
}

// GeminiConfig holds configuration for the Gemini engine
type GeminiConfig struct {
	APIKey       string
	Model        string // e.g., "gemini-2.0-flash"
	SystemPrompt string
	Tools        []Tool
}

// GeminiClient runs turns against the Gemini API with function declarations
type GeminiClient struct {
	models contentGenerator
	model  string
	config *genai.GenerateContentConfig
}

// NewGeminiClient creates a Gemini engine backed by the Gemini API
func NewGeminiClient(ctx context.Context, cfg GeminiConfig) (*GeminiClient, error) {
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  cfg.APIKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create gemini client: %w", err)
	}
	return newGeminiClient(client.Models, cfg), nil
}

func newGeminiClient(models contentGenerator, cfg GeminiConfig) *GeminiClient {
	model := cfg.Model
	if model == "" {
		model = "gemini-2.0-flash"
	}
	prompt := cfg.SystemPrompt
	if prompt == "" {
		prompt = DefaultSystemPrompt
	}

	genCfg := &genai.GenerateContentConfig{
		SystemInstruction: genai.NewContentFromText(prompt, genai.RoleUser),
		Temperature:       genai.Ptr[float32](0.2),
	}
	if len(cfg.Tools) > 0 {
		decls := make([]*genai.FunctionDeclaration, 0, len(cfg.Tools))
		for _, t := range cfg.Tools {
			decls = append(decls, &genai.FunctionDeclaration{
				Name:                 t.Name,
				Description:          t.Description,
				ParametersJsonSchema: t.Parameters,
			})
		}
		genCfg.Tools = []*genai.Tool{{FunctionDeclarations: decls}}
	}

	return &GeminiClient{models: models, model: model, config: genCfg}
}

// Submit sends one utterance and maps the first candidate to a Result
func (c *GeminiClient) Submit(ctx context.Context, text string) (Result, error) {
	resp, err := c.models.GenerateContent(ctx, c.model, genai.Text(text), c.config)
	if err != nil {
		return Result{}, &Error{Provider: "gemini", Err: err}
	}
	if resp == nil || len(resp.Candidates) == 0 {
		return TextResult(NoResponseText), nil
	}

	if calls := resp.FunctionCalls(); len(calls) > 0 {
		return ActionResult(calls[0].Name, calls[0].Args), nil
	}

	content := strings.TrimSpace(resp.Text())
	if content == "" {
		return TextResult(EmptyResponseText), nil
	}
	return TextResult(content), nil
}
