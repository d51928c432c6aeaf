package turn

import (
	"context"
	"fmt"
)

// DefaultSystemPrompt is used when SYSTEM_PROMPT is unset
const DefaultSystemPrompt = `You are a helpful home assistant. Provide short, concise answers.
You can call the function setHueLights when a user wants to control lights.
If they only want info or a chat, reply in text.`

// Fallback replies for provider responses that carry no usable content
const (
	NoResponseText    = "No response from LLM."
	EmptyResponseText = "Empty LLM response."
)

// Engine turns one utterance into a reply. Implementations are stateless
// and shared by every session.
type Engine interface {
	Submit(ctx context.Context, text string) (Result, error)
}

// Kind tells which variant a Result holds
type Kind string

const (
	KindText   Kind = "text"
	KindAction Kind = "action"
)

// Result is either a free-text reply or an action request
type Result struct {
	Kind   Kind
	Text   string
	Action *ActionRequest
}

// TextResult builds a free-text result
func TextResult(text string) Result {
	return Result{Kind: KindText, Text: text}
}

// ActionResult builds an action-request result
func ActionResult(name string, args map[string]any) Result {
	if args == nil {
		args = map[string]any{}
	}
	return Result{Kind: KindAction, Action: &ActionRequest{Name: name, Arguments: args}}
}

// ActionRequest asks the dispatcher to run a named action. The engine does
// not check the name; unknown actions are rejected at dispatch.
type ActionRequest struct {
	Name      string
	Arguments map[string]any
}

// Tool describes an action the model may call
type Tool struct {
	Name        string
	Description string
	Parameters  map[string]any // JSON schema of the arguments object
}

// Error reports a provider or network failure, or a malformed provider response
type Error struct {
	Provider string
	Err      error
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s turn: %v", e.Provider, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

type sessionKeyCtx struct{}

// WithSessionKey attaches the session key for backends that track callers
func WithSessionKey(ctx context.Context, key string) context.Context {
	return context.WithValue(ctx, sessionKeyCtx{}, key)
}

// SessionKeyFromContext returns the key set by WithSessionKey
func SessionKeyFromContext(ctx context.Context) string {
	key, _ := ctx.Value(sessionKeyCtx{}).(string)
	return key
}
