package actions

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/lexiqai/voice-relay/internal/turn"
)

// Handler runs one validated action and returns a short status line for the user
type Handler func(ctx context.Context, args map[string]any) (string, error)

// Action is a named capability the turn engine may request
type Action struct {
	Name        string
	Description string
	Schema      string // JSON schema of the arguments object
	Handler     Handler
}

// UnknownActionError is returned when no action with the requested name is registered
type UnknownActionError struct {
	Name string
}

func (e *UnknownActionError) Error() string {
	return fmt.Sprintf("unknown action %q", e.Name)
}

// ValidationError is returned when arguments do not match the action schema
type ValidationError struct {
	Action string
	Err    error
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid arguments for %s: %v", e.Action, e.Err)
}

func (e *ValidationError) Unwrap() error {
	return e.Err
}

type registered struct {
	action     Action
	schema     *jsonschema.Schema
	parameters map[string]any
}

// Registry holds the supported actions and dispatches requests to them
type Registry struct {
	mu      sync.RWMutex
	actions map[string]*registered
	order   []string
}

// NewRegistry creates an empty registry
func NewRegistry() *Registry {
	return &Registry{actions: make(map[string]*registered)}
}

// Register compiles the action schema and adds the action
func (r *Registry) Register(a Action) error {
	if a.Name == "" || a.Handler == nil {
		return fmt.Errorf("action needs a name and a handler")
	}

	var parameters map[string]any
	if err := json.Unmarshal([]byte(a.Schema), &parameters); err != nil {
		return fmt.Errorf("parse schema for %s: %w", a.Name, err)
	}
	url := "mem://actions/" + a.Name + ".json"
	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource(url, strings.NewReader(a.Schema)); err != nil {
		return fmt.Errorf("add schema resource for %s: %w", a.Name, err)
	}
	schema, err := compiler.Compile(url)
	if err != nil {
		return fmt.Errorf("compile schema for %s: %w", a.Name, err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.actions[a.Name]; exists {
		return fmt.Errorf("action %s already registered", a.Name)
	}
	r.actions[a.Name] = &registered{action: a, schema: schema, parameters: parameters}
	r.order = append(r.order, a.Name)
	return nil
}

// Tools describes the registered actions for the turn engine, in registration order
func (r *Registry) Tools() []turn.Tool {
	r.mu.RLock()
	defer r.mu.RUnlock()

	tools := make([]turn.Tool, 0, len(r.order))
	for _, name := range r.order {
		reg := r.actions[name]
		tools = append(tools, turn.Tool{
			Name:        reg.action.Name,
			Description: reg.action.Description,
			Parameters:  reg.parameters,
		})
	}
	return tools
}

// Dispatch validates the request arguments and runs the action
func (r *Registry) Dispatch(ctx context.Context, req turn.ActionRequest) (string, error) {
	r.mu.RLock()
	reg, ok := r.actions[req.Name]
	r.mu.RUnlock()
	if !ok {
		return "", &UnknownActionError{Name: req.Name}
	}

	args, err := normalize(req.Arguments)
	if err != nil {
		return "", &ValidationError{Action: req.Name, Err: err}
	}
	if err := reg.schema.Validate(args); err != nil {
		return "", &ValidationError{Action: req.Name, Err: err}
	}
	return reg.action.Handler(ctx, args)
}

// normalize round-trips arguments through JSON so the validator sees plain JSON values
func normalize(args map[string]any) (map[string]any, error) {
	if args == nil {
		return map[string]any{}, nil
	}
	raw, err := json.Marshal(args)
	if err != nil {
		return nil, err
	}
	var out map[string]any
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, err
	}
	return out, nil
}
