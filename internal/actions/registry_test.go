package actions

import (
	"context"
	"errors"
	"testing"

	"github.com/lexiqai/voice-relay/internal/turn"
)

const echoSchema = `{
  "type": "object",
  "properties": {
    "message": {"type": "string", "minLength": 1},
    "times": {"type": "integer", "minimum": 1}
  },
  "required": ["message"]
}`

func newEchoRegistry(t *testing.T) (*Registry, *[]map[string]any) {
	t.Helper()
	var calls []map[string]any
	r := NewRegistry()
	err := r.Register(Action{
		Name:        "echo",
		Description: "Repeat a message",
		Schema:      echoSchema,
		Handler: func(_ context.Context, args map[string]any) (string, error) {
			calls = append(calls, args)
			return "Echoing " + args["message"].(string) + ".", nil
		},
	})
	if err != nil {
		t.Fatalf("Register failed: %v", err)
	}
	return r, &calls
}

func TestRegistry_DispatchValidArguments(t *testing.T) {
	r, calls := newEchoRegistry(t)

	status, err := r.Dispatch(context.Background(), turn.ActionRequest{
		Name:      "echo",
		Arguments: map[string]any{"message": "hi", "times": 2},
	})
	if err != nil {
		t.Fatalf("Dispatch failed: %v", err)
	}
	if status != "Echoing hi." {
		t.Errorf("Unexpected status %q", status)
	}
	if len(*calls) != 1 {
		t.Fatalf("Expected one handler call, got %d", len(*calls))
	}
	// Arguments reach the handler as plain JSON values
	if times, ok := (*calls)[0]["times"].(float64); !ok || times != 2 {
		t.Errorf("Expected normalized number argument, got %#v", (*calls)[0]["times"])
	}
}

func TestRegistry_DispatchRejectsInvalidArguments(t *testing.T) {
	r, calls := newEchoRegistry(t)

	tests := []struct {
		name string
		args map[string]any
	}{
		{"missing required", map[string]any{"times": 1}},
		{"wrong type", map[string]any{"message": 42}},
		{"below minimum", map[string]any{"message": "hi", "times": 0}},
		{"nil arguments", nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := r.Dispatch(context.Background(), turn.ActionRequest{Name: "echo", Arguments: tt.args})
			var verr *ValidationError
			if !errors.As(err, &verr) || verr.Action != "echo" {
				t.Errorf("Expected ValidationError, got %v", err)
			}
		})
	}
	if len(*calls) != 0 {
		t.Errorf("Expected handler not to run, got %d calls", len(*calls))
	}
}

func TestRegistry_DispatchUnknownAction(t *testing.T) {
	r, _ := newEchoRegistry(t)

	_, err := r.Dispatch(context.Background(), turn.ActionRequest{Name: "launchRocket"})
	var uerr *UnknownActionError
	if !errors.As(err, &uerr) || uerr.Name != "launchRocket" {
		t.Errorf("Expected UnknownActionError, got %v", err)
	}
}

func TestRegistry_HandlerErrorPropagates(t *testing.T) {
	r := NewRegistry()
	boom := errors.New("bridge unreachable")
	if err := r.Register(Action{
		Name:    "fail",
		Schema:  `{"type":"object"}`,
		Handler: func(context.Context, map[string]any) (string, error) { return "", boom },
	}); err != nil {
		t.Fatalf("Register failed: %v", err)
	}

	if _, err := r.Dispatch(context.Background(), turn.ActionRequest{Name: "fail"}); !errors.Is(err, boom) {
		t.Errorf("Expected handler error, got %v", err)
	}
}

func TestRegistry_RegisterRejectsBadActions(t *testing.T) {
	r, _ := newEchoRegistry(t)
	noop := func(context.Context, map[string]any) (string, error) { return "", nil }

	if err := r.Register(Action{Name: "echo", Schema: echoSchema, Handler: noop}); err == nil {
		t.Error("Expected duplicate registration to fail")
	}
	if err := r.Register(Action{Name: "broken", Schema: `{"type":`, Handler: noop}); err == nil {
		t.Error("Expected unparsable schema to fail")
	}
	if err := r.Register(Action{Name: "nohandler", Schema: `{"type":"object"}`}); err == nil {
		t.Error("Expected missing handler to fail")
	}
}

func TestRegistry_ToolsInRegistrationOrder(t *testing.T) {
	r, _ := newEchoRegistry(t)
	hue := NewHueLights(HueConfig{}, nopLogger())
	if err := r.Register(hue.Action()); err != nil {
		t.Fatalf("Register failed: %v", err)
	}

	tools := r.Tools()
	if len(tools) != 2 {
		t.Fatalf("Expected 2 tools, got %d", len(tools))
	}
	if tools[0].Name != "echo" || tools[1].Name != SetHueLightsName {
		t.Errorf("Unexpected tool order: %s, %s", tools[0].Name, tools[1].Name)
	}
	required, _ := tools[1].Parameters["required"].([]any)
	if len(required) != 2 {
		t.Errorf("Expected schema parameters to be exposed, got %#v", tools[1].Parameters)
	}
}
