package turn

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/keepalive"
	"google.golang.org/protobuf/types/known/structpb"
)

const (
	// TurnServiceName is the gRPC service the orchestrator exposes
	TurnServiceName = "voicerelay.turn.v1.TurnService"

	submitMethod = "/" + TurnServiceName + "/Submit"
)

// HealthChecker is implemented by engines that can report backend health
type HealthChecker interface {
	HealthCheck(ctx context.Context) error
}

// OrchestratorClient delegates turns to a remote turn service over gRPC.
// Requests and replies are google.protobuf.Struct messages:
//
//	request: {text, session_key, tools}
//	reply:   {kind: "text", text} | {kind: "action", name, arguments}
type OrchestratorClient struct {
	conn   *grpc.ClientConn
	health healthpb.HealthClient
	tools  []any
}

// NewOrchestratorClient creates a client for target. The connection is
// established lazily on the first call.
func NewOrchestratorClient(target string, tools []Tool, opts ...grpc.DialOption) (*OrchestratorClient, error) {
	dialOpts := []grpc.DialOption{
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		// Keepalive settings for long-lived connections
		grpc.WithKeepaliveParams(keepalive.ClientParameters{
			Time:                10 * time.Second,
			Timeout:             3 * time.Second,
			PermitWithoutStream: true,
		}),
	}
	dialOpts = append(dialOpts, opts...)

	conn, err := grpc.NewClient(target, dialOpts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create orchestrator client for %s: %w", target, err)
	}

	encoded, err := toolsAsValues(tools)
	if err != nil {
		conn.Close()
		return nil, err
	}
	return &OrchestratorClient{
		conn:   conn,
		health: healthpb.NewHealthClient(conn),
		tools:  encoded,
	}, nil
}

// toolsAsValues converts tool schemas into plain JSON values structpb accepts
func toolsAsValues(tools []Tool) ([]any, error) {
	out := make([]any, 0, len(tools))
	for _, t := range tools {
		raw, err := json.Marshal(map[string]any{
			"name":        t.Name,
			"description": t.Description,
			"parameters":  t.Parameters,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to encode tool %s: %w", t.Name, err)
		}
		var v any
		if err := json.Unmarshal(raw, &v); err != nil {
			return nil, fmt.Errorf("failed to encode tool %s: %w", t.Name, err)
		}
		out = append(out, v)
	}
	return out, nil
}

// Submit sends one utterance to the turn service
func (c *OrchestratorClient) Submit(ctx context.Context, text string) (Result, error) {
	req, err := structpb.NewStruct(map[string]any{
		"text":        text,
		"session_key": SessionKeyFromContext(ctx),
		"tools":       c.tools,
	})
	if err != nil {
		return Result{}, &Error{Provider: "orchestrator", Err: fmt.Errorf("failed to build request: %w", err)}
	}

	resp := &structpb.Struct{}
	if err := c.conn.Invoke(ctx, submitMethod, req, resp); err != nil {
		return Result{}, &Error{Provider: "orchestrator", Err: err}
	}
	return resultFromStruct(resp)
}

func resultFromStruct(resp *structpb.Struct) (Result, error) {
	fields := resp.AsMap()
	kind, _ := fields["kind"].(string)

	switch Kind(kind) {
	case KindText:
		text, _ := fields["text"].(string)
		if text = strings.TrimSpace(text); text == "" {
			return TextResult(EmptyResponseText), nil
		}
		return TextResult(text), nil

	case KindAction:
		name, _ := fields["name"].(string)
		if name == "" {
			return Result{}, &Error{Provider: "orchestrator", Err: errors.New("action reply without a name")}
		}
		args := map[string]any{}
		if raw, ok := fields["arguments"]; ok && raw != nil {
			m, ok := raw.(map[string]any)
			if !ok {
				return Result{}, &Error{Provider: "orchestrator", Err: errors.New("action arguments are not an object")}
			}
			args = m
		}
		return ActionResult(name, args), nil

	case "":
		return TextResult(NoResponseText), nil
	}
	return Result{}, &Error{Provider: "orchestrator", Err: fmt.Errorf("unknown reply kind %q", kind)}
}

// HealthCheck asks the standard gRPC health service about the turn service
func (c *OrchestratorClient) HealthCheck(ctx context.Context) error {
	resp, err := c.health.Check(ctx, &healthpb.HealthCheckRequest{Service: TurnServiceName})
	if err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	if resp.GetStatus() != healthpb.HealthCheckResponse_SERVING {
		return fmt.Errorf("orchestrator is %s", resp.GetStatus())
	}
	return nil
}

// Close closes the gRPC connection
func (c *OrchestratorClient) Close() error {
	return c.conn.Close()
}
