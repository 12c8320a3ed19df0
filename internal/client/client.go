package client

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/protobuf/types/known/structpb"

	gatev1 "github.com/ppiankov/toolgate/api/gatev1"
	"github.com/ppiankov/toolgate/internal/model"
)

// DefaultTimeout bounds each RPC.
const DefaultTimeout = 5 * time.Second

// FailClosedRuleID names the synthetic rule behind fail-closed denials.
const FailClosedRuleID = "failclosed.unreachable"

// Client connects to a toolgate gRPC policy server.
type Client struct {
	conn    *grpc.ClientConn
	client  gatev1.GateServiceClient
	timeout time.Duration
}

// New creates a gRPC client for addr. The connection is lazy, so an
// unreachable server surfaces in Evaluate, which fails closed.
func New(addr string) (*Client, error) {
	conn, err := grpc.NewClient(addr, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return nil, fmt.Errorf("failed to connect to policy server: %w", err)
	}
	return &Client{
		conn:    conn,
		client:  gatev1.NewGateServiceClient(conn),
		timeout: DefaultTimeout,
	}, nil
}

// SetTimeout overrides the per-call timeout.
func (c *Client) SetTimeout(d time.Duration) {
	if d > 0 {
		c.timeout = d
	}
}

// Evaluate asks the server to decide one invocation. toolInput is the raw
// tool_input object from the hook request.
// Fail-closed: returns Deny on any RPC error.
func (c *Client) Evaluate(ctx context.Context, toolName string, toolInput json.RawMessage, sessionID, cwd string) model.Decision {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	req := gatev1.EvalRequest{
		ToolName:  toolName,
		ToolInput: decodeInput(toolInput),
		SessionID: sessionID,
		Cwd:       cwd,
	}
	in, err := gatev1.ToStruct(req)
	if err != nil {
		return failClosed(err)
	}

	out, err := c.client.Evaluate(ctx, in)
	if err != nil {
		return failClosed(err)
	}

	var resp gatev1.EvalResponse
	if err := gatev1.FromStruct(out, &resp); err != nil {
		return failClosed(err)
	}
	return toDecision(resp)
}

// ListRules returns the server's compiled rules.
func (c *Client) ListRules(ctx context.Context) (*gatev1.ListRulesResponse, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	out, err := c.client.ListRules(ctx, &structpb.Struct{})
	if err != nil {
		return nil, err
	}
	var resp gatev1.ListRulesResponse
	if err := gatev1.FromStruct(out, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Close closes the gRPC connection.
func (c *Client) Close() error {
	return c.conn.Close()
}

// decodeInput turns tool_input into a map. Anything that is not a JSON
// object is sent as no input, which extracts to no fields on the server.
func decodeInput(raw json.RawMessage) map[string]any {
	if len(raw) == 0 {
		return nil
	}
	var m map[string]any
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil
	}
	return m
}

func toDecision(resp gatev1.EvalResponse) model.Decision {
	outcome, err := model.ParseOutcome(resp.Decision)
	if err != nil {
		return failClosed(err)
	}
	d := model.Decision{Outcome: outcome, Reason: resp.Reason}
	if outcome != model.Passthrough {
		d.Rule = &model.RuleRef{
			ID:          resp.RuleID,
			Effect:      model.Effect(resp.RuleEffect),
			Index:       resp.RuleIndex,
			Description: resp.RuleDescription,
		}
	}
	return d
}

func failClosed(err error) model.Decision {
	return model.Decision{
		Outcome: model.Deny,
		Rule:    &model.RuleRef{ID: FailClosedRuleID, Effect: model.EffectDeny},
		Reason:  fmt.Sprintf("policy server unreachable: %v", err),
	}
}
