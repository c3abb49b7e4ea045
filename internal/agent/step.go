package agent

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/goldilockshq/connector-hub/internal/schema"
)

type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleTool      Role = "tool"
)

// ToolCall is a model's request to run one tool. Name is qualified.
type ToolCall struct {
	ID        string         `json:"id"`
	Name      string         `json:"name"`
	Arguments map[string]any `json:"arguments"`
}

type Message struct {
	Role       Role      `json:"role"`
	Content    string    `json:"content,omitempty"`
	ToolCall   *ToolCall `json:"tool_call,omitempty"`
	ToolCallID string    `json:"tool_call_id,omitempty"`
}

// Model produces the next assistant message given the conversation and the
// tools it may call.
type Model interface {
	Complete(ctx context.Context, messages []Message, tools []schema.FunctionSchema) (Message, error)
}

// StepResult is the outcome of one model turn. ToolMessage is set when the
// model called a tool; the caller appends Reply and ToolMessage and decides
// whether to call Step again.
type StepResult struct {
	Reply       Message
	ToolMessage *Message
	Dispatch    *Result
	Err         *DispatchError
}

func (r StepResult) Done() bool {
	return r.Reply.ToolCall == nil
}

// Step asks the model for one reply using the tools of the given connectors
// and runs the tool it asks for, if any. A failed dispatch is reported back
// to the model in the tool message rather than failing the step.
func (d *Dispatcher) Step(ctx context.Context, model Model, messages []Message, userID string, connectors []string) (StepResult, error) {
	var tools []schema.FunctionSchema
	byConnector := FunctionSchemas(d.catalog, connectors)
	seen := make(map[string]bool, len(connectors))
	for _, name := range connectors {
		name = strings.ToLower(strings.TrimSpace(name))
		if seen[name] {
			continue
		}
		seen[name] = true
		tools = append(tools, byConnector[name]...)
	}

	reply, err := model.Complete(ctx, messages, tools)
	if err != nil {
		return StepResult{}, fmt.Errorf("model completion: %w", err)
	}
	result := StepResult{Reply: reply}
	if reply.ToolCall == nil {
		return result, nil
	}

	call := reply.ToolCall
	var payload any
	res, err := d.dispatchQualified(ctx, call, userID)
	if err != nil {
		var de *DispatchError
		if !errors.As(err, &de) {
			return StepResult{}, err
		}
		result.Err = de
		payload = map[string]any{"error": string(de.Kind), "message": de.UserMessage()}
	} else {
		result.Dispatch = &res
		payload = res.Output
	}

	content, err := json.Marshal(payload)
	if err != nil {
		return StepResult{}, fmt.Errorf("encode tool result: %w", err)
	}
	result.ToolMessage = &Message{Role: RoleTool, Content: string(content), ToolCallID: call.ID}
	return result, nil
}

func (d *Dispatcher) dispatchQualified(ctx context.Context, call *ToolCall, userID string) (Result, error) {
	connector, function, err := ParseQualifiedName(call.Name)
	if err != nil {
		return Result{}, &DispatchError{Kind: KindUnknownTool, Function: call.Name, Err: err}
	}
	return d.Dispatch(ctx, Call{Connector: connector, Function: function, Arguments: call.Arguments, UserID: userID})
}
