package builtin

import (
	"context"
	"fmt"

	"github.com/dipeo/dipeo-core/internal/astparser"
	"github.com/dipeo/dipeo-core/internal/envelope"
	"github.com/dipeo/dipeo-core/internal/handler"
	"github.com/dipeo/dipeo-core/internal/registry"
)

// HookHandler runs a short external shell command as a side-effecting
// checkpoint (pre/post hooks around a diagram phase), reusing
// CodeJobHandler's sandboxed "/bin/sh -c" execution rather than
// duplicating it; see CodeJobHandler for the grounding.
type HookHandler struct {
	handler.Defaults
}

func (HookHandler) Validate(req *handler.ExecutionRequest) error {
	command, _ := req.Node.Data["command"].(string)
	if command == "" {
		return &missingConfigError{NodeType: req.Node.Type, Field: "command"}
	}
	return nil
}

func (HookHandler) Run(ctx context.Context, req *handler.ExecutionRequest, args map[string]any) (any, error) {
	shadowNode := *req.Node
	shadowNode.Data = make(map[string]any, len(req.Node.Data)+2)
	for k, v := range req.Node.Data {
		shadowNode.Data[k] = v
	}
	shadowNode.Data["code"] = req.Node.Data["command"]
	shadowNode.Data["language"] = "shell"

	delegate := *req
	delegate.Node = &shadowNode
	return CodeJobHandler{}.Run(ctx, &delegate, args)
}

func (HookHandler) SerializeOutput(req *handler.ExecutionRequest, result any) (envelope.Envelope, error) {
	return envelope.JSONEnvelope(result, req.Node.ID, req.ExecutionID)
}

// UserResponseHandler answers from Variables["interactive_response"].
// When that variable is absent, PreExecute short-circuits with an
// "AwaitingInput" error envelope, which becomes the node's output; Run
// only executes once the response is already present. The handler
// publishes no INTERACTIVE_PROMPT event and never blocks, and the engine
// does not set Variables["interactive_response"] from any event.
type UserResponseHandler struct {
	handler.Defaults
}

func (UserResponseHandler) Validate(req *handler.ExecutionRequest) error {
	prompt, _ := req.Node.Data["prompt"].(string)
	if prompt == "" {
		return &missingConfigError{NodeType: req.Node.Type, Field: "prompt"}
	}
	return nil
}

func (UserResponseHandler) PreExecute(_ context.Context, req *handler.ExecutionRequest) (*envelope.Envelope, error) {
	if _, ok := req.Variables["interactive_response"]; ok {
		return nil, nil
	}
	env := envelope.ErrorEnvelope("awaiting interactive response", "AwaitingInput", req.Node.ID, req.ExecutionID)
	return &env, nil
}

func (UserResponseHandler) Run(_ context.Context, req *handler.ExecutionRequest, _ map[string]any) (any, error) {
	response, ok := req.Variables["interactive_response"]
	if !ok {
		return nil, fmt.Errorf("user_response: dispatched without a pending response")
	}
	return response, nil
}

func (UserResponseHandler) SerializeOutput(req *handler.ExecutionRequest, result any) (envelope.Envelope, error) {
	if text, ok := result.(string); ok {
		return envelope.Text(text, req.Node.ID, req.ExecutionID), nil
	}
	return envelope.JSONEnvelope(result, req.Node.ID, req.ExecutionID)
}

// TypescriptASTHandler delegates to the optional AST_PARSER service;
// this module carries no TypeScript parser of its own (see package
// astparser for why).
type TypescriptASTHandler struct {
	handler.Defaults
}

func (TypescriptASTHandler) Validate(req *handler.ExecutionRequest) error {
	source, _ := req.Node.Data["source"].(string)
	if source == "" {
		return &missingConfigError{NodeType: req.Node.Type, Field: "source"}
	}
	return nil
}

func (TypescriptASTHandler) Run(_ context.Context, req *handler.ExecutionRequest, args map[string]any) (any, error) {
	parser, err := registry.Resolve(req.Registry, astparser.Key)
	if err != nil {
		return nil, fmt.Errorf("typescript_ast: %w", err)
	}
	source, _ := req.Node.Data["source"].(string)
	ast, err := parser.Parse(source)
	if err != nil {
		return nil, fmt.Errorf("typescript_ast: %w", err)
	}
	return ast, nil
}

func (TypescriptASTHandler) SerializeOutput(req *handler.ExecutionRequest, result any) (envelope.Envelope, error) {
	return envelope.JSONEnvelope(result, req.Node.ID, req.ExecutionID)
}
