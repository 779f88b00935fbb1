package builtin

import (
	"context"
	"fmt"

	"github.com/dipeo/dipeo-core/internal/diagram"
	"github.com/dipeo/dipeo-core/internal/envelope"
	"github.com/dipeo/dipeo-core/internal/handler"
	"github.com/dipeo/dipeo-core/internal/registry"
	"github.com/dipeo/dipeo-core/internal/template"
)

// TemplateJobHandler renders a node's "template" text against its
// upstream inputs through the TEMPLATE_PROCESSOR service, grounded on
// rakunlabs-at's templateNode (single "data" input promoted to the
// template's root context when that's the only input present).
type TemplateJobHandler struct {
	handler.Defaults
}

func (TemplateJobHandler) Validate(req *handler.ExecutionRequest) error {
	text, _ := req.Node.Data["template"].(string)
	if text == "" {
		return &missingConfigError{NodeType: req.Node.Type, Field: "template"}
	}
	return nil
}

func (TemplateJobHandler) Run(_ context.Context, req *handler.ExecutionRequest, args map[string]any) (any, error) {
	processor, err := registry.Resolve(req.Registry, template.Key)
	if err != nil {
		return nil, fmt.Errorf("template_job: %w", err)
	}

	text, _ := req.Node.Data["template"].(string)

	data := args
	if env, ok := args[string(diagram.LabelDefault)].(envelope.Envelope); ok && len(args) == 1 {
		var decoded map[string]any
		if err := env.AsJSON(&decoded); err == nil {
			data = decoded
		}
	}

	rendered, err := processor.Render(text, data)
	if err != nil {
		return nil, fmt.Errorf("template_job: %w", err)
	}
	return rendered, nil
}

func (TemplateJobHandler) SerializeOutput(req *handler.ExecutionRequest, result any) (envelope.Envelope, error) {
	text, _ := result.(string)
	return envelope.Text(text, req.Node.ID, req.ExecutionID), nil
}
