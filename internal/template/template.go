// Package template provides the optional TEMPLATE_PROCESSOR service
// (spec §4.10): the seam template_job uses to render text against
// upstream data. No example repo shares a single third-party templating
// library across the corpus (rakunlabs-at layers mugo/templatex over
// text/template for its own extra syntax; nothing else in the pack
// renders templates at all) so this wraps text/template directly,
// following rakunlabs-at's templateNode shape (single "data" input
// promoted to the template's root context) without its extra dependency.
package template

import (
	"bytes"
	"fmt"
	"text/template"

	"github.com/dipeo/dipeo-core/internal/registry"
)

// Processor is the seam template_job calls through.
type Processor interface {
	Render(text string, data map[string]any) (string, error)
}

// Key is the typed registry token for the optional TEMPLATE_PROCESSOR.
var Key = registry.NewKey[Processor]("TEMPLATE_PROCESSOR")

// GoTemplateProcessor renders text/template strings.
type GoTemplateProcessor struct{}

// NewGoTemplateProcessor builds the default Processor.
func NewGoTemplateProcessor() *GoTemplateProcessor { return &GoTemplateProcessor{} }

func (GoTemplateProcessor) Render(text string, data map[string]any) (string, error) {
	tmpl, err := template.New("node").Parse(text)
	if err != nil {
		return "", fmt.Errorf("template: parse: %w", err)
	}

	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, data); err != nil {
		return "", fmt.Errorf("template: execute: %w", err)
	}
	return buf.String(), nil
}
