package builtin

import (
	"github.com/dipeo/dipeo-core/internal/diagram"
	"github.com/dipeo/dipeo-core/internal/handler"
)

// RegisterAll wires every built-in node type's Handler into reg.
// Mirrors rakunlabs-at's nodes.RegisterNodeType fan-out, but as an
// explicit call rather than package-level init() side effects, since
// this module's handler registry is constructed per runtime rather
// than shared as a package global.
func RegisterAll(reg *handler.Registry) {
	reg.RegisterFunc(diagram.NodeStart, StartHandler{})
	reg.RegisterFunc(diagram.NodeEndpoint, EndpointHandler{})
	reg.RegisterFunc(diagram.NodePersonJob, PersonJobHandler{})
	reg.RegisterFunc(diagram.NodeCondition, ConditionHandler{})
	reg.RegisterFunc(diagram.NodeCodeJob, CodeJobHandler{})
	reg.RegisterFunc(diagram.NodeAPIJob, APIJobHandler{})
	reg.RegisterFunc(diagram.NodeDB, DBHandler{})
	reg.RegisterFunc(diagram.NodeSubDiagram, SubDiagramHandler{})
	reg.RegisterFunc(diagram.NodeTemplateJob, TemplateJobHandler{})
	reg.RegisterFunc(diagram.NodeJSONSchemaValidator, JSONSchemaValidatorHandler{})
	reg.RegisterFunc(diagram.NodeHook, HookHandler{})
	reg.RegisterFunc(diagram.NodeUserResponse, UserResponseHandler{})
	reg.RegisterFunc(diagram.NodeTypescriptAST, TypescriptASTHandler{})
	reg.RegisterFunc(diagram.NodeIntegratedAPI, IntegratedAPIHandler{})
	reg.RegisterFunc(diagram.NodeIRBuilder, IRBuilderHandler{})
	reg.RegisterFunc(diagram.NodeDiffPatch, DiffPatchHandler{})
}
