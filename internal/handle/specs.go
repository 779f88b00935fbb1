package handle

import "github.com/dipeo/dipeo-core/internal/diagram"

// Spec is one required-or-optional handle entry in a node type's
// HANDLE_SPECS row.
type Spec struct {
	Label     diagram.HandleLabel
	Direction diagram.Direction
	DataType  string
	Required  bool
}

// HANDLE_SPECS is the compile-time table (spec §4.1) keyed by node type.
// It drives both compile-time bracket-syntax validation and default
// handle generation for nodes declared without explicit handles.
//
// Kept deliberately small and literal rather than generated: DiPeO's
// node-type catalog is itself a spec-declared closed set (see
// diagram.NodeType), so a static map is the direct translation of the
// original's per-type handle declarations, not a stand-in for a missing
// code generator.
var HANDLE_SPECS = map[diagram.NodeType][]Spec{
	diagram.NodeStart: {
		{Label: diagram.LabelDefault, Direction: diagram.DirectionOutput, DataType: "ANY", Required: true},
	},
	diagram.NodeEndpoint: {
		{Label: diagram.LabelDefault, Direction: diagram.DirectionInput, DataType: "ANY", Required: true},
	},
	diagram.NodePersonJob: {
		{Label: diagram.LabelDefault, Direction: diagram.DirectionInput, DataType: "ANY", Required: false},
		{Label: diagram.LabelFirst, Direction: diagram.DirectionInput, DataType: "ANY", Required: false},
		{Label: diagram.LabelDefault, Direction: diagram.DirectionOutput, DataType: "ANY", Required: true},
	},
	diagram.NodeCondition: {
		{Label: diagram.LabelDefault, Direction: diagram.DirectionInput, DataType: "ANY", Required: true},
		{Label: diagram.LabelCondTrue, Direction: diagram.DirectionOutput, DataType: "ANY", Required: true},
		{Label: diagram.LabelCondFalse, Direction: diagram.DirectionOutput, DataType: "ANY", Required: true},
	},
	diagram.NodeCodeJob: {
		{Label: diagram.LabelDefault, Direction: diagram.DirectionInput, DataType: "ANY", Required: false},
		{Label: diagram.LabelDefault, Direction: diagram.DirectionOutput, DataType: "ANY", Required: true},
	},
	diagram.NodeAPIJob: {
		{Label: diagram.LabelDefault, Direction: diagram.DirectionInput, DataType: "ANY", Required: false},
		{Label: diagram.LabelDefault, Direction: diagram.DirectionOutput, DataType: "ANY", Required: true},
	},
	diagram.NodeDB: {
		{Label: diagram.LabelDefault, Direction: diagram.DirectionInput, DataType: "ANY", Required: false},
		{Label: diagram.LabelDefault, Direction: diagram.DirectionOutput, DataType: "ANY", Required: true},
	},
	diagram.NodeSubDiagram: {
		{Label: diagram.LabelDefault, Direction: diagram.DirectionInput, DataType: "ANY", Required: false},
		{Label: diagram.LabelDefault, Direction: diagram.DirectionOutput, DataType: "ANY", Required: true},
	},
	diagram.NodeTemplateJob: {
		{Label: diagram.LabelDefault, Direction: diagram.DirectionInput, DataType: "ANY", Required: false},
		{Label: diagram.LabelDefault, Direction: diagram.DirectionOutput, DataType: "ANY", Required: true},
	},
	diagram.NodeJSONSchemaValidator: {
		{Label: diagram.LabelDefault, Direction: diagram.DirectionInput, DataType: "ANY", Required: true},
		{Label: diagram.LabelDefault, Direction: diagram.DirectionOutput, DataType: "ANY", Required: true},
	},
	diagram.NodeHook: {
		{Label: diagram.LabelDefault, Direction: diagram.DirectionInput, DataType: "ANY", Required: false},
		{Label: diagram.LabelDefault, Direction: diagram.DirectionOutput, DataType: "ANY", Required: false},
	},
	diagram.NodeUserResponse: {
		{Label: diagram.LabelDefault, Direction: diagram.DirectionInput, DataType: "ANY", Required: false},
		{Label: diagram.LabelDefault, Direction: diagram.DirectionOutput, DataType: "ANY", Required: true},
	},
	diagram.NodeTypescriptAST: {
		{Label: diagram.LabelDefault, Direction: diagram.DirectionInput, DataType: "ANY", Required: true},
		{Label: diagram.LabelDefault, Direction: diagram.DirectionOutput, DataType: "ANY", Required: true},
	},
	diagram.NodeIntegratedAPI: {
		{Label: diagram.LabelDefault, Direction: diagram.DirectionInput, DataType: "ANY", Required: false},
		{Label: diagram.LabelDefault, Direction: diagram.DirectionOutput, DataType: "ANY", Required: true},
	},
	diagram.NodeIRBuilder: {
		{Label: diagram.LabelDefault, Direction: diagram.DirectionInput, DataType: "ANY", Required: true},
		{Label: diagram.LabelDefault, Direction: diagram.DirectionOutput, DataType: "ANY", Required: true},
	},
	diagram.NodeDiffPatch: {
		{Label: diagram.LabelDefault, Direction: diagram.DirectionInput, DataType: "ANY", Required: true},
		{Label: diagram.LabelDefault, Direction: diagram.DirectionOutput, DataType: "ANY", Required: true},
	},
}

// AvailableLabels returns the handle labels declared for nodeType in the
// given direction, used to build the "Available handles: [...]" error
// message on an invalid bracket-syntax reference.
func AvailableLabels(nodeType diagram.NodeType, dir diagram.Direction) []diagram.HandleLabel {
	var out []diagram.HandleLabel
	for _, s := range HANDLE_SPECS[nodeType] {
		if s.Direction == dir {
			out = append(out, s.Label)
		}
	}
	return out
}

// HasLabel reports whether nodeType declares label in direction dir.
func HasLabel(nodeType diagram.NodeType, label diagram.HandleLabel, dir diagram.Direction) bool {
	for _, s := range HANDLE_SPECS[nodeType] {
		if s.Label == label && s.Direction == dir {
			return true
		}
	}
	return false
}

// GenerateDefaultHandles builds the Handle rows for a node whose
// diagram source declared no explicit handles, per HANDLE_SPECS.
func GenerateDefaultHandles(nodeID diagram.NodeID, nodeType diagram.NodeType) []diagram.Handle {
	specs := HANDLE_SPECS[nodeType]
	handles := make([]diagram.Handle, 0, len(specs))
	for _, s := range specs {
		handles = append(handles, diagram.Handle{
			ID:        CreateID(nodeID, s.Label, s.Direction),
			NodeID:    nodeID,
			Label:     s.Label,
			Direction: s.Direction,
			DataType:  s.DataType,
		})
	}
	return handles
}
