package handle

import (
	"fmt"
	"strings"

	"github.com/dipeo/dipeo-core/internal/diagram"
	"github.com/dipeo/dipeo-core/internal/dperr"
)

// ValidateBracketSyntax fails loudly (spec §4.1) when an imported
// diagram references "Label[handle]" with a handle name not declared in
// nodeType's HANDLE_SPECS for dir, listing the handles that were
// available so the diagram author can fix the typo.
func ValidateBracketSyntax(nodeLabel, handleName string, nodeType diagram.NodeType, dir diagram.Direction) error {
	canonical := DetermineHandleName(handleName)
	if HasLabel(nodeType, canonical, dir) {
		return nil
	}

	available := AvailableLabels(nodeType, dir)
	names := make([]string, len(available))
	for i, l := range available {
		names[i] = string(l)
	}

	return &dperr.HandleError{
		Handle: fmt.Sprintf("%s[%s]", nodeLabel, handleName),
		Reason: fmt.Sprintf("unknown %s handle %q on node type %q; available %s handles: [%s]",
			dir, handleName, nodeType, dir, strings.Join(names, ", ")),
	}
}

// ResolveLabelReference resolves a user-facing "Label[handle]" or
// "Label_handle" reference against a map of known node labels (label ->
// node id) and that node's declared handle labels, returning the
// resolved node id and handle label.
//
// Mirrors HandleLabelParser.parse_label_with_handle: bracket syntax is
// tried first; failing that, the underscore-suffix form is resolved by
// trying progressively shorter node-label prefixes (splitting on "_")
// until one matches a known label, since node labels may themselves
// contain underscores.
func ResolveLabelReference(ref string, labelToNode map[string]diagram.NodeID, nodeType func(diagram.NodeID) diagram.NodeType, dir diagram.Direction) (diagram.NodeID, diagram.HandleLabel, error) {
	if nodeLabel, handleName, ok := ParseBracketSyntax(ref); ok {
		nodeID, found := labelToNode[nodeLabel]
		if !found {
			return "", "", &dperr.HandleError{Handle: ref, Reason: fmt.Sprintf("unknown node label %q", nodeLabel)}
		}
		if err := ValidateBracketSyntax(nodeLabel, handleName, nodeType(nodeID), dir); err != nil {
			return "", "", err
		}
		return nodeID, DetermineHandleName(handleName), nil
	}

	if nodeID, found := labelToNode[ref]; found {
		return nodeID, diagram.LabelDefault, nil
	}

	parts := strings.Split(ref, "_")
	for i := len(parts) - 1; i > 0; i-- {
		candidateLabel := strings.Join(parts[:i], "_")
		candidateHandle := strings.Join(parts[i:], "_")
		if nodeID, found := labelToNode[candidateLabel]; found {
			canonical := DetermineHandleName(candidateHandle)
			if HasLabel(nodeType(nodeID), canonical, dir) {
				return nodeID, canonical, nil
			}
		}
	}

	return "", "", &dperr.HandleError{Handle: ref, Reason: "could not resolve label/handle reference"}
}

// EnsureHandleExists resolves a handle reference against an existing
// set of handles, creating and appending a default-spec handle when none
// matches rather than failing — the same lenient repair
// original_source's ensure_handle_exists performs. Called from
// internal/diagram/importer, gated by ImportOptions.Strict.
func EnsureHandleExists(handles []diagram.Handle, nodeID diagram.NodeID, label diagram.HandleLabel, dir diagram.Direction, dataType string) ([]diagram.Handle, diagram.HandleID) {
	want := CreateID(nodeID, label, dir)
	for _, h := range handles {
		if h.ID == want {
			return handles, want
		}
	}

	position := "right"
	if dir == diagram.DirectionInput {
		position = "left"
	}

	handles = append(handles, diagram.Handle{
		ID:        want,
		NodeID:    nodeID,
		Label:     label,
		Direction: dir,
		DataType:  dataType,
		Position:  position,
	})
	return handles, want
}
