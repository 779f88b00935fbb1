// Package handle implements the handle-ID algebra (spec §3.2, §4.1):
// encoding and parsing the "{nodeId}_{label}_{direction}" canonical
// form, plus the user-facing Label[handle] / Label_handle shorthands
// importers resolve at load time.
//
// Grounded on original_source/dipeo/domain/diagram/utils/core/handle_operations.py,
// translated from Python's duck-typed NamedTuple/classmethod shape into
// explicit Go types and typed errors.
package handle

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/dipeo/dipeo-core/internal/diagram"
	"github.com/dipeo/dipeo-core/internal/dperr"
)

// ParsedHandle is the decomposed form of a handle ID.
type ParsedHandle struct {
	NodeID    diagram.NodeID
	Label     diagram.HandleLabel
	Direction diagram.Direction
}

// CreateID encodes a handle's parts into its canonical wire form.
// create(parse(h)) == h for every valid h (spec §8 handle algebra
// property).
func CreateID(nodeID diagram.NodeID, label diagram.HandleLabel, dir diagram.Direction) diagram.HandleID {
	return diagram.HandleID(fmt.Sprintf("%s_%s_%s", nodeID, label, dir))
}

// ParseID decomposes a canonical handle ID. Parsing rule: split on "_",
// the last token is direction, the second-to-last is label, and
// everything before that (rejoined on "_") is the node id. Fails loudly
// on an unrecognized direction rather than guessing.
func ParseID(h diagram.HandleID) (ParsedHandle, error) {
	parts := strings.Split(string(h), "_")
	if len(parts) < 3 {
		return ParsedHandle{}, &dperr.HandleError{Handle: string(h), Reason: "too few segments to contain nodeId_label_direction"}
	}

	dir := diagram.Direction(parts[len(parts)-1])
	if dir != diagram.DirectionInput && dir != diagram.DirectionOutput {
		return ParsedHandle{}, &dperr.HandleError{Handle: string(h), Reason: fmt.Sprintf("unknown direction %q", dir)}
	}

	label := diagram.HandleLabel(parts[len(parts)-2])
	nodeID := diagram.NodeID(strings.Join(parts[:len(parts)-2], "_"))
	if nodeID == "" {
		return ParsedHandle{}, &dperr.HandleError{Handle: string(h), Reason: "empty node id"}
	}

	return ParsedHandle{NodeID: nodeID, Label: label, Direction: dir}, nil
}

// ParseIDSafe is ParseID without the error return, for call sites that
// only want a best-effort node id (e.g. logging, cache keys).
func ParseIDSafe(h diagram.HandleID) (ParsedHandle, bool) {
	p, err := ParseID(h)
	return p, err == nil
}

// ExtractNodeID returns just the node id half of a handle, or "" if the
// handle doesn't parse.
func ExtractNodeID(h diagram.HandleID) diagram.NodeID {
	p, ok := ParseIDSafe(h)
	if !ok {
		return ""
	}
	return p.NodeID
}

// IsValidID reports whether h parses as a well-formed handle ID.
func IsValidID(h diagram.HandleID) bool {
	_, err := ParseID(h)
	return err == nil
}

// bracketSyntax matches the user-facing "Label[handle]" shorthand:
// a non-greedy prefix up to the first unescaped "[", then a handle name
// up to "]". Mirrors the original's single anchored two-group pattern.
var bracketSyntax = regexp.MustCompile(`^(.+?)\[([^\]]+)\]$`)

// ParseBracketSyntax splits "Label[handle]" into its label and handle
// parts. ok is false when s doesn't use bracket syntax at all (not an
// error — callers fall back to underscore-suffix parsing).
func ParseBracketSyntax(s string) (label, handleName string, ok bool) {
	m := bracketSyntax.FindStringSubmatch(s)
	if m == nil {
		return "", "", false
	}
	return m[1], m[2], true
}

// DetermineHandleName maps the branch-style true/false shorthand onto
// the canonical condition output labels.
func DetermineHandleName(raw string) diagram.HandleLabel {
	switch strings.ToLower(raw) {
	case "true":
		return diagram.LabelCondTrue
	case "false":
		return diagram.LabelCondFalse
	default:
		return diagram.HandleLabel(raw)
	}
}
