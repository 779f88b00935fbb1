package builtin

import (
	"fmt"

	"github.com/dipeo/dipeo-core/internal/diagram"
)

// missingConfigError is returned from Validate when a node's Data is
// missing a field its handler requires.
type missingConfigError struct {
	NodeType diagram.NodeType
	Field    string
}

func (e *missingConfigError) Error() string {
	return fmt.Sprintf("%s: missing required field %q", e.NodeType, e.Field)
}

// unexpectedResultError is returned from SerializeOutput when Run
// returned a value the handler doesn't know how to serialize, which
// indicates a bug in the handler itself rather than bad node data.
type unexpectedResultError struct {
	NodeType diagram.NodeType
}

func (e *unexpectedResultError) Error() string {
	return fmt.Sprintf("%s: serialize_output received an unexpected result type", e.NodeType)
}
