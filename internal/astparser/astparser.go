// Package astparser provides the optional AST_PARSER service (spec
// §4.10): the seam the typescript_ast node uses to parse TypeScript
// source into a structured AST. No example repo in the corpus embeds a
// TypeScript/JavaScript parser in Go (rakunlabs-at's script/conditional
// nodes run Goja directly rather than parsing to an AST for inspection),
// so this package only defines the seam; a runtime must register a
// concrete Parser (typically a subprocess wrapping the real TypeScript
// compiler's parser) to use the typescript_ast node type.
package astparser

import "github.com/dipeo/dipeo-core/internal/registry"

// Parser turns TypeScript source into a structured AST representation.
type Parser interface {
	Parse(source string) (map[string]any, error)
}

// Key is the typed registry token for the optional AST_PARSER.
var Key = registry.NewKey[Parser]("AST_PARSER")
