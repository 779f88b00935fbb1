// Package importer normalizes the three surface syntaxes spec §6.1
// names (Native JSON, Light YAML, Readable YAML) into a single
// diagram.DomainDiagram shape. It lives apart from package diagram
// because repairing a dangling handle reference needs
// handle.EnsureHandleExists, and package handle already imports
// diagram for its core types — diagram itself can never import handle
// back.
package importer

import (
	"strings"

	"github.com/dipeo/dipeo-core/internal/diagram"
	"github.com/dipeo/dipeo-core/internal/dperr"
	"github.com/dipeo/dipeo-core/internal/handle"
)

// Format is one of the three surface syntaxes an Importer accepts; all
// three deserialize to the same DomainDiagram.
type Format string

const (
	FormatNativeJSON   Format = "native_json"
	FormatLightYAML    Format = "light_yaml"
	FormatReadableYAML Format = "readable_yaml"
)

// ImportOptions tunes Importer.Import.
type ImportOptions struct {
	// Strict rejects an arrow referencing a handle that doesn't exist
	// on its node instead of repairing it. Default false, matching
	// original_source's lenient ensure_handle_exists behavior.
	Strict bool
	// Format forces a specific strategy instead of auto-detecting one.
	// Zero value triggers DetectFormat.
	Format Format
}

// formatStrategy is one surface syntax's deserialize/serialize pair
// plus a confidence scorer for auto-detection, mirroring each format's
// deserialize_to_domain/serialize_from_domain/detect_confidence trio
// (spec §6.1, §4.3).
type formatStrategy interface {
	format() Format
	deserialize(content []byte) (*diagram.DomainDiagram, error)
	serialize(d *diagram.DomainDiagram) ([]byte, error)
	detectConfidence(content []byte) float64
}

// Importer normalizes Native JSON, Light YAML, and Readable YAML source
// into a single DomainDiagram shape, repairing dangling handle
// references unless ImportOptions.Strict is set.
type Importer struct {
	strategies []formatStrategy
}

// New builds an Importer wired with all three format strategies.
func New() *Importer {
	return &Importer{strategies: []formatStrategy{
		nativeJSONStrategy{},
		lightYAMLStrategy{},
		readableYAMLStrategy{},
	}}
}

// Import detects (or uses opts.Format) the source syntax, deserializes
// it, and repairs dangling arrow endpoints per opts.Strict.
func (imp *Importer) Import(content []byte, opts ImportOptions) (*diagram.DomainDiagram, error) {
	f := opts.Format
	if f == "" {
		f = imp.DetectFormat(content)
	}

	strat := imp.strategyFor(f)
	if strat == nil {
		return nil, &dperr.ValidationError{Reason: "unknown diagram format: " + string(f)}
	}

	d, err := strat.deserialize(content)
	if err != nil {
		return nil, err
	}

	if err := imp.repairArrows(d, opts.Strict); err != nil {
		return nil, err
	}
	return d, nil
}

// Export serializes d back into the given format, the inverse of
// Import (spec §8's round-trip property).
func (imp *Importer) Export(d *diagram.DomainDiagram, f Format) ([]byte, error) {
	strat := imp.strategyFor(f)
	if strat == nil {
		return nil, &dperr.ValidationError{Reason: "unknown diagram format: " + string(f)}
	}
	return strat.serialize(d)
}

func (imp *Importer) strategyFor(f Format) formatStrategy {
	for _, s := range imp.strategies {
		if s.format() == f {
			return s
		}
	}
	return nil
}

// DetectFormat runs the two-pass algorithm spec §6.1 names: a quick
// telltale-token match first, falling back to each strategy's
// detectConfidence, picking the highest score above 0.5.
func (imp *Importer) DetectFormat(content []byte) Format {
	trimmed := strings.TrimSpace(string(content))
	switch {
	case strings.HasPrefix(trimmed, "{"):
		return FormatNativeJSON
	case strings.Contains(trimmed, "version: readable") || strings.Contains(trimmed, "flow:"):
		return FormatReadableYAML
	case strings.Contains(trimmed, "connections:"):
		return FormatLightYAML
	}

	var best formatStrategy
	var bestScore float64
	for _, s := range imp.strategies {
		if score := s.detectConfidence(content); score > bestScore {
			best, bestScore = s, score
		}
	}
	if best != nil && bestScore > 0.5 {
		return best.format()
	}
	return FormatNativeJSON
}

// repairArrows resolves each arrow's source/target handle, creating a
// default-spec handle on the fly when strict is false and none exists
// (original_source's ensure_handle_exists); in strict mode a dangling
// handle fails import instead.
func (imp *Importer) repairArrows(d *diagram.DomainDiagram, strict bool) error {
	for i := range d.Arrows {
		if err := imp.repairEndpoint(d, &d.Arrows[i].Source, strict); err != nil {
			return err
		}
		if err := imp.repairEndpoint(d, &d.Arrows[i].Target, strict); err != nil {
			return err
		}
	}
	return nil
}

func (imp *Importer) repairEndpoint(d *diagram.DomainDiagram, id *diagram.HandleID, strict bool) error {
	if _, ok := d.HandleByID(*id); ok {
		return nil
	}

	parsed, err := handle.ParseID(*id)
	if err != nil {
		return &dperr.HandleError{Handle: string(*id), Reason: "malformed handle reference: " + err.Error()}
	}

	if strict {
		return &dperr.HandleError{
			Handle: string(*id),
			Reason: "no handle declared for this arrow endpoint (strict import)",
		}
	}

	repaired, newID := handle.EnsureHandleExists(d.Handles, parsed.NodeID, parsed.Label, parsed.Direction, string(diagram.ContentObject))
	d.Handles = repaired
	*id = newID
	return nil
}
