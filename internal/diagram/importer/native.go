package importer

import (
	"encoding/json"

	"github.com/dipeo/dipeo-core/internal/diagram"
)

// nativeJSONStrategy is the canonical domain shape: nodes, arrows,
// handles, persons as arrays (spec §6.1 "Native JSON").
type nativeJSONStrategy struct{}

func (nativeJSONStrategy) format() Format { return FormatNativeJSON }

func (nativeJSONStrategy) deserialize(content []byte) (*diagram.DomainDiagram, error) {
	var d diagram.DomainDiagram
	if err := json.Unmarshal(content, &d); err != nil {
		return nil, err
	}
	return &d, nil
}

func (nativeJSONStrategy) serialize(d *diagram.DomainDiagram) ([]byte, error) {
	return json.MarshalIndent(d, "", "  ")
}

func (nativeJSONStrategy) detectConfidence(content []byte) float64 {
	var probe struct {
		Nodes   json.RawMessage `json:"nodes"`
		Arrows  json.RawMessage `json:"arrows"`
		Handles json.RawMessage `json:"handles"`
	}
	if err := json.Unmarshal(content, &probe); err != nil {
		return 0
	}
	score := 0.0
	if probe.Nodes != nil {
		score += 0.4
	}
	if probe.Arrows != nil {
		score += 0.3
	}
	if probe.Handles != nil {
		score += 0.3
	}
	return score
}
