package importer

import (
	"fmt"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/dipeo/dipeo-core/internal/diagram"
	"github.com/dipeo/dipeo-core/internal/handle"
)

// lightYAMLStrategy is spec §6.1's "Light YAML" surface: a flat node
// list plus a connections list using From[handle]/From_handle syntax to
// name arrow endpoints instead of raw handle IDs.
type lightYAMLStrategy struct{}

func (lightYAMLStrategy) format() Format { return FormatLightYAML }

type lightYAMLConnection struct {
	From        string `yaml:"from"`
	To          string `yaml:"to"`
	Label       string `yaml:"label"`
	ContentType string `yaml:"content_type"`
}

type lightYAMLDoc struct {
	Nodes       []map[string]any      `yaml:"nodes"`
	Connections []lightYAMLConnection `yaml:"connections"`
	Persons     []diagram.Person      `yaml:"persons"`
	Metadata    map[string]string     `yaml:"metadata"`
}

func (lightYAMLStrategy) deserialize(content []byte) (*diagram.DomainDiagram, error) {
	var doc lightYAMLDoc
	if err := yaml.Unmarshal(content, &doc); err != nil {
		return nil, err
	}

	d := &diagram.DomainDiagram{Persons: doc.Persons, Metadata: doc.Metadata}
	labelToNode := make(map[string]diagram.NodeID, len(doc.Nodes))
	nodeType := make(map[diagram.NodeID]diagram.NodeType, len(doc.Nodes))

	for i, raw := range doc.Nodes {
		n := nodeFromLightYAMLEntry(i, raw)
		d.Nodes = append(d.Nodes, n)
		labelToNode[n.Label] = n.ID
		nodeType[n.ID] = n.Type
		d.Handles = append(d.Handles, handle.GenerateDefaultHandles(n.ID, n.Type)...)
	}

	lookupType := func(id diagram.NodeID) diagram.NodeType { return nodeType[id] }

	for i, c := range doc.Connections {
		srcNode, srcLabel, err := handle.ResolveLabelReference(c.From, labelToNode, lookupType, diagram.DirectionOutput)
		if err != nil {
			return nil, fmt.Errorf("connection %d: source %q: %w", i, c.From, err)
		}
		dstNode, dstLabel, err := handle.ResolveLabelReference(c.To, labelToNode, lookupType, diagram.DirectionInput)
		if err != nil {
			return nil, fmt.Errorf("connection %d: target %q: %w", i, c.To, err)
		}

		d.Arrows = append(d.Arrows, diagram.Arrow{
			ID:          diagram.ArrowID(fmt.Sprintf("arrow_%d", i)),
			Source:      handle.CreateID(srcNode, srcLabel, diagram.DirectionOutput),
			Target:      handle.CreateID(dstNode, dstLabel, diagram.DirectionInput),
			ContentType: diagram.ContentType(c.ContentType),
			Label:       c.Label,
		})
	}

	return d, nil
}

func nodeFromLightYAMLEntry(index int, raw map[string]any) diagram.Node {
	n := diagram.Node{Data: map[string]any{}}
	if t, ok := raw["type"].(string); ok {
		n.Type = diagram.NodeType(t)
	}
	if l, ok := raw["label"].(string); ok {
		n.Label = l
	}
	if n.Label == "" {
		n.Label = fmt.Sprintf("%s_%d", n.Type, index)
	}
	n.ID = diagram.NodeID(strings.ToLower(strings.ReplaceAll(n.Label, " ", "_")))
	if pos, ok := raw["position"].(map[string]any); ok {
		if x, ok := pos["x"].(float64); ok {
			n.Position.X = x
		}
		if y, ok := pos["y"].(float64); ok {
			n.Position.Y = y
		}
	}
	for k, v := range raw {
		switch k {
		case "type", "label", "position":
			continue
		default:
			n.Data[k] = v
		}
	}
	return n
}

func (lightYAMLStrategy) serialize(d *diagram.DomainDiagram) ([]byte, error) {
	idToLabel := make(map[diagram.NodeID]string, len(d.Nodes))
	doc := lightYAMLDoc{Persons: d.Persons, Metadata: d.Metadata}
	for _, n := range d.Nodes {
		idToLabel[n.ID] = n.Label
		entry := map[string]any{"type": string(n.Type), "label": n.Label, "position": n.Position}
		for k, v := range n.Data {
			entry[k] = v
		}
		doc.Nodes = append(doc.Nodes, entry)
	}

	for _, a := range d.Arrows {
		srcParsed, err := handle.ParseID(a.Source)
		if err != nil {
			return nil, err
		}
		dstParsed, err := handle.ParseID(a.Target)
		if err != nil {
			return nil, err
		}
		doc.Connections = append(doc.Connections, lightYAMLConnection{
			From:        lightYAMLRef(idToLabel[srcParsed.NodeID], srcParsed.Label),
			To:          lightYAMLRef(idToLabel[dstParsed.NodeID], dstParsed.Label),
			Label:       a.Label,
			ContentType: string(a.ContentType),
		})
	}

	return yaml.Marshal(doc)
}

func lightYAMLRef(label string, l diagram.HandleLabel) string {
	if l == diagram.LabelDefault {
		return label
	}
	return fmt.Sprintf("%s[%s]", label, l)
}

func (lightYAMLStrategy) detectConfidence(content []byte) float64 {
	var probe struct {
		Nodes       []map[string]any `yaml:"nodes"`
		Connections []map[string]any `yaml:"connections"`
	}
	if err := yaml.Unmarshal(content, &probe); err != nil {
		return 0
	}
	score := 0.0
	if probe.Nodes != nil {
		score += 0.4
	}
	if probe.Connections != nil {
		score += 0.5
	}
	return score
}
