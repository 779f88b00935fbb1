package importer

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/dipeo/dipeo-core/internal/diagram"
	"github.com/dipeo/dipeo-core/internal/handle"
)

// readableYAMLStrategy is spec §6.1's "Readable YAML" surface: nodes
// keyed by "Label @(x,y)" and a flow list of single-entry maps whose
// values carry English-like arrow annotations (to/from/in/as/naming).
// Grounded on original_source's readable/parser.py and flow_parser.py,
// translated node-for-node from its regex-based "new format" parser.
type readableYAMLStrategy struct{}

func (readableYAMLStrategy) format() Format { return FormatReadableYAML }

type readableYAMLDoc struct {
	Version  string            `yaml:"version"`
	Nodes    []yaml.Node       `yaml:"nodes"`
	Flow     []yaml.Node       `yaml:"flow"`
	Persons  []diagram.Person  `yaml:"persons"`
	Metadata map[string]string `yaml:"metadata"`
}

func (readableYAMLStrategy) deserialize(content []byte) (*diagram.DomainDiagram, error) {
	var doc readableYAMLDoc
	if err := yaml.Unmarshal(content, &doc); err != nil {
		return nil, err
	}

	d := &diagram.DomainDiagram{Persons: doc.Persons, Metadata: doc.Metadata}
	labelToNode := make(map[string]diagram.NodeID, len(doc.Nodes))
	nodeType := make(map[diagram.NodeID]diagram.NodeType, len(doc.Nodes))

	for i, raw := range doc.Nodes {
		var entry map[string]map[string]any
		if err := raw.Decode(&entry); err != nil {
			return nil, fmt.Errorf("readable node %d: %w", i, err)
		}
		for name, cfg := range entry {
			n := nodeFromReadableEntry(i, name, cfg)
			d.Nodes = append(d.Nodes, n)
			labelToNode[n.Label] = n.ID
			nodeType[n.ID] = n.Type
			d.Handles = append(d.Handles, handle.GenerateDefaultHandles(n.ID, n.Type)...)
		}
	}

	lookupType := func(id diagram.NodeID) diagram.NodeType { return nodeType[id] }
	arrowCounter := 0
	for i, raw := range doc.Flow {
		arrows, err := parseReadableFlowEntry(raw, labelToNode, lookupType, arrowCounter)
		if err != nil {
			return nil, fmt.Errorf("flow entry %d: %w", i, err)
		}
		d.Arrows = append(d.Arrows, arrows...)
		arrowCounter += len(arrows)
	}

	return d, nil
}

func nodeFromReadableEntry(index int, name string, cfg map[string]any) diagram.Node {
	label := name
	position := diagram.Position{}

	if idx := strings.Index(name, " @("); idx >= 0 && strings.HasSuffix(name, ")") {
		label = name[:idx]
		posStr := name[idx+3 : len(name)-1]
		if x, y, ok := parsePositionPair(posStr); ok {
			position = diagram.Position{X: x, Y: y}
		}
	}

	nodeType, _ := cfg["type"].(string)
	if nodeType == "" {
		if index == 0 {
			nodeType = string(diagram.NodeStart)
		} else {
			nodeType = "job"
		}
	}

	data := map[string]any{}
	for k, v := range cfg {
		if k == "type" || k == "position" {
			continue
		}
		data[k] = v
	}

	return diagram.Node{
		ID:       diagram.NodeID(fmt.Sprintf("node_%d", index)),
		Type:     diagram.NodeType(nodeType),
		Label:    label,
		Position: position,
		Data:     data,
	}
}

func parsePositionPair(s string) (float64, float64, bool) {
	parts := strings.SplitN(s, ",", 2)
	if len(parts) != 2 {
		return 0, 0, false
	}
	x, err1 := strconv.ParseFloat(strings.TrimSpace(parts[0]), 64)
	y, err2 := strconv.ParseFloat(strings.TrimSpace(parts[1]), 64)
	if err1 != nil || err2 != nil {
		return 0, 0, false
	}
	return x, y, true
}

var (
	reReadableTo     = regexp.MustCompile(`to\s+"([^"]+)"`)
	reReadableFrom   = regexp.MustCompile(`from\s+"([^"]+)"`)
	reReadableIn     = regexp.MustCompile(`in\s+"([^"]+)"`)
	reReadableAs     = regexp.MustCompile(`as\s+"([^"]+)"`)
	reReadableNaming = regexp.MustCompile(`naming\s+"([^"]+)"`)
)

func parseReadableFlowEntry(raw yaml.Node, labelToNode map[string]diagram.NodeID, nodeType func(diagram.NodeID) diagram.NodeType, startCounter int) ([]diagram.Arrow, error) {
	var entry map[string]yaml.Node
	if err := raw.Decode(&entry); err != nil {
		return nil, err
	}

	var arrows []diagram.Arrow
	counter := startCounter
	for src, dstNode := range entry {
		srcNodeID, srcHandle, ok := parseReadableNodeAndHandle(src, labelToNode)
		if !ok {
			continue
		}

		var dests []string
		switch dstNode.Kind {
		case yaml.SequenceNode:
			if err := dstNode.Decode(&dests); err != nil {
				return nil, err
			}
		default:
			var single string
			if err := dstNode.Decode(&single); err != nil {
				return nil, err
			}
			dests = []string{single}
		}

		for _, dst := range dests {
			arrow, ok, err := parseReadableDestination(srcNodeID, srcHandle, dst, labelToNode, counter)
			if err != nil {
				return nil, err
			}
			if ok {
				arrows = append(arrows, arrow)
				counter++
			}
		}
	}
	return arrows, nil
}

// parseReadableNodeAndHandle mirrors _parse_node_and_handle: a source
// key may carry a "_condtrue"/"_condfalse" handle suffix directly.
func parseReadableNodeAndHandle(src string, labelToNode map[string]diagram.NodeID) (diagram.NodeID, diagram.HandleLabel, bool) {
	if id, ok := labelToNode[src]; ok {
		return id, diagram.LabelDefault, true
	}
	if idx := strings.LastIndex(src, "_"); idx >= 0 {
		base, h := src[:idx], src[idx+1:]
		if h == string(diagram.LabelCondTrue) || h == string(diagram.LabelCondFalse) {
			if id, ok := labelToNode[base]; ok {
				return id, diagram.HandleLabel(h), true
			}
		}
	}
	return "", "", false
}

// parseReadableDestination mirrors _parse_single_new_format: pulls
// to/from/in/as/naming keyword clauses out of dst via regex, falling
// back to a bare node-label destination when none are present.
func parseReadableDestination(srcNode diagram.NodeID, srcHandle diagram.HandleLabel, dst string, labelToNode map[string]diagram.NodeID, counter int) (diagram.Arrow, bool, error) {
	dst = strings.TrimSpace(dst)

	var dstLabel, dstHandle, contentType, arrowLabel, fromHandle string
	dstHandle = string(diagram.LabelDefault)

	if m := reReadableTo.FindStringSubmatch(dst); m != nil {
		dstLabel = m[1]
	}
	if m := reReadableFrom.FindStringSubmatch(dst); m != nil {
		fromHandle = m[1]
	}
	if m := reReadableIn.FindStringSubmatch(dst); m != nil {
		dstHandle = m[1]
	}
	if m := reReadableAs.FindStringSubmatch(dst); m != nil {
		contentType = m[1]
	}
	if m := reReadableNaming.FindStringSubmatch(dst); m != nil {
		arrowLabel = m[1]
	}

	if dstLabel == "" {
		// Old format: a bare label, optionally "Label_handle".
		if _, ok := labelToNode[dst]; ok {
			dstLabel, dstHandle = dst, string(diagram.LabelDefault)
		} else if idx := strings.LastIndex(dst, "_"); idx >= 0 {
			dstLabel, dstHandle = dst[:idx], dst[idx+1:]
		} else {
			return diagram.Arrow{}, false, nil
		}
	}

	dstNodeID, ok := labelToNode[dstLabel]
	if !ok {
		return diagram.Arrow{}, false, nil
	}

	actualSrcHandle := srcHandle
	if fromHandle != "" {
		actualSrcHandle = diagram.HandleLabel(fromHandle)
	}

	return diagram.Arrow{
		ID:          diagram.ArrowID(fmt.Sprintf("arrow_%d", counter)),
		Source:      handle.CreateID(srcNode, actualSrcHandle, diagram.DirectionOutput),
		Target:      handle.CreateID(dstNodeID, diagram.HandleLabel(dstHandle), diagram.DirectionInput),
		ContentType: diagram.ContentType(contentType),
		Label:       arrowLabel,
	}, true, nil
}

func (readableYAMLStrategy) serialize(d *diagram.DomainDiagram) ([]byte, error) {
	idToLabel := make(map[diagram.NodeID]string, len(d.Nodes))
	var nodes []map[string]any
	for _, n := range d.Nodes {
		idToLabel[n.ID] = n.Label
		name := fmt.Sprintf("%s @(%d,%d)", n.Label, int(n.Position.X), int(n.Position.Y))
		cfg := map[string]any{"type": string(n.Type)}
		for k, v := range n.Data {
			cfg[k] = v
		}
		nodes = append(nodes, map[string]any{name: cfg})
	}

	var flow []map[string]string
	for _, a := range d.Arrows {
		srcParsed, err := handle.ParseID(a.Source)
		if err != nil {
			return nil, err
		}
		dstParsed, err := handle.ParseID(a.Target)
		if err != nil {
			return nil, err
		}

		src := idToLabel[srcParsed.NodeID]
		if srcParsed.Label != diagram.LabelDefault {
			src = fmt.Sprintf("%s_%s", src, srcParsed.Label)
		}

		dst := fmt.Sprintf("to %q", idToLabel[dstParsed.NodeID])
		if dstParsed.Label != diagram.LabelDefault {
			dst += fmt.Sprintf(" in %q", dstParsed.Label)
		}
		if a.ContentType != "" {
			dst += fmt.Sprintf(" as %q", a.ContentType)
		}
		if a.Label != "" {
			dst += fmt.Sprintf(" naming %q", a.Label)
		}

		flow = append(flow, map[string]string{src: dst})
	}

	doc := map[string]any{
		"version":  "readable",
		"nodes":    nodes,
		"flow":     flow,
		"persons":  d.Persons,
		"metadata": d.Metadata,
	}
	return yaml.Marshal(doc)
}

func (readableYAMLStrategy) detectConfidence(content []byte) float64 {
	text := string(content)
	score := 0.0
	if strings.Contains(text, "version: readable") {
		score += 0.5
	}
	if strings.Contains(text, "flow:") {
		score += 0.4
	}
	if strings.Contains(text, " @(") {
		score += 0.2
	}
	if score > 1 {
		score = 1
	}
	return score
}
