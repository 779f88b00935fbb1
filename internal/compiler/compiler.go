package compiler

import (
	"fmt"
	"sort"

	"github.com/dipeo/dipeo-core/internal/diagram"
	"github.com/dipeo/dipeo-core/internal/dperr"
	"github.com/dipeo/dipeo-core/internal/handle"
)

// Compile lowers a DomainDiagram into an ExecutableDiagram, per spec
// §4.4: validate structural invariants, generate missing handles,
// resolve arrows into transform-annotated edges, topologically order
// with a loop exception for bounded cycles.
//
// Compilation is deterministic: node/edge iteration below always walks
// d.Nodes/d.Arrows in their declared order and ExecutionOrder is sorted,
// so identical diagram bytes produce identical ExecutableDiagram values
// (spec §4.4 "Compilation is deterministic").
func Compile(d *diagram.DomainDiagram, opts Options) (*ExecutableDiagram, error) {
	if err := validateStructure(d, opts); err != nil {
		return nil, err
	}

	handlesByNode := groupHandlesByNode(d)
	handlesByNode = generateMissingHandles(d, handlesByNode)

	nodes := make(map[diagram.NodeID]*ExecutableNode, len(d.Nodes))
	for _, n := range d.Nodes {
		nodes[n.ID] = &ExecutableNode{
			ID:    n.ID,
			Type:  n.Type,
			Label: n.Label,
			Data:  n.Data,
		}
	}

	edges, err := resolveEdges(d, nodes)
	if err != nil {
		return nil, err
	}

	attachDependencies(nodes, edges)
	attachLoopAndBranchConfigs(d, nodes, edges)
	propagateConditionContentTypes(nodes, edges)

	order, err := topologicalOrder(nodes)
	if err != nil {
		return nil, err
	}

	computeTerminalNodes(nodes)

	ed := &ExecutableDiagram{
		ID:             d.ID,
		Nodes:          nodes,
		Edges:          edges,
		ExecutionOrder: order,
		Metadata:       d.Metadata,
	}

	if err := validateCompiled(ed); err != nil {
		return nil, err
	}

	return ed, nil
}

// Options tunes compilation for cases that aren't errors in every
// context (a sub-diagram is allowed zero start nodes if the caller
// supplies inputs directly, per spec §3.3 invariant 2's "unless running
// as sub-diagram" carve-out).
type Options struct {
	IsSubDiagram bool
}

func validateStructure(d *diagram.DomainDiagram, opts Options) error {
	if len(d.Nodes) == 0 {
		return &dperr.ValidationError{Reason: "diagram has zero nodes"}
	}

	nodeIndex := make(map[diagram.NodeID]diagram.Node, len(d.Nodes))
	startCount := 0
	for _, n := range d.Nodes {
		nodeIndex[n.ID] = n
		if n.Type == diagram.NodeStart {
			startCount++
		}
	}

	if !opts.IsSubDiagram && startCount != 1 {
		return &dperr.ValidationError{Reason: fmt.Sprintf("expected exactly one start node, found %d", startCount)}
	}

	handleIndex := make(map[diagram.HandleID]diagram.Handle, len(d.Handles))
	for _, h := range d.Handles {
		if _, ok := nodeIndex[h.NodeID]; !ok {
			return &dperr.ValidationError{Reason: fmt.Sprintf("handle %q references unknown node %q", h.ID, h.NodeID)}
		}
		handleIndex[h.ID] = h
	}

	for _, a := range d.Arrows {
		srcHandle, ok := handleIndex[a.Source]
		if !ok {
			return &dperr.HandleError{Handle: string(a.Source), Reason: "arrow source does not resolve to a declared handle"}
		}
		if srcHandle.Direction != diagram.DirectionOutput {
			return &dperr.ValidationError{Reason: fmt.Sprintf("arrow %q source handle %q is not an output handle", a.ID, a.Source)}
		}

		dstHandle, ok := handleIndex[a.Target]
		if !ok {
			return &dperr.HandleError{Handle: string(a.Target), Reason: "arrow target does not resolve to a declared handle"}
		}
		if dstHandle.Direction != diagram.DirectionInput {
			return &dperr.ValidationError{Reason: fmt.Sprintf("arrow %q target handle %q is not an input handle", a.ID, a.Target)}
		}
	}

	handlesByNode := groupHandlesByNode(d)
	for _, n := range d.Nodes {
		if n.Type != diagram.NodeCondition {
			continue
		}
		declared := handlesByNode[n.ID]
		if len(declared) == 0 {
			continue // defaults are generated later and always satisfy this
		}
		hasTrue, hasFalse := false, false
		for _, h := range declared {
			if h.Direction != diagram.DirectionOutput {
				continue
			}
			hasTrue = hasTrue || h.Label == diagram.LabelCondTrue
			hasFalse = hasFalse || h.Label == diagram.LabelCondFalse
		}
		if !hasTrue || !hasFalse {
			return &dperr.ValidationError{Reason: fmt.Sprintf("condition node %q must expose condtrue and condfalse output handles", n.ID)}
		}
	}

	personIndex := make(map[diagram.PersonID]bool, len(d.Persons))
	for _, p := range d.Persons {
		personIndex[p.ID] = true
	}
	for _, n := range d.Nodes {
		if n.Type != diagram.NodePersonJob {
			continue
		}
		if raw, ok := n.Data["person"]; ok {
			personID, _ := raw.(string)
			if personID != "" && !personIndex[diagram.PersonID(personID)] {
				return &dperr.ValidationError{Reason: fmt.Sprintf("node %q references unknown person %q", n.ID, personID)}
			}
		}
	}

	return nil
}

func groupHandlesByNode(d *diagram.DomainDiagram) map[diagram.NodeID][]diagram.Handle {
	out := make(map[diagram.NodeID][]diagram.Handle)
	for _, h := range d.Handles {
		out[h.NodeID] = append(out[h.NodeID], h)
	}
	return out
}

func generateMissingHandles(d *diagram.DomainDiagram, handlesByNode map[diagram.NodeID][]diagram.Handle) map[diagram.NodeID][]diagram.Handle {
	for _, n := range d.Nodes {
		if len(handlesByNode[n.ID]) > 0 {
			continue
		}
		handlesByNode[n.ID] = handle.GenerateDefaultHandles(n.ID, n.Type)
	}
	return handlesByNode
}

// resolveEdges converts each Arrow into an ExecutableEdge, deriving
// transform_rules from (source_type, content_type, target_type,
// target_input_label) per spec §4.4 step 3.
func resolveEdges(d *diagram.DomainDiagram, nodes map[diagram.NodeID]*ExecutableNode) ([]ExecutableEdge, error) {
	handleIndex := make(map[diagram.HandleID]diagram.Handle, len(d.Handles))
	for _, h := range d.Handles {
		handleIndex[h.ID] = h
	}

	edges := make([]ExecutableEdge, 0, len(d.Arrows))
	for _, a := range d.Arrows {
		srcHandle, ok := handleIndex[a.Source]
		if !ok {
			p, err := handle.ParseID(a.Source)
			if err != nil {
				return nil, err
			}
			srcHandle = diagram.Handle{NodeID: p.NodeID, Label: p.Label, Direction: p.Direction}
		}
		dstHandle, ok := handleIndex[a.Target]
		if !ok {
			p, err := handle.ParseID(a.Target)
			if err != nil {
				return nil, err
			}
			dstHandle = diagram.Handle{NodeID: p.NodeID, Label: p.Label, Direction: p.Direction}
		}

		srcNode := nodes[srcHandle.NodeID]
		if srcNode == nil {
			return nil, &dperr.ValidationError{Reason: fmt.Sprintf("arrow %q source node %q not found", a.ID, srcHandle.NodeID)}
		}

		edge := ExecutableEdge{
			ID:                a.ID,
			SourceNode:        srcHandle.NodeID,
			TargetNode:        dstHandle.NodeID,
			SourceOutputLabel: srcHandle.Label,
			TargetInputLabel:  dstHandle.Label,
			ContentType:       a.ContentType,
			TransformRules:    map[string]any{},
			Metadata:          a.Data,
		}

		if srcNode.Type == diagram.NodeCondition && (srcHandle.Label == diagram.LabelCondTrue || srcHandle.Label == diagram.LabelCondFalse) {
			edge.IsConditional = true
			edge.TransformRules["branch"] = string(srcHandle.Label)
		}

		if dstHandle.Label == diagram.LabelFirst {
			edge.RequiresFirstExecution = true
		}

		if edge.ContentType == "" && srcNode.Type == diagram.NodePersonJob {
			edge.ContentType = diagram.ContentConversationState
		}

		if cont, ok := a.Data["continue_on_error"].(bool); ok {
			edge.ContinueOnError = cont
		}

		edges = append(edges, edge)
	}

	return edges, nil
}

func attachDependencies(nodes map[diagram.NodeID]*ExecutableNode, edges []ExecutableEdge) {
	depCount := make(map[diagram.NodeID]int)
	for _, e := range edges {
		target, ok := nodes[e.TargetNode]
		if !ok {
			continue
		}
		target.Dependencies = appendUnique(target.Dependencies, e.SourceNode)
		if src, ok := nodes[e.SourceNode]; ok {
			src.Dependents = appendUnique(src.Dependents, e.TargetNode)
		}
		depCount[e.TargetNode]++
	}
	for id, n := range nodes {
		if depCount[id] > 1 {
			n.WaitForAll = true
		}
	}
}

func appendUnique(list []diagram.NodeID, id diagram.NodeID) []diagram.NodeID {
	for _, existing := range list {
		if existing == id {
			return list
		}
	}
	return append(list, id)
}

// attachLoopAndBranchConfigs derives per-node Loop/Branch configs from
// node Data (max_iteration, loop_back_to, condition_type, expression)
// the way teacher createLoopConfig/createBranchConfig do.
func attachLoopAndBranchConfigs(d *diagram.DomainDiagram, nodes map[diagram.NodeID]*ExecutableNode, edges []ExecutableEdge) {
	for _, n := range d.Nodes {
		exec := nodes[n.ID]
		if n.Type == diagram.NodeCondition {
			exec.Branch = createBranchConfig(n, edges)
		}
		if maxIter, ok := intValue(n.Data["max_iteration"]); ok && maxIter > 1 {
			exec.Loop = createLoopConfig(n, maxIter)
		}
	}
}

func createBranchConfig(n diagram.Node, edges []ExecutableEdge) *BranchConfig {
	cfg := &BranchConfig{Enabled: true}
	expr, _ := n.Data["expression"].(string)
	condType, _ := n.Data["condition_type"].(string)
	if condType == "" {
		condType = string(diagram.ConditionCustom)
	}

	trueTargets, falseTargets := []diagram.NodeID{}, []diagram.NodeID{}
	for _, e := range edges {
		if e.SourceNode != n.ID {
			continue
		}
		switch e.SourceOutputLabel {
		case diagram.LabelCondTrue:
			trueTargets = appendUnique(trueTargets, e.TargetNode)
		case diagram.LabelCondFalse:
			falseTargets = appendUnique(falseTargets, e.TargetNode)
		}
	}

	cond := &Condition{Type: diagram.ConditionType(condType), Expression: expr}
	cfg.Rules = append(cfg.Rules, BranchRule{Condition: cond, NextNodes: trueTargets})
	cfg.Default = falseTargets
	cfg.AvailableNextNodes = append(append([]diagram.NodeID{}, trueTargets...), falseTargets...)
	return cfg
}

func createLoopConfig(n diagram.Node, maxIter int) *LoopConfig {
	cfg := &LoopConfig{Enabled: true, MaxIterations: maxIter}
	if v, ok := n.Data["loop_back_to"].(string); ok {
		cfg.LoopBackTo = diagram.NodeID(v)
	}
	if v, ok := n.Data["break_path"].(string); ok {
		cfg.BreakPath = diagram.NodeID(v)
	}
	if v, ok := n.Data["timeout_path"].(string); ok {
		cfg.TimeoutPath = diagram.NodeID(v)
	}
	if expr, ok := n.Data["loop_condition"].(string); ok && expr != "" {
		cfg.Condition = &Condition{Type: diagram.ConditionCustom, Expression: expr}
	}
	return cfg
}

func intValue(v any) (int, bool) {
	switch t := v.(type) {
	case int:
		return t, true
	case int64:
		return int(t), true
	case float64:
		return int(t), true
	default:
		return 0, false
	}
}

// propagateConditionContentTypes implements spec §4.4's "a condition's
// condtrue/condfalse output inherits the content type of its inputs
// when all inputs agree".
func propagateConditionContentTypes(nodes map[diagram.NodeID]*ExecutableNode, edges []ExecutableEdge) {
	for id, n := range nodes {
		if n.Type != diagram.NodeCondition {
			continue
		}

		var inbound diagram.ContentType
		agree := true
		seen := false
		for _, e := range edges {
			if e.TargetNode != id {
				continue
			}
			if !seen {
				inbound = e.ContentType
				seen = true
				continue
			}
			if e.ContentType != inbound {
				agree = false
			}
		}
		if !seen || !agree || inbound == "" {
			continue
		}

		for i := range edges {
			if edges[i].SourceNode == id && edges[i].ContentType == "" {
				edges[i].ContentType = inbound
			}
		}
	}
}

// topologicalOrder returns a Kahn's-algorithm ordering used only as a
// scheduling tie-breaker (spec §3.4: "not a strict sequence"). Nodes
// the Kahn pass never reaches (members of a bounded cycle and nodes
// downstream of one) are appended afterward sorted by node id, since
// they have no single well-defined topological position.
func topologicalOrder(nodes map[diagram.NodeID]*ExecutableNode) ([]diagram.NodeID, error) {
	if err := detectUnboundedCycles(nodes); err != nil {
		return nil, err
	}

	inDegree := make(map[diagram.NodeID]int, len(nodes))
	for id, n := range nodes {
		inDegree[id] = 0
		_ = n
	}
	for _, n := range nodes {
		for _, dep := range n.Dependents {
			inDegree[dep]++
		}
	}

	var queue []diagram.NodeID
	for id, d := range inDegree {
		if d == 0 {
			queue = append(queue, id)
		}
	}
	sort.Slice(queue, func(i, j int) bool { return queue[i] < queue[j] })

	var order []diagram.NodeID
	visited := make(map[diagram.NodeID]bool)
	for len(queue) > 0 {
		id := queue[0]
		queue = queue[1:]
		if visited[id] {
			continue
		}
		visited[id] = true
		order = append(order, id)

		var next []diagram.NodeID
		for _, dep := range nodes[id].Dependents {
			inDegree[dep]--
			if inDegree[dep] == 0 {
				next = append(next, dep)
			}
		}
		sort.Slice(next, func(i, j int) bool { return next[i] < next[j] })
		queue = append(queue, next...)
		sort.Slice(queue, func(i, j int) bool { return queue[i] < queue[j] })
	}

	// Loop participants and any node otherwise unreachable by the
	// Kahn pass (cycle members) are appended deterministically.
	if len(order) < len(nodes) {
		var remaining []diagram.NodeID
		for id := range nodes {
			if !visited[id] {
				remaining = append(remaining, id)
			}
		}
		sort.Slice(remaining, func(i, j int) bool { return remaining[i] < remaining[j] })
		order = append(order, remaining...)
	}

	return order, nil
}

// detectUnboundedCycles performs a DFS cycle check that permits cycles
// only through nodes whose Loop.Enabled is true or that are condition
// nodes (spec §8 boundary
// behavior: "Cycle without a condition or iteration-bounded node →
// ValidationError").
func detectUnboundedCycles(nodes map[diagram.NodeID]*ExecutableNode) error {
	const (
		white = 0
		gray  = 1
		black = 2
	)
	color := make(map[diagram.NodeID]int, len(nodes))

	var visit func(id diagram.NodeID, stack []diagram.NodeID) error
	visit = func(id diagram.NodeID, stack []diagram.NodeID) error {
		color[id] = gray
		stack = append(stack, id)

		for _, dep := range nodes[id].Dependents {
			switch color[dep] {
			case white:
				if err := visit(dep, stack); err != nil {
					return err
				}
			case gray:
				if !cycleIsBounded(nodes, dep, stack) {
					return &dperr.ValidationError{Reason: fmt.Sprintf("unbounded cycle detected through node %q", dep)}
				}
			}
		}

		color[id] = black
		return nil
	}

	ids := make([]diagram.NodeID, 0, len(nodes))
	for id := range nodes {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	for _, id := range ids {
		if color[id] == white {
			if err := visit(id, nil); err != nil {
				return err
			}
		}
	}
	return nil
}

// cycleIsBounded reports whether every node on the cycle back to
// target carries an enabled Loop config or is a condition node.
func cycleIsBounded(nodes map[diagram.NodeID]*ExecutableNode, target diagram.NodeID, stack []diagram.NodeID) bool {
	idx := -1
	for i, id := range stack {
		if id == target {
			idx = i
			break
		}
	}
	if idx == -1 {
		return false
	}
	for _, id := range stack[idx:] {
		n := nodes[id]
		if n.Loop == nil || !n.Loop.Enabled {
			if n.Type != diagram.NodeCondition {
				return false
			}
		}
	}
	return true
}

func computeTerminalNodes(nodes map[diagram.NodeID]*ExecutableNode) {
	for _, n := range nodes {
		n.IsTerminal = isTerminal(n)
	}
}

func isTerminal(n *ExecutableNode) bool {
	if len(n.Dependents) > 0 {
		return false
	}
	if n.Branch != nil && n.Branch.Enabled && len(n.Branch.AvailableNextNodes) > 0 {
		return false
	}
	if n.Loop != nil && n.Loop.Enabled && (n.Loop.BreakPath != "" || n.Loop.TimeoutPath != "") {
		return false
	}
	return true
}

func validateCompiled(d *ExecutableDiagram) error {
	if len(d.GetTerminalNodes()) == 0 {
		return &dperr.ValidationError{Reason: "compiled diagram has no terminal node"}
	}
	if len(d.GetEntryNodes()) == 0 {
		return &dperr.ValidationError{Reason: "compiled diagram has no entry node"}
	}

	for _, n := range d.Nodes {
		if n.Loop != nil && n.Loop.Enabled {
			if n.Loop.MaxIterations <= 0 {
				return &dperr.ValidationError{Reason: fmt.Sprintf("node %q has invalid max_iterations", n.ID)}
			}
			if n.Loop.LoopBackTo != "" {
				if _, ok := d.Nodes[n.Loop.LoopBackTo]; !ok {
					return &dperr.ValidationError{Reason: fmt.Sprintf("node %q loop_back_to references unknown node %q", n.ID, n.Loop.LoopBackTo)}
				}
			}
		}
		if n.Branch != nil && n.Branch.Enabled {
			for _, rule := range n.Branch.Rules {
				for _, target := range rule.NextNodes {
					if _, ok := d.Nodes[target]; !ok {
						return &dperr.ValidationError{Reason: fmt.Sprintf("node %q branch rule references unknown node %q", n.ID, target)}
					}
				}
			}
			for _, target := range n.Branch.Default {
				if _, ok := d.Nodes[target]; !ok {
					return &dperr.ValidationError{Reason: fmt.Sprintf("node %q branch default references unknown node %q", n.ID, target)}
				}
			}
		}
	}

	return nil
}
