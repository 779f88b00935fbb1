// Package engine implements the scheduler/engine (spec §4.8): the
// driving loop that advances node state machines, decides readiness,
// applies edge activation, and dispatches the handler lifecycle
// (package handler). Grounded on the teacher's
// cmd/workflow-runner/coordinator/coordinator.go choreography
// (handleCompletion → routeToNextNodes → processWorkerNode), adapted
// from Redis-stream choreography between independent worker processes
// to an in-process driving loop over the in-memory event bus and state
// service this module already built, since nothing in the corpus's
// other repos offers a closer single-process analog.
package engine

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/dipeo/dipeo-core/internal/compiler"
	"github.com/dipeo/dipeo-core/internal/diagram"
	"github.com/dipeo/dipeo-core/internal/dperr"
	"github.com/dipeo/dipeo-core/internal/engine/condition"
	"github.com/dipeo/dipeo-core/internal/envelope"
	"github.com/dipeo/dipeo-core/internal/eventbus"
	"github.com/dipeo/dipeo-core/internal/handler"
	"github.com/dipeo/dipeo-core/internal/logging"
	"github.com/dipeo/dipeo-core/internal/registry"
	"github.com/dipeo/dipeo-core/internal/state"
)

// DefaultMaxConcurrent is the per-execution worker pool size (spec §4.8
// "a configurable max_concurrent (per execution; default 8)").
const DefaultMaxConcurrent = 8

// DefaultMaxIterations bounds the driving loop's dispatch rounds (spec
// §4.8 "global iteration count exceeds max_iterations").
const DefaultMaxIterations = 10000

// DiagramLoader resolves a diagram id to its compiled form, the seam
// sub_diagram dispatch uses to find the diagram it should instantiate.
type DiagramLoader func(id diagram.DiagramID) (*compiler.ExecutableDiagram, error)

// Options tunes one Engine's scheduling behavior.
type Options struct {
	MaxConcurrent    int
	MaxIterations    int
	NodeTimeout      time.Duration
	ExecutionTimeout time.Duration
	DiagramLoader    DiagramLoader
	Aborts           *AbortRegistry
}

func (o Options) withDefaults() Options {
	if o.MaxConcurrent <= 0 {
		o.MaxConcurrent = DefaultMaxConcurrent
	}
	if o.MaxIterations <= 0 {
		o.MaxIterations = DefaultMaxIterations
	}
	return o
}

// Engine is the per-runtime scheduler: one Engine value handles every
// execution, each running its own isolated driving loop.
type Engine struct {
	registry      *registry.Registry
	state         *state.Service
	bus           *eventbus.Bus
	handlers      *handler.Registry
	conditionEval *condition.Evaluator
	log           *logging.Logger
	opts          Options
}

// New builds an Engine from a fully-populated service registry (spec
// §4.10's required keys STATE_SERVICE, EVENT_BUS, HANDLER_REGISTRY must
// already be bound).
func New(reg *registry.Registry, log *logging.Logger, opts Options) (*Engine, error) {
	stateSvc, err := registry.Resolve(reg, state.ServiceKey)
	if err != nil {
		return nil, err
	}
	bus, err := registry.Resolve(reg, eventbus.BusKey)
	if err != nil {
		return nil, err
	}
	handlers, err := registry.Resolve(reg, handler.Key)
	if err != nil {
		return nil, err
	}
	return &Engine{
		registry:      reg,
		state:         stateSvc,
		bus:           bus,
		handlers:      handlers,
		conditionEval: condition.NewEvaluator(),
		log:           log,
		opts:          opts.withDefaults(),
	}, nil
}

// runState holds the "(source_node, sequence)" freshness tracker the
// readiness rule (spec §4.8) checks contributing edges against.
type runState struct {
	mu         sync.Mutex
	nodeSeq    map[diagram.NodeID]int
	consumed   map[diagram.ArrowID]int
	execCount  map[diagram.NodeID]int
	statuses   map[diagram.NodeID]state.NodeStatus
	dispatched map[diagram.NodeID]bool
}

func newRunState() *runState {
	return &runState{
		nodeSeq:    make(map[diagram.NodeID]int),
		consumed:   make(map[diagram.ArrowID]int),
		execCount:  make(map[diagram.NodeID]int),
		statuses:   make(map[diagram.NodeID]state.NodeStatus),
		dispatched: make(map[diagram.NodeID]bool),
	}
}

func (rs *runState) statusOf(id diagram.NodeID) state.NodeStatus {
	rs.mu.Lock()
	defer rs.mu.Unlock()
	if s, ok := rs.statuses[id]; ok {
		return s
	}
	return state.NodePending
}

// nodeResult is what a dispatched node reports back to the driving loop.
type nodeResult struct {
	node   *compiler.ExecutableNode
	output envelope.Envelope
	err    error
	fatal  bool // true if the failure must abort the whole execution
}

// Run drives compiled to completion for executionID, returning the
// final ExecutionState. initialInput seeds the diagram's start node(s).
func (e *Engine) Run(ctx context.Context, compiled *compiler.ExecutableDiagram, executionID diagram.ExecutionID, initialInput map[string]any) (*state.ExecutionState, error) {
	return e.run(ctx, compiled, executionID, initialInput, false)
}

func (e *Engine) run(ctx context.Context, compiled *compiler.ExecutableDiagram, executionID diagram.ExecutionID, initialInput map[string]any, isSub bool) (*state.ExecutionState, error) {
	es, err := e.state.StartExecution(ctx, executionID, compiled.ID)
	if err != nil {
		return nil, fmt.Errorf("start execution: %w", err)
	}
	if initialInput != nil {
		es.Variables = initialInput
	}
	e.publishExecution(ctx, executionID, eventbus.ExecutionStarted, nil)

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	if e.opts.Aborts != nil {
		release := e.opts.Aborts.Track(executionID, cancel)
		defer release()
	}

	var executionDeadline <-chan time.Time
	if e.opts.ExecutionTimeout > 0 {
		timer := time.NewTimer(e.opts.ExecutionTimeout)
		defer timer.Stop()
		executionDeadline = timer.C
	}

	rs := newRunState()
	for _, id := range compiled.GetEntryNodes() {
		rs.statuses[id] = state.NodePending
	}

	sem := make(chan struct{}, e.opts.MaxConcurrent)
	results := make(chan nodeResult)

	running := 0
	iterations := 0
	finalStatus := state.ExecutionCompleted
	finalErr := ""

dispatchLoop:
	for {
		select {
		case <-runCtx.Done():
			finalStatus, finalErr = state.ExecutionAborted, "execution cancelled"
			break dispatchLoop
		case <-executionDeadline:
			finalStatus, finalErr = state.ExecutionFailed, "execution timed out"
			break dispatchLoop
		default:
		}

		ready := e.computeReadySet(compiled, rs, es)
		if len(ready) == 0 {
			if running == 0 {
				break dispatchLoop
			}
		} else {
			iterations++
			if iterations > e.opts.MaxIterations {
				finalStatus, finalErr = state.ExecutionMaxIterReached, "global iteration limit exceeded"
				break dispatchLoop
			}
			for _, node := range ready {
				rs.mu.Lock()
				rs.dispatched[node.ID] = true
				rs.statuses[node.ID] = state.NodeRunning
				rs.mu.Unlock()
				running++
				go e.dispatchNode(runCtx, sem, compiled, node, rs, es, executionID, isSub, results)
			}
		}

		select {
		case res := <-results:
			running--
			rs.mu.Lock()
			delete(rs.dispatched, res.node.ID)
			rs.mu.Unlock()
			abort := e.applyResult(ctx, compiled, rs, es, executionID, res)
			if abort {
				finalStatus, finalErr = state.ExecutionFailed, res.err.Error()
				cancel()
				break dispatchLoop
			}
		case <-runCtx.Done():
			finalStatus, finalErr = state.ExecutionAborted, "execution cancelled"
			break dispatchLoop
		case <-executionDeadline:
			finalStatus, finalErr = state.ExecutionFailed, "execution timed out"
			break dispatchLoop
		}
	}

	// Drain outstanding goroutines so they don't leak past Run's return.
	cancel()
	for running > 0 {
		<-results
		running--
	}

	// FinishExecution evicts the cache entry and node outputs are
	// cache-only, so take them from the live state before finishing.
	live, _ := e.state.GetExecutionState(ctx, executionID)
	if err := e.state.FinishExecution(ctx, executionID, finalStatus, finalErr); err != nil {
		return nil, fmt.Errorf("finish execution: %w", err)
	}
	switch finalStatus {
	case state.ExecutionCompleted:
		e.publishExecution(ctx, executionID, eventbus.ExecutionCompleted, nil)
	case state.ExecutionFailed:
		e.publishExecution(ctx, executionID, eventbus.ExecutionFailed, finalErr)
	case state.ExecutionAborted:
		e.publishExecution(ctx, executionID, eventbus.ExecutionAborted, finalErr)
	}

	finalState, err := e.state.GetExecutionState(ctx, executionID)
	if err != nil {
		return nil, err
	}
	if live != nil {
		finalState.NodeOutputs = live.NodeOutputs
	}
	return finalState, nil
}

// computeReadySet implements spec §4.8's readiness rule.
func (e *Engine) computeReadySet(compiled *compiler.ExecutableDiagram, rs *runState, es *state.ExecutionState) []*compiler.ExecutableNode {
	rs.mu.Lock()
	defer rs.mu.Unlock()

	var ready []*compiler.ExecutableNode
	for _, id := range compiled.ExecutionOrder {
		node := compiled.Nodes[id]
		if rs.dispatched[id] {
			continue
		}

		status := rs.statuses[id]
		loopEligible := node.Loop != nil && node.Loop.Enabled && status == state.NodeCompleted && rs.execCount[id] < node.Loop.MaxIterations
		if status != state.NodePending && status != "" && !loopEligible {
			continue
		}

		deps := compiled.EdgesInto(id)
		if len(deps) == 0 {
			if rs.execCount[id] == 0 {
				ready = append(ready, node)
			}
			continue
		}

		requireAll := node.WaitForAll || node.IsTerminal
		anyFresh := false
		allFresh := true
		for _, edge := range deps {
			if edge.RequiresFirstExecution && rs.execCount[id] != 0 {
				continue
			}
			fresh := e.edgeContributes(es, rs, edge)
			if fresh {
				anyFresh = true
			} else {
				allFresh = false
			}
		}

		if (requireAll && allFresh) || (!requireAll && anyFresh) {
			ready = append(ready, node)
		}
	}
	return ready
}

// edgeContributes reports whether edge has delivered a fresh envelope,
// on the branch it declares, since the target's last run (spec §4.8
// readiness rule clause 2-3). Must be called with rs.mu held.
func (e *Engine) edgeContributes(es *state.ExecutionState, rs *runState, edge compiler.ExecutableEdge) bool {
	out, ok := es.NodeOutputs[edge.SourceNode]
	if !ok {
		return false
	}
	if out.OutputLabel() != edge.SourceOutputLabel {
		return false
	}
	seq := rs.nodeSeq[edge.SourceNode]
	return seq > rs.consumed[edge.ID]
}

// dispatchNode runs one node's full handler lifecycle, bounded by the
// engine's worker-pool semaphore and the node's own timeout.
func (e *Engine) dispatchNode(ctx context.Context, sem chan struct{}, compiled *compiler.ExecutableDiagram, node *compiler.ExecutableNode, rs *runState, es *state.ExecutionState, executionID diagram.ExecutionID, isSub bool, results chan<- nodeResult) {
	select {
	case sem <- struct{}{}:
		defer func() { <-sem }()
	case <-ctx.Done():
		results <- nodeResult{node: node, err: dperr.Cancelled(string(node.ID)), fatal: false}
		return
	}

	nodeCtx := ctx
	var cancel context.CancelFunc
	if e.opts.NodeTimeout > 0 {
		nodeCtx, cancel = context.WithTimeout(ctx, e.opts.NodeTimeout)
		defer cancel()
	}

	_ = e.state.UpdateNodeExecution(ctx, executionID, node.ID, func(ns *state.NodeState) {
		now := time.Now()
		ns.Status = state.NodeRunning
		ns.StartedAt = &now
		ns.ExecCount++
	})
	e.publishNode(ctx, executionID, eventbus.NodeStarted, node.ID, nil)

	h, err := e.handlers.Resolve(node.Type)
	if err != nil {
		e.failNode(ctx, executionID, node, err)
		results <- nodeResult{node: node, err: err, fatal: !edgesAllContinueOnError(compiled, node)}
		return
	}

	inputs := e.gatherInputs(compiled, rs, es, node)
	req := &handler.ExecutionRequest{
		Node:          node,
		Registry:      e.registry,
		ExecutionID:   executionID,
		Variables:     es.Variables,
		ConditionEval: e.conditionEval,
		NodeLookup:    e.nodeLookup(rs),
		RunSubDiagram: e.runSubDiagram(executionID),
		MaxConcurrent: e.opts.MaxConcurrent,
		IsSubDiagram:  isSub,
	}

	output, err := e.runLifecycle(nodeCtx, h, req, inputs)
	if err != nil {
		if nodeCtx.Err() == context.DeadlineExceeded {
			err = dperr.Timeout(string(node.ID), err)
		}
		e.failNode(ctx, executionID, node, err)
		results <- nodeResult{node: node, err: err, fatal: !edgesAllContinueOnError(compiled, node)}
		return
	}

	_ = e.state.SetNodeOutput(ctx, executionID, node.ID, output)
	_ = e.state.UpdateNodeExecution(ctx, executionID, node.ID, func(ns *state.NodeState) {
		now := time.Now()
		ns.Status = state.NodeCompleted
		ns.EndedAt = &now
	})
	e.publishNode(ctx, executionID, eventbus.NodeCompleted, node.ID, output.OutputLabel())

	results <- nodeResult{node: node, output: output}
}

func (e *Engine) runLifecycle(ctx context.Context, h handler.Handler, req *handler.ExecutionRequest, inputs map[diagram.HandleLabel]envelope.Envelope) (envelope.Envelope, error) {
	if err := h.Validate(req); err != nil {
		return envelope.Envelope{}, err
	}

	if short, err := h.PreExecute(ctx, req); err != nil {
		return envelope.Envelope{}, err
	} else if short != nil {
		return h.PostExecute(ctx, req, *short)
	}

	args, err := h.PrepareInputs(ctx, req, inputs)
	if err != nil {
		return envelope.Envelope{}, err
	}

	result, err := h.Run(ctx, req, args)
	if err != nil {
		return envelope.Envelope{}, err
	}

	output, err := h.SerializeOutput(req, result)
	if err != nil {
		return envelope.Envelope{}, err
	}

	return h.PostExecute(ctx, req, output)
}

// gatherInputs builds the label->envelope map PrepareInputs receives,
// from every edge the readiness pass considered fresh, and advances
// each consumed edge's watermark.
func (e *Engine) gatherInputs(compiled *compiler.ExecutableDiagram, rs *runState, es *state.ExecutionState, node *compiler.ExecutableNode) map[diagram.HandleLabel]envelope.Envelope {
	rs.mu.Lock()
	defer rs.mu.Unlock()

	inputs := make(map[diagram.HandleLabel]envelope.Envelope)
	for _, edge := range compiled.EdgesInto(node.ID) {
		if edge.RequiresFirstExecution && rs.execCount[node.ID] != 0 {
			continue
		}
		if !e.edgeContributes(es, rs, edge) {
			continue
		}
		inputs[edge.TargetInputLabel] = es.NodeOutputs[edge.SourceNode]
		rs.consumed[edge.ID] = rs.nodeSeq[edge.SourceNode]
	}
	return inputs
}

// applyResult folds a completed dispatch back into run-local bookkeeping
// and the shared ExecutionState snapshot, returning true if the failure
// must abort the whole execution (spec §4.8 failure semantics).
func (e *Engine) applyResult(ctx context.Context, compiled *compiler.ExecutableDiagram, rs *runState, es *state.ExecutionState, executionID diagram.ExecutionID, res nodeResult) bool {
	rs.mu.Lock()
	rs.execCount[res.node.ID]++
	if res.err == nil {
		rs.nodeSeq[res.node.ID]++
		rs.statuses[res.node.ID] = state.NodeCompleted
	} else {
		rs.statuses[res.node.ID] = state.NodeFailed
	}
	rs.mu.Unlock()

	if fresh, err := e.state.GetExecutionState(ctx, executionID); err == nil {
		*es = *fresh
	}

	return res.err != nil && res.fatal
}

func edgesAllContinueOnError(compiled *compiler.ExecutableDiagram, node *compiler.ExecutableNode) bool {
	out := compiled.EdgesFrom(node.ID)
	if len(out) == 0 {
		return false
	}
	for _, e := range out {
		if !e.ContinueOnError {
			return false
		}
	}
	return true
}

func (e *Engine) failNode(ctx context.Context, executionID diagram.ExecutionID, node *compiler.ExecutableNode, err error) {
	_ = e.state.UpdateNodeExecution(ctx, executionID, node.ID, func(ns *state.NodeState) {
		now := time.Now()
		ns.Status = state.NodeFailed
		ns.EndedAt = &now
		ns.Error = err.Error()
	})
	errEnv := envelope.ErrorEnvelope(err.Error(), errorKind(err), node.ID, executionID)
	_ = e.state.SetNodeOutput(ctx, executionID, node.ID, errEnv)
	e.publishNode(ctx, executionID, eventbus.NodeFailed, node.ID, err.Error())
}

func errorKind(err error) string {
	type kinder interface{ Kind() dperr.Kind }
	if k, ok := err.(kinder); ok {
		return string(k.Kind())
	}
	return string(dperr.KindNodeExecution)
}

// nodeLookup adapts run-local bookkeeping into the condition
// evaluator's NodeLookup seam (detect_max_iterations/check_nodes_executed).
func (e *Engine) nodeLookup(rs *runState) condition.NodeLookup {
	return func(nodeID diagram.NodeID) (execCount int, completed bool, ok bool) {
		rs.mu.Lock()
		defer rs.mu.Unlock()
		count, seen := rs.execCount[nodeID]
		if !seen {
			return 0, false, false
		}
		return count, rs.statuses[nodeID] == state.NodeCompleted, true
	}
}

// runSubDiagram builds the handler.SubDiagramRunner closure the
// sub_diagram handler dispatches through (spec §4.8 "sub_diagram
// recursively instantiates the engine on a child diagram").
func (e *Engine) runSubDiagram(parentExecutionID diagram.ExecutionID) handler.SubDiagramRunner {
	return func(ctx context.Context, diagramID diagram.DiagramID, inputs map[string]any) (envelope.Envelope, error) {
		if e.opts.DiagramLoader == nil {
			return envelope.Envelope{}, fmt.Errorf("sub_diagram: no diagram loader configured")
		}
		child, err := e.opts.DiagramLoader(diagramID)
		if err != nil {
			return envelope.Envelope{}, fmt.Errorf("sub_diagram: load %q: %w", diagramID, err)
		}

		childExecID := diagram.ExecutionID(fmt.Sprintf("%s/%s/%d", parentExecutionID, diagramID, time.Now().UnixNano()))
		childState, err := e.run(ctx, child, childExecID, inputs, true)
		if err != nil {
			return envelope.Envelope{}, fmt.Errorf("sub_diagram: run %q: %w", diagramID, err)
		}
		if childState.Status != state.ExecutionCompleted {
			return envelope.Envelope{}, fmt.Errorf("sub_diagram: child execution %q finished with status %s: %s", childExecID, childState.Status, childState.Error)
		}

		for _, id := range child.GetTerminalNodes() {
			if out, ok := childState.NodeOutputs[id]; ok {
				return out, nil
			}
		}
		return envelope.Envelope{}, fmt.Errorf("sub_diagram: child execution %q produced no terminal output", childExecID)
	}
}

func (e *Engine) publishNode(ctx context.Context, executionID diagram.ExecutionID, t eventbus.Type, nodeID diagram.NodeID, detail any) {
	e.bus.Publish(ctx, eventbus.Event{
		Type:        t,
		ExecutionID: executionID,
		Timestamp:   time.Now(),
		Payload:     NodeEventPayload{NodeID: nodeID, Detail: detail},
	})
}

func (e *Engine) publishExecution(ctx context.Context, executionID diagram.ExecutionID, t eventbus.Type, detail any) {
	e.bus.Publish(ctx, eventbus.Event{
		Type:        t,
		ExecutionID: executionID,
		Timestamp:   time.Now(),
		Payload:     ExecutionEventPayload{ExecutionID: executionID, Detail: detail},
	})
}

// NodeEventPayload is the Payload carried by every NODE_* event.
type NodeEventPayload struct {
	NodeID diagram.NodeID
	Detail any
}

// ExecutionEventPayload is the Payload carried by every EXECUTION_* event.
type ExecutionEventPayload struct {
	ExecutionID diagram.ExecutionID
	Detail      any
}

// Abort sets the execution to ABORTED and trips its cancellation signal
// (spec §4.8 "abort_execution(execution_id)"). Implemented by an
// AbortRegistry the Runtime composition root hands out per execution,
// since context.CancelFunc values can't be looked up by id otherwise.
type AbortRegistry struct {
	mu      sync.Mutex
	cancels map[diagram.ExecutionID]context.CancelFunc
}

// NewAbortRegistry builds an empty AbortRegistry.
func NewAbortRegistry() *AbortRegistry {
	return &AbortRegistry{cancels: make(map[diagram.ExecutionID]context.CancelFunc)}
}

// Track registers cancel under id, returning a release func to call once
// the execution finishes.
func (a *AbortRegistry) Track(id diagram.ExecutionID, cancel context.CancelFunc) (release func()) {
	a.mu.Lock()
	a.cancels[id] = cancel
	a.mu.Unlock()
	return func() {
		a.mu.Lock()
		delete(a.cancels, id)
		a.mu.Unlock()
	}
}

// Abort cancels a tracked execution's context, if still running.
func (a *AbortRegistry) Abort(id diagram.ExecutionID) bool {
	a.mu.Lock()
	cancel, ok := a.cancels[id]
	a.mu.Unlock()
	if ok {
		cancel()
	}
	return ok
}
