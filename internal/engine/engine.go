// Package engine executes workflow graphs: it walks a directed graph of
// typed nodes and drives one run to completion, calling out to abstract
// collaborators for agent work and human decisions.
package engine

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/flowrig/flowrig/internal/expressions"
	"github.com/flowrig/flowrig/internal/journal"
	"github.com/flowrig/flowrig/internal/logging"
	"github.com/flowrig/flowrig/pkg/schema"
)

// AgentInvoker performs the actual work for an agent node, for example an
// LLM call. It receives the output of the previously executed node.
type AgentInvoker interface {
	Invoke(ctx context.Context, agentID, previousOutput string) (string, error)
}

// AgentInvokerFunc adapts a function to the AgentInvoker interface.
type AgentInvokerFunc func(ctx context.Context, agentID, previousOutput string) (string, error)

func (f AgentInvokerFunc) Invoke(ctx context.Context, agentID, previousOutput string) (string, error) {
	return f(ctx, agentID, previousOutput)
}

// DecisionRequest describes a pending human decision.
type DecisionRequest struct {
	RunID    string
	NodeID   string
	Question string
	Options  []schema.DecisionOption
}

// DecisionResolver supplies the answer for a human-decision node. Resolve
// blocks until a decision is made, the context is cancelled, or the
// configured timeout expires; it returns the chosen option ID.
type DecisionResolver interface {
	Resolve(ctx context.Context, req DecisionRequest) (string, error)
}

// DecisionResolverFunc adapts a function to the DecisionResolver interface.
type DecisionResolverFunc func(ctx context.Context, req DecisionRequest) (string, error)

func (f DecisionResolverFunc) Resolve(ctx context.Context, req DecisionRequest) (string, error) {
	return f(ctx, req)
}

// ResolveWithTimeout wraps a resolver so every Resolve call is bounded by
// the given timeout. The engine never applies it on its own: a decision
// node's timeout_seconds only populates the advisory TimeoutAt metadata,
// and deadline enforcement is left to the host.
func ResolveWithTimeout(resolver DecisionResolver, timeout time.Duration) DecisionResolver {
	return DecisionResolverFunc(func(ctx context.Context, req DecisionRequest) (string, error) {
		ctx, cancel := context.WithTimeout(ctx, timeout)
		defer cancel()
		return resolver.Resolve(ctx, req)
	})
}

// StateObserver is notified with a snapshot after every state change.
type StateObserver func(state *schema.ExecutionState)

// Options configures an Engine. Invoker and Resolver may be nil when the
// graph has no nodes of the corresponding type; executing such a node
// without its collaborator is a run error.
type Options struct {
	Invoker  AgentInvoker
	Resolver DecisionResolver
	Observer StateObserver
	Logger   *slog.Logger

	// Journal receives the run's event log. Defaults to an in-memory journal.
	Journal journal.Journal

	// Sleep implements delay nodes. Defaults to a context-aware timer;
	// tests inject an instant version.
	Sleep func(ctx context.Context, d time.Duration) error
}

// Engine drives runs of a single compiled workflow graph. One Engine owns
// one run at a time; Start, Pause, Resume, Stop and State are safe to call
// from concurrent goroutines.
type Engine struct {
	graph  *compiledGraph
	opts   Options
	logger *slog.Logger
	fsm    *RunFSM
	expr   *expressions.ExprEngine

	mu     sync.Mutex
	state  *schema.ExecutionState
	cancel context.CancelFunc
}

// New compiles the graph and returns an Engine ready to start a run.
func New(def *schema.WorkflowGraph, opts Options) (*Engine, error) {
	g, err := compileGraph(def)
	if err != nil {
		return nil, err
	}

	if opts.Journal == nil {
		opts.Journal = journal.NewMemory()
	}
	if opts.Sleep == nil {
		opts.Sleep = sleepContext
	}

	logger := opts.Logger
	if logger == nil {
		logger = slog.New(logging.NewCorrelationHandler(slog.Default().Handler()))
	}

	return &Engine{
		graph:  g,
		opts:   opts,
		logger: logger,
		fsm:    NewRunFSM(opts.Journal),
		expr:   expressions.NewExprEngine(),
		state:  schema.NewExecutionState(uuid.NewString(), def.ID),
	}, nil
}

// Start begins a fresh run and blocks until it completes, fails, pauses,
// or is stopped. Starting while a run is in progress is a conflict.
func (e *Engine) Start(ctx context.Context) error {
	e.mu.Lock()
	switch e.state.Status {
	case schema.RunStatusRunning, schema.RunStatusPaused, schema.RunStatusWaitingHuman:
		e.mu.Unlock()
		return schema.NewErrorf(schema.ErrCodeConflict, "run %s already in progress", e.state.RunID)
	}

	// A fresh state per run; the previous run's state is discarded.
	st := schema.NewExecutionState(uuid.NewString(), e.graph.def.ID)
	e.state = st

	runCtx, cancel := context.WithCancel(ctx)
	e.cancel = cancel
	runCtx = logging.WithRunID(runCtx, st.RunID)

	if err := e.fsm.Transition(runCtx, st.RunID, schema.RunStatusIdle, schema.RunStatusRunning); err != nil {
		e.mu.Unlock()
		return err
	}
	st.Status = schema.RunStatusRunning
	now := time.Now().UTC()
	st.StartedAt = &now
	e.mu.Unlock()
	e.observe()

	logging.LogWith(runCtx, e.logger).Info("run started", "workflow_id", e.graph.def.ID)

	if e.graph.start == nil {
		return e.fail(runCtx, "", "no start node found")
	}

	return e.executeFrom(runCtx, e.graph.start.node.ID)
}

// Pause requests a pause. The in-flight node finishes; the run stops before
// the next node. A no-op unless the run is currently running.
func (e *Engine) Pause() {
	e.mu.Lock()
	if e.state.Status != schema.RunStatusRunning {
		e.mu.Unlock()
		return
	}
	st := e.state
	if err := e.fsm.Transition(context.Background(), st.RunID, schema.RunStatusRunning, schema.RunStatusPaused); err != nil {
		logging.LogWith(context.Background(), e.logger).Warn("pause transition", "error", err.Error())
	}
	st.Status = schema.RunStatusPaused
	e.mu.Unlock()
	e.observe()
}

// Resume continues a paused run and blocks like Start. The node recorded as
// current is executed again: resumption re-enters the node the run paused
// on, so nodes with side effects may run twice across a pause.
func (e *Engine) Resume(ctx context.Context) error {
	e.mu.Lock()
	if e.state.Status != schema.RunStatusPaused {
		status := e.state.Status
		e.mu.Unlock()
		return schema.NewErrorf(schema.ErrCodeInvalidTransition, "cannot resume from status %s", status)
	}
	if e.state.CurrentNodeID == "" {
		e.mu.Unlock()
		return schema.NewError(schema.ErrCodeInvalidTransition, "cannot resume without a current node")
	}
	st := e.state

	runCtx, cancel := context.WithCancel(ctx)
	e.cancel = cancel
	runCtx = logging.WithRunID(runCtx, st.RunID)

	if err := e.fsm.Transition(runCtx, st.RunID, schema.RunStatusPaused, schema.RunStatusRunning); err != nil {
		e.mu.Unlock()
		return err
	}
	st.Status = schema.RunStatusRunning
	node := st.CurrentNodeID
	e.mu.Unlock()
	e.observe()

	logging.LogWith(runCtx, e.logger).Info("run resumed", "node_id", node)

	return e.executeFrom(runCtx, node)
}

// Stop aborts the run and resets it to idle. In-flight waits (agent calls,
// pending decisions, delays) are cancelled via the run context; state
// gathered so far is kept for inspection.
func (e *Engine) Stop() {
	e.mu.Lock()
	if e.state.Status == schema.RunStatusIdle {
		e.mu.Unlock()
		return
	}
	st := e.state
	if err := e.fsm.Transition(context.Background(), st.RunID, st.Status, schema.RunStatusIdle); err != nil {
		logging.LogWith(context.Background(), e.logger).Warn("stop transition", "error", err.Error())
	}
	st.Status = schema.RunStatusIdle
	st.CurrentNodeID = ""
	st.HumanDecisionPending = nil
	cancel := e.cancel
	e.cancel = nil
	e.mu.Unlock()
	e.observe()

	if cancel != nil {
		cancel()
	}
}

// State returns a snapshot of the current run state.
func (e *Engine) State() *schema.ExecutionState {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state.Clone()
}

// Journal exposes the run journal for replay and inspection.
func (e *Engine) Journal() journal.Journal {
	return e.opts.Journal
}

// executeFrom walks the graph from nodeID until the run leaves the running
// state or a node has nowhere to go.
func (e *Engine) executeFrom(ctx context.Context, nodeID string) error {
	current := nodeID
	for current != "" {
		if ctx.Err() != nil {
			return e.handleCancel(ctx, current)
		}

		e.mu.Lock()
		status := e.state.Status
		e.mu.Unlock()
		if status != schema.RunStatusRunning {
			return nil
		}

		next, cont, err := e.executeNode(ctx, current)
		if err != nil {
			return err
		}
		if !cont {
			return nil
		}
		if next == "" {
			logging.LogWith(ctx, e.logger).Warn("node has no outgoing edge, halting", "node_id", current)
			return nil
		}
		current = next
	}
	return nil
}

// handleCancel distinguishes a Stop-initiated cancellation (graceful, run
// already reset to idle) from an external context cancellation.
func (e *Engine) handleCancel(ctx context.Context, nodeID string) error {
	e.mu.Lock()
	stopped := e.state.Status == schema.RunStatusIdle
	e.mu.Unlock()
	if stopped {
		return nil
	}
	return e.failCode(ctx, nodeID, schema.ErrCodeCancelled, "run cancelled")
}

// fail moves the run to the error state and returns the resulting error.
func (e *Engine) fail(ctx context.Context, nodeID, msg string) error {
	return e.failCode(ctx, nodeID, schema.ErrCodeExecution, msg)
}

func (e *Engine) failCode(ctx context.Context, nodeID, code, msg string) error {
	ferr := schema.NewError(code, msg)
	if nodeID != "" {
		ferr = ferr.WithNode(nodeID)
	}

	e.mu.Lock()
	st := e.state
	if st.Status == schema.RunStatusIdle || st.Status.Terminal() {
		// Stopped or already settled; report the error without clobbering.
		e.mu.Unlock()
		return ferr
	}
	if err := e.fsm.Transition(ctx, st.RunID, st.Status, schema.RunStatusError); err != nil {
		logging.LogWith(ctx, e.logger).Warn("error transition", "error", err.Error())
	}
	st.Status = schema.RunStatusError
	st.Error = msg
	st.HumanDecisionPending = nil
	e.mu.Unlock()
	e.observe()

	logging.LogWith(ctx, e.logger).Error("run failed", "error", msg)
	return ferr
}

// observe hands a state snapshot to the observer. Must be called without
// the engine mutex held.
func (e *Engine) observe() {
	if e.opts.Observer == nil {
		return
	}
	e.mu.Lock()
	st := e.state.Clone()
	e.mu.Unlock()
	e.opts.Observer(st)
}

// emit appends a node-scoped event to the journal. Journal failures are
// logged, not fatal: the run's in-memory state stays authoritative.
func (e *Engine) emit(ctx context.Context, nodeID, eventType string, payload map[string]any) {
	e.mu.Lock()
	runID := e.state.RunID
	e.mu.Unlock()

	event := &journal.Event{RunID: runID, NodeID: nodeID, Type: eventType}
	if payload != nil {
		raw, err := marshalPayload(payload)
		if err != nil {
			logging.LogWith(ctx, e.logger).Warn("marshal event payload", "event_type", eventType, "error", err.Error())
		} else {
			event.Payload = raw
		}
	}
	if err := e.opts.Journal.AppendEvent(ctx, event); err != nil {
		logging.LogWith(ctx, e.logger).Warn("append journal event", "event_type", eventType, "error", err.Error())
	}
}

// sleepContext is the default delay implementation.
func sleepContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
