package engine

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/flowrig/flowrig/internal/logging"
	"github.com/flowrig/flowrig/pkg/schema"
)

// executeNode runs a single node and reports where execution goes next.
// cont=false ends the current walk (terminal node, suspended run, or a
// branch-terminal like parallel).
func (e *Engine) executeNode(ctx context.Context, nodeID string) (next string, cont bool, err error) {
	cn, ok := e.graph.nodes[nodeID]
	if !ok {
		msg := fmt.Sprintf("node not found: %s", nodeID)
		e.emit(ctx, nodeID, schema.EventNodeFailed, map[string]any{"error": msg})
		return "", false, e.failCode(ctx, nodeID, schema.ErrCodeNotFound, msg)
	}

	ctx = logging.WithNodeID(ctx, nodeID)

	e.mu.Lock()
	e.state.CurrentNodeID = nodeID
	e.state.VisitedNodes = append(e.state.VisitedNodes, nodeID)
	e.mu.Unlock()
	e.observe()
	e.emit(ctx, nodeID, schema.EventNodeEntered, nil)

	logging.LogWith(ctx, e.logger).Info("executing node",
		"type", string(cn.node.Type), "label", cn.node.DisplayName())

	switch cn.node.Type {
	case schema.NodeTypeStart, schema.NodeTypeMerge:
		next, cont = cn.defaultNext(), true

	case schema.NodeTypeEnd:
		e.handleEnd(ctx, cn)

	case schema.NodeTypeAgent:
		next, cont, err = e.handleAgent(ctx, cn)

	case schema.NodeTypeHumanDecision:
		next, cont, err = e.handleDecision(ctx, cn)

	case schema.NodeTypeCondition:
		next, cont, err = e.handleCondition(ctx, cn)

	case schema.NodeTypeParallel:
		err = e.handleParallel(ctx, cn)

	case schema.NodeTypeLoop:
		next, cont, err = e.handleLoop(ctx, cn)

	case schema.NodeTypeDelay:
		next, cont, err = e.handleDelay(ctx, cn)
	}

	if err != nil {
		// A Stop during a blocking wait surfaces as context.Canceled with
		// the run already reset to idle; treat that as a clean halt.
		e.mu.Lock()
		stopped := e.state.Status == schema.RunStatusIdle
		e.mu.Unlock()
		if stopped && errors.Is(err, context.Canceled) {
			return "", false, nil
		}

		e.emit(ctx, nodeID, schema.EventNodeFailed, map[string]any{"error": err.Error()})
		return "", false, e.fail(ctx, nodeID,
			fmt.Sprintf("error at node %s: %s", cn.node.DisplayName(), err.Error()))
	}

	e.emit(ctx, nodeID, schema.EventNodeCompleted, completionPayload(e.nodeOutput(nodeID)))
	return next, cont, nil
}

// handleEnd finishes the run.
func (e *Engine) handleEnd(ctx context.Context, cn *compiledNode) {
	e.mu.Lock()
	st := e.state
	if err := e.fsm.Transition(ctx, st.RunID, st.Status, schema.RunStatusCompleted); err != nil {
		logging.LogWith(ctx, e.logger).Warn("complete transition", "error", err.Error())
	}
	st.Status = schema.RunStatusCompleted
	st.CurrentNodeID = ""
	now := time.Now().UTC()
	st.CompletedAt = &now
	e.mu.Unlock()
	e.observe()

	logging.LogWith(ctx, e.logger).Info("run completed")
}

// handleAgent invokes the configured agent with the previous node's output
// and records the result.
func (e *Engine) handleAgent(ctx context.Context, cn *compiledNode) (string, bool, error) {
	nodeID := cn.node.ID

	if cn.agent == nil || cn.agent.AgentID == "" {
		return "", false, schema.NewError(schema.ErrCodeValidation, "agent node missing agent id").WithNode(nodeID)
	}
	if e.opts.Invoker == nil {
		return "", false, schema.NewError(schema.ErrCodeExecution, "no agent invoker configured").WithNode(nodeID)
	}

	ctx = logging.WithAgentID(ctx, cn.agent.AgentID)

	e.mu.Lock()
	prev := e.previousOutput(cn)
	e.mu.Unlock()

	out, err := e.opts.Invoker.Invoke(ctx, cn.agent.AgentID, prev)
	if err != nil {
		return "", false, err
	}

	e.mu.Lock()
	e.state.NodeOutputs[nodeID] = out
	e.mu.Unlock()
	e.observe()

	return cn.defaultNext(), true, nil
}

// handleDecision suspends the run in waiting-human, blocks on the resolver,
// then routes by the chosen option.
func (e *Engine) handleDecision(ctx context.Context, cn *compiledNode) (string, bool, error) {
	nodeID := cn.node.ID
	cfg := cn.decision

	if e.opts.Resolver == nil {
		return "", false, schema.NewError(schema.ErrCodeExecution, "no decision resolver configured").WithNode(nodeID)
	}

	var timeoutAt *time.Time
	if cfg.TimeoutSeconds > 0 {
		t := time.Now().UTC().Add(time.Duration(cfg.TimeoutSeconds) * time.Second)
		timeoutAt = &t
	}

	e.mu.Lock()
	st := e.state
	if err := e.fsm.Transition(ctx, st.RunID, st.Status, schema.RunStatusWaitingHuman); err != nil {
		logging.LogWith(ctx, e.logger).Warn("waiting transition", "error", err.Error())
	}
	st.Status = schema.RunStatusWaitingHuman
	st.HumanDecisionPending = &schema.PendingDecision{
		NodeID:    nodeID,
		Question:  cfg.Question,
		Options:   cfg.Options,
		TimeoutAt: timeoutAt,
	}
	runID := st.RunID
	e.mu.Unlock()
	e.observe()
	e.emit(ctx, nodeID, schema.EventDecisionRequested, map[string]any{"question": cfg.Question})

	logging.LogWith(ctx, e.logger).Info("waiting for human decision", "question", cfg.Question)

	// TimeoutAt is advisory only. Enforcing the deadline is the host's job;
	// a host that wants one wraps its resolver in ResolveWithTimeout.
	choice, err := e.opts.Resolver.Resolve(ctx, DecisionRequest{
		RunID:    runID,
		NodeID:   nodeID,
		Question: cfg.Question,
		Options:  cfg.Options,
	})
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return "", false, schema.NewErrorf(schema.ErrCodeTimeout,
				"decision timed out after %ds", cfg.TimeoutSeconds).WithNode(nodeID).WithCause(err)
		}
		return "", false, err
	}

	e.mu.Lock()
	st = e.state
	if st.Status != schema.RunStatusWaitingHuman {
		// Stopped while waiting; drop the late decision.
		e.mu.Unlock()
		return "", false, nil
	}
	if err := e.fsm.Transition(ctx, runID, schema.RunStatusWaitingHuman, schema.RunStatusRunning); err != nil {
		logging.LogWith(ctx, e.logger).Warn("resume transition", "error", err.Error())
	}
	st.Status = schema.RunStatusRunning
	st.HumanDecisionPending = nil
	st.NodeOutputs[nodeID] = choice
	e.mu.Unlock()
	e.observe()
	e.emit(ctx, nodeID, schema.EventDecisionResolved, map[string]any{"choice": choice})

	for _, opt := range cfg.Options {
		if opt.ID == choice && opt.NextNodeID != "" {
			return opt.NextNodeID, true, nil
		}
	}
	// Unknown option or no explicit target falls back to the default edge.
	return cn.defaultNext(), true, nil
}

// handleParallel executes each outgoing branch sequentially in edge order.
// Branches are not joined at a merge node; each walks until its own halt.
func (e *Engine) handleParallel(ctx context.Context, cn *compiledNode) error {
	for _, edge := range cn.outgoing {
		e.mu.Lock()
		status := e.state.Status
		e.mu.Unlock()
		if status != schema.RunStatusRunning {
			return nil
		}
		if err := e.executeFrom(ctx, edge.Target); err != nil {
			return err
		}
	}
	return nil
}

// handleLoop re-enters its body until the iteration budget is spent, then
// exits through the second outgoing edge.
func (e *Engine) handleLoop(ctx context.Context, cn *compiledNode) (string, bool, error) {
	nodeID := cn.node.ID
	maxIter := cn.loop.MaxIterations

	e.mu.Lock()
	st := e.state
	count := st.Iterations[nodeID]
	if count < maxIter {
		count++
		st.Iterations[nodeID] = count
		st.NodeOutputs[nodeID+"_iterations"] = strconv.Itoa(count)
		e.mu.Unlock()
		e.observe()
		e.emit(ctx, nodeID, schema.EventLoopIteration, map[string]any{"iteration": count, "max": maxIter})
		return cn.defaultNext(), true, nil
	}
	e.mu.Unlock()
	e.emit(ctx, nodeID, schema.EventLoopExited, map[string]any{"iterations": count})

	if len(cn.outgoing) > 1 {
		return cn.outgoing[1].Target, true, nil
	}
	return cn.defaultNext(), true, nil
}

// handleDelay sleeps for the configured duration, abortable via Stop.
func (e *Engine) handleDelay(ctx context.Context, cn *compiledNode) (string, bool, error) {
	nodeID := cn.node.ID
	seconds := cn.delay.DelaySeconds

	e.emit(ctx, nodeID, schema.EventDelayStarted, map[string]any{"seconds": seconds})
	logging.LogWith(ctx, e.logger).Info("delaying", "seconds", seconds)

	if err := e.opts.Sleep(ctx, time.Duration(seconds)*time.Second); err != nil {
		return "", false, err
	}

	e.emit(ctx, nodeID, schema.EventDelayCompleted, nil)
	return cn.defaultNext(), true, nil
}

// previousOutput returns the recorded output of the node feeding cn through
// its first incoming edge, or "" when cn has no incoming edge or its source
// produced no output. Caller holds the engine mutex.
func (e *Engine) previousOutput(cn *compiledNode) string {
	out, _ := e.previousOutputOK(cn)
	return out
}

// previousOutputOK additionally reports whether the upstream node recorded
// any output at all, so an empty output is not mistaken for a missing one.
// Caller holds the engine mutex.
func (e *Engine) previousOutputOK(cn *compiledNode) (string, bool) {
	if len(cn.incoming) == 0 {
		return "", false
	}
	out, ok := e.state.NodeOutputs[cn.incoming[0].Source]
	return out, ok
}

// nodeOutput returns the recorded output for a node, or "".
func (e *Engine) nodeOutput(nodeID string) string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state.NodeOutputs[nodeID]
}

func completionPayload(output string) map[string]any {
	if output == "" {
		return nil
	}
	return map[string]any{"output": output}
}

func marshalPayload(payload map[string]any) (json.RawMessage, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return json.RawMessage(raw), nil
}
