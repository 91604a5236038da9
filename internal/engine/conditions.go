package engine

import (
	"context"
	"regexp"
	"strings"

	"github.com/flowrig/flowrig/internal/logging"
	"github.com/flowrig/flowrig/pkg/schema"
)

// handleCondition routes by the first matching rule in declared order; with
// no match it takes the default edge.
func (e *Engine) handleCondition(ctx context.Context, cn *compiledNode) (string, bool, error) {
	nodeID := cn.node.ID

	e.mu.Lock()
	st := e.state
	prev, hasPrev := e.previousOutputOK(cn)
	outputs := make(map[string]string, len(st.NodeOutputs))
	for k, v := range st.NodeOutputs {
		outputs[k] = v
	}
	visited := append([]string(nil), st.VisitedNodes...)
	e.mu.Unlock()

	// Nothing upstream to test against: go straight to the default edge.
	// An upstream node that recorded an empty output still gets its rules
	// evaluated; only a truly absent output short-circuits.
	if !hasPrev {
		next := cn.defaultNext()
		e.emit(ctx, nodeID, schema.EventConditionEvaluated, map[string]any{"next": next})
		logging.LogWith(ctx, e.logger).Info("no upstream output, taking default edge", "next", next)
		return next, true, nil
	}

	env := map[string]any{
		"output":  prev,
		"outputs": outputs,
		"visited": visited,
	}

	for _, rule := range cn.condition.Conditions {
		if !e.matchRule(ctx, rule, prev, env) {
			continue
		}
		e.emit(ctx, nodeID, schema.EventConditionEvaluated, map[string]any{
			"type":  string(rule.Type),
			"value": rule.Value,
			"next":  rule.NextNodeID,
		})
		logging.LogWith(ctx, e.logger).Info("condition matched",
			"type", string(rule.Type), "next", rule.NextNodeID)
		return rule.NextNodeID, true, nil
	}

	next := cn.defaultNext()
	e.emit(ctx, nodeID, schema.EventConditionEvaluated, map[string]any{"next": next})
	logging.LogWith(ctx, e.logger).Info("no condition matched, taking default edge", "next", next)
	return next, true, nil
}

// matchRule evaluates a single condition rule. Broken rules (bad regex,
// expression errors) never match; they are logged and skipped so one bad
// rule cannot take down the run.
func (e *Engine) matchRule(ctx context.Context, rule schema.ConditionRule, output string, env map[string]any) bool {
	switch rule.Type {
	case schema.ConditionOutputContains:
		return strings.Contains(strings.ToLower(output), strings.ToLower(rule.Value))

	case schema.ConditionOutputMatches:
		re, err := regexp.Compile(rule.Value)
		if err != nil {
			logging.LogWith(ctx, e.logger).Warn("invalid condition pattern",
				"pattern", rule.Value, "error", err.Error())
			return false
		}
		return re.MatchString(output)

	case schema.ConditionErrorOccurred:
		return strings.Contains(strings.ToLower(output), "error")

	case schema.ConditionExpression:
		ok, err := e.expr.EvaluateBool(ctx, rule.Value, env)
		if err != nil {
			logging.LogWith(ctx, e.logger).Warn("condition expression failed",
				"expression", rule.Value, "error", err.Error())
			return false
		}
		return ok

	default:
		logging.LogWith(ctx, e.logger).Warn("unknown condition type", "type", string(rule.Type))
		return false
	}
}
