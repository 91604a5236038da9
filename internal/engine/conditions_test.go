package engine

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/flowrig/flowrig/pkg/schema"
)

// conditionGraph is start -> builder -> check, with check routing to done on
// a rule match and to fallback over its default edge.
func conditionGraph(rules string) *schema.WorkflowGraph {
	return &schema.WorkflowGraph{
		ID: "wf-cond-rules",
		Nodes: []schema.Node{
			node("start", schema.NodeTypeStart, ""),
			node("builder", schema.NodeTypeAgent, `{"agent_id": "agent-builder"}`),
			node("check", schema.NodeTypeCondition, `{"conditions": `+rules+`}`),
			node("done", schema.NodeTypeEnd, ""),
			node("fallback", schema.NodeTypeEnd, ""),
		},
		Edges: []schema.Edge{
			edge("e1", "start", "builder"),
			edge("e2", "builder", "check"),
			edge("e3", "check", "fallback"),
		},
	}
}

func fixedInvoker(output string) AgentInvoker {
	return AgentInvokerFunc(func(ctx context.Context, agentID, previousOutput string) (string, error) {
		return output, nil
	})
}

func TestEngine_ConditionRegexRuleRoutes(t *testing.T) {
	def := conditionGraph(`[
		{"type": "output-matches", "value": "exit code \\d+", "next_node_id": "done"}
	]`)

	e, err := New(def, Options{Invoker: fixedInvoker("build failed with exit code 3")})
	require.NoError(t, err)
	require.NoError(t, e.Start(context.Background()))

	st := e.State()
	assert.Equal(t, schema.RunStatusCompleted, st.Status)
	assert.Contains(t, st.VisitedNodes, "done")
	assert.NotContains(t, st.VisitedNodes, "fallback")
}

func TestEngine_ConditionInvalidRegexIsSkipped(t *testing.T) {
	// A pattern that does not compile never matches; later rules still run
	// and the run itself is unaffected.
	def := conditionGraph(`[
		{"type": "output-matches", "value": "(", "next_node_id": "fallback"},
		{"type": "output-contains", "value": "ok", "next_node_id": "done"}
	]`)

	e, err := New(def, Options{Invoker: fixedInvoker("everything OK")})
	require.NoError(t, err)
	require.NoError(t, e.Start(context.Background()))

	st := e.State()
	assert.Equal(t, schema.RunStatusCompleted, st.Status)
	assert.Empty(t, st.Error)
	assert.Contains(t, st.VisitedNodes, "done")
}

func TestEngine_ConditionErrorOccurredIsCaseInsensitive(t *testing.T) {
	def := conditionGraph(`[
		{"type": "error-occurred", "value": "", "next_node_id": "done"}
	]`)

	e, err := New(def, Options{Invoker: fixedInvoker("Fatal ERROR: boom")})
	require.NoError(t, err)
	require.NoError(t, e.Start(context.Background()))

	st := e.State()
	assert.Contains(t, st.VisitedNodes, "done")
	assert.NotContains(t, st.VisitedNodes, "fallback")
}

func TestEngine_ConditionMatchesEmptyUpstreamOutput(t *testing.T) {
	// An upstream node that recorded an empty output is still evaluated, so
	// a ^$ pattern can route on it.
	def := conditionGraph(`[
		{"type": "output-matches", "value": "^$", "next_node_id": "done"}
	]`)

	e, err := New(def, Options{Invoker: fixedInvoker("")})
	require.NoError(t, err)
	require.NoError(t, e.Start(context.Background()))

	st := e.State()
	assert.Equal(t, schema.RunStatusCompleted, st.Status)
	assert.Contains(t, st.VisitedNodes, "done")
	assert.NotContains(t, st.VisitedNodes, "fallback")
}

func TestEngine_ConditionAbsentUpstreamOutputTakesDefaultEdge(t *testing.T) {
	// A start node records no output at all, so the condition short-circuits
	// to its default edge without evaluating any rule.
	def := &schema.WorkflowGraph{
		ID: "wf-cond-absent",
		Nodes: []schema.Node{
			node("start", schema.NodeTypeStart, ""),
			node("check", schema.NodeTypeCondition, `{"conditions": [
				{"type": "output-matches", "value": "^$", "next_node_id": "alt"}
			]}`),
			node("alt", schema.NodeTypeEnd, ""),
			node("fallback", schema.NodeTypeEnd, ""),
		},
		Edges: []schema.Edge{
			edge("e1", "start", "check"),
			edge("e2", "check", "fallback"),
		},
	}

	e, err := New(def, Options{Invoker: okInvoker()})
	require.NoError(t, err)
	require.NoError(t, e.Start(context.Background()))

	st := e.State()
	assert.Contains(t, st.VisitedNodes, "fallback")
	assert.NotContains(t, st.VisitedNodes, "alt")
}
