package engine

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/flowrig/flowrig/pkg/schema"
)

func TestCompileGraph_Nil(t *testing.T) {
	_, err := compileGraph(nil)
	require.Error(t, err)
}

func TestCompileGraph_Empty(t *testing.T) {
	_, err := compileGraph(&schema.WorkflowGraph{ID: "wf"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no nodes")
}

func TestCompileGraph_DuplicateNodeID(t *testing.T) {
	def := &schema.WorkflowGraph{
		ID: "wf",
		Nodes: []schema.Node{
			node("a", schema.NodeTypeStart, ""),
			node("a", schema.NodeTypeEnd, ""),
		},
	}
	_, err := compileGraph(def)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "duplicate node ID")
}

func TestCompileGraph_UnknownType(t *testing.T) {
	def := &schema.WorkflowGraph{
		ID:    "wf",
		Nodes: []schema.Node{{ID: "a", Type: "teleport"}},
	}
	_, err := compileGraph(def)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown type")
}

func TestCompileGraph_MalformedConfig(t *testing.T) {
	def := &schema.WorkflowGraph{
		ID:    "wf",
		Nodes: []schema.Node{node("c", schema.NodeTypeCondition, `{"conditions": "nope"}`)},
	}
	_, err := compileGraph(def)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid config")
}

func TestCompileGraph_DefaultsApplied(t *testing.T) {
	def := &schema.WorkflowGraph{
		ID: "wf",
		Nodes: []schema.Node{
			node("start", schema.NodeTypeStart, ""),
			node("loop", schema.NodeTypeLoop, ""),
			node("wait", schema.NodeTypeDelay, `{}`),
		},
	}
	g, err := compileGraph(def)
	require.NoError(t, err)

	assert.Equal(t, schema.DefaultLoopMaxIterations, g.nodes["loop"].loop.MaxIterations)
	assert.Equal(t, schema.DefaultDelaySeconds, g.nodes["wait"].delay.DelaySeconds)
}

func TestCompileGraph_EdgeOrderPreserved(t *testing.T) {
	def := &schema.WorkflowGraph{
		ID: "wf",
		Nodes: []schema.Node{
			node("start", schema.NodeTypeStart, ""),
			node("a", schema.NodeTypeEnd, ""),
			node("b", schema.NodeTypeEnd, ""),
		},
		Edges: []schema.Edge{
			edge("e1", "start", "a"),
			edge("e2", "start", "b"),
		},
	}
	g, err := compileGraph(def)
	require.NoError(t, err)

	start := g.nodes["start"]
	require.Len(t, start.outgoing, 2)
	assert.Equal(t, "a", start.outgoing[0].Target)
	assert.Equal(t, "b", start.outgoing[1].Target)
	assert.Equal(t, "a", start.defaultNext())
	require.Len(t, g.nodes["a"].incoming, 1)
}

func TestCompileGraph_FirstDeclaredStartWins(t *testing.T) {
	def := &schema.WorkflowGraph{
		ID: "wf",
		Nodes: []schema.Node{
			node("s1", schema.NodeTypeStart, ""),
			node("s2", schema.NodeTypeStart, ""),
		},
	}
	g, err := compileGraph(def)
	require.NoError(t, err)
	assert.Equal(t, "s1", g.start.node.ID)
}

func TestCompileGraph_NoStartNodeAllowed(t *testing.T) {
	def := &schema.WorkflowGraph{
		ID:    "wf",
		Nodes: []schema.Node{node("end", schema.NodeTypeEnd, "")},
	}
	g, err := compileGraph(def)
	require.NoError(t, err)
	assert.Nil(t, g.start)
}
