package engine

import (
	"encoding/json"

	"github.com/flowrig/flowrig/pkg/schema"
)

// validNodeTypes is the set of recognized node types.
var validNodeTypes = map[schema.NodeType]bool{
	schema.NodeTypeStart:         true,
	schema.NodeTypeEnd:           true,
	schema.NodeTypeAgent:         true,
	schema.NodeTypeHumanDecision: true,
	schema.NodeTypeCondition:     true,
	schema.NodeTypeParallel:      true,
	schema.NodeTypeMerge:         true,
	schema.NodeTypeLoop:          true,
	schema.NodeTypeDelay:         true,
}

// compiledNode is a node with its edges resolved and its config decoded.
type compiledNode struct {
	node     *schema.Node
	outgoing []*schema.Edge // declaration order; first is the default path
	incoming []*schema.Edge

	agent     *schema.AgentConfig
	decision  *schema.DecisionConfig
	condition *schema.ConditionConfig
	loop      *schema.LoopConfig
	delay     *schema.DelayConfig
}

// defaultNext returns the target of the node's first outgoing edge, or "".
func (n *compiledNode) defaultNext() string {
	if len(n.outgoing) == 0 {
		return ""
	}
	return n.outgoing[0].Target
}

// compiledGraph is the in-memory executable form of a WorkflowGraph.
// The graph may contain cycles; loop nodes rely on them, so no topological
// ordering is computed. Edge targets are not resolved at compile time:
// an edge to a missing node surfaces as a runtime execution error.
type compiledGraph struct {
	def   *schema.WorkflowGraph
	nodes map[string]*compiledNode
	start *compiledNode // first declared start node, nil if absent
}

// compileGraph validates a WorkflowGraph and builds its executable form.
// It rejects duplicate node IDs, unknown node types and malformed config
// blocks; per-type defaults (loop iterations, delay duration) are applied
// here so handlers never see zero values.
func compileGraph(def *schema.WorkflowGraph) (*compiledGraph, error) {
	if def == nil {
		return nil, schema.NewError(schema.ErrCodeValidation, "workflow graph is nil")
	}
	if len(def.Nodes) == 0 {
		return nil, schema.NewError(schema.ErrCodeValidation, "workflow graph has no nodes")
	}

	g := &compiledGraph{
		def:   def,
		nodes: make(map[string]*compiledNode, len(def.Nodes)),
	}

	for i := range def.Nodes {
		node := &def.Nodes[i]

		if node.ID == "" {
			return nil, schema.NewErrorf(schema.ErrCodeValidation, "node at index %d has empty ID", i)
		}
		if _, exists := g.nodes[node.ID]; exists {
			return nil, schema.NewErrorf(schema.ErrCodeValidation, "duplicate node ID: %s", node.ID)
		}
		if !validNodeTypes[node.Type] {
			return nil, schema.NewErrorf(schema.ErrCodeValidation, "node %s has unknown type: %s", node.ID, node.Type)
		}

		cn := &compiledNode{node: node}
		if err := decodeNodeConfig(cn); err != nil {
			return nil, err
		}

		g.nodes[node.ID] = cn
		if node.Type == schema.NodeTypeStart && g.start == nil {
			g.start = cn
		}
	}

	// Attach edges in declaration order. Edges whose source does not exist
	// are unreachable and dropped; dangling targets stay, they fail only if
	// execution actually walks onto them.
	for i := range def.Edges {
		edge := &def.Edges[i]
		src, ok := g.nodes[edge.Source]
		if !ok {
			continue
		}
		src.outgoing = append(src.outgoing, edge)
		if dst, ok := g.nodes[edge.Target]; ok {
			dst.incoming = append(dst.incoming, edge)
		}
	}

	return g, nil
}

// decodeNodeConfig decodes the type-specific config block and applies
// defaults. Missing config is tolerated for types with sensible defaults;
// the agent handler reports missing agent IDs at execution time.
func decodeNodeConfig(cn *compiledNode) error {
	node := cn.node

	switch node.Type {
	case schema.NodeTypeAgent:
		if len(node.Config) == 0 {
			return nil
		}
		var cfg schema.AgentConfig
		if err := json.Unmarshal(node.Config, &cfg); err != nil {
			return schema.NewErrorf(schema.ErrCodeValidation, "agent node %s has invalid config: %v", node.ID, err)
		}
		cn.agent = &cfg

	case schema.NodeTypeHumanDecision:
		if len(node.Config) == 0 {
			return schema.NewErrorf(schema.ErrCodeValidation, "human-decision node %s has no config", node.ID)
		}
		var cfg schema.DecisionConfig
		if err := json.Unmarshal(node.Config, &cfg); err != nil {
			return schema.NewErrorf(schema.ErrCodeValidation, "human-decision node %s has invalid config: %v", node.ID, err)
		}
		cn.decision = &cfg

	case schema.NodeTypeCondition:
		if len(node.Config) == 0 {
			return schema.NewErrorf(schema.ErrCodeValidation, "condition node %s has no config", node.ID)
		}
		var cfg schema.ConditionConfig
		if err := json.Unmarshal(node.Config, &cfg); err != nil {
			return schema.NewErrorf(schema.ErrCodeValidation, "condition node %s has invalid config: %v", node.ID, err)
		}
		cn.condition = &cfg

	case schema.NodeTypeLoop:
		cfg := schema.LoopConfig{MaxIterations: schema.DefaultLoopMaxIterations}
		if len(node.Config) > 0 {
			if err := json.Unmarshal(node.Config, &cfg); err != nil {
				return schema.NewErrorf(schema.ErrCodeValidation, "loop node %s has invalid config: %v", node.ID, err)
			}
			if cfg.MaxIterations <= 0 {
				cfg.MaxIterations = schema.DefaultLoopMaxIterations
			}
		}
		cn.loop = &cfg

	case schema.NodeTypeDelay:
		cfg := schema.DelayConfig{DelaySeconds: schema.DefaultDelaySeconds}
		if len(node.Config) > 0 {
			if err := json.Unmarshal(node.Config, &cfg); err != nil {
				return schema.NewErrorf(schema.ErrCodeValidation, "delay node %s has invalid config: %v", node.ID, err)
			}
			if cfg.DelaySeconds <= 0 {
				cfg.DelaySeconds = schema.DefaultDelaySeconds
			}
		}
		cn.delay = &cfg
	}

	return nil
}
