package schema

import (
	"encoding/json"
	"time"
)

// WorkflowGraph is the JSON-serializable workflow format: a directed graph
// of typed nodes connected by edges. It is read-only during execution; the
// graph may contain cycles (loop nodes rely on them).
type WorkflowGraph struct {
	ID          string    `json:"id"`
	Name        string    `json:"name,omitempty"`
	Description string    `json:"description,omitempty"`
	Nodes       []Node    `json:"nodes"`
	Edges       []Edge    `json:"edges"`
	Version     int       `json:"version,omitempty"`
	CreatedAt   time.Time `json:"created_at,omitempty"`
	UpdatedAt   time.Time `json:"updated_at,omitempty"`
}

// Node is a typed unit of work or control-flow decision in the graph.
type Node struct {
	ID       string          `json:"id"`
	Type     NodeType        `json:"type"`
	Label    string          `json:"label,omitempty"`
	Position *Position       `json:"position,omitempty"` // display-only, irrelevant to execution
	Config   json.RawMessage `json:"config,omitempty"`   // type-specific config (agent, human-decision, condition, loop, delay)
}

// DisplayName returns the node's label, falling back to its ID.
func (n *Node) DisplayName() string {
	if n.Label != "" {
		return n.Label
	}
	return n.ID
}

// Position is the node's layout coordinate in an authoring UI.
type Position struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// Edge is a directed connection between two nodes. The first outgoing edge
// of a node (in declaration order) is its default path.
type Edge struct {
	ID     string `json:"id"`
	Source string `json:"source"`
	Target string `json:"target"`
	Label  string `json:"label,omitempty"`
}

// NodeType enumerates the kinds of nodes in a workflow graph.
type NodeType string

const (
	NodeTypeStart         NodeType = "start"
	NodeTypeEnd           NodeType = "end"
	NodeTypeAgent         NodeType = "agent"
	NodeTypeHumanDecision NodeType = "human-decision"
	NodeTypeCondition     NodeType = "condition"
	NodeTypeParallel      NodeType = "parallel"
	NodeTypeMerge         NodeType = "merge"
	NodeTypeLoop          NodeType = "loop"
	NodeTypeDelay         NodeType = "delay"
)

// AgentConfig is the config block for agent-type nodes.
type AgentConfig struct {
	AgentID string `json:"agent_id"`
}

// DecisionOption is one choice available at a human-decision node.
// NextNodeID, when set, overrides the default edge for that choice.
type DecisionOption struct {
	ID         string `json:"id"`
	Label      string `json:"label,omitempty"`
	NextNodeID string `json:"next_node_id,omitempty"`
}

// DecisionConfig is the config block for human-decision nodes.
type DecisionConfig struct {
	Question       string           `json:"question"`
	Options        []DecisionOption `json:"options"`
	TimeoutSeconds int              `json:"timeout_seconds,omitempty"`
}

// ConditionType enumerates the matching rules a condition node supports.
type ConditionType string

const (
	ConditionOutputContains ConditionType = "output-contains"
	ConditionOutputMatches  ConditionType = "output-matches"
	ConditionErrorOccurred  ConditionType = "error-occurred"
	ConditionExpression     ConditionType = "expression"
)

// ConditionRule is a single routing rule on a condition node. Rules are
// evaluated in declared order; the first match wins.
type ConditionRule struct {
	Type       ConditionType `json:"type"`
	Value      string        `json:"value,omitempty"`
	NextNodeID string        `json:"next_node_id"`
	Label      string        `json:"label,omitempty"`
}

// ConditionConfig is the config block for condition-type nodes.
type ConditionConfig struct {
	Conditions []ConditionRule `json:"conditions"`
}

// DefaultLoopMaxIterations is used when a loop node omits max_iterations.
const DefaultLoopMaxIterations = 3

// LoopConfig is the config block for loop-type nodes.
type LoopConfig struct {
	MaxIterations int `json:"max_iterations,omitempty"`
}

// DefaultDelaySeconds is used when a delay node omits delay_seconds.
const DefaultDelaySeconds = 5

// DelayConfig is the config block for delay-type nodes.
type DelayConfig struct {
	DelaySeconds int `json:"delay_seconds,omitempty"`
}
