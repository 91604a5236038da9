package schema

import "time"

// RunStatus represents the lifecycle state of a single run.
type RunStatus string

const (
	RunStatusIdle         RunStatus = "idle"
	RunStatusRunning      RunStatus = "running"
	RunStatusPaused       RunStatus = "paused"
	RunStatusWaitingHuman RunStatus = "waiting-human"
	RunStatusCompleted    RunStatus = "completed"
	RunStatusError        RunStatus = "error"
)

// Terminal reports whether the status ends forward progress for the run.
func (s RunStatus) Terminal() bool {
	return s == RunStatusCompleted || s == RunStatusError
}

// PendingDecision describes a human-decision node awaiting input.
// TimeoutAt is advisory metadata; the engine enforces no deadline itself.
type PendingDecision struct {
	NodeID    string           `json:"node_id"`
	Question  string           `json:"question"`
	Options   []DecisionOption `json:"options"`
	TimeoutAt *time.Time       `json:"timeout_at,omitempty"`
}

// ExecutionState is the mutable, observable record of one run of a graph.
// It is created fresh per run and mutated in place for the run's duration.
type ExecutionState struct {
	RunID         string `json:"run_id"`
	WorkflowID    string `json:"workflow_id"`
	CurrentNodeID string `json:"current_node_id,omitempty"`

	// VisitedNodes is exactly the sequence of nodes entered, including
	// repeats from loop iterations.
	VisitedNodes []string `json:"visited_nodes"`

	// NodeOutputs maps node ID to its most recent output (loops overwrite).
	// Loop iteration counters are mirrored here under "<nodeID>_iterations"
	// as decimal strings; Iterations is the typed source of truth.
	NodeOutputs map[string]string `json:"node_outputs"`
	Iterations  map[string]int    `json:"iterations,omitempty"`

	Status               RunStatus        `json:"status"`
	HumanDecisionPending *PendingDecision `json:"human_decision_pending,omitempty"`
	Error                string           `json:"error,omitempty"`
	StartedAt            *time.Time       `json:"started_at,omitempty"`
	CompletedAt          *time.Time       `json:"completed_at,omitempty"`
}

// NewExecutionState returns a fresh idle state for one run of workflowID.
func NewExecutionState(runID, workflowID string) *ExecutionState {
	return &ExecutionState{
		RunID:        runID,
		WorkflowID:   workflowID,
		VisitedNodes: []string{},
		NodeOutputs:  make(map[string]string),
		Iterations:   make(map[string]int),
		Status:       RunStatusIdle,
	}
}

// Clone returns a deep copy safe to hand to observers.
func (s *ExecutionState) Clone() *ExecutionState {
	c := *s
	c.VisitedNodes = append([]string(nil), s.VisitedNodes...)
	c.NodeOutputs = make(map[string]string, len(s.NodeOutputs))
	for k, v := range s.NodeOutputs {
		c.NodeOutputs[k] = v
	}
	c.Iterations = make(map[string]int, len(s.Iterations))
	for k, v := range s.Iterations {
		c.Iterations[k] = v
	}
	if s.HumanDecisionPending != nil {
		p := *s.HumanDecisionPending
		p.Options = append([]DecisionOption(nil), s.HumanDecisionPending.Options...)
		if s.HumanDecisionPending.TimeoutAt != nil {
			t := *s.HumanDecisionPending.TimeoutAt
			p.TimeoutAt = &t
		}
		c.HumanDecisionPending = &p
	}
	if s.StartedAt != nil {
		t := *s.StartedAt
		c.StartedAt = &t
	}
	if s.CompletedAt != nil {
		t := *s.CompletedAt
		c.CompletedAt = &t
	}
	return &c
}
