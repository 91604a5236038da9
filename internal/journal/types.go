package journal

import (
	"encoding/json"
	"time"
)

// Event is an immutable entry in the run journal.
type Event struct {
	ID        int64           `json:"id"`
	RunID     string          `json:"run_id"`
	NodeID    string          `json:"node_id,omitempty"`
	Type      string          `json:"event_type"`
	Payload   json.RawMessage `json:"payload,omitempty"`
	Timestamp time.Time       `json:"timestamp"`
	Sequence  int64           `json:"sequence"`
}

// NodeVisit is one node entry reconstructed from a run's journal, in
// visit order. Status is "entered", "completed" or "failed".
type NodeVisit struct {
	Sequence int64           `json:"sequence"`
	NodeID   string          `json:"node_id"`
	Status   string          `json:"status"`
	Output   json.RawMessage `json:"output,omitempty"`
	Error    json.RawMessage `json:"error,omitempty"`
}

// Visit status values.
const (
	VisitEntered   = "entered"
	VisitCompleted = "completed"
	VisitFailed    = "failed"
)
