package journal

import (
	"context"

	"github.com/flowrig/flowrig/pkg/schema"
)

// Journal is the append-only event log for workflow runs.
// Implementations must be safe for concurrent use.
type Journal interface {
	// AppendEvent appends an event, assigning it a monotonically
	// increasing per-run sequence number.
	AppendEvent(ctx context.Context, event *Event) error

	// Events returns events for a run with sequence > since, ordered by
	// sequence ASC.
	Events(ctx context.Context, runID string, since int64) ([]*Event, error)

	Close() error
}

// Replay folds a run's journal into its ordered node visits.
// Returns an error if sequence gaps are detected.
func Replay(ctx context.Context, j Journal, runID string) ([]*NodeVisit, error) {
	events, err := j.Events(ctx, runID, 0)
	if err != nil {
		return nil, schema.NewErrorf(schema.ErrCodeJournal, "get events for replay: %s", err.Error()).WithCause(err)
	}

	for i, e := range events {
		expected := int64(i + 1)
		if e.Sequence != expected {
			return nil, schema.NewErrorf(schema.ErrCodeJournal,
				"sequence gap in run %s: expected %d, got %d", runID, expected, e.Sequence)
		}
	}

	var visits []*NodeVisit
	for _, e := range events {
		switch e.Type {
		case schema.EventNodeEntered:
			visits = append(visits, &NodeVisit{
				Sequence: e.Sequence,
				NodeID:   e.NodeID,
				Status:   VisitEntered,
			})

		case schema.EventNodeCompleted:
			if v := lastVisit(visits, e.NodeID); v != nil {
				v.Status = VisitCompleted
				v.Output = e.Payload
			}

		case schema.EventNodeFailed:
			if v := lastVisit(visits, e.NodeID); v != nil {
				v.Status = VisitFailed
				v.Error = e.Payload
			}
		}
	}

	return visits, nil
}

// lastVisit finds the most recent visit of nodeID. Loops re-enter nodes,
// so completion events attach to the latest entry, not the first.
func lastVisit(visits []*NodeVisit, nodeID string) *NodeVisit {
	for i := len(visits) - 1; i >= 0; i-- {
		if visits[i].NodeID == nodeID {
			return visits[i]
		}
	}
	return nil
}
