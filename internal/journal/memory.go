package journal

import (
	"context"
	"sync"
	"time"
)

// Memory is an in-process Journal. It is the default for engines created
// without persistence and the backbone of unit tests.
type Memory struct {
	mu     sync.Mutex
	events map[string][]*Event
	nextID int64
	closed bool
}

// NewMemory creates an empty in-memory journal.
func NewMemory() *Memory {
	return &Memory{events: make(map[string][]*Event)}
}

func (m *Memory) AppendEvent(_ context.Context, event *Event) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return errClosed()
	}

	m.nextID++
	e := *event
	e.ID = m.nextID
	e.Sequence = int64(len(m.events[event.RunID]) + 1)
	if e.Timestamp.IsZero() {
		e.Timestamp = time.Now().UTC()
	}
	m.events[event.RunID] = append(m.events[event.RunID], &e)

	// Reflect assigned fields back to the caller, matching the libSQL
	// implementation's behavior.
	event.ID = e.ID
	event.Sequence = e.Sequence
	event.Timestamp = e.Timestamp
	return nil
}

func (m *Memory) Events(_ context.Context, runID string, since int64) ([]*Event, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return nil, errClosed()
	}

	var out []*Event
	for _, e := range m.events[runID] {
		if e.Sequence > since {
			c := *e
			out = append(out, &c)
		}
	}
	return out, nil
}

func (m *Memory) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}

var _ Journal = (*Memory)(nil)
