package engine

import (
	"context"
	"sync"

	"github.com/flowrig/flowrig/internal/journal"
	"github.com/flowrig/flowrig/pkg/schema"
)

// TransitionHook is called before or after a run state transition.
type TransitionHook func(from, to string) error

// EventAppender is satisfied by the journal implementations; the FSM uses it
// to emit lifecycle events on transitions.
type EventAppender interface {
	AppendEvent(ctx context.Context, event *journal.Event) error
}

type runHookKey struct {
	from, to schema.RunStatus
}

// RunFSM manages run lifecycle state transitions.
type RunFSM struct {
	mu       sync.Mutex
	appender EventAppender
	before   map[runHookKey][]TransitionHook
	after    map[runHookKey][]TransitionHook
}

// NewRunFSM creates a RunFSM that emits events via the given appender.
func NewRunFSM(appender EventAppender) *RunFSM {
	return &RunFSM{
		appender: appender,
		before:   make(map[runHookKey][]TransitionHook),
		after:    make(map[runHookKey][]TransitionHook),
	}
}

// OnBefore registers a hook called before a run transition.
func (f *RunFSM) OnBefore(from, to schema.RunStatus, hook TransitionHook) {
	f.mu.Lock()
	defer f.mu.Unlock()
	key := runHookKey{from, to}
	f.before[key] = append(f.before[key], hook)
}

// OnAfter registers a hook called after a run transition.
func (f *RunFSM) OnAfter(from, to schema.RunStatus, hook TransitionHook) {
	f.mu.Lock()
	defer f.mu.Unlock()
	key := runHookKey{from, to}
	f.after[key] = append(f.after[key], hook)
}

// Transition validates and executes a run state transition, emitting the
// corresponding lifecycle event. The caller (Engine) is responsible for
// mutating the ExecutionState itself.
func (f *RunFSM) Transition(ctx context.Context, runID string, from, to schema.RunStatus) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if !isValidRunTransition(from, to) {
		return schema.NewErrorf(schema.ErrCodeInvalidTransition,
			"invalid run transition: %s -> %s", from, to).
			WithDetails(map[string]any{"run_id": runID, "from": string(from), "to": string(to)})
	}

	key := runHookKey{from, to}

	for _, hook := range f.before[key] {
		if err := hook(string(from), string(to)); err != nil {
			return err
		}
	}

	if eventType := runEventType(from, to); eventType != "" {
		event := &journal.Event{
			RunID: runID,
			Type:  eventType,
		}
		if err := f.appender.AppendEvent(ctx, event); err != nil {
			return schema.NewErrorf(schema.ErrCodeJournal, "emit run event: %s", err.Error()).WithCause(err)
		}
	}

	for _, hook := range f.after[key] {
		if err := hook(string(from), string(to)); err != nil {
			return err
		}
	}

	return nil
}

// ValidRunTransitions defines the allowed run state transitions.
// Stop resets any state back to idle; terminal states allow nothing else.
var ValidRunTransitions = map[schema.RunStatus][]schema.RunStatus{
	schema.RunStatusIdle:         {schema.RunStatusRunning},
	schema.RunStatusRunning:      {schema.RunStatusPaused, schema.RunStatusWaitingHuman, schema.RunStatusCompleted, schema.RunStatusError, schema.RunStatusIdle},
	schema.RunStatusPaused:       {schema.RunStatusRunning, schema.RunStatusIdle},
	schema.RunStatusWaitingHuman: {schema.RunStatusRunning, schema.RunStatusError, schema.RunStatusIdle},
	schema.RunStatusCompleted:    {schema.RunStatusIdle},
	schema.RunStatusError:        {schema.RunStatusIdle},
}

func isValidRunTransition(from, to schema.RunStatus) bool {
	allowed, ok := ValidRunTransitions[from]
	if !ok {
		return false
	}
	for _, a := range allowed {
		if a == to {
			return true
		}
	}
	return false
}

// runEventType maps a transition to its journal event. Resuming is the only
// mapping that depends on the origin state.
func runEventType(from, to schema.RunStatus) string {
	switch to {
	case schema.RunStatusRunning:
		if from == schema.RunStatusPaused || from == schema.RunStatusWaitingHuman {
			return schema.EventRunResumed
		}
		return schema.EventRunStarted
	case schema.RunStatusPaused:
		return schema.EventRunPaused
	case schema.RunStatusWaitingHuman:
		return schema.EventRunWaiting
	case schema.RunStatusCompleted:
		return schema.EventRunCompleted
	case schema.RunStatusError:
		return schema.EventRunFailed
	case schema.RunStatusIdle:
		return schema.EventRunStopped
	default:
		return ""
	}
}
