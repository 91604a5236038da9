package engine

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/flowrig/flowrig/internal/journal"
	"github.com/flowrig/flowrig/pkg/schema"
)

func TestRunFSM_ValidTransitionEmitsEvent(t *testing.T) {
	j := journal.NewMemory()
	fsm := NewRunFSM(j)

	err := fsm.Transition(context.Background(), "run-1", schema.RunStatusIdle, schema.RunStatusRunning)
	require.NoError(t, err)

	events, err := j.Events(context.Background(), "run-1", 0)
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, schema.EventRunStarted, events[0].Type)
}

func TestRunFSM_InvalidTransition(t *testing.T) {
	fsm := NewRunFSM(journal.NewMemory())

	err := fsm.Transition(context.Background(), "run-1", schema.RunStatusCompleted, schema.RunStatusRunning)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "INVALID_TRANSITION")
}

func TestRunFSM_ResumeEventDependsOnOrigin(t *testing.T) {
	j := journal.NewMemory()
	fsm := NewRunFSM(j)
	ctx := context.Background()

	require.NoError(t, fsm.Transition(ctx, "run-1", schema.RunStatusPaused, schema.RunStatusRunning))
	require.NoError(t, fsm.Transition(ctx, "run-1", schema.RunStatusWaitingHuman, schema.RunStatusRunning))

	events, err := j.Events(ctx, "run-1", 0)
	require.NoError(t, err)
	require.Len(t, events, 2)
	assert.Equal(t, schema.EventRunResumed, events[0].Type)
	assert.Equal(t, schema.EventRunResumed, events[1].Type)
}

func TestRunFSM_StopEmitsRunStopped(t *testing.T) {
	j := journal.NewMemory()
	fsm := NewRunFSM(j)

	require.NoError(t, fsm.Transition(context.Background(), "run-1", schema.RunStatusRunning, schema.RunStatusIdle))

	events, err := j.Events(context.Background(), "run-1", 0)
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, schema.EventRunStopped, events[0].Type)
}

func TestRunFSM_Hooks(t *testing.T) {
	fsm := NewRunFSM(journal.NewMemory())

	var calls []string
	fsm.OnBefore(schema.RunStatusIdle, schema.RunStatusRunning, func(from, to string) error {
		calls = append(calls, "before:"+from+"->"+to)
		return nil
	})
	fsm.OnAfter(schema.RunStatusIdle, schema.RunStatusRunning, func(from, to string) error {
		calls = append(calls, "after:"+from+"->"+to)
		return nil
	})

	require.NoError(t, fsm.Transition(context.Background(), "run-1", schema.RunStatusIdle, schema.RunStatusRunning))
	assert.Equal(t, []string{"before:idle->running", "after:idle->running"}, calls)
}

func TestRunFSM_BeforeHookBlocksTransition(t *testing.T) {
	j := journal.NewMemory()
	fsm := NewRunFSM(j)

	fsm.OnBefore(schema.RunStatusIdle, schema.RunStatusRunning, func(from, to string) error {
		return schema.NewError(schema.ErrCodeConflict, "blocked")
	})

	err := fsm.Transition(context.Background(), "run-1", schema.RunStatusIdle, schema.RunStatusRunning)
	require.Error(t, err)

	events, err := j.Events(context.Background(), "run-1", 0)
	require.NoError(t, err)
	assert.Empty(t, events)
}
