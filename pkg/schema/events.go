package schema

// Event type constants for the run journal.
const (
	EventRunStarted   = "run_started"
	EventRunCompleted = "run_completed"
	EventRunFailed    = "run_failed"
	EventRunPaused    = "run_paused"
	EventRunResumed   = "run_resumed"
	EventRunWaiting   = "run_waiting"
	EventRunStopped   = "run_stopped"

	EventNodeEntered   = "node_entered"
	EventNodeCompleted = "node_completed"
	EventNodeFailed    = "node_failed"

	EventDecisionRequested = "decision_requested"
	EventDecisionResolved  = "decision_resolved"

	EventConditionEvaluated = "condition_evaluated"
	EventLoopIteration      = "loop_iteration"
	EventLoopExited         = "loop_exited"
	EventDelayStarted       = "delay_started"
	EventDelayCompleted     = "delay_completed"
)
