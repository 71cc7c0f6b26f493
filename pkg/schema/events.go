package schema

// Event type constants for the run audit log.
const (
	EventRunStarted   = "run_started"
	EventRunWaiting   = "run_waiting"
	EventRunResumed   = "run_resumed"
	EventRunCompleted = "run_completed"
	EventRunFlagged   = "run_flagged"

	EventStepExecuted = "step_executed"
	EventStepFailed   = "step_failed"

	EventTaskCreated   = "task_created"
	EventTaskCompleted = "task_completed"

	EventProcessStarted   = "process_started"
	EventProcessAdvanced  = "process_advanced"
	EventProcessDelayed   = "process_delayed"
	EventProcessCompleted = "process_completed"
	EventProcessFlagged   = "process_flagged"

	EventTriggerMatched = "trigger_matched"
)

// RunStatus represents the lifecycle state of a Run.
type RunStatus string

const (
	RunStatusInProgress     RunStatus = "IN_PROGRESS"
	RunStatusWaitingForUser RunStatus = "WAITING_FOR_USER"
	RunStatusCompleted      RunStatus = "COMPLETED"
	RunStatusFlagged        RunStatus = "FLAGGED"
)

// IsTerminal reports whether no further transition is permitted.
func (s RunStatus) IsTerminal() bool {
	return s == RunStatusCompleted || s == RunStatusFlagged
}

// TaskStatus represents the state of a UserTask.
type TaskStatus string

const (
	TaskStatusPending   TaskStatus = "PENDING"
	TaskStatusCompleted TaskStatus = "COMPLETED"
)

// ProcessRunStatus represents the lifecycle state of a ProcessRun.
type ProcessRunStatus string

const (
	ProcessRunStatusRunning      ProcessRunStatus = "RUNNING"
	ProcessRunStatusWaitingDelay ProcessRunStatus = "WAITING_DELAY"
	ProcessRunStatusCompleted    ProcessRunStatus = "COMPLETED"
	ProcessRunStatusFlagged      ProcessRunStatus = "FLAGGED"
)

// HistoryStatus is the state of one entry in a ProcessRun's step history.
type HistoryStatus string

const (
	HistoryStatusRunning   HistoryStatus = "RUNNING"
	HistoryStatusWaiting   HistoryStatus = "WAITING"
	HistoryStatusCompleted HistoryStatus = "COMPLETED"
	HistoryStatusFlagged   HistoryStatus = "FLAGGED"
)
