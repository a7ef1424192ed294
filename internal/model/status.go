package model

import "fmt"

type TaskState string

const (
	TaskStateUnassigned TaskState = "TASK_UNASSIGNED"
	TaskStateAssigned   TaskState = "TASK_ASSIGNED"
	TaskStatePaused     TaskState = "TASK_PAUSED"
	TaskStateInvalid    TaskState = "TASK_INVALID"
)

var knownTaskStates = map[TaskState]bool{
	TaskStateUnassigned: true,
	TaskStateAssigned:   true,
	TaskStatePaused:     true,
	TaskStateInvalid:    true,
}

// Perpetual task state transitions: unassigned ↔ assigned, any → invalid,
// and a reset always brings a task back to unassigned.
var validTaskStateTransitions = map[TaskState]map[TaskState]bool{
	TaskStateUnassigned: {
		TaskStateAssigned: true,
		TaskStatePaused:   true,
		TaskStateInvalid:  true,
	},
	TaskStateAssigned: {
		TaskStateUnassigned: true, // reset / delegate lost
		TaskStatePaused:     true,
		TaskStateInvalid:    true,
	},
	TaskStatePaused: {
		TaskStateUnassigned: true,
		TaskStateInvalid:    true,
	},
	TaskStateInvalid: {
		TaskStateUnassigned: true, // reset re-validates
	},
}

func IsKnownTaskState(s TaskState) bool {
	return knownTaskStates[s]
}

func ValidateTaskStateTransition(from, to TaskState) error {
	allowed, ok := validTaskStateTransitions[from]
	if !ok {
		return fmt.Errorf("unknown task state %q", from)
	}
	if !allowed[to] {
		return fmt.Errorf("invalid task state transition: %q → %q", from, to)
	}
	return nil
}
