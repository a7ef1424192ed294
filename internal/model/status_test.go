package model

import "testing"

func TestIsKnownTaskState(t *testing.T) {
	for _, s := range []TaskState{TaskStateUnassigned, TaskStateAssigned, TaskStatePaused, TaskStateInvalid} {
		if !IsKnownTaskState(s) {
			t.Errorf("IsKnownTaskState(%q) = false", s)
		}
	}
	if IsKnownTaskState("TASK_RUNNING") {
		t.Error("IsKnownTaskState(TASK_RUNNING) = true")
	}
}

func TestValidateTaskStateTransition(t *testing.T) {
	tests := []struct {
		from, to TaskState
		ok       bool
	}{
		{TaskStateUnassigned, TaskStateAssigned, true},
		{TaskStateAssigned, TaskStateUnassigned, true},
		{TaskStateAssigned, TaskStateInvalid, true},
		{TaskStateInvalid, TaskStateUnassigned, true},
		{TaskStateInvalid, TaskStateAssigned, false},
		{TaskStatePaused, TaskStateAssigned, false},
		{"TASK_RUNNING", TaskStateAssigned, false},
	}
	for _, tt := range tests {
		t.Run(string(tt.from)+"->"+string(tt.to), func(t *testing.T) {
			err := ValidateTaskStateTransition(tt.from, tt.to)
			if (err == nil) != tt.ok {
				t.Errorf("ValidateTaskStateTransition(%q, %q) = %v, want ok=%v", tt.from, tt.to, err, tt.ok)
			}
		})
	}
}
