package model

import (
	"fmt"
	"time"
)

const (
	IntervalMinutes = 10
	TimeoutSeconds  = 600
)

// Schedule is the poll interval/timeout pair of a perpetual task.
type Schedule struct {
	Interval time.Duration `yaml:"interval" json:"interval"`
	Timeout  time.Duration `yaml:"timeout" json:"timeout"`
}

// DefaultSchedule is shared by every instance-sync kind.
func DefaultSchedule() Schedule {
	return Schedule{
		Interval: IntervalMinutes * time.Minute,
		Timeout:  TimeoutSeconds * time.Second,
	}
}

func (s Schedule) Validate() error {
	if s.Interval <= 0 {
		return fmt.Errorf("schedule interval must be positive, got %s", s.Interval)
	}
	if s.Timeout <= 0 {
		return fmt.Errorf("schedule timeout must be positive, got %s", s.Timeout)
	}
	return nil
}

// PerpetualTaskRecord is a task as stored by the registry.
type PerpetualTaskRecord struct {
	UUID           string        `json:"uuid"`
	AccountID      string        `json:"account_id"`
	Type           TaskType      `json:"type"`
	ClientContext  ClientContext `json:"client_context"`
	Schedule       Schedule      `json:"schedule"`
	Description    string        `json:"description"`
	State          TaskState     `json:"state"`
	AllowDuplicate bool          `json:"allow_duplicate"`
	ResetCount     int           `json:"reset_count"`
	CreatedAt      time.Time     `json:"created_at"`
	UpdatedAt      time.Time     `json:"updated_at"`
}

// InfraMappingID is a shorthand for the mapping id carried in the context.
func (r PerpetualTaskRecord) InfraMappingID() string {
	return r.ClientContext.Get(ParamInfraMappingID)
}

// CreateTaskRequest carries the arguments of a registry create call.
type CreateTaskRequest struct {
	Type           TaskType
	AccountID      string
	ClientContext  ClientContext
	Schedule       Schedule
	AllowDuplicate bool
	Description    string
}

// SyncResponse is the outcome reported by one execution of an
// instance-sync perpetual task.
type SyncResponse struct {
	Success      bool   `json:"success"`
	ErrorMessage string `json:"error_message,omitempty"`
}
