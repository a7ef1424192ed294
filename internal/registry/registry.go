// Package registry defines the perpetual task registry consumed by the
// reconciler, plus an in-process implementation.
package registry

import (
	"context"
	"errors"
	"fmt"

	"github.com/msageha/instsync/internal/model"
)

var (
	// ErrNotFound indicates that a task does not exist for the account.
	ErrNotFound = errors.New("perpetual task not found")

	// ErrDuplicate indicates that a task with the same type, account and
	// identity key already exists and duplicates were not allowed.
	ErrDuplicate = errors.New("perpetual task already exists")

	// ErrInvalidArgument indicates a malformed create request.
	ErrInvalidArgument = errors.New("invalid argument")
)

// Registry stores perpetual tasks keyed by account.
type Registry interface {
	CreateTask(ctx context.Context, req model.CreateTaskRequest) (string, error)
	// ResetTask marks a task for immediate re-execution. A nil schedule
	// keeps the current one.
	ResetTask(ctx context.Context, accountID, taskID string, schedule *model.Schedule) error
	DeleteTask(ctx context.Context, accountID, taskID string) error
	SetState(ctx context.Context, taskID string, state model.TaskState) error
	GetTask(ctx context.Context, taskID string) (model.PerpetualTaskRecord, error)
	ListByInfraMapping(ctx context.Context, accountID, infraMappingID string) ([]model.PerpetualTaskRecord, error)
	ListByAccount(ctx context.Context, accountID string) ([]model.PerpetualTaskRecord, error)
}

// ValidateCreate checks the parts of a create request every implementation
// relies on.
func ValidateCreate(req model.CreateTaskRequest) error {
	switch {
	case req.Type == "":
		return fmt.Errorf("%w: task type is required", ErrInvalidArgument)
	case req.AccountID == "":
		return fmt.Errorf("%w: account id is required", ErrInvalidArgument)
	}
	if err := req.Schedule.Validate(); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidArgument, err)
	}
	return nil
}
