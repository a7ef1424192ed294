package instancesync

import (
	"context"

	"github.com/msageha/instsync/internal/events"
	"github.com/msageha/instsync/internal/model"
	"github.com/msageha/instsync/internal/registry"
)

// publishingRegistry publishes a lifecycle event after every successful
// create, reset and delete.
type publishingRegistry struct {
	registry.Registry
	bus *events.Bus
}

func (p *publishingRegistry) CreateTask(ctx context.Context, req model.CreateTaskRequest) (string, error) {
	id, err := p.Registry.CreateTask(ctx, req)
	if err != nil {
		return id, err
	}
	p.bus.Publish(events.EventTaskCreated, map[string]any{
		events.KeyAccountID:      req.AccountID,
		events.KeyTaskID:         id,
		events.KeyTaskType:       string(req.Type),
		events.KeyInfraMappingID: req.ClientContext.Get(model.ParamInfraMappingID),
		"identity":               req.ClientContext.IdentityKey(),
	})
	return id, nil
}

func (p *publishingRegistry) ResetTask(ctx context.Context, accountID, taskID string, schedule *model.Schedule) error {
	if err := p.Registry.ResetTask(ctx, accountID, taskID, schedule); err != nil {
		return err
	}
	p.bus.Publish(events.EventTaskReset, map[string]any{
		events.KeyAccountID: accountID,
		events.KeyTaskID:    taskID,
	})
	return nil
}

func (p *publishingRegistry) DeleteTask(ctx context.Context, accountID, taskID string) error {
	if err := p.Registry.DeleteTask(ctx, accountID, taskID); err != nil {
		return err
	}
	p.bus.Publish(events.EventTaskDeleted, map[string]any{
		events.KeyAccountID: accountID,
		events.KeyTaskID:    taskID,
	})
	return nil
}
