package daemon

import (
	"context"
	"errors"
	"os"

	"github.com/msageha/instsync/internal/catalog"
	"github.com/msageha/instsync/internal/identity"
	"github.com/msageha/instsync/internal/model"
	"github.com/msageha/instsync/internal/reconcile"
	"github.com/msageha/instsync/internal/registry"
	"github.com/msageha/instsync/internal/uds"
)

func (d *Daemon) registerHandlers() {
	d.server.Handle(uds.CommandPing, func(context.Context, *uds.Request) *uds.Response {
		return uds.SuccessResponse(map[string]any{"status": "ok", "pid": os.Getpid()})
	})

	d.server.Handle(uds.CommandShutdown, func(context.Context, *uds.Request) *uds.Response {
		d.log(model.LogLevelInfo, "shutdown requested via UDS")
		go d.Shutdown()
		return uds.SuccessResponse(map[string]string{"status": "shutdown_accepted"})
	})

	d.server.Handle(uds.CommandScan, func(ctx context.Context, _ *uds.Request) *uds.Response {
		res, err := d.Scan(ctx)
		if err != nil {
			return errorResponse(err)
		}
		return uds.SuccessResponse(res)
	})

	d.server.Handle(uds.CommandCreateTasks, d.handleCreateTasks)
	d.server.Handle(uds.CommandNewDeployment, d.handleNewDeployment)
	d.server.Handle(uds.CommandListTasks, d.handleListTasks)
	d.server.Handle(uds.CommandResetTask, d.handleResetTask)
	d.server.Handle(uds.CommandDeleteTasks, d.handleDeleteTasks)
	d.server.Handle(uds.CommandSyncResponse, d.handleSyncResponse)
	d.server.Handle(uds.CommandCleanupInvalid, d.handleCleanupInvalid)
	d.server.Handle(uds.CommandSetState, d.handleSetState)
}

func (d *Daemon) handleCreateTasks(ctx context.Context, req *uds.Request) *uds.Response {
	var p uds.MappingParams
	if err := req.DecodeParams(&p); err != nil {
		return uds.ErrorResponse(uds.ErrCodeValidation, err.Error())
	}
	if p.InfraMappingID == "" {
		return required("infra_mapping_id")
	}
	m, err := d.catalog.InfraMapping(ctx, p.InfraMappingID)
	if err != nil {
		return errorResponse(err)
	}
	ids, err := d.service.CreatePerpetualTasks(ctx, m)
	if err != nil {
		return errorResponse(err)
	}
	return uds.SuccessResponse(uds.TaskIDsResult{TaskIDs: ids})
}

func (d *Daemon) handleNewDeployment(ctx context.Context, req *uds.Request) *uds.Response {
	var p uds.NewDeploymentParams
	if err := req.DecodeParams(&p); err != nil {
		return uds.ErrorResponse(uds.ErrCodeValidation, err.Error())
	}
	if p.InfraMappingID == "" {
		return required("infra_mapping_id")
	}
	batch := model.DeploymentBatch{
		InfraMappingID: p.InfraMappingID,
		Summaries:      p.Summaries,
	}
	batchID, err := stampBatch(&batch)
	if err != nil {
		return errorResponse(err)
	}
	ids, err := d.service.ProcessDeploymentBatch(ctx, batch)
	if err != nil {
		return errorResponse(err)
	}
	d.publishDeployment(batchID, p.InfraMappingID, len(p.Summaries), ids, "uds")
	return uds.SuccessResponse(uds.TaskIDsResult{TaskIDs: ids})
}

func (d *Daemon) handleListTasks(ctx context.Context, req *uds.Request) *uds.Response {
	var p uds.TaskListParams
	if err := req.DecodeParams(&p); err != nil {
		return uds.ErrorResponse(uds.ErrCodeValidation, err.Error())
	}
	if p.AccountID == "" {
		return required("account_id")
	}
	tasks, err := d.service.ListTasks(ctx, p.AccountID, p.InfraMappingID)
	if err != nil {
		return errorResponse(err)
	}
	if tasks == nil {
		tasks = []model.PerpetualTaskRecord{}
	}
	return uds.SuccessResponse(tasks)
}

func (d *Daemon) handleResetTask(ctx context.Context, req *uds.Request) *uds.Response {
	var p uds.TaskParams
	if err := req.DecodeParams(&p); err != nil {
		return uds.ErrorResponse(uds.ErrCodeValidation, err.Error())
	}
	if p.AccountID == "" {
		return required("account_id")
	}
	if p.TaskID == "" {
		return required("task_id")
	}
	if err := d.service.ResetPerpetualTask(ctx, p.AccountID, p.TaskID); err != nil {
		return errorResponse(err)
	}
	return uds.SuccessResponse(map[string]string{"status": "reset"})
}

func (d *Daemon) handleDeleteTasks(ctx context.Context, req *uds.Request) *uds.Response {
	var p uds.DeleteTasksParams
	if err := req.DecodeParams(&p); err != nil {
		return uds.ErrorResponse(uds.ErrCodeValidation, err.Error())
	}
	if p.AccountID == "" {
		return required("account_id")
	}
	if p.InfraMappingID == "" {
		return required("infra_mapping_id")
	}
	n, err := d.service.DeletePerpetualTasks(ctx, p.AccountID, p.InfraMappingID)
	if err != nil {
		return errorResponse(err)
	}
	return uds.SuccessResponse(uds.CountResult{Count: n})
}

func (d *Daemon) handleSyncResponse(ctx context.Context, req *uds.Request) *uds.Response {
	var p uds.SyncResponseParams
	if err := req.DecodeParams(&p); err != nil {
		return uds.ErrorResponse(uds.ErrCodeValidation, err.Error())
	}
	if p.TaskID == "" {
		return required("task_id")
	}
	outcome, err := d.service.ProcessSyncResponse(ctx, p.TaskID, p.Response)
	if err != nil {
		return errorResponse(err)
	}
	return uds.SuccessResponse(uds.SyncResult{Outcome: string(outcome)})
}

func (d *Daemon) handleCleanupInvalid(ctx context.Context, req *uds.Request) *uds.Response {
	var p uds.CleanupParams
	if err := req.DecodeParams(&p); err != nil {
		return uds.ErrorResponse(uds.ErrCodeValidation, err.Error())
	}
	if p.AccountID == "" {
		return required("account_id")
	}
	if _, ok := identity.ForTaskType(p.TaskType); !ok {
		return uds.ErrorResponse(uds.ErrCodeValidation, "unknown task_type "+string(p.TaskType))
	}
	n, err := d.service.CleanupInvalidTasks(ctx, p.AccountID, p.TaskType)
	if err != nil {
		return errorResponse(err)
	}
	return uds.SuccessResponse(uds.CountResult{Count: n})
}

func (d *Daemon) handleSetState(ctx context.Context, req *uds.Request) *uds.Response {
	var p uds.SetStateParams
	if err := req.DecodeParams(&p); err != nil {
		return uds.ErrorResponse(uds.ErrCodeValidation, err.Error())
	}
	if p.TaskID == "" {
		return required("task_id")
	}
	if err := d.service.SetTaskState(ctx, p.TaskID, p.State); err != nil {
		return errorResponse(err)
	}
	return uds.SuccessResponse(map[string]string{"state": string(p.State)})
}

func required(field string) *uds.Response {
	return uds.ErrorResponse(uds.ErrCodeValidation, field+" is required")
}

// errorResponse maps service errors onto protocol error codes.
func errorResponse(err error) *uds.Response {
	code := uds.ErrCodeInternal
	switch {
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		code = uds.ErrCodeCancelled
	case errors.Is(err, registry.ErrNotFound), errors.Is(err, catalog.ErrNotFound):
		code = uds.ErrCodeNotFound
	case errors.Is(err, reconcile.ErrRegistryRejection), errors.Is(err, registry.ErrDuplicate):
		code = uds.ErrCodeDuplicate
	case errors.Is(err, registry.ErrInvalidArgument):
		code = uds.ErrCodeValidation
	case errors.Is(err, identity.ErrConfigurationMismatch):
		code = uds.ErrCodeConfigurationMismatch
	case errors.Is(err, reconcile.ErrUpstreamLookup):
		code = uds.ErrCodeUpstreamLookup
	}
	return uds.ErrorResponse(code, err.Error())
}
