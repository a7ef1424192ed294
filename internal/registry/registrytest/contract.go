// Package registrytest provides contract tests for [registry.Registry]
// implementations.
package registrytest

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/msageha/instsync/internal/model"
	"github.com/msageha/instsync/internal/registry"
)

// Factory creates a fresh [registry.Registry] for each test invocation.
type Factory func(t *testing.T) registry.Registry

func request(account, mapping, asg string) model.CreateTaskRequest {
	return model.CreateTaskRequest{
		Type:      model.TaskTypeAwsAmiInstanceSync,
		AccountID: account,
		ClientContext: model.NewClientContext(map[string]string{
			model.ParamApplicationID:  "app-1",
			model.ParamInfraMappingID: mapping,
			model.ParamAsgName:        asg,
		}),
		Schedule:    model.DefaultSchedule(),
		Description: "Application: [app], Service: [svc], Environment: [env], Infrastructure: [infra]",
	}
}

func mustCreate(t *testing.T, r registry.Registry, req model.CreateTaskRequest) string {
	t.Helper()
	id, err := r.CreateTask(context.Background(), req)
	if err != nil {
		t.Fatalf("CreateTask: %v", err)
	}
	if id == "" {
		t.Fatal("CreateTask returned empty id")
	}
	return id
}

// Run exercises the [registry.Registry] contract.
func Run(t *testing.T, factory Factory) {
	t.Run("CreateAndGet", func(t *testing.T) {
		r := factory(t)
		req := request("acc-1", "infra-1", "asg-1")
		id := mustCreate(t, r, req)

		got, err := r.GetTask(context.Background(), id)
		if err != nil {
			t.Fatalf("GetTask: %v", err)
		}
		if got.UUID != id || got.AccountID != "acc-1" || got.Type != req.Type {
			t.Errorf("record = %+v", got)
		}
		if got.ClientContext.Get(model.ParamAsgName) != "asg-1" {
			t.Errorf("asgName = %q, want asg-1", got.ClientContext.Get(model.ParamAsgName))
		}
		if got.InfraMappingID() != "infra-1" {
			t.Errorf("InfraMappingID = %q", got.InfraMappingID())
		}
		if got.Schedule != model.DefaultSchedule() {
			t.Errorf("Schedule = %+v", got.Schedule)
		}
		if got.Description != req.Description {
			t.Errorf("Description = %q", got.Description)
		}
		if got.State != model.TaskStateUnassigned {
			t.Errorf("State = %q, want %q", got.State, model.TaskStateUnassigned)
		}
		if got.CreatedAt.IsZero() {
			t.Error("CreatedAt not set")
		}
	})

	t.Run("CreateDuplicateRejected", func(t *testing.T) {
		r := factory(t)
		mustCreate(t, r, request("acc-1", "infra-1", "asg-1"))

		_, err := r.CreateTask(context.Background(), request("acc-1", "infra-1", "asg-1"))
		if !errors.Is(err, registry.ErrDuplicate) {
			t.Fatalf("second CreateTask: got %v, want ErrDuplicate", err)
		}

		withStart := request("acc-1", "infra-1", "asg-1")
		withStart.ClientContext.Params[model.ParamStartDate] = "1700000000000"
		_, err = r.CreateTask(context.Background(), withStart)
		if !errors.Is(err, registry.ErrDuplicate) {
			t.Fatalf("CreateTask differing only in START_DATE: got %v, want ErrDuplicate", err)
		}

		tasks, err := r.ListByAccount(context.Background(), "acc-1")
		if err != nil {
			t.Fatalf("ListByAccount: %v", err)
		}
		if len(tasks) != 1 {
			t.Fatalf("rejected create left side effects: %d tasks", len(tasks))
		}
	})

	t.Run("CreateDuplicateAllowed", func(t *testing.T) {
		r := factory(t)
		req := request("acc-1", "infra-1", "asg-1")
		req.AllowDuplicate = true
		a := mustCreate(t, r, req)
		b := mustCreate(t, r, req)
		if a == b {
			t.Fatalf("duplicate tasks share id %s", a)
		}
	})

	t.Run("SameIdentityOtherScopes", func(t *testing.T) {
		r := factory(t)
		mustCreate(t, r, request("acc-1", "infra-1", "asg-1"))
		mustCreate(t, r, request("acc-1", "infra-2", "asg-1"))
		mustCreate(t, r, request("acc-2", "infra-1", "asg-1"))

		other := request("acc-1", "infra-1", "asg-1")
		other.Type = model.TaskTypeSpotinstAmiInstanceSync
		mustCreate(t, r, other)
	})

	t.Run("CreateInvalid", func(t *testing.T) {
		r := factory(t)
		req := request("acc-1", "infra-1", "asg-1")
		req.Type = ""
		if _, err := r.CreateTask(context.Background(), req); !errors.Is(err, registry.ErrInvalidArgument) {
			t.Errorf("missing type: got %v, want ErrInvalidArgument", err)
		}
		req = request("", "infra-1", "asg-1")
		if _, err := r.CreateTask(context.Background(), req); !errors.Is(err, registry.ErrInvalidArgument) {
			t.Errorf("missing account: got %v, want ErrInvalidArgument", err)
		}
		req = request("acc-1", "infra-1", "asg-1")
		req.Schedule = model.Schedule{}
		if _, err := r.CreateTask(context.Background(), req); !errors.Is(err, registry.ErrInvalidArgument) {
			t.Errorf("zero schedule: got %v, want ErrInvalidArgument", err)
		}
	})

	t.Run("GetNotFound", func(t *testing.T) {
		r := factory(t)
		if _, err := r.GetTask(context.Background(), "missing"); !errors.Is(err, registry.ErrNotFound) {
			t.Fatalf("GetTask: got %v, want ErrNotFound", err)
		}
	})

	t.Run("Reset", func(t *testing.T) {
		r := factory(t)
		ctx := context.Background()
		id := mustCreate(t, r, request("acc-1", "infra-1", "asg-1"))
		if err := r.SetState(ctx, id, model.TaskStateAssigned); err != nil {
			t.Fatalf("SetState: %v", err)
		}

		if err := r.ResetTask(ctx, "acc-1", id, nil); err != nil {
			t.Fatalf("ResetTask: %v", err)
		}
		got, _ := r.GetTask(ctx, id)
		if got.State != model.TaskStateUnassigned {
			t.Errorf("State after reset = %q", got.State)
		}
		if got.ResetCount != 1 {
			t.Errorf("ResetCount = %d, want 1", got.ResetCount)
		}
		if got.Schedule != model.DefaultSchedule() {
			t.Errorf("nil schedule override changed schedule: %+v", got.Schedule)
		}

		override := model.Schedule{Interval: time.Minute, Timeout: 30 * time.Second}
		if err := r.ResetTask(ctx, "acc-1", id, &override); err != nil {
			t.Fatalf("ResetTask with schedule: %v", err)
		}
		got, _ = r.GetTask(ctx, id)
		if got.Schedule != override || got.ResetCount != 2 {
			t.Errorf("after override reset: schedule=%+v reset_count=%d", got.Schedule, got.ResetCount)
		}
	})

	t.Run("ResetNotFound", func(t *testing.T) {
		r := factory(t)
		id := mustCreate(t, r, request("acc-1", "infra-1", "asg-1"))
		if err := r.ResetTask(context.Background(), "acc-2", id, nil); !errors.Is(err, registry.ErrNotFound) {
			t.Errorf("reset with wrong account: got %v, want ErrNotFound", err)
		}
		if err := r.ResetTask(context.Background(), "acc-1", "missing", nil); !errors.Is(err, registry.ErrNotFound) {
			t.Errorf("reset missing: got %v, want ErrNotFound", err)
		}
	})

	t.Run("Delete", func(t *testing.T) {
		r := factory(t)
		ctx := context.Background()
		id := mustCreate(t, r, request("acc-1", "infra-1", "asg-1"))

		if err := r.DeleteTask(ctx, "acc-2", id); !errors.Is(err, registry.ErrNotFound) {
			t.Errorf("delete with wrong account: got %v, want ErrNotFound", err)
		}
		if err := r.DeleteTask(ctx, "acc-1", id); err != nil {
			t.Fatalf("DeleteTask: %v", err)
		}
		if _, err := r.GetTask(ctx, id); !errors.Is(err, registry.ErrNotFound) {
			t.Errorf("GetTask after delete: got %v, want ErrNotFound", err)
		}
		if err := r.DeleteTask(ctx, "acc-1", id); !errors.Is(err, registry.ErrNotFound) {
			t.Errorf("second delete: got %v, want ErrNotFound", err)
		}
		// identity is free again
		mustCreate(t, r, request("acc-1", "infra-1", "asg-1"))
	})

	t.Run("ListByInfraMapping", func(t *testing.T) {
		r := factory(t)
		ctx := context.Background()
		a := mustCreate(t, r, request("acc-1", "infra-1", "asg-1"))
		b := mustCreate(t, r, request("acc-1", "infra-1", "asg-2"))
		mustCreate(t, r, request("acc-1", "infra-2", "asg-1"))
		mustCreate(t, r, request("acc-2", "infra-1", "asg-3"))

		got, err := r.ListByInfraMapping(ctx, "acc-1", "infra-1")
		if err != nil {
			t.Fatalf("ListByInfraMapping: %v", err)
		}
		if len(got) != 2 || got[0].UUID != a || got[1].UUID != b {
			t.Fatalf("ListByInfraMapping = %v, want [%s %s] in creation order", uuids(got), a, b)
		}

		none, err := r.ListByInfraMapping(ctx, "acc-1", "infra-9")
		if err != nil {
			t.Fatalf("ListByInfraMapping empty: %v", err)
		}
		if len(none) != 0 {
			t.Errorf("expected no tasks, got %v", uuids(none))
		}
	})

	t.Run("ListByAccount", func(t *testing.T) {
		r := factory(t)
		ctx := context.Background()
		mustCreate(t, r, request("acc-1", "infra-1", "asg-1"))
		mustCreate(t, r, request("acc-1", "infra-2", "asg-1"))
		mustCreate(t, r, request("acc-2", "infra-1", "asg-1"))

		got, err := r.ListByAccount(ctx, "acc-1")
		if err != nil {
			t.Fatalf("ListByAccount: %v", err)
		}
		if len(got) != 2 {
			t.Fatalf("ListByAccount = %d tasks, want 2", len(got))
		}
		for _, rec := range got {
			if rec.AccountID != "acc-1" {
				t.Errorf("foreign record %s for account %s", rec.UUID, rec.AccountID)
			}
		}
	})

	t.Run("SetState", func(t *testing.T) {
		r := factory(t)
		ctx := context.Background()
		id := mustCreate(t, r, request("acc-1", "infra-1", "asg-1"))

		if err := r.SetState(ctx, id, model.TaskStateInvalid); err != nil {
			t.Fatalf("SetState invalid: %v", err)
		}
		if err := r.SetState(ctx, id, model.TaskStateAssigned); !errors.Is(err, registry.ErrInvalidArgument) {
			t.Errorf("invalid → assigned: got %v, want ErrInvalidArgument", err)
		}
		got, _ := r.GetTask(ctx, id)
		if got.State != model.TaskStateInvalid {
			t.Errorf("State = %q, want %q", got.State, model.TaskStateInvalid)
		}
		if err := r.SetState(ctx, "missing", model.TaskStateAssigned); !errors.Is(err, registry.ErrNotFound) {
			t.Errorf("SetState missing: got %v, want ErrNotFound", err)
		}
	})
}

func uuids(recs []model.PerpetualTaskRecord) []string {
	out := make([]string, len(recs))
	for i, r := range recs {
		out[i] = r.UUID
	}
	return out
}
