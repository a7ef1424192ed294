// Package instancesync is the entry point for instance-sync perpetual task
// management: it picks the reconciler for a mapping's kind, loads existing
// tasks, and handles task lifecycle operations around it.
package instancesync

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"time"

	"github.com/msageha/instsync/internal/catalog"
	"github.com/msageha/instsync/internal/events"
	"github.com/msageha/instsync/internal/identity"
	"github.com/msageha/instsync/internal/lock"
	"github.com/msageha/instsync/internal/model"
	"github.com/msageha/instsync/internal/reconcile"
	"github.com/msageha/instsync/internal/registry"
)

// Catalog is everything the service needs to know about mappings.
type Catalog interface {
	identity.Inventory
	reconcile.Directory
	InfraMapping(ctx context.Context, infraMappingID string) (model.InfrastructureMapping, error)
}

type Options struct {
	Registry registry.Registry
	Catalog  Catalog
	// Bus receives task lifecycle events when set.
	Bus      *events.Bus
	Schedule model.Schedule
	Policy   model.LookupFailurePolicy
	Logger   *log.Logger
	LogLevel model.LogLevel
}

type Service struct {
	registry registry.Registry
	catalog  Catalog
	creators map[model.Kind]*reconcile.Creator
	locks    *lock.MutexMap
	logger   *log.Logger
	logLevel model.LogLevel
}

func New(opts Options) (*Service, error) {
	if opts.Registry == nil || opts.Catalog == nil {
		return nil, fmt.Errorf("instancesync: registry and catalog are required")
	}
	logger := opts.Logger
	if logger == nil {
		logger = log.New(io.Discard, "", 0)
	}

	reg := opts.Registry
	if opts.Bus != nil {
		reg = &publishingRegistry{Registry: reg, bus: opts.Bus}
	}

	s := &Service{
		registry: reg,
		catalog:  opts.Catalog,
		creators: make(map[model.Kind]*reconcile.Creator),
		locks:    lock.NewMutexMap(),
		logger:   logger,
		logLevel: opts.LogLevel,
	}
	for _, kind := range model.Kinds() {
		c, err := reconcile.NewCreator(kind, reconcile.Deps{
			Registry:  reg,
			Inventory: opts.Catalog,
			Directory: opts.Catalog,
			Schedule:  opts.Schedule,
			Policy:    opts.Policy,
			Logger:    logger,
			LogLevel:  opts.LogLevel,
		})
		if err != nil {
			return nil, fmt.Errorf("creator for %s: %w", kind, err)
		}
		s.creators[kind] = c
	}
	return s, nil
}

func (s *Service) creator(kind model.Kind) (*reconcile.Creator, error) {
	c, ok := s.creators[kind]
	if !ok {
		return nil, fmt.Errorf("no instance-sync creator for kind %q: %w", kind, identity.ErrConfigurationMismatch)
	}
	return c, nil
}

func mappingKey(accountID, infraMappingID string) string {
	return accountID + "/" + infraMappingID
}

// CreatePerpetualTasks runs bulk creation for m.
func (s *Service) CreatePerpetualTasks(ctx context.Context, m model.InfrastructureMapping) ([]string, error) {
	c, err := s.creator(m.Kind)
	if err != nil {
		return nil, err
	}
	key := mappingKey(m.AccountID, m.ID)
	s.locks.Lock(key)
	defer s.locks.Unlock(key)

	return c.CreatePerpetualTasks(ctx, m)
}

// BootstrapMapping creates tasks for the identities currently running under m
// that no registered task covers. It reports whether anything was created
// or attempted.
func (s *Service) BootstrapMapping(ctx context.Context, m model.InfrastructureMapping) ([]string, bool, error) {
	c, err := s.creator(m.Kind)
	if err != nil {
		return nil, false, err
	}
	key := mappingKey(m.AccountID, m.ID)
	s.locks.Lock(key)
	defer s.locks.Unlock(key)

	existing, err := s.registry.ListByInfraMapping(ctx, m.AccountID, m.ID)
	if err != nil {
		return nil, false, fmt.Errorf("list tasks infra_mapping=%s: %w", m.ID, err)
	}
	ids, err := c.CreateMissingPerpetualTasks(ctx, m, existing)
	return ids, len(ids) > 0 || err != nil, err
}

// CreatePerpetualTasksForNewDeployment loads the tasks already registered
// for m and runs incremental reconciliation against summaries.
func (s *Service) CreatePerpetualTasksForNewDeployment(ctx context.Context, m model.InfrastructureMapping, summaries []model.DeploymentSummary) ([]string, error) {
	c, err := s.creator(m.Kind)
	if err != nil {
		return nil, err
	}
	key := mappingKey(m.AccountID, m.ID)
	s.locks.Lock(key)
	defer s.locks.Unlock(key)

	existing, err := s.registry.ListByInfraMapping(ctx, m.AccountID, m.ID)
	if err != nil {
		return nil, fmt.Errorf("list tasks infra_mapping=%s: %w", m.ID, err)
	}
	return c.CreatePerpetualTasksForNewDeployment(ctx, summaries, existing, m)
}

// ProcessDeploymentBatch resolves the batch's mapping and runs incremental
// reconciliation for it.
func (s *Service) ProcessDeploymentBatch(ctx context.Context, batch model.DeploymentBatch) ([]string, error) {
	m, err := s.catalog.InfraMapping(ctx, batch.InfraMappingID)
	if err != nil {
		return nil, err
	}
	if batch.AppID != "" && batch.AppID != m.AppID {
		return nil, fmt.Errorf("batch app %s does not own infra mapping %s: %w",
			batch.AppID, m.ID, identity.ErrConfigurationMismatch)
	}
	return s.CreatePerpetualTasksForNewDeployment(ctx, m, s.ownSummaries(m, batch.Summaries))
}

// ownSummaries drops summaries that name another mapping or account. Unset
// fields are taken to mean the batch's mapping.
func (s *Service) ownSummaries(m model.InfrastructureMapping, summaries []model.DeploymentSummary) []model.DeploymentSummary {
	out := make([]model.DeploymentSummary, 0, len(summaries))
	for _, sum := range summaries {
		if (sum.InfraMappingID != "" && sum.InfraMappingID != m.ID) ||
			(sum.AccountID != "" && sum.AccountID != m.AccountID) {
			s.log(model.LogLevelWarn, "skip summary=%s infra_mapping=%s account=%s: batch is for infra_mapping=%s",
				sum.ID, sum.InfraMappingID, sum.AccountID, m.ID)
			continue
		}
		out = append(out, sum)
	}
	return out
}

// DeletePerpetualTasks deletes every task of the mapping and returns how
// many were removed.
func (s *Service) DeletePerpetualTasks(ctx context.Context, accountID, infraMappingID string) (int, error) {
	key := mappingKey(accountID, infraMappingID)
	s.locks.Lock(key)
	defer s.locks.Unlock(key)

	return s.deleteLocked(ctx, accountID, infraMappingID)
}

func (s *Service) deleteLocked(ctx context.Context, accountID, infraMappingID string) (int, error) {
	tasks, err := s.registry.ListByInfraMapping(ctx, accountID, infraMappingID)
	if err != nil {
		return 0, fmt.Errorf("list tasks infra_mapping=%s: %w", infraMappingID, err)
	}
	deleted := 0
	for _, t := range tasks {
		err := s.registry.DeleteTask(ctx, accountID, t.UUID)
		if errors.Is(err, registry.ErrNotFound) {
			continue
		}
		if err != nil {
			return deleted, fmt.Errorf("delete task %s: %w", t.UUID, err)
		}
		deleted++
	}
	s.log(model.LogLevelInfo, "delete infra_mapping=%s account=%s deleted=%d", infraMappingID, accountID, deleted)
	return deleted, nil
}

func (s *Service) ResetPerpetualTask(ctx context.Context, accountID, taskID string) error {
	return s.registry.ResetTask(ctx, accountID, taskID, nil)
}

// SyncOutcome says what ProcessSyncResponse did.
type SyncOutcome string

const (
	SyncOutcomeNone    SyncOutcome = "none"
	SyncOutcomeReset   SyncOutcome = "reset"
	SyncOutcomeDeleted SyncOutcome = "deleted"
)

// ProcessSyncResponse handles the result of one perpetual task execution.
// Tasks whose mapping no longer exists are deleted along with every other
// task of that mapping; failed executions reset the task.
func (s *Service) ProcessSyncResponse(ctx context.Context, taskID string, resp model.SyncResponse) (SyncOutcome, error) {
	task, err := s.registry.GetTask(ctx, taskID)
	if err != nil {
		return SyncOutcomeNone, err
	}
	mappingID := task.InfraMappingID()

	_, err = s.catalog.InfraMapping(ctx, mappingID)
	switch {
	case errors.Is(err, catalog.ErrNotFound):
		s.log(model.LogLevelWarn, "sync_response task=%s infra_mapping=%s mapping_gone", taskID, mappingID)
		key := mappingKey(task.AccountID, mappingID)
		s.locks.Lock(key)
		defer s.locks.Unlock(key)
		if _, err := s.deleteLocked(ctx, task.AccountID, mappingID); err != nil {
			return SyncOutcomeNone, err
		}
		return SyncOutcomeDeleted, nil
	case err != nil:
		return SyncOutcomeNone, fmt.Errorf("lookup infra mapping %s: %w", mappingID, err)
	}

	if resp.Success {
		return SyncOutcomeNone, nil
	}
	s.log(model.LogLevelInfo, "sync_response task=%s failed error=%q", taskID, resp.ErrorMessage)
	if err := s.registry.ResetTask(ctx, task.AccountID, taskID, nil); err != nil {
		return SyncOutcomeNone, err
	}
	return SyncOutcomeReset, nil
}

// CleanupInvalidTasks deletes the account's tasks of taskType that are in
// the invalid state.
func (s *Service) CleanupInvalidTasks(ctx context.Context, accountID string, taskType model.TaskType) (int, error) {
	tasks, err := s.registry.ListByAccount(ctx, accountID)
	if err != nil {
		return 0, err
	}
	deleted := 0
	for _, t := range tasks {
		if t.Type != taskType || t.State != model.TaskStateInvalid {
			continue
		}
		err := s.registry.DeleteTask(ctx, accountID, t.UUID)
		if errors.Is(err, registry.ErrNotFound) {
			continue
		}
		if err != nil {
			return deleted, fmt.Errorf("delete task %s: %w", t.UUID, err)
		}
		deleted++
	}
	if deleted > 0 {
		s.log(model.LogLevelInfo, "cleanup_invalid account=%s type=%s deleted=%d", accountID, taskType, deleted)
	}
	return deleted, nil
}

// ListTasks lists an account's tasks, narrowed to one mapping when
// infraMappingID is set.
func (s *Service) ListTasks(ctx context.Context, accountID, infraMappingID string) ([]model.PerpetualTaskRecord, error) {
	if infraMappingID != "" {
		return s.registry.ListByInfraMapping(ctx, accountID, infraMappingID)
	}
	return s.registry.ListByAccount(ctx, accountID)
}

func (s *Service) SetTaskState(ctx context.Context, taskID string, state model.TaskState) error {
	if !model.IsKnownTaskState(state) {
		return fmt.Errorf("%w: unknown task state %q", registry.ErrInvalidArgument, state)
	}
	return s.registry.SetState(ctx, taskID, state)
}

func (s *Service) log(level model.LogLevel, format string, args ...any) {
	if level < s.logLevel {
		return
	}
	msg := fmt.Sprintf(format, args...)
	s.logger.Printf("%s %s instancesync: %s", time.Now().Format(time.RFC3339), level, msg)
}
