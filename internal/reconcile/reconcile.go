// Package reconcile creates and refreshes instance-sync perpetual tasks for
// one infrastructure mapping. A single Creator type serves every kind; the
// kind-specific part is the identity.Extractor it is bound to.
package reconcile

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"time"

	"github.com/msageha/instsync/internal/identity"
	"github.com/msageha/instsync/internal/model"
	"github.com/msageha/instsync/internal/registry"
)

var (
	// ErrRegistryRejection is returned when the registry refuses a create
	// because the identity is already registered.
	ErrRegistryRejection = errors.New("registry rejected perpetual task")

	// ErrUpstreamLookup is returned when an application, service or
	// environment name cannot be resolved under the fail policy.
	ErrUpstreamLookup = errors.New("upstream name lookup failed")
)

// Deps are the collaborators shared by all creators.
type Deps struct {
	Registry  registry.Registry
	Inventory identity.Inventory
	Directory Directory
	// Schedule defaults to model.DefaultSchedule when zero.
	Schedule model.Schedule
	Policy   model.LookupFailurePolicy
	Logger   *log.Logger
	LogLevel model.LogLevel
}

// Creator reconciles perpetual tasks for mappings of a single kind. It keeps
// no state between calls and is safe for concurrent use.
type Creator struct {
	extractor *identity.Extractor
	registry  registry.Registry
	inventory identity.Inventory
	describer Describer
	schedule  model.Schedule
	logger    *log.Logger
	logLevel  model.LogLevel
}

// NewCreator returns the creator for kind. Unknown kinds fail with
// identity.ErrConfigurationMismatch.
func NewCreator(kind model.Kind, deps Deps) (*Creator, error) {
	ext, err := identity.For(kind)
	if err != nil {
		return nil, err
	}
	if deps.Registry == nil {
		return nil, fmt.Errorf("reconcile: registry is required")
	}
	if deps.Directory == nil {
		return nil, fmt.Errorf("reconcile: directory is required")
	}
	if ext.Scope() == identity.ScopePerIdentity && deps.Inventory == nil {
		return nil, fmt.Errorf("reconcile: inventory is required for kind %s", kind)
	}
	sched := deps.Schedule
	if sched == (model.Schedule{}) {
		sched = model.DefaultSchedule()
	}
	if err := sched.Validate(); err != nil {
		return nil, fmt.Errorf("reconcile: %w", err)
	}
	logger := deps.Logger
	if logger == nil {
		logger = log.New(io.Discard, "", 0)
	}
	return &Creator{
		extractor: ext,
		registry:  deps.Registry,
		inventory: deps.Inventory,
		describer: NewDescriber(deps.Directory, deps.Policy),
		schedule:  sched,
		logger:    logger,
		logLevel:  deps.LogLevel,
	}, nil
}

func (c *Creator) Kind() model.Kind         { return c.extractor.Kind() }
func (c *Creator) TaskType() model.TaskType { return c.extractor.TaskType() }

// CreatePerpetualTasks creates one task per distinct identity currently
// running under m and returns their ids in enumeration order. Existing
// registry records are not consulted.
//
// On error the ids created before the failure are returned alongside it;
// they stay registered.
func (c *Creator) CreatePerpetualTasks(ctx context.Context, m model.InfrastructureMapping) ([]string, error) {
	keys, err := c.extractor.ExtractBulk(ctx, c.inventory, m)
	if err != nil {
		return nil, err
	}
	c.log(model.LogLevelDebug, "bulk kind=%s infra_mapping=%s identities=%d", m.Kind, m.ID, len(keys))
	return c.createAll(ctx, m, keys)
}

// CreatePerpetualTasksForNewDeployment creates tasks for the identities in
// summaries that existing does not already cover. For per-mapping kinds it
// creates the single mapping task when existing is empty and otherwise
// resets the first existing task. Nil slices are valid input.
func (c *Creator) CreatePerpetualTasksForNewDeployment(
	ctx context.Context,
	summaries []model.DeploymentSummary,
	existing []model.PerpetualTaskRecord,
	m model.InfrastructureMapping,
) ([]string, error) {
	if err := c.extractor.CheckMapping(m); err != nil {
		return nil, err
	}
	existing = c.ownRecords(existing)

	if c.extractor.Scope() == identity.ScopePerMapping {
		if len(existing) > 0 {
			task := existing[0]
			if err := c.registry.ResetTask(ctx, m.AccountID, task.UUID, nil); err != nil {
				return nil, fmt.Errorf("reset task %s: %w", task.UUID, err)
			}
			c.log(model.LogLevelInfo, "reset kind=%s infra_mapping=%s task=%s", m.Kind, m.ID, task.UUID)
			return []string{}, nil
		}
		return c.createAll(ctx, m, []identity.Key{{}})
	}

	keys, err := c.extractor.ExtractIncremental(m, summaries)
	if err != nil {
		return nil, err
	}

	missing := c.uncovered(keys, existing)
	c.log(model.LogLevelDebug, "incremental kind=%s infra_mapping=%s identities=%d covered=%d missing=%d",
		m.Kind, m.ID, len(keys), len(keys)-len(missing), len(missing))
	return c.createAll(ctx, m, missing)
}

// CreateMissingPerpetualTasks runs bulk extraction for m and creates tasks
// only for identities existing does not cover. A per-mapping kind gets its
// single task when existing holds none. It fills the gap left by a bulk
// pass that failed partway.
func (c *Creator) CreateMissingPerpetualTasks(
	ctx context.Context,
	m model.InfrastructureMapping,
	existing []model.PerpetualTaskRecord,
) ([]string, error) {
	keys, err := c.extractor.ExtractBulk(ctx, c.inventory, m)
	if err != nil {
		return nil, err
	}
	existing = c.ownRecords(existing)
	if c.extractor.Scope() == identity.ScopePerMapping && len(existing) > 0 {
		return []string{}, nil
	}

	missing := c.uncovered(keys, existing)
	c.log(model.LogLevelDebug, "fill kind=%s infra_mapping=%s identities=%d covered=%d missing=%d",
		m.Kind, m.ID, len(keys), len(keys)-len(missing), len(missing))
	return c.createAll(ctx, m, missing)
}

// uncovered returns the keys no existing record carries, in key order.
func (c *Creator) uncovered(keys []identity.Key, existing []model.PerpetualTaskRecord) []identity.Key {
	covered := make(map[string]bool, len(existing))
	for _, rec := range existing {
		if k, ok := c.extractor.KeyFromContext(rec.ClientContext); ok {
			covered[k.ID()] = true
		}
	}
	missing := make([]identity.Key, 0, len(keys))
	for _, k := range keys {
		if !covered[k.ID()] {
			missing = append(missing, k)
		}
	}
	return missing
}

// ownRecords drops records of other task types that may share the mapping.
func (c *Creator) ownRecords(recs []model.PerpetualTaskRecord) []model.PerpetualTaskRecord {
	out := make([]model.PerpetualTaskRecord, 0, len(recs))
	for _, r := range recs {
		if r.Type == "" || r.Type == c.extractor.TaskType() {
			out = append(out, r)
		}
	}
	return out
}

func (c *Creator) createAll(ctx context.Context, m model.InfrastructureMapping, keys []identity.Key) ([]string, error) {
	ids := make([]string, 0, len(keys))
	if len(keys) == 0 {
		return ids, nil
	}

	desc, degraded, err := c.describer.Describe(ctx, m)
	if err != nil {
		return ids, err
	}
	for _, d := range degraded {
		c.log(model.LogLevelWarn, "describe infra_mapping=%s placeholder error=%v", m.ID, d)
	}

	for _, k := range keys {
		req := model.CreateTaskRequest{
			Type:          c.extractor.TaskType(),
			AccountID:     m.AccountID,
			ClientContext: c.clientContext(m, k),
			Schedule:      c.schedule,
			Description:   desc,
		}
		id, err := c.registry.CreateTask(ctx, req)
		if err != nil {
			if errors.Is(err, registry.ErrDuplicate) {
				err = fmt.Errorf("%w: %w", ErrRegistryRejection, err)
			}
			c.log(model.LogLevelWarn, "create kind=%s infra_mapping=%s key=%q error=%v", m.Kind, m.ID, k.ID(), err)
			return ids, err
		}
		c.log(model.LogLevelInfo, "create kind=%s infra_mapping=%s key=%q task=%s", m.Kind, m.ID, k.ID(), id)
		ids = append(ids, id)
	}
	return ids, nil
}

// clientContext merges the identity fields with the fixed mapping fields.
// Per-mapping tasks carry the four fixed ids only.
func (c *Creator) clientContext(m model.InfrastructureMapping, k identity.Key) model.ClientContext {
	if c.extractor.Scope() == identity.ScopePerMapping {
		return model.NewClientContext(map[string]string{
			model.ParamAccountID:      m.AccountID,
			model.ParamApplicationID:  m.AppID,
			model.ParamEnvID:          m.EnvID,
			model.ParamInfraMappingID: m.ID,
		})
	}
	params := make(map[string]string, len(k)+2)
	for name, v := range k {
		params[name] = v
	}
	params[model.ParamApplicationID] = m.AppID
	params[model.ParamInfraMappingID] = m.ID
	return model.ClientContext{Params: params}
}

func (c *Creator) log(level model.LogLevel, format string, args ...any) {
	if level < c.logLevel {
		return
	}
	msg := fmt.Sprintf(format, args...)
	c.logger.Printf("%s %s reconcile: %s", time.Now().Format(time.RFC3339), level, msg)
}
