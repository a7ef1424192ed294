package registry

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/msageha/instsync/internal/model"
)

// Memory is a Registry kept in process memory.
type Memory struct {
	mu    sync.RWMutex
	tasks map[string]model.PerpetualTaskRecord
	order map[string]uint64
	seq   uint64
	now   func() time.Time
}

func NewMemory() *Memory {
	return &Memory{
		tasks: make(map[string]model.PerpetualTaskRecord),
		order: make(map[string]uint64),
		now:   func() time.Time { return time.Now().UTC() },
	}
}

func (m *Memory) CreateTask(_ context.Context, req model.CreateTaskRequest) (string, error) {
	if err := ValidateCreate(req); err != nil {
		return "", err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	key := req.ClientContext.IdentityKey()
	if !req.AllowDuplicate {
		for _, t := range m.tasks {
			if t.Type == req.Type && t.AccountID == req.AccountID && !t.AllowDuplicate &&
				t.ClientContext.IdentityKey() == key {
				return "", fmt.Errorf("type=%s account=%s key=%q: %w", req.Type, req.AccountID, key, ErrDuplicate)
			}
		}
	}

	now := m.now()
	rec := model.PerpetualTaskRecord{
		UUID:           uuid.NewString(),
		AccountID:      req.AccountID,
		Type:           req.Type,
		ClientContext:  model.NewClientContext(req.ClientContext.Params),
		Schedule:       req.Schedule,
		Description:    req.Description,
		State:          model.TaskStateUnassigned,
		AllowDuplicate: req.AllowDuplicate,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	m.seq++
	m.tasks[rec.UUID] = rec
	m.order[rec.UUID] = m.seq
	return rec.UUID, nil
}

func (m *Memory) ResetTask(_ context.Context, accountID, taskID string, schedule *model.Schedule) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	rec, ok := m.tasks[taskID]
	if !ok || rec.AccountID != accountID {
		return fmt.Errorf("task %s: %w", taskID, ErrNotFound)
	}
	if schedule != nil {
		if err := schedule.Validate(); err != nil {
			return fmt.Errorf("%w: %v", ErrInvalidArgument, err)
		}
		rec.Schedule = *schedule
	}
	rec.State = model.TaskStateUnassigned
	rec.ResetCount++
	rec.UpdatedAt = m.now()
	m.tasks[taskID] = rec
	return nil
}

func (m *Memory) DeleteTask(_ context.Context, accountID, taskID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	rec, ok := m.tasks[taskID]
	if !ok || rec.AccountID != accountID {
		return fmt.Errorf("task %s: %w", taskID, ErrNotFound)
	}
	delete(m.tasks, taskID)
	delete(m.order, taskID)
	return nil
}

func (m *Memory) GetTask(_ context.Context, taskID string) (model.PerpetualTaskRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	rec, ok := m.tasks[taskID]
	if !ok {
		return model.PerpetualTaskRecord{}, fmt.Errorf("task %s: %w", taskID, ErrNotFound)
	}
	return rec, nil
}

func (m *Memory) ListByInfraMapping(_ context.Context, accountID, infraMappingID string) ([]model.PerpetualTaskRecord, error) {
	return m.list(func(r model.PerpetualTaskRecord) bool {
		return r.AccountID == accountID && r.InfraMappingID() == infraMappingID
	}), nil
}

func (m *Memory) ListByAccount(_ context.Context, accountID string) ([]model.PerpetualTaskRecord, error) {
	return m.list(func(r model.PerpetualTaskRecord) bool {
		return r.AccountID == accountID
	}), nil
}

func (m *Memory) SetState(_ context.Context, taskID string, state model.TaskState) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	rec, ok := m.tasks[taskID]
	if !ok {
		return fmt.Errorf("task %s: %w", taskID, ErrNotFound)
	}
	if err := model.ValidateTaskStateTransition(rec.State, state); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidArgument, err)
	}
	rec.State = state
	rec.UpdatedAt = m.now()
	m.tasks[taskID] = rec
	return nil
}

// list returns matching records in creation order.
func (m *Memory) list(match func(model.PerpetualTaskRecord) bool) []model.PerpetualTaskRecord {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []model.PerpetualTaskRecord
	for _, r := range m.tasks {
		if match(r) {
			out = append(out, r)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		return m.order[out[i].UUID] < m.order[out[j].UUID]
	})
	return out
}
