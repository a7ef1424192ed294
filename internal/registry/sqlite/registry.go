package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/msageha/instsync/internal/model"
	"github.com/msageha/instsync/internal/registry"
)

// Registry implements [registry.Registry] backed by SQLite.
type Registry struct {
	DB *sql.DB
}

const taskColumns = `uuid, account_id, task_type, client_context, interval_ns, timeout_ns,
	description, state, allow_duplicate, reset_count, created_at, updated_at`

func (r *Registry) CreateTask(ctx context.Context, req model.CreateTaskRequest) (string, error) {
	if err := registry.ValidateCreate(req); err != nil {
		return "", err
	}
	params, err := json.Marshal(req.ClientContext.Params)
	if err != nil {
		return "", fmt.Errorf("marshal client context: %w", err)
	}

	id := uuid.NewString()
	now := formatTime(time.Now())
	_, err = r.DB.ExecContext(ctx,
		`INSERT INTO perpetual_tasks (uuid, account_id, task_type, infra_mapping_id, identity_key,
			client_context, interval_ns, timeout_ns, description, state, allow_duplicate,
			reset_count, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, 0, ?, ?)`,
		id, req.AccountID, string(req.Type), req.ClientContext.Get(model.ParamInfraMappingID),
		req.ClientContext.IdentityKey(), string(params),
		int64(req.Schedule.Interval), int64(req.Schedule.Timeout),
		req.Description, string(model.TaskStateUnassigned), req.AllowDuplicate, now, now,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return "", fmt.Errorf("type=%s account=%s key=%q: %w",
				req.Type, req.AccountID, req.ClientContext.IdentityKey(), registry.ErrDuplicate)
		}
		return "", fmt.Errorf("insert perpetual task: %w", err)
	}
	return id, nil
}

func (r *Registry) ResetTask(ctx context.Context, accountID, taskID string, schedule *model.Schedule) error {
	now := formatTime(time.Now())
	var (
		res sql.Result
		err error
	)
	if schedule != nil {
		if verr := schedule.Validate(); verr != nil {
			return fmt.Errorf("%w: %v", registry.ErrInvalidArgument, verr)
		}
		res, err = r.DB.ExecContext(ctx,
			`UPDATE perpetual_tasks
			SET state = ?, reset_count = reset_count + 1, interval_ns = ?, timeout_ns = ?, updated_at = ?
			WHERE uuid = ? AND account_id = ?`,
			string(model.TaskStateUnassigned), int64(schedule.Interval), int64(schedule.Timeout), now,
			taskID, accountID,
		)
	} else {
		res, err = r.DB.ExecContext(ctx,
			`UPDATE perpetual_tasks
			SET state = ?, reset_count = reset_count + 1, updated_at = ?
			WHERE uuid = ? AND account_id = ?`,
			string(model.TaskStateUnassigned), now, taskID, accountID,
		)
	}
	if err != nil {
		return fmt.Errorf("reset perpetual task: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("task %s: %w", taskID, registry.ErrNotFound)
	}
	return nil
}

func (r *Registry) DeleteTask(ctx context.Context, accountID, taskID string) error {
	res, err := r.DB.ExecContext(ctx,
		`DELETE FROM perpetual_tasks WHERE uuid = ? AND account_id = ?`, taskID, accountID)
	if err != nil {
		return fmt.Errorf("delete perpetual task: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("task %s: %w", taskID, registry.ErrNotFound)
	}
	return nil
}

func (r *Registry) SetState(ctx context.Context, taskID string, state model.TaskState) error {
	tx, err := r.DB.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	var current string
	err = tx.QueryRowContext(ctx, `SELECT state FROM perpetual_tasks WHERE uuid = ?`, taskID).Scan(&current)
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("task %s: %w", taskID, registry.ErrNotFound)
	}
	if err != nil {
		return fmt.Errorf("read task state: %w", err)
	}
	if err := model.ValidateTaskStateTransition(model.TaskState(current), state); err != nil {
		return fmt.Errorf("%w: %v", registry.ErrInvalidArgument, err)
	}
	if _, err := tx.ExecContext(ctx,
		`UPDATE perpetual_tasks SET state = ?, updated_at = ? WHERE uuid = ?`,
		string(state), formatTime(time.Now()), taskID,
	); err != nil {
		return fmt.Errorf("update task state: %w", err)
	}
	return tx.Commit()
}

func (r *Registry) GetTask(ctx context.Context, taskID string) (model.PerpetualTaskRecord, error) {
	row := r.DB.QueryRowContext(ctx,
		`SELECT `+taskColumns+` FROM perpetual_tasks WHERE uuid = ?`, taskID)
	rec, err := scanTask(row)
	if errors.Is(err, registry.ErrNotFound) {
		return rec, fmt.Errorf("task %s: %w", taskID, registry.ErrNotFound)
	}
	return rec, err
}

func (r *Registry) ListByInfraMapping(ctx context.Context, accountID, infraMappingID string) ([]model.PerpetualTaskRecord, error) {
	return r.list(ctx,
		`SELECT `+taskColumns+` FROM perpetual_tasks
		WHERE account_id = ? AND infra_mapping_id = ? ORDER BY seq`,
		accountID, infraMappingID)
}

func (r *Registry) ListByAccount(ctx context.Context, accountID string) ([]model.PerpetualTaskRecord, error) {
	return r.list(ctx,
		`SELECT `+taskColumns+` FROM perpetual_tasks WHERE account_id = ? ORDER BY seq`,
		accountID)
}

func (r *Registry) list(ctx context.Context, query string, args ...any) ([]model.PerpetualTaskRecord, error) {
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list perpetual tasks: %w", err)
	}
	defer rows.Close()

	var out []model.PerpetualTaskRecord
	for rows.Next() {
		rec, err := scanTask(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanTask(s scanner) (model.PerpetualTaskRecord, error) {
	var (
		rec                   model.PerpetualTaskRecord
		taskType, state       string
		paramsJSON            string
		intervalNs, timeoutNs int64
		created, updated      string
	)
	err := s.Scan(&rec.UUID, &rec.AccountID, &taskType, &paramsJSON, &intervalNs, &timeoutNs,
		&rec.Description, &state, &rec.AllowDuplicate, &rec.ResetCount, &created, &updated)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return rec, fmt.Errorf("%w", registry.ErrNotFound)
		}
		return rec, fmt.Errorf("scan perpetual task: %w", err)
	}

	var params map[string]string
	if err := json.Unmarshal([]byte(paramsJSON), &params); err != nil {
		return rec, fmt.Errorf("unmarshal client context: %w", err)
	}
	rec.Type = model.TaskType(taskType)
	rec.State = model.TaskState(state)
	rec.ClientContext = model.ClientContext{Params: params}
	rec.Schedule = model.Schedule{Interval: time.Duration(intervalNs), Timeout: time.Duration(timeoutNs)}
	if rec.CreatedAt, err = parseTime(created); err != nil {
		return rec, fmt.Errorf("parse created_at: %w", err)
	}
	if rec.UpdatedAt, err = parseTime(updated); err != nil {
		return rec, fmt.Errorf("parse updated_at: %w", err)
	}
	return rec, nil
}
