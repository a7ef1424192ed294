// Package uds implements the length-prefixed JSON protocol spoken between the
// instsync CLI and daemon over a Unix domain socket.
package uds

import (
	"bytes"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"io"
	"net"

	"github.com/msageha/instsync/internal/model"
)

const ProtocolVersion = 1

// DefaultSocketName is the socket filename inside the data directory.
const DefaultSocketName = "instsync.sock"

// MaxFrameSize bounds a single frame payload.
const MaxFrameSize = 10 * 1024 * 1024

// Commands understood by the daemon.
const (
	CommandPing           = "ping"
	CommandShutdown       = "shutdown"
	CommandScan           = "scan"
	CommandCreateTasks    = "create_tasks"
	CommandNewDeployment  = "new_deployment"
	CommandListTasks      = "list_tasks"
	CommandResetTask      = "reset_task"
	CommandDeleteTasks    = "delete_tasks"
	CommandSyncResponse   = "sync_response"
	CommandCleanupInvalid = "cleanup_invalid"
	CommandSetState       = "set_state"
)

type Request struct {
	ProtocolVersion int             `json:"protocol_version"`
	Command         string          `json:"command"`
	Params          json.RawMessage `json:"params,omitempty"`
}

type Response struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data,omitempty"`
	Error   *ErrorDetail    `json:"error,omitempty"`
}

type ErrorDetail struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func (e *ErrorDetail) Error() string {
	return e.Code + ": " + e.Message
}

const (
	ErrCodeProtocolMismatch      = "PROTOCOL_MISMATCH"
	ErrCodeUnknownCommand        = "UNKNOWN_COMMAND"
	ErrCodeInternal              = "INTERNAL_ERROR"
	ErrCodeValidation            = "VALIDATION_ERROR"
	ErrCodeNotFound              = "NOT_FOUND"
	ErrCodeDuplicate             = "DUPLICATE"
	ErrCodeCancelled             = "CANCELLED"
	ErrCodeConfigurationMismatch = "CONFIGURATION_MISMATCH"
	ErrCodeUpstreamLookup        = "UPSTREAM_LOOKUP"
)

// MappingParams names an infrastructure mapping in the catalog.
type MappingParams struct {
	InfraMappingID string `json:"infra_mapping_id"`
}

type NewDeploymentParams struct {
	InfraMappingID string                    `json:"infra_mapping_id"`
	Summaries      []model.DeploymentSummary `json:"summaries"`
}

// TaskListParams lists an account's tasks, optionally for one mapping.
type TaskListParams struct {
	AccountID      string `json:"account_id"`
	InfraMappingID string `json:"infra_mapping_id,omitempty"`
}

type TaskParams struct {
	AccountID string `json:"account_id"`
	TaskID    string `json:"task_id"`
}

type DeleteTasksParams struct {
	AccountID      string `json:"account_id"`
	InfraMappingID string `json:"infra_mapping_id"`
}

type SyncResponseParams struct {
	TaskID   string             `json:"task_id"`
	Response model.SyncResponse `json:"response"`
}

type CleanupParams struct {
	AccountID string         `json:"account_id"`
	TaskType  model.TaskType `json:"task_type"`
}

type SetStateParams struct {
	TaskID string          `json:"task_id"`
	State  model.TaskState `json:"state"`
}

// TaskIDsResult is returned by the create commands.
type TaskIDsResult struct {
	TaskIDs []string `json:"task_ids"`
}

type CountResult struct {
	Count int `json:"count"`
}

type ScanResult struct {
	Mappings int      `json:"mappings"`
	Created  int      `json:"created"`
	Failed   []string `json:"failed,omitempty"`
}

type SyncResult struct {
	Outcome string `json:"outcome"`
}

func NewRequest(command string, params any) (*Request, error) {
	req := &Request{
		ProtocolVersion: ProtocolVersion,
		Command:         command,
	}
	if params != nil {
		data, err := json.Marshal(params)
		if err != nil {
			return nil, fmt.Errorf("marshal params: %w", err)
		}
		req.Params = data
	}
	return req, nil
}

// DecodeParams unmarshals the request params into v. Missing params leave v
// untouched.
func (r *Request) DecodeParams(v any) error {
	if len(r.Params) == 0 {
		return nil
	}
	if err := json.Unmarshal(r.Params, v); err != nil {
		return fmt.Errorf("decode %s params: %w", r.Command, err)
	}
	return nil
}

func SuccessResponse(data any) *Response {
	resp := &Response{Success: true}
	if data != nil {
		raw, err := json.Marshal(data)
		if err != nil {
			return ErrorResponse(ErrCodeInternal, fmt.Sprintf("marshal response: %v", err))
		}
		resp.Data = raw
	}
	return resp
}

func ErrorResponse(code, message string) *Response {
	return &Response{
		Success: false,
		Error: &ErrorDetail{
			Code:    code,
			Message: message,
		},
	}
}

// WriteFrame writes v as [4-byte big-endian length][JSON payload].
func WriteFrame(conn net.Conn, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal frame: %w", err)
	}
	if len(data) > MaxFrameSize {
		return fmt.Errorf("frame too large: %d bytes", len(data))
	}

	length := uint32(len(data))
	if err := binary.Write(conn, binary.BigEndian, length); err != nil {
		return fmt.Errorf("write frame length: %w", err)
	}
	if _, err := io.Copy(conn, bytes.NewReader(data)); err != nil {
		return fmt.Errorf("write frame payload: %w", err)
	}
	return nil
}

func ReadFrame(conn net.Conn, v any) error {
	var length uint32
	if err := binary.Read(conn, binary.BigEndian, &length); err != nil {
		return fmt.Errorf("read frame length: %w", err)
	}
	if length > MaxFrameSize {
		return fmt.Errorf("frame too large: %d bytes", length)
	}

	buf := make([]byte, length)
	if _, err := io.ReadFull(conn, buf); err != nil {
		return fmt.Errorf("read frame payload: %w", err)
	}

	if err := json.Unmarshal(buf, v); err != nil {
		return fmt.Errorf("unmarshal frame: %w", err)
	}
	return nil
}
