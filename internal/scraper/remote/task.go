package remote

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"PriceWatch/internal/models"
)

// TaskStatus is the lifecycle state reported by the parsing service.
type TaskStatus string

const (
	StatusWaiting    TaskStatus = "waiting"
	StatusProcessing TaskStatus = "processing"
	StatusCompleted  TaskStatus = "completed"
	StatusError      TaskStatus = "error"
)

// Terminal reports whether polling can stop.
func (s TaskStatus) Terminal() bool {
	return s == StatusCompleted || s == StatusError
}

// Reports holds the download links of a completed task.
type Reports struct {
	JSON string `json:"json"`
	CSV  string `json:"csv"`
	XLSX string `json:"xlsx"`
}

// TaskState is one task as returned by the status endpoint.
type TaskState struct {
	Status  TaskStatus `json:"status"`
	Reports Reports    `json:"reports"`
	Error   string     `json:"error,omitempty"`
}

// UnmarshalJSON accepts either a state object or a bare status string, and
// normalizes the status case.
func (s *TaskState) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) > 0 && data[0] == '"' {
		var status string
		if err := json.Unmarshal(data, &status); err != nil {
			return err
		}
		*s = TaskState{Status: TaskStatus(strings.ToLower(status))}
		return nil
	}
	type plain TaskState
	var p plain
	if err := json.Unmarshal(data, &p); err != nil {
		return err
	}
	p.Status = TaskStatus(strings.ToLower(string(p.Status)))
	*s = TaskState(p)
	return nil
}

// statusBatch is the status endpoint answer. The service sends either a flat
// object {label: state} or a list of single-key objects [{label: state}];
// both decode to the same map.
type statusBatch map[string]TaskState

func (b *statusBatch) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	out := make(statusBatch)
	switch {
	case len(data) == 0 || bytes.Equal(data, []byte("null")):
	case data[0] == '{':
		var flat map[string]TaskState
		if err := json.Unmarshal(data, &flat); err != nil {
			return fmt.Errorf("decode status map: %w", err)
		}
		for k, v := range flat {
			out[k] = v
		}
	case data[0] == '[':
		var list []map[string]TaskState
		if err := json.Unmarshal(data, &list); err != nil {
			return fmt.Errorf("decode status list: %w", err)
		}
		for _, item := range list {
			for k, v := range item {
				out[k] = v
			}
		}
	default:
		return fmt.Errorf("unexpected status payload: %.40s", data)
	}
	*b = out
	return nil
}

// Task is one submitted lookup. It lives for a single acquisition attempt.
type Task struct {
	Label       string
	Identifier  string
	Method      models.IdentifierMethod
	Status      TaskStatus
	Reports     Reports
	SubmittedAt time.Time
	PolledAt    time.Time
}

// ErrTaskFailed and ErrTaskTimeout classify the two terminal task failures.
var (
	ErrTaskFailed  = errors.New("remote task failed")
	ErrTaskTimeout = errors.New("remote task timed out")
)

// TaskFailedError is returned when the service reports status "error".
type TaskFailedError struct {
	Label  string
	Reason string
}

func (e *TaskFailedError) Error() string {
	if e.Reason == "" {
		return fmt.Sprintf("remote task %s failed", e.Label)
	}
	return fmt.Sprintf("remote task %s failed: %s", e.Label, e.Reason)
}

func (e *TaskFailedError) Is(target error) bool { return target == ErrTaskFailed }

// TimeoutError is returned when a task does not finish within the overall
// timeout.
type TimeoutError struct {
	Label      string
	Elapsed    time.Duration
	LastStatus TaskStatus
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("remote task %s timed out after %v (last status %q)", e.Label, e.Elapsed.Round(time.Second), e.LastStatus)
}

func (e *TimeoutError) Is(target error) bool { return target == ErrTaskTimeout }
