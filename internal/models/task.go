package models

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"reflect"
	"time"
)

type TaskStatus string
type TaskSource string

const (
	TaskStatusPending   TaskStatus = "pending"
	TaskStatusRunning   TaskStatus = "running"
	TaskStatusCompleted TaskStatus = "completed"
	TaskStatusFailed    TaskStatus = "failed"
	TaskStatusCancelled TaskStatus = "cancelled"
)

const (
	TaskSourceLocal   TaskSource = "local"
	TaskSourceGateway TaskSource = "gateway"
)

// Valid reports whether the status is a known lifecycle state.
func (s TaskStatus) Valid() bool {
	switch s {
	case TaskStatusPending, TaskStatusRunning, TaskStatusCompleted, TaskStatusFailed, TaskStatusCancelled:
		return true
	}
	return false
}

// Rank orders statuses along the task lifecycle. Higher ranks never revert
// to lower ones outside of explicit conflict resolution.
func (s TaskStatus) Rank() int {
	switch s {
	case TaskStatusPending:
		return 0
	case TaskStatusRunning:
		return 1
	case TaskStatusCancelled:
		return 2
	case TaskStatusFailed:
		return 3
	case TaskStatusCompleted:
		return 4
	}
	return -1
}

// Terminal reports whether the status ends the task lifecycle.
func (s TaskStatus) Terminal() bool {
	switch s {
	case TaskStatusCompleted, TaskStatusFailed, TaskStatusCancelled:
		return true
	}
	return false
}

func (s TaskSource) Valid() bool {
	switch s {
	case TaskSourceLocal, TaskSourceGateway:
		return true
	}
	return false
}

// Metadata holds free-form task attributes (token counts, model parameters)
// and round-trips through Postgres as JSONB.
type Metadata map[string]interface{}

func (m Metadata) Value() (driver.Value, error) {
	if m == nil {
		return nil, nil
	}
	return json.Marshal(m)
}

func (m *Metadata) Scan(src interface{}) error {
	if src == nil {
		*m = nil
		return nil
	}
	var raw []byte
	switch v := src.(type) {
	case []byte:
		raw = v
	case string:
		raw = []byte(v)
	default:
		return fmt.Errorf("metadata: unsupported scan type %T", src)
	}
	return json.Unmarshal(raw, m)
}

// Task is one unit of inference work executed on the device. The ID is
// assigned at creation and never changes.
type Task struct {
	ID         string     `json:"id" db:"id"`
	Status     TaskStatus `json:"status" db:"status"`
	ModelID    string     `json:"model_id" db:"model_id"`
	Source     TaskSource `json:"source" db:"source"`
	DeviceID   string     `json:"device_id" db:"device_id"`
	CreatedAt  time.Time  `json:"created_at" db:"created_at"`
	UpdatedAt  time.Time  `json:"updated_at" db:"updated_at"`
	DurationMS int64      `json:"duration_ms,omitempty" db:"duration_ms"`
	Metadata   Metadata   `json:"metadata,omitempty" db:"metadata"`
}

// ContentEquals compares the stable fields of two tasks, ignoring the
// volatile timestamps. Two copies that agree here need no reconciliation.
func (t *Task) ContentEquals(other *Task) bool {
	if t == nil || other == nil {
		return t == other
	}
	return t.ID == other.ID &&
		t.Status == other.Status &&
		t.ModelID == other.ModelID &&
		t.DeviceID == other.DeviceID &&
		t.DurationMS == other.DurationMS &&
		reflect.DeepEqual(t.Metadata, other.Metadata)
}

// Clone returns a deep copy of the task.
func (t *Task) Clone() *Task {
	if t == nil {
		return nil
	}
	out := *t
	if t.Metadata != nil {
		out.Metadata = make(Metadata, len(t.Metadata))
		for k, v := range t.Metadata {
			out.Metadata[k] = v
		}
	}
	return &out
}
