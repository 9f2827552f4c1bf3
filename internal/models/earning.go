package models

import "time"

type EarningType string

const (
	EarningTypeTaskReward EarningType = "task_reward"
	EarningTypeBonus      EarningType = "bonus"
	EarningTypeAdjustment EarningType = "adjustment"
)

func (t EarningType) Valid() bool {
	switch t {
	case EarningTypeTaskReward, EarningTypeBonus, EarningTypeAdjustment:
		return true
	}
	return false
}

// Earning is one credit event, optionally tied to a task. Tasks and
// earnings may sync out of order, so TaskID is not required to resolve
// locally at write time.
type Earning struct {
	ID        string      `json:"id" db:"id"`
	Type      EarningType `json:"type" db:"type"`
	Amount    float64     `json:"amount" db:"amount"`
	TaskID    string      `json:"task_id,omitempty" db:"task_id"`
	DeviceID  string      `json:"device_id" db:"device_id"`
	CreatedAt time.Time   `json:"created_at" db:"created_at"`
	UpdatedAt time.Time   `json:"updated_at" db:"updated_at"`
}

// ContentEquals compares the stable fields of two earnings.
func (e *Earning) ContentEquals(other *Earning) bool {
	if e == nil || other == nil {
		return e == other
	}
	return e.ID == other.ID &&
		e.Type == other.Type &&
		e.Amount == other.Amount &&
		e.TaskID == other.TaskID &&
		e.DeviceID == other.DeviceID
}

// Clone returns a copy of the earning.
func (e *Earning) Clone() *Earning {
	if e == nil {
		return nil
	}
	out := *e
	return &out
}
