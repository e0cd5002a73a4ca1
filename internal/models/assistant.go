package models

import (
	"encoding/json"
	"math"
	"time"
)

// AssistantSession is the per-account conversational state kept in the
// state repository between assistant calls.
type AssistantSession struct {
	AccountID  int64          `json:"account_id"`
	LastIntent string         `json:"last_intent,omitempty"`
	Pending    *PendingAction `json:"pending,omitempty"`
	UpdatedAt  time.Time      `json:"updated_at"`
}

// PendingAction is a mutating tool call waiting for explicit user confirmation.
type PendingAction struct {
	Token     string    `json:"token"`
	Tool      string    `json:"tool"`
	Args      ToolArgs  `json:"args"`
	Summary   string    `json:"summary"`
	CreatedAt time.Time `json:"created_at"`
}

type AuditLog struct {
	ID             int64           `json:"id"`
	AccountID      int64           `json:"account_id"`
	AgentType      string          `json:"agent_type"`
	InputText      string          `json:"input_text"`
	DetectedIntent string          `json:"detected_intent,omitempty"`
	ActionsTaken   json.RawMessage `json:"actions_taken,omitempty"`
	Metadata       json.RawMessage `json:"metadata,omitempty"`
	CreatedAt      time.Time       `json:"created_at"`
}

// ToolArgs holds loosely typed tool arguments. Values may arrive from JSON,
// so numbers are float64 and times are strings.
type ToolArgs map[string]interface{}

// Int64 reports false for anything but an integral number, so 2.9 is
// rejected rather than read as 2.
func (a ToolArgs) Int64(key string) (int64, bool) {
	if a == nil {
		return 0, false
	}
	switch v := a[key].(type) {
	case int64:
		return v, true
	case int:
		return int64(v), true
	case float64:
		if v != math.Trunc(v) || v < -(1<<63) || v >= 1<<63 {
			return 0, false
		}
		return int64(v), true
	case json.Number:
		n, err := v.Int64()
		return n, err == nil
	default:
		return 0, false
	}
}

// GetInt64 is Int64 with zero for missing or non-integral values.
func (a ToolArgs) GetInt64(key string) int64 {
	n, _ := a.Int64(key)
	return n
}

func (a ToolArgs) GetInt(key string) int {
	return int(a.GetInt64(key))
}

func (a ToolArgs) GetString(key string) string {
	if a == nil {
		return ""
	}
	if str, ok := a[key].(string); ok {
		return str
	}
	return ""
}

func (a ToolArgs) GetTime(key string) time.Time {
	if a == nil {
		return time.Time{}
	}
	switch v := a[key].(type) {
	case time.Time:
		return v
	case string:
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			return time.Time{}
		}
		return t
	default:
		return time.Time{}
	}
}

func (a ToolArgs) Has(key string) bool {
	if a == nil {
		return false
	}
	_, ok := a[key]
	return ok
}

func (a ToolArgs) GetBool(key string) bool {
	if a == nil {
		return false
	}
	switch v := a[key].(type) {
	case bool:
		return v
	case string:
		return v == "true" || v == "1" || v == "yes"
	default:
		return false
	}
}
