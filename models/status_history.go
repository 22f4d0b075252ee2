package models

import (
	"encoding/json"
	"time"

	"gorm.io/datatypes"
)

// StatusChange is one entry in an append-only status audit trail.
type StatusChange struct {
	Status    string    `json:"status"`
	Reason    string    `json:"reason"`
	ChangedAt time.Time `json:"changed_at"`
	ChangedBy *uint     `json:"changed_by,omitempty"`
}

// AppendStatusChange returns the history column with one more entry.
// Existing entries are never rewritten.
func AppendStatusChange(history datatypes.JSON, change StatusChange) datatypes.JSON {
	entries := ParseStatusHistory(history)
	if change.ChangedAt.IsZero() {
		change.ChangedAt = time.Now()
	}
	entries = append(entries, change)
	raw, err := json.Marshal(entries)
	if err != nil {
		return history
	}
	return datatypes.JSON(raw)
}

func ParseStatusHistory(history datatypes.JSON) []StatusChange {
	var entries []StatusChange
	if len(history) > 0 {
		_ = json.Unmarshal(history, &entries)
	}
	return entries
}
