package models

import "time"

// EmergencyStatus is the lifecycle state of an emergency record.
// The only legal transitions are INACTIVE -> ACTIVE (trigger) and
// ACTIVE -> SAFE (resolve). SAFE is terminal.
type EmergencyStatus string

const (
	StatusActive EmergencyStatus = "ACTIVE"
	StatusSafe   EmergencyStatus = "SAFE"
)

// UserProfile 用户档案。Minimal profile surface: create/update plus the
// IsArmed flip on watchdog auto-disarm; no auth or account lifecycle.
type UserProfile struct {
	ID               string `gorm:"primaryKey;size:64"`
	Name             string `gorm:"size:128"`
	Email            string `gorm:"size:256;uniqueIndex"`
	Phone            string `gorm:"size:32"`
	EmergencyKeyword string `gorm:"size:64"` // case-insensitive trigger phrase
	IsArmed          bool
	CreatedAt        time.Time
}

// Contact 紧急联系人。Owned by a single user, no cross-user sharing.
type Contact struct {
	ID        string `gorm:"primaryKey;size:64"`
	UserID    string `gorm:"size:64;index"`
	Name      string `gorm:"size:128"`
	Phone     string `gorm:"size:32"`
	CreatedAt time.Time
}

// EmergencyRecord SOS 记录。At most one ACTIVE record per user at any
// time; the manager enforces this at the trigger boundary.
type EmergencyRecord struct {
	ID          string          `gorm:"primaryKey;size:64"`
	UserID      string          `gorm:"size:64;index"`
	Status      EmergencyStatus `gorm:"size:16;index"`
	TriggeredAt time.Time
	ResolvedAt  *time.Time
}

// Active reports whether the record is still live.
func (e *EmergencyRecord) Active() bool { return e.Status == StatusActive }

// LocationSample 位置样本。Append-only per emergency; timestamps within
// one emergency are non-decreasing, samples for a SAFE emergency are
// rejected at the store boundary.
type LocationSample struct {
	ID          uint   `gorm:"primaryKey"`
	EmergencyID string `gorm:"size:64;index"`
	Latitude    float64
	Longitude   float64
	Timestamp   time.Time `gorm:"index"`
}

// DispatchStatus is the per-attempt delivery outcome.
type DispatchStatus string

const (
	DispatchSent   DispatchStatus = "sent"
	DispatchFailed DispatchStatus = "failed"
)

// ChannelResult is one delivery attempt on one channel for one contact.
type ChannelResult struct {
	Channel string         `json:"channel"`
	Status  DispatchStatus `json:"status"`
	Error   string         `json:"error,omitempty"`
}

// DispatchResult collects the delivery outcome for a single contact
// across all channels. Produced exactly once per trigger, immutable
// afterwards, never retried.
type DispatchResult struct {
	Name     string          `json:"name"`
	Phone    string          `json:"phone"`
	Status   DispatchStatus  `json:"status"` // sent if any channel got through
	Channels []ChannelResult `json:"channels,omitempty"`
}
