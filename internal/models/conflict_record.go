package models

import (
	"encoding/json"
	"time"
)

// RemoteVersion is the authoritative copy of an entity as reported by the
// transport when it refuses an overwrite.
type RemoteVersion struct {
	Version    int64           `json:"version"`
	Payload    json.RawMessage `json:"payload"`
	ModifiedAt time.Time       `json:"modified_at"`
	DeviceID   string          `json:"device_id,omitempty"`
	UserID     string          `json:"user_id,omitempty"`
}

// ConflictStatus is the lifecycle of a conflict record.
type ConflictStatus string

const (
	ConflictOpen      ConflictStatus = "open"
	ConflictResolved  ConflictStatus = "resolved"
	ConflictDismissed ConflictStatus = "dismissed"
)

// ResolutionKind is the outcome chosen for a conflict.
type ResolutionKind string

const (
	ResolutionKeepLocal  ResolutionKind = "keep-local"
	ResolutionKeepRemote ResolutionKind = "keep-remote"
	ResolutionMerged     ResolutionKind = "merged"
)

// ConflictRecord is a divergence between the version a local mutation
// assumed and the remote version, held until a human resolves it.
type ConflictRecord struct {
	ID               string          `json:"id"`
	OperationID      string          `json:"operation_id"`
	EntityType       EntityType      `json:"entity_type"`
	EntityID         string          `json:"entity_id"`
	StoreID          string          `json:"store_id"`
	LocalPayload     json.RawMessage `json:"local_payload"`
	RemotePayload    json.RawMessage `json:"remote_payload"`
	LocalModifiedAt  time.Time       `json:"local_modified_at"`
	RemoteModifiedAt time.Time       `json:"remote_modified_at"`
	LocalDeviceID    string          `json:"local_device_id,omitempty"`
	RemoteDeviceID   string          `json:"remote_device_id,omitempty"`
	LocalUserID      string          `json:"local_user_id,omitempty"`
	RemoteUserID     string          `json:"remote_user_id,omitempty"`
	BaseVersion      int64           `json:"base_version"`
	RemoteVersion    int64           `json:"remote_version"`
	Status           ConflictStatus  `json:"status"`
	Resolution       ResolutionKind  `json:"resolution,omitempty"`
	DetectedAt       time.Time       `json:"detected_at"`
	ResolvedAt       *time.Time      `json:"resolved_at,omitempty"`
}

// TableName returns the table name for ConflictRecord.
func (ConflictRecord) TableName() string {
	return "conflict_records"
}

// Key returns the entity the conflict concerns.
func (c *ConflictRecord) Key() EntityKey {
	return EntityKey{Type: c.EntityType, ID: c.EntityID}
}

// Open reports whether the conflict still awaits a decision.
func (c *ConflictRecord) Open() bool {
	return c.Status == ConflictOpen
}
