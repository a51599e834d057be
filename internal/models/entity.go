// Package models provides the data model of the offline sync core.
package models

import (
	"encoding/json"
	"time"
)

// EntityType names a business entity kind. It doubles as the tag of the
// Payload union.
type EntityType string

const (
	EntityAppointment EntityType = "appointment"
	EntityTicket      EntityType = "ticket"
	EntityTransaction EntityType = "transaction"
)

// EntityTypes lists every entity kind backed by a local table.
func EntityTypes() []EntityType {
	return []EntityType{EntityAppointment, EntityTicket, EntityTransaction}
}

// Valid reports whether t is a known entity kind.
func (t EntityType) Valid() bool {
	switch t {
	case EntityAppointment, EntityTicket, EntityTransaction:
		return true
	}
	return false
}

// Table returns the local table holding rows of this kind.
func (t EntityType) Table() string {
	switch t {
	case EntityAppointment:
		return "appointments"
	case EntityTicket:
		return "tickets"
	case EntityTransaction:
		return "transactions"
	}
	return ""
}

// SyncStatus tags every local row with its delivery state.
type SyncStatus string

const (
	SyncStatusLocal   SyncStatus = "local"   // written locally, never queued
	SyncStatusPending SyncStatus = "pending" // queued or awaiting conflict resolution
	SyncStatusSynced  SyncStatus = "synced"  // confirmed by the remote store
)

// RetentionEligible reports whether rows in this state may ever be deleted
// by retention. Only synced rows qualify.
func (s SyncStatus) RetentionEligible() bool {
	return s == SyncStatusSynced
}

// EntityKey identifies one entity across tables.
type EntityKey struct {
	Type EntityType
	ID   string
}

func (k EntityKey) String() string {
	return string(k.Type) + "/" + k.ID
}

// Record is the persisted row shared by every entity table: primary key,
// owning store, sync status and timestamps, plus the payload as JSON.
type Record struct {
	EntityType EntityType      `json:"entity_type"`
	ID         string          `json:"id"`
	StoreID    string          `json:"store_id"`
	SyncStatus SyncStatus      `json:"sync_status"`
	Version    int64           `json:"version"`
	DeviceID   string          `json:"device_id,omitempty"`
	Deleted    bool            `json:"deleted,omitempty"` // tombstone awaiting a delivered delete
	Payload    json.RawMessage `json:"payload"`
	CreatedAt  time.Time       `json:"created_at"`
	UpdatedAt  time.Time       `json:"updated_at"`
}

// NewRecord builds the local row for a payload.
func NewRecord(p Payload, status SyncStatus, deviceID string, now time.Time) (*Record, error) {
	raw, err := EncodePayload(p)
	if err != nil {
		return nil, err
	}
	return &Record{
		EntityType: p.EntityType(),
		ID:         p.PrimaryKey(),
		StoreID:    p.OwningStore(),
		SyncStatus: status,
		DeviceID:   deviceID,
		Payload:    raw,
		CreatedAt:  now,
		UpdatedAt:  now,
	}, nil
}

// Key returns the entity key of the record.
func (r *Record) Key() EntityKey {
	return EntityKey{Type: r.EntityType, ID: r.ID}
}

// Decode returns the typed payload of the record.
func (r *Record) Decode() (Payload, error) {
	return DecodePayload(r.EntityType, r.Payload)
}
