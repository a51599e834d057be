package models

import "time"

// OperationKind is the mutation a queued operation carries.
type OperationKind string

const (
	OperationCreate OperationKind = "create"
	OperationUpdate OperationKind = "update"
	OperationDelete OperationKind = "delete"
)

// Valid reports whether k is a known operation kind.
func (k OperationKind) Valid() bool {
	return k == OperationCreate || k == OperationUpdate || k == OperationDelete
}

// OperationStatus is the queue state of an operation.
type OperationStatus string

const (
	OperationPending   OperationStatus = "pending"   // eligible for the next drain
	OperationFailed    OperationStatus = "failed"    // attempts exhausted, left for inspection
	OperationCompleted OperationStatus = "completed" // accepted remotely or discarded
)

// Queue priorities. Smaller is more urgent.
const (
	PriorityCritical = 1 // payment-critical
	PriorityMedium   = 2
	PriorityLow      = 3
)

// DefaultMaxAttempts bounds how often a failing operation is retried.
const DefaultMaxAttempts = 5

// SyncOperation is a durable intent to create, update or delete one remote
// entity.
type SyncOperation struct {
	ID          string          `json:"id"`
	Seq         int64           `json:"seq"`
	Kind        OperationKind   `json:"kind"`
	EntityType  EntityType      `json:"entity_type"`
	EntityID    string          `json:"entity_id"`
	StoreID     string          `json:"store_id"`
	Payload     Payload         `json:"payload,omitempty"`
	BaseVersion int64           `json:"base_version"`
	Priority    int             `json:"priority"`
	Attempts    int             `json:"attempts"`
	MaxAttempts int             `json:"max_attempts"`
	LastError   string          `json:"last_error,omitempty"`
	Status      OperationStatus `json:"status"`
	CreatedAt   time.Time       `json:"created_at"`
	UpdatedAt   time.Time       `json:"updated_at"`
	CompletedAt *time.Time      `json:"completed_at,omitempty"`
}

// TableName returns the table name for SyncOperation.
func (SyncOperation) TableName() string {
	return "sync_queue"
}

// Exhausted reports whether the operation used up its attempts.
func (o *SyncOperation) Exhausted() bool {
	return o.Attempts >= o.MaxAttempts
}

// Key returns the entity the operation targets.
func (o *SyncOperation) Key() EntityKey {
	return EntityKey{Type: o.EntityType, ID: o.EntityID}
}
