// Package trust tracks whether this device may operate: license or login
// validation against a remote authority, with an offline grace period.
package trust

import (
	"context"
	"time"
)

// State is the trust state of the device.
type State string

const (
	StateNotActivated    State = "not_activated"
	StateNotLoggedIn     State = "not_logged_in"
	StateChecking        State = "checking"
	StateActive          State = "active"
	StateOfflineGrace    State = "offline_grace"
	StateOfflineExpired  State = "offline_expired"
	StateSuspended       State = "suspended"
	StateInactive        State = "inactive"
	StateDeactivated     State = "deactivated"
	StateVersionMismatch State = "version_mismatch"
)

// Operational reports whether the device may operate in s.
func (s State) Operational() bool {
	return s == StateActive || s == StateOfflineGrace
}

// Blocked reports whether operation is refused in s. Checking is neither
// operational nor blocked.
func (s State) Blocked() bool {
	switch s {
	case StateNotActivated, StateNotLoggedIn, StateDeactivated, StateOfflineExpired,
		StateVersionMismatch, StateSuspended, StateInactive:
		return true
	}
	return false
}

// heldByVerdict reports whether s was set by the authority and only a new
// answer from it can lift it.
func (s State) heldByVerdict() bool {
	return s == StateSuspended || s == StateInactive || s == StateVersionMismatch
}

// Status is the verdict of the remote authority.
type Status string

const (
	StatusValid           Status = "valid"
	StatusDeactivated     Status = "deactivated"
	StatusRevoked         Status = "revoked"
	StatusVersionMismatch Status = "version_mismatch"
	StatusSuspended       Status = "suspended"
	StatusInactive        Status = "inactive"
)

// Request identifies the device to the authority.
type Request struct {
	IdentityKey string `json:"identity_key"`
	AppVersion  string `json:"app_version"`
}

// Response is the authority's answer.
type Response struct {
	Status          Status `json:"status"`
	Tier            string `json:"tier,omitempty"`
	RequiredVersion string `json:"required_version,omitempty"`
	Identity        string `json:"identity,omitempty"`
}

// Validator asks the remote authority about an identity. Any returned
// error is treated as the authority being unreachable.
type Validator interface {
	Validate(ctx context.Context, req Request) (Response, error)
}

// ValidatorFunc adapts a function to Validator.
type ValidatorFunc func(ctx context.Context, req Request) (Response, error)

// Validate calls f.
func (f ValidatorFunc) Validate(ctx context.Context, req Request) (Response, error) {
	return f(ctx, req)
}

// Transition is one state change.
type Transition struct {
	From State
	To   State
	At   time.Time
}

// Snapshot describes the current trust state.
type Snapshot struct {
	State           State      `json:"state" yaml:"state"`
	Operational     bool       `json:"operational" yaml:"operational"`
	Blocked         bool       `json:"blocked" yaml:"blocked"`
	DaysRemaining   int        `json:"days_remaining,omitempty" yaml:"days_remaining,omitempty"`
	Identity        string     `json:"identity,omitempty" yaml:"identity,omitempty"`
	Tier            string     `json:"tier,omitempty" yaml:"tier,omitempty"`
	RequiredVersion string     `json:"required_version,omitempty" yaml:"required_version,omitempty"`
	LastValidation  *time.Time `json:"last_validation,omitempty" yaml:"last_validation,omitempty"`
}
