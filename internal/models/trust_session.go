package models

import "time"

// TrustSession is the persisted state of the device/license trust machine.
// At most one row exists.
type TrustSession struct {
	Status          string        `json:"status"`
	IdentityKey     string        `json:"identity_key"`
	Identity        string        `json:"identity,omitempty"`
	Tier            string        `json:"tier,omitempty"`
	LastValidation  time.Time     `json:"last_validation"`
	GracePeriod     time.Duration `json:"grace_period"`
	RequiredVersion string        `json:"required_version,omitempty"`
	UpdatedAt       time.Time     `json:"updated_at"`
}

// TableName returns the table name for TrustSession.
func (TrustSession) TableName() string {
	return "trust_session"
}

// HasIdentity reports whether a cached identity is present.
func (s *TrustSession) HasIdentity() bool {
	return s != nil && s.IdentityKey != ""
}

// Validated reports whether the session ever validated successfully.
func (s *TrustSession) Validated() bool {
	return s != nil && !s.LastValidation.IsZero()
}
