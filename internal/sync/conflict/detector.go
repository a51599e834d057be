// Package conflict detects appointment collisions before they are committed
// and resolves divergences between local and remote versions after the
// transport reports them.
package conflict

import (
	"time"

	"github.com/toanmango432/stage-mangobiz-sub004/internal/models"
)

// DefaultBuffer is the minimum gap between two appointments of one staff
// member.
const DefaultBuffer = 10 * time.Minute

// Kind classifies an appointment collision.
type Kind string

const (
	KindDoubleBooking   Kind = "double-booking"
	KindBufferViolation Kind = "buffer-violation"
	KindClientConflict  Kind = "client-conflict"
)

// Candidate is one collision between a proposed appointment and an
// existing one. It is advisory; nothing is persisted. Start and End are the
// proposed interval; OtherStart and OtherEnd are the colliding one.
type Candidate struct {
	Kind          Kind      `json:"kind" yaml:"kind"`
	AppointmentID string    `json:"appointment_id" yaml:"appointment_id"`
	StaffID       string    `json:"staff_id,omitempty" yaml:"staff_id,omitempty"`
	ClientID      string    `json:"client_id,omitempty" yaml:"client_id,omitempty"`
	Start         time.Time `json:"start" yaml:"start"`
	End           time.Time `json:"end" yaml:"end"`
	OtherStart    time.Time `json:"other_start" yaml:"other_start"`
	OtherEnd      time.Time `json:"other_end" yaml:"other_end"`

	// Gap is the measured gap of a buffer violation.
	Gap time.Duration `json:"gap,omitempty" yaml:"gap,omitempty"`
}

// Detector checks proposed appointments against existing ones.
type Detector struct {
	// Buffer is the required gap between appointments of one staff member.
	// Zero means DefaultBuffer.
	Buffer time.Duration
}

// Detect reports the collisions of candidate using DefaultBuffer.
func Detect(candidate models.Appointment, others []models.Appointment) []Candidate {
	return Detector{}.Detect(candidate, others)
}

// Detect reports every collision between candidate and others. An
// appointment never collides with itself, and cancelled or no-show
// appointments no longer hold their slot.
//
// For the same staff member an overlap is a double booking, and a gap
// strictly shorter than the buffer is a buffer violation. For the same
// client across different staff an overlap is a client conflict.
func (d Detector) Detect(candidate models.Appointment, others []models.Appointment) []Candidate {
	buffer := d.Buffer
	if buffer <= 0 {
		buffer = DefaultBuffer
	}

	var out []Candidate
	for _, other := range others {
		if other.ID == candidate.ID || !other.Status.Live() {
			continue
		}

		overlaps := candidate.Overlaps(other)
		c := Candidate{
			AppointmentID: other.ID,
			StaffID:       other.StaffID,
			ClientID:      other.ClientID,
			Start:         candidate.Start,
			End:           candidate.End,
			OtherStart:    other.Start,
			OtherEnd:      other.End,
		}

		switch {
		case other.StaffID == candidate.StaffID && overlaps:
			c.Kind = KindDoubleBooking
		case other.StaffID == candidate.StaffID:
			gap := gapBetween(candidate, other)
			if gap >= buffer {
				continue
			}
			c.Kind = KindBufferViolation
			c.Gap = gap
		case candidate.ClientID != "" && other.ClientID == candidate.ClientID && overlaps:
			c.Kind = KindClientConflict
		default:
			continue
		}
		out = append(out, c)
	}
	return out
}

// gapBetween returns the free time between two non-overlapping intervals.
func gapBetween(a, b models.Appointment) time.Duration {
	if !b.Start.Before(a.End) {
		return b.Start.Sub(a.End)
	}
	return a.Start.Sub(b.End)
}
