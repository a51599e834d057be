package models

import (
	"encoding/json"
	"fmt"
	"time"

	apperrors "github.com/toanmango432/stage-mangobiz-sub004/internal/errors"
)

// Payload is the tagged union of entity shapes carried by local rows and
// queued operations. EntityType is the tag; each variant validates its own
// structure so the queue never trusts caller discipline.
type Payload interface {
	EntityType() EntityType
	PrimaryKey() string
	OwningStore() string
	Validate() error
}

// EncodePayload serializes a payload variant.
func EncodePayload(p Payload) (json.RawMessage, error) {
	if p == nil {
		return nil, nil
	}
	data, err := json.Marshal(p)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.ErrInvalidPayload, "encode payload", err)
	}
	return data, nil
}

// KeyOf returns the entity key of p.
func KeyOf(p Payload) EntityKey {
	return EntityKey{Type: p.EntityType(), ID: p.PrimaryKey()}
}

// DecodePayload parses raw into the variant selected by t. An empty raw
// value decodes to a nil payload (delete operations carry none).
func DecodePayload(t EntityType, raw json.RawMessage) (Payload, error) {
	if len(raw) == 0 || string(raw) == "null" {
		return nil, nil
	}

	var (
		p   Payload
		err error
	)
	switch t {
	case EntityAppointment:
		var a Appointment
		err = json.Unmarshal(raw, &a)
		p = a
	case EntityTicket:
		var tk Ticket
		err = json.Unmarshal(raw, &tk)
		p = tk
	case EntityTransaction:
		var tx Transaction
		err = json.Unmarshal(raw, &tx)
		p = tx
	default:
		return nil, apperrors.New(apperrors.ErrUnknownEntityType, fmt.Sprintf("unknown entity type %q", t))
	}
	if err != nil {
		return nil, apperrors.Wrap(apperrors.ErrInvalidPayload, fmt.Sprintf("decode %s payload", t), err)
	}
	return p, nil
}

// AppointmentStatus is the lifecycle of a booking.
type AppointmentStatus string

const (
	AppointmentScheduled AppointmentStatus = "scheduled"
	AppointmentCheckedIn AppointmentStatus = "checked_in"
	AppointmentInService AppointmentStatus = "in_service"
	AppointmentCompleted AppointmentStatus = "completed"
	AppointmentCancelled AppointmentStatus = "cancelled"
	AppointmentNoShow    AppointmentStatus = "no_show"
)

// Live reports whether the appointment still occupies its staff slot.
func (s AppointmentStatus) Live() bool {
	return s != AppointmentCancelled && s != AppointmentNoShow
}

func (s AppointmentStatus) valid() bool {
	switch s {
	case AppointmentScheduled, AppointmentCheckedIn, AppointmentInService,
		AppointmentCompleted, AppointmentCancelled, AppointmentNoShow:
		return true
	}
	return false
}

// Appointment is a booked interval [Start, End) for one staff member.
type Appointment struct {
	ID         string            `json:"id"`
	StoreID    string            `json:"store_id"`
	StaffID    string            `json:"staff_id"`
	ClientID   string            `json:"client_id,omitempty"`
	ClientName string            `json:"client_name,omitempty"`
	ServiceIDs []string          `json:"service_ids,omitempty"`
	Start      time.Time         `json:"start"`
	End        time.Time         `json:"end"`
	Status     AppointmentStatus `json:"status"`
	Notes      string            `json:"notes,omitempty"`
}

func (Appointment) EntityType() EntityType { return EntityAppointment }
func (a Appointment) PrimaryKey() string { return a.ID }
func (a Appointment) OwningStore() string { return a.StoreID }

// Validate checks the structural rules of an appointment.
func (a Appointment) Validate() error {
	v := validator{entity: EntityAppointment}
	v.check(a.ID != "", "id", "required")
	v.check(a.StoreID != "", "store_id", "required")
	v.check(a.StaffID != "", "staff_id", "required")
	v.check(!a.Start.IsZero(), "start", "required")
	v.check(a.End.After(a.Start), "end", "must be after start")
	v.check(a.Status.valid(), "status", fmt.Sprintf("unknown status %q", a.Status))
	return v.err()
}

// Overlaps reports whether the half-open intervals of a and b intersect.
func (a Appointment) Overlaps(b Appointment) bool {
	return a.Start.Before(b.End) && b.Start.Before(a.End)
}

// TicketStatus is the lifecycle of a service ticket.
type TicketStatus string

const (
	TicketOpen      TicketStatus = "open"
	TicketInService TicketStatus = "in_service"
	TicketCompleted TicketStatus = "completed"
	TicketPaid      TicketStatus = "paid"
	TicketVoided    TicketStatus = "voided"
)

func (s TicketStatus) valid() bool {
	switch s {
	case TicketOpen, TicketInService, TicketCompleted, TicketPaid, TicketVoided:
		return true
	}
	return false
}

// TicketItem is one service line on a ticket.
type TicketItem struct {
	ServiceID  string `json:"service_id"`
	Name       string `json:"name"`
	StaffID    string `json:"staff_id,omitempty"`
	PriceCents int64  `json:"price_cents"`
}

// Ticket is an in-store service ticket.
type Ticket struct {
	ID            string       `json:"id"`
	StoreID       string       `json:"store_id"`
	Number        int          `json:"number"`
	ClientID      string       `json:"client_id,omitempty"`
	AppointmentID string       `json:"appointment_id,omitempty"`
	Status        TicketStatus `json:"status"`
	Items         []TicketItem `json:"items,omitempty"`
	Notes         string       `json:"notes,omitempty"`
	OpenedAt      time.Time    `json:"opened_at"`
	ClosedAt      *time.Time   `json:"closed_at,omitempty"`
}

func (Ticket) EntityType() EntityType { return EntityTicket }
func (t Ticket) PrimaryKey() string { return t.ID }
func (t Ticket) OwningStore() string { return t.StoreID }

// Validate checks the structural rules of a ticket.
func (t Ticket) Validate() error {
	v := validator{entity: EntityTicket}
	v.check(t.ID != "", "id", "required")
	v.check(t.StoreID != "", "store_id", "required")
	v.check(t.Number > 0, "number", "must be positive")
	v.check(t.Status.valid(), "status", fmt.Sprintf("unknown status %q", t.Status))
	for i, item := range t.Items {
		v.check(item.ServiceID != "", fmt.Sprintf("items[%d].service_id", i), "required")
		v.check(item.PriceCents >= 0, fmt.Sprintf("items[%d].price_cents", i), "must not be negative")
	}
	if t.ClosedAt != nil {
		v.check(!t.ClosedAt.Before(t.OpenedAt), "closed_at", "must not precede opened_at")
	}
	return v.err()
}

// TotalCents sums the ticket lines.
func (t Ticket) TotalCents() int64 {
	var total int64
	for _, item := range t.Items {
		total += item.PriceCents
	}
	return total
}

// PaymentMethod is how a transaction was tendered.
type PaymentMethod string

const (
	PaymentCash     PaymentMethod = "cash"
	PaymentCard     PaymentMethod = "card"
	PaymentGiftCard PaymentMethod = "gift_card"
)

// TransactionStatus is the lifecycle of a payment.
type TransactionStatus string

const (
	TransactionPending  TransactionStatus = "pending"
	TransactionCaptured TransactionStatus = "captured"
	TransactionRefunded TransactionStatus = "refunded"
	TransactionVoided   TransactionStatus = "voided"
)

// Transaction is a payment recorded against a ticket.
type Transaction struct {
	ID          string            `json:"id"`
	StoreID     string            `json:"store_id"`
	TicketID    string            `json:"ticket_id"`
	AmountCents int64             `json:"amount_cents"`
	TipCents    int64             `json:"tip_cents"`
	Method      PaymentMethod     `json:"method"`
	Status      TransactionStatus `json:"status"`
	Reference   string            `json:"reference,omitempty"`
	ProcessedAt time.Time         `json:"processed_at"`
}

func (Transaction) EntityType() EntityType { return EntityTransaction }
func (t Transaction) PrimaryKey() string { return t.ID }
func (t Transaction) OwningStore() string { return t.StoreID }

// Validate checks the structural rules of a transaction.
func (t Transaction) Validate() error {
	v := validator{entity: EntityTransaction}
	v.check(t.ID != "", "id", "required")
	v.check(t.StoreID != "", "store_id", "required")
	v.check(t.TicketID != "", "ticket_id", "required")
	v.check(t.AmountCents >= 0, "amount_cents", "must not be negative")
	v.check(t.TipCents >= 0, "tip_cents", "must not be negative")
	switch t.Method {
	case PaymentCash, PaymentCard, PaymentGiftCard:
	default:
		v.check(false, "method", fmt.Sprintf("unknown method %q", t.Method))
	}
	switch t.Status {
	case TransactionPending, TransactionCaptured, TransactionRefunded, TransactionVoided:
	default:
		v.check(false, "status", fmt.Sprintf("unknown status %q", t.Status))
	}
	v.check(!t.ProcessedAt.IsZero(), "processed_at", "required")
	return v.err()
}
