package booking

import (
	"time"

	"github.com/google/uuid"

	"github.com/slotwise/booking-engine/internal/slot"
)

type Status string

const (
	StatusPending   Status = "PENDING"
	StatusConfirmed Status = "CONFIRMED"
	StatusCanceled  Status = "CANCELED"
	StatusCompleted Status = "COMPLETED"
)

// Terminal reports whether no further status transition is allowed.
func (s Status) Terminal() bool {
	return s == StatusCanceled || s == StatusCompleted
}

// CanTransitionTo encodes the appointment lifecycle:
// PENDING -> CONFIRMED or CANCELED, CONFIRMED -> CANCELED or COMPLETED.
func (s Status) CanTransitionTo(to Status) bool {
	switch s {
	case StatusPending:
		return to == StatusConfirmed || to == StatusCanceled
	case StatusConfirmed:
		return to == StatusCanceled || to == StatusCompleted
	default:
		return false
	}
}

type PaymentStatus string

const (
	PaymentPending PaymentStatus = "PENDING"
	PaymentPaid    PaymentStatus = "PAID"
)

type Role string

const (
	RoleHost  Role = "host"
	RoleGuest Role = "guest"
	RoleAdmin Role = "admin"
)

// User is a single account record; hosts, guests and admins differ only by
// the role tag.
type User struct {
	ID        uuid.UUID
	Name      string
	Email     string
	Phone     *string
	Role      Role
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Appointment is a guest's reservation of one slot. GuestID is nil for
// anonymous bookings, in which case the ad hoc contact fields carry the
// guest's details. Cancellation is a status change, never a delete.
type Appointment struct {
	ID            uuid.UUID
	HostID        uuid.UUID
	GuestID       *uuid.UUID
	SlotID        uuid.UUID
	PatientID     *uuid.UUID
	Status        Status
	Reason        string
	CancelReason  string
	GuestName     string
	GuestEmail    string
	GuestPhone    string
	PaymentStatus PaymentStatus
	PaymentMethod *string
	PaymentAmount *int64
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// AppointmentDetail hydrates an appointment with its slot and the host row.
// Guest is nil for anonymous bookings.
type AppointmentDetail struct {
	Appointment
	Slot  *slot.Slot
	Host  *User
	Guest *User
}

type EventLog struct {
	ID            int64
	EventType     string
	AppointmentID *uuid.UUID
	Payload       []byte
	CreatedAt     time.Time
}
