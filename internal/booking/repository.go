package booking

import (
	"context"
	"errors"

	"github.com/google/uuid"
)

var (
	ErrUserNotFound        = errors.New("user not found")
	ErrAppointmentNotFound = errors.New("appointment not found")

	// ErrStoreUnavailable is returned when a repository call exceeds its
	// bounded deadline. Retryable by the caller, never retried here.
	ErrStoreUnavailable = errors.New("booking store unavailable")
)

// Repository contains all DB interactions needed by the service, slots
// excepted (those go through slot.Store).
type Repository interface {
	GetUserByID(ctx context.Context, id uuid.UUID) (*User, error)

	// PatientOwnedBy reports whether the patient profile belongs to the
	// given account. Stand-in for the external patient service.
	PatientOwnedBy(ctx context.Context, patientID, ownerID uuid.UUID) (bool, error)

	CreatePendingAppointment(ctx context.Context, appt Appointment) (*Appointment, error)
	GetAppointmentByID(ctx context.Context, id uuid.UUID) (*Appointment, error)
	GetAppointmentDetail(ctx context.Context, id uuid.UUID) (*AppointmentDetail, error)
	ListAppointmentsByParticipant(ctx context.Context, userID uuid.UUID) ([]AppointmentDetail, error)

	// ConfirmPending flips PENDING to CONFIRMED in one conditional update
	// keyed on (id, host, status). ErrAppointmentNotFound on zero rows,
	// whatever the reason.
	ConfirmPending(ctx context.Context, id, hostID uuid.UUID) (*AppointmentDetail, error)

	// UpdateStatus is a compare-and-set on the status column.
	UpdateStatus(ctx context.Context, id uuid.UUID, from, to Status, cancelReason string) (*Appointment, error)

	// MarkPaid flips payment_status to PAID unless it already is.
	MarkPaid(ctx context.Context, id uuid.UUID, method string, amount int64) (*Appointment, error)

	// InsertEvent appends an audit row to the event outbox.
	InsertEvent(ctx context.Context, ev EventLog) error
}
