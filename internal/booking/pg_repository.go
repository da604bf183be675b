package booking

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/slotwise/booking-engine/internal/slot"
)

type PgRepository struct {
	pool      *pgxpool.Pool
	opTimeout time.Duration
}

func NewPgRepository(pool *pgxpool.Pool, opTimeout time.Duration) *PgRepository {
	if opTimeout <= 0 {
		opTimeout = 3 * time.Second
	}
	return &PgRepository{pool: pool, opTimeout: opTimeout}
}

func (r *PgRepository) withDeadline(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, r.opTimeout)
}

func mapInfraErr(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	var connErr *pgconn.ConnectError
	if errors.As(err, &connErr) {
		return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	return err
}

// Helpers

func scanUser(row pgx.Row) (*User, error) {
	var u User

	err := row.Scan(
		&u.ID,
		&u.Name,
		&u.Email,
		&u.Phone,
		&u.Role,
		&u.CreatedAt,
		&u.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrUserNotFound
		}
		return nil, err
	}

	return &u, nil
}

func scanAppointment(row pgx.Row) (*Appointment, error) {
	var a Appointment
	var reason, cancelReason, guestName, guestEmail, guestPhone *string

	err := row.Scan(
		&a.ID,
		&a.HostID,
		&a.GuestID,
		&a.SlotID,
		&a.PatientID,
		&a.Status,
		&reason,
		&cancelReason,
		&guestName,
		&guestEmail,
		&guestPhone,
		&a.PaymentStatus,
		&a.PaymentMethod,
		&a.PaymentAmount,
		&a.CreatedAt,
		&a.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrAppointmentNotFound
		}
		return nil, err
	}

	a.Reason = deref(reason)
	a.CancelReason = deref(cancelReason)
	a.GuestName = deref(guestName)
	a.GuestEmail = deref(guestEmail)
	a.GuestPhone = deref(guestPhone)
	return &a, nil
}

func scanDetail(row pgx.Row) (*AppointmentDetail, error) {
	var d AppointmentDetail
	var reason, cancelReason, guestName, guestEmail, guestPhone *string
	var sl slot.Slot
	var host User
	var guestID *uuid.UUID
	var guestUserName, guestUserEmail *string

	err := row.Scan(
		&d.ID,
		&d.HostID,
		&d.GuestID,
		&d.SlotID,
		&d.PatientID,
		&d.Status,
		&reason,
		&cancelReason,
		&guestName,
		&guestEmail,
		&guestPhone,
		&d.PaymentStatus,
		&d.PaymentMethod,
		&d.PaymentAmount,
		&d.CreatedAt,
		&d.UpdatedAt,
		&sl.ID,
		&sl.HostID,
		&sl.StartTime,
		&sl.EndTime,
		&sl.IsAvailable,
		&host.ID,
		&host.Name,
		&host.Email,
		&host.Phone,
		&guestID,
		&guestUserName,
		&guestUserEmail,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrAppointmentNotFound
		}
		return nil, err
	}

	d.Reason = deref(reason)
	d.CancelReason = deref(cancelReason)
	d.GuestName = deref(guestName)
	d.GuestEmail = deref(guestEmail)
	d.GuestPhone = deref(guestPhone)

	host.Role = RoleHost
	d.Slot = &sl
	d.Host = &host

	if guestID != nil {
		d.Guest = &User{
			ID:    *guestID,
			Name:  deref(guestUserName),
			Email: deref(guestUserEmail),
			Role:  RoleGuest,
		}
	}

	return &d, nil
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

const apptCols = `a.id, a.host_id, a.guest_id, a.slot_id, a.patient_id, a.status,
		       a.reason, a.cancel_reason, a.guest_name, a.guest_email, a.guest_phone,
		       a.payment_status, a.payment_method, a.payment_amount, a.created_at, a.updated_at`

const detailJoins = `
		JOIN slots s ON s.id = a.slot_id
		JOIN users h ON h.id = a.host_id
		LEFT JOIN users g ON g.id = a.guest_id`

const detailCols = apptCols + `,
		       s.id, s.host_id, s.start_time, s.end_time, s.is_available,
		       h.id, h.name, h.email, h.phone,
		       g.id, g.name, g.email`

// Interface methods

func (r *PgRepository) GetUserByID(ctx context.Context, id uuid.UUID) (*User, error) {
	opCtx, cancel := r.withDeadline(ctx)
	defer cancel()

	row := r.pool.QueryRow(opCtx, `
		SELECT id, name, email, phone, role, created_at, updated_at
		FROM users
		WHERE id = $1
	`, id)

	u, err := scanUser(row)
	if err != nil {
		return nil, mapInfraErr(err)
	}
	return u, nil
}

func (r *PgRepository) PatientOwnedBy(ctx context.Context, patientID, ownerID uuid.UUID) (bool, error) {
	opCtx, cancel := r.withDeadline(ctx)
	defer cancel()

	var owned bool
	err := r.pool.QueryRow(opCtx, `
		SELECT EXISTS (
			SELECT 1 FROM patients
			WHERE id = $1 AND owner_id = $2
		)
	`, patientID, ownerID).Scan(&owned)
	if err != nil {
		return false, mapInfraErr(fmt.Errorf("check patient ownership: %w", err))
	}

	return owned, nil
}

func (r *PgRepository) CreatePendingAppointment(ctx context.Context, appt Appointment) (*Appointment, error) {
	opCtx, cancel := r.withDeadline(ctx)
	defer cancel()

	id := appt.ID
	if id == uuid.Nil {
		id = uuid.New()
	}

	row := r.pool.QueryRow(opCtx, `
		INSERT INTO appointments
			(id, host_id, guest_id, slot_id, patient_id, status,
			 reason, guest_name, guest_email, guest_phone, payment_status,
			 created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, 'PENDING',
		        NULLIF($6, ''), NULLIF($7, ''), NULLIF($8, ''), NULLIF($9, ''), 'PENDING',
		        now(), now())
		RETURNING id, host_id, guest_id, slot_id, patient_id, status,
		          reason, cancel_reason, guest_name, guest_email, guest_phone,
		          payment_status, payment_method, payment_amount, created_at, updated_at
	`, id, appt.HostID, appt.GuestID, appt.SlotID, appt.PatientID,
		appt.Reason, appt.GuestName, appt.GuestEmail, appt.GuestPhone)

	created, err := scanAppointment(row)
	if err != nil {
		return nil, mapInfraErr(fmt.Errorf("create pending appointment: %w", err))
	}
	return created, nil
}

func (r *PgRepository) GetAppointmentByID(ctx context.Context, id uuid.UUID) (*Appointment, error) {
	opCtx, cancel := r.withDeadline(ctx)
	defer cancel()

	row := r.pool.QueryRow(opCtx, `
		SELECT `+apptCols+`
		FROM appointments a
		WHERE a.id = $1
	`, id)

	a, err := scanAppointment(row)
	if err != nil {
		return nil, mapInfraErr(err)
	}
	return a, nil
}

func (r *PgRepository) GetAppointmentDetail(ctx context.Context, id uuid.UUID) (*AppointmentDetail, error) {
	opCtx, cancel := r.withDeadline(ctx)
	defer cancel()

	row := r.pool.QueryRow(opCtx, `
		SELECT `+detailCols+`
		FROM appointments a`+detailJoins+`
		WHERE a.id = $1
	`, id)

	d, err := scanDetail(row)
	if err != nil {
		return nil, mapInfraErr(err)
	}
	return d, nil
}

func (r *PgRepository) ListAppointmentsByParticipant(ctx context.Context, userID uuid.UUID) ([]AppointmentDetail, error) {
	opCtx, cancel := r.withDeadline(ctx)
	defer cancel()

	rows, err := r.pool.Query(opCtx, `
		SELECT `+detailCols+`
		FROM appointments a`+detailJoins+`
		WHERE a.host_id = $1 OR a.guest_id = $1
		ORDER BY a.created_at DESC
	`, userID)
	if err != nil {
		return nil, mapInfraErr(fmt.Errorf("list appointments for %s: %w", userID, err))
	}
	defer rows.Close()

	var result []AppointmentDetail
	for rows.Next() {
		d, err := scanDetail(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, *d)
	}

	if err := rows.Err(); err != nil {
		return nil, mapInfraErr(err)
	}

	return result, nil
}

func (r *PgRepository) ConfirmPending(ctx context.Context, id, hostID uuid.UUID) (*AppointmentDetail, error) {
	opCtx, cancel := r.withDeadline(ctx)
	defer cancel()

	row := r.pool.QueryRow(opCtx, `
		WITH a AS (
			UPDATE appointments
			SET status = 'CONFIRMED',
			    updated_at = now()
			WHERE id = $1
			  AND host_id = $2
			  AND status = 'PENDING'
			RETURNING *
		)
		SELECT `+detailCols+`
		FROM a`+detailJoins+`
	`, id, hostID)

	d, err := scanDetail(row)
	if err != nil {
		return nil, mapInfraErr(err)
	}
	return d, nil
}

func (r *PgRepository) UpdateStatus(ctx context.Context, id uuid.UUID, from, to Status, cancelReason string) (*Appointment, error) {
	opCtx, cancel := r.withDeadline(ctx)
	defer cancel()

	row := r.pool.QueryRow(opCtx, `
		UPDATE appointments
		SET status = $2,
		    cancel_reason = COALESCE(NULLIF($4, ''), cancel_reason),
		    updated_at = now()
		WHERE id = $1
		  AND status = $3
		RETURNING id, host_id, guest_id, slot_id, patient_id, status,
		          reason, cancel_reason, guest_name, guest_email, guest_phone,
		          payment_status, payment_method, payment_amount, created_at, updated_at
	`, id, to, from, cancelReason)

	a, err := scanAppointment(row)
	if err != nil {
		return nil, mapInfraErr(err)
	}
	return a, nil
}

func (r *PgRepository) MarkPaid(ctx context.Context, id uuid.UUID, method string, amount int64) (*Appointment, error) {
	opCtx, cancel := r.withDeadline(ctx)
	defer cancel()

	row := r.pool.QueryRow(opCtx, `
		UPDATE appointments
		SET payment_status = 'PAID',
		    payment_method = $2,
		    payment_amount = $3,
		    updated_at = now()
		WHERE id = $1
		  AND payment_status <> 'PAID'
		RETURNING id, host_id, guest_id, slot_id, patient_id, status,
		          reason, cancel_reason, guest_name, guest_email, guest_phone,
		          payment_status, payment_method, payment_amount, created_at, updated_at
	`, id, method, amount)

	a, err := scanAppointment(row)
	if err != nil {
		return nil, mapInfraErr(err)
	}
	return a, nil
}

func (r *PgRepository) InsertEvent(ctx context.Context, ev EventLog) error {
	opCtx, cancel := r.withDeadline(ctx)
	defer cancel()

	_, err := r.pool.Exec(opCtx, `
		INSERT INTO event_logs (event_type, appointment_id, payload, created_at)
		VALUES ($1, $2, $3, COALESCE($4, now()))
	`, ev.EventType, ev.AppointmentID, ev.Payload, nullableTime(ev.CreatedAt))
	if err != nil {
		return mapInfraErr(fmt.Errorf("insert event log: %w", err))
	}

	return nil
}

func nullableTime(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}
