package booking

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"

	"github.com/slotwise/booking-engine/internal/availability"
	redisclient "github.com/slotwise/booking-engine/internal/redis"
	"github.com/slotwise/booking-engine/internal/slot"
)

var (
	ErrMissingSlot    = errors.New("slot id is required")
	ErrMissingHost    = errors.New("host id is required")
	ErrSelfBooking    = errors.New("guest and host cannot be the same user")
	ErrInvalidPatient = errors.New("patient does not belong to the requesting guest")

	// ErrSlotConflict is the terminal business outcome of losing the claim
	// race: the slot is gone, pick another one.
	ErrSlotConflict = errors.New("slot has already been booked")

	// ErrBookingFailed wraps an appointment-insert failure after a
	// successful claim; the claim itself has been rolled back.
	ErrBookingFailed = errors.New("could not create appointment")

	ErrNotOwner = errors.New("not allowed to act on this appointment")

	// ErrNotConfirmable deliberately collapses not-found, wrong-host and
	// wrong-status so unauthorized callers learn nothing about existence.
	ErrNotConfirmable = errors.New("appointment cannot be confirmed")

	ErrAlreadyCanceled  = errors.New("appointment is already canceled")
	ErrAlreadyCompleted = errors.New("cannot cancel a completed appointment")
	ErrAlreadyPaid      = errors.New("appointment is already paid")
)

type Service struct {
	repo    Repository
	slots   slot.Store
	rules   availability.RuleStore
	emitter redisclient.Emitter
	now     func() time.Time
}

func NewService(repo Repository, slots slot.Store, rules availability.RuleStore, emitter redisclient.Emitter) *Service {
	return &Service{
		repo:    repo,
		slots:   slots,
		rules:   rules,
		emitter: emitter,
		now:     time.Now,
	}
}

// GenerateSlots expands one of the host's rules over [fromDate, toDate] and
// bulk-persists the result. Returns how many slots were actually inserted;
// previously generated (host, start_time) pairs are skipped by the store.
func (s *Service) GenerateSlots(ctx context.Context, requestingHostID, ruleID uuid.UUID, fromDate, toDate time.Time, slotDuration int) (int, error) {
	rule, err := s.rules.GetByID(ctx, ruleID)
	if err != nil {
		return 0, err
	}
	if rule.HostID != requestingHostID {
		return 0, ErrNotOwner
	}
	if !rule.IsActive {
		return 0, availability.ErrRuleInactive
	}

	candidates, err := availability.Expand(*rule, fromDate, toDate, slotDuration)
	if err != nil {
		return 0, err
	}
	if len(candidates) == 0 {
		return 0, nil
	}

	inserted, err := s.slots.BulkInsert(ctx, candidates)
	if err != nil {
		return 0, fmt.Errorf("persist generated slots: %w", err)
	}

	return inserted, nil
}

// ListAvailableSlots returns a host's open future slots for guest browsing,
// ordered by start time. A nil after defaults to now.
func (s *Service) ListAvailableSlots(ctx context.Context, hostID uuid.UUID, after *time.Time) ([]slot.Slot, error) {
	if after == nil {
		n := s.now()
		after = &n
	}
	return s.slots.List(ctx, hostID, true, after)
}

type BookRequest struct {
	GuestID   *uuid.UUID // nil for anonymous bookings
	HostID    uuid.UUID
	SlotID    uuid.UUID
	PatientID *uuid.UUID
	Reason    string

	// Ad hoc contact for anonymous guests; overridden from the user row
	// when GuestID is set.
	GuestName  string
	GuestEmail string
	GuestPhone string
}

// Book reserves a slot for a guest. The claim on the slot store is the only
// synchronization point: under concurrent requests for the same slot exactly
// one caller gets the appointment, the rest get ErrSlotConflict.
func (s *Service) Book(ctx context.Context, req BookRequest) (*Appointment, error) {
	if req.SlotID == uuid.Nil {
		return nil, ErrMissingSlot
	}
	if req.HostID == uuid.Nil {
		return nil, ErrMissingHost
	}
	if req.GuestID != nil && *req.GuestID == req.HostID {
		return nil, ErrSelfBooking
	}

	// All validation happens before the claim so failures here leave no
	// state behind.
	if req.PatientID != nil {
		if req.GuestID == nil {
			return nil, ErrInvalidPatient
		}
		owned, err := s.repo.PatientOwnedBy(ctx, *req.PatientID, *req.GuestID)
		if err != nil {
			return nil, fmt.Errorf("check patient: %w", err)
		}
		if !owned {
			return nil, ErrInvalidPatient
		}
	}

	guestName := req.GuestName
	guestEmail := req.GuestEmail
	guestPhone := req.GuestPhone
	if req.GuestID != nil {
		guest, err := s.repo.GetUserByID(ctx, *req.GuestID)
		if err != nil {
			if errors.Is(err, ErrUserNotFound) {
				return nil, err
			}
			return nil, fmt.Errorf("load guest: %w", err)
		}
		guestName = guest.Name
		guestEmail = guest.Email
		if guest.Phone != nil {
			guestPhone = *guest.Phone
		}
	}

	claimed, err := s.slots.Claim(ctx, req.SlotID)
	if err != nil {
		if errors.Is(err, slot.ErrClaimFailed) {
			return nil, ErrSlotConflict
		}
		return nil, fmt.Errorf("claim slot: %w", err)
	}

	appt := Appointment{
		ID:         uuid.New(),
		HostID:     req.HostID,
		GuestID:    req.GuestID,
		SlotID:     req.SlotID,
		PatientID:  req.PatientID,
		Reason:     req.Reason,
		GuestName:  guestName,
		GuestEmail: guestEmail,
		GuestPhone: guestPhone,
	}

	created, err := s.repo.CreatePendingAppointment(ctx, appt)
	if err != nil {
		// Compensation: the slot must never stay unavailable because the
		// appointment write failed.
		if relErr := s.slots.Release(ctx, req.SlotID); relErr != nil {
			log.Printf("compensating release of slot %s failed: %v", req.SlotID, relErr)
		}
		return nil, fmt.Errorf("%w: %v", ErrBookingFailed, err)
	}

	s.emit(ctx, EventAppointmentCreated, created.ID, CreatedEvent{
		AppointmentID: created.ID.String(),
		HostID:        created.HostID.String(),
		HostName:      claimed.HostName,
		HostEmail:     claimed.HostEmail,
		GuestID:       guestIDString(created.GuestID),
		GuestName:     guestName,
		GuestEmail:    guestEmail,
		Date:          claimed.StartTime.Format("2006-01-02"),
		Time:          claimed.StartTime.Format("15:04"),
		Reason:        created.Reason,
	})

	return created, nil
}

// Confirm moves a pending appointment to confirmed. Only the appointment's
// host may confirm; anything else reports ErrNotConfirmable.
func (s *Service) Confirm(ctx context.Context, appointmentID, hostID uuid.UUID) (*AppointmentDetail, error) {
	detail, err := s.repo.ConfirmPending(ctx, appointmentID, hostID)
	if err != nil {
		if errors.Is(err, ErrAppointmentNotFound) {
			return nil, ErrNotConfirmable
		}
		return nil, fmt.Errorf("confirm appointment: %w", err)
	}

	s.emit(ctx, EventAppointmentConfirmed, detail.ID, ConfirmedEvent{
		AppointmentID: detail.ID.String(),
		HostName:      detail.Host.Name,
		GuestName:     s.guestName(detail),
		GuestEmail:    s.guestEmail(detail),
		Date:          detail.Slot.StartTime.Format("2006-01-02"),
		Time:          detail.Slot.StartTime.Format("15:04"),
	})

	return detail, nil
}

// Cancel transitions an appointment to CANCELED and releases its slot. The
// actor must be the appointment's host or guest.
func (s *Service) Cancel(ctx context.Context, appointmentID, actorID uuid.UUID, reason string) (*Appointment, error) {
	var detail *AppointmentDetail
	var updated *Appointment
	var isHost bool

	// Read-then-CAS. A lost CAS means the status moved under us; a
	// concurrent confirm leaves the appointment cancelable, so re-read
	// and retry once before giving up.
	for attempt := 0; ; attempt++ {
		var err error
		detail, err = s.repo.GetAppointmentDetail(ctx, appointmentID)
		if err != nil {
			return nil, err
		}

		isHost = actorID == detail.HostID
		isGuest := detail.GuestID != nil && *detail.GuestID == actorID
		if !isHost && !isGuest {
			return nil, ErrNotOwner
		}

		switch detail.Status {
		case StatusCanceled:
			return nil, ErrAlreadyCanceled
		case StatusCompleted:
			return nil, ErrAlreadyCompleted
		}

		updated, err = s.repo.UpdateStatus(ctx, appointmentID, detail.Status, StatusCanceled, reason)
		if err == nil {
			break
		}
		if errors.Is(err, ErrAppointmentNotFound) {
			if attempt == 0 {
				continue
			}
			return nil, ErrAlreadyCanceled
		}
		return nil, fmt.Errorf("cancel appointment: %w", err)
	}

	// Unconditional and idempotent, even if the slot was never actually
	// held unavailable. Failure does not undo the cancellation.
	if err := s.slots.Release(ctx, detail.SlotID); err != nil {
		log.Printf("release slot %s after cancel of %s failed: %v", detail.SlotID, appointmentID, err)
	}

	canceledBy := "guest"
	if isHost {
		canceledBy = "host"
	}

	s.emit(ctx, EventAppointmentCanceled, updated.ID, CanceledEvent{
		AppointmentID: updated.ID.String(),
		HostID:        updated.HostID.String(),
		HostName:      detail.Host.Name,
		HostEmail:     detail.Host.Email,
		GuestID:       guestIDString(updated.GuestID),
		GuestName:     s.guestName(detail),
		GuestEmail:    s.guestEmail(detail),
		Date:          detail.Slot.StartTime.Format("2006-01-02"),
		Time:          detail.Slot.StartTime.Format("15:04"),
		CancelReason:  updated.CancelReason,
		CanceledBy:    canceledBy,
	})

	return updated, nil
}

// MarkPaid records a mock payment. Guest-only; no gateway, no slot
// interaction.
func (s *Service) MarkPaid(ctx context.Context, appointmentID, guestID uuid.UUID, method string, amount int64) (*Appointment, error) {
	appt, err := s.repo.GetAppointmentByID(ctx, appointmentID)
	if err != nil {
		return nil, err
	}

	if appt.GuestID == nil || *appt.GuestID != guestID {
		return nil, ErrNotOwner
	}
	if appt.PaymentStatus == PaymentPaid {
		return nil, ErrAlreadyPaid
	}

	updated, err := s.repo.MarkPaid(ctx, appointmentID, method, amount)
	if err != nil {
		if errors.Is(err, ErrAppointmentNotFound) {
			return nil, ErrAlreadyPaid
		}
		return nil, fmt.Errorf("mark appointment paid: %w", err)
	}

	return updated, nil
}

// GetAppointment retrieves a fully hydrated appointment by ID.
func (s *Service) GetAppointment(ctx context.Context, id uuid.UUID) (*AppointmentDetail, error) {
	detail, err := s.repo.GetAppointmentDetail(ctx, id)
	if err != nil {
		return nil, err
	}
	return detail, nil
}

// ListMyAppointments retrieves appointments where the user is host or guest.
func (s *Service) ListMyAppointments(ctx context.Context, userID uuid.UUID) ([]AppointmentDetail, error) {
	appointments, err := s.repo.ListAppointmentsByParticipant(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("list appointments: %w", err)
	}
	return appointments, nil
}

// emit writes the event to the outbox table and hands it to the notification
// stream. Both are fire-and-forget: failures are logged, never surfaced.
func (s *Service) emit(ctx context.Context, eventType string, appointmentID uuid.UUID, payload any) {
	data, err := json.Marshal(payload)
	if err != nil {
		log.Printf("failed to marshal %s payload: %v", eventType, err)
		data = nil
	}

	apptID := appointmentID
	ev := EventLog{
		EventType:     eventType,
		AppointmentID: &apptID,
		Payload:       data,
		CreatedAt:     s.now(),
	}
	if err := s.repo.InsertEvent(ctx, ev); err != nil {
		log.Printf("failed to insert event log %s for appointment %s: %v", eventType, appointmentID, err)
	}

	if err := s.emitter.Emit(ctx, eventType, payload); err != nil {
		log.Printf("failed to emit %s for appointment %s: %v", eventType, appointmentID, err)
	}
}

func (s *Service) guestName(d *AppointmentDetail) string {
	if d.Guest != nil {
		return d.Guest.Name
	}
	if d.GuestName != "" {
		return d.GuestName
	}
	return "Guest"
}

func (s *Service) guestEmail(d *AppointmentDetail) string {
	if d.Guest != nil {
		return d.Guest.Email
	}
	return d.GuestEmail
}

func guestIDString(id *uuid.UUID) string {
	if id == nil {
		return "anonymous"
	}
	return id.String()
}
