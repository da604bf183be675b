package api

import (
	"time"

	"github.com/google/uuid"

	"github.com/slotwise/booking-engine/internal/booking"
	"github.com/slotwise/booking-engine/internal/slot"
)

type BookAppointmentRequest struct {
	HostID    string `json:"host_id"`
	SlotID    string `json:"slot_id"`
	PatientID string `json:"patient_id,omitempty"`
	Reason    string `json:"reason,omitempty"`

	// Contact fields for anonymous bookings (no X-User-ID header).
	GuestName  string `json:"guest_name,omitempty"`
	GuestEmail string `json:"guest_email,omitempty"`
	GuestPhone string `json:"guest_phone,omitempty"`
}

type AppointmentResponse struct {
	ID            uuid.UUID  `json:"id"`
	HostID        uuid.UUID  `json:"host_id"`
	GuestID       *uuid.UUID `json:"guest_id,omitempty"`
	SlotID        uuid.UUID  `json:"slot_id"`
	Status        string     `json:"status"`
	Reason        string     `json:"reason,omitempty"`
	CancelReason  string     `json:"cancel_reason,omitempty"`
	PaymentStatus string     `json:"payment_status"`
	CreatedAt     time.Time  `json:"created_at"`
	UpdatedAt     time.Time  `json:"updated_at"`
}

func toAppointmentResponse(a *booking.Appointment) AppointmentResponse {
	return AppointmentResponse{
		ID:            a.ID,
		HostID:        a.HostID,
		GuestID:       a.GuestID,
		SlotID:        a.SlotID,
		Status:        string(a.Status),
		Reason:        a.Reason,
		CancelReason:  a.CancelReason,
		PaymentStatus: string(a.PaymentStatus),
		CreatedAt:     a.CreatedAt,
		UpdatedAt:     a.UpdatedAt,
	}
}

type AppointmentDetailResponse struct {
	AppointmentResponse
	Slot  *SlotResponse        `json:"slot,omitempty"`
	Host  *ParticipantResponse `json:"host,omitempty"`
	Guest *ParticipantResponse `json:"guest,omitempty"`
}

type ParticipantResponse struct {
	ID    uuid.UUID `json:"id"`
	Name  string    `json:"name"`
	Email string    `json:"email"`
}

func toDetailResponse(d *booking.AppointmentDetail) AppointmentDetailResponse {
	resp := AppointmentDetailResponse{
		AppointmentResponse: toAppointmentResponse(&d.Appointment),
	}
	if d.Slot != nil {
		sl := toSlotResponse(*d.Slot)
		resp.Slot = &sl
	}
	if d.Host != nil {
		resp.Host = &ParticipantResponse{ID: d.Host.ID, Name: d.Host.Name, Email: d.Host.Email}
	}
	if d.Guest != nil {
		resp.Guest = &ParticipantResponse{ID: d.Guest.ID, Name: d.Guest.Name, Email: d.Guest.Email}
	} else if d.GuestName != "" {
		resp.Guest = &ParticipantResponse{Name: d.GuestName, Email: d.GuestEmail}
	}
	return resp
}

type SlotResponse struct {
	ID          uuid.UUID `json:"id"`
	HostID      uuid.UUID `json:"host_id"`
	StartTime   time.Time `json:"start_time"`
	EndTime     time.Time `json:"end_time"`
	IsAvailable bool      `json:"is_available"`

	// Presentation helpers for the guest view.
	Date       string `json:"date"`
	StartLabel string `json:"start_label"`
	EndLabel   string `json:"end_label"`
}

func toSlotResponse(sl slot.Slot) SlotResponse {
	return SlotResponse{
		ID:          sl.ID,
		HostID:      sl.HostID,
		StartTime:   sl.StartTime,
		EndTime:     sl.EndTime,
		IsAvailable: sl.IsAvailable,
		Date:        sl.StartTime.Format("2006-01-02"),
		StartLabel:  sl.StartTime.Format("15:04"),
		EndLabel:    sl.EndTime.Format("15:04"),
	}
}

type CreateRuleRequest struct {
	RuleType   string `json:"rule_type"`
	DaysOfWeek string `json:"days_of_week"`
	StartHour  int    `json:"start_hour"`
	EndHour    int    `json:"end_hour"`
	IsActive   *bool  `json:"is_active,omitempty"`
}

type RuleResponse struct {
	ID         uuid.UUID `json:"id"`
	HostID     uuid.UUID `json:"host_id"`
	RuleType   string    `json:"rule_type"`
	DaysOfWeek string    `json:"days_of_week"`
	StartHour  int       `json:"start_hour"`
	EndHour    int       `json:"end_hour"`
	IsActive   bool      `json:"is_active"`
}

type GenerateSlotsRequest struct {
	FromDate     string `json:"from_date"` // 2006-01-02
	ToDate       string `json:"to_date"`
	SlotDuration int    `json:"slot_duration"` // minutes
}

type GenerateSlotsResponse struct {
	Created int    `json:"created"`
	Message string `json:"message"`
}

type CancelAppointmentRequest struct {
	CancelReason string `json:"cancel_reason,omitempty"`
}

type PayAppointmentRequest struct {
	Method string `json:"method"`
	Amount int64  `json:"amount"`
}

type ErrorResponse struct {
	Error   string `json:"error"`
	Details string `json:"details,omitempty"`
}
