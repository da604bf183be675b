package booking

const (
	EventAppointmentCreated   = "appointment.created"
	EventAppointmentConfirmed = "appointment.confirmed"
	EventAppointmentCanceled  = "appointment.canceled"
)

// Event payloads consumed by the external notification sink. Field names are
// part of the contract with the mail worker; change them there too.

type CreatedEvent struct {
	AppointmentID string `json:"appointmentId"`
	HostID        string `json:"hostId"`
	HostName      string `json:"hostName"`
	HostEmail     string `json:"hostEmail"`
	GuestID       string `json:"guestId"`
	GuestName     string `json:"guestName"`
	GuestEmail    string `json:"guestEmail"`
	Date          string `json:"date"`
	Time          string `json:"time"`
	Reason        string `json:"reason,omitempty"`
}

type ConfirmedEvent struct {
	AppointmentID string `json:"appointmentId"`
	HostName      string `json:"hostName"`
	GuestName     string `json:"guestName"`
	GuestEmail    string `json:"guestEmail"`
	Date          string `json:"date"`
	Time          string `json:"time"`
}

type CanceledEvent struct {
	AppointmentID string `json:"appointmentId"`
	HostID        string `json:"hostId"`
	HostName      string `json:"hostName"`
	HostEmail     string `json:"hostEmail"`
	GuestID       string `json:"guestId"`
	GuestName     string `json:"guestName"`
	GuestEmail    string `json:"guestEmail"`
	Date          string `json:"date"`
	Time          string `json:"time"`
	CancelReason  string `json:"cancelReason,omitempty"`
	CanceledBy    string `json:"canceledBy"` // "host" or "guest"
}
