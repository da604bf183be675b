package slot

import (
	"time"

	"github.com/google/uuid"
)

// Slot is a single bookable interval generated from an availability rule.
// Once an appointment references it, the row is never deleted; booking state
// lives entirely in IsAvailable.
type Slot struct {
	ID          uuid.UUID
	HostID      uuid.UUID
	RuleID      *uuid.UUID
	StartTime   time.Time
	EndTime     time.Time
	IsAvailable bool
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// Claimed is the result of a successful claim, carrying the host contact
// fields the notification events need downstream.
type Claimed struct {
	Slot
	HostName  string
	HostEmail string
}
