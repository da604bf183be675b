package slot

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
)

var (
	// ErrClaimFailed covers both a missing slot and a slot that is already
	// unavailable; callers cannot tell the two apart.
	ErrClaimFailed = errors.New("slot not found or not available")

	// ErrStoreUnavailable is returned when a store call exceeds its bounded
	// deadline. Retryable by the caller, never retried here.
	ErrStoreUnavailable = errors.New("slot store unavailable")
)

// Store is the durable slot collection with the atomic claim/release
// primitive the booking engine is built on.
type Store interface {
	// BulkInsert persists generated slots. Rows whose (host_id, start_time)
	// already exist are silently skipped so regeneration over an overlapping
	// range stays idempotent. Returns the number of rows actually inserted.
	BulkInsert(ctx context.Context, slots []Slot) (int, error)

	// Claim atomically flips is_available true -> false for the named slot,
	// only if it is currently true. Linearizable with respect to concurrent
	// claims on the same slot: exactly one caller wins.
	Claim(ctx context.Context, id uuid.UUID) (*Claimed, error)

	// Release sets is_available = true unconditionally. Idempotent; used on
	// cancellation and as compensation for a failed appointment write.
	Release(ctx context.Context, id uuid.UUID) error

	// List returns a host's slots ordered by start_time ascending, optionally
	// restricted to available slots starting after the given instant.
	List(ctx context.Context, hostID uuid.UUID, onlyAvailable bool, after *time.Time) ([]Slot, error)
}
