// Package ledger is the authoritative record of sold upload slots.
//
// Slots are created by the issuance pipeline immediately after settlement and
// mutated only by the reconciliation sweeper. Records are never deleted:
// erasure removes the storage object, not the row, so every settlement
// reference stays auditable.
package ledger

import (
	"context"
	"errors"
	"time"
)

var ErrNotFound = errors.New("not found")

// Status is a slot's lifecycle state.
type Status string

const (
	// StatusPending: slot sold, upload not yet observed.
	StatusPending Status = "pending"
	// StatusUploaded: object observed within the byte ceiling.
	StatusUploaded Status = "uploaded"
	// StatusStaleExpired: authorization window lapsed with no write.
	StatusStaleExpired Status = "stale_expired"
	// StatusOversizedExpired: object exceeded the ceiling and was removed.
	StatusOversizedExpired Status = "oversized_expired"
	// StatusExpired: retention window passed; object removal may still be pending.
	StatusExpired Status = "expired"
	// StatusErased: retention passed and the storage object is gone.
	StatusErased Status = "erased"
)

// Terminal reports whether no further sweep transition applies to s, other
// than the expired→erased deletion retry.
func (s Status) Terminal() bool {
	switch s {
	case StatusStaleExpired, StatusOversizedExpired, StatusExpired, StatusErased:
		return true
	}
	return false
}

// Slot is one sold upload slot.
//
// MaxBytes is copied from the tier at grant time and never recomputed, so
// later catalog changes cannot retroactively alter sold slots. StorageKey and
// PublicURL are fixed at creation.
type Slot struct {
	ID            string
	PayerAddress  string // normalized lowercase
	StorageKey    string
	Filename      string
	ContentType   string
	TierKey       string
	MaxBytes      int64
	ObservedSize  *int64 // nil until reconciled
	PublicURL     string
	Status        Status
	PricePaid     float64
	SettlementRef string // empty in dev mode
	ExpiresAt     time.Time
	CreatedAt     time.Time
}

// Store defines the interface for slot and payer persistence.
type Store interface {
	CreateSlot(ctx context.Context, s *Slot) error
	GetSlot(ctx context.Context, id string) (*Slot, error)
	ListSlotsByPayer(ctx context.Context, payer string) ([]*Slot, error)

	// ListPendingBefore returns up to limit pending slots created before cutoff.
	ListPendingBefore(ctx context.Context, cutoff time.Time, limit int) ([]*Slot, error)
	// ListExpired returns up to limit non-terminal slots whose expiry has passed.
	ListExpired(ctx context.Context, now time.Time, limit int) ([]*Slot, error)
	// ListErasable returns up to limit expired slots whose object deletion is
	// still outstanding.
	ListErasable(ctx context.Context, limit int) ([]*Slot, error)

	// SetStatus advances a slot's lifecycle state. observedSize, when non-nil,
	// records the size seen in storage.
	SetStatus(ctx context.Context, id string, status Status, observedSize *int64) error

	// UpsertPayer lazily registers a payer address.
	UpsertPayer(ctx context.Context, address string) error

	Close() error
}
