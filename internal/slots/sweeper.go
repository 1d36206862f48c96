package slots

import (
	"context"
	"sync"
	"time"

	"paydrop/internal/ledger"
	"paydrop/internal/logging"
	"paydrop/internal/storage"
)

const (
	// pendingGrace is how long after creation a pending slot is left alone
	// before the sweeper audits it.
	pendingGrace = time.Hour
	// sweepPageSize bounds each pass to keep a single run short.
	sweepPageSize = 100
	// storageCallTimeout bounds each per-row storage call.
	storageCallTimeout = 15 * time.Second
)

// SweepResult is the aggregate outcome of one sweep run.
type SweepResult struct {
	Verified    int `json:"verified"`
	Oversized   int `json:"oversized"`
	Stale       int `json:"stale"`
	CheckErrors int `json:"checkErrors"`
	Expired     int `json:"expired"`
	Deleted     int `json:"deleted"`
}

// Sweeper audits slot records against actual storage contents and advances
// lifecycle state. The service never observes uploads directly, so this is
// where files are discovered, sizes enforced, and retention applied.
type Sweeper struct {
	store   ledger.Store
	objects storage.ObjectStore

	mu sync.Mutex // serializes overlapping invocations
}

// NewSweeper returns a Sweeper over the given ledger and object store.
func NewSweeper(store ledger.Store, objects storage.ObjectStore) *Sweeper {
	return &Sweeper{store: store, objects: objects}
}

// Run executes one sweep: pass A verifies pending slots against storage,
// pass B expires slots past retention and erases their objects. Invocations
// are serialized; a second Run blocks until the first finishes. Re-running
// immediately after a clean sweep is a no-op.
func (s *Sweeper) Run(ctx context.Context, now time.Time) (*SweepResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	result := &SweepResult{}

	if err := s.verifyPending(ctx, now, result); err != nil {
		return result, err
	}
	// Retry deletions left over from earlier runs before marking new
	// expirations, so each object gets at most one attempt per run.
	if err := s.retryErasures(ctx, result); err != nil {
		return result, err
	}
	if err := s.expire(ctx, now, result); err != nil {
		return result, err
	}

	logging.Sweep.Printf("sweep complete: verified=%d oversized=%d stale=%d checkErrors=%d expired=%d deleted=%d",
		result.Verified, result.Oversized, result.Stale, result.CheckErrors, result.Expired, result.Deleted)

	return result, nil
}

// verifyPending is pass A: audit pending slots older than the grace period.
// This is the only place size limits are enforced, since the write path
// cannot reject mid-stream.
func (s *Sweeper) verifyPending(ctx context.Context, now time.Time, result *SweepResult) error {
	pending, err := s.store.ListPendingBefore(ctx, now.Add(-pendingGrace), sweepPageSize)
	if err != nil {
		return err
	}

	for _, slot := range pending {
		head, err := s.head(ctx, slot.StorageKey)
		if err != nil {
			// Inconclusive check: never advance state, count and move on.
			logging.Sweep.Printf("check failed for slot %s: %v", slot.ID, err)
			result.CheckErrors++
			continue
		}

		switch {
		case !head.Exists:
			s.transition(ctx, slot.ID, ledger.StatusStaleExpired, nil)
			result.Stale++

		case head.Size > slot.MaxBytes:
			logging.Sweep.Printf("slot %s exceeds tier limit (%d > %d), deleting object",
				slot.ID, head.Size, slot.MaxBytes)
			if err := s.delete(ctx, slot.StorageKey); err != nil {
				logging.Sweep.Printf("failed to delete oversized object %s: %v", slot.StorageKey, err)
			}
			size := head.Size
			s.transition(ctx, slot.ID, ledger.StatusOversizedExpired, &size)
			result.Oversized++

		default:
			size := head.Size
			s.transition(ctx, slot.ID, ledger.StatusUploaded, &size)
			result.Verified++
		}
	}
	return nil
}

// expire is pass B: every non-terminal slot past its expiry transitions to
// expired and its object gets one deletion attempt. A deletion failure never
// blocks the transition; the key stays on the record, so a later sweep
// retries.
func (s *Sweeper) expire(ctx context.Context, now time.Time, result *SweepResult) error {
	expired, err := s.store.ListExpired(ctx, now, sweepPageSize)
	if err != nil {
		return err
	}

	for _, slot := range expired {
		s.transition(ctx, slot.ID, ledger.StatusExpired, nil)
		result.Expired++

		if err := s.delete(ctx, slot.StorageKey); err != nil {
			logging.Sweep.Printf("failed to delete object %s: %v", slot.StorageKey, err)
			continue
		}
		s.transition(ctx, slot.ID, ledger.StatusErased, nil)
		result.Deleted++
	}
	return nil
}

// retryErasures picks up expired slots whose object deletion failed in an
// earlier run.
func (s *Sweeper) retryErasures(ctx context.Context, result *SweepResult) error {
	stuck, err := s.store.ListErasable(ctx, sweepPageSize)
	if err != nil {
		return err
	}

	for _, slot := range stuck {
		if err := s.delete(ctx, slot.StorageKey); err != nil {
			logging.Sweep.Printf("erase retry failed for %s: %v", slot.StorageKey, err)
			continue
		}
		s.transition(ctx, slot.ID, ledger.StatusErased, nil)
		result.Deleted++
	}
	return nil
}

func (s *Sweeper) head(ctx context.Context, key string) (storage.HeadResult, error) {
	callCtx, cancel := context.WithTimeout(ctx, storageCallTimeout)
	defer cancel()
	return s.objects.Head(callCtx, key)
}

func (s *Sweeper) delete(ctx context.Context, key string) error {
	callCtx, cancel := context.WithTimeout(ctx, storageCallTimeout)
	defer cancel()
	return s.objects.Delete(callCtx, key)
}

func (s *Sweeper) transition(ctx context.Context, id string, status ledger.Status, observedSize *int64) {
	if err := s.store.SetStatus(ctx, id, status, observedSize); err != nil {
		logging.Sweep.Printf("failed to set slot %s to %s: %v", id, status, err)
	}
}
