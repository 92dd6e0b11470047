// Package quota meters per-owner storage under concurrent writers. The
// ledger never locks: each account row carries a monotonic storage version
// and usage updates are conditional on the version the writer last read.
package quota

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog"

	"capsule-server/services/capsule-api/internal/infrastructure/metrics"
)

// Account is an owner's quota state.
type Account struct {
	OwnerID           string
	Plan              Plan
	StorageUsageBytes int64
	StorageVersion    int64
	RunsUsed          int64
}

// AccountRepository persists accounts. UpdateUsage must be a conditional
// write: it applies only when the stored version equals readVersion, and
// reports whether a row was updated.
type AccountRepository interface {
	FindByOwner(ctx context.Context, ownerID string) (*Account, error)
	Create(ctx context.Context, account *Account) error
	UpdateUsage(ctx context.Context, ownerID string, newUsage int64, readVersion int64) (bool, error)
}

// ErrConflict is surfaced when the optimistic retry budget is exhausted.
// Callers are expected to resubmit.
var ErrConflict = errors.New("quota reservation lost the race, retry")

// ErrAccountExists is returned by Create on a duplicate owner row.
var ErrAccountExists = errors.New("storage account already exists")

// BundleTooLargeError rejects a single bundle over the plan ceiling.
type BundleTooLargeError struct {
	SizeBytes int64
	Limit     int64
}

func (e *BundleTooLargeError) Error() string {
	return fmt.Sprintf("bundle of %d bytes exceeds plan limit of %d bytes", e.SizeBytes, e.Limit)
}

// QuotaExceededError rejects a reservation that would overflow storage. It
// carries current usage and the limit so callers can present an upgrade
// path.
type QuotaExceededError struct {
	CurrentUsage int64
	Requested    int64
	Limit        int64
}

func (e *QuotaExceededError) Error() string {
	return fmt.Sprintf("storage quota exceeded: %d used + %d requested > %d limit", e.CurrentUsage, e.Requested, e.Limit)
}

// Reservation is the outcome of a successful reserve.
type Reservation struct {
	NewUsage   int64
	NewVersion int64
}

// Ledger tracks cumulative storage usage per owner.
type Ledger struct {
	repo       AccountRepository
	retryLimit int
	log        zerolog.Logger
}

func NewLedger(repo AccountRepository, retryLimit int, log zerolog.Logger) *Ledger {
	if retryLimit <= 0 {
		retryLimit = 4
	}
	return &Ledger{
		repo:       repo,
		retryLimit: retryLimit,
		log:        log.With().Str("component", "quota-ledger").Logger(),
	}
}

// Reserve debits delta bytes against the owner's storage. Plan ceilings are
// checked before any write, so a doomed reservation never reaches the
// database. Contention is retried a bounded number of times; exhaustion
// surfaces ErrConflict.
func (l *Ledger) Reserve(ctx context.Context, ownerID string, delta int64) (*Reservation, error) {
	if delta <= 0 {
		return nil, fmt.Errorf("reserve requires a positive delta, got %d", delta)
	}

	for attempt := 0; attempt < l.retryLimit; attempt++ {
		account, err := l.loadOrBootstrap(ctx, ownerID)
		if err != nil {
			return nil, err
		}

		limits := account.Plan.Limits()
		if delta > limits.MaxBundleBytes {
			return nil, &BundleTooLargeError{SizeBytes: delta, Limit: limits.MaxBundleBytes}
		}
		newUsage := account.StorageUsageBytes + delta
		if newUsage > limits.MaxStorageBytes {
			return nil, &QuotaExceededError{
				CurrentUsage: account.StorageUsageBytes,
				Requested:    delta,
				Limit:        limits.MaxStorageBytes,
			}
		}

		applied, err := l.repo.UpdateUsage(ctx, ownerID, newUsage, account.StorageVersion)
		if err != nil {
			return nil, err
		}
		if applied {
			return &Reservation{NewUsage: newUsage, NewVersion: account.StorageVersion + 1}, nil
		}

		// A concurrent writer won the race; re-read and try again.
		metrics.QuotaRetriesTotal.Inc()
		l.log.Debug().
			Str("owner_id", ownerID).
			Int("attempt", attempt+1).
			Msg("quota reservation lost optimistic race, retrying")
	}

	return nil, ErrConflict
}

// Release credits delta bytes back, used by compensating cleanup and
// moderation deletes. It uses the same bounded CAS loop; exhaustion is an
// ErrConflict the caller logs rather than surfaces.
func (l *Ledger) Release(ctx context.Context, ownerID string, delta int64) error {
	if delta <= 0 {
		return fmt.Errorf("release requires a positive delta, got %d", delta)
	}

	for attempt := 0; attempt < l.retryLimit; attempt++ {
		account, err := l.repo.FindByOwner(ctx, ownerID)
		if err != nil {
			return err
		}
		if account == nil {
			return nil // nothing to credit
		}

		newUsage := account.StorageUsageBytes - delta
		if newUsage < 0 {
			newUsage = 0
		}

		applied, err := l.repo.UpdateUsage(ctx, ownerID, newUsage, account.StorageVersion)
		if err != nil {
			return err
		}
		if applied {
			return nil
		}
		metrics.QuotaRetriesTotal.Inc()
	}
	return ErrConflict
}

// PreCheck validates a proposed delta against the owner's plan without
// writing anything. The orchestrator runs it before the bundle is even
// stored, so a doomed reservation never reaches the database.
func (l *Ledger) PreCheck(ctx context.Context, ownerID string, delta int64) error {
	account, err := l.Usage(ctx, ownerID)
	if err != nil {
		return err
	}
	limits := account.Plan.Limits()
	if delta > limits.MaxBundleBytes {
		return &BundleTooLargeError{SizeBytes: delta, Limit: limits.MaxBundleBytes}
	}
	if account.StorageUsageBytes+delta > limits.MaxStorageBytes {
		return &QuotaExceededError{
			CurrentUsage: account.StorageUsageBytes,
			Requested:    delta,
			Limit:        limits.MaxStorageBytes,
		}
	}
	return nil
}

// Usage returns the owner's account, or a zeroed free account when none
// exists yet. Reads never bootstrap rows.
func (l *Ledger) Usage(ctx context.Context, ownerID string) (*Account, error) {
	account, err := l.repo.FindByOwner(ctx, ownerID)
	if err != nil {
		return nil, err
	}
	if account == nil {
		return &Account{OwnerID: ownerID, Plan: PlanFree}, nil
	}
	if !account.Plan.Valid() {
		l.log.Warn().
			Str("owner_id", ownerID).
			Str("plan", string(account.Plan)).
			Msg("account carries an unknown plan, treating as free")
		account.Plan = PlanFree
	}
	return account, nil
}

// loadOrBootstrap returns the account, creating a fresh free-tier row on an
// owner's first publish. A creation conflict means another publish won the
// bootstrap; the row is re-read.
func (l *Ledger) loadOrBootstrap(ctx context.Context, ownerID string) (*Account, error) {
	account, err := l.repo.FindByOwner(ctx, ownerID)
	if err != nil {
		return nil, err
	}
	if account != nil {
		return account, nil
	}

	fresh := &Account{OwnerID: ownerID, Plan: PlanFree}
	err = l.repo.Create(ctx, fresh)
	if err == nil {
		return fresh, nil
	}
	if errors.Is(err, ErrAccountExists) {
		account, err = l.repo.FindByOwner(ctx, ownerID)
		if err != nil {
			return nil, err
		}
		if account == nil {
			return nil, fmt.Errorf("account for %s vanished after bootstrap conflict", ownerID)
		}
		return account, nil
	}
	return nil, err
}
