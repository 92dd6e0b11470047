package quota_test

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/rs/zerolog"

	"capsule-server/services/capsule-api/internal/domain/quota"
)

// MemoryAccountRepository is a CAS-faithful in-memory account store.
type MemoryAccountRepository struct {
	mu       sync.Mutex
	accounts map[string]*quota.Account

	FindFunc   func(ctx context.Context, ownerID string) (*quota.Account, error)
	CreateFunc func(ctx context.Context, account *quota.Account) error
	UpdateFunc func(ctx context.Context, ownerID string, newUsage int64, readVersion int64) (bool, error)
}

func NewMemoryAccountRepository() *MemoryAccountRepository {
	return &MemoryAccountRepository{accounts: map[string]*quota.Account{}}
}

func (r *MemoryAccountRepository) FindByOwner(ctx context.Context, ownerID string) (*quota.Account, error) {
	if r.FindFunc != nil {
		return r.FindFunc(ctx, ownerID)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	account, ok := r.accounts[ownerID]
	if !ok {
		return nil, nil
	}
	copied := *account
	return &copied, nil
}

func (r *MemoryAccountRepository) Create(ctx context.Context, account *quota.Account) error {
	if r.CreateFunc != nil {
		return r.CreateFunc(ctx, account)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.accounts[account.OwnerID]; exists {
		return quota.ErrAccountExists
	}
	copied := *account
	r.accounts[account.OwnerID] = &copied
	return nil
}

func (r *MemoryAccountRepository) UpdateUsage(ctx context.Context, ownerID string, newUsage int64, readVersion int64) (bool, error) {
	if r.UpdateFunc != nil {
		return r.UpdateFunc(ctx, ownerID, newUsage, readVersion)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	account, ok := r.accounts[ownerID]
	if !ok || account.StorageVersion != readVersion {
		return false, nil
	}
	account.StorageUsageBytes = newUsage
	account.StorageVersion++
	return true, nil
}

func TestReserveBootstrapsFreeAccount(t *testing.T) {
	repo := NewMemoryAccountRepository()
	ledger := quota.NewLedger(repo, 4, zerolog.Nop())

	reservation, err := ledger.Reserve(context.Background(), "owner-1", 1024)
	if err != nil {
		t.Fatalf("reserve failed: %v", err)
	}
	if reservation.NewUsage != 1024 {
		t.Fatalf("expected usage 1024, got %d", reservation.NewUsage)
	}

	account, err := ledger.Usage(context.Background(), "owner-1")
	if err != nil {
		t.Fatalf("usage failed: %v", err)
	}
	if account.Plan != quota.PlanFree {
		t.Fatalf("bootstrap should create a free account, got %s", account.Plan)
	}
	if account.StorageUsageBytes != 1024 {
		t.Fatalf("expected 1024 bytes used, got %d", account.StorageUsageBytes)
	}
}

func TestReserveRejectsOversizedBundle(t *testing.T) {
	repo := NewMemoryAccountRepository()
	ledger := quota.NewLedger(repo, 4, zerolog.Nop())

	limits := quota.PlanFree.Limits()
	_, err := ledger.Reserve(context.Background(), "owner-1", limits.MaxBundleBytes+1)

	var tooLarge *quota.BundleTooLargeError
	if !errors.As(err, &tooLarge) {
		t.Fatalf("expected BundleTooLargeError, got %v", err)
	}
	if tooLarge.Limit != limits.MaxBundleBytes {
		t.Fatalf("expected limit %d, got %d", limits.MaxBundleBytes, tooLarge.Limit)
	}
}

func TestReserveRejectsOverQuota(t *testing.T) {
	repo := NewMemoryAccountRepository()
	ledger := quota.NewLedger(repo, 4, zerolog.Nop())

	limits := quota.PlanFree.Limits()
	// Fill the account close to its ceiling with legal bundle-sized debits.
	var used int64
	for used+limits.MaxBundleBytes <= limits.MaxStorageBytes {
		if _, err := ledger.Reserve(context.Background(), "owner-1", limits.MaxBundleBytes); err != nil {
			t.Fatalf("setup reserve failed at %d bytes: %v", used, err)
		}
		used += limits.MaxBundleBytes
	}

	_, err := ledger.Reserve(context.Background(), "owner-1", limits.MaxBundleBytes)
	var exceeded *quota.QuotaExceededError
	if !errors.As(err, &exceeded) {
		t.Fatalf("expected QuotaExceededError, got %v", err)
	}
	if exceeded.CurrentUsage != used {
		t.Fatalf("expected current usage %d, got %d", used, exceeded.CurrentUsage)
	}
}

func TestReserveExhaustsRetriesOnContention(t *testing.T) {
	repo := NewMemoryAccountRepository()
	repo.accounts["owner-1"] = &quota.Account{OwnerID: "owner-1", Plan: quota.PlanFree}
	repo.UpdateFunc = func(ctx context.Context, ownerID string, newUsage int64, readVersion int64) (bool, error) {
		return false, nil // every CAS loses
	}
	ledger := quota.NewLedger(repo, 3, zerolog.Nop())

	_, err := ledger.Reserve(context.Background(), "owner-1", 1024)
	if !errors.Is(err, quota.ErrConflict) {
		t.Fatalf("expected ErrConflict, got %v", err)
	}
}

func TestReserveRecoversFromBootstrapRace(t *testing.T) {
	repo := NewMemoryAccountRepository()
	calls := 0
	repo.CreateFunc = func(ctx context.Context, account *quota.Account) error {
		calls++
		// Another publish wins the bootstrap.
		repo.CreateFunc = nil
		copied := *account
		repo.accounts[account.OwnerID] = &copied
		return quota.ErrAccountExists
	}
	ledger := quota.NewLedger(repo, 4, zerolog.Nop())

	if _, err := ledger.Reserve(context.Background(), "owner-1", 512); err != nil {
		t.Fatalf("reserve should recover from bootstrap conflict: %v", err)
	}
	if calls != 1 {
		t.Fatalf("expected one create attempt, got %d", calls)
	}
}

func TestConcurrentReservesConserveUsage(t *testing.T) {
	repo := NewMemoryAccountRepository()
	ledger := quota.NewLedger(repo, 64, zerolog.Nop())

	const workers = 16
	const delta = int64(1 << 20)

	var wg sync.WaitGroup
	errs := make(chan error, workers)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := ledger.Reserve(context.Background(), "owner-1", delta); err != nil {
				errs <- err
			}
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		t.Fatalf("concurrent reserve failed: %v", err)
	}

	account, err := ledger.Usage(context.Background(), "owner-1")
	if err != nil {
		t.Fatalf("usage failed: %v", err)
	}
	if account.StorageUsageBytes != workers*delta {
		t.Fatalf("lost update: expected %d, got %d", workers*delta, account.StorageUsageBytes)
	}
	if account.StorageVersion != workers {
		t.Fatalf("expected %d version increments, got %d", workers, account.StorageVersion)
	}
}

func TestReleaseCreditsBack(t *testing.T) {
	repo := NewMemoryAccountRepository()
	ledger := quota.NewLedger(repo, 4, zerolog.Nop())

	if _, err := ledger.Reserve(context.Background(), "owner-1", 4096); err != nil {
		t.Fatalf("reserve failed: %v", err)
	}
	if err := ledger.Release(context.Background(), "owner-1", 1024); err != nil {
		t.Fatalf("release failed: %v", err)
	}

	account, _ := ledger.Usage(context.Background(), "owner-1")
	if account.StorageUsageBytes != 3072 {
		t.Fatalf("expected 3072 after release, got %d", account.StorageUsageBytes)
	}
}

func TestReleaseFloorsAtZero(t *testing.T) {
	repo := NewMemoryAccountRepository()
	ledger := quota.NewLedger(repo, 4, zerolog.Nop())

	if _, err := ledger.Reserve(context.Background(), "owner-1", 100); err != nil {
		t.Fatalf("reserve failed: %v", err)
	}
	if err := ledger.Release(context.Background(), "owner-1", 500); err != nil {
		t.Fatalf("release failed: %v", err)
	}

	account, _ := ledger.Usage(context.Background(), "owner-1")
	if account.StorageUsageBytes != 0 {
		t.Fatalf("usage must floor at zero, got %d", account.StorageUsageBytes)
	}
}

func TestReleaseWithoutAccountIsNoop(t *testing.T) {
	repo := NewMemoryAccountRepository()
	ledger := quota.NewLedger(repo, 4, zerolog.Nop())

	if err := ledger.Release(context.Background(), "ghost", 100); err != nil {
		t.Fatalf("release for missing account should be a no-op: %v", err)
	}
}

func TestPreCheckDoesNotWrite(t *testing.T) {
	repo := NewMemoryAccountRepository()
	ledger := quota.NewLedger(repo, 4, zerolog.Nop())

	if err := ledger.PreCheck(context.Background(), "owner-1", 1024); err != nil {
		t.Fatalf("precheck failed: %v", err)
	}
	if len(repo.accounts) != 0 {
		t.Fatalf("precheck must not bootstrap accounts")
	}

	limits := quota.PlanFree.Limits()
	err := ledger.PreCheck(context.Background(), "owner-1", limits.MaxBundleBytes+1)
	var tooLarge *quota.BundleTooLargeError
	if !errors.As(err, &tooLarge) {
		t.Fatalf("expected BundleTooLargeError, got %v", err)
	}
}
