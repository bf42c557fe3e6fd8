package velocity

import (
	"context"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/opensource-finance/shrike/internal/cache"
	"github.com/opensource-finance/shrike/internal/domain"
	"github.com/opensource-finance/shrike/internal/repository"
)

func newTestService(t *testing.T) (*Service, domain.Repository) {
	t.Helper()

	repo, err := repository.New(domain.RepositoryConfig{
		Driver:     "sqlite",
		SQLitePath: filepath.Join(t.TempDir(), "velocity.db"),
	})
	if err != nil {
		t.Fatalf("failed to create repository: %v", err)
	}
	t.Cleanup(func() { repo.Close() })

	return NewService(repo, cache.NewLRUCache(100)), repo
}

func TestObserve(t *testing.T) {
	ctx := context.Background()
	svc, _ := newTestService(t)

	t.Run("CountsWithinWindow", func(t *testing.T) {
		for want := int64(1); want <= 3; want++ {
			got, err := svc.Observe(ctx, "tenant-a", "acc-1", time.Minute)
			if err != nil {
				t.Fatalf("Observe failed: %v", err)
			}
			if got != want {
				t.Errorf("expected count %d, got %d", want, got)
			}
		}
	})

	t.Run("WindowsAreIndependent", func(t *testing.T) {
		got, err := svc.Observe(ctx, "tenant-a", "acc-1", time.Hour)
		if err != nil {
			t.Fatalf("Observe failed: %v", err)
		}
		if got != 1 {
			t.Errorf("expected fresh counter for new window, got %d", got)
		}
	})

	t.Run("TenantIsolation", func(t *testing.T) {
		got, err := svc.Observe(ctx, "tenant-b", "acc-1", time.Minute)
		if err != nil {
			t.Fatalf("Observe failed: %v", err)
		}
		if got != 1 {
			t.Errorf("expected fresh counter for other tenant, got %d", got)
		}
	})

	t.Run("RequiresIdentifiers", func(t *testing.T) {
		if _, err := svc.Observe(ctx, "", "acc-1", time.Minute); err == nil {
			t.Error("expected error for empty tenantID")
		}
		if _, err := svc.Observe(ctx, "tenant-a", "", time.Minute); err == nil {
			t.Error("expected error for empty accountID")
		}
	})
}

func TestCounterFastPath(t *testing.T) {
	ctx := context.Background()

	t.Run("WarmCounterServesCount", func(t *testing.T) {
		svc, _ := newTestService(t)

		// No rows in the store: a warm counter must answer on its own.
		for i := 0; i < 3; i++ {
			if _, err := svc.Observe(ctx, "tenant-a", "acc-1", time.Hour); err != nil {
				t.Fatalf("Observe failed: %v", err)
			}
		}

		count, err := svc.GetTransactionCount(ctx, "tenant-a", "acc-1", 3600)
		if err != nil {
			t.Fatalf("GetTransactionCount failed: %v", err)
		}
		if count != 3 {
			t.Errorf("expected counter value 3, got %d", count)
		}
	})

	t.Run("MismatchedWindowFallsBack", func(t *testing.T) {
		svc, repo := newTestService(t)

		if _, err := svc.Observe(ctx, "tenant-a", "acc-1", time.Minute); err != nil {
			t.Fatalf("Observe failed: %v", err)
		}

		now := time.Now().UTC()
		for i := 0; i < 2; i++ {
			tx := &domain.Transaction{
				ID:        fmt.Sprintf("tx-fb-%d", i),
				TenantID:  "tenant-a",
				AccountID: "acc-1",
				Type:      "purchase",
				Amount:    -25,
				Currency:  "USD",
				Status:    domain.TxStatusCompleted,
				Timestamp: now.Add(-5 * time.Minute),
				CreatedAt: now,
			}
			if err := repo.SaveTransaction(ctx, "tenant-a", tx); err != nil {
				t.Fatalf("failed to seed transaction: %v", err)
			}
		}

		// The hour window has no counter, so the repository answers.
		count, err := svc.GetTransactionCount(ctx, "tenant-a", "acc-1", 3600)
		if err != nil {
			t.Fatalf("GetTransactionCount failed: %v", err)
		}
		if count != 2 {
			t.Errorf("expected repository count 2, got %d", count)
		}
	})

	t.Run("NoCacheUsesRepository", func(t *testing.T) {
		_, repo := newTestService(t)
		svc := NewService(repo, nil)

		count, err := svc.GetTransactionCount(ctx, "tenant-a", "acc-1", 3600)
		if err != nil {
			t.Fatalf("GetTransactionCount failed: %v", err)
		}
		if count != 0 {
			t.Errorf("expected 0 from empty store, got %d", count)
		}
	})
}

func TestGetTransactionCount(t *testing.T) {
	ctx := context.Background()
	svc, repo := newTestService(t)

	now := time.Now().UTC()
	for i := 0; i < 4; i++ {
		// Two recent, two outside the window.
		age := time.Duration(i) * 40 * time.Minute
		tx := &domain.Transaction{
			ID:        fmt.Sprintf("tx-%d", i),
			TenantID:  "tenant-a",
			AccountID: "acc-1",
			Type:      "purchase",
			Amount:    -25,
			Currency:  "USD",
			Status:    domain.TxStatusCompleted,
			Timestamp: now.Add(-age),
			CreatedAt: now,
		}
		if err := repo.SaveTransaction(ctx, "tenant-a", tx); err != nil {
			t.Fatalf("failed to seed transaction: %v", err)
		}
	}

	count, err := svc.GetTransactionCount(ctx, "tenant-a", "acc-1", 3600)
	if err != nil {
		t.Fatalf("GetTransactionCount failed: %v", err)
	}
	if count != 2 {
		t.Errorf("expected 2 transactions within the hour, got %d", count)
	}

	getter := svc.GetVelocityGetter()
	fromGetter, err := getter(ctx, "tenant-a", "acc-1", 3600)
	if err != nil {
		t.Fatalf("getter failed: %v", err)
	}
	if fromGetter != count {
		t.Errorf("getter disagrees with service: %d vs %d", fromGetter, count)
	}
}
