// Package velocity provides transaction velocity calculation.
package velocity

import (
	"context"
	"fmt"
	"time"

	"github.com/opensource-finance/shrike/internal/domain"
)

// Service calculates transaction velocity for accounts. The cache
// counter gives a fast in-window tally; the repository count is the
// authoritative source when the counter is cold.
type Service struct {
	repo  domain.Repository
	cache domain.Cache
}

// NewService creates a new velocity service.
func NewService(repo domain.Repository, cache domain.Cache) *Service {
	return &Service{
		repo:  repo,
		cache: cache,
	}
}

// Observe records a transaction for the account's velocity window and
// returns the running count. The counter resets when the window lapses.
func (s *Service) Observe(ctx context.Context, tenantID, accountID string, window time.Duration) (int64, error) {
	if tenantID == "" || accountID == "" {
		return 0, fmt.Errorf("tenantID and accountID are required")
	}
	if s.cache == nil {
		return 0, fmt.Errorf("no counter backend available")
	}

	key := counterKey(accountID, int(window.Seconds()))
	return s.cache.IncrementCounter(ctx, tenantID, key, window)
}

// GetTransactionCount returns the number of transactions for an account
// within a time window. This is the VelocityGetter function signature
// expected by the rule evaluator.
func (s *Service) GetTransactionCount(ctx context.Context, tenantID, accountID string, windowSecs int) (int64, error) {
	if tenantID == "" || accountID == "" {
		return 0, fmt.Errorf("tenantID and accountID are required")
	}

	// A warm counter for this window already holds the in-window tally.
	// A cold counter is indistinguishable from a count of zero, so it
	// falls through to the authoritative repository count.
	if s.cache != nil {
		count, err := s.cache.CounterValue(ctx, tenantID, counterKey(accountID, windowSecs))
		if err == nil && count > 0 {
			return count, nil
		}
	}

	if s.repo == nil {
		return 0, fmt.Errorf("no data source available")
	}

	since := time.Now().Add(-time.Duration(windowSecs) * time.Second)

	count, err := s.repo.CountTransactionsByAccount(ctx, tenantID, accountID, since)
	if err != nil {
		return 0, fmt.Errorf("failed to count transactions: %w", err)
	}
	return count, nil
}

func counterKey(accountID string, windowSecs int) string {
	return fmt.Sprintf("velocity:%s:%ds", accountID, windowSecs)
}

// GetVelocityGetter returns a VelocityGetter function for the rule evaluator.
func (s *Service) GetVelocityGetter() func(ctx context.Context, tenantID, accountID string, windowSecs int) (int64, error) {
	return s.GetTransactionCount
}
