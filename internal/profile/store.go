// Package profile maintains per-account behavioral baselines.
package profile

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"sort"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/opensource-finance/shrike/internal/domain"
	"github.com/opensource-finance/shrike/internal/repository"
)

// coverageTarget is the share of observed activity the typical hour and
// day sets must account for.
const coverageTarget = 0.8

// Store computes, caches and serves behavioral profiles. Reads go
// cache -> repository -> recompute; recomputes for the same account are
// collapsed through singleflight so a burst of transactions does not
// trigger duplicate statistics passes.
type Store struct {
	repo   domain.Repository
	cache  domain.Cache
	cfg    domain.EngineConfig
	ttl    time.Duration
	logger *slog.Logger
	group  singleflight.Group
}

// NewStore creates a profile store.
func NewStore(repo domain.Repository, cache domain.Cache, cfg domain.EngineConfig, ttl time.Duration, logger *slog.Logger) *Store {
	if logger == nil {
		logger = slog.Default()
	}
	if ttl <= 0 {
		ttl = time.Hour
	}
	return &Store{
		repo:   repo,
		cache:  cache,
		cfg:    cfg,
		ttl:    ttl,
		logger: logger,
	}
}

// Get returns the account's behavioral profile, recomputing it when the
// stored copy is missing or stale. Returns domain.ErrInsufficientHistory
// when the account has fewer completed transactions than the cold-start
// minimum.
func (s *Store) Get(ctx context.Context, tenantID, accountID string) (*domain.BehavioralProfile, error) {
	if tenantID == "" || accountID == "" {
		return nil, fmt.Errorf("tenantID and accountID are required")
	}

	if s.cache != nil {
		cached, err := s.cache.GetProfile(ctx, tenantID, accountID)
		if err != nil {
			s.logger.Warn("profile cache read failed",
				"tenant_id", tenantID,
				"account_id", accountID,
				"error", err,
			)
		} else if cached != nil && !cached.Stale(s.cfg.ProfileRefreshInterval) {
			return cached, nil
		}
	}

	stored, err := s.repo.GetProfile(ctx, tenantID, accountID)
	if err != nil && !errors.Is(err, repository.ErrNotFound) {
		return nil, fmt.Errorf("failed to load profile: %w", err)
	}
	if stored != nil && !stored.Stale(s.cfg.ProfileRefreshInterval) {
		s.cacheProfile(ctx, tenantID, stored)
		return stored, nil
	}

	refreshed, err := s.Refresh(ctx, tenantID, accountID)
	if err != nil {
		// A stale profile beats no profile when recompute fails for a
		// reason other than thin history.
		if stored != nil && !errors.Is(err, domain.ErrInsufficientHistory) {
			s.logger.Warn("profile refresh failed, serving stale profile",
				"tenant_id", tenantID,
				"account_id", accountID,
				"error", err,
			)
			return stored, nil
		}
		return nil, err
	}
	return refreshed, nil
}

// Refresh recomputes the account's profile from its recent completed
// transactions and persists the result. Concurrent refreshes of the same
// account share one computation.
func (s *Store) Refresh(ctx context.Context, tenantID, accountID string) (*domain.BehavioralProfile, error) {
	if tenantID == "" || accountID == "" {
		return nil, fmt.Errorf("tenantID and accountID are required")
	}

	key := tenantID + ":" + accountID
	result, err, _ := s.group.Do(key, func() (any, error) {
		return s.compute(ctx, tenantID, accountID)
	})
	if err != nil {
		return nil, err
	}
	return result.(*domain.BehavioralProfile), nil
}

func (s *Store) compute(ctx context.Context, tenantID, accountID string) (*domain.BehavioralProfile, error) {
	transactions, err := s.repo.RecentTransactionsByAccount(ctx, tenantID, accountID, s.cfg.ProfileLookback)
	if err != nil {
		return nil, fmt.Errorf("failed to load transaction history: %w", err)
	}

	minHistory := s.cfg.MinProfileHistory
	if minHistory <= 0 {
		minHistory = 5
	}
	if len(transactions) < minHistory {
		return nil, fmt.Errorf("%w: account %s has %d completed transactions, need %d",
			domain.ErrInsufficientHistory, accountID, len(transactions), minHistory)
	}

	profile := Compute(tenantID, accountID, transactions)

	if err := s.repo.SaveProfile(ctx, tenantID, profile); err != nil {
		return nil, fmt.Errorf("failed to save profile: %w", err)
	}
	s.cacheProfile(ctx, tenantID, profile)

	s.logger.Debug("behavioral profile refreshed",
		"tenant_id", tenantID,
		"account_id", accountID,
		"sample_size", profile.SampleSize,
	)
	return profile, nil
}

func (s *Store) cacheProfile(ctx context.Context, tenantID string, profile *domain.BehavioralProfile) {
	if s.cache == nil {
		return
	}
	if err := s.cache.SetProfile(ctx, tenantID, profile, s.ttl); err != nil {
		s.logger.Warn("profile cache write failed",
			"tenant_id", tenantID,
			"account_id", profile.AccountID,
			"error", err,
		)
	}
}

// Invalidate drops the cached copy so the next read recomputes.
func (s *Store) Invalidate(ctx context.Context, tenantID, accountID string) error {
	if s.cache == nil {
		return nil
	}
	return s.cache.Delete(ctx, tenantID, "profile:"+accountID)
}

// Compute derives a behavioral profile from an account's transaction
// history. Amounts are compared on magnitude: a -500 purchase and a +500
// deposit are equally sized events for baseline purposes.
func Compute(tenantID, accountID string, transactions []*domain.Transaction) *domain.BehavioralProfile {
	amounts := make([]float64, 0, len(transactions))
	hourCounts := make(map[int]int)
	dayCounts := make(map[int]int)
	dailyAmount := make(map[string]float64)
	dailyCount := make(map[string]int)

	for _, tx := range transactions {
		amount := math.Abs(tx.Amount)
		amounts = append(amounts, amount)

		ts := tx.Timestamp.UTC()
		hourCounts[ts.Hour()]++
		dayCounts[int(ts.Weekday())]++

		day := ts.Format("2006-01-02")
		dailyAmount[day] += amount
		dailyCount[day]++
	}

	mean, std := meanStd(amounts)

	var maxDailyAmount float64
	for _, v := range dailyAmount {
		if v > maxDailyAmount {
			maxDailyAmount = v
		}
	}
	var maxDailyCount int
	for _, v := range dailyCount {
		if v > maxDailyCount {
			maxDailyCount = v
		}
	}

	return &domain.BehavioralProfile{
		TenantID:       tenantID,
		AccountID:      accountID,
		AvgAmount:      mean,
		StdAmount:      std,
		MaxDailyAmount: maxDailyAmount,
		MaxDailyCount:  maxDailyCount,
		TypicalHours:   topCovering(hourCounts, len(transactions)),
		TypicalDays:    topCovering(dayCounts, len(transactions)),
		SampleSize:     len(transactions),
		UpdatedAt:      time.Now().UTC(),
	}
}

func meanStd(values []float64) (float64, float64) {
	if len(values) == 0 {
		return 0, 0
	}

	var sum float64
	for _, v := range values {
		sum += v
	}
	mean := sum / float64(len(values))

	var variance float64
	for _, v := range values {
		d := v - mean
		variance += d * d
	}
	variance /= float64(len(values))

	return mean, math.Sqrt(variance)
}

// topCovering returns the smallest most-frequent-first set of buckets
// accounting for at least the coverage target of total observations.
// Ties break toward the lower bucket value for determinism.
func topCovering(counts map[int]int, total int) []int {
	if total == 0 {
		return nil
	}

	type bucket struct {
		value int
		count int
	}
	buckets := make([]bucket, 0, len(counts))
	for v, c := range counts {
		buckets = append(buckets, bucket{value: v, count: c})
	}
	sort.Slice(buckets, func(i, j int) bool {
		if buckets[i].count != buckets[j].count {
			return buckets[i].count > buckets[j].count
		}
		return buckets[i].value < buckets[j].value
	})

	target := int(math.Ceil(coverageTarget * float64(total)))
	var covered int
	var selected []int
	for _, b := range buckets {
		selected = append(selected, b.value)
		covered += b.count
		if covered >= target {
			break
		}
	}

	sort.Ints(selected)
	return selected
}
