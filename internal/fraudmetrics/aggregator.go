// Package fraudmetrics computes daily fraud detection rollups.
package fraudmetrics

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"time"

	"github.com/opensource-finance/shrike/internal/domain"
)

// Aggregator computes per-day detection metrics from alert and
// transaction history and serves reporting queries over stored rows.
type Aggregator struct {
	repo   domain.Repository
	logger *slog.Logger
}

// NewAggregator creates an aggregator.
func NewAggregator(repo domain.Repository, logger *slog.Logger) *Aggregator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Aggregator{repo: repo, logger: logger}
}

// Summary is an aggregate over a date range.
type Summary struct {
	From time.Time `json:"from"`
	To   time.Time `json:"to"`

	TotalTransactions   int64 `json:"totalTransactions"`
	FlaggedTransactions int64 `json:"flaggedTransactions"`
	ConfirmedFraud      int64 `json:"confirmedFraud"`
	FalsePositives      int64 `json:"falsePositives"`

	FraudRate         float64 `json:"fraudRate"`
	DetectionRate     float64 `json:"detectionRate"`
	FalsePositiveRate float64 `json:"falsePositiveRate"`
	Precision         float64 `json:"precision"`

	FraudAmountDetected  float64 `json:"fraudAmountDetected"`
	FraudAmountPrevented float64 `json:"fraudAmountPrevented"`
}

// TrendPoint is one day of a reporting trend.
type TrendPoint struct {
	Date                time.Time `json:"date"`
	TotalTransactions   int64     `json:"totalTransactions"`
	FlaggedTransactions int64     `json:"flaggedTransactions"`
	ConfirmedFraud      int64     `json:"confirmedFraud"`
	FraudRate           float64   `json:"fraudRate"`
	FraudAmountDetected float64   `json:"fraudAmountDetected"`
}

// ComputeDaily recomputes and upserts the rollup for the UTC day
// containing the given time. Re-running for the same day replaces the
// row, so confirmations that arrive after the first run are picked up.
func (a *Aggregator) ComputeDaily(ctx context.Context, tenantID string, day time.Time) (*domain.DailyMetrics, error) {
	if tenantID == "" {
		return nil, fmt.Errorf("tenantID is required")
	}

	start := day.UTC().Truncate(24 * time.Hour)
	end := start.Add(24 * time.Hour)

	total, err := a.repo.CountTransactionsBetween(ctx, tenantID, start, end)
	if err != nil {
		return nil, fmt.Errorf("failed to count transactions: %w", err)
	}

	alerts, err := a.repo.ListAlerts(ctx, tenantID, domain.AlertFilter{From: start, To: end})
	if err != nil {
		return nil, fmt.Errorf("failed to list alerts: %w", err)
	}

	m := &domain.DailyMetrics{
		TenantID:            tenantID,
		Date:                start,
		TotalTransactions:   total,
		FlaggedTransactions: int64(len(alerts)),
		ComputedAt:          time.Now().UTC(),
	}

	for _, alert := range alerts {
		switch alert.Status {
		case domain.AlertResolvedFraud:
			m.ConfirmedFraud++
		case domain.AlertFalsePositive:
			m.FalsePositives++
		}

		amount, err := a.alertAmount(ctx, tenantID, alert)
		if err != nil {
			a.logger.Warn("failed to resolve alert transaction amount",
				"tenant_id", tenantID,
				"alert_id", alert.ID,
				"error", err,
			)
			continue
		}
		m.FraudAmountDetected += amount
		if alert.AutoBlocked {
			m.FraudAmountPrevented += amount
		}
	}

	// Fraud rate and detection rate are over all transactions; false
	// positive rate and precision are over flagged transactions.
	m.FraudRate = rate(m.ConfirmedFraud, m.TotalTransactions)
	m.DetectionRate = rate(m.FlaggedTransactions, m.TotalTransactions)
	m.FalsePositiveRate = rate(m.FalsePositives, m.FlaggedTransactions)
	m.Precision = rate(m.ConfirmedFraud, m.FlaggedTransactions)

	if err := a.repo.SaveDailyMetrics(ctx, tenantID, m); err != nil {
		return nil, fmt.Errorf("failed to save daily metrics: %w", err)
	}

	a.logger.Info("daily metrics computed",
		"tenant_id", tenantID,
		"date", start.Format("2006-01-02"),
		"total", m.TotalTransactions,
		"flagged", m.FlaggedTransactions,
		"confirmed", m.ConfirmedFraud,
	)
	return m, nil
}

// Summary aggregates the stored rollups in [from, to].
func (a *Aggregator) Summary(ctx context.Context, tenantID string, from, to time.Time) (*Summary, error) {
	if tenantID == "" {
		return nil, fmt.Errorf("tenantID is required")
	}

	rows, err := a.repo.ListDailyMetrics(ctx, tenantID, from, to)
	if err != nil {
		return nil, fmt.Errorf("failed to list daily metrics: %w", err)
	}

	s := &Summary{From: from, To: to}
	for _, row := range rows {
		s.TotalTransactions += row.TotalTransactions
		s.FlaggedTransactions += row.FlaggedTransactions
		s.ConfirmedFraud += row.ConfirmedFraud
		s.FalsePositives += row.FalsePositives
		s.FraudAmountDetected += row.FraudAmountDetected
		s.FraudAmountPrevented += row.FraudAmountPrevented
	}

	// Rates are recomputed from the summed counts rather than averaged
	// across days, so light and heavy days weigh correctly.
	s.FraudRate = rate(s.ConfirmedFraud, s.TotalTransactions)
	s.DetectionRate = rate(s.FlaggedTransactions, s.TotalTransactions)
	s.FalsePositiveRate = rate(s.FalsePositives, s.FlaggedTransactions)
	s.Precision = rate(s.ConfirmedFraud, s.FlaggedTransactions)
	return s, nil
}

// Trends returns the stored rollups in [from, to] as chart-ready points,
// oldest first.
func (a *Aggregator) Trends(ctx context.Context, tenantID string, from, to time.Time) ([]TrendPoint, error) {
	if tenantID == "" {
		return nil, fmt.Errorf("tenantID is required")
	}

	rows, err := a.repo.ListDailyMetrics(ctx, tenantID, from, to)
	if err != nil {
		return nil, fmt.Errorf("failed to list daily metrics: %w", err)
	}

	points := make([]TrendPoint, 0, len(rows))
	for _, row := range rows {
		points = append(points, TrendPoint{
			Date:                row.Date,
			TotalTransactions:   row.TotalTransactions,
			FlaggedTransactions: row.FlaggedTransactions,
			ConfirmedFraud:      row.ConfirmedFraud,
			FraudRate:           row.FraudRate,
			FraudAmountDetected: row.FraudAmountDetected,
		})
	}
	return points, nil
}

func (a *Aggregator) alertAmount(ctx context.Context, tenantID string, alert *domain.FraudAlert) (float64, error) {
	tx, err := a.repo.GetTransaction(ctx, tenantID, alert.TransactionID)
	if err != nil {
		return 0, err
	}
	return math.Abs(tx.Amount), nil
}

// rate returns num/den as a percentage, or 0 when the denominator is 0.
func rate(num, den int64) float64 {
	if den == 0 {
		return 0
	}
	return float64(num) / float64(den) * 100
}
