package scoring

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/opensource-finance/shrike/internal/domain"
)

// sampleMatchLimit caps how many example matches a dry run reports.
const sampleMatchLimit = 10

// RuleTestReport summarizes a dry run of one rule over recent history.
type RuleTestReport struct {
	RuleName           string          `json:"ruleName"`
	TransactionsTested int             `json:"transactionsTested"`
	MatchesFound       int             `json:"matchesFound"`
	MatchRate          float64         `json:"matchRate"`
	SampleMatches      []RuleTestMatch `json:"sampleMatches"`
}

// RuleTestMatch is one transaction a dry-run rule fired on.
type RuleTestMatch struct {
	TransactionID string    `json:"transactionId"`
	Amount        float64   `json:"amount"`
	Timestamp     time.Time `json:"timestamp"`
	RiskScore     float64   `json:"riskScore"`
	Reason        string    `json:"reason"`
	Factors       []string  `json:"factors"`
}

// TestRule replays a candidate rule against the tenant's recent
// transactions without recording alerts, so an operator can gauge its
// match rate before activating it.
func (a *Analyzer) TestRule(ctx context.Context, tenantID string, rule *domain.DetectionRule, limit int) (*RuleTestReport, error) {
	if rule == nil {
		return nil, fmt.Errorf("rule is required")
	}
	if limit <= 0 {
		limit = 100
	}

	txs, err := a.repo.RecentTransactions(ctx, tenantID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to load recent transactions: %w", err)
	}

	report := &RuleTestReport{
		RuleName:           rule.Name,
		TransactionsTested: len(txs),
		SampleMatches:      []RuleTestMatch{},
	}
	candidate := []*domain.DetectionRule{rule}
	profiles := make(map[string]*domain.BehavioralProfile)

	for _, tx := range txs {
		prof, seen := profiles[tx.AccountID]
		if !seen && a.profiles != nil {
			prof, err = a.profiles.Get(ctx, tenantID, tx.AccountID)
			if err != nil && !errors.Is(err, domain.ErrInsufficientHistory) {
				a.logger.Warn("behavioral profile unavailable during dry run",
					"tenant_id", tenantID,
					"account_id", tx.AccountID,
					"error", err,
				)
			}
			profiles[tx.AccountID] = prof
		}

		match, err := a.rules.Evaluate(ctx, tx, prof, candidate)
		if err != nil {
			a.logger.Warn("rule dry run failed on transaction",
				"tenant_id", tenantID,
				"tx_id", tx.ID,
				"error", err,
			)
			continue
		}
		if match == nil {
			continue
		}

		report.MatchesFound++
		if len(report.SampleMatches) < sampleMatchLimit {
			report.SampleMatches = append(report.SampleMatches, RuleTestMatch{
				TransactionID: tx.ID,
				Amount:        tx.Amount,
				Timestamp:     tx.Timestamp,
				RiskScore:     domain.ClampScore(match.RiskScore),
				Reason:        match.Reason,
				Factors:       match.Factors,
			})
		}
	}

	if report.TransactionsTested > 0 {
		report.MatchRate = float64(report.MatchesFound) / float64(report.TransactionsTested) * 100
	}
	return report, nil
}
