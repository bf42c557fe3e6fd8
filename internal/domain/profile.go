package domain

import (
	"errors"
	"time"
)

// ErrInsufficientHistory is returned when an account has too little
// transaction history to compute a usable behavioral profile. It is a
// normal outcome, not a failure: callers degrade to whatever signal
// remains available.
var ErrInsufficientHistory = errors.New("insufficient transaction history")

// BehavioralProfile is a per-account rolling statistical summary used as a
// baseline for anomaly comparison.
type BehavioralProfile struct {
	TenantID  string `json:"tenantId"`
	AccountID string `json:"accountId"`

	// Amount statistics over the lookback window.
	AvgAmount float64 `json:"avgAmount"`
	StdAmount float64 `json:"stdAmount"`

	// Maxima observed within any single day of the lookback window.
	MaxDailyAmount float64 `json:"maxDailyAmount"`
	MaxDailyCount  int     `json:"maxDailyCount"`

	// Hours (0-23) and weekdays (0=Sunday) accounting for the bulk of
	// observed activity.
	TypicalHours []int `json:"typicalHours"`
	TypicalDays  []int `json:"typicalDays"`

	// SampleSize is the number of transactions the profile was computed
	// from.
	SampleSize int `json:"sampleSize"`

	UpdatedAt time.Time `json:"updatedAt"`
}

// Stale reports whether the profile is older than maxAge.
func (p *BehavioralProfile) Stale(maxAge time.Duration) bool {
	return time.Since(p.UpdatedAt) > maxAge
}

// TypicalHour reports whether h is one of the account's typical hours.
func (p *BehavioralProfile) TypicalHour(h int) bool {
	for _, th := range p.TypicalHours {
		if th == h {
			return true
		}
	}
	return false
}

// TypicalDay reports whether weekday d is typical for the account.
func (p *BehavioralProfile) TypicalDay(d int) bool {
	for _, td := range p.TypicalDays {
		if td == d {
			return true
		}
	}
	return false
}
