// Package worker consumes transaction-completed events and runs the
// detection pipeline asynchronously.
package worker

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/opensource-finance/shrike/internal/domain"
	"github.com/opensource-finance/shrike/internal/repository"
	"github.com/opensource-finance/shrike/internal/scoring"
	"github.com/opensource-finance/shrike/internal/velocity"
)

// Worker subscribes to transaction-completed events and feeds them to
// the analyzer. Delivery is at-least-once; the per-transaction alert
// check and the repository's alert uniqueness keep processing
// idempotent.
type Worker struct {
	bus      domain.EventBus
	repo     domain.Repository
	analyzer *scoring.Analyzer
	velocity *velocity.Service
	logger   *slog.Logger

	mu            sync.Mutex
	subscriptions []domain.Subscription
	processed     int64
	skipped       int64
	failed        int64

	ctx    context.Context
	cancel context.CancelFunc
}

// Config holds worker configuration.
type Config struct {
	// TenantIDs is the list of tenants to process.
	TenantIDs []string

	// VelocityWindows are the trailing windows counted per account.
	// Align them with the windows of active VELOCITY rules so the
	// counters can serve those checks directly.
	VelocityWindows []time.Duration
}

// NewWorker creates an async worker.
func NewWorker(bus domain.EventBus, repo domain.Repository, analyzer *scoring.Analyzer, vel *velocity.Service, logger *slog.Logger) *Worker {
	if logger == nil {
		logger = slog.Default()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Worker{
		bus:      bus,
		repo:     repo,
		analyzer: analyzer,
		velocity: vel,
		logger:   logger,
		ctx:      ctx,
		cancel:   cancel,
	}
}

// Start subscribes to the transaction-completed topic for each tenant.
func (w *Worker) Start(cfg Config) error {
	windows := cfg.VelocityWindows
	if len(windows) == 0 {
		windows = []time.Duration{time.Hour}
	}

	for _, tenantID := range cfg.TenantIDs {
		tid := tenantID
		sub, err := w.bus.Subscribe(w.ctx, tid, domain.TopicTransactionCompleted, func(ctx context.Context, msg *domain.Message) error {
			w.process(ctx, tid, windows, msg)
			// Processing failures are logged, not returned: a scoring
			// problem must not fail the producer or trigger redelivery
			// storms.
			return nil
		})
		if err != nil {
			w.logger.Error("failed to start worker for tenant",
				"tenant_id", tid,
				"error", err,
			)
			continue
		}
		w.mu.Lock()
		w.subscriptions = append(w.subscriptions, sub)
		w.mu.Unlock()
	}

	w.logger.Info("workers started", "tenant_count", len(cfg.TenantIDs))
	return nil
}

func (w *Worker) process(ctx context.Context, tenantID string, windows []time.Duration, msg *domain.Message) {
	var event domain.TransactionEvent
	if err := json.Unmarshal(msg.Payload, &event); err != nil {
		w.logger.Error("failed to decode transaction event",
			"tenant_id", tenantID,
			"message_id", msg.ID,
			"error", err,
		)
		w.count(&w.failed)
		return
	}

	if event.TenantID != "" && event.TenantID != tenantID {
		w.logger.Warn("event tenant mismatch, dropping",
			"subscription_tenant", tenantID,
			"event_tenant", event.TenantID,
			"tx_id", event.TransactionID,
		)
		w.count(&w.skipped)
		return
	}
	event.TenantID = tenantID

	tx := event.ToTransaction()
	if !tx.Completed() {
		w.count(&w.skipped)
		return
	}

	// Redelivery check: an alert already recorded for this transaction
	// means a previous delivery completed the pipeline.
	if _, err := w.repo.GetAlertByTransaction(ctx, tenantID, tx.ID); err == nil {
		w.logger.Debug("transaction already analyzed, skipping",
			"tenant_id", tenantID,
			"tx_id", tx.ID,
		)
		w.count(&w.skipped)
		return
	} else if !errors.Is(err, repository.ErrNotFound) {
		w.logger.Error("failed to check for existing alert",
			"tenant_id", tenantID,
			"tx_id", tx.ID,
			"error", err,
		)
		w.count(&w.failed)
		return
	}

	stored, err := w.ensureStored(ctx, tenantID, tx)
	if err != nil {
		w.logger.Error("failed to persist transaction",
			"tenant_id", tenantID,
			"tx_id", tx.ID,
			"error", err,
		)
		w.count(&w.failed)
		return
	}

	// Counters only move for first deliveries; a redelivered event must
	// not inflate the in-window tally.
	if stored && w.velocity != nil {
		for _, window := range windows {
			if _, err := w.velocity.Observe(ctx, tenantID, tx.AccountID, window); err != nil {
				w.logger.Warn("failed to record velocity observation",
					"tenant_id", tenantID,
					"account_id", tx.AccountID,
					"error", err,
				)
			}
		}
	}

	start := time.Now()
	alert, err := w.analyzer.Analyze(ctx, tx)
	if err != nil {
		w.logger.Error("analysis failed",
			"tenant_id", tenantID,
			"tx_id", tx.ID,
			"error", err,
		)
		w.count(&w.failed)
		return
	}
	w.count(&w.processed)

	w.logger.Info("transaction analyzed",
		"tenant_id", tenantID,
		"tx_id", tx.ID,
		"alerted", alert != nil,
		"duration_ms", time.Since(start).Milliseconds(),
	)
}

// ensureStored writes the transaction unless an earlier delivery
// already did. Reports whether this delivery stored it.
func (w *Worker) ensureStored(ctx context.Context, tenantID string, tx *domain.Transaction) (bool, error) {
	_, err := w.repo.GetTransaction(ctx, tenantID, tx.ID)
	if err == nil {
		return false, nil
	}
	if !errors.Is(err, repository.ErrNotFound) {
		return false, err
	}
	if err := w.repo.SaveTransaction(ctx, tenantID, tx); err != nil {
		return false, err
	}
	return true, nil
}

func (w *Worker) count(field *int64) {
	w.mu.Lock()
	*field++
	w.mu.Unlock()
}

// Stop unsubscribes all workers.
func (w *Worker) Stop() error {
	w.cancel()

	w.mu.Lock()
	subs := w.subscriptions
	w.subscriptions = nil
	w.mu.Unlock()

	for _, sub := range subs {
		if err := sub.Unsubscribe(); err != nil {
			w.logger.Error("failed to unsubscribe",
				"topic", sub.Topic(),
				"error", err,
			)
		}
	}

	w.logger.Info("workers stopped")
	return nil
}

// Stats reports worker counters.
type Stats struct {
	SubscriptionCount int   `json:"subscriptionCount"`
	Processed         int64 `json:"processed"`
	Skipped           int64 `json:"skipped"`
	Failed            int64 `json:"failed"`
}

// GetStats returns current worker statistics.
func (w *Worker) GetStats() Stats {
	w.mu.Lock()
	defer w.mu.Unlock()
	return Stats{
		SubscriptionCount: len(w.subscriptions),
		Processed:         w.processed,
		Skipped:           w.skipped,
		Failed:            w.failed,
	}
}
