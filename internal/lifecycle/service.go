// Package lifecycle manages alert resolution and fraud investigations.
package lifecycle

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/opensource-finance/shrike/internal/domain"
	"github.com/opensource-finance/shrike/internal/repository"
)

var (
	// ErrInvalidInput indicates missing or malformed input.
	ErrInvalidInput = errors.New("invalid input")

	// ErrAlreadyResolved indicates the alert is in a terminal state.
	ErrAlreadyResolved = errors.New("alert already resolved")

	// ErrInvalidTransition indicates a state change the lifecycle does
	// not allow.
	ErrInvalidTransition = errors.New("invalid state transition")
)

// Service drives the alert and investigation state machines. Terminal
// states are final: a resolved alert cannot be re-resolved and a closed
// investigation cannot be reopened.
type Service struct {
	repo   domain.Repository
	bus    domain.EventBus
	logger *slog.Logger
}

// NewService creates a lifecycle service.
func NewService(repo domain.Repository, bus domain.EventBus, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{repo: repo, bus: bus, logger: logger}
}

// Resolve moves an open or investigating alert to a terminal state. A
// fraud resolution opens an investigation when the alert has none yet.
func (s *Service) Resolve(ctx context.Context, tenantID, alertID, resolution, notes string) (*domain.FraudAlert, error) {
	if tenantID == "" || alertID == "" {
		return nil, fmt.Errorf("%w: tenantID and alertID are required", ErrInvalidInput)
	}

	status, err := statusFor(resolution)
	if err != nil {
		return nil, err
	}

	alert, err := s.repo.GetAlert(ctx, tenantID, alertID)
	if err != nil {
		return nil, err
	}
	if alert.Resolved() {
		return nil, fmt.Errorf("%w: alert %s is %s", ErrAlreadyResolved, alertID, alert.Status)
	}

	now := time.Now().UTC()
	alert.Status = status
	alert.ResolutionNotes = notes
	alert.ResolvedAt = &now
	alert.UpdatedAt = now

	if err := s.repo.UpdateAlert(ctx, tenantID, alert); err != nil {
		return nil, err
	}

	if status == domain.AlertResolvedFraud {
		if err := s.ensureInvestigation(ctx, tenantID, alert); err != nil {
			s.logger.Error("failed to open investigation for confirmed fraud",
				"tenant_id", tenantID,
				"alert_id", alertID,
				"error", err,
			)
		}
	}

	s.publishResolved(ctx, alert)

	s.logger.Info("alert resolved",
		"tenant_id", tenantID,
		"alert_id", alertID,
		"resolution", status,
	)
	return alert, nil
}

// Escalate moves an open alert to INVESTIGATING and assigns it.
func (s *Service) Escalate(ctx context.Context, tenantID, alertID, assignee string) (*domain.FraudAlert, error) {
	if tenantID == "" || alertID == "" {
		return nil, fmt.Errorf("%w: tenantID and alertID are required", ErrInvalidInput)
	}

	alert, err := s.repo.GetAlert(ctx, tenantID, alertID)
	if err != nil {
		return nil, err
	}
	if alert.Status != domain.AlertOpen {
		return nil, fmt.Errorf("%w: cannot escalate alert in status %s", ErrInvalidTransition, alert.Status)
	}

	alert.Status = domain.AlertInvestigating
	alert.Escalated = true
	alert.AssignedTo = assignee
	alert.UpdatedAt = time.Now().UTC()

	if err := s.repo.UpdateAlert(ctx, tenantID, alert); err != nil {
		return nil, err
	}

	s.logger.Info("alert escalated",
		"tenant_id", tenantID,
		"alert_id", alertID,
		"assigned_to", assignee,
	)
	return alert, nil
}

// Assign hands an open investigation to an investigator, moving it to
// IN_PROGRESS.
func (s *Service) Assign(ctx context.Context, tenantID, invID, investigator string) (*domain.FraudInvestigation, error) {
	if tenantID == "" || invID == "" || investigator == "" {
		return nil, fmt.Errorf("%w: tenantID, invID and investigator are required", ErrInvalidInput)
	}

	inv, err := s.repo.GetInvestigation(ctx, tenantID, invID)
	if err != nil {
		return nil, err
	}
	if inv.Status != domain.InvestigationOpen {
		return nil, fmt.Errorf("%w: cannot assign investigation in status %s", ErrInvalidTransition, inv.Status)
	}

	now := time.Now().UTC()
	inv.Status = domain.InvestigationInProgress
	inv.Investigator = investigator
	inv.AssignedAt = &now
	inv.UpdatedAt = now

	if err := s.repo.UpdateInvestigation(ctx, tenantID, inv); err != nil {
		return nil, err
	}
	return inv, nil
}

// AddNote appends a timestamped, attributed note. Notes are allowed in
// any state, including after close.
func (s *Service) AddNote(ctx context.Context, tenantID, invID, author, text string) (*domain.FraudInvestigation, error) {
	if tenantID == "" || invID == "" {
		return nil, fmt.Errorf("%w: tenantID and invID are required", ErrInvalidInput)
	}
	if text == "" {
		return nil, fmt.Errorf("%w: note text is required", ErrInvalidInput)
	}

	inv, err := s.repo.GetInvestigation(ctx, tenantID, invID)
	if err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	inv.Notes = append(inv.Notes, domain.InvestigationNote{
		Author:    author,
		Text:      text,
		CreatedAt: now,
	})
	inv.UpdatedAt = now

	if err := s.repo.UpdateInvestigation(ctx, tenantID, inv); err != nil {
		return nil, err
	}
	return inv, nil
}

// Close moves an in-progress investigation to one of the terminal
// states with a resolution summary.
func (s *Service) Close(ctx context.Context, tenantID, invID, status, summary string) (*domain.FraudInvestigation, error) {
	if tenantID == "" || invID == "" {
		return nil, fmt.Errorf("%w: tenantID and invID are required", ErrInvalidInput)
	}

	switch status {
	case domain.InvestigationClosedFraud, domain.InvestigationClosedLegitimate, domain.InvestigationClosedInconclusive:
	default:
		return nil, fmt.Errorf("%w: unknown closing status %q", ErrInvalidInput, status)
	}

	inv, err := s.repo.GetInvestigation(ctx, tenantID, invID)
	if err != nil {
		return nil, err
	}
	if inv.Status != domain.InvestigationInProgress {
		return nil, fmt.Errorf("%w: cannot close investigation in status %s", ErrInvalidTransition, inv.Status)
	}

	now := time.Now().UTC()
	inv.Status = status
	inv.ResolutionSummary = summary
	inv.ClosedAt = &now
	inv.UpdatedAt = now

	if err := s.repo.UpdateInvestigation(ctx, tenantID, inv); err != nil {
		return nil, err
	}

	s.logger.Info("investigation closed",
		"tenant_id", tenantID,
		"investigation_id", invID,
		"case_number", inv.CaseNumber,
		"status", status,
	)
	return inv, nil
}

// ensureInvestigation opens an investigation for the alert unless one
// already exists.
func (s *Service) ensureInvestigation(ctx context.Context, tenantID string, alert *domain.FraudAlert) error {
	_, err := s.repo.GetInvestigationByAlert(ctx, tenantID, alert.ID)
	if err == nil {
		return nil
	}
	if !errors.Is(err, repository.ErrNotFound) {
		return err
	}

	priority := domain.PriorityMedium
	if alert.RiskScore > 80 {
		priority = domain.PriorityHigh
	}

	now := time.Now().UTC()
	inv := &domain.FraudInvestigation{
		ID:         uuid.New().String(),
		TenantID:   tenantID,
		AlertID:    alert.ID,
		CaseNumber: newCaseNumber(now),
		Status:     domain.InvestigationOpen,
		Priority:   priority,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	if err := s.repo.SaveInvestigation(ctx, tenantID, inv); err != nil {
		return err
	}

	s.logger.Info("investigation opened",
		"tenant_id", tenantID,
		"alert_id", alert.ID,
		"case_number", inv.CaseNumber,
		"priority", priority,
	)
	return nil
}

func (s *Service) publishResolved(ctx context.Context, alert *domain.FraudAlert) {
	if s.bus == nil {
		return
	}
	payload, _ := json.Marshal(alert)
	if err := s.bus.Publish(ctx, alert.TenantID, domain.TopicAlertResolved, payload); err != nil {
		s.logger.Warn("failed to publish alert resolved event",
			"tenant_id", alert.TenantID,
			"alert_id", alert.ID,
			"error", err,
		)
	}
}

// statusFor maps an operator resolution to the alert's terminal status.
func statusFor(resolution string) (string, error) {
	switch resolution {
	case domain.ResolutionFraud:
		return domain.AlertResolvedFraud, nil
	case domain.ResolutionLegitimate:
		return domain.AlertResolvedLegitimate, nil
	case domain.ResolutionFalsePositive:
		return domain.AlertFalsePositive, nil
	default:
		return "", fmt.Errorf("%w: unknown resolution %q", ErrInvalidInput, resolution)
	}
}

// newCaseNumber builds a human-readable case number, e.g.
// INV-20240610-9F3A1C07.
func newCaseNumber(now time.Time) string {
	suffix := strings.ToUpper(strings.ReplaceAll(uuid.New().String(), "-", "")[:8])
	return fmt.Sprintf("INV-%s-%s", now.Format("20060102"), suffix)
}
