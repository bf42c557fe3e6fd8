package lifecycle

import (
	"context"
	"errors"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/opensource-finance/shrike/internal/bus"
	"github.com/opensource-finance/shrike/internal/domain"
	"github.com/opensource-finance/shrike/internal/repository"
)

func newTestService(t *testing.T) (*Service, domain.Repository, *bus.ChannelBus) {
	t.Helper()

	repo, err := repository.New(domain.RepositoryConfig{
		Driver:     "sqlite",
		SQLitePath: filepath.Join(t.TempDir(), "lifecycle.db"),
	})
	if err != nil {
		t.Fatalf("failed to create repository: %v", err)
	}
	t.Cleanup(func() { repo.Close() })

	b := bus.NewChannelBus(100)
	t.Cleanup(func() { b.Close() })

	return NewService(repo, b, nil), repo, b
}

func seedAlert(t *testing.T, repo domain.Repository, tenantID string, riskScore float64) *domain.FraudAlert {
	t.Helper()
	now := time.Now().UTC()
	alert := &domain.FraudAlert{
		ID:              uuid.New().String(),
		TenantID:        tenantID,
		TransactionID:   uuid.New().String(),
		AccountID:       "acc-1",
		RiskScore:       riskScore,
		ConfidenceScore: 95,
		Status:          domain.AlertOpen,
		Reason:          "amount exceeds threshold",
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	if err := repo.SaveAlert(context.Background(), tenantID, alert); err != nil {
		t.Fatalf("failed to seed alert: %v", err)
	}
	return alert
}

func TestResolve(t *testing.T) {
	ctx := context.Background()

	t.Run("Legitimate", func(t *testing.T) {
		svc, repo, _ := newTestService(t)
		alert := seedAlert(t, repo, "tenant-a", 90)

		resolved, err := svc.Resolve(ctx, "tenant-a", alert.ID, domain.ResolutionLegitimate, "customer confirmed purchase")
		if err != nil {
			t.Fatalf("Resolve failed: %v", err)
		}
		if resolved.Status != domain.AlertResolvedLegitimate {
			t.Errorf("expected RESOLVED_LEGITIMATE, got %q", resolved.Status)
		}
		if resolved.ResolvedAt == nil {
			t.Error("expected ResolvedAt to be set")
		}
		if resolved.ResolutionNotes != "customer confirmed purchase" {
			t.Errorf("unexpected notes %q", resolved.ResolutionNotes)
		}

		// legitimate resolution opens no investigation
		if _, err := repo.GetInvestigationByAlert(ctx, "tenant-a", alert.ID); !errors.Is(err, repository.ErrNotFound) {
			t.Errorf("expected no investigation, got err=%v", err)
		}
	})

	t.Run("FraudOpensInvestigation", func(t *testing.T) {
		svc, repo, _ := newTestService(t)
		alert := seedAlert(t, repo, "tenant-a", 90)

		if _, err := svc.Resolve(ctx, "tenant-a", alert.ID, domain.ResolutionFraud, "card reported stolen"); err != nil {
			t.Fatalf("Resolve failed: %v", err)
		}

		inv, err := repo.GetInvestigationByAlert(ctx, "tenant-a", alert.ID)
		if err != nil {
			t.Fatalf("expected an investigation: %v", err)
		}
		if inv.Status != domain.InvestigationOpen {
			t.Errorf("expected OPEN investigation, got %q", inv.Status)
		}
		if inv.Priority != domain.PriorityHigh {
			t.Errorf("expected HIGH priority for risk 90, got %q", inv.Priority)
		}
		if !strings.HasPrefix(inv.CaseNumber, "INV-") {
			t.Errorf("unexpected case number %q", inv.CaseNumber)
		}
	})

	t.Run("FraudMediumPriority", func(t *testing.T) {
		svc, repo, _ := newTestService(t)
		alert := seedAlert(t, repo, "tenant-a", 65)

		if _, err := svc.Resolve(ctx, "tenant-a", alert.ID, domain.ResolutionFraud, ""); err != nil {
			t.Fatalf("Resolve failed: %v", err)
		}
		inv, err := repo.GetInvestigationByAlert(ctx, "tenant-a", alert.ID)
		if err != nil {
			t.Fatalf("expected an investigation: %v", err)
		}
		if inv.Priority != domain.PriorityMedium {
			t.Errorf("expected MEDIUM priority for risk 65, got %q", inv.Priority)
		}
	})

	t.Run("PublishesResolvedEvent", func(t *testing.T) {
		svc, repo, b := newTestService(t)
		alert := seedAlert(t, repo, "tenant-a", 50)

		received := make(chan *domain.Message, 1)
		sub, err := b.Subscribe(ctx, "tenant-a", domain.TopicAlertResolved, func(_ context.Context, msg *domain.Message) error {
			received <- msg
			return nil
		})
		if err != nil {
			t.Fatalf("Subscribe failed: %v", err)
		}
		defer sub.Unsubscribe()

		if _, err := svc.Resolve(ctx, "tenant-a", alert.ID, domain.ResolutionFalsePositive, "rule too aggressive"); err != nil {
			t.Fatalf("Resolve failed: %v", err)
		}

		select {
		case <-received:
		case <-time.After(2 * time.Second):
			t.Error("alert resolved event was not published")
		}
	})

	t.Run("TerminalStateIsFinal", func(t *testing.T) {
		svc, repo, _ := newTestService(t)
		alert := seedAlert(t, repo, "tenant-a", 50)

		if _, err := svc.Resolve(ctx, "tenant-a", alert.ID, domain.ResolutionLegitimate, ""); err != nil {
			t.Fatalf("first Resolve failed: %v", err)
		}
		_, err := svc.Resolve(ctx, "tenant-a", alert.ID, domain.ResolutionFraud, "")
		if !errors.Is(err, ErrAlreadyResolved) {
			t.Errorf("expected ErrAlreadyResolved, got %v", err)
		}
	})

	t.Run("UnknownResolution", func(t *testing.T) {
		svc, repo, _ := newTestService(t)
		alert := seedAlert(t, repo, "tenant-a", 50)

		_, err := svc.Resolve(ctx, "tenant-a", alert.ID, "maybe", "")
		if !errors.Is(err, ErrInvalidInput) {
			t.Errorf("expected ErrInvalidInput, got %v", err)
		}
	})

	t.Run("ResolveFromInvestigating", func(t *testing.T) {
		svc, repo, _ := newTestService(t)
		alert := seedAlert(t, repo, "tenant-a", 90)

		if _, err := svc.Escalate(ctx, "tenant-a", alert.ID, "analyst@bank"); err != nil {
			t.Fatalf("Escalate failed: %v", err)
		}
		resolved, err := svc.Resolve(ctx, "tenant-a", alert.ID, domain.ResolutionFraud, "")
		if err != nil {
			t.Fatalf("Resolve from INVESTIGATING failed: %v", err)
		}
		if resolved.Status != domain.AlertResolvedFraud {
			t.Errorf("expected RESOLVED_FRAUD, got %q", resolved.Status)
		}
	})
}

func TestEscalate(t *testing.T) {
	ctx := context.Background()

	t.Run("OpenAlert", func(t *testing.T) {
		svc, repo, _ := newTestService(t)
		alert := seedAlert(t, repo, "tenant-a", 90)

		escalated, err := svc.Escalate(ctx, "tenant-a", alert.ID, "analyst@bank")
		if err != nil {
			t.Fatalf("Escalate failed: %v", err)
		}
		if escalated.Status != domain.AlertInvestigating {
			t.Errorf("expected INVESTIGATING, got %q", escalated.Status)
		}
		if !escalated.Escalated {
			t.Error("expected Escalated flag")
		}
		if escalated.AssignedTo != "analyst@bank" {
			t.Errorf("unexpected assignee %q", escalated.AssignedTo)
		}
	})

	t.Run("OnlyFromOpen", func(t *testing.T) {
		svc, repo, _ := newTestService(t)
		alert := seedAlert(t, repo, "tenant-a", 90)

		if _, err := svc.Escalate(ctx, "tenant-a", alert.ID, "analyst@bank"); err != nil {
			t.Fatalf("Escalate failed: %v", err)
		}
		_, err := svc.Escalate(ctx, "tenant-a", alert.ID, "other@bank")
		if !errors.Is(err, ErrInvalidTransition) {
			t.Errorf("expected ErrInvalidTransition, got %v", err)
		}
	})
}

func TestInvestigationWorkflow(t *testing.T) {
	ctx := context.Background()

	openInvestigation := func(t *testing.T, svc *Service, repo domain.Repository) *domain.FraudInvestigation {
		t.Helper()
		alert := seedAlert(t, repo, "tenant-a", 90)
		if _, err := svc.Resolve(ctx, "tenant-a", alert.ID, domain.ResolutionFraud, ""); err != nil {
			t.Fatalf("Resolve failed: %v", err)
		}
		inv, err := repo.GetInvestigationByAlert(ctx, "tenant-a", alert.ID)
		if err != nil {
			t.Fatalf("expected an investigation: %v", err)
		}
		return inv
	}

	t.Run("AssignMovesToInProgress", func(t *testing.T) {
		svc, repo, _ := newTestService(t)
		inv := openInvestigation(t, svc, repo)

		assigned, err := svc.Assign(ctx, "tenant-a", inv.ID, "analyst@bank")
		if err != nil {
			t.Fatalf("Assign failed: %v", err)
		}
		if assigned.Status != domain.InvestigationInProgress {
			t.Errorf("expected IN_PROGRESS, got %q", assigned.Status)
		}
		if assigned.Investigator != "analyst@bank" {
			t.Errorf("unexpected investigator %q", assigned.Investigator)
		}
		if assigned.AssignedAt == nil {
			t.Error("expected AssignedAt to be set")
		}
	})

	t.Run("AssignOnlyFromOpen", func(t *testing.T) {
		svc, repo, _ := newTestService(t)
		inv := openInvestigation(t, svc, repo)

		if _, err := svc.Assign(ctx, "tenant-a", inv.ID, "analyst@bank"); err != nil {
			t.Fatalf("Assign failed: %v", err)
		}
		_, err := svc.Assign(ctx, "tenant-a", inv.ID, "other@bank")
		if !errors.Is(err, ErrInvalidTransition) {
			t.Errorf("expected ErrInvalidTransition, got %v", err)
		}
	})

	t.Run("Notes", func(t *testing.T) {
		svc, repo, _ := newTestService(t)
		inv := openInvestigation(t, svc, repo)

		updated, err := svc.AddNote(ctx, "tenant-a", inv.ID, "analyst@bank", "contacted the cardholder")
		if err != nil {
			t.Fatalf("AddNote failed: %v", err)
		}
		if len(updated.Notes) != 1 {
			t.Fatalf("expected 1 note, got %d", len(updated.Notes))
		}
		if updated.Notes[0].Author != "analyst@bank" || updated.Notes[0].Text != "contacted the cardholder" {
			t.Errorf("unexpected note %+v", updated.Notes[0])
		}
		if updated.Notes[0].CreatedAt.IsZero() {
			t.Error("expected note timestamp")
		}
	})

	t.Run("CloseFromInProgress", func(t *testing.T) {
		svc, repo, _ := newTestService(t)
		inv := openInvestigation(t, svc, repo)

		if _, err := svc.Assign(ctx, "tenant-a", inv.ID, "analyst@bank"); err != nil {
			t.Fatalf("Assign failed: %v", err)
		}
		closed, err := svc.Close(ctx, "tenant-a", inv.ID, domain.InvestigationClosedFraud, "stolen card confirmed")
		if err != nil {
			t.Fatalf("Close failed: %v", err)
		}
		if closed.Status != domain.InvestigationClosedFraud {
			t.Errorf("expected CLOSED_FRAUD, got %q", closed.Status)
		}
		if closed.ClosedAt == nil {
			t.Error("expected ClosedAt to be set")
		}
		if closed.ResolutionSummary != "stolen card confirmed" {
			t.Errorf("unexpected summary %q", closed.ResolutionSummary)
		}
	})

	t.Run("CloseRequiresInProgress", func(t *testing.T) {
		svc, repo, _ := newTestService(t)
		inv := openInvestigation(t, svc, repo)

		_, err := svc.Close(ctx, "tenant-a", inv.ID, domain.InvestigationClosedLegitimate, "")
		if !errors.Is(err, ErrInvalidTransition) {
			t.Errorf("expected ErrInvalidTransition, got %v", err)
		}
	})

	t.Run("CloseRejectsUnknownStatus", func(t *testing.T) {
		svc, repo, _ := newTestService(t)
		inv := openInvestigation(t, svc, repo)

		if _, err := svc.Assign(ctx, "tenant-a", inv.ID, "analyst@bank"); err != nil {
			t.Fatalf("Assign failed: %v", err)
		}
		_, err := svc.Close(ctx, "tenant-a", inv.ID, "DONE", "")
		if !errors.Is(err, ErrInvalidInput) {
			t.Errorf("expected ErrInvalidInput, got %v", err)
		}
	})

	t.Run("NotesAllowedAfterClose", func(t *testing.T) {
		svc, repo, _ := newTestService(t)
		inv := openInvestigation(t, svc, repo)

		if _, err := svc.Assign(ctx, "tenant-a", inv.ID, "analyst@bank"); err != nil {
			t.Fatalf("Assign failed: %v", err)
		}
		if _, err := svc.Close(ctx, "tenant-a", inv.ID, domain.InvestigationClosedInconclusive, ""); err != nil {
			t.Fatalf("Close failed: %v", err)
		}
		updated, err := svc.AddNote(ctx, "tenant-a", inv.ID, "auditor@bank", "reviewed for quarterly audit")
		if err != nil {
			t.Fatalf("AddNote after close failed: %v", err)
		}
		if len(updated.Notes) != 1 {
			t.Errorf("expected 1 note, got %d", len(updated.Notes))
		}
	})

	t.Run("SecondFraudResolutionReusesInvestigation", func(t *testing.T) {
		svc, repo, _ := newTestService(t)
		alert := seedAlert(t, repo, "tenant-a", 90)

		if _, err := svc.Resolve(ctx, "tenant-a", alert.ID, domain.ResolutionFraud, ""); err != nil {
			t.Fatalf("Resolve failed: %v", err)
		}
		invs, err := repo.ListInvestigations(ctx, "tenant-a", "")
		if err != nil {
			t.Fatalf("ListInvestigations failed: %v", err)
		}
		if len(invs) != 1 {
			t.Errorf("expected exactly one investigation, got %d", len(invs))
		}
	})
}
