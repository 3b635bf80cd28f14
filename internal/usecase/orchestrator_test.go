package usecase

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"testing"
	"time"

	"decertify/internal/domain"
)

func TestOrchestratorRequiresProcessingStatus(t *testing.T) {
	h := newHarness(t)
	created := h.create(t)
	req := h.stored(t, created.ID)

	if _, err := h.svc.Orchestrator.Execute(context.Background(), req); !errors.Is(err, domain.ErrInvalidTransition) {
		t.Fatalf("expected invalid transition, got %v", err)
	}
}

func TestOrchestratorProcessingFailure(t *testing.T) {
	h := newHarness(t)
	h.processor.err = domain.ErrUnsupportedFormat
	created := h.create(t)

	view, err := h.accept(created.ID)
	if !errors.Is(err, domain.ErrProcessingFailed) || !errors.Is(err, domain.ErrUnsupportedFormat) {
		t.Fatalf("expected processing failure, got %v", err)
	}
	if view.Status != domain.StatusIssuanceFailed || view.FailedStep != domain.StepProcess {
		t.Fatalf("unexpected view: %+v", view)
	}
	if h.content.Puts() != 0 || len(h.ledger.Submits()) != 0 {
		t.Fatalf("later steps must not run")
	}

	h.processor.err = nil
	view, err = h.svc.RetryIssuance(context.Background(), created.ID, testIssuer)
	if err != nil {
		t.Fatalf("retry: %v", err)
	}
	if view.Status != domain.StatusIssued || h.processor.Calls() != 2 {
		t.Fatalf("expected issued after re-processing, got %s with %d calls", view.Status, h.processor.Calls())
	}
}

func TestOrchestratorRecoversPanic(t *testing.T) {
	h := newHarness(t)
	h.processor.panic = true
	created := h.create(t)

	view, err := h.accept(created.ID)
	if !errors.Is(err, domain.ErrProcessingFailed) {
		t.Fatalf("expected processing failure, got %v", err)
	}
	if view.Status != domain.StatusIssuanceFailed || view.FailureCause == "" {
		t.Fatalf("expected recorded failure, got %+v", view)
	}
	if h.locker.Held(leaseKey(created.ID)) {
		t.Fatalf("lease must be released after a panic")
	}
}

func TestOrchestratorFeeLookupFailure(t *testing.T) {
	h := newHarness(t)
	h.fees.err = fmt.Errorf("%w: organizations: dial tcp: connection refused", domain.ErrLedgerUnavailable)
	created := h.create(t)

	view, err := h.accept(created.ID)
	if !errors.Is(err, domain.ErrLedgerUnavailable) || errors.Is(err, domain.ErrLedgerRejected) {
		t.Fatalf("expected ledger unavailable, got %v", err)
	}
	if view.FailedStep != domain.StepLedgerSubmit || view.FailureKind != "LedgerUnavailable" || view.Attempt.LedgerSubmitted {
		t.Fatalf("unexpected view: %+v", view)
	}
	if view.ContentID == "" {
		t.Fatalf("content id must be kept after the push")
	}
	if h.ledger.Prepared() != 0 {
		t.Fatalf("nothing may be signed without a fee")
	}
}

func TestOrchestratorLedgerFailureKinds(t *testing.T) {
	tests := []struct {
		name       string
		prepareErr error
		wantKind   string
		wantErr    error
	}{
		{
			name:       "node down before broadcast",
			prepareErr: fmt.Errorf("%w: pending nonce: dial tcp: connection refused", domain.ErrLedgerUnavailable),
			wantKind:   "LedgerUnavailable",
			wantErr:    domain.ErrLedgerUnavailable,
		},
		{
			name:       "unclassified prepare error",
			prepareErr: errors.New("keystore locked"),
			wantKind:   "LedgerUnavailable",
			wantErr:    domain.ErrLedgerUnavailable,
		},
		{
			name:       "revert on gas estimate",
			prepareErr: fmt.Errorf("%w: estimate gas: execution reverted", domain.ErrLedgerRejected),
			wantKind:   "LedgerRejected",
			wantErr:    domain.ErrLedgerRejected,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t)
			h.ledger.prepareErr = tt.prepareErr
			created := h.create(t)

			view, err := h.accept(created.ID)
			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("expected %v, got %v", tt.wantErr, err)
			}
			if tt.wantErr != domain.ErrLedgerRejected && errors.Is(err, domain.ErrLedgerRejected) {
				t.Fatalf("transient failure reported as a rejection: %v", err)
			}
			if view.Status != domain.StatusIssuanceFailed || view.FailureKind != tt.wantKind {
				t.Fatalf("unexpected view: %+v", view)
			}
			if len(h.ledger.Broadcasts()) != 0 {
				t.Fatalf("nothing may be broadcast")
			}

			h.ledger.prepareErr = nil
			view, err = h.svc.RetryIssuance(context.Background(), created.ID, testIssuer)
			if err != nil {
				t.Fatalf("retry: %v", err)
			}
			if view.Status != domain.StatusIssued || len(h.ledger.Submits()) != 1 {
				t.Fatalf("expected one submission after retry, got %s with %d", view.Status, len(h.ledger.Submits()))
			}
		})
	}
}

func TestOrchestratorDefinitiveSendRejection(t *testing.T) {
	h := newHarness(t)
	h.ledger.sendErr = fmt.Errorf("%w: send: insufficient funds for gas * price + value", domain.ErrLedgerRejected)
	created := h.create(t)

	view, err := h.accept(created.ID)
	if !errors.Is(err, domain.ErrLedgerRejected) {
		t.Fatalf("expected ledger rejection, got %v", err)
	}
	if view.Status != domain.StatusIssuanceFailed || view.FailedStep != domain.StepLedgerSubmit || view.Attempt.SubmissionRef != "0xtx1" {
		t.Fatalf("unexpected view: %+v", view)
	}

	h.ledger.sendErr = nil
	view, err = h.svc.RetryIssuance(context.Background(), created.ID, testIssuer)
	if err != nil {
		t.Fatalf("retry: %v", err)
	}
	if view.Status != domain.StatusIssued || view.Attempt.SubmissionRef != "0xtx2" {
		t.Fatalf("expected a fresh transaction, got %+v", view)
	}
	if got := h.ledger.Broadcasts(); len(got) != 1 || got[0] != "0xtx2" {
		t.Fatalf("expected only the fresh transaction on the network, got %v", got)
	}
}

func TestOrchestratorAmbiguousSendKeepsRef(t *testing.T) {
	h := newHarness(t)
	h.ledger.sendErr = fmt.Errorf("%w: send: connection reset by peer", domain.ErrLedgerUnavailable)
	created := h.create(t)

	view, err := h.accept(created.ID)
	if err != nil {
		t.Fatalf("accept: %v", err)
	}
	if view.Status != domain.StatusIssued || view.Attempt.SubmissionRef != "0xtx1" {
		t.Fatalf("expected issued through the recorded ref, got %+v", view)
	}
	if len(h.ledger.Submits()) != 1 || h.ledger.Prepared() != 1 {
		t.Fatalf("expected a single submission")
	}
}

func TestOrchestratorLostRefWriteNeverBroadcasts(t *testing.T) {
	h := newHarness(t)
	repo := &flakyRequests{RequestRepository: h.requests, failRefWrites: 1}
	h.svc.Orchestrator.Requests = repo
	created := h.create(t)

	view, err := h.accept(created.ID)
	if !errors.Is(err, domain.ErrLedgerUnavailable) || errors.Is(err, domain.ErrLedgerRejected) {
		t.Fatalf("expected a retryable ledger failure, got %v", err)
	}
	if view.Status != domain.StatusIssuanceFailed || view.Attempt.SubmissionRef != "" {
		t.Fatalf("unexpected view: %+v", view)
	}
	if len(h.ledger.Broadcasts()) != 0 {
		t.Fatalf("a transaction without a recorded ref reached the network")
	}

	view, err = h.svc.RetryIssuance(context.Background(), created.ID, testIssuer)
	if err != nil {
		t.Fatalf("retry: %v", err)
	}
	if view.Status != domain.StatusIssued {
		t.Fatalf("expected issued, got %s", view.Status)
	}
	if got := h.ledger.Submits(); len(got) != 1 {
		t.Fatalf("ledger submissions = %d, want 1", len(got))
	}
}

func TestOrchestratorOutlivesCallerCancellation(t *testing.T) {
	h := newHarness(t)
	h.svc.Orchestrator.Requests = &flakyRequests{RequestRepository: h.requests}
	created := h.create(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	view, err := h.svc.DecideRequest(ctx, DecideInput{
		RequestID: created.ID,
		IssuerID:  testIssuer,
		Decision:  "accepted",
		Document:  &DocumentInput{Filename: "degree.pdf", Data: testPDF},
	})
	if err != nil {
		t.Fatalf("accept: %v", err)
	}
	if view.Status != domain.StatusIssued {
		t.Fatalf("expected issued, got %s", view.Status)
	}
	if got := h.stored(t, created.ID); got.Attempt.SubmissionRef != "0xtx1" || len(got.Attempt.SignedTx) == 0 {
		t.Fatalf("submission must be recorded, got %+v", got.Attempt)
	}
}

func TestOrchestratorResumeRebroadcastsRecordedTransaction(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	req := domain.CertificateRequest{
		ID:               "req-resume",
		RequesterID:      testRequester,
		IssuerID:         testIssuer,
		RecipientAddress: testRecipient,
		Status:           domain.StatusAcceptedProcessing,
		ContentID:        "bafyexisting",
		Attempt: domain.IssuanceAttempt{
			Number:          1,
			SourceDigest:    "source",
			ProcessedDigest: "processed",
			ContentID:       "bafyexisting",
			SubmissionRef:   "0xknown",
			SignedTx:        []byte("signed:0xknown"),
			Fee:             big.NewInt(77),
		},
	}
	if err := h.requests.Create(ctx, req); err != nil {
		t.Fatalf("seed: %v", err)
	}

	result, err := h.svc.Orchestrator.Execute(ctx, req)
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	if result.Status != domain.StatusIssued || result.IssuanceFee.Int64() != 77 {
		t.Fatalf("unexpected result: %+v", result)
	}
	if result.Attempt.Receipt == nil || result.Attempt.Receipt.TxHash != "0xknown" {
		t.Fatalf("expected receipt for the recorded submission, got %+v", result.Attempt.Receipt)
	}
	if got := h.ledger.Broadcasts(); len(got) != 1 || got[0] != "0xknown" {
		t.Fatalf("expected the recorded bytes to be sent again, got %v", got)
	}
	if h.processor.Calls() != 0 || h.content.Puts() != 0 || h.ledger.Prepared() != 0 || h.fees.calls != 0 {
		t.Fatalf("completed steps must not re-run")
	}
}

func TestOrchestratorDroppedTransactionIsRejected(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	req := domain.CertificateRequest{
		ID:               "req-dropped",
		IssuerID:         testIssuer,
		RecipientAddress: testRecipient,
		Status:           domain.StatusAcceptedProcessing,
		Attempt: domain.IssuanceAttempt{
			Number:        1,
			ContentID:     "bafyexisting",
			SubmissionRef: "0xgone",
			SignedTx:      []byte("signed:0xgone"),
		},
	}
	if err := h.requests.Create(ctx, req); err != nil {
		t.Fatalf("seed: %v", err)
	}
	h.ledger.sendErr = fmt.Errorf("%w: send: nonce too low", domain.ErrLedgerRejected)

	result, err := h.svc.Orchestrator.Reconcile(ctx, req)
	if !errors.Is(err, domain.ErrLedgerRejected) {
		t.Fatalf("expected rejection, got %v", err)
	}
	if result.Status != domain.StatusIssuanceFailed || result.FailureKind != "LedgerRejected" {
		t.Fatalf("unexpected result: %+v", result)
	}
}

func TestOrchestratorPanicAfterSubmissionAwaitsReconcile(t *testing.T) {
	for _, tt := range []struct {
		name  string
		setup func(l *fakeLedger)
		step  domain.IssuanceStep
	}{
		{name: "status", setup: func(l *fakeLedger) { l.statusPanic = true }, step: domain.StepLedgerConfirm},
		{name: "send", setup: func(l *fakeLedger) { l.sendPanic = true }, step: domain.StepLedgerSubmit},
	} {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t)
			tt.setup(h.ledger)
			created := h.create(t)

			view, err := h.accept(created.ID)
			if !errors.Is(err, domain.ErrLedgerTimeout) || errors.Is(err, domain.ErrLedgerRejected) {
				t.Fatalf("expected ledger timeout, got %v", err)
			}
			stored := h.stored(t, created.ID)
			if stored.Status != domain.StatusAcceptedProcessing || stored.FailureKind != "LedgerTimeout" || stored.FailedStep != tt.step {
				t.Fatalf("unexpected stored request: status=%s kind=%s step=%s", stored.Status, stored.FailureKind, stored.FailedStep)
			}
			if stored.Attempt.SubmissionRef != "0xtx1" || view.Attempt.SubmissionRef != "0xtx1" {
				t.Fatalf("submission ref must survive the panic, got %q", stored.Attempt.SubmissionRef)
			}
			if h.locker.Held(leaseKey(created.ID)) {
				t.Fatalf("lease must be released after a panic")
			}

			h.ledger.mu.Lock()
			h.ledger.statusPanic = false
			h.ledger.sendPanic = false
			h.ledger.mu.Unlock()
			view, err = h.svc.RetryIssuance(context.Background(), created.ID, testIssuer)
			if err != nil {
				t.Fatalf("retry: %v", err)
			}
			if view.Status != domain.StatusIssued || view.Attempt.Number != 1 {
				t.Fatalf("expected the same attempt to be issued, got %+v", view)
			}
			if h.ledger.Prepared() != 1 || len(h.ledger.Submits()) != 1 {
				t.Fatalf("submits = %d, want 1", len(h.ledger.Submits()))
			}
		})
	}
}

func TestOrchestratorQuotaExceededKeepsItsKind(t *testing.T) {
	h := newHarness(t)
	h.content.putErrs = []error{domain.ErrQuotaExceeded}
	created := h.create(t)

	view, err := h.accept(created.ID)
	if !errors.Is(err, domain.ErrQuotaExceeded) || errors.Is(err, domain.ErrStoreFailed) {
		t.Fatalf("expected quota exceeded, got %v", err)
	}
	if view.Status != domain.StatusIssuanceFailed || view.FailureKind != "QuotaExceeded" || view.FailedStep != domain.StepContentPush {
		t.Fatalf("unexpected view: %+v", view)
	}
}

func TestMaxRunDurationCoversEveryStep(t *testing.T) {
	o := &Orchestrator{StepTimeout: time.Minute, ConfirmTimeout: 2 * time.Minute}
	if got := o.MaxRunDuration(); got != 5*time.Minute+leaseMargin {
		t.Fatalf("unexpected run bound %s", got)
	}
	if got := (&Orchestrator{}).MaxRunDuration(); got != 3*defaultStepTimeout+defaultConfirmTimeout+leaseMargin {
		t.Fatalf("unexpected default run bound %s", got)
	}
}

func TestOrchestratorReconcileWithoutSubmission(t *testing.T) {
	h := newHarness(t)
	req := domain.CertificateRequest{ID: "req-1", Status: domain.StatusAcceptedProcessing}

	result, err := h.svc.Orchestrator.Reconcile(context.Background(), req)
	if err != nil {
		t.Fatalf("reconcile: %v", err)
	}
	if result.Status != domain.StatusAcceptedProcessing {
		t.Fatalf("expected unchanged request, got %s", result.Status)
	}
}
