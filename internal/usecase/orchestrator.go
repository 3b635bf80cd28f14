package usecase

import (
	"context"
	"errors"
	"fmt"
	"log"
	"math/big"
	"time"

	"decertify/internal/domain"
)

const (
	defaultConfirmTimeout = 60 * time.Second
	defaultPollInterval   = 2 * time.Second
	defaultStepTimeout    = 60 * time.Second
	leaseMargin           = 30 * time.Second
)

// Orchestrator drives one issuance attempt through
// process -> content push -> ledger submit -> ledger confirm, resuming from
// the last step recorded on the request.
type Orchestrator struct {
	Requests  domain.RequestRepository
	Blobs     domain.BlobRepository
	Events    domain.EventRepository
	Processor domain.DocumentProcessor
	Content   domain.ContentStore
	Ledger    domain.Ledger
	Fees      domain.FeeSource

	VerifyBaseURL  string
	StepTimeout    time.Duration
	ConfirmTimeout time.Duration
	PollInterval   time.Duration
	Clock          func() time.Time
}

func NewOrchestrator(requests domain.RequestRepository, blobs domain.BlobRepository, processor domain.DocumentProcessor, content domain.ContentStore, ledger domain.Ledger, fees domain.FeeSource) *Orchestrator {
	return &Orchestrator{
		Requests:       requests,
		Blobs:          blobs,
		Processor:      processor,
		Content:        content,
		Ledger:         ledger,
		Fees:           fees,
		StepTimeout:    defaultStepTimeout,
		ConfirmTimeout: defaultConfirmTimeout,
		PollInterval:   defaultPollInterval,
		Clock:          time.Now,
	}
}

// MaxRunDuration bounds a single Execute call. A request lease must outlive
// it, otherwise a second run could start while the first is still sending.
func (o *Orchestrator) MaxRunDuration() time.Duration {
	return 3*o.stepTimeout() + o.confirmTimeout() + leaseMargin
}

// Execute runs the remaining steps for req. The caller must hold the
// request lease for the whole call. The run ignores cancellation of ctx
// once started; every step is bounded by its own timeout instead.
func (o *Orchestrator) Execute(ctx context.Context, req domain.CertificateRequest) (result domain.CertificateRequest, err error) {
	if req.Status != domain.StatusAcceptedProcessing {
		return req, domain.ErrInvalidTransition
	}
	ctx = context.WithoutCancel(ctx)
	current := req
	step := domain.StepProcess
	defer func() {
		if r := recover(); r != nil {
			result, err = o.recovered(ctx, current, step, fmt.Errorf("panic: %v", r))
		}
	}()

	if !current.Attempt.Processed() {
		current, err = o.process(ctx, current)
		if err != nil {
			return o.fail(ctx, current, step, domain.ErrProcessingFailed, err)
		}
	}
	if !current.Attempt.ContentPushed() {
		step = domain.StepContentPush
		current, err = o.push(ctx, current)
		if err != nil {
			return o.fail(ctx, current, step, storeFailureKind(err), err)
		}
	}
	if !current.Attempt.LedgerSubmitted() {
		step = domain.StepLedgerSubmit
		current, err = o.submit(ctx, current)
		if err != nil {
			return o.fail(ctx, current, step, ledgerFailureKind(err), err)
		}
	}
	step = domain.StepLedgerConfirm
	return o.confirm(ctx, current)
}

// Reconcile queries the ledger once for a recorded submission and settles
// the request when the outcome is definitive.
func (o *Orchestrator) Reconcile(ctx context.Context, req domain.CertificateRequest) (domain.CertificateRequest, error) {
	if req.Status != domain.StatusAcceptedProcessing || !req.Attempt.LedgerSubmitted() {
		return req, nil
	}
	outcome, err := o.status(ctx, req)
	if err != nil {
		return req, fmt.Errorf("ledger status: %w", err)
	}
	return o.settle(ctx, req, outcome)
}

func (o *Orchestrator) process(ctx context.Context, req domain.CertificateRequest) (domain.CertificateRequest, error) {
	ctx, cancel := context.WithTimeout(ctx, o.stepTimeout())
	defer cancel()
	source, err := o.Blobs.Get(ctx, req.Attempt.SourceDigest)
	if err != nil {
		return req, fmt.Errorf("load source document: %w", err)
	}
	processed, err := o.Processor.Embed(ctx, source.Data, domain.VerificationPayload{
		RequestID: req.ID,
		VerifyURL: o.VerifyBaseURL,
	})
	if err != nil {
		return req, err
	}
	blob := domain.DocumentBlob{
		Digest:    domain.Digest(processed),
		MediaType: source.MediaType,
		Data:      processed,
	}
	if err := o.Blobs.Put(ctx, blob); err != nil {
		return req, fmt.Errorf("store processed document: %w", err)
	}
	next := req
	next.Attempt.ProcessedDigest = blob.Digest
	saved, err := o.save(ctx, next)
	if err != nil {
		return req, err
	}
	o.emit(ctx, saved, domain.EventIssuanceProcessed, map[string]any{"processed_digest": blob.Digest})
	return saved, nil
}

func (o *Orchestrator) push(ctx context.Context, req domain.CertificateRequest) (domain.CertificateRequest, error) {
	ctx, cancel := context.WithTimeout(ctx, o.stepTimeout())
	defer cancel()
	processed, err := o.Blobs.Get(ctx, req.Attempt.ProcessedDigest)
	if err != nil {
		return req, fmt.Errorf("load processed document: %w", err)
	}
	contentID, err := o.Content.Put(ctx, processed.Data)
	if err != nil {
		return req, err
	}
	next := req
	next.Attempt.ContentID = contentID
	next.ContentID = contentID
	saved, err := o.save(ctx, next)
	if err != nil {
		return req, err
	}
	o.emit(ctx, saved, domain.EventContentPushed, map[string]any{"content_id": contentID})
	return saved, nil
}

// submit signs the issuance transaction, records its ref and raw bytes, and
// only then broadcasts it. A failure before the record leaves nothing on the
// network. After the record, the request keeps the ref unless the node
// refused the transaction outright.
func (o *Orchestrator) submit(ctx context.Context, req domain.CertificateRequest) (domain.CertificateRequest, error) {
	ctx, cancel := context.WithTimeout(ctx, o.stepTimeout())
	defer cancel()
	fee := req.Attempt.Fee
	if fee == nil {
		resolved, err := o.Fees.IssuanceFee(ctx, req.IssuerID)
		if err != nil {
			return req, fmt.Errorf("resolve issuance fee: %w", err)
		}
		fee = resolved
	}
	tx, err := o.Ledger.Prepare(ctx, domain.TxParams{
		RequestID: req.ID,
		Recipient: req.RecipientAddress,
		ContentID: req.Attempt.ContentID,
		Fee:       fee,
	})
	if err != nil {
		return req, err
	}
	if tx.Ref == "" || len(tx.Raw) == 0 {
		return req, fmt.Errorf("%w: ledger prepared an empty transaction", domain.ErrLedgerUnavailable)
	}
	next := req
	next.Attempt.SubmissionRef = tx.Ref
	next.Attempt.SignedTx = tx.Raw
	next.Attempt.Fee = new(big.Int).Set(fee)
	saved, err := o.save(ctx, next)
	if err != nil {
		return req, fmt.Errorf("record submission %s before broadcast: %w", tx.Ref, err)
	}

	payload := map[string]any{"submission_ref": tx.Ref, "fee": fee.String()}
	if err := o.Ledger.Send(ctx, tx); err != nil {
		if errors.Is(err, domain.ErrLedgerRejected) {
			return saved, err
		}
		log.Printf("issuance %s: broadcast of %s unconfirmed, awaiting status: %v", req.ID, tx.Ref, err)
		payload["broadcast"] = "unknown"
	}
	o.emit(ctx, saved, domain.EventLedgerSubmitted, payload)
	return saved, nil
}

func (o *Orchestrator) confirm(ctx context.Context, req domain.CertificateRequest) (domain.CertificateRequest, error) {
	outcome, err := o.await(ctx, req)
	if err != nil {
		return o.hold(ctx, req, domain.StepLedgerConfirm, err)
	}
	return o.settle(ctx, req, outcome)
}

func (o *Orchestrator) await(ctx context.Context, req domain.CertificateRequest) (domain.LedgerOutcome, error) {
	ref := req.Attempt.SubmissionRef
	waitCtx, cancel := context.WithTimeout(ctx, o.confirmTimeout())
	defer cancel()
	ticker := time.NewTicker(o.pollInterval())
	defer ticker.Stop()

	var lastErr error
	for {
		outcome, err := o.status(waitCtx, req)
		if err == nil && outcome.State != domain.LedgerPending {
			return outcome, nil
		}
		if err != nil {
			lastErr = err
		}
		select {
		case <-waitCtx.Done():
			if lastErr != nil {
				return domain.LedgerOutcome{State: domain.LedgerPending}, fmt.Errorf("no confirmation for %s: %w", ref, lastErr)
			}
			return domain.LedgerOutcome{State: domain.LedgerPending}, fmt.Errorf("no confirmation for %s: %w", ref, waitCtx.Err())
		case <-ticker.C:
		}
	}
}

// status resolves the recorded submission. A transaction the node does not
// know is broadcast again from the recorded bytes; it is reported rejected
// only when the node refuses those bytes and still has no receipt for them.
func (o *Orchestrator) status(ctx context.Context, req domain.CertificateRequest) (domain.LedgerOutcome, error) {
	ref := req.Attempt.SubmissionRef
	outcome, err := o.Ledger.Status(ctx, ref)
	if err != nil || outcome.State != domain.LedgerUnknown {
		return outcome, err
	}
	if len(req.Attempt.SignedTx) == 0 {
		return domain.LedgerOutcome{State: domain.LedgerRejected, Reason: "transaction dropped"}, nil
	}
	sendErr := o.Ledger.Send(ctx, domain.SignedTx{Ref: ref, Raw: req.Attempt.SignedTx})
	if sendErr == nil {
		log.Printf("issuance %s: rebroadcast %s", req.ID, ref)
		return domain.LedgerOutcome{State: domain.LedgerPending}, nil
	}
	if !errors.Is(sendErr, domain.ErrLedgerRejected) {
		return domain.LedgerOutcome{}, fmt.Errorf("rebroadcast %s: %w", ref, sendErr)
	}
	again, err := o.Ledger.Status(ctx, ref)
	if err != nil {
		return domain.LedgerOutcome{}, err
	}
	if again.State == domain.LedgerUnknown {
		return domain.LedgerOutcome{State: domain.LedgerRejected, Reason: "transaction dropped: " + sendErr.Error()}, nil
	}
	return again, nil
}

func (o *Orchestrator) settle(ctx context.Context, req domain.CertificateRequest, outcome domain.LedgerOutcome) (domain.CertificateRequest, error) {
	switch outcome.State {
	case domain.LedgerConfirmed:
		now := o.now()
		receipt := domain.LedgerReceipt{TxHash: req.Attempt.SubmissionRef, ConfirmedAt: now}
		if outcome.Receipt != nil {
			receipt = *outcome.Receipt
			if receipt.ConfirmedAt.IsZero() {
				receipt.ConfirmedAt = now
			}
		}
		next := req.ClearFailure()
		next.Status = domain.StatusIssued
		next.ContentID = req.Attempt.ContentID
		next.IssuedAt = &now
		next.Attempt.Receipt = &receipt
		next.Attempt.LastError = ""
		if req.Attempt.Fee != nil {
			next.IssuanceFee = new(big.Int).Set(req.Attempt.Fee)
		}
		next.Attempt.UpdatedAt = &now
		saved, err := o.Requests.Update(context.WithoutCancel(ctx), domain.StatusAcceptedProcessing, next)
		if err != nil {
			return req, fmt.Errorf("record confirmation: %w", err)
		}
		o.emit(ctx, saved, domain.EventLedgerConfirmed, map[string]any{
			"tx_hash":      receipt.TxHash,
			"block_number": receipt.BlockNumber,
		})
		return saved, nil
	case domain.LedgerRejected:
		reason := outcome.Reason
		if reason == "" {
			reason = "transaction rejected"
		}
		return o.fail(ctx, req, domain.StepLedgerConfirm, domain.ErrLedgerRejected, errors.New(reason))
	default:
		return req, nil
	}
}

// hold keeps a request with a recorded submission in accepted_processing and
// reports LedgerTimeout, so only reconciliation can settle it.
func (o *Orchestrator) hold(ctx context.Context, req domain.CertificateRequest, step domain.IssuanceStep, cause error) (domain.CertificateRequest, error) {
	timeoutErr := &domain.IssuanceError{Kind: domain.ErrLedgerTimeout, Step: step, Err: cause}
	next := req
	next.FailedStep = step
	next.FailureKind = domain.KindName(domain.ErrLedgerTimeout)
	next.FailureCause = cause.Error()
	next.Attempt.LastError = timeoutErr.Error()
	saved, err := o.save(context.WithoutCancel(ctx), next)
	if err != nil {
		log.Printf("issuance %s: record ledger timeout: %v", req.ID, err)
		return req, timeoutErr
	}
	return saved, timeoutErr
}

// recovered records a panic. The stored row is reloaded first because the
// panicking step may already have persisted progress, including a
// submission ref that must never be dropped.
func (o *Orchestrator) recovered(ctx context.Context, current domain.CertificateRequest, step domain.IssuanceStep, cause error) (domain.CertificateRequest, error) {
	log.Printf("issuance %s: recovered at %s: %v", current.ID, step, cause)
	if latest, err := o.Requests.Get(ctx, current.ID); err == nil {
		if latest.Status != domain.StatusAcceptedProcessing {
			return latest, nil
		}
		current = latest
	}
	if current.Attempt.LedgerSubmitted() {
		return o.hold(ctx, current, step, cause)
	}
	return o.fail(ctx, current, step, kindForStep(step), cause)
}

func (o *Orchestrator) fail(ctx context.Context, req domain.CertificateRequest, step domain.IssuanceStep, kind error, cause error) (domain.CertificateRequest, error) {
	issuanceErr := &domain.IssuanceError{Kind: kind, Step: step, Err: cause}
	next := req
	next.Status = domain.StatusIssuanceFailed
	next.FailedStep = step
	next.FailureKind = domain.KindName(kind)
	if cause != nil {
		next.FailureCause = cause.Error()
	}
	now := o.now()
	next.Attempt.LastError = issuanceErr.Error()
	next.Attempt.UpdatedAt = &now
	saved, err := o.Requests.Update(context.WithoutCancel(ctx), domain.StatusAcceptedProcessing, next)
	if err != nil {
		log.Printf("issuance %s: record %s failure: %v", req.ID, step, err)
		return req, errors.Join(issuanceErr, fmt.Errorf("record failure: %w", err))
	}
	o.emit(ctx, saved, domain.EventIssuanceFailed, map[string]any{
		"step":  string(step),
		"kind":  next.FailureKind,
		"cause": next.FailureCause,
	})
	return saved, issuanceErr
}

func (o *Orchestrator) save(ctx context.Context, next domain.CertificateRequest) (domain.CertificateRequest, error) {
	now := o.now()
	next.Attempt.UpdatedAt = &now
	saved, err := o.Requests.Update(ctx, next.Status, next)
	if err != nil {
		return next, fmt.Errorf("persist attempt: %w", err)
	}
	return saved, nil
}

func (o *Orchestrator) emit(ctx context.Context, req domain.CertificateRequest, eventType domain.EventType, payload map[string]any) {
	if o.Events == nil {
		return
	}
	err := o.Events.Append(context.WithoutCancel(ctx), domain.IssuanceEvent{
		RequestID: req.ID,
		Attempt:   req.Attempt.Number,
		Type:      eventType,
		ActorID:   req.IssuerID,
		Payload:   payload,
		CreatedAt: o.now(),
	})
	if err != nil {
		log.Printf("issuance %s: append %s event: %v", req.ID, eventType, err)
	}
}

func (o *Orchestrator) stepTimeout() time.Duration {
	if o.StepTimeout <= 0 {
		return defaultStepTimeout
	}
	return o.StepTimeout
}

func (o *Orchestrator) confirmTimeout() time.Duration {
	if o.ConfirmTimeout <= 0 {
		return defaultConfirmTimeout
	}
	return o.ConfirmTimeout
}

func (o *Orchestrator) pollInterval() time.Duration {
	if o.PollInterval <= 0 {
		return defaultPollInterval
	}
	return o.PollInterval
}

func (o *Orchestrator) now() time.Time {
	if o.Clock == nil {
		return time.Now().UTC()
	}
	return o.Clock().UTC()
}

// kindForStep names a failure that escaped a step without a classified
// error. It is only used before a submission ref exists.
func kindForStep(step domain.IssuanceStep) error {
	switch step {
	case domain.StepContentPush:
		return domain.ErrStoreFailed
	case domain.StepLedgerSubmit, domain.StepLedgerConfirm:
		return domain.ErrLedgerUnavailable
	default:
		return domain.ErrProcessingFailed
	}
}

func storeFailureKind(err error) error {
	if errors.Is(err, domain.ErrQuotaExceeded) {
		return domain.ErrQuotaExceeded
	}
	return domain.ErrStoreFailed
}

// ledgerFailureKind reports LedgerRejected only for a definitive refusal.
// Everything else happened before the broadcast and is safe to retry.
func ledgerFailureKind(err error) error {
	if errors.Is(err, domain.ErrLedgerRejected) {
		return domain.ErrLedgerRejected
	}
	return domain.ErrLedgerUnavailable
}
