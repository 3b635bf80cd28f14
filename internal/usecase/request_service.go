package usecase

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/gabriel-vasile/mimetype"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"decertify/internal/domain"
)

const (
	defaultMaxDocumentBytes = 10 << 20
	reconcileBatchSize      = 100
)

type RequestService struct {
	Requests     domain.RequestRepository
	Blobs        domain.BlobRepository
	Events       domain.EventRepository
	Content      domain.ContentStore
	Locker       domain.Locker
	Orchestrator *Orchestrator
	Policy       domain.IssuancePolicy

	MaxDocumentBytes int64
	Clock            func() time.Time
	NewID            func() string

	validate *validator.Validate
}

type CreateInput struct {
	RequesterID      string `validate:"required,max=128"`
	IssuerID         string `validate:"required,max=128,nefield=RequesterID"`
	RecipientAddress string `validate:"required,eth_addr"`
	SubjectID        string `validate:"required,max=64"`
	Period           int    `validate:"gte=1900,lte=2200"`
	Category         string `validate:"required,max=64"`
}

type DocumentInput struct {
	Filename string
	Data     []byte
}

type DecideInput struct {
	RequestID string
	IssuerID  string
	Decision  string
	Remarks   string
	Document  *DocumentInput
}

func NewRequestService(requests domain.RequestRepository, blobs domain.BlobRepository, events domain.EventRepository, content domain.ContentStore, locker domain.Locker, orchestrator *Orchestrator) *RequestService {
	return &RequestService{
		Requests:         requests,
		Blobs:            blobs,
		Events:           events,
		Content:          content,
		Locker:           locker,
		Orchestrator:     orchestrator,
		MaxDocumentBytes: defaultMaxDocumentBytes,
		Clock:            time.Now,
		NewID:            uuid.NewString,
		validate:         validator.New(),
	}
}

func (s *RequestService) CreateRequest(ctx context.Context, input CreateInput) (RequestView, error) {
	input.RequesterID = strings.TrimSpace(input.RequesterID)
	input.IssuerID = strings.TrimSpace(input.IssuerID)
	input.RecipientAddress = strings.TrimSpace(input.RecipientAddress)
	input.SubjectID = strings.TrimSpace(input.SubjectID)
	input.Category = strings.TrimSpace(input.Category)
	if err := s.validator().Struct(input); err != nil {
		return RequestView{}, fmt.Errorf("%w: %v", domain.ErrValidation, err)
	}
	req := domain.CertificateRequest{
		ID:               s.newID(),
		RequesterID:      input.RequesterID,
		IssuerID:         input.IssuerID,
		RecipientAddress: input.RecipientAddress,
		SubjectID:        input.SubjectID,
		Period:           input.Period,
		Category:         input.Category,
		Status:           domain.StatusPending,
		CreatedAt:        s.now(),
	}
	if err := s.Requests.Create(ctx, req); err != nil {
		return RequestView{}, err
	}
	s.emit(ctx, req, domain.EventRequestCreated, req.RequesterID, map[string]any{
		"subject_id": req.SubjectID,
		"period":     req.Period,
		"category":   req.Category,
	})
	return NewRequestView(req), nil
}

// DecideRequest applies the owning issuer's decision. Accepting starts the
// issuance pipeline and returns once it settles or fails.
func (s *RequestService) DecideRequest(ctx context.Context, input DecideInput) (RequestView, error) {
	decision, err := domain.ParseDecision(input.Decision)
	if err != nil {
		return RequestView{}, err
	}
	req, err := s.owned(ctx, input.RequestID, input.IssuerID)
	if err != nil {
		return RequestView{}, err
	}
	if decision == domain.DecisionReject {
		return s.reject(ctx, req, input.Remarks)
	}
	return s.accept(ctx, req, input)
}

func (s *RequestService) accept(ctx context.Context, req domain.CertificateRequest, input DecideInput) (RequestView, error) {
	if req.Status != domain.StatusPending {
		return NewRequestView(req), transitionError(req.Status)
	}
	if input.Document == nil || len(input.Document.Data) == 0 {
		return RequestView{}, fmt.Errorf("%w: document is required", domain.ErrValidation)
	}
	if limit := s.maxDocumentBytes(); int64(len(input.Document.Data)) > limit {
		return RequestView{}, fmt.Errorf("%w: document exceeds %d bytes", domain.ErrValidation, limit)
	}
	mediaType := mimetype.Detect(input.Document.Data).String()
	if err := s.checkPolicy(ctx, req, mediaType, len(input.Document.Data)); err != nil {
		return RequestView{}, err
	}

	unlock, err := s.Locker.TryLock(ctx, leaseKey(req.ID))
	if err != nil {
		return RequestView{}, err
	}
	defer s.release(ctx, req.ID, unlock)

	req, err = s.Requests.Get(ctx, req.ID)
	if err != nil {
		return RequestView{}, err
	}
	if req.Status != domain.StatusPending {
		return NewRequestView(req), transitionError(req.Status)
	}

	source := domain.DocumentBlob{
		Digest:    domain.Digest(input.Document.Data),
		MediaType: mediaType,
		Data:      input.Document.Data,
	}
	if err := s.Blobs.Put(ctx, source); err != nil {
		return RequestView{}, fmt.Errorf("store source document: %w", err)
	}

	now := s.now()
	next := req
	next.Status = domain.StatusAcceptedProcessing
	next.Remarks = strings.TrimSpace(input.Remarks)
	next.DecidedAt = &now
	next.Attempt = domain.IssuanceAttempt{Number: 1, SourceDigest: source.Digest, UpdatedAt: &now}
	saved, err := s.transition(ctx, domain.StatusPending, next)
	if err != nil {
		return RequestView{}, err
	}
	s.emit(ctx, saved, domain.EventRequestAccepted, saved.IssuerID, map[string]any{
		"source_digest": source.Digest,
		"filename":      input.Document.Filename,
	})

	result, err := s.Orchestrator.Execute(ctx, saved)
	return NewRequestView(result), err
}

func (s *RequestService) reject(ctx context.Context, req domain.CertificateRequest, remarks string) (RequestView, error) {
	if req.Status != domain.StatusPending && req.Status != domain.StatusIssuanceFailed {
		return NewRequestView(req), transitionError(req.Status)
	}
	unlock, err := s.Locker.TryLock(ctx, leaseKey(req.ID))
	if err != nil {
		return RequestView{}, err
	}
	defer s.release(ctx, req.ID, unlock)

	req, err = s.Requests.Get(ctx, req.ID)
	if err != nil {
		return RequestView{}, err
	}
	from := req.Status
	if from != domain.StatusPending && from != domain.StatusIssuanceFailed {
		return NewRequestView(req), transitionError(from)
	}

	now := s.now()
	next := req
	next.Status = domain.StatusRejected
	next.Remarks = strings.TrimSpace(remarks)
	next.DecidedAt = &now
	next.ContentID = ""
	next.IssuanceFee = nil
	saved, err := s.transition(ctx, from, next)
	if err != nil {
		return RequestView{}, err
	}
	eventType := domain.EventRequestRejected
	if from == domain.StatusIssuanceFailed {
		eventType = domain.EventIssuanceAbandoned
	}
	s.emit(ctx, saved, eventType, saved.IssuerID, map[string]any{"remarks": saved.Remarks})
	return NewRequestView(saved), nil
}

// RetryIssuance starts a new attempt from issuance_failed, or resumes an
// accepted_processing request whose previous run is no longer alive.
func (s *RequestService) RetryIssuance(ctx context.Context, requestID, issuerID string) (RequestView, error) {
	req, err := s.owned(ctx, requestID, issuerID)
	if err != nil {
		return RequestView{}, err
	}
	if req.Status != domain.StatusIssuanceFailed && req.Status != domain.StatusAcceptedProcessing {
		return NewRequestView(req), transitionError(req.Status)
	}
	unlock, err := s.Locker.TryLock(ctx, leaseKey(req.ID))
	if err != nil {
		return RequestView{}, err
	}
	defer s.release(ctx, req.ID, unlock)

	req, err = s.Requests.Get(ctx, req.ID)
	if err != nil {
		return RequestView{}, err
	}
	switch req.Status {
	case domain.StatusIssuanceFailed:
		next := req.ClearFailure()
		next.Status = domain.StatusAcceptedProcessing
		next.Attempt.Number++
		next.Attempt.LastError = ""
		if req.FailureKind == domain.KindName(domain.ErrLedgerRejected) {
			next.Attempt = next.Attempt.ClearSubmission()
		}
		saved, err := s.transition(ctx, domain.StatusIssuanceFailed, next)
		if err != nil {
			return RequestView{}, err
		}
		s.emit(ctx, saved, domain.EventIssuanceRetried, saved.IssuerID, map[string]any{
			"previous_step": string(req.FailedStep),
			"previous_kind": req.FailureKind,
		})
		req = saved
	case domain.StatusAcceptedProcessing:
		log.Printf("issuance %s: resuming attempt %d", req.ID, req.Attempt.Number)
	default:
		return NewRequestView(req), transitionError(req.Status)
	}

	result, err := s.Orchestrator.Execute(ctx, req)
	return NewRequestView(result), err
}

// Reconcile checks the ledger once for a request awaiting confirmation.
func (s *RequestService) Reconcile(ctx context.Context, requestID, issuerID string) (RequestView, error) {
	req, err := s.owned(ctx, requestID, issuerID)
	if err != nil {
		return RequestView{}, err
	}
	if req.Status != domain.StatusAcceptedProcessing || !req.Attempt.LedgerSubmitted() {
		return NewRequestView(req), nil
	}
	unlock, err := s.Locker.TryLock(ctx, leaseKey(req.ID))
	if err != nil {
		return RequestView{}, err
	}
	defer s.release(ctx, req.ID, unlock)

	req, err = s.Requests.Get(ctx, req.ID)
	if err != nil {
		return RequestView{}, err
	}
	result, err := s.Orchestrator.Reconcile(ctx, req)
	return NewRequestView(result), err
}

// ReconcilePending settles submitted requests whose confirmation wait ran
// out. Requests with a live pipeline are skipped.
func (s *RequestService) ReconcilePending(ctx context.Context) (int, error) {
	pending, err := s.Requests.ListAwaitingConfirmation(ctx, reconcileBatchSize)
	if err != nil {
		return 0, err
	}
	settled := 0
	var errs []error
	for _, candidate := range pending {
		if ctx.Err() != nil {
			errs = append(errs, ctx.Err())
			break
		}
		unlock, err := s.Locker.TryLock(ctx, leaseKey(candidate.ID))
		if errors.Is(err, domain.ErrAlreadyInProgress) {
			continue
		}
		if err != nil {
			errs = append(errs, fmt.Errorf("lease %s: %w", candidate.ID, err))
			continue
		}
		req, err := s.Requests.Get(ctx, candidate.ID)
		result := req
		if err == nil {
			result, err = s.Orchestrator.Reconcile(ctx, req)
		}
		s.release(ctx, candidate.ID, unlock)
		switch {
		case err == nil:
			if result.Status != req.Status {
				settled++
			}
		case isPipelineFailure(err):
			settled++
		default:
			errs = append(errs, fmt.Errorf("reconcile %s: %w", candidate.ID, err))
		}
	}
	return settled, errors.Join(errs...)
}

func (s *RequestService) GetRequest(ctx context.Context, requestID string) (RequestView, error) {
	req, err := s.Requests.Get(ctx, strings.TrimSpace(requestID))
	if err != nil {
		return RequestView{}, err
	}
	return NewRequestView(req), nil
}

func (s *RequestService) ListIssuerRequests(ctx context.Context, issuerID, status string) ([]RequestView, error) {
	if strings.TrimSpace(issuerID) == "" {
		return nil, domain.ErrUnauthorized
	}
	filter := domain.RequestFilter{IssuerID: issuerID}
	if strings.TrimSpace(status) != "" {
		parsed, err := domain.ParseStatus(status)
		if err != nil {
			return nil, err
		}
		filter.Status = parsed
	}
	return s.list(ctx, filter)
}

func (s *RequestService) ListRequesterRequests(ctx context.Context, requesterID string) ([]RequestView, error) {
	if strings.TrimSpace(requesterID) == "" {
		return nil, domain.ErrUnauthorized
	}
	return s.list(ctx, domain.RequestFilter{RequesterID: requesterID})
}

func (s *RequestService) ListEvents(ctx context.Context, requestID string) ([]domain.IssuanceEvent, error) {
	if _, err := s.Requests.Get(ctx, requestID); err != nil {
		return nil, err
	}
	if s.Events == nil {
		return []domain.IssuanceEvent{}, nil
	}
	return s.Events.ListByRequest(ctx, requestID)
}

// Verify is the public lookup the embedded marker resolves to.
func (s *RequestService) Verify(ctx context.Context, requestID string) (VerificationView, error) {
	req, err := s.Requests.Get(ctx, strings.TrimSpace(requestID))
	if err != nil {
		return VerificationView{}, err
	}
	return NewVerificationView(req), nil
}

// GetDocument returns the issued document from the content store.
func (s *RequestService) GetDocument(ctx context.Context, requestID string) ([]byte, string, error) {
	req, err := s.Requests.Get(ctx, strings.TrimSpace(requestID))
	if err != nil {
		return nil, "", err
	}
	if req.Status != domain.StatusIssued || req.ContentID == "" {
		return nil, "", domain.ErrNotFound
	}
	if s.Content == nil {
		return nil, "", errors.New("content store is required")
	}
	data, err := s.Content.Get(ctx, req.ContentID)
	if err != nil {
		return nil, "", err
	}
	return data, mimetype.Detect(data).String(), nil
}

func (s *RequestService) list(ctx context.Context, filter domain.RequestFilter) ([]RequestView, error) {
	reqs, err := s.Requests.List(ctx, filter)
	if err != nil {
		return nil, err
	}
	out := make([]RequestView, 0, len(reqs))
	for _, req := range reqs {
		out = append(out, NewRequestView(req))
	}
	return out, nil
}

// owned loads the request for a mutating call. A request owned by another
// issuer is reported as missing.
func (s *RequestService) owned(ctx context.Context, requestID, issuerID string) (domain.CertificateRequest, error) {
	if strings.TrimSpace(issuerID) == "" {
		return domain.CertificateRequest{}, domain.ErrUnauthorized
	}
	req, err := s.Requests.Get(ctx, strings.TrimSpace(requestID))
	if err != nil {
		return domain.CertificateRequest{}, err
	}
	if !req.OwnedBy(issuerID) {
		return domain.CertificateRequest{}, domain.ErrNotFound
	}
	return req, nil
}

func (s *RequestService) checkPolicy(ctx context.Context, req domain.CertificateRequest, mediaType string, size int) error {
	if s.Policy == nil {
		return nil
	}
	denies, err := s.Policy.Evaluate(ctx, domain.PolicyInput{
		Request: domain.PolicyRequest{
			ID:        req.ID,
			SubjectID: req.SubjectID,
			Period:    req.Period,
			Category:  req.Category,
		},
		IssuerID: req.IssuerID,
		Document: domain.PolicyDocument{Size: size, MediaType: mediaType},
	})
	if err != nil {
		return fmt.Errorf("evaluate issuance policy: %w", err)
	}
	if len(denies) == 0 {
		return nil
	}
	messages := make([]string, 0, len(denies))
	for _, deny := range denies {
		messages = append(messages, deny.Message)
	}
	return fmt.Errorf("%w: %s", domain.ErrPolicyDenied, strings.Join(messages, "; "))
}

// transition writes next if the stored status is still from. A lost race is
// reported by the status the winner left behind.
func (s *RequestService) transition(ctx context.Context, from domain.RequestStatus, next domain.CertificateRequest) (domain.CertificateRequest, error) {
	if !domain.CanTransition(from, next.Status) {
		return domain.CertificateRequest{}, domain.ErrInvalidTransition
	}
	saved, err := s.Requests.Update(ctx, from, next)
	if errors.Is(err, domain.ErrConflict) {
		current, getErr := s.Requests.Get(ctx, next.ID)
		if getErr != nil || current.Status == from {
			return domain.CertificateRequest{}, domain.ErrConflict
		}
		return domain.CertificateRequest{}, transitionError(current.Status)
	}
	if err != nil {
		return domain.CertificateRequest{}, err
	}
	return saved, nil
}

func (s *RequestService) release(ctx context.Context, requestID string, unlock domain.Unlock) {
	if err := unlock(context.WithoutCancel(ctx)); err != nil {
		log.Printf("issuance %s: release lease: %v", requestID, err)
	}
}

func (s *RequestService) emit(ctx context.Context, req domain.CertificateRequest, eventType domain.EventType, actorID string, payload map[string]any) {
	if s.Events == nil {
		return
	}
	err := s.Events.Append(context.WithoutCancel(ctx), domain.IssuanceEvent{
		RequestID: req.ID,
		Attempt:   req.Attempt.Number,
		Type:      eventType,
		ActorID:   actorID,
		Payload:   payload,
		CreatedAt: s.now(),
	})
	if err != nil {
		log.Printf("request %s: append %s event: %v", req.ID, eventType, err)
	}
}

func (s *RequestService) validator() *validator.Validate {
	if s.validate == nil {
		s.validate = validator.New()
	}
	return s.validate
}

func (s *RequestService) maxDocumentBytes() int64 {
	if s.MaxDocumentBytes <= 0 {
		return defaultMaxDocumentBytes
	}
	return s.MaxDocumentBytes
}

func (s *RequestService) newID() string {
	if s.NewID == nil {
		return uuid.NewString()
	}
	return s.NewID()
}

func (s *RequestService) now() time.Time {
	if s.Clock == nil {
		return time.Now().UTC()
	}
	return s.Clock().UTC()
}

func leaseKey(requestID string) string {
	return "request:" + requestID
}

func transitionError(status domain.RequestStatus) error {
	switch {
	case status == domain.StatusAcceptedProcessing:
		return domain.ErrAlreadyInProgress
	case status.Terminal():
		return domain.ErrTerminalState
	default:
		return domain.ErrInvalidTransition
	}
}

func isPipelineFailure(err error) bool {
	_, ok := domain.AsIssuanceError(err)
	return ok
}
