package usecase

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"math/big"
	"sync"
	"testing"
	"time"

	"decertify/internal/domain"
	"decertify/internal/infra/lease"
	"decertify/internal/infra/memstore"
)

const (
	testIssuer    = "issuer-1"
	testRequester = "student-1"
	testRecipient = "0x1111111111111111111111111111111111111111"
)

var testPDF = []byte("%PDF-1.4\n1 0 obj\n<< /Type /Catalog >>\nendobj\ntrailer\n<< /Root 1 0 R >>\n%%EOF\n")

type fakeProcessor struct {
	mu    sync.Mutex
	calls int
	err   error
	panic bool
}

func (p *fakeProcessor) Embed(ctx context.Context, document []byte, marker domain.VerificationPayload) ([]byte, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls++
	if p.panic {
		panic("processor exploded")
	}
	if p.err != nil {
		return nil, p.err
	}
	out := bytes.Clone(document)
	return append(out, []byte("%marker "+marker.Text()+"\n")...), nil
}

func (p *fakeProcessor) Calls() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.calls
}

type fakeContent struct {
	mu      sync.Mutex
	objects map[string][]byte
	puts    int
	putErrs []error
}

func newFakeContent() *fakeContent {
	return &fakeContent{objects: make(map[string][]byte)}
}

func (c *fakeContent) Put(ctx context.Context, data []byte) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.puts++
	if len(c.putErrs) > 0 {
		err := c.putErrs[0]
		c.putErrs = c.putErrs[1:]
		if err != nil {
			return "", err
		}
	}
	id := "bafy" + domain.Digest(data)[:16]
	c.objects[id] = bytes.Clone(data)
	return id, nil
}

func (c *fakeContent) Get(ctx context.Context, contentID string) ([]byte, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	data, ok := c.objects[contentID]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return bytes.Clone(data), nil
}

func (c *fakeContent) Puts() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.puts
}

// fakeLedger confirms every broadcast transaction unless an outcome is set
// for its ref. A ref that was prepared but never sent is unknown to it.
type fakeLedger struct {
	mu          sync.Mutex
	prepared    map[string]domain.TxParams
	order       []string
	sent        []string
	prepareErr  error
	sendErr     error
	sendPanic   bool
	statusPanic bool
	outcomes    map[string]domain.LedgerOutcome
	gate        chan struct{}
}

func newFakeLedger() *fakeLedger {
	return &fakeLedger{
		prepared: make(map[string]domain.TxParams),
		outcomes: make(map[string]domain.LedgerOutcome),
	}
}

func (l *fakeLedger) Prepare(ctx context.Context, params domain.TxParams) (domain.SignedTx, error) {
	if l.gate != nil {
		<-l.gate
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.prepareErr != nil {
		return domain.SignedTx{}, l.prepareErr
	}
	ref := fmt.Sprintf("0xtx%d", len(l.order)+1)
	l.order = append(l.order, ref)
	l.prepared[ref] = params
	return domain.SignedTx{Ref: ref, Raw: []byte("signed:" + ref)}, nil
}

func (l *fakeLedger) Send(ctx context.Context, tx domain.SignedTx) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.sendPanic {
		panic("rpc client exploded")
	}
	if string(tx.Raw) != "signed:"+tx.Ref {
		return fmt.Errorf("%w: raw bytes do not match %s", domain.ErrLedgerRejected, tx.Ref)
	}
	if errors.Is(l.sendErr, domain.ErrLedgerRejected) {
		return l.sendErr
	}
	l.sent = append(l.sent, tx.Ref)
	return l.sendErr
}

func (l *fakeLedger) Status(ctx context.Context, ref string) (domain.LedgerOutcome, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.statusPanic {
		panic("receipt decoder exploded")
	}
	if outcome, ok := l.outcomes[ref]; ok {
		return outcome, nil
	}
	if !l.wasSent(ref) {
		return domain.LedgerOutcome{State: domain.LedgerUnknown}, nil
	}
	return domain.LedgerOutcome{
		State:   domain.LedgerConfirmed,
		Receipt: &domain.LedgerReceipt{TxHash: ref, BlockNumber: 42, GasUsed: 21000},
	}, nil
}

func (l *fakeLedger) wasSent(ref string) bool {
	for _, sent := range l.sent {
		if sent == ref {
			return true
		}
	}
	return false
}

func (l *fakeLedger) setOutcome(ref string, outcome domain.LedgerOutcome) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.outcomes[ref] = outcome
}

func (l *fakeLedger) clearOutcome(ref string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.outcomes, ref)
}

// Submits lists the distinct transactions that reached Send, in order.
func (l *fakeLedger) Submits() []domain.TxParams {
	l.mu.Lock()
	defer l.mu.Unlock()
	var out []domain.TxParams
	seen := make(map[string]bool)
	for _, ref := range l.sent {
		if seen[ref] {
			continue
		}
		seen[ref] = true
		out = append(out, l.prepared[ref])
	}
	return out
}

func (l *fakeLedger) Broadcasts() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]string(nil), l.sent...)
}

func (l *fakeLedger) Prepared() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.order)
}

// flakyRequests behaves like a database that honors cancellation. It can
// also drop the write that first records a submission ref.
type flakyRequests struct {
	domain.RequestRepository
	mu            sync.Mutex
	failRefWrites int
}

func (r *flakyRequests) Update(ctx context.Context, from domain.RequestStatus, next domain.CertificateRequest) (domain.CertificateRequest, error) {
	if err := ctx.Err(); err != nil {
		return domain.CertificateRequest{}, err
	}
	r.mu.Lock()
	if r.failRefWrites > 0 && next.Attempt.SubmissionRef != "" && next.Status == domain.StatusAcceptedProcessing {
		current, err := r.RequestRepository.Get(ctx, next.ID)
		if err == nil && current.Attempt.SubmissionRef == "" {
			r.failRefWrites--
			r.mu.Unlock()
			return domain.CertificateRequest{}, context.Canceled
		}
	}
	r.mu.Unlock()
	return r.RequestRepository.Update(ctx, from, next)
}

type fakeFees struct {
	fee   *big.Int
	err   error
	calls int
}

func (f *fakeFees) IssuanceFee(ctx context.Context, issuerID string) (*big.Int, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	return new(big.Int).Set(f.fee), nil
}

type stubPolicy struct {
	denies []domain.PolicyDeny
	last   domain.PolicyInput
}

func (p *stubPolicy) Evaluate(ctx context.Context, input domain.PolicyInput) ([]domain.PolicyDeny, error) {
	p.last = input
	return p.denies, nil
}

type harness struct {
	svc       *RequestService
	requests  *memstore.Requests
	blobs     *memstore.Blobs
	events    *memstore.Events
	locker    *lease.Memory
	processor *fakeProcessor
	content   *fakeContent
	ledger    *fakeLedger
	fees      *fakeFees
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	h := &harness{
		requests:  memstore.NewRequests(),
		blobs:     memstore.NewBlobs(),
		events:    memstore.NewEvents(),
		locker:    lease.NewMemory(),
		processor: &fakeProcessor{},
		content:   newFakeContent(),
		ledger:    newFakeLedger(),
		fees:      &fakeFees{fee: big.NewInt(1000)},
	}
	clock := func() time.Time { return time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC) }
	orch := NewOrchestrator(h.requests, h.blobs, h.processor, h.content, h.ledger, h.fees)
	orch.Events = h.events
	orch.VerifyBaseURL = "https://verify.example.edu/v"
	orch.ConfirmTimeout = 40 * time.Millisecond
	orch.PollInterval = 5 * time.Millisecond
	orch.Clock = clock

	h.svc = NewRequestService(h.requests, h.blobs, h.events, h.content, h.locker, orch)
	h.svc.Clock = clock
	return h
}

func (h *harness) create(t *testing.T) RequestView {
	t.Helper()
	view, err := h.svc.CreateRequest(context.Background(), CreateInput{
		RequesterID:      testRequester,
		IssuerID:         testIssuer,
		RecipientAddress: testRecipient,
		SubjectID:        "1RV20CS001",
		Period:           2024,
		Category:         "degree",
	})
	if err != nil {
		t.Fatalf("create request: %v", err)
	}
	return view
}

func (h *harness) accept(requestID string) (RequestView, error) {
	return h.svc.DecideRequest(context.Background(), DecideInput{
		RequestID: requestID,
		IssuerID:  testIssuer,
		Decision:  "accepted",
		Document:  &DocumentInput{Filename: "degree.pdf", Data: testPDF},
	})
}

func (h *harness) stored(t *testing.T, requestID string) domain.CertificateRequest {
	t.Helper()
	req, err := h.requests.Get(context.Background(), requestID)
	if err != nil {
		t.Fatalf("get request: %v", err)
	}
	return req
}
