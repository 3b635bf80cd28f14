package memstore

import (
	"bytes"
	"context"
	"errors"
	"math/big"
	"sort"
	"sync"
	"time"

	"decertify/internal/domain"
)

type Requests struct {
	mu   sync.RWMutex
	rows map[string]domain.CertificateRequest
}

func NewRequests() *Requests {
	return &Requests{rows: make(map[string]domain.CertificateRequest)}
}

func (r *Requests) Create(ctx context.Context, req domain.CertificateRequest) error {
	if req.ID == "" {
		return errors.New("id is required")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.rows[req.ID]; ok {
		return domain.ErrConflict
	}
	r.rows[req.ID] = cloneRequest(req)
	return nil
}

func (r *Requests) Get(ctx context.Context, id string) (domain.CertificateRequest, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	req, ok := r.rows[id]
	if !ok {
		return domain.CertificateRequest{}, domain.ErrNotFound
	}
	return cloneRequest(req), nil
}

func (r *Requests) Update(ctx context.Context, from domain.RequestStatus, next domain.CertificateRequest) (domain.CertificateRequest, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	current, ok := r.rows[next.ID]
	if !ok {
		return domain.CertificateRequest{}, domain.ErrNotFound
	}
	if current.Status != from || current.Version != next.Version {
		return domain.CertificateRequest{}, domain.ErrConflict
	}
	next.Version++
	r.rows[next.ID] = cloneRequest(next)
	return cloneRequest(next), nil
}

func (r *Requests) List(ctx context.Context, filter domain.RequestFilter) ([]domain.CertificateRequest, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]domain.CertificateRequest, 0)
	for _, req := range r.rows {
		if filter.IssuerID != "" && req.IssuerID != filter.IssuerID {
			continue
		}
		if filter.RequesterID != "" && req.RequesterID != filter.RequesterID {
			continue
		}
		if filter.Status != "" && req.Status != filter.Status {
			continue
		}
		out = append(out, cloneRequest(req))
	}
	sortNewestFirst(out)
	if filter.Limit > 0 && len(out) > filter.Limit {
		out = out[:filter.Limit]
	}
	return out, nil
}

func (r *Requests) ListAwaitingConfirmation(ctx context.Context, limit int) ([]domain.CertificateRequest, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]domain.CertificateRequest, 0)
	for _, req := range r.rows {
		if req.Status == domain.StatusAcceptedProcessing && req.Attempt.LedgerSubmitted() {
			out = append(out, cloneRequest(req))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

type Blobs struct {
	mu    sync.RWMutex
	blobs map[string]domain.DocumentBlob
	clock func() time.Time
}

func NewBlobs() *Blobs {
	return &Blobs{blobs: make(map[string]domain.DocumentBlob), clock: time.Now}
}

func (b *Blobs) Put(ctx context.Context, blob domain.DocumentBlob) error {
	if blob.Digest == "" {
		return errors.New("digest is required")
	}
	if domain.Digest(blob.Data) != blob.Digest {
		return errors.New("digest mismatch")
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.blobs[blob.Digest]; ok {
		return nil
	}
	blob.Data = append([]byte(nil), blob.Data...)
	if blob.CreatedAt.IsZero() {
		blob.CreatedAt = b.clock().UTC()
	}
	b.blobs[blob.Digest] = blob
	return nil
}

func (b *Blobs) Get(ctx context.Context, digest string) (domain.DocumentBlob, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	blob, ok := b.blobs[digest]
	if !ok {
		return domain.DocumentBlob{}, domain.ErrNotFound
	}
	blob.Data = append([]byte(nil), blob.Data...)
	return blob, nil
}

func (b *Blobs) Len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.blobs)
}

type Events struct {
	mu     sync.RWMutex
	events map[string][]domain.IssuanceEvent
}

func NewEvents() *Events {
	return &Events{events: make(map[string][]domain.IssuanceEvent)}
}

func (e *Events) Append(ctx context.Context, event domain.IssuanceEvent) error {
	if event.RequestID == "" {
		return errors.New("request_id is required")
	}
	if event.CreatedAt.IsZero() {
		event.CreatedAt = time.Now().UTC()
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	e.events[event.RequestID] = append(e.events[event.RequestID], event)
	return nil
}

func (e *Events) ListByRequest(ctx context.Context, requestID string) ([]domain.IssuanceEvent, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	events := e.events[requestID]
	out := make([]domain.IssuanceEvent, len(events))
	copy(out, events)
	return out, nil
}

func sortNewestFirst(reqs []domain.CertificateRequest) {
	sort.Slice(reqs, func(i, j int) bool {
		if reqs[i].CreatedAt.Equal(reqs[j].CreatedAt) {
			return reqs[i].ID < reqs[j].ID
		}
		return reqs[i].CreatedAt.After(reqs[j].CreatedAt)
	})
}

func cloneRequest(req domain.CertificateRequest) domain.CertificateRequest {
	req.IssuanceFee = cloneInt(req.IssuanceFee)
	req.DecidedAt = cloneTime(req.DecidedAt)
	req.IssuedAt = cloneTime(req.IssuedAt)
	req.Attempt.Fee = cloneInt(req.Attempt.Fee)
	req.Attempt.SignedTx = bytes.Clone(req.Attempt.SignedTx)
	req.Attempt.UpdatedAt = cloneTime(req.Attempt.UpdatedAt)
	if req.Attempt.Receipt != nil {
		receipt := *req.Attempt.Receipt
		req.Attempt.Receipt = &receipt
	}
	return req
}

func cloneInt(v *big.Int) *big.Int {
	if v == nil {
		return nil
	}
	return new(big.Int).Set(v)
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	out := *t
	return &out
}
