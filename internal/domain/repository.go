package domain

import "context"

type RequestFilter struct {
	IssuerID    string
	RequesterID string
	Status      RequestStatus
	Limit       int
}

type RequestRepository interface {
	Create(ctx context.Context, req CertificateRequest) error
	Get(ctx context.Context, id string) (CertificateRequest, error)
	// Update stores next if the stored row still has status from and
	// version next.Version. The stored version is incremented. A stale
	// write returns ErrConflict.
	Update(ctx context.Context, from RequestStatus, next CertificateRequest) (CertificateRequest, error)
	List(ctx context.Context, filter RequestFilter) ([]CertificateRequest, error)
	ListAwaitingConfirmation(ctx context.Context, limit int) ([]CertificateRequest, error)
}

type BlobRepository interface {
	Put(ctx context.Context, blob DocumentBlob) error
	Get(ctx context.Context, digest string) (DocumentBlob, error)
}

type EventRepository interface {
	Append(ctx context.Context, event IssuanceEvent) error
	ListByRequest(ctx context.Context, requestID string) ([]IssuanceEvent, error)
}
