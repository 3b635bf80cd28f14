package db

import (
	"context"
	"errors"

	"decertify/internal/domain"

	"gorm.io/gorm"
)

type RequestRepository struct {
	db *gorm.DB
}

func NewRequestRepository(db *gorm.DB) *RequestRepository {
	return &RequestRepository{db: db}
}

func (r *RequestRepository) Create(ctx context.Context, req domain.CertificateRequest) error {
	if r.db == nil {
		return errDBUnavailable
	}
	if req.ID == "" {
		return errors.New("id is required")
	}
	model, err := requestToModel(req)
	if err != nil {
		return err
	}
	err = r.db.WithContext(ctx).Create(&model).Error
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return domain.ErrConflict
	}
	return err
}

func (r *RequestRepository) Get(ctx context.Context, id string) (domain.CertificateRequest, error) {
	if r.db == nil {
		return domain.CertificateRequest{}, errDBUnavailable
	}
	var model CertificateRequestModel
	err := r.db.WithContext(ctx).Where("id = ?", id).Take(&model).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return domain.CertificateRequest{}, domain.ErrNotFound
		}
		return domain.CertificateRequest{}, err
	}
	return requestFromModel(model)
}

func (r *RequestRepository) Update(ctx context.Context, from domain.RequestStatus, next domain.CertificateRequest) (domain.CertificateRequest, error) {
	if r.db == nil {
		return domain.CertificateRequest{}, errDBUnavailable
	}
	expected := next.Version
	next.Version = expected + 1
	model, err := requestToModel(next)
	if err != nil {
		return domain.CertificateRequest{}, err
	}
	res := r.db.WithContext(ctx).
		Model(&CertificateRequestModel{}).
		Where("id = ? AND status = ? AND version = ?", next.ID, string(from), expected).
		Select("*").
		Omit("id", "created_at").
		Updates(&model)
	if res.Error != nil {
		return domain.CertificateRequest{}, res.Error
	}
	if res.RowsAffected == 0 {
		var count int64
		if err := r.db.WithContext(ctx).Model(&CertificateRequestModel{}).Where("id = ?", next.ID).Count(&count).Error; err != nil {
			return domain.CertificateRequest{}, err
		}
		if count == 0 {
			return domain.CertificateRequest{}, domain.ErrNotFound
		}
		return domain.CertificateRequest{}, domain.ErrConflict
	}
	return next, nil
}

func (r *RequestRepository) List(ctx context.Context, filter domain.RequestFilter) ([]domain.CertificateRequest, error) {
	if r.db == nil {
		return nil, errDBUnavailable
	}
	q := r.db.WithContext(ctx).Model(&CertificateRequestModel{})
	if filter.IssuerID != "" {
		q = q.Where("issuer_id = ?", filter.IssuerID)
	}
	if filter.RequesterID != "" {
		q = q.Where("requester_id = ?", filter.RequesterID)
	}
	if filter.Status != "" {
		q = q.Where("status = ?", string(filter.Status))
	}
	if filter.Limit > 0 {
		q = q.Limit(filter.Limit)
	}
	var models []CertificateRequestModel
	if err := q.Order("created_at DESC").Order("id ASC").Find(&models).Error; err != nil {
		return nil, err
	}
	return requestsFromModels(models)
}

// ListAwaitingConfirmation returns in-flight requests that already hold a
// ledger submission, oldest first.
func (r *RequestRepository) ListAwaitingConfirmation(ctx context.Context, limit int) ([]domain.CertificateRequest, error) {
	if r.db == nil {
		return nil, errDBUnavailable
	}
	q := r.db.WithContext(ctx).
		Where("status = ? AND submission_ref <> ''", string(domain.StatusAcceptedProcessing)).
		Order("created_at ASC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	var models []CertificateRequestModel
	if err := q.Find(&models).Error; err != nil {
		return nil, err
	}
	return requestsFromModels(models)
}

func requestsFromModels(models []CertificateRequestModel) ([]domain.CertificateRequest, error) {
	out := make([]domain.CertificateRequest, 0, len(models))
	for _, m := range models {
		req, err := requestFromModel(m)
		if err != nil {
			return nil, err
		}
		out = append(out, req)
	}
	return out, nil
}
