package db

import (
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"time"

	"decertify/internal/domain"
)

var errDBUnavailable = errors.New("db unavailable")

func copyBytes(in []byte) []byte {
	if in == nil {
		return nil
	}
	out := make([]byte, len(in))
	copy(out, in)
	return out
}

func weiToColumn(v *big.Int) *string {
	if v == nil {
		return nil
	}
	s := v.String()
	return &s
}

func weiFromColumn(s *string) (*big.Int, error) {
	if s == nil || *s == "" {
		return nil, nil
	}
	v, ok := new(big.Int).SetString(*s, 10)
	if !ok {
		return nil, fmt.Errorf("invalid wei amount %q", *s)
	}
	return v, nil
}

func utcPtr(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	out := t.UTC()
	return &out
}

func requestToModel(req domain.CertificateRequest) (CertificateRequestModel, error) {
	var receipt []byte
	if req.Attempt.Receipt != nil {
		encoded, err := json.Marshal(req.Attempt.Receipt)
		if err != nil {
			return CertificateRequestModel{}, fmt.Errorf("encode receipt: %w", err)
		}
		receipt = encoded
	}
	return CertificateRequestModel{
		ID:               req.ID,
		RequesterID:      req.RequesterID,
		IssuerID:         req.IssuerID,
		RecipientAddress: req.RecipientAddress,
		SubjectID:        req.SubjectID,
		Period:           req.Period,
		Category:         req.Category,
		Status:           string(req.Status),
		Remarks:          req.Remarks,
		ContentID:        req.ContentID,
		IssuanceFee:      weiToColumn(req.IssuanceFee),
		FailedStep:       string(req.FailedStep),
		FailureKind:      req.FailureKind,
		FailureCause:     req.FailureCause,
		AttemptNumber:    req.Attempt.Number,
		SourceDigest:     req.Attempt.SourceDigest,
		ProcessedDigest:  req.Attempt.ProcessedDigest,
		AttemptContentID: req.Attempt.ContentID,
		SubmissionRef:    req.Attempt.SubmissionRef,
		SignedTx:         copyBytes(req.Attempt.SignedTx),
		AttemptFee:       weiToColumn(req.Attempt.Fee),
		ReceiptJSON:      receipt,
		LastError:        req.Attempt.LastError,
		AttemptUpdatedAt: utcPtr(req.Attempt.UpdatedAt),
		Version:          req.Version,
		CreatedAt:        req.CreatedAt.UTC(),
		DecidedAt:        utcPtr(req.DecidedAt),
		IssuedAt:         utcPtr(req.IssuedAt),
	}, nil
}

func requestFromModel(m CertificateRequestModel) (domain.CertificateRequest, error) {
	fee, err := weiFromColumn(m.IssuanceFee)
	if err != nil {
		return domain.CertificateRequest{}, err
	}
	attemptFee, err := weiFromColumn(m.AttemptFee)
	if err != nil {
		return domain.CertificateRequest{}, err
	}
	var receipt *domain.LedgerReceipt
	if len(m.ReceiptJSON) > 0 && string(m.ReceiptJSON) != "null" {
		receipt = &domain.LedgerReceipt{}
		if err := json.Unmarshal(m.ReceiptJSON, receipt); err != nil {
			return domain.CertificateRequest{}, fmt.Errorf("decode receipt: %w", err)
		}
	}
	return domain.CertificateRequest{
		ID:               m.ID,
		RequesterID:      m.RequesterID,
		IssuerID:         m.IssuerID,
		RecipientAddress: m.RecipientAddress,
		SubjectID:        m.SubjectID,
		Period:           m.Period,
		Category:         m.Category,
		Status:           domain.RequestStatus(m.Status),
		Remarks:          m.Remarks,
		ContentID:        m.ContentID,
		IssuanceFee:      fee,
		FailedStep:       domain.IssuanceStep(m.FailedStep),
		FailureKind:      m.FailureKind,
		FailureCause:     m.FailureCause,
		Attempt: domain.IssuanceAttempt{
			Number:          m.AttemptNumber,
			SourceDigest:    m.SourceDigest,
			ProcessedDigest: m.ProcessedDigest,
			ContentID:       m.AttemptContentID,
			SubmissionRef:   m.SubmissionRef,
			SignedTx:        copyBytes(m.SignedTx),
			Fee:             attemptFee,
			Receipt:         receipt,
			LastError:       m.LastError,
			UpdatedAt:       utcPtr(m.AttemptUpdatedAt),
		},
		Version:   m.Version,
		CreatedAt: m.CreatedAt.UTC(),
		DecidedAt: utcPtr(m.DecidedAt),
		IssuedAt:  utcPtr(m.IssuedAt),
	}, nil
}
