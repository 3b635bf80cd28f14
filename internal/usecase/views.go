package usecase

import (
	"math/big"
	"time"

	"decertify/internal/domain"
)

type RequestView struct {
	ID               string               `json:"id"`
	RequesterID      string               `json:"requester_id"`
	IssuerID         string               `json:"issuer_id"`
	RecipientAddress string               `json:"recipient_address"`
	SubjectID        string               `json:"subject_id"`
	Period           int                  `json:"period"`
	Category         string               `json:"category"`
	Status           domain.RequestStatus `json:"status"`
	Remarks          string               `json:"remarks,omitempty"`
	ContentID        string               `json:"content_id,omitempty"`
	IssuanceFee      string               `json:"issuance_fee,omitempty"`
	FailedStep       domain.IssuanceStep  `json:"failed_step,omitempty"`
	FailureKind      string               `json:"failure_kind,omitempty"`
	FailureCause     string               `json:"failure_cause,omitempty"`
	Attempt          *AttemptView         `json:"attempt,omitempty"`
	CreatedAt        time.Time            `json:"created_at"`
	DecidedAt        *time.Time           `json:"decided_at,omitempty"`
	IssuedAt         *time.Time           `json:"issued_at,omitempty"`
}

type AttemptView struct {
	Number          int                   `json:"number"`
	Processed       bool                  `json:"processed"`
	ContentPushed   bool                  `json:"content_pushed"`
	LedgerSubmitted bool                  `json:"ledger_submitted"`
	LedgerConfirmed bool                  `json:"ledger_confirmed"`
	ContentID       string                `json:"content_id,omitempty"`
	SubmissionRef   string                `json:"submission_ref,omitempty"`
	Fee             string                `json:"fee,omitempty"`
	Receipt         *domain.LedgerReceipt `json:"receipt,omitempty"`
	LastError       string                `json:"last_error,omitempty"`
	UpdatedAt       *time.Time            `json:"updated_at,omitempty"`
}

// VerificationView is the public projection of a request.
type VerificationView struct {
	RequestID        string               `json:"request_id"`
	Valid            bool                 `json:"valid"`
	Status           domain.RequestStatus `json:"status"`
	IssuerID         string               `json:"issuer_id"`
	RecipientAddress string               `json:"recipient_address"`
	SubjectID        string               `json:"subject_id"`
	Period           int                  `json:"period"`
	Category         string               `json:"category"`
	ContentID        string               `json:"content_id,omitempty"`
	TxHash           string               `json:"tx_hash,omitempty"`
	BlockNumber      uint64               `json:"block_number,omitempty"`
	IssuedAt         *time.Time           `json:"issued_at,omitempty"`
}

func NewRequestView(req domain.CertificateRequest) RequestView {
	view := RequestView{
		ID:               req.ID,
		RequesterID:      req.RequesterID,
		IssuerID:         req.IssuerID,
		RecipientAddress: req.RecipientAddress,
		SubjectID:        req.SubjectID,
		Period:           req.Period,
		Category:         req.Category,
		Status:           req.Status,
		Remarks:          req.Remarks,
		ContentID:        req.ContentID,
		IssuanceFee:      weiString(req.IssuanceFee),
		FailedStep:       req.FailedStep,
		FailureKind:      req.FailureKind,
		FailureCause:     req.FailureCause,
		CreatedAt:        req.CreatedAt,
		DecidedAt:        req.DecidedAt,
		IssuedAt:         req.IssuedAt,
	}
	if req.Attempt.Number > 0 {
		a := req.Attempt
		view.Attempt = &AttemptView{
			Number:          a.Number,
			Processed:       a.Processed(),
			ContentPushed:   a.ContentPushed(),
			LedgerSubmitted: a.LedgerSubmitted(),
			LedgerConfirmed: a.LedgerConfirmed(),
			ContentID:       a.ContentID,
			SubmissionRef:   a.SubmissionRef,
			Fee:             weiString(a.Fee),
			Receipt:         a.Receipt,
			LastError:       a.LastError,
			UpdatedAt:       a.UpdatedAt,
		}
	}
	return view
}

func NewVerificationView(req domain.CertificateRequest) VerificationView {
	view := VerificationView{
		RequestID:        req.ID,
		Valid:            req.Status == domain.StatusIssued,
		Status:           req.Status,
		IssuerID:         req.IssuerID,
		RecipientAddress: req.RecipientAddress,
		SubjectID:        req.SubjectID,
		Period:           req.Period,
		Category:         req.Category,
	}
	if !view.Valid {
		return view
	}
	view.ContentID = req.ContentID
	view.IssuedAt = req.IssuedAt
	if req.Attempt.Receipt != nil {
		view.TxHash = req.Attempt.Receipt.TxHash
		view.BlockNumber = req.Attempt.Receipt.BlockNumber
	}
	return view
}

func weiString(v *big.Int) string {
	if v == nil {
		return ""
	}
	return v.String()
}
