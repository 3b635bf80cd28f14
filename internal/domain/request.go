package domain

import (
	"crypto/sha256"
	"encoding/hex"
	"math/big"
	"strings"
	"time"
)

type RequestStatus string

const (
	StatusPending            RequestStatus = "pending"
	StatusAcceptedProcessing RequestStatus = "accepted_processing"
	StatusIssuanceFailed     RequestStatus = "issuance_failed"
	StatusIssued             RequestStatus = "issued"
	StatusRejected           RequestStatus = "rejected"
)

var transitions = map[RequestStatus][]RequestStatus{
	StatusPending:            {StatusAcceptedProcessing, StatusRejected},
	StatusAcceptedProcessing: {StatusIssuanceFailed, StatusIssued},
	StatusIssuanceFailed:     {StatusAcceptedProcessing, StatusRejected},
}

func (s RequestStatus) Valid() bool {
	switch s {
	case StatusPending, StatusAcceptedProcessing, StatusIssuanceFailed, StatusIssued, StatusRejected:
		return true
	default:
		return false
	}
}

// Terminal reports whether no transition may leave s.
func (s RequestStatus) Terminal() bool {
	return s == StatusIssued || s == StatusRejected
}

func CanTransition(from, to RequestStatus) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

func ParseStatus(raw string) (RequestStatus, error) {
	status := RequestStatus(strings.TrimSpace(raw))
	if !status.Valid() {
		return "", ErrInvalidStatus
	}
	return status, nil
}

// Decision is the issuer-facing status value accepted by the decide call.
type Decision string

const (
	DecisionAccept Decision = "accepted"
	DecisionReject Decision = "rejected"
)

func ParseDecision(raw string) (Decision, error) {
	switch Decision(strings.TrimSpace(raw)) {
	case DecisionAccept:
		return DecisionAccept, nil
	case DecisionReject:
		return DecisionReject, nil
	default:
		return "", ErrInvalidStatus
	}
}

type IssuanceStep string

const (
	StepProcess       IssuanceStep = "process"
	StepContentPush   IssuanceStep = "content_push"
	StepLedgerSubmit  IssuanceStep = "ledger_submit"
	StepLedgerConfirm IssuanceStep = "ledger_confirm"
)

type CertificateRequest struct {
	ID               string
	RequesterID      string
	IssuerID         string
	RecipientAddress string
	SubjectID        string
	Period           int
	Category         string
	Status           RequestStatus
	Remarks          string
	ContentID        string
	IssuanceFee      *big.Int

	FailedStep   IssuanceStep
	FailureKind  string
	FailureCause string

	Attempt IssuanceAttempt
	Version int64

	CreatedAt time.Time
	DecidedAt *time.Time
	IssuedAt  *time.Time
}

// IssuanceAttempt is the progress marker of the pipeline for one request.
// Each field is written before the following step starts. SubmissionRef and
// SignedTx are written before the broadcast.
type IssuanceAttempt struct {
	Number          int
	SourceDigest    string
	ProcessedDigest string
	ContentID       string
	SubmissionRef   string
	SignedTx        []byte
	Fee             *big.Int
	Receipt         *LedgerReceipt
	LastError       string
	UpdatedAt       *time.Time
}

func (a IssuanceAttempt) Processed() bool       { return a.ProcessedDigest != "" }
func (a IssuanceAttempt) ContentPushed() bool   { return a.ContentID != "" }
func (a IssuanceAttempt) LedgerSubmitted() bool { return a.SubmissionRef != "" }
func (a IssuanceAttempt) LedgerConfirmed() bool { return a.Receipt != nil }

// OwnedBy reports whether issuerID may mutate the request.
func (r CertificateRequest) OwnedBy(issuerID string) bool {
	return issuerID != "" && r.IssuerID == issuerID
}

// ClearSubmission drops the ledger marker so the next run signs a new
// transaction. Only valid once the recorded one can no longer be mined.
func (a IssuanceAttempt) ClearSubmission() IssuanceAttempt {
	a.SubmissionRef = ""
	a.SignedTx = nil
	a.Fee = nil
	a.Receipt = nil
	return a
}

func (r CertificateRequest) ClearFailure() CertificateRequest {
	r.FailedStep = ""
	r.FailureKind = ""
	r.FailureCause = ""
	return r
}

type DocumentBlob struct {
	Digest    string
	MediaType string
	Data      []byte
	CreatedAt time.Time
}

func Digest(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

type EventType string

const (
	EventRequestCreated    EventType = "request.created"
	EventRequestAccepted   EventType = "request.accepted"
	EventRequestRejected   EventType = "request.rejected"
	EventIssuanceProcessed EventType = "issuance.processed"
	EventContentPushed     EventType = "issuance.content_pushed"
	EventLedgerSubmitted   EventType = "issuance.submitted"
	EventLedgerConfirmed   EventType = "issuance.confirmed"
	EventIssuanceFailed    EventType = "issuance.failed"
	EventIssuanceRetried   EventType = "issuance.retried"
	EventIssuanceAbandoned EventType = "issuance.abandoned"
)

type IssuanceEvent struct {
	RequestID string
	Attempt   int
	Type      EventType
	ActorID   string
	Payload   map[string]any
	CreatedAt time.Time
}
