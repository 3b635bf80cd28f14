package domain

import (
	"context"
	"math/big"
	"net/url"
	"strings"
	"time"
)

// VerificationPayload is rendered into the document. It carries the request
// id rather than the content id, which is only known after the push.
type VerificationPayload struct {
	RequestID string
	VerifyURL string
}

// Text is the value encoded in the scannable marker.
func (p VerificationPayload) Text() string {
	base := strings.TrimRight(strings.TrimSpace(p.VerifyURL), "/")
	if base == "" {
		return "decertify:request:" + p.RequestID
	}
	return base + "/" + url.PathEscape(p.RequestID)
}

type DocumentProcessor interface {
	Embed(ctx context.Context, document []byte, marker VerificationPayload) ([]byte, error)
}

type ContentStore interface {
	Put(ctx context.Context, data []byte) (string, error)
	Get(ctx context.Context, contentID string) ([]byte, error)
}

type TxParams struct {
	RequestID string
	Recipient string
	ContentID string
	Fee       *big.Int
}

type LedgerState string

const (
	LedgerPending   LedgerState = "pending"
	LedgerConfirmed LedgerState = "confirmed"
	LedgerRejected  LedgerState = "rejected"
	// LedgerUnknown means the node has no record of the transaction, either
	// because it was never broadcast or because it was evicted.
	LedgerUnknown LedgerState = "unknown"
)

type LedgerReceipt struct {
	TxHash      string    `json:"tx_hash"`
	BlockNumber uint64    `json:"block_number"`
	BlockHash   string    `json:"block_hash"`
	GasUsed     uint64    `json:"gas_used"`
	ConfirmedAt time.Time `json:"confirmed_at"`
}

type LedgerOutcome struct {
	State   LedgerState
	Receipt *LedgerReceipt
	Reason  string
}

// SignedTx is a signed issuance transaction. Ref is fixed by the signature,
// so it can be recorded before the transaction leaves the process.
type SignedTx struct {
	Ref string
	Raw []byte
}

// Ledger issues certificates in two steps. Prepare signs without touching
// the network state; Send broadcasts. Sending the same SignedTx again never
// creates a second submission. Send returns ErrLedgerRejected only when the
// node refused the transaction; any other error leaves the outcome unknown.
type Ledger interface {
	Prepare(ctx context.Context, params TxParams) (SignedTx, error)
	Send(ctx context.Context, tx SignedTx) error
	Status(ctx context.Context, ref string) (LedgerOutcome, error)
}

type FeeSource interface {
	IssuanceFee(ctx context.Context, issuerID string) (*big.Int, error)
}

type Unlock func(ctx context.Context) error

// Locker hands out per-key exclusive leases. TryLock returns
// ErrAlreadyInProgress when the key is held.
type Locker interface {
	TryLock(ctx context.Context, key string) (Unlock, error)
}
