package evm

import (
	"context"
	"fmt"
	"math/big"

	"decertify/internal/domain"
)

// Unconfigured stands in when no ledger rpc is set. Nothing is ever
// broadcast, so every submission fails before leaving the process.
type Unconfigured struct{}

func (Unconfigured) Prepare(ctx context.Context, params domain.TxParams) (domain.SignedTx, error) {
	return domain.SignedTx{}, fmt.Errorf("%w: ledger rpc is not configured", domain.ErrLedgerUnavailable)
}

func (Unconfigured) Send(ctx context.Context, tx domain.SignedTx) error {
	return fmt.Errorf("%w: ledger rpc is not configured", domain.ErrLedgerUnavailable)
}

func (Unconfigured) Status(ctx context.Context, ref string) (domain.LedgerOutcome, error) {
	return domain.LedgerOutcome{}, fmt.Errorf("%w: ledger rpc is not configured", domain.ErrLedgerUnavailable)
}

func (Unconfigured) IssuanceFee(ctx context.Context, issuerID string) (*big.Int, error) {
	return nil, fmt.Errorf("%w: ledger rpc is not configured", domain.ErrLedgerUnavailable)
}
