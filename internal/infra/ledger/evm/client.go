package evm

import (
	"context"
	"crypto/ecdsa"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"

	"decertify/internal/domain"
)

// Backend is the subset of *ethclient.Client used by Client.
type Backend interface {
	PendingNonceAt(ctx context.Context, account common.Address) (uint64, error)
	SuggestGasTipCap(ctx context.Context) (*big.Int, error)
	HeaderByNumber(ctx context.Context, number *big.Int) (*types.Header, error)
	EstimateGas(ctx context.Context, msg ethereum.CallMsg) (uint64, error)
	SendTransaction(ctx context.Context, tx *types.Transaction) error
	TransactionReceipt(ctx context.Context, txHash common.Hash) (*types.Receipt, error)
	TransactionByHash(ctx context.Context, hash common.Hash) (*types.Transaction, bool, error)
	CallContract(ctx context.Context, msg ethereum.CallMsg, blockNumber *big.Int) ([]byte, error)
}

type Config struct {
	RPCURL          string
	ChainID         int64
	ContractAddress string
	PrivateKeyHex   string
	Confirmations   uint64
	RequestTimeout  time.Duration
}

// Client submits issueCertificate transactions signed with the issuer key.
type Client struct {
	backend       Backend
	chainID       *big.Int
	contract      common.Address
	key           *ecdsa.PrivateKey
	from          common.Address
	confirmations uint64
	timeout       time.Duration
	clock         func() time.Time
}

func Dial(ctx context.Context, cfg Config) (*Client, error) {
	if strings.TrimSpace(cfg.RPCURL) == "" {
		return nil, errors.New("ledger rpc url is required")
	}
	backend, err := ethclient.DialContext(ctx, cfg.RPCURL)
	if err != nil {
		return nil, fmt.Errorf("dial ledger rpc: %w", err)
	}
	return NewClient(backend, cfg)
}

func NewClient(backend Backend, cfg Config) (*Client, error) {
	if backend == nil {
		return nil, errors.New("ledger backend is required")
	}
	if cfg.ChainID <= 0 {
		return nil, errors.New("ledger chain id is required")
	}
	if !common.IsHexAddress(cfg.ContractAddress) {
		return nil, fmt.Errorf("invalid contract address %q", cfg.ContractAddress)
	}
	key, err := crypto.HexToECDSA(strings.TrimPrefix(strings.TrimSpace(cfg.PrivateKeyHex), "0x"))
	if err != nil {
		return nil, fmt.Errorf("parse issuer key: %w", err)
	}
	confirmations := cfg.Confirmations
	if confirmations == 0 {
		confirmations = 1
	}
	timeout := cfg.RequestTimeout
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return &Client{
		backend:       backend,
		chainID:       big.NewInt(cfg.ChainID),
		contract:      common.HexToAddress(cfg.ContractAddress),
		key:           key,
		from:          crypto.PubkeyToAddress(key.PublicKey),
		confirmations: confirmations,
		timeout:       timeout,
		clock:         time.Now,
	}, nil
}

func (c *Client) From() common.Address {
	return c.from
}

// Prepare signs issueCertificate(recipient, contentID) with the fee as value.
// It reads chain state for the nonce and gas but broadcasts nothing.
func (c *Client) Prepare(ctx context.Context, params domain.TxParams) (domain.SignedTx, error) {
	if !common.IsHexAddress(params.Recipient) {
		return domain.SignedTx{}, fmt.Errorf("%w: invalid recipient address %q", domain.ErrLedgerRejected, params.Recipient)
	}
	if params.ContentID == "" {
		return domain.SignedTx{}, fmt.Errorf("%w: content id is required", domain.ErrLedgerRejected)
	}
	value := new(big.Int)
	if params.Fee != nil {
		value.Set(params.Fee)
	}
	data, err := contractABI.Pack(methodIssue, common.HexToAddress(params.Recipient), params.ContentID)
	if err != nil {
		return domain.SignedTx{}, fmt.Errorf("%w: pack call: %v", domain.ErrLedgerRejected, err)
	}

	rctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	nonce, err := c.backend.PendingNonceAt(rctx, c.from)
	if err != nil {
		return domain.SignedTx{}, unavailable("pending nonce", err)
	}
	tip, err := c.backend.SuggestGasTipCap(rctx)
	if err != nil {
		return domain.SignedTx{}, unavailable("gas tip", err)
	}
	head, err := c.backend.HeaderByNumber(rctx, nil)
	if err != nil {
		return domain.SignedTx{}, unavailable("latest header", err)
	}
	feeCap := new(big.Int).Set(tip)
	if head.BaseFee != nil {
		feeCap.Add(feeCap, new(big.Int).Mul(head.BaseFee, big.NewInt(2)))
	}
	gas, err := c.backend.EstimateGas(rctx, ethereum.CallMsg{
		From:      c.from,
		To:        &c.contract,
		GasTipCap: tip,
		GasFeeCap: feeCap,
		Value:     value,
		Data:      data,
	})
	if err != nil {
		return domain.SignedTx{}, classifySendError("estimate gas", err)
	}

	tx, err := types.SignNewTx(c.key, types.LatestSignerForChainID(c.chainID), &types.DynamicFeeTx{
		ChainID:   c.chainID,
		Nonce:     nonce,
		GasTipCap: tip,
		GasFeeCap: feeCap,
		Gas:       gas * 6 / 5,
		To:        &c.contract,
		Value:     value,
		Data:      data,
	})
	if err != nil {
		return domain.SignedTx{}, fmt.Errorf("%w: sign: %v", domain.ErrLedgerRejected, err)
	}
	raw, err := tx.MarshalBinary()
	if err != nil {
		return domain.SignedTx{}, fmt.Errorf("%w: encode: %v", domain.ErrLedgerRejected, err)
	}
	return domain.SignedTx{Ref: tx.Hash().Hex(), Raw: raw}, nil
}

// Send broadcasts a prepared transaction. A node that already holds it
// counts as success.
func (c *Client) Send(ctx context.Context, signed domain.SignedTx) error {
	tx := new(types.Transaction)
	if err := tx.UnmarshalBinary(signed.Raw); err != nil {
		return fmt.Errorf("%w: decode signed transaction: %v", domain.ErrLedgerRejected, err)
	}
	if signed.Ref != "" && !strings.EqualFold(tx.Hash().Hex(), signed.Ref) {
		return fmt.Errorf("%w: signed transaction hash %s does not match %s", domain.ErrLedgerRejected, tx.Hash().Hex(), signed.Ref)
	}
	rctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()
	if err := c.backend.SendTransaction(rctx, tx); err != nil {
		if isAlreadyKnown(err) {
			return nil
		}
		return classifySendError("send", err)
	}
	return nil
}

func (c *Client) Status(ctx context.Context, ref string) (domain.LedgerOutcome, error) {
	if !isTxHash(ref) {
		return domain.LedgerOutcome{}, fmt.Errorf("%w: invalid submission ref %q", domain.ErrValidation, ref)
	}
	hash := common.HexToHash(ref)
	rctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	receipt, err := c.backend.TransactionReceipt(rctx, hash)
	if errors.Is(err, ethereum.NotFound) {
		_, _, err := c.backend.TransactionByHash(rctx, hash)
		if errors.Is(err, ethereum.NotFound) {
			return domain.LedgerOutcome{State: domain.LedgerUnknown}, nil
		}
		if err != nil {
			return domain.LedgerOutcome{}, unavailable("transaction lookup", err)
		}
		return domain.LedgerOutcome{State: domain.LedgerPending}, nil
	}
	if err != nil {
		return domain.LedgerOutcome{}, unavailable("receipt", err)
	}
	if receipt.Status != types.ReceiptStatusSuccessful {
		return domain.LedgerOutcome{State: domain.LedgerRejected, Reason: "execution reverted"}, nil
	}
	if c.confirmations > 1 && receipt.BlockNumber != nil {
		head, err := c.backend.HeaderByNumber(rctx, nil)
		if err != nil {
			return domain.LedgerOutcome{}, unavailable("latest header", err)
		}
		depth := new(big.Int).Sub(head.Number, receipt.BlockNumber)
		if depth.Sign() < 0 || depth.Uint64()+1 < c.confirmations {
			return domain.LedgerOutcome{State: domain.LedgerPending}, nil
		}
	}
	out := &domain.LedgerReceipt{
		TxHash:      receipt.TxHash.Hex(),
		BlockHash:   receipt.BlockHash.Hex(),
		GasUsed:     receipt.GasUsed,
		ConfirmedAt: c.clock().UTC(),
	}
	if receipt.BlockNumber != nil {
		out.BlockNumber = receipt.BlockNumber.Uint64()
	}
	return domain.LedgerOutcome{State: domain.LedgerConfirmed, Receipt: out}, nil
}

// IssuanceFee reads the organization's fee from the contract. issuerID is
// used when it is an address, otherwise the signing account is queried.
func (c *Client) IssuanceFee(ctx context.Context, issuerID string) (*big.Int, error) {
	org := c.from
	if common.IsHexAddress(issuerID) {
		org = common.HexToAddress(issuerID)
	}
	data, err := contractABI.Pack(methodOrganizations, org)
	if err != nil {
		return nil, err
	}
	rctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()
	out, err := c.backend.CallContract(rctx, ethereum.CallMsg{From: c.from, To: &c.contract, Data: data}, nil)
	if err != nil {
		return nil, classifySendError("organizations", err)
	}
	values, err := contractABI.Unpack(methodOrganizations, out)
	if err != nil || len(values) != 3 {
		return nil, fmt.Errorf("%w: decode organizations: %v", domain.ErrLedgerRejected, err)
	}
	registered, _ := values[1].(bool)
	if !registered {
		return nil, fmt.Errorf("%w: organization %s is not registered", domain.ErrLedgerRejected, org.Hex())
	}
	fee, ok := values[2].(*big.Int)
	if !ok || fee == nil {
		return nil, fmt.Errorf("%w: organizations returned no fee", domain.ErrLedgerRejected)
	}
	return fee, nil
}

var rejectionMarkers = []string{
	"insufficient funds",
	"execution reverted",
	"nonce too low",
	"intrinsic gas too low",
	"exceeds block gas limit",
	"gas required exceeds allowance",
	"invalid sender",
	"transaction underpriced",
	"replacement transaction underpriced",
	"max fee per gas less than block base fee",
}

func classifySendError(op string, err error) error {
	msg := strings.ToLower(err.Error())
	for _, marker := range rejectionMarkers {
		if strings.Contains(msg, marker) {
			return fmt.Errorf("%w: %s: %v", domain.ErrLedgerRejected, op, err)
		}
	}
	return unavailable(op, err)
}

func unavailable(op string, err error) error {
	return fmt.Errorf("%w: %s: %v", domain.ErrLedgerUnavailable, op, err)
}

func isAlreadyKnown(err error) bool {
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "already known") || strings.Contains(msg, "known transaction")
}

func isTxHash(ref string) bool {
	ref = strings.TrimPrefix(ref, "0x")
	if len(ref) != 64 {
		return false
	}
	for _, r := range ref {
		if !strings.ContainsRune("0123456789abcdefABCDEF", r) {
			return false
		}
	}
	return true
}
