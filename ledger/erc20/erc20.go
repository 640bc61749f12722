// Package erc20 implements the payment asset ledger against an on-chain
// ERC-20 token. Reads go through eth_call; the charge is a signed
// transferFrom transaction broadcast by the gate's key, which buyers must
// have approved.
package erc20

import (
	"context"
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	gethtypes "github.com/ethereum/go-ethereum/core/types"

	lotmint "github.com/lotmint/lotmint"
)

// erc20ABI covers the three entry points the ledger touches.
const erc20ABI = `[
	{"name":"balanceOf","type":"function","stateMutability":"view","inputs":[{"name":"owner","type":"address"}],"outputs":[{"name":"","type":"uint256"}]},
	{"name":"allowance","type":"function","stateMutability":"view","inputs":[{"name":"owner","type":"address"},{"name":"spender","type":"address"}],"outputs":[{"name":"","type":"uint256"}]},
	{"name":"transferFrom","type":"function","stateMutability":"nonpayable","inputs":[{"name":"from","type":"address"},{"name":"to","type":"address"},{"name":"amount","type":"uint256"}],"outputs":[{"name":"","type":"bool"}]}
]`

// transferFromGasLimit is generous for any mainstream ERC-20 implementation.
const transferFromGasLimit = uint64(120_000)

// receiptPollInterval paces the wait for the charge transaction to mine.
const receiptPollInterval = 2 * time.Second

// Backend is the subset of an Ethereum JSON-RPC client the ledger needs.
// *ethclient.Client satisfies it.
type Backend interface {
	CallContract(ctx context.Context, call ethereum.CallMsg, blockNumber *big.Int) ([]byte, error)
	PendingNonceAt(ctx context.Context, account common.Address) (uint64, error)
	SuggestGasPrice(ctx context.Context) (*big.Int, error)
	SuggestGasTipCap(ctx context.Context) (*big.Int, error)
	SendTransaction(ctx context.Context, tx *gethtypes.Transaction) error
	TransactionReceipt(ctx context.Context, txHash common.Hash) (*gethtypes.Receipt, error)
}

// Signer signs charge transactions with the gate's key.
type Signer interface {
	Address() common.Address
	SignTransaction(ctx context.Context, tx *gethtypes.Transaction) (*gethtypes.Transaction, error)
}

// Ledger is an AssetLedger backed by one ERC-20 token contract.
type Ledger struct {
	token   common.Address
	chainID *big.Int
	backend Backend
	signer  Signer
	abi     abi.ABI
}

// New creates a ledger for the given token contract.
func New(token common.Address, chainID *big.Int, backend Backend, signer Signer) (*Ledger, error) {
	parsed, err := abi.JSON(strings.NewReader(erc20ABI))
	if err != nil {
		return nil, fmt.Errorf("parse erc20 abi: %w", err)
	}
	return &Ledger{
		token:   token,
		chainID: chainID,
		backend: backend,
		signer:  signer,
		abi:     parsed,
	}, nil
}

func (l *Ledger) Allowance(ctx context.Context, owner, spender common.Address) (*big.Int, error) {
	return l.callUint256(ctx, "allowance", owner, spender)
}

func (l *Ledger) BalanceOf(ctx context.Context, owner common.Address) (*big.Int, error) {
	return l.callUint256(ctx, "balanceOf", owner)
}

// TransferFrom broadcasts transferFrom(from, to, amount) signed by the gate
// key and waits for it to mine. A reverted transaction is an error: the
// charge did not happen.
func (l *Ledger) TransferFrom(ctx context.Context, spender, from, to common.Address, amount *big.Int) error {
	if spender != l.signer.Address() {
		return lotmint.NewError(lotmint.ErrCodeUnauthorized, "ledger cannot spend for this gate", map[string]interface{}{
			"spender": spender.Hex(),
			"signer":  l.signer.Address().Hex(),
		})
	}

	calldata, err := l.abi.Pack("transferFrom", from, to, amount)
	if err != nil {
		return fmt.Errorf("encode transferFrom: %w", err)
	}

	nonce, err := l.backend.PendingNonceAt(ctx, l.signer.Address())
	if err != nil {
		return fmt.Errorf("read nonce: %w", err)
	}
	gasFeeCap, err := l.backend.SuggestGasPrice(ctx)
	if err != nil {
		return fmt.Errorf("suggest gas price: %w", err)
	}
	gasTipCap, err := l.backend.SuggestGasTipCap(ctx)
	if err != nil {
		return fmt.Errorf("suggest gas tip: %w", err)
	}

	tx := gethtypes.NewTx(&gethtypes.DynamicFeeTx{
		ChainID:   l.chainID,
		Nonce:     nonce,
		GasTipCap: gasTipCap,
		GasFeeCap: gasFeeCap,
		Gas:       transferFromGasLimit,
		To:        &l.token,
		Value:     big.NewInt(0),
		Data:      calldata,
	})
	signed, err := l.signer.SignTransaction(ctx, tx)
	if err != nil {
		return fmt.Errorf("sign transferFrom: %w", err)
	}
	if err := l.backend.SendTransaction(ctx, signed); err != nil {
		return fmt.Errorf("broadcast transferFrom: %w", err)
	}

	receipt, err := l.waitMined(ctx, signed.Hash())
	if err != nil {
		return err
	}
	if receipt.Status != gethtypes.ReceiptStatusSuccessful {
		return fmt.Errorf("transferFrom reverted in tx %s", signed.Hash())
	}
	return nil
}

func (l *Ledger) callUint256(ctx context.Context, method string, args ...interface{}) (*big.Int, error) {
	calldata, err := l.abi.Pack(method, args...)
	if err != nil {
		return nil, fmt.Errorf("encode %s: %w", method, err)
	}
	out, err := l.backend.CallContract(ctx, ethereum.CallMsg{To: &l.token, Data: calldata}, nil)
	if err != nil {
		return nil, fmt.Errorf("call %s: %w", method, err)
	}
	values, err := l.abi.Unpack(method, out)
	if err != nil {
		return nil, fmt.Errorf("decode %s: %w", method, err)
	}
	value, ok := values[0].(*big.Int)
	if !ok {
		return nil, fmt.Errorf("decode %s: unexpected return type %T", method, values[0])
	}
	return value, nil
}

func (l *Ledger) waitMined(ctx context.Context, hash common.Hash) (*gethtypes.Receipt, error) {
	ticker := time.NewTicker(receiptPollInterval)
	defer ticker.Stop()

	for {
		receipt, err := l.backend.TransactionReceipt(ctx, hash)
		if err == nil {
			return receipt, nil
		}
		if err != ethereum.NotFound {
			return nil, fmt.Errorf("read receipt: %w", err)
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticker.C:
		}
	}
}

var _ lotmint.AssetLedger = (*Ledger)(nil)
