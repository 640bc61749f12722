// Package bank provides an in-memory fungible asset ledger with standard
// transfer-from semantics. It backs local deployments and tests; production
// deployments use the on-chain ERC-20 ledger instead.
package bank

import (
	"context"
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum/common"

	lotmint "github.com/lotmint/lotmint"
)

// Ledger is a thread-safe in-memory asset ledger.
type Ledger struct {
	mu         sync.Mutex
	balances   map[common.Address]*big.Int
	allowances map[common.Address]map[common.Address]*big.Int
}

// New creates an empty ledger.
func New() *Ledger {
	return &Ledger{
		balances:   make(map[common.Address]*big.Int),
		allowances: make(map[common.Address]map[common.Address]*big.Int),
	}
}

// Deposit credits an account. Test and local-mode helper.
func (l *Ledger) Deposit(account common.Address, amount *big.Int) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.balances[account] = new(big.Int).Add(l.balanceLocked(account), amount)
}

// Approve authorizes the spender to move up to amount from the owner.
func (l *Ledger) Approve(owner, spender common.Address, amount *big.Int) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.allowances[owner] == nil {
		l.allowances[owner] = make(map[common.Address]*big.Int)
	}
	l.allowances[owner][spender] = new(big.Int).Set(amount)
}

func (l *Ledger) Allowance(_ context.Context, owner, spender common.Address) (*big.Int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return new(big.Int).Set(l.allowanceLocked(owner, spender)), nil
}

func (l *Ledger) BalanceOf(_ context.Context, owner common.Address) (*big.Int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return new(big.Int).Set(l.balanceLocked(owner)), nil
}

// TransferFrom moves amount from `from` to `to`, consuming the spender's
// allowance.
func (l *Ledger) TransferFrom(_ context.Context, spender, from, to common.Address, amount *big.Int) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	allowance := l.allowanceLocked(from, spender)
	if allowance.Cmp(amount) < 0 {
		return lotmint.NewError(lotmint.ErrCodeInsufficientAllowance, "transfer exceeds allowance", nil)
	}
	balance := l.balanceLocked(from)
	if balance.Cmp(amount) < 0 {
		return lotmint.NewError(lotmint.ErrCodeInsufficientBalance, "transfer exceeds balance", nil)
	}

	if l.allowances[from] == nil {
		l.allowances[from] = make(map[common.Address]*big.Int)
	}
	l.allowances[from][spender] = new(big.Int).Sub(allowance, amount)
	l.balances[from] = new(big.Int).Sub(balance, amount)
	l.balances[to] = new(big.Int).Add(l.balanceLocked(to), amount)
	return nil
}

// allowanceLocked returns the live allowance entry, zero if absent.
func (l *Ledger) allowanceLocked(owner, spender common.Address) *big.Int {
	if l.allowances[owner] == nil {
		return big.NewInt(0)
	}
	if a, ok := l.allowances[owner][spender]; ok {
		return a
	}
	return big.NewInt(0)
}

func (l *Ledger) balanceLocked(account common.Address) *big.Int {
	if b, ok := l.balances[account]; ok {
		return b
	}
	return big.NewInt(0)
}

var _ lotmint.AssetLedger = (*Ledger)(nil)
