package store

import (
	"context"
	"math/big"
	"sync"

	"github.com/lotmint/lotmint/lotpool"
	"github.com/lotmint/lotmint/types"
)

// Memory is an in-memory Store for tests and single-process deployments
// without durability requirements. Transactions stage mutations on a deep
// copy of the state and swap it in on commit.
type Memory struct {
	mu          sync.Mutex
	initialized bool
	state       *State
}

// NewMemory creates an uninitialized in-memory store.
func NewMemory() *Memory {
	return &Memory{}
}

func (m *Memory) Initialize(_ context.Context, genesis types.Genesis) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.initialized {
		return ErrAlreadyInitialized
	}

	pool := lotpool.New()
	for _, r := range genesis.Ranges {
		if err := pool.ExtendRange(r.Start, r.End); err != nil {
			return err
		}
	}

	price := big.NewInt(0)
	if genesis.UnitPrice != nil {
		price = new(big.Int).Set(genesis.UnitPrice)
	}

	m.state = &State{
		Admin: genesis.Admin,
		Config: types.PriceConfig{
			UnitPrice: price,
			Asset:     genesis.Asset,
			Receiver:  genesis.Receiver,
		},
		Pool:    pool.Snapshot(),
		Tokens:  make(map[types.TokenID]types.Token),
		Pending: make(map[types.RequestID]types.TokenID),
		Version: 1,
	}
	m.initialized = true
	return nil
}

func (m *Memory) Initialized(_ context.Context) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.initialized, nil
}

func (m *Memory) Load(_ context.Context) (*State, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.initialized {
		return nil, ErrNotInitialized
	}
	return copyState(m.state), nil
}

func (m *Memory) Begin(_ context.Context) (Tx, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.initialized {
		return nil, ErrNotInitialized
	}
	return &memoryTx{store: m, staged: copyState(m.state)}, nil
}

func (m *Memory) Version(_ context.Context) (uint64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.initialized {
		return 0, ErrNotInitialized
	}
	return m.state.Version, nil
}

func (m *Memory) BumpVersion(_ context.Context) (uint64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.initialized {
		return 0, ErrNotInitialized
	}
	m.state.Version++
	return m.state.Version, nil
}

func (m *Memory) Close() error {
	return nil
}

type memoryTx struct {
	store  *Memory
	staged *State
	done   bool
}

func (t *memoryTx) SetPrice(price *big.Int) error {
	t.staged.Config.UnitPrice = new(big.Int).Set(price)
	return nil
}

func (t *memoryTx) AppendRange(r lotpool.Range) error {
	t.staged.Pool.Ranges = append(t.staged.Pool.Ranges, r)
	return nil
}

func (t *memoryTx) PutToken(token types.Token) error {
	t.staged.Tokens[token.ID] = token
	return nil
}

func (t *memoryTx) BindLot(id types.TokenID, lot types.LotID) error {
	token := t.staged.Tokens[id]
	token.Lot = &lot
	t.staged.Tokens[id] = token
	return nil
}

func (t *memoryTx) PutPending(req types.RequestID, id types.TokenID) error {
	t.staged.Pending[req] = id
	return nil
}

func (t *memoryTx) DeletePending(req types.RequestID) error {
	delete(t.staged.Pending, req)
	return nil
}

func (t *memoryTx) SavePool(state lotpool.State) error {
	t.staged.Pool.Remaining = state.Remaining
	t.staged.Pool.Overrides = make(map[uint64]uint64, len(state.Overrides))
	for slot, lot := range state.Overrides {
		t.staged.Pool.Overrides[slot] = lot
	}
	return nil
}

func (t *memoryTx) SetNextToken(id types.TokenID) error {
	t.staged.NextToken = id
	return nil
}

func (t *memoryTx) Commit() error {
	t.store.mu.Lock()
	defer t.store.mu.Unlock()

	if t.done {
		return nil
	}
	t.done = true
	t.store.state = t.staged
	return nil
}

func (t *memoryTx) Rollback() error {
	t.done = true
	return nil
}

func copyState(s *State) *State {
	out := &State{
		Admin: s.Admin,
		Config: types.PriceConfig{
			UnitPrice: new(big.Int).Set(s.Config.UnitPrice),
			Asset:     s.Config.Asset,
			Receiver:  s.Config.Receiver,
		},
		Pool:      copyPoolState(s.Pool),
		Tokens:    make(map[types.TokenID]types.Token, len(s.Tokens)),
		Pending:   make(map[types.RequestID]types.TokenID, len(s.Pending)),
		NextToken: s.NextToken,
		Version:   s.Version,
	}
	for id, token := range s.Tokens {
		if token.Lot != nil {
			lot := *token.Lot
			token.Lot = &lot
		}
		out.Tokens[id] = token
	}
	for req, id := range s.Pending {
		out.Pending[req] = id
	}
	return out
}

func copyPoolState(s lotpool.State) lotpool.State {
	out := lotpool.State{
		Ranges:    make([]lotpool.Range, len(s.Ranges)),
		Remaining: s.Remaining,
		Overrides: make(map[uint64]uint64, len(s.Overrides)),
	}
	copy(out.Ranges, s.Ranges)
	for slot, lot := range s.Overrides {
		out.Overrides[slot] = lot
	}
	return out
}
