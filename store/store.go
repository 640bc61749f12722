// Package store persists the mint service's durable state: price
// configuration, lot ranges, issued tokens, pending randomness requests, and
// the pool allocation state.
//
// A store is initialized exactly once per deployment. The persisted layout is
// stable across logic upgrades; the version counter is the only field upgrade
// tooling may change, and it carries no behavioral effect.
package store

import (
	"context"
	"errors"
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	"github.com/lotmint/lotmint/lotpool"
	"github.com/lotmint/lotmint/types"
)

var (
	// ErrAlreadyInitialized is returned by Initialize on a store that has
	// already been initialized.
	ErrAlreadyInitialized = errors.New("store already initialized")
	// ErrNotInitialized is returned by operations that require a prior
	// Initialize.
	ErrNotInitialized = errors.New("store not initialized")
)

// State is the full durable state of one deployment, loaded into memory at
// service startup.
type State struct {
	Admin     common.Address
	Config    types.PriceConfig
	Pool      lotpool.State
	Tokens    map[types.TokenID]types.Token
	Pending   map[types.RequestID]types.TokenID
	NextToken types.TokenID
	Version   uint64
}

// Store is the durable state boundary. Implementations must make Tx commits
// atomic: either every staged mutation lands or none does.
type Store interface {
	// Initialize writes the genesis state. Callable exactly once; returns
	// ErrAlreadyInitialized on reuse. The version counter starts at 1.
	Initialize(ctx context.Context, genesis types.Genesis) error

	// Initialized reports whether Initialize has run.
	Initialized(ctx context.Context) (bool, error)

	// Load reads the entire state. Returns ErrNotInitialized before
	// Initialize.
	Load(ctx context.Context) (*State, error)

	// Begin opens a transaction for a single state-machine operation.
	Begin(ctx context.Context) (Tx, error)

	// Version returns the current logic version counter.
	Version(ctx context.Context) (uint64, error)

	// BumpVersion increments the version counter and returns the new value.
	// Used by upgrade tooling only.
	BumpVersion(ctx context.Context) (uint64, error)

	Close() error
}

// Tx stages the mutations of one operation. Mutations become visible only on
// Commit. Rollback discards them; it is safe to call after Commit.
type Tx interface {
	SetPrice(price *big.Int) error
	AppendRange(r lotpool.Range) error
	PutToken(token types.Token) error
	BindLot(id types.TokenID, lot types.LotID) error
	PutPending(req types.RequestID, id types.TokenID) error
	DeletePending(req types.RequestID) error
	// SavePool persists the draw state: remaining count and slot overrides.
	// Ranges are persisted through AppendRange only.
	SavePool(state lotpool.State) error
	SetNextToken(id types.TokenID) error

	Commit() error
	Rollback() error
}
