// Package lotmint sells a fixed batch of uniquely numbered lots. A purchase
// charges the buyer in a fungible asset, issues tokens, and submits one
// randomness request per token to an external oracle; the lot assigned to
// each token is determined when the oracle's callback arrives.
package lotmint

import (
	"context"
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	"github.com/lotmint/lotmint/types"
)

// AssetLedger is the fungible payment asset boundary. Transfer mechanics are
// external; the service only relies on standard transfer-from semantics with
// buyer pre-authorization.
type AssetLedger interface {
	// Allowance returns how much the spender may move on the owner's behalf.
	Allowance(ctx context.Context, owner, spender common.Address) (*big.Int, error)

	// BalanceOf returns the owner's asset balance.
	BalanceOf(ctx context.Context, owner common.Address) (*big.Int, error)

	// TransferFrom moves amount from the buyer to the receiver, consuming
	// the spender's authorization.
	TransferFrom(ctx context.Context, spender, from, to common.Address, amount *big.Int) error
}

// Oracle is the randomness oracle boundary. Request consumes the oracle fee
// reserve and returns the identifier the later callback will carry; the
// callback itself enters through Service.FulfillRandomness.
type Oracle interface {
	// Request submits one randomness request for numWords values. Fails
	// when the fee reserve cannot cover the request.
	Request(ctx context.Context, numWords uint32) (types.RequestID, error)

	// Reserve returns the current oracle fee reserve.
	Reserve(ctx context.Context) (*big.Int, error)

	// Withdraw moves amount of the fee reserve to the given address.
	Withdraw(ctx context.Context, to common.Address, amount *big.Int) error
}
