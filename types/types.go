// Package types holds the domain types shared between the mint service, its
// stores, and its transports.
package types

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"

	"github.com/lotmint/lotmint/lotpool"
)

// TokenID identifies a purchased token. Tokens are numbered sequentially from
// 1 in purchase order.
type TokenID uint64

// LotID is the uniquely numbered inventory identifier a token resolves to.
type LotID uint64

// RequestID correlates a pending token with the randomness request issued for
// it. Request identifiers are assigned by the oracle.
type RequestID uint64

// Token is one purchased unit. Lot is nil until the randomness callback for
// the token's request arrives; once set it never changes.
type Token struct {
	ID    TokenID        `json:"id"`
	Owner common.Address `json:"owner"`
	Lot   *LotID         `json:"lot,omitempty"`
}

// Resolved reports whether the token has been bound to a lot.
func (t Token) Resolved() bool {
	return t.Lot != nil
}

// PriceConfig is the mutable purchase pricing owned by the administrator.
// Price changes apply to purchases submitted after the change only.
type PriceConfig struct {
	UnitPrice *big.Int       `json:"unitPrice"`
	Asset     common.Address `json:"asset"`
	Receiver  common.Address `json:"receiver"`
}

// Genesis is the one-time initialization document for a deployment: pricing,
// parties, and optionally the first lot ranges.
type Genesis struct {
	Admin     common.Address `json:"admin"`
	Asset     common.Address `json:"asset"`
	Receiver  common.Address `json:"receiver"`
	UnitPrice *big.Int       `json:"unitPrice,omitempty"`
	Ranges    []lotpool.Range `json:"ranges,omitempty"`
}

// MintReceipt summarizes one successful purchase: the charge taken and the
// tokens issued, each still awaiting its randomness callback.
type MintReceipt struct {
	ID         uuid.UUID      `json:"id"`
	Buyer      common.Address `json:"buyer"`
	Quantity   uint32         `json:"quantity"`
	Amount     *big.Int       `json:"amount"`
	TokenIDs   []TokenID      `json:"tokenIds"`
	RequestIDs []RequestID    `json:"requestIds"`
}
