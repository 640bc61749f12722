package lotmint

import (
	"context"
	"fmt"
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"

	"github.com/lotmint/lotmint/lotpool"
	"github.com/lotmint/lotmint/store"
	"github.com/lotmint/lotmint/types"
)

// Service runs the purchase state machine for one deployment: it charges
// buyers, issues tokens, correlates each token with exactly one randomness
// request, and binds lots when callbacks arrive.
//
// All state transitions are serialized by a single mutex; callbacks may
// arrive on any goroutine and in any order relative to purchases.
type Service struct {
	mu     sync.Mutex
	store  store.Store
	ledger AssetLedger
	oracle Oracle

	// gate is the spender identity buyers authorize; oracleCaller is the
	// only identity allowed to deliver randomness.
	gate         common.Address
	oracleCaller common.Address

	admin     common.Address
	cfg       types.PriceConfig
	pool      *lotpool.Pool
	tokens    map[types.TokenID]types.Token
	pending   map[types.RequestID]types.TokenID
	nextToken types.TokenID
}

// ServiceOption configures the service
type ServiceOption func(*Service)

// WithGateAddress sets the spender identity the service charges through.
func WithGateAddress(addr common.Address) ServiceOption {
	return func(s *Service) {
		s.gate = addr
	}
}

// WithOracleCaller sets the trusted identity randomness callbacks must carry.
func WithOracleCaller(addr common.Address) ServiceOption {
	return func(s *Service) {
		s.oracleCaller = addr
	}
}

// NewService loads the deployment state from the store and wires the payment
// ledger and oracle boundaries. The store must have been initialized.
func NewService(st store.Store, ledger AssetLedger, oracle Oracle, opts ...ServiceOption) (*Service, error) {
	state, err := st.Load(context.Background())
	if err == store.ErrNotInitialized {
		return nil, NewError(ErrCodeNotInitialized, "store has no genesis state", nil)
	}
	if err != nil {
		return nil, fmt.Errorf("load state: %w", err)
	}

	s := &Service{
		store:     st,
		ledger:    ledger,
		oracle:    oracle,
		admin:     state.Admin,
		cfg:       state.Config,
		pool:      lotpool.Restore(state.Pool),
		tokens:    state.Tokens,
		pending:   state.Pending,
		nextToken: state.NextToken,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Mint charges the buyer quantity times the unit price and issues that many
// tokens, each with one randomness request open against the oracle.
//
// The purchase is atomic: if any randomness submission fails, nothing is
// charged and no token exists. Randomness requests are submitted before the
// charge, so an aborted charge can leave orphaned oracle requests; their
// callbacks are rejected as unknown.
func (s *Service) Mint(ctx context.Context, buyer common.Address, quantity uint32) (*types.MintReceipt, error) {
	if quantity == 0 {
		return nil, NewError(ErrCodeInvalidQuantity, "quantity must be at least 1", nil)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.cfg.UnitPrice.Sign() == 0 {
		return nil, NewError(ErrCodePriceNotSet, "unit price has not been configured", nil)
	}

	// Every open request will draw one lot eventually; never sell lots the
	// pool cannot cover.
	available := s.pool.Remaining() - uint64(len(s.pending))
	if uint64(quantity) > available {
		return nil, NewError(ErrCodePoolExhausted, "not enough lots remaining", map[string]interface{}{
			"requested": quantity,
			"available": available,
		})
	}

	amount := new(big.Int).Mul(s.cfg.UnitPrice, big.NewInt(int64(quantity)))

	allowance, err := s.ledger.Allowance(ctx, buyer, s.gate)
	if err != nil {
		return nil, fmt.Errorf("read allowance: %w", err)
	}
	if allowance.Cmp(amount) < 0 {
		return nil, NewError(ErrCodeInsufficientAllowance, "buyer authorization does not cover the charge", map[string]interface{}{
			"required":  amount.String(),
			"allowance": allowance.String(),
		})
	}
	balance, err := s.ledger.BalanceOf(ctx, buyer)
	if err != nil {
		return nil, fmt.Errorf("read balance: %w", err)
	}
	if balance.Cmp(amount) < 0 {
		return nil, NewError(ErrCodeInsufficientBalance, "buyer balance does not cover the charge", map[string]interface{}{
			"required": amount.String(),
			"balance":  balance.String(),
		})
	}

	// One randomness request per token, all submitted before the charge so
	// a submission failure aborts the purchase with the buyer untouched.
	requestIDs := make([]types.RequestID, 0, quantity)
	for i := uint32(0); i < quantity; i++ {
		reqID, err := s.oracle.Request(ctx, 1)
		if err != nil {
			return nil, err
		}
		if _, exists := s.pending[reqID]; exists {
			return nil, NewError(ErrCodeDuplicateRequest, "oracle re-issued an open request id", map[string]interface{}{
				"requestId": reqID,
			})
		}
		requestIDs = append(requestIDs, reqID)
	}

	if err := s.ledger.TransferFrom(ctx, s.gate, buyer, s.cfg.Receiver, amount); err != nil {
		return nil, fmt.Errorf("charge buyer: %w", err)
	}

	tx, err := s.store.Begin(ctx)
	if err != nil {
		return nil, NewError(ErrCodeStorage, err.Error(), nil)
	}
	defer tx.Rollback()

	tokenIDs := make([]types.TokenID, 0, quantity)
	for i, reqID := range requestIDs {
		id := s.nextToken + types.TokenID(i) + 1
		tokenIDs = append(tokenIDs, id)
		if err := tx.PutToken(types.Token{ID: id, Owner: buyer}); err != nil {
			return nil, NewError(ErrCodeStorage, err.Error(), nil)
		}
		if err := tx.PutPending(reqID, id); err != nil {
			return nil, NewError(ErrCodeStorage, err.Error(), nil)
		}
	}
	if err := tx.SetNextToken(s.nextToken + types.TokenID(quantity)); err != nil {
		return nil, NewError(ErrCodeStorage, err.Error(), nil)
	}
	if err := tx.Commit(); err != nil {
		return nil, NewError(ErrCodeStorage, err.Error(), nil)
	}

	for i, reqID := range requestIDs {
		s.tokens[tokenIDs[i]] = types.Token{ID: tokenIDs[i], Owner: buyer}
		s.pending[reqID] = tokenIDs[i]
	}
	s.nextToken += types.TokenID(quantity)

	return &types.MintReceipt{
		ID:         uuid.New(),
		Buyer:      buyer,
		Quantity:   quantity,
		Amount:     amount,
		TokenIDs:   tokenIDs,
		RequestIDs: requestIDs,
	}, nil
}

// FulfillRandomness is the oracle callback entry point. It resolves the
// pending request exactly once: the first word draws a lot from the pool and
// binds it to the request's token. Unknown or already-resolved request ids
// are rejected, never ignored.
func (s *Service) FulfillRandomness(ctx context.Context, caller common.Address, requestID types.RequestID, words []*big.Int) (types.LotID, error) {
	if caller != s.oracleCaller {
		return 0, NewError(ErrCodeUnauthorizedCaller, "randomness from untrusted caller", map[string]interface{}{
			"caller": caller.Hex(),
		})
	}
	if len(words) == 0 {
		return 0, NewError(ErrCodeInvalidRandomness, "callback carried no random words", nil)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	tokenID, ok := s.pending[requestID]
	if !ok {
		return 0, NewError(ErrCodeUnknownRequest, "no open request with this id", map[string]interface{}{
			"requestId": requestID,
		})
	}

	snapshot := s.pool.Snapshot()
	drawn, err := s.pool.Draw(words[0])
	if err == lotpool.ErrExhausted {
		return 0, NewError(ErrCodePoolExhausted, "no lots remaining", nil)
	}
	if err != nil {
		return 0, err
	}
	lot := types.LotID(drawn)

	tx, err := s.store.Begin(ctx)
	if err != nil {
		s.pool = lotpool.Restore(snapshot)
		return 0, NewError(ErrCodeStorage, err.Error(), nil)
	}
	defer tx.Rollback()

	if err := tx.BindLot(tokenID, lot); err != nil {
		s.pool = lotpool.Restore(snapshot)
		return 0, NewError(ErrCodeStorage, err.Error(), nil)
	}
	if err := tx.DeletePending(requestID); err != nil {
		s.pool = lotpool.Restore(snapshot)
		return 0, NewError(ErrCodeStorage, err.Error(), nil)
	}
	if err := tx.SavePool(s.pool.Snapshot()); err != nil {
		s.pool = lotpool.Restore(snapshot)
		return 0, NewError(ErrCodeStorage, err.Error(), nil)
	}
	if err := tx.Commit(); err != nil {
		s.pool = lotpool.Restore(snapshot)
		return 0, NewError(ErrCodeStorage, err.Error(), nil)
	}

	token := s.tokens[tokenID]
	token.Lot = &lot
	s.tokens[tokenID] = token
	delete(s.pending, requestID)

	return lot, nil
}

// LotOf returns the lot bound to a token, or pending=true while the token's
// randomness request is still open.
func (s *Service) LotOf(tokenID types.TokenID) (types.LotID, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	token, ok := s.tokens[tokenID]
	if !ok {
		return 0, false, NewError(ErrCodeUnknownToken, "token was never issued", map[string]interface{}{
			"tokenId": tokenID,
		})
	}
	if token.Lot == nil {
		return 0, true, nil
	}
	return *token.Lot, false, nil
}

// SetPrice updates the unit price for purchases submitted after this call.
// Administrator only; already-charged purchases are unaffected.
func (s *Service) SetPrice(ctx context.Context, caller common.Address, price *big.Int) error {
	if err := s.requireAdmin(caller); err != nil {
		return err
	}
	if price == nil || price.Sign() < 0 {
		return NewError(ErrCodeInvalidPrice, "price must be non-negative", nil)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.store.Begin(ctx)
	if err != nil {
		return NewError(ErrCodeStorage, err.Error(), nil)
	}
	defer tx.Rollback()

	if err := tx.SetPrice(price); err != nil {
		return NewError(ErrCodeStorage, err.Error(), nil)
	}
	if err := tx.Commit(); err != nil {
		return NewError(ErrCodeStorage, err.Error(), nil)
	}

	s.cfg.UnitPrice = new(big.Int).Set(price)
	return nil
}

// ExtendRange appends a band of lots to the pool. Administrator only; ranges
// must arrive in strictly increasing, non-overlapping order.
func (s *Service) ExtendRange(ctx context.Context, caller common.Address, start, end uint64) error {
	if err := s.requireAdmin(caller); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	snapshot := s.pool.Snapshot()
	switch err := s.pool.ExtendRange(start, end); err {
	case nil:
	case lotpool.ErrInvalidRange:
		return NewError(ErrCodeInvalidRange, "range start exceeds end", map[string]interface{}{
			"start": start,
			"end":   end,
		})
	case lotpool.ErrOverlap:
		return NewError(ErrCodeRangeOverlap, "range must start after all existing ranges", map[string]interface{}{
			"start": start,
			"end":   end,
		})
	default:
		return err
	}

	tx, err := s.store.Begin(ctx)
	if err != nil {
		s.pool = lotpool.Restore(snapshot)
		return NewError(ErrCodeStorage, err.Error(), nil)
	}
	defer tx.Rollback()

	if err := tx.AppendRange(lotpool.Range{Start: start, End: end}); err != nil {
		s.pool = lotpool.Restore(snapshot)
		return NewError(ErrCodeStorage, err.Error(), nil)
	}
	if err := tx.SavePool(s.pool.Snapshot()); err != nil {
		s.pool = lotpool.Restore(snapshot)
		return NewError(ErrCodeStorage, err.Error(), nil)
	}
	if err := tx.Commit(); err != nil {
		s.pool = lotpool.Restore(snapshot)
		return NewError(ErrCodeStorage, err.Error(), nil)
	}
	return nil
}

// WithdrawOracleFunds moves part of the oracle fee reserve to the given
// address. Administrator only.
func (s *Service) WithdrawOracleFunds(ctx context.Context, caller, to common.Address, amount *big.Int) error {
	if err := s.requireAdmin(caller); err != nil {
		return err
	}
	return s.oracle.Withdraw(ctx, to, amount)
}

// UnitPrice returns the current unit price.
func (s *Service) UnitPrice() *big.Int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return new(big.Int).Set(s.cfg.UnitPrice)
}

// PriceConfig returns the current pricing configuration.
func (s *Service) PriceConfig() types.PriceConfig {
	s.mu.Lock()
	defer s.mu.Unlock()
	return types.PriceConfig{
		UnitPrice: new(big.Int).Set(s.cfg.UnitPrice),
		Asset:     s.cfg.Asset,
		Receiver:  s.cfg.Receiver,
	}
}

// Remaining reports how many lots are still drawable.
func (s *Service) Remaining() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.pool.Remaining()
}

// Capacity reports the total number of lots ever declared.
func (s *Service) Capacity() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.pool.Capacity()
}

// Ranges returns the declared lot ranges in append order.
func (s *Service) Ranges() []lotpool.Range {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.pool.Ranges()
}

// PendingCount reports how many randomness requests are open.
func (s *Service) PendingCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.pending)
}

// Version returns the logic version counter from the store.
func (s *Service) Version(ctx context.Context) (uint64, error) {
	return s.store.Version(ctx)
}

// Admin returns the administrator identity.
func (s *Service) Admin() common.Address {
	return s.admin
}

func (s *Service) requireAdmin(caller common.Address) error {
	if caller != s.admin {
		return NewError(ErrCodeUnauthorized, "administrator capability required", map[string]interface{}{
			"caller": caller.Hex(),
		})
	}
	return nil
}
