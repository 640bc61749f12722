package lotmint_test

import (
	"context"
	"math/big"
	"math/rand"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	lotmint "github.com/lotmint/lotmint"
	"github.com/lotmint/lotmint/ledger/bank"
	"github.com/lotmint/lotmint/lotpool"
	"github.com/lotmint/lotmint/oracle/sim"
	"github.com/lotmint/lotmint/store"
	"github.com/lotmint/lotmint/types"
)

var (
	admin    = common.HexToAddress("0x00000000000000000000000000000000000000a1")
	gate     = common.HexToAddress("0x00000000000000000000000000000000000000a2")
	receiver = common.HexToAddress("0x00000000000000000000000000000000000000a3")
	asset    = common.HexToAddress("0x00000000000000000000000000000000000000a4")
	oracleID = common.HexToAddress("0x00000000000000000000000000000000000000a5")
	buyerA   = common.HexToAddress("0x0000000000000000000000000000000000000b01")
	buyerB   = common.HexToAddress("0x0000000000000000000000000000000000000b02")
)

type fixture struct {
	svc    *lotmint.Service
	ledger *bank.Ledger
	oracle *sim.Oracle
	store  store.Store
}

func newFixture(t *testing.T, genesis types.Genesis) *fixture {
	t.Helper()

	st := store.NewMemory()
	require.NoError(t, st.Initialize(context.Background(), genesis))

	ledger := bank.New()
	oracle := sim.New(oracleID, big.NewInt(1))
	oracle.Fund(big.NewInt(1_000_000))

	svc, err := lotmint.NewService(st, ledger, oracle,
		lotmint.WithGateAddress(gate),
		lotmint.WithOracleCaller(oracleID),
	)
	require.NoError(t, err)
	oracle.Bind(svc)

	return &fixture{svc: svc, ledger: ledger, oracle: oracle, store: st}
}

func defaultGenesis() types.Genesis {
	return types.Genesis{
		Admin:     admin,
		Asset:     asset,
		Receiver:  receiver,
		UnitPrice: big.NewInt(199),
		Ranges:    []lotpool.Range{{Start: 1, End: 1100}},
	}
}

func fund(f *fixture, buyer common.Address, amount int64) {
	f.ledger.Deposit(buyer, big.NewInt(amount))
	f.ledger.Approve(buyer, gate, big.NewInt(amount))
}

func TestMintReferenceScenario(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, defaultGenesis())

	fund(f, buyerA, 199)
	fund(f, buyerB, 199*2)

	receiptA, err := f.svc.Mint(ctx, buyerA, 1)
	require.NoError(t, err)
	assert.Equal(t, []types.TokenID{1}, receiptA.TokenIDs)
	assert.Zero(t, big.NewInt(199).Cmp(receiptA.Amount))

	paid, err := f.ledger.BalanceOf(ctx, receiver)
	require.NoError(t, err)
	assert.Zero(t, big.NewInt(199).Cmp(paid))

	receiptB, err := f.svc.Mint(ctx, buyerB, 2)
	require.NoError(t, err)
	assert.Equal(t, []types.TokenID{2, 3}, receiptB.TokenIDs)

	paid, err = f.ledger.BalanceOf(ctx, receiver)
	require.NoError(t, err)
	assert.Zero(t, big.NewInt(199*3).Cmp(paid))

	// The same raw word resolves to consecutive lots: each draw refills the
	// vacated slot from the identity tail before the count shrinks.
	word := big.NewInt(1337)
	allRequests := append(receiptA.RequestIDs, receiptB.RequestIDs...)
	wantLots := []types.LotID{238, 239, 240}
	for i, reqID := range allRequests {
		lot, err := f.oracle.Fulfill(ctx, reqID, word)
		require.NoError(t, err)
		assert.Equal(t, wantLots[i], lot)
	}

	for i, tokenID := range []types.TokenID{1, 2, 3} {
		lot, pending, err := f.svc.LotOf(tokenID)
		require.NoError(t, err)
		assert.False(t, pending)
		assert.Equal(t, wantLots[i], lot)
	}
	assert.Equal(t, uint64(1097), f.svc.Remaining())
}

func TestMintInsufficientAllowance(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, defaultGenesis())

	f.ledger.Deposit(buyerA, big.NewInt(199))

	_, err := f.svc.Mint(ctx, buyerA, 1)
	assert.True(t, lotmint.IsCode(err, lotmint.ErrCodeInsufficientAllowance))

	f.ledger.Approve(buyerA, gate, big.NewInt(100))
	_, err = f.svc.Mint(ctx, buyerA, 1)
	assert.True(t, lotmint.IsCode(err, lotmint.ErrCodeInsufficientAllowance))
}

func TestMintInsufficientBalance(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, defaultGenesis())

	f.ledger.Deposit(buyerA, big.NewInt(100))
	f.ledger.Approve(buyerA, gate, big.NewInt(500))

	_, err := f.svc.Mint(ctx, buyerA, 1)
	assert.True(t, lotmint.IsCode(err, lotmint.ErrCodeInsufficientBalance))
}

func TestMintZeroQuantity(t *testing.T) {
	f := newFixture(t, defaultGenesis())
	_, err := f.svc.Mint(context.Background(), buyerA, 0)
	assert.True(t, lotmint.IsCode(err, lotmint.ErrCodeInvalidQuantity))
}

func TestMintWithoutPrice(t *testing.T) {
	ctx := context.Background()
	genesis := defaultGenesis()
	genesis.UnitPrice = nil
	f := newFixture(t, genesis)

	fund(f, buyerA, 1000)
	_, err := f.svc.Mint(ctx, buyerA, 1)
	assert.True(t, lotmint.IsCode(err, lotmint.ErrCodePriceNotSet))

	require.NoError(t, f.svc.SetPrice(ctx, admin, big.NewInt(250)))
	_, err = f.svc.Mint(ctx, buyerA, 1)
	require.NoError(t, err)
}

func TestSetPriceAuthorizationAndNonRetroactivity(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, defaultGenesis())

	err := f.svc.SetPrice(ctx, buyerA, big.NewInt(1))
	assert.True(t, lotmint.IsCode(err, lotmint.ErrCodeUnauthorized))

	fund(f, buyerA, 199)
	receipt, err := f.svc.Mint(ctx, buyerA, 1)
	require.NoError(t, err)

	// Raising the price after the purchase is charged changes nothing about
	// it; resolution still completes against the old charge.
	require.NoError(t, f.svc.SetPrice(ctx, admin, big.NewInt(500)))

	paid, err := f.ledger.BalanceOf(ctx, receiver)
	require.NoError(t, err)
	assert.Zero(t, big.NewInt(199).Cmp(paid))

	_, err = f.oracle.Fulfill(ctx, receipt.RequestIDs[0], big.NewInt(7))
	require.NoError(t, err)

	paid, err = f.ledger.BalanceOf(ctx, receiver)
	require.NoError(t, err)
	assert.Zero(t, big.NewInt(199).Cmp(paid))
	assert.Zero(t, big.NewInt(500).Cmp(f.svc.UnitPrice()))
}

func TestExactlyOnceResolution(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, defaultGenesis())

	fund(f, buyerA, 199)
	receipt, err := f.svc.Mint(ctx, buyerA, 1)
	require.NoError(t, err)
	reqID := receipt.RequestIDs[0]

	lot, err := f.oracle.Fulfill(ctx, reqID, big.NewInt(42))
	require.NoError(t, err)
	assert.NotZero(t, lot)

	_, err = f.oracle.Fulfill(ctx, reqID, big.NewInt(42))
	assert.True(t, lotmint.IsCode(err, lotmint.ErrCodeUnknownRequest))
	assert.Equal(t, uint64(1099), f.svc.Remaining())
}

func TestFulfillUnknownRequest(t *testing.T) {
	f := newFixture(t, defaultGenesis())
	_, err := f.oracle.Fulfill(context.Background(), 12345, big.NewInt(1))
	assert.True(t, lotmint.IsCode(err, lotmint.ErrCodeUnknownRequest))
}

func TestFulfillUnauthorizedCaller(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, defaultGenesis())

	fund(f, buyerA, 199)
	receipt, err := f.svc.Mint(ctx, buyerA, 1)
	require.NoError(t, err)

	_, err = f.svc.FulfillRandomness(ctx, buyerA, receipt.RequestIDs[0], []*big.Int{big.NewInt(1)})
	assert.True(t, lotmint.IsCode(err, lotmint.ErrCodeUnauthorizedCaller))

	// Still pending: the rejected delivery must not consume the request.
	_, pending, err := f.svc.LotOf(receipt.TokenIDs[0])
	require.NoError(t, err)
	assert.True(t, pending)
}

func TestFulfillEmptyWords(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, defaultGenesis())

	fund(f, buyerA, 199)
	receipt, err := f.svc.Mint(ctx, buyerA, 1)
	require.NoError(t, err)

	_, err = f.svc.FulfillRandomness(ctx, oracleID, receipt.RequestIDs[0], nil)
	assert.True(t, lotmint.IsCode(err, lotmint.ErrCodeInvalidRandomness))
}

func TestResolutionOrderIndependence(t *testing.T) {
	ctx := context.Background()

	genesis := defaultGenesis()
	genesis.Ranges = []lotpool.Range{{Start: 1, End: 30}}

	rng := rand.New(rand.NewSource(99))
	for trial := 0; trial < 5; trial++ {
		f := newFixture(t, genesis)
		fund(f, buyerA, 199*30)

		receipt, err := f.svc.Mint(ctx, buyerA, 30)
		require.NoError(t, err)

		// Resolve in a random permutation of submission order.
		order := rng.Perm(len(receipt.RequestIDs))
		seen := make(map[types.LotID]bool)
		for _, i := range order {
			lot, err := f.oracle.Fulfill(ctx, receipt.RequestIDs[i], big.NewInt(rng.Int63()))
			require.NoError(t, err)
			require.False(t, seen[lot], "lot %d assigned twice", lot)
			require.GreaterOrEqual(t, uint64(lot), uint64(1))
			require.LessOrEqual(t, uint64(lot), uint64(30))
			seen[lot] = true
		}
		assert.Len(t, seen, 30)
	}
}

func TestAtomicPurchaseOnOracleFailure(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, defaultGenesis())

	fund(f, buyerA, 199*3)

	// Drain the oracle reserve so the randomness submission fails.
	reserve, err := f.oracle.Reserve(ctx)
	require.NoError(t, err)
	require.NoError(t, f.svc.WithdrawOracleFunds(ctx, admin, admin, reserve))

	_, err = f.svc.Mint(ctx, buyerA, 2)
	assert.True(t, lotmint.IsCode(err, lotmint.ErrCodeInsufficientOracleFunds))

	// The buyer was not charged and no token exists.
	balance, err := f.ledger.BalanceOf(ctx, buyerA)
	require.NoError(t, err)
	assert.Zero(t, big.NewInt(199*3).Cmp(balance))

	_, _, err = f.svc.LotOf(1)
	assert.True(t, lotmint.IsCode(err, lotmint.ErrCodeUnknownToken))
	assert.Equal(t, 0, f.svc.PendingCount())
}

func TestMintRejectsOversell(t *testing.T) {
	ctx := context.Background()

	genesis := defaultGenesis()
	genesis.Ranges = []lotpool.Range{{Start: 1, End: 2}}
	f := newFixture(t, genesis)

	fund(f, buyerA, 199*10)

	_, err := f.svc.Mint(ctx, buyerA, 3)
	assert.True(t, lotmint.IsCode(err, lotmint.ErrCodePoolExhausted))

	receipt, err := f.svc.Mint(ctx, buyerA, 2)
	require.NoError(t, err)

	// Two requests are open against two remaining lots; a further purchase
	// would oversell even though nothing is drawn yet.
	_, err = f.svc.Mint(ctx, buyerA, 1)
	assert.True(t, lotmint.IsCode(err, lotmint.ErrCodePoolExhausted))

	for _, reqID := range receipt.RequestIDs {
		_, err := f.oracle.Fulfill(ctx, reqID, big.NewInt(1337))
		require.NoError(t, err)
	}
	assert.Equal(t, uint64(0), f.svc.Remaining())
}

func TestExtendRange(t *testing.T) {
	ctx := context.Background()

	genesis := defaultGenesis()
	genesis.Ranges = []lotpool.Range{{Start: 1, End: 10}}
	f := newFixture(t, genesis)

	err := f.svc.ExtendRange(ctx, buyerA, 11, 20)
	assert.True(t, lotmint.IsCode(err, lotmint.ErrCodeUnauthorized))

	err = f.svc.ExtendRange(ctx, admin, 20, 15)
	assert.True(t, lotmint.IsCode(err, lotmint.ErrCodeInvalidRange))

	err = f.svc.ExtendRange(ctx, admin, 5, 20)
	assert.True(t, lotmint.IsCode(err, lotmint.ErrCodeRangeOverlap))

	require.NoError(t, f.svc.ExtendRange(ctx, admin, 11, 20))
	assert.Equal(t, uint64(20), f.svc.Capacity())
	assert.Equal(t, uint64(20), f.svc.Remaining())
}

func TestWithdrawOracleFunds(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, defaultGenesis())

	err := f.svc.WithdrawOracleFunds(ctx, buyerA, buyerA, big.NewInt(1))
	assert.True(t, lotmint.IsCode(err, lotmint.ErrCodeUnauthorized))

	err = f.svc.WithdrawOracleFunds(ctx, admin, admin, big.NewInt(2_000_000))
	assert.True(t, lotmint.IsCode(err, lotmint.ErrCodeInsufficientOracleFunds))

	require.NoError(t, f.svc.WithdrawOracleFunds(ctx, admin, admin, big.NewInt(500)))
	reserve, err := f.oracle.Reserve(ctx)
	require.NoError(t, err)
	assert.Zero(t, big.NewInt(999_500).Cmp(reserve))
}

func TestVersionSurvivesUpgradeBump(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, defaultGenesis())

	v, err := f.svc.Version(ctx)
	require.NoError(t, err)
	assert.Equal(t, uint64(1), v)

	// Upgrade tooling bumps the counter behind the same persisted state.
	_, err = f.store.BumpVersion(ctx)
	require.NoError(t, err)

	v, err = f.svc.Version(ctx)
	require.NoError(t, err)
	assert.Equal(t, uint64(2), v)
}

func TestLookupLifecycle(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, defaultGenesis())

	_, _, err := f.svc.LotOf(1)
	assert.True(t, lotmint.IsCode(err, lotmint.ErrCodeUnknownToken))

	fund(f, buyerA, 199)
	receipt, err := f.svc.Mint(ctx, buyerA, 1)
	require.NoError(t, err)

	_, pending, err := f.svc.LotOf(receipt.TokenIDs[0])
	require.NoError(t, err)
	assert.True(t, pending)

	want, err := f.oracle.Fulfill(ctx, receipt.RequestIDs[0], big.NewInt(555))
	require.NoError(t, err)

	lot, pending, err := f.svc.LotOf(receipt.TokenIDs[0])
	require.NoError(t, err)
	assert.False(t, pending)
	assert.Equal(t, want, lot)
}

func TestServiceStateSurvivesRestart(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, defaultGenesis())

	fund(f, buyerA, 199*2)
	receipt, err := f.svc.Mint(ctx, buyerA, 2)
	require.NoError(t, err)

	_, err = f.oracle.Fulfill(ctx, receipt.RequestIDs[0], big.NewInt(1337))
	require.NoError(t, err)

	// A fresh service over the same store sees the resolved token, the open
	// request, and the shrunken pool.
	svc2, err := lotmint.NewService(f.store, f.ledger, f.oracle,
		lotmint.WithGateAddress(gate),
		lotmint.WithOracleCaller(oracleID),
	)
	require.NoError(t, err)
	f.oracle.Bind(svc2)

	lot, pending, err := svc2.LotOf(receipt.TokenIDs[0])
	require.NoError(t, err)
	assert.False(t, pending)
	assert.Equal(t, types.LotID(238), lot)

	assert.Equal(t, 1, svc2.PendingCount())
	assert.Equal(t, uint64(1099), svc2.Remaining())

	lot2, err := f.oracle.Fulfill(ctx, receipt.RequestIDs[1], big.NewInt(1337))
	require.NoError(t, err)
	assert.Equal(t, types.LotID(239), lot2)
}
