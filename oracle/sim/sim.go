// Package sim provides an in-process randomness oracle for tests and local
// deployments. It mirrors the production oracle's contract: requests consume
// a pre-funded fee reserve and randomness arrives later through the
// consumer's callback, attributed to the oracle's caller identity.
package sim

import (
	"context"
	"crypto/rand"
	"math/big"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"

	lotmint "github.com/lotmint/lotmint"
	"github.com/lotmint/lotmint/types"
)

// Consumer receives randomness callbacks. *lotmint.Service satisfies it.
type Consumer interface {
	FulfillRandomness(ctx context.Context, caller common.Address, requestID types.RequestID, words []*big.Int) (types.LotID, error)
}

// Oracle is a simulated randomness oracle. Request ids are sequential from 1,
// matching the behavior of on-chain VRF wrappers.
type Oracle struct {
	mu      sync.Mutex
	addr    common.Address
	fee     *big.Int
	reserve *big.Int
	nextID  types.RequestID
	open    map[types.RequestID]uint32

	consumer Consumer
	delay    time.Duration
	auto     bool
}

// Option configures the simulator.
type Option func(*Oracle)

// WithAutoDeliver makes the simulator deliver cryptographically random words
// on its own after the given delay, instead of waiting for a manual pump.
func WithAutoDeliver(delay time.Duration) Option {
	return func(o *Oracle) {
		o.auto = true
		o.delay = delay
	}
}

// New creates a simulator charging fee per request, acting under the given
// caller identity. The reserve starts empty; use Fund.
func New(addr common.Address, fee *big.Int, opts ...Option) *Oracle {
	o := &Oracle{
		addr:    addr,
		fee:     new(big.Int).Set(fee),
		reserve: big.NewInt(0),
		open:    make(map[types.RequestID]uint32),
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Bind attaches the callback consumer. Must be called before the first
// request when auto delivery is enabled.
func (o *Oracle) Bind(consumer Consumer) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.consumer = consumer
}

// Address returns the identity the simulator's callbacks carry.
func (o *Oracle) Address() common.Address {
	return o.addr
}

// Fund credits the fee reserve.
func (o *Oracle) Fund(amount *big.Int) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.reserve.Add(o.reserve, amount)
}

func (o *Oracle) Reserve(_ context.Context) (*big.Int, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	return new(big.Int).Set(o.reserve), nil
}

func (o *Oracle) Withdraw(_ context.Context, _ common.Address, amount *big.Int) error {
	o.mu.Lock()
	defer o.mu.Unlock()

	if o.reserve.Cmp(amount) < 0 {
		return lotmint.NewError(lotmint.ErrCodeInsufficientOracleFunds, "withdrawal exceeds oracle reserve", map[string]interface{}{
			"reserve":   o.reserve.String(),
			"requested": amount.String(),
		})
	}
	o.reserve.Sub(o.reserve, amount)
	return nil
}

// Request opens one randomness request, consuming one fee from the reserve.
func (o *Oracle) Request(_ context.Context, numWords uint32) (types.RequestID, error) {
	o.mu.Lock()

	if o.reserve.Cmp(o.fee) < 0 {
		o.mu.Unlock()
		return 0, lotmint.NewError(lotmint.ErrCodeInsufficientOracleFunds, "oracle fee reserve too low", map[string]interface{}{
			"reserve": o.reserve.String(),
			"fee":     o.fee.String(),
		})
	}
	o.reserve.Sub(o.reserve, o.fee)
	o.nextID++
	id := o.nextID
	o.open[id] = numWords
	auto := o.auto
	o.mu.Unlock()

	if auto {
		go o.deliverLater(id)
	}
	return id, nil
}

// Fulfill delivers the given words for one open request. Test pump for
// deterministic scenarios; the words pass through unmodified.
func (o *Oracle) Fulfill(ctx context.Context, requestID types.RequestID, words ...*big.Int) (types.LotID, error) {
	o.mu.Lock()
	consumer := o.consumer
	delete(o.open, requestID)
	o.mu.Unlock()

	return consumer.FulfillRandomness(ctx, o.addr, requestID, words)
}

func (o *Oracle) deliverLater(id types.RequestID) {
	time.Sleep(o.delay)

	o.mu.Lock()
	numWords, ok := o.open[id]
	consumer := o.consumer
	delete(o.open, id)
	o.mu.Unlock()
	if !ok || consumer == nil {
		return
	}

	words := make([]*big.Int, numWords)
	limit := new(big.Int).Lsh(big.NewInt(1), 256)
	for i := range words {
		word, err := rand.Int(rand.Reader, limit)
		if err != nil {
			return
		}
		words[i] = word
	}
	consumer.FulfillRandomness(context.Background(), o.addr, id, words)
}

var _ lotmint.Oracle = (*Oracle)(nil)
