// Package lotpool implements random selection without replacement over a set
// of administrator-declared lot ranges.
//
// The pool behaves like a logical array holding every lot in the declared
// ranges, but never materializes it: slots keep their identity value until a
// draw overrides them, so k draws cost O(k) space regardless of capacity.
package lotpool

import (
	"errors"
	"math/big"
	"sync"
)

var (
	// ErrExhausted is returned by Draw when no lots remain.
	ErrExhausted = errors.New("lot pool exhausted")
	// ErrInvalidRange is returned by ExtendRange when start > end.
	ErrInvalidRange = errors.New("invalid lot range")
	// ErrOverlap is returned by ExtendRange when the new range does not start
	// strictly after the previous one.
	ErrOverlap = errors.New("lot range overlaps existing ranges")
)

// Range is an inclusive band of lot identifiers.
type Range struct {
	Start uint64 `json:"start"`
	End   uint64 `json:"end"`
}

// Len returns the number of lots in the range.
func (r Range) Len() uint64 {
	return r.End - r.Start + 1
}

// State is a serializable snapshot of a pool, used by stores to persist and
// restore pools across restarts. Overrides only holds slots that differ from
// their identity value.
type State struct {
	Ranges    []Range           `json:"ranges"`
	Remaining uint64            `json:"remaining"`
	Overrides map[uint64]uint64 `json:"overrides,omitempty"`
}

// Pool draws lots uniformly without replacement from the declared ranges.
//
// Given the same entropy and pool state a draw is deterministic: the pool
// guarantees structural uniqueness only, unpredictability is the entropy
// supplier's responsibility.
type Pool struct {
	mu        sync.Mutex
	ranges    []Range
	capacity  uint64
	remaining uint64
	overrides map[uint64]uint64
}

// New creates an empty pool. Lots become drawable once ranges are added via
// ExtendRange.
func New() *Pool {
	return &Pool{
		overrides: make(map[uint64]uint64),
	}
}

// Restore creates a pool from a previously captured snapshot.
func Restore(state State) *Pool {
	p := New()
	for _, r := range state.Ranges {
		p.ranges = append(p.ranges, r)
		p.capacity += r.Len()
	}
	p.remaining = state.Remaining
	for slot, lot := range state.Overrides {
		p.overrides[slot] = lot
	}
	return p
}

// ExtendRange appends an inclusive range of lots to the pool. Ranges must be
// appended in strictly increasing, non-overlapping order; the pool never
// shrinks.
func (p *Pool) ExtendRange(start, end uint64) error {
	if start > end {
		return ErrInvalidRange
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if n := len(p.ranges); n > 0 && start <= p.ranges[n-1].End {
		return ErrOverlap
	}

	r := Range{Start: start, End: end}
	p.ranges = append(p.ranges, r)
	newCapacity := p.capacity + r.Len()

	// Undrawn lots always occupy the logical prefix [0, remaining). Earlier
	// draws left dead slots between remaining and capacity; pull lots from
	// the tail of the new range into those holes so the whole new range is
	// reachable through the prefix.
	holes := p.capacity - p.remaining
	fill := holes
	if r.Len() < fill {
		fill = r.Len()
	}
	for j := uint64(0); j < fill; j++ {
		p.overrides[p.remaining+j] = p.identityAt(newCapacity - 1 - j)
	}

	p.capacity = newCapacity
	p.remaining += r.Len()
	return nil
}

// Draw removes and returns one lot chosen by the supplied entropy.
//
// The entropy is reduced modulo the remaining count; any value is acceptable,
// including zero. Draw fails with ErrExhausted once every lot has been
// handed out.
func (p *Pool) Draw(entropy *big.Int) (uint64, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.remaining == 0 {
		return 0, ErrExhausted
	}

	index := new(big.Int).Mod(entropy, new(big.Int).SetUint64(p.remaining)).Uint64()
	lot := p.valueAt(index)

	// Fill the vacated slot with the current tail value, then shrink. The
	// tail slot's override (if any) is dead after the shrink.
	last := p.remaining - 1
	if index != last {
		p.overrides[index] = p.valueAt(last)
	}
	delete(p.overrides, last)
	p.remaining--

	return lot, nil
}

// valueAt resolves the effective lot at a logical slot: the recorded override
// if one exists, otherwise the slot's identity value under the range table.
// Callers must hold p.mu.
func (p *Pool) valueAt(slot uint64) uint64 {
	if lot, ok := p.overrides[slot]; ok {
		return lot
	}
	return p.identityAt(slot)
}

// identityAt maps a logical position to its identity lot under the range
// table, ignoring overrides. Callers must hold p.mu.
func (p *Pool) identityAt(pos uint64) uint64 {
	for _, r := range p.ranges {
		if pos < r.Len() {
			return r.Start + pos
		}
		pos -= r.Len()
	}
	// Unreachable while remaining <= capacity holds.
	panic("lotpool: slot beyond declared ranges")
}

// Remaining reports how many lots are still drawable.
func (p *Pool) Remaining() uint64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.remaining
}

// Capacity reports the total number of lots ever declared.
func (p *Pool) Capacity() uint64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.capacity
}

// Ranges returns a copy of the declared ranges in append order.
func (p *Pool) Ranges() []Range {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]Range, len(p.ranges))
	copy(out, p.ranges)
	return out
}

// Snapshot captures the pool state for persistence.
func (p *Pool) Snapshot() State {
	p.mu.Lock()
	defer p.mu.Unlock()

	state := State{
		Ranges:    make([]Range, len(p.ranges)),
		Remaining: p.remaining,
		Overrides: make(map[uint64]uint64, len(p.overrides)),
	}
	copy(state.Ranges, p.ranges)
	for slot, lot := range p.overrides {
		state.Overrides[slot] = lot
	}
	return state
}
