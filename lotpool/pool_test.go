package lotpool

import (
	"math/big"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExtendRange(t *testing.T) {
	p := New()

	require.NoError(t, p.ExtendRange(1, 100))
	assert.Equal(t, uint64(100), p.Capacity())
	assert.Equal(t, uint64(100), p.Remaining())

	// Must be appended strictly after the previous range.
	assert.ErrorIs(t, p.ExtendRange(50, 200), ErrOverlap)
	assert.ErrorIs(t, p.ExtendRange(100, 200), ErrOverlap)
	assert.ErrorIs(t, p.ExtendRange(300, 200), ErrInvalidRange)

	require.NoError(t, p.ExtendRange(101, 150))
	assert.Equal(t, uint64(150), p.Capacity())

	// Gaps between ranges are fine.
	require.NoError(t, p.ExtendRange(1000, 1000))
	assert.Equal(t, uint64(151), p.Capacity())
	assert.Len(t, p.Ranges(), 3)
}

func TestDrawEmptyPool(t *testing.T) {
	p := New()
	_, err := p.Draw(big.NewInt(7))
	assert.ErrorIs(t, err, ErrExhausted)
}

func TestDrawReferenceSequence(t *testing.T) {
	p := New()
	require.NoError(t, p.ExtendRange(1, 1100))

	// Repeating the same raw entropy walks the identity tail: the vacated
	// slot is refilled with the then-current tail value each time.
	word := big.NewInt(1337)

	lot, err := p.Draw(word)
	require.NoError(t, err)
	assert.Equal(t, uint64(238), lot)

	lot, err = p.Draw(word)
	require.NoError(t, err)
	assert.Equal(t, uint64(239), lot)

	lot, err = p.Draw(word)
	require.NoError(t, err)
	assert.Equal(t, uint64(240), lot)

	assert.Equal(t, uint64(1097), p.Remaining())
}

func TestDrawZeroEntropy(t *testing.T) {
	p := New()
	require.NoError(t, p.ExtendRange(10, 19))

	lot, err := p.Draw(big.NewInt(0))
	require.NoError(t, err)
	assert.Equal(t, uint64(10), lot)

	// Slot 0 now holds the tail value 19.
	lot, err = p.Draw(big.NewInt(0))
	require.NoError(t, err)
	assert.Equal(t, uint64(19), lot)
}

func TestDrawCoversRangesExactly(t *testing.T) {
	p := New()
	require.NoError(t, p.ExtendRange(1, 40))
	require.NoError(t, p.ExtendRange(100, 129))
	require.NoError(t, p.ExtendRange(500, 529))

	want := make(map[uint64]bool)
	for i := uint64(1); i <= 40; i++ {
		want[i] = true
	}
	for i := uint64(100); i <= 129; i++ {
		want[i] = true
	}
	for i := uint64(500); i <= 529; i++ {
		want[i] = true
	}

	rng := rand.New(rand.NewSource(42))
	seen := make(map[uint64]bool)
	for i := uint64(0); i < p.Capacity(); i++ {
		lot, err := p.Draw(big.NewInt(rng.Int63()))
		require.NoError(t, err)
		require.False(t, seen[lot], "lot %d drawn twice", lot)
		require.True(t, want[lot], "lot %d outside declared ranges", lot)
		seen[lot] = true
	}

	assert.Equal(t, len(want), len(seen))
	assert.Equal(t, uint64(0), p.Remaining())

	_, err := p.Draw(big.NewInt(1))
	assert.ErrorIs(t, err, ErrExhausted)
}

func TestDrawUniquenessUnderArbitraryEntropy(t *testing.T) {
	// Adversarial entropy (constant, zero, huge) must never break
	// uniqueness; only the distribution suffers.
	entropies := []*big.Int{
		big.NewInt(0),
		big.NewInt(1),
		new(big.Int).Lsh(big.NewInt(1), 255),
	}

	for _, e := range entropies {
		p := New()
		require.NoError(t, p.ExtendRange(1, 64))

		seen := make(map[uint64]bool)
		for i := 0; i < 64; i++ {
			lot, err := p.Draw(e)
			require.NoError(t, err)
			require.False(t, seen[lot], "entropy %s produced duplicate lot %d", e, lot)
			seen[lot] = true
		}
	}
}

func TestExtendRangeAfterDraws(t *testing.T) {
	p := New()
	require.NoError(t, p.ExtendRange(1, 10))

	for i := 0; i < 10; i++ {
		_, err := p.Draw(big.NewInt(int64(i * 31)))
		require.NoError(t, err)
	}
	_, err := p.Draw(big.NewInt(3))
	require.ErrorIs(t, err, ErrExhausted)

	// Extending revives the pool; new draws come only from the new band.
	require.NoError(t, p.ExtendRange(11, 15))
	assert.Equal(t, uint64(5), p.Remaining())

	seen := make(map[uint64]bool)
	for i := 0; i < 5; i++ {
		lot, err := p.Draw(big.NewInt(int64(i * 17)))
		require.NoError(t, err)
		require.False(t, seen[lot])
		require.GreaterOrEqual(t, lot, uint64(11))
		require.LessOrEqual(t, lot, uint64(15))
		seen[lot] = true
	}
}

func TestExtendRangeMidDraws(t *testing.T) {
	// Extending while some lots are drawn must neither re-issue a drawn lot
	// nor strand any lot of the new range.
	p := New()
	require.NoError(t, p.ExtendRange(1, 20))

	rng := rand.New(rand.NewSource(7))
	seen := make(map[uint64]bool)
	for i := 0; i < 13; i++ {
		lot, err := p.Draw(big.NewInt(rng.Int63()))
		require.NoError(t, err)
		seen[lot] = true
	}

	require.NoError(t, p.ExtendRange(21, 25))
	assert.Equal(t, uint64(12), p.Remaining())

	for p.Remaining() > 0 {
		lot, err := p.Draw(big.NewInt(rng.Int63()))
		require.NoError(t, err)
		require.False(t, seen[lot], "lot %d drawn twice", lot)
		seen[lot] = true
	}
	assert.Equal(t, 25, len(seen))
}

func TestSnapshotRestore(t *testing.T) {
	p := New()
	require.NoError(t, p.ExtendRange(1, 100))
	require.NoError(t, p.ExtendRange(200, 249))

	seen := make(map[uint64]bool)
	for i := 0; i < 60; i++ {
		lot, err := p.Draw(big.NewInt(int64(i*i + 7)))
		require.NoError(t, err)
		seen[lot] = true
	}

	restored := Restore(p.Snapshot())
	assert.Equal(t, p.Remaining(), restored.Remaining())
	assert.Equal(t, p.Capacity(), restored.Capacity())

	// The restored pool must hand out exactly the lots the original still
	// holds.
	for restored.Remaining() > 0 {
		lot, err := restored.Draw(big.NewInt(99991))
		require.NoError(t, err)
		require.False(t, seen[lot], "restored pool re-issued lot %d", lot)
		seen[lot] = true
	}
	assert.Equal(t, 150, len(seen))
}
