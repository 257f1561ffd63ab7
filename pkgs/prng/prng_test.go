package prng

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNewDeterministic(t *testing.T) {
	a := New(42)
	b := New(42)

	for i := 0; i < 1000; i++ {
		assert.Equal(t, a.NextUint64(), b.NextUint64(), "same seed must yield same stream at step %d", i)
	}
}

func TestNewDifferentSeedsDiverge(t *testing.T) {
	a := New(1)
	b := New(2)

	same := true
	for i := 0; i < 16; i++ {
		if a.NextUint64() != b.NextUint64() {
			same = false
			break
		}
	}
	assert.False(t, same, "distinct seeds should not produce identical streams")
}

func TestNextBoundedDegenerate(t *testing.T) {
	s := New(7)
	assert.Equal(t, uint64(5), s.NextBounded(5, 5))
	assert.Equal(t, uint64(9), s.NextBounded(9, 3), "hi <= lo returns lo")
}

func TestNextBoundedInRange(t *testing.T) {
	s := New(99)
	for i := 0; i < 10000; i++ {
		v := s.NextBounded(10, 20)
		assert.GreaterOrEqual(t, v, uint64(10))
		assert.LessOrEqual(t, v, uint64(20))
	}
}

func TestNextBoundedByteRange(t *testing.T) {
	s := New(12345)
	seen := map[uint64]bool{}
	for i := 0; i < 100000; i++ {
		v := s.NextBounded(0, 255)
		assert.LessOrEqual(t, v, uint64(255))
		seen[v] = true
	}
	// With this many draws over a span of 256 we expect to have hit
	// virtually every value at least once.
	assert.Greater(t, len(seen), 250)
}

func TestNextBoundedFullUint64Span(t *testing.T) {
	s := New(1)
	// lo=0, hi=max exercises the span-overflow branch in NextBounded.
	v := s.NextBounded(0, ^uint64(0))
	_ = v // any value is in range; this must simply not hang or panic
}
