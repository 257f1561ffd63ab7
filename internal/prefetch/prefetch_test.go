package prefetch

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/NotsoanoNimus/nanofuzz/pkgs/compiler"
	"github.com/NotsoanoNimus/nanofuzz/pkgs/generator"
)

func mustGenerator(t *testing.T, schema string) *generator.Generator {
	t.Helper()
	f, tr := compiler.Compile([]byte(schema))
	require.True(t, tr.IsEmpty())
	g, err := generator.New(f, 1, 64)
	require.NoError(t, err)
	return g
}

func TestOneshotStopsProducingOnceDepthReached(t *testing.T) {
	g := mustGenerator(t, "abc")
	s := New(g, 4, Oneshot)
	defer s.Close()

	for i := 0; i < 4; i++ {
		out, err := s.Next()
		require.NoError(t, err)
		assert.Equal(t, []byte("abc"), out)
	}

	_, err := s.Next()
	assert.Error(t, err)
}

func TestRefillKeepsProducingAsItemsAreDrained(t *testing.T) {
	g := mustGenerator(t, "xy")
	s := New(g, 2, Refill)
	defer s.Close()

	for i := 0; i < 20; i++ {
		out, err := s.Next()
		require.NoError(t, err)
		assert.Equal(t, []byte("xy"), out)
	}
}

func TestCloseUnblocksPendingNext(t *testing.T) {
	g := mustGenerator(t, "z{200}")
	s := New(g, 1, Refill)

	time.Sleep(10 * time.Millisecond)
	s.Close()

	_, err := s.Next()
	assert.Error(t, err)
}

func TestDoubleCloseDoesNotPanic(t *testing.T) {
	g := mustGenerator(t, "a")
	s := New(g, 1, Oneshot)
	s.Close()
	s.Close()
}
