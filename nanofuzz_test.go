package nanofuzz

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/NotsoanoNimus/nanofuzz/internal/prefetch"
)

func TestCompileAndNextProducesDeterministicOutput(t *testing.T) {
	ctx, tr := Compile([]byte("[a-z]{5}"), 42, Small)
	require.True(t, tr.IsEmpty())
	out, err := ctx.Next()
	require.NoError(t, err)
	assert.Len(t, out, 5)
	require.NoError(t, ctx.Close())

	again, tr := Compile([]byte("[a-z]{5}"), 42, Small)
	require.True(t, tr.IsEmpty())
	outAgain, err := again.Next()
	require.NoError(t, err)
	assert.Equal(t, out, outAgain)
	require.NoError(t, again.Close())
}

func TestCompileReportsTraceOnBadSchema(t *testing.T) {
	ctx, tr := Compile([]byte("(unclosed"), 1, Normal)
	assert.Nil(t, ctx)
	assert.False(t, tr.IsEmpty())
}

func TestCompileCachesIdenticalSchemas(t *testing.T) {
	c1, tr1 := Compile([]byte("abc{2}"), 1, Normal)
	require.True(t, tr1.IsEmpty())
	c2, tr2 := Compile([]byte("abc{2}"), 2, Normal)
	require.True(t, tr2.IsEmpty())
	assert.Same(t, c1.Factory, c2.Factory)
}

func TestPoolSizeNamedResolvesStandardSizes(t *testing.T) {
	for name, want := range map[string]int{
		"tiny": Tiny, "small": Small, "normal": Normal, "large": Large, "extreme": Extreme,
	} {
		got, ok := PoolSizeNamed(name)
		assert.True(t, ok)
		assert.Equal(t, want, got)
	}
	_, ok := PoolSizeNamed("bogus")
	assert.False(t, ok)
}

func TestContextPrefetchDrawsArtifacts(t *testing.T) {
	ctx, tr := Compile([]byte("xyz"), 5, Small)
	require.True(t, tr.IsEmpty())
	stack := ctx.Prefetch(2, prefetch.Refill)
	defer stack.Close()

	out, err := stack.Next()
	require.NoError(t, err)
	assert.Equal(t, []byte("xyz"), out)
}
