package generator

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/NotsoanoNimus/nanofuzz/pkgs/compiler"
)

func mustGenerator(t *testing.T, schema string, seed uint64, poolSize int) *Generator {
	t.Helper()
	f, tr := compiler.Compile([]byte(schema))
	require.Truef(t, tr.IsEmpty(), "compile %q: %v", schema, tr.Fragments())
	g, err := New(f, seed, poolSize)
	require.NoError(t, err)
	return g
}

func TestLiteralSchemaIsDeterministicPerSeed(t *testing.T) {
	g1 := mustGenerator(t, "abc", 42, 64)
	g2 := mustGenerator(t, "abc", 42, 64)
	out1, err := g1.Next()
	require.NoError(t, err)
	out2, err := g2.Next()
	require.NoError(t, err)
	assert.Equal(t, []byte("abc"), out1)
	assert.Equal(t, out1, out2)
}

func TestCharClassEmitsWithinRange(t *testing.T) {
	g := mustGenerator(t, "[A-Z]{20}", 7, 64)
	out, err := g.Next()
	require.NoError(t, err)
	require.Len(t, out, 20)
	for _, b := range out {
		assert.GreaterOrEqual(t, b, byte('A'))
		assert.LessOrEqual(t, b, byte('Z'))
	}
}

func TestGroupRepeatsExactly(t *testing.T) {
	g := mustGenerator(t, "(ab){3}", 1, 64)
	out, err := g.Next()
	require.NoError(t, err)
	assert.Equal(t, []byte("ababab"), out)
}

func TestNullifiedGroupEmitsNothing(t *testing.T) {
	g := mustGenerator(t, "(ab){0,0}cd", 1, 64)
	out, err := g.Next()
	require.NoError(t, err)
	assert.Equal(t, []byte("cd"), out)
}

func TestNestedNullifiedGroupSkipsInnerLoopEntirely(t *testing.T) {
	g := mustGenerator(t, "(x(y){5}z){0,0}done", 1, 64)
	out, err := g.Next()
	require.NoError(t, err)
	assert.Equal(t, []byte("done"), out)
}

func TestAlternationPicksOneArm(t *testing.T) {
	g := mustGenerator(t, "a|b|c", 9, 64)
	seen := map[string]bool{}
	for i := 0; i < 200; i++ {
		out, err := g.Next()
		require.NoError(t, err)
		require.Len(t, out, 1)
		seen[string(out)] = true
	}
	for _, arm := range []string{"a", "b", "c"} {
		assert.Contains(t, seen, arm)
	}
	for s := range seen {
		assert.Contains(t, []string{"a", "b", "c"}, s)
	}
}

func TestPasteReferenceReusesMostRecent(t *testing.T) {
	g := mustGenerator(t, "(abc)<$X>-<@X>-<@X>", 3, 64)
	out, err := g.Next()
	require.NoError(t, err)
	assert.Equal(t, "abc-abc-abc", string(out))
}

func TestLengthReferenceReportsReferencedSize(t *testing.T) {
	g := mustGenerator(t, "(abcde)<$X><#X>", 3, 64)
	out, err := g.Next()
	require.NoError(t, err)
	assert.Equal(t, "abcde5", string(out))
}

func TestShuffleReferenceRegeneratesWithoutEmitting(t *testing.T) {
	g := mustGenerator(t, "([A-Z]{4})<$X><%X><@X>", 11, 64)
	out, err := g.Next()
	require.NoError(t, err)
	// The leading group's own output plus exactly one pasted copy; Shuffle
	// contributes no bytes of its own.
	assert.Len(t, out, 8)
}

func TestOverflowResetsGeneratorForNextCall(t *testing.T) {
	g := mustGenerator(t, "a{100}", 1, 8)
	_, err := g.Next()
	require.Error(t, err)
	// The failed call leaves g's pool zeroed and its state back at the start.
	assert.Equal(t, 0, g.cur)
	assert.Equal(t, 0, g.nestLevel)
	assert.Equal(t, make([]byte, 8), g.buffer)

	g2 := mustGenerator(t, "ab", 1, 8)
	out, err := g2.Next()
	require.NoError(t, err)
	assert.Equal(t, []byte("ab"), out)
}

func TestResizeChangesPoolCapacity(t *testing.T) {
	g := mustGenerator(t, "a{10}", 1, 4)
	_, err := g.Next()
	require.Error(t, err)

	require.NoError(t, g.Resize(32))
	out, err := g.Next()
	require.NoError(t, err)
	assert.Equal(t, 10, len(out))
}

func TestCloseTearsDownWithoutPanicOnDoubleClose(t *testing.T) {
	g := mustGenerator(t, "(abc)<$X><@X>", 1, 64)
	_, err := g.Next()
	require.NoError(t, err)
	require.NoError(t, g.Close())
	require.NoError(t, g.Close())
}

func TestUseAfterCloseIsFatal(t *testing.T) {
	g := mustGenerator(t, "abc", 1, 64)
	require.NoError(t, g.Close())
	assert.Panics(t, func() {
		_, _ = g.Next()
	})
}
