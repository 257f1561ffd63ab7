package cache

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/NotsoanoNimus/nanofuzz/pkgs/compiler"
)

func TestPutThenGetHitsSameFactory(t *testing.T) {
	c := New(8)
	f, tr := compiler.Compile([]byte("abc"))
	require.True(t, tr.IsEmpty())

	c.Put([]byte("abc"), f)
	got, ok := c.Get([]byte("abc"))
	require.True(t, ok)
	assert.Same(t, f, got)
}

func TestGetMissReturnsFalse(t *testing.T) {
	c := New(8)
	_, ok := c.Get([]byte("never put"))
	assert.False(t, ok)
}

func TestPutEvictsEverythingOnceFull(t *testing.T) {
	c := New(1)
	f1, _ := compiler.Compile([]byte("a"))
	f2, _ := compiler.Compile([]byte("b"))

	c.Put([]byte("a"), f1)
	c.Put([]byte("b"), f2)

	_, ok := c.Get([]byte("a"))
	assert.False(t, ok, "first entry should have been cleared on the full-clear eviction")
	got, ok := c.Get([]byte("b"))
	require.True(t, ok)
	assert.Same(t, f2, got)
}
