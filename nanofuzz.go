// Package nanofuzz turns a pattern schema into a repeatable stream of
// synthetic byte strings. Compile a schema into a Context, then call Next
// to draw artifacts; the same seed always reproduces the same sequence.
package nanofuzz

import (
	"fmt"

	"github.com/NotsoanoNimus/nanofuzz/internal/cache"
	"github.com/NotsoanoNimus/nanofuzz/internal/prefetch"
	"github.com/NotsoanoNimus/nanofuzz/pkgs/compiler"
	"github.com/NotsoanoNimus/nanofuzz/pkgs/factory"
	"github.com/NotsoanoNimus/nanofuzz/pkgs/generator"
	"github.com/NotsoanoNimus/nanofuzz/pkgs/trace"
)

// Standard pool sizes, in bytes, named to match the CLI's --pool flag and
// the profile format's poolSize field.
const (
	Tiny    = 1 * 1024 * 1024
	Small   = 4 * 1024 * 1024
	Normal  = 16 * 1024 * 1024
	Large   = 128 * 1024 * 1024
	Extreme = 1024 * 1024 * 1024
)

// PoolSizeNamed resolves one of the standard pool-size names to its byte
// count. It reports false for anything else, leaving numeric parsing to
// the caller (the CLI accepts a raw byte count too).
func PoolSizeNamed(name string) (int, bool) {
	switch name {
	case "tiny":
		return Tiny, true
	case "small":
		return Small, true
	case "normal":
		return Normal, true
	case "large":
		return Large, true
	case "extreme":
		return Extreme, true
	default:
		return 0, false
	}
}

var defaultCache = cache.New(64)

// Context bundles a compiled Factory with one Generator drawing from it.
type Context struct {
	Factory   *factory.Factory
	Generator *generator.Generator
}

// Compile parses schema, reporting compile diagnostics via the returned
// Trace rather than an error (matching the compiler's own contract), and,
// if the Trace is empty, builds a Context with a Generator of poolSize
// bytes seeded with seed. Repeated calls with byte-identical schemas reuse
// the compiled Factory via an internal cache.
func Compile(schema []byte, seed uint64, poolSize int) (*Context, *trace.Trace) {
	if poolSize <= 0 {
		poolSize = Normal
	}

	f, ok := defaultCache.Get(schema)
	var tr *trace.Trace
	if !ok {
		f, tr = compiler.Compile(schema)
		if !tr.IsEmpty() {
			return nil, tr
		}
		defaultCache.Put(schema, f)
	} else {
		tr = trace.New()
	}

	gen, err := generator.New(f, seed, poolSize)
	if err != nil {
		tr.Add(0, 0, trace.ErrSchemaTooLarge, err.Error())
		return nil, tr
	}

	return &Context{Factory: f, Generator: gen}, tr
}

// Next draws the next artifact from the Context's Generator.
func (c *Context) Next() ([]byte, error) {
	return c.Generator.Next()
}

// Prefetch wraps the Context's Generator in a background prefetch.Stack of
// the given depth and mode. The Context's Generator must not be used
// directly (via Next) while the returned Stack is open.
func (c *Context) Prefetch(depth int, mode prefetch.Mode) *prefetch.Stack {
	return prefetch.New(c.Generator, depth, mode)
}

// Close tears down the Context's Generator and any subcontext children it
// built.
func (c *Context) Close() error {
	if err := c.Generator.Close(); err != nil {
		return fmt.Errorf("nanofuzz: closing generator: %w", err)
	}
	return nil
}
