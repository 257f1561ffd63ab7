// Package generator interprets a compiled factory.Factory's flat
// instruction stream, producing byte sequences. A Generator owns its own
// PRNG stream, output buffer, and lazily-built tree of child generators for
// any subcontext references it drives — so a single Factory may be shared
// by reference across any number of independent Generators.
package generator

import (
	"fmt"
	"log/slog"

	"github.com/NotsoanoNimus/nanofuzz/pkgs/factory"
	"github.com/NotsoanoNimus/nanofuzz/pkgs/prng"
)

// maxNestDepth mirrors the compiler's own nesting limit: the instruction
// stream a Factory carries can never ask for deeper Sub/Ret nesting than
// this, so a fixed-size counter stack is both sufficient and allocation-free.
const maxNestDepth = 5

// maxReferenceDepth bounds how deep a chain of subcontext references may
// recurse at runtime. Nothing in a schema's grammar forbids a subcontext
// whose body references itself (directly or through a cycle of labels);
// without a depth cap that schema would recurse until the stack overflows
// the first time it is generated.
const maxReferenceDepth = 64

type counterSlot struct {
	howMany   uint16
	generated uint16
}

// subRuntime is the per-owner runtime state for one subcontext reference:
// the child Generator driving its body, and the most-recently-generated
// artifact Paste/Length reuse until a Shuffle (or first use) replaces it.
type subRuntime struct {
	child         *Generator
	mostRecent    []byte
	freshThisCall bool
}

// Generator drives one Factory's instruction stream. It is not safe for
// concurrent use; callers that want concurrent production should each hold
// their own Generator over the same (read-only, shareable) Factory.
type Generator struct {
	factory *factory.Factory
	prng    *prng.Source
	buffer  []byte
	cur     int
	poolEnd int

	counters       [maxNestDepth]counterSlot
	nestLevel      int
	nullifiedLevel int // -1 when no Sub is currently suppressing output

	subs map[string]*subRuntime

	refDepth int
	closed   bool

	log *slog.Logger
}

// New builds a Generator for f, deterministically seeded from seed, with an
// output pool of poolSize bytes.
func New(f *factory.Factory, seed uint64, poolSize int) (*Generator, error) {
	return newWithDepth(f, seed, poolSize, 0)
}

func newWithDepth(f *factory.Factory, seed uint64, poolSize int, depth int) (*Generator, error) {
	if poolSize <= 0 {
		return nil, fmt.Errorf("nanofuzz: pool size must be positive, got %d", poolSize)
	}
	if depth > maxReferenceDepth {
		return nil, fmt.Errorf("nanofuzz: subcontext reference chain exceeds depth %d", maxReferenceDepth)
	}
	return &Generator{
		factory:        f,
		prng:           prng.New(seed),
		buffer:         make([]byte, poolSize),
		poolEnd:        poolSize,
		nullifiedLevel: -1,
		subs:           make(map[string]*subRuntime),
		refDepth:       depth,
		log:            slog.Default(),
	}, nil
}

// Resize replaces the generator's output pool with a freshly allocated
// buffer of n bytes, and propagates the new size to every child generator
// already built for a subcontext reference. Any in-flight generation state
// is discarded.
func (g *Generator) Resize(n int) error {
	if g.closed {
		panic("nanofuzz: Resize called on a torn-down generator")
	}
	if n <= 0 {
		return fmt.Errorf("nanofuzz: pool size must be positive, got %d", n)
	}
	g.log.Debug("resizing output pool", "old_size", g.poolEnd, "new_size", n, "children", len(g.subs))
	g.buffer = make([]byte, n)
	g.poolEnd = n
	g.cur = 0
	g.nestLevel = 0
	g.nullifiedLevel = -1
	for _, sr := range g.subs {
		if err := sr.child.Resize(n); err != nil {
			return err
		}
	}
	return nil
}

// Close tears down this Generator and, recursively, every child generator
// it lazily created for a subcontext reference. Calling Next, NextToStream
// or Resize on a closed Generator is a programmer error and panics rather
// than silently returning zero values; calling Close again returns nil.
func (g *Generator) Close() error {
	if g.closed {
		return nil
	}
	for _, sr := range g.subs {
		_ = sr.child.Close()
	}
	g.closed = true
	g.buffer = nil
	return nil
}

func (g *Generator) subFor(label string) (*subRuntime, error) {
	if sr, ok := g.subs[label]; ok {
		return sr, nil
	}
	sc, ok := g.factory.Subcontexts[label]
	if !ok {
		return nil, fmt.Errorf("nanofuzz: reference to unknown subcontext %q", label)
	}
	childSeed := g.prng.NextUint64()
	g.log.Debug("building child generator for subcontext reference", "label", label, "depth", g.refDepth+1)
	child, err := newWithDepth(sc.Child, childSeed, len(g.buffer), g.refDepth+1)
	if err != nil {
		return nil, err
	}
	sr := &subRuntime{child: child}
	g.subs[label] = sr
	return sr, nil
}
