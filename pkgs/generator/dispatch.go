package generator

import (
	"fmt"
	"io"

	"github.com/NotsoanoNimus/nanofuzz/pkgs/ast"
)

// Next runs one full pass over the factory's instruction stream and returns
// the bytes it produced. The returned slice is owned by the caller; the
// generator's internal buffer is reused on the next call.
func (g *Generator) Next() ([]byte, error) {
	if g.closed {
		panic("nanofuzz: Next called on a torn-down generator")
	}

	g.cur = 0
	g.nestLevel = 0
	g.nullifiedLevel = -1
	for _, sr := range g.subs {
		sr.freshThisCall = false
	}

	instr := g.factory.Instructions
	ip := 0
	for {
		if ip < 0 || ip >= len(instr) {
			return nil, fmt.Errorf("nanofuzz: instruction pointer %d out of bounds", ip)
		}
		b := &instr[ip]

		// While a Sub with zero iterations is suppressing output, every
		// instruction except Sub/Ret itself is skipped without computing a
		// repetition count or touching the PRNG.
		if g.nullifiedLevel >= 0 && b.Kind != ast.KindSub && b.Kind != ast.KindRet {
			ip++
			continue
		}

		switch b.Kind {
		case ast.KindEnd:
			out := make([]byte, g.cur)
			copy(out, g.buffer[:g.cur])
			return out, nil

		case ast.KindString:
			reps := g.iterCount(b.Count)
			for i := uint16(0); i < reps; i++ {
				if err := g.emit(b.Bytes); err != nil {
					return nil, err
				}
			}
			ip++

		case ast.KindRange:
			reps := g.iterCount(b.Count)
			for i := uint16(0); i < reps; i++ {
				if err := g.emit([]byte{g.sampleFragment(b.Fragments)}); err != nil {
					return nil, err
				}
			}
			ip++

		case ast.KindSub:
			iters := g.iterCount(b.Count)
			level := g.nestLevel
			if level >= len(g.counters) {
				return nil, fmt.Errorf("nanofuzz: runtime nesting exceeds %d", len(g.counters))
			}
			g.counters[level] = counterSlot{howMany: iters, generated: 0}
			g.nestLevel++
			if iters == 0 && g.nullifiedLevel < 0 {
				g.nullifiedLevel = level
			}
			ip++

		case ast.KindRet:
			level := g.nestLevel - 1
			if level < 0 {
				return nil, fmt.Errorf("nanofuzz: Ret with no matching Sub")
			}
			if g.nullifiedLevel >= 0 {
				if g.nullifiedLevel == level {
					g.nullifiedLevel = -1
					g.counters[level].howMany = 0
				}
				g.nestLevel--
				ip++
				continue
			}
			g.counters[level].generated++
			if g.counters[level].generated < g.counters[level].howMany {
				ip -= b.BackCount
				continue
			}
			g.nestLevel--
			ip++

		case ast.KindReference:
			if err := g.dispatchReference(b); err != nil {
				return nil, err
			}
			ip++

		case ast.KindBranchRoot:
			if b.Amount <= 0 {
				ip++
				continue
			}
			choice := int(g.prng.NextBounded(0, uint64(b.Amount-1)))
			step := b.Steps[choice]
			if step <= 0 {
				step = 1
			}
			ip += step

		case ast.KindBranchJmp:
			delta := b.Delta
			if delta <= 0 {
				delta = 1
			}
			ip += delta

		default:
			ip++
		}
	}
}

// NextToStream runs Next and writes its result directly to w, returning the
// number of bytes written.
func (g *Generator) NextToStream(w io.Writer) (int, error) {
	data, err := g.Next()
	if err != nil {
		return 0, err
	}
	return w.Write(data)
}

func (g *Generator) iterCount(c ast.Repetition) uint16 {
	if c.Single || c.Base == c.High {
		return c.Base
	}
	return uint16(g.prng.NextBounded(uint64(c.Base), uint64(c.High)))
}

// emit appends data to the output buffer, or triggers overflow handling and
// returns an error if it would not fit. After overflow the generator is
// left in a clean, zeroed state ready for the next Next call.
func (g *Generator) emit(data []byte) error {
	if g.cur+len(data) > g.poolEnd {
		g.log.Debug("output pool overflowed, resetting for next call", "pool_size", g.poolEnd, "written", g.cur, "attempted", len(data))
		g.handleOverflow()
		return fmt.Errorf("nanofuzz: generation exceeded pool size of %d bytes", g.poolEnd)
	}
	copy(g.buffer[g.cur:], data)
	g.cur += len(data)
	return nil
}

func (g *Generator) handleOverflow() {
	for i := range g.buffer {
		g.buffer[i] = 0
	}
	g.cur = 0
	g.nestLevel = 0
	g.nullifiedLevel = -1
}

// sampleFragment picks a fragment uniformly from fragments, then a byte
// uniformly from within that fragment's inclusive range: a one-byte
// fragment is exactly as likely to be chosen as a 26-byte one.
func (g *Generator) sampleFragment(fragments []ast.RangeFragment) byte {
	if len(fragments) == 0 {
		return 0
	}
	f := fragments[g.prng.NextBounded(0, uint64(len(fragments)-1))]
	return f.Base + byte(g.prng.NextBounded(0, uint64(f.High-f.Base)))
}
