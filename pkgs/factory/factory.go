// Package factory defines the immutable compiled form of a schema: a flat
// instruction stream plus a table of named subcontexts. Factories are
// produced by pkgs/compiler and consumed by pkgs/generator; once built,
// a Factory is never mutated, so it may be shared by reference across any
// number of Generators (each of which builds its own runtime overlay of
// per-subcontext state).
package factory

import "github.com/NotsoanoNimus/nanofuzz/pkgs/ast"

// MaxSubcontexts bounds how many named subcontexts a single compilation
// may declare.
const MaxSubcontexts = 32

// Subcontext is the compiled, immutable description of one named group:
// its label, the DJB2 hash of that label, and the child Factory compiled
// for its body. Runtime state (the generator driving it, and the
// most-recently-generated artifact) lives on the generator side — see
// pkgs/generator — because subcontexts are per-owner, not shared.
type Subcontext struct {
	Label string
	Hash  uint32
	Child *Factory
}

// Factory is the compiled form of one schema (or one named subsequence
// within a schema). Instructions always ends with exactly one ast.KindEnd
// block.
type Factory struct {
	Instructions  []ast.Block
	Subcontexts   map[string]*Subcontext
	MaxOutputSize uint64
}

// New builds a Factory from a finished instruction stream and subcontext
// table, computing the cached worst-case output size hint.
func New(instructions []ast.Block, subcontexts map[string]*Subcontext) *Factory {
	f := &Factory{
		Instructions: instructions,
		Subcontexts:  subcontexts,
	}
	f.MaxOutputSize = f.computeMaxOutputSize()
	return f
}

// saturatingAdd and saturatingMul keep the worst-case size estimate from
// wrapping around on pathological schemas (e.g. deeply nested {65535}
// repetitions). MaxOutputSize is an estimate only: the generator never
// reads it (its pool size is the runtime bound), and it is reported by the
// CLI's factory dump and folded into a parent's estimate for references, so
// clamping to a large-but-finite ceiling is the documented behavior.
const sizeCeiling = uint64(1) << 48

func saturatingAdd(a, b uint64) uint64 {
	sum := a + b
	if sum < a || sum > sizeCeiling {
		return sizeCeiling
	}
	return sum
}

func saturatingMul(a, b uint64) uint64 {
	if a == 0 || b == 0 {
		return 0
	}
	product := a * b
	if product/a != b || product > sizeCeiling {
		return sizeCeiling
	}
	return product
}

// computeMaxOutputSize walks the instruction stream once, estimating the
// largest number of bytes a single generation could possibly emit. Sub/Ret
// pairs are costed as (their body's cost) * (High repetitions); a
// BranchRoot is costed as the largest first instruction among its arms, and
// the walk then continues into the arms themselves, so every arm is also
// counted in full (an overestimate); References are costed through the
// child Factory's own estimate.
func (f *Factory) computeMaxOutputSize() uint64 {
	var walk func(ip int) (cost uint64, next int)
	walk = func(ip int) (uint64, int) {
		if ip >= len(f.Instructions) {
			return 0, ip
		}
		b := f.Instructions[ip]
		reps := func() uint64 {
			if b.Count.Single {
				return uint64(b.Count.Base)
			}
			return uint64(b.Count.High)
		}()

		switch b.Kind {
		case ast.KindString:
			return saturatingMul(uint64(len(b.Bytes)), reps), ip + 1

		case ast.KindRange:
			return reps, ip + 1

		case ast.KindSub:
			bodyCost := uint64(0)
			j := ip + 1
			for j < len(f.Instructions) {
				inner := f.Instructions[j]
				if inner.Kind == ast.KindRet {
					j++
					break
				}
				c, nj := walk(j)
				bodyCost = saturatingAdd(bodyCost, c)
				j = nj
			}
			return saturatingMul(bodyCost, reps), j

		case ast.KindRet:
			return 0, ip + 1

		case ast.KindReference:
			switch b.Mode {
			case ast.ModeLength:
				width := uint64(b.LenOpts.Width)
				if width == 0 {
					width = 64 // binary digits of a 64-bit value, textual worst case
				}
				return saturatingMul(width, reps), ip + 1
			default:
				childCost := uint64(0)
				if sc, ok := f.Subcontexts[b.Label]; ok && sc.Child != nil {
					childCost = sc.Child.MaxOutputSize
				}
				return saturatingMul(childCost, reps), ip + 1
			}

		case ast.KindBranchRoot:
			maxArm := uint64(0)
			for _, step := range b.Steps {
				armIP := ip + step
				if step <= 0 {
					armIP = ip + 1
				}
				c, _ := walk(armIP)
				if c > maxArm {
					maxArm = c
				}
			}
			// Resume at the instruction right after this BranchRoot, so the
			// caller's loop walks into the arms and adds every arm's cost on
			// top of maxArm. Since walk is only used for estimation, this
			// double counting is acceptable: it makes the hint larger, not
			// smaller.
			return maxArm, ip + 1

		case ast.KindBranchJmp:
			return 0, ip + 1

		case ast.KindEnd:
			return 0, ip + 1

		default:
			return 0, ip + 1
		}
	}

	total := uint64(0)
	ip := 0
	for ip < len(f.Instructions) {
		b := f.Instructions[ip]
		if b.Kind == ast.KindEnd {
			break
		}
		c, next := walk(ip)
		total = saturatingAdd(total, c)
		ip = next
	}
	return total
}
