package generator

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/NotsoanoNimus/nanofuzz/pkgs/ast"
)

func (g *Generator) dispatchReference(b *ast.Block) error {
	sr, err := g.subFor(b.Label)
	if err != nil {
		return err
	}
	if sr.mostRecent == nil {
		blob, err := sr.child.Next()
		if err != nil {
			return err
		}
		sr.mostRecent = blob
		sr.freshThisCall = true
	}

	reps := g.iterCount(b.Count)

	switch b.Mode {
	case ast.ModePaste:
		for i := uint16(0); i < reps; i++ {
			if err := g.emit(sr.mostRecent); err != nil {
				return err
			}
		}

	case ast.ModeLength:
		text, err := formatLength(len(sr.mostRecent), b.LenOpts)
		if err != nil {
			g.handleOverflow()
			return err
		}
		for i := uint16(0); i < reps; i++ {
			if err := g.emit(text); err != nil {
				return err
			}
		}

	case ast.ModeShuffle:
		// Shuffle only refreshes the cached artifact for later Paste/Length
		// references to the same label; it never emits bytes itself.
		if !sr.freshThisCall {
			blob, err := sr.child.Next()
			if err != nil {
				return err
			}
			sr.mostRecent = blob
			sr.freshThisCall = true
		}

	default:
		return fmt.Errorf("nanofuzz: unknown reference mode %v", b.Mode)
	}
	return nil
}

// formatLength adds opts.Add to length and renders the result per opts.Kind.
// Width-bounded textual formats wrap modulo the natural base width rather
// than being rejected, matching the documented overflow-wraps policy; Add
// is applied with standard unsigned two's-complement wraparound.
func formatLength(length int, opts ast.LenOpts) ([]byte, error) {
	adjusted := uint64(int64(length) + opts.Add)

	if opts.Kind.IsRaw() {
		width := opts.Width
		if width <= 0 || width > 8 {
			return nil, fmt.Errorf("nanofuzz: malformed raw length width %d", width)
		}
		out := make([]byte, width)
		switch opts.Kind {
		case ast.LenRawLittle:
			for i := 0; i < width; i++ {
				out[i] = byte(adjusted >> (8 * uint(i)))
			}
		case ast.LenRawBig:
			for i := 0; i < width; i++ {
				out[width-1-i] = byte(adjusted >> (8 * uint(i)))
			}
		}
		return out, nil
	}

	var base uint64
	switch opts.Kind {
	case ast.LenBinary:
		base = 2
	case ast.LenDecimal:
		base = 10
	case ast.LenHex, ast.LenHexUpper:
		base = 16
	case ast.LenOctal:
		base = 8
	default:
		return nil, fmt.Errorf("nanofuzz: unknown length-reference kind %v", opts.Kind)
	}

	if opts.Width > 0 {
		modulus := uint64(1)
		overflowed := false
		for i := 0; i < opts.Width; i++ {
			next := modulus * base
			if next/base != modulus {
				overflowed = true
				break
			}
			modulus = next
		}
		if !overflowed {
			adjusted %= modulus
		}
	}

	text := strconv.FormatUint(adjusted, int(base))
	if opts.Kind == ast.LenHexUpper {
		text = strings.ToUpper(text)
	}
	if opts.Width > 0 && len(text) < opts.Width {
		text = strings.Repeat("0", opts.Width-len(text)) + text
	}
	return []byte(text), nil
}
