package compiler

import (
	"sort"

	"github.com/NotsoanoNimus/nanofuzz/pkgs/ast"
	"github.com/NotsoanoNimus/nanofuzz/pkgs/lexer"
	"github.com/NotsoanoNimus/nanofuzz/pkgs/trace"
)

// maxCharClassFragments bounds the fragments of a `[...]`: both the
// fragments as written and, for a negated class, the disjoint ranges of its
// complement.
const maxCharClassFragments = 16

// parseCharClass parses a `[...]` character class, consuming the LBRACKET
// itself. Fragments are either a single byte or a `BASE-HIGH` inclusive
// range; a leading unescaped `^` negates the whole class against [0,255].
func (p *parser) parseCharClass() (*ast.Block, bool) {
	lbracket, err := p.next()
	if err != nil {
		p.errorFromLex(err)
		return nil, false
	}
	p.lex.SetMode(lexer.ModeCharClass)
	defer p.lex.SetMode(lexer.ModeLiteral)

	negate := false
	tok, err := p.peek()
	if err != nil {
		p.errorFromLex(err)
		return nil, false
	}
	if tok.Type == lexer.CARET {
		p.next()
		negate = true
	}

	var fragments []ast.RangeFragment
	for {
		tok, err := p.peek()
		if err != nil {
			p.errorFromLex(err)
			return nil, false
		}
		if tok.Type == lexer.RBRACKET {
			p.next()
			break
		}
		if tok.Type == lexer.EOF {
			p.errAt(lbracket.Offset, trace.ErrUnclosedBracket, "unclosed '['")
			return nil, false
		}
		if tok.Type == lexer.COMMA {
			p.next()
			continue
		}
		if tok.Type != lexer.BYTE {
			p.next()
			p.errAt(tok.Offset, trace.ErrInvalidRange, "expected a byte or range in character class")
			return nil, false
		}
		p.next()
		base := tok.Byte
		high := base

		dashTok, err := p.peek()
		if err != nil {
			p.errorFromLex(err)
			return nil, false
		}
		if dashTok.Type == lexer.DASH {
			p.next()
			endTok, err := p.next()
			if err != nil {
				p.errorFromLex(err)
				return nil, false
			}
			if endTok.Type != lexer.BYTE {
				p.errAt(dashTok.Offset, trace.ErrInvalidRange, "'-' must be followed by a byte")
				return nil, false
			}
			if endTok.Byte < base {
				p.errAt(tok.Offset, trace.ErrInvalidRange, "range low must not exceed high")
				return nil, false
			}
			high = endTok.Byte
		}

		if len(fragments) >= maxCharClassFragments {
			p.errAt(tok.Offset, trace.ErrTooManyFragments,
				"character class exceeds the fragment limit")
			return nil, false
		}
		fragments = append(fragments, ast.RangeFragment{Base: base, High: high})
	}

	if len(fragments) == 0 {
		p.errAt(lbracket.Offset, trace.ErrEmptyRange, "empty character class")
		return nil, false
	}

	sort.Slice(fragments, func(i, j int) bool { return fragments[i].Base < fragments[j].Base })
	for i := 1; i < len(fragments); i++ {
		if int(fragments[i].Base) <= int(fragments[i-1].High) {
			p.errAt(lbracket.Offset, trace.ErrOverlappingFragments, "character class fragments overlap")
			return nil, false
		}
	}

	if negate {
		fragments = complementFragments(fragments)
		if len(fragments) == 0 {
			p.errAt(lbracket.Offset, trace.ErrEmptyRange, "negated character class matches nothing")
			return nil, false
		}
		if len(fragments) > maxCharClassFragments {
			p.errAt(lbracket.Offset, trace.ErrTooManyFragments,
				"negated character class exceeds the fragment limit")
			return nil, false
		}
	}

	// The repetition suffix lexes under ModeLiteral (braces are structural
	// there); ModeCharClass would read '{' as a literal BYTE instead.
	p.lex.SetMode(lexer.ModeLiteral)
	rep, ok := p.maybeParseRepetitionSuffix()
	if !ok {
		return nil, false
	}

	return &ast.Block{Kind: ast.KindRange, Fragments: fragments, Count: rep}, true
}

// complementFragments returns the sorted, disjoint set of byte values not
// covered by frags. frags must already be sorted and non-overlapping.
func complementFragments(frags []ast.RangeFragment) []ast.RangeFragment {
	var out []ast.RangeFragment
	next := 0
	for _, f := range frags {
		if int(f.Base) > next {
			out = append(out, ast.RangeFragment{Base: byte(next), High: f.Base - 1})
		}
		if int(f.High)+1 > next {
			next = int(f.High) + 1
		}
	}
	if next <= 255 {
		out = append(out, ast.RangeFragment{Base: byte(next), High: 255})
	}
	return out
}
