// Package compiler implements the recursive-descent parser that turns a
// pattern schema into a compiled factory.Factory. It drives pkgs/lexer's
// Mode explicitly at every grammar boundary and reports every failure
// through a pkgs/trace.Trace rather than panicking.
package compiler

import (
	"fmt"
	"sort"
	"strconv"

	"github.com/lithammer/fuzzysearch/fuzzy"

	"github.com/NotsoanoNimus/nanofuzz/pkgs/ast"
	"github.com/NotsoanoNimus/nanofuzz/pkgs/factory"
	"github.com/NotsoanoNimus/nanofuzz/pkgs/lexer"
	"github.com/NotsoanoNimus/nanofuzz/pkgs/trace"
)

// MaxSchemaBytes bounds the size of a single schema this compiler accepts.
const MaxSchemaBytes = 16 * 1024 * 1024

const maxNesting = 5
const maxAlternationArms = 32

type pendingReference struct {
	label  string
	offset int
}

type parser struct {
	lex   *lexer.Lexer
	tr    *trace.Trace
	unget []lexer.Token

	nest           int
	nestTagCounter int

	declared    map[string]int
	subcontexts map[string]*factory.Subcontext
	pendingRefs []pendingReference
}

// Compile parses schema and returns its compiled Factory. On failure the
// Factory is nil and the Trace holds one or more fragments, most recent
// first when printed.
func Compile(schema []byte) (*factory.Factory, *trace.Trace) {
	tr := trace.New()
	if len(schema) > MaxSchemaBytes {
		tr.Add(0, 0, trace.ErrSchemaTooLarge,
			fmt.Sprintf("schema is %d bytes, limit is %d", len(schema), MaxSchemaBytes))
		return nil, tr
	}

	p := &parser{
		lex:         lexer.New(schema),
		tr:          tr,
		declared:    make(map[string]int),
		subcontexts: make(map[string]*factory.Subcontext),
	}

	body, ok := p.parseAlternation(nil)
	if !ok {
		return nil, tr
	}

	tok, err := p.next()
	if err != nil {
		p.errorFromLex(err)
		return nil, tr
	}
	if tok.Type != lexer.EOF {
		p.errAt(tok.Offset, trace.ErrStrayParenClose, "unexpected trailing input after schema")
		return nil, tr
	}

	for _, ref := range p.pendingRefs {
		if _, declared := p.subcontexts[ref.label]; !declared {
			p.errAt(ref.offset, trace.ErrUndeclaredReference, p.undeclaredMessage(ref.label))
		}
	}
	if !tr.IsEmpty() {
		return nil, tr
	}

	instructions := append(body, ast.Block{Kind: ast.KindEnd})
	return factory.New(instructions, p.subcontexts), tr
}

func (p *parser) undeclaredMessage(label string) string {
	names := make([]string, 0, len(p.declared))
	for name := range p.declared {
		names = append(names, name)
	}
	msg := fmt.Sprintf("reference to undeclared label %q", label)
	if ranks := fuzzy.RankFind(label, names); len(ranks) > 0 {
		sort.Sort(ranks)
		msg += fmt.Sprintf("; did you mean %q?", ranks[0].Target)
	}
	return msg
}

// --- token stream helpers -------------------------------------------------

func (p *parser) next() (lexer.Token, error) {
	if n := len(p.unget); n > 0 {
		tok := p.unget[n-1]
		p.unget = p.unget[:n-1]
		return tok, nil
	}
	return p.lex.Next()
}

func (p *parser) peek() (lexer.Token, error) {
	if n := len(p.unget); n > 0 {
		return p.unget[n-1], nil
	}
	tok, err := p.lex.Next()
	if err != nil {
		return tok, err
	}
	p.unget = append(p.unget, tok)
	return tok, nil
}

// pushbackTokens re-queues toks in order, so the next call to next() returns
// toks[0]. Used when a lookahead decides a LANGLE it consumed was not the
// construct it was probing for.
func (p *parser) pushbackTokens(toks ...lexer.Token) {
	for i := len(toks) - 1; i >= 0; i-- {
		p.unget = append(p.unget, toks[i])
	}
}

func (p *parser) errAt(offset int, code trace.Code, text string) {
	p.tr.Add(p.nest, offset, code, text)
}

func (p *parser) errorFromLex(err error) {
	lerr, ok := err.(*lexer.Error)
	if !ok {
		p.errAt(0, trace.ErrInvalidEscape, err.Error())
		return
	}
	code := trace.ErrInvalidEscape
	if p.lex.Mode() == lexer.ModeRepetition {
		code = trace.ErrBadRepetition
	}
	p.errAt(lerr.Offset, code, lerr.Msg)
}

func isTerminator(t lexer.TokenType, terms []lexer.TokenType) bool {
	for _, x := range terms {
		if x == t {
			return true
		}
	}
	return false
}

func parseU16(s string) (uint16, bool) {
	v, err := strconv.ParseUint(s, 10, 32)
	if err != nil || v > 65535 {
		return 0, false
	}
	return uint16(v), true
}

// --- alternation / arms ----------------------------------------------------

func (p *parser) parseAlternation(terminators []lexer.TokenType) ([]ast.Block, bool) {
	var arms [][]ast.Block
	for {
		arm, ok := p.parseArm(terminators)
		if !ok {
			return nil, false
		}
		arms = append(arms, arm)

		tok, err := p.peek()
		if err != nil {
			p.errorFromLex(err)
			return nil, false
		}
		if tok.Type == lexer.PIPE {
			p.next()
			continue
		}
		break
	}

	if len(arms) == 1 {
		return arms[0], true
	}
	if len(arms) > maxAlternationArms {
		p.errAt(0, trace.ErrTooManyAlternationArms,
			fmt.Sprintf("alternation has %d arms, limit is %d", len(arms), maxAlternationArms))
		return nil, false
	}
	for _, arm := range arms {
		if len(arm) == 0 {
			p.errAt(0, trace.ErrEmptyAlternationArm, "alternation arm is empty")
			return nil, false
		}
	}
	return assembleBranch(arms), true
}

func assembleBranch(arms [][]ast.Block) []ast.Block {
	blocks := make([]ast.Block, 1) // placeholder for BranchRoot
	steps := make([]int, len(arms))
	jmpIdxs := make([]int, len(arms))

	for i, arm := range arms {
		steps[i] = len(blocks)
		blocks = append(blocks, arm...)
		jmpIdxs[i] = len(blocks)
		blocks = append(blocks, ast.Block{Kind: ast.KindBranchJmp, Count: ast.Once})
	}

	total := len(blocks)
	for _, idx := range jmpIdxs {
		blocks[idx].Delta = total - idx
	}
	blocks[0] = ast.Block{Kind: ast.KindBranchRoot, Steps: steps, Amount: len(arms), Count: ast.Once}
	return blocks
}

func (p *parser) parseArm(terminators []lexer.TokenType) ([]ast.Block, bool) {
	var blocks []ast.Block
	var pending []byte

	flush := func() {
		if len(pending) > 0 {
			blocks = append(blocks, ast.Block{Kind: ast.KindString, Bytes: pending, Count: ast.Once})
			pending = nil
		}
	}

	for {
		p.lex.SetMode(lexer.ModeLiteral)
		tok, err := p.peek()
		if err != nil {
			p.errorFromLex(err)
			return nil, false
		}
		if tok.Type == lexer.EOF || tok.Type == lexer.PIPE || isTerminator(tok.Type, terminators) {
			flush()
			return blocks, true
		}

		switch tok.Type {
		case lexer.BYTE:
			p.next()
			nextTok, err := p.peek()
			if err != nil {
				p.errorFromLex(err)
				return nil, false
			}
			if nextTok.Type == lexer.LBRACE {
				flush()
				rep, ok := p.parseRepetitionSuffix()
				if !ok {
					return nil, false
				}
				blocks = append(blocks, ast.Block{Kind: ast.KindString, Bytes: []byte{tok.Byte}, Count: rep})
			} else {
				pending = append(pending, tok.Byte)
			}

		case lexer.LBRACKET:
			flush()
			blk, ok := p.parseCharClass()
			if !ok {
				return nil, false
			}
			blocks = append(blocks, *blk)

		case lexer.LPAREN:
			flush()
			grp, ok := p.parseGroup()
			if !ok {
				return nil, false
			}
			blocks = append(blocks, grp...)

		case lexer.LANGLE:
			flush()
			ref, ok := p.parseAngleReference()
			if !ok {
				return nil, false
			}
			blocks = append(blocks, *ref)

		case lexer.LBRACE:
			p.next()
			p.errAt(tok.Offset, trace.ErrDanglingRepetition, "repetition with no preceding element")
			return nil, false

		case lexer.RBRACKET:
			p.next()
			p.errAt(tok.Offset, trace.ErrStrayBracketClose, "stray ']'")
			return nil, false

		case lexer.RBRACE:
			p.next()
			p.errAt(tok.Offset, trace.ErrStrayBraceClose, "stray '}'")
			return nil, false

		case lexer.RPAREN:
			p.next()
			p.errAt(tok.Offset, trace.ErrStrayParenClose, "stray ')'")
			return nil, false

		case lexer.RANGLE:
			p.next()
			p.errAt(tok.Offset, trace.ErrStrayAngleClose, "stray '>'")
			return nil, false

		default:
			p.next()
			p.errAt(tok.Offset, trace.ErrInvalidEscape, fmt.Sprintf("unexpected token %s", tok.Type))
			return nil, false
		}
	}
}

// --- groups ----------------------------------------------------------------

func (p *parser) parseGroup() ([]ast.Block, bool) {
	lparen, err := p.next()
	if err != nil {
		p.errorFromLex(err)
		return nil, false
	}
	p.nest++
	if p.nest > maxNesting {
		p.errAt(lparen.Offset, trace.ErrTooMuchNesting, fmt.Sprintf("nesting exceeds %d", maxNesting))
		return nil, false
	}

	body, ok := p.parseAlternation([]lexer.TokenType{lexer.RPAREN})
	if !ok {
		return nil, false
	}

	closeTok, err := p.next()
	if err != nil {
		p.errorFromLex(err)
		return nil, false
	}
	if closeTok.Type != lexer.RPAREN {
		if closeTok.Type == lexer.EOF {
			p.errAt(lparen.Offset, trace.ErrUnclosedParen, "unclosed '('")
		} else {
			p.errAt(closeTok.Offset, trace.ErrStrayParenClose, "expected ')'")
		}
		return nil, false
	}
	p.nest--

	rep, ok := p.maybeParseRepetitionSuffix()
	if !ok {
		return nil, false
	}

	nestTag := p.nestTagCounter
	p.nestTagCounter++

	result := make([]ast.Block, 0, len(body)+2)
	result = append(result, ast.Block{Kind: ast.KindSub, NestTag: nestTag, Count: rep})
	result = append(result, body...)
	result = append(result, ast.Block{Kind: ast.KindRet, BackCount: len(body)})

	label, labelOffset, ok := p.maybeParseDeclaration()
	if !ok {
		return nil, false
	}
	if label != "" {
		if !p.registerSubcontext(label, labelOffset, result) {
			return nil, false
		}
	}
	return result, true
}

func (p *parser) registerSubcontext(label string, offset int, body []ast.Block) bool {
	if prevOffset, exists := p.declared[label]; exists {
		p.errAt(offset, trace.ErrLabelRedeclared,
			fmt.Sprintf("label %q already declared at offset %d", label, prevOffset))
		return false
	}
	if len(p.subcontexts) >= factory.MaxSubcontexts {
		p.errAt(offset, trace.ErrTooManySubcontexts,
			fmt.Sprintf("schema declares more than %d subcontexts", factory.MaxSubcontexts))
		return false
	}
	p.declared[label] = offset
	instructions := append(append([]ast.Block(nil), body...), ast.Block{Kind: ast.KindEnd})
	// Every subcontext shares this parser's single flat map, so a Reference
	// compiled before its label's declaration resolves once compilation
	// finishes — labels live in one global namespace, not a nested scope.
	p.subcontexts[label] = &factory.Subcontext{
		Label: label,
		Hash:  ast.DJB2(label),
		Child: factory.New(instructions, p.subcontexts),
	}
	return true
}

// maybeParseDeclaration looks for a `<$LABEL>` immediately following a
// closed group. If the LANGLE it finds turns out to introduce something
// else (a reference term belongs to the *next* element, not a declaration
// for this one), both tokens are pushed back for the caller's next term.
func (p *parser) maybeParseDeclaration() (string, int, bool) {
	langle, err := p.peek()
	if err != nil {
		p.errorFromLex(err)
		return "", 0, false
	}
	if langle.Type != lexer.LANGLE {
		return "", 0, true
	}
	p.next()
	p.lex.SetMode(lexer.ModeAngle)

	selTok, err := p.next()
	if err != nil {
		p.lex.SetMode(lexer.ModeLiteral)
		p.errorFromLex(err)
		return "", 0, false
	}
	if selTok.Type != lexer.DOLLAR {
		p.lex.SetMode(lexer.ModeLiteral)
		p.pushbackTokens(langle, selTok)
		return "", 0, true
	}

	labelTok, err := p.next()
	if err != nil {
		p.lex.SetMode(lexer.ModeLiteral)
		p.errorFromLex(err)
		return "", 0, false
	}
	if labelTok.Type != lexer.LABEL {
		p.lex.SetMode(lexer.ModeLiteral)
		p.errAt(labelTok.Offset, trace.ErrLabelLength, "expected a label after '<$'")
		return "", 0, false
	}
	if len(labelTok.Value) < 1 || len(labelTok.Value) > 8 {
		p.lex.SetMode(lexer.ModeLiteral)
		p.errAt(labelTok.Offset, trace.ErrLabelLength, "label length must be 1..8")
		return "", 0, false
	}

	closeTok, err := p.next()
	p.lex.SetMode(lexer.ModeLiteral)
	if err != nil {
		p.errorFromLex(err)
		return "", 0, false
	}
	if closeTok.Type != lexer.RANGLE {
		if closeTok.Type == lexer.EOF {
			p.errAt(langle.Offset, trace.ErrUnclosedAngle, "unclosed '<$...'")
		} else {
			p.errAt(closeTok.Offset, trace.ErrStrayAngleClose, "expected '>' to close declaration")
		}
		return "", 0, false
	}
	return labelTok.Value, labelTok.Offset, true
}

// --- references --------------------------------------------------------

func (p *parser) parseAngleReference() (*ast.Block, bool) {
	langle, err := p.next()
	if err != nil {
		p.errorFromLex(err)
		return nil, false
	}
	p.lex.SetMode(lexer.ModeAngle)

	selTok, err := p.next()
	if err != nil {
		p.lex.SetMode(lexer.ModeLiteral)
		p.errorFromLex(err)
		return nil, false
	}

	var mode ast.Mode
	switch selTok.Type {
	case lexer.AT:
		mode = ast.ModePaste
	case lexer.HASH:
		mode = ast.ModeLength
	case lexer.PERCENT:
		mode = ast.ModeShuffle
	default:
		p.lex.SetMode(lexer.ModeLiteral)
		p.errAt(selTok.Offset, trace.ErrInvalidEscape, "expected '@', '#', or '%' after '<'")
		return nil, false
	}

	labelTok, err := p.next()
	if err != nil {
		p.lex.SetMode(lexer.ModeLiteral)
		p.errorFromLex(err)
		return nil, false
	}
	if labelTok.Type != lexer.LABEL {
		p.lex.SetMode(lexer.ModeLiteral)
		p.errAt(labelTok.Offset, trace.ErrLabelLength, "expected a label after '<@', '<#', or '<%'")
		return nil, false
	}
	if len(labelTok.Value) < 1 || len(labelTok.Value) > 8 {
		p.lex.SetMode(lexer.ModeLiteral)
		p.errAt(labelTok.Offset, trace.ErrLabelLength, "label length must be 1..8")
		return nil, false
	}

	lenOpts := ast.LenOpts{Kind: ast.LenDecimal}
	if mode == ast.ModeLength {
		opts, ok := p.parseLenOpts()
		if !ok {
			p.lex.SetMode(lexer.ModeLiteral)
			return nil, false
		}
		lenOpts = opts
	}

	closeTok, err := p.next()
	p.lex.SetMode(lexer.ModeLiteral)
	if err != nil {
		p.errorFromLex(err)
		return nil, false
	}
	if closeTok.Type != lexer.RANGLE {
		if closeTok.Type == lexer.EOF {
			p.errAt(langle.Offset, trace.ErrUnclosedAngle, "unclosed '<'")
		} else {
			p.errAt(closeTok.Offset, trace.ErrStrayAngleClose, "expected '>'")
		}
		return nil, false
	}

	rep, ok := p.maybeParseRepetitionSuffix()
	if !ok {
		return nil, false
	}

	p.pendingRefs = append(p.pendingRefs, pendingReference{label: labelTok.Value, offset: labelTok.Offset})

	return &ast.Block{
		Kind:    ast.KindReference,
		Count:   rep,
		Label:   labelTok.Value,
		Hash:    ast.DJB2(labelTok.Value),
		Mode:    mode,
		LenOpts: lenOpts,
	}, true
}

// parseLenOpts reads the optional `:kind[:width[:[+-]add]]` suffix of a
// `<#LABEL...>` length reference. The lexer must already be in ModeAngle.
func (p *parser) parseLenOpts() (ast.LenOpts, bool) {
	opts := ast.LenOpts{Kind: ast.LenDecimal}

	tok, err := p.peek()
	if err != nil {
		p.errorFromLex(err)
		return opts, false
	}
	if tok.Type != lexer.COLON {
		return opts, true
	}
	p.next()

	kindTok, err := p.next()
	if err != nil {
		p.errorFromLex(err)
		return opts, false
	}
	kind, ok := lenKindFromToken(kindTok)
	if !ok {
		p.errAt(kindTok.Offset, trace.ErrBadRepetition, fmt.Sprintf("unknown length-reference format %q", kindTok.Value))
		return opts, false
	}
	opts.Kind = kind

	field := 0 // 0 = width not yet seen, 1 = add not yet seen
	for {
		tok, err := p.peek()
		if err != nil {
			p.errorFromLex(err)
			return opts, false
		}
		if tok.Type != lexer.COLON {
			break
		}
		p.next()

		if field == 0 {
			field = 1
			wTok, err := p.peek()
			if err != nil {
				p.errorFromLex(err)
				return opts, false
			}
			if wTok.Type != lexer.DIGITS {
				continue
			}
			p.next()
			w, convErr := strconv.Atoi(wTok.Value)
			if convErr != nil {
				p.errAt(wTok.Offset, trace.ErrBadRepetition, "malformed length-reference width")
				return opts, false
			}
			opts.Width = w
			continue
		}

		sign := int64(1)
		signTok, err := p.peek()
		if err != nil {
			p.errorFromLex(err)
			return opts, false
		}
		if signTok.Type == lexer.PLUS {
			p.next()
		} else if signTok.Type == lexer.DASH {
			p.next()
			sign = -1
		}
		addTok, err := p.next()
		if err != nil {
			p.errorFromLex(err)
			return opts, false
		}
		if addTok.Type != lexer.DIGITS {
			p.errAt(addTok.Offset, trace.ErrBadRepetition, "malformed length-reference offset")
			return opts, false
		}
		add, convErr := strconv.ParseInt(addTok.Value, 10, 64)
		if convErr != nil {
			p.errAt(addTok.Offset, trace.ErrBadRepetition, "length-reference offset out of range")
			return opts, false
		}
		opts.Add = sign * add
		break
	}

	return opts, true
}

func lenKindFromToken(tok lexer.Token) (ast.LenKind, bool) {
	if tok.Type == lexer.LABEL && tok.Value == "H" {
		return ast.LenHexUpper, true
	}
	if tok.Type != lexer.KINDCODE {
		return 0, false
	}
	switch tok.Value {
	case "rl":
		return ast.LenRawLittle, true
	case "rb":
		return ast.LenRawBig, true
	case "b":
		return ast.LenBinary, true
	case "d":
		return ast.LenDecimal, true
	case "h":
		return ast.LenHex, true
	case "o":
		return ast.LenOctal, true
	default:
		return 0, false
	}
}

// --- repetition suffix -------------------------------------------------

func (p *parser) maybeParseRepetitionSuffix() (ast.Repetition, bool) {
	tok, err := p.peek()
	if err != nil {
		p.errorFromLex(err)
		return ast.Repetition{}, false
	}
	if tok.Type != lexer.LBRACE {
		return ast.Once, true
	}
	return p.parseRepetitionSuffix()
}

// parseRepetitionSuffix parses `{N}` or `{N,M}` (either bound may be
// omitted in the comma form). A bound is only treated as "given" when it
// appears literally in the text: `{0,0}` is the deterministic nullify form
// (both bounds explicit and equal), while `{,0}` defaults its low bound to
// 0 and must still satisfy low < high, so it is rejected.
func (p *parser) parseRepetitionSuffix() (ast.Repetition, bool) {
	lbrace, err := p.next()
	if err != nil {
		p.errorFromLex(err)
		return ast.Repetition{}, false
	}
	p.lex.SetMode(lexer.ModeRepetition)
	defer p.lex.SetMode(lexer.ModeLiteral)

	var lowText, highText string
	haveComma := false

	tok, err := p.next()
	if err != nil {
		p.errorFromLex(err)
		return ast.Repetition{}, false
	}
	if tok.Type == lexer.DIGITS {
		lowText = tok.Value
		tok, err = p.next()
		if err != nil {
			p.errorFromLex(err)
			return ast.Repetition{}, false
		}
	}
	if tok.Type == lexer.COMMA {
		haveComma = true
		tok, err = p.next()
		if err != nil {
			p.errorFromLex(err)
			return ast.Repetition{}, false
		}
		if tok.Type == lexer.DIGITS {
			highText = tok.Value
			tok, err = p.next()
			if err != nil {
				p.errorFromLex(err)
				return ast.Repetition{}, false
			}
		}
	}
	if tok.Type != lexer.RBRACE {
		if tok.Type == lexer.EOF {
			p.errAt(lbrace.Offset, trace.ErrUnclosedBrace, "unclosed '{'")
		} else {
			p.errAt(tok.Offset, trace.ErrBadRepetition, "malformed repetition")
		}
		return ast.Repetition{}, false
	}

	if !haveComma {
		if lowText == "" {
			p.errAt(lbrace.Offset, trace.ErrBadRepetition, "empty repetition")
			return ast.Repetition{}, false
		}
		n, ok := parseU16(lowText)
		if !ok {
			p.errAt(lbrace.Offset, trace.ErrBadRepetition, "repetition value out of range")
			return ast.Repetition{}, false
		}
		return ast.Repetition{Single: true, Base: n}, true
	}

	if lowText == "" && highText == "" {
		p.errAt(lbrace.Offset, trace.ErrBadRepetition, "comma alone is not a valid repetition")
		return ast.Repetition{}, false
	}

	lowGiven := lowText != ""
	highGiven := highText != ""

	var base uint16
	if lowGiven {
		n, ok := parseU16(lowText)
		if !ok {
			p.errAt(lbrace.Offset, trace.ErrBadRepetition, "repetition low value out of range")
			return ast.Repetition{}, false
		}
		base = n
	}
	high := uint16(65535)
	if highGiven {
		n, ok := parseU16(highText)
		if !ok {
			p.errAt(lbrace.Offset, trace.ErrBadRepetition, "repetition high value out of range")
			return ast.Repetition{}, false
		}
		high = n
	}

	if lowGiven && highGiven && base == 0 && high == 0 {
		return ast.Repetition{Single: false, Base: 0, High: 0}, true
	}
	if base >= high {
		p.errAt(lbrace.Offset, trace.ErrBadRepetition, "repetition low must be less than high")
		return ast.Repetition{}, false
	}
	return ast.Repetition{Single: false, Base: base, High: high}, true
}
