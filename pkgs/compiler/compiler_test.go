package compiler

import (
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/NotsoanoNimus/nanofuzz/pkgs/ast"
	"github.com/NotsoanoNimus/nanofuzz/pkgs/trace"
)

func kinds(blocks []ast.Block) []ast.Kind {
	out := make([]ast.Kind, len(blocks))
	for i, b := range blocks {
		out[i] = b.Kind
	}
	return out
}

func TestLiteralSequence(t *testing.T) {
	f, tr := Compile([]byte("abc"))
	require.True(t, tr.IsEmpty())
	require.Len(t, f.Instructions, 2)
	assert.Equal(t, ast.KindString, f.Instructions[0].Kind)
	assert.Equal(t, []byte("abc"), f.Instructions[0].Bytes)
	assert.Equal(t, ast.Once, f.Instructions[0].Count)
	assert.Equal(t, ast.KindEnd, f.Instructions[1].Kind)
}

func TestCharClassWithRepetition(t *testing.T) {
	f, tr := Compile([]byte("[A-Za-z0-9]{10}"))
	require.True(t, tr.IsEmpty())
	require.Len(t, f.Instructions, 2)
	blk := f.Instructions[0]
	assert.Equal(t, ast.KindRange, blk.Kind)
	assert.Equal(t, ast.Repetition{Single: true, Base: 10}, blk.Count)
	assert.NotEmpty(t, blk.Fragments)
}

func TestEscapeSequenceResolution(t *testing.T) {
	f, tr := Compile([]byte(`\r\n\x37\f\s`))
	require.True(t, tr.IsEmpty())
	require.Len(t, f.Instructions, 2)
	assert.Equal(t, []byte{0x0D, 0x0A, 0x37, 0x0C, 0x20}, f.Instructions[0].Bytes)
}

func TestAlternation(t *testing.T) {
	f, tr := Compile([]byte("a|b|c"))
	require.True(t, tr.IsEmpty())
	require.NotEmpty(t, f.Instructions)
	root := f.Instructions[0]
	assert.Equal(t, ast.KindBranchRoot, root.Kind)
	assert.Equal(t, 3, root.Amount)
	assert.Len(t, root.Steps, 3)
}

func TestGroupWithCountRepeats(t *testing.T) {
	f, tr := Compile([]byte("(ab){2}"))
	require.True(t, tr.IsEmpty())
	require.Len(t, f.Instructions, 4) // Sub, String, Ret, End
	assert.Equal(t, ast.KindSub, f.Instructions[0].Kind)
	assert.Equal(t, ast.Repetition{Single: true, Base: 2}, f.Instructions[0].Count)
	assert.Equal(t, ast.KindString, f.Instructions[1].Kind)
	assert.Equal(t, ast.KindRet, f.Instructions[2].Kind)
	assert.Equal(t, 1, f.Instructions[2].BackCount)
	assert.Equal(t, ast.KindEnd, f.Instructions[3].Kind)
}

func TestNullifyingGroupIsAccepted(t *testing.T) {
	f, tr := Compile([]byte("(ab){0,0}cd"))
	require.True(t, tr.IsEmpty())
	assert.Equal(t, ast.KindSub, f.Instructions[0].Kind)
	assert.Equal(t, ast.Repetition{Single: false, Base: 0, High: 0}, f.Instructions[0].Count)
	// Trailing literal after the nullified group still compiles.
	var sawCD bool
	for _, blk := range f.Instructions {
		if blk.Kind == ast.KindString && string(blk.Bytes) == "cd" {
			sawCD = true
		}
	}
	assert.True(t, sawCD)
}

func TestNestedGroups(t *testing.T) {
	f, tr := Compile([]byte("(a(b){2}c){2}"))
	require.True(t, tr.IsEmpty())
	var subCount int
	for _, blk := range f.Instructions {
		if blk.Kind == ast.KindSub {
			subCount++
		}
	}
	assert.Equal(t, 2, subCount)
}

func TestGroupWithAlternationArmProducesExpectedInstructionShape(t *testing.T) {
	f, tr := Compile([]byte("(a|b){3}"))
	require.True(t, tr.IsEmpty())

	want := []ast.Kind{
		ast.KindSub,
		ast.KindBranchRoot, ast.KindString, ast.KindBranchJmp,
		ast.KindString, ast.KindBranchJmp,
		ast.KindRet,
		ast.KindEnd,
	}
	if diff := cmp.Diff(want, kinds(f.Instructions)); diff != "" {
		t.Errorf("instruction kind sequence mismatch (-want +got):\n%s", diff)
	}
}

func TestLabelDeclarationAndPasteReference(t *testing.T) {
	f, tr := Compile([]byte("(abc)<$X>d<@X>"))
	require.True(t, tr.IsEmpty())
	require.Contains(t, f.Subcontexts, "X")
	assert.Equal(t, "X", f.Subcontexts["X"].Label)

	var sawReference bool
	for _, blk := range f.Instructions {
		if blk.Kind == ast.KindReference {
			sawReference = true
			assert.Equal(t, "X", blk.Label)
			assert.Equal(t, ast.ModePaste, blk.Mode)
		}
	}
	assert.True(t, sawReference)
}

func TestDeadSchema_DefaultedLowEqualsExplicitHighRejected(t *testing.T) {
	_, tr := Compile([]byte("a{,0}bcd"))
	require.False(t, tr.IsEmpty())
	assert.Equal(t, trace.ErrBadRepetition, tr.Fragments()[0].Code)
}

func TestDeadSchema_UnclosedParen(t *testing.T) {
	_, tr := Compile([]byte("(ab"))
	require.False(t, tr.IsEmpty())
	assert.Equal(t, trace.ErrUnclosedParen, tr.Fragments()[0].Code)
}

func TestDeadSchema_StrayParenClose(t *testing.T) {
	_, tr := Compile([]byte("a)bcd"))
	require.False(t, tr.IsEmpty())
	assert.Equal(t, trace.ErrStrayParenClose, tr.Fragments()[0].Code)
}

func TestDeadSchema_InvalidCharClassRange(t *testing.T) {
	_, tr := Compile([]byte("[z-a]"))
	require.False(t, tr.IsEmpty())
	assert.Equal(t, trace.ErrInvalidRange, tr.Fragments()[0].Code)
}

func TestDeadSchema_UnclosedBrace(t *testing.T) {
	_, tr := Compile([]byte("a{5"))
	require.False(t, tr.IsEmpty())
	assert.Equal(t, trace.ErrUnclosedBrace, tr.Fragments()[0].Code)
}

func TestDeadSchema_UndeclaredReference(t *testing.T) {
	_, tr := Compile([]byte("<@ZZZ>"))
	require.False(t, tr.IsEmpty())
	assert.Equal(t, trace.ErrUndeclaredReference, tr.Fragments()[0].Code)
}

func TestDeadSchema_TooMuchNesting(t *testing.T) {
	_, tr := Compile([]byte("(((((( a ))))))"))
	require.False(t, tr.IsEmpty())
	assert.Equal(t, trace.ErrTooMuchNesting, tr.Fragments()[0].Code)
}

func TestDeadSchema_EmptyAlternationArm(t *testing.T) {
	_, tr := Compile([]byte("a||b"))
	require.False(t, tr.IsEmpty())
	assert.Equal(t, trace.ErrEmptyAlternationArm, tr.Fragments()[0].Code)
}

func TestDeadSchema_SchemaTooLarge(t *testing.T) {
	big := make([]byte, MaxSchemaBytes+1)
	for i := range big {
		big[i] = 'a'
	}
	_, tr := Compile(big)
	require.False(t, tr.IsEmpty())
	assert.Equal(t, trace.ErrSchemaTooLarge, tr.Fragments()[0].Code)
}

func TestLabelRedeclarationRejected(t *testing.T) {
	_, tr := Compile([]byte("(a)<$X>(b)<$X>"))
	require.False(t, tr.IsEmpty())
	assert.Equal(t, trace.ErrLabelRedeclared, tr.Fragments()[0].Code)
}

func TestUndeclaredReferenceSuggestsClosestLabel(t *testing.T) {
	_, tr := Compile([]byte("(abc)<$FOOO>d<@FOO>"))
	require.False(t, tr.IsEmpty())
	assert.Contains(t, tr.Fragments()[0].Text, "FOOO")
}
