// Package ast defines the flat instruction representation the compiler
// produces and the generator executes: a single tagged Block type rather
// than a tree of node interfaces, because the generator's hot path walks
// a []Block by index and must never touch the heap on a type switch.
package ast

import "fmt"

// Kind tags which variant of Block a given instruction is.
type Kind int

const (
	KindString Kind = iota
	KindRange
	KindSub
	KindRet
	KindReference
	KindBranchRoot
	KindBranchJmp
	KindEnd
)

var kindNames = [...]string{
	KindString:     "String",
	KindRange:      "Range",
	KindSub:        "Sub",
	KindRet:        "Ret",
	KindReference:  "Reference",
	KindBranchRoot: "BranchRoot",
	KindBranchJmp:  "BranchJmp",
	KindEnd:        "End",
}

func (k Kind) String() string {
	if int(k) >= 0 && int(k) < len(kindNames) {
		return kindNames[k]
	}
	return fmt.Sprintf("Kind(%d)", int(k))
}

// Repetition is the `{N}` / `{N,M}` suffix attached to a Block. When Single
// is set, a block emits exactly Base times; otherwise a count is drawn
// uniformly from [Base, High].
type Repetition struct {
	Single bool
	Base   uint16
	High   uint16
}

// Once is the implicit repetition of a block with no `{...}` suffix.
var Once = Repetition{Single: true, Base: 1}

// RangeFragment is one inclusive byte span within a character class.
type RangeFragment struct {
	Base byte
	High byte
}

// Mode selects the semantics of a Reference block.
type Mode int

const (
	ModePaste Mode = iota
	ModeLength
	ModeShuffle
)

func (m Mode) String() string {
	switch m {
	case ModePaste:
		return "Paste"
	case ModeLength:
		return "Length"
	case ModeShuffle:
		return "Shuffle"
	default:
		return fmt.Sprintf("Mode(%d)", int(m))
	}
}

// LenKind selects how a Length reference formats the referenced
// subcontext's most-recent byte length.
type LenKind int

const (
	LenRawLittle LenKind = iota
	LenRawBig
	LenBinary
	LenDecimal
	LenHex
	LenHexUpper
	LenOctal
)

func (k LenKind) String() string {
	switch k {
	case LenRawLittle:
		return "RawLittle"
	case LenRawBig:
		return "RawBig"
	case LenBinary:
		return "Binary"
	case LenDecimal:
		return "Decimal"
	case LenHex:
		return "Hexadecimal"
	case LenHexUpper:
		return "HexUpper"
	case LenOctal:
		return "Octal"
	default:
		return fmt.Sprintf("LenKind(%d)", int(k))
	}
}

// IsRaw reports whether this LenKind formats as a fixed-width binary
// integer rather than as text.
func (k LenKind) IsRaw() bool {
	return k == LenRawLittle || k == LenRawBig
}

// LenOpts carries the formatting rules for a Length ('<#LABEL>') reference.
type LenOpts struct {
	Kind  LenKind
	Width int   // byte width for Raw*, zero-pad character width otherwise
	Add   int64 // signed offset applied to the referenced length before formatting
}

// Block is one instruction in a compiled Factory's flat instruction stream.
// Exactly one Kind-specific payload group is meaningful for a given Kind;
// the others are zero-valued.
type Block struct {
	Kind  Kind
	Count Repetition

	// KindString
	Bytes []byte

	// KindRange
	Fragments []RangeFragment

	// KindSub / KindRet
	NestTag   int // KindSub: index identifying this group, matched by its Ret
	BackCount int // KindRet: instructions to jump back while iterating

	// KindReference
	Label   string
	Hash    uint32
	Mode    Mode
	LenOpts LenOpts

	// KindBranchRoot
	Steps  []int
	Amount int

	// KindBranchJmp
	Delta int
}

// String renders a Block in a debug-friendly, non-normative form.
func (b Block) String() string {
	switch b.Kind {
	case KindString:
		return fmt.Sprintf("String(%q) x%s", b.Bytes, b.Count)
	case KindRange:
		return fmt.Sprintf("Range(%d frags) x%s", len(b.Fragments), b.Count)
	case KindSub:
		return fmt.Sprintf("Sub(tag=%d) x%s", b.NestTag, b.Count)
	case KindRet:
		return fmt.Sprintf("Ret(back=%d)", b.BackCount)
	case KindReference:
		return fmt.Sprintf("Reference(%s, %s) x%s", b.Label, b.Mode, b.Count)
	case KindBranchRoot:
		return fmt.Sprintf("BranchRoot(%d arms)", b.Amount)
	case KindBranchJmp:
		return fmt.Sprintf("BranchJmp(%d)", b.Delta)
	case KindEnd:
		return "End"
	default:
		return b.Kind.String()
	}
}

func (r Repetition) String() string {
	if r.Single {
		return fmt.Sprintf("{%d}", r.Base)
	}
	return fmt.Sprintf("{%d,%d}", r.Base, r.High)
}

// DJB2 computes the classic Bernstein hash of label, used as the compiled
// identity of a subcontext name alongside its string form.
func DJB2(label string) uint32 {
	var h uint32 = 5381
	for i := 0; i < len(label); i++ {
		h = h*33 + uint32(label[i])
	}
	return h
}
