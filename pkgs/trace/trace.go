// Package trace implements the bounded, ordered diagnostic facility the
// compiler uses to report syntax errors without panicking or allocating an
// unbounded error list for pathological input.
package trace

import (
	"fmt"
	"io"
)

// MaxFragments bounds how many diagnostics a single Trace retains. Further
// Add calls past this bound are silently dropped — a schema with hundreds
// of errors gets the same treatment as one with a handful; the caller only
// needs enough context to fix the first problem.
const MaxFragments = 16

// MaxFragmentText bounds the length of a single fragment's free-text
// message, truncated (not rejected) if exceeded.
const MaxFragmentText = 512

// Code enumerates the kinds of condition a Trace fragment can describe.
type Code int

const (
	ErrInvalidEscape Code = iota
	ErrUnclosedAngle
	ErrUnclosedBracket
	ErrUnclosedBrace
	ErrUnclosedParen
	ErrStrayAngleClose
	ErrStrayBracketClose
	ErrStrayBraceClose
	ErrStrayParenClose
	ErrBadRepetition
	ErrEmptyRange
	ErrInvalidRange
	ErrOverlappingFragments
	ErrRangeOutOfBounds
	ErrDanglingRepetition
	ErrTooMuchNesting
	ErrLabelLength
	ErrLabelRedeclared
	ErrUndeclaredReference
	ErrTooManySubcontexts
	ErrTooManyAlternationArms
	ErrTooManyFragments
	ErrSchemaTooLarge
	ErrEmptyAlternationArm
	ErrMissingDeclaration
)

var codeNames = [...]string{
	ErrInvalidEscape:          "InvalidEscape",
	ErrUnclosedAngle:          "UnclosedAngle",
	ErrUnclosedBracket:        "UnclosedBracket",
	ErrUnclosedBrace:          "UnclosedBrace",
	ErrUnclosedParen:          "UnclosedParen",
	ErrStrayAngleClose:        "StrayAngleClose",
	ErrStrayBracketClose:      "StrayBracketClose",
	ErrStrayBraceClose:        "StrayBraceClose",
	ErrStrayParenClose:        "StrayParenClose",
	ErrBadRepetition:          "BadRepetition",
	ErrEmptyRange:             "EmptyRange",
	ErrInvalidRange:           "InvalidRange",
	ErrOverlappingFragments:   "OverlappingFragments",
	ErrRangeOutOfBounds:       "RangeOutOfBounds",
	ErrDanglingRepetition:     "DanglingRepetition",
	ErrTooMuchNesting:         "TooMuchNesting",
	ErrLabelLength:            "LabelLength",
	ErrLabelRedeclared:        "LabelRedeclared",
	ErrUndeclaredReference:    "UndeclaredReference",
	ErrTooManySubcontexts:     "TooManySubcontexts",
	ErrTooManyAlternationArms: "TooManyAlternationArms",
	ErrTooManyFragments:       "TooManyFragments",
	ErrSchemaTooLarge:         "SchemaTooLarge",
	ErrEmptyAlternationArm:    "EmptyAlternationArm",
	ErrMissingDeclaration:     "MissingDeclaration",
}

func (c Code) String() string {
	if int(c) >= 0 && int(c) < len(codeNames) {
		return codeNames[c]
	}
	return fmt.Sprintf("Code(%d)", int(c))
}

// Fragment is a single diagnostic: the nest level and byte offset at which
// it was raised, the condition code, and a rendered human-readable message.
type Fragment struct {
	Code     Code
	Nest     int
	Offset   int
	Text     string
	Rendered string
}

// Trace is a bounded, ordered sequence of Fragments. Fragments are kept in
// push order; Print emits them most-recent-first, matching the reference
// behavior of surfacing the latest (most specific) failure first.
type Trace struct {
	fragments []Fragment
}

// New returns an empty Trace.
func New() *Trace {
	return &Trace{fragments: make([]Fragment, 0, 4)}
}

// Add appends a diagnostic fragment. Calls past MaxFragments are dropped;
// text longer than MaxFragmentText is truncated.
func (t *Trace) Add(nest, offset int, code Code, text string) {
	if len(t.fragments) >= MaxFragments {
		return
	}
	if len(text) > MaxFragmentText {
		text = text[:MaxFragmentText]
	}
	rendered := fmt.Sprintf("[Err %d] [Nest %d] [Index %d] %s", int(code), nest, offset, text)
	t.fragments = append(t.fragments, Fragment{
		Code:     code,
		Nest:     nest,
		Offset:   offset,
		Text:     text,
		Rendered: rendered,
	})
}

// IsEmpty reports whether no fragments have been recorded.
func (t *Trace) IsEmpty() bool {
	return len(t.fragments) == 0
}

// Fragments returns the recorded fragments in push order.
func (t *Trace) Fragments() []Fragment {
	return t.fragments
}

// Print writes every fragment to sink, most-recent first.
func (t *Trace) Print(sink io.Writer) {
	for i := len(t.fragments) - 1; i >= 0; i-- {
		fmt.Fprintln(sink, t.fragments[i].Rendered)
	}
}

// Clear discards all recorded fragments, readying the Trace for reuse.
func (t *Trace) Clear() {
	t.fragments = t.fragments[:0]
}
