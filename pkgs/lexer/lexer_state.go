package lexer

import "fmt"

// Mode selects which sub-grammar the Lexer scans with. Unlike a
// line-oriented language, the pattern schema's alphabet changes sharply
// depending on where the parser currently sits — inside a character class
// `-` and `,` are structural, everywhere else they are literal bytes — so
// the parser drives the Lexer's Mode explicitly before each Next call,
// rather than the Lexer guessing from context on its own.
type Mode int

const (
	// ModeLiteral is the default top-level mode: structural punctuation
	// (`[`, `(`, `{`, `<`, `|`) is recognized, everything else is a BYTE.
	ModeLiteral Mode = iota

	// ModeCharClass is active between `[` and the matching `]`: `,`, `-`,
	// and a leading `^` are structural, everything else is a BYTE/escape.
	ModeCharClass

	// ModeRepetition is active between `{` and `}`: only digits and a
	// single `,` are valid.
	ModeRepetition

	// ModeAngle is active between `<` and `>`: `$`, `@`, `#`, `%` select
	// the construct, followed by a LABEL.
	ModeAngle
)

func (m Mode) String() string {
	switch m {
	case ModeLiteral:
		return "Literal"
	case ModeCharClass:
		return "CharClass"
	case ModeRepetition:
		return "Repetition"
	case ModeAngle:
		return "Angle"
	default:
		return fmt.Sprintf("Mode(%d)", int(m))
	}
}
