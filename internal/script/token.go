package script

import "fmt"

// Kind enumerates NKSP lexical token kinds.
type Kind int

const (
	EOF Kind = iota
	Ident
	IntLit
	StringLit
	IntVar    // $name
	StringVar // @name
	ArrayVar  // %name

	On
	End
	Declare
	Polyphonic
	Const
	If
	Else
	Select
	Case
	To
	While
	Sync
	Call

	Assign // :=
	Plus
	Minus
	Star
	Slash
	Mod
	And
	Or
	Not
	BitAnd
	BitOr
	BitNot
	ShL
	ShR
	Concat // &
	Lt
	Gt
	Le
	Ge
	Eq
	Ne

	LParen
	RParen
	LBracket
	RBracket
	Comma
)

var keywords = map[string]Kind{
	"on":         On,
	"end":        End,
	"declare":    Declare,
	"polyphonic": Polyphonic,
	"const":      Const,
	"if":         If,
	"else":       Else,
	"select":     Select,
	"case":       Case,
	"to":         To,
	"while":      While,
	"sync":       Sync,
	"call":       Call,
	"and":        And,
	"or":         Or,
	"not":        Not,
	"mod":        Mod,
	"band":       BitAnd,
	"bor":        BitOr,
	"bnot":       BitNot,
}

// Pos is a line/column span used for parser issues.
type Pos struct {
	Line, Col int
}

func (p Pos) String() string { return fmt.Sprintf("%d:%d", p.Line, p.Col) }

// Token is one lexical unit with its source position.
type Token struct {
	Kind  Kind
	Text  string
	Int   int32
	Start Pos
	End   Pos
}
