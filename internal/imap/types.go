// Package imap implements the wire-level core of an IMAP4rev1 client: the
// line/literal framer, the grammar-level token parser, the response parser,
// and the command compiler. It has no knowledge of sockets, TLS, or mailbox
// state — those live in internal/client and internal/mailbox.
package imap

// Node is one element of a parsed IMAP attribute tree (§3 of the design).
// A Section or Partial never appears as a standalone sibling; they are only
// ever attached to the Atom that owns them.
type Node interface {
	node()
}

// NilNode is the IMAP NIL literal.
type NilNode struct{}

func (NilNode) node() {}

// Null is the singleton NIL node value.
var Null Node = NilNode{}

// Atom is a bare IMAP atom, a system flag (leading backslash), or a
// wildcard pattern. Value is "" when the atom exists only to carry a
// Section (the synthesized owner of a response code after OK/NO/BAD/BYE/
// PREAUTH).
type Atom struct {
	Value   string
	Section []Node // nil unless this atom is followed by [...]
	Partial []uint32
}

func (*Atom) node() {}

// HasSection reports whether a is the owner of a bracketed section.
func (a *Atom) HasSection() bool { return a.Section != nil }

// String is a quoted IMAP string.
type String struct {
	Value     []byte
	Sensitive bool
}

func (*String) node() {}

// LiteralType distinguishes a synchronizing/non-synchronizing {N} literal
// from a binary ~{N} literal8.
type LiteralType int

const (
	LiteralPlain LiteralType = iota
	LiteralBinary
)

// Literal is an IMAP literal: {N}CRLF<N bytes> or ~{N}CRLF<N bytes>.
type Literal struct {
	Value       []byte
	Type        LiteralType
	LiteralPlus bool
	Sensitive   bool
}

func (*Literal) node() {}

// Number is an unsigned IMAP number (nz-number or number).
type Number struct {
	Value uint64
}

func (*Number) node() {}

// Sequence is a syntactic sequence-set, e.g. "1:*,3,5:7". It is never
// expanded by the parser; expansion is a caller concern (§4.11).
type Sequence struct {
	Value string
}

func (*Sequence) node() {}

// Text is the human-readable tail of an OK/NO/BAD/BYE/PREAUTH response,
// the part after the optional bracketed response code.
type Text struct {
	Value string
}

func (*Text) node() {}

// List is a parenthesized list of sibling nodes.
type List struct {
	Items []Node
}

func (*List) node() {}
