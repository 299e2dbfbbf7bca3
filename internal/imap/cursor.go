package imap

// maxListNesting is the cap on parenthesized list depth (§4.3).
const maxListNesting = 25

// cursor walks a decoded response payload, handing out literal byte slices
// in the order their {N}/~{N} markers appear in the text.
type cursor struct {
	s        string
	pos      int
	literals [][]byte
	litIdx   int
	depth    int
}

func newCursor(s string, literals [][]byte) *cursor {
	return &cursor{s: s, literals: literals}
}

func (c *cursor) eof() bool { return c.pos >= len(c.s) }

func (c *cursor) peek() byte {
	if c.eof() {
		return 0
	}
	return c.s[c.pos]
}

func (c *cursor) peekAt(offset int) byte {
	if c.pos+offset >= len(c.s) {
		return 0
	}
	return c.s[c.pos+offset]
}

func (c *cursor) advance() byte {
	b := c.s[c.pos]
	c.pos++
	return b
}

func (c *cursor) skipSpaces() {
	for !c.eof() && c.peek() == ' ' {
		c.pos++
	}
}

func (c *cursor) errAt(code string) *ParserError {
	var chr byte
	if !c.eof() {
		chr = c.peek()
	}
	return &ParserError{Code: code, Input: c.s, Pos: c.pos, Chr: chr}
}

// nextLiteral returns the next pre-extracted literal payload in order, or
// an error if the framer did not supply one (malformed frame).
func (c *cursor) nextLiteral() ([]byte, error) {
	if c.litIdx >= len(c.literals) {
		return nil, c.errAt("ParserErrorLiteralMissing")
	}
	v := c.literals[c.litIdx]
	c.litIdx++
	return v, nil
}
