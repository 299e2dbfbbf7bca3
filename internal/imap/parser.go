package imap

import (
	"strconv"
	"strings"
)

// ParseAttributes parses a complete attribute list from a frame payload
// together with its pre-extracted literals, returning the flat list of
// top-level nodes (§3, §4.3). The literals must be supplied in the same
// order their {N}/~{N} markers appear in payload; the framer already
// guarantees this.
func ParseAttributes(payload []byte, literals [][]byte) ([]Node, error) {
	c := newCursor(string(payload), literals)
	nodes, err := parseAttrList(c, 0)
	if err != nil {
		return nil, err
	}
	return nodes, nil
}

// parseAttrList parses sibling attributes separated by single spaces, up to
// and including the given closer byte (')' for a list, ']' for a section).
// closer == 0 means run to end of input, used at the top level of a
// response.
func parseAttrList(c *cursor, closer byte) ([]Node, error) {
	var nodes []Node
	for {
		c.skipSpaces()
		if c.eof() {
			if closer != 0 {
				return nil, c.errAt("ParserErrorUnterminatedList")
			}
			return nodes, nil
		}
		if c.peek() == closer {
			c.advance()
			return nodes, nil
		}

		node, err := parseOneAttr(c)
		if err != nil {
			return nil, err
		}
		nodes = append(nodes, node)

		// A section/partial may trail directly onto the atom we just
		// produced with no separating space.
		if atom, ok := node.(*Atom); ok {
			if err := maybeAttachSectionAndPartial(c, atom); err != nil {
				return nil, err
			}
		}
	}
}

func parseOneAttr(c *cursor) (Node, error) {
	b := c.peek()
	switch {
	case b == '(':
		c.advance()
		c.depth++
		if c.depth > maxListNesting {
			return nil, &MaxNestingError{Input: c.s}
		}
		items, err := parseAttrList(c, ')')
		c.depth--
		if err != nil {
			return nil, err
		}
		return &List{Items: items}, nil

	case b == '"':
		return parseQuotedString(c)

	case b == '{':
		return parseLiteralNode(c, false)

	case b == '~' && c.peekAt(1) == '{':
		c.advance() // consume '~'
		return parseLiteralNode(c, true)

	case b == ')':
		return nil, c.errAt("ParserErrorUnexpectedParen")

	case b == ']':
		return nil, c.errAt("ParserErrorUnexpectedBracket")

	default:
		return parseAtomOrNumber(c)
	}
}

func parseQuotedString(c *cursor) (Node, error) {
	c.advance() // opening quote
	var buf []byte
	for {
		if c.eof() {
			return nil, c.errAt("ParserErrorUnterminatedString")
		}
		b := c.advance()
		switch b {
		case '"':
			return &String{Value: buf}, nil
		case '\\':
			if c.eof() {
				return nil, c.errAt("ParserErrorUnterminatedString")
			}
			buf = append(buf, c.advance())
		default:
			buf = append(buf, b)
		}
	}
}

// parseLiteralNode parses a {N}[+] or (with binary=true, the leading '~'
// already consumed) {N}[+] marker and consumes the matching pre-extracted
// literal. The marker must be followed immediately by LF or CRLF.
func parseLiteralNode(c *cursor, binary bool) (Node, error) {
	c.advance() // '{'
	start := c.pos
	for !c.eof() && c.peek() >= '0' && c.peek() <= '9' {
		c.pos++
	}
	if c.pos == start {
		return nil, c.errAt("ParserErrorBadLiteralSize")
	}
	sizeStr := c.s[start:c.pos]

	plus := false
	if c.peek() == '+' {
		plus = true
		c.advance()
	}
	if c.peek() != '}' {
		return nil, c.errAt("ParserErrorBadLiteralMarker")
	}
	c.advance()

	if c.peek() == '\r' {
		c.advance()
	}
	if c.peek() != '\n' {
		return nil, c.errAt("ParserErrorBadLiteralMarker")
	}
	c.advance()

	size, err := strconv.ParseUint(sizeStr, 10, 63)
	if err != nil {
		return nil, c.errAt("ParserErrorBadLiteralSize")
	}

	value, err := c.nextLiteral()
	if err != nil {
		return nil, err
	}
	if uint64(len(value)) != size {
		return nil, c.errAt("ParserErrorLiteralSizeMismatch")
	}

	lt := LiteralPlain
	if binary {
		lt = LiteralBinary
	}
	return &Literal{Value: value, Type: lt, LiteralPlus: plus}, nil
}

// parseAtomOrNumber scans a run of ATOM-CHAR (extended per §4.3 to accept a
// leading '\', '%' anywhere, and any 8-bit byte anywhere), classifying the
// token as a Number when it is all digits, a Sequence when a '*' appears
// anywhere in it (':'/',' /digits/'*' all extend a sequence-set token, and
// '*' alone is the valid "largest number" seq-number), or an Atom
// otherwise. Digits, ':', and ',' are all legal ATOM-CHAR, so a token like
// "1:5,7" with no '*' is a plain Atom; only the presence of '*' (excluded
// from ATOM-CHAR) forces Sequence classification. A '[' ends the token when
// what precedes it is BODY, BODY.PEEK, BINARY, or BINARY.PEEK, leaving the
// bracket for maybeAttachSectionAndPartial; elsewhere '[' is an ordinary
// ATOM-CHAR.
func parseAtomOrNumber(c *cursor) (Node, error) {
	start := c.pos
	allDigits := true
	hasStar := false

	if c.peek() == '\\' {
		c.pos++
		allDigits = false
		// `\*` is a valid atom ending on its own (e.g. the \* permanent-
		// flags wildcard in PERMANENTFLAGS).
		if c.peek() == '*' {
			c.pos++
			return &Atom{Value: c.s[start:c.pos]}, nil
		}
	}

	for !c.eof() {
		b := c.peek()
		if b == '*' {
			hasStar = true
			allDigits = false
			c.pos++
			continue
		}
		if b >= 0x80 {
			allDigits = false
			c.pos++
			continue
		}
		if b == '[' {
			head := strings.ToUpper(c.s[start:c.pos])
			if head == "BODY" || head == "BODY.PEEK" || head == "BINARY" || head == "BINARY.PEEK" {
				break
			}
		}
		if InClass(b, ClassAtomChar) || b == '%' {
			if b < '0' || b > '9' {
				allDigits = false
			}
			c.pos++
			continue
		}
		break
	}

	if c.pos == start {
		return nil, c.errAt("ParserErrorUnexpectedChar")
	}

	tok := c.s[start:c.pos]
	if hasStar {
		return &Sequence{Value: tok}, nil
	}
	if allDigits {
		n, err := strconv.ParseUint(tok, 10, 64)
		if err == nil {
			return &Number{Value: n}, nil
		}
	}
	return &Atom{Value: tok}, nil
}

// maybeAttachSectionAndPartial attaches a bracketed Section (and a
// trailing <a.b> Partial) directly onto atom with no intervening space,
// matching the BODY[...]<...> and response-code [...] grammar (§4.3).
func maybeAttachSectionAndPartial(c *cursor, atom *Atom) error {
	if c.peek() != '[' {
		return nil
	}
	section, err := parseSection(c)
	if err != nil {
		return err
	}
	atom.Section = section

	if c.peek() == '<' {
		partial, err := parsePartial(c)
		if err != nil {
			return err
		}
		atom.Partial = partial
	}
	return nil
}

// parseSection parses a bracketed [...] section, recognizing the REFERRAL
// special case where the URL is captured verbatim up to the closing ']'.
func parseSection(c *cursor) ([]Node, error) {
	c.advance() // '['
	c.skipSpaces()

	if c.peek() == ']' {
		c.advance()
		return []Node{}, nil
	}

	if isReferralHead(c) {
		start := c.pos
		for !c.eof() && c.peek() != ']' {
			c.pos++
		}
		if c.eof() {
			return nil, c.errAt("ParserErrorUnterminatedSection")
		}
		raw := c.s[start:c.pos]
		c.advance() // ']'
		return []Node{&Atom{Value: raw}}, nil
	}

	return parseAttrList(c, ']')
}

func isReferralHead(c *cursor) bool {
	const word = "REFERRAL"
	if c.pos+len(word) > len(c.s) {
		return false
	}
	if !strings.EqualFold(c.s[c.pos:c.pos+len(word)], word) {
		return false
	}
	after := c.peekAt(len(word))
	return after == ' ' || after == ']'
}

// parsePartial parses a <origin.length> byte-range. Digits and '.' only; a
// leading '0' is invalid except as the literal token "0".
func parsePartial(c *cursor) ([]uint32, error) {
	c.advance() // '<'

	a, err := readPartialNumber(c)
	if err != nil {
		return nil, err
	}
	result := []uint32{a}

	if c.peek() == '.' {
		c.advance()
		b, err := readPartialNumber(c)
		if err != nil {
			return nil, err
		}
		result = append(result, b)
	}

	if c.peek() != '>' {
		return nil, c.errAt("ParserErrorBadPartial")
	}
	c.advance()
	return result, nil
}

func readPartialNumber(c *cursor) (uint32, error) {
	start := c.pos
	for !c.eof() && c.peek() >= '0' && c.peek() <= '9' {
		c.pos++
	}
	if c.pos == start {
		return 0, c.errAt("ParserErrorBadPartial")
	}
	tok := c.s[start:c.pos]
	if len(tok) > 1 && tok[0] == '0' {
		return 0, c.errAt("ParserErrorBadPartialLeadingZero")
	}
	v, err := strconv.ParseUint(tok, 10, 32)
	if err != nil {
		return 0, c.errAt("ParserErrorBadPartial")
	}
	return uint32(v), nil
}
