package imap

import (
	"bytes"
	"strconv"
	"strings"
)

// ResponseMessage is one parsed server response: either untagged ("*"),
// a continuation request ("+"), or a tagged reply to a command the caller
// previously sent (§3, §4.4).
type ResponseMessage struct {
	Tag              string // "*", "+", or the original command tag
	Command          string // uppercased verb, e.g. "OK", "FETCH", "BYE"
	Attributes       []Node
	NullBytesRemoved uint32
	HumanReadable    string // populated for "+" continuations and status replies
}

// statusCommands are the responses whose payload is "[response-code] text"
// rather than a generic attribute list (§4.4, §4.6).
var statusCommands = map[string]bool{
	"OK": true, "NO": true, "BAD": true, "BYE": true, "PREAUTH": true,
}

// ParseResponse decodes one frame (payload with CRLF already stripped, plus
// its pre-extracted literal buffers) into a ResponseMessage. A frame that
// is entirely NUL bytes after stripping is treated as a synthesized
// "* BAD" so that a malformed line does not wedge the request engine
// (§4.2, §7).
func ParseResponse(payload []byte, literals [][]byte) (*ResponseMessage, error) {
	clean, removed := stripNulls(payload)
	if len(bytes.TrimSpace(clean)) == 0 && removed > 0 {
		return &ResponseMessage{Tag: "*", Command: "BAD", NullBytesRemoved: removed}, nil
	}

	c := newCursor(string(clean), literals)

	tag, err := readTagToken(c)
	if err != nil {
		return nil, err
	}
	c.skipSpaces()

	if tag == "+" {
		return &ResponseMessage{Tag: "+", HumanReadable: strings.TrimSpace(c.s[c.pos:]), NullBytesRemoved: removed}, nil
	}

	first, err := readCommandToken(c)
	if err != nil {
		return nil, err
	}
	c.skipSpaces()

	// message-data (§9) leads with an nz-number before the real verb, e.g.
	// "* 12 FETCH (...)" or "* 5 EXPUNGE" — that number becomes the first
	// attribute rather than the command name.
	var seqNum *Number
	verb := first
	if n, ok := parseAllDigits(first); ok {
		seqNum = &Number{Value: n}
		verb, err = readCommandToken(c)
		if err != nil {
			return nil, err
		}
		c.skipSpaces()
	}

	msg := &ResponseMessage{Tag: tag, Command: verb, NullBytesRemoved: removed}

	if verb == "UID" || verb == "AUTHENTICATE" {
		sub, err := readCommandToken(c)
		if err == nil {
			msg.Command = verb + " " + sub
			c.skipSpaces()
		}
	}

	if statusCommands[verb] {
		if err := parseStatusTail(c, msg); err != nil {
			return nil, err
		}
		return msg, nil
	}

	attrs, err := parseAttrList(c, 0)
	if err != nil {
		return nil, err
	}
	if seqNum != nil {
		attrs = append([]Node{seqNum}, attrs...)
	}
	msg.Attributes = attrs
	return msg, nil
}

// parseAllDigits reports whether tok is composed entirely of ASCII digits,
// returning its parsed value.
func parseAllDigits(tok string) (uint64, bool) {
	if tok == "" {
		return 0, false
	}
	for i := 0; i < len(tok); i++ {
		if tok[i] < '0' || tok[i] > '9' {
			return 0, false
		}
	}
	n, err := strconv.ParseUint(tok, 10, 64)
	if err != nil {
		return 0, false
	}
	return n, true
}

// stripNulls removes NUL bytes from payload (§4.2 "NUL-prefix recovery")
// and reports how many were removed.
func stripNulls(payload []byte) ([]byte, uint32) {
	if bytes.IndexByte(payload, 0) < 0 {
		return payload, 0
	}
	out := make([]byte, 0, len(payload))
	var removed uint32
	for _, b := range payload {
		if b == 0 {
			removed++
			continue
		}
		out = append(out, b)
	}
	return out, removed
}

// readTagToken reads "*", "+", or a tag atom up to the next space.
func readTagToken(c *cursor) (string, error) {
	if c.eof() {
		return "", c.errAt("ParserErrorMissingTag")
	}
	if c.peek() == '*' || c.peek() == '+' {
		return string(c.advance()), nil
	}
	start := c.pos
	for !c.eof() && InClass(c.peek(), ClassTagChar) {
		c.pos++
	}
	if c.pos == start {
		return "", c.errAt("ParserErrorMissingTag")
	}
	return c.s[start:c.pos], nil
}

// readCommandToken reads an alphabetic/digit/hyphen command word and
// upcases it, matching the "command" rule (§9).
func readCommandToken(c *cursor) (string, error) {
	start := c.pos
	for !c.eof() && InClass(c.peek(), ClassCommandChar) {
		c.pos++
	}
	if c.pos == start {
		return "", c.errAt("ParserErrorMissingVerb")
	}
	return strings.ToUpper(c.s[start:c.pos]), nil
}

// parseStatusTail parses the remainder of an OK/NO/BAD/BYE/PREAUTH
// response: an optional bracketed response code followed by
// human-readable text (§4.4, §7 response codes).
func parseStatusTail(c *cursor, msg *ResponseMessage) error {
	if c.peek() == '[' {
		owner := &Atom{}
		section, err := parseSection(c)
		if err != nil {
			return err
		}
		owner.Section = section
		msg.Attributes = []Node{owner}
		c.skipSpaces()
	}
	text := strings.TrimRight(c.s[c.pos:], " ")
	msg.HumanReadable = text
	if text != "" {
		msg.Attributes = append(msg.Attributes, &Text{Value: text})
	}
	return nil
}

// ParseListResponse extracts the mailbox name from an already-parsed LIST
// or LSUB response. It is a client-side convenience for the folder
// allow/block list option, not part of the wire protocol parser.
func ParseListResponse(msg *ResponseMessage) (mailbox string, ok bool) {
	if msg.Command != "LIST" && msg.Command != "LSUB" {
		return "", false
	}
	if len(msg.Attributes) < 3 {
		return "", false
	}
	switch v := msg.Attributes[len(msg.Attributes)-1].(type) {
	case *String:
		return string(v.Value), true
	case *Atom:
		return v.Value, true
	default:
		return "", false
	}
}
