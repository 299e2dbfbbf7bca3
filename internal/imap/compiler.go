package imap

import (
	"bytes"
	"fmt"
	"strconv"
)

// Command is an outbound command built by a caller before compilation: a
// tag, a verb (and optional UID/AUTHENTICATE subverb), and an ordered list
// of attribute-tree arguments (§3, §4.5).
type Command struct {
	Tag     string
	Verb    string
	SubVerb string
	Args    []Node
}

// Segment is one piece of a compiled command's wire bytes. A command that
// carries a synchronizing literal compiles to more than one Segment: the
// caller must write Data, and if AwaitContinue is true, read and discard a
// "+" continuation response before writing the next Segment (§4.5, §9
// "segmentation").
type Segment struct {
	Data          []byte
	AwaitContinue bool
}

// CompileOptions controls how literals are encoded.
type CompileOptions struct {
	// LiteralPlus allows non-synchronizing literals ({N+}) when the server
	// has advertised LITERAL+ or LITERAL- capability, avoiding the
	// round trip a synchronizing literal otherwise requires.
	LiteralPlus bool
}

type compiler struct {
	opts     CompileOptions
	buf      bytes.Buffer
	segments []Segment
}

// Compile renders cmd into one or more wire Segments (§4.5). The final
// segment's Data always ends in CRLF; every segment before it ends with a
// synchronizing literal marker ({N}CRLF) and has AwaitContinue set.
func Compile(cmd Command, opts CompileOptions) ([]Segment, error) {
	if cmd.Tag == "" {
		return nil, fmt.Errorf("imap: command tag must not be empty")
	}
	if cmd.Verb == "" {
		return nil, fmt.Errorf("imap: command verb must not be empty")
	}

	c := &compiler{opts: opts}
	c.buf.WriteString(cmd.Tag)
	c.buf.WriteByte(' ')
	c.buf.WriteString(cmd.Verb)
	if cmd.SubVerb != "" {
		c.buf.WriteByte(' ')
		c.buf.WriteString(cmd.SubVerb)
	}

	for _, arg := range cmd.Args {
		c.buf.WriteByte(' ')
		if err := c.writeNode(arg); err != nil {
			return nil, err
		}
	}

	c.buf.WriteString("\r\n")
	c.flush(false)
	return c.segments, nil
}

func (c *compiler) flush(awaitContinue bool) {
	data := make([]byte, c.buf.Len())
	copy(data, c.buf.Bytes())
	c.segments = append(c.segments, Segment{Data: data, AwaitContinue: awaitContinue})
	c.buf.Reset()
}

func (c *compiler) writeNode(n Node) error {
	switch v := n.(type) {
	case NilNode:
		c.buf.WriteString("NIL")
		return nil

	case *Atom:
		c.buf.WriteString(v.Value)
		if v.Section != nil {
			c.buf.WriteByte('[')
			if err := c.writeJoined(v.Section); err != nil {
				return err
			}
			c.buf.WriteByte(']')
		}
		if v.Partial != nil {
			c.buf.WriteByte('<')
			for i, p := range v.Partial {
				if i > 0 {
					c.buf.WriteByte('.')
				}
				c.buf.WriteString(strconv.FormatUint(uint64(p), 10))
			}
			c.buf.WriteByte('>')
		}
		return nil

	case *Number:
		c.buf.WriteString(strconv.FormatUint(v.Value, 10))
		return nil

	case *Sequence:
		c.buf.WriteString(v.Value)
		return nil

	case *String:
		return c.writeString(v)

	case *Literal:
		return c.writeRawLiteral(v.Value, v.Type == LiteralBinary)

	case *Text:
		c.buf.WriteString(v.Value)
		return nil

	case *List:
		c.buf.WriteByte('(')
		if err := c.writeJoined(v.Items); err != nil {
			return err
		}
		c.buf.WriteByte(')')
		return nil

	default:
		return fmt.Errorf("imap: cannot compile node of type %T", n)
	}
}

func (c *compiler) writeJoined(nodes []Node) error {
	for i, n := range nodes {
		if i > 0 {
			c.buf.WriteByte(' ')
		}
		if err := c.writeNode(n); err != nil {
			return err
		}
	}
	return nil
}

// writeString renders a String as a quoted string, or as a literal when
// its content cannot be safely quoted (contains CR, LF, or NUL — §4.3
// string grammar excludes all three from quoted-specials' complement).
func (c *compiler) writeString(s *String) error {
	if bytes.IndexAny(s.Value, "\r\n\x00") >= 0 {
		return c.writeRawLiteral(s.Value, false)
	}
	c.buf.WriteByte('"')
	for _, b := range s.Value {
		if b == '"' || b == '\\' {
			c.buf.WriteByte('\\')
		}
		c.buf.WriteByte(b)
	}
	c.buf.WriteByte('"')
	return nil
}

// writeRawLiteral emits a literal marker and, depending on LITERAL+
// capability, either inlines the bytes immediately or splits the command
// into segments around a synchronizing wait for "+" (§4.2, §4.5, §6
// literalPlus option).
func (c *compiler) writeRawLiteral(value []byte, binary bool) error {
	if binary {
		c.buf.WriteByte('~')
	}
	c.buf.WriteByte('{')
	c.buf.WriteString(strconv.Itoa(len(value)))

	if c.opts.LiteralPlus {
		c.buf.WriteString("+}\r\n")
		c.buf.Write(value)
		return nil
	}

	c.buf.WriteString("}\r\n")
	c.flush(true)
	c.buf.Write(value)
	return nil
}
