package imap

import "bytes"

// Frame is one logical IMAP response: the bytes of its line(s) with the
// final CRLF stripped, and any literal payloads that were embedded in
// those lines moved out-of-band, in order (§3, §4.2).
type Frame struct {
	Payload  []byte
	Literals [][]byte
}

type framerState int

const (
	stateLine framerState = iota
	stateLiteral
)

// Framer slices a byte stream into logical IMAP Frames, switching to
// byte-count collection mode whenever a line ends in a literal marker
// ({N}, {N+}, ~{N}, ~{N+}). It is resumable across arbitrary chunk
// boundaries: Push may be called with any split of the wire bytes and
// produces the same sequence of frames as a single call with the whole
// stream (§4.2, §8 property 1).
//
// Framer holds no transport reference; each Push call corresponds to one
// read from the underlying connection, which is the natural cooperative
// yield point in Go — there is no separate batching counter to keep the
// scheduler responsive the way a single-threaded event loop would need.
type Framer struct {
	state framerState

	line    []byte // bytes of the line currently being accumulated, LF not yet seen
	payload []byte // completed lines for the in-progress frame, literal markers intact
	litbuf  [][]byte

	litRemaining int64
	litCollected []byte
}

// NewFramer returns a Framer ready to accept the start of a fresh stream.
func NewFramer() *Framer {
	return &Framer{}
}

// Push feeds a chunk of raw bytes from the transport into the framer. For
// every complete Frame produced, emit is called before Push resumes
// scanning the rest of the chunk; a non-nil error from emit aborts Push
// immediately and is returned to the caller, without consuming the
// remainder of data.
func (f *Framer) Push(data []byte, emit func(Frame) error) error {
	i := 0
	for i < len(data) {
		switch f.state {
		case stateLiteral:
			remaining := f.litRemaining - int64(len(f.litCollected))
			take := int64(len(data) - i)
			if take > remaining {
				take = remaining
			}
			f.litCollected = append(f.litCollected, data[i:i+int(take)]...)
			i += int(take)
			if int64(len(f.litCollected)) >= f.litRemaining {
				f.litbuf = append(f.litbuf, f.litCollected)
				f.litCollected = nil
				f.litRemaining = 0
				f.state = stateLine
			}

		case stateLine:
			idx := bytes.IndexByte(data[i:], '\n')
			if idx < 0 {
				f.line = append(f.line, data[i:]...)
				i = len(data)
				break
			}
			f.line = append(f.line, data[i:i+idx+1]...)
			i += idx + 1

			line := f.line
			f.line = nil

			n, _, _, ok := ParseLiteral(line)
			if ok {
				if n > LiteralMaxSize {
					return &LiteralTooLargeError{LiteralSize: n, MaxSize: LiteralMaxSize}
				}
				f.payload = append(f.payload, line...)
				if n == 0 {
					f.litbuf = append(f.litbuf, []byte{})
					continue
				}
				f.litRemaining = n
				f.litCollected = make([]byte, 0, n)
				f.state = stateLiteral
				continue
			}

			f.payload = append(f.payload, line...)
			payload := bytes.TrimRight(f.payload, "\r\n")
			literals := f.litbuf
			f.payload = nil
			f.litbuf = nil

			if len(payload) == 0 && len(literals) == 0 {
				continue
			}
			if err := emit(Frame{Payload: payload, Literals: literals}); err != nil {
				return err
			}
		}
	}
	return nil
}
