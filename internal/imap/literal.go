package imap

import (
	"bytes"
	"strconv"
)

// LiteralMaxSize is the 1 GiB cap on a declared literal length (§4.2, §6).
const LiteralMaxSize = 1 << 30

// ParseLiteral scans the line (which should include its terminating CRLF or
// LF) for an IMAP literal specification of the form {N}, {N+}, ~{N}, or
// ~{N+} at the end. It returns the literal byte count n, whether it is
// binary (literal8, leading '~'), whether it is non-synchronizing
// (LITERAL+, trailing '+'), and ok=true if a marker was found.
func ParseLiteral(line []byte) (n int64, binary bool, nonSync bool, ok bool) {
	data := bytes.TrimRight(line, "\r\n")
	if len(data) == 0 {
		return 0, false, false, false
	}

	if data[len(data)-1] != '}' {
		return 0, false, false, false
	}

	closeIdx := len(data) - 1
	openIdx := bytes.LastIndexByte(data[:closeIdx], '{')
	if openIdx < 0 {
		return 0, false, false, false
	}

	inner := data[openIdx+1 : closeIdx]
	if len(inner) == 0 {
		return 0, false, false, false
	}

	ns := false
	if inner[len(inner)-1] == '+' {
		ns = true
		inner = inner[:len(inner)-1]
	}
	if len(inner) == 0 {
		return 0, false, false, false
	}

	count, err := strconv.ParseInt(string(inner), 10, 64)
	if err != nil || count < 0 {
		return 0, false, false, false
	}

	isBinary := openIdx > 0 && data[openIdx-1] == '~'

	return count, isBinary, ns, true
}
