package imap

import (
	"bytes"
	"errors"
	"testing"
)

func collectFrames(t *testing.T, chunks [][]byte) []Frame {
	t.Helper()
	f := NewFramer()
	var frames []Frame
	for _, c := range chunks {
		if err := f.Push(c, func(fr Frame) error {
			frames = append(frames, fr)
			return nil
		}); err != nil {
			t.Fatalf("push: %v", err)
		}
	}
	return frames
}

func TestFramerBasic(t *testing.T) {
	tests := []struct {
		name      string
		input     string
		wantCount int
		check     func(t *testing.T, frames []Frame)
	}{
		{
			name:      "single simple response",
			input:     "* OK ready\r\n",
			wantCount: 1,
			check: func(t *testing.T, frames []Frame) {
				if string(frames[0].Payload) != "* OK ready" {
					t.Errorf("payload = %q", frames[0].Payload)
				}
				if len(frames[0].Literals) != 0 {
					t.Errorf("expected no literals, got %d", len(frames[0].Literals))
				}
			},
		},
		{
			name:      "two responses in one chunk",
			input:     "* OK ready\r\nA1 OK done\r\n",
			wantCount: 2,
		},
		{
			name:      "blank line suppressed",
			input:     "\r\n* OK ready\r\n",
			wantCount: 1,
		},
		{
			name:      "synchronizing literal embedded",
			input:     "* 1 FETCH (BODY[] {5}\r\nhello)\r\n",
			wantCount: 1,
			check: func(t *testing.T, frames []Frame) {
				if len(frames[0].Literals) != 1 {
					t.Fatalf("expected 1 literal, got %d", len(frames[0].Literals))
				}
				if string(frames[0].Literals[0]) != "hello" {
					t.Errorf("literal = %q", frames[0].Literals[0])
				}
				if !bytes.Contains(frames[0].Payload, []byte("{5}")) {
					t.Errorf("payload should retain the literal marker: %q", frames[0].Payload)
				}
			},
		},
		{
			name:      "zero length literal closes immediately",
			input:     "A1 LOGIN {0}\r\n {4}\r\npass\r\n",
			wantCount: 1,
			check: func(t *testing.T, frames []Frame) {
				if len(frames[0].Literals) != 2 {
					t.Fatalf("expected 2 literals, got %d", len(frames[0].Literals))
				}
				if len(frames[0].Literals[0]) != 0 {
					t.Errorf("first literal should be empty, got %q", frames[0].Literals[0])
				}
				if string(frames[0].Literals[1]) != "pass" {
					t.Errorf("second literal = %q", frames[0].Literals[1])
				}
			},
		},
		{
			name:      "literal8 binary marker",
			input:     "* 1 FETCH (BINARY[1] ~{4}\r\nABCD)\r\n",
			wantCount: 1,
			check: func(t *testing.T, frames []Frame) {
				if string(frames[0].Literals[0]) != "ABCD" {
					t.Errorf("literal = %q", frames[0].Literals[0])
				}
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			frames := collectFrames(t, [][]byte{[]byte(tt.input)})
			if len(frames) != tt.wantCount {
				t.Fatalf("frame count = %d, want %d (%+v)", len(frames), tt.wantCount, frames)
			}
			if tt.check != nil {
				tt.check(t, frames)
			}
		})
	}
}

func TestFramerLiteralTooLarge(t *testing.T) {
	f := NewFramer()
	input := []byte("A1 APPEND INBOX {1073741825}\r\n")
	err := f.Push(input, func(Frame) error { return nil })
	if err == nil {
		t.Fatal("expected LiteralTooLargeError")
	}
	var tooLarge *LiteralTooLargeError
	if !errors.As(err, &tooLarge) {
		t.Fatalf("expected *LiteralTooLargeError, got %T: %v", err, err)
	}
	if tooLarge.LiteralSize != 1073741825 {
		t.Errorf("LiteralSize = %d", tooLarge.LiteralSize)
	}
	if tooLarge.MaxSize != LiteralMaxSize {
		t.Errorf("MaxSize = %d", tooLarge.MaxSize)
	}
}

// TestFramerArbitrarySplits verifies §8 property 1: for any chunking of a
// valid wire byte sequence, the emitted frames are identical to those
// produced from a single chunk.
func TestFramerArbitrarySplits(t *testing.T) {
	whole := []byte("* OK [CAPABILITY IMAP4rev1 LITERAL+] ready\r\n" +
		"* 2 FETCH (UID 9 BODY[] {11}\r\nhello world)\r\n" +
		"A1 OK CAPABILITY completed\r\n")

	want := collectFrames(t, [][]byte{whole})

	for splitEvery := 1; splitEvery <= 7; splitEvery++ {
		var chunks [][]byte
		for i := 0; i < len(whole); i += splitEvery {
			end := i + splitEvery
			if end > len(whole) {
				end = len(whole)
			}
			chunks = append(chunks, whole[i:end])
		}
		got := collectFrames(t, chunks)
		if len(got) != len(want) {
			t.Fatalf("splitEvery=%d: frame count = %d, want %d", splitEvery, len(got), len(want))
		}
		for i := range want {
			if string(got[i].Payload) != string(want[i].Payload) {
				t.Errorf("splitEvery=%d: frame %d payload = %q, want %q", splitEvery, i, got[i].Payload, want[i].Payload)
			}
			if len(got[i].Literals) != len(want[i].Literals) {
				t.Fatalf("splitEvery=%d: frame %d literal count = %d, want %d", splitEvery, i, len(got[i].Literals), len(want[i].Literals))
			}
			for j := range want[i].Literals {
				if string(got[i].Literals[j]) != string(want[i].Literals[j]) {
					t.Errorf("splitEvery=%d: frame %d literal %d = %q, want %q", splitEvery, i, j, got[i].Literals[j], want[i].Literals[j])
				}
			}
		}
	}
}
