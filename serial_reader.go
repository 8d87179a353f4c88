package datalogger

import (
	"bytes"
	"io"
	"strings"
	"unicode/utf8"
)

// MaxLineBytes bounds a line that never sees a delimiter.
const MaxLineBytes = 4096

// LineReader splits the byte stream from the port into lines. Bytes of a
// partially received line stay buffered across polls.
type LineReader struct {
	src     io.Reader
	buffer  []byte
	pending []byte

	// set after an overlong cut until the next delimiter is seen
	skipping bool
}

func NewLineReader(src io.Reader) *LineReader {
	return &LineReader{
		src:    src,
		buffer: make([]byte, 512),
	}
}

// Next returns the next complete line without its delimiter. ok is false when
// no complete line is buffered yet and the port had nothing more to give.
func (lr *LineReader) Next() (line []byte, ok bool, err error) {
	if line, ok := lr.pop(); ok {
		return line, true, nil
	}

	n, err := lr.src.Read(lr.buffer)
	if n > 0 {
		lr.pending = append(lr.pending, lr.buffer[:n]...)
	}
	if err != nil {
		return nil, false, err
	}

	line, ok = lr.pop()
	return line, ok, nil
}

// Buffered reports how many bytes are waiting for a delimiter.
func (lr *LineReader) Buffered() int { return len(lr.pending) }

func (lr *LineReader) pop() ([]byte, bool) {
	idx := bytes.IndexByte(lr.pending, '\n')
	if lr.skipping {
		if idx < 0 {
			lr.pending = lr.pending[:0]
			return nil, false
		}
		lr.take(0, idx+1)
		lr.skipping = false
		idx = bytes.IndexByte(lr.pending, '\n')
	}
	if idx < 0 {
		if len(lr.pending) < MaxLineBytes {
			return nil, false
		}
		// the rest of an overlong line is dropped up to its delimiter
		line := lr.take(MaxLineBytes, MaxLineBytes)
		lr.pending = lr.pending[:0]
		lr.skipping = true
		return line, true
	}
	return lr.take(idx, idx+1), true
}

func (lr *LineReader) take(end, consumed int) []byte {
	line := make([]byte, end)
	copy(line, lr.pending[:end])
	lr.pending = append(lr.pending[:0], lr.pending[consumed:]...)
	return line
}

// DecodeLine converts raw bytes to text, dropping invalid UTF-8 sequences.
// repaired is true when something had to be dropped.
func DecodeLine(raw []byte) (text string, repaired bool) {
	if utf8.Valid(raw) {
		return string(raw), false
	}
	return strings.ToValidUTF8(string(raw), ""), true
}
