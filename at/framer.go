package at

import (
	"bytes"
	"errors"
)

var (
	// ErrLineTooLong is reported when a line does not fit in the receive
	// buffer. The partial line is dropped and input is discarded up to the
	// next delimiter.
	ErrLineTooLong = errors.New("response line too long")

	// ErrEmptyDelimiter is returned when a Framer is built without a
	// delimiter.
	ErrEmptyDelimiter = errors.New("empty line delimiter")

	// ErrBufferTooSmall is returned when the receive buffer cannot hold a
	// single byte of payload in addition to the delimiter.
	ErrBufferTooSmall = errors.New("receive buffer too small for delimiter")
)

// Framer splits a byte stream into lines terminated by a delimiter.
//
// It owns a buffer of fixed capacity that holds the line being assembled
// together with its delimiter. Lines are handed out as strings and the
// buffer is reused, so memory use does not grow with the input.
//
// A Framer is not safe for concurrent use.
type Framer struct {
	buf       []byte
	delimiter []byte
	filter    []byte

	// discarding is set after an overflow until the next delimiter.
	discarding bool
}

// NewFramer creates a Framer with a receive buffer of size bytes. Bytes
// contained in filter are dropped from the input before delimiter scanning.
func NewFramer(size int, delimiter, filter string) (*Framer, error) {
	if delimiter == "" {
		return nil, ErrEmptyDelimiter
	}
	if size <= len(delimiter) {
		return nil, ErrBufferTooSmall
	}
	return &Framer{
		buf:       make([]byte, 0, size),
		delimiter: []byte(delimiter),
		filter:    []byte(filter),
	}, nil
}

// Feed appends p to the buffer and calls emit for every complete, non-empty
// line. Feed processes all of p even when a line overflows; in that case it
// returns ErrLineTooLong once the input is consumed.
func (f *Framer) Feed(p []byte, emit func(line string)) error {
	var err error
	for _, b := range p {
		if bytes.IndexByte(f.filter, b) >= 0 {
			continue
		}

		f.buf = append(f.buf, b)

		if bytes.HasSuffix(f.buf, f.delimiter) {
			n := len(f.buf) - len(f.delimiter)
			if !f.discarding && n > 0 {
				emit(string(f.buf[:n]))
			}
			f.buf = f.buf[:0]
			f.discarding = false
			continue
		}

		if f.discarding || len(f.buf) == cap(f.buf) {
			if !f.discarding {
				err = ErrLineTooLong
				f.discarding = true
			}
			f.keepTail()
		}
	}
	return err
}

// keepTail keeps only the bytes that could still start a delimiter.
func (f *Framer) keepTail() {
	keep := len(f.delimiter) - 1
	if len(f.buf) <= keep {
		return
	}
	n := copy(f.buf, f.buf[len(f.buf)-keep:])
	f.buf = f.buf[:n]
}

// Buffered returns the number of bytes waiting for a delimiter.
func (f *Framer) Buffered() int {
	if f.discarding {
		return 0
	}
	return len(f.buf)
}

// Reset drops any partial line.
func (f *Framer) Reset() {
	f.buf = f.buf[:0]
	f.discarding = false
}
