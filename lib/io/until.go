package iolib

import (
	"bytes"
	"io"

	"github.com/pkg/errors"
)

// UntilReader is a reader that can also read up to a delimiter.
// Bytes read past the delimiter are kept and served by later reads.
type UntilReader struct {
	r   io.Reader
	buf *bytes.Buffer
}

func NewUntilReader(r io.Reader) *UntilReader {
	return &UntilReader{r: r, buf: bytes.NewBuffer(nil)}
}

func (ur *UntilReader) Read(p []byte) (n int, err error) {
	if ur.buf.Len() > 0 {
		n, _ = ur.buf.Read(p)
		return n, nil
	}

	return ur.r.Read(p)
}

// Buffered returns the bytes read from the source but not yet consumed.
// The slice is valid until the next read.
func (ur *UntilReader) Buffered() []byte { return ur.buf.Bytes() }

var ErrZeroLenDelim = errors.New("delim has zero length")

// ReadUntil reads until delim, and returns the bytes including delim.
// If the source fails before delim, the bytes read so far are returned with the error.
func (ur *UntilReader) ReadUntil(delim []byte) ([]byte, error) {
	if len(delim) == 0 {
		return nil, ErrZeroLenDelim
	}

	// Leftover from a previous call may already contain delim.
	if idx := bytes.Index(ur.buf.Bytes(), delim); idx >= 0 {
		return ur.consume(idx + len(delim)), nil
	}

	temp := make([]byte, 1024)
	for {
		// Only the tail that could overlap with the new bytes is searched again.
		start := max(ur.buf.Len()-len(delim)+1, 0)

		n, err := ur.r.Read(temp)
		ur.buf.Write(temp[:n])

		if idx := bytes.Index(ur.buf.Bytes()[start:], delim); idx >= 0 {
			return ur.consume(start + idx + len(delim)), nil
		}

		if err != nil {
			// Underlying reader returned error before delim.
			return ur.consume(ur.buf.Len()), err
		}
	}
}

// ReadUntilLimit is [UntilReader.ReadUntil] reading at most limit bytes from the source.
// Zero limit means no limit.
func (ur *UntilReader) ReadUntilLimit(delim []byte, limit uint) ([]byte, error) {
	if limit > 0 {
		r := ur.r
		ur.r = LimitReader(r, limit)
		defer func() { ur.r = r }() // restore underlying reader.
	}

	return ur.ReadUntil(delim)
}

func (ur *UntilReader) consume(n int) []byte {
	b := bytes.Clone(ur.buf.Next(n))
	if ur.buf.Len() == 0 {
		ur.buf.Reset()
	}
	return b
}
