package semantic

import (
	"bytes"
	"fmt"
	"io"

	"github.com/pkg/errors"
)

// Body is the content of a message.
type Body interface {
	io.Reader

	// Size returns the length of the body in bytes, or -1 if it is unknown.
	Size() int64

	// Rewind moves back to the start of the body.
	// Bodies that cannot be read twice fail with [*SeekError] once they were read.
	Rewind() error
}

// SeekError is returned when a body cannot be repositioned.
type SeekError struct {
	Offset int64
}

func (e *SeekError) Error() string {
	return fmt.Sprintf("could not seek the stream to position %d", e.Offset)
}

// BytesBody is a seekable body backed by a byte slice.
type BytesBody struct {
	data []byte
	r    *bytes.Reader
}

func NewBytesBody(data []byte) *BytesBody {
	return &BytesBody{data: data, r: bytes.NewReader(data)}
}

func StringBody(s string) *BytesBody { return NewBytesBody([]byte(s)) }

// EmptyBody returns a body of size 0.
func EmptyBody() *BytesBody { return NewBytesBody(nil) }

func (b *BytesBody) Read(p []byte) (int, error) { return b.r.Read(p) }
func (b *BytesBody) Size() int64                { return int64(len(b.data)) }

func (b *BytesBody) Rewind() error {
	_, err := b.r.Seek(0, io.SeekStart)
	return err
}

// Bytes returns the whole content regardless of the read position.
func (b *BytesBody) Bytes() []byte { return b.data }
func (b *BytesBody) String() string { return string(b.data) }

// StreamBody is a single-pass body.
type StreamBody struct {
	r    io.Reader
	size int64
	read bool
}

// NewStreamBody wraps r. size is -1 when unknown.
func NewStreamBody(r io.Reader, size int64) *StreamBody {
	return &StreamBody{r: r, size: size}
}

func (b *StreamBody) Read(p []byte) (int, error) {
	b.read = true
	return b.r.Read(p)
}

func (b *StreamBody) Size() int64 { return b.size }

func (b *StreamBody) Rewind() error {
	if !b.read {
		return nil
	}
	if s, ok := b.r.(io.Seeker); ok {
		if _, err := s.Seek(0, io.SeekStart); err != nil {
			return errors.Wrap(&SeekError{Offset: 0}, err.Error())
		}
		return nil
	}
	return &SeekError{Offset: 0}
}

// ReadBody returns the full content of body from its start.
func ReadBody(body Body) ([]byte, error) {
	if body == nil {
		return nil, nil
	}
	if b, ok := body.(*BytesBody); ok {
		return b.Bytes(), nil
	}

	if err := body.Rewind(); err != nil {
		return nil, err
	}
	data, err := io.ReadAll(body)
	if err != nil {
		return nil, errors.Wrap(err, "reading body")
	}
	return data, nil
}

// IsEmpty reports whether body is known to have no content.
func IsEmpty(body Body) bool {
	return body == nil || body.Size() == 0
}
