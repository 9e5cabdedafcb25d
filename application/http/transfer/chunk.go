package transfer

import (
	"bytes"
	"io"
	"strconv"

	"asynchttp/application/util/rule"

	"github.com/pkg/errors"
)

var (
	ErrMalformedChunk   = errors.New("chunk is malformed")
	ErrChunkLineTooLong = errors.New("chunk line length exceeds limit")
	ErrUnexpectedEOF    = errors.New("chunked body ended before last chunk")
)

// MaxLineLength bounds a chunk-size line or a trailer line.
const MaxLineLength = 64 << 10

type Chunk struct {
	Size       uint64
	Extensions [][2]string
}

type decodeState uint8

const (
	stateSize decodeState = iota
	stateData
	stateDataCRLF
	stateTrailer
	stateDone
)

// ChunkDecoder decodes chunked coding pushed through [ChunkDecoder.Write].
// Decoded payload is written to the output writer as soon as it arrives.
// Input may be split at any byte: a chunk-size line without its CRLF stays
// pending until the rest of the line is written.
type ChunkDecoder struct {
	out io.Writer

	state   decodeState
	pending []byte
	remain  uint64

	last     Chunk
	trailers [][]byte
	rest     []byte
}

var _ io.Writer = (*ChunkDecoder)(nil)

func NewChunkDecoder(out io.Writer) *ChunkDecoder {
	return &ChunkDecoder{out: out}
}

// Write feeds encoded bytes into the decoder.
// Bytes after the last chunk and its trailer section are kept in [ChunkDecoder.Rest].
func (d *ChunkDecoder) Write(p []byte) (int, error) {
	if d.state == stateDone {
		d.rest = append(d.rest, p...)
		return len(p), nil
	}

	d.pending = append(d.pending, p...)
	if err := d.advance(); err != nil {
		return 0, err
	}

	return len(p), nil
}

// Done reports whether the last chunk and the trailer section were decoded.
func (d *ChunkDecoder) Done() bool { return d.state == stateDone }

// Trailers returns raw trailer field lines, without CRLF.
func (d *ChunkDecoder) Trailers() [][]byte { return d.trailers }

// LastChunk returns the header of the most recently started chunk.
func (d *ChunkDecoder) LastChunk() Chunk { return d.last }

func (d *ChunkDecoder) Rest() []byte { return d.rest }

func (d *ChunkDecoder) advance() error {
	for {
		switch d.state {
		case stateSize:
			line, ok, err := d.cutLine()
			if !ok || err != nil {
				return err
			}

			chunk, err := parseChunkHeader(line)
			if err != nil {
				return errors.Wrap(err, "decoding chunk")
			}
			d.last = chunk
			d.remain = chunk.Size

			d.state = stateData
			if chunk.Size == 0 {
				d.state = stateTrailer
			}

		case stateData:
			if len(d.pending) == 0 {
				return nil
			}

			n := min(uint64(len(d.pending)), d.remain)
			if _, err := d.out.Write(d.pending[:n]); err != nil {
				return errors.Wrap(err, "writing chunk data")
			}
			d.pending = d.pending[n:]
			d.remain -= n

			if d.remain == 0 {
				d.state = stateDataCRLF
			}

		case stateDataCRLF:
			if len(d.pending) < len(rule.CRLF) {
				return nil
			}
			if !bytes.HasPrefix(d.pending, rule.CRLF) {
				return errors.Wrap(ErrMalformedChunk, "CRLF delimiter not found")
			}
			d.pending = d.pending[len(rule.CRLF):]
			d.state = stateSize

		case stateTrailer:
			line, ok, err := d.cutLine()
			if !ok || err != nil {
				return err
			}

			if len(line) == 0 {
				d.state = stateDone
				d.rest = append(d.rest, d.pending...)
				d.pending = nil
				continue
			}
			d.trailers = append(d.trailers, bytes.Clone(line))

		case stateDone:
			return nil
		}
	}
}

// cutLine cuts a CRLF terminated line from pending input.
func (d *ChunkDecoder) cutLine() (line []byte, ok bool, err error) {
	idx := bytes.Index(d.pending, rule.CRLF)
	if idx < 0 {
		if len(d.pending) > MaxLineLength {
			return nil, false, ErrChunkLineTooLong
		}
		return nil, false, nil
	}

	line = d.pending[:idx]
	d.pending = d.pending[idx+len(rule.CRLF):]
	return line, true, nil
}

// Reference: https://datatracker.ietf.org/doc/html/rfc9112#section-7.1
func parseChunkHeader(line []byte) (Chunk, error) {
	parts := bytes.Split(line, []byte{';'})
	sizeRaw := bytes.TrimFunc(parts[0], rule.IsWhitespace)

	size, err := decodeChunkSize(sizeRaw)
	if err != nil {
		return Chunk{}, errors.Wrap(err, "decoding chunk size")
	}

	extensions := make([][2]string, 0, len(parts)-1)
	for _, part := range parts[1:] {
		k, v, _ := bytes.Cut(part, []byte{'='})
		// Trim BWS.
		k = bytes.TrimFunc(k, rule.IsWhitespace)
		v = bytes.TrimFunc(v, rule.IsWhitespace)
		extensions = append(extensions, [2]string{
			string(k),
			string(rule.Unquote(v)),
		})
	}

	return Chunk{Size: size, Extensions: extensions}, nil
}

func decodeChunkSize(b []byte) (uint64, error) {
	if len(b) == 0 {
		return 0, errors.Wrap(ErrMalformedChunk, "empty chunk size")
	}
	for _, c := range b {
		if !rule.IsHex(rune(c)) {
			return 0, errors.Wrapf(ErrMalformedChunk, "failed to decode hex: %q", string(b))
		}
	}

	size, err := strconv.ParseUint(string(b), 16, 64)
	if err != nil {
		return 0, errors.Errorf("chunk size larger than 64bit: %q", string(b))
	}
	return size, nil
}

// ChunkedReader converts a chunked byte stream into its payload.
// The underlying reader may be read past the last chunk; those bytes are
// available from [ChunkDecoder.Rest] of [ChunkedReader.Decoder].
type ChunkedReader struct {
	r   io.Reader
	dec *ChunkDecoder
	out *bytes.Buffer
	buf []byte
	err error
}

var _ io.Reader = (*ChunkedReader)(nil)

func NewChunkedReader(r io.Reader) *ChunkedReader {
	out := bytes.NewBuffer(nil)
	return &ChunkedReader{
		r:   r,
		dec: NewChunkDecoder(out),
		out: out,
		buf: make([]byte, 4096),
	}
}

func (cr *ChunkedReader) Decoder() *ChunkDecoder { return cr.dec }

func (cr *ChunkedReader) Read(p []byte) (int, error) {
	for cr.out.Len() == 0 {
		if cr.dec.Done() {
			return 0, io.EOF
		}
		if cr.err != nil {
			return 0, cr.err
		}

		n, err := cr.r.Read(cr.buf)
		if n > 0 {
			if _, werr := cr.dec.Write(cr.buf[:n]); werr != nil {
				cr.err = werr
				continue
			}
		}
		if err != nil && !cr.dec.Done() {
			if errors.Is(err, io.EOF) {
				err = ErrUnexpectedEOF
			}
			cr.err = err
		}
	}

	return cr.out.Read(p)
}

type ChunkedWriter struct {
	w         io.Writer
	headerBuf *bytes.Buffer

	extensions [][2]string
	trailers   [][2]string
}

var _ io.WriteCloser = (*ChunkedWriter)(nil)

// NewChunkedWriter encodes writes as chunks.
// [ChunkedWriter.Close] writes the last chunk but leaves w open.
func NewChunkedWriter(w io.Writer) *ChunkedWriter {
	return &ChunkedWriter{
		w:         w,
		headerBuf: bytes.NewBuffer(nil),
	}
}

// SetExtensions sets extension to the chunk.
// extension lives until [ChunkedWriter.Write].
func (cw *ChunkedWriter) SetExtensions(extensions [][2]string) {
	cw.extensions = extensions
}

// SetTrailers sets trailer fields written on [ChunkedWriter.Close].
func (cw *ChunkedWriter) SetTrailers(fields [][2]string) {
	cw.trailers = fields
}

func (cw *ChunkedWriter) Write(p []byte) (n int, err error) {
	if len(p) == 0 {
		// We should ignore 0 length chunks since it means EOF.
		return 0, nil
	}

	chunk := Chunk{
		Size:       uint64(len(p)),
		Extensions: cw.extensions,
	}
	cw.extensions = nil

	n, err = cw.encodeChunk(chunk, p)
	if err != nil {
		return n, errors.Wrap(err, "encoding chunk")
	}

	return n, nil
}

func (cw *ChunkedWriter) Close() error {
	chunk := Chunk{
		Size:       0,
		Extensions: cw.extensions,
	}

	if _, err := cw.encodeChunk(chunk, nil); err != nil {
		return errors.Wrap(err, "encoding chunk")
	}

	if err := cw.encodeTrailers(); err != nil {
		return errors.Wrap(err, "encoding trailers")
	}

	return nil
}

func (cw *ChunkedWriter) encodeChunk(chunk Chunk, data []byte) (n int, err error) {
	// size and extensions
	buf := cw.headerBuf
	buf.Reset()

	buf.WriteString(strconv.FormatUint(chunk.Size, 16))
	for _, ext := range chunk.Extensions {
		buf.WriteByte(';')
		buf.WriteString(ext[0])
		buf.WriteByte('=')
		buf.WriteString(ext[1])
	}

	if err := writeLine(cw.w, buf.Bytes()); err != nil {
		return 0, errors.Wrap(err, "writing chunk header")
	}

	if chunk.Size == 0 {
		// Last chunk. only write header.
		return 0, nil
	}

	// chunk data + CRLF
	if n, err = cw.w.Write(data); err != nil {
		return n, errors.Wrap(err, "writing data")
	}
	if _, err := cw.w.Write(rule.CRLF); err != nil {
		return n, errors.Wrap(err, "writing data delimiter")
	}

	return n, nil
}

func (cw *ChunkedWriter) encodeTrailers() error {
	for _, field := range cw.trailers {
		if err := writeLine(cw.w, []byte(field[0]+": "+field[1])); err != nil {
			return errors.Wrap(err, "writing trailer")
		}
	}

	if err := writeLine(cw.w, nil); err != nil {
		return errors.Wrap(err, "writing last trailer line")
	}

	return nil
}

func writeLine(w io.Writer, line []byte) error {
	b := make([]byte, 0, len(line)+len(rule.CRLF))
	b = append(b, line...)
	b = append(b, rule.CRLF...)
	if _, err := w.Write(b); err != nil {
		return errors.Wrap(err, "writing line")
	}
	return nil
}
