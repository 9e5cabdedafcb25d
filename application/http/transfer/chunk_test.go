package transfer

import (
	"bytes"
	"fmt"
	"io"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"
)

type ChunkDecoderTestSuite struct {
	suite.Suite
}

func TestChunkDecoderTestSuite(t *testing.T) {
	suite.Run(t, new(ChunkDecoderTestSuite))
}

func (s *ChunkDecoderTestSuite) TestWrite() {
	input := []byte("" +
		"5;ext=foo\r\n" +
		"ABCDE\r\n" +
		"a\r\n" +
		"FGHIJKLNMO\r\n" +
		"0\r\n" + // last chunk
		"Hello: World\r\n" + // trailer
		"\r\n", // empty trailer (last trailer)
	)

	out := bytes.NewBuffer(nil)
	dec := NewChunkDecoder(out)

	n, err := dec.Write(input)
	s.Require().NoError(err)
	s.Equal(len(input), n)

	s.True(dec.Done())
	s.Equal("ABCDEFGHIJKLNMO", out.String())
	s.Equal([][]byte{[]byte("Hello: World")}, dec.Trailers())
	s.Empty(dec.Rest())
}

func (s *ChunkDecoderTestSuite) TestWriteByteByByte() {
	input := []byte("3\r\nabc\r\n4;x=\"y\"\r\ndefg\r\n0\r\n\r\n")

	out := bytes.NewBuffer(nil)
	dec := NewChunkDecoder(out)

	for i := range input {
		s.False(dec.Done())
		_, err := dec.Write(input[i : i+1])
		s.Require().NoError(err)
	}

	s.True(dec.Done())
	s.Equal("abcdefg", out.String())
	s.Equal(Chunk{Size: 0, Extensions: [][2]string{}}, dec.LastChunk())
}

func (s *ChunkDecoderTestSuite) TestIncompleteSizeLineStaysPending() {
	out := bytes.NewBuffer(nil)
	dec := NewChunkDecoder(out)

	_, err := dec.Write([]byte("1"))
	s.Require().NoError(err)
	_, err = dec.Write([]byte("0"))
	s.Require().NoError(err)

	// "10" has not been terminated yet, so it must not be read as chunk size 1.
	s.False(dec.Done())
	s.Zero(out.Len())

	_, err = dec.Write([]byte("\r\n0123456789abcdef\r\n0\r\n\r\n"))
	s.Require().NoError(err)
	s.True(dec.Done())
	s.Equal("0123456789abcdef", out.String())
}

func (s *ChunkDecoderTestSuite) TestPartialChunkIsNotDone() {
	out := bytes.NewBuffer(nil)
	dec := NewChunkDecoder(out)

	_, err := dec.Write([]byte("5\r\nAB"))
	s.Require().NoError(err)

	s.False(dec.Done())
	s.Equal("AB", out.String())
}

func (s *ChunkDecoderTestSuite) TestRest() {
	out := bytes.NewBuffer(nil)
	dec := NewChunkDecoder(out)

	_, err := dec.Write([]byte("1\r\nA\r\n0\r\n\r\nHTTP/1.1"))
	s.Require().NoError(err)
	_, err = dec.Write([]byte(" 200"))
	s.Require().NoError(err)

	s.Equal("HTTP/1.1 200", string(dec.Rest()))
}

func (s *ChunkDecoderTestSuite) TestMalformed() {
	testcases := []struct {
		desc  string
		input string
	}{
		{desc: "empty chunk size", input: "\r\n"},
		{desc: "invalid hex", input: "zz\r\n"},
		{desc: "prefixed hex", input: "0x5\r\nABCDE\r\n"},
		{desc: "missing CRLF after data", input: "3\r\nabcX\r\n"},
	}

	for _, tc := range testcases {
		s.Run(tc.desc, func() {
			dec := NewChunkDecoder(io.Discard)
			_, err := dec.Write([]byte(tc.input))
			s.Error(err)
		})
	}
}

func (s *ChunkDecoderTestSuite) TestLineTooLong() {
	dec := NewChunkDecoder(io.Discard)
	_, err := dec.Write(bytes.Repeat([]byte{'1'}, MaxLineLength+1))
	s.ErrorIs(err, ErrChunkLineTooLong)
}

func TestChunkedRoundTrip(t *testing.T) {
	testcases := []struct {
		desc   string
		chunks []string
	}{
		{desc: "zero chunks", chunks: nil},
		{desc: "one chunk", chunks: []string{"hello"}},
		{desc: "several chunks", chunks: []string{"a", "bc", "def", strings.Repeat("g", 300)}},
		{desc: "binary", chunks: []string{"\x00\r\n\xff", "\r\n\r\n"}},
		{desc: "empty writes are skipped", chunks: []string{"", "x", ""}},
	}

	for _, tc := range testcases {
		t.Run(tc.desc, func(t *testing.T) {
			encoded := bytes.NewBuffer(nil)
			cw := NewChunkedWriter(encoded)
			for _, c := range tc.chunks {
				_, err := cw.Write([]byte(c))
				require.NoError(t, err)
			}
			require.NoError(t, cw.Close())

			out := bytes.NewBuffer(nil)
			dec := NewChunkDecoder(out)
			_, err := dec.Write(encoded.Bytes())
			require.NoError(t, err)

			assert.True(t, dec.Done())
			assert.Equal(t, strings.Join(tc.chunks, ""), out.String())
		})
	}
}

func TestDecodeChunkSize(t *testing.T) {
	testcases := []struct {
		desc     string
		input    []byte
		expected uint64
		wantErr  bool
	}{
		{
			desc:     "normal hex",
			input:    []byte("FF"),
			expected: 0xFF,
		},
		{
			desc:     "lowercase hex",
			input:    []byte("1a"),
			expected: 0x1A,
		},
		{
			desc:    "invalid hex",
			input:   []byte("haha this aint hex"),
			wantErr: true,
		},
		{
			desc:    "hex too long",
			input:   []byte("FFFFFFFFFFFFFFFFFF"), // 9 bytes
			wantErr: true,
		},
	}

	for _, tc := range testcases {
		t.Run(tc.desc, func(t *testing.T) {
			size, err := decodeChunkSize(tc.input)
			if tc.wantErr {
				assert.Error(t, err)
				return
			}

			assert.NoError(t, err)
			assert.Equal(t, tc.expected, size)
		})
	}
}

func TestParseChunkHeader(t *testing.T) {
	testcases := []struct {
		desc     string
		input    string
		expected Chunk
	}{
		{
			desc:     "example chunk",
			input:    "5;ext=foo",
			expected: Chunk{Size: 5, Extensions: [][2]string{{"ext", "foo"}}},
		},
		{
			desc:     "BWS inside chunk",
			input:    "5 ; ext = foo",
			expected: Chunk{Size: 5, Extensions: [][2]string{{"ext", "foo"}}},
		},
		{
			desc:     "quoted extension",
			input:    "a;name=\"quoted value\"",
			expected: Chunk{Size: 10, Extensions: [][2]string{{"name", "quoted value"}}},
		},
	}

	for _, tc := range testcases {
		t.Run(tc.desc, func(t *testing.T) {
			chunk, err := parseChunkHeader([]byte(tc.input))
			require.NoError(t, err)
			assert.Equal(t, tc.expected, chunk)
		})
	}
}

type ChunkedReaderTestSuite struct {
	suite.Suite
}

func TestChunkedReaderTestSuite(t *testing.T) {
	suite.Run(t, new(ChunkedReaderTestSuite))
}

func (s *ChunkedReaderTestSuite) TestRead() {
	r := NewChunkedReader(strings.NewReader("3\r\nabc\r\n2\r\nde\r\n0\r\nFoo: Bar\r\n\r\n"))

	b, err := io.ReadAll(r)
	s.Require().NoError(err)
	s.Equal("abcde", string(b))
	s.Equal([][]byte{[]byte("Foo: Bar")}, r.Decoder().Trailers())
}

func (s *ChunkedReaderTestSuite) TestReadSmallBuffer() {
	r := NewChunkedReader(strings.NewReader("5\r\nABCDE\r\n0\r\n\r\n"))

	buf := make([]byte, 2)
	n, err := r.Read(buf)
	s.Require().NoError(err)
	s.Equal("AB", string(buf[:n]))

	rest, err := io.ReadAll(r)
	s.Require().NoError(err)
	s.Equal("CDE", string(rest))
}

func (s *ChunkedReaderTestSuite) TestUnexpectedEOF() {
	r := NewChunkedReader(strings.NewReader("5\r\nABC"))

	b, err := io.ReadAll(r)
	s.ErrorIs(err, ErrUnexpectedEOF)
	s.Equal("ABC", string(b))
}

type ChunkedWriterTestSuite struct {
	suite.Suite
}

func TestChunkedWriterTestSuite(t *testing.T) {
	suite.Run(t, new(ChunkedWriterTestSuite))
}

func (s *ChunkedWriterTestSuite) TestWrite() {
	buf := bytes.NewBuffer(nil)
	cw := NewChunkedWriter(buf)

	// Empty write is ignored
	n, err := cw.Write(nil)
	s.Require().NoError(err)
	s.Require().Zero(n)
	s.Require().Empty(buf.Bytes())

	cw.SetExtensions([][2]string{{"foo", "bar"}})
	p := []byte("ABC")

	expected := []byte("" +
		"3;foo=bar\r\n" +
		"ABC\r\n",
	)

	n, err = cw.Write(p)
	s.Require().NoError(err)
	s.Equal(len(p), n)
	s.Equal(expected, buf.Bytes())
}

func (s *ChunkedWriterTestSuite) TestClose() {
	buf := bytes.NewBuffer(nil)

	cw := NewChunkedWriter(buf)
	cw.SetTrailers([][2]string{{"foo", "bar"}})
	cw.SetExtensions([][2]string{{"foo", "bar"}})

	expected := []byte("" +
		"0;foo=bar\r\n" +
		"foo: bar\r\n" +
		"\r\n",
	)

	err := cw.Close()
	s.Require().NoError(err)
	s.Equal(expected, buf.Bytes())
}

func (s *ChunkedWriterTestSuite) TestEncodeChunk() {
	buf := bytes.NewBuffer(nil)
	cw := NewChunkedWriter(buf)

	data := []byte("123456789ABCDEF")
	n, err := cw.encodeChunk(Chunk{Size: 0xF, Extensions: [][2]string{{"foo", "bar"}}}, data)
	s.Require().NoError(err)
	s.Equal(len(data), n)

	s.Equal("f;foo=bar\r\n123456789ABCDEF\r\n", buf.String())
}

func TestWriteLine(t *testing.T) {
	buf := bytes.NewBuffer(nil)
	err := writeLine(buf, []byte("hello"))
	assert.NoError(t, err)

	assert.Equal(t, []byte("hello\r\n"), buf.Bytes())
}

func TestParseCodings(t *testing.T) {
	testcases := []struct {
		values   []string
		expected []Coding
		chunked  bool
	}{
		{values: nil, expected: []Coding{}, chunked: false},
		{values: []string{"chunked"}, expected: []Coding{CodingChunked}, chunked: true},
		{values: []string{"gzip, Chunked"}, expected: []Coding{CodingGzip, CodingChunked}, chunked: true},
		{values: []string{"chunked", "gzip"}, expected: []Coding{CodingChunked, CodingGzip}, chunked: false},
	}

	for _, tc := range testcases {
		t.Run(fmt.Sprint(tc.values), func(t *testing.T) {
			codings := ParseCodings(tc.values)
			assert.Equal(t, tc.expected, codings)
			assert.Equal(t, tc.chunked, IsChunked(codings))
		})
	}
}
