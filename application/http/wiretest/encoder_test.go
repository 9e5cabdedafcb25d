package wiretest

import (
	"bytes"
	"io"
	"strings"
	"testing"

	"asynchttp/application/http"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"
)

type ResponseEncoderTestSuite struct {
	suite.Suite
}

func TestResponseEncoderTestSuite(t *testing.T) {
	suite.Run(t, new(ResponseEncoderTestSuite))
}

func (s *ResponseEncoderTestSuite) TestEncode() {
	body := "field1=value1"

	input := http.Response{
		StatusLine: http.StatusLine{
			Version:      http.Version{1, 1},
			StatusCode:   200,
			ReasonPhrase: "OK",
		},
		Headers: []http.Field{
			http.NewField("Host", "example.com"),
		},
		Body: strings.NewReader(body),
	}

	expected := "" +
		"HTTP/1.1 200 OK\r\n" +
		"Host: example.com\r\n" +
		"\r\n" +
		body

	buf := bytes.NewBuffer(nil)
	re := NewResponseEncoder(buf, http.DefaultEncodeOptions)

	s.NoError(re.Encode(input))

	s.Equal(expected, buf.String())
}

func (s *ResponseEncoderTestSuite) TestStatusLineText() {
	testcases := []struct {
		desc     string
		input    http.StatusLine
		expected string
	}{
		{
			desc:     "with reason phrase",
			input:    http.StatusLine{Version: http.Version{1, 1}, StatusCode: 200, ReasonPhrase: "OK"},
			expected: "HTTP/1.1 200 OK",
		},
		{
			desc:     "empty reason phrase",
			input:    http.StatusLine{Version: http.Version{1, 0}, StatusCode: 204},
			expected: "HTTP/1.0 204 ",
		},
	}

	for _, tc := range testcases {
		s.Run(tc.desc, func() {
			s.Equal(tc.expected, string(StatusLineText(tc.input)))
		})
	}
}

func TestResponseParserRoundTrip(t *testing.T) {
	testcases := []struct {
		desc    string
		headers []http.Field
		body    string
	}{
		{
			desc:    "content length",
			headers: []http.Field{http.NewField("Content-Length", "11")},
			body:    "hello world",
		},
		{
			desc:    "chunked",
			headers: []http.Field{http.NewField("Transfer-Encoding", "chunked")},
			body:    strings.Repeat("0123456789", 500),
		},
		{
			desc:    "chunked empty",
			headers: []http.Field{http.NewField("Transfer-Encoding", "chunked")},
			body:    "",
		},
	}

	for _, tc := range testcases {
		t.Run(tc.desc, func(t *testing.T) {
			buf := bytes.NewBuffer(nil)
			enc := NewResponseEncoder(buf, http.DefaultEncodeOptions)
			require.NoError(t, enc.Encode(http.Response{
				StatusLine: http.StatusLine{Version: http.Version11, StatusCode: 200, ReasonPhrase: "OK"},
				Headers:    tc.headers,
				Body:       strings.NewReader(tc.body),
			}))

			p := http.NewResponseParser("GET", http.DefaultParseOptions)
			require.NoError(t, p.Feed(buf.Bytes()))
			require.Equal(t, http.StateComplete, p.State())

			res, err := p.Response()
			require.NoError(t, err)
			b, err := io.ReadAll(res.Body)
			require.NoError(t, err)
			assert.Equal(t, tc.body, string(b))
		})
	}
}
