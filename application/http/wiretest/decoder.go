package wiretest

import (
	"bytes"
	"io"

	"asynchttp/application/http"
	"asynchttp/application/http/transfer"
	"asynchttp/application/util/rule"
	iolib "asynchttp/lib/io"

	"github.com/pkg/errors"
)

type DecodeOptions struct {
	// AllowSoleLF specifies wheter a single LF character should be recognized as a valid line terminator.
	//
	// Reference: https://datatracker.ietf.org/doc/html/rfc9112#section-2.2-3
	AllowSoleLF bool

	// LenientWhitespace replaces all [rule.Whitespaces] into [rule.SP].
	// And also trims preceding and trailinig whitespace.
	//
	// Reference: https://datatracker.ietf.org/doc/html/rfc9112#section-3-3
	LenientWhitespace bool

	// MaxFieldLineLength sets the limit of field line length on headers.
	MaxFieldLineLength uint

	// MaxRequestLineLength sets the limit of request line length.
	// Recommended: >= 8000
	//
	// Reference: https://datatracker.ietf.org/doc/html/rfc9112#section-3-5
	MaxRequestLineLength uint
}

var DefaultDecodeOptions = DecodeOptions{
	AllowSoleLF:          false,
	LenientWhitespace:    false,
	MaxFieldLineLength:   0,
	MaxRequestLineLength: 0,
}

type MessageDecoder struct {
	r    *iolib.UntilReader
	opts DecodeOptions
}

var (
	errLineTooLong       = errors.New("line length exceeeds limit")
	ErrMissingCRBeforeLF = errors.New("missing CR before LF")
)

func (md *MessageDecoder) readLine(limit uint) ([]byte, error) {
	b, err := md.r.ReadUntil([]byte{rule.LF})
	if err != nil {
		if errors.Is(err, io.EOF) {
			return nil, io.ErrUnexpectedEOF
		}
		return nil, err
	}

	if limit > 0 && uint(len(b)) > limit {
		return nil, errLineTooLong
	}

	b = b[:len(b)-1] // Remove LF.

	if !md.opts.AllowSoleLF {
		if len(b) == 0 || b[len(b)-1] != rule.CR {
			return nil, ErrMissingCRBeforeLF
		}
		b = b[:len(b)-1] // Remove CR.
	} else {
		b = bytes.TrimSuffix(b, []byte{rule.CR})
	}

	if md.opts.LenientWhitespace {
		for _, c := range rule.Whitespaces {
			b = bytes.ReplaceAll(b, []byte{c}, []byte{rule.SP})
		}
		b = bytes.Trim(b, string([]byte{rule.SP}))

		return b, nil
	}

	// Reference: https://datatracker.ietf.org/doc/html/rfc9112#section-2.2-4
	b = bytes.ReplaceAll(b, []byte{rule.CR}, []byte{rule.SP})

	return b, nil
}

var ErrFieldLineTooLong = errors.New("field line length exceeds limit")

func (md *MessageDecoder) decodeHeaders(headers *[]http.Field) error {
	tmpHeaders := make([]http.Field, 0)
	for {
		fieldLine, err := md.readLine(md.opts.MaxFieldLineLength)
		if err != nil {
			if errors.Is(err, errLineTooLong) {
				return ErrFieldLineTooLong
			}
			return errors.Wrap(err, "reading line")
		}

		if len(fieldLine) == 0 {
			// An empty line. This means that there are no more headers.
			break
		}

		field, err := http.ParseField(fieldLine)
		if err != nil {
			return http.ErrMalformedFieldLine
		}

		tmpHeaders = append(tmpHeaders, field)
	}

	*headers = tmpHeaders

	return nil
}

var (
	ErrRequestLineTooLong   = errors.New("request line length exceeds limit")
	ErrMalformedRequestLine = errors.New("request line is malformed")
)

// RequestDecoder reads requests off a connection.
// The body of a decoded request is delimited by its framing headers, so the
// next request can be decoded once the body is drained.
type RequestDecoder struct{ MessageDecoder }

func NewRequestDecoder(r *iolib.UntilReader, opts DecodeOptions) *RequestDecoder {
	return &RequestDecoder{
		MessageDecoder{r: r, opts: opts},
	}
}

// r MUST be a non-nil pointer
func (rd *RequestDecoder) Decode(r *http.Request) error {
	if err := rd.decodeRequestLine(&r.RequestLine); err != nil {
		return errors.Wrap(err, "parsing request line")
	}

	if err := rd.decodeHeaders(&r.Headers); err != nil {
		return errors.Wrap(err, "parsing headers")
	}

	body, err := rd.bodyReader(r.Headers)
	if err != nil {
		return errors.Wrap(err, "framing body")
	}
	r.Body = body

	return nil
}

// Reference: https://datatracker.ietf.org/doc/html/rfc9112#section-6.3
func (rd *RequestDecoder) bodyReader(headers []http.Field) (io.Reader, error) {
	if te := http.FieldValues(headers, "Transfer-Encoding"); len(te) > 0 {
		if !transfer.IsChunked(transfer.ParseCodings(te)) {
			return nil, errors.New("request with non-chunked transfer coding")
		}
		return transfer.NewChunkedReader(rd.r), nil
	}

	if cl := http.FieldValues(headers, "Content-Length"); len(cl) > 0 {
		n, err := http.ParseContentLength(cl)
		if err != nil {
			return nil, err
		}
		return iolib.ExactReader(rd.r, uint(n)), nil
	}

	// A request without framing headers has no body.
	return bytes.NewReader(nil), nil
}

func (rd *RequestDecoder) decodeRequestLine(reqLine *http.RequestLine) error {
	var line []byte
	for {
		b, err := rd.readLine(rd.opts.MaxRequestLineLength)
		if err != nil {
			if errors.Is(err, errLineTooLong) {
				return ErrRequestLineTooLong
			}
			return errors.Wrap(err, "reading line")
		}

		// An empty line can be received before message.
		// Reference: https://datatracker.ietf.org/doc/html/rfc9112#section-2.2-6
		if len(b) > 0 {
			line = b
			break
		}
	}

	parsed, err := parseRequestLine(line)
	if err != nil {
		return ErrMalformedRequestLine
	}

	*reqLine = parsed

	return nil
}

func parseRequestLine(line []byte) (http.RequestLine, error) {
	parts := bytes.Split(line, []byte{rule.SP})
	if len(parts) != 3 {
		return http.RequestLine{}, errors.New("request line is malformed")
	}

	method := string(parts[0])
	if !rule.IsValidToken(method) {
		return http.RequestLine{}, errors.New("method is not a valid token")
	}

	target := string(parts[1])
	if len(target) == 0 {
		return http.RequestLine{}, errors.New("request target should not be empty")
	}

	ver, err := http.ParseVersion(parts[2])
	if err != nil {
		return http.RequestLine{}, errors.Wrap(err, "parsing version")
	}

	return http.RequestLine{Method: method, Target: target, Version: ver}, nil
}
