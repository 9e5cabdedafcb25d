package http

import (
	"bytes"

	"asynchttp/application/http/transfer"
	"asynchttp/application/util/rule"

	"github.com/pkg/errors"
)

type ParseOptions struct {
	// MaxHeaderBytes limits the size of the status line and the header section.
	// Zero means no limit.
	MaxHeaderBytes uint

	// MaxBodyBytes limits the size of the decoded body. Zero means no limit.
	MaxBodyBytes int64
}

var DefaultParseOptions = ParseOptions{
	MaxHeaderBytes: 1 << 20,
}

type ParserState uint8

const (
	StateHeaders ParserState = iota
	StateBody
	StateComplete
)

func (s ParserState) String() string {
	switch s {
	case StateHeaders:
		return "headers"
	case StateBody:
		return "body"
	case StateComplete:
		return "complete"
	}
	return "unknown"
}

// Framing is how the end of a response body is determined.
type Framing uint8

const (
	FramingNone Framing = iota
	FramingChunked
	FramingLength
	FramingClose
)

var (
	ErrHeaderTooLarge = errors.New("response header section exceeds limit")
	ErrBodyTooLarge   = errors.New("response body exceeds limit")
	ErrUnexpectedEOF  = errors.New("connection closed before response was complete")
	ErrIncomplete     = errors.New("response is not complete")
)

// ResponseParser parses a response from bytes pushed with [ResponseParser.Feed].
//
// It buffers until the end of the header section, skips interim (1xx)
// responses, and then frames the body by, in order of priority, chunked
// transfer coding, Content-Length, or the connection being closed.
type ResponseParser struct {
	opts   ParseOptions
	method string

	state   ParserState
	buf     []byte
	head    Response
	interim []StatusLine

	framing  Framing
	remain   int64
	chunks   *transfer.ChunkDecoder
	body     *bytes.Buffer
	total    int64
	trailers []Field
}

// NewResponseParser creates a parser for the response to a request with method.
// Responses to HEAD, and successful responses to CONNECT, have no body.
func NewResponseParser(method string, opts ParseOptions) *ResponseParser {
	return &ResponseParser{
		opts:   opts,
		method: method,
		state:  StateHeaders,
		body:   bytes.NewBuffer(nil),
		total:  -1,
	}
}

func (p *ResponseParser) State() ParserState { return p.state }
func (p *ResponseParser) Framing() Framing   { return p.framing }

// Interim returns the status lines of skipped 1xx responses.
func (p *ResponseParser) Interim() []StatusLine { return p.interim }

// Progress returns the expected body size (-1 when unknown) and the number of body bytes received.
func (p *ResponseParser) Progress() (total, received int64) {
	return p.total, int64(p.body.Len())
}

// Feed pushes bytes read from the connection.
// Bytes after a complete response are ignored.
func (p *ResponseParser) Feed(data []byte) error {
	switch p.state {
	case StateHeaders:
		p.buf = append(p.buf, data...)
		return p.parseHeads()
	case StateBody:
		return p.feedBody(data)
	}
	return nil
}

// Close tells the parser that the connection was closed.
// It completes a body delimited by connection close, and fails otherwise
// unless the response was already complete.
func (p *ResponseParser) Close() error {
	switch p.state {
	case StateComplete:
		return nil
	case StateBody:
		if p.framing == FramingClose {
			p.state = StateComplete
			return nil
		}
		if p.framing == FramingLength {
			return errors.Wrapf(ErrUnexpectedEOF, "%d bytes of body missing", p.remain)
		}
		return errors.Wrap(ErrUnexpectedEOF, "last chunk not received")
	}

	return errors.Wrap(ErrUnexpectedEOF, "header section not complete")
}

// Response returns the parsed response. Its body is fully buffered.
func (p *ResponseParser) Response() (Response, error) {
	if p.state != StateComplete {
		return Response{}, ErrIncomplete
	}

	res := p.head
	res.Body = bytes.NewReader(p.body.Bytes())
	return res, nil
}

// Trailers returns fields from the trailer section of a chunked body.
func (p *ResponseParser) Trailers() []Field { return p.trailers }

func (p *ResponseParser) parseHeads() error {
	for p.state == StateHeaders {
		// Empty lines before the status line are ignored.
		// Reference: https://datatracker.ietf.org/doc/html/rfc9112#section-2.2-6
		for bytes.HasPrefix(p.buf, rule.CRLF) {
			p.buf = p.buf[len(rule.CRLF):]
		}

		limit := int(p.opts.MaxHeaderBytes)
		idx := bytes.Index(p.buf, rule.HeadTerminator)
		if idx < 0 {
			if limit > 0 && len(p.buf) > limit {
				return ErrHeaderTooLarge
			}
			return nil
		}
		if limit > 0 && idx > limit {
			return ErrHeaderTooLarge
		}

		head, rest := p.buf[:idx], p.buf[idx+len(rule.HeadTerminator):]
		res, err := parseHead(head)
		if err != nil {
			return err
		}

		if res.StatusCode >= 100 && res.StatusCode < 200 && res.StatusCode != 101 {
			// Interim response. The final response follows.
			// Reference: https://datatracker.ietf.org/doc/html/rfc9110#section-15.2
			p.interim = append(p.interim, res.StatusLine)
			p.buf = rest
			continue
		}

		p.head = res
		p.buf = nil

		if err := p.startBody(); err != nil {
			return err
		}
		if p.state == StateBody && len(rest) > 0 {
			return p.feedBody(rest)
		}
	}

	return nil
}

func parseHead(head []byte) (Response, error) {
	lines := bytes.Split(head, rule.CRLF)

	statusLine, err := parseStatusLine(lines[0])
	if err != nil {
		return Response{}, errors.Wrap(ErrMalformedStatusLine, err.Error())
	}

	fields := make([]Field, 0, len(lines)-1)
	for _, line := range lines[1:] {
		if len(line) > 0 && (line[0] == rule.SP || line[0] == rule.HTAB) {
			// obs-fold is replaced with SP.
			// Reference: https://datatracker.ietf.org/doc/html/rfc9112#section-5.2-4
			if len(fields) == 0 {
				return Response{}, ErrMalformedFieldLine
			}
			last := &fields[len(fields)-1]
			last.Value = append(append(last.Value, rule.SP), bytes.TrimFunc(line, rule.IsOWS)...)
			continue
		}

		field, err := ParseField(line)
		if err != nil {
			return Response{}, errors.Wrap(ErrMalformedFieldLine, err.Error())
		}
		fields = append(fields, Field{Name: bytes.Clone(field.Name), Value: bytes.Clone(field.Value)})
	}

	return Response{StatusLine: statusLine, Headers: fields}, nil
}

// Reference: https://datatracker.ietf.org/doc/html/rfc9112#section-6.3
func (p *ResponseParser) startBody() error {
	code := p.head.StatusCode

	switch {
	case p.method == "HEAD",
		p.method == "CONNECT" && code >= 200 && code < 300,
		code < 200, code == 204, code == 304:
		p.framing = FramingNone
		p.state = StateComplete
		return nil
	}

	if te := FieldValues(p.head.Headers, "Transfer-Encoding"); len(te) > 0 {
		p.state = StateBody
		if transfer.IsChunked(transfer.ParseCodings(te)) {
			p.framing = FramingChunked
			p.chunks = transfer.NewChunkDecoder(bodyWriter{p})
			return nil
		}
		p.framing = FramingClose
		return nil
	}

	if cl := FieldValues(p.head.Headers, "Content-Length"); len(cl) > 0 {
		n, err := ParseContentLength(cl)
		if err != nil {
			return err
		}

		p.framing = FramingLength
		p.total = n
		p.remain = n
		p.state = StateBody
		if n == 0 {
			p.state = StateComplete
		}
		return nil
	}

	p.framing = FramingClose
	p.state = StateBody
	return nil
}

func (p *ResponseParser) feedBody(data []byte) error {
	switch p.framing {
	case FramingLength:
		// Bytes beyond the declared length are not part of this response.
		n := min(int64(len(data)), p.remain)
		if err := p.appendBody(data[:n]); err != nil {
			return err
		}
		p.remain -= n
		if p.remain == 0 {
			p.state = StateComplete
		}

	case FramingChunked:
		if _, err := p.chunks.Write(data); err != nil {
			return errors.Wrap(err, "decoding chunked body")
		}
		if p.chunks.Done() {
			for _, line := range p.chunks.Trailers() {
				field, err := ParseField(line)
				if err != nil {
					return errors.Wrap(err, "parsing trailer")
				}
				p.trailers = append(p.trailers, field)
			}
			p.state = StateComplete
		}

	case FramingClose:
		return p.appendBody(data)
	}

	return nil
}

func (p *ResponseParser) appendBody(b []byte) error {
	if p.opts.MaxBodyBytes > 0 && int64(p.body.Len()+len(b)) > p.opts.MaxBodyBytes {
		return ErrBodyTooLarge
	}
	p.body.Write(b)
	return nil
}

type bodyWriter struct{ p *ResponseParser }

func (w bodyWriter) Write(b []byte) (int, error) {
	if err := w.p.appendBody(b); err != nil {
		return 0, err
	}
	return len(b), nil
}
