package http

import (
	"bufio"
	"bytes"
	"io"

	"asynchttp/application/http/transfer"
	"asynchttp/application/util/rule"

	"github.com/pkg/errors"
)

type EncodeOptions struct {
	// UseSoleLF specifies wheter a single LF character should be used as a line terminator.
	//
	// Reference: https://datatracker.ietf.org/doc/html/rfc9112#section-2.2-3
	UseSoleLF bool
}

var DefaultEncodeOptions = EncodeOptions{
	UseSoleLF: false,
}

type MessageEncoder struct {
	bw   *bufio.Writer
	opts EncodeOptions
}

func (me *MessageEncoder) writeLine(line []byte) error {
	if _, err := me.bw.Write(line); err != nil {
		return errors.Wrap(err, "writing line")
	}

	term := rule.CRLF
	if me.opts.UseSoleLF {
		term = term[1:]
	}

	if _, err := me.bw.Write(term); err != nil {
		return errors.Wrap(err, "writing line terminator")
	}

	return nil
}

func (me *MessageEncoder) encodeHeaders(headers []Field) error {
	for _, field := range headers {
		if err := me.writeLine(field.Text()); err != nil {
			return errors.Wrap(err, "writing field")
		}
	}

	// Write a empty line as all the headers are written.
	if err := me.writeLine(nil); err != nil {
		return errors.Wrap(err, "writing line terminator")
	}

	return nil
}

// encodeBody writes body as is, or as chunks when chunked is the final transfer coding.
func (me *MessageEncoder) encodeBody(headers []Field, body io.Reader) error {
	chunked := transfer.IsChunked(transfer.ParseCodings(FieldValues(headers, "Transfer-Encoding")))
	if body == nil && !chunked {
		return nil
	}
	if body == nil {
		body = bytes.NewReader(nil)
	}

	if !chunked {
		if _, err := me.bw.ReadFrom(body); err != nil {
			return errors.Wrap(err, "writing body")
		}
		return nil
	}

	cw := transfer.NewChunkedWriter(me.bw)
	if _, err := io.Copy(cw, body); err != nil {
		return errors.Wrap(err, "writing chunked body")
	}
	if err := cw.Close(); err != nil {
		return errors.Wrap(err, "writing last chunk")
	}

	return nil
}

// NewMessageEncoder returns an encoder writing whole messages to w.
func NewMessageEncoder(w io.Writer, opts EncodeOptions) *MessageEncoder {
	return &MessageEncoder{bw: bufio.NewWriter(w), opts: opts}
}

// EncodeMessage writes startLine and headers, then body framed as headers say.
// The head is flushed before the body is read.
func (me *MessageEncoder) EncodeMessage(startLine []byte, headers []Field, body io.Reader) error {
	if err := me.writeLine(startLine); err != nil {
		return errors.Wrap(err, "encoding start line")
	}

	if err := me.encodeHeaders(headers); err != nil {
		return errors.Wrap(err, "encoding headers")
	}

	if err := me.bw.Flush(); err != nil {
		return errors.Wrap(err, "flushing start line & header")
	}

	if err := me.encodeBody(headers, body); err != nil {
		return errors.Wrap(err, "encoding body")
	}

	if err := me.bw.Flush(); err != nil {
		return errors.Wrap(err, "flushing body")
	}

	return nil
}

type RequestEncoder struct{ MessageEncoder }

func NewRequestEncoder(w io.Writer, opts EncodeOptions) *RequestEncoder {
	return &RequestEncoder{*NewMessageEncoder(w, opts)}
}

func (re *RequestEncoder) Encode(request Request) error {
	if err := re.EncodeMessage(request.RequestLine.Text(), request.Headers, request.Body); err != nil {
		return errors.Wrap(err, "encoding request")
	}
	return nil
}
