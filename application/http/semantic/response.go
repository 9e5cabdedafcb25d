package semantic

import (
	"io"
	"maps"

	"asynchttp/application/http"
	"asynchttp/application/http/semantic/status"

	"github.com/pkg/errors"
)

// Response is an immutable HTTP response.
type Response struct {
	message

	status status.Status
	attrs  map[any]any
}

// NewResponse creates a response with the registered reason phrase of code.
// A nil body is replaced with an empty one.
func NewResponse(code int, headers Headers, body Body) *Response {
	st, _ := status.FromCode(code)
	return &Response{
		message: newMessage(headers, body),
		status:  st,
	}
}

func (r *Response) StatusCode() int       { return r.status.Code }
func (r *Response) ReasonPhrase() string  { return r.status.ReasonPhrase }
func (r *Response) Status() status.Status { return r.status }

// WithStatus replaces the status. An empty reason uses the registered phrase of code.
func (r *Response) WithStatus(code int, reason string) *Response {
	c := r.clone()
	c.status, _ = status.FromCode(code)
	if reason != "" {
		c.status.ReasonPhrase = reason
	}
	return c
}

func (r *Response) WithHeader(key string, values ...string) *Response {
	c := r.clone()
	c.headers.Set(key, values...)
	return c
}

func (r *Response) WithAddedHeader(key string, values ...string) *Response {
	c := r.clone()
	c.headers.Add(key, values...)
	return c
}

func (r *Response) WithoutHeader(key string) *Response {
	c := r.clone()
	c.headers.Del(key)
	return c
}

func (r *Response) WithBody(body Body) *Response {
	if body == nil {
		body = EmptyBody()
	}
	c := r.clone()
	c.body = body
	return c
}

func (r *Response) WithVersion(version http.Version) *Response {
	c := r.clone()
	c.version = version
	return c
}

func (r *Response) Equal(other *Response) bool {
	if r == nil || other == nil {
		return r == other
	}
	return r.status == other.status && r.message.equal(other.message)
}

func (r *Response) RawResponse() http.Response {
	return http.Response{
		StatusLine: http.StatusLine{
			Version:      r.version,
			StatusCode:   r.status.Code,
			ReasonPhrase: r.status.ReasonPhrase,
		},
		Headers: r.headers.Fields(),
		Body:    r.body,
	}
}

// ResponseFrom creates a response from its wire form, reading the whole body.
func ResponseFrom(raw http.Response) (*Response, error) {
	body := EmptyBody()
	if raw.Body != nil {
		data, err := io.ReadAll(raw.Body)
		if err != nil {
			return nil, errors.Wrap(err, "reading response body")
		}
		body = NewBytesBody(data)
	}

	res := &Response{
		message: newMessage(HeadersFrom(raw.Headers), body),
		status:  status.Status{Code: raw.StatusCode, ReasonPhrase: raw.ReasonPhrase},
	}
	res.version = raw.Version
	return res, nil
}

// WithAttribute returns a copy of r carrying value under key.
// Attributes describe how the response was obtained and are never sent on the wire.
func (r *Response) WithAttribute(key, value any) *Response {
	c := r.clone()
	c.attrs = maps.Clone(r.attrs)
	if c.attrs == nil {
		c.attrs = make(map[any]any, 1)
	}
	c.attrs[key] = value
	return c
}

func (r *Response) Attribute(key any) (any, bool) {
	v, ok := r.attrs[key]
	return v, ok
}

func (r *Response) clone() *Response {
	c := *r
	c.message = r.message.clone()
	return &c
}
