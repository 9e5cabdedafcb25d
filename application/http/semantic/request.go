package semantic

import (
	"io"

	"asynchttp/application/http"
	"asynchttp/application/util/uri"

	"github.com/pkg/errors"
)

// Request is an immutable HTTP request.
// Every With method returns a modified copy and leaves the receiver untouched.
type Request struct {
	message

	method Method
	uri    uri.URI
}

// NewRequest creates a request. A Host header is derived from u unless headers already has one.
// A nil body is replaced with an empty one.
func NewRequest(method Method, u uri.URI, headers Headers, body Body) *Request {
	r := &Request{
		message: newMessage(headers, body),
		method:  method,
		uri:     u.Clone(),
	}
	if !r.headers.Has("Host") {
		r.updateHost()
	}
	return r
}

func (r *Request) Method() Method { return r.method }

// URI returns a copy of the request URI.
func (r *Request) URI() uri.URI { return r.uri.Clone() }

// Target returns the origin-form request target.
func (r *Request) Target() string { return r.uri.RequestTarget() }

func (r *Request) WithMethod(method Method) *Request {
	c := r.clone()
	c.method = method
	return c
}

// WithURI replaces the URI and the Host header derived from it.
func (r *Request) WithURI(u uri.URI) *Request {
	c := r.clone()
	c.uri = u.Clone()
	c.updateHost()
	return c
}

// WithHeader replaces the values of key.
func (r *Request) WithHeader(key string, values ...string) *Request {
	c := r.clone()
	c.headers.Set(key, values...)
	return c
}

func (r *Request) WithAddedHeader(key string, values ...string) *Request {
	c := r.clone()
	c.headers.Add(key, values...)
	return c
}

func (r *Request) WithoutHeader(key string) *Request {
	c := r.clone()
	c.headers.Del(key)
	return c
}

func (r *Request) WithHeaders(headers Headers) *Request {
	c := r.clone()
	c.headers = headers.Clone()
	return c
}

// WithBody replaces the body. A nil body is replaced with an empty one.
func (r *Request) WithBody(body Body) *Request {
	if body == nil {
		body = EmptyBody()
	}
	c := r.clone()
	c.body = body
	return c
}

func (r *Request) WithVersion(version http.Version) *Request {
	c := r.clone()
	c.version = version
	return c
}

// Equal reports structural equality.
// Bodies are equal when both are in-memory with the same content, or are the same stream.
func (r *Request) Equal(other *Request) bool {
	if r == nil || other == nil {
		return r == other
	}
	return r.method == other.method &&
		r.uri.String() == other.uri.String() &&
		r.message.equal(other.message)
}

// RawRequest returns the wire form of r with an origin-form target.
func (r *Request) RawRequest() http.Request {
	return http.Request{
		RequestLine: http.RequestLine{
			Method:  string(r.method),
			Target:  r.Target(),
			Version: r.version,
		},
		Headers: r.headers.Fields(),
		Body:    r.body,
	}
}

// RequestFrom creates a request from its wire form, reading the whole body.
// An origin-form target is resolved against the Host header with the http scheme.
func RequestFrom(raw http.Request) (*Request, error) {
	headers := HeadersFrom(raw.Headers)

	target := raw.Target
	if host, ok := headers.Get("Host"); ok && len(target) > 0 && target[0] == '/' {
		target = "http://" + host + target
	}

	u, err := uri.Parse(target)
	if err != nil {
		return nil, errors.Wrap(err, "parsing request target")
	}

	body := EmptyBody()
	if raw.Body != nil {
		data, err := io.ReadAll(raw.Body)
		if err != nil {
			return nil, errors.Wrap(err, "reading request body")
		}
		body = NewBytesBody(data)
	}

	r := NewRequest(Method(raw.Method), u, headers, body)
	r.version = raw.Version
	return r, nil
}

func (r *Request) clone() *Request {
	c := *r
	c.message = r.message.clone()
	c.uri = r.uri.Clone()
	return &c
}

func (r *Request) updateHost() {
	host := r.uri.HostHeader()
	if host == "" {
		return
	}
	// Host goes first.
	// Reference: https://datatracker.ietf.org/doc/html/rfc9110#section-7.2-5
	r.headers.Prepend("Host", host)
}
