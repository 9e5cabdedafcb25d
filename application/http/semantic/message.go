package semantic

import (
	"bytes"

	"asynchttp/application/http"
)

// message is the part shared by requests and responses.
// It is never mutated after construction; copies are made by the With methods.
type message struct {
	version http.Version
	headers Headers
	body    Body
}

func newMessage(headers Headers, body Body) message {
	if body == nil {
		body = EmptyBody()
	}
	return message{version: http.Version11, headers: headers.Clone(), body: body}
}

func (m message) Version() http.Version { return m.version }

// Headers returns a copy of the headers.
func (m message) Headers() Headers { return m.headers.Clone() }

// Header returns the values of key joined with a comma.
func (m message) Header(key string) string { return m.headers.Line(key) }

func (m message) HeaderValues(key string) []string { return m.headers.Values(key) }
func (m message) HasHeader(key string) bool        { return m.headers.Has(key) }
func (m message) Body() Body                       { return m.body }

func (m message) clone() message {
	m.headers = m.headers.Clone()
	return m
}

func (m message) equal(other message) bool {
	return m.version == other.version &&
		m.headers.Equal(other.headers) &&
		bodyEqual(m.body, other.body)
}

func bodyEqual(a, b Body) bool {
	ab, aok := a.(*BytesBody)
	bb, bok := b.(*BytesBody)
	if aok && bok {
		return bytes.Equal(ab.Bytes(), bb.Bytes())
	}
	return a == b
}
