// Package transfer implements transfer codings of HTTP/1.1.
//
// Reference: https://datatracker.ietf.org/doc/html/rfc9112#section-7
package transfer

import (
	"strings"
)

type Coding string

const (
	CodingChunked  Coding = "chunked"
	CodingGzip     Coding = "gzip"
	CodingDeflate  Coding = "deflate"
	CodingCompress Coding = "compress"
	CodingIdentity Coding = "identity"
)

// ParseCodings splits Transfer-Encoding field values into codings.
// Coding names are case-insensitive, so they are lowercased.
//
// Reference: https://datatracker.ietf.org/doc/html/rfc9112#section-6.1
func ParseCodings(values []string) []Coding {
	codings := make([]Coding, 0, len(values))
	for _, v := range values {
		for _, part := range strings.Split(v, ",") {
			// Parameters are not used by any registered coding.
			name, _, _ := strings.Cut(part, ";")
			name = strings.ToLower(strings.TrimSpace(name))
			if name == "" {
				continue
			}
			codings = append(codings, Coding(name))
		}
	}
	return codings
}

// IsChunked reports whether chunked is the final coding.
// A message is only delimited by chunked coding when it is applied last.
//
// Reference: https://datatracker.ietf.org/doc/html/rfc9112#section-6.3-2.4.1
func IsChunked(codings []Coding) bool {
	if len(codings) == 0 {
		return false
	}
	return codings[len(codings)-1] == CodingChunked
}
