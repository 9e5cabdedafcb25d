package semantic

import (
	"bytes"
	"sort"
	"strings"

	"asynchttp/application/http"
	"asynchttp/application/util/rule"
)

// Headers is an ordered, case-insensitive multimap of header fields.
// Names are kept in the order they were first added.
// The zero value is an empty set of headers ready to use.
type Headers struct {
	entries []headerEntry
}

type headerEntry struct {
	name   string
	values []string
}

// NewHeaders creates headers from initial.
// Map iteration order is random, so names are added in sorted order.
func NewHeaders(initial map[string][]string) Headers {
	keys := make([]string, 0, len(initial))
	for k := range initial {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var h Headers
	for _, k := range keys {
		h.Set(k, initial[k]...)
	}
	return h
}

// HeadersFrom creates semantic headers from raw fields.
// Each field line becomes one value. Lines with the same name are appended in order.
// Reference: https://datatracker.ietf.org/doc/html/rfc9110#section-5.3-1
func HeadersFrom(fields []http.Field) Headers {
	var h Headers
	for _, field := range fields {
		h.Add(string(field.Name), string(field.Value))
	}
	return h
}

// Fields returns wire fields, one per value.
func (h Headers) Fields() []http.Field {
	fields := make([]http.Field, 0, len(h.entries))
	for _, e := range h.entries {
		for _, v := range e.values {
			fields = append(fields, http.NewField(e.name, v))
		}
	}
	return fields
}

// Get assumes the field is a singleton field.
// Even if key has multiple values, it will only return the first element of values.
// For list-based field, use [Headers.Values] or [Headers.Line].
func (h Headers) Get(key string) (value string, ok bool) {
	e := h.find(key)
	if e < 0 || len(h.entries[e].values) == 0 {
		return "", false
	}
	return h.entries[e].values[0], true
}

func (h Headers) Values(key string) []string {
	e := h.find(key)
	if e < 0 {
		return nil
	}
	return append([]string(nil), h.entries[e].values...)
}

// Line returns all values of key joined with a comma.
// It returns an empty string when key is absent.
func (h Headers) Line(key string) string {
	return strings.Join(h.Values(key), ", ")
}

// Tokens splits every value of a list-based field into its elements.
// Reference: https://datatracker.ietf.org/doc/html/rfc9110#section-5.6.1
func (h Headers) Tokens(key string) []string {
	tokens := make([]string, 0)
	for _, v := range h.Values(key) {
		tokens = append(tokens, tokenizeFieldValues([]byte(v))...)
	}
	return tokens
}

func (h Headers) Has(key string) bool { return h.find(key) >= 0 }

// Names returns the field names in insertion order.
func (h Headers) Names() []string {
	names := make([]string, len(h.entries))
	for i, e := range h.entries {
		names[i] = e.name
	}
	return names
}

func (h Headers) Len() int { return len(h.entries) }

func (h Headers) Clone() Headers {
	entries := make([]headerEntry, len(h.entries))
	for i, e := range h.entries {
		entries[i] = headerEntry{name: e.name, values: append([]string(nil), e.values...)}
	}
	return Headers{entries: entries}
}

// Equal reports whether h and other have the same names, values, and order.
func (h Headers) Equal(other Headers) bool {
	if len(h.entries) != len(other.entries) {
		return false
	}
	for i, e := range h.entries {
		o := other.entries[i]
		if !strings.EqualFold(e.name, o.name) || len(e.values) != len(o.values) {
			return false
		}
		for j := range e.values {
			if e.values[j] != o.values[j] {
				return false
			}
		}
	}
	return true
}

// Set replaces the values of key. The position of an existing field is kept.
func (h *Headers) Set(key string, values ...string) {
	values = append([]string(nil), values...)
	if e := h.find(key); e >= 0 {
		h.entries[e].values = values
		return
	}
	h.entries = append(h.entries, headerEntry{name: canonical(key), values: values})
}

func (h *Headers) Add(key string, values ...string) {
	if e := h.find(key); e >= 0 {
		h.entries[e].values = append(h.entries[e].values, values...)
		return
	}
	h.entries = append(h.entries, headerEntry{name: canonical(key), values: append([]string(nil), values...)})
}

// Prepend sets key as the first field.
func (h *Headers) Prepend(key string, values ...string) {
	h.Del(key)
	entry := headerEntry{name: canonical(key), values: append([]string(nil), values...)}
	h.entries = append([]headerEntry{entry}, h.entries...)
}

func (h *Headers) Del(key string) {
	if e := h.find(key); e >= 0 {
		h.entries = append(h.entries[:e:e], h.entries[e+1:]...)
	}
}

func (h Headers) find(key string) int {
	for i, e := range h.entries {
		if strings.EqualFold(e.name, key) {
			return i
		}
	}
	return -1
}

func canonical(s string) string {
	if rule.IsValidToken(s) {
		s = toCanonicalFieldName(s)
	}
	return s
}

// This only works for valid token.
func toCanonicalFieldName(s string) string {
	const capitalDiff = 'a' - 'A'
	b := []byte(s)
	upper := true
	for i, c := range b {
		if upper && 'a' <= c && c <= 'z' {
			c -= capitalDiff
		} else if !upper && 'A' <= c && c <= 'Z' {
			c += capitalDiff
		}
		b[i] = c
		upper = c == '-'
	}
	return string(b)
}

func tokenizeFieldValues(fieldValue []byte) []string {
	tokens := make([]string, 0)
	buf := bytes.NewBuffer(nil)

	parts := bytes.Split(fieldValue, []byte{','})

	// Reference: https://datatracker.ietf.org/doc/html/rfc9110#section-5.6.4-1
	quoted := false

	for _, part := range parts {
		if quoted {
			// Comma inside quote, let's write it again.
			buf.WriteByte(',')
		}

		for idx := 0; idx < len(part); idx++ {
			c := part[idx]
			if c == '"' {
				quoted = !quoted
			}

			buf.WriteByte(c)
		}

		if !quoted {
			tokens = addToken(tokens, buf.Bytes())
			buf.Reset()
		}
	}

	if buf.Len() > 0 {
		// Quote didn't end properly.
		// At least write the raw token.
		tokens = addToken(tokens, buf.Bytes())
	}

	return tokens
}

func addToken(tokens []string, token []byte) []string {
	token = bytes.TrimFunc(token, rule.IsWhitespace)
	token = rule.Unquote(token)
	if len(token) == 0 {
		// Don't append if it's empty.
		return tokens
	}
	return append(tokens, string(token))
}
