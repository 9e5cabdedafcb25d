package semantic

import (
	"testing"

	"asynchttp/application/http"
	"asynchttp/application/util/rule"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewHeaders(t *testing.T) {
	initial := map[string][]string{
		"Hello":     {"world!"},
		"some-word": {"A"},
	}

	headers := NewHeaders(initial)

	assert.Equal(t, []string{"Hello", "Some-Word"}, headers.Names())
	assert.Equal(t, []string{"A"}, headers.Values("Some-Word"))

	initial["Hello"][0] = "there"
	assert.Equal(t, []string{"world!"}, headers.Values("Hello"))
}

func TestHeadersFrom(t *testing.T) {
	testcases := []struct {
		desc     string
		input    []http.Field
		expected []http.Field
		names    []string
	}{
		{
			desc: "general case",
			input: []http.Field{
				http.NewField("Content-Type", "Hey"),
				http.NewField("non-canonical", "Hey"),
				http.NewField("Multiple-Values", "Hey, There"),
			},
			expected: []http.Field{
				http.NewField("Content-Type", "Hey"),
				http.NewField("Non-Canonical", "Hey"),
				http.NewField("Multiple-Values", "Hey, There"),
			},
			names: []string{"Content-Type", "Non-Canonical", "Multiple-Values"},
		},
		{
			desc: "duplicate field name appends",
			input: []http.Field{
				http.NewField("Set-Cookie", "a=1"),
				http.NewField("X-Other", "x"),
				http.NewField("set-cookie", "b=2"),
			},
			expected: []http.Field{
				http.NewField("Set-Cookie", "a=1"),
				http.NewField("Set-Cookie", "b=2"),
				http.NewField("X-Other", "x"),
			},
			names: []string{"Set-Cookie", "X-Other"},
		},
		{
			desc:     "empty",
			input:    nil,
			expected: []http.Field{},
			names:    []string{},
		},
	}
	for _, tc := range testcases {
		t.Run(tc.desc, func(t *testing.T) {
			headers := HeadersFrom(tc.input)
			assert.Equal(t, tc.expected, headers.Fields())
			assert.Equal(t, tc.names, headers.Names())
		})
	}
}

func TestHeaderGet(t *testing.T) {
	h := NewHeaders(map[string][]string{
		"abc": {"abc", "def"},
		"ghi": {},
	})

	v, ok := h.Get("ABC")
	assert.True(t, ok)
	assert.Equal(t, "abc", v)

	v, ok = h.Get("ghi")
	assert.False(t, ok)
	assert.Empty(t, v)

	v, ok = h.Get("jkl")
	assert.False(t, ok)
	assert.Empty(t, v)
}

func TestHeaderValues(t *testing.T) {
	h := NewHeaders(map[string][]string{
		"abc": {"abc", "def"},
		"ghi": {},
	})

	assert.Equal(t, []string{"abc", "def"}, h.Values("abc"))
	assert.Equal(t, "abc, def", h.Line("Abc"))
	assert.True(t, h.Has("ghi"))
	assert.Empty(t, h.Values("ghi"))
	assert.False(t, h.Has("jkl"))
	assert.Empty(t, h.Line("jkl"))

	// Returned slices don't alias.
	h.Values("abc")[0] = "changed"
	assert.Equal(t, "abc", h.Values("abc")[0])
}

func TestHeaderSet(t *testing.T) {
	h := Headers{}

	h.Set("key", "value")
	h.Set("other", "x")
	assert.Equal(t, []string{"value"}, h.Values("Key"))

	h.Set("KEY", "non-value", "second")
	assert.Equal(t, []string{"non-value", "second"}, h.Values("key"))
	assert.Equal(t, []string{"Key", "Other"}, h.Names())
}

func TestHeaderAdd(t *testing.T) {
	h := Headers{}

	h.Add("key", "value")
	assert.Equal(t, []string{"value"}, h.Values("key"))

	h.Add("Key", "non-value")
	assert.Equal(t, []string{"value", "non-value"}, h.Values("key"))
	assert.Equal(t, 1, h.Len())
}

func TestHeaderPrepend(t *testing.T) {
	h := Headers{}
	h.Add("A", "a")
	h.Add("Host", "old")

	h.Prepend("host", "new")
	assert.Equal(t, []string{"Host", "A"}, h.Names())
	assert.Equal(t, []string{"new"}, h.Values("Host"))
}

func TestHeaderDel(t *testing.T) {
	h := NewHeaders(nil)

	h.Add("a", "1")
	h.Add("key", "value")
	h.Add("b", "2")
	require.True(t, h.Has("key"))

	clone := h.Clone()

	h.Del("KEY")
	assert.False(t, h.Has("key"))
	assert.Equal(t, []string{"A", "B"}, h.Names())

	// The clone isn't affected.
	assert.Equal(t, []string{"A", "Key", "B"}, clone.Names())

	// Deleting an absent key is a no-op.
	h.Del("missing")
	assert.Equal(t, 2, h.Len())
}

func TestHeadersEqual(t *testing.T) {
	a := Headers{}
	a.Add("A", "1", "2")
	a.Add("B", "x")

	b := a.Clone()
	assert.True(t, a.Equal(b))

	b.Add("A", "3")
	assert.False(t, a.Equal(b))

	c := Headers{}
	c.Add("B", "x")
	c.Add("A", "1", "2")
	assert.False(t, a.Equal(c), "order matters")
}

func TestHeaderTokens(t *testing.T) {
	h := Headers{}
	h.Add("Accept-Encoding", "gzip, deflate")
	h.Add("Accept-Encoding", "br")

	assert.Equal(t, []string{"gzip", "deflate", "br"}, h.Tokens("accept-encoding"))
	assert.Empty(t, h.Tokens("missing"))
}

func TestToCanonicalFieldName(t *testing.T) {
	testcases := []struct {
		desc     string
		input    string
		expected string
	}{
		{
			desc:     "all lowercase",
			input:    "content-type",
			expected: "Content-Type",
		},
		{
			desc:     "all uppercase",
			input:    "CONTENT-TYPE",
			expected: "Content-Type",
		},
		{
			desc:     "mixed case",
			input:    "cOnTeNt-TyPe",
			expected: "Content-Type",
		},
		{
			desc:     "single word",
			input:    "contenttype",
			expected: "Contenttype",
		},
		{
			desc:     "empty string",
			input:    "",
			expected: "",
		},
		{
			desc:     "already canonical",
			input:    "Content-Type",
			expected: "Content-Type",
		},
	}
	for _, tc := range testcases {
		t.Run(tc.desc, func(t *testing.T) {
			result := toCanonicalFieldName(tc.input)
			assert.Equal(t, tc.expected, result)
		})
	}
}

func TestCanonicalKeepsInvalidTokens(t *testing.T) {
	assert.Equal(t, "bad name", canonical("bad name"))
	assert.Equal(t, "X-Request-Id", canonical("x-request-id"))
}

func TestTokenizeFieldValues(t *testing.T) {
	testcases := []struct {
		desc     string
		input    []byte
		expected []string
	}{
		{
			desc:     "single value",
			input:    []byte("hello world"),
			expected: []string{"hello world"},
		},
		{
			desc:     "multiple values with comma",
			input:    []byte("foo, bar,baz"),
			expected: []string{"foo", "bar", "baz"},
		},
		{
			desc:     "quoted value",
			input:    []byte("\"foo\""),
			expected: []string{"foo"},
		},
		{
			desc:     "quoted values with comma",
			input:    []byte("\"foo\", \"bar\""),
			expected: []string{"foo", "bar"},
		},
		{
			desc:     "comma inside quoted string",
			input:    []byte("foo \",bar\""),
			expected: []string{"foo \",bar\""},
		},
		{
			desc:     "empty values",
			input:    []byte("foo, , , bar, "),
			expected: []string{"foo", "bar"},
		},
		{
			desc:     "malformed quote",
			input:    []byte("\"foo, bar"),
			expected: []string{"\"foo, bar"},
		},
	}
	for _, tc := range testcases {
		t.Run(tc.desc, func(t *testing.T) {
			output := tokenizeFieldValues(tc.input)
			assert.Equal(t, tc.expected, output)
		})
	}
}

func TestAddToken(t *testing.T) {
	testcases := []struct {
		desc     string
		input    []byte
		expected []string
	}{
		{
			desc:     "empty token",
			input:    []byte(""),
			expected: []string{},
		},
		{
			desc:     "only whitespaces",
			input:    rule.Whitespaces,
			expected: []string{},
		},
		{
			desc:     "normal value",
			input:    []byte("Hello"),
			expected: []string{"Hello"},
		},
		{
			desc:     "quoted value",
			input:    []byte("\"Hello\""),
			expected: []string{"Hello"},
		},
		{
			desc:     "quoted value (not entirely wrapped)",
			input:    []byte("He\"llo\""),
			expected: []string{"He\"llo\""},
		},
	}
	for _, tc := range testcases {
		t.Run(tc.desc, func(t *testing.T) {
			initial := []string{}
			output := addToken(initial, tc.input)
			assert.Equal(t, tc.expected, output)
		})
	}
}
