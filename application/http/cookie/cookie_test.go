package cookie

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseSetCookie(t *testing.T) {
	expires := time.Date(2030, time.January, 2, 3, 4, 5, 0, time.UTC)
	maxAge := 60

	testcases := []struct {
		desc    string
		raw     string
		want    Cookie
		wantErr bool
	}{
		{
			desc: "name and value only",
			raw:  "sid=abc",
			want: Cookie{Name: "sid", Value: "abc"},
		},
		{
			desc: "all attributes",
			raw:  "sid=abc; Domain=.Example.com; Path=/a; Expires=Wed, 02 Jan 2030 03:04:05 GMT; Max-Age=60; Secure; HttpOnly; SameSite=lax",
			want: Cookie{
				Name: "sid", Value: "abc", Domain: "example.com", Path: "/a",
				Expires: &expires, MaxAge: &maxAge, Secure: true, HTTPOnly: true, SameSite: "Lax",
			},
		},
		{
			desc: "cookie style expiry date",
			raw:  "sid=abc; expires=Wed, 02-Jan-2030 03:04:05 GMT",
			want: Cookie{Name: "sid", Value: "abc", Expires: &expires},
		},
		{
			desc: "invalid attribute values are ignored",
			raw:  "sid=abc; Path=relative; Max-Age=soon; Expires=never; Unknown=1",
			want: Cookie{Name: "sid", Value: "abc"},
		},
		{
			desc: "empty value",
			raw:  "sid=; Path=/",
			want: Cookie{Name: "sid", Path: "/"},
		},
		{
			desc:    "missing equals sign",
			raw:     "sid; Path=/",
			wantErr: true,
		},
	}

	for _, tc := range testcases {
		t.Run(tc.desc, func(t *testing.T) {
			got, err := ParseSetCookie(tc.raw)
			if tc.wantErr {
				assert.ErrorIs(t, err, ErrInvalidCookie)
				return
			}
			require.NoError(t, err)
			if tc.want.Expires != nil {
				require.NotNil(t, got.Expires)
				assert.True(t, tc.want.Expires.Equal(*got.Expires))
				got.Expires, tc.want.Expires = nil, nil
			}
			assert.Equal(t, tc.want, got)
		})
	}
}

func TestCookieValidate(t *testing.T) {
	testcases := []struct {
		desc   string
		cookie Cookie
		valid  bool
	}{
		{desc: "valid", cookie: Cookie{Name: "a", Value: "b", Domain: "example.com"}, valid: true},
		{desc: "quoted value", cookie: Cookie{Name: "a", Value: `"b"`, Domain: "example.com"}, valid: true},
		{desc: "empty name", cookie: Cookie{Value: "b", Domain: "example.com"}},
		{desc: "separator in name", cookie: Cookie{Name: "a;b", Value: "b", Domain: "example.com"}},
		{desc: "space in value", cookie: Cookie{Name: "a", Value: "b c", Domain: "example.com"}},
		{desc: "no domain", cookie: Cookie{Name: "a", Value: "b"}},
	}

	for _, tc := range testcases {
		t.Run(tc.desc, func(t *testing.T) {
			err := tc.cookie.Validate()
			if tc.valid {
				assert.NoError(t, err)
			} else {
				assert.ErrorIs(t, err, ErrInvalidCookie)
			}
		})
	}
}

func TestCookieMatching(t *testing.T) {
	c := Cookie{Name: "a", Value: "1", Domain: "example.com", Path: "/a"}

	testcases := []struct {
		desc   string
		host   string
		path   string
		secure bool
		want   bool
	}{
		{desc: "exact domain and path", host: "example.com", path: "/a", want: true},
		{desc: "subdomain and sub path", host: "www.example.com", path: "/a/b", want: true},
		{desc: "domain is case insensitive", host: "WWW.Example.COM", path: "/a", want: true},
		{desc: "path without boundary", host: "example.com", path: "/ab", want: false},
		{desc: "other path", host: "example.com", path: "/b", want: false},
		{desc: "other domain", host: "other.com", path: "/a", want: false},
		{desc: "suffix without dot", host: "badexample.com", path: "/a", want: false},
	}

	now := time.Now()
	for _, tc := range testcases {
		t.Run(tc.desc, func(t *testing.T) {
			assert.Equal(t, tc.want, c.ShouldSend(tc.host, tc.path, tc.secure, now))
		})
	}

	t.Run("secure cookie needs a secure request", func(t *testing.T) {
		sc := c
		sc.Secure = true
		assert.False(t, sc.ShouldSend("example.com", "/a", false, now))
		assert.True(t, sc.ShouldSend("example.com", "/a", true, now))
	})

	t.Run("path ending in slash", func(t *testing.T) {
		pc := c
		pc.Path = "/a/"
		assert.True(t, pc.MatchesPath("/a/b"))
		assert.False(t, pc.MatchesPath("/a"))
	})

	t.Run("expired cookie is not sent", func(t *testing.T) {
		ec := c
		past := now.Add(-time.Second)
		ec.Expires = &past
		assert.False(t, ec.ShouldSend("example.com", "/a", false, now))
	})
}

func TestDefaultPath(t *testing.T) {
	testcases := []struct {
		path string
		want string
	}{
		{path: "", want: "/"},
		{path: "/", want: "/"},
		{path: "/index.html", want: "/"},
		{path: "/a/b", want: "/a"},
		{path: "/a/b/", want: "/a/b"},
		{path: "relative", want: "/"},
	}

	for _, tc := range testcases {
		t.Run(tc.path, func(t *testing.T) {
			assert.Equal(t, tc.want, defaultPath(tc.path))
		})
	}
}

func TestSetCookieString(t *testing.T) {
	expires := time.Date(2030, time.January, 2, 3, 4, 5, 0, time.UTC)
	maxAge := 0

	c := Cookie{
		Name: "sid", Value: "abc", Domain: "example.com", Path: "/",
		Expires: &expires, MaxAge: &maxAge, Secure: true, HTTPOnly: true, SameSite: "Strict",
	}

	assert.Equal(t,
		"sid=abc; Domain=example.com; Path=/; Expires=Wed, 02 Jan 2030 03:04:05 GMT; Max-Age=0; Secure; HttpOnly; SameSite=Strict",
		c.SetCookieString())
	assert.Equal(t, "sid=abc", c.String())

	parsed, err := ParseSetCookie(c.SetCookieString())
	require.NoError(t, err)
	assert.Equal(t, c.Name, parsed.Name)
	assert.True(t, c.Expires.Equal(*parsed.Expires))
}
