// Package cookie stores HTTP cookies and attaches them to requests.
//
// Reference: https://datatracker.ietf.org/doc/html/rfc6265
package cookie

import (
	"strconv"
	"strings"
	"time"

	"asynchttp/application/http/semantic"
	"asynchttp/application/util/domain"
	"asynchttp/application/util/rule"

	"github.com/pkg/errors"
)

var ErrInvalidCookie = errors.New("invalid cookie")

// Cookie is a cookie as received in a Set-Cookie header field.
// Expires and MaxAge are nil when the attribute is absent.
type Cookie struct {
	Name     string
	Value    string
	Domain   string
	Path     string
	Expires  *time.Time
	MaxAge   *int
	Secure   bool
	HTTPOnly bool
	SameSite string
}

// ParseSetCookie parses the value of a Set-Cookie header field.
// Unknown attributes and attributes with unparsable values are ignored.
//
// Reference: https://datatracker.ietf.org/doc/html/rfc6265#section-5.2
func ParseSetCookie(raw string) (Cookie, error) {
	parts := strings.Split(raw, ";")

	nameValue := strings.TrimSpace(parts[0])
	name, value, ok := strings.Cut(nameValue, "=")
	if !ok {
		return Cookie{}, errors.Wrapf(ErrInvalidCookie, "missing '=' in %q", nameValue)
	}

	c := Cookie{
		Name:  strings.TrimSpace(name),
		Value: strings.TrimSpace(value),
	}

	for _, part := range parts[1:] {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		key, val, _ := strings.Cut(part, "=")
		val = strings.TrimSpace(val)

		switch strings.ToLower(strings.TrimSpace(key)) {
		case "domain":
			c.Domain = strings.ToLower(strings.TrimPrefix(val, "."))
		case "path":
			if strings.HasPrefix(val, "/") {
				c.Path = val
			}
		case "expires":
			if t, err := semantic.ParseDate(val); err == nil {
				c.Expires = &t
			}
		case "max-age":
			if n, err := strconv.Atoi(val); err == nil {
				c.MaxAge = &n
			}
		case "secure":
			c.Secure = true
		case "httponly":
			c.HTTPOnly = true
		case "samesite":
			if val != "" {
				c.SameSite = strings.ToUpper(val[:1]) + strings.ToLower(val[1:])
			}
		}
	}

	return c, nil
}

// Validate checks the name, value and domain of c.
func (c Cookie) Validate() error {
	if c.Name == "" {
		return errors.Wrap(ErrInvalidCookie, "the cookie name must not be empty")
	}
	if !rule.IsValidToken(c.Name) {
		return errors.Wrapf(ErrInvalidCookie, "cookie name %q contains invalid characters", c.Name)
	}
	if !rule.IsValidCookieValue(c.Value) {
		return errors.Wrapf(ErrInvalidCookie, "cookie %q has an invalid value", c.Name)
	}
	if c.Domain == "" {
		return errors.Wrapf(ErrInvalidCookie, "cookie %q has no domain", c.Name)
	}
	if _, err := domain.ToASCII(c.Domain); err != nil {
		return errors.Wrapf(ErrInvalidCookie, "cookie %q: %s", c.Name, err)
	}
	return nil
}

// IsSession reports whether c has neither Expires nor Max-Age.
func (c Cookie) IsSession() bool { return c.Expires == nil && c.MaxAge == nil }

// Expired reports whether c has expired at now.
func (c Cookie) Expired(now time.Time) bool {
	return c.Expires != nil && !now.Before(*c.Expires)
}

// MatchesDomain reports whether c is sent to host: the domains are equal,
// or host is a subdomain of the cookie domain.
//
// Reference: https://datatracker.ietf.org/doc/html/rfc6265#section-5.1.3
func (c Cookie) MatchesDomain(host string) bool {
	host = strings.ToLower(strings.Trim(host, "[]"))
	if c.Domain == "" || host == c.Domain {
		return true
	}
	return strings.HasSuffix(host, "."+c.Domain)
}

// MatchesPath reports whether c is sent to requests for path.
//
// Reference: https://datatracker.ietf.org/doc/html/rfc6265#section-5.1.4
func (c Cookie) MatchesPath(path string) bool {
	cookiePath := c.Path
	if cookiePath == "" {
		cookiePath = "/"
	}
	if path == cookiePath {
		return true
	}
	if !strings.HasPrefix(path, cookiePath) {
		return false
	}
	return strings.HasSuffix(cookiePath, "/") || path[len(cookiePath)] == '/'
}

// ShouldSend reports whether c is attached to a request for host and path at now.
func (c Cookie) ShouldSend(host, path string, secure bool, now time.Time) bool {
	switch {
	case c.Expired(now):
		return false
	case !c.MatchesDomain(host):
		return false
	case !c.MatchesPath(path):
		return false
	case c.Secure && !secure:
		return false
	}
	return true
}

// String returns the cookie-pair "name=value".
func (c Cookie) String() string { return c.Name + "=" + c.Value }

// SetCookieString serializes c as a Set-Cookie header field value.
func (c Cookie) SetCookieString() string {
	parts := []string{c.String()}
	if c.Domain != "" {
		parts = append(parts, "Domain="+c.Domain)
	}
	if c.Path != "" {
		parts = append(parts, "Path="+c.Path)
	}
	if c.Expires != nil {
		parts = append(parts, "Expires="+semantic.FormatDate(*c.Expires))
	}
	if c.MaxAge != nil {
		parts = append(parts, "Max-Age="+strconv.Itoa(*c.MaxAge))
	}
	if c.Secure {
		parts = append(parts, "Secure")
	}
	if c.HTTPOnly {
		parts = append(parts, "HttpOnly")
	}
	if c.SameSite != "" {
		parts = append(parts, "SameSite="+c.SameSite)
	}
	return strings.Join(parts, "; ")
}

func (c Cookie) key() key { return key{domain: c.Domain, path: c.Path, name: c.Name} }

type key struct {
	domain, path, name string
}

// defaultPath returns the directory of a request path.
//
// Reference: https://datatracker.ietf.org/doc/html/rfc6265#section-5.1.4
func defaultPath(requestPath string) string {
	if !strings.HasPrefix(requestPath, "/") {
		return "/"
	}
	idx := strings.LastIndexByte(requestPath, '/')
	if idx == 0 {
		return "/"
	}
	return requestPath[:idx]
}
