package uri

import (
	"net"
	"strconv"
	"strings"

	"github.com/pkg/errors"
)

// URI is a parsed URI reference.
//
// Host and UserInfo are stored decoded. Path, Query and Fragment keep
// their percent-encoded form so that a parsed URI serializes back
// without changing the meaning of reserved characters.
type URI struct {
	Scheme    string
	Authority *Authority
	Path      string
	Query     *string
	Fragment  *string
}

type Authority struct {
	UserInfo string
	Host     string
	// Port is kept as uint16 for usability even though the RFC
	// allows any number of digits.
	// Reference: https://datatracker.ietf.org/doc/html/rfc3986#section-3.2.3
	Port *uint16
}

// Reference: https://datatracker.ietf.org/doc/html/rfc3986#section-4.2
func (u URI) IsRelativeRef() bool {
	return u.Scheme == ""
}

// Reference: https://datatracker.ietf.org/doc/html/rfc3986#section-4.3
func (u URI) IsAbsoluteURI() bool {
	return u.Scheme != "" && u.Fragment == nil
}

// Clone returns a deep copy of u.
func (u URI) Clone() URI {
	out := u
	if u.Authority != nil {
		a := *u.Authority
		if a.Port != nil {
			p := *a.Port
			a.Port = &p
		}
		out.Authority = &a
	}
	if u.Query != nil {
		q := *u.Query
		out.Query = &q
	}
	if u.Fragment != nil {
		f := *u.Fragment
		out.Fragment = &f
	}
	return out
}

// Reference: https://datatracker.ietf.org/doc/html/rfc3986#section-5.3
func (u URI) String() string {
	b := new(strings.Builder)
	if u.Scheme != "" {
		b.WriteString(u.Scheme)
		b.WriteByte(':')
	}
	if u.Authority != nil {
		b.WriteString("//")
		if u.Authority.UserInfo != "" {
			b.WriteString(escape(u.Authority.UserInfo, encodeUserInfo))
			b.WriteByte('@')
		}
		b.WriteString(escape(u.Authority.Host, encodeHost))
		if u.Authority.Port != nil {
			b.WriteByte(':')
			b.WriteString(strconv.FormatUint(uint64(*u.Authority.Port), 10))
		}
	}
	b.WriteString(u.Path)
	if u.Query != nil {
		b.WriteByte('?')
		b.WriteString(*u.Query)
	}
	if u.Fragment != nil {
		b.WriteByte('#')
		b.WriteString(*u.Fragment)
	}
	return b.String()
}

// Hostname returns the host without IP literal brackets.
func (u URI) Hostname() string {
	if u.Authority == nil {
		return ""
	}
	host := u.Authority.Host
	if strings.HasPrefix(host, "[") && strings.HasSuffix(host, "]") {
		return host[1 : len(host)-1]
	}
	return host
}

// Port returns the explicit port, or the default port of the scheme.
func (u URI) Port() uint16 {
	if u.Authority != nil && u.Authority.Port != nil {
		return *u.Authority.Port
	}
	return DefaultPort(u.Scheme)
}

// HasDefaultPort reports whether the port is absent or equal to the scheme default.
func (u URI) HasDefaultPort() bool {
	if u.Authority == nil || u.Authority.Port == nil {
		return true
	}
	return *u.Authority.Port == DefaultPort(u.Scheme)
}

// HostPort returns "host:port" suitable for dialing.
func (u URI) HostPort() string {
	return net.JoinHostPort(u.Hostname(), strconv.FormatUint(uint64(u.Port()), 10))
}

// HostHeader returns the value of a Host header field for u.
// The port is included only when it differs from the scheme default.
//
// Reference: https://datatracker.ietf.org/doc/html/rfc9110#section-7.2
func (u URI) HostHeader() string {
	if u.Authority == nil {
		return ""
	}
	if u.HasDefaultPort() {
		return u.Authority.Host
	}
	return u.Authority.Host + ":" + strconv.FormatUint(uint64(*u.Authority.Port), 10)
}

// RequestTarget returns the origin-form of u.
//
// Reference: https://datatracker.ietf.org/doc/html/rfc9112#section-3.2.1
func (u URI) RequestTarget() string {
	path := u.Path
	if path == "" {
		path = "/"
	}
	if u.Query != nil {
		return path + "?" + *u.Query
	}
	return path
}

// WithoutUserInfo returns a copy of u with user information removed.
func (u URI) WithoutUserInfo() URI {
	out := u.Clone()
	if out.Authority != nil {
		out.Authority.UserInfo = ""
	}
	return out
}

// WithoutFragment returns a copy of u with the fragment removed.
func (u URI) WithoutFragment() URI {
	out := u.Clone()
	out.Fragment = nil
	return out
}

// AppendQuery appends an already encoded query string after the existing one.
func (u URI) AppendQuery(encoded string) URI {
	if encoded == "" {
		return u.Clone()
	}
	out := u.Clone()
	if out.Query != nil && *out.Query != "" {
		encoded = *out.Query + "&" + encoded
	}
	out.Query = &encoded
	return out
}

// SameHost reports whether a and b name the same host.
func SameHost(a, b URI) bool {
	return strings.EqualFold(a.Hostname(), b.Hostname())
}

// SameOrigin reports whether a and b share scheme, host and port.
func SameOrigin(a, b URI) bool {
	return strings.EqualFold(a.Scheme, b.Scheme) && SameHost(a, b) && a.Port() == b.Port()
}

func DefaultPort(scheme string) uint16 {
	switch strings.ToLower(scheme) {
	case "http", "ws":
		return 80
	case "https", "wss":
		return 443
	}
	return 0
}

func Parse(rawURL string) (URI, error) {
	if containsCTL(rawURL) {
		return URI{}, errors.New("URI should not contain CTL bytes")
	}

	var uri URI

	scheme, rest, err := cutScheme(rawURL)
	if err != nil {
		return URI{}, errors.Wrap(err, "getting scheme")
	}
	// Scheme is recommended to be lowercase.
	uri.Scheme = strings.ToLower(scheme)

	if strings.HasPrefix(rest, "//") {
		authorityRaw := rest[2:]
		rest = ""
		if i := strings.IndexAny(authorityRaw, "/?#"); i >= 0 {
			authorityRaw, rest = authorityRaw[:i], authorityRaw[i:]
		}

		authority, err := parseAuthority(authorityRaw)
		if err != nil {
			return URI{}, errors.Wrap(err, "parsing authority")
		}
		uri.Authority = &authority
	}

	path, query, frag := splitPathQueryFrag(rest)

	hasAuthority := uri.Authority != nil
	if err := assertValidPath(path, hasAuthority, uri.IsRelativeRef()); err != nil {
		return URI{}, errors.Wrap(err, "path is not valid")
	}
	uri.Path = escapeInvalid(path, encodePath)

	if len(query) > 0 {
		q := escapeInvalid(query[1:], encodeQuery)
		uri.Query = &q
	}
	if len(frag) > 0 {
		f := escapeInvalid(frag[1:], encodeFragment)
		uri.Fragment = &f
	}

	return uri, nil
}

// MustParse is like [Parse] but panics on error.
func MustParse(rawURL string) URI {
	u, err := Parse(rawURL)
	if err != nil {
		panic(err)
	}
	return u
}

// cutScheme cuts scheme from rawURL. If scheme is not valid, it returns an error.
func cutScheme(rawURL string) (scheme, rest string, err error) {
	idx := strings.IndexAny(rawURL, ":/?#")
	if idx < 0 || rawURL[idx] != ':' {
		// A colon after the first '/', '?' or '#' is not a scheme delimiter.
		return "", rawURL, nil
	}

	scheme, rest = rawURL[:idx], rawURL[idx+1:]
	if err := assertValidScheme(scheme); err != nil {
		return "", "", err
	}
	return scheme, rest, nil
}

func parseAuthority(raw string) (authority Authority, err error) {
	var userInfo, host string
	if i := strings.LastIndex(raw, "@"); i >= 0 {
		userInfo, host = raw[:i], raw[i+1:]
	} else {
		host = raw
	}

	if userInfo != "" {
		if !isValidUserInfo(userInfo) {
			return Authority{}, errors.New("user information is not valid")
		}
		authority.UserInfo, err = unescape(userInfo)
		if err != nil {
			return Authority{}, errors.Wrap(err, "unescaping user information")
		}
	}

	host, portPart, err := getHostPort(host)
	if err != nil {
		return Authority{}, errors.Wrap(err, "parsing host")
	}

	port, hasPort, err := parsePort(portPart)
	if err != nil {
		return Authority{}, errors.Wrap(err, "parsing port")
	}
	if hasPort {
		authority.Port = &port
	}

	if authority.Host, err = unescape(host); err != nil {
		return Authority{}, errors.Wrap(err, "unescaping host")
	}
	authority.Host = strings.ToLower(authority.Host)

	return authority, nil
}

func getHostPort(raw string) (host string, portPart string, err error) {
	if strings.HasPrefix(raw, "[") {
		idx := strings.LastIndex(raw, "]")
		if idx < 0 {
			return "", "", errors.New("missing ']' in IP Literal")
		}
		host, portPart = raw[:idx+1], raw[idx+1:]
	} else {
		host = raw
		if idx := strings.LastIndex(raw, ":"); idx >= 0 {
			host, portPart = raw[:idx], raw[idx:]
		}
	}

	if err := assertValidHost(host); err != nil {
		return "", "", errors.Wrap(err, "host is not valid")
	}
	return host, portPart, nil
}

// This is not the same rule as RFC. See [Authority].
func parsePort(s string) (port uint16, hasPort bool, err error) {
	if s == "" {
		return 0, false, nil
	}
	if s[0] != ':' {
		return 0, false, errors.New("colon delimiter not found on port")
	}
	s = s[1:]
	if s == "" {
		// "http://host:/" has an empty port, which is the same as none.
		// Reference: https://datatracker.ietf.org/doc/html/rfc3986#section-6.2.3
		return 0, false, nil
	}

	n, err := strconv.ParseUint(s, 10, 16)
	if err != nil {
		return 0, false, errors.Wrap(err, "failed to parse uint")
	}
	return uint16(n), true, nil
}

func splitPathQueryFrag(raw string) (path, query, frag string) {
	if idx := strings.IndexByte(raw, '#'); idx >= 0 {
		frag = raw[idx:]
		raw = raw[:idx]
	}
	if idx := strings.IndexByte(raw, '?'); idx >= 0 {
		query = raw[idx:]
		raw = raw[:idx]
	}
	path = raw
	return
}
