package cookie

import (
	"cmp"
	"log/slog"
	"maps"
	"math"
	"slices"
	"strings"
	"sync"
	"time"

	"asynchttp/application/http/semantic"

	"github.com/benbjohnson/clock"
	"github.com/pkg/errors"
	"golang.org/x/net/publicsuffix"
)

type Options struct {
	// Strict makes invalid cookies an error instead of being skipped.
	Strict bool
	// PublicSuffixes rejects a Domain attribute naming a public suffix,
	// such as "com" or "co.uk", unless it equals the request host.
	PublicSuffixes bool

	Clock  clock.Clock
	Logger *slog.Logger
}

// Jar is an in-memory cookie store keyed by (domain, path, name).
// It is safe for concurrent use.
type Jar struct {
	mu      sync.RWMutex
	cookies map[key]Cookie

	strict         bool
	publicSuffixes bool

	clock  clock.Clock
	logger *slog.Logger
}

func NewJar(opts Options) *Jar {
	if opts.Clock == nil {
		opts.Clock = clock.New()
	}
	if opts.Logger == nil {
		opts.Logger = slog.New(slog.DiscardHandler)
	}

	return &Jar{
		cookies:        make(map[key]Cookie),
		strict:         opts.Strict,
		publicSuffixes: opts.PublicSuffixes,
		clock:          opts.Clock,
		logger:         opts.Logger,
	}
}

// FromMap creates a jar holding one session cookie per entry of values, all scoped to domain.
func FromMap(values map[string]string, domain string, opts Options) (*Jar, error) {
	j := NewJar(opts)
	for _, name := range slices.Sorted(maps.Keys(values)) {
		if _, err := j.SetCookie(Cookie{Name: name, Value: values[name], Domain: domain, Path: "/"}); err != nil {
			return nil, err
		}
	}
	return j, nil
}

// SetCookie stores c, replacing any cookie with the same domain, path and name.
// A cookie with an empty value or an expiry in the past deletes the stored one instead.
// It reports whether c was stored. Invalid cookies are an error in strict mode only.
func (j *Jar) SetCookie(c Cookie) (bool, error) {
	now := j.clock.Now()
	c = normalize(c, now)

	if err := c.Validate(); err != nil {
		if j.strict {
			return false, err
		}
		j.logger.Debug("skipping invalid cookie", slog.String("name", c.Name), slog.Any("error", err))
		return false, nil
	}

	j.mu.Lock()
	defer j.mu.Unlock()

	if c.Value == "" || c.Expired(now) {
		delete(j.cookies, c.key())
		return false, nil
	}

	j.cookies[c.key()] = c
	return true, nil
}

// Extract stores the cookies set by resp, a response to req.
//
// Reference: https://datatracker.ietf.org/doc/html/rfc6265#section-5.3
func (j *Jar) Extract(req *semantic.Request, resp *semantic.Response) error {
	u := req.URI()
	host := strings.ToLower(u.Hostname())

	for _, raw := range resp.HeaderValues("Set-Cookie") {
		c, err := ParseSetCookie(raw)
		if err == nil {
			err = j.scope(&c, host, u.Path)
		}
		if err != nil {
			if j.strict {
				return err
			}
			j.logger.Debug("skipping cookie", slog.String("host", host), slog.Any("error", err))
			continue
		}

		if _, err := j.SetCookie(c); err != nil {
			return err
		}
	}
	return nil
}

// scope fills the default domain and path of c and checks that host may set it.
func (j *Jar) scope(c *Cookie, host, requestPath string) error {
	if c.Path == "" {
		c.Path = defaultPath(requestPath)
	}

	if c.Domain == "" {
		c.Domain = host
		return nil
	}
	if !c.MatchesDomain(host) {
		return errors.Wrapf(ErrInvalidCookie, "host %q cannot set cookie %q for domain %q", host, c.Name, c.Domain)
	}
	if j.publicSuffixes && c.Domain != host {
		if suffix, _ := publicsuffix.PublicSuffix(c.Domain); suffix == c.Domain {
			return errors.Wrapf(ErrInvalidCookie, "cookie %q has public suffix %q as domain", c.Name, c.Domain)
		}
	}
	return nil
}

// WithCookieHeader returns req with a Cookie header field holding every cookie that applies to it,
// most specific path first. req is returned unchanged when no cookie applies.
func (j *Jar) WithCookieHeader(req *semantic.Request) *semantic.Request {
	u := req.URI()
	path := u.Path
	if path == "" {
		path = "/"
	}
	secure := strings.EqualFold(u.Scheme, "https")
	now := j.clock.Now()

	j.mu.RLock()
	var matching []Cookie
	for _, c := range j.cookies {
		if c.ShouldSend(u.Hostname(), path, secure, now) {
			matching = append(matching, c)
		}
	}
	j.mu.RUnlock()

	if len(matching) == 0 {
		return req
	}

	slices.SortFunc(matching, func(a, b Cookie) int {
		if n := cmp.Compare(len(b.Path), len(a.Path)); n != 0 {
			return n
		}
		return compareKeys(a, b)
	})

	pairs := make([]string, len(matching))
	for i, c := range matching {
		pairs[i] = c.String()
	}
	return req.WithHeader("Cookie", strings.Join(pairs, "; "))
}

// Clear removes the cookies matching every non-empty argument.
// With all arguments empty the jar is emptied.
func (j *Jar) Clear(domain, path, name string) {
	j.mu.Lock()
	defer j.mu.Unlock()

	for k := range j.cookies {
		if (domain == "" || k.domain == domain) &&
			(path == "" || k.path == path) &&
			(name == "" || k.name == name) {
			delete(j.cookies, k)
		}
	}
}

// ClearSessionCookies removes the cookies having neither Expires nor Max-Age.
func (j *Jar) ClearSessionCookies() {
	j.mu.Lock()
	defer j.mu.Unlock()

	for k, c := range j.cookies {
		if c.IsSession() {
			delete(j.cookies, k)
		}
	}
}

// Cookies returns the stored cookies ordered by domain, path and name.
func (j *Jar) Cookies() []Cookie {
	j.mu.RLock()
	out := make([]Cookie, 0, len(j.cookies))
	for _, c := range j.cookies {
		out = append(out, c)
	}
	j.mu.RUnlock()

	slices.SortFunc(out, compareKeys)
	return out
}

func (j *Jar) Len() int {
	j.mu.RLock()
	defer j.mu.RUnlock()
	return len(j.cookies)
}

// normalize strips the leading dot of the domain, defaults the path to "/"
// and turns Max-Age into an absolute expiry.
func normalize(c Cookie, now time.Time) Cookie {
	c.Domain = strings.ToLower(strings.TrimPrefix(c.Domain, "."))
	if c.Path == "" {
		c.Path = "/"
	}
	if c.MaxAge != nil && c.Expires == nil {
		expires := expiryAfter(now, *c.MaxAge)
		c.Expires = &expires
	}
	return c
}

// farFuture is the expiry of cookies living longer than a time.Duration can hold.
var farFuture = time.Date(9999, time.December, 31, 23, 59, 59, 0, time.UTC)

func expiryAfter(now time.Time, maxAge int) time.Time {
	switch {
	case maxAge <= 0:
		return now
	case int64(maxAge) > math.MaxInt64/int64(time.Second):
		return farFuture
	}
	return now.Add(time.Duration(maxAge) * time.Second)
}

func compareKeys(a, b Cookie) int {
	return cmp.Or(
		cmp.Compare(a.Domain, b.Domain),
		cmp.Compare(a.Path, b.Path),
		cmp.Compare(a.Name, b.Name),
	)
}
