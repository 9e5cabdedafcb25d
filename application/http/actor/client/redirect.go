package client

import (
	"context"
	"log/slog"
	"slices"
	"strconv"
	"strings"
	"sync"

	"asynchttp/application/http/semantic"
	"asynchttp/application/http/semantic/status"
	"asynchttp/application/util/uri"
)

const (
	DefaultMaxRedirects = 5

	HeaderRedirectHistory       = "X-Guzzle-Redirect-History"
	HeaderRedirectStatusHistory = "X-Guzzle-Redirect-Status-History"
)

// RedirectOptions configures how redirects are followed.
// Start from [DefaultRedirectOptions] to keep the defaults of the fields you don't set.
type RedirectOptions struct {
	// Disabled returns redirect responses as they are.
	Disabled bool
	// Max is the number of redirects followed. Zero follows none and fails on the first redirect.
	Max int
	// Strict keeps the method and body on 301 and 302 redirects.
	Strict bool
	// Referer sets the Referer header on followed requests.
	Referer bool
	// Protocols lists the schemes that can be redirected to.
	Protocols []string
	// TrackRedirects records the followed URIs and status codes in the final response.
	TrackRedirects bool
	// OnRedirect is called before each redirect is followed.
	OnRedirect func(req *semantic.Request, res *semantic.Response, target uri.URI)
}

func DefaultRedirectOptions() RedirectOptions {
	return RedirectOptions{
		Max:       DefaultMaxRedirects,
		Referer:   true,
		Protocols: []string{"http", "https"},
	}
}

// NoRedirects disables redirects for a request.
func NoRedirects() *RedirectOptions {
	return &RedirectOptions{Disabled: true}
}

// RedirectEntry is one followed redirect.
type RedirectEntry struct {
	// Status is the status code of the redirect response.
	Status int
	// URI is where the redirect led.
	URI uri.URI
	// Headers are the headers of the redirect response.
	Headers semantic.Headers
}

type redirectHistoryKey struct{}

// RedirectHistory returns the redirects followed to get res.
// It is empty unless redirects were tracked.
func RedirectHistory(res *semantic.Response) []RedirectEntry {
	v, ok := res.Attribute(redirectHistoryKey{})
	if !ok {
		return nil
	}
	return slices.Clone(v.([]RedirectEntry))
}

type redirectTrace struct {
	mu      sync.Mutex
	entries []RedirectEntry
}

func (t *redirectTrace) add(e RedirectEntry) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.entries = append(t.entries, e)
}

func (t *redirectTrace) snapshot() []RedirectEntry {
	t.mu.Lock()
	defer t.mu.Unlock()
	return slices.Clone(t.entries)
}

// Redirect follows redirect responses as configured by [RequestOptions.AllowRedirects].
func Redirect(logger *slog.Logger) Middleware {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return MiddlewareFunc(func(next Handler) Handler {
		return &redirectHandler{next: next, logger: logger}
	})
}

type redirectHandler struct {
	next   Handler
	logger *slog.Logger
}

func (h *redirectHandler) Handle(ctx context.Context, req *semantic.Request, opts RequestOptions) (*semantic.Response, error) {
	ro := DefaultRedirectOptions()
	if opts.AllowRedirects != nil {
		ro = *opts.AllowRedirects
	}
	if ro.Disabled {
		return h.next.Handle(ctx, req, opts)
	}
	trace := new(redirectTrace)
	current := req
	for followed := 0; ; followed++ {
		res, err := h.next.Handle(ctx, current, opts)
		if err != nil {
			return nil, err
		}

		if !status.IsRedirect(res.StatusCode()) {
			return h.finish(res, ro, trace), nil
		}
		if !res.HasHeader("Location") {
			return res, nil
		}

		if followed >= ro.Max {
			return nil, &TooManyRedirectsError{newTransferError(current, res, nil,
				"will not follow more than %d redirects", ro.Max)}
		}

		base := current.URI()
		target, err := uri.Resolve(base, res.Header("Location"))
		if err != nil {
			return nil, newRequestError(current, res, err, "invalid redirect location %q", res.Header("Location"))
		}
		if !allowedScheme(ro.Protocols, target.Scheme) {
			h.logger.Debug("redirect scheme not allowed", slog.String("uri", target.WithoutUserInfo().String()))
			return h.finish(res, ro, trace), nil
		}

		if ro.TrackRedirects {
			trace.add(RedirectEntry{Status: res.StatusCode(), URI: target, Headers: res.Headers()})
		}
		if ro.OnRedirect != nil {
			ro.OnRedirect(current, res, target)
		}

		h.logger.Debug("following redirect",
			slog.Int("status", res.StatusCode()),
			slog.String("from", base.WithoutUserInfo().String()),
			slog.String("uri", target.WithoutUserInfo().String()),
		)
		current = redirectRequest(current, res.StatusCode(), target, ro)
	}
}

func (h *redirectHandler) finish(res *semantic.Response, ro RedirectOptions, trace *redirectTrace) *semantic.Response {
	entries := trace.snapshot()
	if !ro.TrackRedirects || len(entries) == 0 {
		return res
	}

	uris := make([]string, len(entries))
	codes := make([]string, len(entries))
	for i, e := range entries {
		uris[i] = e.URI.String()
		codes[i] = strconv.Itoa(e.Status)
	}

	return res.
		WithHeader(HeaderRedirectHistory, uris...).
		WithHeader(HeaderRedirectStatusHistory, codes...).
		WithAttribute(redirectHistoryKey{}, entries)
}

// redirectRequest derives the request that follows a redirect of prev to target.
// Reference: https://datatracker.ietf.org/doc/html/rfc9110#section-15.4
func redirectRequest(prev *semantic.Request, code int, target uri.URI, ro RedirectOptions) *semantic.Request {
	prevURI := prev.URI()
	next := prev.WithURI(target)

	method := prev.Method()
	switch {
	case code == status.SeeOther.Code:
		next = next.WithMethod(semantic.MethodGet).WithBody(semantic.EmptyBody())
	case code <= status.Found.Code && !ro.Strict && method != semantic.MethodGet && method != semantic.MethodHead:
		next = next.WithMethod(semantic.MethodGet).WithBody(semantic.EmptyBody())
	}
	if semantic.IsEmpty(next.Body()) {
		next = next.WithoutHeader("Content-Length").WithoutHeader("Transfer-Encoding")
	}

	downgrade := strings.EqualFold(prevURI.Scheme, "https") && !strings.EqualFold(target.Scheme, "https")
	if ro.Referer && !downgrade {
		next = next.WithHeader("Referer", prevURI.WithoutUserInfo().WithoutFragment().String())
	} else {
		next = next.WithoutHeader("Referer")
	}

	if !uri.SameHost(prevURI, target) || downgrade {
		next = next.WithoutHeader("Authorization").WithoutHeader("Cookie")
	}
	return next
}

func allowedScheme(protocols []string, scheme string) bool {
	return slices.ContainsFunc(protocols, func(p string) bool { return strings.EqualFold(p, scheme) })
}
