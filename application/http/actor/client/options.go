package client

import (
	"log/slog"
	"time"

	"asynchttp/application/http"
	"asynchttp/application/http/semantic"
	"asynchttp/application/util/domain"
	"asynchttp/transport"

	"github.com/benbjohnson/clock"
)

// Options configures a [Client].
type Options struct {
	// BaseURI is resolved against relative request URIs.
	BaseURI string
	// UserAgent is sent when a request has no User-Agent. Empty uses [DefaultUserAgent].
	UserAgent string

	// Defaults apply to every request. Options given per request take precedence.
	Defaults RequestOptions

	Send    SendOptions
	Receive ReceiveOptions
	Conn    ConnOptions

	// Stack replaces the default handler stack. Its handler is kept.
	Stack *Stack

	Logger   *slog.Logger
	Clock    clock.Clock
	Lookuper domain.Lookuper
}

type SendOptions struct {
	Encode http.EncodeOptions
}

type ReceiveOptions struct {
	Parse http.ParseOptions

	// UseReceivedReasonPhrase uses reason phrase from response.
	// If false, the reason phrase will instead be filled with default value for the status code.
	// Reference: https://datatracker.ietf.org/doc/html/rfc9112#section-4-9
	UseReceivedReasonPhrase bool
}

type ConnOptions struct {
	// MaxOpenConnsPerHost caps the connections open at once to one host and port.
	// Zero means no limit.
	MaxOpenConnsPerHost uint

	Transport transport.Options
}

// RequestOptions configures one request. Zero fields are unset.
type RequestOptions struct {
	Headers semantic.Headers
	// Query is appended to the query of the request URI.
	Query map[string][]string

	// Body sources. At most one can be set.
	JSON       any
	FormParams map[string][]string
	Multipart  []MultipartField
	Body       semantic.Body

	Auth *Auth

	// Timeout bounds the whole transfer of one attempt, connecting included.
	Timeout time.Duration
	// ConnectTimeout bounds resolving, connecting and the TLS and proxy handshakes.
	ConnectTimeout time.Duration

	// Verify enables TLS certificate verification. Nil means true.
	Verify *bool

	// AllowRedirects configures redirects. Nil follows redirects with [DefaultRedirectOptions].
	AllowRedirects *RedirectOptions
	// Retry configures retries. Nil uses the options the retry middleware was created with.
	Retry *RetryOptions

	// HTTPErrors turns 4xx and 5xx responses into errors. Nil means true.
	HTTPErrors *bool

	Cookies CookieJar

	// Proxy is the URI of an "http" or "socks5" proxy.
	Proxy string

	// Expect sets (true) or removes (false) "Expect: 100-continue".
	// Nil adds it to bodies larger than [ExpectThreshold] bytes.
	Expect *bool

	// DecodeContent asks for and decodes gzip and deflate content codings. Nil means true.
	DecodeContent *bool

	Progress ProgressFunc
}

// ProgressFunc reports transfer progress. Totals are -1 when unknown.
type ProgressFunc func(downloadTotal, downloaded, uploadTotal, uploaded int64)

type AuthType string

const (
	AuthBasic  AuthType = "basic"
	AuthBearer AuthType = "bearer"
)

type Auth struct {
	Type     AuthType
	Username string
	Password string
	// Token is used by [AuthBearer].
	Token string
}

// MultipartField is one part of a multipart/form-data body.
// Contents is read when the body is prepared.
type MultipartField struct {
	Name     string
	Contents semantic.Body
	Filename string
	Headers  semantic.Headers
}

// Validate rejects options that cannot be used together.
func (o RequestOptions) Validate() error {
	sources := 0
	for _, set := range []bool{o.JSON != nil, o.FormParams != nil, o.Multipart != nil, o.Body != nil} {
		if set {
			sources++
		}
	}
	if sources > 1 {
		return ErrConflictingBody
	}
	return nil
}

func (o RequestOptions) hasBody() bool {
	return o.JSON != nil || o.FormParams != nil || o.Multipart != nil || o.Body != nil
}

// merge returns o with the fields set in override replacing its own.
// Headers and Query are merged by name.
func (o RequestOptions) merge(override RequestOptions) RequestOptions {
	out := o

	out.Headers = o.Headers.Clone()
	for _, name := range override.Headers.Names() {
		out.Headers.Set(name, override.Headers.Values(name)...)
	}

	if override.Query != nil {
		out.Query = make(map[string][]string, len(o.Query)+len(override.Query))
		for k, v := range o.Query {
			out.Query[k] = v
		}
		for k, v := range override.Query {
			out.Query[k] = v
		}
	}

	if override.hasBody() {
		out.JSON, out.FormParams, out.Multipart, out.Body = override.JSON, override.FormParams, override.Multipart, override.Body
	}

	setIf(&out.Auth, override.Auth)
	setIf(&out.Verify, override.Verify)
	setIf(&out.AllowRedirects, override.AllowRedirects)
	setIf(&out.Retry, override.Retry)
	setIf(&out.HTTPErrors, override.HTTPErrors)
	setIf(&out.Expect, override.Expect)
	setIf(&out.DecodeContent, override.DecodeContent)

	if override.Timeout > 0 {
		out.Timeout = override.Timeout
	}
	if override.ConnectTimeout > 0 {
		out.ConnectTimeout = override.ConnectTimeout
	}
	if override.Cookies != nil {
		out.Cookies = override.Cookies
	}
	if override.Proxy != "" {
		out.Proxy = override.Proxy
	}
	if override.Progress != nil {
		out.Progress = override.Progress
	}

	return out
}

func setIf[T any](dst **T, v *T) {
	if v != nil {
		*dst = v
	}
}

func enabled(flag *bool) bool { return flag == nil || *flag }
