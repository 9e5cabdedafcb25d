package client

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"io"
	"log/slog"
	"mime"
	"mime/multipart"
	"net/textproto"
	"path/filepath"
	"slices"
	"strconv"
	"strings"
	"sync"

	"asynchttp/application/http"
	"asynchttp/application/http/semantic"
	"asynchttp/application/util/uri"

	"github.com/google/uuid"
	"github.com/klauspost/compress/flate"
	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zlib"
	"github.com/pkg/errors"
)

// ExpectThreshold is the body size above which "Expect: 100-continue" is added by default.
const ExpectThreshold = 1 << 20

// CookieJar stores cookies from responses and adds them to requests.
type CookieJar interface {
	Extract(req *semantic.Request, res *semantic.Response) error
	WithCookieHeader(req *semantic.Request) *semantic.Request
}

// Cookies sends and stores the cookies of [RequestOptions.Cookies].
func Cookies() Middleware {
	return MiddlewareFunc(func(next Handler) Handler {
		return HandlerFunc(func(ctx context.Context, req *semantic.Request, opts RequestOptions) (*semantic.Response, error) {
			jar := opts.Cookies
			if jar == nil {
				return next.Handle(ctx, req, opts)
			}

			req = jar.WithCookieHeader(req)
			res, err := next.Handle(ctx, req, opts)
			if err != nil {
				if te, ok := AsTransferError(err); ok && te.HasResponse() {
					_ = jar.Extract(req, te.Response())
				}
				return nil, err
			}

			if err := jar.Extract(req, res); err != nil {
				return nil, newRequestError(req, res, err, "storing cookies of %s", req.URI().WithoutUserInfo())
			}
			return res, nil
		})
	})
}

// HTTPErrors turns 4xx and 5xx responses into errors unless [RequestOptions.HTTPErrors] is false.
func HTTPErrors() Middleware {
	return MiddlewareFunc(func(next Handler) Handler {
		return HandlerFunc(func(ctx context.Context, req *semantic.Request, opts RequestOptions) (*semantic.Response, error) {
			res, err := next.Handle(ctx, req, opts)
			if err != nil || !enabled(opts.HTTPErrors) {
				return res, err
			}
			if res.StatusCode() >= 400 {
				return nil, NewBadResponseError(req, res)
			}
			return res, nil
		})
	})
}

// PrepareBody builds the request body from the body options.
// A request that already has a body is sent as is.
func PrepareBody() Middleware {
	return MiddlewareFunc(func(next Handler) Handler {
		return HandlerFunc(func(ctx context.Context, req *semantic.Request, opts RequestOptions) (*semantic.Response, error) {
			if !opts.hasBody() || !semantic.IsEmpty(req.Body()) {
				return next.Handle(ctx, req, opts)
			}
			if err := opts.Validate(); err != nil {
				return nil, newRequestError(req, nil, err, "preparing body")
			}

			body, contentType, err := buildBody(opts)
			if err != nil {
				return nil, newRequestError(req, nil, err, "preparing body")
			}

			req = req.WithBody(body)
			if contentType != "" && !req.HasHeader("Content-Type") {
				req = req.WithHeader("Content-Type", contentType)
			}
			return next.Handle(ctx, req, opts)
		})
	})
}

func buildBody(opts RequestOptions) (semantic.Body, string, error) {
	switch {
	case opts.JSON != nil:
		data, err := json.Marshal(opts.JSON)
		if err != nil {
			return nil, "", errors.Wrap(err, "encoding json")
		}
		return semantic.NewBytesBody(data), "application/json", nil

	case opts.FormParams != nil:
		return semantic.StringBody(encodeForm(opts.FormParams)), "application/x-www-form-urlencoded", nil

	case opts.Multipart != nil:
		return buildMultipart(opts.Multipart)
	}
	return opts.Body, "", nil
}

// encodeForm encodes values sorted by key.
func encodeForm(values map[string][]string) string {
	keys := make([]string, 0, len(values))
	for k := range values {
		keys = append(keys, k)
	}
	slices.Sort(keys)

	var pairs []string
	for _, k := range keys {
		for _, v := range values[k] {
			pairs = append(pairs, uri.QueryEscape(k)+"="+uri.QueryEscape(v))
		}
	}
	return strings.Join(pairs, "&")
}

// Reference: https://datatracker.ietf.org/doc/html/rfc7578
func buildMultipart(fields []MultipartField) (semantic.Body, string, error) {
	buf := bytes.NewBuffer(nil)
	w := multipart.NewWriter(buf)
	if err := w.SetBoundary(uuid.NewString()); err != nil {
		return nil, "", errors.Wrap(err, "setting boundary")
	}

	for _, field := range fields {
		contents, err := semantic.ReadBody(field.Contents)
		if err != nil {
			return nil, "", errors.Wrapf(err, "reading multipart field %q", field.Name)
		}

		header := make(textproto.MIMEHeader)
		disposition := map[string]string{"name": field.Name}
		if field.Filename != "" {
			disposition["filename"] = field.Filename
			ctype := mime.TypeByExtension(filepath.Ext(field.Filename))
			if ctype == "" {
				ctype = "application/octet-stream"
			}
			header.Set("Content-Type", ctype)
		}
		header.Set("Content-Disposition", mime.FormatMediaType("form-data", disposition))
		for _, name := range field.Headers.Names() {
			header[textproto.CanonicalMIMEHeaderKey(name)] = field.Headers.Values(name)
		}

		part, err := w.CreatePart(header)
		if err != nil {
			return nil, "", errors.Wrapf(err, "creating multipart field %q", field.Name)
		}
		if _, err := part.Write(contents); err != nil {
			return nil, "", errors.Wrapf(err, "writing multipart field %q", field.Name)
		}
	}
	if err := w.Close(); err != nil {
		return nil, "", errors.Wrap(err, "closing multipart body")
	}

	return semantic.NewBytesBody(buf.Bytes()), w.FormDataContentType(), nil
}

// Expect manages "Expect: 100-continue" as configured by [RequestOptions.Expect].
// The body is sent without waiting for the interim response.
//
// Reference: https://datatracker.ietf.org/doc/html/rfc9110#section-10.1.1
func Expect() Middleware {
	return MiddlewareFunc(func(next Handler) Handler {
		return HandlerFunc(func(ctx context.Context, req *semantic.Request, opts RequestOptions) (*semantic.Response, error) {
			size := req.Body().Size()
			switch {
			case opts.Expect != nil && !*opts.Expect:
				req = req.WithoutHeader("Expect")
			case req.HasHeader("Expect") || size == 0 || req.Version() == http.Version10:
			case opts.Expect != nil || size < 0 || size > ExpectThreshold:
				req = req.WithHeader("Expect", "100-continue")
			}
			return next.Handle(ctx, req, opts)
		})
	})
}

// Authenticate sets the Authorization header of requests that don't have one.
func Authenticate(auth Auth) Middleware {
	return MiddlewareFunc(func(next Handler) Handler {
		return HandlerFunc(func(ctx context.Context, req *semantic.Request, opts RequestOptions) (*semantic.Response, error) {
			if !req.HasHeader("Authorization") {
				if value, ok := auth.header(); ok {
					req = req.WithHeader("Authorization", value)
				}
			}
			return next.Handle(ctx, req, opts)
		})
	})
}

// header returns the Authorization value for a.
// Reference: https://datatracker.ietf.org/doc/html/rfc7617
func (a Auth) header() (string, bool) {
	switch a.Type {
	case AuthBasic, "":
		if a.Username == "" && a.Password == "" {
			return "", false
		}
		return "Basic " + base64.StdEncoding.EncodeToString([]byte(a.Username+":"+a.Password)), true
	case AuthBearer:
		return "Bearer " + a.Token, a.Token != ""
	}
	return "", false
}

// Transaction is a request and what it resulted in.
type Transaction struct {
	Request  *semantic.Request
	Response *semantic.Response
	Err      error
	Options  RequestOptions
}

// History records the transactions passing through [HistoryOf].
type History struct {
	mu           sync.Mutex
	transactions []Transaction
}

func (h *History) add(t Transaction) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.transactions = append(h.transactions, t)
}

func (h *History) Transactions() []Transaction {
	h.mu.Lock()
	defer h.mu.Unlock()
	return slices.Clone(h.transactions)
}

func (h *History) Len() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.transactions)
}

func (h *History) Clear() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.transactions = nil
}

// HistoryOf records every transaction in h.
func HistoryOf(h *History) Middleware {
	return MiddlewareFunc(func(next Handler) Handler {
		return HandlerFunc(func(ctx context.Context, req *semantic.Request, opts RequestOptions) (*semantic.Response, error) {
			res, err := next.Handle(ctx, req, opts)
			h.add(Transaction{Request: req, Response: res, Err: err, Options: opts})
			return res, err
		})
	})
}

// Log writes one record per transaction with f.
// Failures are logged at error level, and everything else at info level.
func Log(logger *slog.Logger, f *MessageFormatter) Middleware {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	if f == nil {
		f = NewMessageFormatter(FormatCLF, nil)
	}
	return MiddlewareFunc(func(next Handler) Handler {
		return HandlerFunc(func(ctx context.Context, req *semantic.Request, opts RequestOptions) (*semantic.Response, error) {
			res, err := next.Handle(ctx, req, opts)
			if res == nil {
				if te, ok := AsTransferError(err); ok {
					res = te.Response()
				}
			}

			msg := f.Format(req, res, err)
			attrs := []any{slog.String("method", string(req.Method())), slog.String("uri", req.URI().WithoutUserInfo().String())}
			if res != nil {
				attrs = append(attrs, slog.Int("status", res.StatusCode()))
			}
			if err != nil {
				logger.ErrorContext(ctx, msg, append(attrs, slog.Any("error", err))...)
			} else {
				logger.InfoContext(ctx, msg, attrs...)
			}
			return res, err
		})
	})
}

// Proxy sends every request through proxyURI.
func Proxy(proxyURI string) Middleware {
	return MiddlewareFunc(func(next Handler) Handler {
		return HandlerFunc(func(ctx context.Context, req *semantic.Request, opts RequestOptions) (*semantic.Response, error) {
			opts.Proxy = proxyURI
			return next.Handle(ctx, req, opts)
		})
	})
}

// DecodeContent asks for compressed content and decodes it,
// unless [RequestOptions.DecodeContent] is false.
// The original coding and length are kept in X-Encoded-Content-Encoding and X-Encoded-Content-Length.
//
// Reference: https://datatracker.ietf.org/doc/html/rfc9110#section-8.4
func DecodeContent() Middleware {
	return MiddlewareFunc(func(next Handler) Handler {
		return HandlerFunc(func(ctx context.Context, req *semantic.Request, opts RequestOptions) (*semantic.Response, error) {
			if !enabled(opts.DecodeContent) {
				return next.Handle(ctx, req, opts)
			}
			if !req.HasHeader("Accept-Encoding") {
				req = req.WithHeader("Accept-Encoding", "gzip, deflate")
			}

			res, err := next.Handle(ctx, req, opts)
			if err != nil || req.Method() == semantic.MethodHead || semantic.IsEmpty(res.Body()) {
				return res, err
			}

			coding := strings.ToLower(strings.TrimSpace(res.Header("Content-Encoding")))
			if coding != "gzip" && coding != "x-gzip" && coding != "deflate" {
				return res, nil
			}

			encoded, err := semantic.ReadBody(res.Body())
			if err != nil {
				return nil, newRequestError(req, res, err, "reading encoded content")
			}
			decoded, err := decode(coding, encoded)
			if err != nil {
				return nil, newRequestError(req, res, err, "decoding %s content", coding)
			}

			return res.
				WithHeader("X-Encoded-Content-Encoding", res.Header("Content-Encoding")).
				WithHeader("X-Encoded-Content-Length", strconv.Itoa(len(encoded))).
				WithoutHeader("Content-Encoding").
				WithHeader("Content-Length", strconv.Itoa(len(decoded))).
				WithBody(semantic.NewBytesBody(decoded)), nil
		})
	})
}

// decode removes coding from data.
// Deflate content is zlib wrapped, but some servers send raw deflate data.
func decode(coding string, data []byte) ([]byte, error) {
	var r io.ReadCloser
	var err error
	switch coding {
	case "gzip", "x-gzip":
		r, err = gzip.NewReader(bytes.NewReader(data))
	case "deflate":
		r, err = zlib.NewReader(bytes.NewReader(data))
		if err != nil {
			r, err = flate.NewReader(bytes.NewReader(data)), nil
		}
	default:
		return nil, errors.Errorf("unsupported content coding %q", coding)
	}
	if err != nil {
		return nil, err
	}
	defer r.Close()

	return io.ReadAll(r)
}

// MapRequest replaces each request with fn's result.
func MapRequest(fn func(*semantic.Request) *semantic.Request) Middleware {
	return MiddlewareFunc(func(next Handler) Handler {
		return HandlerFunc(func(ctx context.Context, req *semantic.Request, opts RequestOptions) (*semantic.Response, error) {
			return next.Handle(ctx, fn(req), opts)
		})
	})
}

// MapResponse replaces each response with fn's result.
func MapResponse(fn func(*semantic.Response) *semantic.Response) Middleware {
	return MiddlewareFunc(func(next Handler) Handler {
		return HandlerFunc(func(ctx context.Context, req *semantic.Request, opts RequestOptions) (*semantic.Response, error) {
			res, err := next.Handle(ctx, req, opts)
			if err != nil {
				return nil, err
			}
			return fn(res), nil
		})
	})
}

// Progress reports the progress of requests that don't set [RequestOptions.Progress].
func Progress(fn ProgressFunc) Middleware {
	return MiddlewareFunc(func(next Handler) Handler {
		return HandlerFunc(func(ctx context.Context, req *semantic.Request, opts RequestOptions) (*semantic.Response, error) {
			if opts.Progress == nil {
				opts.Progress = fn
			}
			return next.Handle(ctx, req, opts)
		})
	})
}

const DefaultRequestIDHeader = "X-Request-Id"

// RequestID gives requests without one a random UUID in header.
// Empty header uses [DefaultRequestIDHeader].
func RequestID(header string) Middleware {
	if header == "" {
		header = DefaultRequestIDHeader
	}
	return MiddlewareFunc(func(next Handler) Handler {
		return HandlerFunc(func(ctx context.Context, req *semantic.Request, opts RequestOptions) (*semantic.Response, error) {
			if !req.HasHeader(header) {
				req = req.WithHeader(header, uuid.NewString())
			}
			return next.Handle(ctx, req, opts)
		})
	})
}
