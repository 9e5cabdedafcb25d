package client

import (
	"context"
	"encoding/base64"
	"io"
	"log/slog"
	"net"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"

	"asynchttp/application/http"
	"asynchttp/application/http/semantic"
	"asynchttp/application/http/semantic/status"
	"asynchttp/application/util/domain"
	"asynchttp/application/util/uri"
	iolib "asynchttp/lib/io"
	"asynchttp/transport"

	"github.com/benbjohnson/clock"
	"github.com/pkg/errors"
)

var errAborted = errors.New("attempt aborted")

const defaultSOCKS5Port = 1080

// WireHandler sends each request over a new connection and reads the whole response.
// The connection is closed when the response is complete.
type WireHandler struct {
	dialer   *transport.Dialer
	lookuper domain.Lookuper
	gate     *connPool

	send    SendOptions
	receive ReceiveOptions

	logger *slog.Logger
	clock  clock.Clock
}

var _ Handler = (*WireHandler)(nil)

func NewWireHandler(opts Options) *WireHandler {
	opts = opts.withDefaults()
	return &WireHandler{
		dialer:   transport.NewDialer(opts.Logger, opts.Conn.Transport),
		lookuper: opts.Lookuper,
		gate:     newConnPool(opts.Conn.MaxOpenConnsPerHost),
		send:     opts.Send,
		receive:  opts.Receive,
		logger:   opts.Logger,
		clock:    opts.Clock,
	}
}

// attempt is one connection used for one request.
// abort closes it from any goroutine.
type attempt struct {
	ctx    context.Context
	cancel context.CancelFunc

	target uri.URI

	mu     sync.Mutex
	conn   net.Conn
	closed bool

	timedOut        atomic.Bool
	connectTimedOut atomic.Bool
}

func newAttempt(ctx context.Context, target uri.URI) *attempt {
	ctx, cancel := context.WithCancel(ctx)
	return &attempt{ctx: ctx, cancel: cancel, target: target}
}

// attach records conn as the attempt's connection.
// conn is closed right away when the attempt was already aborted.
func (a *attempt) attach(conn net.Conn) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.closed {
		_ = conn.Close()
		return errAborted
	}
	a.conn = conn
	return nil
}

func (a *attempt) abort() {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.closed {
		return
	}
	a.closed = true
	a.cancel()
	if a.conn != nil {
		_ = a.conn.Close()
	}
}

// Handle implements [Handler].
func (h *WireHandler) Handle(ctx context.Context, req *semantic.Request, opts RequestOptions) (*semantic.Response, error) {
	u := req.URI()
	if scheme := strings.ToLower(u.Scheme); (scheme != "http" && scheme != "https") || u.Hostname() == "" {
		return nil, newRequestError(req, nil, ErrUnsupportedURI, "cannot send request to %s", u.WithoutUserInfo())
	}
	if err := req.Body().Rewind(); err != nil {
		return nil, newRequestError(req, nil, err, "cannot rewind body of %s", u.WithoutUserInfo())
	}
	req = frameBody(req)

	if err := ctx.Err(); err != nil {
		return nil, newConnectError(req, err)
	}

	a := newAttempt(ctx, u)
	defer a.abort()

	if opts.Timeout > 0 {
		timer := h.clock.AfterFunc(opts.Timeout, func() {
			a.timedOut.Store(true)
			a.abort()
		})
		defer timer.Stop()
	}
	stop := context.AfterFunc(ctx, a.abort)
	defer stop()

	release, err := h.gate.acquire(a.ctx, u.HostPort())
	if err != nil {
		return nil, h.fail(ctx, a, req, opts, err, true)
	}
	defer release()

	absoluteForm, err := h.connect(a, req, opts)
	if err != nil {
		return nil, h.fail(ctx, a, req, opts, err, true)
	}

	res, err := h.roundtrip(a, req, opts, absoluteForm)
	if err != nil {
		return nil, h.fail(ctx, a, req, opts, err, false)
	}
	return res, nil
}

// fail classifies err by the phase it happened in and the timers that fired.
func (h *WireHandler) fail(ctx context.Context, a *attempt, req *semantic.Request, opts RequestOptions, err error, connecting bool) error {
	target := a.target.WithoutUserInfo()

	if cerr := ctx.Err(); cerr != nil && !a.timedOut.Load() {
		err = errors.Wrap(cerr, err.Error())
	}

	switch {
	case a.timedOut.Load():
		h.logger.Debug("request timed out", slog.String("uri", target.String()), slog.Duration("timeout", opts.Timeout))
		return newTimeoutError(req, err, "request to %s timed out after %s", target, opts.Timeout)
	case a.connectTimedOut.Load():
		h.logger.Debug("connect timed out", slog.String("uri", target.String()), slog.Duration("timeout", opts.ConnectTimeout))
		return newTimeoutError(req, err, "connecting to %s timed out after %s", target, opts.ConnectTimeout)
	case connecting:
		return newConnectError(req, err)
	}
	return newTransferError(req, nil, err, "transfer of %s failed", target)
}

// connect opens the connection of a, through a proxy when one is set.
// It reports whether the request target must be sent in absolute form.
func (h *WireHandler) connect(a *attempt, req *semantic.Request, opts RequestOptions) (absoluteForm bool, err error) {
	if opts.ConnectTimeout > 0 {
		timer := h.clock.AfterFunc(opts.ConnectTimeout, func() {
			a.connectTimedOut.Store(true)
			a.abort()
		})
		defer timer.Stop()
	}

	u := a.target
	secure := strings.EqualFold(u.Scheme, "https")

	var conn net.Conn
	if opts.Proxy == "" {
		conn, err = h.dialHost(a.ctx, u.Hostname(), u.Port())
	} else {
		conn, absoluteForm, err = h.dialProxy(a, opts.Proxy)
	}
	if err != nil {
		return false, err
	}
	if err := a.attach(conn); err != nil {
		return false, err
	}

	if secure {
		serverName, err := asciiHost(u.Hostname())
		if err != nil {
			return false, err
		}
		tlsConn, err := transport.ClientTLS(a.ctx, conn, serverName, transport.TLSOptions{Verify: enabled(opts.Verify)})
		if err != nil {
			return false, err
		}
		if err := a.attach(tlsConn); err != nil {
			return false, err
		}
	}

	return absoluteForm, nil
}

func (h *WireHandler) dialHost(ctx context.Context, host string, port uint16) (net.Conn, error) {
	addrs, err := domain.Resolve(ctx, h.lookuper, host)
	if err != nil {
		return nil, errors.Wrapf(err, "resolving %s", host)
	}
	return h.dialer.DialTCP(ctx, addrs, port)
}

func (h *WireHandler) dialProxy(a *attempt, rawProxy string) (conn net.Conn, absoluteForm bool, err error) {
	proxyURI, err := uri.Parse(rawProxy)
	if err != nil {
		return nil, false, errors.Wrap(err, "parsing proxy URI")
	}
	target := a.target

	switch strings.ToLower(proxyURI.Scheme) {
	case "socks5", "socks5h":
		addrs, err := domain.Resolve(a.ctx, h.lookuper, proxyURI.Hostname())
		if err != nil {
			return nil, false, errors.Wrapf(err, "resolving proxy %s", proxyURI.Hostname())
		}
		port := proxyURI.Port()
		if port == 0 {
			port = defaultSOCKS5Port
		}
		user, pass := userPassword(proxyURI)
		host, err := asciiHost(target.Hostname())
		if err != nil {
			return nil, false, err
		}

		conn, err := h.dialer.DialSOCKS5(a.ctx, transport.SOCKS5{Addrs: addrs, Port: port, Username: user, Password: pass}, host, target.Port())
		return conn, false, err

	case "http":
		conn, err := h.dialHost(a.ctx, proxyURI.Hostname(), proxyURI.Port())
		if err != nil {
			return nil, false, err
		}
		if !strings.EqualFold(target.Scheme, "https") {
			return conn, true, nil
		}
		if err := a.attach(conn); err != nil {
			return nil, false, err
		}
		if err := h.tunnel(conn, target, proxyURI); err != nil {
			return nil, false, err
		}
		return conn, false, nil
	}

	return nil, false, errors.Wrap(ErrUnsupportedProxy, proxyURI.Scheme)
}

// tunnel asks an http proxy to connect conn to target.
// Reference: https://datatracker.ietf.org/doc/html/rfc9110#section-9.3.6
func (h *WireHandler) tunnel(conn net.Conn, target, proxyURI uri.URI) error {
	authority := target.HostPort()
	fields := []http.Field{http.NewField("Host", authority)}
	if auth, ok := proxyAuthorization(proxyURI); ok {
		fields = append(fields, http.NewField("Proxy-Authorization", auth))
	}

	enc := http.NewRequestEncoder(conn, h.send.Encode)
	err := enc.Encode(http.Request{
		RequestLine: http.RequestLine{Method: string(semantic.MethodConnect), Target: authority, Version: http.Version11},
		Headers:     fields,
	})
	if err != nil {
		return errors.Wrap(err, "sending CONNECT")
	}

	parser := http.NewResponseParser(string(semantic.MethodConnect), h.receive.Parse)
	if err := readResponse(conn, parser, nil); err != nil {
		return errors.Wrap(err, "reading CONNECT response")
	}
	res, err := parser.Response()
	if err != nil {
		return err
	}
	if !status.IsSuccess(res.StatusCode) {
		return errors.Errorf("proxy refused tunnel to %s: %d %s", authority, res.StatusCode, res.ReasonPhrase)
	}
	return nil
}

func (h *WireHandler) roundtrip(a *attempt, req *semantic.Request, opts RequestOptions, absoluteForm bool) (*semantic.Response, error) {
	a.mu.Lock()
	conn := a.conn
	a.mu.Unlock()
	if conn == nil {
		return nil, errAborted
	}

	raw := req.RawRequest()
	if absoluteForm {
		raw.Target = a.target.WithoutUserInfo().WithoutFragment().String()
		if proxyURI, err := uri.Parse(opts.Proxy); err == nil {
			if auth, ok := proxyAuthorization(proxyURI); ok {
				raw.Headers = append(raw.Headers, http.NewField("Proxy-Authorization", auth))
			}
		}
	}

	var (
		uploadTotal = req.Body().Size()
		uploaded    atomic.Int64
		report      func(downloadTotal, downloaded int64)
	)
	if opts.Progress != nil {
		report = func(downloadTotal, downloaded int64) {
			opts.Progress(downloadTotal, downloaded, uploadTotal, uploaded.Load())
		}
		raw.Body = iolib.NewProgressReader(raw.Body, func(total int64) {
			uploaded.Store(total)
			report(-1, 0)
		})
	}

	h.logger.Debug("sending request",
		slog.String("method", raw.Method),
		slog.String("uri", a.target.WithoutUserInfo().String()),
	)

	if err := http.NewRequestEncoder(conn, h.send.Encode).Encode(raw); err != nil {
		return nil, errors.Wrap(err, "writing request")
	}

	parser := http.NewResponseParser(raw.Method, h.receive.Parse)
	if err := readResponse(conn, parser, report); err != nil {
		return nil, errors.Wrap(err, "reading response")
	}

	rawRes, err := parser.Response()
	if err != nil {
		return nil, err
	}
	res, err := semantic.ResponseFrom(rawRes)
	if err != nil {
		return nil, err
	}

	if !h.receive.UseReceivedReasonPhrase {
		if st, ok := status.FromCode(res.StatusCode()); ok {
			res = res.WithStatus(st.Code, st.ReasonPhrase)
		}
	}

	h.logger.Debug("response received",
		slog.String("uri", a.target.WithoutUserInfo().String()),
		slog.Int("status", res.StatusCode()),
	)
	return res, nil
}

// readResponse feeds parser from conn until the response is complete.
func readResponse(conn io.Reader, parser *http.ResponseParser, report func(total, received int64)) error {
	buf := make([]byte, 32*1024)
	for parser.State() != http.StateComplete {
		n, err := conn.Read(buf)
		if n > 0 {
			if ferr := parser.Feed(buf[:n]); ferr != nil {
				return ferr
			}
			if report != nil && parser.State() != http.StateHeaders {
				report(parser.Progress())
			}
		}
		if err != nil {
			if errors.Is(err, io.EOF) {
				return parser.Close()
			}
			return err
		}
	}
	return nil
}

// frameBody sets the headers that delimit the body of req on the wire.
// Reference: https://datatracker.ietf.org/doc/html/rfc9112#section-6.1
func frameBody(req *semantic.Request) *semantic.Request {
	if !req.HasHeader("Connection") {
		req = req.WithHeader("Connection", "close")
	}
	if req.HasHeader("Content-Length") || req.HasHeader("Transfer-Encoding") {
		return req
	}

	switch size := req.Body().Size(); {
	case size > 0:
		return req.WithHeader("Content-Length", strconv.FormatInt(size, 10))
	case size < 0:
		return req.WithHeader("Transfer-Encoding", "chunked")
	}

	// Reference: https://datatracker.ietf.org/doc/html/rfc9110#section-8.6-5
	switch req.Method() {
	case semantic.MethodPost, semantic.MethodPut, semantic.MethodPatch:
		return req.WithHeader("Content-Length", "0")
	}
	return req
}

func asciiHost(host string) (string, error) {
	if net.ParseIP(host) != nil {
		return host, nil
	}
	return domain.ToASCII(host)
}

func userPassword(u uri.URI) (user, pass string) {
	if u.Authority == nil {
		return "", ""
	}
	user, pass, _ = strings.Cut(u.Authority.UserInfo, ":")
	return user, pass
}

// Reference: https://datatracker.ietf.org/doc/html/rfc9110#section-11.7.1
func proxyAuthorization(proxyURI uri.URI) (string, bool) {
	if proxyURI.Authority == nil || proxyURI.Authority.UserInfo == "" {
		return "", false
	}
	return "Basic " + base64.StdEncoding.EncodeToString([]byte(proxyURI.Authority.UserInfo)), true
}

// withDefaults fills the fields a handler can't work without.
func (o Options) withDefaults() Options {
	if o.Logger == nil {
		o.Logger = slog.New(slog.DiscardHandler)
	}
	if o.Clock == nil {
		o.Clock = clock.New()
	}
	if o.Lookuper == nil {
		o.Lookuper = domain.NetLookuper{}
	}
	if o.Receive.Parse == (http.ParseOptions{}) {
		o.Receive.Parse = http.DefaultParseOptions
	}
	return o
}
