// Package transport opens the byte streams HTTP messages travel on:
// TCP connections, TLS sessions on top of them, and SOCKS5 tunnels.
package transport

import (
	"context"
	"crypto/tls"
	"log/slog"
	"net"
	"net/netip"
	"strconv"
	"time"

	"github.com/pkg/errors"
	"golang.org/x/net/proxy"
)

var ErrNoAddress = errors.New("no address to dial")

type Options struct {
	// KeepAlive is passed to [net.Dialer]. Zero uses its default.
	KeepAlive time.Duration
	// LocalAddr binds outgoing connections to a local address.
	LocalAddr *net.TCPAddr
}

// Dialer dials TCP connections to resolved addresses.
type Dialer struct {
	net    *net.Dialer
	logger *slog.Logger
}

func NewDialer(logger *slog.Logger, opts Options) *Dialer {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}

	nd := &net.Dialer{KeepAlive: opts.KeepAlive}
	if opts.LocalAddr != nil {
		nd.LocalAddr = opts.LocalAddr
	}
	return &Dialer{net: nd, logger: logger}
}

// DialTCP tries addrs in order and returns the first connection established.
// The error of the last attempt is returned when every address fails.
func (d *Dialer) DialTCP(ctx context.Context, addrs []netip.Addr, port uint16) (net.Conn, error) {
	if len(addrs) == 0 {
		return nil, ErrNoAddress
	}

	var lastErr error
	for _, addr := range addrs {
		target := netip.AddrPortFrom(addr, port).String()

		conn, err := d.net.DialContext(ctx, "tcp", target)
		if err == nil {
			d.logger.Debug("connected", slog.String("addr", target))
			return conn, nil
		}

		d.logger.Debug("dial failed", slog.String("addr", target), slog.Any("error", err))
		lastErr = errors.Wrapf(err, "dialing %s", target)

		if ctx.Err() != nil {
			break
		}
	}

	return nil, lastErr
}

// SOCKS5 describes a SOCKS5 proxy.
// Reference: https://datatracker.ietf.org/doc/html/rfc1928
type SOCKS5 struct {
	Addrs    []netip.Addr // resolved addresses of the proxy
	Port     uint16
	Username string
	Password string
}

// DialSOCKS5 connects to host:port through the proxy.
// The proxy resolves host.
func (d *Dialer) DialSOCKS5(ctx context.Context, p SOCKS5, host string, port uint16) (net.Conn, error) {
	var auth *proxy.Auth
	if p.Username != "" || p.Password != "" {
		auth = &proxy.Auth{User: p.Username, Password: p.Password}
	}

	forward := forwardDialer{d: d, addrs: p.Addrs, port: p.Port}
	// The proxy address is only used by forward, which already knows where to go.
	pd, err := proxy.SOCKS5("tcp", "socks5-proxy:"+strconv.Itoa(int(p.Port)), auth, forward)
	if err != nil {
		return nil, errors.Wrap(err, "creating socks5 dialer")
	}

	target := net.JoinHostPort(host, strconv.Itoa(int(port)))
	cd, ok := pd.(proxy.ContextDialer)
	if !ok {
		return nil, errors.New("socks5 dialer doesn't support context")
	}

	conn, err := cd.DialContext(ctx, "tcp", target)
	if err != nil {
		return nil, errors.Wrapf(err, "connecting to %s through socks5 proxy", target)
	}
	return conn, nil
}

// forwardDialer connects to the SOCKS5 proxy itself.
type forwardDialer struct {
	d     *Dialer
	addrs []netip.Addr
	port  uint16
}

func (f forwardDialer) Dial(network, addr string) (net.Conn, error) {
	return f.DialContext(context.Background(), network, addr)
}

func (f forwardDialer) DialContext(ctx context.Context, _, _ string) (net.Conn, error) {
	return f.d.DialTCP(ctx, f.addrs, f.port)
}

type TLSOptions struct {
	// Verify enables certificate chain and host name verification.
	Verify bool
	// Config is cloned and used as the base configuration when set.
	Config *tls.Config
}

// ClientTLS runs a TLS handshake on conn.
// conn is closed when the handshake fails.
func ClientTLS(ctx context.Context, conn net.Conn, serverName string, opts TLSOptions) (net.Conn, error) {
	cfg := &tls.Config{}
	if opts.Config != nil {
		cfg = opts.Config.Clone()
	}
	if cfg.ServerName == "" {
		cfg.ServerName = serverName
	}
	cfg.InsecureSkipVerify = !opts.Verify
	if len(cfg.NextProtos) == 0 {
		cfg.NextProtos = []string{"http/1.1"}
	}

	tlsConn := tls.Client(conn, cfg)
	if err := tlsConn.HandshakeContext(ctx); err != nil {
		_ = conn.Close()
		return nil, errors.Wrapf(err, "tls handshake with %s", serverName)
	}

	return tlsConn, nil
}
