package client

import (
	"context"
	"log/slog"
	"runtime"
	"strings"

	"asynchttp/application/http/semantic"
	"asynchttp/application/util/uri"
	"asynchttp/lib/async"

	"github.com/benbjohnson/clock"
	"github.com/pkg/errors"
)

const Version = "0.1.0"

// DefaultUserAgent is sent by clients without a configured User-Agent.
func DefaultUserAgent() string {
	return "asynchttp/" + Version + " go/" + strings.TrimPrefix(runtime.Version(), "go")
}

// Client builds requests and sends them through its [Stack].
// It is safe for concurrent use.
type Client struct {
	opts  Options
	base  *uri.URI
	stack *Stack

	logger *slog.Logger
	clock  clock.Clock
}

func New(opts Options) (*Client, error) {
	opts = opts.withDefaults()
	if opts.UserAgent == "" {
		opts.UserAgent = DefaultUserAgent()
	}
	if err := opts.Defaults.Validate(); err != nil {
		return nil, errors.Wrap(err, "validating default request options")
	}

	c := &Client{opts: opts, logger: opts.Logger, clock: opts.Clock}

	if opts.BaseURI != "" {
		base, err := uri.Parse(opts.BaseURI)
		if err != nil {
			return nil, errors.Wrap(err, "parsing base URI")
		}
		if base.Scheme == "" || base.Authority == nil {
			return nil, errors.Errorf("base URI %q is not absolute", opts.BaseURI)
		}
		c.base = &base
	}

	c.stack = opts.Stack
	if c.stack == nil {
		c.stack = DefaultStack(NewWireHandler(opts), opts.Logger, opts.Clock)
	} else if !c.stack.HasHandler() {
		c.stack.SetHandler(NewWireHandler(opts))
	}

	return c, nil
}

// Stack returns the stack requests go through. Changes to it apply to later requests.
func (c *Client) Stack() *Stack { return c.stack }

// Config returns the options c was created with, defaults filled in.
func (c *Client) Config() Options { return c.opts }

// Do sends a request for method and rawURI.
// rawURI is resolved against the base URI of the client.
func (c *Client) Do(ctx context.Context, method, rawURI string, opts RequestOptions) (*semantic.Response, error) {
	u, err := c.resolve(rawURI)
	if err != nil {
		return nil, err
	}
	req := semantic.NewRequest(semantic.Method(strings.ToUpper(method)), u, semantic.Headers{}, nil)
	return c.Send(ctx, req, opts)
}

// Send sends req. A relative request URI is resolved against the base URI of the client.
func (c *Client) Send(ctx context.Context, req *semantic.Request, opts RequestOptions) (*semantic.Response, error) {
	merged := c.opts.Defaults.merge(opts)
	if err := merged.Validate(); err != nil {
		return nil, err
	}

	if u := req.URI(); u.IsRelativeRef() {
		resolved, err := c.resolve(u.String())
		if err != nil {
			return nil, err
		}
		req = req.WithURI(resolved)
	}
	req = c.apply(req, opts, merged)

	c.logger.Debug("sending request", slog.String("method", string(req.Method())), slog.String("uri", req.URI().WithoutUserInfo().String()))
	return c.stack.Handle(ctx, req, merged)
}

// DoAsync is [Client.Do] running in its own goroutine.
func (c *Client) DoAsync(ctx context.Context, method, rawURI string, opts RequestOptions) *async.Promise[*semantic.Response] {
	return async.Go(ctx, func(ctx context.Context) (*semantic.Response, error) {
		return c.Do(ctx, method, rawURI, opts)
	})
}

// SendAsync is [Client.Send] running in its own goroutine.
func (c *Client) SendAsync(ctx context.Context, req *semantic.Request, opts RequestOptions) *async.Promise[*semantic.Response] {
	return async.Go(ctx, func(ctx context.Context) (*semantic.Response, error) {
		return c.Send(ctx, req, opts)
	})
}

func (c *Client) Get(ctx context.Context, rawURI string, opts RequestOptions) (*semantic.Response, error) {
	return c.Do(ctx, string(semantic.MethodGet), rawURI, opts)
}

func (c *Client) Head(ctx context.Context, rawURI string, opts RequestOptions) (*semantic.Response, error) {
	return c.Do(ctx, string(semantic.MethodHead), rawURI, opts)
}

func (c *Client) Post(ctx context.Context, rawURI string, opts RequestOptions) (*semantic.Response, error) {
	return c.Do(ctx, string(semantic.MethodPost), rawURI, opts)
}

func (c *Client) Put(ctx context.Context, rawURI string, opts RequestOptions) (*semantic.Response, error) {
	return c.Do(ctx, string(semantic.MethodPut), rawURI, opts)
}

func (c *Client) Patch(ctx context.Context, rawURI string, opts RequestOptions) (*semantic.Response, error) {
	return c.Do(ctx, string(semantic.MethodPatch), rawURI, opts)
}

func (c *Client) Delete(ctx context.Context, rawURI string, opts RequestOptions) (*semantic.Response, error) {
	return c.Do(ctx, string(semantic.MethodDelete), rawURI, opts)
}

func (c *Client) Options(ctx context.Context, rawURI string, opts RequestOptions) (*semantic.Response, error) {
	return c.Do(ctx, string(semantic.MethodOptions), rawURI, opts)
}

func (c *Client) resolve(rawURI string) (uri.URI, error) {
	if c.base == nil {
		u, err := uri.Parse(rawURI)
		if err != nil {
			return uri.URI{}, errors.Wrapf(err, "parsing request URI %q", rawURI)
		}
		return u, nil
	}

	u, err := uri.ResolveBase(*c.base, rawURI)
	if err != nil {
		return uri.URI{}, errors.Wrapf(err, "resolving %q against base URI", rawURI)
	}
	return u, nil
}

// apply sets the headers, query and credentials of the options on req.
// Client default headers don't replace headers req already has, while per request headers do.
func (c *Client) apply(req *semantic.Request, perRequest, merged RequestOptions) *semantic.Request {
	defaults := c.opts.Defaults.Headers
	for _, name := range defaults.Names() {
		if !req.HasHeader(name) && !perRequest.Headers.Has(name) {
			req = req.WithHeader(name, defaults.Values(name)...)
		}
	}
	for _, name := range perRequest.Headers.Names() {
		req = req.WithHeader(name, perRequest.Headers.Values(name)...)
	}

	if !req.HasHeader("User-Agent") {
		req = req.WithHeader("User-Agent", c.opts.UserAgent)
	}

	if len(merged.Query) > 0 {
		req = req.WithURI(req.URI().AppendQuery(encodeForm(merged.Query)))
	}

	if merged.Auth != nil {
		if value, ok := merged.Auth.header(); ok {
			req = req.WithHeader("Authorization", value)
		}
	}
	return req
}

// DefaultPoolConcurrency bounds [Client.Pool] when no concurrency is configured.
const DefaultPoolConcurrency = 25

// PoolConfig configures [Client.Pool].
type PoolConfig struct {
	// Concurrency bounds the requests in flight. Zero uses [DefaultPoolConcurrency].
	Concurrency int
	// Options apply to every request.
	Options RequestOptions

	Fulfilled func(res *semantic.Response, index int)
	Rejected  func(err error, index int)
}

// Pool sends reqs with at most cfg.Concurrency in flight.
// The outcome of reqs[i] is under key i. Errors never stop the other requests.
func (c *Client) Pool(ctx context.Context, reqs []*semantic.Request, cfg PoolConfig) map[int]async.Outcome[*semantic.Response] {
	concurrency := cfg.Concurrency
	if concurrency <= 0 {
		concurrency = DefaultPoolConcurrency
	}

	works := make([]async.Work[*semantic.Response], len(reqs))
	for i, req := range reqs {
		works[i] = func(ctx context.Context) (*semantic.Response, error) {
			return c.Send(ctx, req, cfg.Options)
		}
	}

	return async.Execute(ctx, async.Indexed(works...), async.Config[int, *semantic.Response]{
		Concurrency: concurrency,
		Fulfilled:   cfg.Fulfilled,
		Rejected:    cfg.Rejected,
	})
}
