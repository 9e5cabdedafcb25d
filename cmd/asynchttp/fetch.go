package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"asynchttp/application/http/actor/client"
	"asynchttp/application/http/cookie"
	"asynchttp/application/http/semantic"
	"asynchttp/application/util/uri"
	"asynchttp/lib/async"

	"github.com/alecthomas/kong"
	"github.com/cenkalti/backoff/v4"
	"github.com/pkg/errors"
)

var ErrRequestsFailed = errors.New("requests failed")

type CLI struct {
	Version kong.VersionFlag `help:"Print the version and exit."`

	URL []string `arg:"" required:"" help:"URLs to fetch. Relative ones are resolved against --base."`

	Base    string   `help:"Base URI for relative URLs."`
	Method  string   `short:"X" default:"GET" help:"Request method."`
	Header  []string `short:"H" sep:"none" help:"Header sent with every request, as 'Name: value'."`
	Query   []string `sep:"none" help:"Query parameter appended to every URL, as key=value."`
	Data    string   `short:"d" xor:"body" help:"Raw request body."`
	JSON    string   `name:"json" xor:"body" help:"JSON document sent as the request body."`
	Form    []string `short:"F" sep:"none" xor:"body" help:"Form field sent URL-encoded, as key=value."`
	User    string   `short:"u" xor:"auth" help:"Basic credentials, as user:password."`
	Bearer  string   `xor:"auth" help:"Bearer token."`
	Include bool     `short:"i" help:"Print the status line and headers before each body."`

	Concurrency    int           `short:"c" default:"25" help:"Requests in flight at once."`
	Timeout        time.Duration `default:"30s" help:"Whole request timeout. Zero waits forever."`
	ConnectTimeout time.Duration `default:"10s" help:"Connect timeout. Zero waits forever."`
	MaxConns       uint          `help:"Open connections per host. Zero is unlimited."`
	Insecure       bool          `short:"k" help:"Skip TLS certificate verification."`
	Proxy          string        `help:"Proxy URI: http://, socks5:// or socks5h://."`

	MaxRedirects int  `default:"5" help:"Redirects followed per request."`
	NoRedirects  bool `help:"Return redirect responses as they are."`
	NoHTTPErrors bool `name:"no-http-errors" help:"Treat 4xx and 5xx responses as successes."`

	Attempts   int           `default:"1" help:"Attempts made for requests that fail to connect, time out or get a 500, 502, 503 or 504."`
	RetryDelay time.Duration `default:"500ms" help:"Initial delay between retries, doubled every attempt."`
	Jitter     bool          `help:"Randomize retry delays."`

	CookieJar      string `type:"path" help:"JSON file cookies are loaded from and saved to."`
	SessionCookies bool   `help:"Also save cookies without an expiry to --cookie-jar."`

	Verbose   bool   `short:"v" help:"Log whole messages at debug level."`
	LogFormat string `enum:"auto,text,json" default:"auto" help:"Log format: auto, text or json."`
}

// Run fetches every URL through one client and writes the responses to out in argument order.
func (c *CLI) Run(ctx context.Context, out io.Writer, logger *slog.Logger) (err error) {
	opts, err := c.requestOptions()
	if err != nil {
		return err
	}

	if c.CookieJar != "" {
		jar, jerr := cookie.OpenFileJar(c.CookieJar, cookie.FileOptions{
			Options:             cookie.Options{Logger: logger},
			StoreSessionCookies: c.SessionCookies,
		})
		if jerr != nil {
			return errors.Wrap(jerr, "opening cookie jar")
		}
		defer func() {
			if cerr := jar.Close(); cerr != nil && err == nil {
				err = errors.Wrap(cerr, "saving cookie jar")
			}
		}()
		opts.Cookies = jar
	}

	cl, err := client.New(client.Options{
		BaseURI:  c.Base,
		Defaults: opts,
		Conn:     client.ConnOptions{MaxOpenConnsPerHost: c.MaxConns},
		Logger:   logger,
	})
	if err != nil {
		return err
	}

	format := client.FormatShort
	if c.Verbose {
		format = client.FormatDebug
	}
	cl.Stack().Push(client.Log(logger, client.NewMessageFormatter(format, nil)), "log")

	reqs := make([]*semantic.Request, len(c.URL))
	for i, raw := range c.URL {
		u, err := uri.Parse(raw)
		if err != nil {
			return errors.Wrapf(err, "parsing %q", raw)
		}
		reqs[i] = semantic.NewRequest(semantic.Method(strings.ToUpper(c.Method)), u, semantic.Headers{}, nil)
	}

	outcomes := cl.Pool(ctx, reqs, client.PoolConfig{Concurrency: c.Concurrency})

	failed := 0
	for i := range reqs {
		outcome := outcomes[i]
		if outcome.State == async.Rejected {
			failed++
			fmt.Fprintf(out, "%s: %v\n", c.URL[i], outcome.Err)
			continue
		}
		if err := c.print(out, reqs[i], outcome.Value); err != nil {
			return err
		}
	}

	if failed > 0 {
		return errors.Wrapf(ErrRequestsFailed, "%d of %d", failed, len(reqs))
	}
	return nil
}

func (c *CLI) print(out io.Writer, req *semantic.Request, res *semantic.Response) error {
	if c.Include {
		head := client.NewMessageFormatter("{res_headers}", nil).Format(req, res, nil)
		if _, err := io.WriteString(out, head+"\r\n"); err != nil {
			return err
		}
	}

	body, err := semantic.ReadBody(res.Body())
	if err != nil {
		return errors.Wrap(err, "reading response body")
	}
	if _, err := out.Write(body); err != nil {
		return err
	}
	if len(body) > 0 && body[len(body)-1] != '\n' {
		_, err = io.WriteString(out, "\n")
	}
	return err
}

// requestOptions turns the flags into options applied to every request.
func (c *CLI) requestOptions() (client.RequestOptions, error) {
	opts := client.RequestOptions{
		Timeout:        c.Timeout,
		ConnectTimeout: c.ConnectTimeout,
		Proxy:          c.Proxy,
	}

	if len(c.Header) > 0 {
		headers := make(map[string][]string)
		for _, h := range c.Header {
			name, value, ok := strings.Cut(h, ":")
			if !ok || strings.TrimSpace(name) == "" {
				return opts, errors.Errorf("header %q is not in 'Name: value' form", h)
			}
			name = strings.TrimSpace(name)
			headers[name] = append(headers[name], strings.TrimSpace(value))
		}
		opts.Headers = semantic.NewHeaders(headers)
	}

	var err error
	if opts.Query, err = pairs(c.Query); err != nil {
		return opts, err
	}

	switch {
	case c.Data != "":
		opts.Body = semantic.StringBody(c.Data)
	case c.JSON != "":
		if !json.Valid([]byte(c.JSON)) {
			return opts, errors.New("--json is not a valid JSON document")
		}
		opts.JSON = json.RawMessage(c.JSON)
	case len(c.Form) > 0:
		if opts.FormParams, err = pairs(c.Form); err != nil {
			return opts, err
		}
	}

	switch {
	case c.User != "":
		username, password, _ := strings.Cut(c.User, ":")
		opts.Auth = &client.Auth{Type: client.AuthBasic, Username: username, Password: password}
	case c.Bearer != "":
		opts.Auth = &client.Auth{Type: client.AuthBearer, Token: c.Bearer}
	}

	if c.Insecure {
		verify := false
		opts.Verify = &verify
	}
	if c.NoHTTPErrors {
		off := false
		opts.HTTPErrors = &off
	}

	if c.NoRedirects {
		opts.AllowRedirects = client.NoRedirects()
	} else {
		ro := client.DefaultRedirectOptions()
		ro.Max = c.MaxRedirects
		opts.AllowRedirects = &ro
	}

	if c.Attempts > 1 {
		opts.Retry = &client.RetryOptions{
			Max:    c.Attempts,
			Delay:  c.retryDelay(),
			Decide: client.StatusCodeDecider(),
		}
	}
	return opts, nil
}

func (c *CLI) retryDelay() client.BackoffFunc {
	if !c.Jitter {
		return client.ExponentialBackoff(c.RetryDelay, 0)
	}

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = c.RetryDelay
	b.MaxElapsedTime = 0
	return client.BackOffFrom(b)
}

// pairs parses key=value arguments. A missing '=' gives an empty value.
func pairs(args []string) (map[string][]string, error) {
	if len(args) == 0 {
		return nil, nil
	}
	values := make(map[string][]string)
	for _, arg := range args {
		key, value, _ := strings.Cut(arg, "=")
		if key == "" {
			return nil, errors.Errorf("%q has no key", arg)
		}
		values[key] = append(values[key], value)
	}
	return values, nil
}
