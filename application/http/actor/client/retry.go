package client

import (
	"context"
	"log/slog"
	"slices"
	"time"

	"asynchttp/application/http/semantic"

	"github.com/benbjohnson/clock"
	"github.com/pkg/errors"
)

const DefaultMaxRetries = 3

// DecideFunc reports whether to retry after res or err.
// Exactly one of res and err is non-nil.
type DecideFunc func(attempt int, req *semantic.Request, res *semantic.Response, err error) bool

// RetryEvent describes a retry about to be sent.
type RetryEvent struct {
	Attempt  int
	Request  *semantic.Request
	Response *semantic.Response
	Err      error
	Delay    time.Duration
}

// RetryOptions configures retries.
type RetryOptions struct {
	// Disabled sends every request once.
	Disabled bool
	// Max bounds the attempts made for a failing request. Zero uses [DefaultMaxRetries].
	Max int
	// Delay is the wait before each retry. Nil retries right away.
	Delay BackoffFunc
	// Decide picks what to retry. Nil retries connect and timeout errors only,
	// and never a response.
	Decide DecideFunc
	// OnRetry is called before each retry is sent.
	OnRetry func(RetryEvent)
}

// DisableRetry sends a request once whatever the retry middleware was created with.
func DisableRetry() *RetryOptions {
	return &RetryOptions{Disabled: true}
}

// StatusCodeDecider retries responses with one of codes, connect errors and timeouts.
// Without codes, 500, 502, 503 and 504 are retried.
func StatusCodeDecider(codes ...int) DecideFunc {
	if len(codes) == 0 {
		codes = []int{500, 502, 503, 504}
	}
	return func(_ int, _ *semantic.Request, res *semantic.Response, err error) bool {
		if err != nil {
			if br, ok := AsBadResponseError(err); ok {
				return slices.Contains(codes, br.StatusCode())
			}
			return retryableError(err)
		}
		return res != nil && slices.Contains(codes, res.StatusCode())
	}
}

func retryableError(err error) bool {
	return IsConnectError(err) || IsTimeoutError(err)
}

// Retry resends failed requests as configured by [RequestOptions.Retry],
// falling back to opts when a request doesn't configure retries.
func Retry(opts RetryOptions, logger *slog.Logger, clk clock.Clock) Middleware {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	if clk == nil {
		clk = clock.New()
	}
	return MiddlewareFunc(func(next Handler) Handler {
		return &retryHandler{next: next, opts: opts, logger: logger, clock: clk}
	})
}

type retryHandler struct {
	next   Handler
	opts   RetryOptions
	logger *slog.Logger
	clock  clock.Clock
}

func (h *retryHandler) Handle(ctx context.Context, req *semantic.Request, opts RequestOptions) (*semantic.Response, error) {
	ro := h.opts
	if opts.Retry != nil {
		ro = *opts.Retry
	}
	if ro.Disabled {
		return h.next.Handle(ctx, req, opts)
	}

	limit := ro.Max
	if limit <= 0 {
		limit = DefaultMaxRetries
	}

	for attempt := 0; ; {
		res, err := h.next.Handle(ctx, req, opts)
		if err == nil {
			if ro.Decide == nil || attempt >= limit || !ro.Decide(attempt, req, res, nil) {
				return res, nil
			}
			attempt++
		} else {
			attempt++
			if attempt >= limit || ctx.Err() != nil {
				return nil, err
			}
			decide := ro.Decide
			if decide == nil {
				decide = func(_ int, _ *semantic.Request, _ *semantic.Response, err error) bool { return retryableError(err) }
			}
			if !decide(attempt, req, nil, err) {
				return nil, err
			}
		}

		var delay time.Duration
		if ro.Delay != nil {
			delay = ro.Delay(attempt)
		}

		h.logger.Debug("retrying request",
			slog.String("method", string(req.Method())),
			slog.String("uri", req.URI().WithoutUserInfo().String()),
			slog.Int("attempt", attempt),
			slog.Duration("delay", delay),
			slog.Any("error", err),
		)

		if err := h.wait(ctx, delay); err != nil {
			return nil, errors.Wrap(err, "waiting to retry")
		}
		if ro.OnRetry != nil {
			ro.OnRetry(RetryEvent{Attempt: attempt, Request: req, Response: res, Err: err, Delay: delay})
		}
		if rerr := req.Body().Rewind(); rerr != nil {
			return nil, newRequestError(req, res, rerr, "cannot resend body of %s", req.URI().WithoutUserInfo())
		}
	}
}

func (h *retryHandler) wait(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}

	timer := h.clock.Timer(d)
	defer timer.Stop()

	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
