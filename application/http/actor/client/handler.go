package client

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"sync"

	"asynchttp/application/http/semantic"

	"github.com/benbjohnson/clock"
)

// Handler sends a request and returns its response.
type Handler interface {
	Handle(ctx context.Context, req *semantic.Request, opts RequestOptions) (*semantic.Response, error)
}

type HandlerFunc func(ctx context.Context, req *semantic.Request, opts RequestOptions) (*semantic.Response, error)

func (f HandlerFunc) Handle(ctx context.Context, req *semantic.Request, opts RequestOptions) (*semantic.Response, error) {
	return f(ctx, req, opts)
}

// Middleware decorates a handler.
type Middleware interface {
	Wrap(next Handler) Handler
}

type MiddlewareFunc func(next Handler) Handler

func (f MiddlewareFunc) Wrap(next Handler) Handler { return f(next) }

type stackEntry struct {
	name string
	mw   Middleware
}

// Stack composes named middlewares around a handler.
// The middleware pushed last sees the request first.
type Stack struct {
	mu      sync.RWMutex
	handler Handler
	entries []stackEntry
}

var _ Handler = (*Stack)(nil)

func NewStack(h Handler) *Stack {
	return &Stack{handler: h}
}

// DefaultStack returns a stack with the middlewares every client needs.
// Retry is outermost, so one retry covers a whole redirect chain.
// It stays off until a request configures [RequestOptions.Retry].
// Bodies are prepared once per attempt, outside redirect,
// and cookies are sent and stored on every hop.
func DefaultStack(h Handler, logger *slog.Logger, clk clock.Clock) *Stack {
	s := NewStack(h)
	s.Push(DecodeContent(), "decode_content")
	s.Push(Expect(), "expect")
	s.Push(Cookies(), "cookies")
	s.Push(Redirect(logger), "redirect")
	s.Push(HTTPErrors(), "http_errors")
	s.Push(PrepareBody(), "prepare_body")
	s.Push(Retry(RetryOptions{Disabled: true}, logger, clk), "retry")
	return s
}

// SetHandler replaces the innermost handler.
func (s *Stack) SetHandler(h Handler) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.handler = h
}

func (s *Stack) HasHandler() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.handler != nil
}

// Push adds mw as the new outermost middleware.
func (s *Stack) Push(mw Middleware, name string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries = append(s.entries, stackEntry{name: name, mw: mw})
}

// Unshift adds mw as the new innermost middleware.
func (s *Stack) Unshift(mw Middleware, name string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries = slices.Insert(s.entries, 0, stackEntry{name: name, mw: mw})
}

// Before adds mw right outside the middleware named anchor.
// Nothing is added when anchor is not found.
func (s *Stack) Before(anchor string, mw Middleware, name string) {
	s.insertAt(anchor, 1, mw, name)
}

// After adds mw right inside the middleware named anchor.
// Nothing is added when anchor is not found.
func (s *Stack) After(anchor string, mw Middleware, name string) {
	s.insertAt(anchor, 0, mw, name)
}

func (s *Stack) insertAt(anchor string, offset int, mw Middleware, name string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	idx := s.find(anchor)
	if idx < 0 {
		return
	}
	s.entries = slices.Insert(s.entries, idx+offset, stackEntry{name: name, mw: mw})
}

// Remove removes every middleware named name.
func (s *Stack) Remove(name string) {
	if name == "" {
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries = slices.DeleteFunc(s.entries, func(e stackEntry) bool { return e.name == name })
}

// Names returns the middleware names from innermost to outermost.
func (s *Stack) Names() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	names := make([]string, len(s.entries))
	for i, e := range s.entries {
		names[i] = e.name
	}
	return names
}

func (s *Stack) find(name string) int {
	if name == "" {
		return -1
	}
	return slices.IndexFunc(s.entries, func(e stackEntry) bool { return e.name == name })
}

// Resolve composes the current middlewares into one handler.
// Later changes to s don't affect the returned handler.
func (s *Stack) Resolve() (Handler, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.handler == nil {
		return nil, ErrNoHandler
	}

	h := s.handler
	for _, e := range s.entries {
		h = e.mw.Wrap(h)
	}
	return h, nil
}

func (s *Stack) Handle(ctx context.Context, req *semantic.Request, opts RequestOptions) (*semantic.Response, error) {
	h, err := s.Resolve()
	if err != nil {
		return nil, err
	}
	return h.Handle(ctx, req, opts)
}

// String lists the middlewares in the order a request passes them.
func (s *Stack) String() string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	b := new(strings.Builder)
	depth := 0
	for i := len(s.entries) - 1; i >= 0; i-- {
		name := s.entries[i].name
		if name == "" {
			name = fmt.Sprintf("unnamed_%d", i)
		}
		fmt.Fprintf(b, "%d) %s %s\n", depth, strings.Repeat("> ", depth), name)
		depth++
	}

	handler := "none"
	if s.handler != nil {
		handler = fmt.Sprintf("%T", s.handler)
	}
	fmt.Fprintf(b, "%d) %s handler %s\n", depth, strings.Repeat("> ", depth), handler)
	return b.String()
}
