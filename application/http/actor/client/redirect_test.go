package client

import (
	"context"
	"strconv"
	"sync"
	"testing"

	"asynchttp/application/http/semantic"
	"asynchttp/application/util/uri"

	"github.com/stretchr/testify/suite"
)

// scripted answers requests by URI and records them.
type scripted struct {
	mu        sync.Mutex
	responses map[string]*semantic.Response
	requests  []*semantic.Request
}

func newScripted(responses map[string]*semantic.Response) *scripted {
	return &scripted{responses: responses}
}

func (h *scripted) Handle(_ context.Context, req *semantic.Request, _ RequestOptions) (*semantic.Response, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.requests = append(h.requests, req)
	if res, ok := h.responses[req.URI().String()]; ok {
		return res, nil
	}
	return semantic.NewResponse(200, semantic.Headers{}, semantic.StringBody("final")), nil
}

func (h *scripted) sent() []*semantic.Request {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]*semantic.Request(nil), h.requests...)
}

func redirectTo(code int, location string) *semantic.Response {
	return semantic.NewResponse(code, semantic.NewHeaders(map[string][]string{"Location": {location}}), nil)
}

type RedirectTestSuite struct {
	suite.Suite
}

func TestRedirectTestSuite(t *testing.T) {
	suite.Run(t, new(RedirectTestSuite))
}

func (s *RedirectTestSuite) run(h Handler, req *semantic.Request, opts RequestOptions) (*semantic.Response, error) {
	return Redirect(nil).Wrap(h).Handle(context.Background(), req, opts)
}

func postRequest(rawURI string) *semantic.Request {
	return newRequest(semantic.MethodPost, rawURI).
		WithBody(semantic.StringBody("data")).
		WithHeader("Content-Length", "4")
}

func (s *RedirectTestSuite) TestMethodRewriting() {
	testcases := []struct {
		desc       string
		code       int
		strict     bool
		wantMethod semantic.Method
		wantBody   string
	}{
		{desc: "303 turns into GET", code: 303, wantMethod: semantic.MethodGet},
		{desc: "303 turns into GET even when strict", code: 303, strict: true, wantMethod: semantic.MethodGet},
		{desc: "307 keeps method and body", code: 307, wantMethod: semantic.MethodPost, wantBody: "data"},
		{desc: "308 keeps method and body", code: 308, wantMethod: semantic.MethodPost, wantBody: "data"},
		{desc: "302 turns into GET", code: 302, wantMethod: semantic.MethodGet},
		{desc: "301 turns into GET", code: 301, wantMethod: semantic.MethodGet},
		{desc: "302 keeps method when strict", code: 302, strict: true, wantMethod: semantic.MethodPost, wantBody: "data"},
	}

	for _, tc := range testcases {
		s.Run(tc.desc, func() {
			h := newScripted(map[string]*semantic.Response{
				"http://a.example/start": redirectTo(tc.code, "/next"),
			})
			ro := DefaultRedirectOptions()
			ro.Strict = tc.strict

			res, err := s.run(h, postRequest("http://a.example/start"), RequestOptions{AllowRedirects: &ro})
			s.Require().NoError(err)
			s.Equal(200, res.StatusCode())

			sent := h.sent()
			s.Require().Len(sent, 2)
			next := sent[1]
			s.Equal("http://a.example/next", next.URI().String())
			s.Equal(tc.wantMethod, next.Method())

			body, err := semantic.ReadBody(next.Body())
			s.Require().NoError(err)
			s.Equal(tc.wantBody, string(body))
			s.Equal(tc.wantBody != "", next.HasHeader("Content-Length"))
		})
	}
}

func (s *RedirectTestSuite) TestGetKeepsMethodOn302() {
	h := newScripted(map[string]*semantic.Response{
		"http://a.example/": redirectTo(302, "/b"),
	})

	_, err := s.run(h, newRequest(semantic.MethodHead, "http://a.example/"), RequestOptions{})
	s.Require().NoError(err)
	s.Equal(semantic.MethodHead, h.sent()[1].Method())
}

func (s *RedirectTestSuite) TestMaxRedirects() {
	responses := make(map[string]*semantic.Response)
	for i := range 10 {
		responses["http://a.example/"+strconv.Itoa(i)] = redirectTo(302, "/"+strconv.Itoa(i+1))
	}

	testcases := []struct {
		desc    string
		max     int
		chain   int
		wantErr bool
	}{
		{desc: "chain at the bound", max: 3, chain: 3},
		{desc: "chain over the bound", max: 3, chain: 4, wantErr: true},
		{desc: "zero follows none", max: 0, chain: 1, wantErr: true},
		{desc: "one", max: 1, chain: 1},
		{desc: "default", max: DefaultMaxRedirects, chain: 5},
		{desc: "over the default", max: DefaultMaxRedirects, chain: 6, wantErr: true},
	}

	for _, tc := range testcases {
		s.Run(tc.desc, func() {
			chain := make(map[string]*semantic.Response)
			for i := range tc.chain {
				chain["http://a.example/"+strconv.Itoa(i)] = responses["http://a.example/"+strconv.Itoa(i)]
			}
			h := newScripted(chain)
			ro := DefaultRedirectOptions()
			ro.Max = tc.max

			res, err := s.run(h, newRequest(semantic.MethodGet, "http://a.example/0"), RequestOptions{AllowRedirects: &ro})
			if !tc.wantErr {
				s.Require().NoError(err)
				s.Equal(200, res.StatusCode())
				s.Len(h.sent(), tc.chain+1)
				return
			}

			var tooMany *TooManyRedirectsError
			s.Require().ErrorAs(err, &tooMany)
			s.True(tooMany.HasResponse())
			s.Equal(302, tooMany.Response().StatusCode())

			s.Len(h.sent(), tc.max+1)
		})
	}
}

func (s *RedirectTestSuite) TestCrossHostStripsCredentials() {
	testcases := []struct {
		desc      string
		from      string
		location  string
		stripped  bool
		referer   string
		noReferer bool
	}{
		{desc: "same host", from: "http://a.example/x", location: "/y", referer: "http://a.example/x"},
		{desc: "other host", from: "http://a.example/x", location: "http://b.example/y", stripped: true, referer: "http://a.example/x"},
		{desc: "same host upgrade", from: "http://a.example/x", location: "https://a.example/y", referer: "http://a.example/x"},
		{desc: "same host downgrade", from: "https://a.example/x", location: "http://a.example/y", stripped: true, noReferer: true},
	}

	for _, tc := range testcases {
		s.Run(tc.desc, func() {
			h := newScripted(map[string]*semantic.Response{tc.from: redirectTo(302, tc.location)})
			req := newRequest(semantic.MethodGet, tc.from).
				WithHeader("Authorization", "Bearer secret").
				WithHeader("Cookie", "sid=1")

			_, err := s.run(h, req, RequestOptions{})
			s.Require().NoError(err)

			next := h.sent()[1]
			s.Equal(!tc.stripped, next.HasHeader("Authorization"))
			s.Equal(!tc.stripped, next.HasHeader("Cookie"))
			if tc.noReferer {
				s.False(next.HasHeader("Referer"))
			} else {
				s.Equal(tc.referer, next.Header("Referer"))
			}
		})
	}
}

func (s *RedirectTestSuite) TestRefererLeavesOutCredentials() {
	h := newScripted(map[string]*semantic.Response{
		"http://user:pw@a.example/x#frag": redirectTo(301, "/y"),
	})
	_, err := s.run(h, newRequest(semantic.MethodGet, "http://user:pw@a.example/x#frag"), RequestOptions{})
	s.Require().NoError(err)
	s.Equal("http://a.example/x", h.sent()[1].Header("Referer"))

	h = newScripted(map[string]*semantic.Response{
		"http://a.example/x": redirectTo(301, "/y"),
	})
	ro := DefaultRedirectOptions()
	ro.Referer = false
	_, err = s.run(h, newRequest(semantic.MethodGet, "http://a.example/x"), RequestOptions{AllowRedirects: &ro})
	s.Require().NoError(err)
	s.False(h.sent()[1].HasHeader("Referer"))
}

func (s *RedirectTestSuite) TestTracking() {
	h := newScripted(map[string]*semantic.Response{
		"http://a.example/1": redirectTo(301, "http://b.example/2"),
		"http://b.example/2": redirectTo(307, "/3"),
	})
	ro := DefaultRedirectOptions()
	ro.TrackRedirects = true

	var hooked []string
	ro.OnRedirect = func(req *semantic.Request, res *semantic.Response, target uri.URI) {
		hooked = append(hooked, req.URI().String()+" -> "+target.String())
	}

	res, err := s.run(h, newRequest(semantic.MethodGet, "http://a.example/1"), RequestOptions{AllowRedirects: &ro})
	s.Require().NoError(err)

	s.Equal([]string{"http://b.example/2", "http://b.example/3"}, res.HeaderValues(HeaderRedirectHistory))
	s.Equal([]string{"301", "307"}, res.HeaderValues(HeaderRedirectStatusHistory))
	s.Equal([]string{
		"http://a.example/1 -> http://b.example/2",
		"http://b.example/2 -> http://b.example/3",
	}, hooked)

	history := RedirectHistory(res)
	s.Require().Len(history, 2)
	s.Equal(301, history[0].Status)
	s.Equal("http://b.example/2", history[0].URI.String())
	s.Equal("/3", history[1].Headers.Line("Location"))
}

func (s *RedirectTestSuite) TestNotTrackedByDefault() {
	h := newScripted(map[string]*semantic.Response{
		"http://a.example/1": redirectTo(301, "/2"),
	})

	res, err := s.run(h, newRequest(semantic.MethodGet, "http://a.example/1"), RequestOptions{})
	s.Require().NoError(err)
	s.False(res.HasHeader(HeaderRedirectHistory))
	s.Empty(RedirectHistory(res))
}

func (s *RedirectTestSuite) TestReturnedAsIs() {
	testcases := []struct {
		desc string
		res  *semantic.Response
		opts RequestOptions
	}{
		{desc: "disabled", res: redirectTo(302, "/b"), opts: RequestOptions{AllowRedirects: NoRedirects()}},
		{desc: "no location", res: semantic.NewResponse(302, semantic.Headers{}, nil)},
		{desc: "not a redirect code", res: redirectTo(300, "/b")},
		{desc: "scheme not allowed", res: redirectTo(302, "ftp://a.example/file")},
	}

	for _, tc := range testcases {
		s.Run(tc.desc, func() {
			h := newScripted(map[string]*semantic.Response{"http://a.example/": tc.res})

			res, err := s.run(h, newRequest(semantic.MethodGet, "http://a.example/"), tc.opts)
			s.Require().NoError(err)
			s.Equal(tc.res.StatusCode(), res.StatusCode())
			s.Len(h.sent(), 1)
		})
	}
}

func (s *RedirectTestSuite) TestDefaultBound() {
	responses := make(map[string]*semantic.Response)
	for i := range DefaultMaxRedirects + 1 {
		responses["http://a.example/"+strconv.Itoa(i)] = redirectTo(302, "/"+strconv.Itoa(i+1))
	}
	h := newScripted(responses)

	_, err := s.run(h, newRequest(semantic.MethodGet, "http://a.example/0"), RequestOptions{})
	var tooMany *TooManyRedirectsError
	s.Require().ErrorAs(err, &tooMany)
	s.Len(h.sent(), DefaultMaxRedirects+1)
}

func (s *RedirectTestSuite) TestMissingLocationAfterChain() {
	h := newScripted(map[string]*semantic.Response{
		"http://a.example/1": redirectTo(301, "/2"),
		"http://a.example/2": semantic.NewResponse(302, semantic.Headers{}, nil),
	})
	ro := DefaultRedirectOptions()
	ro.TrackRedirects = true

	res, err := s.run(h, newRequest(semantic.MethodGet, "http://a.example/1"), RequestOptions{AllowRedirects: &ro})
	s.Require().NoError(err)
	s.Equal(302, res.StatusCode())
	s.False(res.HasHeader(HeaderRedirectHistory))
	s.False(res.HasHeader(HeaderRedirectStatusHistory))
	s.Empty(RedirectHistory(res))
	s.Len(h.sent(), 2)
}

func (s *RedirectTestSuite) TestInvalidLocation() {
	h := newScripted(map[string]*semantic.Response{
		"http://a.example/": redirectTo(302, "http://[bad"),
	})

	_, err := s.run(h, newRequest(semantic.MethodGet, "http://a.example/"), RequestOptions{})
	var re *RequestError
	s.Require().ErrorAs(err, &re)
	s.True(re.HasResponse())
}
