package client

import (
	"io"
	"net"
	"net/netip"
	"strconv"
	"strings"
	"sync"
	"testing"

	"asynchttp/application/http"
	"asynchttp/application/http/semantic/status"
	"asynchttp/application/http/wiretest"
	"asynchttp/application/util/domain"
	iolib "asynchttp/lib/io"

	"github.com/stretchr/testify/require"
)

// received is a request as a test server decoded it.
type received struct {
	http.Request
	body []byte
}

func (r received) header(name string) string {
	return strings.Join(http.FieldValues(r.Headers, name), ", ")
}

// testServer serves each connection with handle, then closes it.
type testServer struct {
	l    net.Listener
	port uint16
	wg   sync.WaitGroup

	mu   sync.Mutex
	reqs []received
}

func startServer(t *testing.T, handle func(conn net.Conn, req received)) *testServer {
	t.Helper()

	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	s := &testServer{l: l, port: uint16(l.Addr().(*net.TCPAddr).Port)}
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		for {
			conn, err := l.Accept()
			if err != nil {
				return
			}
			s.wg.Add(1)
			go func() {
				defer s.wg.Done()
				defer conn.Close()

				var req http.Request
				if err := wiretest.NewRequestDecoder(iolib.NewUntilReader(conn), wiretest.DefaultDecodeOptions).Decode(&req); err != nil {
					return
				}
				body, err := io.ReadAll(req.Body)
				if err != nil {
					return
				}

				r := received{Request: req, body: body}
				s.mu.Lock()
				s.reqs = append(s.reqs, r)
				s.mu.Unlock()

				handle(conn, r)
			}()
		}
	}()

	t.Cleanup(s.close)
	return s
}

func (s *testServer) close() {
	_ = s.l.Close()
	s.wg.Wait()
}

func (s *testServer) url(path string) string {
	return "http://127.0.0.1:" + strconv.Itoa(int(s.port)) + path
}

func (s *testServer) hostURL(host, path string) string {
	return "http://" + host + ":" + strconv.Itoa(int(s.port)) + path
}

func (s *testServer) requests() []received {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]received(nil), s.reqs...)
}

// respond writes a response with a Content-Length matching body.
func respond(conn net.Conn, code int, body string, headers ...string) {
	fields := []http.Field{http.NewField("Content-Length", strconv.Itoa(len(body)))}
	for i := 0; i+1 < len(headers); i += 2 {
		fields = append(fields, http.NewField(headers[i], headers[i+1]))
	}

	_ = wiretest.NewResponseEncoder(conn, http.DefaultEncodeOptions).Encode(http.Response{
		StatusLine: http.StatusLine{Version: http.Version11, StatusCode: code, ReasonPhrase: status.Text(code)},
		Headers:    fields,
		Body:       strings.NewReader(body),
	})
}

// respondRaw writes raw as is.
func respondRaw(conn net.Conn, raw string) {
	_, _ = conn.Write([]byte(raw))
}

func testLookuper() domain.Lookuper {
	loopback := []netip.Addr{netip.MustParseAddr("127.0.0.1")}
	return domain.NewMapLookuper(map[string][]netip.Addr{
		"a.example": loopback,
		"b.example": loopback,
	})
}
