package server

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"io"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"testing"
	"time"

	"github.com/sndbox/servedir/internal/config"
	"github.com/sndbox/servedir/internal/dispatch"
	"github.com/sndbox/servedir/internal/httpwire"
)

type testServer struct {
	root   string
	addr   string
	cancel context.CancelFunc
	done   chan struct{}
	err    error
}

func startServer(t *testing.T) *testServer {
	t.Helper()
	root := t.TempDir()
	files := map[string][]byte{
		"foo.txt":        []byte("hello from foo\n"),
		"a.txt":          []byte("a"),
		"b.txt":          []byte("b"),
		"img/logo.png":   bytes.Repeat([]byte{0x89, 'P', 'N', 'G'}, 50000),
		"docs/readme.md": []byte("# readme\n"),
	}
	for name, content := range files {
		path := filepath.Join(root, filepath.FromSlash(name))
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			t.Fatal(err)
		}
		if err := os.WriteFile(path, content, 0o644); err != nil {
			t.Fatal(err)
		}
	}

	logger := discardLogger()
	cfg := config.ServerConfig{Root: root, Port: 0, BindAddress: "127.0.0.1"}
	d, err := dispatch.NewFromConfig(cfg, logger)
	if err != nil {
		t.Fatal(err)
	}
	srv := New(cfg.Addr(), d, logger)
	if err := srv.Listen(); err != nil {
		t.Fatal(err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	ts := &testServer{root: root, addr: srv.Addr().String(), cancel: cancel, done: make(chan struct{})}
	go func() {
		ts.err = srv.Serve(ctx)
		close(ts.done)
	}()
	t.Cleanup(ts.stop)
	return ts
}

func (ts *testServer) stop() {
	ts.cancel()
	select {
	case <-ts.done:
	case <-time.After(5 * time.Second):
	}
}

type client struct {
	conn net.Conn
	r    *bufio.Reader
}

func (ts *testServer) dial(t *testing.T) *client {
	t.Helper()
	conn, err := net.Dial("tcp", ts.addr)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { conn.Close() })
	conn.SetDeadline(time.Now().Add(10 * time.Second))
	return &client{conn: conn, r: bufio.NewReader(conn)}
}

func (c *client) do(t *testing.T, method, uri string, headers httpwire.HTTPHeader) (*http.Response, []byte) {
	t.Helper()
	req := &httpwire.Request{Method: method, URI: uri, Version: "HTTP/1.1", Headers: headers}
	if err := httpwire.WriteRequest(c.conn, req); err != nil {
		t.Fatal(err)
	}
	res, err := http.ReadResponse(c.r, &http.Request{Method: method})
	if err != nil {
		t.Fatalf("%s %s: %v", method, uri, err)
	}
	defer res.Body.Close()
	body, err := io.ReadAll(res.Body)
	if err != nil {
		t.Fatalf("%s %s: reading body: %v", method, uri, err)
	}
	return res, body
}

func TestServeFile(t *testing.T) {
	ts := startServer(t)
	c := ts.dial(t)

	for _, name := range []string{"foo.txt", "img/logo.png"} {
		want, err := os.ReadFile(filepath.Join(ts.root, filepath.FromSlash(name)))
		if err != nil {
			t.Fatal(err)
		}
		res, body := c.do(t, "GET", "/"+name, nil)
		if res.StatusCode != http.StatusOK {
			t.Fatalf("GET /%s status = %d", name, res.StatusCode)
		}
		if !bytes.Equal(body, want) {
			t.Errorf("GET /%s body differs from the file (%d vs %d bytes)", name, len(body), len(want))
		}
		if cl := res.Header.Get("Content-Length"); cl != strconv.Itoa(len(body)) {
			t.Errorf("GET /%s Content-Length = %s, body is %d bytes", name, cl, len(body))
		}
	}
}

func TestServeIdempotent(t *testing.T) {
	ts := startServer(t)
	c := ts.dial(t)

	first, body1 := c.do(t, "GET", "/foo.txt", nil)
	second, body2 := c.do(t, "GET", "/foo.txt", nil)

	if first.StatusCode != second.StatusCode {
		t.Errorf("status %d then %d", first.StatusCode, second.StatusCode)
	}
	if !bytes.Equal(body1, body2) {
		t.Error("bodies differ between identical requests")
	}
	for _, h := range []string{"Content-Type", "Content-Length", "Last-Modified", "Server"} {
		if first.Header.Get(h) != second.Header.Get(h) {
			t.Errorf("%s: %q then %q", h, first.Header.Get(h), second.Header.Get(h))
		}
	}
}

func TestServeStatuses(t *testing.T) {
	ts := startServer(t)
	c := ts.dial(t)

	tests := []struct {
		method string
		uri    string
		status int
	}{
		{"GET", "/", http.StatusOK},
		{"GET", "/docs", http.StatusMovedPermanently},
		{"GET", "/docs/", http.StatusOK},
		{"GET", "/does/not/exist", http.StatusNotFound},
		{"GET", "/../../etc/passwd", http.StatusForbidden},
		{"GET", "/%2e%2e/%2e%2e/etc/passwd", http.StatusForbidden},
		{"HEAD", "/foo.txt", http.StatusOK},
		{"DELETE", "/foo.txt", http.StatusNotImplemented},
	}
	for _, tt := range tests {
		res, _ := c.do(t, tt.method, tt.uri, nil)
		if res.StatusCode != tt.status {
			t.Errorf("%s %s status = %d, want %d", tt.method, tt.uri, res.StatusCode, tt.status)
		}
		if res.Header.Get("Content-Type") == "" {
			t.Errorf("%s %s has no Content-Type", tt.method, tt.uri)
		}
	}
}

func TestServeHead(t *testing.T) {
	ts := startServer(t)
	c := ts.dial(t)

	res, body := c.do(t, "HEAD", "/foo.txt", nil)
	if len(body) != 0 {
		t.Errorf("HEAD returned %d body bytes", len(body))
	}
	if res.ContentLength != int64(len("hello from foo\n")) {
		t.Errorf("HEAD Content-Length = %d", res.ContentLength)
	}
	// The connection must still be usable after HEAD.
	if res, _ := c.do(t, "GET", "/a.txt", nil); res.StatusCode != http.StatusOK {
		t.Errorf("GET after HEAD status = %d", res.StatusCode)
	}
}

func TestServeConnectionClose(t *testing.T) {
	ts := startServer(t)
	c := ts.dial(t)

	res, _ := c.do(t, "GET", "/a.txt", httpwire.HTTPHeader{"connection": "close"})
	if !res.Close {
		t.Error("response should announce Connection: close")
	}
	if _, err := c.r.ReadByte(); !errors.Is(err, io.EOF) {
		t.Errorf("read after close = %v, want EOF", err)
	}
}

func TestServeConcurrentConnections(t *testing.T) {
	ts := startServer(t)
	// An open connection that never sends a request must not hold up others.
	ts.dial(t)

	c := ts.dial(t)
	res, body := c.do(t, "GET", "/b.txt", nil)
	if res.StatusCode != http.StatusOK || string(body) != "b" {
		t.Errorf("GET /b.txt = %d %q", res.StatusCode, body)
	}
}

func TestServeShutdown(t *testing.T) {
	ts := startServer(t)
	c := ts.dial(t)
	if res, _ := c.do(t, "GET", "/a.txt", nil); res.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", res.StatusCode)
	}

	ts.cancel()
	select {
	case <-ts.done:
		if ts.err != nil {
			t.Errorf("Serve() error = %v", ts.err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Serve() did not return after cancel")
	}
	if _, err := c.r.ReadByte(); err == nil {
		t.Error("idle connection still open after shutdown")
	}
}

func TestServeShutdownStalledReader(t *testing.T) {
	root := t.TempDir()
	big := bytes.Repeat([]byte("z"), 64<<20)
	if err := os.WriteFile(filepath.Join(root, "big.bin"), big, 0o644); err != nil {
		t.Fatal(err)
	}
	logger := discardLogger()
	cfg := config.ServerConfig{Root: root, Port: 0, BindAddress: "127.0.0.1"}
	d, err := dispatch.NewFromConfig(cfg, logger)
	if err != nil {
		t.Fatal(err)
	}
	srv := New(cfg.Addr(), d, logger)
	srv.shutdownTimeout = 100 * time.Millisecond
	if err := srv.Listen(); err != nil {
		t.Fatal(err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- srv.Serve(ctx) }()

	conn, err := net.Dial("tcp", srv.Addr().String())
	if err != nil {
		t.Fatal(err)
	}
	defer conn.Close()
	if tcp, ok := conn.(*net.TCPConn); ok {
		tcp.SetReadBuffer(4 << 10)
	}
	conn.SetDeadline(time.Now().Add(10 * time.Second))
	if err := httpwire.WriteRequest(conn, &httpwire.Request{Method: "GET", URI: "/big.bin", Version: "HTTP/1.1"}); err != nil {
		t.Fatal(err)
	}
	// Read the status line, then stop reading so the worker blocks on write.
	line, err := bufio.NewReader(conn).ReadString('\n')
	if err != nil {
		t.Fatal(err)
	}
	ExpectEqual(t, "HTTP/1.1 200 OK\r\n", line)

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Serve() error = %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Serve() did not return while a client stalled mid-response")
	}
}

func TestListenBindFailure(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	defer ln.Close()

	srv := New(ln.Addr().String(), nil, discardLogger())
	if err := srv.Listen(); !errors.Is(err, ErrBind) {
		t.Errorf("Listen() error = %v, want ErrBind", err)
	}
	if srv.Addr() != nil {
		t.Error("Addr() should be nil when not bound")
	}
}
