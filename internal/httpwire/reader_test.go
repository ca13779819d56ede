package httpwire

import (
	"bufio"
	"errors"
	"io"
	"strings"
	"testing"
)

func ExpectEqual(t *testing.T, expect, actual string) {
	t.Helper()
	if expect != actual {
		t.Errorf("Got %q, want %q", actual, expect)
	}
}

func readRequestString(s string) (*Request, error) {
	return ReadRequest(bufio.NewReader(strings.NewReader(s)))
}

func TestRequestReader(t *testing.T) {
	req, err := readRequestString("GET / HTTP/1.1\r\nHost: www.google.com\r\n\r\n")
	if err != nil {
		t.Fatalf("error: %v", err)
	}
	ExpectEqual(t, "GET", req.Method)
	ExpectEqual(t, "/", req.URI)
	ExpectEqual(t, "HTTP/1.1", req.Version)
	ExpectEqual(t, "www.google.com", req.Headers["host"])
}

func TestRequestReaderRepeatedHeaders(t *testing.T) {
	req, err := readRequestString("GET / HTTP/1.1\r\nConnection: keep-alive\r\nconnection: Upgrade\r\n\r\n")
	if err != nil {
		t.Fatalf("error: %v", err)
	}
	ExpectEqual(t, "keep-alive, Upgrade", req.Headers["connection"])
}

func TestRequestReaderSkipsLeadingEmptyLines(t *testing.T) {
	req, err := readRequestString("\r\n\r\nHEAD /a HTTP/1.0\r\n\r\n")
	if err != nil {
		t.Fatalf("error: %v", err)
	}
	ExpectEqual(t, "HEAD", req.Method)
	ExpectEqual(t, "HTTP/1.0", req.Version)
}

func TestRequestReaderEOF(t *testing.T) {
	_, err := readRequestString("")
	if !errors.Is(err, io.EOF) {
		t.Errorf("ReadRequest() error = %v, want io.EOF", err)
	}
}

func TestRequestReaderErrors(t *testing.T) {
	tests := []struct {
		name   string
		input  string
		status int
	}{
		{"Missing version", "GET /\r\n\r\n", 400},
		{"Extra field", "GET / x HTTP/1.1\r\n\r\n", 400},
		{"Not HTTP", "GET / FTP/1.0\r\n\r\n", 400},
		{"HTTP/2", "GET / HTTP/2.0\r\n\r\n", 505},
		{"Header without colon", "GET / HTTP/1.1\r\nHost\r\n\r\n", 400},
		{"Space before colon", "GET / HTTP/1.1\r\nHost : x\r\n\r\n", 400},
		{"Folded header", "GET / HTTP/1.1\r\nHost: x\r\n continued\r\n\r\n", 400},
		{"Truncated headers", "GET / HTTP/1.1\r\nHost: x\r\n", 400},
		{"Long request line", "GET /" + strings.Repeat("a", maxLineLength) + " HTTP/1.1\r\n\r\n", 414},
		{"Long header", "GET / HTTP/1.1\r\nX: " + strings.Repeat("a", maxLineLength) + "\r\n\r\n", 431},
		{"Too many headers", "GET / HTTP/1.1\r\n" + strings.Repeat("X: y\r\n", maxHeaderFields+1) + "\r\n", 431},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := readRequestString(tt.input)
			var perr *ProtocolError
			if !errors.As(err, &perr) {
				t.Fatalf("ReadRequest() error = %v, want *ProtocolError", err)
			}
			if perr.Status != tt.status {
				t.Errorf("ReadRequest() status = %d, want %d", perr.Status, tt.status)
			}
		})
	}
}

func TestDiscardBody(t *testing.T) {
	tests := []struct {
		name  string
		input string
	}{
		{"No body", "GET /a HTTP/1.1\r\n\r\nGET /next HTTP/1.1\r\n\r\n"},
		{"Content-Length", "GET /a HTTP/1.1\r\nContent-Length: 6\r\n\r\nFooBarGET /next HTTP/1.1\r\n\r\n"},
		{"Chunked", "GET /a HTTP/1.1\r\nTransfer-Encoding: chunked\r\n\r\n6\r\nFooBar\r\n0\r\n\r\nGET /next HTTP/1.1\r\n\r\n"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := bufio.NewReader(strings.NewReader(tt.input))
			req, err := ReadRequest(r)
			if err != nil {
				t.Fatalf("ReadRequest() error = %v", err)
			}
			if err := DiscardBody(r, req); err != nil {
				t.Fatalf("DiscardBody() error = %v", err)
			}
			next, err := ReadRequest(r)
			if err != nil {
				t.Fatalf("ReadRequest() second error = %v", err)
			}
			ExpectEqual(t, "/next", next.URI)
		})
	}
}

func TestDiscardBodyErrors(t *testing.T) {
	for _, input := range []string{
		"POST / HTTP/1.1\r\nContent-Length: abc\r\n\r\n",
		"POST / HTTP/1.1\r\nContent-Length: -1\r\n\r\n",
		"POST / HTTP/1.1\r\nTransfer-Encoding: gzip\r\n\r\n",
	} {
		r := bufio.NewReader(strings.NewReader(input))
		req, err := ReadRequest(r)
		if err != nil {
			t.Fatalf("ReadRequest(%q) error = %v", input, err)
		}
		var perr *ProtocolError
		if err := DiscardBody(r, req); !errors.As(err, &perr) || perr.Status != 400 {
			t.Errorf("DiscardBody(%q) error = %v, want 400 ProtocolError", input, err)
		}
	}
}
