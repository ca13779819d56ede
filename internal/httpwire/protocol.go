// Package httpwire reads HTTP/1.x requests from a connection and writes
// responses back to it.
package httpwire

import (
	"bytes"
	"io"
	"strconv"
	"strings"
)

// Not map[string][]string, unlike http.Header. Keys are lower-cased and
// repeated fields are joined with ", ".
type HTTPHeader map[string]string

// Field is a single response header line.
type Field struct {
	Name  string
	Value string
}

// Fields is an ordered list of response headers. Fields are written to the
// wire in insertion order.
type Fields []Field

// Get returns the value of the first field named name, ignoring case.
func (f Fields) Get(name string) string {
	for _, field := range f {
		if strings.EqualFold(field.Name, name) {
			return field.Value
		}
	}
	return ""
}

// Set replaces the value of the first field named name, or appends a new
// field when there is none.
func (f *Fields) Set(name, value string) {
	for i, field := range *f {
		if strings.EqualFold(field.Name, name) {
			(*f)[i].Value = value
			return
		}
	}
	*f = append(*f, Field{Name: name, Value: value})
}

type Request struct {
	Method  string
	URI     string
	Version string
	Headers HTTPHeader
}

// Target splits the request target into its path and query. Fragments are
// dropped and absolute-form targets lose their scheme and authority.
func (r *Request) Target() (path, query string) {
	path = r.URI
	if !strings.HasPrefix(path, "/") {
		if i := strings.Index(path, "://"); i >= 0 {
			rest := path[i+3:]
			if j := strings.IndexAny(rest, "/?#"); j >= 0 {
				path = rest[j:]
			} else {
				path = ""
			}
		}
	}
	if i := strings.IndexByte(path, '#'); i >= 0 {
		path = path[:i]
	}
	if i := strings.IndexByte(path, '?'); i >= 0 {
		path, query = path[:i], path[i+1:]
	}
	if !strings.HasPrefix(path, "/") {
		path = "/" + path
	}
	return path, query
}

// KeepAlive reports whether the connection may carry another request after
// this one has been answered.
func (r *Request) KeepAlive() bool {
	var closing, keepAlive bool
	for _, token := range strings.Split(r.Headers["connection"], ",") {
		switch strings.ToLower(strings.TrimSpace(token)) {
		case "close":
			closing = true
		case "keep-alive":
			keepAlive = true
		}
	}
	switch r.Version {
	case "HTTP/1.1":
		return !closing
	case "HTTP/1.0":
		return keepAlive && !closing
	}
	return false
}

// ContentLength returns the declared request body length, 0 when absent.
func (r *Request) ContentLength() (int64, error) {
	cls, ok := r.Headers["content-length"]
	if !ok {
		return 0, nil
	}
	cl, err := strconv.ParseInt(strings.TrimSpace(cls), 10, 64)
	if err != nil || cl < 0 {
		return 0, &ProtocolError{Status: 400, Reason: "Invalid Content-Length"}
	}
	return cl, nil
}

// Body produces the payload of a response on demand, so that files are only
// opened once the response is about to be written.
type Body interface {
	Open() (io.ReadCloser, error)
}

// Bytes is an in-memory Body.
type Bytes []byte

func (b Bytes) Open() (io.ReadCloser, error) {
	return io.NopCloser(bytes.NewReader(b)), nil
}

type Response struct {
	Version string
	Status  int
	Phrase  string
	Headers Fields
	Body    Body
}

// ContentLength returns the value of the Content-Length header, or -1 when
// the header is missing or unparsable.
func (r *Response) ContentLength() int64 {
	cl, err := strconv.ParseInt(r.Headers.Get("Content-Length"), 10, 64)
	if err != nil || cl < 0 {
		return -1
	}
	return cl
}

// ProtocolError is a malformed request. Status is the response code to
// answer with before closing the connection.
type ProtocolError struct {
	Status int
	Reason string
}

func (e *ProtocolError) Error() string {
	return strconv.Itoa(e.Status) + " " + e.Reason
}
