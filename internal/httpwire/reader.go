package httpwire

import (
	"bufio"
	"errors"
	"io"
	"strings"
)

const (
	maxLineLength   = 8 << 10
	maxHeaderFields = 100
)

var errLineTooLong = errors.New("line too long")

// similar to readLineSlice() in net/textproto/reader.go
func readLine(r *bufio.Reader) (string, error) {
	var line []byte
	for {
		l, more, err := r.ReadLine()
		if err != nil {
			return "", err
		}
		if line == nil && !more {
			return string(l), nil
		}
		line = append(line, l...)
		if len(line) > maxLineLength {
			return "", errLineTooLong
		}
		if !more {
			break
		}
	}
	return string(line), nil
}

func readHeaders(r *bufio.Reader) (HTTPHeader, error) {
	headers := make(HTTPHeader)
	for n := 0; ; n++ {
		line, err := readLine(r)
		if err != nil {
			if errors.Is(err, errLineTooLong) {
				return nil, &ProtocolError{Status: 431, Reason: "Request Header Fields Too Large"}
			}
			return nil, err
		}
		if len(line) == 0 {
			break
		}
		if n >= maxHeaderFields {
			return nil, &ProtocolError{Status: 431, Reason: "Request Header Fields Too Large"}
		}
		if line[0] == ' ' || line[0] == '\t' {
			return nil, &ProtocolError{Status: 400, Reason: "Obsolete header folding"}
		}
		fs := strings.SplitN(line, ":", 2)
		if len(fs) != 2 || fs[0] == "" || strings.ContainsAny(fs[0], " \t") {
			return nil, &ProtocolError{Status: 400, Reason: "Invalid header format"}
		}
		hdr := strings.ToLower(fs[0])
		value := strings.TrimSpace(fs[1])
		if prev, ok := headers[hdr]; ok {
			value = prev + ", " + value
		}
		headers[hdr] = value
	}
	return headers, nil
}

func parseRequestLine(rl string) (*Request, error) {
	fields := strings.Split(rl, " ")
	if len(fields) != 3 || fields[0] == "" || fields[1] == "" {
		return nil, &ProtocolError{Status: 400, Reason: "Invalid request line"}
	}
	req := &Request{Method: fields[0], URI: fields[1], Version: fields[2]}
	switch {
	case req.Version == "HTTP/1.0", req.Version == "HTTP/1.1":
	case strings.HasPrefix(req.Version, "HTTP/"):
		return nil, &ProtocolError{Status: 505, Reason: "HTTP Version Not Supported"}
	default:
		return nil, &ProtocolError{Status: 400, Reason: "Invalid request line"}
	}
	return req, nil
}

// ReadRequest reads a request line and its headers. It returns io.EOF when
// the peer closed the connection cleanly before sending anything, and a
// *ProtocolError for malformed input.
func ReadRequest(r *bufio.Reader) (*Request, error) {
	var rl string
	var err error
	// Empty lines before the request line are ignored.
	for rl == "" {
		rl, err = readLine(r)
		if err != nil {
			if errors.Is(err, errLineTooLong) {
				return nil, &ProtocolError{Status: 414, Reason: "URI Too Long"}
			}
			return nil, err
		}
	}
	req, err := parseRequestLine(rl)
	if err != nil {
		return nil, err
	}
	headers, err := readHeaders(r)
	if err != nil {
		if errors.Is(err, io.EOF) {
			return nil, &ProtocolError{Status: 400, Reason: "Failed to read headers"}
		}
		return nil, err
	}
	req.Headers = headers
	return req, nil
}

// DiscardBody consumes the request body, if any, so that the next request
// on the connection can be read.
func DiscardBody(r *bufio.Reader, req *Request) error {
	if te, ok := req.Headers["transfer-encoding"]; ok {
		codings := strings.Split(te, ",")
		if !strings.EqualFold(strings.TrimSpace(codings[len(codings)-1]), "chunked") {
			return &ProtocolError{Status: 400, Reason: "Unsupported Transfer-Encoding"}
		}
		_, err := io.Copy(io.Discard, NewChunkedReader(r))
		return err
	}
	cl, err := req.ContentLength()
	if err != nil || cl == 0 {
		return err
	}
	_, err = io.CopyN(io.Discard, r, cl)
	return err
}
