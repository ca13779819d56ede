package httpwire

import (
	"fmt"
	"io"
	"sort"
	"unicode"
)

func capitalizeHeader(h string) string {
	ret := []rune(h)
	cap := true
	for i, r := range ret {
		if cap && unicode.IsLetter(r) {
			ret[i] = unicode.ToUpper(r)
			cap = false
		}
		if r == '-' {
			cap = true
		}
	}
	return string(ret)
}

// WriteRequest writes the request line and headers. Headers are sorted by
// name since HTTPHeader has no order of its own.
func WriteRequest(w io.Writer, req *Request) error {
	if _, err := fmt.Fprintf(w, "%s %s %s\r\n", req.Method, req.URI, req.Version); err != nil {
		return err
	}
	keys := make([]string, 0, len(req.Headers))
	for k := range req.Headers {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		if _, err := fmt.Fprintf(w, "%s: %s\r\n", capitalizeHeader(k), req.Headers[k]); err != nil {
			return err
		}
	}
	_, err := io.WriteString(w, "\r\n")
	return err
}

// WriteHead writes the status line and headers of res. The body is left to
// the caller.
func WriteHead(w io.Writer, res *Response) error {
	if _, err := fmt.Fprintf(w, "%s %d %s\r\n", res.Version, res.Status, res.Phrase); err != nil {
		return err
	}
	for _, f := range res.Headers {
		if _, err := fmt.Fprintf(w, "%s: %s\r\n", capitalizeHeader(f.Name), f.Value); err != nil {
			return err
		}
	}
	_, err := io.WriteString(w, "\r\n")
	return err
}
