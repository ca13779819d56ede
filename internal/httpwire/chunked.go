package httpwire

import (
	"bufio"
	"fmt"
	"io"
	"strconv"
	"strings"
)

// ChunkedReader decodes a body sent with "Transfer-Encoding: chunked". It
// stops right after the trailer section so the underlying reader is left at
// the start of the next message.
type ChunkedReader struct {
	r        *bufio.Reader
	chunkLen int64 // -1 means the beginning of the next chunk
	done     bool
}

func NewChunkedReader(r io.Reader) *ChunkedReader {
	br, ok := r.(*bufio.Reader)
	if !ok {
		br = bufio.NewReader(r)
	}
	return &ChunkedReader{r: br, chunkLen: -1}
}

func (r *ChunkedReader) readChunkLength() error {
	line, err := readLine(r.r)
	if err != nil {
		return fmt.Errorf("failed to read chunk length: %w", err)
	}
	// chunk extensions are ignored
	if i := strings.IndexByte(line, ';'); i >= 0 {
		line = line[:i]
	}
	line = strings.TrimSpace(line)
	if line == "" || strings.TrimLeft(line, "0123456789abcdefABCDEF") != "" {
		return fmt.Errorf("invalid chunk length: %q", line)
	}
	length, err := strconv.ParseInt(line, 16, 64)
	if err != nil || length < 0 {
		return fmt.Errorf("invalid chunk length: %q", line)
	}
	r.chunkLen = length
	return nil
}

func (r *ChunkedReader) readCRLF() error {
	line, err := readLine(r.r)
	if err != nil {
		return err
	}
	if line != "" {
		return fmt.Errorf("failed to read CRLF after chunk data")
	}
	return nil
}

func (r *ChunkedReader) readTrailers() error {
	for n := 0; ; n++ {
		line, err := readLine(r.r)
		if err != nil {
			return err
		}
		if line == "" {
			return nil
		}
		if n >= maxHeaderFields {
			return fmt.Errorf("too many trailer fields")
		}
	}
}

func (r *ChunkedReader) Read(b []byte) (int, error) {
	if r.done {
		return 0, io.EOF
	}
	if r.chunkLen < 0 {
		if err := r.readChunkLength(); err != nil {
			return 0, err
		}
		if r.chunkLen == 0 {
			if err := r.readTrailers(); err != nil {
				return 0, err
			}
			r.done = true
			return 0, io.EOF
		}
	}

	n := min(r.chunkLen, int64(len(b)))
	m, err := r.r.Read(b[:n])
	r.chunkLen -= int64(m)
	if r.chunkLen == 0 {
		r.chunkLen = -1
		if cerr := r.readCRLF(); cerr != nil {
			return m, cerr
		}
	}
	if err == io.EOF && r.chunkLen != -1 {
		err = io.ErrUnexpectedEOF
	}
	return m, err
}
