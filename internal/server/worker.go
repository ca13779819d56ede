package server

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/sndbox/servedir/internal/httpwire"
	"github.com/sndbox/servedir/internal/response"
)

const (
	serverName = "servedir"
	// idleTimeout bounds the wait for the next request on a connection.
	idleTimeout = 2 * time.Minute
	// firstChunkSize is read from a body before the status line is committed.
	firstChunkSize = 32 << 10
)

var errShortBody = errors.New("body shorter than Content-Length")

// Handler answers a parsed request.
type Handler interface {
	Handle(req *httpwire.Request) *httpwire.Response
}

// Worker serves the requests of one connection, one after another.
type Worker struct {
	conn      net.Conn
	reader    *bufio.Reader
	writer    *bufio.Writer
	handler   Handler
	logger    *slog.Logger
	stopping  *atomic.Bool
	req       *httpwire.Request
	res       *httpwire.Response
	keepAlive bool
}

type stateFunc func(*Worker) stateFunc

// NewWorker returns a worker for conn. A non-nil stopping flag makes the
// worker finish instead of waiting for another request once it is set.
func NewWorker(conn net.Conn, handler Handler, logger *slog.Logger, stopping *atomic.Bool) *Worker {
	if stopping == nil {
		stopping = new(atomic.Bool)
	}
	return &Worker{
		conn:     conn,
		reader:   bufio.NewReader(conn),
		writer:   bufio.NewWriter(conn),
		handler:  handler,
		logger:   logger.With(slog.String("remote", remoteAddr(conn))),
		stopping: stopping,
	}
}

func remoteAddr(conn net.Conn) string {
	if addr := conn.RemoteAddr(); addr != nil {
		return addr.String()
	}
	return ""
}

// Start runs the worker until the connection is done. The worker takes
// ownership of the connection and closes it.
func (w *Worker) Start() {
	for state := waitForRequest; state != nil; {
		state = state(w)
	}
}

// state funcs

func waitForRequest(w *Worker) stateFunc {
	w.req, w.res = nil, nil
	if err := w.conn.SetReadDeadline(time.Now().Add(idleTimeout)); err != nil {
		return finishWorker
	}
	if w.stopping.Load() {
		return finishWorker
	}
	req, err := httpwire.ReadRequest(w.reader)
	if err != nil {
		var perr *httpwire.ProtocolError
		if errors.As(err, &perr) {
			w.logger.Debug("malformed request", slog.String("error", err.Error()))
			w.res = response.Error(perr.Status, perr.Reason)
			return sendErrorResponse
		}
		if !errors.Is(err, io.EOF) && !isTimeout(err) {
			w.logger.Debug("read request failed", slog.String("error", err.Error()))
		}
		return finishWorker
	}
	w.req = req
	return serveRequest
}

func serveRequest(w *Worker) stateFunc {
	if err := httpwire.DiscardBody(w.reader, w.req); err != nil {
		var perr *httpwire.ProtocolError
		if errors.As(err, &perr) {
			w.res = response.Error(perr.Status, perr.Reason)
			return sendErrorResponse
		}
		w.logger.Debug("read request body failed", slog.String("error", err.Error()))
		return finishWorker
	}
	w.keepAlive = w.req.KeepAlive()
	w.res = w.handler.Handle(w.req)
	return sendResponse
}

func sendResponse(w *Worker) stateFunc {
	if err := w.writeResponse(w.req.Method == http.MethodHead); err != nil {
		w.logger.Warn("response aborted",
			slog.String("uri", w.req.URI),
			slog.String("error", err.Error()),
		)
		return finishWorker
	}
	if w.keepAlive {
		return waitForRequest
	}
	return finishWorker
}

func sendErrorResponse(w *Worker) stateFunc {
	w.keepAlive = false
	if err := w.writeResponse(false); err != nil {
		w.logger.Debug("send error response failed", slog.String("error", err.Error()))
	}
	return finishWorker
}

func finishWorker(w *Worker) stateFunc {
	w.conn.Close()
	return nil
}

// writeResponse sends w.res. The body is opened and its first chunk read
// before anything is written, so failures up to that point still turn into
// a complete error response. A failure after that aborts the connection.
func (w *Worker) writeResponse(head bool) error {
	res := w.res
	var body io.ReadCloser
	defer func() {
		if body != nil {
			body.Close()
		}
	}()

	if res.Body != nil {
		rc, err := res.Body.Open()
		if err != nil {
			w.logger.Warn("open response body failed", slog.String("error", err.Error()))
			res = response.ForOpenError(err)
			if rc, err = res.Body.Open(); err != nil {
				return err
			}
		}
		body = rc
	}

	length := res.ContentLength()
	if length < 0 && body != nil {
		// Without a length the body is delimited by closing the connection.
		w.keepAlive = false
	}

	var first []byte
	if body != nil && !head {
		var err error
		if first, err = readFirst(body, length); err != nil {
			w.logger.Error("read response body failed", slog.String("error", err.Error()))
			body.Close()
			res = response.InternalError()
			if body, err = res.Body.Open(); err != nil {
				return err
			}
			length = res.ContentLength()
			if first, err = readFirst(body, length); err != nil {
				return err
			}
		}
	}

	w.prepareHead(res)
	if err := httpwire.WriteHead(w.writer, res); err != nil {
		return err
	}
	if body != nil && !head {
		if _, err := w.writer.Write(first); err != nil {
			return err
		}
		if err := copyRest(w.writer, body, length, int64(len(first))); err != nil {
			return err
		}
	}
	return w.writer.Flush()
}

// prepareHead fills in the status line and wraps the handler's headers with
// the ones owned by the connection.
func (w *Worker) prepareHead(res *httpwire.Response) {
	res.Version = "HTTP/1.1"
	if w.req != nil && w.req.Version == "HTTP/1.0" {
		res.Version = "HTTP/1.0"
	}
	res.Phrase = http.StatusText(res.Status)

	headers := make(httpwire.Fields, 0, len(res.Headers)+3)
	headers = append(headers,
		httpwire.Field{Name: "Server", Value: serverName},
		httpwire.Field{Name: "Date", Value: time.Now().UTC().Format(http.TimeFormat)},
	)
	headers = append(headers, res.Headers...)
	switch {
	case !w.keepAlive:
		headers.Set("Connection", "close")
	case res.Version == "HTTP/1.0":
		headers.Set("Connection", "keep-alive")
	}
	res.Headers = headers
}

// readFirst reads up to firstChunkSize bytes of a body of the given length
// (-1 if unknown). A body that ends before length is an error.
func readFirst(body io.Reader, length int64) ([]byte, error) {
	size := int64(firstChunkSize)
	if length >= 0 && length < size {
		size = length
	}
	buf := make([]byte, size)
	n, err := io.ReadFull(body, buf)
	if err != nil {
		if length < 0 && (errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF)) {
			return buf[:n], nil
		}
		if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
			return nil, errShortBody
		}
		return nil, err
	}
	return buf, nil
}

// copyRest streams the remainder of body after written bytes were sent.
func copyRest(dst io.Writer, body io.Reader, length, written int64) error {
	if length < 0 {
		_, err := io.Copy(dst, body)
		return err
	}
	if written >= length {
		return nil
	}
	n, err := io.CopyN(dst, body, length-written)
	if err != nil {
		if errors.Is(err, io.EOF) {
			return fmt.Errorf("%w: sent %d of %d bytes", errShortBody, written+n, length)
		}
		return err
	}
	return nil
}

func isTimeout(err error) bool {
	var nerr net.Error
	return errors.As(err, &nerr) && nerr.Timeout()
}
