package response

import (
	"errors"
	"io/fs"
	"net/http"
	"strconv"

	"github.com/sndbox/servedir/internal/httpwire"
)

// fallbackPage is sent when an error page cannot be rendered.
const fallbackPage = "<!DOCTYPE html>\n<html><body><h1>Error</h1></body></html>\n"

// Error returns a small HTML error page with the given status.
func Error(status int, message string) *httpwire.Response {
	heading := strconv.Itoa(status) + " " + http.StatusText(status)
	body, err := renderPage("Error response",
		element("h1", nil, text(heading)),
		element("p", nil, text(message)),
	)
	if err != nil {
		body = []byte(fallbackPage)
	}
	return htmlResponse(status, body)
}

// NotFound answers a path that does not exist.
func NotFound() *httpwire.Response {
	return Error(http.StatusNotFound, "File not found")
}

// Forbidden does not say whether the rejected path exists.
func Forbidden() *httpwire.Response {
	return Error(http.StatusForbidden, "Access denied")
}

// InternalError answers a failure while producing a response.
func InternalError() *httpwire.Response {
	return Error(http.StatusInternalServerError, "Error reading file")
}

// ForOpenError maps a failure to open a resolved entry to a response: 403
// when the OS denied access, 404 otherwise.
func ForOpenError(err error) *httpwire.Response {
	if errors.Is(err, fs.ErrPermission) {
		return Forbidden()
	}
	return NotFound()
}

func htmlResponse(status int, body []byte) *httpwire.Response {
	return &httpwire.Response{
		Status: status,
		Headers: httpwire.Fields{
			{Name: "Content-Type", Value: "text/html; charset=utf-8"},
			{Name: "Content-Length", Value: strconv.Itoa(len(body))},
		},
		Body: httpwire.Bytes(body),
	}
}
