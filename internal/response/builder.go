// Package response turns resolved targets into HTTP responses.
package response

import (
	"net/http"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/sndbox/servedir/internal/httpwire"
	"github.com/sndbox/servedir/internal/resolve"
)

// Builder builds responses for resolved targets. It keeps no state between
// requests.
type Builder struct {
	// root is the canonical served directory. Listings only describe link
	// destinations inside it.
	root string
}

func NewBuilder(root string) *Builder {
	canonical, err := filepath.EvalSymlinks(root)
	if err != nil {
		canonical = filepath.Clean(root)
	}
	return &Builder{root: canonical}
}

// Build returns the response for target. Only directory listings touch the
// filesystem here; file bodies are opened lazily by the writer.
func (b *Builder) Build(target resolve.Target, req *httpwire.Request) *httpwire.Response {
	switch target.Kind {
	case resolve.File:
		return fileResponse(target)
	case resolve.Directory:
		path, query := req.Target()
		if !strings.HasSuffix(path, "/") {
			// "//host/dir" must not become a protocol-relative Location.
			location := "/" + strings.TrimLeft(path, "/") + "/"
			if query != "" {
				location += "?" + query
			}
			return Redirect(location)
		}
		return b.listing(target.Path, path)
	case resolve.Forbidden:
		return Forbidden()
	}
	return NotFound()
}

func fileResponse(target resolve.Target) *httpwire.Response {
	return &httpwire.Response{
		Status: http.StatusOK,
		Headers: httpwire.Fields{
			{Name: "Content-Type", Value: ContentType(target.Path)},
			{Name: "Content-Length", Value: strconv.FormatInt(target.Size, 10)},
			{Name: "Last-Modified", Value: target.ModTime.UTC().Format(http.TimeFormat)},
		},
		Body: FileBody(target.Path),
	}
}

// Redirect answers a directory requested without its trailing slash.
func Redirect(location string) *httpwire.Response {
	res := Error(http.StatusMovedPermanently, "Moved to "+location)
	res.Headers.Set("Location", location)
	return res
}
