// Package dispatch runs each request through resolution, logging and
// response building.
package dispatch

import (
	"log/slog"
	"net/http"
	"strings"

	"github.com/sndbox/servedir/internal/config"
	"github.com/sndbox/servedir/internal/httpwire"
	"github.com/sndbox/servedir/internal/resolve"
	"github.com/sndbox/servedir/internal/response"
)

// Resolver maps a request path to a classified filesystem target.
type Resolver interface {
	Resolve(rawPath string) resolve.Target
}

// Builder produces the response for a resolved target.
type Builder interface {
	Build(target resolve.Target, req *httpwire.Request) *httpwire.Response
}

// Files tried, in order, when a directory is requested with a trailing slash.
var indexFiles = []string{"index.html", "index.htm"}

type Dispatcher struct {
	resolver Resolver
	builder  Builder
	logger   *slog.Logger
}

func New(resolver Resolver, builder Builder, logger *slog.Logger) *Dispatcher {
	return &Dispatcher{
		resolver: resolver,
		builder:  builder,
		logger:   logger,
	}
}

// NewFromConfig wires the default resolver and builder for cfg.
func NewFromConfig(cfg config.ServerConfig, logger *slog.Logger) (*Dispatcher, error) {
	resolver, err := resolve.New(cfg.Root)
	if err != nil {
		return nil, err
	}
	return New(resolver, response.NewBuilder(resolver.Root()), logger), nil
}

// Handle answers a single request. Every resolved request is logged with
// its absolute path and whether that path exists.
func (d *Dispatcher) Handle(req *httpwire.Request) *httpwire.Response {
	if req.Method != http.MethodGet && req.Method != http.MethodHead {
		res := response.Error(http.StatusNotImplemented, "Unsupported method ("+req.Method+")")
		res.Headers.Set("Allow", "GET, HEAD")
		return res
	}

	path, _ := req.Target()
	target := d.resolver.Resolve(path)
	d.logger.Info("resolve",
		slog.String("path", target.Path),
		slog.Bool("exists", target.Exists()),
	)

	if target.Kind == resolve.Directory && strings.HasSuffix(path, "/") {
		target = d.index(path, target)
	}
	return d.builder.Build(target, req)
}

// index returns the first index file inside the directory dirPath, or dir
// itself when there is none.
func (d *Dispatcher) index(dirPath string, dir resolve.Target) resolve.Target {
	for _, name := range indexFiles {
		if t := d.resolver.Resolve(dirPath + name); t.Kind == resolve.File {
			return t
		}
	}
	return dir
}
