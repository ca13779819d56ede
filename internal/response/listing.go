package response

import (
	"io/fs"
	"net/http"
	"net/url"
	"os"
	"path/filepath"

	"github.com/dustin/go-humanize"
	"github.com/samber/lo"
	"golang.org/x/net/html"

	"github.com/sndbox/servedir/internal/httpwire"
	"github.com/sndbox/servedir/internal/resolve"
)

type listingRow struct {
	display string
	href    string
	size    string
}

func newListingRow(root, dir string, e fs.DirEntry) listingRow {
	name := e.Name()
	display, link := name, name
	path := filepath.Join(dir, name)
	if e.Type()&fs.ModeSymlink != 0 {
		dest, err := filepath.EvalSymlinks(path)
		if err != nil || !resolve.IsDescendant(root, dest) {
			return listingRow{
				display: name + "@",
				href:    (&url.URL{Path: link}).String(),
			}
		}
		path = dest
	}
	// Stat follows symlinks so a link to a directory is listed as one.
	info, err := os.Stat(path)
	var size string
	switch {
	case err != nil:
	case info.IsDir():
		display += "/"
		link += "/"
	case info.Mode().IsRegular():
		size = humanize.Bytes(uint64(info.Size()))
	}
	if e.Type()&fs.ModeSymlink != 0 {
		display = name + "@"
	}
	return listingRow{
		display: display,
		href:    (&url.URL{Path: link}).String(),
		size:    size,
	}
}

// listing renders the entries of dir, sorted by name, as links relative to
// reqPath.
func (b *Builder) listing(dir, reqPath string) *httpwire.Response {
	// os.ReadDir returns entries sorted by filename.
	entries, err := os.ReadDir(dir)
	if err != nil {
		return ForOpenError(err)
	}
	rows := lo.Map(entries, func(e fs.DirEntry, _ int) listingRow {
		return newListingRow(b.root, dir, e)
	})

	displayPath, err := url.PathUnescape(reqPath)
	if err != nil {
		displayPath = reqPath
	}
	title := "Directory listing for " + displayPath

	items := lo.Map(rows, func(row listingRow, _ int) *html.Node {
		li := element("li", nil, element("a", []html.Attribute{attr("href", row.href)}, text(row.display)))
		if row.size != "" {
			li.AppendChild(text(" "))
			li.AppendChild(element("span", []html.Attribute{attr("class", "size")}, text(row.size)))
		}
		return li
	})
	body, err := renderPage(title,
		element("h1", nil, text(title)),
		element("hr", nil),
		element("ul", nil, items...),
		element("hr", nil),
	)
	if err != nil {
		return InternalError()
	}
	return htmlResponse(http.StatusOK, body)
}
