package response

import (
	"io"
	"os"
)

// FileBody streams the file at the given path. The file is opened by the
// writer when the response is sent and closed by it afterwards.
type FileBody string

func (f FileBody) Open() (io.ReadCloser, error) {
	return os.Open(string(f))
}
