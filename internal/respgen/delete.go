package respgen

import (
	"os"
	"strings"

	"github.com/nabbar/webserv/internal/httpmsg"
	"github.com/nabbar/webserv/internal/router"
	"github.com/nabbar/webserv/internal/werr"
)

// Delete implements spec §4.5's "Delete" generator: resolve path as for
// Static, unlink, 204 on success, 403 on failure.
type Delete struct{}

func (Delete) Generate(route *router.Route, req *httpmsg.Request, resp *httpmsg.Response) werr.Error {
	rel := strings.TrimPrefix(req.Path, route.Path)
	path := joinPath(route.Root, rel)

	if err := os.Remove(path); err != nil {
		resp.StatusCode = 403
		resp.StatusText = StatusText(403)
		body := []byte("403 Forbidden\n")
		resp.Headers.Set("content-type", "text/plain")
		resp.Headers.Set("content-length", itoa(len(body)))
		resp.Body = body
		return nil
	}

	resp.StatusCode = 204
	resp.StatusText = StatusText(204)
	resp.Headers.Set("content-length", "0")
	return nil
}
