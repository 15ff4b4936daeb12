package respgen

import (
	"os"
	"sort"
	"strings"

	"github.com/nabbar/webserv/internal/httpmsg"
	"github.com/nabbar/webserv/internal/router"
	"github.com/nabbar/webserv/internal/werr"
)

// Static implements spec §4.5's "Static file" generator: directory
// index/autoindex resolution, extension-to-MIME lookup, 404/500 on
// filesystem failure.
type Static struct{}

func (Static) Generate(route *router.Route, req *httpmsg.Request, resp *httpmsg.Response) werr.Error {
	rel := strings.TrimPrefix(req.Path, route.Path)
	path := joinPath(route.Root, rel)

	info, err := os.Stat(path)
	if err != nil {
		return notFound(resp)
	}

	if info.IsDir() {
		return serveDirectory(route, path, resp)
	}
	return serveFile(path, resp)
}

func serveDirectory(route *router.Route, dir string, resp *httpmsg.Response) werr.Error {
	index := route.Index
	if index == "" {
		index = "index.html"
	}
	indexPath := joinPath(dir, index)
	if _, err := os.Stat(indexPath); err == nil {
		return serveFile(indexPath, resp)
	}

	if !route.Autoindex {
		return notFound(resp)
	}
	return serveAutoindex(dir, resp)
}

func serveAutoindex(dir string, resp *httpmsg.Response) werr.Error {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return notFound(resp)
	}
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		names = append(names, e.Name())
	}
	sort.Strings(names)

	var b strings.Builder
	for _, n := range names {
		b.WriteString(n)
		b.WriteByte('\n')
	}

	body := []byte(b.String())
	resp.StatusCode = 200
	resp.StatusText = StatusText(200)
	resp.Headers.Set("content-type", "text/plain")
	resp.Headers.Set("content-length", itoa(len(body)))
	resp.Body = body
	return nil
}

func serveFile(path string, resp *httpmsg.Response) werr.Error {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return notFound(resp)
		}
		return werr.Of(werr.ErrInternal, err)
	}

	resp.StatusCode = 200
	resp.StatusText = StatusText(200)
	resp.Headers.Set("content-type", ContentType(extensionOf(path)))
	resp.Headers.Set("content-length", itoa(len(data)))
	resp.Body = data
	return nil
}

func notFound(resp *httpmsg.Response) werr.Error {
	resp.StatusCode = 404
	resp.StatusText = StatusText(404)
	body := []byte("404 Not Found\n")
	resp.Headers.Set("content-type", "text/plain")
	resp.Headers.Set("content-length", itoa(len(body)))
	resp.Body = body
	return nil
}

func joinPath(root, rel string) string {
	if root == "" {
		root = "."
	}
	if rel == "" {
		return root
	}
	if strings.HasSuffix(root, "/") {
		root = root[:len(root)-1]
	}
	if !strings.HasPrefix(rel, "/") {
		rel = "/" + rel
	}
	return root + rel
}
