package respgen

import (
	"os"

	"github.com/nabbar/webserv/internal/httpmsg"
	"github.com/nabbar/webserv/internal/router"
	"github.com/nabbar/webserv/internal/werr"
)

// Upload implements spec §4.5's "Upload" generator: each multipart part
// with a non-empty filename is written under route.Root; parts without a
// filename (plain form fields) are ignored.
type Upload struct{}

func (Upload) Generate(route *router.Route, req *httpmsg.Request, resp *httpmsg.Response) werr.Error {
	if !req.IsUpload || len(req.Parts) == 0 {
		return werr.Of(werr.ErrBadRequest, nil)
	}

	created := false
	wroteAny := false

	for _, part := range req.Parts {
		if !part.IsFile() {
			continue
		}
		wroteAny = true

		filename := part.Filename
		if extensionOf(filename) == "" {
			if ext := ExtensionForType(part.ContentType); ext != "" {
				filename += ext
			}
		}

		dest := joinPath(route.Root, filename)
		_, statErr := os.Stat(dest)
		isNew := os.IsNotExist(statErr)

		if err := os.WriteFile(dest, part.Data, 0644); err != nil {
			return werr.Of(werr.ErrInternal, err)
		}
		if isNew {
			created = true
		}
	}

	if !wroteAny {
		return werr.Of(werr.ErrBadRequest, nil)
	}

	status := 200
	if created {
		status = 201
	}
	resp.StatusCode = status
	resp.StatusText = StatusText(status)
	resp.Headers.Set("content-length", "0")
	return nil
}
