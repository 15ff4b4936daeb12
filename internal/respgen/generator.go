// Package respgen implements the synchronous response generators (spec
// §4.5): Static file, Upload, and Delete. CGI is orchestrated separately
// by internal/cgi because it spans multiple event-loop turns and cannot
// be expressed as a single synchronous call (spec §4.6).
package respgen

import (
	"github.com/nabbar/webserv/internal/httpmsg"
	"github.com/nabbar/webserv/internal/router"
	"github.com/nabbar/webserv/internal/werr"
)

// Generator is the tagged-variant strategy spec §9's design note
// describes ("a trait/interface with a single generate(...) method").
type Generator interface {
	Generate(route *router.Route, req *httpmsg.Request, resp *httpmsg.Response) werr.Error
}

// StatusText renders the reason phrase for a status code this server can
// emit. Exported so internal/reqhandler can reuse it for error bodies it
// assembles outside any Generator.
func StatusText(code int) string {
	switch code {
	case 200:
		return "OK"
	case 201:
		return "Created"
	case 204:
		return "No Content"
	case 301:
		return "Moved Permanently"
	case 400:
		return "Bad Request"
	case 403:
		return "Forbidden"
	case 404:
		return "Not Found"
	case 405:
		return "Method Not Allowed"
	case 413:
		return "Payload Too Large"
	case 414:
		return "URI Too Long"
	case 431:
		return "Request Header Fields Too Large"
	case 500:
		return "Internal Server Error"
	default:
		return "Unknown"
	}
}

// ApplyErrorPage overwrites resp's body/content-type with the virtual
// server's configured error_page for resp.StatusCode, if any
// (SPEC_FULL.md §12.1), leaving the status code untouched. body is the
// raw file contents already read from disk by the caller (respgen has
// no filesystem dependency of its own beyond the Static generator).
func ApplyErrorPage(resp *httpmsg.Response, body []byte, ext string) {
	resp.Body = body
	resp.Headers.Set("content-type", ContentType(ext))
	resp.Headers.Set("content-length", itoa(len(body)))
}

func itoa(n int) string {
	if n == 0 {
		return "0"
	}
	var buf [20]byte
	i := len(buf)
	for n > 0 {
		i--
		buf[i] = byte('0' + n%10)
		n /= 10
	}
	return string(buf[i:])
}
