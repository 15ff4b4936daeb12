package cgi

import (
	"bytes"
	"strconv"
	"strings"

	"github.com/nabbar/webserv/internal/httpmsg"
	"github.com/nabbar/webserv/internal/werr"
)

// ParseOutput interprets a CGI child's accumulated stdout (spec §4.6,
// "CGI response interpretation"): an optional HTTP status line, then
// name: value header lines until a blank line, then the body.
func ParseOutput(data []byte, exitedNonZero bool) (*httpmsg.Response, werr.Error) {
	if len(data) == 0 {
		return nil, werr.New(werr.ErrCGIEmptyOutput, nil, "cgi child produced no output")
	}
	if exitedNonZero {
		return nil, werr.New(werr.ErrCGINonZeroExit, nil, "cgi child exited non-zero")
	}

	resp := httpmsg.NewResponse()
	resp.StatusCode = 200
	resp.StatusText = "OK"

	rest := data
	if headerEnd := bytes.Index(data, []byte("\r\n\r\n")); headerEnd >= 0 {
		head := data[:headerEnd]
		rest = data[headerEnd+4:]

		lines := bytes.Split(head, []byte("\r\n"))
		if len(lines) > 0 && bytes.HasPrefix(lines[0], []byte("HTTP")) {
			parseStatusLine(string(lines[0]), resp)
			lines = lines[1:]
		}
		for _, line := range lines {
			if len(line) == 0 {
				continue
			}
			idx := bytes.IndexByte(line, ':')
			if idx < 0 {
				continue
			}
			name := strings.ToLower(strings.TrimSpace(string(line[:idx])))
			value := strings.TrimSpace(string(line[idx+1:]))
			resp.Headers.Set(name, value)
		}
	}

	resp.Body = rest
	applyDefaults(resp)
	return resp, nil
}

func parseStatusLine(line string, resp *httpmsg.Response) {
	fields := strings.Fields(line)
	if len(fields) < 2 {
		return
	}
	code, err := strconv.Atoi(fields[1])
	if err != nil {
		return
	}
	resp.StatusCode = code
	if len(fields) > 2 {
		resp.StatusText = strings.Join(fields[2:], " ")
	}
}

func applyDefaults(resp *httpmsg.Response) {
	if !resp.Headers.Has("content-length") {
		resp.Headers.Set("content-length", strconv.Itoa(len(resp.Body)))
	}
	if !resp.Headers.Has("content-type") {
		resp.Headers.Set("content-type", "text/html")
	}
	if !resp.Headers.Has("server") {
		resp.Headers.Set("server", "webserv")
	}
	resp.Headers.Set("connection", "close")
}
