// Package cgi implements the three-event-loop-turn CGI orchestration
// pipeline (spec §4.6): body-file spill, fork/exec with pipe redirection,
// and non-blocking pipe harvest with zombie reaping.
package cgi

import (
	"strings"

	"github.com/nabbar/webserv/internal/httpmsg"
	"github.com/nabbar/webserv/internal/router"
)

// EnvRequest bundles what BuildEnviron needs from a matched request,
// decoupled from httpmsg.Request/router.Route so this package doesn't
// need to know about their full shapes.
type EnvRequest struct {
	Method        string
	URI           string
	QueryString   string
	PathInfo      string
	ContentLength string
	ContentType   string
	Headers       httpmsg.Header
}

// BuildEnviron renders the curated environment spec §6.3 lists, bit-exact
// variable names, plus any header on forwardHeaders. argv[0]/[1] are
// assembled separately by Exec.
func BuildEnviron(er EnvRequest, scriptFilename, scriptName string, forwardHeaders []string) []string {
	env := []string{
		"REQUEST_METHOD=" + er.Method,
		"QUERY_STRING=" + er.QueryString,
		"CONTENT_LENGTH=" + er.ContentLength,
		"CONTENT_TYPE=" + er.ContentType,
		"SCRIPT_FILENAME=" + scriptFilename,
		"SCRIPT_NAME=" + scriptName,
		"PATH_INFO=" + er.PathInfo,
		"PATH_TRANSLATED=" + scriptFilename,
		"REQUEST_URI=" + er.URI,
		"SERVER_PROTOCOL=HTTP/1.1",
	}

	for _, name := range forwardHeaders {
		if v := er.Headers.Get(name); v != "" {
			env = append(env, "HTTP_"+headerEnvName(name)+"="+v)
		}
	}
	return env
}

func headerEnvName(name string) string {
	return strings.ToUpper(strings.ReplaceAll(name, "-", "_"))
}

// SplitURI separates a raw request-target into its path and query-string
// components, as CGI's QUERY_STRING/REQUEST_URI expect.
func SplitURI(uri string) (path, query string) {
	if idx := strings.IndexByte(uri, '?'); idx >= 0 {
		return uri[:idx], uri[idx+1:]
	}
	return uri, ""
}

// EnvRequestFrom adapts a parsed Request + matched Route into an
// EnvRequest (spec §6.3).
func EnvRequestFrom(req *httpmsg.Request, route *router.Route, contentLength string) EnvRequest {
	path, query := SplitURI(req.URI)
	return EnvRequest{
		Method:        req.Method.String(),
		URI:           req.URI,
		QueryString:   query,
		PathInfo:      path,
		ContentLength: contentLength,
		ContentType:   req.Headers.Get("content-type"),
		Headers:       req.Headers,
	}
}
