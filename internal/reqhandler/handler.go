// Package reqhandler implements the Request Handler (spec §4.7): it
// drives a Connection's Parser over freshly-read bytes, resolves the
// matched Route through the Router, and either runs a synchronous
// Response Generator or stages the first turn of the CGI pipeline. It
// returns a tagged Outcome the event loop dispatches on; it never blocks
// and never touches a descriptor directly.
package reqhandler

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/nabbar/webserv/internal/cgi"
	"github.com/nabbar/webserv/internal/connstate"
	"github.com/nabbar/webserv/internal/httpmsg"
	"github.com/nabbar/webserv/internal/respgen"
	"github.com/nabbar/webserv/internal/router"
	"github.com/nabbar/webserv/internal/session"
	"github.com/nabbar/webserv/internal/werr"
)

// Kind tags the outcome of one Handle call (spec §4.7's return-code
// table).
type Kind int

const (
	KindStaticServed Kind = iota
	KindIncomplete
	KindPeerClosed
	KindCgiBodyPending
	KindCgiRunning
)

// Outcome is what the event loop dispatches on after each Handle/ExecCGI/
// HarvestCGI call (spec §4.7).
type Outcome struct {
	Kind     Kind
	BodyFd   int
	BodyPath string
	PipeFd   int
	ChildPid int
}

// Handler bundles the Router and CGI configuration the Request Handler
// needs; it is stateless across connections (spec §9: "Global mutable
// state... Router... owned by main's scope").
type Handler struct {
	Table          *router.Table
	Sessions       *session.Store
	TreatPutAsPost bool
	TmpDir         string
	ForwardHeaders []string

	generators map[router.GeneratorKind]respgen.Generator
}

func New(table *router.Table, sessions *session.Store, treatPutAsPost bool, tmpDir string, forwardHeaders []string) *Handler {
	return &Handler{
		Table:          table,
		Sessions:       sessions,
		TreatPutAsPost: treatPutAsPost,
		TmpDir:         tmpDir,
		ForwardHeaders: forwardHeaders,
		generators: map[router.GeneratorKind]respgen.Generator{
			router.GeneratorStatic: respgen.Static{},
			router.GeneratorUpload: respgen.Upload{},
			router.GeneratorDelete: respgen.Delete{},
		},
	}
}

// Handle is called once per readable client socket (spec §4.7). data is
// the bytes just read; peerClosed signals the recv returned EOF. It
// drives parsing to completion if possible and, on a completed request,
// resolves the route and either serves the response synchronously or
// begins CGI turn 1.
func (h *Handler) Handle(conn *connstate.Connection, data []byte, peerClosed bool, now time.Time) Outcome {
	if peerClosed && len(data) == 0 {
		return Outcome{Kind: KindPeerClosed}
	}

	conn.Parser.Feed(data)
	if !conn.Parser.Advance() {
		return Outcome{Kind: KindIncomplete}
	}

	req := conn.Request()
	resp := conn.Response

	if parseErr := conn.Parser.Err(); parseErr != nil {
		h.writeError(resp, nil, parseErr)
		return Outcome{Kind: KindStaticServed}
	}

	h.resolveSession(req, resp, now)
	conn.SessionID = req.SessionID

	vs, selErr := h.Table.SelectServer(req.HostName, req.HostPort)
	if selErr != nil {
		h.writeError(resp, nil, selErr)
		return Outcome{Kind: KindStaticServed}
	}

	match := vs.Match(req.Path, req.Method, int64(len(req.Body)))
	req.State.Route = match.Route

	switch match.Outcome {
	case router.OutcomeMethodNotAllowed:
		h.writeError(resp, vs, werr.Of(werr.ErrMethodNotAllowed, nil))
		return Outcome{Kind: KindStaticServed}
	case router.OutcomePayloadTooLarge:
		h.writeError(resp, vs, werr.Of(werr.ErrPayloadTooLarge, nil))
		return Outcome{Kind: KindStaticServed}
	case router.OutcomeRedirect:
		h.writeRedirect(resp, match.RedirectLocation)
		return Outcome{Kind: KindStaticServed}
	}

	route := match.Route
	kind := route.GeneratorFor(req.Method, h.TreatPutAsPost)

	if kind == router.GeneratorCGI {
		return h.beginCGI(conn, vs)
	}

	gen := h.generators[kind]
	if genErr := gen.Generate(route, req, resp); genErr != nil {
		h.writeError(resp, vs, genErr)
	} else if resp.StatusCode >= 400 {
		if path, ok := vs.ErrorPage(resp.StatusCode); ok {
			if body, readErr := os.ReadFile(path); readErr == nil {
				respgen.ApplyErrorPage(resp, body, extensionOf(path))
			}
		}
	}
	return Outcome{Kind: KindStaticServed}
}

// resolveSession implements spec §3's Session Store contract: the
// `session` cookie is looked up (or, if absent/unknown/expired, a fresh
// session is minted) and the resulting id is always reflected back via
// Set-Cookie, so a client that never sent one starts carrying it.
func (h *Handler) resolveSession(req *httpmsg.Request, resp *httpmsg.Response, now time.Time) {
	if h.Sessions == nil {
		return
	}
	cookieID := req.Cookies["session"]
	sess := h.Sessions.GetOrCreate(cookieID, now)
	req.SessionID = sess.ID
	if sess.ID != cookieID {
		resp.Cookies = append(resp.Cookies, "session="+sess.ID)
	}
}

// beginCGI is turn 1 (spec §4.6): spill the already-accumulated body to
// a fresh file under TmpDir and hand its fd back to the event loop for
// POLLOUT registration.
func (h *Handler) beginCGI(conn *connstate.Connection, vs *router.VirtualServer) Outcome {
	path, fd, err := cgi.BodySpill(h.TmpDir)
	if err != nil {
		h.writeError(conn.Response, vs, err)
		return Outcome{Kind: KindStaticServed}
	}
	conn.CGI = &connstate.CGIInfo{BodyFd: fd, BodyPath: path}
	return Outcome{Kind: KindCgiBodyPending, BodyFd: fd, BodyPath: path}
}

// ExecCGI is turn 2 (spec §4.6), called once the body fd's buffer has
// drained and the event loop observes it writable. The caller has
// already closed the body fd per spec §4.6 step 1; this builds the CGI
// environment and forks the interpreter.
func (h *Handler) ExecCGI(conn *connstate.Connection, route *router.Route, now time.Time) Outcome {
	req := conn.Request()

	contentLength := req.Headers.Get("content-length")
	if contentLength == "" {
		contentLength = strconv.Itoa(len(req.Body))
	}

	scriptFilename := scriptFilePath(route, req.URI)
	er := cgi.EnvRequestFrom(req, route, contentLength)
	forward := h.ForwardHeaders
	if route.CGI != nil && len(route.CGI.ForwardHeaders) > 0 {
		forward = route.CGI.ForwardHeaders
	}
	env := cgi.BuildEnviron(er, scriptFilename, route.Path, forward)

	pid, pipeFd, err := cgi.Exec(conn.CGI.BodyPath, route.CGI.BinPath, scriptFilename, env)
	if err != nil {
		h.writeError(conn.Response, nil, err)
		conn.CGI = nil
		return Outcome{Kind: KindStaticServed}
	}

	conn.CGI.ChildPid = pid
	conn.CGI.PipeFd = pipeFd
	conn.CGI.StartTime = now
	conn.CGI.BodyFd = -1

	return Outcome{Kind: KindCgiRunning, PipeFd: pipeFd, ChildPid: pid}
}

// HarvestCGI is turn 3 (spec §4.6): accumulate whatever the pipe offers
// without blocking. It returns done=true once the child has exited and
// the pipe is drained, at which point conn.Response has been replaced
// with the parsed CGI reply and the event loop should queue it and tear
// down the pid/pipe/body-file.
func (h *Handler) HarvestCGI(conn *connstate.Connection) (done bool, rerr werr.Error) {
	res, err := cgi.Harvest(conn.CGI.PipeFd, conn.CGI.ChildPid)
	if err != nil {
		h.writeError(conn.Response, nil, err)
		return true, err
	}

	conn.Response.AppendCGI(res.Data)
	if !res.EOF {
		return false, nil
	}

	resp, perr := cgi.ParseOutput(conn.Response.CGIAccumulated(), res.Exited && res.ExitCode != 0)
	if perr != nil {
		h.writeError(conn.Response, nil, perr)
		return true, nil
	}
	*conn.Response = *resp
	return true, nil
}

func (h *Handler) writeError(resp *httpmsg.Response, vs *router.VirtualServer, err werr.Error) {
	status := err.HTTPStatus()
	resp.StatusCode = status
	resp.StatusText = respgen.StatusText(status)

	if vs != nil {
		if path, ok := vs.ErrorPage(status); ok {
			if body, readErr := os.ReadFile(path); readErr == nil {
				respgen.ApplyErrorPage(resp, body, extensionOf(path))
				return
			}
		}
	}

	body := []byte(err.Error() + "\n")
	resp.Headers.Set("content-type", "text/plain")
	resp.Headers.Set("content-length", strconv.Itoa(len(body)))
	resp.Body = body
}

func (h *Handler) writeRedirect(resp *httpmsg.Response, location string) {
	resp.StatusCode = 301
	resp.StatusText = respgen.StatusText(301)
	resp.Headers.Set("location", location)
	resp.Headers.Set("content-length", "0")
}

// scriptFilePath resolves a CGI route's target script the same way
// Static resolves a served file: route.Root + (request path, minus query
// string, minus route prefix).
func scriptFilePath(route *router.Route, uri string) string {
	path, _ := cgi.SplitURI(uri)
	rel := strings.TrimPrefix(path, route.Path)
	return joinPath(route.Root, rel)
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

func extensionOf(name string) string {
	idx := strings.LastIndexByte(name, '.')
	if idx < 0 {
		return ""
	}
	return name[idx:]
}
