package router

import (
	"github.com/nabbar/webserv/internal/httpmsg"
	"github.com/nabbar/webserv/internal/werr"
)

// VirtualServer is one `server` configuration block (spec §6.1, GLOSSARY
// "Virtual server"): listen addresses, server names, an ordered route
// table, and server-scoped settings (error pages, access log).
type VirtualServer struct {
	Listen []string // "host:port" forms this server accepts on
	Names  []string // server_name values; empty means "match any name"

	Routes []*Route // sorted via SortRoutes at build time

	ErrorPages    map[int]string
	AccessLogPath string
	AccessLogOff  bool
}

// MatchesHost reports whether this server should handle a connection
// that arrived on hostPort and presented hostName as its Host header.
func (vs *VirtualServer) MatchesHost(hostName, hostPort string) bool {
	portOK := false
	for _, l := range vs.Listen {
		if listenPort(l) == hostPort {
			portOK = true
			break
		}
	}
	if !portOK {
		return false
	}
	if len(vs.Names) == 0 {
		return true
	}
	for _, n := range vs.Names {
		if n == hostName {
			return true
		}
	}
	return false
}

func listenPort(listen string) string {
	for i := len(listen) - 1; i >= 0; i-- {
		if listen[i] == ':' {
			return listen[i+1:]
		}
	}
	return listen
}

// Outcome tags the result of matching a request against this server's
// route table (spec §4.4 steps 2-5).
type Outcome int

const (
	OutcomeMatched Outcome = iota
	OutcomeDefault
	OutcomeMethodNotAllowed
	OutcomePayloadTooLarge
	OutcomeRedirect
)

// MatchResult is what the Router hands back to the Request Handler.
type MatchResult struct {
	Outcome          Outcome
	Route            *Route
	RedirectLocation string
}

// Match runs the lookup algorithm of spec §4.4 steps 2-5 against this
// server's already-sorted route table.
func (vs *VirtualServer) Match(uri string, method httpmsg.Method, bodySize int64) MatchResult {
	for _, r := range vs.Routes {
		if r.IsDefault {
			continue
		}
		if !r.Matcher.Matches(uri) {
			continue
		}
		if !r.AllowsMethod(method) {
			return MatchResult{Outcome: OutcomeMethodNotAllowed, Route: r}
		}
		if r.MaxBodySize > 0 && bodySize > r.MaxBodySize {
			return MatchResult{Outcome: OutcomePayloadTooLarge, Route: r}
		}
		if loc, ok := r.Redirect(uri); ok {
			return MatchResult{Outcome: OutcomeRedirect, Route: r, RedirectLocation: loc}
		}
		return MatchResult{Outcome: OutcomeMatched, Route: r}
	}

	if def := vs.defaultRoute(); def != nil {
		if !def.AllowsMethod(method) {
			return MatchResult{Outcome: OutcomeMethodNotAllowed, Route: def}
		}
		if def.MaxBodySize > 0 && bodySize > def.MaxBodySize {
			return MatchResult{Outcome: OutcomePayloadTooLarge, Route: def}
		}
		return MatchResult{Outcome: OutcomeDefault, Route: def}
	}
	return MatchResult{Outcome: OutcomeMethodNotAllowed}
}

func (vs *VirtualServer) defaultRoute() *Route {
	for _, r := range vs.Routes {
		if r.IsDefault {
			return r
		}
	}
	if len(vs.Routes) > 0 {
		return vs.Routes[len(vs.Routes)-1]
	}
	return nil
}

// ErrorPage returns the configured custom body path for status, if any
// (SPEC_FULL.md §12.1).
func (vs *VirtualServer) ErrorPage(status int) (string, bool) {
	p, ok := vs.ErrorPages[status]
	return p, ok
}

// Table is the full set of virtual servers this process listens for.
type Table struct {
	Servers []*VirtualServer
}

// SelectServer implements spec §4.4 step 1: pick by host/port, falling
// back to the first configured server block.
func (t *Table) SelectServer(hostName, hostPort string) (*VirtualServer, werr.Error) {
	if len(t.Servers) == 0 {
		return nil, werr.Of(werr.ErrInternal, nil)
	}
	for _, vs := range t.Servers {
		if vs.MatchesHost(hostName, hostPort) {
			return vs, nil
		}
	}
	return t.Servers[0], nil
}
