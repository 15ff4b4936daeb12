// Package connstate implements the Connection Table (spec §3, §5): the
// per-socket Request/Response/CGI bookkeeping the event loop drives, and
// the pipe_routes lookup spec §5's "Shared resources and ownership" names
// explicitly.
package connstate

import (
	"time"

	"github.com/nabbar/webserv/internal/httpmsg"
	"github.com/nabbar/webserv/internal/httpparse"
)

// Default timeouts (spec §3: "idle timeout (default 300 s); CGI timeout
// (default 300 s)").
const (
	DefaultIdleTimeout = 300 * time.Second
	DefaultCGITimeout  = 300 * time.Second
)

// CGIInfo is the optional CGI bookkeeping a Connection carries between
// turn 1 and turn 3 of the orchestration pipeline (spec §3, §4.6): "set
// when CGI exec begins, cleared on completion". BodyFd is only valid
// between turns 1 and 2; PipeFd and ChildPid only from turn 2 onward.
type CGIInfo struct {
	BodyFd    int
	BodyPath  string
	ChildPid  int
	PipeFd    int
	StartTime time.Time
}

// Connection owns one Request, one Response, and optional CGI state for
// the lifetime of a single accepted socket (spec §3). It carries no
// reference to its Session beyond the id string — the lookup-not-pointer
// design spec §9 calls for to avoid a cycle with the Session Store.
type Connection struct {
	Fd         int
	RemoteIP   string
	RemotePort string
	RemoteAddr string

	Parser   *httpparse.Parser
	Response *httpmsg.Response

	CGI *CGIInfo

	LastAccess  time.Time
	IdleTimeout time.Duration
	CGITimeout  time.Duration

	// RequestStart marks when the current request began processing, for
	// the access log's duration field; reset whenever a fresh request
	// starts arriving on this (single-request-per-connection) socket.
	RequestStart time.Time

	SessionID string
}

// New builds a Connection with its Request and Response created
// alongside it (spec §3: "one Request, one Response (both created with
// the connection)").
func New(fd int, remoteIP, remotePort string, limits httpparse.Limits, now time.Time) *Connection {
	return &Connection{
		Fd:          fd,
		RemoteIP:    remoteIP,
		RemotePort:  remotePort,
		RemoteAddr:  remoteIP + ":" + remotePort,
		Parser:      httpparse.New(limits),
		Response:    httpmsg.NewResponse(),
		LastAccess:  now,
		IdleTimeout: DefaultIdleTimeout,
		CGITimeout:  DefaultCGITimeout,
	}
}

// Request is a convenience accessor onto the Parser's owned Request.
func (c *Connection) Request() *httpmsg.Request { return c.Parser.Request() }

func (c *Connection) Touch(now time.Time) { c.LastAccess = now }

// Idle reports whether this connection has sat past its idle timeout
// with no activity (spec §4.6: "iterates connections and sessions to
// evict those whose last-access exceeds their timeout").
func (c *Connection) Idle(now time.Time) bool {
	return now.Sub(c.LastAccess) > c.IdleTimeout
}

// CGITimedOut reports whether a running CGI child has exceeded
// CGI_DEFAULT_TIMEOUT (spec §4.6: "Timeouts and reaping").
func (c *Connection) CGITimedOut(now time.Time) bool {
	return c.CGI != nil && now.Sub(c.CGI.StartTime) > c.CGITimeout
}
