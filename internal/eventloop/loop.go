// Package eventloop implements the Event Loop (spec §2 row 10, §5): the
// single poll(2) dispatch cycle that drives every other component. It
// owns descriptor lifecycle end to end — nothing outside this package
// ever closes a socket, pipe, or body-file fd.
package eventloop

import (
	"context"
	"os"
	"time"

	"golang.org/x/sys/unix"

	"github.com/nabbar/webserv/internal/cgi"
	"github.com/nabbar/webserv/internal/connstate"
	"github.com/nabbar/webserv/internal/httpmsg"
	"github.com/nabbar/webserv/internal/httpparse"
	"github.com/nabbar/webserv/internal/iobuf"
	"github.com/nabbar/webserv/internal/logging"
	"github.com/nabbar/webserv/internal/pollset"
	"github.com/nabbar/webserv/internal/reqhandler"
	"github.com/nabbar/webserv/internal/router"
	"github.com/nabbar/webserv/internal/session"
	"github.com/nabbar/webserv/internal/socket"
	"github.com/nabbar/webserv/internal/werr"
)

// DefaultPollTimeout is the poll(2) wait bound (spec §5: "bounded by a
// poll timeout, default 100 ms"), the latency ceiling on shutdown and on
// the periodic garbage pass.
const DefaultPollTimeout = 100 * time.Millisecond

// GCInterval is the garbage pass cadence (spec §4.6: "runs at most every
// 30 s").
const GCInterval = 30 * time.Second

// Loop bundles every long-lived singleton spec §9 names ("Buffer
// Manager, Pollfd Registry, Connection Table, Router, Logger, and
// Config... owned by main's scope and passed by explicit reference") and
// drives them through one poll/dispatch/gc cycle at a time.
type Loop struct {
	Reg      *pollset.Registry
	Buf      *iobuf.Manager
	Conns    *connstate.Table
	Sessions *session.Store
	Handler  *reqhandler.Handler
	Log      *logging.Logger
	Limits   httpparse.Limits

	PollTimeout time.Duration

	// Clock is injected for testability; production wiring passes
	// time.Now.
	Clock func() time.Time

	lastGC time.Time
}

// New registers every listening socket fd as a server-socket entry and
// returns a ready-to-run Loop.
func New(reg *pollset.Registry, buf *iobuf.Manager, conns *connstate.Table, sessions *session.Store, handler *reqhandler.Handler, log *logging.Logger, limits httpparse.Limits, listenFds []int) (*Loop, werr.Error) {
	l := &Loop{
		Reg:         reg,
		Buf:         buf,
		Conns:       conns,
		Sessions:    sessions,
		Handler:     handler,
		Log:         log,
		Limits:      limits,
		PollTimeout: DefaultPollTimeout,
		Clock:       time.Now,
	}
	for _, fd := range listenFds {
		if _, err := reg.Add(pollset.KindServerSocket, fd, unix.POLLIN); err != nil {
			return nil, err
		}
	}
	return l, nil
}

// Run drives the loop until ctx is cancelled (spec §9: SIGINT translated
// to a cooperative flag "checked between loop iterations"), then drains
// every outstanding buffer before returning.
func (l *Loop) Run(ctx context.Context) werr.Error {
	now := l.Clock()
	l.lastGC = now

	for {
		select {
		case <-ctx.Done():
			l.shutdown()
			return nil
		default:
		}

		if err := l.Reg.Poll(int(l.PollTimeout.Milliseconds())); err != nil {
			l.Log.Critical(err.Code(), err.Error())
			return err
		}

		now = l.Clock()
		l.Log.ProcessRotations()
		l.dispatch(now)
		l.maybeGC(now)
	}
}

// snapshot captures one tick's worth of (fd, kind, revents) so dispatch
// can freely add/remove registry entries by fd without corrupting an
// in-progress index-based scan (pollset.Registry.Each operates directly
// against its live slice).
type snapshot struct {
	fd       int
	kind     pollset.Kind
	bodyFile bool
	revents  int16
}

func (l *Loop) dispatch(now time.Time) {
	var items []snapshot
	l.Reg.Each(func(_, fd int, kind pollset.Kind, bodyFile bool, revents int16) {
		if revents == 0 {
			return
		}
		items = append(items, snapshot{fd: fd, kind: kind, bodyFile: bodyFile, revents: revents})
	})

	for _, it := range items {
		if _, stillRegistered := l.Reg.IndexOf(it.fd); !stillRegistered {
			continue // closed earlier in this same tick by another item
		}
		switch it.kind {
		case pollset.KindServerSocket:
			l.acceptAll(it.fd)
		case pollset.KindClientSocket:
			l.handleClient(it.fd, it.revents, now)
		case pollset.KindRegularFile:
			if it.bodyFile {
				l.handleBodyFile(it.fd, now)
			} else {
				l.flushRegularFile(it.fd)
			}
		case pollset.KindPipe:
			l.handlePipe(it.fd, now)
		}
	}
}

// acceptAll drains every pending connection on a listening socket (level
// -triggered poll means one POLLIN can represent several queued peers).
func (l *Loop) acceptAll(listenFd int) {
	for {
		fd, ip, port, ok, err := socket.Accept(listenFd)
		if err != nil {
			l.Log.Error(err.Code(), err.Error())
			return
		}
		if !ok {
			return
		}
		conn := connstate.New(fd, ip, port, l.Limits, l.Clock())
		l.Conns.Add(conn)
		if _, err := l.Reg.Add(pollset.KindClientSocket, fd, unix.POLLIN); err != nil {
			l.Log.Error(err.Code(), err.Error())
			socket.Close(fd)
			l.Conns.Remove(fd)
		}
	}
}

func (l *Loop) handleClient(fd int, revents int16, now time.Time) {
	conn, ok := l.Conns.Get(fd)
	if !ok {
		l.Reg.RemoveFd(fd)
		socket.Close(fd)
		return
	}

	if revents&unix.POLLIN != 0 {
		if conn.Request().State.Stage == httpmsg.StageInitial {
			conn.RequestStart = now
		}
		data, peerClosed, err := socket.Recv(fd)
		if err != nil {
			l.Log.Error(err.Code(), err.Error())
			l.closeClient(fd, conn)
			return
		}
		conn.Touch(now)

		outcome := l.Handler.Handle(conn, data, peerClosed, now)
		switch outcome.Kind {
		case reqhandler.KindPeerClosed:
			l.closeClient(fd, conn)
			return
		case reqhandler.KindIncomplete:
			// wait for more bytes on the next readiness event
		case reqhandler.KindStaticServed:
			l.queueResponse(conn, now)
		case reqhandler.KindCgiBodyPending:
			l.beginBodyFile(conn, outcome)
		}
	}

	if revents&unix.POLLOUT != 0 {
		l.flushClient(fd, conn)
	}

	if revents&(unix.POLLHUP|unix.POLLERR) != 0 && revents&unix.POLLIN == 0 {
		l.closeClient(fd, conn)
	}
}

// queueResponse serializes and pushes a synchronously-produced response
// (static/upload/delete/redirect/error), logs the access entry, and asks
// the registry for POLLOUT so the loop flushes it on a later tick.
func (l *Loop) queueResponse(conn *connstate.Connection, now time.Time) {
	body := conn.Response.Serialize()
	l.logAccess(conn, now)
	l.Buf.PushSocket(conn.Fd, body)
	if idx, ok := l.Reg.IndexOf(conn.Fd); ok {
		l.Reg.AddInterest(idx, unix.POLLOUT)
	}
}

// beginBodyFile is the registry half of CGI turn 1 (spec §4.6): register
// the body-file fd the Request Handler just created, route it back to
// the client socket, and push the already-accumulated body into it.
func (l *Loop) beginBodyFile(conn *connstate.Connection, outcome reqhandler.Outcome) {
	if _, err := l.Reg.Add(pollset.KindRegularFile, outcome.BodyFd, unix.POLLOUT); err != nil {
		l.Log.Error(err.Code(), err.Error())
		socket.Close(outcome.BodyFd)
		conn.CGI = nil
		l.writeInternalError(conn, l.Clock())
		return
	}
	l.Reg.MarkBodyFile(outcome.BodyFd, true)
	l.Conns.RouteViaPipe(outcome.BodyFd, conn.Fd)
	l.Buf.PushFile(outcome.BodyFd, conn.Request().Body, 1)
}

// flushClient drains as much of the client's pending response as the OS
// accepts. Once nothing remains, the connection is closed: this server
// never honours keep-alive (spec §6.2, §9 Open Question 3).
func (l *Loop) flushClient(fd int, conn *connstate.Connection) {
	remaining, err := l.Buf.Flush(fd, false)
	if err != nil {
		l.closeClient(fd, conn)
		return
	}
	if remaining == 0 {
		l.closeClient(fd, conn)
	}
}

func (l *Loop) closeClient(fd int, conn *connstate.Connection) {
	l.Reg.RemoveFd(fd)
	l.Buf.Discard(fd)
	socket.Close(fd)
	l.Conns.Remove(fd)
	if conn != nil && conn.CGI != nil {
		l.teardownCGIChild(conn)
	}
}

// teardownCGIChild cleans up a still-running CGI child when its client
// socket goes away before the pipeline's own turn-3 completion.
func (l *Loop) teardownCGIChild(conn *connstate.Connection) {
	if conn.CGI.PipeFd > 0 {
		l.Reg.RemoveFd(conn.CGI.PipeFd)
		l.Conns.UnrouteFromPipe(conn.CGI.PipeFd)
		socket.Close(conn.CGI.PipeFd)
		_ = cgi.Kill(conn.CGI.ChildPid)
	}
	if conn.CGI.BodyFd > 0 {
		l.Reg.RemoveFd(conn.CGI.BodyFd)
		l.Conns.UnrouteFromPipe(conn.CGI.BodyFd)
		socket.Close(conn.CGI.BodyFd)
	}
	if conn.CGI.BodyPath != "" {
		_ = os.Remove(conn.CGI.BodyPath)
	}
	conn.CGI = nil
}

// flushRegularFile drains a non-CGI regular-file buffer (the error/access
// log file hooks, spec §4.2: "the owner (Logger) registers POLLOUT
// interest on that descriptor so the event loop will drain it"). Unlike
// a CGI body-file, a log descriptor stays registered indefinitely.
func (l *Loop) flushRegularFile(fd int) {
	remaining, err := l.Buf.Flush(fd, false)
	if err != nil {
		l.Log.Error(werr.ErrInternal, err.Error())
		return
	}
	if remaining == 0 {
		if idx, ok := l.Reg.IndexOf(fd); ok {
			l.Reg.ClearInterest(idx, unix.POLLOUT)
		}
	}
}

// handleBodyFile is CGI turn 1→2's boundary (spec §4.6): once the body
// file's buffer has fully drained, close it and fork the interpreter.
func (l *Loop) handleBodyFile(fd int, now time.Time) {
	remaining, err := l.Buf.Flush(fd, false)
	if err != nil {
		l.Log.Error(werr.ErrInternal, err.Error())
	}
	if remaining != 0 && err == nil {
		return
	}

	conn, ok := l.Conns.ClientForPipe(fd)
	l.Reg.RemoveFd(fd)
	l.Conns.UnrouteFromPipe(fd)
	socket.Close(fd)
	if !ok {
		return
	}

	route, _ := conn.Request().State.Route.(*router.Route)
	if route == nil || route.CGI == nil {
		l.writeInternalError(conn, now)
		return
	}

	outcome := l.Handler.ExecCGI(conn, route, now)
	switch outcome.Kind {
	case reqhandler.KindCgiRunning:
		if _, aerr := l.Reg.Add(pollset.KindPipe, outcome.PipeFd, unix.POLLIN|unix.POLLHUP|unix.POLLERR); aerr != nil {
			l.Log.Error(aerr.Code(), aerr.Error())
			socket.Close(outcome.PipeFd)
			l.queueResponse(conn, now)
			return
		}
		l.Conns.RouteViaPipe(outcome.PipeFd, conn.Fd)
	case reqhandler.KindStaticServed:
		l.queueResponse(conn, now)
	}
}

// handlePipe is CGI turn 3 (spec §4.6): harvest whatever the pipe offers
// this tick; once the child has exited and the pipe is drained, tear
// down CGI bookkeeping and queue the assembled response.
func (l *Loop) handlePipe(fd int, now time.Time) {
	conn, ok := l.Conns.ClientForPipe(fd)
	if !ok {
		l.Reg.RemoveFd(fd)
		socket.Close(fd)
		return
	}

	done, err := l.Handler.HarvestCGI(conn)
	if err != nil {
		l.Log.Error(err.Code(), err.Error())
	}
	if !done {
		return
	}

	l.Reg.RemoveFd(fd)
	l.Conns.UnrouteFromPipe(fd)
	socket.Close(fd)
	if conn.CGI != nil && conn.CGI.BodyPath != "" {
		_ = os.Remove(conn.CGI.BodyPath)
	}
	conn.CGI = nil
	l.queueResponse(conn, now)
}

func (l *Loop) writeInternalError(conn *connstate.Connection, now time.Time) {
	conn.Response.StatusCode = 500
	conn.Response.StatusText = "Internal Server Error"
	body := []byte("500 Internal Server Error\n")
	conn.Response.Headers.Set("content-type", "text/plain")
	conn.Response.Headers.Set("content-length", itoa(len(body)))
	conn.Response.Body = body
	l.queueResponse(conn, now)
}

func (l *Loop) logAccess(conn *connstate.Connection, now time.Time) {
	req := conn.Request()
	duration := now.Sub(conn.RequestStart)
	if conn.RequestStart.IsZero() {
		duration = 0
	}
	l.Log.Access(logging.AccessEntry{
		RemoteAddr: conn.RemoteAddr,
		Method:     req.RawMethod,
		URI:        req.URI,
		Version:    req.Version,
		Status:     conn.Response.StatusCode,
		Bytes:      len(conn.Response.Body),
		Duration:   duration,
		When:       now,
	})
}

// maybeGC runs the garbage pass (spec §4.6: "at most every 30 s"): reap
// zombie CGI children, evict idle connections, kill overrun CGI
// children, and evict idle sessions.
func (l *Loop) maybeGC(now time.Time) {
	if now.Sub(l.lastGC) < GCInterval {
		return
	}
	l.lastGC = now

	cgi.ReapAll()

	idle, timedOut := l.Conns.GC(now)
	for _, c := range idle {
		l.closeClient(c.Fd, c)
	}
	for _, c := range timedOut {
		if c.CGI != nil {
			// Kill only: the pipe's next POLLHUP/POLLERR drives the
			// normal turn-3 harvest path to a 500, per spec §4.6.
			_ = cgi.Kill(c.CGI.ChildPid)
		}
	}

	l.Sessions.GC(now)
}

// shutdown blocking-drains every outstanding buffer (spec §5:
// "Buffer.flush(blocking = true) is used only at shutdown") and closes
// every registered descriptor.
func (l *Loop) shutdown() {
	l.Log.Flush(true)
	l.Buf.FlushAll(true)

	var fds []int
	l.Reg.Each(func(_, fd int, _ pollset.Kind, _ bool, _ int16) {
		fds = append(fds, fd)
	})
	for _, fd := range fds {
		l.Reg.RemoveFd(fd)
		socket.Close(fd)
	}
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
