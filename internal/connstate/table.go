package connstate

import "time"

// Table owns every live Connection, keyed by client socket fd, plus the
// pipe_routes map spec §5 describes: "(pipe-fd → client-socket-fd) is
// owned by the Request Handler; entries inserted on CGI turn 1/2, removed
// on turn 3 or on pipe exception." The same map serves both the CGI
// body-file fd (turn 1) and the CGI stdout pipe fd (turn 2/3), since
// neither is ever registered under both roles at once.
type Table struct {
	byFd       map[int]*Connection
	pipeRoutes map[int]int
}

func NewTable() *Table {
	return &Table{
		byFd:       make(map[int]*Connection),
		pipeRoutes: make(map[int]int),
	}
}

func (t *Table) Add(c *Connection)          { t.byFd[c.Fd] = c }
func (t *Table) Get(fd int) (*Connection, bool) {
	c, ok := t.byFd[fd]
	return c, ok
}
func (t *Table) Remove(fd int) { delete(t.byFd, fd) }
func (t *Table) Len() int      { return len(t.byFd) }

// RouteViaPipe records that bytes arriving on pipeFd belong to clientFd's
// connection (spec §4.6 turns 1 and 2).
func (t *Table) RouteViaPipe(pipeFd, clientFd int) { t.pipeRoutes[pipeFd] = clientFd }

// ClientForPipe resolves a CGI body-file or stdout-pipe fd back to its
// owning Connection.
func (t *Table) ClientForPipe(pipeFd int) (*Connection, bool) {
	clientFd, ok := t.pipeRoutes[pipeFd]
	if !ok {
		return nil, false
	}
	return t.Get(clientFd)
}

// UnrouteFromPipe drops a pipe_routes entry once the CGI pipeline retires
// it (spec §4.6 turn 3, or a pipe exception).
func (t *Table) UnrouteFromPipe(pipeFd int) { delete(t.pipeRoutes, pipeFd) }

// Each iterates a stable snapshot of every live connection.
func (t *Table) Each(fn func(*Connection)) {
	snapshot := make([]*Connection, 0, len(t.byFd))
	for _, c := range t.byFd {
		snapshot = append(snapshot, c)
	}
	for _, c := range snapshot {
		fn(c)
	}
}

// GC implements the connection half of spec §4.6's garbage pass: it
// reports, without itself touching any descriptor, which connections are
// idle-expired and which have a CGI child that overran its timeout. The
// event loop is responsible for the actual socket/process teardown since
// it alone owns descriptor and registry lifecycle (spec §5).
func (t *Table) GC(now time.Time) (idleEvictions, cgiTimeouts []*Connection) {
	for _, c := range t.byFd {
		if c.CGI != nil && c.CGITimedOut(now) {
			cgiTimeouts = append(cgiTimeouts, c)
			continue
		}
		if c.Idle(now) {
			idleEvictions = append(idleEvictions, c)
		}
	}
	return idleEvictions, cgiTimeouts
}
