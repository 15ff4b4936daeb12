// Package pollset implements the Pollfd Registry (spec §4.1): a
// fixed-capacity descriptor table carrying a kind tag per descriptor,
// backing the poll(2) readiness wait the Event Loop performs every tick.
package pollset

import (
	"github.com/nabbar/webserv/internal/werr"
	"golang.org/x/sys/unix"
)

// Kind tags every descriptor registered with the loop. A RegularFile may
// additionally be flagged as a body-file via MarkBodyFile (spec §3).
type Kind int

const (
	KindServerSocket Kind = iota
	KindClientSocket
	KindPipe
	KindRegularFile
)

type entry struct {
	fd       int
	kind     Kind
	bodyFile bool
	interest int16
	revents  int16
}

// Registry is the fixed-capacity table. It is deliberately unsynchronized:
// only the single event-loop goroutine ever touches it (spec §5, "No
// locking").
type Registry struct {
	entries []entry
	index   map[int]int
	cap     int
}

// NewRegistry builds a table sized to capacity (worker_connections plus the
// small headroom the spec allots for listeners and log files).
func NewRegistry(capacity int) *Registry {
	return &Registry{
		entries: make([]entry, 0, capacity),
		index:   make(map[int]int, capacity),
		cap:     capacity,
	}
}

// Add registers fd under kind with the given interest mask (unix.POLLIN /
// unix.POLLOUT bits). Fails with ErrCapacityExceeded once the table is full.
func (r *Registry) Add(kind Kind, fd int, interest int16) (int, werr.Error) {
	if len(r.entries) >= r.cap {
		return -1, werr.Of(werr.ErrCapacityExceeded, nil)
	}
	idx := len(r.entries)
	r.entries = append(r.entries, entry{fd: fd, kind: kind, interest: interest})
	r.index[fd] = idx
	return idx, nil
}

// Remove evicts the entry at idx via swap-with-last (O(1)). The caller must
// not retain idx afterwards: the descriptor that used to sit at the tail
// now lives at idx.
func (r *Registry) Remove(idx int) {
	last := len(r.entries) - 1
	if idx < 0 || idx > last {
		return
	}
	delete(r.index, r.entries[idx].fd)
	if idx != last {
		r.entries[idx] = r.entries[last]
		r.index[r.entries[idx].fd] = idx
	}
	r.entries = r.entries[:last]
}

// RemoveFd is a convenience wrapper for the common case of removing by
// descriptor rather than by index.
func (r *Registry) RemoveFd(fd int) {
	if idx, ok := r.index[fd]; ok {
		r.Remove(idx)
	}
}

// AddInterest idempotently unions ev into the interest mask at idx.
func (r *Registry) AddInterest(idx int, ev int16) {
	if idx < 0 || idx >= len(r.entries) {
		return
	}
	r.entries[idx].interest |= ev
}

// ClearInterest removes ev from the interest mask at idx.
func (r *Registry) ClearInterest(idx int, ev int16) {
	if idx < 0 || idx >= len(r.entries) {
		return
	}
	r.entries[idx].interest &^= ev
}

// IndexOf performs the linear-scan-sized lookup the spec allows (the table
// is small); backed by a map here since nothing forbids doing better.
func (r *Registry) IndexOf(fd int) (int, bool) {
	idx, ok := r.index[fd]
	return idx, ok
}

// Kind returns the kind tag registered for fd.
func (r *Registry) Kind(fd int) (Kind, bool) {
	if idx, ok := r.index[fd]; ok {
		return r.entries[idx].kind, true
	}
	return 0, false
}

// MarkBodyFile flags or clears the body-file sub-tag on a RegularFile
// descriptor.
func (r *Registry) MarkBodyFile(fd int, yes bool) {
	if idx, ok := r.index[fd]; ok {
		r.entries[idx].bodyFile = yes
	}
}

// IsBodyFile reports the body-file sub-tag for fd.
func (r *Registry) IsBodyFile(fd int) bool {
	if idx, ok := r.index[fd]; ok {
		return r.entries[idx].bodyFile
	}
	return false
}

func (r *Registry) Len() int { return len(r.entries) }

// Poll blocks for up to timeoutMillis waiting for readiness on every
// registered descriptor, then records revents on each entry. It is the
// system's single blocking call outside of shutdown (spec §5).
func (r *Registry) Poll(timeoutMillis int) werr.Error {
	pfds := make([]unix.PollFd, len(r.entries))
	for i, e := range r.entries {
		pfds[i] = unix.PollFd{Fd: int32(e.fd), Events: e.interest}
	}

	n, err := unix.Poll(pfds, timeoutMillis)
	if err != nil {
		if err == unix.EINTR {
			return nil
		}
		return werr.New(werr.ErrPollFailed, err, "")
	}
	if n == 0 {
		for i := range r.entries {
			r.entries[i].revents = 0
		}
		return nil
	}
	for i, p := range pfds {
		r.entries[i].revents = p.Revents
	}
	return nil
}

// Each iterates the registry's live entry slice top to bottom (spec §5:
// "the event loop iterates the registry top-to-bottom each tick"),
// handing the dispatcher its kind, sub-tag and last-polled revents. No
// snapshot is taken and the length is re-read on every step: a
// Remove/RemoveFd from inside fn swaps the last entry into the removed
// slot, so that entry can be skipped or visited at a different index.
func (r *Registry) Each(fn func(idx, fd int, kind Kind, bodyFile bool, revents int16)) {
	for i := 0; i < len(r.entries); i++ {
		e := r.entries[i]
		fn(i, e.fd, e.kind, e.bodyFile, e.revents)
	}
}

// Revents returns the last-polled event mask for fd.
func (r *Registry) Revents(fd int) int16 {
	if idx, ok := r.index[fd]; ok {
		return r.entries[idx].revents
	}
	return 0
}
