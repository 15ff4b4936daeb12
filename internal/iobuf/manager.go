// Package iobuf implements the Buffer Manager (spec §4.2): keyed,
// deferred write buffers for file and socket descriptors, with
// threshold-triggered flush signalling and a hard overflow cap.
package iobuf

import (
	"golang.org/x/sys/unix"
)

// HardCap is the absolute size a single buffer may reach before Push
// reports overflow (spec §3, Buffer).
const HardCap = 150 * 1024 * 1024

// Kind distinguishes a buffer's destination, which only changes how Flush
// performs the underlying write.
type Kind int

const (
	KindFile Kind = iota
	KindSocket
)

type buffer struct {
	kind      Kind
	data      []byte
	threshold int
}

// Manager owns exactly one Buffer per descriptor at a time (spec §5,
// "Shared resources and ownership"). It is not safe for concurrent use by
// design: the event loop is the only caller, cooperatively scheduled, per
// spec §5's "No locking" design note.
type Manager struct {
	bufs map[int]*buffer
}

func NewManager() *Manager {
	return &Manager{bufs: make(map[int]*buffer)}
}

// PushFile appends to the file-buffer for fd, creating it if absent.
// Returns 1 when the buffer's size now reaches or exceeds threshold (caller should
// request POLLOUT), 0 otherwise, -1 if the hard cap was exceeded (the
// bytes are dropped and the caller must treat this as reported overflow).
func (m *Manager) PushFile(fd int, b []byte, threshold int) int {
	return m.push(fd, KindFile, b, threshold)
}

// PushSocket appends to the socket-buffer for fd, creating it if absent.
func (m *Manager) PushSocket(fd int, b []byte) int {
	return m.push(fd, KindSocket, b, 0)
}

func (m *Manager) push(fd int, kind Kind, b []byte, threshold int) int {
	buf := m.bufs[fd]
	if buf == nil {
		buf = &buffer{kind: kind, threshold: threshold}
		m.bufs[fd] = buf
	}
	if len(buf.data)+len(b) > HardCap {
		return -1
	}
	buf.data = append(buf.data, b...)
	if threshold > 0 && len(buf.data) >= threshold {
		return 1
	}
	return 0
}

// Pending returns how many bytes are queued for fd.
func (m *Manager) Pending(fd int) int {
	if buf := m.bufs[fd]; buf != nil {
		return len(buf.data)
	}
	return 0
}

// Flush writes as much as the OS accepts (non-blocking fd) and returns the
// number of bytes still queued, or an error. When it returns 0 remaining,
// the buffer is destroyed. blocking selects the shutdown-only sentinel
// behavior described in spec §5: retry across EAGAIN instead of returning.
func (m *Manager) Flush(fd int, blocking bool) (int, error) {
	buf := m.bufs[fd]
	if buf == nil {
		return 0, nil
	}

	for len(buf.data) > 0 {
		n, err := unix.Write(fd, buf.data)
		if n > 0 {
			buf.data = buf.data[n:]
		}
		if err != nil {
			if err == unix.EAGAIN || err == unix.EWOULDBLOCK {
				if !blocking {
					return len(buf.data), nil
				}
				waitWritable(fd)
				continue
			}
			return len(buf.data), err
		}
	}

	delete(m.bufs, fd)
	return 0, nil
}

// waitWritable blocks until fd reports POLLOUT, used only by the shutdown
// drain path (spec §5: "Buffer.flush(blocking = true) is used only at
// shutdown").
func waitWritable(fd int) {
	pfd := []unix.PollFd{{Fd: int32(fd), Events: unix.POLLOUT}}
	_, _ = unix.Poll(pfd, -1)
}

// Transfer re-keys a buffer without copying, used to migrate the
// pre-configuration stderr log buffer onto the configured log file
// descriptor once it is known (spec §4.2).
func (m *Manager) Transfer(src, dst int) {
	if buf, ok := m.bufs[src]; ok {
		delete(m.bufs, src)
		m.bufs[dst] = buf
	}
}

// Fds returns every descriptor currently holding a buffer, for the
// shutdown drain path (spec §5: "Buffer.flush(blocking = true) is used
// only at shutdown").
func (m *Manager) Fds() []int {
	out := make([]int, 0, len(m.bufs))
	for fd := range m.bufs {
		out = append(out, fd)
	}
	return out
}

// FlushAll blocking-drains every outstanding buffer, used once at
// shutdown to flush logs and any in-flight response bodies before the
// process exits.
func (m *Manager) FlushAll(blocking bool) {
	for _, fd := range m.Fds() {
		_, _ = m.Flush(fd, blocking)
	}
}

// Discard drops a buffer without flushing, used when its descriptor is
// closed out from under it (peer reset, fatal error).
func (m *Manager) Discard(fd int) {
	delete(m.bufs, fd)
}
