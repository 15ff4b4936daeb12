package logging

import (
	"os"

	"github.com/nabbar/webserv/internal/iobuf"
	"github.com/nabbar/webserv/internal/pollset"
	"golang.org/x/sys/unix"
)

const pollOut = unix.POLLOUT

// fileWriter is the io.Writer logrus writes through. Every write is pushed
// into the Buffer Manager rather than written synchronously, so that log
// output obeys the same deferred-write contract as everything else the
// Event Loop drives (spec §4.2, §1: "the deferred-write contract"). The
// registry/manager pair is shared with the rest of the server; when a
// push crosses threshold, fileWriter registers POLLOUT on its own
// descriptor so the next loop tick drains it.
type fileWriter struct {
	file      *os.File
	fd        int
	buf       *iobuf.Manager
	reg       *pollset.Registry
	closeFile bool
}

const flushThreshold = 4096

func newFileWriter(path string, buf *iobuf.Manager, reg *pollset.Registry) (*fileWriter, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return nil, err
	}
	w, werr := wrapFile(f, buf, reg, true)
	if werr != nil {
		_ = f.Close()
		return nil, werr
	}
	return w, nil
}

// wrapStderr registers os.Stderr itself as a fileWriter, backing the
// pre-configuration log buffer (spec §4.2). Its underlying fd is never
// closed: stderr is shared with other callers (e.g. cmd/webserv's own
// error reporting) for the life of the process.
func wrapStderr(buf *iobuf.Manager, reg *pollset.Registry) (*fileWriter, error) {
	return wrapFile(os.Stderr, buf, reg, false)
}

func wrapFile(f *os.File, buf *iobuf.Manager, reg *pollset.Registry, closeFile bool) (*fileWriter, error) {
	fd := int(f.Fd())
	if _, werr := reg.Add(pollset.KindRegularFile, fd, 0); werr != nil {
		return nil, werr
	}
	return &fileWriter{file: f, fd: fd, buf: buf, reg: reg, closeFile: closeFile}, nil
}

func (w *fileWriter) Write(p []byte) (int, error) {
	if w.buf.PushFile(w.fd, p, flushThreshold) == 1 {
		w.scheduleFlush()
	}
	return len(p), nil
}

// scheduleFlush re-resolves this descriptor's current registry index
// before touching its interest mask. Registry.Remove is swap-with-last
// and explicitly documents that a caller must not retain an idx past a
// removal elsewhere in the table — which happens continuously as client
// sockets close — so caching the idx fileWriter got back from Add would
// eventually point at a different descriptor's entry.
func (w *fileWriter) scheduleFlush() {
	if w.buf.Pending(w.fd) == 0 {
		return
	}
	if idx, ok := w.reg.IndexOf(w.fd); ok {
		w.reg.AddInterest(idx, pollOut)
	}
}

// Flush drains this writer's buffer. It is called through Logger.Flush
// (blocking at shutdown, so every buffered log line reaches disk before
// the process exits) and by Close; when the descriptor reports writable,
// the event loop drains the buffer through the Buffer Manager directly.
func (w *fileWriter) Flush(blocking bool) error {
	_, err := w.buf.Flush(w.fd, blocking)
	return err
}

func (w *fileWriter) Close() error {
	_ = w.Flush(true)
	w.reg.RemoveFd(w.fd)
	if w.closeFile {
		return w.file.Close()
	}
	return nil
}
