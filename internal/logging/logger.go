package logging

import (
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/nabbar/webserv/internal/iobuf"
	"github.com/nabbar/webserv/internal/pollset"
	"github.com/nabbar/webserv/internal/werr"
	"github.com/sirupsen/logrus"
)

// Logger owns the leveled error log and the structured access log (spec
// §2 row 12, §4.2, §10.1). Both are logrus loggers writing through the
// shared Buffer Manager / Pollfd Registry.
type Logger struct {
	mu sync.Mutex

	errLog   *logrus.Logger
	errLevel Level
	errFile  *fileWriter

	accLog  *logrus.Logger
	accFile *fileWriter
	accOff  bool

	buf     *iobuf.Manager
	reg     *pollset.Registry
	watcher *fsnotify.Watcher
	accPath string
	errPath string

	// rotateSignal is set by watchLoop (a background goroutine) and
	// drained by ProcessRotations on the event loop's own goroutine: the
	// Pollfd Registry is single-threaded by design (spec §9), so the
	// watcher never touches it directly.
	rotateSignal bool
}

// New builds a Logger that writes to stderr, through the Buffer Manager
// like every other descriptor (spec §4.2), until ConfigureError points it
// at a real file. If stderr cannot be registered with the Pollfd Registry
// (table exhausted), it falls back to logrus's own unbuffered default
// output so startup logging is never lost outright.
func New(buf *iobuf.Manager, reg *pollset.Registry) *Logger {
	l := &Logger{
		errLog:   logrus.New(),
		errLevel: LevelInfo,
		accLog:   logrus.New(),
		accOff:   true,
		buf:      buf,
		reg:      reg,
	}
	if fw, err := wrapStderr(buf, reg); err == nil {
		l.errFile = fw
		l.errLog.SetOutput(fw)
	} else {
		l.errLog.SetOutput(os.Stderr)
	}
	l.errLog.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	l.accLog.SetFormatter(&logrus.TextFormatter{DisableTimestamp: true})
	return l
}

// ConfigureError points the error log at path, filtering below level. Any
// bytes still queued against the old descriptor (stderr, on first call)
// are re-keyed onto the new one with Buffer.transfer rather than
// rewritten or dropped (spec §4.2's deferred-write contract).
func (l *Logger) ConfigureError(path string, level Level) werr.Error {
	l.mu.Lock()
	defer l.mu.Unlock()

	fw, err := newFileWriter(path, l.buf, l.reg)
	if err != nil {
		return werr.New(werr.ErrLogOpenFailed, err, "")
	}

	old := l.errFile
	if old != nil {
		l.buf.Transfer(old.fd, fw.fd)
		fw.scheduleFlush()
		l.reg.RemoveFd(old.fd)
	}

	l.errLog.SetOutput(fw)
	l.errLog.SetLevel(level.logrusLevel())
	l.errLevel = level
	l.errFile = fw
	l.errPath = path
	l.watchRotation(path)

	if old != nil && old.closeFile {
		_ = old.file.Close()
	}
	return nil
}

// ConfigureAccess points the access log at path, or disables it entirely
// when path == "off" (spec §6.1: "access_log <path>|off").
func (l *Logger) ConfigureAccess(path string) werr.Error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if path == "off" || path == "" {
		l.accOff = true
		return nil
	}

	fw, err := newFileWriter(path, l.buf, l.reg)
	if err != nil {
		return werr.New(werr.ErrLogOpenFailed, err, "")
	}
	l.accLog.SetOutput(fw)
	l.accFile = fw
	l.accPath = path
	l.accOff = false
	return nil
}

// watchRotation reopens the error-log file when an external tool (e.g.
// logrotate) renames or removes it out from under the server. This is log
// continuity, not configuration hot-reload (hot-reload remains a
// spec Non-goal).
func (l *Logger) watchRotation(path string) {
	if l.watcher != nil {
		_ = l.watcher.Close()
		l.watcher = nil
	}
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return
	}
	if err := w.Add(path); err != nil {
		_ = w.Close()
		return
	}
	l.watcher = w
	go l.watchLoop(w, path)
}

func (l *Logger) watchLoop(w *fsnotify.Watcher, path string) {
	for ev := range w.Events {
		if ev.Op&(fsnotify.Remove|fsnotify.Rename) != 0 {
			l.mu.Lock()
			l.rotateSignal = true
			l.mu.Unlock()
			_ = w.Add(path)
		}
	}
}

// ProcessRotations performs any pending log-file reopen flagged by
// watchLoop. It must only be called from the event loop's own goroutine:
// reopening touches the Pollfd Registry, which is not safe for concurrent
// use from the fsnotify watcher goroutine.
func (l *Logger) ProcessRotations() {
	l.mu.Lock()
	pending := l.rotateSignal
	l.rotateSignal = false
	path := l.errPath
	l.mu.Unlock()

	if !pending || path == "" {
		return
	}

	fw, err := newFileWriter(path, l.buf, l.reg)
	if err != nil {
		return
	}

	l.mu.Lock()
	old := l.errFile
	l.errLog.SetOutput(fw)
	l.errFile = fw
	l.mu.Unlock()

	if old != nil {
		_ = old.Close()
	}
}

// Flush drains both file buffers. blocking=true is used only at shutdown.
func (l *Logger) Flush(blocking bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.errFile != nil {
		_ = l.errFile.Flush(blocking)
	}
	if l.accFile != nil {
		_ = l.accFile.Flush(blocking)
	}
}

// ErrorFD exposes the current error-log descriptor: stderr's fd before
// ConfigureError has run, the configured file's fd afterwards.
func (l *Logger) ErrorFD() int {
	if l.errFile == nil {
		return -1
	}
	return l.errFile.fd
}

func (l *Logger) AccessFD() int {
	if l.accFile == nil {
		return -1
	}
	return l.accFile.fd
}

func (l *Logger) log(level Level, code werr.CodeError, msg string, fields logrus.Fields) {
	entry := l.errLog.WithField("code", code)
	if fields != nil {
		entry = entry.WithFields(fields)
	}
	switch level {
	case LevelCritical:
		entry.Error(msg) // Fatal/Panic would os.Exit inside logrus; the
		// caller (main) decides termination explicitly per spec §7.
	case LevelError:
		entry.Error(msg)
	case LevelWarn:
		entry.Warn(msg)
	case LevelDebug, LevelVerbose:
		entry.Debug(msg)
	case LevelExhaustive:
		entry.Trace(msg)
	default:
		entry.Info(msg)
	}
}

func (l *Logger) Critical(code werr.CodeError, msg string) { l.log(LevelCritical, code, msg, nil) }
func (l *Logger) Error(code werr.CodeError, msg string)    { l.log(LevelError, code, msg, nil) }
func (l *Logger) Warn(code werr.CodeError, msg string)     { l.log(LevelWarn, code, msg, nil) }
func (l *Logger) Info(msg string)                          { l.log(LevelInfo, werr.UnknownError, msg, nil) }
func (l *Logger) Debug(msg string)                         { l.log(LevelDebug, werr.UnknownError, msg, nil) }

// AccessEntry is one completed request/response pair (spec §4, Logger row:
// "structured access log").
type AccessEntry struct {
	RemoteAddr string
	Method     string
	URI        string
	Version    string
	Status     int
	Bytes      int
	Duration   time.Duration
	When       time.Time
}

// Line renders a combined-log-format-like line, the operator-familiar
// format the original implementation's access logger produced (see
// SPEC_FULL.md §12.3).
func (a AccessEntry) Line() string {
	return fmt.Sprintf("%s - - [%s] \"%s %s %s\" %d %d",
		a.RemoteAddr, a.When.Format("02/Jan/2006:15:04:05 -0700"),
		a.Method, a.URI, a.Version, a.Status, a.Bytes)
}

// Access records one request. It is a no-op when the access log is "off".
func (l *Logger) Access(a AccessEntry) {
	l.mu.Lock()
	off := l.accOff
	l.mu.Unlock()
	if off {
		return
	}
	l.accLog.WithFields(logrus.Fields{
		"remote_addr": a.RemoteAddr,
		"method":      a.Method,
		"uri":         a.URI,
		"status":      a.Status,
		"bytes":       a.Bytes,
		"duration_ms": a.Duration.Milliseconds(),
	}).Info(a.Line())
}
