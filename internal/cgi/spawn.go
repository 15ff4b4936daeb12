package cgi

import (
	"os"
	"path/filepath"

	"github.com/google/uuid"
	"golang.org/x/sys/unix"

	"github.com/nabbar/webserv/internal/werr"
)

// BodySpill implements turn 1 (spec §4.6): pick a random filename under
// tmpDir, open it write-only and non-blocking. The caller pushes the
// already-accumulated request body into the Buffer Manager keyed by the
// returned fd; this function only creates the descriptor.
func BodySpill(tmpDir string) (path string, fd int, rerr werr.Error) {
	name := "body_file_" + uuid.NewString()
	path = filepath.Join(tmpDir, name)

	f, err := unix.Open(path, unix.O_CREAT|unix.O_WRONLY|unix.O_NONBLOCK, 0644)
	if err != nil {
		return "", -1, werr.New(werr.ErrInternal, err, "cannot create cgi body file")
	}
	return path, f, nil
}

// Exec implements turn 2 (spec §4.6): the caller has already closed its
// body fd; Exec reopens the path in read mode, then fork+execs the
// interpreter with stdin = the body file, stdout = a fresh pipe's write
// end. Returns the child pid and the pipe's read-end fd, already set
// non-blocking, ready for the event loop to register with
// POLLIN|POLLHUP|POLLERR interest.
func Exec(bodyFilePath, interpreter, script string, env []string) (pid int, pipeReadFd int, rerr werr.Error) {
	stdin, err := os.Open(bodyFilePath)
	if err != nil {
		return 0, -1, werr.New(werr.ErrCGIExec, err, "cannot reopen cgi body file")
	}
	defer stdin.Close()

	// Raw fds (not os.File-wrapped) for the pipe: the read end is handed
	// off to the event loop's own lifecycle and must not be closed by a
	// garbage-collected *os.File finalizer.
	var fds [2]int
	if err := unix.Pipe2(fds[:], 0); err != nil {
		return 0, -1, werr.New(werr.ErrCGIPipe, err, "cannot create cgi stdout pipe")
	}
	readFd, writeFd := fds[0], fds[1]
	pw := os.NewFile(uintptr(writeFd), "cgi-stdout-write")
	defer pw.Close()

	proc, err := os.StartProcess(interpreter, []string{interpreter, script}, &os.ProcAttr{
		Env: env,
		// stderr is intentionally NOT the same pipe as stdout: the CGI
		// response body is parsed byte-for-byte from stdout (spec §4.6
		// "CGI response interpretation"), so mixing the child's stderr into
		// it would corrupt the status line / header block.
		Files: []*os.File{stdin, pw, os.Stderr},
	})
	if err != nil {
		unix.Close(readFd)
		return 0, -1, werr.New(werr.ErrCGIExec, err, "execve failed")
	}

	if err := unix.SetNonblock(readFd, true); err != nil {
		proc.Kill()
		unix.Close(readFd)
		return 0, -1, werr.New(werr.ErrCGIPipe, err, "cannot set cgi pipe non-blocking")
	}

	return proc.Pid, readFd, nil
}
