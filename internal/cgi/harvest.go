package cgi

import (
	"errors"

	"golang.org/x/sys/unix"

	"github.com/nabbar/webserv/internal/werr"
)

const harvestChunk = 4096

// HarvestResult is what one event-loop visit to a readable CGI pipe
// produces (spec §4.6, turn 3).
type HarvestResult struct {
	Data     []byte
	EOF      bool // a short read found the child already exited and reaped
	ChildPid int  // 0 until reaped
	Exited   bool
	ExitCode int
}

// Harvest reads as many 4 KiB chunks as are immediately available from
// the CGI pipe without blocking, then checks (non-blockingly) whether
// the child has exited.
func Harvest(pipeFd, childPid int) (HarvestResult, werr.Error) {
	var out []byte
	shortRead := false

	for {
		buf := make([]byte, harvestChunk)
		n, err := unix.Read(pipeFd, buf)
		if n > 0 {
			out = append(out, buf[:n]...)
		}
		if err != nil {
			if errors.Is(err, unix.EAGAIN) || errors.Is(err, unix.EWOULDBLOCK) {
				break
			}
			if errors.Is(err, unix.EINTR) {
				continue
			}
			return HarvestResult{}, werr.New(werr.ErrCGIPipe, err, "cgi pipe read failed")
		}
		if n == 0 {
			shortRead = true
			break
		}
		if n < harvestChunk {
			shortRead = true
			break
		}
	}

	res := HarvestResult{Data: out}
	if !shortRead {
		return res, nil
	}

	pid, status, exited := TryReap(childPid)
	if exited {
		res.EOF = true
		res.ChildPid = pid
		res.Exited = true
		res.ExitCode = status
	}
	return res, nil
}
