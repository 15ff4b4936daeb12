package cgi

import "syscall"

// TryReap non-blockingly checks whether pid has exited (spec §4.6 turn 3:
// "waitpid(pid, …, WNOHANG) > 0"). Returns exited=false while the child
// is still running.
func TryReap(pid int) (reapedPid, exitCode int, exited bool) {
	var ws syscall.WaitStatus
	got, err := syscall.Wait4(pid, &ws, syscall.WNOHANG, nil)
	if err != nil || got <= 0 {
		return 0, 0, false
	}
	return got, ws.ExitStatus(), true
}

// ReapAll drains every already-exited child with WNOHANG (spec §4.6,
// "garbage-collection pass... waitpid(-1, WNOHANG) in a loop to reap
// zombies"). Returns the pids reaped.
func ReapAll() []int {
	var reaped []int
	for {
		var ws syscall.WaitStatus
		pid, err := syscall.Wait4(-1, &ws, syscall.WNOHANG, nil)
		if err != nil || pid <= 0 {
			break
		}
		reaped = append(reaped, pid)
	}
	return reaped
}

// Kill sends SIGKILL to a CGI child that exceeded its timeout (spec
// §4.6, "Timeouts and reaping").
func Kill(pid int) error {
	return syscall.Kill(pid, syscall.SIGKILL)
}
