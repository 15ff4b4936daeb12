// Package socket implements the Socket Abstraction (spec §2 row 1): a
// thin wrapper over the handful of raw syscalls the rest of the server
// needs — create/bind/listen/accept/recv/set-nonblocking — so
// nothing else in this module touches golang.org/x/sys/unix directly
// for socket setup. It has no send call: outgoing bytes are written by
// the Buffer Manager (internal/iobuf).
package socket

import (
	"strconv"
	"strings"

	"golang.org/x/sys/unix"

	"github.com/nabbar/webserv/internal/werr"
)

const recvChunk = 4096

// Listen creates, binds and listens on addr ("host:port" or ":port"),
// returning a non-blocking listening fd (spec §6.1: "listen <[ip:]port>").
func Listen(addr string) (int, werr.Error) {
	host, portStr := splitHostPort(addr)
	port, err := strconv.Atoi(portStr)
	if err != nil {
		return -1, werr.New(werr.ErrBindFailed, err, "invalid listen port in "+addr)
	}

	fd, err := unix.Socket(unix.AF_INET, unix.SOCK_STREAM, 0)
	if err != nil {
		return -1, werr.New(werr.ErrBindFailed, err, "cannot create socket for "+addr)
	}

	if err := unix.SetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_REUSEADDR, 1); err != nil {
		unix.Close(fd)
		return -1, werr.New(werr.ErrBindFailed, err, "cannot set SO_REUSEADDR for "+addr)
	}

	sa := &unix.SockaddrInet4{Port: port}
	copy(sa.Addr[:], resolveIPv4(host))

	if err := unix.Bind(fd, sa); err != nil {
		unix.Close(fd)
		return -1, werr.New(werr.ErrBindFailed, err, "cannot bind "+addr)
	}
	if err := unix.Listen(fd, unix.SOMAXCONN); err != nil {
		unix.Close(fd)
		return -1, werr.New(werr.ErrBindFailed, err, "cannot listen on "+addr)
	}
	if err := unix.SetNonblock(fd, true); err != nil {
		unix.Close(fd)
		return -1, werr.New(werr.ErrBindFailed, err, "cannot set listener non-blocking for "+addr)
	}
	return fd, nil
}

// Accept accepts one pending connection on the listening fd, returning a
// non-blocking client fd and its remote address components. ok is false
// when nothing is pending (EAGAIN) — not an error condition.
func Accept(listenFd int) (fd int, remoteIP, remotePort string, ok bool, rerr werr.Error) {
	nfd, sa, err := unix.Accept(listenFd)
	if err != nil {
		if err == unix.EAGAIN || err == unix.EWOULDBLOCK {
			return -1, "", "", false, nil
		}
		return -1, "", "", false, werr.New(werr.ErrInternal, err, "accept failed")
	}
	if err := unix.SetNonblock(nfd, true); err != nil {
		unix.Close(nfd)
		return -1, "", "", false, werr.New(werr.ErrInternal, err, "cannot set client socket non-blocking")
	}

	ip, port := "0.0.0.0", "0"
	if in4, isIn4 := sa.(*unix.SockaddrInet4); isIn4 {
		ip = formatIPv4(in4.Addr)
		port = strconv.Itoa(in4.Port)
	}
	return nfd, ip, port, true, nil
}

// Recv drains whatever is immediately available on fd without blocking.
// peerClosed reports a clean EOF (recv returned 0 with no error). A
// partial read followed by EAGAIN is the normal non-blocking case and is
// not itself an error.
func Recv(fd int) (data []byte, peerClosed bool, rerr werr.Error) {
	var out []byte
	for {
		buf := make([]byte, recvChunk)
		n, err := unix.Read(fd, buf)
		if n > 0 {
			out = append(out, buf[:n]...)
		}
		if err != nil {
			if err == unix.EAGAIN || err == unix.EWOULDBLOCK {
				return out, false, nil
			}
			if err == unix.EINTR {
				continue
			}
			return out, false, werr.New(werr.ErrInternal, err, "recv failed")
		}
		if n == 0 {
			return out, true, nil
		}
		if n < recvChunk {
			return out, false, nil
		}
	}
}

// Close releases fd, ignoring errors (the descriptor is already being
// torn down by the caller regardless of outcome).
func Close(fd int) {
	_ = unix.Close(fd)
}

func splitHostPort(addr string) (host, port string) {
	idx := strings.LastIndexByte(addr, ':')
	if idx < 0 {
		return "0.0.0.0", addr
	}
	host = addr[:idx]
	if host == "" {
		host = "0.0.0.0"
	}
	return host, addr[idx+1:]
}

func resolveIPv4(host string) [4]byte {
	if host == "0.0.0.0" || host == "*" {
		return [4]byte{0, 0, 0, 0}
	}
	parts := strings.Split(host, ".")
	var out [4]byte
	if len(parts) != 4 {
		return out
	}
	for i, p := range parts {
		n, err := strconv.Atoi(p)
		if err != nil || n < 0 || n > 255 {
			return [4]byte{0, 0, 0, 0}
		}
		out[i] = byte(n)
	}
	return out
}

func formatIPv4(addr [4]byte) string {
	return strconv.Itoa(int(addr[0])) + "." + strconv.Itoa(int(addr[1])) + "." +
		strconv.Itoa(int(addr[2])) + "." + strconv.Itoa(int(addr[3]))
}
