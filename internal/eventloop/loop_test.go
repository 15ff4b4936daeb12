package eventloop_test

import (
	"bufio"
	"context"
	"net"
	"os"
	"os/exec"
	"path/filepath"
	"testing"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/nabbar/webserv/internal/connstate"
	"github.com/nabbar/webserv/internal/eventloop"
	"github.com/nabbar/webserv/internal/httpmsg"
	"github.com/nabbar/webserv/internal/httpparse"
	"github.com/nabbar/webserv/internal/iobuf"
	"github.com/nabbar/webserv/internal/logging"
	"github.com/nabbar/webserv/internal/pollset"
	"github.com/nabbar/webserv/internal/reqhandler"
	"github.com/nabbar/webserv/internal/router"
	"github.com/nabbar/webserv/internal/session"
	"github.com/nabbar/webserv/internal/socket"
)

func TestEventLoop(t *testing.T) {
	RegisterFailHandler(Fail)
	RunSpecs(t, "eventloop Suite")
}

// testListenAddr is fixed rather than kernel-assigned (port 0): the
// event loop owns the listening fd exclusively, and recovering an
// ephemeral port from a raw fd without handing a duplicate to the
// standard library's net package would complicate this harness for no
// benefit.
const testListenAddr = "127.0.0.1:18532"

func staticTable(root string) *router.Table {
	route := &router.Route{
		Path:      "/",
		Matcher:   router.UriMatcher{Kind: router.MatchSubstring, Pattern: "/"},
		Methods:   map[httpmsg.Method]bool{httpmsg.MethodGet: true},
		Root:      root,
		Index:     "index.html",
		Redirects: nil,
		IsDefault: true,
	}
	return &router.Table{Servers: []*router.VirtualServer{{
		Listen: []string{testListenAddr},
		Routes: []*router.Route{route},
	}}}
}

func newLoop(tbl *router.Table, listenFd int) *eventloop.Loop {
	reg := pollset.NewRegistry(32)
	buf := iobuf.NewManager()
	conns := connstate.NewTable()
	sessions := session.NewStore(connstate.DefaultIdleTimeout)
	log := logging.New(buf, reg)
	handler := reqhandler.New(tbl, sessions, true, GinkgoT().TempDir(), nil)

	loop, err := eventloop.New(reg, buf, conns, sessions, handler, log, httpparse.DefaultLimits(), []int{listenFd})
	Expect(err).To(BeNil())
	loop.PollTimeout = 20 * time.Millisecond
	return loop
}

var _ = Describe("Loop end-to-end", func() {
	It("serves a static GET request over a real loopback socket", func() {
		dir := GinkgoT().TempDir()
		Expect(os.WriteFile(filepath.Join(dir, "index.html"), []byte("hello loop"), 0644)).To(Succeed())

		listenFd, serr := socket.Listen(testListenAddr)
		Expect(serr).To(BeNil())

		loop := newLoop(staticTable(dir), listenFd)

		ctx, cancel := context.WithCancel(context.Background())
		done := make(chan struct{})
		go func() {
			_ = loop.Run(ctx)
			close(done)
		}()
		defer func() {
			cancel()
			<-done
		}()

		conn, derr := net.DialTimeout("tcp", testListenAddr, 2*time.Second)
		Expect(derr).To(BeNil())
		defer conn.Close()

		_, werr := conn.Write([]byte("GET / HTTP/1.1\r\nHost: x\r\n\r\n"))
		Expect(werr).To(BeNil())

		_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
		reader := bufio.NewReader(conn)
		statusLine, rerr := reader.ReadString('\n')
		Expect(rerr).To(BeNil())
		Expect(statusLine).To(ContainSubstring("200"))

		var body []byte
		buf := make([]byte, 4096)
		for {
			n, e := reader.Read(buf)
			body = append(body, buf[:n]...)
			if e != nil {
				break
			}
		}
		Expect(string(body)).To(ContainSubstring("hello loop"))
	})

	It("redirects a rewritten URI with a 301 and Location header", func() {
		dir := GinkgoT().TempDir()

		route := &router.Route{
			Path:      "/old",
			Matcher:   router.UriMatcher{Kind: router.MatchSubstring, Pattern: "/old"},
			Methods:   map[httpmsg.Method]bool{httpmsg.MethodGet: true},
			Root:      dir,
			Redirects: []router.RedirectRule{{From: "/old", To: "/new"}},
			IsDefault: true,
		}
		tbl := &router.Table{Servers: []*router.VirtualServer{{
			Listen: []string{testListenAddr},
			Routes: []*router.Route{route},
		}}}

		listenFd, serr := socket.Listen(testListenAddr)
		Expect(serr).To(BeNil())

		loop := newLoop(tbl, listenFd)

		ctx, cancel := context.WithCancel(context.Background())
		done := make(chan struct{})
		go func() {
			_ = loop.Run(ctx)
			close(done)
		}()
		defer func() {
			cancel()
			<-done
		}()

		conn, derr := net.DialTimeout("tcp", testListenAddr, 2*time.Second)
		Expect(derr).To(BeNil())
		defer conn.Close()

		_, werr := conn.Write([]byte("GET /old HTTP/1.1\r\nHost: x\r\n\r\n"))
		Expect(werr).To(BeNil())

		_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
		reader := bufio.NewReader(conn)
		statusLine, rerr := reader.ReadString('\n')
		Expect(rerr).To(BeNil())
		Expect(statusLine).To(ContainSubstring("301"))

		var headers []byte
		for {
			line, e := reader.ReadString('\n')
			headers = append(headers, line...)
			if line == "\r\n" || e != nil {
				break
			}
		}
		Expect(string(headers)).To(ContainSubstring("Location: /new"))
	})

	It("runs a CGI script end-to-end: spawn, harvest, and respond", func() {
		pythonPath, lookErr := exec.LookPath("python3")
		if lookErr != nil {
			Skip("python3 not available in this environment")
		}

		echoScript, absErr := filepath.Abs(filepath.Join("..", "..", "testdata", "cgi", "echo.py"))
		Expect(absErr).To(BeNil())
		_, statErr := os.Stat(echoScript)
		Expect(statErr).To(BeNil())

		route := &router.Route{
			Path:    "/cgi/",
			Matcher: router.UriMatcher{Kind: router.MatchSubstring, Pattern: "/cgi/"},
			Methods: map[httpmsg.Method]bool{httpmsg.MethodGet: true},
			Root:    filepath.Dir(echoScript),
			CGI:     &router.CGIDescriptor{BinPath: pythonPath},
		}
		tbl := &router.Table{Servers: []*router.VirtualServer{{
			Listen: []string{testListenAddr},
			Routes: []*router.Route{route},
		}}}

		listenFd, serr := socket.Listen(testListenAddr)
		Expect(serr).To(BeNil())

		loop := newLoop(tbl, listenFd)

		ctx, cancel := context.WithCancel(context.Background())
		done := make(chan struct{})
		go func() {
			_ = loop.Run(ctx)
			close(done)
		}()
		defer func() {
			cancel()
			<-done
		}()

		conn, derr := net.DialTimeout("tcp", testListenAddr, 2*time.Second)
		Expect(derr).To(BeNil())
		defer conn.Close()

		_, werr := conn.Write([]byte("GET /cgi/echo.py?x=1 HTTP/1.1\r\nHost: x\r\n\r\n"))
		Expect(werr).To(BeNil())

		_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))
		reader := bufio.NewReader(conn)
		statusLine, rerr := reader.ReadString('\n')
		Expect(rerr).To(BeNil())
		Expect(statusLine).To(ContainSubstring("200"))

		var body []byte
		buf := make([]byte, 4096)
		for {
			n, e := reader.Read(buf)
			body = append(body, buf[:n]...)
			if e != nil {
				break
			}
		}
		Expect(string(body)).To(ContainSubstring("REQUEST_METHOD=GET"))
		Expect(string(body)).To(ContainSubstring("QUERY_STRING=x=1"))
		Expect(string(body)).To(ContainSubstring("ok"))
	})
})
