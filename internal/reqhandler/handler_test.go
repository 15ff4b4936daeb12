package reqhandler_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/nabbar/webserv/internal/connstate"
	"github.com/nabbar/webserv/internal/httpmsg"
	"github.com/nabbar/webserv/internal/httpparse"
	"github.com/nabbar/webserv/internal/reqhandler"
	"github.com/nabbar/webserv/internal/router"
	"github.com/nabbar/webserv/internal/session"
)

func TestReqhandler(t *testing.T) {
	RegisterFailHandler(Fail)
	RunSpecs(t, "reqhandler Suite")
}

func methodSet(ms ...httpmsg.Method) map[httpmsg.Method]bool {
	out := make(map[httpmsg.Method]bool, len(ms))
	for _, m := range ms {
		out[m] = true
	}
	return out
}

// feedConn drives a fresh connection's parser to completion with a raw
// request and returns it, ready for Handle.
func feedConn(raw string) *connstate.Connection {
	now := time.Now()
	conn := connstate.New(3, "127.0.0.1", "54321", httpparse.DefaultLimits(), now)
	conn.Parser.Feed([]byte(raw))
	Expect(conn.Parser.Advance()).To(BeTrue())
	return conn
}

var _ = Describe("Handler.Handle", func() {
	var dir string

	BeforeEach(func() {
		dir = GinkgoT().TempDir()
		Expect(os.WriteFile(filepath.Join(dir, "index.html"), []byte("static body"), 0644)).To(Succeed())
	})

	It("serves a static GET request and returns KindStaticServed", func() {
		route := &router.Route{
			Path:      "/",
			Matcher:   router.UriMatcher{Kind: router.MatchSubstring, Pattern: "/"},
			Methods:   methodSet(httpmsg.MethodGet),
			Root:      dir,
			Index:     "index.html",
			IsDefault: true,
		}
		table := &router.Table{Servers: []*router.VirtualServer{{
			Listen: []string{"x:80"},
			Routes: []*router.Route{route},
		}}}
		h := reqhandler.New(table, session.NewStore(connstate.DefaultIdleTimeout), true, GinkgoT().TempDir(), nil)

		conn := feedConn("GET / HTTP/1.1\r\nHost: x\r\n\r\n")
		outcome := h.Handle(conn, nil, false, time.Now())

		Expect(outcome.Kind).To(Equal(reqhandler.KindStaticServed))
		Expect(conn.Response.StatusCode).To(Equal(200))
		Expect(string(conn.Response.Body)).To(Equal("static body"))
	})

	It("mints a session cookie on first contact and reuses it afterwards", func() {
		route := &router.Route{
			Path:      "/",
			Matcher:   router.UriMatcher{Kind: router.MatchSubstring, Pattern: "/"},
			Methods:   methodSet(httpmsg.MethodGet),
			Root:      dir,
			Index:     "index.html",
			IsDefault: true,
		}
		table := &router.Table{Servers: []*router.VirtualServer{{
			Listen: []string{"x:80"},
			Routes: []*router.Route{route},
		}}}
		store := session.NewStore(connstate.DefaultIdleTimeout)
		h := reqhandler.New(table, store, true, GinkgoT().TempDir(), nil)

		conn := feedConn("GET / HTTP/1.1\r\nHost: x\r\n\r\n")
		h.Handle(conn, nil, false, time.Now())

		Expect(conn.Response.Cookies).To(HaveLen(1))
		Expect(conn.SessionID).ToNot(BeEmpty())
		Expect(store.Len()).To(Equal(1))

		issued := conn.SessionID
		conn2 := feedConn("GET / HTTP/1.1\r\nHost: x\r\nCookie: session=" + issued + "\r\n\r\n")
		h.Handle(conn2, nil, false, time.Now())

		Expect(conn2.SessionID).To(Equal(issued))
		Expect(conn2.Response.Cookies).To(BeEmpty())
		Expect(store.Len()).To(Equal(1))
	})

	It("returns a 301 redirect when the matched route rewrites the URI", func() {
		route := &router.Route{
			Path:      "/old",
			Matcher:   router.UriMatcher{Kind: router.MatchSubstring, Pattern: "/old"},
			Methods:   methodSet(httpmsg.MethodGet),
			Root:      dir,
			Redirects: []router.RedirectRule{{From: "/old", To: "/new"}},
		}
		table := &router.Table{Servers: []*router.VirtualServer{{
			Listen: []string{"x:80"},
			Routes: []*router.Route{route},
		}}}
		h := reqhandler.New(table, nil, true, GinkgoT().TempDir(), nil)

		conn := feedConn("GET /old HTTP/1.1\r\nHost: x\r\n\r\n")
		outcome := h.Handle(conn, nil, false, time.Now())

		Expect(outcome.Kind).To(Equal(reqhandler.KindStaticServed))
		Expect(conn.Response.StatusCode).To(Equal(301))
		Expect(conn.Response.Headers.Get("location")).To(Equal("/new"))
	})

	It("reports 405 when the matched route disallows the request method", func() {
		route := &router.Route{
			Path:      "/",
			Matcher:   router.UriMatcher{Kind: router.MatchSubstring, Pattern: "/"},
			Methods:   methodSet(httpmsg.MethodGet),
			Root:      dir,
			IsDefault: true,
		}
		table := &router.Table{Servers: []*router.VirtualServer{{
			Listen: []string{"x:80"},
			Routes: []*router.Route{route},
		}}}
		h := reqhandler.New(table, nil, true, GinkgoT().TempDir(), nil)

		conn := feedConn("DELETE / HTTP/1.1\r\nHost: x\r\n\r\n")
		outcome := h.Handle(conn, nil, false, time.Now())

		Expect(outcome.Kind).To(Equal(reqhandler.KindStaticServed))
		Expect(conn.Response.StatusCode).To(Equal(405))
	})

	It("stages CGI turn 1 and returns KindCgiBodyPending with a spilled body file", func() {
		route := &router.Route{
			Path:    "/cgi/",
			Matcher: router.UriMatcher{Kind: router.MatchSubstring, Pattern: "/cgi/"},
			Methods: methodSet(httpmsg.MethodGet, httpmsg.MethodPost),
			Root:    dir,
			CGI:     &router.CGIDescriptor{BinPath: "/bin/sh"},
		}
		table := &router.Table{Servers: []*router.VirtualServer{{
			Listen: []string{"x:80"},
			Routes: []*router.Route{route},
		}}}
		tmp := GinkgoT().TempDir()
		h := reqhandler.New(table, nil, true, tmp, nil)

		conn := feedConn("GET /cgi/echo.sh HTTP/1.1\r\nHost: x\r\n\r\n")
		outcome := h.Handle(conn, nil, false, time.Now())

		Expect(outcome.Kind).To(Equal(reqhandler.KindCgiBodyPending))
		Expect(outcome.BodyPath).ToNot(BeEmpty())
		Expect(conn.CGI).ToNot(BeNil())
		Expect(conn.CGI.BodyPath).To(Equal(outcome.BodyPath))
		Expect(conn.CGI.BodyFd).To(BeNumerically(">=", 0))

		_, statErr := os.Stat(outcome.BodyPath)
		Expect(statErr).To(BeNil())
	})

	It("returns KindIncomplete when fewer bytes than a full request were fed", func() {
		h := reqhandler.New(&router.Table{Servers: []*router.VirtualServer{{}}}, nil, true, GinkgoT().TempDir(), nil)
		now := time.Now()
		conn := connstate.New(3, "127.0.0.1", "54321", httpparse.DefaultLimits(), now)
		conn.Parser.Feed([]byte("GET / HTTP/1.1\r\n"))

		outcome := h.Handle(conn, nil, false, now)
		Expect(outcome.Kind).To(Equal(reqhandler.KindIncomplete))
	})

	It("returns KindPeerClosed when the peer closes with no data pending", func() {
		h := reqhandler.New(&router.Table{Servers: []*router.VirtualServer{{}}}, nil, true, GinkgoT().TempDir(), nil)
		conn := connstate.New(3, "127.0.0.1", "54321", httpparse.DefaultLimits(), time.Now())

		outcome := h.Handle(conn, nil, true, time.Now())
		Expect(outcome.Kind).To(Equal(reqhandler.KindPeerClosed))
	})
})
