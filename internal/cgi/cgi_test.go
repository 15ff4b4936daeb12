package cgi_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/nabbar/webserv/internal/cgi"
	"github.com/nabbar/webserv/internal/httpmsg"
)

func TestCgi(t *testing.T) {
	RegisterFailHandler(Fail)
	RunSpecs(t, "cgi Suite")
}

var _ = Describe("BuildEnviron", func() {
	It("renders the curated CGI variables bit-exact (spec §6.3)", func() {
		h := httpmsg.Header{}
		h.Set("x-secret-header-for-test", "shh")
		er := cgi.EnvRequest{
			Method:        "GET",
			URI:           "/cgi/echo.py?x=1",
			QueryString:   "x=1",
			PathInfo:      "/cgi/echo.py",
			ContentLength: "0",
			ContentType:   "",
			Headers:       h,
		}
		env := cgi.BuildEnviron(er, "/srv/cgi/echo.py", "/cgi/echo.py", []string{"x-secret-header-for-test"})

		Expect(env).To(ContainElement("REQUEST_METHOD=GET"))
		Expect(env).To(ContainElement("QUERY_STRING=x=1"))
		Expect(env).To(ContainElement("PATH_INFO=/cgi/echo.py"))
		Expect(env).To(ContainElement("SCRIPT_FILENAME=/srv/cgi/echo.py"))
		Expect(env).To(ContainElement("REQUEST_URI=/cgi/echo.py?x=1"))
		Expect(env).To(ContainElement("SERVER_PROTOCOL=HTTP/1.1"))
		Expect(env).To(ContainElement("HTTP_X_SECRET_HEADER_FOR_TEST=shh"))
	})
})

var _ = Describe("ParseOutput", func() {
	It("defaults to 200 OK when the output has no HTTP status line", func() {
		out := []byte("status: 200 OK\r\ncontent-type: text/plain\r\n\r\nok")
		resp, err := cgi.ParseOutput(out, false)
		Expect(err).To(BeNil())
		Expect(resp.StatusCode).To(Equal(200))
		Expect(resp.Headers.Get("content-type")).To(Equal("text/plain"))
		Expect(string(resp.Body)).To(Equal("ok"))
	})

	It("uses an explicit HTTP status line when present", func() {
		out := []byte("HTTP/1.1 404 Not Found\r\ncontent-type: text/plain\r\n\r\nmissing")
		resp, err := cgi.ParseOutput(out, false)
		Expect(err).To(BeNil())
		Expect(resp.StatusCode).To(Equal(404))
	})

	It("fails with ErrCGIEmptyOutput on no output", func() {
		_, err := cgi.ParseOutput(nil, false)
		Expect(err).ToNot(BeNil())
	})

	It("fails with ErrCGINonZeroExit when the child exited non-zero", func() {
		_, err := cgi.ParseOutput([]byte("anything"), true)
		Expect(err).ToNot(BeNil())
	})

	It("defaults content-length/content-type/server when absent", func() {
		resp, err := cgi.ParseOutput([]byte("no headers at all, just a body"), false)
		Expect(err).To(BeNil())
		Expect(resp.Headers.Get("content-type")).To(Equal("text/html"))
		Expect(resp.Headers.Get("server")).To(Equal("webserv"))
	})
})

var _ = Describe("BodySpill, Exec and Harvest end-to-end", func() {
	It("spills a body, execs a tiny shell script, and harvests its output", func() {
		tmp := GinkgoT().TempDir()

		path, fd, serr := cgi.BodySpill(tmp)
		Expect(serr).To(BeNil())
		Expect(fd).To(BeNumerically(">", 0))
		Expect(os.WriteFile(path, []byte("ignored"), 0644)).To(Succeed())

		script := filepath.Join(tmp, "echo.sh")
		Expect(os.WriteFile(script, []byte("#!/bin/sh\nprintf 'status: 200 OK\\r\\ncontent-type: text/plain\\r\\n\\r\\nok'\n"), 0755)).To(Succeed())

		pid, pipeFd, eerr := cgi.Exec(path, "/bin/sh", script, []string{})
		Expect(eerr).To(BeNil())
		Expect(pid).To(BeNumerically(">", 0))

		var data []byte
		var exited bool
		var exitCode int
		deadline := time.Now().Add(5 * time.Second)
		for time.Now().Before(deadline) {
			res, herr := cgi.Harvest(pipeFd, pid)
			Expect(herr).To(BeNil())
			data = append(data, res.Data...)
			if res.EOF {
				exited = res.Exited
				exitCode = res.ExitCode
				break
			}
			time.Sleep(10 * time.Millisecond)
		}

		Expect(exited).To(BeTrue())
		Expect(exitCode).To(Equal(0))

		resp, perr := cgi.ParseOutput(data, false)
		Expect(perr).To(BeNil())
		Expect(resp.StatusCode).To(Equal(200))
		Expect(string(resp.Body)).To(Equal("ok"))
	})
})
