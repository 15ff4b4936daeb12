package httpparse_test

import (
	"testing"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/nabbar/webserv/internal/httpmsg"
	"github.com/nabbar/webserv/internal/httpparse"
	"github.com/nabbar/webserv/internal/werr"
)

func TestHttpparse(t *testing.T) {
	RegisterFailHandler(Fail)
	RunSpecs(t, "httpparse Suite")
}

func feed(p *httpparse.Parser, chunks ...string) bool {
	var finished bool
	for _, c := range chunks {
		p.Feed([]byte(c))
		finished = p.Advance()
	}
	return finished
}

var _ = Describe("Parser", func() {
	It("parses a simple GET request line by line", func() {
		p := httpparse.New(httpparse.DefaultLimits())
		finished := feed(p, "GET /index.html HTTP/1.1\r\nHost: example.com\r\n\r\n")

		Expect(finished).To(BeTrue())
		Expect(p.Err()).To(BeNil())
		Expect(p.Request().Method).To(Equal(httpmsg.MethodGet))
		Expect(p.Request().URI).To(Equal("/index.html"))
		Expect(p.Request().HostName).To(Equal("example.com"))
		Expect(p.Request().HostPort).To(Equal("80"))
	})

	It("accepts a request-line and headers split across reads", func() {
		p := httpparse.New(httpparse.DefaultLimits())
		Expect(feed(p, "GET / HTTP/1.1\r\n")).To(BeFalse())
		Expect(feed(p, "Host: exa")).To(BeFalse())
		Expect(feed(p, "mple.com\r\n\r\n")).To(BeTrue())

		Expect(p.Err()).To(BeNil())
		Expect(p.Request().HostName).To(Equal("example.com"))
	})

	It("rejects a URI longer than client_max_uri_size", func() {
		limits := httpparse.DefaultLimits()
		limits.MaxURISize = 8
		p := httpparse.New(limits)

		finished := feed(p, "GET /this/is/too/long HTTP/1.1\r\nHost: h\r\n\r\n")
		Expect(finished).To(BeTrue())
		Expect(p.Err()).ToNot(BeNil())
		Expect(p.Err().Code()).To(Equal(werr.ErrURITooLong))
	})

	It("rejects whitespace inside the URI", func() {
		p := httpparse.New(httpparse.DefaultLimits())
		finished := feed(p, "GET /foo bar HTTP/1.1\r\nHost: h\r\n\r\n")
		Expect(finished).To(BeTrue())
		Expect(p.Err()).ToNot(BeNil())
		Expect(p.Err().Code()).To(Equal(werr.ErrBadRequest))
	})

	It("reports 405 for a known-but-unsupported method", func() {
		p := httpparse.New(httpparse.DefaultLimits())
		finished := feed(p, "OPTIONS / HTTP/1.1\r\nHost: h\r\n\r\n")
		Expect(finished).To(BeTrue())
		Expect(p.Err().Code()).To(Equal(werr.ErrMethodNotAllowed))
	})

	It("requires a Host header", func() {
		p := httpparse.New(httpparse.DefaultLimits())
		finished := feed(p, "GET / HTTP/1.1\r\n\r\n")
		Expect(finished).To(BeTrue())
		Expect(p.Err().Code()).To(Equal(werr.ErrBadRequest))
	})

	It("enforces client_header_buffer_size before the terminator arrives", func() {
		limits := httpparse.DefaultLimits()
		limits.HeaderBufferSize = 16
		p := httpparse.New(limits)

		finished := feed(p, "GET / HTTP/1.1\r\nX-Long-Header: way more than sixteen bytes of header data\r\n")
		Expect(finished).To(BeTrue())
		Expect(p.Err().Code()).To(Equal(werr.ErrHeaderTooLarge))
	})

	It("reads a content-length body delivered across several reads", func() {
		p := httpparse.New(httpparse.DefaultLimits())
		Expect(feed(p, "POST /upload HTTP/1.1\r\nHost: h\r\nContent-Length: 10\r\n\r\n")).To(BeFalse())
		Expect(feed(p, "hello")).To(BeFalse())
		Expect(feed(p, "world")).To(BeTrue())

		Expect(p.Err()).To(BeNil())
		Expect(string(p.Request().Body)).To(Equal("helloworld"))
	})

	It("rejects a body that exceeds client_body_buffer_size", func() {
		limits := httpparse.DefaultLimits()
		limits.BodyBufferSize = 4
		p := httpparse.New(limits)

		finished := feed(p, "POST /upload HTTP/1.1\r\nHost: h\r\nContent-Length: 10\r\n\r\nhelloworld")
		Expect(finished).To(BeTrue())
		Expect(p.Err().Code()).To(Equal(werr.ErrPayloadTooLarge))
	})

	It("decodes a chunked body across reads and strips the terminator", func() {
		p := httpparse.New(httpparse.DefaultLimits())
		Expect(feed(p, "POST /upload HTTP/1.1\r\nHost: h\r\nTransfer-Encoding: chunked\r\n\r\n")).To(BeFalse())
		Expect(feed(p, "5\r\nhello\r\n")).To(BeFalse())
		Expect(feed(p, "6\r\n world\r\n")).To(BeFalse())
		Expect(feed(p, "0\r\n\r\n")).To(BeTrue())

		Expect(p.Err()).To(BeNil())
		Expect(string(p.Request().Body)).To(Equal("hello world"))
	})

	It("rejects a malformed chunk size", func() {
		p := httpparse.New(httpparse.DefaultLimits())
		finished := feed(p, "POST /upload HTTP/1.1\r\nHost: h\r\nTransfer-Encoding: chunked\r\n\r\nZZZ\r\n")
		Expect(finished).To(BeTrue())
		Expect(p.Err().Code()).To(Equal(werr.ErrBadChunk))
	})

	It("rejects a chunk whose trailing CRLF is corrupted", func() {
		p := httpparse.New(httpparse.DefaultLimits())
		finished := feed(p, "POST /upload HTTP/1.1\r\nHost: h\r\nTransfer-Encoding: chunked\r\n\r\n5\r\nhelloXX")
		Expect(finished).To(BeTrue())
		Expect(p.Err().Code()).To(Equal(werr.ErrBadChunk))
	})

	It("decomposes a multipart/form-data body into parts", func() {
		p := httpparse.New(httpparse.DefaultLimits())
		body := "" +
			"--BOUNDARY\r\n" +
			"Content-Disposition: form-data; name=\"field1\"\r\n\r\n" +
			"value1\r\n" +
			"--BOUNDARY\r\n" +
			"Content-Disposition: form-data; name=\"file1\"; filename=\"a.txt\"\r\n" +
			"Content-Type: text/plain\r\n\r\n" +
			"file contents\r\n" +
			"--BOUNDARY--\r\n"

		req := "POST /upload HTTP/1.1\r\nHost: h\r\n" +
			"Content-Type: multipart/form-data; boundary=BOUNDARY\r\n" +
			"Content-Length: " + itoaTest(len(body)) + "\r\n\r\n" + body

		finished := feed(p, req)
		Expect(finished).To(BeTrue())
		Expect(p.Err()).To(BeNil())
		Expect(p.Request().IsUpload).To(BeTrue())
		Expect(p.Request().Parts).To(HaveLen(2))
		Expect(p.Request().Parts[0].FieldName).To(Equal("field1"))
		Expect(string(p.Request().Parts[0].Data)).To(Equal("value1"))
		Expect(p.Request().Parts[1].Filename).To(Equal("a.txt"))
		Expect(string(p.Request().Parts[1].Data)).To(Equal("file contents"))
	})

	It("parses cookies from the Cookie header", func() {
		p := httpparse.New(httpparse.DefaultLimits())
		finished := feed(p, "GET / HTTP/1.1\r\nHost: h\r\nCookie: session=abc123; theme=dark\r\n\r\n")
		Expect(finished).To(BeTrue())
		Expect(p.Request().Cookies["session"]).To(Equal("abc123"))
		Expect(p.Request().Cookies["theme"]).To(Equal("dark"))
	})
})

func itoaTest(n int) string {
	if n == 0 {
		return "0"
	}
	digits := ""
	for n > 0 {
		digits = string(rune('0'+n%10)) + digits
		n /= 10
	}
	return digits
}
