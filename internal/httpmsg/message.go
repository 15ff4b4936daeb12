// Package httpmsg holds the Request, Response, and RequestState data
// model (spec §3). It depends on nothing else in this module so that both
// the parser and the router/generators can share one vocabulary without
// an import cycle.
package httpmsg

import (
	"strings"
	"time"
)

// Stage is the parser's state-machine position (spec §4.3).
type Stage int

const (
	StageInitial Stage = iota
	StageHeadersKnown
	StageBodyInProgress
	StageFinished
)

// RequestState is the substructure spec §3 calls out explicitly.
// Route is typed loosely (any) to avoid an import cycle with the router
// package, which must in turn depend on httpmsg to match requests; the
// router and response generators type-assert it back to *router.Route.
type RequestState struct {
	Stage           Stage
	BytesRead       int
	ContentLength   int // -1 when not declared
	Route           any
}

// Header is a case-folded header map holding one value per name: a later
// Set for the same name replaces the earlier value, so only the last
// occurrence of a repeated header is kept.
type Header map[string]string

func (h Header) Set(name, value string) {
	h[strings.ToLower(name)] = value
}

func (h Header) Get(name string) string {
	return h[strings.ToLower(name)]
}

func (h Header) Has(name string) bool {
	_, ok := h[strings.ToLower(name)]
	return ok
}

// BodyParameter is one decomposed multipart/form-data part (spec §4.3).
type BodyParameter struct {
	FieldName   string
	Filename    string
	ContentType string
	Headers     map[string]string
	Data        []byte
}

// IsFile reports whether this part carries an uploaded file rather than a
// plain form field.
func (p BodyParameter) IsFile() bool { return p.Filename != "" }

// Request is the inbound message plus its parse progress.
type Request struct {
	Method    Method
	RawMethod string
	URI       string // raw request-target, including any query string
	Path      string // URI with the query string stripped, for route matching and filesystem resolution
	Version   string
	Headers   Header
	Cookies   map[string]string

	HostName string
	HostPort string

	Body         []byte
	BodyFilePath string
	Parts        []BodyParameter
	IsUpload     bool

	RemoteAddr string
	RemoteIP   string
	RemotePort string

	SessionID string

	State RequestState
}

func NewRequest() *Request {
	return &Request{
		Headers: make(Header),
		Cookies: make(map[string]string),
		State:   RequestState{Stage: StageInitial, ContentLength: -1},
	}
}

// Authority returns the request's effective host:port, falling back to
// defaultPort when the Host header carried no explicit port (spec §4.3:
// "Host → authority").
func (r *Request) Authority(defaultPort string) string {
	if r.HostPort == "" {
		return r.HostName + ":" + defaultPort
	}
	return r.HostName + ":" + r.HostPort
}

// Response is the outbound message, including the CGI reassembly buffer
// used across multiple pipe reads (spec §3).
type Response struct {
	StatusCode int
	StatusText string
	Headers    Header
	Body       []byte
	Cookies    []string

	cgiAccum []byte
}

func NewResponse() *Response {
	return &Response{Headers: make(Header)}
}

// AppendCGI accumulates one pipe read's worth of a CGI child's stdout
// (spec §4.6, turn 3).
func (r *Response) AppendCGI(b []byte) {
	r.cgiAccum = append(r.cgiAccum, b...)
}

func (r *Response) CGIAccumulated() []byte { return r.cgiAccum }

// Serialize renders the status line, headers, and body as bytes ready for
// the Buffer Manager. Connection: close is always set (spec §6.2, §9
// Open Question 3: persistent connections are never attempted).
func (r *Response) Serialize() []byte {
	var b strings.Builder
	b.WriteString("HTTP/1.1 ")
	b.WriteString(itoa(r.StatusCode))
	b.WriteByte(' ')
	b.WriteString(r.StatusText)
	b.WriteString("\r\n")

	r.Headers.Set("Connection", "close")
	for name, value := range r.Headers {
		b.WriteString(headerDisplayName(name))
		b.WriteString(": ")
		b.WriteString(value)
		b.WriteString("\r\n")
	}
	for _, c := range r.Cookies {
		b.WriteString("Set-Cookie: ")
		b.WriteString(c)
		b.WriteString("\r\n")
	}
	b.WriteString("\r\n")

	out := make([]byte, 0, b.Len()+len(r.Body))
	out = append(out, b.String()...)
	out = append(out, r.Body...)
	return out
}

func itoa(n int) string {
	if n == 0 {
		return "0"
	}
	neg := n < 0
	if neg {
		n = -n
	}
	var buf [8]byte
	i := len(buf)
	for n > 0 {
		i--
		buf[i] = byte('0' + n%10)
		n /= 10
	}
	if neg {
		i--
		buf[i] = '-'
	}
	return string(buf[i:])
}

// headerDisplayName renders a lower-cased stored key back into
// Canonical-Case for the wire, purely cosmetic.
func headerDisplayName(name string) string {
	parts := strings.Split(name, "-")
	for i, p := range parts {
		if len(p) > 0 {
			parts[i] = strings.ToUpper(p[:1]) + p[1:]
		}
	}
	return strings.Join(parts, "-")
}

// LastAccessClock is injected for testability; production code always
// passes time.Now.
type LastAccessClock func() time.Time
