// Package httpparse implements the incremental HTTP Parser state machine
// (spec §4.3): request-line, headers, and body (content-length or
// chunked), plus multipart/form-data decomposition once a request has
// fully accumulated its body.
package httpparse

import (
	"bytes"
	"strconv"
	"strings"

	"github.com/nabbar/webserv/internal/httpmsg"
	"github.com/nabbar/webserv/internal/werr"
)

type chunkPhase int

const (
	chunkAwaitSize chunkPhase = iota
	chunkAwaitData
	chunkAwaitDataCRLF
	chunkAwaitTrailer
)

// Parser drives one connection's Request through Initial -> HeadersKnown
// -> (BodyInProgress ->)? Finished (spec §4.3). It owns the connection's
// rolling input buffer, trimmed as bytes are consumed.
type Parser struct {
	limits Limits
	buf    []byte
	req    *httpmsg.Request
	err    werr.Error

	chunkPhase     chunkPhase
	chunkRemaining int

	// Warnf receives non-fatal parse notices (spec: "Unknown header names
	// logged and dropped" class of events). Optional; defaults to a no-op.
	Warnf func(string)
}

func New(limits Limits) *Parser {
	return &Parser{limits: limits, req: httpmsg.NewRequest(), Warnf: func(string) {}}
}

func (p *Parser) Request() *httpmsg.Request { return p.req }
func (p *Parser) Err() werr.Error           { return p.err }

// Feed appends freshly read bytes to the rolling buffer.
func (p *Parser) Feed(data []byte) {
	p.buf = append(p.buf, data...)
}

// Advance drives the state machine as far as the currently buffered bytes
// allow. It returns true once the request has reached Finished (whether
// cleanly or via a parse error); false means more bytes are needed before
// further progress is possible.
func (p *Parser) Advance() bool {
	for {
		switch p.req.State.Stage {
		case httpmsg.StageInitial:
			if p.stepHeaders() {
				return false
			}
		case httpmsg.StageHeadersKnown:
			p.stepDecideBody()
		case httpmsg.StageBodyInProgress:
			if p.stepBody() {
				return false
			}
		case httpmsg.StageFinished:
			return true
		}
	}
}

func (p *Parser) finishWithError(code werr.CodeError) {
	p.err = werr.Of(code, nil)
	p.req.State.Stage = httpmsg.StageFinished
}

var crlfcrlf = []byte("\r\n\r\n")
var crlf = []byte("\r\n")

// stepHeaders returns true when more data is needed before it can make
// progress.
func (p *Parser) stepHeaders() bool {
	for len(p.buf) >= 2 && p.buf[0] == '\r' && p.buf[1] == '\n' {
		p.buf = p.buf[2:]
	}

	idx := bytes.Index(p.buf, crlfcrlf)
	if idx < 0 {
		if len(p.buf) > p.limits.HeaderBufferSize {
			p.finishWithError(werr.ErrHeaderTooLarge)
			return false
		}
		return true
	}

	section := p.buf[:idx]
	p.buf = p.buf[idx+4:]

	if len(section) > p.limits.HeaderBufferSize {
		p.finishWithError(werr.ErrHeaderTooLarge)
		return false
	}

	if err := p.parseStartAndHeaders(section); err != nil {
		p.err = err
		p.req.State.Stage = httpmsg.StageFinished
		return false
	}

	p.req.State.Stage = httpmsg.StageHeadersKnown
	return false
}

func (p *Parser) parseStartAndHeaders(section []byte) werr.Error {
	lines := bytes.Split(section, crlf)
	if len(lines) == 0 || len(lines[0]) == 0 {
		return werr.Of(werr.ErrBadRequest, nil)
	}

	if len(lines) > 1 && len(lines[1]) > 0 && (lines[1][0] == ' ' || lines[1][0] == '\t') {
		return werr.Of(werr.ErrBadRequest, nil)
	}

	if err := p.parseRequestLine(string(lines[0])); err != nil {
		return err
	}

	for _, raw := range lines[1:] {
		if len(raw) == 0 {
			continue
		}
		if err := p.parseHeaderLine(string(raw)); err != nil {
			return err
		}
	}

	if !p.req.Headers.Has("host") {
		return werr.Of(werr.ErrBadRequest, nil)
	}
	p.setHostAuthority(p.req.Headers.Get("host"))
	p.parseCookies(p.req.Headers.Get("cookie"))

	return nil
}

func (p *Parser) parseRequestLine(line string) werr.Error {
	fields := strings.Split(line, " ")
	if len(fields) != 3 {
		if len(fields) > 3 {
			return werr.Of(werr.ErrBadRequest, nil) // whitespace inside URI
		}
		return werr.Of(werr.ErrBadRequest, nil)
	}

	rawMethod, uri, version := fields[0], fields[1], fields[2]

	if len(uri) > p.limits.MaxURISize {
		return werr.Of(werr.ErrURITooLong, nil)
	}

	switch version {
	case "HTTP/1.1", "HTTP/1.0":
	default:
		return werr.Of(werr.ErrBadRequest, nil)
	}

	m := httpmsg.ParseMethod(rawMethod)
	if m == httpmsg.MethodUnknown {
		return werr.Of(werr.ErrUnknownMethod, nil)
	}
	if m == httpmsg.MethodOtherKnown {
		return werr.Of(werr.ErrMethodNotAllowed, nil)
	}

	p.req.RawMethod = rawMethod
	p.req.Method = m
	p.req.URI = uri
	p.req.Path = pathOnly(uri)
	p.req.Version = version
	return nil
}

// pathOnly strips a request-target's query string, so route matching and
// filesystem resolution never see "?x=1" appended to a path.
func pathOnly(uri string) string {
	if idx := strings.IndexByte(uri, '?'); idx >= 0 {
		return uri[:idx]
	}
	return uri
}

func (p *Parser) parseHeaderLine(line string) werr.Error {
	idx := strings.IndexByte(line, ':')
	if idx < 0 {
		p.Warnf("dropping malformed header line: " + line)
		return nil
	}
	name := strings.ToLower(strings.TrimSpace(line[:idx]))
	value := strings.TrimSpace(line[idx+1:])
	if name == "" {
		p.Warnf("dropping header with empty name")
		return nil
	}
	p.req.Headers.Set(name, value)
	return nil
}

func (p *Parser) setHostAuthority(host string) {
	if idx := strings.LastIndexByte(host, ':'); idx >= 0 {
		p.req.HostName = host[:idx]
		p.req.HostPort = host[idx+1:]
	} else {
		p.req.HostName = host
		p.req.HostPort = ""
	}
	if p.req.HostPort == "" {
		p.req.HostPort = p.limits.DefaultPort
	}
}

func (p *Parser) parseCookies(header string) {
	if header == "" {
		return
	}
	for _, tok := range strings.Split(header, ";") {
		kv := strings.SplitN(tok, "=", 2)
		if len(kv) != 2 {
			continue
		}
		k := strings.TrimSpace(kv[0])
		v := strings.TrimSpace(kv[1])
		if k != "" {
			p.req.Cookies[k] = v
		}
	}
}

func (p *Parser) stepDecideBody() {
	m := p.req.Method.EffectiveFor(p.limits.TreatPutAsPost)
	expectsBody := m == httpmsg.MethodPost || p.req.Method == httpmsg.MethodPut

	if !expectsBody {
		p.req.State.Stage = httpmsg.StageFinished
		return
	}

	if strings.EqualFold(p.req.Headers.Get("transfer-encoding"), "chunked") {
		p.chunkPhase = chunkAwaitSize
		p.req.State.Stage = httpmsg.StageBodyInProgress
		return
	}

	cl := p.req.Headers.Get("content-length")
	if cl == "" {
		// Legacy tolerance: empty body with POST/PUT proceeds straight to
		// Finished (spec §4.3 edge cases).
		p.req.State.Stage = httpmsg.StageFinished
		p.maybeParseMultipart()
		return
	}

	n, convErr := strconv.Atoi(cl)
	if convErr != nil || n < 0 {
		p.finishWithError(werr.ErrBadRequest)
		return
	}
	p.req.State.ContentLength = n
	if n == 0 {
		p.req.State.Stage = httpmsg.StageFinished
		p.maybeParseMultipart()
		return
	}
	p.req.State.Stage = httpmsg.StageBodyInProgress
}

func (p *Parser) stepBody() bool {
	if strings.EqualFold(p.req.Headers.Get("transfer-encoding"), "chunked") {
		return p.stepChunked()
	}
	return p.stepContentLength()
}

func (p *Parser) stepContentLength() bool {
	need := p.req.State.ContentLength - p.req.State.BytesRead
	if need <= 0 {
		p.req.State.Stage = httpmsg.StageFinished
		p.maybeParseMultipart()
		return false
	}
	if len(p.buf) == 0 {
		return true
	}
	take := len(p.buf)
	if take > need {
		take = need
	}
	p.appendBody(p.buf[:take])
	p.req.State.BytesRead += take
	p.buf = p.buf[take:]

	if len(p.req.Body) > p.limits.BodyBufferSize {
		p.finishWithError(werr.ErrPayloadTooLarge)
		return false
	}
	if p.req.State.BytesRead >= p.req.State.ContentLength {
		p.req.State.Stage = httpmsg.StageFinished
		p.maybeParseMultipart()
	}
	return false
}

func (p *Parser) appendBody(b []byte) {
	p.req.Body = append(p.req.Body, b...)
}

func (p *Parser) stepChunked() bool {
	switch p.chunkPhase {
	case chunkAwaitSize:
		idx := bytes.Index(p.buf, crlf)
		if idx < 0 {
			return true
		}
		line := p.buf[:idx]
		p.buf = p.buf[idx+2:]

		sizeTok := line
		if semi := bytes.IndexByte(line, ';'); semi >= 0 {
			sizeTok = line[:semi]
		}
		n, err := strconv.ParseInt(strings.TrimSpace(string(sizeTok)), 16, 64)
		if err != nil || n < 0 {
			p.finishWithError(werr.ErrBadChunk)
			return false
		}
		if n == 0 {
			p.chunkPhase = chunkAwaitTrailer
			return false
		}
		p.chunkRemaining = int(n)
		p.chunkPhase = chunkAwaitData
		return false

	case chunkAwaitData:
		if p.chunkRemaining > 0 {
			if len(p.buf) == 0 {
				return true
			}
			take := len(p.buf)
			if take > p.chunkRemaining {
				take = p.chunkRemaining
			}
			p.appendBody(p.buf[:take])
			p.buf = p.buf[take:]
			p.chunkRemaining -= take

			if len(p.req.Body) > p.limits.BodyBufferSize {
				p.finishWithError(werr.ErrPayloadTooLarge)
				return false
			}
		}
		if p.chunkRemaining == 0 {
			p.chunkPhase = chunkAwaitDataCRLF
		}
		return false

	case chunkAwaitDataCRLF:
		if len(p.buf) < 2 {
			return true
		}
		if p.buf[0] != '\r' || p.buf[1] != '\n' {
			p.finishWithError(werr.ErrBadChunk)
			return false
		}
		p.buf = p.buf[2:]
		p.chunkPhase = chunkAwaitSize
		return false

	case chunkAwaitTrailer:
		idx := bytes.Index(p.buf, crlf)
		if idx < 0 {
			return true
		}
		line := p.buf[:idx]
		p.buf = p.buf[idx+2:]
		if len(line) == 0 {
			p.req.State.Stage = httpmsg.StageFinished
			p.maybeParseMultipart()
			return false
		}
		// chunked trailer headers are discarded (spec §9 Open Question 4).
		return false
	}
	return true
}
