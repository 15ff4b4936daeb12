package httpparse

import (
	"bytes"
	"strings"

	"github.com/nabbar/webserv/internal/httpmsg"
)

// maybeParseMultipart decomposes the now-complete body into BodyParameters
// when Content-Type declares multipart/form-data. Decomposition only runs
// once the whole body is buffered, sidestepping boundary strings that
// straddle two separate reads (spec §9 Open Question 1) at the cost of
// holding the full body in memory, which the body-buffer-size cap already
// bounds.
func (p *Parser) maybeParseMultipart() {
	ct := p.req.Headers.Get("content-type")
	if !strings.Contains(strings.ToLower(ct), "multipart/form-data") {
		return
	}
	boundary := extractParam(ct, "boundary")
	if boundary == "" {
		return
	}
	p.req.IsUpload = true
	p.req.Parts = decomposeMultipart(p.req.Body, boundary)
}

func decomposeMultipart(body []byte, boundary string) []httpmsg.BodyParameter {
	delim := []byte("--" + boundary)
	segments := bytes.Split(body, delim)

	var parts []httpmsg.BodyParameter
	for _, seg := range segments {
		seg = bytes.TrimPrefix(seg, crlf)
		if len(seg) == 0 || bytes.HasPrefix(seg, []byte("--")) {
			continue
		}
		seg = bytes.TrimSuffix(seg, crlf)

		headerEnd := bytes.Index(seg, crlfcrlf)
		if headerEnd < 0 {
			continue
		}
		headerBlock := seg[:headerEnd]
		data := seg[headerEnd+4:]

		part := httpmsg.BodyParameter{Headers: make(map[string]string)}
		for _, line := range bytes.Split(headerBlock, crlf) {
			if len(line) == 0 {
				continue
			}
			kv := bytes.SplitN(line, []byte(":"), 2)
			if len(kv) != 2 {
				continue
			}
			name := strings.ToLower(strings.TrimSpace(string(kv[0])))
			value := strings.TrimSpace(string(kv[1]))
			part.Headers[name] = value

			switch name {
			case "content-disposition":
				part.FieldName = extractParam(value, "name")
				part.Filename = extractParam(value, "filename")
			case "content-type":
				part.ContentType = value
			}
		}
		part.Data = data
		parts = append(parts, part)
	}
	return parts
}

// extractParam pulls key="value" (or key=value) out of a header value such
// as `form-data; name="avatar"; filename="cat.png"`.
func extractParam(header, key string) string {
	for _, seg := range strings.Split(header, ";") {
		seg = strings.TrimSpace(seg)
		eq := strings.IndexByte(seg, '=')
		if eq < 0 {
			continue
		}
		if !strings.EqualFold(strings.TrimSpace(seg[:eq]), key) {
			continue
		}
		v := strings.TrimSpace(seg[eq+1:])
		return strings.Trim(v, `"`)
	}
	return ""
}
