package router

import (
	"sort"
	"strings"

	"github.com/nabbar/webserv/internal/httpmsg"
)

// RedirectRule is one `rewrite <from> <to>` pair (spec §6.1). Route keeps
// these in configured order (spec §3: "ordered redirect map") rather than
// in a Go map, so that when more than one rule's `from` substring matches
// the same URI, the match is the first one configured — a deterministic
// tie-break, not map iteration order (spec §8 invariant 4: route_of must
// be a pure function of the request).
type RedirectRule struct {
	From string
	To   string
}

// CGIDescriptor is the `cgi { ... }` block bound to a Route (spec §6.1).
type CGIDescriptor struct {
	BinPath string
	Matcher UriMatcher

	// ForwardHeaders names request headers exported into the CGI
	// environment as HTTP_<NAME> beyond the fixed set spec §6.3 lists
	// (e.g. a configured `forward_headers X-Secret-Header-For-Test;`).
	ForwardHeaders []string
}

// GeneratorKind is the response-generator strategy a matched Route
// resolves to (spec §9's tagged-variant design note). CGI routes always
// resolve to GeneratorCGI; everything else resolves by request method
// (spec §4.4 step 4: GET→static, POST/PUT→upload, DELETE→delete).
type GeneratorKind int

const (
	GeneratorStatic GeneratorKind = iota
	GeneratorUpload
	GeneratorDelete
	GeneratorCGI
)

// Route is immutable once built (spec §3): path predicate, method set,
// filesystem root, index file, optional CGI descriptor, max body size,
// redirect map, autoindex flag.
type Route struct {
	Path    string
	Matcher UriMatcher

	Methods map[httpmsg.Method]bool

	Root  string
	Index string

	MaxBodySize int64
	Redirects   []RedirectRule
	Autoindex   bool

	CGI *CGIDescriptor

	// IsDefault marks the per-server fallback route (spec §4.4 step 5):
	// the last route, tried only when nothing else matched.
	IsDefault bool
}

// AllowsMethod reports whether m is in this route's configured method
// set (spec: limit_except block; default GET+POST per
// original_source/srcs/configuration/Defaults.cpp, see DESIGN.md).
func (r *Route) AllowsMethod(m httpmsg.Method) bool {
	return r.Methods[m]
}

// GeneratorFor resolves which response-generator strategy applies for a
// request against this route (spec §4.4 step 4).
func (r *Route) GeneratorFor(m httpmsg.Method, treatPutAsPost bool) GeneratorKind {
	if r.CGI != nil {
		return GeneratorCGI
	}
	switch m.EffectiveFor(treatPutAsPost) {
	case httpmsg.MethodGet:
		return GeneratorStatic
	case httpmsg.MethodPost:
		return GeneratorUpload
	case httpmsg.MethodDelete:
		return GeneratorDelete
	default:
		return GeneratorStatic
	}
}

// Redirect checks the route's `rewrite <from> <to>` pairs against uri,
// substring-matching as spec §6.1 specifies, and returns the rewritten
// location on the first hit.
func (r *Route) Redirect(uri string) (string, bool) {
	for _, rule := range r.Redirects {
		if idx := strings.Index(uri, rule.From); idx >= 0 {
			return uri[:idx] + rule.To + uri[idx+len(rule.From):], true
		}
	}
	return "", false
}

// SortRoutes orders routes per spec §4.4: regex routes first, then by
// descending path length (most specific prefix wins). Sort is stable so
// equal-priority routes keep their configured insertion order.
func SortRoutes(routes []*Route) {
	sort.SliceStable(routes, func(i, j int) bool {
		a, b := routes[i], routes[j]
		aRegex := a.Matcher.Kind == MatchRegex
		bRegex := b.Matcher.Kind == MatchRegex
		if aRegex != bRegex {
			return aRegex
		}
		return len(a.Path) > len(b.Path)
	})
}
