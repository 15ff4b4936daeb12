package config

import (
	"strconv"

	"github.com/nabbar/webserv/internal/httpmsg"
	"github.com/nabbar/webserv/internal/httpparse"
	"github.com/nabbar/webserv/internal/respgen"
	"github.com/nabbar/webserv/internal/router"
	"github.com/nabbar/webserv/internal/werr"
)

// Configuration is the resolved, typed view of a parsed configuration
// tree: everything the event loop, logger and router need to run (spec
// §3, §6.1). It is built once at startup by Resolve and never mutated
// afterward.
type Configuration struct {
	Limits            httpparse.Limits
	WorkerConnections int
	ErrorLogPath      string
	ErrorLogLevel     string
	Table             *router.Table
}

// Resolve walks root, the implicit top-level block ParseFile returns,
// and produces a Configuration. root carries the main-context directives
// directly (error_log) plus the http, events and (spliced) include
// children (spec §6.1).
func Resolve(root *Block) (*Configuration, werr.Error) {
	cfg := &Configuration{}

	if args, ok := root.Get("error_log"); ok && len(args) > 0 {
		cfg.ErrorLogPath = args[0]
		if len(args) > 1 {
			cfg.ErrorLogLevel = args[1]
		} else {
			cfg.ErrorLogLevel = Defaults.ErrorLogLevel
		}
	} else {
		cfg.ErrorLogPath = Defaults.ErrorLogPath
		cfg.ErrorLogLevel = Defaults.ErrorLogLevel
	}

	httpBlk, ok := root.ChildOf("http")
	if !ok {
		return nil, werr.New(werr.ErrConfigValidate, nil, "configuration has no http block")
	}

	cfg.Limits = resolveLimits(httpBlk)

	if evBlk, ok := root.ChildOf("events"); ok {
		cfg.WorkerConnections = intDirective(evBlk, "worker_connections", Defaults.WorkerConnections)
	} else {
		cfg.WorkerConnections = intDirective(httpBlk, "worker_connections", Defaults.WorkerConnections)
	}

	if typesBlk, ok := httpBlk.ChildOf("types"); ok {
		resolveTypes(typesBlk)
	}

	table := &router.Table{}
	for _, srvBlk := range httpBlk.ChildrenOf("server") {
		vs, err := resolveServer(srvBlk)
		if err != nil {
			return nil, err
		}
		table.Servers = append(table.Servers, vs)
	}
	if len(table.Servers) == 0 {
		return nil, werr.New(werr.ErrConfigValidate, nil, "configuration declares no server blocks")
	}
	cfg.Table = table

	return cfg, nil
}

func resolveLimits(httpBlk *Block) httpparse.Limits {
	return httpparse.Limits{
		HeaderBufferSize: intDirective(httpBlk, "client_header_buffer_size", Defaults.ClientHeaderBufferSize),
		MaxURISize:       intDirective(httpBlk, "client_max_uri_size", Defaults.ClientMaxURISize),
		BodyBufferSize:   intDirective(httpBlk, "client_body_buffer_size", Defaults.ClientBodyBufferSize),
		MaxBodySize:      int64Directive(httpBlk, "client_max_body_size", Defaults.ClientMaxBodySize),
		DefaultPort:      httpBlk.GetString("default_port", Defaults.DefaultPort),
		TreatPutAsPost:   true,
	}
}

// resolveTypes extends respgen's built-in extension/MIME table from a
// `types { .ext mime/type; ... }` block.
func resolveTypes(typesBlk *Block) {
	for ext, occurrences := range typesBlk.Directives {
		for _, args := range occurrences {
			if len(args) == 0 {
				continue
			}
			respgen.RegisterType(ext, args[0])
		}
	}
}

func resolveServer(srvBlk *Block) (*router.VirtualServer, werr.Error) {
	vs := &router.VirtualServer{ErrorPages: map[int]string{}}

	if listens := srvBlk.GetAll("listen"); len(listens) > 0 {
		for _, l := range listens {
			if len(l) > 0 {
				vs.Listen = append(vs.Listen, normalizeListen(l[0]))
			}
		}
	} else {
		vs.Listen = []string{normalizeListen(Defaults.Listen)}
	}

	if names, ok := srvBlk.Get("server_name"); ok {
		vs.Names = names
	}

	for _, ep := range srvBlk.GetAll("error_page") {
		if len(ep) < 2 {
			continue
		}
		path := ep[len(ep)-1]
		for _, codeStr := range ep[:len(ep)-1] {
			if code, err := strconv.Atoi(codeStr); err == nil {
				vs.ErrorPages[code] = path
			}
		}
	}

	if al, ok := srvBlk.Get("access_log"); ok && len(al) > 0 {
		if al[0] == "off" {
			vs.AccessLogOff = true
		} else {
			vs.AccessLogPath = al[0]
		}
	} else {
		vs.AccessLogPath = Defaults.AccessLogPath
	}

	var routes []*router.Route
	for _, locBlk := range srvBlk.ChildrenOf("location") {
		routes = append(routes, resolveLocation(locBlk))
	}
	if len(routes) == 0 {
		routes = append(routes, defaultRoute())
	}
	router.SortRoutes(routes)
	vs.Routes = routes

	return vs, nil
}

// normalizeListen turns a bare port (the grammar allows `listen 8080;`)
// into a "host:port" pair, defaulting the host to all interfaces.
func normalizeListen(raw string) string {
	for i := 0; i < len(raw); i++ {
		if raw[i] == ':' {
			return raw
		}
	}
	return "0.0.0.0:" + raw
}

func defaultRoute() *router.Route {
	return &router.Route{
		Path:      Defaults.LocationPath,
		Matcher:   router.UriMatcher{Kind: router.MatchSubstring, Pattern: Defaults.LocationPath},
		Methods:   methodSetFrom(Defaults.LimitExceptMethods),
		Root:      Defaults.Root,
		Index:     Defaults.Index,
		Autoindex: Defaults.Autoindex,
		IsDefault: true,
	}
}

func resolveLocation(locBlk *Block) *router.Route {
	path := Defaults.LocationPath
	matcher := router.UriMatcher{Kind: router.MatchSubstring, Pattern: path}

	switch {
	case len(locBlk.Args) >= 2 && locBlk.Args[0] == "~":
		path = locBlk.Args[1]
		matcher = router.UriMatcher{Kind: router.MatchRegex, Pattern: path}
	case len(locBlk.Args) >= 1:
		path = locBlk.Args[0]
		matcher = router.UriMatcher{Kind: router.MatchSubstring, Pattern: path}
	}
	_ = matcher.Compile()

	route := &router.Route{
		Path:        path,
		Matcher:     matcher,
		Root:        locBlk.GetString("root", Defaults.Root),
		Index:       locBlk.GetString("index", Defaults.Index),
		MaxBodySize: int64Directive(locBlk, "client_max_body_size", Defaults.ClientMaxBodySize),
		Autoindex:   locBlk.GetString("autoindex", "off") == "on",
		IsDefault:   path == Defaults.LocationPath,
	}

	for _, rw := range locBlk.GetAll("rewrite") {
		if len(rw) == 2 {
			route.Redirects = append(route.Redirects, router.RedirectRule{From: rw[0], To: rw[1]})
		}
	}

	if meBlk, ok := locBlk.ChildOf("limit_except"); ok && len(meBlk.Args) > 0 {
		route.Methods = methodSetFrom(meBlk.Args)
	} else {
		route.Methods = methodSetFrom(Defaults.LimitExceptMethods)
	}

	if cgiBlk, ok := locBlk.ChildOf("cgi"); ok {
		route.CGI = resolveCGI(cgiBlk)
	}

	return route
}

func resolveCGI(cgiBlk *Block) *router.CGIDescriptor {
	desc := &router.CGIDescriptor{BinPath: cgiBlk.GetString("bin_path", Defaults.BinPath)}
	// `~ .py;` is a directive line inside the cgi block (spec §8 scenario 5:
	// `cgi { bin_path ...; cgi_type file; ~ .py; }`), not a header argument
	// on `cgi { ... }` itself the way a location's `~ /regex` is.
	if pattern, ok := cgiBlk.Get("~"); ok && len(pattern) > 0 {
		desc.Matcher = router.UriMatcher{Kind: router.MatchExtension, Pattern: pattern[0]}
	}
	if hdrs, ok := cgiBlk.Get("forward_headers"); ok {
		desc.ForwardHeaders = hdrs
	}
	return desc
}

func methodSetFrom(tokens []string) map[httpmsg.Method]bool {
	set := make(map[httpmsg.Method]bool, len(tokens))
	for _, tok := range tokens {
		set[httpmsg.ParseMethod(tok)] = true
	}
	return set
}

func intDirective(b *Block, name string, def int) int {
	args, ok := b.Get(name)
	if !ok || len(args) == 0 {
		return def
	}
	n, err := strconv.Atoi(args[0])
	if err != nil {
		return def
	}
	return n
}

func int64Directive(b *Block, name string, def int64) int64 {
	args, ok := b.Get(name)
	if !ok || len(args) == 0 {
		return def
	}
	n, err := strconv.ParseInt(args[0], 10, 64)
	if err != nil {
		return def
	}
	return n
}
