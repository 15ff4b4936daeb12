// Package webserver wires every component spec §9 calls "long-lived
// singletons owned by main's scope" into one runnable Server: it is the
// only package that constructs a Configuration, binds sockets, and
// builds an event loop, so cmd/webserv stays a thin cobra shim.
package webserver

import (
	"context"
	"os"

	"github.com/nabbar/webserv/internal/config"
	"github.com/nabbar/webserv/internal/connstate"
	"github.com/nabbar/webserv/internal/eventloop"
	"github.com/nabbar/webserv/internal/iobuf"
	"github.com/nabbar/webserv/internal/logging"
	"github.com/nabbar/webserv/internal/pollset"
	"github.com/nabbar/webserv/internal/reqhandler"
	"github.com/nabbar/webserv/internal/session"
	"github.com/nabbar/webserv/internal/socket"
	"github.com/nabbar/webserv/internal/werr"
)

// TmpDir is where CGI request bodies are spilled before exec (spec §6.4:
// "tmp/body_file_<random>").
const TmpDir = "tmp"

// pollsetHeadroom covers listener and log-file descriptors beyond
// worker_connections (spec §4.1: "capacity = worker_connections + a
// small headroom for listeners and log files").
const pollsetHeadroom = 16

// DefaultSessionIdle mirrors the connection idle default (spec §3 names
// no distinct session default; the original implementation reuses the
// same 300 s figure for both).
const DefaultSessionIdle = connstate.DefaultIdleTimeout

// Server bundles the fully-wired singletons; cmd/webserv only calls
// Bootstrap and Run.
type Server struct {
	Cfg     *config.Configuration
	Logger  *logging.Logger
	Loop    *eventloop.Loop
	listens []int
}

// ParseAndResolve loads and validates the configuration tree without
// binding any socket, backing the `-v/--validate` dry-run flag
// (SPEC_FULL.md §10.4).
func ParseAndResolve(configPath string) (*config.Configuration, werr.Error) {
	root, err := config.ParseFile(configPath)
	if err != nil {
		return nil, err
	}
	cfg, err := config.Resolve(root)
	if err != nil {
		return nil, err
	}
	if err := config.Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Bootstrap parses configPath, validates it, binds every configured
// listen address, and wires the full component graph into a runnable
// Server (spec §1, §9).
func Bootstrap(configPath string) (*Server, werr.Error) {
	cfg, err := ParseAndResolve(configPath)
	if err != nil {
		return nil, err
	}

	if err := os.MkdirAll(TmpDir, 0755); err != nil {
		return nil, werr.New(werr.ErrInternal, err, "cannot create cgi body-file directory")
	}

	reg := pollset.NewRegistry(cfg.WorkerConnections + pollsetHeadroom)
	buf := iobuf.NewManager()

	logger := logging.New(buf, reg)
	if err := logger.ConfigureError(cfg.ErrorLogPath, logging.ParseLevel(cfg.ErrorLogLevel)); err != nil {
		return nil, err
	}
	configureAccessLog(logger, cfg)

	listenFds, err := bindListeners(cfg, logger)
	if err != nil {
		return nil, err
	}

	conns := connstate.NewTable()
	sessions := session.NewStore(DefaultSessionIdle)
	handler := reqhandler.New(cfg.Table, sessions, cfg.Limits.TreatPutAsPost, TmpDir, nil)

	loop, err := eventloop.New(reg, buf, conns, sessions, handler, logger, cfg.Limits, listenFds)
	if err != nil {
		return nil, err
	}

	return &Server{Cfg: cfg, Logger: logger, Loop: loop, listens: listenFds}, nil
}

// configureAccessLog applies the first configured server block's
// access_log directive (spec §6.1). Every virtual server may declare
// its own path, but the Logger (like the original implementation's
// single combined access log) writes one structured stream for the
// whole process; access_log directives of later server blocks,
// including "off", are not consulted.
func configureAccessLog(logger *logging.Logger, cfg *config.Configuration) {
	if len(cfg.Table.Servers) == 0 {
		return
	}
	vs := cfg.Table.Servers[0]
	if vs.AccessLogOff {
		_ = logger.ConfigureAccess("off")
		return
	}
	_ = logger.ConfigureAccess(vs.AccessLogPath)
}

// bindListeners binds every distinct "host:port" named across all
// virtual servers' `listen` directives (spec §4.4 step 1 relies on the
// event loop having one accept-ready socket per configured address).
func bindListeners(cfg *config.Configuration, logger *logging.Logger) ([]int, werr.Error) {
	seen := make(map[string]bool)
	var fds []int
	for _, vs := range cfg.Table.Servers {
		for _, addr := range vs.Listen {
			if seen[addr] {
				continue
			}
			seen[addr] = true
			fd, err := socket.Listen(addr)
			if err != nil {
				for _, f := range fds {
					socket.Close(f)
				}
				return nil, err
			}
			logger.Info("listening on " + addr)
			fds = append(fds, fd)
		}
	}
	if len(fds) == 0 {
		return nil, werr.New(werr.ErrConfigValidate, nil, "no listen address resolved from configuration")
	}
	return fds, nil
}

// Run drives the event loop until ctx is cancelled (spec §9: cooperative
// shutdown). The loop itself closes every registered descriptor,
// including the listeners New registered, on its way out.
func (s *Server) Run(ctx context.Context) werr.Error {
	return s.Loop.Run(ctx)
}
