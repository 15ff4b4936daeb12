package config

import (
	"github.com/go-playground/validator/v10"

	"github.com/nabbar/webserv/internal/werr"
)

// resolvedSettings is the flattened subset of a Configuration that is
// worth validating beyond what Resolve's own defaulting already
// guarantees: strictly-positive buffer sizes, a sane worker count, and
// at least one server block.
type resolvedSettings struct {
	HeaderBufferSize  int    `validate:"gt=0"`
	MaxURISize        int    `validate:"gt=0"`
	BodyBufferSize    int    `validate:"gt=0"`
	MaxBodySize       int64  `validate:"gt=0"`
	WorkerConnections int    `validate:"gt=0,lte=65536"`
	ErrorLogPath      string `validate:"required"`
	ServerCount       int    `validate:"gt=0"`
}

// Validate runs struct-tag validation over cfg (SPEC_FULL.md §10.3's
// `-v/--validate` dry-run path) and reports the first failure as a
// werr.ErrConfigValidate.
func Validate(cfg *Configuration) werr.Error {
	rs := resolvedSettings{
		HeaderBufferSize:  cfg.Limits.HeaderBufferSize,
		MaxURISize:        cfg.Limits.MaxURISize,
		BodyBufferSize:    cfg.Limits.BodyBufferSize,
		MaxBodySize:       cfg.Limits.MaxBodySize,
		WorkerConnections: cfg.WorkerConnections,
		ErrorLogPath:      cfg.ErrorLogPath,
		ServerCount:       len(cfg.Table.Servers),
	}

	if err := validator.New().Struct(rs); err != nil {
		return werr.New(werr.ErrConfigValidate, err, "configuration failed validation")
	}

	for _, vs := range cfg.Table.Servers {
		if len(vs.Listen) == 0 {
			return werr.New(werr.ErrConfigValidate, nil, "a server block declares no listen address")
		}
		for _, r := range vs.Routes {
			if r.CGI != nil && r.CGI.BinPath == Defaults.BinPath {
				return werr.New(werr.ErrConfigValidate, nil, "a cgi block in route "+r.Path+" has no bin_path")
			}
		}
	}

	return nil
}
