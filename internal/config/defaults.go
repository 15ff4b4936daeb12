package config

// Defaults mirrors original_source/srcs/configuration/Defaults.cpp,
// bit-exact with spec.md §6.1's default table.
var Defaults = struct {
	ClientHeaderBufferSize int
	ClientMaxURISize       int
	ClientBodyBufferSize   int
	ClientMaxBodySize      int64
	Listen                 string
	ServerName             string
	ErrorLogPath           string
	ErrorLogLevel          string
	AccessLogPath          string
	LocationPath           string
	LimitExceptMethods     []string
	CGIType                string
	BinPath                string
	Root                   string
	Index                  string
	WorkerConnections      int
	Autoindex              bool
	DefaultPort            string
}{
	ClientHeaderBufferSize: 1024,
	ClientMaxURISize:       1024,
	ClientBodyBufferSize:   1024,
	ClientMaxBodySize:      110000000,
	Listen:                 "8080",
	ServerName:             "default",
	ErrorLogPath:           "logs/error.log",
	ErrorLogLevel:          "verbose",
	AccessLogPath:          "logs/access.log",
	LocationPath:           "/",
	LimitExceptMethods:     []string{"GET", "POST"},
	CGIType:                "none",
	BinPath:                "none",
	Root:                   "sample_site",
	Index:                  "index.html",
	WorkerConnections:      1024,
	Autoindex:              false,
	DefaultPort:            "80",
}
