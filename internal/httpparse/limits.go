package httpparse

// Limits bundles the client_* directives the parser enforces (spec §6.1).
type Limits struct {
	HeaderBufferSize int
	MaxURISize       int
	BodyBufferSize   int
	MaxBodySize      int64
	DefaultPort      string
	TreatPutAsPost   bool
}

// DefaultLimits mirrors the configuration defaults table (spec §6.1).
func DefaultLimits() Limits {
	return Limits{
		HeaderBufferSize: 1024,
		MaxURISize:       1024,
		BodyBufferSize:   1024,
		MaxBodySize:      110000000,
		DefaultPort:      "80",
		TreatPutAsPost:   true,
	}
}
