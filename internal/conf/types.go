package conf

import "google.golang.org/protobuf/types/known/durationpb"

// Bootstrap is the root configuration for the Parley service.
type Bootstrap struct {
	Server    *Server
	Consult   *Consult
	Breaker   *Breaker
	Providers []*Provider
	Log       *Log
}

// Server holds transport configuration.
type Server struct {
	Http *Server_HTTP
}

// Server_HTTP holds HTTP server configuration.
type Server_HTTP struct {
	Network string
	Addr    string
	Timeout *durationpb.Duration
}

// Breaker holds circuit breaker thresholds applied to every provider.
type Breaker struct {
	FailureThreshold int32
	RecoveryTimeout  *durationpb.Duration
	SuccessThreshold int32
	CallTimeout      *durationpb.Duration
}

// Consult holds defaults for multi-provider consultations.
type Consult struct {
	MaxProviders int32
	MinProviders int32
	Strategy     string
	Timeout      *durationpb.Duration
}

// Provider describes one configured inference backend.
type Provider struct {
	Id       string
	Type     string
	Enabled  bool
	Priority int32
	Weight   float64
	Timeout  *durationpb.Duration
	Model    string
	Endpoint string
	ApiKey   string
	ProxyUrl string
}

// Log holds logging configuration.
type Log struct {
	Level      string
	Format     string
	Env        string
	OutputFile string
}
