package telemetry

// Config configures OpenTelemetry tracing.
type Config struct {
	Enabled        bool
	ServiceName    string
	ServiceVersion string

	// Endpoint is the OTLP gRPC collector address, e.g. "localhost:4317".
	Endpoint string
	Insecure bool

	// SampleRate is the fraction of traces kept, from 0 to 1.
	SampleRate float64
}

// DefaultConfig returns tracing disabled with local collector settings.
func DefaultConfig() Config {
	return Config{
		ServiceName:    "tcpcmd",
		ServiceVersion: "dev",
		Endpoint:       "localhost:4317",
		Insecure:       true,
		SampleRate:     1.0,
	}
}
