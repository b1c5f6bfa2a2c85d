package telemetry

// Config holds OpenTelemetry tracing configuration.
type Config struct {
	Enabled        bool
	ServiceName    string
	ServiceVersion string

	// Endpoint is the OTLP gRPC collector address, e.g. localhost:4317.
	Endpoint string
	Insecure bool

	// SampleRate is the fraction of traces kept, 0.0 to 1.0.
	SampleRate float64
}

// DefaultConfig returns tracing disabled with local collector settings.
func DefaultConfig() Config {
	return Config{
		ServiceName:    "hostd",
		ServiceVersion: "dev",
		Endpoint:       "localhost:4317",
		Insecure:       true,
		SampleRate:     1.0,
	}
}
