package config

// Deposits sets the native deposits charged when program accounts are
// allocated. Deposits are refunded when the account closes.
type Deposits struct {
	EscrowRecord uint64 `toml:"EscrowRecord"`
	TokenAccount uint64 `toml:"TokenAccount"`
	Mint         uint64 `toml:"Mint"`
}

// RateLimit bounds JSON-RPC requests per client address.
type RateLimit struct {
	RequestsPerMinute uint32 `toml:"RequestsPerMinute"`
	Burst             int    `toml:"Burst"`
	// TrustProxyHeaders keys clients on X-Forwarded-For / X-Real-IP instead of
	// the connection address.
	TrustProxyHeaders bool `toml:"TrustProxyHeaders"`
}

// Telemetry configures OTLP export. Export is disabled while Endpoint is empty.
type Telemetry struct {
	Endpoint string `toml:"Endpoint"`
	Insecure bool   `toml:"Insecure"`
	Traces   bool   `toml:"Traces"`
	Metrics  bool   `toml:"Metrics"`
	// Headers is a comma separated list of key=value pairs.
	Headers string `toml:"Headers"`
}
