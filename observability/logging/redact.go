package logging

import (
	"log/slog"
	"strings"
)

// RedactedValue replaces sensitive values in log output.
const RedactedValue = "[REDACTED]"

// Keys emitted by the ledger and RPC server that never carry secrets. Keys
// are compared case-insensitively.
var plainKeys = map[string]bool{
	"service": true, "env": true, "message": true, "severity": true,
	"timestamp": true, "error": true, "component": true, "op": true,
	"outcome": true, "method": true, "requestid": true, "seq": true,
	"root": true, "escrow": true, "signer": true,
}

// IsAllowlisted reports whether key may be logged without masking.
func IsAllowlisted(key string) bool {
	return plainKeys[strings.ToLower(strings.TrimSpace(key))]
}

// MaskValue hides non-empty values. Blank values pass through.
func MaskValue(value string) string {
	if strings.TrimSpace(value) == "" {
		return value
	}
	return RedactedValue
}

// MaskField builds an attribute whose value is masked unless key is
// allowlisted.
func MaskField(key, value string) slog.Attr {
	if IsAllowlisted(key) {
		return slog.String(key, value)
	}
	return slog.String(key, MaskValue(value))
}
