package logger

import "log/slog"

// Standard field keys for structured logging. Use these consistently so
// log lines stay queryable once shipped off the appliance.
const (
	// Request correlation
	KeyRequestID = "request_id" // HTTP request id
	KeyClientIP  = "client_ip"  // remote address without port
	KeyUser      = "user"       // authenticated principal

	// Event pipeline
	KeySource    = "source"    // alert source: suricata, zeek, anomaly
	KeySignature = "signature" // alert signature / notice type
	KeySeverity  = "severity"  // engine-scoped severity

	// Files and services
	KeyPath    = "path"    // file path on disk
	KeySize    = "size"    // size in bytes
	KeyService = "service" // host service unit name
	KeyMode    = "mode"    // capture mode: span, bridge

	// Operation metadata
	KeyDurationMs = "duration_ms"
	KeyError      = "error"
	KeyDropped    = "dropped" // events dropped for a slow subscriber
)

// Err returns a slog.Attr for an error, or the empty attr for nil.
func Err(err error) slog.Attr {
	if err == nil {
		return slog.Attr{}
	}
	return slog.String(KeyError, err.Error())
}

// Path returns a slog.Attr for a file path
func Path(p string) slog.Attr {
	return slog.String(KeyPath, p)
}

// Service returns a slog.Attr for a host service unit name
func Service(name string) slog.Attr {
	return slog.String(KeyService, name)
}

// Source returns a slog.Attr for an alert source
func Source(src string) slog.Attr {
	return slog.String(KeySource, src)
}

// DurationMs returns a slog.Attr for duration in milliseconds
func DurationMs(ms float64) slog.Attr {
	return slog.Float64(KeyDurationMs, ms)
}
