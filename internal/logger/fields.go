package logger

// Standard field keys for structured logging.
// Use these keys consistently across all log statements so that log
// aggregation can correlate both directions of a peer connection.
const (
	// Connection identity
	KeyConn = "conn" // connection name (epc-<first 8 chars of a uuid>)
	KeyPeer = "peer" // remote address
	KeyPort = "port" // listening or remote port

	// RPC correlation
	KeyUID    = "uid"    // call correlation id
	KeyMethod = "method" // method symbol name
	KeyEvent  = "event"  // wire event symbol: call, return, return-error, epc-error, methods

	// Outcome
	KeyError      = "error"       // error value
	KeyDurationMs = "duration_ms" // round-trip or handler duration in milliseconds
)
