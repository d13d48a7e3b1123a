package socket

import "errors"

// ErrRetryable marks a transient failure the caller may retry (connection
// reset mid-handshake, a single stalled read/write).
var ErrRetryable = errors.New("socket: transient failure")

// ErrRetryLimit marks a permanent failure: every TLS protocol version (or
// retry budget) has been exhausted. There is nothing left to try.
var ErrRetryLimit = errors.New("socket: no protocol left to try")

// ErrSignalCaught propagates an interrupted blocking call to the caller
// instead of retrying it internally.
var ErrSignalCaught = errors.New("socket: interrupted by signal")

// ErrConnectionBroken surfaces a read that failed for a reason other than
// a graceful peer close.
var ErrConnectionBroken = errors.New("socket: connection broken")

// ErrWriteTimeout surfaces a send() stall past its computed deadline.
var ErrWriteTimeout = errors.New("socket: write timeout")

// ErrCertificateMismatch surfaces a failed hostname verification against
// the peer certificate when TLS verification could not be delegated to the
// standard library (custom CA-less verify=true mode).
var ErrCertificateMismatch = errors.New("socket: certificate hostname mismatch")
