package tlsclient

import "fmt"

// One error kind per pipeline stage. Every one aborts the rest of the pipeline
// and sends the caller to cleanup; none are retried.

// StateError is an API-misuse error: the operation isn't legal in the
// session's current state.
type StateError struct {
	Op    string
	State State
}

func (e *StateError) Error() string {
	return fmt.Sprintf("%s not valid in state %s", e.Op, e.State)
}

// ConfigError covers context setup: bad trust store, unsupported minimum
// version.
type ConfigError struct {
	Err error
}

func (e *ConfigError) Error() string { return fmt.Sprintf("TLS context config: %v", e.Err) }
func (e *ConfigError) Unwrap() error { return e.Err }

// IdentityError covers SNI / verification-hostname configuration, including
// the MUST-set-before-handshake precondition.
type IdentityError struct {
	Err error
}

func (e *IdentityError) Error() string { return fmt.Sprintf("session identity: %v", e.Err) }
func (e *IdentityError) Unwrap() error { return e.Err }

// HandshakeError carries the verification result alongside the library error,
// so callers can tell a certificate problem from a lower-layer one without
// string matching.
type HandshakeError struct {
	Err    error
	Result VerificationResult
}

func (e *HandshakeError) Error() string {
	if !e.Result.OK() && e.Result.Status != VerifyNoResult {
		return fmt.Sprintf("TLS handshake: %v (verification: %s)", e.Err, e.Result)
	}
	return fmt.Sprintf("TLS handshake: %v", e.Err)
}
func (e *HandshakeError) Unwrap() error { return e.Err }

type WriteError struct {
	Err error
}

func (e *WriteError) Error() string { return fmt.Sprintf("TLS write: %v", e.Err) }
func (e *WriteError) Unwrap() error { return e.Err }

// ReadError is an abnormal read failure. The orderly remote close is NOT one
// of these; that comes back from Read as io.EOF.
type ReadError struct {
	Err error
}

func (e *ReadError) Error() string { return fmt.Sprintf("TLS read: %v", e.Err) }
func (e *ReadError) Unwrap() error { return e.Err }

type ShutdownError struct {
	Err error
}

func (e *ShutdownError) Error() string { return fmt.Sprintf("TLS shutdown: %v", e.Err) }
func (e *ShutdownError) Unwrap() error { return e.Err }
