package rws

import "fmt"

// TransportError wraps a connection-level failure (dial, TLS, or an
// HTTP status the client could not otherwise classify).
type TransportError struct {
	Status int
	Cause  error
}

func (e *TransportError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("rws: transport error: %v", e.Cause)
	}
	return fmt.Sprintf("rws: unexpected status %d", e.Status)
}

func (e *TransportError) Unwrap() error { return e.Cause }

// ErrControllerInternal is returned when the controller responds with
// HTTP 500.
var ErrControllerInternal = fmt.Errorf("rws: controller internal error")

// ControllerError is a parsed `<span class="code">`/`<span class="msg">`
// error body from the controller.
type ControllerError struct {
	Code    int
	Message string
}

func (e *ControllerError) Error() string {
	return fmt.Sprintf("rws: controller error %d: %s", e.Code, e.Message)
}

// QueueAlreadyExistsCode is the controller error code that
// try_create_ipc_queue treats as a non-fatal "already exists" result.
const QueueAlreadyExistsCode = -1073445879

// ProtocolError reports a response missing an expected field or
// carrying a value the decoder could not parse.
type ProtocolError struct {
	Field  string
	Reason string
}

func (e *ProtocolError) Error() string {
	return fmt.Sprintf("rws: protocol error: field %q: %s", e.Field, e.Reason)
}

// PrivilegeReason enumerates why an RMMP grant was not obtained.
type PrivilegeReason string

const (
	PrivilegeDenied  PrivilegeReason = "denied"
	PrivilegeTimeout PrivilegeReason = "timeout"
)

// PrivilegeError is returned by the RMMP keeper when a grant could not
// be obtained.
type PrivilegeError struct {
	Reason PrivilegeReason
}

func (e *PrivilegeError) Error() string {
	return fmt.Sprintf("rws: rmmp privilege error: %s", e.Reason)
}

// ErrCancelled indicates a caller-initiated cancellation of an
// operation or subscription.
var ErrCancelled = fmt.Errorf("rws: cancelled")
