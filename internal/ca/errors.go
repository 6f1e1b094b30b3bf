package ca

import "fmt"

// NameError reports a PV name the wire protocol cannot carry. It is local to
// one name and never aborts a batch.
type NameError struct {
	Name   string
	Reason string
}

func (e *NameError) Error() string {
	return fmt.Sprintf("invalid pv name %q: %s", e.Name, e.Reason)
}

// ContextError reports a failure of the client context itself, such as no
// reachable server.
type ContextError struct {
	Reason string
	Err    error
}

func (e *ContextError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("ca context: %s: %v", e.Reason, e.Err)
	}
	return fmt.Sprintf("ca context: %s", e.Reason)
}

func (e *ContextError) Unwrap() error { return e.Err }

// ProtocolError reports a failure during an exchange with a server after the
// channel was established: dropped circuit, malformed response, or a non-ok
// status from the server.
type ProtocolError struct {
	Name   string
	Op     string
	Reason string
	Err    error
}

func (e *ProtocolError) Error() string {
	msg := fmt.Sprintf("ca %s for %q: %s", e.Op, e.Name, e.Reason)
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *ProtocolError) Unwrap() error { return e.Err }
