package xmlrpc

import "fmt"

// Fault is an application-level error reported by the remote service inside
// a well-formed response.
type Fault struct {
	Code    int
	Message string
}

func (f *Fault) Error() string {
	return fmt.Sprintf("xmlrpc fault %d: %s", f.Code, f.Message)
}

// DecodeError reports a body that is not a well-formed XML-RPC envelope.
type DecodeError struct {
	Reason string
	Err    error
}

func (e *DecodeError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("xmlrpc: malformed response: %s: %v", e.Reason, e.Err)
	}
	return "xmlrpc: malformed response: " + e.Reason
}

func (e *DecodeError) Unwrap() error {
	return e.Err
}
