package testserver

import (
	"time"

	"github.com/artpar/bzrpc/internal/xmlrpc"
)

// Returns responds with v.
func Returns(v any) Method {
	return func(params []any) (any, error) {
		return v, nil
	}
}

// Faults responds with a fault.
func Faults(code int, message string) Method {
	return func(params []any) (any, error) {
		return nil, &xmlrpc.Fault{Code: code, Message: message}
	}
}

// Echo responds with the received params as an array.
func Echo() Method {
	return func(params []any) (any, error) {
		return params, nil
	}
}

// Raw responds with body as-is.
func Raw(body string) Method {
	return func(params []any) (any, error) {
		return RawBody(body), nil
	}
}

// Delayed wraps m with simulated latency.
func Delayed(delay time.Duration, m Method) Method {
	return func(params []any) (any, error) {
		time.Sleep(delay)
		return m(params)
	}
}

// Login accepts exactly user and password and faults with code 300
// otherwise, the way Bugzilla rejects bad credentials.
func Login(user, password string, userID int) Method {
	return func(params []any) (any, error) {
		if len(params) == 2 && params[0] == user && params[1] == password {
			return map[string]any{"id": userID}, nil
		}
		return nil, &xmlrpc.Fault{Code: 300, Message: "The username or password you entered is not valid."}
	}
}
