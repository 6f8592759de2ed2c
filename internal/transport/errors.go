package transport

import (
	"fmt"
	"net/http"
)

// ProtocolError reports a non-success HTTP status. The response body is not
// interpreted.
type ProtocolError struct {
	URL        string
	StatusCode int
	Status     string
	Header     http.Header
}

func (e *ProtocolError) Error() string {
	return fmt.Sprintf("protocol error: %s: %s", e.URL, e.Status)
}
