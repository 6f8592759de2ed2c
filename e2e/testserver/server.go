// Package testserver provides a scripted XML-RPC server for tests.
package testserver

import (
	"context"
	"crypto/x509"
	"errors"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"sync"
	"time"

	"github.com/artpar/bzrpc/internal/xmlrpc"
)

// Method handles one remote method. Returning *xmlrpc.Fault produces a fault
// response; returning RawBody writes the body verbatim.
type Method func(params []any) (any, error)

// RawBody is written to the client without XML-RPC encoding.
type RawBody string

// Server wraps httptest.Server with additional utilities.
type Server struct {
	*httptest.Server
	mu       sync.Mutex
	methods  map[string]Method
	cookies  map[string][]*http.Cookie
	status   int
	requests []*RecordedRequest
}

// RecordedRequest stores request details for verification.
type RecordedRequest struct {
	Method    string
	Path      string
	Headers   http.Header
	Body      []byte
	RPCMethod string
	Params    []any
	Time      time.Time
}

// New creates a plain HTTP server serving methods.
func New(methods map[string]Method) *Server {
	s := newServer(methods)
	s.Server = httptest.NewServer(http.HandlerFunc(s.serve))
	return s
}

// NewTLS creates an HTTPS server serving methods. Its certificate is valid
// for example.com, 127.0.0.1 and ::1.
func NewTLS(methods map[string]Method) *Server {
	s := newServer(methods)
	s.Server = httptest.NewTLSServer(http.HandlerFunc(s.serve))
	return s
}

func newServer(methods map[string]Method) *Server {
	s := &Server{
		methods: make(map[string]Method),
		cookies: make(map[string][]*http.Cookie),
	}
	for name, m := range methods {
		s.methods[name] = m
	}
	return s
}

// Handle registers or replaces a method.
func (s *Server) Handle(name string, m Method) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.methods[name] = m
}

// SetCookie makes every response to method carry c as a Set-Cookie header.
func (s *Server) SetCookie(method string, c *http.Cookie) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cookies[method] = append(s.cookies[method], c)
}

// FailWith makes every response use status without an XML-RPC body.
// Zero restores normal behavior.
func (s *Server) FailWith(status int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.status = status
}

// Dial connects to the server regardless of the requested address, so that
// clients can target names such as https://example.com/.
func (s *Server) Dial(ctx context.Context, network, addr string) (net.Conn, error) {
	var d net.Dialer
	return d.DialContext(ctx, "tcp", s.Listener.Addr().String())
}

// CertPool returns a pool trusting the server certificate, or nil for a
// plain server.
func (s *Server) CertPool() *x509.CertPool {
	cert := s.Certificate()
	if cert == nil {
		return nil
	}
	pool := x509.NewCertPool()
	pool.AddCert(cert)
	return pool
}

func (s *Server) serve(w http.ResponseWriter, r *http.Request) {
	body, _ := io.ReadAll(r.Body)
	method, params, decodeErr := xmlrpc.DecodeCall(body)

	s.mu.Lock()
	s.requests = append(s.requests, &RecordedRequest{
		Method:    r.Method,
		Path:      r.URL.Path,
		Headers:   r.Header.Clone(),
		Body:      body,
		RPCMethod: method,
		Params:    params,
		Time:      time.Now(),
	})
	handler := s.methods[method]
	setCookies := append([]*http.Cookie(nil), s.cookies[method]...)
	status := s.status
	s.mu.Unlock()

	for _, c := range setCookies {
		http.SetCookie(w, c)
	}

	if status != 0 {
		http.Error(w, http.StatusText(status), status)
		return
	}
	if r.Method != http.MethodPost {
		http.Error(w, "XML-RPC requires POST", http.StatusMethodNotAllowed)
		return
	}
	if decodeErr != nil {
		http.Error(w, decodeErr.Error(), http.StatusBadRequest)
		return
	}
	if handler == nil {
		writeXML(w, xmlrpc.EncodeFault(&xmlrpc.Fault{Code: -32601, Message: "Unknown method: " + method}))
		return
	}

	result, err := handler(params)
	var fault *xmlrpc.Fault
	switch {
	case errors.As(err, &fault):
		writeXML(w, xmlrpc.EncodeFault(fault))
	case err != nil:
		http.Error(w, err.Error(), http.StatusInternalServerError)
	default:
		if raw, ok := result.(RawBody); ok {
			writeXML(w, []byte(raw))
			return
		}
		out, err := xmlrpc.EncodeResponse(result)
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		writeXML(w, out)
	}
}

func writeXML(w http.ResponseWriter, body []byte) {
	w.Header().Set("Content-Type", "text/xml")
	w.WriteHeader(http.StatusOK)
	w.Write(body)
}

// LastRequest returns the last recorded request.
func (s *Server) LastRequest() *RecordedRequest {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.requests) == 0 {
		return nil
	}
	return s.requests[len(s.requests)-1]
}

// Requests returns all recorded requests.
func (s *Server) Requests() []*RecordedRequest {
	s.mu.Lock()
	defer s.mu.Unlock()
	result := make([]*RecordedRequest, len(s.requests))
	copy(result, s.requests)
	return result
}

// RequestCount returns the number of recorded requests.
func (s *Server) RequestCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.requests)
}

// ClearRequests clears recorded requests.
func (s *Server) ClearRequests() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.requests = s.requests[:0]
}
