// Package transport carries XML-RPC calls over HTTP(S) while maintaining a
// cookie-based session in a shared cookies.Jar.
package transport

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/artpar/bzrpc/internal/cookies"
	"github.com/artpar/bzrpc/internal/logging"
	"github.com/artpar/bzrpc/internal/xmlrpc"
)

// Version is the client version reported in the User-Agent header.
const Version = "0.1.0"

// DefaultUserAgent identifies this client to the remote service.
const DefaultUserAgent = "bzrpc/" + Version + " (Go-http-client)"

// Transport is a single logical connection to an XML-RPC endpoint.
type Transport struct {
	endpoint    *url.URL
	channel     Channel
	jar         *cookies.Jar
	userAgent   string
	timeout     time.Duration
	channelOpts ChannelOptions
	logger      logging.Logger
}

// Option is a function that configures the Transport.
type Option func(*Transport)

// WithLogger sets the logger.
func WithLogger(l logging.Logger) Option {
	return func(t *Transport) {
		t.logger = l
	}
}

// WithUserAgent overrides the client signature.
func WithUserAgent(ua string) Option {
	return func(t *Transport) {
		t.userAgent = ua
	}
}

// WithTimeout bounds each call, including reading the response body.
func WithTimeout(timeout time.Duration) Option {
	return func(t *Transport) {
		t.timeout = timeout
	}
}

// WithChannelOptions configures the channel chosen for the endpoint.
func WithChannelOptions(opts ChannelOptions) Option {
	return func(t *Transport) {
		t.channelOpts = opts
	}
}

// WithChannel uses ch instead of selecting a channel from the scheme.
func WithChannel(ch Channel) Option {
	return func(t *Transport) {
		t.channel = ch
	}
}

// New creates a transport for endpoint that reads and updates jar.
func New(endpoint string, jar *cookies.Jar, opts ...Option) (*Transport, error) {
	u, err := url.Parse(endpoint)
	if err != nil {
		return nil, fmt.Errorf("invalid endpoint %q: %w", endpoint, err)
	}
	if u.Host == "" {
		return nil, fmt.Errorf("invalid endpoint %q: missing host", endpoint)
	}
	if jar == nil {
		jar = cookies.NewMemoryJar()
	}

	t := &Transport{
		endpoint:  u,
		jar:       jar,
		userAgent: DefaultUserAgent,
		logger:    logging.Nop(),
	}
	for _, opt := range opts {
		opt(t)
	}

	if t.channel == nil {
		ch, err := NewChannel(u, t.channelOpts)
		if err != nil {
			return nil, err
		}
		t.channel = ch
	}
	if t.channel.Scheme() != u.Scheme {
		return nil, fmt.Errorf("%w: %s channel for %s endpoint", ErrUnsupportedScheme, t.channel.Scheme(), u.Scheme)
	}
	t.logger = t.logger.With("endpoint", u.Redacted())

	return t, nil
}

// Endpoint returns the target URL.
func (t *Transport) Endpoint() *url.URL {
	u := *t.endpoint
	return &u
}

// Jar returns the shared cookie jar.
func (t *Transport) Jar() *cookies.Jar {
	return t.jar
}

// Scheme returns the scheme of the channel in use.
func (t *Transport) Scheme() string {
	return t.channel.Scheme()
}

// Close releases idle connections.
func (t *Transport) Close() {
	t.channel.Close()
}

// Call invokes method with positional params and returns the decoded result.
//
// Errors are *ProtocolError for a non-success HTTP status, *xmlrpc.Fault for
// a remote fault and *xmlrpc.DecodeError for a malformed body. Cookies set
// by the response are merged and persisted before any of these is returned.
func (t *Transport) Call(ctx context.Context, method string, params ...any) (any, error) {
	if t.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, t.timeout)
		defer cancel()
	}

	selected := t.jar.Select(t.endpoint)

	body, err := xmlrpc.EncodeCall(method, params...)
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, t.endpoint.String(), bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("User-Agent", t.userAgent)
	req.Header.Set("Content-Type", "text/xml")
	if len(selected) > 0 {
		req.Header.Set("Cookie", cookies.Header(selected))
	}

	resp, err := t.channel.RoundTrip(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("%s: request failed: %w", method, err)
	}
	defer resp.Body.Close()

	received := t.storeCookies(ctx, resp)

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("%s: failed to read response: %w", method, err)
	}

	t.logger.Debug(ctx, "xmlrpc call",
		"method", method,
		"status", resp.StatusCode,
		"cookies_sent", len(selected),
		"cookies_received", received,
	)

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &ProtocolError{
			URL:        t.endpoint.Redacted(),
			StatusCode: resp.StatusCode,
			Status:     resp.Status,
			Header:     resp.Header,
		}
	}

	return xmlrpc.DecodeResponse(data)
}

// storeCookies merges Set-Cookie directives into the jar and persists it.
// Persist failures are logged and do not affect the call result.
func (t *Transport) storeCookies(ctx context.Context, resp *http.Response) int {
	received := resp.Cookies()
	t.jar.Merge(t.endpoint, received)

	if err := t.jar.Persist(context.WithoutCancel(ctx)); err != nil {
		location := ""
		if b := t.jar.Backend(); b != nil {
			location = b.Location()
		}
		t.logger.Warn(ctx, "failed to persist cookies", "location", location, "error", err)
	}
	return len(received)
}
