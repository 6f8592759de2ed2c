// Package bugzilla is a thin client for the Bugzilla XML-RPC interface. It
// binds credentials, a cookie jar and a transport, and exposes the handful of
// remote methods the service offers.
package bugzilla

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/artpar/bzrpc/internal/cookies"
	"github.com/artpar/bzrpc/internal/logging"
	"github.com/artpar/bzrpc/internal/transport"
	"github.com/artpar/bzrpc/internal/xmlrpc"
)

// Remote method names.
const (
	MethodLogin        = "bugzilla.login"
	MethodProducts     = "bugzilla.getProdInfo"
	MethodComponents   = "bugzilla.getProdCompInfo"
	MethodGetBug       = "bugzilla.getBug"
	MethodGetBugSimple = "bugzilla.getBugSimple"
)

var (
	// ErrNotConnected is returned by remote calls made before Connect.
	ErrNotConnected = errors.New("client is not connected")

	// ErrEmptyCredential is returned when a user name or password is empty.
	ErrEmptyCredential = errors.New("credential must not be empty")
)

// Client is a single Bugzilla session.
type Client struct {
	url        string
	user       string
	password   string
	jar        *cookies.Jar
	backend    cookies.Backend
	cookieFile string
	transport  *transport.Transport
	trOpts     []transport.Option
	timeout    time.Duration
	logger     logging.Logger
}

// Option is a function that configures the Client.
type Option func(*Client)

// WithURL connects to url during New.
func WithURL(url string) Option {
	return func(c *Client) {
		c.url = url
	}
}

// WithCredentials sets the user name and password sent with every call.
func WithCredentials(user, password string) Option {
	return func(c *Client) {
		c.user = user
		c.password = password
	}
}

// WithCookieFile persists the session in a Mozilla cookies.txt file.
func WithCookieFile(path string) Option {
	return func(c *Client) {
		c.cookieFile = path
	}
}

// WithCookieBackend persists the session in b. It takes precedence over
// WithCookieFile.
func WithCookieBackend(b cookies.Backend) Option {
	return func(c *Client) {
		c.backend = b
	}
}

// WithJar shares an already loaded jar. It takes precedence over any backend.
func WithJar(j *cookies.Jar) Option {
	return func(c *Client) {
		c.jar = j
	}
}

// WithLogger sets the logger.
func WithLogger(l logging.Logger) Option {
	return func(c *Client) {
		c.logger = l
	}
}

// WithTimeout bounds every remote call.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) {
		c.timeout = d
	}
}

// WithTransportOptions passes extra options to every transport the client
// creates.
func WithTransportOptions(opts ...transport.Option) Option {
	return func(c *Client) {
		c.trOpts = append(c.trOpts, opts...)
	}
}

// New creates a client. The cookie jar is loaded from the configured backend,
// or kept in memory when there is none. If a URL was given the client is
// connected before returning.
func New(opts ...Option) (*Client, error) {
	c := &Client{
		logger: logging.Nop(),
	}
	for _, opt := range opts {
		opt(c)
	}

	if c.jar == nil {
		backend := c.backend
		if backend == nil && c.cookieFile != "" {
			backend = cookies.NewMozillaFile(c.cookieFile)
		}
		if backend == nil {
			c.jar = cookies.NewMemoryJar()
		} else {
			jar, err := cookies.Load(context.Background(), backend)
			if err != nil {
				return nil, err
			}
			c.jar = jar
			c.logger.Debug(context.Background(), "cookie jar loaded",
				"location", backend.Location(),
				"cookies", jar.Len(),
			)
		}
	}

	if c.url != "" {
		if err := c.Connect(c.url); err != nil {
			return nil, err
		}
	}
	return c, nil
}

// Connect binds the client to url, replacing any previous connection. The
// cookie jar is kept.
func (c *Client) Connect(url string) error {
	opts := []transport.Option{transport.WithLogger(c.logger)}
	if c.timeout > 0 {
		opts = append(opts, transport.WithTimeout(c.timeout))
	}
	opts = append(opts, c.trOpts...)

	tr, err := transport.New(url, c.jar, opts...)
	if err != nil {
		return fmt.Errorf("failed to connect to %s: %w", url, err)
	}
	if c.transport != nil {
		c.transport.Close()
	}
	c.transport = tr
	c.url = url
	return nil
}

// Close releases idle connections.
func (c *Client) Close() {
	if c.transport != nil {
		c.transport.Close()
	}
}

// URL returns the endpoint of the current connection.
func (c *Client) URL() string { return c.url }

// User returns the current user name.
func (c *Client) User() string { return c.user }

// Jar returns the session cookie jar.
func (c *Client) Jar() *cookies.Jar { return c.jar }

// SetUser replaces the user name used by subsequent calls.
func (c *Client) SetUser(user string) error {
	if user == "" {
		return fmt.Errorf("user: %w", ErrEmptyCredential)
	}
	c.user = user
	return nil
}

// SetPassword replaces the password used by subsequent calls.
func (c *Client) SetPassword(password string) error {
	if password == "" {
		return fmt.Errorf("password: %w", ErrEmptyCredential)
	}
	c.password = password
	return nil
}

// SetCredentials replaces both credentials. Neither is changed on error.
func (c *Client) SetCredentials(user, password string) error {
	if user == "" {
		return fmt.Errorf("user: %w", ErrEmptyCredential)
	}
	if password == "" {
		return fmt.Errorf("password: %w", ErrEmptyCredential)
	}
	c.user = user
	c.password = password
	return nil
}

// Login stores the credentials and calls bugzilla.login with them.
//
// A remote fault, such as rejected credentials, is reported as ok == false
// with a nil error. Other failures are returned as errors.
func (c *Client) Login(ctx context.Context, user, password string) (result any, ok bool, err error) {
	if err := c.SetCredentials(user, password); err != nil {
		return nil, false, err
	}

	result, err = c.Call(ctx, MethodLogin, user, password)
	var fault *xmlrpc.Fault
	if errors.As(err, &fault) {
		c.logger.Info(ctx, "login rejected", "user", user, "code", fault.Code)
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return result, true, nil
}

// Products calls bugzilla.getProdInfo.
func (c *Client) Products(ctx context.Context) (any, error) {
	return c.authenticated(ctx, MethodProducts)
}

// Components calls bugzilla.getProdCompInfo for product.
func (c *Client) Components(ctx context.Context, product string) (any, error) {
	return c.authenticated(ctx, MethodComponents, product)
}

// GetBug calls bugzilla.getBug.
func (c *Client) GetBug(ctx context.Context, id int) (any, error) {
	return c.authenticated(ctx, MethodGetBug, id)
}

// GetBugSimple calls bugzilla.getBugSimple.
func (c *Client) GetBugSimple(ctx context.Context, id int) (any, error) {
	return c.authenticated(ctx, MethodGetBugSimple, id)
}

// Call invokes an arbitrary remote method with params as given.
func (c *Client) Call(ctx context.Context, method string, params ...any) (any, error) {
	if c.transport == nil {
		return nil, ErrNotConnected
	}
	return c.transport.Call(ctx, method, params...)
}

// authenticated appends the current credentials to params.
func (c *Client) authenticated(ctx context.Context, method string, params ...any) (any, error) {
	args := make([]any, 0, len(params)+2)
	args = append(args, params...)
	args = append(args, c.user, c.password)
	return c.Call(ctx, method, args...)
}
