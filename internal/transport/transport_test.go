package transport

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"testing/iotest"
	"time"

	"github.com/artpar/bzrpc/e2e/testserver"
	"github.com/artpar/bzrpc/internal/cookies"
	"github.com/artpar/bzrpc/internal/logging"
	"github.com/artpar/bzrpc/internal/xmlrpc"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type failingBackend struct{}

func (failingBackend) Load(ctx context.Context) ([]*cookies.Cookie, error) { return nil, nil }
func (failingBackend) Save(ctx context.Context, cs []*cookies.Cookie) error {
	return errors.New("read-only filesystem")
}
func (failingBackend) Location() string { return "/readonly/cookies.txt" }

// truncatedChannel answers with a Set-Cookie header and a body that fails
// part way through.
type truncatedChannel struct{}

func (truncatedChannel) RoundTrip(ctx context.Context, req *http.Request) (*http.Response, error) {
	header := http.Header{}
	header.Add("Set-Cookie", "Bugzilla_logincookie=xyz; Path=/")
	return &http.Response{
		StatusCode: http.StatusOK,
		Status:     "200 OK",
		Header:     header,
		Body:       io.NopCloser(io.MultiReader(strings.NewReader("<?xml"), iotest.ErrReader(io.ErrUnexpectedEOF))),
		Request:    req,
	}, nil
}
func (truncatedChannel) Scheme() string { return "http" }
func (truncatedChannel) Close() {}

func tlsOptions(srv *testserver.Server) ChannelOptions {
	return ChannelOptions{
		DialContext: srv.Dial,
		RootCAs:     srv.CertPool(),
		ServerName:  "example.com",
	}
}

func TestNewChannel(t *testing.T) {
	t.Run("selects by scheme", func(t *testing.T) {
		plain, err := NewChannel(&url.URL{Scheme: "http", Host: "example.com"}, ChannelOptions{})
		require.NoError(t, err)
		assert.IsType(t, &PlainChannel{}, plain)
		assert.Equal(t, "http", plain.Scheme())

		secure, err := NewChannel(&url.URL{Scheme: "https", Host: "example.com"}, ChannelOptions{})
		require.NoError(t, err)
		assert.IsType(t, &SecureChannel{}, secure)
		assert.Equal(t, "https", secure.Scheme())
	})

	t.Run("rejects other schemes", func(t *testing.T) {
		_, err := NewChannel(&url.URL{Scheme: "ftp", Host: "example.com"}, ChannelOptions{})
		assert.ErrorIs(t, err, ErrUnsupportedScheme)
	})

	t.Run("channels refuse foreign schemes", func(t *testing.T) {
		req, err := http.NewRequest(http.MethodPost, "https://example.com/", nil)
		require.NoError(t, err)
		_, err = NewPlainChannel(ChannelOptions{}).RoundTrip(context.Background(), req)
		assert.ErrorIs(t, err, ErrUnsupportedScheme)
	})
}

func TestNew(t *testing.T) {
	t.Run("requires a host", func(t *testing.T) {
		_, err := New("/xmlrpc.cgi", nil)
		assert.Error(t, err)
	})

	t.Run("rejects mismatched channel", func(t *testing.T) {
		_, err := New("https://example.com/", nil, WithChannel(NewPlainChannel(ChannelOptions{})))
		assert.ErrorIs(t, err, ErrUnsupportedScheme)
	})

	t.Run("defaults to a memory jar", func(t *testing.T) {
		tr, err := New("http://example.com/xmlrpc.cgi", nil)
		require.NoError(t, err)
		assert.NotNil(t, tr.Jar())
		assert.Nil(t, tr.Jar().Backend())
		assert.Equal(t, "http", tr.Scheme())
		assert.Equal(t, "/xmlrpc.cgi", tr.Endpoint().Path)
	})
}

func TestTransport_Call(t *testing.T) {
	t.Run("sends a signed XML-RPC request", func(t *testing.T) {
		srv := testserver.New(map[string]testserver.Method{"bugzilla.getBug": testserver.Echo()})
		defer srv.Close()

		tr, err := New(srv.URL+"/xmlrpc.cgi", cookies.NewMemoryJar())
		require.NoError(t, err)

		result, err := tr.Call(context.Background(), "bugzilla.getBug", 42, "alice", "secret")
		require.NoError(t, err)
		assert.Equal(t, []any{42, "alice", "secret"}, result)

		req := srv.LastRequest()
		require.NotNil(t, req)
		assert.Equal(t, http.MethodPost, req.Method)
		assert.Equal(t, "/xmlrpc.cgi", req.Path)
		assert.Equal(t, DefaultUserAgent, req.Headers.Get("User-Agent"))
		assert.Equal(t, "text/xml", req.Headers.Get("Content-Type"))
		assert.Equal(t, "bugzilla.getBug", req.RPCMethod)
		assert.Empty(t, req.Headers.Get("Cookie"))
	})

	t.Run("stores cookies and sends them on the next call", func(t *testing.T) {
		srv := testserver.New(map[string]testserver.Method{
			"bugzilla.login":       testserver.Returns(map[string]any{"id": 7}),
			"bugzilla.getProdInfo": testserver.Returns(map[string]any{}),
		})
		defer srv.Close()
		srv.SetCookie("bugzilla.login", &http.Cookie{Name: "Bugzilla_login", Value: "7", Path: "/"})
		srv.SetCookie("bugzilla.login", &http.Cookie{Name: "Bugzilla_logincookie", Value: "abc", Path: "/"})

		tr, err := New(srv.URL+"/xmlrpc.cgi", cookies.NewMemoryJar())
		require.NoError(t, err)

		ctx := context.Background()
		_, err = tr.Call(ctx, "bugzilla.login", "alice", "secret")
		require.NoError(t, err)
		_, err = tr.Call(ctx, "bugzilla.getProdInfo", "alice", "secret")
		require.NoError(t, err)

		header := srv.LastRequest().Headers.Get("Cookie")
		assert.Contains(t, header, "Bugzilla_login=7")
		assert.Contains(t, header, "Bugzilla_logincookie=abc")
		assert.Len(t, srv.LastRequest().Headers.Values("Cookie"), 1)
	})

	t.Run("fault is a remote fault and still persists cookies", func(t *testing.T) {
		srv := testserver.New(map[string]testserver.Method{"bugzilla.getBug": testserver.Faults(101, "Invalid Bug ID")})
		defer srv.Close()
		srv.SetCookie("bugzilla.getBug", &http.Cookie{Name: "tracker", Value: "t1", Path: "/"})

		cookieFile := filepath.Join(t.TempDir(), "cookies.txt")
		jar := cookies.NewJar(cookies.NewMozillaFile(cookieFile))
		tr, err := New(srv.URL+"/xmlrpc.cgi", jar)
		require.NoError(t, err)

		_, err = tr.Call(context.Background(), "bugzilla.getBug", 999999, "alice", "secret")

		var fault *xmlrpc.Fault
		require.True(t, errors.As(err, &fault))
		assert.Equal(t, 101, fault.Code)
		var protoErr *ProtocolError
		assert.False(t, errors.As(err, &protoErr))
		var decodeErr *xmlrpc.DecodeError
		assert.False(t, errors.As(err, &decodeErr))

		data, readErr := os.ReadFile(cookieFile)
		require.NoError(t, readErr)
		assert.Contains(t, string(data), "\ttracker\tt1\n")
	})

	t.Run("non-success status is a protocol error", func(t *testing.T) {
		srv := testserver.New(map[string]testserver.Method{"bugzilla.getBug": testserver.Echo()})
		defer srv.Close()
		srv.SetCookie("bugzilla.getBug", &http.Cookie{Name: "lb", Value: "node2", Path: "/"})
		srv.FailWith(http.StatusServiceUnavailable)

		jar := cookies.NewMemoryJar()
		tr, err := New(srv.URL+"/xmlrpc.cgi", jar)
		require.NoError(t, err)

		_, err = tr.Call(context.Background(), "bugzilla.getBug", 1)

		var protoErr *ProtocolError
		require.True(t, errors.As(err, &protoErr))
		assert.Equal(t, http.StatusServiceUnavailable, protoErr.StatusCode)
		assert.Contains(t, protoErr.Status, "503")
		assert.NotEmpty(t, protoErr.Header.Get("Content-Type"))
		assert.True(t, strings.HasSuffix(protoErr.URL, "/xmlrpc.cgi"))
		assert.Equal(t, 1, jar.Len(), "cookies are merged before the status check")
	})

	t.Run("malformed body is a decode error", func(t *testing.T) {
		srv := testserver.New(map[string]testserver.Method{"bugzilla.getBug": testserver.Raw("<html>oops</html>")})
		defer srv.Close()

		tr, err := New(srv.URL+"/xmlrpc.cgi", nil)
		require.NoError(t, err)

		_, err = tr.Call(context.Background(), "bugzilla.getBug", 1)
		var decodeErr *xmlrpc.DecodeError
		assert.True(t, errors.As(err, &decodeErr))
	})

	t.Run("unencodable params fail before sending", func(t *testing.T) {
		srv := testserver.New(nil)
		defer srv.Close()

		tr, err := New(srv.URL+"/xmlrpc.cgi", nil)
		require.NoError(t, err)

		_, err = tr.Call(context.Background(), "bugzilla.getBug", make(chan int))
		assert.Error(t, err)
		assert.Equal(t, 0, srv.RequestCount())
	})

	t.Run("persist failure does not mask the result", func(t *testing.T) {
		srv := testserver.New(map[string]testserver.Method{"bugzilla.getBug": testserver.Returns("ok")})
		defer srv.Close()

		var logs bytes.Buffer
		logger, err := logging.New(&logs, "warn")
		require.NoError(t, err)

		tr, err := New(srv.URL+"/xmlrpc.cgi", cookies.NewJar(failingBackend{}), WithLogger(logger))
		require.NoError(t, err)

		result, err := tr.Call(context.Background(), "bugzilla.getBug", 1)
		require.NoError(t, err)
		assert.Equal(t, "ok", result)
		assert.Contains(t, logs.String(), "failed to persist cookies")
		assert.Contains(t, logs.String(), "read-only filesystem")
	})

	t.Run("cookies are kept when the body cannot be read", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "cookies.txt")
		jar := cookies.NewJar(cookies.NewMozillaFile(path))
		tr, err := New("http://bugzilla.example.com/xmlrpc.cgi", jar, WithChannel(truncatedChannel{}))
		require.NoError(t, err)

		_, err = tr.Call(context.Background(), "bugzilla.login", "alice", "secret")
		require.ErrorIs(t, err, io.ErrUnexpectedEOF)

		assert.Equal(t, 1, jar.Len())
		data, err := os.ReadFile(path)
		require.NoError(t, err)
		assert.Contains(t, string(data), "Bugzilla_logincookie\txyz")
	})

	t.Run("timeout bounds the call", func(t *testing.T) {
		srv := testserver.New(map[string]testserver.Method{
			"slow": testserver.Delayed(500*time.Millisecond, testserver.Returns(1)),
		})
		defer srv.Close()

		tr, err := New(srv.URL+"/xmlrpc.cgi", nil, WithTimeout(50*time.Millisecond))
		require.NoError(t, err)

		_, err = tr.Call(context.Background(), "slow")
		assert.ErrorIs(t, err, context.DeadlineExceeded)
	})

	t.Run("custom user agent", func(t *testing.T) {
		srv := testserver.New(map[string]testserver.Method{"ping": testserver.Returns(true)})
		defer srv.Close()

		tr, err := New(srv.URL+"/", nil, WithUserAgent("custom/1.0"))
		require.NoError(t, err)
		_, err = tr.Call(context.Background(), "ping")
		require.NoError(t, err)
		assert.Equal(t, "custom/1.0", srv.LastRequest().Headers.Get("User-Agent"))
	})
}

func TestTransport_SecureChannel(t *testing.T) {
	srv := testserver.NewTLS(map[string]testserver.Method{"bugzilla.getBug": testserver.Returns(map[string]any{"bug_id": 42})})
	defer srv.Close()
	srv.SetCookie("bugzilla.getBug", &http.Cookie{Name: "session", Value: "abc123", Path: "/", Domain: "example.com", Secure: true})

	jar := cookies.NewMemoryJar()
	ctx := context.Background()

	tr, err := New("https://example.com/xmlrpc", jar, WithChannelOptions(tlsOptions(srv)))
	require.NoError(t, err)
	assert.Equal(t, "https", tr.Scheme())

	result, err := tr.Call(ctx, "bugzilla.getBug", 42, "alice", "secret")
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"bug_id": 42}, result)

	u, _ := url.Parse("https://example.com/xmlrpc")
	assert.Equal(t, "session=abc123", cookies.Header(jar.Select(u)))

	// Same jar, different host: the example.com cookie must stay behind.
	other, err := New("https://other.org/", jar, WithChannelOptions(tlsOptions(srv)))
	require.NoError(t, err)
	_, err = other.Call(ctx, "bugzilla.getBug", 42, "alice", "secret")
	require.NoError(t, err)
	assert.Empty(t, srv.LastRequest().Headers.Get("Cookie"))

	// And back on example.com it is sent.
	_, err = tr.Call(ctx, "bugzilla.getBug", 42, "alice", "secret")
	require.NoError(t, err)
	assert.Equal(t, "session=abc123", srv.LastRequest().Headers.Get("Cookie"))
}

func TestTransport_SecureChannelVerifiesCertificates(t *testing.T) {
	srv := testserver.NewTLS(map[string]testserver.Method{"ping": testserver.Returns(true)})
	defer srv.Close()

	// No RootCAs: the self-signed test certificate must be rejected.
	tr, err := New("https://example.com/", nil, WithChannelOptions(ChannelOptions{DialContext: srv.Dial}))
	require.NoError(t, err)

	_, err = tr.Call(context.Background(), "ping")
	assert.Error(t, err)
	assert.Equal(t, 0, srv.RequestCount())
}

func TestProtocolError_Error(t *testing.T) {
	err := &ProtocolError{URL: "https://example.com/xmlrpc.cgi", StatusCode: 404, Status: "404 Not Found"}
	assert.Equal(t, "protocol error: https://example.com/xmlrpc.cgi: 404 Not Found", err.Error())
}
