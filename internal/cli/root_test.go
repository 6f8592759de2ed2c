package cli

import (
	"bytes"
	"encoding/json"
	"errors"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/artpar/bzrpc/e2e/testserver"
	"github.com/artpar/bzrpc/internal/config"
	"github.com/artpar/bzrpc/internal/credentials"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/zalando/go-keyring"
)

func TestMain(m *testing.M) {
	keyring.MockInit()
	isTerminal = func(int) bool { return false }
	os.Exit(m.Run())
}

// execute runs the root command with args and an isolated home directory.
func execute(t *testing.T, args ...string) (string, string, error) {
	t.Helper()
	t.Setenv("HOME", t.TempDir())
	for _, env := range []string{config.EnvURL, config.EnvUser, config.EnvPassword, config.EnvCookieFile} {
		t.Setenv(env, "")
	}

	out := &bytes.Buffer{}
	errOut := &bytes.Buffer{}
	cmd := NewRootCommand("test")
	cmd.SetOut(out)
	cmd.SetErr(errOut)
	cmd.SetArgs(args)

	err := cmd.Execute()
	return out.String(), errOut.String(), err
}

func TestNewRootCommand(t *testing.T) {
	t.Run("creates root command", func(t *testing.T) {
		cmd := NewRootCommand("1.0.0")
		assert.Equal(t, "bzrpc", cmd.Use)
		assert.Equal(t, "1.0.0", cmd.Version)
	})

	t.Run("has persistent flags", func(t *testing.T) {
		cmd := NewRootCommand("1.0.0")
		for _, name := range []string{"config", "url", "user", "password", "cookie-file", "cookie-backend", "timeout", "json", "verbose"} {
			assert.NotNil(t, cmd.PersistentFlags().Lookup(name), name)
		}
		assert.Equal(t, "u", cmd.PersistentFlags().Lookup("url").Shorthand)
	})

	t.Run("has subcommands", func(t *testing.T) {
		cmd := NewRootCommand("1.0.0")
		for _, name := range []string{"login", "logout", "products", "components", "bug", "call", "cookies"} {
			sub, _, err := cmd.Find([]string{name})
			require.NoError(t, err)
			assert.True(t, strings.HasPrefix(sub.Use, name))
		}
		sub, _, err := cmd.Find([]string{"cookies", "cleanup"})
		require.NoError(t, err)
		assert.Equal(t, "cleanup", sub.Use)
	})
}

func TestLoginCommand(t *testing.T) {
	t.Run("saves the session and reuses it", func(t *testing.T) {
		srv := testserver.New(map[string]testserver.Method{
			"bugzilla.login":       testserver.Login("alice", "secret", 7),
			"bugzilla.getProdInfo": testserver.Returns([]any{"Firefox", "Thunderbird"}),
		})
		defer srv.Close()
		srv.SetCookie("bugzilla.login", &http.Cookie{Name: "Bugzilla_logincookie", Value: "xyz", Path: "/"})

		cookieFile := filepath.Join(t.TempDir(), "cookies.txt")
		out, _, err := execute(t, "login", "--url", srv.URL+"/xmlrpc.cgi",
			"--user", "alice", "--password", "secret", "--cookie-file", cookieFile)
		require.NoError(t, err)
		assert.Contains(t, out, "Logged in as alice")
		assert.Contains(t, out, "7")

		data, err := os.ReadFile(cookieFile)
		require.NoError(t, err)
		assert.Contains(t, string(data), "Bugzilla_logincookie\txyz")

		out, _, err = execute(t, "products", "--url", srv.URL+"/xmlrpc.cgi",
			"--user", "alice", "--password", "secret", "--cookie-file", cookieFile)
		require.NoError(t, err)
		assert.Contains(t, out, "- Firefox")
		assert.Contains(t, out, "- Thunderbird")
		assert.Equal(t, "Bugzilla_logincookie=xyz", srv.LastRequest().Headers.Get("Cookie"))
	})

	t.Run("rejected credentials", func(t *testing.T) {
		srv := testserver.New(map[string]testserver.Method{
			"bugzilla.login": testserver.Login("alice", "secret", 7),
		})
		defer srv.Close()

		out, _, err := execute(t, "login", "--url", srv.URL, "--user", "alice",
			"--password", "wrong", "--cookie-backend", "memory")
		assert.Error(t, err)
		assert.Contains(t, out, "Login rejected for alice")
	})

	t.Run("json output", func(t *testing.T) {
		srv := testserver.New(map[string]testserver.Method{
			"bugzilla.login": testserver.Login("alice", "secret", 7),
		})
		defer srv.Close()

		out, _, err := execute(t, "login", "--json", "--url", srv.URL, "--user", "alice",
			"--password", "secret", "--cookie-backend", "memory")
		require.NoError(t, err)

		var result map[string]any
		require.NoError(t, json.Unmarshal([]byte(out), &result))
		assert.Equal(t, true, result["ok"])
		assert.Equal(t, "alice", result["user"])
	})

	t.Run("requires credentials", func(t *testing.T) {
		srv := testserver.New(nil)
		defer srv.Close()

		_, _, err := execute(t, "login", "--url", srv.URL, "--cookie-backend", "memory")
		assert.Error(t, err)
		assert.Equal(t, 0, srv.RequestCount())
	})

	t.Run("keyring password is reused", func(t *testing.T) {
		srv := testserver.New(map[string]testserver.Method{
			"bugzilla.login":       testserver.Login("alice", "secret", 7),
			"bugzilla.getProdInfo": testserver.Echo(),
		})
		defer srv.Close()

		_, _, err := execute(t, "login", "--save-password", "--url", srv.URL, "--user", "alice",
			"--password", "secret", "--cookie-backend", "memory")
		require.NoError(t, err)

		_, _, err = execute(t, "products", "--url", srv.URL, "--user", "alice", "--cookie-backend", "memory")
		require.NoError(t, err)
		assert.Equal(t, []any{"alice", "secret"}, srv.LastRequest().Params)
	})

	t.Run("rejected login does not save the password", func(t *testing.T) {
		srv := testserver.New(map[string]testserver.Method{
			"bugzilla.login": testserver.Login("alice", "secret", 7),
		})
		defer srv.Close()

		_, _, err := execute(t, "login", "--save-password", "--url", srv.URL, "--user", "alice",
			"--password", "wrong", "--cookie-backend", "memory")
		require.Error(t, err)

		_, err = credentials.NewKeyring().Get(srv.URL, "alice")
		assert.ErrorIs(t, err, credentials.ErrNotFound)
	})

	t.Run("prompts for the password on a terminal", func(t *testing.T) {
		srv := testserver.New(map[string]testserver.Method{
			"bugzilla.login": testserver.Login("carol", "typed", 9),
		})
		defer srv.Close()

		origTerminal, origRead := isTerminal, readPassword
		t.Cleanup(func() { isTerminal, readPassword = origTerminal, origRead })
		isTerminal = func(int) bool { return true }
		readPassword = func(int) ([]byte, error) { return []byte("typed"), nil }

		out, errOut, err := execute(t, "login", "--url", srv.URL, "--user", "carol", "--cookie-backend", "memory")
		require.NoError(t, err)
		assert.Contains(t, errOut, "Password for carol")
		assert.Contains(t, out, "Logged in as carol")
	})

	t.Run("sqlite backend", func(t *testing.T) {
		srv := testserver.New(map[string]testserver.Method{
			"bugzilla.login": testserver.Login("alice", "secret", 7),
		})
		defer srv.Close()
		srv.SetCookie("bugzilla.login", &http.Cookie{Name: "Bugzilla_login", Value: "7", Path: "/"})

		db := filepath.Join(t.TempDir(), "cookies.db")
		_, _, err := execute(t, "login", "--url", srv.URL, "--user", "alice", "--password", "secret",
			"--cookie-backend", "sqlite", "--cookie-file", db)
		require.NoError(t, err)

		out, _, err := execute(t, "cookies", "list", "--cookie-backend", "sqlite", "--cookie-file", db)
		require.NoError(t, err)
		assert.Contains(t, out, "Bugzilla_login")
	})
}

func TestLogoutCommand(t *testing.T) {
	srv := testserver.New(map[string]testserver.Method{
		"bugzilla.login": testserver.Login("alice", "secret", 7),
	})
	defer srv.Close()
	srv.SetCookie("bugzilla.login", &http.Cookie{Name: "Bugzilla_login", Value: "7", Path: "/"})

	cookieFile := filepath.Join(t.TempDir(), "cookies.txt")
	session := []string{"--url", srv.URL, "--user", "alice", "--cookie-file", cookieFile}

	_, _, err := execute(t, append([]string{"login", "--password", "secret", "--save-password"}, session...)...)
	require.NoError(t, err)

	out, _, err := execute(t, append([]string{"logout"}, session...)...)
	require.NoError(t, err)
	assert.Contains(t, out, "Removed 1 cookie(s)")

	data, err := os.ReadFile(cookieFile)
	require.NoError(t, err)
	assert.NotContains(t, string(data), "Bugzilla_login")

	_, err = credentials.NewKeyring().Get(srv.URL, "alice")
	assert.ErrorIs(t, err, credentials.ErrNotFound)
}

func TestKeyringUnavailable(t *testing.T) {
	keyring.MockInitWithError(errors.New("org.freedesktop.secrets was not provided"))
	t.Cleanup(keyring.MockInit)

	srv := testserver.New(map[string]testserver.Method{
		"bugzilla.login": testserver.Login("alice", "secret", 7),
	})
	defer srv.Close()
	srv.SetCookie("bugzilla.login", &http.Cookie{Name: "Bugzilla_login", Value: "7", Path: "/"})

	cookieFile := filepath.Join(t.TempDir(), "cookies.txt")
	session := []string{"--url", srv.URL, "--user", "alice", "--cookie-file", cookieFile}

	t.Run("login still succeeds", func(t *testing.T) {
		out, errOut, err := execute(t, append([]string{"login", "--password", "secret", "--save-password"}, session...)...)
		require.NoError(t, err)
		assert.Contains(t, out, "Logged in as alice")
		assert.Contains(t, errOut, "password not saved")
		assert.Contains(t, errOut, "org.freedesktop.secrets")

		data, err := os.ReadFile(cookieFile)
		require.NoError(t, err)
		assert.Contains(t, string(data), "Bugzilla_login\t7")
	})

	t.Run("logout still clears the session", func(t *testing.T) {
		out, errOut, err := execute(t, append([]string{"logout"}, session...)...)
		require.NoError(t, err)
		assert.Contains(t, out, "Removed 1 cookie(s)")
		assert.Contains(t, errOut, "stored password not removed")

		data, err := os.ReadFile(cookieFile)
		require.NoError(t, err)
		assert.NotContains(t, string(data), "Bugzilla_login")
	})
}

func TestQueryCommands(t *testing.T) {
	srv := testserver.New(map[string]testserver.Method{
		"bugzilla.getProdCompInfo": testserver.Echo(),
		"bugzilla.getBug":          testserver.Returns(map[string]any{"bug_id": 42, "summary": "Crash on start", "cc": []any{"bob"}}),
		"bugzilla.getBugSimple":    testserver.Echo(),
	})
	defer srv.Close()

	common := []string{"--url", srv.URL + "/xmlrpc.cgi", "--user", "alice", "--password", "secret", "--cookie-backend", "memory"}

	t.Run("components", func(t *testing.T) {
		out, _, err := execute(t, append([]string{"components", "Firefox"}, common...)...)
		require.NoError(t, err)
		assert.Contains(t, out, "- Firefox")
		assert.Equal(t, []any{"Firefox", "alice", "secret"}, srv.LastRequest().Params)
	})

	t.Run("bug", func(t *testing.T) {
		out, _, err := execute(t, append([]string{"bug", "42"}, common...)...)
		require.NoError(t, err)
		assert.Contains(t, out, "Crash on start")
		assert.Contains(t, out, "- bob")
		assert.Equal(t, "bugzilla.getBug", srv.LastRequest().RPCMethod)
	})

	t.Run("bug simple", func(t *testing.T) {
		_, _, err := execute(t, append([]string{"bug", "42", "--simple"}, common...)...)
		require.NoError(t, err)
		assert.Equal(t, "bugzilla.getBugSimple", srv.LastRequest().RPCMethod)
		assert.Equal(t, []any{42, "alice", "secret"}, srv.LastRequest().Params)
	})

	t.Run("bug json", func(t *testing.T) {
		out, _, err := execute(t, append([]string{"bug", "42", "--json"}, common...)...)
		require.NoError(t, err)
		var result map[string]any
		require.NoError(t, json.Unmarshal([]byte(out), &result))
		assert.Equal(t, float64(42), result["bug_id"])
	})

	t.Run("invalid bug id", func(t *testing.T) {
		_, _, err := execute(t, append([]string{"bug", "abc"}, common...)...)
		assert.ErrorContains(t, err, "invalid bug id")
	})

	t.Run("fault is reported", func(t *testing.T) {
		_, _, err := execute(t, append([]string{"products"}, common...)...)
		assert.ErrorContains(t, err, "-32601")
	})

	t.Run("missing url", func(t *testing.T) {
		_, _, err := execute(t, "products", "--cookie-backend", "memory")
		assert.ErrorIs(t, err, errNoURL)
	})

	t.Run("verbose logs to stderr", func(t *testing.T) {
		_, errOut, err := execute(t, append([]string{"bug", "42", "-v"}, common...)...)
		require.NoError(t, err)
		assert.Contains(t, errOut, "xmlrpc call")
		assert.NotContains(t, errOut, "secret")
	})
}

func TestCallCommand(t *testing.T) {
	srv := testserver.New(map[string]testserver.Method{"bugzilla.echo": testserver.Echo()})
	defer srv.Close()

	t.Run("typed params", func(t *testing.T) {
		out, _, err := execute(t, "call", "bugzilla.echo", "42", "true", "Firefox", "--json",
			"--url", srv.URL, "--cookie-backend", "memory")
		require.NoError(t, err)

		var result []any
		require.NoError(t, json.Unmarshal([]byte(out), &result))
		assert.Equal(t, []any{float64(42), true, "Firefox"}, result)
	})

	t.Run("with credentials", func(t *testing.T) {
		_, _, err := execute(t, "call", "bugzilla.echo", "1", "--with-credentials",
			"--url", srv.URL, "--user", "alice", "--password", "secret", "--cookie-backend", "memory")
		require.NoError(t, err)
		assert.Equal(t, []any{1, "alice", "secret"}, srv.LastRequest().Params)
	})

	t.Run("requires a method", func(t *testing.T) {
		_, _, err := execute(t, "call", "--url", srv.URL)
		assert.Error(t, err)
	})
}

func TestCookiesCommand(t *testing.T) {
	writeJar := func(t *testing.T) string {
		t.Helper()
		path := filepath.Join(t.TempDir(), "cookies.txt")
		content := "# Netscape HTTP Cookie File\n" +
			".example.com\tTRUE\t/\tTRUE\t0\tsession\tabc123\n" +
			"#HttpOnly_bugzilla.example.com\tFALSE\t/\tFALSE\t4102444800\tBugzilla_login\t42\n" +
			"other.org\tFALSE\t/\tFALSE\t1\told\tgone\n"
		require.NoError(t, os.WriteFile(path, []byte(content), 0600))
		return path
	}

	t.Run("list", func(t *testing.T) {
		path := writeJar(t)
		out, _, err := execute(t, "cookies", "list", "--cookie-file", path)
		require.NoError(t, err)
		assert.Contains(t, out, "example.com/")
		assert.Contains(t, out, "session")
		assert.Contains(t, out, "httponly")
		assert.Contains(t, out, "expired")
		assert.NotContains(t, out, "abc123")
	})

	t.Run("list with values", func(t *testing.T) {
		path := writeJar(t)
		out, _, err := execute(t, "cookies", "list", "--show-values", "--cookie-file", path)
		require.NoError(t, err)
		assert.Contains(t, out, "=abc123")
	})

	t.Run("list json", func(t *testing.T) {
		path := writeJar(t)
		out, _, err := execute(t, "cookies", "list", "--json", "--cookie-file", path)
		require.NoError(t, err)

		var rows []map[string]any
		require.NoError(t, json.Unmarshal([]byte(out), &rows))
		require.Len(t, rows, 3)
		for _, row := range rows {
			assert.NotContains(t, row, "value")
		}
	})

	t.Run("list empty", func(t *testing.T) {
		out, _, err := execute(t, "cookies", "list", "--cookie-file", filepath.Join(t.TempDir(), "none.txt"))
		require.NoError(t, err)
		assert.Contains(t, out, "No cookies saved")
	})

	t.Run("cleanup", func(t *testing.T) {
		path := writeJar(t)
		out, _, err := execute(t, "cookies", "cleanup", "--cookie-file", path)
		require.NoError(t, err)
		assert.Contains(t, out, "Removed 1 cookie(s)")

		data, err := os.ReadFile(path)
		require.NoError(t, err)
		assert.NotContains(t, string(data), "\told\t")
		assert.Contains(t, string(data), "\tsession\tabc123")
	})

	t.Run("clear domain", func(t *testing.T) {
		path := writeJar(t)
		out, _, err := execute(t, "cookies", "clear", "--domain", "example.com", "--json", "--cookie-file", path)
		require.NoError(t, err)
		assert.JSONEq(t, `{"removed": 1}`, out)

		data, err := os.ReadFile(path)
		require.NoError(t, err)
		assert.NotContains(t, string(data), "abc123")
		assert.Contains(t, string(data), "Bugzilla_login")
	})

	t.Run("clear all", func(t *testing.T) {
		path := writeJar(t)
		out, _, err := execute(t, "cookies", "clear", "--cookie-file", path)
		require.NoError(t, err)
		assert.Contains(t, out, "Removed 3 cookie(s)")

		out, _, err = execute(t, "cookies", "list", "--cookie-file", path)
		require.NoError(t, err)
		assert.Contains(t, out, "No cookies saved")
	})

	t.Run("unreadable file", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "cookies.txt")
		require.NoError(t, os.WriteFile(path, []byte("garbage\n"), 0600))
		_, _, err := execute(t, "cookies", "list", "--cookie-file", path)
		assert.Error(t, err)
	})
}

func TestParseParam(t *testing.T) {
	tests := []struct {
		in   string
		want any
	}{
		{"42", 42},
		{"-7", -7},
		{"true", true},
		{"false", false},
		{"Firefox", "Firefox"},
		{"1.5", "1.5"},
		{"", ""},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, parseParam(tt.in), tt.in)
	}
}

func TestWriteValue(t *testing.T) {
	out := &bytes.Buffer{}
	v := map[string]any{
		"id":       1,
		"products": []any{"Firefox", map[string]any{"name": "Core"}},
		"empty":    map[string]any{},
	}
	writeValue(out, newStyles(out), v, 0)

	text := out.String()
	assert.Contains(t, text, "id:")
	assert.Contains(t, text, "- Firefox")
	assert.Contains(t, text, "    name:")
	assert.Contains(t, text, "(empty)")
	assert.Less(t, strings.Index(text, "empty:"), strings.Index(text, "id:"), "keys are sorted")
}
