// Package harness provides E2E testing utilities for bzrpc.
package harness

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/artpar/bzrpc/e2e/testserver"
)

// E2EHarness is the main test orchestrator. It owns a scripted XML-RPC
// server and a scratch directory holding the session cookie file.
type E2EHarness struct {
	server  *testserver.Server
	tmpDir  string
	home    string
	timeout time.Duration
}

// Config configures the harness.
type Config struct {
	Methods map[string]testserver.Method
	Timeout time.Duration // Default: 5 seconds
}

// New creates a new E2E harness.
func New(t *testing.T, cfg Config) *E2EHarness {
	t.Helper()

	if cfg.Timeout == 0 {
		cfg.Timeout = 5 * time.Second
	}

	tmpDir, err := os.MkdirTemp("", "bzrpc-e2e-*")
	if err != nil {
		t.Fatalf("failed to create temp dir: %v", err)
	}

	h := &E2EHarness{
		server:  testserver.New(cfg.Methods),
		tmpDir:  tmpDir,
		home:    filepath.Join(tmpDir, "home"),
		timeout: cfg.Timeout,
	}
	if err := os.MkdirAll(h.home, 0700); err != nil {
		t.Fatalf("failed to create home dir: %v", err)
	}

	// Keep the runner away from the developer's own config and session.
	t.Setenv("HOME", h.home)
	for _, env := range []string{"BZRPC_URL", "BZRPC_USER", "BZRPC_PASSWORD", "BZRPC_COOKIE_FILE"} {
		t.Setenv(env, "")
	}

	t.Cleanup(h.cleanup)
	return h
}

func (h *E2EHarness) cleanup() {
	h.server.Close()
	os.RemoveAll(h.tmpDir)
}

// Server returns the XML-RPC test server.
func (h *E2EHarness) Server() *testserver.Server {
	return h.server
}

// ServerURL returns the XML-RPC endpoint URL.
func (h *E2EHarness) ServerURL() string {
	return h.server.URL + "/xmlrpc.cgi"
}

// CookieFile returns the path of the session cookie file.
func (h *E2EHarness) CookieFile() string {
	return filepath.Join(h.tmpDir, "cookies.txt")
}

// CookieFileContent returns the cookie file contents, or "" if it does not
// exist yet.
func (h *E2EHarness) CookieFileContent() string {
	data, err := os.ReadFile(h.CookieFile())
	if err != nil {
		return ""
	}
	return string(data)
}

// CLI returns a CLI runner for this harness.
func (h *E2EHarness) CLI() *CLIRunner {
	return &CLIRunner{harness: h}
}
