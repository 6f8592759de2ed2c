package harness

import (
	"bytes"
	"context"
	"strconv"
	"time"

	"github.com/artpar/bzrpc/internal/cli"
)

// CLIResult holds CLI execution results.
type CLIResult struct {
	Stdout   string
	Stderr   string
	ExitCode int
	Duration time.Duration
}

// CLIRunner executes CLI commands against the harness server and cookie file.
type CLIRunner struct {
	harness *E2EHarness
}

// Run executes a CLI command with the given arguments as-is.
func (r *CLIRunner) Run(args ...string) (*CLIResult, error) {
	ctx, cancel := context.WithTimeout(context.Background(), r.harness.timeout)
	defer cancel()

	start := time.Now()

	stdout := &bytes.Buffer{}
	stderr := &bytes.Buffer{}

	cmd := cli.NewRootCommand("test")
	cmd.SetOut(stdout)
	cmd.SetErr(stderr)
	cmd.SetArgs(args)

	err := cmd.ExecuteContext(ctx)

	result := &CLIResult{
		Stdout:   stdout.String(),
		Stderr:   stderr.String(),
		Duration: time.Since(start),
	}

	if err != nil {
		result.ExitCode = 1
	}

	return result, err
}

// RunSession runs a command bound to the harness endpoint and cookie file.
func (r *CLIRunner) RunSession(args ...string) (*CLIResult, error) {
	args = append(args, "--url", r.harness.ServerURL(), "--cookie-file", r.harness.CookieFile())
	return r.Run(args...)
}

// Login logs in with the given credentials.
func (r *CLIRunner) Login(user, password string) (*CLIResult, error) {
	return r.RunSession("login", "--user", user, "--password", password)
}

// Bug fetches a bug with the given credentials.
func (r *CLIRunner) Bug(id int, user, password string) (*CLIResult, error) {
	return r.RunSession("bug", strconv.Itoa(id), "--user", user, "--password", password)
}

// Cookies runs a cookies subcommand.
func (r *CLIRunner) Cookies(sub string, opts ...string) (*CLIResult, error) {
	args := append([]string{"cookies", sub}, opts...)
	return r.RunSession(args...)
}
