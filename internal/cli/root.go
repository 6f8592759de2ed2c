package cli

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/artpar/bzrpc/internal/bugzilla"
	"github.com/artpar/bzrpc/internal/config"
	"github.com/artpar/bzrpc/internal/cookies"
	"github.com/artpar/bzrpc/internal/cookies/sqlite"
	"github.com/artpar/bzrpc/internal/credentials"
	"github.com/artpar/bzrpc/internal/logging"
	"github.com/spf13/cobra"
)

var errNoURL = errors.New("no Bugzilla URL configured (use --url or " + config.EnvURL + ")")

// passwordKeeper stores passwords between runs.
type passwordKeeper interface {
	Get(endpoint, user string) (string, error)
	Set(endpoint, user, password string) error
	Delete(endpoint, user string) error
}

var passwords passwordKeeper = credentials.NewKeyring()

// GlobalOptions holds the persistent flags shared by all subcommands.
type GlobalOptions struct {
	ConfigPath    string
	URL           string
	User          string
	Password      string
	CookieFile    string
	CookieBackend string
	Timeout       time.Duration
	JSON          bool
	Verbose       bool
}

// NewRootCommand creates the root command.
func NewRootCommand(version string) *cobra.Command {
	opts := &GlobalOptions{}

	cmd := &cobra.Command{
		Use:           "bzrpc",
		Short:         "bzrpc - A Bugzilla XML-RPC client",
		Long:          "bzrpc talks to Bugzilla over XML-RPC and keeps the login session in a cookie file between runs.",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	flags := cmd.PersistentFlags()
	flags.StringVarP(&opts.ConfigPath, "config", "c", "", "Config file (default "+config.DefaultPath()+")")
	flags.StringVarP(&opts.URL, "url", "u", "", "XML-RPC endpoint, e.g. https://bugzilla.example.com/xmlrpc.cgi")
	flags.StringVar(&opts.User, "user", "", "Bugzilla user name")
	flags.StringVar(&opts.Password, "password", "", "Bugzilla password")
	flags.StringVar(&opts.CookieFile, "cookie-file", "", "Session cookie file")
	flags.StringVar(&opts.CookieBackend, "cookie-backend", "", "Cookie storage: mozilla, sqlite or memory")
	flags.DurationVar(&opts.Timeout, "timeout", 0, "Per-call timeout")
	flags.BoolVar(&opts.JSON, "json", false, "Output as JSON")
	flags.BoolVarP(&opts.Verbose, "verbose", "v", false, "Log each call to stderr")

	cmd.AddCommand(NewLoginCommand(opts))
	cmd.AddCommand(NewLogoutCommand(opts))
	cmd.AddCommand(NewProductsCommand(opts))
	cmd.AddCommand(NewComponentsCommand(opts))
	cmd.AddCommand(NewBugCommand(opts))
	cmd.AddCommand(NewCallCommand(opts))
	cmd.AddCommand(NewCookiesCommand(opts))

	return cmd
}

// loadConfig merges the config file, environment and any flags set on cmd.
func (o *GlobalOptions) loadConfig(cmd *cobra.Command) (*config.Config, error) {
	cfg, err := config.Load(o.ConfigPath)
	if err != nil {
		return nil, err
	}

	changed := cmd.Flags().Changed
	if changed("url") {
		cfg.URL = o.URL
	}
	if changed("user") {
		cfg.User = o.User
	}
	if changed("password") {
		cfg.Password = o.Password
	}
	if changed("cookie-file") {
		cfg.CookieFile = o.CookieFile
	}
	if changed("cookie-backend") {
		cfg.CookieBackend = o.CookieBackend
	}
	if changed("timeout") {
		cfg.Timeout = o.Timeout
	}
	if o.Verbose {
		cfg.LogLevel = "debug"
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// session is everything a command needs to talk to Bugzilla.
type session struct {
	cfg    *config.Config
	jar    *cookies.Jar
	client *bugzilla.Client
	logger logging.Logger
	close  func()
}

// openJar loads the jar from the configured backend.
func openJar(ctx context.Context, cfg *config.Config) (*cookies.Jar, func(), error) {
	if cfg.CookieBackend == config.BackendMemory {
		return cookies.NewMemoryJar(), func() {}, nil
	}

	path, err := cfg.CookiePath()
	if err != nil {
		return nil, nil, err
	}

	switch cfg.CookieBackend {
	case config.BackendSQLite:
		store, err := sqlite.New(path)
		if err != nil {
			return nil, nil, err
		}
		jar, err := cookies.Load(ctx, store)
		if err != nil {
			store.Close()
			return nil, nil, err
		}
		return jar, func() { store.Close() }, nil
	default:
		jar, err := cookies.Load(ctx, cookies.NewMozillaFile(path))
		if err != nil {
			return nil, nil, err
		}
		return jar, func() {}, nil
	}
}

// openSession resolves configuration and opens the cookie jar. When connect
// is set, a client bound to the configured URL is created as well.
func (o *GlobalOptions) openSession(cmd *cobra.Command, connect bool) (*session, error) {
	cfg, err := o.loadConfig(cmd)
	if err != nil {
		return nil, err
	}

	logger, err := logging.New(cmd.ErrOrStderr(), cfg.LogLevel)
	if err != nil {
		return nil, err
	}

	jar, closeJar, err := openJar(cmd.Context(), cfg)
	if err != nil {
		return nil, err
	}
	s := &session{cfg: cfg, jar: jar, logger: logger, close: closeJar}
	if !connect {
		return s, nil
	}

	if cfg.URL == "" {
		closeJar()
		return nil, errNoURL
	}
	if cfg.User != "" && cfg.Password == "" {
		password, err := passwords.Get(cfg.URL, cfg.User)
		switch {
		case err == nil:
			cfg.Password = password
		case !errors.Is(err, credentials.ErrNotFound):
			logger.Debug(cmd.Context(), "keyring unavailable", "error", err)
		}
	}
	client, err := bugzilla.New(
		bugzilla.WithJar(jar),
		bugzilla.WithURL(cfg.URL),
		bugzilla.WithCredentials(cfg.User, cfg.Password),
		bugzilla.WithLogger(logger),
		bugzilla.WithTimeout(cfg.Timeout),
	)
	if err != nil {
		closeJar()
		return nil, err
	}
	s.client = client
	s.close = func() {
		client.Close()
		closeJar()
	}
	return s, nil
}

// requireCredentials fails early for calls that need a user and password.
func (s *session) requireCredentials() error {
	if s.cfg.User == "" || s.cfg.Password == "" {
		return fmt.Errorf("user and password are required (use --user/--password or %s/%s)",
			config.EnvUser, config.EnvPassword)
	}
	return nil
}
