package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"golang.org/x/term"
)

// Test seams for the terminal.
var (
	readPassword = term.ReadPassword
	isTerminal   = term.IsTerminal
)

// LoginOptions holds options for the login command.
type LoginOptions struct {
	SavePassword bool
}

// NewLoginCommand creates the login command.
func NewLoginCommand(opts *GlobalOptions) *cobra.Command {
	loginOpts := &LoginOptions{}

	cmd := &cobra.Command{
		Use:   "login",
		Short: "Log in and save the session cookies",
		Long: `Log in with --user and --password. The session cookies set by Bugzilla are
written to the cookie file so later commands reuse them. Without --password
the password is taken from the keyring, or prompted for on a terminal.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runLogin(cmd, opts, loginOpts)
		},
	}

	cmd.Flags().BoolVar(&loginOpts.SavePassword, "save-password", false, "Store the password in the system keyring after a successful login")

	return cmd
}

func runLogin(cmd *cobra.Command, opts *GlobalOptions, loginOpts *LoginOptions) error {
	s, err := opts.openSession(cmd, true)
	if err != nil {
		return err
	}
	defer s.close()

	if s.cfg.User != "" && s.cfg.Password == "" && isTerminal(int(os.Stdin.Fd())) {
		fmt.Fprintf(cmd.ErrOrStderr(), "Password for %s: ", s.cfg.User)
		pw, err := readPassword(int(os.Stdin.Fd()))
		fmt.Fprintln(cmd.ErrOrStderr())
		if err != nil {
			return fmt.Errorf("failed to read password: %w", err)
		}
		s.cfg.Password = string(pw)
	}
	if err := s.requireCredentials(); err != nil {
		return err
	}

	result, ok, err := s.client.Login(cmd.Context(), s.cfg.User, s.cfg.Password)
	if err != nil {
		return fmt.Errorf("login failed: %w", err)
	}
	if ok && loginOpts.SavePassword {
		if err := passwords.Set(s.cfg.URL, s.cfg.User, s.cfg.Password); err != nil {
			s.logger.Warn(cmd.Context(), "password not saved", "error", err)
		}
	}

	if opts.JSON {
		return outputJSON(cmd, map[string]any{
			"ok":      ok,
			"user":    s.cfg.User,
			"result":  result,
			"cookies": s.jar.Len(),
		})
	}

	out := cmd.OutOrStdout()
	st := newStyles(out)
	if !ok {
		fmt.Fprintln(out, st.fail.Render("Login rejected for "+s.cfg.User))
		return fmt.Errorf("login rejected for %s", s.cfg.User)
	}
	fmt.Fprintln(out, st.ok.Render("Logged in as "+s.cfg.User))
	writeValue(out, st, result, 1)
	return nil
}

// NewLogoutCommand creates the logout command.
func NewLogoutCommand(opts *GlobalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "logout",
		Short: "Forget the saved session and stored password",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := opts.openSession(cmd, false)
			if err != nil {
				return err
			}
			defer s.close()

			removed := s.jar.Len()
			s.jar.Clear()
			if err := s.jar.Persist(cmd.Context()); err != nil {
				return err
			}
			if s.cfg.URL != "" && s.cfg.User != "" {
				if err := passwords.Delete(s.cfg.URL, s.cfg.User); err != nil {
					s.logger.Warn(cmd.Context(), "stored password not removed", "error", err)
				}
			}
			return reportRemoved(cmd, opts, removed)
		},
	}
}
