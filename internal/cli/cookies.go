package cli

import (
	"fmt"
	"strings"
	"time"

	"github.com/artpar/bzrpc/internal/cookies"
	"github.com/spf13/cobra"
)

// NewCookiesCommand creates the cookies command group.
func NewCookiesCommand(opts *GlobalOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "cookies",
		Short: "Inspect or reset the saved session",
	}

	cmd.AddCommand(newCookiesListCommand(opts))
	cmd.AddCommand(newCookiesClearCommand(opts))
	cmd.AddCommand(newCookiesCleanupCommand(opts))

	return cmd
}

func newCookiesListCommand(opts *GlobalOptions) *cobra.Command {
	var showValues bool

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List saved cookies",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := opts.openSession(cmd, false)
			if err != nil {
				return err
			}
			defer s.close()

			all := s.jar.All()
			if opts.JSON {
				return outputJSON(cmd, cookieRows(all, showValues))
			}

			out := cmd.OutOrStdout()
			st := newStyles(out)
			if len(all) == 0 {
				fmt.Fprintln(out, st.dim.Render("No cookies saved"))
				return nil
			}
			now := time.Now()
			for _, c := range all {
				line := fmt.Sprintf("%s%s  %s", c.Domain, c.Path, st.key.Render(c.Name))
				if showValues {
					line += "=" + c.Value
				}
				var flags []string
				if c.HostOnly {
					flags = append(flags, "host-only")
				}
				if c.Secure {
					flags = append(flags, "secure")
				}
				if c.HttpOnly {
					flags = append(flags, "httponly")
				}
				switch {
				case c.IsSession():
					flags = append(flags, "session")
				case c.ExpiredAt(now):
					flags = append(flags, st.fail.Render("expired"))
				default:
					flags = append(flags, "expires "+c.Expires.Format(time.RFC3339))
				}
				fmt.Fprintf(out, "%s  %s\n", line, st.dim.Render(strings.Join(flags, ", ")))
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&showValues, "show-values", false, "Include cookie values")

	return cmd
}

func newCookiesClearCommand(opts *GlobalOptions) *cobra.Command {
	var domain string

	cmd := &cobra.Command{
		Use:   "clear",
		Short: "Remove saved cookies",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := opts.openSession(cmd, false)
			if err != nil {
				return err
			}
			defer s.close()

			removed := s.jar.Len()
			if domain != "" {
				removed = s.jar.ClearDomain(domain)
			} else {
				s.jar.Clear()
			}
			if err := s.jar.Persist(cmd.Context()); err != nil {
				return err
			}
			return reportRemoved(cmd, opts, removed)
		},
	}

	cmd.Flags().StringVar(&domain, "domain", "", "Only remove cookies for this domain")

	return cmd
}

func newCookiesCleanupCommand(opts *GlobalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "cleanup",
		Short: "Remove expired cookies",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := opts.openSession(cmd, false)
			if err != nil {
				return err
			}
			defer s.close()

			removed := s.jar.Cleanup()
			if err := s.jar.Persist(cmd.Context()); err != nil {
				return err
			}
			return reportRemoved(cmd, opts, removed)
		},
	}
}

func reportRemoved(cmd *cobra.Command, opts *GlobalOptions, removed int) error {
	if opts.JSON {
		return outputJSON(cmd, map[string]int{"removed": removed})
	}
	out := cmd.OutOrStdout()
	fmt.Fprintln(out, newStyles(out).ok.Render(fmt.Sprintf("Removed %d cookie(s)", removed)))
	return nil
}

// cookieRow is the JSON form of a saved cookie.
type cookieRow struct {
	Domain   string     `json:"domain"`
	Path     string     `json:"path"`
	Name     string     `json:"name"`
	Value    string     `json:"value,omitempty"`
	HostOnly bool       `json:"host_only"`
	Secure   bool       `json:"secure"`
	HttpOnly bool       `json:"http_only"`
	Expires  *time.Time `json:"expires,omitempty"`
}

func cookieRows(all []*cookies.Cookie, showValues bool) []cookieRow {
	rows := make([]cookieRow, 0, len(all))
	for _, c := range all {
		row := cookieRow{
			Domain:   c.Domain,
			Path:     c.Path,
			Name:     c.Name,
			HostOnly: c.HostOnly,
			Secure:   c.Secure,
			HttpOnly: c.HttpOnly,
		}
		if showValues {
			row.Value = c.Value
		}
		if !c.IsSession() {
			expires := c.Expires
			row.Expires = &expires
		}
		rows = append(rows, row)
	}
	return rows
}
