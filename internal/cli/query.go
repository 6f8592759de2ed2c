package cli

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"
)

// NewProductsCommand creates the products command.
func NewProductsCommand(opts *GlobalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "products",
		Short: "List products",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := opts.openSession(cmd, true)
			if err != nil {
				return err
			}
			defer s.close()

			result, err := s.client.Products(cmd.Context())
			if err != nil {
				return err
			}
			return outputResult(cmd, opts.JSON, result)
		},
	}
}

// NewComponentsCommand creates the components command.
func NewComponentsCommand(opts *GlobalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "components PRODUCT",
		Short: "List the components of a product",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := opts.openSession(cmd, true)
			if err != nil {
				return err
			}
			defer s.close()

			result, err := s.client.Components(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			return outputResult(cmd, opts.JSON, result)
		},
	}
}

// BugOptions holds options for the bug command.
type BugOptions struct {
	Simple bool
}

// NewBugCommand creates the bug command.
func NewBugCommand(opts *GlobalOptions) *cobra.Command {
	bugOpts := &BugOptions{}

	cmd := &cobra.Command{
		Use:   "bug ID",
		Short: "Show a bug",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := strconv.Atoi(args[0])
			if err != nil {
				return fmt.Errorf("invalid bug id %q", args[0])
			}

			s, err := opts.openSession(cmd, true)
			if err != nil {
				return err
			}
			defer s.close()

			var result any
			if bugOpts.Simple {
				result, err = s.client.GetBugSimple(cmd.Context(), id)
			} else {
				result, err = s.client.GetBug(cmd.Context(), id)
			}
			if err != nil {
				return err
			}
			return outputResult(cmd, opts.JSON, result)
		},
	}

	cmd.Flags().BoolVar(&bugOpts.Simple, "simple", false, "Use bugzilla.getBugSimple")

	return cmd
}
