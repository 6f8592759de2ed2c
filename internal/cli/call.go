package cli

import (
	"strconv"

	"github.com/spf13/cobra"
)

// CallOptions holds options for the call command.
type CallOptions struct {
	Credentials bool
}

// NewCallCommand creates the call command.
func NewCallCommand(opts *GlobalOptions) *cobra.Command {
	callOpts := &CallOptions{}

	cmd := &cobra.Command{
		Use:   "call METHOD [PARAM...]",
		Short: "Invoke any XML-RPC method",
		Long: `Invoke any XML-RPC method. Each PARAM is sent as an int if it parses
as one, as a boolean for true/false, and as a string otherwise.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := opts.openSession(cmd, true)
			if err != nil {
				return err
			}
			defer s.close()

			params := parseParams(args[1:])
			if callOpts.Credentials {
				params = append(params, s.cfg.User, s.cfg.Password)
			}

			result, err := s.client.Call(cmd.Context(), args[0], params...)
			if err != nil {
				return err
			}
			return outputResult(cmd, opts.JSON, result)
		},
	}

	cmd.Flags().BoolVar(&callOpts.Credentials, "with-credentials", false, "Append user and password to the params")

	return cmd
}

// parseParams converts command-line arguments to XML-RPC params.
func parseParams(args []string) []any {
	params := make([]any, 0, len(args))
	for _, arg := range args {
		params = append(params, parseParam(arg))
	}
	return params
}

func parseParam(arg string) any {
	if n, err := strconv.Atoi(arg); err == nil {
		return n
	}
	switch arg {
	case "true":
		return true
	case "false":
		return false
	}
	return arg
}
