package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/spf13/cobra"
)

// styles renders human output for one writer. Colors are dropped when the
// writer is not a terminal.
type styles struct {
	key     lipgloss.Style
	ok      lipgloss.Style
	fail    lipgloss.Style
	dim     lipgloss.Style
	heading lipgloss.Style
}

func newStyles(w io.Writer) styles {
	r := lipgloss.NewRenderer(w)
	return styles{
		key:     r.NewStyle().Foreground(lipgloss.Color("39")).Bold(true),
		ok:      r.NewStyle().Foreground(lipgloss.Color("34")),
		fail:    r.NewStyle().Foreground(lipgloss.Color("160")),
		dim:     r.NewStyle().Foreground(lipgloss.Color("245")),
		heading: r.NewStyle().Bold(true).Underline(true),
	}
}

func outputJSON(cmd *cobra.Command, v any) error {
	encoder := json.NewEncoder(cmd.OutOrStdout())
	encoder.SetIndent("", "  ")
	return encoder.Encode(v)
}

// outputResult prints a decoded XML-RPC value.
func outputResult(cmd *cobra.Command, jsonOut bool, v any) error {
	if jsonOut {
		return outputJSON(cmd, v)
	}
	out := cmd.OutOrStdout()
	writeValue(out, newStyles(out), v, 0)
	return nil
}

func writeValue(out io.Writer, st styles, v any, depth int) {
	indent := strings.Repeat("  ", depth)

	switch val := v.(type) {
	case map[string]any:
		if len(val) == 0 {
			fmt.Fprintln(out, indent+st.dim.Render("(empty)"))
			return
		}
		keys := make([]string, 0, len(val))
		for k := range val {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			if isScalar(val[k]) {
				fmt.Fprintf(out, "%s%s %s\n", indent, st.key.Render(k+":"), formatScalar(st, val[k]))
				continue
			}
			fmt.Fprintf(out, "%s%s\n", indent, st.key.Render(k+":"))
			writeValue(out, st, val[k], depth+1)
		}
	case []any:
		if len(val) == 0 {
			fmt.Fprintln(out, indent+st.dim.Render("(none)"))
			return
		}
		for _, item := range val {
			if isScalar(item) {
				fmt.Fprintf(out, "%s- %s\n", indent, formatScalar(st, item))
				continue
			}
			fmt.Fprintf(out, "%s-\n", indent)
			writeValue(out, st, item, depth+1)
		}
	default:
		fmt.Fprintln(out, indent+formatScalar(st, val))
	}
}

func isScalar(v any) bool {
	switch v.(type) {
	case map[string]any, []any:
		return false
	}
	return true
}

func formatScalar(st styles, v any) string {
	switch val := v.(type) {
	case nil:
		return st.dim.Render("nil")
	case time.Time:
		return val.Format(time.RFC3339)
	case []byte:
		return st.dim.Render(fmt.Sprintf("<%d bytes>", len(val)))
	default:
		return fmt.Sprint(val)
	}
}
