package main

import (
	"fmt"
	"io"
	"slices"
	"strings"

	"github.com/spf13/cobra"

	"github.com/ArionMiles/mailvoucher/internal/plugins"
)

func newPluginsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "plugins",
		Short: "List the available readers and writers",
		RunE: func(cmd *cobra.Command, _ []string) error {
			r := plugins.Builtin(nil)
			out := cmd.OutOrStdout()

			fmt.Fprintln(out, "Readers (MAILVOUCHER_READER):")
			for _, p := range r.Readers() {
				printPlugin(out, p)
			}
			fmt.Fprintln(out)
			fmt.Fprintln(out, "Writers (MAILVOUCHER_WRITER):")
			for _, p := range r.Writers() {
				printPlugin(out, p)
			}
			return nil
		},
	}
}

func printPlugin(out io.Writer, p plugins.Plugin) {
	fmt.Fprintf(out, "  %-10s %s\n", p.Name(), p.Description())
	if props, ok := p.ConfigSchema()["properties"].(map[string]any); ok && len(props) > 0 {
		keys := make([]string, 0, len(props))
		for k := range props {
			keys = append(keys, k)
		}
		slices.Sort(keys)
		fmt.Fprintf(out, "  %-10s config: %s\n", "", strings.Join(keys, ", "))
	}
	if scopes := p.RequiredScopes(); len(scopes) > 0 {
		fmt.Fprintf(out, "  %-10s scopes: %s\n", "", strings.Join(scopes, " "))
	}
}
