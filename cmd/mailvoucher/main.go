// Command mailvoucher turns receipt and invoice emails into balanced
// bookkeeping vouchers.
package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/ArionMiles/mailvoucher/pkg/config"
	"github.com/ArionMiles/mailvoucher/pkg/logging"
)

func main() {
	logger := logging.Setup(logging.DefaultConfig())

	if err := newRootCmd(logger).Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

// app carries what every subcommand needs.
type app struct {
	logger     *slog.Logger
	configPath string
}

func (a *app) loadConfig() (config.Config, error) {
	return config.Load(a.configPath)
}

func newRootCmd(logger *slog.Logger) *cobra.Command {
	a := &app{logger: logger}

	root := &cobra.Command{
		Use:   "mailvoucher",
		Short: "Book vouchers from receipt and invoice emails",
		Long: `mailvoucher scans a mailbox for messages matching configured rules,
extracts amounts from their bodies, evaluates the rule's accounting
formulas and books the resulting balanced voucher in the ledger.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVarP(&a.configPath, "config", "c", config.ConfigFile, "path to config file")

	root.AddCommand(
		newRunCmd(a),
		newSetupCmd(a),
		newStatusCmd(a),
		newIgnoreCmd(a),
		newRulesCmd(a),
		newCheckCmd(a),
		newPluginsCmd(),
	)
	return root
}
