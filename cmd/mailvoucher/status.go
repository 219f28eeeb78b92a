package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/ArionMiles/mailvoucher/pkg/api"
	"github.com/ArionMiles/mailvoucher/pkg/client"
	"github.com/ArionMiles/mailvoucher/pkg/config"
	"github.com/ArionMiles/mailvoucher/pkg/rules"
	"github.com/ArionMiles/mailvoucher/pkg/store"
)

func newStatusCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Check configuration and list processed and ignored emails",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return a.status(cmd.Context(), cmd.OutOrStdout())
		},
	}
}

func (a *app) status(ctx context.Context, out io.Writer) error {
	fmt.Fprintln(out, "=== mailvoucher status ===")
	fmt.Fprintln(out)

	allGood := true

	cfg, err := a.loadConfig()
	fmt.Fprintf(out, "Config (%s): ", a.configPath)
	if err != nil {
		fmt.Fprintf(out, "✗ %v\n", err)
		printFinalStatus(out, false)
		return nil
	}
	if _, statErr := os.Stat(a.configPath); statErr == nil {
		fmt.Fprintln(out, "✓ Found")
	} else {
		fmt.Fprintln(out, "✓ Not found, using defaults and environment")
	}
	fmt.Fprintf(out, "Reader: %s, writer: %s\n", cfg.ReaderPlugin, cfg.WriterPlugin)

	fmt.Fprintf(out, "Rules (%s): ", cfg.RulesFile)
	if ruleSet, err := rules.Load(cfg.RulesFile); err != nil {
		fmt.Fprintf(out, "✗ %v\n", err)
		allGood = false
	} else {
		enabled := 0
		for _, r := range ruleSet {
			if r.Enabled {
				enabled++
			}
		}
		fmt.Fprintf(out, "✓ %d rules (%d enabled)\n", len(ruleSet), enabled)
	}

	if cfg.ReaderPlugin == "gmail" || cfg.WriterPlugin == "sheets" {
		fmt.Fprintf(out, "Credentials (%s): ", cfg.ClientSecretFile)
		if _, err := os.Stat(cfg.ClientSecretFile); errors.Is(err, os.ErrNotExist) {
			fmt.Fprintln(out, "✗ Not found")
			allGood = false
		} else {
			fmt.Fprintln(out, "✓ Found")
		}
		allGood = printToken(out, "Google token", cfg.TokenFile) && allGood
	}
	switch cfg.WriterPlugin {
	case "fortnox":
		allGood = printToken(out, "Fortnox token", cfg.Fortnox.TokenFile) && allGood
	case "kleer":
		allGood = printToken(out, "Kleer token", cfg.Kleer.TokenFile) && allGood
	}

	st, closeStore, err := store.Open(ctx, cfg.StoreBackend, cfg.StoreDir, cfg.Postgres.PG(), a.logger)
	if err != nil {
		fmt.Fprintf(out, "Store (%s): ✗ %v\n", cfg.StoreBackend, err)
		printFinalStatus(out, false)
		return nil
	}
	defer closeStore()

	if err := printHandled(ctx, out, st, cfg); err != nil {
		fmt.Fprintf(out, "Store (%s): ✗ %v\n", cfg.StoreBackend, err)
		allGood = false
	}

	printFinalStatus(out, allGood)
	return nil
}

func printToken(out io.Writer, label, path string) bool {
	fmt.Fprintf(out, "%s (%s): ", label, path)
	token, err := client.LoadToken(path)
	if err != nil {
		fmt.Fprintln(out, "✗ Not found (run 'mailvoucher setup')")
		return false
	}
	if token.Expiry.Before(time.Now()) {
		fmt.Fprintln(out, "⚠ Expired (will refresh on next run)")
	} else {
		fmt.Fprintf(out, "✓ Valid (expires: %s)\n", token.Expiry.Format(time.RFC3339))
	}
	return true
}

func printHandled(ctx context.Context, out io.Writer, st api.Store, cfg config.Config) error {
	processed, err := st.Processed(ctx)
	if err != nil {
		return err
	}
	ignored, err := st.Ignored(ctx)
	if err != nil {
		return err
	}

	link := func(id string) string { return id }
	if cfg.ReaderPlugin == "gmail" {
		link = store.GmailURL
	}

	fmt.Fprintln(out)
	fmt.Fprintf(out, "Processed emails (%d):\n", len(processed))
	for _, id := range processed {
		fmt.Fprintf(out, "  %s\n", link(id))
	}
	fmt.Fprintf(out, "Ignored emails (%d):\n", len(ignored))
	for _, id := range ignored {
		fmt.Fprintf(out, "  %s\n", link(id))
	}
	return nil
}

func printFinalStatus(out io.Writer, allGood bool) {
	fmt.Fprintln(out)
	if allGood {
		fmt.Fprintln(out, "Status: ✓ Ready to run")
		fmt.Fprintln(out)
		fmt.Fprintln(out, "Run 'mailvoucher run' to book vouchers.")
	} else {
		fmt.Fprintln(out, "Status: ✗ Configuration issues detected")
		fmt.Fprintln(out)
		fmt.Fprintln(out, "Fix the issues above, then run 'mailvoucher status' again.")
	}
}
