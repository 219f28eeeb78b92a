package main

import (
	"fmt"
	"io"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/ArionMiles/mailvoucher/pkg/api"
	"github.com/ArionMiles/mailvoucher/pkg/money"
	"github.com/ArionMiles/mailvoucher/pkg/rules"
)

func newRulesCmd(a *app) *cobra.Command {
	var rulesFile string
	cmd := &cobra.Command{
		Use:   "rules",
		Short: "Validate the rules file and list its rules",
		RunE: func(cmd *cobra.Command, _ []string) error {
			if rulesFile == "" {
				cfg, err := a.loadConfig()
				if err != nil {
					return err
				}
				rulesFile = cfg.RulesFile
			}

			ruleSet, err := rules.Load(rulesFile)
			if err != nil {
				return err
			}
			printRules(cmd.OutOrStdout(), ruleSet, time.Now().Add(-rules.DefaultLookback))
			return nil
		},
	}
	cmd.Flags().StringVar(&rulesFile, "rules", "", "rules file (defaults to RULES_FILE)")
	return cmd
}

func printRules(out io.Writer, ruleSet []api.Rule, since time.Time) {
	fmt.Fprintf(out, "%d rules\n", len(ruleSet))
	for i := range ruleSet {
		r := &ruleSet[i]
		state := "✓ enabled"
		if !r.Enabled {
			state = "✗ disabled"
		}

		fmt.Fprintln(out)
		fmt.Fprintf(out, "%s (%s)\n", r.Name, state)
		if r.Sender != "" {
			fmt.Fprintf(out, "  sender:   %s\n", r.Sender)
		}
		if r.Subject != "" {
			fmt.Fprintf(out, "  subject:  %s\n", r.Subject)
		}
		if len(r.BodyContains) > 0 {
			fmt.Fprintf(out, "  body:     %s\n", strings.Join(r.BodyContains, ", "))
		}
		if q, ok := rules.SearchQuery(r, since); ok {
			fmt.Fprintf(out, "  query:    %s\n", q)
		}
		fmt.Fprintf(out, "  series:   %s\n", r.Accounting.Series)

		tw := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
		fmt.Fprintln(tw, "  ACCOUNT\tDEBIT\tCREDIT")
		for _, e := range r.Accounting.Entries {
			fmt.Fprintf(tw, "  %s\t%s\t%s\n", e.Account, amountText(e.Debit), amountText(e.Credit))
		}
		tw.Flush()
	}
}

func amountText(a api.Amount) string {
	if a.IsFormula() {
		return a.Formula
	}
	return money.Format(a.Literal)
}
