package main

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/ArionMiles/mailvoucher/internal/daemon"
	"github.com/ArionMiles/mailvoucher/pkg/api"
	"github.com/ArionMiles/mailvoucher/pkg/metrics"
	"github.com/ArionMiles/mailvoucher/pkg/money"
	"github.com/ArionMiles/mailvoucher/pkg/reader/mbox"
	"github.com/ArionMiles/mailvoucher/pkg/rules"
)

type checkOptions struct {
	rulesFile string
	emailFile string
	sender    string
	subject   string
}

func newCheckCmd(a *app) *cobra.Command {
	var opts checkOptions
	cmd := &cobra.Command{
		Use:   "check",
		Short: "Run one email file through the rules and print the voucher",
		Long: `check reads a single email and prints the voucher it would produce.
Files ending in .eml are parsed as full messages. Files ending in .html
are used as the HTML body and anything else as the plain text body, with
--sender and --subject supplying the headers.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if opts.rulesFile == "" {
				cfg, err := a.loadConfig()
				if err != nil {
					return err
				}
				opts.rulesFile = cfg.RulesFile
			}
			return a.check(cmd, opts)
		},
	}
	cmd.Flags().StringVar(&opts.rulesFile, "rules", "", "rules file (defaults to RULES_FILE)")
	cmd.Flags().StringVar(&opts.emailFile, "email", "", "email file (.eml, .html or plain text)")
	cmd.Flags().StringVar(&opts.sender, "sender", "", "sender for .html and text files")
	cmd.Flags().StringVar(&opts.subject, "subject", "", "subject for .html and text files")
	_ = cmd.MarkFlagRequired("email")
	return cmd
}

func (a *app) check(cmd *cobra.Command, opts checkOptions) error {
	ruleSet, err := rules.Load(opts.rulesFile)
	if err != nil {
		return err
	}

	email, err := loadEmail(opts)
	if err != nil {
		return err
	}

	p := daemon.NewProcessor(daemon.ProcessorConfig{Rules: ruleSet}, metrics.NewNop(), a.logger)
	v, err := p.Process(cmd.Context(), email)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	if v == nil {
		fmt.Fprintln(out, "✗ No rule matched")
		return nil
	}
	printVoucher(out, v)
	return nil
}

func loadEmail(opts checkOptions) (*api.Email, error) {
	data, err := os.ReadFile(opts.emailFile)
	if err != nil {
		return nil, fmt.Errorf("reading email: %w", err)
	}

	switch strings.ToLower(filepath.Ext(opts.emailFile)) {
	case ".eml":
		email, err := mbox.Parse(data)
		if err != nil {
			return nil, fmt.Errorf("parsing %s: %w", opts.emailFile, err)
		}
		if opts.sender != "" {
			email.Sender = opts.sender
		}
		if opts.subject != "" {
			email.Subject = opts.subject
		}
		return email, nil
	case ".html", ".htm":
		return &api.Email{Sender: opts.sender, Subject: opts.subject, BodyHTML: string(data)}, nil
	default:
		return &api.Email{Sender: opts.sender, Subject: opts.subject, BodyPlain: string(data)}, nil
	}
}

func printVoucher(out io.Writer, v *api.Voucher) {
	fmt.Fprintf(out, "✓ Rule: %s\n", v.Rule)
	fmt.Fprintf(out, "Series: %s\n", v.Series)
	fmt.Fprintf(out, "Date: %s\n", v.TransactionDate())
	fmt.Fprintf(out, "Description: %s\n", v.Description)
	if v.Attachment != nil {
		fmt.Fprintf(out, "Attachment: %s (%s, %d bytes)\n", v.Attachment.Name, v.Attachment.ContentType, len(v.Attachment.Data))
	}
	fmt.Fprintln(out)

	tw := tabwriter.NewWriter(out, 0, 0, 2, ' ', tabwriter.AlignRight)
	fmt.Fprintln(tw, "ACCOUNT\tDEBIT\tCREDIT\t")
	for _, e := range v.Entries {
		fmt.Fprintf(tw, "%s\t%s\t%s\t\n", e.Account, money.Format(e.Debit), money.Format(e.Credit))
	}
	fmt.Fprintf(tw, "TOTAL\t%s\t%s\t\n", money.Format(v.TotalDebit()), money.Format(v.TotalCredit()))
	tw.Flush()
}
