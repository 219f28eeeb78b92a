package main

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/ArionMiles/mailvoucher/internal/plugins"
	"github.com/ArionMiles/mailvoucher/pkg/client"
	"github.com/ArionMiles/mailvoucher/pkg/config"
)

func newSetupCmd(a *app) *cobra.Command {
	var force bool
	cmd := &cobra.Command{
		Use:   "setup",
		Short: "Authorize access to Gmail/Sheets and the ledger",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := a.loadConfig()
			if err != nil {
				return err
			}
			return runSetup(cmd, cfg, force)
		},
	}
	cmd.Flags().BoolVar(&force, "force", false, "re-authorize even if tokens exist")
	return cmd
}

func runSetup(cmd *cobra.Command, cfg config.Config, force bool) error {
	out := cmd.OutOrStdout()
	fmt.Fprintln(out, "=== mailvoucher setup ===")
	fmt.Fprintln(out)

	scopes, err := plugins.Builtin(nil).Scopes(cfg.ReaderPlugin, cfg.WriterPlugin)
	if err != nil {
		return err
	}

	if len(scopes) > 0 {
		if err := setupGoogle(cmd, out, cfg, scopes, force); err != nil {
			return err
		}
	}
	switch cfg.WriterPlugin {
	case "fortnox":
		if err := setupFortnox(cmd, out, cfg, force); err != nil {
			return err
		}
	case "kleer":
		if err := setupKleer(cmd, out, cfg, force); err != nil {
			return err
		}
	}

	fmt.Fprintln(out, "=== Setup complete ===")
	fmt.Fprintln(out)
	fmt.Fprintln(out, "Next steps:")
	fmt.Fprintf(out, "  1. Put your rules in %s (see data/rules.example.json)\n", cfg.RulesFile)
	fmt.Fprintln(out, "  2. Run 'mailvoucher run --dry-run' and review "+config.DryRunFile)
	fmt.Fprintln(out, "  3. Run 'mailvoucher run' to book vouchers")
	return nil
}

func setupGoogle(cmd *cobra.Command, out io.Writer, cfg config.Config, scopes []string, force bool) error {
	if _, err := os.Stat(cfg.ClientSecretFile); errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("credentials file not found: %s\n\nTo get your credentials:\n"+
			"1. Go to https://console.cloud.google.com/apis/credentials\n"+
			"2. Create an OAuth 2.0 Client ID (Desktop application)\n"+
			"3. Download the JSON file and save it as '%s'", cfg.ClientSecretFile, cfg.ClientSecretFile)
	}

	if !force && client.HasToken(cfg.TokenFile) {
		fmt.Fprintf(out, "Google: already authorized (%s). Use --force to re-authorize.\n\n", cfg.TokenFile)
		return nil
	}

	fmt.Fprintln(out, "Google: authorizing scopes:")
	for _, s := range scopes {
		fmt.Fprintf(out, "  - %s\n", s)
	}
	fmt.Fprintln(out)

	oauthCfg, err := client.GoogleConfig(cfg.ClientSecretFile, scopes...)
	if err != nil {
		return err
	}
	if err := client.Authorize(cmd.Context(), oauthCfg, cfg.TokenFile); err != nil {
		return fmt.Errorf("google authorization failed: %w", err)
	}
	fmt.Fprintf(out, "Google: token saved to %s\n\n", cfg.TokenFile)
	return nil
}

func setupFortnox(cmd *cobra.Command, out io.Writer, cfg config.Config, force bool) error {
	fc := cfg.Fortnox
	if fc.ClientID == "" || fc.ClientSecret == "" {
		return errors.New("FORTNOX_CLIENT_ID and FORTNOX_CLIENT_SECRET are required for the fortnox writer\n\n" +
			"Create an integration in the Fortnox developer portal with the redirect URI " + client.RedirectURL)
	}

	if !force && client.HasToken(fc.TokenFile) {
		fmt.Fprintf(out, "Fortnox: already authorized (%s). Use --force to re-authorize.\n\n", fc.TokenFile)
		return nil
	}

	fmt.Fprintf(out, "Fortnox: authorizing scopes %s\n", strings.Join(client.FortnoxScopes, ", "))
	if err := client.Authorize(cmd.Context(), client.FortnoxConfig(fc.ClientID, fc.ClientSecret), fc.TokenFile); err != nil {
		return fmt.Errorf("fortnox authorization failed: %w", err)
	}
	fmt.Fprintf(out, "Fortnox: token saved to %s\n\n", fc.TokenFile)
	return nil
}

func setupKleer(cmd *cobra.Command, out io.Writer, cfg config.Config, force bool) error {
	kc := cfg.Kleer
	if kc.ClientID == "" || kc.ClientSecret == "" {
		return errors.New("KLEER_CLIENT_ID and KLEER_CLIENT_SECRET are required for the kleer writer\n\n" +
			"Register the redirect URI " + client.RedirectURL + " with your Kleer API client")
	}

	if !force && client.HasToken(kc.TokenFile) {
		fmt.Fprintf(out, "Kleer: already authorized (%s). Use --force to re-authorize.\n\n", kc.TokenFile)
		return nil
	}

	fmt.Fprintf(out, "Kleer: authorizing scopes %s\n", strings.Join(client.KleerScopes, ", "))
	if err := client.Authorize(cmd.Context(), client.KleerConfig(kc.ClientID, kc.ClientSecret), kc.TokenFile); err != nil {
		return fmt.Errorf("kleer authorization failed: %w", err)
	}
	fmt.Fprintf(out, "Kleer: token saved to %s\n\n", kc.TokenFile)
	return nil
}
