package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/ArionMiles/mailvoucher/pkg/store"
)

func newIgnoreCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "ignore MESSAGE_ID...",
		Short: "Mark emails as ignored so they are never booked",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := a.loadConfig()
			if err != nil {
				return err
			}

			st, closeStore, err := store.Open(cmd.Context(), cfg.StoreBackend, cfg.StoreDir, cfg.Postgres.PG(), a.logger)
			if err != nil {
				return fmt.Errorf("opening store: %w", err)
			}
			defer closeStore()

			for _, id := range args {
				if err := st.MarkIgnored(cmd.Context(), id); err != nil {
					return fmt.Errorf("ignoring %s: %w", id, err)
				}
				fmt.Fprintf(cmd.OutOrStdout(), "ignored %s\n", id)
			}
			return nil
		},
	}
}
