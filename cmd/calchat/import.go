package main

import (
	"context"
	"fmt"
	"os"

	"github.com/ent0n29/calchat/internal/calendar"
	"github.com/spf13/cobra"
)

func newImportCmd(load configLoader) *cobra.Command {
	return &cobra.Command{
		Use:   "import <file.ics>",
		Short: "Import VEVENTs from an iCalendar file into the configured calendar store",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := load()
			if err != nil {
				return fmt.Errorf("config error: %w", err)
			}

			f, err := os.Open(args[0])
			if err != nil {
				return fmt.Errorf("open %s: %w", args[0], err)
			}
			defer f.Close()
			events, err := calendar.ImportICS(f)
			if err != nil {
				return err
			}

			store, err := calendar.NewStore(cmd.Context(), calendar.Config{
				Backend:    cfg.CalendarStore,
				SQLitePath: cfg.CalendarSQLitePath,
				LinkBase:   cfg.PublicURL,
			})
			if err != nil {
				return fmt.Errorf("calendar store init failed: %w", err)
			}
			defer store.Close()

			for i, ev := range events {
				ctx, cancel := context.WithTimeout(cmd.Context(), cfg.ExternalCallTimeout)
				created, err := store.Insert(ctx, ev)
				cancel()
				if err != nil {
					return fmt.Errorf("imported %d of %d events: %w", i, len(events), err)
				}
				fmt.Fprintf(cmd.OutOrStdout(), "+ %s  %s\n", created.Summary, created.Link)
			}
			_, err = fmt.Fprintf(cmd.OutOrStdout(), "imported %d events into %s store\n", len(events), cfg.CalendarStore)
			return err
		},
	}
}
