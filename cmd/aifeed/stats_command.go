package main

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"
)

func newStatsCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Show ingestion and categorization statistics",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			a, err := openApp(cmd.Context(), cfg, newLogger(cmd.ErrOrStderr(), cfg.LogLevel, cfg.LogFormat))
			if err != nil {
				return err
			}
			defer func() { _ = a.Close() }()

			st, err := a.store.Stats(cmd.Context())
			if err != nil {
				return fmt.Errorf("load stats: %w", err)
			}

			rows := [][]string{
				{"Sources", strconv.Itoa(st.TotalSources)},
				{"Active sources", strconv.Itoa(st.ActiveSources)},
				{"Items", strconv.Itoa(st.TotalItems)},
				{"Completed", strconv.Itoa(st.CompletedItems)},
				{"Pending", strconv.Itoa(st.PendingItems)},
				{"Processing", strconv.Itoa(st.ProcessingItems)},
				{"Failed", strconv.Itoa(st.FailedItems)},
				{"Processing rate", formatPercent(st.ProcessingRate())},
			}
			fmt.Fprintln(cmd.OutOrStdout(), renderTable(
				[]string{"Metric", "Value"},
				rows,
				[]columnAlignment{alignLeft, alignRight},
			))
			return nil
		},
	}
}
