package main

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"
)

func newFetchCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "fetch <source-id>...",
		Short: "Ingest and categorize the given sources now",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			log := newLogger(cmd.ErrOrStderr(), cfg.LogLevel, cfg.LogFormat)

			a, err := openApp(cmd.Context(), cfg, log)
			if err != nil {
				return err
			}
			defer func() { _ = a.Close() }()

			var failed int
			rows := make([][]string, 0, len(args))
			for _, id := range args {
				src, err := a.store.GetSource(cmd.Context(), id)
				if err != nil {
					return fmt.Errorf("load source %s: %w", id, err)
				}

				status := "ok"
				if err := a.scheduler.ProcessSource(cmd.Context(), *src); err != nil {
					failed++
					status = err.Error()
				}

				if src, err = a.store.GetSource(cmd.Context(), id); err != nil {
					return fmt.Errorf("reload source %s: %w", id, err)
				}
				rows = append(rows, []string{src.ID, src.Name, strconv.Itoa(src.TotalItems), status})
			}

			fmt.Fprintln(cmd.OutOrStdout(), renderTable(
				[]string{"ID", "Name", "Items", "Result"},
				rows,
				[]columnAlignment{alignLeft, alignLeft, alignRight, alignLeft},
			))

			if failed > 0 {
				return fmt.Errorf("%d of %d sources failed", failed, len(args))
			}
			return nil
		},
	}
}
