package main

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"ai_feed/internal/model"
)

func newProvidersCommand(ctx *commandContext) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "providers",
		Short: "List AI providers in fallback order",
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

			providers, err := a.store.ListProviders(cmd.Context())
			if err != nil {
				return fmt.Errorf("list providers: %w", err)
			}
			if len(providers) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "No providers configured")
				return nil
			}

			rows := make([][]string, 0, len(providers))
			for _, p := range providers {
				rows = append(rows, providerRow(p))
			}
			fmt.Fprintln(cmd.OutOrStdout(), renderTable(
				[]string{"ID", "Name", "Type", "Model", "Priority", "Active", "Limit/min", "Requests", "Failed", "Success"},
				rows,
				[]columnAlignment{alignLeft, alignLeft, alignLeft, alignLeft, alignRight, alignLeft, alignRight, alignRight, alignRight, alignRight},
			))
			return nil
		},
	}

	cmd.AddCommand(newProvidersTestCommand(ctx))
	return cmd
}

func newProvidersTestCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "test <provider-id>",
		Short: "Send a probe prompt to one provider",
		Args:  cobra.ExactArgs(1),
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

			text, err := a.orchestrator.TestProvider(cmd.Context(), args[0])
			if err != nil {
				return fmt.Errorf("provider %s: %w", args[0], err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Provider %s answered: %s\n", args[0], text)
			return nil
		},
	}
}

func providerRow(p model.Provider) []string {
	return []string{
		p.ID,
		p.Name,
		string(p.Type),
		p.Model,
		strconv.Itoa(p.Priority),
		yesNo(p.IsActive),
		strconv.Itoa(p.MaxRequestsPerMinute),
		strconv.FormatInt(p.TotalRequests, 10),
		strconv.FormatInt(p.FailedRequests, 10),
		formatPercent(p.SuccessRate()),
	}
}
