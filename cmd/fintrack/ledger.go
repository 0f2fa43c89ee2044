package main

import (
	"context"
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"fintrack/internal/cli"
	"fintrack/internal/core"
)

type balanceRow struct {
	AccountID string `json:"account_id"`
	Name      string `json:"name"`
	Currency  string `json:"currency"`
	Cached    string `json:"cached"`
	Ledger    string `json:"ledger"`
	Drift     string `json:"drift"`
	InSync    bool   `json:"in_sync"`
}

func newBalanceCommand(state *rootState) *cobra.Command {
	return &cobra.Command{
		Use:   "balance [ACCOUNT_ID]",
		Short: "Show cached and ledger-derived balances",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, state, func(ctx context.Context, app *cli.App) error {
				var accounts []core.Account
				if len(args) == 1 {
					a, err := app.Accounts.Get(ctx, args[0])
					if err != nil {
						return err
					}
					accounts = []core.Account{*a}
				} else {
					var err error
					if accounts, err = app.Accounts.List(ctx); err != nil {
						return err
					}
				}

				rows := make([]balanceRow, 0, len(accounts))
				for _, a := range accounts {
					report, err := app.Accounts.LedgerBalance(ctx, a.ID)
					if err != nil {
						return err
					}
					rows = append(rows, newBalanceRow(a, report))
				}
				return render(cmd.OutOrStdout(), state.output, rows, func(w io.Writer) error {
					return printBalances(w, rows)
				})
			})
		},
	}
}

func newBalanceRow(a core.Account, report core.BalanceReport) balanceRow {
	return balanceRow{
		AccountID: a.ID,
		Name:      a.Name,
		Currency:  a.Currency,
		Cached:    report.Cached.StringFixed(2),
		Ledger:    report.Ledger.StringFixed(2),
		Drift:     report.Drift().StringFixed(2),
		InSync:    report.InSync(),
	}
}

func printBalances(w io.Writer, rows []balanceRow) error {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ACCOUNT\tNAME\tCURRENCY\tCACHED\tLEDGER\tDRIFT")
	for _, r := range rows {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\n", r.AccountID, r.Name, r.Currency, r.Cached, r.Ledger, r.Drift)
	}
	return tw.Flush()
}

func newAuditCommand(state *rootState) *cobra.Command {
	var failOnDrift bool
	cmd := &cobra.Command{
		Use:   "audit",
		Short: "List accounts whose cached balance disagrees with their ledger",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withApp(cmd, state, func(ctx context.Context, app *cli.App) error {
				drifted, err := app.Accounts.Audit(ctx)
				if err != nil {
					return err
				}
				total, err := app.Accounts.Total(ctx)
				if err != nil {
					return err
				}

				rows := make([]balanceRow, 0, len(drifted))
				for _, report := range drifted {
					a, err := app.Accounts.Get(ctx, report.AccountID)
					if err != nil {
						return err
					}
					rows = append(rows, newBalanceRow(*a, report))
				}
				err = render(cmd.OutOrStdout(), state.output, map[string]any{
					"drifted":     rows,
					"total_funds": total.StringFixed(2),
				}, func(w io.Writer) error {
					if len(rows) == 0 {
						_, err := fmt.Fprintf(w, "All accounts in sync. Total funds: %s\n", total.StringFixed(2))
						return err
					}
					if err := printBalances(w, rows); err != nil {
						return err
					}
					_, err := fmt.Fprintf(w, "\nTotal funds: %s\n", total.StringFixed(2))
					return err
				})
				if err != nil {
					return err
				}
				if failOnDrift && len(rows) > 0 {
					return fmt.Errorf("%d account(s) drifted from their ledger", len(rows))
				}
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&failOnDrift, "fail-on-drift", false, "exit non-zero when any account drifted")
	return cmd
}
