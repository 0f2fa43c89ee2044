package main

import (
	"context"
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"fintrack/internal/cli"
	"fintrack/internal/core"
	"fintrack/internal/services"
)

func newProcessDueCommand(state *rootState) *cobra.Command {
	var asOf string
	var rounds int
	cmd := &cobra.Command{
		Use:   "process-due",
		Short: "Materialize every recurring rule due on or before a date",
		Long: "Runs ProcessDue repeatedly until no rule is due, so a rule that missed\n" +
			"several periods catches up. --rounds bounds the number of passes.",
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			date, err := core.ParseDate(asOf)
			if err != nil {
				return fmt.Errorf("invalid --as-of: %w", err)
			}
			return withApp(cmd, state, func(ctx context.Context, app *cli.App) error {
				result, err := processDue(ctx, app.Processor, date, rounds)
				if err != nil {
					return err
				}
				return render(cmd.OutOrStdout(), state.output, result, func(w io.Writer) error {
					return printProcessResult(w, result)
				})
			})
		},
	}
	cmd.Flags().StringVar(&asOf, "as-of", "", "process rules due on or before this date (YYYY-MM-DD, default today)")
	cmd.Flags().IntVar(&rounds, "rounds", services.DefaultSchedulerConfig().CatchUpRounds, "maximum catch-up passes")
	return cmd
}

// processDue repeats ProcessDue while it keeps creating transactions.
func processDue(ctx context.Context, processor *services.RecurringProcessor, asOf core.Date, rounds int) (*services.ProcessResult, error) {
	if rounds < 1 {
		rounds = 1
	}
	total := &services.ProcessResult{AsOf: asOf}
	for i := 0; i < rounds; i++ {
		result, err := processor.ProcessDue(ctx, asOf)
		if err != nil {
			return total, err
		}
		total.AsOf = result.AsOf
		total.Created = append(total.Created, result.Created...)
		total.Failures = append(total.Failures, result.Failures...)
		total.Deactivated = append(total.Deactivated, result.Deactivated...)
		if len(result.Created) == 0 {
			break
		}
	}
	return total, nil
}

func printProcessResult(w io.Writer, result *services.ProcessResult) error {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintf(tw, "As of %s: %d created, %d failed, %d deactivated\n",
		result.AsOf, len(result.Created), len(result.Failures), len(result.Deactivated))
	if len(result.Created) > 0 {
		fmt.Fprintln(tw, "\nRULE\tDATE\tTYPE\tAMOUNT\tTRANSACTION")
		for _, tx := range result.Created {
			fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n", tx.RecurringID, tx.Date, tx.Type, tx.Amount.StringFixed(2), tx.ID)
		}
	}
	for _, f := range result.Failures {
		fmt.Fprintf(tw, "failed\t%s\t%s\n", f.RuleID, f.Error)
	}
	for _, id := range result.Deactivated {
		fmt.Fprintf(tw, "deactivated\t%s\n", id)
	}
	return tw.Flush()
}

func newRunRuleCommand(state *rootState) *cobra.Command {
	var date string
	cmd := &cobra.Command{
		Use:   "run-rule RULE_ID",
		Short: "Materialize one recurring rule now, regardless of its schedule",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			on, err := core.ParseDate(date)
			if err != nil {
				return fmt.Errorf("invalid --date: %w", err)
			}
			return withApp(cmd, state, func(ctx context.Context, app *cli.App) error {
				tx, err := app.Processor.ProcessSingle(ctx, args[0], on)
				if err != nil {
					return err
				}
				return render(cmd.OutOrStdout(), state.output, tx, func(w io.Writer) error {
					_, err := fmt.Fprintf(w, "Created %s %s on %s from rule %s (%s)\n",
						tx.Type, tx.Amount.StringFixed(2), tx.Date, tx.RecurringID, tx.ID)
					return err
				})
			})
		},
	}
	cmd.Flags().StringVar(&date, "date", "", "transaction date (YYYY-MM-DD, default today)")
	return cmd
}
