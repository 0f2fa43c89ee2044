package main

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"fintrack/internal/cli"
	"fintrack/internal/events"
)

func newEventsCommand(state *rootState) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "events",
		Short: "Inspect ledger events on the configured broker",
	}

	var group string
	tail := &cobra.Command{
		Use:   "tail",
		Short: "Print ledger events as they arrive",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, cancel := cli.SignalContext(cmd.Context(), state.logger)
			defer cancel()

			consumer, err := cli.NewEventConsumer(state.cfg, group)
			if err != nil {
				return err
			}
			defer consumer.Close()

			out := cmd.OutOrStdout()
			err = consumer.Consume(ctx, func(ev events.Event) error {
				return render(out, state.output, ev, func(w io.Writer) error {
					return printEvent(w, ev)
				})
			})
			if errors.Is(err, context.Canceled) {
				return nil
			}
			return err
		},
	}
	tail.Flags().StringVar(&group, "group", "fintrack-tail", "kafka consumer group")
	cmd.AddCommand(tail)
	return cmd
}

func printEvent(w io.Writer, ev events.Event) error {
	_, err := fmt.Fprintf(w, "%s  %-20s  %s  %s %s  %s\n",
		ev.OccurredAt.Format("2006-01-02T15:04:05Z07:00"),
		ev.Type,
		ev.Key(),
		ev.TxType,
		ev.Amount.StringFixed(2),
		ev.Date)
	return err
}
