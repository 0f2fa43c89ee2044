// Command fintrack serves the ledger API and runs ledger maintenance tasks.
package main

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"fintrack/internal/cli"
	"fintrack/internal/config"
	"fintrack/internal/log"
)

// rootState is filled by the root command's PersistentPreRunE.
type rootState struct {
	envFile string
	output  string

	cfg    *config.Config
	logger *log.Logger
}

func main() {
	if err := newRootCommand().ExecuteContext(context.Background()); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	state := &rootState{}
	root := &cobra.Command{
		Use:           "fintrack",
		Short:         "Double-entry personal finance ledger",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			if state.envFile != "" {
				cli.LoadEnvFile(state.envFile)
			} else {
				cli.LoadEnvFile()
			}
			cfg, err := cli.LoadAndValidateConfig()
			if err != nil {
				return err
			}
			if err := checkOutputFormat(state.output); err != nil {
				return err
			}
			state.cfg = cfg
			state.logger = cli.SetupLogger(cfg)
			return nil
		},
	}
	root.PersistentFlags().StringVar(&state.envFile, "env-file", "", "dotenv file to load (default .env)")
	root.PersistentFlags().StringVarP(&state.output, "output", "o", "text", "output format: text, json or yaml")

	root.AddCommand(
		newServeCommand(state),
		newProcessDueCommand(state),
		newRunRuleCommand(state),
		newBalanceCommand(state),
		newAuditCommand(state),
		newEventsCommand(state),
	)
	return root
}

// withApp opens the backend for the duration of fn.
func withApp(cmd *cobra.Command, state *rootState, fn func(ctx context.Context, app *cli.App) error) error {
	ctx := cmd.Context()
	app, err := cli.NewApp(ctx, state.cfg, state.logger)
	if err != nil {
		return err
	}
	defer func() {
		if err := app.Close(); err != nil {
			state.logger.Error("Failed to close backend", "error", err)
		}
	}()
	return fn(ctx, app)
}
