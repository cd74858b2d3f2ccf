// capdeploy - conversational capital deployment server and CLI
package main

import (
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/ashureev/capdeploy/internal/config"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
)

const (
	Version = "0.1.0"
	appName = "capdeploy"
)

func main() {
	if err := rootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	var envFile string

	cmd := &cobra.Command{
		Use:   appName,
		Short: "Conversational capital deployment",
		Long: `capdeploy turns chat messages such as "deploy 250k USDC on Solana with
medium risk" into deployment plans, asks for confirmation and applies them
to a simulated ledger.

Configuration is read from the environment (and an optional .env file).`,
		SilenceUsage: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			if err := godotenv.Load(envFile); err != nil {
				slog.Debug("No .env file found, using environment variables", "path", envFile)
			}
		},
	}

	cmd.PersistentFlags().StringVar(&envFile, "env-file", ".env", "Path of an optional .env file")

	cmd.AddCommand(
		serveCmd(),
		chatCmd(),
		creditCmd(),
		balancesCmd(),
		&cobra.Command{
			Use:   "version",
			Short: "Print version information",
			Run: func(cmd *cobra.Command, args []string) {
				fmt.Fprintf(cmd.OutOrStdout(), "%s version %s\n", appName, Version)
			},
		},
	)

	return cmd
}

// setup loads the configuration and installs the default JSON logger on w.
func setup(w io.Writer) (*config.Config, *slog.Logger, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, nil, err
	}
	logger := slog.New(slog.NewJSONHandler(w, &slog.HandlerOptions{
		Level: cfg.LogLevel,
	}))
	slog.SetDefault(logger)
	return cfg, logger, nil
}
