package main

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/ashureev/capdeploy/internal/executor"
	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"
)

func creditCmd() *cobra.Command {
	var userID string

	cmd := &cobra.Command{
		Use:   "credit ASSET AMOUNT",
		Short: "Add funds to a user's simulated ledger",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			amount, err := decimal.NewFromString(args[1])
			if err != nil {
				return fmt.Errorf("invalid amount %q: %w", args[1], err)
			}
			return withApp(cmd.Context(), func(a *app) error {
				balances, err := a.exec.Credit(cmd.Context(), userID, args[0], amount)
				if err != nil {
					return err
				}
				out := cmd.OutOrStdout()
				for _, asset := range balances.Assets() {
					fmt.Fprintf(out, "%-8s %s\n", asset, balances[asset].String())
				}
				return nil
			})
		},
	}

	cmd.Flags().StringVarP(&userID, "user", "u", "local", "User to credit")
	return cmd
}

func balancesCmd() *cobra.Command {
	var userID string

	cmd := &cobra.Command{
		Use:   "balances",
		Short: "Show a user's balances, positions and pending plan",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(a *app) error {
				v, err := a.exec.View(cmd.Context(), userID)
				if err != nil {
					return err
				}
				printView(cmd.OutOrStdout(), v)
				return nil
			})
		},
	}

	cmd.Flags().StringVarP(&userID, "user", "u", "local", "User to inspect")
	return cmd
}

// withApp runs fn against a wired app without background workers.
func withApp(ctx context.Context, fn func(a *app) error) error {
	if ctx == nil {
		ctx = context.Background()
	}
	cfg, logger, err := setup(os.Stderr)
	if err != nil {
		return fmt.Errorf("load configuration: %w", err)
	}
	a, err := newApp(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer a.Close()
	return fn(a)
}

func printView(out io.Writer, v *executor.View) {
	fmt.Fprintf(out, "Stage: %s\n", v.Session.Stage)
	if v.PendingPlan != nil {
		fmt.Fprintf(out, "Pending plan: %s (%s %s on %s)\n",
			v.PendingPlan.ID, v.PendingPlan.CapitalUSD.String(), v.PendingPlan.Asset, v.PendingPlan.Chain)
	}

	fmt.Fprintln(out, "Balances:")
	for _, asset := range v.Balances.Assets() {
		fmt.Fprintf(out, "  %-8s %s\n", asset, v.Balances[asset].String())
	}

	fmt.Fprintf(out, "Positions: %d\n", len(v.Positions))
	for _, p := range v.Positions {
		fmt.Fprintf(out, "  %-24s %-10s %14s %s @ %s%%\n",
			p.Protocol, p.Chain, p.AmountUSD.StringFixed(2), p.Asset, p.BaseAPY.StringFixed(2))
	}
}
