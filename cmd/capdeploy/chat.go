package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/ashureev/capdeploy/internal/dialogue"
	"github.com/spf13/cobra"
)

func chatCmd() *cobra.Command {
	var userID string

	cmd := &cobra.Command{
		Use:   "chat",
		Short: "Talk to the planner from the terminal",
		Long: `Starts an interactive session for one user. Type a request such as
"deploy 250k USDC on Solana with medium risk", answer the follow-up
questions, then reply yes or no. Type exit to leave.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			// Logs go to stderr so they do not interleave with the conversation.
			cfg, logger, err := setup(os.Stderr)
			if err != nil {
				return fmt.Errorf("load configuration: %w", err)
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			a, err := newApp(ctx, cfg, logger)
			if err != nil {
				return err
			}
			defer a.Close()
			a.startBackground(ctx)

			return chat(ctx, a.controller, userID, cmd.InOrStdin(), cmd.OutOrStdout())
		},
	}

	cmd.Flags().StringVarP(&userID, "user", "u", "local", "User to chat as")
	return cmd
}

// chat reads one message per line from in and writes each reply to out until
// EOF, an exit command or ctx is done.
func chat(ctx context.Context, c *dialogue.Controller, userID string, in io.Reader, out io.Writer) error {
	scanner := bufio.NewScanner(in)
	fmt.Fprint(out, "> ")
	for scanner.Scan() {
		if ctx.Err() != nil {
			return nil
		}
		text := strings.TrimSpace(scanner.Text())
		switch strings.ToLower(text) {
		case "":
			fmt.Fprint(out, "> ")
			continue
		case "exit", "quit":
			return nil
		}

		// Unknown errors are logged by the controller; the reply carries the
		// text to show.
		reply, _ := c.Handle(ctx, userID, text)
		fmt.Fprintln(out, reply.Text)
		if reply.Question != "" && !strings.Contains(reply.Text, reply.Question) {
			fmt.Fprintln(out, reply.Question)
		}
		fmt.Fprint(out, "> ")
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("read input: %w", err)
	}
	return nil
}
