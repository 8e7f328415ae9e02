package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "ticketbot",
	Short: "Support ticket lifecycle service",
	Long: `ticketbot runs support tickets as private chat channels.
Members open tickets, staff claim and close them, and two background sweeps
warn about and then close tickets whose creator has gone quiet.
Configuration is read from the environment (and a .env file when present).`,
	SilenceUsage: true,
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	registerCommands()
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		stop()
		os.Exit(1)
	}
}

func registerCommands() {
	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(migrateCmd())
	rootCmd.AddCommand(sweepCmd())

	tokenCmd := &cobra.Command{Use: "token", Short: "Gateway token commands"}
	tokenCmd.AddCommand(tokenIssueCmd())
	rootCmd.AddCommand(tokenCmd)

	configCmd := &cobra.Command{Use: "config", Short: "Community settings commands"}
	configCmd.AddCommand(configShowCmd())
	rootCmd.AddCommand(configCmd)
}
