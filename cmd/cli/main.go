package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"

	"github.com/linkeye/internal/cli/commands"
	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "linkeye",
	Short: "LinkEye CLI - optical link loss monitoring",
	Long: `LinkEye CLI talks to the LinkEye API to inspect monitored optical links,
their loss history and alerts, and to silence or acknowledge links.

Set LINKEYE_API_URL to point at the server and run "linkeye login" first.`,
	SilenceUsage: true,
}

func init() {
	rootCmd.AddCommand(commands.NewLoginCommand())
	rootCmd.AddCommand(commands.NewLinkCommand())
	rootCmd.AddCommand(commands.NewHistoryCommand())
	rootCmd.AddCommand(commands.NewAlertCommand())
	rootCmd.AddCommand(commands.NewInhibitCommand())
	rootCmd.AddCommand(commands.NewAckCommand())
	rootCmd.AddCommand(commands.NewSettingsCommand())
	rootCmd.AddCommand(commands.NewStatusCommand())
	rootCmd.AddCommand(commands.NewReportCommand())
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
