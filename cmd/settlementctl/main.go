// Command settlementctl drives the development stack and talks to a running
// SettlementOps API.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
)

const defaultAPIURL = "http://localhost:8000"

var (
	composeFile string
	apiURL      string
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	rootCmd := newRootCommand()
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "settlementctl: %v\n", err)
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "settlementctl",
		Short: "SettlementOps development and case management CLI",
		Long: `settlementctl builds and runs the Docker stack, applies the database schema,
and manages cases against a running API: upload documents, run analyses,
chat about a case and export its checklist.`,
		SilenceUsage: true,
	}
	defaultURL := os.Getenv("SETTLEMENTOPS_API_URL")
	if defaultURL == "" {
		defaultURL = defaultAPIURL
	}
	cmd.PersistentFlags().StringVarP(&composeFile, "compose-file", "f", "docker-compose.yml", "Compose file to use for stack commands")
	cmd.PersistentFlags().StringVar(&apiURL, "api", defaultURL, "Base URL of the SettlementOps API")
	cmd.AddCommand(
		newBuildCmd(),
		newUpCmd(),
		newDownCmd(),
		newLogsCmd(),
		newTestCmd(),
		newRunCmd(),
		newMigrateCmd(),
		newCasesCmd(),
	)
	return cmd
}
