// Command grouptalk runs the group chat server.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/and161185/grouptalk/internal/config"
)

var (
	version   = "dev"
	buildDate = "unknown"
)

func main() {
	rootCmd := &cobra.Command{
		Use:           "grouptalk",
		Short:         "Real-time group chat server",
		Long:          `grouptalk serves group chat over websockets, backed by PostgreSQL and a badger cache.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	rootCmd.AddCommand(serveCmd(), migrateCmd(), versionCmd())

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	err := rootCmd.ExecuteContext(ctx)
	stop()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %s\n", err)
		os.Exit(1)
	}
}

// newLogger builds a development logger for GT_LOG_LEVEL=debug and a
// production one otherwise.
func newLogger(cfg config.Config) (*zap.Logger, error) {
	if cfg.Debug() {
		return zap.NewDevelopment()
	}
	return zap.NewProduction()
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, _ []string) {
			cmd.Printf("grouptalk %s (built %s)\n", version, buildDate)
		},
	}
}
