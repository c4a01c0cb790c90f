package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/wakala/tradeguard/internal/config"
	"github.com/wakala/tradeguard/internal/logging"
)

var (
	cfgFile string
	cfg     *config.Config
	logger  *zap.Logger

	rootCmd = &cobra.Command{
		Use:   "tradeguard",
		Short: "Transaction risk screening and trade dispute resolution",
		Long: `tradeguard screens P2P transactions against monitoring rules, tracks the
resulting alerts and runs the dispute workflow for escrow-backed trades.`,
		SilenceUsage:      true,
		PersistentPreRunE: initConfig,
		PersistentPostRun: func(*cobra.Command, []string) {
			if logger != nil {
				_ = logger.Sync()
			}
		},
	}
)

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default: ./config.yaml when present)")

	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(reconcileCmd())
	rootCmd.AddCommand(rulesCmd())
	rootCmd.AddCommand(usersCmd())
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := rootCmd.ExecuteContext(ctx)
	stop()

	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func initConfig(_ *cobra.Command, _ []string) error {
	var err error
	cfg, err = config.Load(cfgFile)
	if err != nil {
		return err
	}
	logger, err = logging.New(cfg.Log.Level, cfg.Log.Format)
	if err != nil {
		return fmt.Errorf("failed to setup logging: %w", err)
	}
	return nil
}
