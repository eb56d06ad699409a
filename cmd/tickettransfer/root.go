package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/goatkit/tickettransfer/internal/config"
	"github.com/goatkit/tickettransfer/internal/logger"
)

var (
	configPath string
	logLevel   string

	cfg     *config.Config
	log     *logrus.Logger
	rootCtx context.Context
)

var rootCmd = &cobra.Command{
	Use:           "tickettransfer",
	Short:         "Transfer helpdesk tickets to a remote instance",
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		loaded, err := config.Load(configPath)
		if err != nil {
			return err
		}
		cfg = loaded
		level := cfg.Log.Level
		if logLevel != "" {
			level = logLevel
		}
		log = logger.New(logger.Options{Level: level, Format: cfg.Log.Format, Output: os.Stderr})
		rootCtx = cmd.Context()
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "Path to a YAML config file")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "Override log.level (debug, info, warn, error)")

	ctx, _ := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	rootCmd.SetContext(ctx)

	rootCmd.AddCommand(serveCmd, transferCmd, historyCmd, configsCmd, timeoutLogsCmd)
}

func printf(cmd *cobra.Command, format string, args ...any) {
	fmt.Fprintf(cmd.OutOrStdout(), format, args...)
}
