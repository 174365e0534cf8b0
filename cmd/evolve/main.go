package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/boristopalov/highway-evolution/internal/logging"
	"github.com/boristopalov/highway-evolution/pkg/config"
)

type rootOptions struct {
	configPath string
	logLevel   string
	logJSON    bool
}

func main() {
	for _, envFile := range []string{
		".env",
		"../../.env",
		"../../../.env",
	} {
		if err := godotenv.Load(envFile); err == nil {
			break
		}
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		stop()
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}
	rootCmd := &cobra.Command{
		Use:           "evolve",
		Short:         "Train a PPO driver on a highway simulator and render its evolution from random to trained.",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	rootCmd.PersistentFlags().StringVarP(&opts.configPath, "config", "c", "", "path to a YAML config file (defaults when empty)")
	rootCmd.PersistentFlags().StringVar(&opts.logLevel, "log-level", "", "log level override (debug, info, warn, error)")
	rootCmd.PersistentFlags().BoolVar(&opts.logJSON, "log-json", false, "emit JSON logs")

	rootCmd.AddCommand(
		newTrainCmd(opts),
		newRecordCmd(opts),
		newStitchCmd(opts),
		newRunCmd(opts),
		newHistoryCmd(opts),
		newConfigCmd(opts),
	)
	return rootCmd
}

// setup loads the configuration and builds the logger for a command
func (o *rootOptions) setup() (*config.Config, *zap.Logger, error) {
	cfg, err := config.Load(o.configPath)
	if err != nil {
		return nil, nil, err
	}
	if o.logLevel != "" {
		cfg.Logging.Level = o.logLevel
	}
	if o.logJSON {
		cfg.Logging.JSON = true
	}
	logger, err := logging.New(cfg.Logging.Level, cfg.Logging.JSON)
	if err != nil {
		return nil, nil, err
	}
	return cfg, logger, nil
}
