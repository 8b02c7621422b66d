package main

import (
	"fmt"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/jpalmerr/poll/config"
	"github.com/jpalmerr/poll/watch"
)

const shutdownTimeout = 10 * time.Second

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Poll the configured watches and serve the dashboard",
	Long: `Load the config file, poll every watch on its interval and serve the
dashboard, the JSON API and the SSE stream on the configured port.

Runs until interrupted (Ctrl+C) or sent SIGTERM.

Example:
  poll watch -c poll.yaml
  poll watch -c poll.yaml --log-format json --log-level debug`,
	RunE: runWatch,
}

func init() {
	rootCmd.AddCommand(watchCmd)

	watchCmd.Flags().StringP("config", "c", "", "path to config file (required)")
	watchCmd.Flags().String("log-format", "text", "log format: text or json")
	watchCmd.Flags().String("log-level", "info", "log level: debug, info, warn or error")
	_ = watchCmd.MarkFlagRequired("config")
}

func runWatch(cmd *cobra.Command, args []string) error {
	format, _ := cmd.Flags().GetString("log-format")
	level, _ := cmd.Flags().GetString("log-level")
	logger, err := newLogger(cmd.ErrOrStderr(), format, level)
	if err != nil {
		return err
	}

	configFile, _ := cmd.Flags().GetString("config")
	cfg, err := config.Load(configFile)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	opts, err := config.RunnerOptions(cfg)
	if err != nil {
		return fmt.Errorf("failed to build watches: %w", err)
	}
	opts = append(opts, watch.WithLogger(logger))

	r, err := watch.New(opts...)
	if err != nil {
		return fmt.Errorf("failed to create runner: %w", err)
	}

	logger.Info("config loaded",
		"watches", len(cfg.Watches),
		"port", cfg.Port,
		"interval", cfg.Interval.Duration().String(),
	)

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	errChan := make(chan error, 1)
	go func() {
		errChan <- r.Start(ctx)
	}()

	select {
	case err := <-errChan:
		if err != nil {
			return fmt.Errorf("watch error: %w", err)
		}
	case <-ctx.Done():
		select {
		case err := <-errChan:
			if err != nil {
				return fmt.Errorf("watch error: %w", err)
			}
		case <-time.After(shutdownTimeout):
			logger.Warn("shutdown timed out",
				"timeout", shutdownTimeout.String(),
				"action", "forcing exit",
			)
			return nil
		}
	}

	logger.Info("shutdown complete")
	return nil
}
