package main

import (
	"fmt"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/jpalmerr/poll/config"
)

var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate a config file",
	Long: `Validate a config file without polling anything.

The YAML is parsed, environment variables are expanded and every watch is
built exactly as "poll watch" would build it.

Exit codes:
  0 - config is valid
  1 - config is invalid (details on stderr)

Example:
  poll validate -c poll.yaml`,
	RunE: runValidate,
}

func init() {
	rootCmd.AddCommand(validateCmd)

	validateCmd.Flags().StringP("config", "c", "", "path to config file (required)")
	_ = validateCmd.MarkFlagRequired("config")
}

func runValidate(cmd *cobra.Command, args []string) error {
	configFile, _ := cmd.Flags().GetString("config")
	cfg, err := config.Load(configFile)
	if err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	if _, err := config.BuildTargets(cfg); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Config is valid!\n")
	fmt.Fprintf(out, "  Port:     %d\n", cfg.Port)
	fmt.Fprintf(out, "  Interval: %s\n", cfg.Interval.Duration())
	fmt.Fprintf(out, "  Watches:  %d\n\n", len(cfg.Watches))

	tw := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "NAME\tINTERVAL\tSTOP WHEN\tURL")
	for _, w := range cfg.Watches {
		interval := "default"
		if w.Interval != 0 {
			interval = w.Interval.Duration().String()
		}
		stop := "-"
		if len(w.StopWhen) > 0 {
			stop = strings.Join(w.StopWhen, ",")
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", w.Name, interval, stop, w.URL)
	}
	return tw.Flush()
}
