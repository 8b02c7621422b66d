// Package main is the poll CLI: it watches the endpoints listed in a YAML
// file and serves their state.
//
// Usage:
//
//	poll watch -c poll.yaml     # poll and serve the dashboard
//	poll validate -c poll.yaml  # check a config file
//	poll version
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

// Set at build time via ldflags, e.g. -X main.version=1.0.0
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

var rootCmd = &cobra.Command{
	Use:   "poll",
	Short: "Poll HTTP endpoints until they settle",
	Long: `poll refreshes HTTP endpoints on an interval and serves their latest
state as a dashboard, a JSON API and a Server-Sent Events stream.

A watch can stop polling once it reaches a final status, which makes poll a
good fit for deployments, builds and other jobs that converge.

Example config:
  interval: 5s
  watches:
    - name: deploy
      url: https://ci.example.com/api/deploys/42
      extractor: json:state
      stop_when: [up, down]`,
	SilenceUsage: true,
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "poll %s\n", version)
		fmt.Fprintf(out, "  commit: %s\n", commit)
		fmt.Fprintf(out, "  built:  %s\n", date)
	},
}

func init() {
	rootCmd.AddCommand(versionCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
