// Standalone mock server for trying the CLI.
//
// Usage:
//
//	go run ./example/cmd/mockserver
//
// Then in another terminal:
//
//	go run ./cmd/poll watch -c example/poll.yaml
package main

import (
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/jpalmerr/poll/example/mock"
)

func main() {
	fmt.Println("Mock server starting on :9999")
	fmt.Println("  /health?svc=NAME  cycles ok -> degraded -> down")
	fmt.Println("  /deploys/{id}     rolls out, then settles on ok or failed")
	fmt.Println("Press Ctrl+C to stop")
	fmt.Println()

	srv := &http.Server{
		Addr:              ":9999",
		Handler:           mock.Handler(slog.Default()),
		ReadHeaderTimeout: 10 * time.Second,
	}
	if err := srv.ListenAndServe(); err != nil {
		slog.Error("server error", "error", err)
		os.Exit(1)
	}
}
