// Command example runs poll against a local mock: two services that keep
// changing and a deployment that stops being polled once it settles.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jpalmerr/poll/example/mock"
	"github.com/jpalmerr/poll/watch"
)

func main() {
	logger := slog.Default()

	go func() {
		srv := &http.Server{Addr: ":9999", Handler: mock.Handler(logger), ReadHeaderTimeout: 10 * time.Second}
		if err := srv.ListenAndServe(); err != nil {
			logger.Error("mock server error", "error", err)
		}
	}()
	time.Sleep(100 * time.Millisecond)

	var targets []watch.Target
	for _, svc := range []string{"users", "orders"} {
		t, err := watch.NewTarget(svc, "http://localhost:9999/health?svc="+svc,
			watch.WithLabels("kind", "service"),
		)
		if err != nil {
			logger.Error("failed to create target", "error", err)
			os.Exit(1)
		}
		targets = append(targets, t)
	}

	deploy, err := watch.NewTarget("deploy-42", "http://localhost:9999/deploys/42",
		watch.WithLabels("kind", "deploy"),
		watch.WithInterval(2*time.Second),
		watch.WithStopWhen(watch.StatusUp, watch.StatusDown),
	)
	if err != nil {
		logger.Error("failed to create target", "error", err)
		os.Exit(1)
	}
	targets = append(targets, deploy)

	r, err := watch.New(
		watch.WithTargets(targets...),
		watch.WithTitle("poll demo"),
		watch.WithPort(8080),
		watch.WithChangeCallback(func(c watch.Change) {
			if c.Target.Name() != deploy.Name() || c.State.ShouldRefresh || c.State.IsRefreshing {
				return
			}
			if reading, ok := c.State.Value.Get(); ok {
				logger.Info("deploy settled", "status", reading.Status.String())
			}
		}),
	)
	if err != nil {
		logger.Error("failed to create runner", "error", err)
		os.Exit(1)
	}

	fmt.Println()
	fmt.Println("  poll demo")
	fmt.Println()
	fmt.Println("  Dashboard: http://localhost:8080")
	fmt.Println("  API:       http://localhost:8080/api/watches")
	fmt.Println()
	fmt.Println("  users, orders  polled every 5s, forever")
	fmt.Println("  deploy-42      polled every 2s until it settles")
	fmt.Println()
	fmt.Println("  Press Ctrl+C to stop")
	fmt.Println()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := r.Start(ctx); err != nil {
		logger.Error("poll error", "error", err)
		os.Exit(1)
	}
}
