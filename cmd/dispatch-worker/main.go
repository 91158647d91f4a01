// Command dispatch-worker connects to a dispatcher and executes tasks until
// the server hangs up or the process is interrupted.
package main

import (
	"context"
	"errors"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/GoCodeAlone/dispatch/client"
	"github.com/GoCodeAlone/dispatch/config"
	"github.com/GoCodeAlone/dispatch/internal/version"
)

func main() {
	var (
		addr     = flag.String("addr", "127.0.0.1:8080", "dispatcher address")
		poll     = flag.Duration("poll", client.DefaultPollInterval, "wait after NO_TASK or an error response")
		delay    = flag.Duration("delay", time.Second, "simulated work per task")
		logLevel = flag.String("log-level", "info", "debug, info, warn or error")
	)
	flag.Parse()

	level, err := config.ParseLevel(*logLevel)
	if err != nil {
		slog.Error("invalid flag", "error", err)
		os.Exit(2)
	}
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: level}))
	logger.Info("starting dispatch-worker", "version", version.Version, "addr", *addr)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	w := client.New(*addr, client.Options{
		Executor:     client.DefaultExecutor{Delay: *delay},
		PollInterval: *poll,
		Logger:       logger,
	})
	err = w.Run(ctx)
	logger.Info("worker stopped", "completed", w.Completed())
	if err != nil && !errors.Is(err, client.ErrServerClosed) {
		logger.Error("worker failed", "error", err)
		os.Exit(1)
	}
}
