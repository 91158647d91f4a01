// Command dispatchd is the task dispatcher daemon. It serves the worker
// line protocol, the admin HTTP API and, optionally, a SQLite task journal,
// all configured from one YAML file.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/GoCodeAlone/dispatch/comms"
	"github.com/GoCodeAlone/dispatch/config"
	"github.com/GoCodeAlone/dispatch/dispatch"
	"github.com/GoCodeAlone/dispatch/internal/version"
	"github.com/GoCodeAlone/dispatch/server"
	"github.com/GoCodeAlone/dispatch/task"
)

var configPath = flag.String("config", "", "path to YAML config file (defaults apply when empty)")

func main() {
	flag.Parse()

	cfg := config.DefaultConfig()
	if *configPath != "" {
		var err error
		if cfg, err = config.Load(*configPath); err != nil {
			fmt.Fprintf(os.Stderr, "dispatchd: %v\n", err)
			os.Exit(1)
		}
	}
	level, _ := config.ParseLevel(cfg.LogLevel) // validated by Load

	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: level}))
	logger.Info("starting dispatchd",
		"version", version.Version,
		"commit", version.Commit,
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Error("dispatchd failed", "error", err)
		os.Exit(1)
	}
	logger.Info("shutdown complete")
}

func run(ctx context.Context, cfg *config.Config, logger *slog.Logger) error {
	bus := comms.NewInMemoryBus(comms.DefaultHistory)
	g, ctx := errgroup.WithContext(ctx)

	// The recorder outlives the dispatcher so shutdown requeues are journaled.
	recCtx, stopRecorder := context.WithCancel(context.Background())
	defer stopRecorder()
	var recorder sync.WaitGroup

	var journal task.Journal
	if cfg.Journal.Path != "" {
		j, err := task.NewSQLiteJournal(cfg.Journal.Path)
		if err != nil {
			return err
		}
		defer j.Close()
		journal = j

		rec := comms.NewAsync(comms.JournalHandler(j), 256, logger.With("component", "journal"))
		unsubscribe := bus.Subscribe("*", rec.Handle)
		defer unsubscribe()
		recorder.Add(1)
		go func() {
			defer recorder.Done()
			rec.Run(recCtx) //nolint:errcheck
		}()
		defer recorder.Wait()
		defer stopRecorder()
		logger.Info("task journal enabled", "path", cfg.Journal.Path)
	}

	pool := task.NewPool(cfg.Pool.MaxTasks, logger.With("component", "pool"))
	d := dispatch.New(pool, cfg.DispatchOptions(), bus, logger.With("component", "dispatcher"))
	if _, err := d.Seed(ctx, cfg.Pool.Seed); err != nil {
		return err
	}

	g.Go(func() error {
		defer stopRecorder()
		return d.ListenAndServe(ctx, cfg.Server.Addr)
	})

	if cfg.Admin.Addr != "" {
		srv := server.New(cfg.Admin, version.Version, logger.With("component", "admin"))
		srv.SetDispatcher(d)
		srv.SetBus(bus)
		if journal != nil {
			srv.SetJournal(journal)
		}

		g.Go(srv.Start)
		g.Go(func() error {
			<-ctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			return srv.Stop(shutdownCtx)
		})
		if cfg.Admin.AdminPass == "" {
			logger.Warn("admin.admin_pass is empty; admin login is disabled")
		}
	}

	err := g.Wait()
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}
