// Command virtad serves the order-processing workflow over HTTP,
// backed by a SQLite event log and task queue.
package main

import (
	"context"
	"database/sql"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "modernc.org/sqlite"

	"github.com/mlahtinen/virta"
	"github.com/mlahtinen/virta/internal/httpapi"
	"github.com/mlahtinen/virta/pkg/order"
)

func main() {
	var (
		addr    = flag.String("addr", ":8080", "HTTP listen address")
		dbPath  = flag.String("db", "virta.db", "SQLite database path")
		workers = flag.Int("workers", 4, "worker pool size")
		fast    = flag.Bool("fast", false, "skip the simulated activity latency")
	)
	flag.Parse()

	logger := slog.New(slog.NewTextHandler(os.Stderr, nil))

	if err := run(logger, *addr, *dbPath, *workers, *fast); err != nil {
		logger.Error("virtad exited", slog.Any("error", err))
		os.Exit(1)
	}
}

func run(logger *slog.Logger, addr, dbPath string, workers int, fast bool) error {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer db.Close()
	// modernc.org/sqlite serializes writes; a single connection avoids
	// SQLITE_BUSY under concurrent workers.
	db.SetMaxOpenConns(1)

	sim := order.DefaultSimulation()
	if fast {
		sim = order.Simulation{}
	}

	metrics := &virta.BasicMetrics{}
	rt, err := virta.NewSQLiteRuntime(db, order.Definition(), order.NewRegistry(sim), virta.Options{
		Observer: virta.NewCompositeObserver(virta.NewLoggingObserver(logger), metrics),
		Logger:   logger,
	})
	if err != nil {
		return fmt.Errorf("build runtime: %w", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Re-dispatch anything a previous process left in flight before the
	// HTTP surface accepts new work.
	recovered, err := rt.Recover(ctx)
	if err != nil {
		return fmt.Errorf("recover instances: %w", err)
	}
	if recovered > 0 {
		logger.Info("recovered running instances", slog.Int("count", recovered))
	}

	if err := rt.StartWorkers(ctx, workers); err != nil {
		return fmt.Errorf("start workers: %w", err)
	}
	defer rt.Stop()

	srv := &http.Server{
		Addr:              addr,
		Handler:           httpapi.New(rt.Engine, logger, rt.WorkersRunning).Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("virtad listening",
			slog.String("addr", addr),
			slog.String("db", dbPath),
			slog.Int("workers", workers))
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		logger.Info("shutting down")
	case err := <-errCh:
		return err
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("shutdown: %w", err)
	}
	return nil
}
