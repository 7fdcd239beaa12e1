package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	rbridge "github.com/wagiedev/rbridge-go"
	"github.com/wagiedev/rbridge-go/internal/admin"
	"github.com/wagiedev/rbridge-go/internal/config"
)

// shutdownGrace is added to the kill timeout when bounding Close.
const shutdownGrace = 5 * time.Second

func newServeCmd(flags *globalFlags) *cobra.Command {
	var port int

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Listen and run the configured workers until interrupted",
		RunE: func(cmd *cobra.Command, _ []string) error {
			file, err := flags.loadConfig()
			if err != nil {
				return err
			}

			if cmd.Flags().Changed("port") {
				file.Listen.Port = port
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			return runServe(ctx, flags, file)
		},
	}

	cmd.Flags().IntVarP(&port, "port", "p", 0, "Listener port (overrides config)")

	return cmd
}

func runServe(ctx context.Context, flags *globalFlags, file *config.File) error {
	log, err := flags.logger(os.Stderr, file)
	if err != nil {
		return err
	}

	opts, err := file.Options()
	if err != nil {
		return err
	}

	b := rbridge.New(
		rbridge.WithOptions(opts),
		rbridge.WithLogger(log),
		rbridge.WithStdout(func(workerID, line string) {
			log.Info("Worker output", "worker_id", workerID, "stream", "stdout", "line", line)
		}),
		rbridge.WithStderr(func(workerID, line string) {
			log.Warn("Worker output", "worker_id", workerID, "stream", "stderr", "line", line)
		}),
	)

	for _, wc := range file.Workers {
		b.WhenReady(func() {
			startWorker(log, b, wc)
		})
	}

	if err := b.Listen(ctx); err != nil {
		return fmt.Errorf("listen: %w", err)
	}

	log.Info("Bridge listening", "addr", b.Addr().String(), "workers", len(file.Workers))

	g, gctx := errgroup.WithContext(ctx)

	if file.Admin.Listen != "" {
		srv := admin.New(admin.Config{Listen: file.Admin.Listen}, b, log)
		g.Go(func() error { return srv.Start(gctx) })
	}

	g.Go(func() error {
		<-gctx.Done()

		log.Info("Shutting down")

		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(gctx), opts.KillTimeout+shutdownGrace)
		defer cancel()

		return b.Close(shutdownCtx)
	})

	return g.Wait()
}

func startWorker(log *slog.Logger, b *rbridge.Bridge, wc config.WorkerConfig) {
	w, err := b.Start(rbridge.Program{
		Name: wc.Name,
		Path: wc.Path,
		Args: wc.Args,
		Env:  wc.Env,
		Cwd:  wc.Cwd,
	})
	if err != nil {
		log.Error("Failed to start worker", "name", wc.Name, "path", wc.Path, "error", err)

		return
	}

	if err := w.SpawnErr(); err != nil {
		log.Error("Worker process did not start", "name", wc.Name, "worker_id", w.ID(), "error", err)

		return
	}

	log.Info("Worker spawned", "name", wc.Name, "worker_id", w.ID(), "pid", w.Process().Pid())
}
