package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"docpipe-backend/internal/bootstrap"
	"docpipe-backend/internal/shared/config"
	"docpipe-backend/internal/shared/server"
	"docpipe-backend/internal/shared/telemetry"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var cfgFile string
	root := &cobra.Command{
		Use:           "worker",
		Short:         "Document pipeline worker",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default .env when present)")

	load := func(cmd *cobra.Command) (*bootstrap.App, error) {
		cfg, err := config.LoadFile(cfgFile)
		if err != nil {
			return nil, err
		}
		return bootstrap.Build(cmd.Context(), cfg)
	}

	root.AddCommand(
		&cobra.Command{
			Use:   "run",
			Short: "Consume the job queue until interrupted",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, _ []string) error {
				app, err := load(cmd)
				if err != nil {
					return err
				}
				defer app.Close()
				return run(cmd.Context(), app)
			},
		},
		&cobra.Command{
			Use:   "sweep",
			Short: "Fail and refund jobs stuck in running once",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, _ []string) error {
				app, err := load(cmd)
				if err != nil {
					return err
				}
				defer app.Close()
				n, err := app.Sweeper.Sweep(cmd.Context(), time.Now().UTC())
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "swept %d job(s)\n", n)
				return nil
			},
		},
		&cobra.Command{
			Use:   "process <job-id>",
			Short: "Process a single job outside the queue",
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				app, err := load(cmd)
				if err != nil {
					return err
				}
				defer app.Close()
				return app.Runner.ProcessJob(cmd.Context(), strings.TrimSpace(args[0]))
			},
		},
	)
	return root
}

// run drives the poll loop, the stuck-job sweeper and the ops server.
func run(ctx context.Context, app *bootstrap.App) error {
	if app.Consumer == nil {
		return errors.New("no queue backend configured")
	}
	cfg := app.Config

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		poll(gctx, pollConfig{
			Consumer:        app.Consumer,
			Processor:       app.Runner,
			Metrics:         app.Metrics,
			Concurrency:     cfg.WorkerConcurrency,
			ShutdownTimeout: cfg.ShutdownTimeout,
		})
		return nil
	})
	g.Go(func() error {
		return app.Sweeper.Run(gctx, cfg.JobSweepInterval)
	})
	if cfg.MetricsPort != "" {
		srv := &http.Server{
			Addr:              server.Addr(cfg.MetricsPort),
			Handler:           server.NewOpsRouter(app.Health, app.Metrics),
			ReadHeaderTimeout: 5 * time.Second,
		}
		g.Go(func() error {
			telemetry.Info("worker.ops_listening", map[string]any{"addr": srv.Addr})
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		})
		g.Go(func() error {
			<-gctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		})
	}

	telemetry.Info("worker.started", map[string]any{
		"queue_backend": cfg.QueueBackend,
		"concurrency":   cfg.WorkerConcurrency,
		"quality_mode":  cfg.QualityMode,
	})
	return g.Wait()
}
