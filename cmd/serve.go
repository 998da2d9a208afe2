package main

import (
	"context"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/platter/internal/api"
)

const shutdownGrace = 30 * time.Second

var (
	servePort     int
	serveSchedule bool
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP API",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		if serveSchedule {
			if err := cfg.Validate("cron"); err != nil {
				return err
			}
		}
		env, err := initApp(ctx, "serve")
		if err != nil {
			return err
		}
		defer env.Close(shutdownGrace)

		port := servePort
		if port == 0 {
			port = cfg.Server.Port
		}

		srv := &http.Server{
			Addr:              fmt.Sprintf(":%d", port),
			Handler:           buildAPI(env).Handler(),
			ReadHeaderTimeout: 10 * time.Second,
		}

		if serveSchedule {
			sched, err := newScheduler(ctx, env.Pipeline, cfg.Schedule.Spec, cfg.Schedule.Queries)
			if err != nil {
				return err
			}
			sched.Start()
			defer func() { <-sched.Stop().Done() }()
		}

		if env.Checker != nil {
			go env.Checker.Run(ctx)
		}

		// Graceful shutdown
		go func() {
			<-ctx.Done()
			zap.L().Info("shutting down server")
			shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
			defer cancel()
			_ = srv.Shutdown(shutdownCtx)
		}()

		zap.L().Info("starting server", zap.Int("port", port), zap.Bool("schedule", serveSchedule))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return eris.Wrap(err, "server listen")
		}

		return nil
	},
}

func buildAPI(env *appEnv) *api.Server {
	opts := []api.Option{
		api.WithMetrics(env.Metrics),
		api.WithAllowedOrigins(cfg.Server.AllowedOrigins),
	}
	if env.Sites != nil {
		opts = append(opts, api.WithDeployer(env.Sites))
	}
	if cfg.Deploy.Target == "local" {
		opts = append(opts, api.WithSitesDir(cfg.Deploy.WebsitesDir))
	}
	return api.NewServer(env.Pipeline, env.Store, opts...)
}

func init() {
	serveCmd.Flags().IntVar(&servePort, "port", 0, "server port (default from config)")
	serveCmd.Flags().BoolVar(&serveSchedule, "schedule", false, "also run the scheduled searches in-process")
	rootCmd.AddCommand(serveCmd)
}
