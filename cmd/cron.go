package main

import (
	"context"
	"os/signal"
	"syscall"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/platter/internal/session"
)

// scheduledWait bounds one scheduled search.
const scheduledWait = 2 * time.Hour

var cronOnce bool

var cronCmd = &cobra.Command{
	Use:   "cron",
	Short: "Run the configured searches on a schedule",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		env, err := initApp(ctx, "cron")
		if err != nil {
			return err
		}
		defer env.Close(shutdownGrace)

		if cronOnce {
			runScheduled(ctx, env.Pipeline, cfg.Schedule.Queries)
			if env.Checker != nil {
				env.Checker.Check(ctx)
			}
			return nil
		}

		if env.Checker != nil {
			go env.Checker.Run(ctx)
		}

		sched, err := newScheduler(ctx, env.Pipeline, cfg.Schedule.Spec, cfg.Schedule.Queries)
		if err != nil {
			return err
		}
		sched.Start()
		zap.L().Info("scheduler started",
			zap.String("spec", cfg.Schedule.Spec),
			zap.Strings("queries", cfg.Schedule.Queries),
		)

		<-ctx.Done()
		zap.L().Info("stopping scheduler")
		<-sched.Stop().Done()
		return nil
	},
}

// searchRunner starts a search and waits for it.
type searchRunner interface {
	Start(ctx context.Context, query string) (string, error)
	Wait(ctx context.Context, id string, every time.Duration) (*session.Session, error)
}

// newScheduler registers one job that runs every query in order. Jobs stop
// waiting once ctx ends.
func newScheduler(ctx context.Context, sr searchRunner, spec string, queries []string) (*cron.Cron, error) {
	parser := cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)
	c := cron.New(
		cron.WithParser(parser),
		cron.WithChain(cron.SkipIfStillRunning(cron.DefaultLogger), cron.Recover(cron.DefaultLogger)),
	)
	if _, err := c.AddFunc(spec, func() {
		runScheduled(ctx, sr, queries)
	}); err != nil {
		return nil, eris.Wrapf(err, "cron: parse schedule %q", spec)
	}
	return c, nil
}

// runScheduled runs queries one after another so scheduled searches never
// compete for research and generation quota.
func runScheduled(ctx context.Context, sr searchRunner, queries []string) {
	log := zap.L().With(zap.String("component", "cron"))
	for _, q := range queries {
		if ctx.Err() != nil {
			return
		}
		id, err := sr.Start(ctx, q)
		if err != nil {
			log.Error("cron: start search", zap.String("query", q), zap.Error(err))
			continue
		}
		log.Info("cron: search started", zap.String("query", q), zap.String("search_id", id))

		waitCtx, cancel := context.WithTimeout(ctx, scheduledWait)
		sess, err := sr.Wait(waitCtx, id, 5*time.Second)
		cancel()
		if err != nil {
			log.Error("cron: wait for search", zap.String("search_id", id), zap.Error(err))
			continue
		}
		log.Info("cron: search finished",
			zap.String("search_id", id),
			zap.String("status", string(sess.Status)),
			zap.Int("completed", sess.Completed),
			zap.Int("total", sess.Total),
		)
	}
}

func init() {
	cronCmd.Flags().BoolVar(&cronOnce, "once", false, "run the queries immediately and exit")
	rootCmd.AddCommand(cronCmd)
}
