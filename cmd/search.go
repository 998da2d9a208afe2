package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/sells-group/platter/internal/model"
	"github.com/sells-group/platter/internal/pipeline"
	"github.com/sells-group/platter/internal/session"
)

var (
	searchWait time.Duration
	searchJSON bool
)

const pollEvery = time.Second

var searchCmd = &cobra.Command{
	Use:   "search <query>",
	Short: "Run one search in-process and print its progress",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		env, err := initApp(ctx, "search")
		if err != nil {
			return err
		}
		defer env.Close(shutdownGrace)

		q := strings.Join(args, " ")
		id, err := env.Pipeline.Start(ctx, q)
		if err != nil {
			return err
		}
		fmt.Fprintf(os.Stderr, "search %s started\n", id)

		waitCtx, cancel := context.WithTimeout(ctx, searchWait)
		defer cancel()
		view, err := follow(waitCtx, env.Pipeline, id, os.Stderr, pollEvery)
		if err != nil {
			return err
		}

		cards, err := env.Pipeline.Results(ctx, id)
		if err != nil {
			return err
		}
		if err := printCards(os.Stdout, cards, searchJSON); err != nil {
			return err
		}
		if view.Status == session.StatusFailed {
			return eris.Errorf("search %s failed", id)
		}
		return nil
	},
}

// statusReader is the part of the pipeline follow needs.
type statusReader interface {
	Status(ctx context.Context, id string, since time.Time) (*pipeline.StatusView, error)
}

// follow prints new log lines until the session is terminal or ctx ends.
func follow(ctx context.Context, sr statusReader, id string, w io.Writer, every time.Duration) (*pipeline.StatusView, error) {
	var since time.Time
	ticker := time.NewTicker(every)
	defer ticker.Stop()

	for {
		view, err := sr.Status(ctx, id, since)
		if err != nil {
			return nil, err
		}
		for _, e := range view.Logs {
			fmt.Fprintf(w, "%s  %s\n", e.Time.Local().Format("15:04:05.000"), e.Message)
			since = e.Time
		}
		if view.Status.Terminal() {
			fmt.Fprintf(w, "%s: %d/%d processed\n", view.Status, view.Completed, view.Total)
			return view, nil
		}

		select {
		case <-ctx.Done():
			return nil, eris.Wrap(ctx.Err(), "waiting for search")
		case <-ticker.C:
		}
	}
}

func printCards(w io.Writer, cards []model.Card, asJSON bool) error {
	if asJSON {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(cards)
	}
	for _, c := range cards {
		fmt.Fprintf(w, "%-40s %-10s %s\n", c.Name, c.Status, c.LiveURL)
		if c.LiveURLClassic != "" {
			fmt.Fprintf(w, "%-40s %-10s %s\n", "", "", c.LiveURLClassic)
		}
	}
	return nil
}

func init() {
	searchCmd.Flags().DurationVar(&searchWait, "wait", 30*time.Minute, "how long to wait for the search to finish")
	searchCmd.Flags().BoolVar(&searchJSON, "json", false, "print results as JSON")
	rootCmd.AddCommand(searchCmd)
}
