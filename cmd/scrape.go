package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"maintscraper/internal/core/record"
	"maintscraper/internal/core/run"
	"maintscraper/internal/core/session"
)

func newScrapeCommand(a *app) *cobra.Command {
	var (
		start, stop int
		workers     int
		headless    bool
	)
	cmd := &cobra.Command{
		Use:       "scrape requests|orders",
		Short:     "Scrape a key range with parallel workers",
		Args:      cobra.ExactArgs(1),
		ValidArgs: []string{"requests", "orders"},
		RunE: func(cmd *cobra.Command, args []string) error {
			kind, err := record.ParseKind(args[0])
			if err != nil {
				return err
			}
			if !cmd.Flags().Changed("workers") {
				workers = a.cfg.Workers
			}
			if !cmd.Flags().Changed("headless") {
				headless = a.cfg.Headless
			}

			ctx, stopSignals := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stopSignals()

			settings := run.SettingsFrom(a.cfg, a.logFile)
			settings.Headless = headless
			open := envFactory(session.NewTerminalPrompter(), a.log)
			runtime := &run.ProcessRuntime{Log: a.log}

			orch, err := run.NewOrchestrator(ctx, settings, open, runtime, a.log)
			if err != nil {
				return err
			}
			defer func() {
				if err := orch.Close(); err != nil {
					a.log.LogWarnf("close: %v", err)
				}
			}()

			job := run.Job{Kind: kind, Start: start, Stop: stop, Workers: workers, Headless: headless}
			rep, err := orch.RunParallel(ctx, job)
			printReport(cmd.OutOrStdout(), rep)
			if err != nil {
				return err
			}
			if ctx.Err() != nil {
				return context.Cause(ctx)
			}
			return nil
		},
	}
	cmd.Flags().IntVar(&start, "start", 0, "first key of the range")
	cmd.Flags().IntVar(&stop, "stop", 0, "end of the range, exclusive")
	cmd.Flags().IntVarP(&workers, "workers", "w", 1, "number of parallel workers (default WORKERS)")
	cmd.Flags().BoolVar(&headless, "headless", true, "run browsers headless (default HEADLESS)")
	_ = cmd.MarkFlagRequired("start")
	_ = cmd.MarkFlagRequired("stop")
	return cmd
}

func printReport(w io.Writer, rep run.Report) {
	if len(rep.Workers) == 0 && len(rep.FailedWorkers) == 0 {
		return
	}
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "WORKER\tATTEMPTED\tINSERTED\tSKIPPED\tFAILED\tEMPTY")
	for _, s := range rep.Workers {
		fmt.Fprintf(tw, "%d\t%d\t%d\t%d\t%d\t%d\n", s.Worker, s.Attempted, s.Inserted, s.Skipped, s.Failed, s.Empty)
	}
	t := rep.Totals
	fmt.Fprintf(tw, "total\t%d\t%d\t%d\t%d\t%d\n", t.Attempted, t.Inserted, t.Skipped, t.Failed, t.Empty)
	_ = tw.Flush()
	for _, f := range rep.FailedWorkers {
		fmt.Fprintf(w, "worker %d failed: %s\n", f.Worker, f.Error)
	}
	fmt.Fprintf(w, "%s finished in %s\n", rep.Job, rep.Duration.Round(time.Millisecond))
}
