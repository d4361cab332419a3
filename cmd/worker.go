package main

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"maintscraper/internal/core/run"
	"maintscraper/internal/logger"
)

const workerCommandName = "worker"

// newWorkerCommand is the child entry point started by ProcessRuntime. Its
// bundle arrives on stdin; stdout carries protocol events only.
func newWorkerCommand() *cobra.Command {
	return &cobra.Command{
		Use:    workerCommandName,
		Short:  "Run one worker from a bundle on stdin",
		Hidden: true,
		Args:   cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := io.ReadAll(cmd.InOrStdin())
			if err != nil {
				return fmt.Errorf("read worker bundle: %w", err)
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			// An unreadable bundle still goes through ServeWorker so the
			// parent receives an error event.
			b, err := run.ReadBundle(bytes.NewReader(data))
			if err != nil {
				return run.ServeWorker(ctx, bytes.NewReader(data), cmd.OutOrStdout(), nil, logger.New("worker"))
			}

			log := logger.NewWithConfig("worker", logger.Config{
				IsProduction: b.AppEnv == "production",
				AppEnv:       b.AppEnv,
				File:         b.LogFile,
			})
			defer log.Close()

			return run.ServeWorker(ctx, bytes.NewReader(data), cmd.OutOrStdout(), envFactory(nil, log), log)
		},
	}
}
