package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"maintscraper/internal/config"
	"maintscraper/internal/core/portal"
	"maintscraper/internal/core/run"
	"maintscraper/internal/core/session"
	"maintscraper/internal/logger"
	"maintscraper/internal/platform/browser"
)

// app is the state shared by the subcommands, filled in by the root command
// before any of them runs.
type app struct {
	cfg     config.Config
	log     *logger.Logger
	logFile string
}

func newRootCommand() *cobra.Command {
	a := &app{}
	root := &cobra.Command{
		Use:           "maintscraper",
		Short:         "Scrape maintenance requests and orders into the database",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			if cmd.Name() == workerCommandName {
				return
			}
			a.cfg = config.Load()
			a.logFile = logger.FilePath(a.cfg.LogDir, time.Now())
			a.log = logger.NewWithConfig("main", logger.Config{
				IsProduction: a.cfg.AppEnv == "production",
				AppEnv:       a.cfg.AppEnv,
				File:         a.logFile,
			})
		},
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			if a.log != nil {
				_ = a.log.Close()
			}
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
	}
	root.AddCommand(newScrapeCommand(a), newServeCommand(a), newWorkerCommand())
	return root
}

// envFactory wires the Playwright launcher into the default environment
// factory. A nil prompter means missing credentials are an error.
func envFactory(prompter session.Prompter, log *logger.Logger) run.EnvFactory {
	return run.NewEnvFactory(run.EnvDeps{
		Launcher: func(cat *portal.Catalogue) session.Launcher {
			return browser.NewLauncher(cat, log)
		},
		Prompter: prompter,
		Log:      log,
	})
}

func main() {
	if err := newRootCommand().ExecuteContext(context.Background()); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}
