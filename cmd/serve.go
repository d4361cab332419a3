package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/spf13/cobra"

	"maintscraper/internal/core/ingest"
	"maintscraper/internal/core/job"
	"maintscraper/internal/core/run"
	"maintscraper/internal/core/session"
	"maintscraper/internal/health"
	rds "maintscraper/internal/platform/redis"
	"maintscraper/internal/platform/tasks"
	"maintscraper/internal/server"
	"maintscraper/internal/worker"
)

func newServeCommand(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Accept range runs over HTTP and execute them from a queue",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return serve(cmd.Context(), a)
		},
	}
}

func serve(ctx context.Context, a *app) error {
	cfg := a.cfg
	a.log.LogInfof("starting at %s (env=%s)", cfg.HTTPAddr, cfg.AppEnv)

	redisSvc, err := rds.New(ctx, rds.Options{Addr: cfg.RedisAddr, Password: cfg.RedisPassword}, a.log)
	if err != nil {
		return err
	}
	defer redisSvc.Close()

	db, err := ingest.Open(ctx, cfg.DB)
	if err != nil {
		return err
	}
	defer db.Close()

	// Log in before accepting work so queued runs never wait on a prompt.
	orch, err := run.NewOrchestrator(ctx, run.SettingsFrom(cfg, a.logFile),
		envFactory(session.NewTerminalPrompter(), a.log), &run.ProcessRuntime{Log: a.log}, a.log)
	if err != nil {
		return err
	}
	defer orch.Close()

	taskClient := tasks.New(redisSvc)
	defer taskClient.Close()
	jobSvc := job.NewService(redisSvc, taskClient, cfg.TaskMaxRetries, a.log)

	mux := worker.NewMux()
	mux.HandleFunc(tasks.TaskTypeRunRange, jobSvc.HandleTask(orch))
	asynqServer := worker.NewServer(redisSvc)
	if err := asynqServer.Start(mux.Mux()); err != nil {
		return fmt.Errorf("start task server: %w", err)
	}

	app := fiber.New(fiber.Config{
		AppName:               "maintscraper",
		DisableStartupMessage: true,
		JSONEncoder: func(v interface{}) ([]byte, error) {
			var buf bytes.Buffer
			encoder := json.NewEncoder(&buf)
			encoder.SetEscapeHTML(false)
			if err := encoder.Encode(v); err != nil {
				return nil, err
			}
			return buf.Bytes(), nil
		},
	})
	healthHandler := server.RegisterRoutes(app, server.Dependencies{
		Jobs: jobSvc,
		Checks: map[string]health.Check{
			"redis":    redisSvc.HealthCheck,
			"database": db.PingContext,
		},
		DefaultWorkers:  cfg.Workers,
		DefaultHeadless: cfg.Headless,
		Log:             a.log,
	})
	healthHandler.SetReady()

	sigCtx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()
	go func() {
		<-sigCtx.Done()
		a.log.LogInfo("Shutting down...")
		asynqServer.Shutdown()
		_ = app.ShutdownWithTimeout(5 * time.Second)
	}()

	if err := app.Listen(cfg.HTTPAddr); err != nil {
		return fmt.Errorf("server listen: %w", err)
	}
	return nil
}
