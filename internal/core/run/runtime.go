package run

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/exec"
	"time"

	"maintscraper/internal/logger"
)

// Handle is a started worker.
type Handle interface {
	Worker() int
	// Ready blocks until the worker's environment is open, or it failed.
	Ready(ctx context.Context) error
	// Wait blocks until the worker is gone and returns its summary.
	Wait() (Summary, error)
}

// Runtime starts workers.
type Runtime interface {
	Start(ctx context.Context, b Bundle) (Handle, error)
}

// ProcessRuntime runs each worker as a child process of the current binary.
// Cancelling the start context interrupts the child, which finishes its
// current key, closes its session and exits.
type ProcessRuntime struct {
	// Executable defaults to the running binary.
	Executable string
	// Args select the worker entry point, "worker" by default.
	Args []string
	// Env is added to the inherited environment of the child.
	Env []string
	// Stderr receives the child's console log. Defaults to os.Stderr.
	Stderr io.Writer
	// Grace is how long an interrupted child may take before it is killed.
	Grace time.Duration
	Log   *logger.Logger
}

func (r *ProcessRuntime) Start(ctx context.Context, b Bundle) (Handle, error) {
	exe := r.Executable
	if exe == "" {
		var err error
		if exe, err = os.Executable(); err != nil {
			return nil, fmt.Errorf("locate worker executable: %w", err)
		}
	}
	args := r.Args
	if len(args) == 0 {
		args = []string{"worker"}
	}
	data, err := json.Marshal(b)
	if err != nil {
		return nil, fmt.Errorf("encode worker bundle: %w", err)
	}

	cmd := exec.CommandContext(ctx, exe, args...)
	cmd.Stdin = bytes.NewReader(data)
	if len(r.Env) > 0 {
		cmd.Env = append(os.Environ(), r.Env...)
	}
	cmd.Stderr = r.Stderr
	if cmd.Stderr == nil {
		cmd.Stderr = os.Stderr
	}
	cmd.Cancel = func() error { return cmd.Process.Signal(os.Interrupt) }
	cmd.WaitDelay = r.Grace
	if cmd.WaitDelay <= 0 {
		cmd.WaitDelay = 30 * time.Second
	}

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("worker %d stdout: %w", b.Worker, err)
	}
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("start worker %d: %w", b.Worker, err)
	}
	r.Log.LogDebugf("worker %d started as pid %d", b.Worker, cmd.Process.Pid)
	return follow(b.Worker, stdout, cmd.Wait, r.Log), nil
}

// InProcessRuntime runs workers as goroutines speaking the same protocol over
// in-memory pipes. Useful for tests and for debugging a single binary.
type InProcessRuntime struct {
	Open EnvFactory
	Log  *logger.Logger
}

func (r *InProcessRuntime) Start(ctx context.Context, b Bundle) (Handle, error) {
	data, err := json.Marshal(b)
	if err != nil {
		return nil, fmt.Errorf("encode worker bundle: %w", err)
	}
	pr, pw := io.Pipe()
	errc := make(chan error, 1)
	go func() {
		err := ServeWorker(ctx, bytes.NewReader(data), pw, r.Open, r.Log)
		_ = pw.Close()
		errc <- err
	}()
	return follow(b.Worker, pr, func() error { return <-errc }, r.Log), nil
}
