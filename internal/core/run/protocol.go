package run

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"maintscraper/internal/config"
	"maintscraper/internal/core/record"
	"maintscraper/internal/core/session"
	"maintscraper/internal/logger"
)

// Settings is everything a worker needs to build its environment. It holds
// the portal password, so bundles are only ever passed over a pipe.
type Settings struct {
	Account      session.Account `json:"account"`
	Headless     bool            `json:"headless"`
	ProfileRoot  string          `json:"profile_root"`
	PortalFile   string          `json:"portal_file,omitempty"`
	LogFile      string          `json:"log_file,omitempty"`
	CaptureDir   string          `json:"capture_dir,omitempty"`
	AppEnv       string          `json:"app_env,omitempty"`
	DB           config.Database `json:"db"`
	AuthTimeout  time.Duration   `json:"auth_timeout"`
	FieldTimeout time.Duration   `json:"field_timeout"`
	OrderPrefix  string          `json:"order_prefix"`
}

// SettingsFrom maps application config onto worker settings.
func SettingsFrom(cfg config.Config, logFile string) Settings {
	return Settings{
		Account:      session.Account{Username: cfg.PortalUsername, Password: cfg.PortalPassword},
		Headless:     cfg.Headless,
		ProfileRoot:  cfg.ProfileDir,
		PortalFile:   cfg.PortalFile,
		LogFile:      logFile,
		CaptureDir:   cfg.CaptureDir,
		AppEnv:       cfg.AppEnv,
		DB:           cfg.DB,
		AuthTimeout:  cfg.AuthTimeout,
		FieldTimeout: cfg.FieldTimeout,
		OrderPrefix:  cfg.OrderPrefix,
	}
}

// Bundle is the immutable argument set handed to one worker.
type Bundle struct {
	Settings
	Kind    record.Kind `json:"kind"`
	Keys    []string    `json:"keys"`
	Worker  int         `json:"worker"`
	Workers int         `json:"workers"`
}

// Event kinds written by a worker, one JSON object per line.
const (
	EventReady   = "ready"
	EventSummary = "summary"
	EventError   = "error"
)

type Event struct {
	Event   string   `json:"event"`
	Worker  int      `json:"worker"`
	Summary *Summary `json:"summary,omitempty"`
	Error   string   `json:"error,omitempty"`
}

// ReadBundle decodes a bundle from r.
func ReadBundle(r io.Reader) (Bundle, error) {
	var b Bundle
	if err := json.NewDecoder(r).Decode(&b); err != nil {
		return Bundle{}, fmt.Errorf("decode worker bundle: %w", err)
	}
	if _, err := record.ParseKind(string(b.Kind)); err != nil {
		return Bundle{}, err
	}
	return b, nil
}

type emitter struct {
	mu  sync.Mutex
	enc *json.Encoder
}

func (e *emitter) emit(ev Event) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.enc.Encode(ev)
}

// ServeWorker is the worker entry point: it reads a bundle from in, opens the
// worker's environment, reports ready, processes its keys and reports a
// summary on out. The environment is always closed before returning.
func ServeWorker(ctx context.Context, in io.Reader, out io.Writer, open EnvFactory, log *logger.Logger) error {
	em := &emitter{enc: json.NewEncoder(out)}

	b, err := ReadBundle(in)
	if err != nil {
		_ = em.emit(Event{Event: EventError, Worker: -1, Error: err.Error()})
		return err
	}

	env, err := open(ctx, b.Settings, b.Worker)
	if err != nil {
		log.LogErrorf("worker %d could not start: %v", b.Worker, err)
		_ = em.emit(Event{Event: EventError, Worker: b.Worker, Error: err.Error()})
		return err
	}
	defer func() {
		if err := env.Close(); err != nil {
			log.LogWarnf("worker %d close: %v", b.Worker, err)
		}
	}()

	if err := em.emit(Event{Event: EventReady, Worker: b.Worker}); err != nil {
		return fmt.Errorf("report ready: %w", err)
	}

	sum := NewWorker(b.Worker, env.Extractor, env.Store, log).Process(ctx, b.Kind, b.Keys)
	if err := em.emit(Event{Event: EventSummary, Worker: b.Worker, Summary: &sum}); err != nil {
		return fmt.Errorf("report summary: %w", err)
	}
	return nil
}

// ErrNoSummary is returned when a worker exits without reporting a summary.
var ErrNoSummary = errors.New("worker exited without a summary")

// handle follows one running worker through its event stream.
type handle struct {
	worker int
	ready  chan error
	done   chan struct{}

	summary *Summary
	err     error
}

// follow reads events from r until EOF, then calls wait to reap the worker.
func follow(worker int, r io.Reader, wait func() error, log *logger.Logger) *handle {
	h := &handle{worker: worker, ready: make(chan error, 1), done: make(chan struct{})}
	go func() {
		defer close(h.done)
		signalled := false
		signal := func(err error) {
			if !signalled {
				signalled = true
				h.ready <- err
			}
		}

		var reported error
		sc := bufio.NewScanner(r)
		sc.Buffer(make([]byte, 64*1024), 1024*1024)
		for sc.Scan() {
			var ev Event
			if err := json.Unmarshal(sc.Bytes(), &ev); err != nil {
				log.LogWarnf("worker %d: unreadable event %q", worker, sc.Text())
				continue
			}
			switch ev.Event {
			case EventReady:
				signal(nil)
			case EventSummary:
				h.summary = ev.Summary
			case EventError:
				reported = errors.New(ev.Error)
				signal(reported)
			}
		}
		// drain so the writer never blocks on a full pipe
		_, _ = io.Copy(io.Discard, r)

		waitErr := wait()
		switch {
		case reported != nil:
			h.err = reported
		case h.summary != nil && cancelled(waitErr):
			// Interrupted on purpose; the worker stopped cleanly and reported.
			h.summary.Interrupted = true
			log.LogWarnf("worker %d interrupted after %d keys", worker, h.summary.Attempted)
		case waitErr != nil:
			h.err = waitErr
		case h.summary == nil:
			h.err = ErrNoSummary
		}
		signal(fmt.Errorf("worker %d exited before ready: %w", worker, errOr(h.err, ErrNoSummary)))
	}()
	return h
}

// cancelled reports whether a worker's exit status only reflects the
// cancellation of its start context.
func cancelled(err error) bool {
	return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}

func errOr(err, fallback error) error {
	if err != nil {
		return err
	}
	return fallback
}

func (h *handle) Worker() int { return h.worker }

func (h *handle) Ready(ctx context.Context) error {
	select {
	case err := <-h.ready:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (h *handle) Wait() (Summary, error) {
	<-h.done
	if h.summary == nil {
		return Summary{Worker: h.worker}, h.err
	}
	return *h.summary, h.err
}
