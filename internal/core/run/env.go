package run

import (
	"context"
	"errors"
	"fmt"

	"github.com/jmoiron/sqlx"

	"maintscraper/internal/config"
	"maintscraper/internal/core/extract"
	"maintscraper/internal/core/ingest"
	"maintscraper/internal/core/portal"
	"maintscraper/internal/core/session"
	"maintscraper/internal/logger"
)

// Env is one worker's private resources: its browser session, its store
// connection and the extractor driving the session.
type Env struct {
	Session   *session.Session
	Store     *ingest.Store
	Extractor *extract.Extractor
}

// Close releases the session and the store.
func (e *Env) Close() error {
	var errs []error
	if e.Session != nil {
		errs = append(errs, e.Session.Close())
	}
	if e.Store != nil {
		errs = append(errs, e.Store.Close())
	}
	return errors.Join(errs...)
}

// EnvFactory opens the environment of a worker.
type EnvFactory func(ctx context.Context, s Settings, worker int) (*Env, error)

// EnvDeps are the pluggable parts of the default factory.
type EnvDeps struct {
	// Launcher builds the browser launcher for a portal catalogue.
	Launcher func(cat *portal.Catalogue) session.Launcher
	// Prompter asks for missing credentials. Nil in worker processes.
	Prompter session.Prompter
	// OpenDB defaults to ingest.Open.
	OpenDB func(ctx context.Context, cfg config.Database) (*sqlx.DB, error)
	Log    *logger.Logger
}

// NewEnvFactory returns a factory that loads the portal catalogue, opens the
// worker's session and connects its store.
func NewEnvFactory(deps EnvDeps) EnvFactory {
	if deps.OpenDB == nil {
		deps.OpenDB = ingest.Open
	}
	return func(ctx context.Context, s Settings, worker int) (*Env, error) {
		cat, err := portal.LoadCatalogue(s.PortalFile)
		if err != nil {
			return nil, err
		}

		mgr := session.NewManager(session.Options{
			Root:        s.ProfileRoot,
			Launcher:    deps.Launcher(cat),
			Prompter:    deps.Prompter,
			AuthTimeout: s.AuthTimeout,
		}, deps.Log)
		sess, err := mgr.Open(ctx, s.Account, worker, s.Headless)
		if err != nil {
			return nil, err
		}

		db, err := deps.OpenDB(ctx, s.DB)
		if err != nil {
			_ = sess.Close()
			return nil, fmt.Errorf("worker %d store: %w", worker, err)
		}
		store, err := ingest.New(ctx, db, deps.Log)
		if err != nil {
			_ = db.Close()
			_ = sess.Close()
			return nil, fmt.Errorf("worker %d store: %w", worker, err)
		}

		return &Env{
			Session:   sess,
			Store:     store,
			Extractor: extract.New(sess.Surface(), cat, s.FieldTimeout, deps.Log).CaptureFailures(s.CaptureDir),
		}, nil
	}
}
