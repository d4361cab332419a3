// Package session owns the authenticated browser context of one worker.
//
// Worker 0 holds the base profile and is the only worker that ever logs in
// interactively. Every other worker runs on a private copy of the base
// profile, taken after worker 0 finished authenticating, so the second-factor
// trust stored in the profile is reused instead of confirmed again.
package session

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"time"

	"maintscraper/internal/core/portal"
	"maintscraper/internal/logger"
)

var (
	ErrSessionInit = errors.New("session init failed")
	ErrAuthTimeout = errors.New("session auth timed out")
)

// StateFile is the exported cookie/storage state written into the base
// profile once worker 0 is authenticated. Its presence marks the base
// profile as ready to clone.
const StateFile = "session.json"

// InitError reports which bootstrap step failed for which worker.
type InitError struct {
	Worker int
	Step   string
	Err    error
}

func (e *InitError) Error() string {
	return fmt.Sprintf("session init (worker %d, %s): %v", e.Worker, e.Step, e.Err)
}

func (e *InitError) Unwrap() []error { return []error{ErrSessionInit, e.Err} }

// Account is the portal login. Password may be empty until it is needed.
type Account struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

// Browser is a launched automation driver bound to one profile directory.
type Browser interface {
	portal.Surface
	SaveState(path string) error
	LoadState(path string) error
	Close() error
}

// Launcher starts a browser against a profile directory.
type Launcher interface {
	Launch(ctx context.Context, profileDir string, headless bool) (Browser, error)
}

// Prompter asks the operator for a value; secret values are not echoed.
type Prompter interface {
	Prompt(label string, secret bool) (string, error)
}

type Options struct {
	// Root holds one directory per account, one subdirectory per worker.
	Root        string
	Launcher    Launcher
	Prompter    Prompter
	AuthTimeout time.Duration
}

type Manager struct {
	opts Options
	log  *logger.Logger
}

func NewManager(opts Options, log *logger.Logger) *Manager {
	if opts.AuthTimeout <= 0 {
		opts.AuthTimeout = 60 * time.Second
	}
	return &Manager{opts: opts, log: log.Named("SessionManager")}
}

// ProfileDir is the profile path of an account's worker.
func ProfileDir(root, username string, worker int) string {
	sum := sha256.Sum256([]byte(username))
	return filepath.Join(root, hex.EncodeToString(sum[:])[:16], strconv.Itoa(worker))
}

// Session is one worker's live browser. It must be closed; closing keeps the
// profile directory for the next invocation.
type Session struct {
	Worker  int
	Dir     string
	account Account
	browser Browser
	log     *logger.Logger

	once     sync.Once
	closeErr error
}

// Surface is the portal page driven by this session.
func (s *Session) Surface() portal.Surface { return s.browser }

// Account returns the login used, including a password entered at a prompt.
func (s *Session) Account() Account { return s.account }

// Close releases the driver. Safe to call more than once.
func (s *Session) Close() error {
	s.once.Do(func() {
		s.closeErr = s.browser.Close()
		s.log.LogDebugf("worker %d session closed", s.Worker)
	})
	return s.closeErr
}

// Open bootstraps the session of a worker.
func (m *Manager) Open(ctx context.Context, account Account, worker int, headless bool) (*Session, error) {
	if account.Username == "" {
		u, err := m.prompt("Username: ", false)
		if err != nil {
			return nil, &InitError{Worker: worker, Step: "credentials", Err: err}
		}
		account.Username = u
	}
	if worker == 0 {
		return m.openBase(ctx, account, headless)
	}
	return m.openClone(ctx, account, worker, headless)
}

func (m *Manager) openBase(ctx context.Context, account Account, headless bool) (*Session, error) {
	dir := ProfileDir(m.opts.Root, account.Username, 0)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, &InitError{Worker: 0, Step: "profile", Err: err}
	}
	b, err := m.opts.Launcher.Launch(ctx, dir, headless)
	if err != nil {
		return nil, &InitError{Worker: 0, Step: "launch", Err: err}
	}
	s := &Session{Worker: 0, Dir: dir, account: account, browser: b, log: m.log}

	ok, err := b.Authenticated(ctx)
	if err != nil {
		m.log.LogWarnf("could not check existing login, logging in again: %v", err)
	}
	if !ok {
		if err := m.login(ctx, s); err != nil {
			_ = s.Close()
			return nil, err
		}
	} else {
		m.log.LogInfo("base profile already authenticated")
	}

	if err := b.SaveState(filepath.Join(dir, StateFile)); err != nil {
		_ = s.Close()
		return nil, &InitError{Worker: 0, Step: "export state", Err: err}
	}
	return s, nil
}

func (m *Manager) login(ctx context.Context, s *Session) error {
	if s.account.Password == "" {
		p, err := m.prompt("Password: ", true)
		if err != nil {
			return &InitError{Worker: s.Worker, Step: "credentials", Err: err}
		}
		s.account.Password = p
	}
	if err := s.browser.SubmitCredentials(ctx, s.account.Username, s.account.Password); err != nil {
		return &InitError{Worker: s.Worker, Step: "login", Err: err}
	}

	m.log.LogInfo("---CONFIRM LOGIN ON YOUR SECOND-FACTOR DEVICE---")
	waitCtx, cancel := context.WithTimeout(ctx, m.opts.AuthTimeout)
	defer cancel()
	err := s.browser.AwaitSecondFactor(waitCtx, m.opts.AuthTimeout)
	switch {
	case err == nil:
		m.log.LogSuccess("---LOGIN CONFIRMED---")
		return nil
	case errors.Is(err, portal.ErrSecondFactorTimeout), errors.Is(err, context.DeadlineExceeded):
		return fmt.Errorf("worker %d after %s: %w", s.Worker, m.opts.AuthTimeout, ErrAuthTimeout)
	default:
		return &InitError{Worker: s.Worker, Step: "second factor", Err: err}
	}
}

func (m *Manager) openClone(ctx context.Context, account Account, worker int, headless bool) (*Session, error) {
	base := ProfileDir(m.opts.Root, account.Username, 0)
	state := filepath.Join(base, StateFile)
	if _, err := os.Stat(state); err != nil {
		return nil, &InitError{Worker: worker, Step: "base profile", Err: fmt.Errorf("worker 0 has not authenticated: %w", err)}
	}

	dir := ProfileDir(m.opts.Root, account.Username, worker)
	if err := os.RemoveAll(dir); err != nil {
		return nil, &InitError{Worker: worker, Step: "profile", Err: err}
	}
	if err := copyDir(base, dir); err != nil {
		return nil, &InitError{Worker: worker, Step: "copy profile", Err: err}
	}
	m.log.LogDebugf("worker %d profile cloned from %s", worker, base)

	b, err := m.opts.Launcher.Launch(ctx, dir, headless)
	if err != nil {
		return nil, &InitError{Worker: worker, Step: "launch", Err: err}
	}
	if err := b.LoadState(filepath.Join(dir, StateFile)); err != nil {
		m.log.LogWarnf("worker %d could not import session state, relying on the copied profile: %v", worker, err)
	}
	return &Session{Worker: worker, Dir: dir, account: account, browser: b, log: m.log}, nil
}

func (m *Manager) prompt(label string, secret bool) (string, error) {
	if m.opts.Prompter == nil {
		return "", errors.New("credentials not supplied and no prompt available")
	}
	return m.opts.Prompter.Prompt(label, secret)
}
