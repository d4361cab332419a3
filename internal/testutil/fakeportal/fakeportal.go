// Package fakeportal is an in-memory portal for tests: result pages are maps
// from locator to text, keyed by the searched item key.
package fakeportal

import (
	"context"
	"errors"
	"os"
	"sync"
	"time"

	"maintscraper/internal/core/portal"
	"maintscraper/internal/core/record"
	"maintscraper/internal/core/session"
)

// Page is the readable content of one result page.
type Page map[portal.Locator]string

// PageFor renders values onto a layout, probe label included.
func PageFor(l portal.Layout, values map[string]string) Page {
	p := Page{l.Probe.Locator: l.Probe.Label}
	for field, v := range values {
		if loc, ok := l.Fields[field]; ok {
			p[loc] = v
		}
	}
	return p
}

// Browser implements session.Browser.
type Browser struct {
	mu sync.Mutex

	Dir      string
	Pages    map[string]Page
	Fail     map[string]error
	Panic    map[string]bool
	LoggedIn bool
	// SecondFactor runs inside AwaitSecondFactor; nil confirms at once.
	SecondFactor func(ctx context.Context) error

	Kind        record.Kind
	Queries     []string
	Credentials []string
	StateLoaded bool
	Closed      bool
	Captured    []string
	// Delay is how long each query takes; cancellation cuts it short.
	Delay time.Duration

	current Page
}

func New() *Browser {
	return &Browser{Pages: map[string]Page{}, Fail: map[string]error{}, Panic: map[string]bool{}}
}

func (b *Browser) Authenticated(context.Context) (bool, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.LoggedIn, nil
}

func (b *Browser) SubmitCredentials(_ context.Context, username, password string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.Credentials = append(b.Credentials, username+":"+password)
	return nil
}

func (b *Browser) AwaitSecondFactor(ctx context.Context, _ time.Duration) error {
	if b.SecondFactor != nil {
		if err := b.SecondFactor(ctx); err != nil {
			return err
		}
	}
	b.mu.Lock()
	b.LoggedIn = true
	b.mu.Unlock()
	return nil
}

func (b *Browser) SetSearchContext(_ context.Context, kind record.Kind) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.Kind = kind
	return nil
}

func (b *Browser) SubmitQuery(ctx context.Context, key string) error {
	if b.Delay > 0 {
		select {
		case <-time.After(b.Delay):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.Queries = append(b.Queries, key)
	if b.Panic[key] {
		panic("fakeportal: result page crashed for " + key)
	}
	if err := b.Fail[key]; err != nil {
		b.current = nil
		return err
	}
	b.current = b.Pages[key]
	return nil
}

func (b *Browser) ReadFieldAt(_ context.Context, loc portal.Locator) (string, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	v, ok := b.current[loc]
	return v, ok && v != ""
}

func (b *Browser) SaveState(path string) error {
	return os.WriteFile(path, []byte(`{"cookies":[]}`), 0o644)
}

func (b *Browser) LoadState(path string) error {
	if _, err := os.Stat(path); err != nil {
		return err
	}
	b.mu.Lock()
	b.StateLoaded = true
	b.mu.Unlock()
	return nil
}

func (b *Browser) Capture(_ context.Context, path string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.Captured = append(b.Captured, path)
	return nil
}

func (b *Browser) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.Closed {
		return errors.New("fakeportal: closed twice")
	}
	b.Closed = true
	return nil
}

// Launcher hands out browsers built by Make and remembers them.
type Launcher struct {
	mu       sync.Mutex
	Make     func(dir string) *Browser
	Err      error
	Launched []*Browser
	// Headless records the mode of every launch attempt.
	Headless []bool
}

func (l *Launcher) Launch(_ context.Context, dir string, headless bool) (session.Browser, error) {
	l.mu.Lock()
	l.Headless = append(l.Headless, headless)
	l.mu.Unlock()
	if l.Err != nil {
		return nil, l.Err
	}
	b := New()
	if l.Make != nil {
		b = l.Make(dir)
	}
	b.Dir = dir
	l.mu.Lock()
	l.Launched = append(l.Launched, b)
	l.mu.Unlock()
	return b, nil
}

// Prompter answers prompts from a queue.
type Prompter struct {
	Answers []string
	Asked   []string
}

func (p *Prompter) Prompt(label string, _ bool) (string, error) {
	p.Asked = append(p.Asked, label)
	if len(p.Answers) == 0 {
		return "", errors.New("fakeportal: no answer queued")
	}
	a := p.Answers[0]
	p.Answers = p.Answers[1:]
	return a, nil
}
