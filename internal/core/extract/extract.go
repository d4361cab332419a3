// Package extract drives a portal search for one item and reads the result
// page into a record. It is best-effort: whatever goes wrong, the caller gets
// a record carrying at least the requested key.
package extract

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"runtime/debug"
	"time"

	"maintscraper/internal/core/portal"
	"maintscraper/internal/core/record"
	"maintscraper/internal/logger"
)

var (
	ErrSearchFailed       = errors.New("search failed")
	ErrLayoutUnrecognized = errors.New("layout unrecognized")
	ErrUnexpected         = errors.New("unexpected extraction failure")
)

// State is a step of the extraction machine.
type State int

const (
	Idle State = iota
	Searching
	LayoutDetect
	Extracting
	Done
	Failed
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Searching:
		return "searching"
	case LayoutDetect:
		return "layout-detect"
	case Extracting:
		return "extracting"
	case Done:
		return "done"
	case Failed:
		return "failed"
	}
	return fmt.Sprintf("state(%d)", int(s))
}

func (s State) terminal() bool { return s == Done || s == Failed }

// Result is the outcome of one extraction. Record is never nil-valued: a
// failed extraction returns a record holding only the key.
type Result struct {
	Record  record.Record
	State   State
	Layout  string
	Missing []string
	Err     error
}

func (r Result) OK() bool { return r.State == Done }

// Capturer is implemented by surfaces that can save an image of the
// current page.
type Capturer interface {
	Capture(ctx context.Context, path string) error
}

type Extractor struct {
	surface    portal.Surface
	catalogue  *portal.Catalogue
	timeout    time.Duration
	captureDir string
	log        *logger.Logger
}

// New builds an extractor. timeout bounds each individual portal call.
func New(surface portal.Surface, catalogue *portal.Catalogue, timeout time.Duration, log *logger.Logger) *Extractor {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Extractor{surface: surface, catalogue: catalogue, timeout: timeout, log: log.Named("Extractor")}
}

// CaptureFailures makes the extractor save a page image into dir whenever a
// search fails or the result layout is not recognized. An empty dir or a
// surface that cannot capture disables it.
func (e *Extractor) CaptureFailures(dir string) *Extractor {
	e.captureDir = dir
	return e
}

type machine struct {
	e      *Extractor
	kind   record.Kind
	key    string
	state  State
	rec    record.Record
	layout *portal.Layout
	miss   []string
	err    error
}

// Extract runs the machine for one key. It does not panic and does not
// return an error; failures are reported in the Result.
func (e *Extractor) Extract(ctx context.Context, kind record.Kind, key string) (res Result) {
	m := &machine{e: e, kind: kind, key: key, state: Idle, rec: record.New(kind, key)}
	defer func() {
		if p := recover(); p != nil {
			e.log.Error().
				Str("key", key).
				Str("state", m.state.String()).
				Msgf("extraction panicked: %v", p)
			e.log.Quiet().Str("key", key).Msgf("panic: %v\n%s", p, debug.Stack())
			m.fail(fmt.Errorf("%w: %v", ErrUnexpected, p))
			res = m.result()
		}
	}()

	for !m.state.terminal() {
		if err := ctx.Err(); err != nil {
			m.fail(err)
			break
		}
		m.step(ctx)
	}
	if errors.Is(m.err, ErrLayoutUnrecognized) || errors.Is(m.err, ErrSearchFailed) {
		e.capture(ctx, kind, key)
	}
	return m.result()
}

func (e *Extractor) capture(ctx context.Context, kind record.Kind, key string) {
	c, ok := e.surface.(Capturer)
	if !ok || e.captureDir == "" {
		return
	}
	name := fmt.Sprintf("%s-%s-%s.png", kind, key, time.Now().Format("20060102_150405"))
	path := filepath.Join(e.captureDir, name)
	cctx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()
	if err := c.Capture(cctx, path); err != nil {
		e.log.LogWarnf("%s %s: capture failed: %v", kind, key, err)
		return
	}
	e.log.LogInfof("%s %s: page saved to %s", kind, key, path)
}

func (m *machine) step(ctx context.Context) {
	e := m.e
	switch m.state {
	case Idle:
		if err := m.call(ctx, func(c context.Context) error { return e.surface.SetSearchContext(c, m.kind) }); err != nil {
			m.fail(fmt.Errorf("%w: select %s search: %v", ErrSearchFailed, m.kind, err))
			return
		}
		m.state = Searching

	case Searching:
		if err := m.call(ctx, func(c context.Context) error { return e.surface.SubmitQuery(c, m.key) }); err != nil {
			m.fail(fmt.Errorf("%w: %v", ErrSearchFailed, err))
			return
		}
		m.state = LayoutDetect

	case LayoutDetect:
		for i, l := range e.catalogue.For(m.kind) {
			text, ok := m.read(ctx, l.Probe.Locator)
			if ok && l.Matches(text) {
				m.layout = &e.catalogue.For(m.kind)[i]
				m.state = Extracting
				return
			}
		}
		m.fail(ErrLayoutUnrecognized)

	case Extracting:
		for _, field := range m.rec.Schema().Fields() {
			loc, ok := m.layout.Fields[field]
			if !ok {
				continue
			}
			text, ok := m.read(ctx, loc)
			if !ok {
				m.miss = append(m.miss, field)
				e.log.LogDebugf("%s %s: field %s absent", m.kind, m.key, field)
				continue
			}
			if !m.rec.Set(field, text) {
				m.miss = append(m.miss, field)
				e.log.LogWarnf("%s %s: field %s has unusable value %q", m.kind, m.key, field, text)
			}
		}
		m.state = Done
	}
}

func (m *machine) call(ctx context.Context, fn func(context.Context) error) error {
	c, cancel := context.WithTimeout(ctx, m.e.timeout)
	defer cancel()
	return fn(c)
}

func (m *machine) read(ctx context.Context, loc portal.Locator) (string, bool) {
	c, cancel := context.WithTimeout(ctx, m.e.timeout)
	defer cancel()
	return m.e.surface.ReadFieldAt(c, loc)
}

func (m *machine) fail(err error) {
	m.err = err
	m.state = Failed
	m.rec = record.New(m.kind, m.key)
	m.layout = nil
	m.miss = nil
}

func (m *machine) result() Result {
	r := Result{Record: m.rec, State: m.state, Missing: m.miss, Err: m.err}
	if m.layout != nil {
		r.Layout = m.layout.Name
	}
	if m.state == Failed {
		m.e.log.LogWarnf("%s %s: extraction failed: %v", m.kind, m.key, m.err)
	} else {
		m.e.log.LogDebugf("%s %s: layout %s, %d fields read, %d missing", m.kind, m.key, r.Layout, m.rec.Len(), len(m.miss))
	}
	return r
}
