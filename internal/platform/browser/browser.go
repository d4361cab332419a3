// Package browser drives the maintenance portal with Playwright. Each
// browser runs on a persistent Chromium profile so login state survives
// between runs and can be copied to other workers.
package browser

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/playwright-community/playwright-go"

	"maintscraper/internal/core/portal"
	"maintscraper/internal/core/record"
	"maintscraper/internal/core/session"
	"maintscraper/internal/logger"
)

const (
	navigationTO = 30 * time.Second
	actionTO     = 10 * time.Second
	markerTO     = 5 * time.Second
)

var launchArgs = []string{
	"--no-sandbox",
	"--disable-dev-shm-usage",
	"--disable-blink-features=AutomationControlled",
	"--no-first-run",
	"--disable-default-apps",
	"--disable-extensions",
}

// Launcher starts Chromium on a profile directory.
type Launcher struct {
	Catalogue *portal.Catalogue
	Log       *logger.Logger
}

func NewLauncher(cat *portal.Catalogue, log *logger.Logger) *Launcher {
	return &Launcher{Catalogue: cat, Log: log.Named("Browser")}
}

func (l *Launcher) Launch(_ context.Context, profileDir string, headless bool) (session.Browser, error) {
	pw, err := playwright.Run()
	if err != nil {
		return nil, fmt.Errorf("playwright run: %w", err)
	}
	bctx, err := pw.Chromium.LaunchPersistentContext(profileDir, playwright.BrowserTypeLaunchPersistentContextOptions{
		Headless: playwright.Bool(headless),
		Args:     launchArgs,
	})
	if err != nil {
		_ = pw.Stop()
		return nil, fmt.Errorf("launch: %w", err)
	}

	var page playwright.Page
	if pages := bctx.Pages(); len(pages) > 0 {
		page = pages[0]
	} else if page, err = bctx.NewPage(); err != nil {
		_ = bctx.Close()
		_ = pw.Stop()
		return nil, fmt.Errorf("new page: %w", err)
	}

	l.Log.LogDebugf("chromium started on %s (headless=%t)", profileDir, headless)
	return &Browser{pw: pw, bctx: bctx, page: page, pages: l.Catalogue.Pages, log: l.Log}, nil
}

// Browser is one live Chromium context with a single page.
type Browser struct {
	pw    *playwright.Playwright
	bctx  playwright.BrowserContext
	page  playwright.Page
	pages portal.Pages
	log   *logger.Logger

	mu       sync.Mutex
	search   portal.Search
	snapshot *portal.Snapshot
}

// timeoutMs converts what is left of ctx into a Playwright timeout,
// capped at fallback.
func timeoutMs(ctx context.Context, fallback time.Duration) *float64 {
	d := fallback
	if dl, ok := ctx.Deadline(); ok {
		if left := time.Until(dl); left < d {
			d = left
		}
	}
	if d < time.Millisecond {
		d = time.Millisecond
	}
	return playwright.Float(float64(d.Milliseconds()))
}

func (b *Browser) goTo(ctx context.Context, url string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if _, err := b.page.Goto(url, playwright.PageGotoOptions{
		WaitUntil: playwright.WaitUntilStateDomcontentloaded,
		Timeout:   timeoutMs(ctx, navigationTO),
	}); err != nil {
		return fmt.Errorf("goto %s: %w", url, err)
	}
	return nil
}

func (b *Browser) visible(ctx context.Context, selector string, fallback time.Duration) error {
	return b.page.Locator(selector).First().WaitFor(playwright.LocatorWaitForOptions{
		State:   playwright.WaitForSelectorStateVisible,
		Timeout: timeoutMs(ctx, fallback),
	})
}

func (b *Browser) fill(ctx context.Context, selector, value string) error {
	if err := b.page.Locator(selector).Fill(value, playwright.LocatorFillOptions{Timeout: timeoutMs(ctx, actionTO)}); err != nil {
		return fmt.Errorf("fill %s: %w", selector, err)
	}
	return nil
}

func (b *Browser) click(ctx context.Context, selector string) error {
	if err := b.page.Locator(selector).Click(playwright.LocatorClickOptions{Timeout: timeoutMs(ctx, actionTO)}); err != nil {
		return fmt.Errorf("click %s: %w", selector, err)
	}
	return nil
}

func (b *Browser) Authenticated(ctx context.Context) (bool, error) {
	if err := b.goTo(ctx, b.pages.HomeURL); err != nil {
		return false, err
	}
	if err := b.visible(ctx, b.pages.AuthenticatedMarker, markerTO); err != nil {
		if errors.Is(err, playwright.ErrTimeout) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

func (b *Browser) SubmitCredentials(ctx context.Context, username, password string) error {
	if err := b.goTo(ctx, b.pages.LoginURL); err != nil {
		return err
	}
	if err := b.fill(ctx, b.pages.UsernameSelector, username); err != nil {
		return err
	}
	if err := b.fill(ctx, b.pages.PasswordSelector, password); err != nil {
		return err
	}
	return b.click(ctx, b.pages.SubmitSelector)
}

// AwaitSecondFactor waits for the device-trust prompt that follows a
// confirmed push, answers it so the profile remembers this browser, then
// waits for the signed-in page.
func (b *Browser) AwaitSecondFactor(ctx context.Context, timeout time.Duration) error {
	if err := b.visible(ctx, b.pages.SecondFactorSelector, timeout); err != nil {
		if errors.Is(err, playwright.ErrTimeout) {
			return portal.ErrSecondFactorTimeout
		}
		return err
	}
	if b.pages.TrustSelector != "" {
		if err := b.click(ctx, b.pages.TrustSelector); err != nil {
			b.log.LogWarnf("could not trust this browser, next login will ask again: %v", err)
		}
	}
	if err := b.visible(ctx, b.pages.AuthenticatedMarker, navigationTO); err != nil {
		if errors.Is(err, playwright.ErrTimeout) {
			return portal.ErrSecondFactorTimeout
		}
		return err
	}
	return nil
}

func (b *Browser) SetSearchContext(ctx context.Context, kind record.Kind) error {
	search, ok := b.pages.Search[kind]
	if !ok {
		return fmt.Errorf("no search form configured for %s", kind)
	}
	if err := b.goTo(ctx, b.pages.HomeURL); err != nil {
		return err
	}
	if err := b.click(ctx, search.TabSelector); err != nil {
		return err
	}
	if err := b.visible(ctx, search.InputSelector, actionTO); err != nil {
		return err
	}
	b.mu.Lock()
	b.search = search
	b.mu.Unlock()
	return nil
}

// SubmitQuery searches for key and snapshots the result page for reads.
func (b *Browser) SubmitQuery(ctx context.Context, key string) error {
	b.mu.Lock()
	b.snapshot = nil
	search := b.search
	b.mu.Unlock()
	if search.InputSelector == "" {
		return errors.New("no search context selected")
	}

	if err := b.fill(ctx, search.InputSelector, key); err != nil {
		return err
	}
	if err := b.click(ctx, search.SubmitSelector); err != nil {
		return err
	}
	if err := b.visible(ctx, search.ResultsSelector, actionTO); err != nil {
		return fmt.Errorf("results for %s: %w", key, err)
	}

	html, err := b.page.Content()
	if err != nil {
		return fmt.Errorf("read result page: %w", err)
	}
	snap, err := portal.NewSnapshot(html)
	if err != nil {
		return err
	}
	b.mu.Lock()
	b.snapshot = snap
	b.mu.Unlock()
	return nil
}

func (b *Browser) ReadFieldAt(_ context.Context, loc portal.Locator) (string, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.snapshot.Read(loc)
}

// SaveState exports the context's cookies and local storage to path.
func (b *Browser) SaveState(path string) error {
	if _, err := b.bctx.StorageState(path); err != nil {
		return fmt.Errorf("export storage state: %w", err)
	}
	return nil
}

// LoadState imports the cookies of a state file written by SaveState.
func (b *Browser) LoadState(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	var state playwright.StorageState
	if err := json.Unmarshal(data, &state); err != nil {
		return fmt.Errorf("decode storage state: %w", err)
	}
	cookies := make([]playwright.OptionalCookie, 0, len(state.Cookies))
	for _, c := range state.Cookies {
		cookies = append(cookies, playwright.OptionalCookie{
			Name:     c.Name,
			Value:    c.Value,
			Domain:   &c.Domain,
			Path:     &c.Path,
			Expires:  &c.Expires,
			HttpOnly: &c.HttpOnly,
			Secure:   &c.Secure,
			SameSite: c.SameSite,
		})
	}
	if len(cookies) == 0 {
		return nil
	}
	if err := b.bctx.AddCookies(cookies); err != nil {
		return fmt.Errorf("import cookies: %w", err)
	}
	return nil
}

// Capture writes a full-page PNG of the current page to path.
func (b *Browser) Capture(ctx context.Context, path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	_, err := b.page.Screenshot(playwright.PageScreenshotOptions{
		Path:     playwright.String(path),
		FullPage: playwright.Bool(true),
		Type:     playwright.ScreenshotTypePng,
		Timeout:  timeoutMs(ctx, actionTO),
	})
	if err != nil {
		return fmt.Errorf("screenshot: %w", err)
	}
	return nil
}

// Close shuts the context down and stops the Playwright driver.
func (b *Browser) Close() error {
	return errors.Join(b.bctx.Close(), b.pw.Stop())
}
