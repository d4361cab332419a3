package health

import (
	"context"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/limiter"

	"maintscraper/internal/logger"
)

// Check probes one dependency.
type Check func(ctx context.Context) error

// HealthHandler reports readiness and the state of each dependency.
type HealthHandler struct {
	log       *logger.Logger
	checks    map[string]Check
	startTime time.Time
	ready     atomic.Bool
}

func NewHealthHandler(checks map[string]Check, log *logger.Logger) *HealthHandler {
	return &HealthHandler{
		log:       log.Named("HealthCheck"),
		checks:    checks,
		startTime: time.Now(),
	}
}

// SetReady marks the application as ready to receive traffic
func (h *HealthHandler) SetReady() {
	h.ready.Store(true)
	h.log.LogSuccessf("Application marked as ready for traffic after %v", time.Since(h.startTime).Round(time.Millisecond))
}

type ComponentStatus struct {
	Status string `json:"status"`
	Error  string `json:"error,omitempty"`
}

type OverallHealth struct {
	OverallStatus string                     `json:"overall_status"`
	Timestamp     string                     `json:"timestamp"`
	Ready         bool                       `json:"ready"`
	UptimeSeconds int64                      `json:"uptime_seconds"`
	Components    map[string]ComponentStatus `json:"components"`
}

// HandleHealth runs every check concurrently and reports 200 only when the
// application is ready and all checks pass.
func (h *HealthHandler) HandleHealth(c *fiber.Ctx) error {
	ctx, cancel := context.WithTimeout(c.Context(), 8*time.Second)
	defer cancel()

	var (
		wg    sync.WaitGroup
		mu    sync.Mutex
		allOk = true
	)
	statuses := make(map[string]ComponentStatus, len(h.checks))
	for name, check := range h.checks {
		wg.Add(1)
		go func() {
			defer wg.Done()
			st := ComponentStatus{Status: "ok"}
			if err := check(ctx); err != nil {
				st = ComponentStatus{Status: "error", Error: err.Error()}
				h.log.LogErrorf("Health check failed for %s: %v", name, err)
			}
			mu.Lock()
			statuses[name] = st
			allOk = allOk && st.Status == "ok"
			mu.Unlock()
		}()
	}
	wg.Wait()

	ready := h.ready.Load()
	response := OverallHealth{
		Timestamp:     time.Now().UTC().Format(time.RFC3339Nano),
		Ready:         ready,
		UptimeSeconds: int64(time.Since(h.startTime).Seconds()),
		Components:    statuses,
	}
	switch {
	case allOk && ready:
		response.OverallStatus = "ok"
		return c.Status(http.StatusOK).JSON(response)
	case !ready:
		response.OverallStatus = "starting"
	default:
		response.OverallStatus = "error"
		h.log.LogWarnf("Health check failed. Statuses: %+v", statuses)
	}
	return c.Status(http.StatusServiceUnavailable).JSON(response)
}

func HealthLimiter() fiber.Handler {
	return limiter.New(limiter.Config{
		Max:        300,
		Expiration: 1 * time.Minute,
		KeyGenerator: func(c *fiber.Ctx) string {
			return c.IP()
		},
		LimitReached: func(c *fiber.Ctx) error {
			return c.Status(fiber.StatusTooManyRequests).JSON(fiber.Map{"error": "Rate limit exceeded"})
		},
	})
}
