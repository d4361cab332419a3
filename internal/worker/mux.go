// Package worker runs queued range runs.
package worker

import (
	"context"

	"github.com/hibiken/asynq"

	"maintscraper/internal/platform/redis"
)

type Mux struct{ mux *asynq.ServeMux }

func NewMux() *Mux { return &Mux{mux: asynq.NewServeMux()} }

func (m *Mux) HandleFunc(t string, h func(ctx context.Context, task *asynq.Task) error) {
	m.mux.HandleFunc(t, h)
}

func (m *Mux) Mux() *asynq.ServeMux { return m.mux }

// NewServer builds the asynq server. Concurrency is 1: every run hands the
// same base profile to its workers, so runs must not overlap.
func NewServer(r *redis.Service) *asynq.Server {
	return asynq.NewServer(r.AsynqRedisOpt(), asynq.Config{
		Concurrency: 1,
		Queues:      map[string]int{"default": 1},
	})
}
