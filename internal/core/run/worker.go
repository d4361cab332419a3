// Package run drives the scrape-and-ingest pipeline: the per-worker loop,
// the worker process protocol and the orchestrator that fans a range out
// across worker processes.
package run

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"

	"maintscraper/internal/core/extract"
	"maintscraper/internal/core/ingest"
	"maintscraper/internal/core/record"
	"maintscraper/internal/logger"
)

// Extractor scrapes one item into a record.
type Extractor interface {
	Extract(ctx context.Context, kind record.Kind, key string) extract.Result
}

// Store is the worker's view of the ingestion store.
type Store interface {
	Exists(ctx context.Context, kind record.Kind, key string) (bool, error)
	Insert(ctx context.Context, rec record.Record) ingest.Outcome
}

// Summary counts what a worker did with its share of the range.
type Summary struct {
	Worker    int `json:"worker"`
	Attempted int `json:"attempted"`
	Inserted  int `json:"inserted"`
	Skipped   int `json:"skipped"`
	Failed    int `json:"failed"`
	// Empty counts records stored with nothing but their key.
	Empty       int  `json:"empty"`
	Interrupted bool `json:"interrupted,omitempty"`
}

// Add folds o into s.
func (s *Summary) Add(o Summary) {
	s.Attempted += o.Attempted
	s.Inserted += o.Inserted
	s.Skipped += o.Skipped
	s.Failed += o.Failed
	s.Empty += o.Empty
	s.Interrupted = s.Interrupted || o.Interrupted
}

func (s Summary) String() string {
	return fmt.Sprintf("%d attempted, %d inserted, %d skipped, %d failed, %d empty",
		s.Attempted, s.Inserted, s.Skipped, s.Failed, s.Empty)
}

// Worker processes keys one at a time against its own session and store.
type Worker struct {
	index     int
	extractor Extractor
	store     Store
	log       *logger.Logger
}

func NewWorker(index int, extractor Extractor, store Store, log *logger.Logger) *Worker {
	return &Worker{
		index:     index,
		extractor: extractor,
		store:     store,
		log:       log.Named(fmt.Sprintf("Worker %d", index)),
	}
}

// Process scrapes and stores every key in order. A failing key never stops
// the loop; cancellation stops it before the next key.
func (w *Worker) Process(ctx context.Context, kind record.Kind, keys []string) Summary {
	sum := Summary{Worker: w.index}
	w.log.LogInfof("processing %d %ss", len(keys), kind)
	for i, key := range keys {
		if ctx.Err() != nil {
			sum.Interrupted = true
			w.log.LogWarnf("interrupted after %d of %d keys", i, len(keys))
			break
		}
		sum.Attempted++
		w.item(ctx, kind, key, &sum)
	}
	w.log.LogSuccessf("finished: %s", sum)
	return sum
}

func (w *Worker) item(ctx context.Context, kind record.Kind, key string, sum *Summary) {
	defer func() {
		if p := recover(); p != nil {
			sum.Failed++
			w.log.Error().Str("key", key).Msgf("%s %s: failed - %v", kind, key, p)
			w.log.Quiet().Str("key", key).Msgf("panic: %v\n%s", p, debug.Stack())
		}
	}()

	exists, err := w.store.Exists(ctx, kind, key)
	if err != nil {
		w.log.LogWarnf("%s %s: existence check failed, scraping anyway: %v", kind, key, err)
	}
	if exists {
		sum.Skipped++
		w.log.LogInfof("%s %s: skipped - duplicate", kind, key)
		return
	}

	res := w.extractor.Extract(ctx, kind, key)
	if !storable(res) {
		sum.Failed++
		w.log.LogWarnf("%s %s: failed - %v", kind, key, res.Err)
		return
	}
	out := w.store.Insert(ctx, res.Record)
	switch out.Status {
	case ingest.Inserted:
		sum.Inserted++
		if res.Record.Empty() {
			sum.Empty++
		}
	case ingest.SkippedDuplicate:
		sum.Skipped++
	default:
		sum.Failed++
	}
	w.log.LogInfof("%s %s: %s", kind, key, out.Trail())
}

// storable reports whether an extraction result should be written. A page
// in no known layout is stored key-only; a search that broke or was cut
// short is not, so the key is retried on the next run.
func storable(res extract.Result) bool {
	return res.OK() || errors.Is(res.Err, extract.ErrLayoutUnrecognized)
}
