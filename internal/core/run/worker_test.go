package run

import (
	"context"
	"errors"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"

	"maintscraper/internal/core/extract"
	"maintscraper/internal/core/ingest"
	"maintscraper/internal/core/record"
	"maintscraper/internal/logger"
)

type stubExtractor struct {
	results map[string]extract.Result
	panics  map[string]bool
	calls   []string
}

func (s *stubExtractor) Extract(_ context.Context, kind record.Kind, key string) extract.Result {
	s.calls = append(s.calls, key)
	if s.panics[key] {
		panic("boom")
	}
	if r, ok := s.results[key]; ok {
		return r
	}
	rec := record.New(kind, key)
	rec.Set("status", "Open")
	return extract.Result{Record: rec, State: extract.Done}
}

type stubStore struct {
	existing map[string]bool
	inserted []string
	outcome  map[string]ingest.Outcome
}

func (s *stubStore) Exists(_ context.Context, _ record.Kind, key string) (bool, error) {
	return s.existing[key], nil
}

func (s *stubStore) Insert(_ context.Context, rec record.Record) ingest.Outcome {
	if o, ok := s.outcome[rec.Key()]; ok {
		return o
	}
	s.inserted = append(s.inserted, rec.Key())
	return ingest.Outcome{Status: ingest.Inserted}
}

func quietLogger() *logger.Logger {
	return logger.NewWithConfig("test", logger.Config{Out: io.Discard})
}

func TestProcessSkipsExistingKeysBeforeScraping(t *testing.T) {
	ex := &stubExtractor{}
	st := &stubStore{existing: map[string]bool{"11": true}}

	sum := NewWorker(1, ex, st, quietLogger()).Process(context.Background(), record.KindRequest, []string{"10", "11", "12"})

	assert.Equal(t, []string{"10", "12"}, ex.calls)
	assert.Equal(t, []string{"10", "12"}, st.inserted)
	assert.Equal(t, Summary{Worker: 1, Attempted: 3, Inserted: 2, Skipped: 1}, sum)
}

func TestProcessContinuesPastFailures(t *testing.T) {
	ex := &stubExtractor{
		panics: map[string]bool{"2": true},
		results: map[string]extract.Result{
			"3": {Record: record.NewRequest(3), State: extract.Failed, Err: extract.ErrLayoutUnrecognized},
			"4": {Record: record.NewRequest(4), State: extract.Failed, Err: extract.ErrSearchFailed},
		},
	}
	st := &stubStore{outcome: map[string]ingest.Outcome{
		"5": {Status: ingest.Failed, Reason: "disk full", Err: ingest.ErrStoreWrite},
	}}

	sum := NewWorker(0, ex, st, quietLogger()).Process(context.Background(), record.KindRequest, []string{"1", "2", "3", "4", "5", "6"})

	assert.Equal(t, []string{"1", "3", "6"}, st.inserted)
	assert.Equal(t, 6, sum.Attempted)
	assert.Equal(t, 3, sum.Inserted)
	assert.Equal(t, 1, sum.Empty, "unrecognized layout is stored key-only")
	assert.Equal(t, 3, sum.Failed)
}

func TestProcessStopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	ex := &stubExtractor{}
	st := &stubStore{}
	st.outcome = map[string]ingest.Outcome{}
	w := NewWorker(0, ex, cancelAfterFirst{st, cancel}, quietLogger())

	sum := w.Process(ctx, record.KindOrder, []string{"HM-1", "HM-2", "HM-3"})

	assert.True(t, sum.Interrupted)
	assert.Equal(t, 1, sum.Attempted)
}

type cancelAfterFirst struct {
	*stubStore
	cancel context.CancelFunc
}

func (c cancelAfterFirst) Insert(ctx context.Context, rec record.Record) ingest.Outcome {
	defer c.cancel()
	return c.stubStore.Insert(ctx, rec)
}

func TestSummaryAdd(t *testing.T) {
	total := Summary{}
	total.Add(Summary{Attempted: 2, Inserted: 1, Skipped: 1})
	total.Add(Summary{Attempted: 1, Failed: 1, Interrupted: true})

	assert.Equal(t, Summary{Attempted: 3, Inserted: 1, Skipped: 1, Failed: 1, Interrupted: true}, total)
	assert.Equal(t, "3 attempted, 1 inserted, 1 skipped, 1 failed, 0 empty", total.String())
}

func TestStorable(t *testing.T) {
	assert.True(t, storable(extract.Result{State: extract.Done}))
	assert.True(t, storable(extract.Result{State: extract.Failed, Err: extract.ErrLayoutUnrecognized}))
	assert.False(t, storable(extract.Result{State: extract.Failed, Err: extract.ErrUnexpected}))
	assert.False(t, storable(extract.Result{State: extract.Failed, Err: errors.Join(extract.ErrSearchFailed)}))
}
