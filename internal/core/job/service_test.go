package job

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	redisv8 "github.com/go-redis/redis/v8"
	"github.com/hibiken/asynq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"maintscraper/internal/core/record"
	"maintscraper/internal/core/run"
	"maintscraper/internal/logger"
	rds "maintscraper/internal/platform/redis"
	"maintscraper/internal/platform/tasks"
)

type queued struct {
	task    *asynq.Task
	queue   string
	retries int
}

type fakeQueue struct {
	tasks []queued
	err   error
}

func (q *fakeQueue) Enqueue(task *asynq.Task, queue string, maxRetries int) error {
	if q.err != nil {
		return q.err
	}
	q.tasks = append(q.tasks, queued{task, queue, maxRetries})
	return nil
}

type fakeRunner struct {
	report run.Report
	err    error
	got    []run.Job
}

func (r *fakeRunner) RunParallel(_ context.Context, j run.Job) (run.Report, error) {
	r.got = append(r.got, j)
	rep := r.report
	rep.Job = j
	return rep, r.err
}

func newTestService(t *testing.T) (*Service, *fakeQueue, *miniredis.Miniredis, *redisv8.Client) {
	t.Helper()
	mini := miniredis.RunT(t)
	client := redisv8.NewClient(&redisv8.Options{Addr: mini.Addr()})
	t.Cleanup(func() { client.Close() })
	log := logger.NewWithConfig("test", logger.Config{Out: io.Discard})
	q := &fakeQueue{}
	return NewService(rds.NewWithClient(client, log), q, 2, log), q, mini, client
}

func TestEnqueueStoresPendingRunAndQueuesTask(t *testing.T) {
	svc, q, mini, _ := newTestService(t)
	ctx := context.Background()
	j := run.Job{Kind: "orders", Start: 100, Stop: 200, Workers: 4}

	id, err := svc.Enqueue(ctx, j)
	require.NoError(t, err)

	r, err := svc.Get(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, StatusPending, r.Status)
	assert.Equal(t, record.KindOrder, r.Job.Kind)
	assert.Equal(t, 24*time.Hour, mini.TTL("run:"+id))

	require.Len(t, q.tasks, 1)
	assert.Equal(t, tasks.TaskTypeRunRange, q.tasks[0].task.Type())
	assert.Equal(t, "default", q.tasks[0].queue)
	assert.Equal(t, 2, q.tasks[0].retries)
	var p TaskPayload
	require.NoError(t, json.Unmarshal(q.tasks[0].task.Payload(), &p))
	assert.Equal(t, id, p.JobID)
	assert.Equal(t, 100, p.Job.Start)
}

func TestEnqueueRejectsInvalidRun(t *testing.T) {
	svc, q, _, _ := newTestService(t)

	for _, j := range []run.Job{
		{Kind: "invoices", Start: 0, Stop: 1, Workers: 1},
		{Kind: record.KindRequest, Start: 0, Stop: 1, Workers: 0},
		{Kind: record.KindRequest, Start: 5, Stop: 1, Workers: 1},
	} {
		_, err := svc.Enqueue(context.Background(), j)
		assert.ErrorIs(t, err, ErrInvalidJob, "%+v", j)
	}
	assert.Empty(t, q.tasks)
}

func TestEnqueueFailureMarksRunFailed(t *testing.T) {
	svc, q, mini, _ := newTestService(t)
	q.err = errors.New("redis: connection refused")

	_, err := svc.Enqueue(context.Background(), run.Job{Kind: record.KindRequest, Start: 0, Stop: 5, Workers: 1})
	require.Error(t, err)

	keys := mini.Keys()
	require.Len(t, keys, 1)
	var r Run
	require.NoError(t, json.Unmarshal([]byte(mustGet(t, mini, keys[0])), &r))
	assert.Equal(t, StatusFailed, r.Status)
	assert.Contains(t, r.Error, "connection refused")
	assert.Equal(t, time.Hour, mini.TTL(keys[0]))
}

func mustGet(t *testing.T, mini *miniredis.Miniredis, key string) string {
	t.Helper()
	v, err := mini.Get(key)
	require.NoError(t, err)
	return v
}

func TestGetUnknownRun(t *testing.T) {
	svc, _, _, _ := newTestService(t)

	_, err := svc.Get(context.Background(), "nope")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestHandleTaskCompletesRun(t *testing.T) {
	svc, q, mini, client := newTestService(t)
	ctx := context.Background()
	id, err := svc.Enqueue(ctx, run.Job{Kind: record.KindRequest, Start: 10, Stop: 13, Workers: 2})
	require.NoError(t, err)

	sub := client.Subscribe(ctx, "run:"+id)
	defer sub.Close()
	_, err = sub.Receive(ctx)
	require.NoError(t, err)

	runner := &fakeRunner{report: run.Report{Totals: run.Summary{Attempted: 3, Inserted: 2, Skipped: 1}}}
	require.NoError(t, svc.HandleTask(runner)(ctx, q.tasks[0].task))

	r, err := svc.Get(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, r.Status)
	require.NotNil(t, r.Report)
	assert.Equal(t, 2, r.Report.Totals.Inserted)
	assert.Equal(t, time.Hour, mini.TTL("run:"+id))
	require.Len(t, runner.got, 1)
	assert.Equal(t, 13, runner.got[0].Stop)

	msg, err := sub.ReceiveMessage(ctx)
	require.NoError(t, err)
	assert.Contains(t, msg.Payload, `"processing"`)
}

func TestHandleTaskRecordsFailure(t *testing.T) {
	svc, q, _, _ := newTestService(t)
	ctx := context.Background()
	id, err := svc.Enqueue(ctx, run.Job{Kind: record.KindRequest, Start: 0, Stop: 2, Workers: 2})
	require.NoError(t, err)

	runner := &fakeRunner{err: run.ErrAllWorkersFailed}
	err = svc.HandleTask(runner)(ctx, q.tasks[0].task)
	assert.True(t, errors.Is(err, asynq.SkipRetry))

	r, err := svc.Get(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, StatusFailed, r.Status)
	assert.Contains(t, r.Error, "all workers failed")
}

func TestHandleTaskRejectsBadPayload(t *testing.T) {
	svc, _, _, _ := newTestService(t)

	err := svc.HandleTask(&fakeRunner{})(context.Background(), asynq.NewTask(tasks.TaskTypeRunRange, []byte("{")))
	assert.ErrorIs(t, err, asynq.SkipRetry)
}
