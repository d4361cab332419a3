package job

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestApp(t *testing.T) (*fiber.App, *fakeQueue, *Service) {
	t.Helper()
	svc, q, _, _ := newTestService(t)
	h := NewHandler(svc, 3, true)
	app := fiber.New()
	app.Post("/v1/runs", h.HandleCreateRun)
	app.Get("/v1/runs/:jobId", h.HandleGetRun)
	return app, q, svc
}

func post(t *testing.T, app *fiber.App, body string) (*http.Response, map[string]any) {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/v1/runs", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	resp, err := app.Test(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	out := map[string]any{}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	return resp, out
}

func TestCreateRunAppliesDefaults(t *testing.T) {
	app, q, svc := newTestApp(t)

	resp, body := post(t, app, `{"kind":"requests","start":10,"stop":13}`)
	require.Equal(t, http.StatusAccepted, resp.StatusCode)
	require.Len(t, q.tasks, 1)

	r, err := svc.Get(context.Background(), body["job_id"].(string))
	require.NoError(t, err)
	assert.Equal(t, 3, r.Job.Workers)
	assert.True(t, r.Job.Headless)
}

func TestCreateRunRejectsBadRange(t *testing.T) {
	app, q, _ := newTestApp(t)

	resp, body := post(t, app, `{"kind":"requests","start":10,"stop":5,"workers":2}`)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Contains(t, body["error"], "stop 5 is before start 10")
	assert.Empty(t, q.tasks)

	resp, _ = post(t, app, `not json`)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestGetRun(t *testing.T) {
	app, _, _ := newTestApp(t)
	_, created := post(t, app, `{"kind":"orders","start":1,"stop":2,"workers":1,"headless":false}`)
	id := created["job_id"].(string)

	resp, err := app.Test(httptest.NewRequest(http.MethodGet, "/v1/runs/"+id, nil))
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var r Run
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&r))
	assert.Equal(t, id, r.JobID)
	assert.Equal(t, StatusPending, r.Status)
	assert.False(t, r.Job.Headless)

	resp, err = app.Test(httptest.NewRequest(http.MethodGet, "/v1/runs/missing", nil))
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}
