package api_test

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/taskmill/taskmill/internal/api"
	"github.com/taskmill/taskmill/internal/task"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// newTestServer wires a handler against an in-memory manager whose executor
// runs callables synchronously, so every async submission is already
// terminal by the time the response is written.
func newTestServer(t *testing.T, mode task.Mode) (*httptest.Server, *task.Manager) {
	t.Helper()

	manager := task.NewManager(
		"api-test",
		task.NewMemoryStore(0),
		task.NewMockExecutor(),
		task.ManagerConfig{DispatchMode: mode},
		testLogger(),
		nil,
	)

	catalog := api.NewCatalog()
	require.NoError(t, catalog.Register("add", task.Func(func(ctx context.Context, args []any, kwargs map[string]any) (any, error) {
		sum := 0.0
		for _, a := range args {
			n, ok := a.(float64)
			if !ok {
				return nil, fmt.Errorf("expected a number, got %T", a)
			}
			sum += n
		}
		return sum, nil
	})))
	require.NoError(t, catalog.Register("boom", task.Func(func(ctx context.Context, args []any, kwargs map[string]any) (any, error) {
		return nil, fmt.Errorf("intentional failure")
	})))

	handler := api.NewTaskHandler(manager, catalog, testLogger())
	r := chi.NewRouter()
	r.Route("/api", handler.RegisterRoutes)

	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)
	return srv, manager
}

func doJSON(t *testing.T, method, url string, body any) (*http.Response, []byte) {
	t.Helper()

	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	}
	req, err := http.NewRequest(method, url, reader)
	require.NoError(t, err)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()

	raw, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp, raw
}

func TestInvoke_SyncByDefault(t *testing.T) {
	t.Parallel()
	srv, _ := newTestServer(t, task.ModeQueryFlag)

	resp, raw := doJSON(t, http.MethodPost, srv.URL+"/api/functions/add", api.InvokeRequest{Args: []any{1, 2, 3}})
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var body api.InvokeResponse
	require.NoError(t, json.Unmarshal(raw, &body))
	assert.Equal(t, float64(6), body.Result)
}

func TestInvoke_AsyncViaQueryFlag(t *testing.T) {
	t.Parallel()
	srv, _ := newTestServer(t, task.ModeQueryFlag)

	resp, raw := doJSON(t, http.MethodPost, srv.URL+"/api/functions/add?async=true", api.InvokeRequest{Args: []any{2, 2}})
	require.Equal(t, http.StatusAccepted, resp.StatusCode)

	var handle api.TaskResponse
	require.NoError(t, json.Unmarshal(raw, &handle))
	assert.NotEmpty(t, handle.TaskID)
	assert.Equal(t, string(task.StatusCompleted), handle.Status)

	// The handle resolves to the stored result.
	resp, raw = doJSON(t, http.MethodGet, srv.URL+"/api/tasks/"+handle.TaskID+"/result", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var result api.ResultResponse
	require.NoError(t, json.Unmarshal(raw, &result))
	assert.Equal(t, handle.TaskID, result.TaskID)
	assert.Equal(t, float64(4), result.Result)
}

func TestInvoke_AsyncViaHeaderFlag(t *testing.T) {
	t.Parallel()
	srv, _ := newTestServer(t, task.ModeHeaderFlag)

	// The query flag is ignored in header-flag mode.
	resp, _ := doJSON(t, http.MethodPost, srv.URL+"/api/functions/add?async=true", api.InvokeRequest{Args: []any{1}})
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	req, err := http.NewRequest(http.MethodPost, srv.URL+"/api/functions/add", bytes.NewReader([]byte(`{"args":[1]}`)))
	require.NoError(t, err)
	req.Header.Set("X-Async", "true")
	headerResp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer func() { _ = headerResp.Body.Close() }()
	assert.Equal(t, http.StatusAccepted, headerResp.StatusCode)
}

func TestInvoke_ModeAlwaysIgnoresFlags(t *testing.T) {
	t.Parallel()
	srv, _ := newTestServer(t, task.ModeAlways)

	resp, _ := doJSON(t, http.MethodPost, srv.URL+"/api/functions/add", api.InvokeRequest{Args: []any{1}})
	assert.Equal(t, http.StatusAccepted, resp.StatusCode)
}

func TestInvoke_UnknownFunction(t *testing.T) {
	t.Parallel()
	srv, _ := newTestServer(t, task.ModeQueryFlag)

	resp, _ := doJSON(t, http.MethodPost, srv.URL+"/api/functions/nope", api.InvokeRequest{})
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestInvoke_SyncFailureReportsDetail(t *testing.T) {
	t.Parallel()
	srv, _ := newTestServer(t, task.ModeQueryFlag)

	resp, raw := doJSON(t, http.MethodPost, srv.URL+"/api/functions/boom", api.InvokeRequest{})
	require.Equal(t, http.StatusInternalServerError, resp.StatusCode)
	assert.Contains(t, string(raw), "intentional failure")
}

func TestGetResult_FailedTaskCarriesStoredError(t *testing.T) {
	t.Parallel()
	srv, _ := newTestServer(t, task.ModeAlways)

	resp, raw := doJSON(t, http.MethodPost, srv.URL+"/api/functions/boom", api.InvokeRequest{})
	require.Equal(t, http.StatusAccepted, resp.StatusCode)
	var handle api.TaskResponse
	require.NoError(t, json.Unmarshal(raw, &handle))
	assert.Equal(t, string(task.StatusFailed), handle.Status)

	resp, raw = doJSON(t, http.MethodGet, srv.URL+"/api/tasks/"+handle.TaskID+"/result", nil)
	assert.Equal(t, http.StatusInternalServerError, resp.StatusCode)
	assert.Contains(t, string(raw), "intentional failure")
}

func TestGetStatus(t *testing.T) {
	t.Parallel()
	srv, _ := newTestServer(t, task.ModeAlways)

	_, raw := doJSON(t, http.MethodPost, srv.URL+"/api/functions/add", api.InvokeRequest{Args: []any{5}})
	var handle api.TaskResponse
	require.NoError(t, json.Unmarshal(raw, &handle))

	resp, raw := doJSON(t, http.MethodGet, srv.URL+"/api/tasks/"+handle.TaskID, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var status api.TaskResponse
	require.NoError(t, json.Unmarshal(raw, &status))
	assert.Equal(t, handle.TaskID, status.TaskID)
	assert.Equal(t, string(task.StatusCompleted), status.Status)
	assert.False(t, status.CreatedAt.IsZero())
	require.NotNil(t, status.CompletedAt)
}

func TestGetStatus_UnknownTask(t *testing.T) {
	t.Parallel()
	srv, _ := newTestServer(t, task.ModeQueryFlag)

	resp, _ := doJSON(t, http.MethodGet, srv.URL+"/api/tasks/no-such-task", nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestGetResult_NotReadyAndTimeout(t *testing.T) {
	t.Parallel()

	// A manager whose executor never completes anything, so records stay
	// running.
	exec := task.NewMockExecutor()
	exec.SubmitFn = func(taskID string, c task.Callable, args []any, kwargs map[string]any, done task.DoneFunc) error {
		return nil
	}
	manager := task.NewManager(
		"api-stuck",
		task.NewMemoryStore(0),
		exec,
		task.ManagerConfig{PollInterval: 10 * time.Millisecond},
		testLogger(),
		nil,
	)
	taskID, err := manager.CreateTask(context.Background(), task.Func(func(ctx context.Context, args []any, kwargs map[string]any) (any, error) {
		return nil, nil
	}), nil, nil)
	require.NoError(t, err)

	handler := api.NewTaskHandler(manager, api.NewCatalog(), testLogger())
	r := chi.NewRouter()
	r.Route("/api", handler.RegisterRoutes)
	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)

	// Without wait, a running task reports 202.
	resp, _ := doJSON(t, http.MethodGet, srv.URL+"/api/tasks/"+taskID+"/result", nil)
	assert.Equal(t, http.StatusAccepted, resp.StatusCode)

	// With wait and a short timeout, the deadline maps to 408.
	resp, _ = doJSON(t, http.MethodGet, srv.URL+"/api/tasks/"+taskID+"/result?wait=true&timeout=30ms", nil)
	assert.Equal(t, http.StatusRequestTimeout, resp.StatusCode)

	// A malformed timeout is rejected before touching the engine.
	resp, _ = doJSON(t, http.MethodGet, srv.URL+"/api/tasks/"+taskID+"/result?wait=true&timeout=bogus", nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestCancelTask_Idempotent(t *testing.T) {
	t.Parallel()
	srv, _ := newTestServer(t, task.ModeAlways)

	_, raw := doJSON(t, http.MethodPost, srv.URL+"/api/functions/add", api.InvokeRequest{Args: []any{1}})
	var handle api.TaskResponse
	require.NoError(t, json.Unmarshal(raw, &handle))

	resp, raw := doJSON(t, http.MethodDelete, srv.URL+"/api/tasks/"+handle.TaskID, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var cancel api.CancelResponse
	require.NoError(t, json.Unmarshal(raw, &cancel))
	assert.True(t, cancel.Cancelled)

	// Second cancel reports nothing removed, still a 200.
	resp, raw = doJSON(t, http.MethodDelete, srv.URL+"/api/tasks/"+handle.TaskID, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.NoError(t, json.Unmarshal(raw, &cancel))
	assert.False(t, cancel.Cancelled)
}

func TestListTasks(t *testing.T) {
	t.Parallel()
	srv, _ := newTestServer(t, task.ModeAlways)

	for i := 0; i < 3; i++ {
		resp, _ := doJSON(t, http.MethodPost, srv.URL+"/api/functions/add", api.InvokeRequest{Args: []any{1}})
		require.Equal(t, http.StatusAccepted, resp.StatusCode)
	}

	resp, raw := doJSON(t, http.MethodGet, srv.URL+"/api/tasks", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var all []api.TaskResponse
	require.NoError(t, json.Unmarshal(raw, &all))
	assert.Len(t, all, 3)

	resp, raw = doJSON(t, http.MethodGet, srv.URL+"/api/tasks?limit=2", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.NoError(t, json.Unmarshal(raw, &all))
	assert.Len(t, all, 2)

	resp, _ = doJSON(t, http.MethodGet, srv.URL+"/api/tasks?limit=-1", nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestListFunctions(t *testing.T) {
	t.Parallel()
	srv, _ := newTestServer(t, task.ModeQueryFlag)

	resp, raw := doJSON(t, http.MethodGet, srv.URL+"/api/functions", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var body api.FunctionsResponse
	require.NoError(t, json.Unmarshal(raw, &body))
	assert.Equal(t, []string{"add", "boom"}, body.Functions)
}

func TestInvoke_SchedulingFailureMapsTo503(t *testing.T) {
	t.Parallel()

	exec := task.NewMockExecutor()
	exec.SubmitFn = func(taskID string, c task.Callable, args []any, kwargs map[string]any, done task.DoneFunc) error {
		return task.ErrQueueFull
	}
	manager := task.NewManager("api-full", task.NewMemoryStore(0), exec,
		task.ManagerConfig{DispatchMode: task.ModeAlways}, testLogger(), nil)

	catalog := api.NewCatalog()
	require.NoError(t, catalog.Register("noop", task.Func(func(ctx context.Context, args []any, kwargs map[string]any) (any, error) {
		return nil, nil
	})))

	handler := api.NewTaskHandler(manager, catalog, testLogger())
	r := chi.NewRouter()
	r.Route("/api", handler.RegisterRoutes)
	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)

	resp, _ := doJSON(t, http.MethodPost, srv.URL+"/api/functions/noop", api.InvokeRequest{})
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
}

func TestGetResult_WaitWithoutTimeoutWaits(t *testing.T) {
	t.Parallel()

	// The executor completes the task shortly after submission, so a
	// bare ?wait=true only succeeds if it actually blocks instead of
	// expiring on a zero deadline.
	exec := task.NewMockExecutor()
	exec.SubmitFn = func(taskID string, c task.Callable, args []any, kwargs map[string]any, done task.DoneFunc) error {
		go func() {
			time.Sleep(50 * time.Millisecond)
			done(taskID, "late", nil)
		}()
		return nil
	}
	manager := task.NewManager(
		"api-late",
		task.NewMemoryStore(0),
		exec,
		task.ManagerConfig{PollInterval: 10 * time.Millisecond},
		testLogger(),
		nil,
	)
	taskID, err := manager.CreateTask(context.Background(), task.Func(func(ctx context.Context, args []any, kwargs map[string]any) (any, error) {
		return nil, nil
	}), nil, nil)
	require.NoError(t, err)

	handler := api.NewTaskHandler(manager, api.NewCatalog(), testLogger())
	r := chi.NewRouter()
	r.Route("/api", handler.RegisterRoutes)
	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)

	resp, raw := doJSON(t, http.MethodGet, srv.URL+"/api/tasks/"+taskID+"/result?wait=true", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var result api.ResultResponse
	require.NoError(t, json.Unmarshal(raw, &result))
	assert.Equal(t, "late", result.Result)
}
