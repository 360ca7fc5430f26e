package api

import (
	"context"
	"encoding/json"
	"net"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/JakeFAU/mse-history-crawler/internal/runner"
	"github.com/JakeFAU/mse-history-crawler/internal/worker"
)

type fakeStatus struct {
	status runner.Status
}

func (f fakeStatus) Status() runner.Status {
	return f.status
}

func newTestServer(t *testing.T, status StatusProvider) (*Server, *prometheus.Registry) {
	t.Helper()
	reg := prometheus.NewRegistry()
	srv, err := NewServer(status, reg, reg, zap.NewNop())
	require.NoError(t, err)
	return srv, reg
}

func TestServer_Healthz(t *testing.T) {
	t.Parallel()

	srv, _ := newTestServer(t, nil)
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	require.JSONEq(t, `{"status":"ok"}`, rec.Body.String())
	require.NotEmpty(t, rec.Header().Get("X-Request-ID"))
}

func TestServer_StatusReportsLiveRun(t *testing.T) {
	t.Parallel()

	srv, _ := newTestServer(t, fakeStatus{status: runner.Status{
		RunID:    "run-1",
		Phase:    runner.PhaseCrawling,
		Entities: 12,
		Stats:    worker.Snapshot{Fetched: 3, Rows: 40},
	}})
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/status", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	var got runner.Status
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	require.Equal(t, runner.PhaseCrawling, got.Phase)
	require.Equal(t, 12, got.Entities)
	require.EqualValues(t, 40, got.Stats.Rows)
}

func TestServer_StatusWithoutProviderIsIdle(t *testing.T) {
	t.Parallel()

	srv, _ := newTestServer(t, nil)
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/status", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), `"phase":"idle"`)
}

func TestServer_MetricsExposeRegistry(t *testing.T) {
	t.Parallel()

	srv, reg := newTestServer(t, nil)
	srv.Handler().ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/healthz", nil))

	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), "history_http_requests_total")
	require.Equal(t, 2, testutil.CollectAndCount(reg, "history_http_request_duration_seconds"), "healthz and metrics routes")
}

func TestServer_UnknownRoute(t *testing.T) {
	t.Parallel()

	srv, _ := newTestServer(t, nil)
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/jobs", nil))

	require.Equal(t, http.StatusNotFound, rec.Code)
}

func TestServer_DuplicateRegistrationFails(t *testing.T) {
	t.Parallel()

	reg := prometheus.NewRegistry()
	_, err := NewServer(nil, reg, reg, nil)
	require.NoError(t, err)
	_, err = NewServer(nil, reg, reg, nil)
	require.Error(t, err)
}

func TestServer_ServeStopsOnCancel(t *testing.T) {
	t.Parallel()

	srv, _ := newTestServer(t, nil)
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := ln.Addr().String()
	require.NoError(t, ln.Close())

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Serve(ctx, addr)
	}()

	require.Eventually(t, func() bool {
		resp, err := http.Get("http://" + addr + "/healthz") //nolint:noctx // test probe
		if err != nil {
			return false
		}
		_ = resp.Body.Close()
		return resp.StatusCode == http.StatusOK
	}, 2*time.Second, 20*time.Millisecond)

	cancel()
	select {
	case err := <-errCh:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("server did not shut down")
	}
}
