package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/depfollow/internal/follower"
	"github.com/JakeFAU/depfollow/internal/progress"
	"github.com/JakeFAU/depfollow/internal/progress/sinks"
	"github.com/JakeFAU/depfollow/internal/storage/memory"
)

type fakeReadiness struct{ running bool }

func (f fakeReadiness) Running() bool { return f.running }

type failingStore struct{}

func (failingStore) Get(context.Context, string) ([]byte, error) {
	return nil, errors.New("boom")
}

func (failingStore) Put(context.Context, string, []byte) error { return errors.New("boom") }

func (failingStore) Batch(context.Context, []follower.BatchOp) error { return errors.New("boom") }

func serve(t *testing.T, srv *Server, path string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, path, nil)
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)
	return rec
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	return body
}

func TestServer_Probes(t *testing.T) {
	t.Parallel()

	store := memory.NewKVStore()
	srv := NewServer(store, fakeReadiness{running: true}, nil, nil)

	rec := serve(t, srv, "/healthz")
	require.Equal(t, http.StatusOK, rec.Code)
	require.NotEmpty(t, rec.Header().Get("X-Request-ID"))

	rec = serve(t, srv, "/readyz")
	require.Equal(t, http.StatusOK, rec.Code)

	stopped := NewServer(store, fakeReadiness{}, nil, nil)
	rec = serve(t, stopped, "/readyz")
	require.Equal(t, http.StatusServiceUnavailable, rec.Code)

	rec = serve(t, NewServer(store, nil, nil, nil), "/readyz")
	require.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestServer_RequestIDPropagates(t *testing.T) {
	t.Parallel()

	srv := NewServer(memory.NewKVStore(), nil, nil, nil)
	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	req.Header.Set("X-Request-ID", "req-123")
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)
	require.Equal(t, "req-123", rec.Header().Get("X-Request-ID"))
}

func TestServer_Metrics(t *testing.T) {
	t.Parallel()

	srv := NewServer(memory.NewKVStore(), nil, nil, nil)
	_ = serve(t, srv, "/healthz")
	rec := serve(t, srv, "/metrics")
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), "depfollow_http_requests_total")
}

func TestServer_Checkpoint(t *testing.T) {
	t.Parallel()

	store := memory.NewKVStore()
	srv := NewServer(store, nil, nil, nil)

	rec := serve(t, srv, "/v1/checkpoint")
	require.Equal(t, http.StatusOK, rec.Code)
	body := decodeBody(t, rec)
	require.Equal(t, false, body["found"])
	require.EqualValues(t, 0, body["sequence"])

	require.NoError(t, store.Put(context.Background(), follower.SequenceKey, follower.FormatSequence(42)))
	rec = serve(t, srv, "/v1/checkpoint")
	require.Equal(t, http.StatusOK, rec.Code)
	body = decodeBody(t, rec)
	require.Equal(t, true, body["found"])
	require.EqualValues(t, 42, body["sequence"])
}

func TestServer_CheckpointStoreFailure(t *testing.T) {
	t.Parallel()

	srv := NewServer(failingStore{}, nil, nil, nil)
	rec := serve(t, srv, "/v1/checkpoint")
	require.Equal(t, http.StatusInternalServerError, rec.Code)
	require.Equal(t, "failed to read checkpoint", decodeBody(t, rec)["error"])
}

func TestServer_Dependencies(t *testing.T) {
	t.Parallel()

	store := memory.NewKVStore()
	ctx := context.Background()
	require.NoError(t, store.Put(ctx, follower.DependencyKey("left-pad", "1.3.0"), []byte(`{"a":"^1.0.0"}`)))
	require.NoError(t, store.Put(ctx, follower.DependencyKey("@scope/pkg", "2.0.0"), []byte(`{}`)))
	srv := NewServer(store, nil, nil, nil)

	tests := []struct {
		name   string
		path   string
		status int
		body   string
	}{
		{name: "plain", path: "/v1/dependencies/left-pad/1.3.0", status: http.StatusOK, body: `{"a":"^1.0.0"}`},
		{name: "scoped", path: "/v1/dependencies/%40scope%2Fpkg/2.0.0", status: http.StatusOK, body: `{}`},
		{name: "missing version", path: "/v1/dependencies/left-pad/9.9.9", status: http.StatusNotFound},
		{name: "missing package", path: "/v1/dependencies/nope/1.0.0", status: http.StatusNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			rec := serve(t, srv, tt.path)
			require.Equal(t, tt.status, rec.Code)
			if tt.body != "" {
				require.Equal(t, tt.body, rec.Body.String())
				require.Equal(t, "application/json", rec.Header().Get("Content-Type"))
			}
		})
	}
}

func TestServer_DependenciesStoreFailure(t *testing.T) {
	t.Parallel()

	srv := NewServer(failingStore{}, nil, nil, nil)
	rec := serve(t, srv, "/v1/dependencies/left-pad/1.3.0")
	require.Equal(t, http.StatusInternalServerError, rec.Code)
}

func TestServer_Events(t *testing.T) {
	t.Parallel()

	runID := progress.UUIDToBytes(uuid.New())
	ts := time.Unix(1_700_000_000, 0).UTC()
	recent := sinks.NewRecentSink(10)
	require.NoError(t, recent.Consume(context.Background(), []progress.Event{
		{RunID: runID, TS: ts, Stage: progress.StageFollowStart},
		{RunID: runID, TS: ts, Stage: progress.StageChangeProcessed, Sequence: 42, Package: "foo", Versions: 2, Dur: 15 * time.Millisecond},
		{RunID: runID, TS: ts, Stage: progress.StageChangeSkipped, Sequence: 43},
	}))
	srv := NewServer(memory.NewKVStore(), nil, recent, nil)

	rec := serve(t, srv, "/v1/events")
	require.Equal(t, http.StatusOK, rec.Code)
	var body struct {
		Events []eventDTO `json:"events"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Len(t, body.Events, 3)
	require.Equal(t, int64(43), body.Events[0].Sequence)
	require.Equal(t, "FOLLOW_START", body.Events[2].Stage)

	rec = serve(t, srv, "/v1/events?stage=change_processed")
	require.Equal(t, http.StatusOK, rec.Code)
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Len(t, body.Events, 1)
	require.Equal(t, "foo", body.Events[0].Package)
	require.Equal(t, 2, body.Events[0].Versions)
	require.Equal(t, int64(15), body.Events[0].DurationMs)
	require.Equal(t, uuid.UUID(runID).String(), body.Events[0].RunID)

	rec = serve(t, srv, "/v1/events?limit=1")
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Len(t, body.Events, 1)
}

func TestServer_EventsValidation(t *testing.T) {
	t.Parallel()

	srv := NewServer(memory.NewKVStore(), nil, sinks.NewRecentSink(1), nil)
	for _, path := range []string{"/v1/events?limit=0", "/v1/events?limit=abc", "/v1/events?stage=bogus"} {
		rec := serve(t, srv, path)
		require.Equal(t, http.StatusBadRequest, rec.Code, path)
	}

	rec := serve(t, NewServer(memory.NewKVStore(), nil, nil, nil), "/v1/events")
	require.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestParseLimit(t *testing.T) {
	t.Parallel()

	limit, err := parseLimit("")
	require.NoError(t, err)
	require.Equal(t, defaultEventLimit, limit)

	limit, err = parseLimit("10000")
	require.NoError(t, err)
	require.Equal(t, maxEventLimit, limit)

	_, err = parseLimit("-1")
	require.Error(t, err)
}
