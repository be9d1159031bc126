package app_test

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/JakeFAU/depfollow/internal/app"
	"github.com/JakeFAU/depfollow/internal/config"
	"github.com/JakeFAU/depfollow/internal/follower"
	"github.com/JakeFAU/depfollow/internal/jobs"
	"github.com/JakeFAU/depfollow/internal/progress"
)

// newFeed serves a finite _changes feed that honours since.
func newFeed(t *testing.T, since *atomic.Value) *httptest.Server {
	t.Helper()
	rows := []struct {
		seq  int64
		line string
	}{
		{42, `{"seq":42,"id":"foo","doc":{"name":"foo","versions":{"1.0.0":{"dependencies":{"bar":"^2.0.0"}},"1.1.0":{}}}}`},
		{43, `{"seq":43,"id":"gone","deleted":true,"doc":null}`},
	}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		from := r.URL.Query().Get("since")
		since.Store(from)
		var after int64
		_, _ = fmt.Sscan(from, &after)
		for _, row := range rows {
			if row.seq > after {
				fmt.Fprintln(w, row.line)
			}
		}
		fmt.Fprintln(w, `{"last_seq":43}`)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func baseConfig(feedURL string) config.Config {
	return config.Config{
		Server:    config.ServerConfig{Enabled: false},
		Feed:      config.FeedConfig{URL: feedURL, HeartbeatSeconds: 1, ConnectAttempts: 1, RetryDelayMs: 1},
		Store:     config.StoreConfig{Backend: config.BackendMemory},
		Artifacts: config.ArtifactsConfig{Backend: config.BackendMemory},
		Notify:    config.NotifyConfig{Backend: config.BackendMemory, Topic: "versions"},
		Progress:  config.ProgressConfig{MaxBatchWaitMs: 10},
	}
}

func runToEnd(t *testing.T, a *app.App) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	require.NoError(t, a.Run(ctx))
}

func TestApp_RunFollowsFeedToEnd(t *testing.T) {
	t.Parallel()

	var since atomic.Value
	feed := newFeed(t, &since)
	cfg := baseConfig(feed.URL)
	cfg.Artifacts = config.ArtifactsConfig{Backend: config.BackendLocal, LocalDir: t.TempDir(), Prefix: "manifests"}

	a, err := app.New(context.Background(), cfg, "test", zap.NewNop(), app.WithRegisterer(prometheus.NewRegistry()))
	require.NoError(t, err)

	runToEnd(t, a)
	require.Equal(t, "0", since.Load())

	ctx := context.Background()
	raw, err := a.Store().Get(ctx, follower.DependencyKey("foo", "1.0.0"))
	require.NoError(t, err)
	require.JSONEq(t, `{"bar":"^2.0.0"}`, string(raw))
	raw, err = a.Store().Get(ctx, follower.DependencyKey("foo", "1.1.0"))
	require.NoError(t, err)
	require.JSONEq(t, `{}`, string(raw))

	seq, found, err := follower.ReadCheckpoint(ctx, a.Store())
	require.NoError(t, err)
	require.True(t, found)
	require.Equal(t, int64(43), seq)

	manifest := filepath.Join(cfg.Artifacts.LocalDir, filepath.FromSlash(jobs.ManifestPath("manifests", "foo", "1.0.0")))
	_, err = os.Stat(manifest)
	require.NoError(t, err)

	require.NoError(t, a.Close(ctx))
	require.Eventually(t, func() bool {
		return len(a.Recent().Recent(0, progress.StageFollowStop)) == 1
	}, time.Second, 10*time.Millisecond)
	processed := a.Recent().Recent(0, progress.StageChangeProcessed)
	require.Len(t, processed, 1)
	require.Equal(t, "foo", processed[0].Package)
}

func TestApp_ResumesFromRedisCheckpoint(t *testing.T) {
	t.Parallel()

	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)

	var since atomic.Value
	feed := newFeed(t, &since)
	cfg := baseConfig(feed.URL)
	cfg.Store = config.StoreConfig{
		Backend: config.BackendRedis,
		Redis:   config.RedisConfig{Addr: mr.Addr(), KeyPrefix: "depfollow:"},
	}
	cfg.Artifacts.Backend = config.BackendNone
	cfg.Notify.Backend = config.BackendNone

	for i, want := range []string{"0", "43"} {
		a, err := app.New(context.Background(), cfg, "test", nil, app.WithRegisterer(prometheus.NewRegistry()))
		require.NoError(t, err)
		runToEnd(t, a)
		require.Equal(t, want, since.Load(), "run %d", i)
		require.NoError(t, a.Close(context.Background()))
	}

	got, err := mr.Get("depfollow:sequence")
	require.NoError(t, err)
	require.Equal(t, "43", got)
}

func TestApp_RunStopsOnCancel(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.(http.Flusher).Flush()
		<-r.Context().Done()
	}))
	t.Cleanup(srv.Close)

	cfg := baseConfig(srv.URL)
	a, err := app.New(context.Background(), cfg, "test", nil, app.WithRegisterer(prometheus.NewRegistry()))
	require.NoError(t, err)
	t.Cleanup(func() { _ = a.Close(context.Background()) })

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- a.Run(ctx) }()
	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
}

func TestApp_RunReportsServerFailure(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.(http.Flusher).Flush()
		<-r.Context().Done()
	}))
	t.Cleanup(srv.Close)

	taken, err := net.Listen("tcp", ":0")
	require.NoError(t, err)
	t.Cleanup(func() { _ = taken.Close() })

	cfg := baseConfig(srv.URL)
	cfg.Server = config.ServerConfig{Enabled: true, Port: taken.Addr().(*net.TCPAddr).Port}
	a, err := app.New(context.Background(), cfg, "test", nil, app.WithRegisterer(prometheus.NewRegistry()))
	require.NoError(t, err)
	t.Cleanup(func() { _ = a.Close(context.Background()) })

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	err = a.Run(ctx)
	require.ErrorContains(t, err, "http server")
	require.NoError(t, ctx.Err(), "Run returned because the server failed, not the timeout")
}

func TestApp_NewRejectsBadFeed(t *testing.T) {
	t.Parallel()

	cfg := baseConfig("ftp://example.com/registry")
	_, err := app.New(context.Background(), cfg, "test", nil, app.WithRegisterer(prometheus.NewRegistry()))
	require.ErrorContains(t, err, "init change feed")
}

func TestOpenStore(t *testing.T) {
	t.Parallel()

	cfg := config.Config{Store: config.StoreConfig{Backend: config.BackendMemory}}
	store, release, err := app.OpenStore(context.Background(), cfg, nil)
	require.NoError(t, err)
	require.NotNil(t, store)
	require.NoError(t, release(context.Background()))

	cfg.Store.Backend = "cassandra"
	_, _, err = app.OpenStore(context.Background(), cfg, nil)
	require.ErrorContains(t, err, "unknown store backend")

	cfg.Store = config.StoreConfig{Backend: config.BackendRedis, Redis: config.RedisConfig{Addr: "127.0.0.1:1"}}
	_, _, err = app.OpenStore(context.Background(), cfg, nil)
	require.ErrorContains(t, err, "init redis store")
}
