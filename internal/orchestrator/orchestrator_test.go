package orchestrator

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nullbridge/llmgate/internal/dialect"
	"github.com/nullbridge/llmgate/internal/gate"
	"github.com/nullbridge/llmgate/internal/keypool"
	"github.com/nullbridge/llmgate/internal/store"
	"github.com/nullbridge/llmgate/internal/upstream"
)

func testLogger() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

func newTestOrchestrator(t *testing.T, upstreamURL string) (*Orchestrator, store.Store) {
	t.Helper()
	ctx := context.Background()

	st, err := store.OpenSQLite(ctx, filepath.Join(t.TempDir(), "gateway.db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })
	require.NoError(t, st.UpsertPrincipal(ctx, store.Principal{APIKey: "ak-1", Alias: "alice", Active: true}))

	loaded, err := st.LoadAllKeys(ctx)
	require.NoError(t, err)
	pool := keypool.New(keypool.Config{
		FailureThreshold: 3,
		BaseCooldown:     time.Second,
		MaxCooldown:      10 * time.Second,
		AcquireTimeout:   time.Second,
		StuckTimeout:     time.Hour,
		SweepInterval:    time.Hour,
	}, &storeKeyPersister{st}, testLogger(), loaded)
	t.Cleanup(pool.Close)
	pool.Add(keypool.Key{Identifier: "K1", Secret: "sk-1", Brief: "sk-...1", State: keypool.StateActive})
	pool.Add(keypool.Key{Identifier: "K2", Secret: "sk-2", Brief: "sk-...2", State: keypool.StateActive})

	g := gate.New(4, time.Second, nil)

	client, err := upstream.New(upstream.Config{RequestTimeout: 2 * time.Second, StreamIdleTimeout: time.Second, RebuildThreshold: 5})
	require.NoError(t, err)

	o := New(Config{UpstreamBaseURL: upstreamURL, RequestTimeout: 2 * time.Second}, g, pool, client, st, testLogger())
	return o, st
}

// storeKeyPersister adapts store.Store to keypool.Persister.
type storeKeyPersister struct{ st store.Store }

func (s *storeKeyPersister) UpsertKey(ctx context.Context, k keypool.Key) error {
	return s.st.UpsertKey(ctx, k)
}
func (s *storeKeyPersister) DeleteKey(ctx context.Context, identifier string) error {
	return s.st.DeleteKey(ctx, identifier)
}

func TestHandleSuccessNonStreaming(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"usage":{"prompt_tokens":3,"completion_tokens":2,"total_tokens":5}}`))
	}))
	defer srv.Close()

	o, st := newTestOrchestrator(t, srv.URL)
	w := httptest.NewRecorder()

	result := o.Handle(context.Background(), w, Request{
		APIKey:  "ak-1",
		Model:   "gpt-4",
		Adapter: dialect.NewOpenAIChat(),
		Body:    []byte(`{}`),
	})

	assert.Empty(t, result.ErrKind)
	assert.Equal(t, http.StatusOK, w.Code)

	page, err := st.QueryRequestLogs(context.Background(), store.RequestLogFilter{Limit: 10})
	require.NoError(t, err)
	require.Len(t, page.Logs, 1)
	assert.True(t, page.Logs[0].IsSuccess)
	assert.Equal(t, 5, page.Logs[0].TotalTokens)
	assert.Contains(t, []string{"sk-...1", "sk-...2"}, page.Logs[0].KeyBrief)
}

func TestHandleRejectsUnknownPrincipal(t *testing.T) {
	o, st := newTestOrchestrator(t, "http://unused")
	w := httptest.NewRecorder()

	result := o.Handle(context.Background(), w, Request{
		APIKey:  "not-a-real-key",
		Model:   "gpt-4",
		Adapter: dialect.NewOpenAIChat(),
		Body:    []byte(`{}`),
	})

	assert.Equal(t, "principal_rejected", string(result.ErrKind))
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	page, err := st.QueryRequestLogs(context.Background(), store.RequestLogFilter{Limit: 10})
	require.NoError(t, err)
	require.Len(t, page.Logs, 1)
	assert.False(t, page.Logs[0].IsSuccess)
}

// syncFlushRecorder wraps httptest.ResponseRecorder so a test can rendezvous
// with the exact moment the first forwarded SSE chunk reaches the client.
type syncFlushRecorder struct {
	*httptest.ResponseRecorder
	onWrite func()
	wrote   bool
}

func (r *syncFlushRecorder) Write(b []byte) (int, error) {
	n, err := r.ResponseRecorder.Write(b)
	if !r.wrote {
		r.wrote = true
		r.onWrite()
	}
	return n, err
}

// TestHandleStreamingDisconnectAfterProgressLogsSuccess exercises the case
// where the client cancels the request after upstream has already streamed
// a valid chunk through: the request log must record success, not failure,
// and the handler must not write an error payload onto the already-started
// SSE response.
func TestHandleStreamingDisconnectAfterProgressLogsSuccess(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("data: {\"choices\":[{\"delta\":{\"content\":\"hi\"}}]}\n"))
		w.(http.Flusher).Flush()
		// Block long enough for the test to observe the forwarded chunk and
		// cancel the client context before anything else is sent.
		<-r.Context().Done()
	}))
	defer srv.Close()

	o, st := newTestOrchestrator(t, srv.URL)

	ctx, cancel := context.WithCancel(context.Background())
	gotFirstChunk := make(chan struct{})
	cancelled := make(chan struct{})

	rec := &syncFlushRecorder{
		ResponseRecorder: httptest.NewRecorder(),
		onWrite: func() {
			close(gotFirstChunk)
			<-cancelled
		},
	}

	go func() {
		<-gotFirstChunk
		cancel()
		close(cancelled)
	}()

	result := o.Handle(ctx, rec, Request{
		APIKey:    "ak-1",
		Model:     "gpt-4",
		Streaming: true,
		Adapter:   dialect.NewOpenAIChat(),
		Body:      []byte(`{}`),
	})

	assert.Empty(t, result.ErrKind)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.NotContains(t, rec.Body.String(), "error_kind")

	page, err := st.QueryRequestLogs(context.Background(), store.RequestLogFilter{Limit: 10})
	require.NoError(t, err)
	require.Len(t, page.Logs, 1)
	assert.True(t, page.Logs[0].IsSuccess)
	assert.True(t, page.Logs[0].Streamed)
	assert.Empty(t, page.Logs[0].ErrorKind)
}

func TestHandleRetriesOnRateLimitWithDifferentKey(t *testing.T) {
	var calls atomic.Int64
	var mu sync.Mutex
	var seenAuth []string

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		seenAuth = append(seenAuth, r.Header.Get("Authorization"))
		mu.Unlock()
		n := calls.Add(1)
		if n == 1 {
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		w.Write([]byte(`{"usage":{"prompt_tokens":1,"completion_tokens":1,"total_tokens":2}}`))
	}))
	defer srv.Close()

	o, _ := newTestOrchestrator(t, srv.URL)
	w := httptest.NewRecorder()

	result := o.Handle(context.Background(), w, Request{
		APIKey:  "ak-1",
		Model:   "gpt-4",
		Adapter: dialect.NewOpenAIChat(),
		Body:    []byte(`{}`),
	})

	assert.Empty(t, result.ErrKind)
	assert.Equal(t, int64(2), calls.Load())

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, seenAuth, 2)
	assert.NotEqual(t, seenAuth[0], seenAuth[1], "retry must use a different upstream key")
}
