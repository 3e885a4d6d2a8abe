package metrics

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestRecordRequestIncrementsCounters(t *testing.T) {
	RequestsTotal.Reset()
	before := testutil.ToFloat64(RequestsTotal.WithLabelValues("openai-chat", "gpt-4", ""))

	RecordRequest("openai-chat", "gpt-4", "", 0.25)

	after := testutil.ToFloat64(RequestsTotal.WithLabelValues("openai-chat", "gpt-4", ""))
	if after != before+1 {
		t.Fatalf("RequestsTotal = %v, want %v", after, before+1)
	}
}

func TestRecordTokensSkipsZero(t *testing.T) {
	TokenUsage.Reset()
	RecordTokens("gemini", "gemini-pro", 10, 0, 10)

	if got := testutil.ToFloat64(TokenUsage.WithLabelValues("gemini", "gemini-pro", "prompt")); got != 10 {
		t.Fatalf("prompt tokens = %v, want 10", got)
	}
	if got := testutil.ToFloat64(TokenUsage.WithLabelValues("gemini", "gemini-pro", "completion")); got != 0 {
		t.Fatalf("completion tokens = %v, want 0 (never incremented)", got)
	}
}

func TestSetKeyPoolState(t *testing.T) {
	SetKeyPoolState(2, 1, 3)

	if got := testutil.ToFloat64(KeyPoolKeyState.WithLabelValues("active")); got != 2 {
		t.Fatalf("active = %v, want 2", got)
	}
	if got := testutil.ToFloat64(KeyPoolKeyState.WithLabelValues("cooling")); got != 3 {
		t.Fatalf("cooling = %v, want 3", got)
	}
}

func TestMiddlewareRecordsStatusAndRoute(t *testing.T) {
	httpRequestsTotal.Reset()
	handler := Middleware("/api/keys/status", http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	}))

	req := httptest.NewRequest(http.MethodGet, "/api/keys/status", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if got := testutil.ToFloat64(httpRequestsTotal.WithLabelValues("/api/keys/status", "418")); got != 1 {
		t.Fatalf("httpRequestsTotal = %v, want 1", got)
	}
}
