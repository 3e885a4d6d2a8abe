// Package orchestrator implements the per-request sequence spec §4.6
// describes: authenticate, admit, lease, dispatch, forward, return the
// lease, and log — with the single pre-byte retry rule from §4.6/§9 as a
// hard invariant.
package orchestrator

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/nullbridge/llmgate/internal/dialect"
	"github.com/nullbridge/llmgate/internal/gate"
	"github.com/nullbridge/llmgate/internal/keypool"
	"github.com/nullbridge/llmgate/internal/metrics"
	"github.com/nullbridge/llmgate/internal/store"
	"github.com/nullbridge/llmgate/internal/upstream"
	"github.com/nullbridge/llmgate/pkg/apierr"
)

// Config carries the request-scoped tunables from spec §6.
type Config struct {
	UpstreamBaseURL string
	RequestTimeout  time.Duration
}

// logInvalidator is the narrow view of internal/analytics's Aggregator the
// orchestrator needs: drop cached aggregations whenever a RequestLog row
// lands (spec §9). Nil is a valid Orchestrator field value (no aggregator
// wired, e.g. in tests).
type logInvalidator interface {
	InvalidateOnWrite(ctx context.Context)
}

// Orchestrator wires the Gate, KeyPool, upstream Client, Store, and dialect
// adapters into the request sequence of spec §4.6.
type Orchestrator struct {
	cfg    Config
	gate   *gate.Gate
	pool   *keypool.Pool
	client *upstream.Client
	st     store.Store
	stats  logInvalidator
	log    *slog.Logger
}

// New constructs an Orchestrator.
func New(cfg Config, g *gate.Gate, pool *keypool.Pool, client *upstream.Client, st store.Store, log *slog.Logger) *Orchestrator {
	return &Orchestrator{cfg: cfg, gate: g, pool: pool, client: client, st: st, log: log}
}

// WithStats attaches the analytics aggregator whose cache must be
// invalidated on every RequestLog write. Optional; omit in tests that don't
// exercise analytics.
func (o *Orchestrator) WithStats(stats logInvalidator) *Orchestrator {
	o.stats = stats
	return o
}

// Request is everything the orchestrator needs about an incoming proxy
// call, already resolved by the HTTP layer (route, body, streaming flag).
type Request struct {
	APIKey    string // presented bearer token or x-goog-api-key
	Model     string
	Streaming bool
	Body      []byte
	Adapter   dialect.Adapter
}

// Result is a summary of how the request terminated, used by the caller to
// decide the HTTP status to (re)send if forwarding never started.
type Result struct {
	RequestID string
	ErrKind   apierr.Kind
}

// Handle runs the full spec §4.6 sequence, writing the forwarded response
// (or an apierr JSON body) to w, and always writes exactly one RequestLog
// row before returning (spec §4.1, §7 "Nothing except internal bypasses the
// log" — internal is logged too in this implementation, since every
// terminated request must produce a row per the Testable Properties in §8).
func (o *Orchestrator) Handle(ctx context.Context, w http.ResponseWriter, req Request) Result {
	requestID := uuid.Must(uuid.NewV7()).String()
	start := time.Now()

	principal, authErr := o.authenticate(ctx, req.APIKey)
	if authErr != nil {
		o.writeLog(ctx, requestID, start, "", "", "", req, false, authErr.Kind)
		o.writeError(w, authErr)
		return Result{RequestID: requestID, ErrKind: authErr.Kind}
	}

	if err := o.gate.Acquire(ctx); err != nil {
		kind := apierr.KindAdmissionTimeout
		o.writeLog(ctx, requestID, start, principal.Alias, "", "", req, false, kind)
		o.writeError(w, apierr.New(kind, "concurrency gate saturated"))
		return Result{RequestID: requestID, ErrKind: kind}
	}
	defer o.gate.Release()

	result := o.dispatchWithRetry(ctx, w, requestID, start, principal.Alias, req)
	return result
}

// dispatchWithRetry performs the lease/dispatch/forward cycle, retrying
// once if the first attempt fails pre-byte with rate_limited or
// upstream_5xx (spec §4.6 "Retries"). The retry takes the next key the
// pool's round-robin hands out; the pool is not told which key failed, so
// when no other key is Active (for example a pool of one key) the retry
// runs on the same key again.
func (o *Orchestrator) dispatchWithRetry(ctx context.Context, w http.ResponseWriter, requestID string, start time.Time, principalAlias string, req Request) Result {
	attempted := make(map[string]bool)

	for attempt := 0; attempt < 2; attempt++ {
		lease, err := o.pool.Acquire(ctx)
		if err != nil {
			kind := apierr.KindNoKeyAvailable
			o.writeLog(ctx, requestID, start, principalAlias, "", "", req, false, kind)
			o.writeError(w, apierr.New(kind, "no upstream key available"))
			return Result{RequestID: requestID, ErrKind: kind}
		}
		attempted[lease.Identifier] = true

		byteSent := false
		usage, streamed, apiErr := o.dispatchOnce(ctx, w, lease, req, &byteSent)

		if apiErr == nil {
			lease.Return(keypool.ReturnOutcome{Success: true})
			o.writeLogWithUsage(ctx, requestID, start, principalAlias, lease.Identifier, lease.Brief, req, true, "", streamed, usage)
			return Result{RequestID: requestID}
		}

		lease.Return(keypool.ReturnOutcome{Success: false, Class: keypool.ClassifyOutcome(apiErr.Kind)})

		// A client that disconnects after upstream has already produced and
		// forwarded valid chunks is not a failed request: everything up to
		// the disconnect reached the client successfully (spec §4.6 step 2,
		// §8 Scenario 5).
		if byteSent && apiErr.Kind == apierr.KindClientDisconnect {
			o.writeLogWithUsage(ctx, requestID, start, principalAlias, lease.Identifier, lease.Brief, req, true, "", streamed, usage)
			return Result{RequestID: requestID}
		}

		canRetry := !byteSent && attempt == 0 && apiErr.Retryable()
		if !canRetry {
			o.writeLogWithUsage(ctx, requestID, start, principalAlias, lease.Identifier, lease.Brief, req, false, apiErr.Kind, streamed, usage)
			if !byteSent {
				o.writeError(w, apiErr)
			}
			return Result{RequestID: requestID, ErrKind: apiErr.Kind}
		}
		// Loop for the single permitted retry with the next key in rotation.
		metrics.RetriesTotal.Inc()
	}
	kind := apierr.KindInternal
	o.writeLog(ctx, requestID, start, principalAlias, "", "", req, false, kind)
	o.writeError(w, apierr.New(kind, "retry loop exhausted unexpectedly"))
	return Result{RequestID: requestID, ErrKind: kind}
}

// dispatchOnce performs a single upstream call and forward. byteSent is set
// true the moment any response byte has reached the client, after which no
// retry is permitted regardless of outcome.
func (o *Orchestrator) dispatchOnce(ctx context.Context, w http.ResponseWriter, lease *keypool.Lease, req Request, byteSent *bool) (dialect.Usage, bool, *apierr.Error) {
	reqCtx, cancel := o.client.WithTimeout(ctx)
	defer cancel()

	upReq, err := req.Adapter.BuildRequest(reqCtx, o.cfg.UpstreamBaseURL, lease.Secret, req.Model, req.Body, req.Streaming)
	if err != nil {
		return dialect.Usage{}, false, apierr.Wrap(apierr.KindInternal, "build upstream request", err)
	}

	resp, err := o.client.Do(upReq)
	if err != nil {
		if reqCtx.Err() != nil {
			if ctx.Err() != nil {
				return dialect.Usage{}, false, apierr.Wrap(apierr.KindClientDisconnect, "client disconnected before dispatch completed", err)
			}
			return dialect.Usage{}, false, apierr.Wrap(apierr.KindRequestTimeout, "upstream request timed out", err)
		}
		return dialect.Usage{}, false, apierr.Wrap(apierr.KindUpstream5xx, "upstream request failed", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		body, _ := io.ReadAll(resp.Body)
		kind := dialect.ClassifyStatus(resp.StatusCode)
		return dialect.Usage{}, false, apierr.New(kind, "upstream returned "+http.StatusText(resp.StatusCode)+": "+string(body))
	}

	if !req.Streaming {
		*byteSent = true
		usage, err := dialect.ForwardNonStreaming(w, resp.Body, req.Adapter)
		if err != nil {
			return usage, false, apierr.Wrap(apierr.KindMalformedResponse, "forward non-streaming response", err)
		}
		return usage, false, nil
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		return dialect.Usage{}, false, apierr.New(apierr.KindInternal, "response writer does not support flushing")
	}
	dialect.WriteSSEHeaders(w)
	w.WriteHeader(http.StatusOK)
	flusher.Flush()
	*byteSent = true

	idle := o.client.WithIdleTimeout(resp.Body)
	defer idle.Close()

	usage, err := dialect.ForwardStream(ctx, idle, w, flusher, req.Adapter.NewStreamScanner())
	if err != nil {
		if ctx.Err() != nil {
			return usage, true, apierr.Wrap(apierr.KindClientDisconnect, "client disconnected mid-stream", err)
		}
		return usage, true, apierr.Wrap(apierr.KindRequestTimeout, "stream idle timeout", err)
	}
	return usage, true, nil
}

func (o *Orchestrator) writeError(w http.ResponseWriter, err *apierr.Error) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(err.HTTPStatus())
	body := err.Body()
	_, _ = w.Write([]byte(`{"error_kind":"` + string(body.ErrorKind) + `","message":` + quoteJSON(body.Message) + `}`))
}

func quoteJSON(s string) string {
	out := make([]byte, 0, len(s)+2)
	out = append(out, '"')
	for _, r := range s {
		switch r {
		case '"', '\\':
			out = append(out, '\\', byte(r))
		case '\n':
			out = append(out, '\\', 'n')
		default:
			out = append(out, string(r)...)
		}
	}
	out = append(out, '"')
	return string(out)
}
