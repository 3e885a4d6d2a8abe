package orchestrator

import (
	"context"
	"time"

	"github.com/nullbridge/llmgate/internal/dialect"
	"github.com/nullbridge/llmgate/internal/metrics"
	"github.com/nullbridge/llmgate/internal/store"
	"github.com/nullbridge/llmgate/pkg/apierr"
)

// writeLog persists a RequestLog row with no usage information, used by the
// early-rejection exit paths (auth, admission, no-key) that never dispatch
// upstream (spec §4.6 step 7 "Write a RequestLog (always...)").
func (o *Orchestrator) writeLog(ctx context.Context, requestID string, start time.Time, principalAlias, keyIdentifier, keyBrief string, req Request, success bool, kind apierr.Kind) {
	o.writeLogWithUsage(ctx, requestID, start, principalAlias, keyIdentifier, keyBrief, req, success, kind, false, dialect.Usage{})
}

func (o *Orchestrator) writeLogWithUsage(ctx context.Context, requestID string, start time.Time, principalAlias, keyIdentifier, keyBrief string, req Request, success bool, kind apierr.Kind, streamed bool, usage dialect.Usage) {
	// The row is written even when the client has already gone away, so the
	// insert must not inherit the request context's cancellation.
	ctx = context.WithoutCancel(ctx)
	dialectName := ""
	if req.Adapter != nil {
		dialectName = req.Adapter.Name()
	}
	metrics.RecordRequest(dialectName, req.Model, string(kind), time.Since(start).Seconds())
	metrics.RecordTokens(dialectName, req.Model, usage.PromptTokens, usage.CompletionTokens, usage.TotalTokens)

	row := store.RequestLog{
		RequestID:        requestID,
		RequestTime:      start,
		PrincipalAlias:   principalAlias,
		KeyIdentifier:    keyIdentifier,
		KeyBrief:         keyBrief,
		ModelName:        req.Model,
		Dialect:          dialectName,
		Streamed:         streamed,
		IsSuccess:        success,
		ErrorKind:        string(kind),
		PromptTokens:     usage.PromptTokens,
		CompletionTokens: usage.CompletionTokens,
		TotalTokens:      usage.TotalTokens,
		LatencyMs:        time.Since(start).Milliseconds(),
	}
	if err := o.st.InsertRequestLog(ctx, row); err != nil {
		o.log.Error("orchestrator: failed to write request log", "request_id", requestID, "error", err)
		return
	}
	if o.stats != nil {
		o.stats.InvalidateOnWrite(ctx)
	}
}
