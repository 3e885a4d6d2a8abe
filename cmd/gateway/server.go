package main

import (
	"log/slog"

	"github.com/nullbridge/llmgate/internal/adminauth"
	"github.com/nullbridge/llmgate/internal/analytics"
	"github.com/nullbridge/llmgate/internal/keypool"
	"github.com/nullbridge/llmgate/internal/orchestrator"
	"github.com/nullbridge/llmgate/internal/store"
)

// serverDeps collects everything the HTTP handlers need, built once in
// main and threaded through buildMux.
type serverDeps struct {
	orchestrator *orchestrator.Orchestrator
	pool         *keypool.Pool
	store        store.Store
	aggregator   *analytics.Aggregator
	adminAuth    *adminauth.Middleware
	logger       *slog.Logger
}
