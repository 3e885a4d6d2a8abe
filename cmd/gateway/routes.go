package main

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// buildMux registers the full HTTP surface spec §6 defines: the two proxy
// dialects, the administrative key/principal/log/stats routes, health
// checks, and the Prometheus scrape endpoint. Grounded on
// cmd/server/routes.go's single-mux registration style — this gateway has
// no separate admin port, so everything lives on one mux guarded per-route.
func buildMux(deps *serverDeps) *http.ServeMux {
	mux := http.NewServeMux()

	mux.Handle(withMetrics("GET /health/live", healthLiveHandler))
	mux.Handle(withMetrics("GET /health/ready", healthReadyHandler(deps)))
	mux.Handle("GET /metrics", promhttp.Handler())

	mux.Handle(withMetrics("POST /v1beta/models/{modelAndAction}", geminiProxyHandler(deps)))
	mux.Handle(withMetrics("POST /v1/chat/completions", openAIChatProxyHandler(deps)))

	mux.Handle(withAdminAuth(deps, "GET /api/keys/status", keysStatusHandler(deps)))
	mux.Handle(withAdminAuth(deps, "POST /api/keys", addKeysHandler(deps)))
	mux.Handle(withAdminAuth(deps, "DELETE /api/keys/{identifier}", deleteKeyHandler(deps)))
	mux.Handle(withAdminAuth(deps, "POST /api/keys/{identifier}/reset", resetKeyHandler(deps)))
	mux.Handle(withAdminAuth(deps, "POST /api/keys/reset", resetAllKeysHandler(deps)))

	mux.Handle(withAdminAuth(deps, "GET /api/auth_keys", listPrincipalsHandler(deps)))
	mux.Handle(withAdminAuth(deps, "POST /api/auth_keys", upsertPrincipalHandler(deps)))
	mux.Handle(withAdminAuth(deps, "PUT /api/auth_keys", upsertPrincipalHandler(deps)))
	mux.Handle(withAdminAuth(deps, "DELETE /api/auth_keys", deletePrincipalHandler(deps)))
	mux.Handle(withAdminAuth(deps, "POST /api/auth/login", loginStubHandler))

	mux.Handle(withAdminAuth(deps, "GET /api/request_logs", requestLogsHandler(deps)))
	mux.Handle(withAdminAuth(deps, "GET /api/stats/call-counts", statsCallCountsHandler(deps)))
	mux.Handle(withAdminAuth(deps, "GET /api/stats/heatmap", statsHeatmapHandler(deps)))
	mux.Handle(withAdminAuth(deps, "GET /api/stats/trend", statsTrendHandler(deps)))
	mux.Handle(withAdminAuth(deps, "GET /api/stats/success-rate", statsSuccessRateHandler(deps)))
	mux.Handle(withAdminAuth(deps, "GET /api/logs/sse", logsSSEStubHandler))

	return mux
}
