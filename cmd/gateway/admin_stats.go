// admin_stats.go implements GET /api/request_logs and GET /api/stats/* —
// the paginated log query and the §4.7 aggregations, served through the
// analytics Aggregator so repeated dashboard polling hits the cache instead
// of the Store.
package main

import (
	"net/http"
	"strconv"
	"time"

	"github.com/nullbridge/llmgate/internal/store"
)

func requestLogsHandler(deps *serverDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		filter := store.RequestLogFilter{
			PrincipalAlias: q.Get("principal_alias"),
			KeyIdentifier:  q.Get("key_identifier"),
			ModelName:      q.Get("model_name"),
			Limit:          queryInt(q, "limit", 50),
			Offset:         queryInt(q, "offset", 0),
		}
		if v := q.Get("window_start"); v != "" {
			if t, err := time.Parse(time.RFC3339, v); err == nil {
				filter.WindowStart = t
			}
		}
		if v := q.Get("window_end"); v != "" {
			if t, err := time.Parse(time.RFC3339, v); err == nil {
				filter.WindowEnd = t
			}
		}
		if v := q.Get("is_success"); v != "" {
			b := v == "true"
			filter.IsSuccess = &b
		}

		page, err := deps.store.QueryRequestLogs(r.Context(), filter)
		if err != nil {
			writeJSONError(w, http.StatusInternalServerError, "failed to query request logs")
			return
		}
		writeJSON(w, http.StatusOK, page)
	}
}

func statsCallCountsHandler(deps *serverDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		counts, err := deps.aggregator.PerPrincipalCallCounts(r.Context())
		if err != nil {
			writeJSONError(w, http.StatusInternalServerError, "failed to compute call counts")
			return
		}
		writeJSON(w, http.StatusOK, counts)
	}
}

func statsHeatmapHandler(deps *serverDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		start, end, err := parseWindow(q)
		if err != nil {
			writeJSONError(w, http.StatusBadRequest, err.Error())
			return
		}
		metric := store.HeatmapMetric(q.Get("type"))
		if metric == "" {
			metric = store.MetricRequests
		}
		byKey := q.Get("by_key") == "true"

		points, err := deps.aggregator.DailyUsageHeatmap(r.Context(), start, end, time.UTC, metric, byKey)
		if err != nil {
			writeJSONError(w, http.StatusInternalServerError, "failed to compute heatmap")
			return
		}
		writeJSON(w, http.StatusOK, points)
	}
}

func statsTrendHandler(deps *serverDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		unit := store.AggregationUnit(q.Get("unit"))
		if unit == "" {
			unit = store.UnitDay
		}
		metric := store.HeatmapMetric(q.Get("type"))
		if metric == "" {
			metric = store.MetricRequests
		}

		trend, err := deps.aggregator.UsageTrend(r.Context(), unit, queryInt(q, "offset", 0), queryInt(q, "num_periods", 30), metric)
		if err != nil {
			writeJSONError(w, http.StatusInternalServerError, "failed to compute usage trend")
			return
		}
		writeJSON(w, http.StatusOK, trend)
	}
}

func statsSuccessRateHandler(deps *serverDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		rate, err := deps.aggregator.SuccessRate(r.Context(), queryInt(q, "days", 7), q.Get("hourly") == "true")
		if err != nil {
			writeJSONError(w, http.StatusInternalServerError, "failed to compute success rate")
			return
		}
		writeJSON(w, http.StatusOK, rate)
	}
}

func queryInt(q map[string][]string, key string, def int) int {
	v := q[key]
	if len(v) == 0 || v[0] == "" {
		return def
	}
	n, err := strconv.Atoi(v[0])
	if err != nil {
		return def
	}
	return n
}

func parseWindow(q map[string][]string) (time.Time, time.Time, error) {
	now := time.Now().UTC()
	start, end := now.AddDate(0, 0, -30), now
	if v := q["window_start"]; len(v) > 0 && v[0] != "" {
		t, err := time.Parse(time.RFC3339, v[0])
		if err != nil {
			return start, end, err
		}
		start = t
	}
	if v := q["window_end"]; len(v) > 0 && v[0] != "" {
		t, err := time.Parse(time.RFC3339, v[0])
		if err != nil {
			return start, end, err
		}
		end = t
	}
	return start, end, nil
}
