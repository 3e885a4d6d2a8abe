// Package store provides durable persistence for upstream key state,
// authentication principals, and request logs, with single-writer
// serialization matching the backing engine's one-writer semantics
// (spec §4.1). Two backends are supported: SQLite (modernc.org/sqlite,
// the default, cgo-free) and PostgreSQL (lib/pq), selected by
// internal/config's DATABASE_TYPE option.
//
// Grounded on internal/auth/store.go's interface-plus-filter-struct shape
// and internal/auth/postgres.go's query style, narrowed from the teacher's
// budget/organization/team/user surface to the keys/principals/request_logs
// schema spec §4.1 and §6 define.
package store

import (
	"context"
	"time"

	"github.com/nullbridge/llmgate/internal/keypool"
)

// Principal is an AuthPrincipal record: a credential authorized to call the
// gateway's proxy routes (spec §3 glossary "AuthPrincipal").
type Principal struct {
	APIKey    string
	Alias     string
	Active    bool
	CreatedAt time.Time
}

// RequestLog is one row of the append-only request log (spec §4.6 step 7).
type RequestLog struct {
	RequestID      string
	RequestTime    time.Time
	PrincipalAlias string
	KeyIdentifier  string
	KeyBrief       string
	ModelName      string
	Dialect        string
	Streamed       bool
	IsSuccess      bool
	ErrorKind      string
	PromptTokens   int
	CompletionTokens int
	TotalTokens    int
	LatencyMs      int64
}

// RequestLogFilter is the enumerated filter set for query_request_logs
// (spec §4.1).
type RequestLogFilter struct {
	WindowStart    time.Time
	WindowEnd      time.Time
	PrincipalAlias string
	KeyIdentifier  string
	ModelName      string
	IsSuccess      *bool
	Limit          int
	Offset         int
}

// RequestLogPage is the paginated result of query_request_logs, including
// the full time bound of the underlying data so a UI can constrain its
// time pickers (spec §4.1).
type RequestLogPage struct {
	Logs       []RequestLog
	Total      int64
	MinTime    time.Time
	MaxTime    time.Time
}

// AggregationUnit is one of the usage-trend periods spec §4.7 names.
type AggregationUnit string

const (
	UnitDay   AggregationUnit = "day"
	UnitWeek  AggregationUnit = "week"
	UnitMonth AggregationUnit = "month"
)

// HeatmapMetric selects what daily_usage_heatmap sums.
type HeatmapMetric string

const (
	MetricRequests HeatmapMetric = "requests"
	MetricTokens   HeatmapMetric = "tokens"
)

// PrincipalCallCount is one row of per_principal_call_counts.
type PrincipalCallCount struct {
	PrincipalAlias string
	Count          int64
}

// DailyUsagePoint is one day's total in daily_usage_heatmap, optionally
// broken out per key (SPEC_FULL's supplemental key-level grouping, grounded
// on the original Python implementation's usage_today per-key tracking).
type DailyUsagePoint struct {
	Day           string
	KeyIdentifier string
	Value         int64
}

// TrendSeries is one model's series within usage_trend.
type TrendSeries struct {
	Label string
	Data  []int64
}

// UsageTrend is the full usage_trend result: per-period labels plus one
// series per model.
type UsageTrend struct {
	Labels []string
	Series []TrendSeries
}

// SuccessRatePoint is one bucket of success_rate, either per-day or
// per-hour depending on the Hourly flag passed to the query.
type SuccessRatePoint struct {
	Bucket string
	Model  string
	Rate   float64
}

// Store is the durable persistence contract spec §4.1 describes abstractly.
// It satisfies keypool.Persister so a *Pool can be constructed directly
// from a Store implementation.
type Store interface {
	LoadAllKeys(ctx context.Context) ([]keypool.Key, error)
	UpsertKey(ctx context.Context, k keypool.Key) error
	DeleteKey(ctx context.Context, identifier string) error

	ListPrincipals(ctx context.Context) ([]Principal, error)
	GetPrincipal(ctx context.Context, apiKey string) (*Principal, error)
	UpsertPrincipal(ctx context.Context, p Principal) error
	DeletePrincipal(ctx context.Context, apiKey string) error

	InsertRequestLog(ctx context.Context, r RequestLog) error
	QueryRequestLogs(ctx context.Context, filter RequestLogFilter) (RequestLogPage, error)

	PerPrincipalCallCounts(ctx context.Context) ([]PrincipalCallCount, error)
	DailyUsageHeatmap(ctx context.Context, windowStart, windowEnd time.Time, loc *time.Location, metric HeatmapMetric, byKey bool) ([]DailyUsagePoint, error)
	UsageTrend(ctx context.Context, unit AggregationUnit, offset, numPeriods int, metric HeatmapMetric) (UsageTrend, error)
	SuccessRate(ctx context.Context, days int, hourly bool) ([]SuccessRatePoint, error)

	Ping(ctx context.Context) error
	Close() error
}
