package analytics

import (
	"context"
	"fmt"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/nullbridge/llmgate/internal/store"
)

// Config carries STATS_CACHE_TTL and SUCCESS_RATE_HOURLY_DAYS (spec §6,
// SPEC_FULL's NEW CONFIGURATION OPTIONS).
type Config struct {
	CacheTTL              time.Duration
	SuccessRateHourlyDays int
	RedisClient           *goredis.Client // nil disables the L2 tier
}

// Aggregator wraps a Store's aggregation queries with a cache-aside layer,
// invalidated whenever a RequestLog write lands (spec §4.7, §9).
type Aggregator struct {
	st    store.Store
	cache *twoTierCache
	cfg   Config
}

// New constructs an Aggregator over st.
func New(st store.Store, cfg Config) *Aggregator {
	if cfg.SuccessRateHourlyDays <= 0 {
		cfg.SuccessRateHourlyDays = 3
	}
	return &Aggregator{
		st:    st,
		cache: newTwoTierCache(cfg.CacheTTL, cfg.RedisClient, "llmgate:stats"),
		cfg:   cfg,
	}
}

// InvalidateOnWrite drops every cached aggregation. Call this after every
// successful RequestLog insert (spec §9 "must be invalidated on RequestLog
// writes").
func (a *Aggregator) InvalidateOnWrite(ctx context.Context) {
	a.cache.invalidateAll(ctx)
}

// PerPrincipalCallCounts returns per_principal_call_counts (spec §4.7),
// cache-aside since it scans the full log table.
func (a *Aggregator) PerPrincipalCallCounts(ctx context.Context) ([]store.PrincipalCallCount, error) {
	key := "per_principal_call_counts"
	var cached []store.PrincipalCallCount
	if a.cache.getJSON(ctx, key, &cached) {
		return cached, nil
	}
	rows, err := a.st.PerPrincipalCallCounts(ctx)
	if err != nil {
		return nil, err
	}
	a.cache.setJSON(ctx, key, rows)
	return rows, nil
}

// DailyUsageHeatmap returns daily_usage_heatmap (spec §4.7), with SPEC_FULL's
// optional per-key grouping dimension.
func (a *Aggregator) DailyUsageHeatmap(ctx context.Context, windowStart, windowEnd time.Time, loc *time.Location, metric store.HeatmapMetric, byKey bool) ([]store.DailyUsagePoint, error) {
	locName := "UTC"
	if loc != nil {
		locName = loc.String()
	}
	key := fmt.Sprintf("heatmap:%d:%d:%s:%s:%t", windowStart.Unix(), windowEnd.Unix(), locName, metric, byKey)
	var cached []store.DailyUsagePoint
	if a.cache.getJSON(ctx, key, &cached) {
		return cached, nil
	}
	rows, err := a.st.DailyUsageHeatmap(ctx, windowStart, windowEnd, loc, metric, byKey)
	if err != nil {
		return nil, err
	}
	a.cache.setJSON(ctx, key, rows)
	return rows, nil
}

// UsageTrend returns usage_trend (spec §4.7).
func (a *Aggregator) UsageTrend(ctx context.Context, unit store.AggregationUnit, offset, numPeriods int, metric store.HeatmapMetric) (store.UsageTrend, error) {
	key := fmt.Sprintf("trend:%s:%d:%d:%s", unit, offset, numPeriods, metric)
	var cached store.UsageTrend
	if a.cache.getJSON(ctx, key, &cached) {
		return cached, nil
	}
	trend, err := a.st.UsageTrend(ctx, unit, offset, numPeriods, metric)
	if err != nil {
		return store.UsageTrend{}, err
	}
	a.cache.setJSON(ctx, key, trend)
	return trend, nil
}

// SuccessRate returns success_rate (spec §4.7). hourly uses
// cfg.SuccessRateHourlyDays as the lookback window when days <= 0.
func (a *Aggregator) SuccessRate(ctx context.Context, days int, hourly bool) ([]store.SuccessRatePoint, error) {
	if hourly && days <= 0 {
		days = a.cfg.SuccessRateHourlyDays
	}
	key := fmt.Sprintf("success_rate:%d:%t", days, hourly)
	var cached []store.SuccessRatePoint
	if a.cache.getJSON(ctx, key, &cached) {
		return cached, nil
	}
	rows, err := a.st.SuccessRate(ctx, days, hourly)
	if err != nil {
		return nil, err
	}
	a.cache.setJSON(ctx, key, rows)
	return rows, nil
}
