package store

import (
	"context"
	"database/sql"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/nullbridge/llmgate/internal/keypool"
)

// sqlStore implements Store over database/sql, shared by the SQLite and
// Postgres backends. Query text is ANSI-compatible; only the placeholder
// syntax differs ("?" for SQLite, "$1"... for Postgres), supplied by ph.
type sqlStore struct {
	db *sql.DB
	w  *writer
	ph func(n int) string
}

func questionPlaceholder(int) string { return "?" }

func dollarPlaceholder(n int) string { return "$" + strconv.Itoa(n) }

// rewrite turns a query containing bare "?" markers into the store's
// placeholder dialect.
func (s *sqlStore) rewrite(query string) string {
	if s.ph(1) == "?" {
		return query
	}
	var b strings.Builder
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteString(s.ph(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

func (s *sqlStore) exec(ctx context.Context, query string, args ...any) (sql.Result, error) {
	return s.db.ExecContext(ctx, s.rewrite(query), args...)
}

func (s *sqlStore) query(ctx context.Context, query string, args ...any) (*sql.Rows, error) {
	return s.db.QueryContext(ctx, s.rewrite(query), args...)
}

func (s *sqlStore) queryRow(ctx context.Context, query string, args ...any) *sql.Row {
	return s.db.QueryRowContext(ctx, s.rewrite(query), args...)
}

func (s *sqlStore) Ping(ctx context.Context) error { return s.db.PingContext(ctx) }

func (s *sqlStore) Close() error {
	s.w.close()
	return s.db.Close()
}

func (s *sqlStore) LoadAllKeys(ctx context.Context) ([]keypool.Key, error) {
	rows, err := s.query(ctx, `SELECT identifier, secret, brief, state, failure_count, cooldown_entry_count, current_cooldown_seconds, cooldown_until, in_use_since FROM keys ORDER BY identifier`)
	if err != nil {
		return nil, fmt.Errorf("load keys: %w", err)
	}
	defer rows.Close()

	var out []keypool.Key
	for rows.Next() {
		var k keypool.Key
		var cooldownUntil, inUseSince sql.NullFloat64
		if err := rows.Scan(&k.Identifier, &k.Secret, &k.Brief, &k.State, &k.FailureCount, &k.CooldownEntryCount, &k.CurrentCooldownSecs, &cooldownUntil, &inUseSince); err != nil {
			return nil, fmt.Errorf("scan key: %w", err)
		}
		if cooldownUntil.Valid {
			k.CooldownUntil = floatToTime(cooldownUntil.Float64)
		}
		if inUseSince.Valid {
			k.InUseSince = floatToTime(inUseSince.Float64)
		}
		out = append(out, k)
	}
	return out, rows.Err()
}

func (s *sqlStore) UpsertKey(ctx context.Context, k keypool.Key) error {
	return s.w.do(ctx, func() error {
		_, err := s.exec(ctx, `
			INSERT INTO keys (identifier, secret, brief, state, failure_count, cooldown_entry_count, current_cooldown_seconds, cooldown_until, in_use_since)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT (identifier) DO UPDATE SET
				secret = excluded.secret,
				brief = excluded.brief,
				state = excluded.state,
				failure_count = excluded.failure_count,
				cooldown_entry_count = excluded.cooldown_entry_count,
				current_cooldown_seconds = excluded.current_cooldown_seconds,
				cooldown_until = excluded.cooldown_until,
				in_use_since = excluded.in_use_since
		`, k.Identifier, k.Secret, k.Brief, string(k.State), k.FailureCount, k.CooldownEntryCount, k.CurrentCooldownSecs, timeToFloat(k.CooldownUntil), timeToFloat(k.InUseSince))
		if err != nil {
			return fmt.Errorf("upsert key %s: %w", k.Identifier, err)
		}
		return nil
	})
}

func (s *sqlStore) DeleteKey(ctx context.Context, identifier string) error {
	return s.w.do(ctx, func() error {
		_, err := s.exec(ctx, `DELETE FROM keys WHERE identifier = ?`, identifier)
		return err
	})
}

func (s *sqlStore) ListPrincipals(ctx context.Context) ([]Principal, error) {
	rows, err := s.query(ctx, `SELECT api_key, alias, is_active, created_at FROM principals ORDER BY alias`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Principal
	for rows.Next() {
		var p Principal
		var createdAt float64
		if err := rows.Scan(&p.APIKey, &p.Alias, &p.Active, &createdAt); err != nil {
			return nil, err
		}
		p.CreatedAt = floatToTime(createdAt)
		out = append(out, p)
	}
	return out, rows.Err()
}

func (s *sqlStore) GetPrincipal(ctx context.Context, apiKey string) (*Principal, error) {
	var p Principal
	var createdAt float64
	err := s.queryRow(ctx, `SELECT api_key, alias, is_active, created_at FROM principals WHERE api_key = ?`, apiKey).
		Scan(&p.APIKey, &p.Alias, &p.Active, &createdAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	p.CreatedAt = floatToTime(createdAt)
	return &p, nil
}

func (s *sqlStore) UpsertPrincipal(ctx context.Context, p Principal) error {
	return s.w.do(ctx, func() error {
		created := p.CreatedAt
		if created.IsZero() {
			created = time.Now()
		}
		_, err := s.exec(ctx, `
			INSERT INTO principals (api_key, alias, is_active, created_at)
			VALUES (?, ?, ?, ?)
			ON CONFLICT (api_key) DO UPDATE SET alias = excluded.alias, is_active = excluded.is_active
		`, p.APIKey, p.Alias, p.Active, timeToFloat(created))
		return err
	})
}

func (s *sqlStore) DeletePrincipal(ctx context.Context, apiKey string) error {
	return s.w.do(ctx, func() error {
		_, err := s.exec(ctx, `DELETE FROM principals WHERE api_key = ?`, apiKey)
		return err
	})
}

func (s *sqlStore) InsertRequestLog(ctx context.Context, r RequestLog) error {
	return s.w.do(ctx, func() error {
		_, err := s.exec(ctx, `
			INSERT INTO request_logs (
				request_id, request_time, principal_alias, key_identifier, key_brief,
				model_name, dialect, streamed, is_success, error_type,
				prompt_tokens, completion_tokens, total_tokens, latency_ms
			) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		`, r.RequestID, timeToFloat(r.RequestTime), r.PrincipalAlias, r.KeyIdentifier, r.KeyBrief,
			r.ModelName, r.Dialect, r.Streamed, r.IsSuccess, nullableString(r.ErrorKind),
			nullableInt(r.PromptTokens), nullableInt(r.CompletionTokens), nullableInt(r.TotalTokens), r.LatencyMs)
		if err != nil {
			return fmt.Errorf("insert request log %s: %w", r.RequestID, err)
		}
		return nil
	})
}

func (s *sqlStore) QueryRequestLogs(ctx context.Context, filter RequestLogFilter) (RequestLogPage, error) {
	var page RequestLogPage

	where := []string{"1=1"}
	var args []any
	if !filter.WindowStart.IsZero() {
		where = append(where, "request_time >= ?")
		args = append(args, timeToFloat(filter.WindowStart))
	}
	if !filter.WindowEnd.IsZero() {
		where = append(where, "request_time <= ?")
		args = append(args, timeToFloat(filter.WindowEnd))
	}
	if filter.PrincipalAlias != "" {
		where = append(where, "principal_alias = ?")
		args = append(args, filter.PrincipalAlias)
	}
	if filter.KeyIdentifier != "" {
		where = append(where, "key_identifier = ?")
		args = append(args, filter.KeyIdentifier)
	}
	if filter.ModelName != "" {
		where = append(where, "model_name = ?")
		args = append(args, filter.ModelName)
	}
	if filter.IsSuccess != nil {
		where = append(where, "is_success = ?")
		args = append(args, *filter.IsSuccess)
	}
	whereClause := strings.Join(where, " AND ")

	if err := s.queryRow(ctx, `SELECT COUNT(*) FROM request_logs WHERE `+whereClause, args...).Scan(&page.Total); err != nil {
		return page, fmt.Errorf("count request logs: %w", err)
	}

	var minT, maxT sql.NullFloat64
	if err := s.queryRow(ctx, `SELECT MIN(request_time), MAX(request_time) FROM request_logs`).Scan(&minT, &maxT); err != nil {
		return page, fmt.Errorf("time bound of request logs: %w", err)
	}
	if minT.Valid {
		page.MinTime = floatToTime(minT.Float64)
	}
	if maxT.Valid {
		page.MaxTime = floatToTime(maxT.Float64)
	}

	limit := filter.Limit
	if limit <= 0 {
		limit = 50
	}
	pageArgs := append(append([]any{}, args...), limit, filter.Offset)
	rows, err := s.query(ctx, `
		SELECT request_id, request_time, principal_alias, key_identifier, key_brief, model_name, dialect, streamed, is_success, error_type, prompt_tokens, completion_tokens, total_tokens, latency_ms
		FROM request_logs WHERE `+whereClause+`
		ORDER BY request_time DESC
		LIMIT ? OFFSET ?
	`, pageArgs...)
	if err != nil {
		return page, fmt.Errorf("query request logs: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var r RequestLog
		var requestTime float64
		var errorKind sql.NullString
		var promptTokens, completionTokens, totalTokens sql.NullInt64
		if err := rows.Scan(&r.RequestID, &requestTime, &r.PrincipalAlias, &r.KeyIdentifier, &r.KeyBrief, &r.ModelName, &r.Dialect, &r.Streamed, &r.IsSuccess, &errorKind, &promptTokens, &completionTokens, &totalTokens, &r.LatencyMs); err != nil {
			return page, fmt.Errorf("scan request log: %w", err)
		}
		r.RequestTime = floatToTime(requestTime)
		r.ErrorKind = errorKind.String
		r.PromptTokens = int(promptTokens.Int64)
		r.CompletionTokens = int(completionTokens.Int64)
		r.TotalTokens = int(totalTokens.Int64)
		page.Logs = append(page.Logs, r)
	}
	return page, rows.Err()
}

func (s *sqlStore) PerPrincipalCallCounts(ctx context.Context) ([]PrincipalCallCount, error) {
	rows, err := s.query(ctx, `
		SELECT principal_alias, COUNT(*) FROM request_logs
		WHERE is_success = ?
		GROUP BY principal_alias
	`, true)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []PrincipalCallCount
	for rows.Next() {
		var c PrincipalCallCount
		if err := rows.Scan(&c.PrincipalAlias, &c.Count); err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

func (s *sqlStore) DailyUsageHeatmap(ctx context.Context, windowStart, windowEnd time.Time, loc *time.Location, metric HeatmapMetric, byKey bool) ([]DailyUsagePoint, error) {
	if loc == nil {
		loc = time.UTC
	}
	rows, err := s.query(ctx, `
		SELECT request_time, key_identifier, total_tokens FROM request_logs
		WHERE request_time >= ? AND request_time <= ?
	`, timeToFloat(windowStart), timeToFloat(windowEnd))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	type bucketKey struct {
		day string
		key string
	}
	totals := make(map[bucketKey]int64)
	for rows.Next() {
		var t float64
		var key string
		var tokens sql.NullInt64
		if err := rows.Scan(&t, &key, &tokens); err != nil {
			return nil, err
		}
		day := floatToTime(t).In(loc).Format("2006-01-02")
		bk := bucketKey{day: day}
		if byKey {
			bk.key = key
		}
		if metric == MetricTokens {
			totals[bk] += tokens.Int64
		} else {
			totals[bk]++
		}
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	out := make([]DailyUsagePoint, 0, len(totals))
	for bk, v := range totals {
		out = append(out, DailyUsagePoint{Day: bk.day, KeyIdentifier: bk.key, Value: v})
	}
	return out, nil
}

func (s *sqlStore) UsageTrend(ctx context.Context, unit AggregationUnit, offset, numPeriods int, metric HeatmapMetric) (UsageTrend, error) {
	now := time.Now().UTC()
	labels := make([]string, 0, numPeriods)
	bounds := make([][2]time.Time, 0, numPeriods)

	periodLen := func(i int) (time.Time, time.Time, string) {
		switch unit {
		case UnitWeek:
			start := now.AddDate(0, 0, -7*(offset+numPeriods-1-i))
			return start.AddDate(0, 0, -7), start, start.Format("2006-01-02")
		case UnitMonth:
			start := now.AddDate(0, -(offset + numPeriods - 1 - i), 0)
			return start.AddDate(0, -1, 0), start, start.Format("2006-01")
		default:
			start := now.AddDate(0, 0, -(offset + numPeriods - 1 - i))
			return start.AddDate(0, 0, -1), start, start.Format("2006-01-02")
		}
	}
	for i := 0; i < numPeriods; i++ {
		from, to, label := periodLen(i)
		bounds = append(bounds, [2]time.Time{from, to})
		labels = append(labels, label)
	}

	rows, err := s.query(ctx, `SELECT request_time, model_name, total_tokens FROM request_logs WHERE request_time >= ? AND request_time <= ?`,
		timeToFloat(bounds[0][0]), timeToFloat(bounds[len(bounds)-1][1]))
	if err != nil {
		return UsageTrend{}, err
	}
	defer rows.Close()

	perModel := make(map[string][]int64)
	for rows.Next() {
		var t float64
		var model string
		var tokens sql.NullInt64
		if err := rows.Scan(&t, &model, &tokens); err != nil {
			return UsageTrend{}, err
		}
		when := floatToTime(t)
		for i, b := range bounds {
			if when.After(b[0]) && !when.After(b[1]) {
				series, ok := perModel[model]
				if !ok {
					series = make([]int64, numPeriods)
					perModel[model] = series
				}
				if metric == MetricTokens {
					series[i] += tokens.Int64
				} else {
					series[i]++
				}
				break
			}
		}
	}
	if err := rows.Err(); err != nil {
		return UsageTrend{}, err
	}

	trend := UsageTrend{Labels: labels}
	for model, data := range perModel {
		trend.Series = append(trend.Series, TrendSeries{Label: model, Data: data})
	}
	return trend, nil
}

func (s *sqlStore) SuccessRate(ctx context.Context, days int, hourly bool) ([]SuccessRatePoint, error) {
	since := time.Now().AddDate(0, 0, -days)
	rows, err := s.query(ctx, `SELECT request_time, model_name, is_success FROM request_logs WHERE request_time >= ?`, timeToFloat(since))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	type bucketKey struct {
		bucket string
		model  string
	}
	success := make(map[bucketKey]int64)
	total := make(map[bucketKey]int64)
	for rows.Next() {
		var t float64
		var model string
		var ok bool
		if err := rows.Scan(&t, &model, &ok); err != nil {
			return nil, err
		}
		when := floatToTime(t)
		bucket := when.Format("2006-01-02")
		if hourly {
			bucket = when.Format("2006-01-02 15:00")
		}
		bk := bucketKey{bucket: bucket, model: model}
		total[bk]++
		if ok {
			success[bk]++
		}
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	out := make([]SuccessRatePoint, 0, len(total))
	for bk, tot := range total {
		rate := 0.0
		if tot > 0 {
			rate = float64(success[bk]) / float64(tot) * 100
		}
		out = append(out, SuccessRatePoint{Bucket: bk.bucket, Model: bk.model, Rate: rate})
	}
	return out, nil
}

func timeToFloat(t time.Time) any {
	if t.IsZero() {
		return nil
	}
	return float64(t.UnixNano()) / 1e9
}

func floatToTime(f float64) time.Time {
	if f == 0 {
		return time.Time{}
	}
	sec := int64(f)
	nsec := int64((f - float64(sec)) * 1e9)
	return time.Unix(sec, nsec)
}

func nullableString(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func nullableInt(v int) any {
	if v == 0 {
		return nil
	}
	return v
}
