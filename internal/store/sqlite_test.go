package store

import (
	"context"
	"path/filepath"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nullbridge/llmgate/internal/keypool"
)

func openTestStore(t *testing.T) Store {
	t.Helper()
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "gateway.db")
	s, err := OpenSQLite(ctx, path)
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestKeyRoundTrip(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)

	k := keypool.Key{
		Identifier:          "K1",
		Secret:              "sk-secret",
		Brief:               "sk-...ret",
		State:               keypool.StateCooling,
		FailureCount:        2,
		CooldownEntryCount:  1,
		CurrentCooldownSecs: 10,
		CooldownUntil:       time.Now().Add(10 * time.Second).Truncate(time.Second),
	}
	require.NoError(t, s.UpsertKey(ctx, k))

	loaded, err := s.LoadAllKeys(ctx)
	require.NoError(t, err)
	require.Len(t, loaded, 1)
	assert.Equal(t, k.Identifier, loaded[0].Identifier)
	assert.Equal(t, k.State, loaded[0].State)
	assert.Equal(t, k.FailureCount, loaded[0].FailureCount)
	assert.WithinDuration(t, k.CooldownUntil, loaded[0].CooldownUntil, time.Second)

	require.NoError(t, s.DeleteKey(ctx, "K1"))
	loaded, err = s.LoadAllKeys(ctx)
	require.NoError(t, err)
	assert.Empty(t, loaded)
}

func TestRequestLogQueryAndCallCounts(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)

	now := time.Now()
	for i := 0; i < 3; i++ {
		require.NoError(t, s.InsertRequestLog(ctx, RequestLog{
			RequestID:      "req-" + strconv.Itoa(i),
			RequestTime:    now.Add(time.Duration(i) * time.Second),
			PrincipalAlias: "alice",
			KeyIdentifier:  "K1",
			KeyBrief:       "sk-...1",
			ModelName:      "m1",
			Dialect:        "gemini",
			IsSuccess:      true,
			TotalTokens:    10,
		}))
	}

	page, err := s.QueryRequestLogs(ctx, RequestLogFilter{PrincipalAlias: "alice", Limit: 10})
	require.NoError(t, err)
	assert.Equal(t, int64(3), page.Total)
	assert.Len(t, page.Logs, 3)
	for _, row := range page.Logs {
		assert.Equal(t, "sk-...1", row.KeyBrief)
	}

	counts, err := s.PerPrincipalCallCounts(ctx)
	require.NoError(t, err)
	require.Len(t, counts, 1)
	assert.Equal(t, "alice", counts[0].PrincipalAlias)
	assert.Equal(t, int64(3), counts[0].Count)
}

func TestPrincipalRoundTrip(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)

	require.NoError(t, s.UpsertPrincipal(ctx, Principal{APIKey: "ak-1", Alias: "alice", Active: true}))
	p, err := s.GetPrincipal(ctx, "ak-1")
	require.NoError(t, err)
	require.NotNil(t, p)
	assert.Equal(t, "alice", p.Alias)

	require.NoError(t, s.DeletePrincipal(ctx, "ak-1"))
	p, err = s.GetPrincipal(ctx, "ak-1")
	require.NoError(t, err)
	assert.Nil(t, p)
}
