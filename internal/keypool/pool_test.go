package keypool

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testConfig() Config {
	return Config{
		FailureThreshold: 3,
		BaseCooldown:     10 * time.Second,
		MaxCooldown:      80 * time.Second,
		AcquireTimeout:   200 * time.Millisecond,
		StuckTimeout:     time.Hour,
		SweepInterval:    time.Hour,
	}
}

func newTestPool(t *testing.T, keys ...string) *Pool {
	t.Helper()
	loaded := make([]Key, 0, len(keys))
	for _, id := range keys {
		loaded = append(loaded, Key{Identifier: id, Secret: "sk-" + id, State: StateActive})
	}
	p := New(testConfig(), nil, testLogger(), loaded)
	t.Cleanup(p.Close)
	return p
}

func TestRotation(t *testing.T) {
	p := newTestPool(t, "K1", "K2", "K3")
	ctx := context.Background()

	var order []string
	for i := 0; i < 10; i++ {
		lease, err := p.Acquire(ctx)
		require.NoError(t, err)
		order = append(order, lease.Identifier)
		lease.Return(ReturnOutcome{Success: true})
	}

	assert.Equal(t, []string{"K1", "K2", "K3", "K1", "K2", "K3", "K1", "K2", "K3", "K1"}, order)
}

func TestBackoffGrowth(t *testing.T) {
	p := newTestPool(t, "K1")
	ctx := context.Background()

	lease, err := p.Acquire(ctx)
	require.NoError(t, err)
	lease.Return(ReturnOutcome{Success: false, Class: FailureUpstream5xx})

	k := p.byID["K1"]
	assert.Equal(t, 1, k.FailureCount)
	assert.Equal(t, StateActive, k.State)

	lease, err = p.Acquire(ctx)
	require.NoError(t, err)
	lease.Return(ReturnOutcome{Success: false, Class: FailureUpstream5xx})
	assert.Equal(t, 2, k.FailureCount)
	assert.Equal(t, StateActive, k.State)

	lease, err = p.Acquire(ctx)
	require.NoError(t, err)
	lease.Return(ReturnOutcome{Success: false, Class: FailureUpstream5xx})
	assert.Equal(t, 3, k.FailureCount)
	assert.Equal(t, StateCooling, k.State)
	assert.Equal(t, float64(10), k.CurrentCooldownSecs)

	k.CooldownUntil = time.Now().Add(-time.Second)
	lease, err = p.Acquire(ctx)
	require.NoError(t, err)
	lease.Return(ReturnOutcome{Success: false, Class: FailureUpstream5xx})
	assert.Equal(t, StateCooling, k.State)
	assert.Equal(t, float64(20), k.CurrentCooldownSecs)

	k.CooldownUntil = time.Now().Add(-time.Second)
	lease, err = p.Acquire(ctx)
	require.NoError(t, err)
	lease.Return(ReturnOutcome{Success: false, Class: FailureUpstream5xx})
	assert.Equal(t, StateCooling, k.State)
	assert.Equal(t, float64(40), k.CurrentCooldownSecs)

	k.CooldownUntil = time.Now().Add(-time.Second)
	lease, err = p.Acquire(ctx)
	require.NoError(t, err)
	lease.Return(ReturnOutcome{Success: true})
	assert.Equal(t, StateActive, k.State)
	assert.Equal(t, 0, k.FailureCount)
	assert.Equal(t, 0, k.CooldownEntryCount)
	assert.Equal(t, float64(0), k.CurrentCooldownSecs)
}

func TestAuthRejectionForcesCooldown(t *testing.T) {
	p := newTestPool(t, "K1")
	ctx := context.Background()

	lease, err := p.Acquire(ctx)
	require.NoError(t, err)
	lease.Return(ReturnOutcome{Success: false, Class: FailureAuthRejected})

	k := p.byID["K1"]
	assert.Equal(t, StateCooling, k.State)
	assert.Equal(t, float64(10), k.CurrentCooldownSecs)
	assert.Equal(t, 1, k.CooldownEntryCount)
}

func TestStuckLeaseReclaim(t *testing.T) {
	p := newTestPool(t, "K1")
	ctx := context.Background()

	lease, err := p.Acquire(ctx)
	require.NoError(t, err)
	_ = lease

	k := p.byID["K1"]
	k.InUseSince = time.Now().Add(-2 * time.Hour)
	p.sweepOnce()

	assert.Equal(t, StateActive, k.State)
	assert.Equal(t, 1, k.FailureCount)

	lease2, err := p.Acquire(ctx)
	require.NoError(t, err)
	assert.Equal(t, "K1", lease2.Identifier)
}

func TestNoKeyAvailableTimesOut(t *testing.T) {
	p := newTestPool(t, "K1")
	ctx := context.Background()

	lease, err := p.Acquire(ctx)
	require.NoError(t, err)

	_, err = p.Acquire(ctx)
	assert.ErrorIs(t, err, ErrNoKeyAvailable)

	lease.Return(ReturnOutcome{Success: true})
}

func TestDeleteRejectsLeasedKey(t *testing.T) {
	p := newTestPool(t, "K1")
	ctx := context.Background()

	lease, err := p.Acquire(ctx)
	require.NoError(t, err)

	err = p.Delete("K1")
	assert.ErrorIs(t, err, ErrKeyInUse)

	lease.Return(ReturnOutcome{Success: true})
	err = p.Delete("K1")
	assert.NoError(t, err)
}
