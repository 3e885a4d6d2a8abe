package gate

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAcquireReleaseWithinCapacity(t *testing.T) {
	g := New(2, time.Second, nil)
	require.NoError(t, g.Acquire(context.Background()))
	require.NoError(t, g.Acquire(context.Background()))
	assert.Equal(t, 2, g.InUse())

	g.Release()
	assert.Equal(t, 1, g.InUse())
}

func TestAdmissionTimeout(t *testing.T) {
	g := New(1, 50*time.Millisecond, nil)
	require.NoError(t, g.Acquire(context.Background()))

	err := g.Acquire(context.Background())
	assert.ErrorIs(t, err, ErrAdmissionTimeout)
}

func TestFIFOOrdering(t *testing.T) {
	g := New(1, time.Second, nil)
	require.NoError(t, g.Acquire(context.Background()))

	var mu sync.Mutex
	var order []int
	var wg sync.WaitGroup

	for i := 0; i < 3; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			time.Sleep(time.Duration(i) * 10 * time.Millisecond)
			require.NoError(t, g.Acquire(context.Background()))
			mu.Lock()
			order = append(order, i)
			mu.Unlock()
			g.Release()
		}(i)
	}

	time.Sleep(50 * time.Millisecond)
	g.Release()
	wg.Wait()

	assert.Equal(t, []int{0, 1, 2}, order)
}
