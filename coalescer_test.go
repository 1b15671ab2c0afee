package blobcache

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCoalescer_ConcurrentCallersShareOneFactoryCall(t *testing.T) {
	c := NewCoalescer()

	var calls int32

	const callers = 20

	start := make(chan struct{})

	var wg sync.WaitGroup

	results := make([][]byte, callers)
	errs := make([]error, callers)

	for i := 0; i < callers; i++ {
		wg.Add(1)

		go func(i int) {
			defer wg.Done()

			<-start

			v, err := c.GetOrCreateRequest(context.Background(), "k", func(ctx context.Context) ([]byte, error) {
				atomic.AddInt32(&calls, 1)

				return []byte("value"), nil
			})

			results[i] = v
			errs[i] = err
		}(i)
	}

	close(start)
	wg.Wait()

	assert.Equal(t, int32(1), atomic.LoadInt32(&calls))

	for i := 0; i < callers; i++ {
		require.NoError(t, errs[i])
		assert.Equal(t, []byte("value"), results[i])
	}
}

func TestCoalescer_ReentersAfterCompletion(t *testing.T) {
	c := NewCoalescer()

	var calls int

	factory := func(ctx context.Context) ([]byte, error) {
		calls++

		return []byte("v"), nil
	}

	_, err := c.GetOrCreateRequest(context.Background(), "k", factory)
	require.NoError(t, err)

	_, err = c.GetOrCreateRequest(context.Background(), "k", factory)
	require.NoError(t, err)

	assert.Equal(t, 2, calls)
}

func TestCoalescer_ClearForcesFreshCall(t *testing.T) {
	c := NewCoalescer()

	sentinel := errors.New("boom")

	_, err := c.GetOrCreateRequest(context.Background(), "k", func(ctx context.Context) ([]byte, error) {
		return nil, sentinel
	})
	require.ErrorIs(t, err, sentinel)

	c.Clear("k")

	v, err := c.GetOrCreateRequest(context.Background(), "k", func(ctx context.Context) ([]byte, error) {
		return []byte("recovered"), nil
	})
	require.NoError(t, err)
	assert.Equal(t, []byte("recovered"), v)
}
