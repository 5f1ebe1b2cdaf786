package lock

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"paydesk/internal/core/apperror"
)

func TestKeyedMutex_SerializesSameKey(t *testing.T) {
	m := NewKeyedMutex()
	ctx := context.Background()

	counter := 0
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			release, err := m.Acquire(ctx, "draft-1")
			if !assert.NoError(t, err) {
				return
			}
			defer release()
			v := counter
			time.Sleep(time.Microsecond)
			counter = v + 1
		}()
	}
	wg.Wait()

	assert.Equal(t, 50, counter)
	assert.Equal(t, 0, m.Held())
}

func TestKeyedMutex_DifferentKeysDoNotBlock(t *testing.T) {
	m := NewKeyedMutex()
	ctx := context.Background()

	releaseA, err := m.Acquire(ctx, "a")
	require.NoError(t, err)
	defer releaseA()

	releaseB, err := m.Acquire(ctx, "b")
	require.NoError(t, err)
	releaseB()
	releaseB()
}

func TestKeyedMutex_WaiterTimesOut(t *testing.T) {
	m := NewKeyedMutex()

	release, err := m.Acquire(context.Background(), "draft-1")
	require.NoError(t, err)
	defer release()

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err = m.Acquire(ctx, "draft-1")
	assert.True(t, apperror.HasCode(err, apperror.CodeTimeout))
}
