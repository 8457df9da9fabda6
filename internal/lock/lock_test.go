package lock

import (
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTryAcquireIsSingleFlight(t *testing.T) {
	r := NewRegistry([]string{"api", "web"})

	p, err := r.TryAcquire("api")
	require.NoError(t, err)
	assert.Equal(t, "api", p.Key())
	assert.True(t, r.Held("api"))

	_, err = r.TryAcquire("api")
	require.ErrorIs(t, err, ErrBusy)

	other, err := r.TryAcquire("web")
	require.NoError(t, err, "different keys are independent")
	other.Release()

	p.Release()
	p.Release()
	assert.False(t, r.Held("api"))

	again, err := r.TryAcquire("api")
	require.NoError(t, err)
	again.Release()
}

func TestTryAcquireUnknownKey(t *testing.T) {
	r := NewRegistry([]string{"api"})

	_, err := r.TryAcquire("nope")
	require.ErrorIs(t, err, ErrUnknownKey)
	assert.NotErrorIs(t, err, ErrBusy)
	assert.False(t, r.Held("nope"))
}

func TestConcurrentAcquireAdmitsExactlyOne(t *testing.T) {
	r := NewRegistry([]string{"api"})
	const contenders = 64

	var (
		wg      sync.WaitGroup
		granted atomic.Int32
		busy    atomic.Int32
		start   = make(chan struct{})
		permits = make(chan *Permit, contenders)
	)
	for i := 0; i < contenders; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			p, err := r.TryAcquire("api")
			if err != nil {
				busy.Add(1)
				return
			}
			granted.Add(1)
			permits <- p
		}()
	}
	close(start)
	wg.Wait()
	close(permits)

	assert.EqualValues(t, 1, granted.Load())
	assert.EqualValues(t, contenders-1, busy.Load())
	for p := range permits {
		p.Release()
	}
}
