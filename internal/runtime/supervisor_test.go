package runtime

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestBackoff_Delay(t *testing.T) {
	b := Backoff{Min: 100 * time.Millisecond, Max: time.Second, Factor: 2.4}

	assert.Equal(t, 100*time.Millisecond, b.Delay(0))
	assert.Equal(t, 240*time.Millisecond, b.Delay(1))
	assert.Equal(t, 576*time.Millisecond, b.Delay(2))
	assert.Equal(t, time.Second, b.Delay(3))
	assert.Equal(t, time.Second, b.Delay(10))
}

func TestRestartWithBackoff_RestartsFailedRuns(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var runs int32
	done := make(chan struct{})
	go func() {
		defer close(done)
		RestartWithBackoff(ctx, "test", Backoff{Min: time.Millisecond, Max: 5 * time.Millisecond, Factor: 2}, func(ctx context.Context) error {
			if atomic.AddInt32(&runs, 1) == 3 {
				cancel()
				<-ctx.Done()
				return ctx.Err()
			}
			return errors.New("feed dropped")
		})
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("supervisor did not stop")
	}
	assert.Equal(t, int32(3), atomic.LoadInt32(&runs))
}
