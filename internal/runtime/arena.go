package runtime

import (
	"context"
	"errors"
	"fmt"
	"hash/fnv"
	"sync"

	"github.com/rs/zerolog/log"
)

var ErrArenaClosed = errors.New("runtime: arena closed")

// Arena runs work for a key strictly one at a time, in submission order.
// Keys are spread over a fixed set of lanes so unrelated keys run in parallel.
// Work running in a lane must not call Do on the same arena.
type Arena struct {
	name  string
	lanes []chan func()
	quit  chan struct{}
	once  sync.Once
	wg    sync.WaitGroup
}

// NewArena starts an arena with the given number of lanes, each with a queue of depth queue
func NewArena(name string, lanes, queue int) *Arena {
	if lanes < 1 {
		lanes = 1
	}
	a := &Arena{
		name:  name,
		lanes: make([]chan func(), lanes),
		quit:  make(chan struct{}),
	}
	for i := range a.lanes {
		a.lanes[i] = make(chan func(), queue)
		a.wg.Add(1)
		go a.work(a.lanes[i])
	}
	return a
}

func (a *Arena) work(jobs chan func()) {
	defer a.wg.Done()
	for {
		select {
		case job := <-jobs:
			job()
		case <-a.quit:
			return
		}
	}
}

func (a *Arena) lane(key string) chan func() {
	h := fnv.New32a()
	_, _ = h.Write([]byte(key))
	return a.lanes[h.Sum32()%uint32(len(a.lanes))]
}

// Do runs fn on the lane owning key and waits for its result.
// A context that ends while fn is running does not interrupt fn.
func (a *Arena) Do(ctx context.Context, key string, fn func() error) error {
	done := make(chan error, 1)
	job := func() {
		defer func() {
			if r := recover(); r != nil {
				log.Error().
					Str("arena", a.name).
					Str("key", key).
					Interface("panic", r).
					Msg("recovered panic in arena job")
				done <- fmt.Errorf("panic handling %s/%s: %v", a.name, key, r)
			}
		}()
		done <- fn()
	}

	select {
	case a.lane(key) <- job:
	case <-a.quit:
		return ErrArenaClosed
	case <-ctx.Done():
		return ctx.Err()
	}

	select {
	case err := <-done:
		return err
	case <-a.quit:
		return ErrArenaClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close stops the lanes. Queued work that has not started is dropped.
func (a *Arena) Close() {
	a.once.Do(func() { close(a.quit) })
	a.wg.Wait()
}
