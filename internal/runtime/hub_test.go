package runtime

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestHub_DeliversOnlyToTopicListeners(t *testing.T) {
	hub := NewHub[string](4)

	c1, cancel1 := hub.Subscribe("c1")
	defer cancel1()
	c2, cancel2 := hub.Subscribe("c2")
	defer cancel2()

	assert.Equal(t, 1, hub.Publish("c1", "q1"))
	assert.Equal(t, "q1", <-c1)
	assert.Empty(t, c2)
}

func TestHub_MulticastsToEveryListener(t *testing.T) {
	hub := NewHub[int](1)

	a, cancelA := hub.Subscribe("t")
	defer cancelA()
	b, cancelB := hub.Subscribe("t")
	defer cancelB()

	assert.Equal(t, 2, hub.Publish("t", 7))
	assert.Equal(t, 7, <-a)
	assert.Equal(t, 7, <-b)
}

func TestHub_DropsWhenListenerIsFull(t *testing.T) {
	hub := NewHub[int](1)

	ch, cancel := hub.Subscribe("t")
	defer cancel()

	assert.Equal(t, 1, hub.Publish("t", 1))
	assert.Equal(t, 0, hub.Publish("t", 2))
	assert.Equal(t, 1, <-ch)
}

func TestHub_CancelClosesAndRemoves(t *testing.T) {
	hub := NewHub[int](1)

	ch, cancel := hub.Subscribe("t")
	assert.Equal(t, 1, hub.Listeners("t"))

	cancel()
	cancel()

	_, open := <-ch
	assert.False(t, open)
	assert.Zero(t, hub.Listeners("t"))
	assert.Zero(t, hub.Publish("t", 1))
}
