package eventbus

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type epochDone struct{ epoch int }

func TestBusPublishSubscribe(t *testing.T) {
	bus := New()
	ch := bus.Subscribe()
	bus.Publish(epochDone{epoch: 1})
	bus.Publish("ingest finished")
	assert.Equal(t, epochDone{epoch: 1}, <-ch)
	assert.Equal(t, "ingest finished", <-ch)
	bus.Unsubscribe(ch)
	_, ok := <-ch
	assert.False(t, ok)
}

func TestBusClose(t *testing.T) {
	bus := New()
	ch1 := bus.Subscribe()
	ch2 := bus.Subscribe()
	bus.Close()
	_, ok := <-ch1
	assert.False(t, ok)
	_, ok = <-ch2
	assert.False(t, ok)

	late := bus.Subscribe()
	_, ok = <-late
	assert.False(t, ok, "subscribing to a closed bus yields a closed channel")
	bus.Publish("ignored")
}

func TestBusUnsubscribeAfterClose(t *testing.T) {
	bus := New()
	ch := bus.Subscribe()
	bus.Close()
	require.NotPanics(t, func() { bus.Unsubscribe(ch) })
}

func TestBusDropsWhenSubscriberFull(t *testing.T) {
	bus := NewBuffered(2)
	ch := bus.Subscribe()
	for i := 0; i < 5; i++ {
		bus.Publish(epochDone{epoch: i})
	}
	assert.Len(t, ch, 2)
	assert.Equal(t, uint64(3), bus.Dropped())
	assert.Equal(t, epochDone{epoch: 0}, <-ch)
}
