package events

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEmitterOrder(t *testing.T) {
	e := NewEmitter()
	var got []int

	e.On("evt", func(Event) { got = append(got, 1) })
	e.On("evt", func(Event) { got = append(got, 2) })
	e.On("evt", func(Event) { got = append(got, 3) })

	n := e.Emit(Event{Name: "evt"})
	assert.Equal(t, 3, n)
	assert.Equal(t, []int{1, 2, 3}, got)
}

func TestEmitterOnce(t *testing.T) {
	e := NewEmitter()
	calls := 0
	e.Once("evt", func(Event) { calls++ })

	e.Emit(Event{Name: "evt"})
	e.Emit(Event{Name: "evt"})

	assert.Equal(t, 1, calls)
	assert.Equal(t, 0, e.ListenerCount("evt"))
}

func TestEmitterOnceConcurrentEmit(t *testing.T) {
	e := NewEmitter()
	var mu sync.Mutex
	calls := 0
	e.Once("evt", func(Event) {
		mu.Lock()
		calls++
		mu.Unlock()
	})

	var wg sync.WaitGroup
	for i := 0; i < 32; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			e.Emit(Event{Name: "evt"})
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, calls)
}

func TestEmitterOff(t *testing.T) {
	e := NewEmitter()
	var got []string

	id := e.On("evt", func(Event) { got = append(got, "a") })
	e.On("evt", func(Event) { got = append(got, "b") })
	e.Off("evt", id)
	e.Off("evt", ListenerID(999))

	e.Emit(Event{Name: "evt"})
	assert.Equal(t, []string{"b"}, got)
}

func TestEmitterOffDuringEmit(t *testing.T) {
	e := NewEmitter()
	var got []string
	var second ListenerID

	e.On("evt", func(Event) {
		got = append(got, "first")
		e.Off("evt", second)
	})
	second = e.On("evt", func(Event) { got = append(got, "second") })

	e.Emit(Event{Name: "evt"})
	assert.Equal(t, []string{"first"}, got)
}

func TestEmitterRemoveAll(t *testing.T) {
	e := NewEmitter()
	calls := 0
	e.On("evt", func(Event) { calls++ })
	e.Once("evt", func(Event) { calls++ })
	e.On("other", func(Event) { calls++ })

	e.RemoveAll("evt")
	e.Emit(Event{Name: "evt"})
	assert.Equal(t, 0, calls)

	e.Emit(Event{Name: "other"})
	assert.Equal(t, 1, calls)
}

func TestEmitterPassesArgs(t *testing.T) {
	e := NewEmitter()
	var got Event
	e.On("evt", func(ev Event) { got = ev })

	e.Emit(Event{Name: "evt", Args: []string{"a", "b"}})
	require.Len(t, got.Args, 2)
	assert.Equal(t, "a", got.Arg(0))
	assert.Equal(t, "b", got.Arg(1))
	assert.Equal(t, "", got.Arg(2))
	assert.Equal(t, "", got.Arg(-1))
}
