package cache

import (
	"sync"
	"testing"

	"github.com/golang/geo/r3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/b2d-phantom/recorder/internal/sim"
)

func TestActorCache_AddGetRemove(t *testing.T) {
	c := NewActorCache()

	c.Add("100", sim.Actor{ID: 7, TypeID: "vehicle.tesla.model3", Extent: r3.Vector{X: 2, Y: 1, Z: 0.8}})

	got, ok := c.Get("100")
	require.True(t, ok)
	assert.Equal(t, uint32(7), got.ID)
	assert.Equal(t, 1, c.Len())

	removed, ok := c.Remove("100")
	require.True(t, ok)
	assert.Equal(t, got, removed)
	assert.Equal(t, 0, c.Len())

	_, ok = c.Remove("100")
	assert.False(t, ok)
}

func TestActorCache_Absent(t *testing.T) {
	c := NewActorCache()
	c.Add("A", sim.Actor{ID: 1})
	c.Add("B", sim.Actor{ID: 2})
	c.Add("C", sim.Actor{ID: 3})

	gone := c.Absent(map[string]struct{}{"B": {}, "D": {}})
	assert.Equal(t, []string{"A", "C"}, gone)
	assert.Equal(t, []string{"A", "B", "C"}, c.IDs())
}

func TestActorCache_Failed(t *testing.T) {
	c := NewActorCache()
	assert.False(t, c.IsFailed("x"))

	c.MarkFailed("x")
	c.MarkFailed("x")
	assert.True(t, c.IsFailed("x"))
	assert.Equal(t, 1, c.FailedCount())

	c.Reset()
	assert.False(t, c.IsFailed("x"))
	assert.Equal(t, 0, c.Len())
}

func TestActorCache_Concurrent(t *testing.T) {
	c := NewActorCache()

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			id := string(rune('a' + i%26))
			c.Add(id, sim.Actor{ID: uint32(i)})
			c.Get(id)
		}(i)
	}
	wg.Wait()

	assert.Equal(t, 26, c.Len())
}
