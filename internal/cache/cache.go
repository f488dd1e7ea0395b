package cache

import (
	"sort"
	"sync"

	"github.com/b2d-phantom/recorder/internal/sim"
)

// ActorCache tracks the live simulator actors of one instance replay, keyed
// by annotation id, along with the ids whose spawn failed.
type ActorCache struct {
	m      sync.Mutex
	live   map[string]sim.Actor
	failed map[string]struct{}
}

func NewActorCache() *ActorCache {
	return &ActorCache{
		live:   make(map[string]sim.Actor),
		failed: make(map[string]struct{}),
	}
}

// Reset forgets every live actor and failed id.
func (c *ActorCache) Reset() {
	c.m.Lock()
	defer c.m.Unlock()
	c.live = make(map[string]sim.Actor)
	c.failed = make(map[string]struct{})
}

func (c *ActorCache) Get(id string) (sim.Actor, bool) {
	c.m.Lock()
	defer c.m.Unlock()
	a, ok := c.live[id]
	return a, ok
}

func (c *ActorCache) Add(id string, a sim.Actor) {
	c.m.Lock()
	defer c.m.Unlock()
	c.live[id] = a
}

// Remove drops id and returns the actor that was stored under it.
func (c *ActorCache) Remove(id string) (sim.Actor, bool) {
	c.m.Lock()
	defer c.m.Unlock()
	a, ok := c.live[id]
	delete(c.live, id)
	return a, ok
}

// Len returns the number of live actors.
func (c *ActorCache) Len() int {
	c.m.Lock()
	defer c.m.Unlock()
	return len(c.live)
}

// IDs returns the live ids in sorted order.
func (c *ActorCache) IDs() []string {
	c.m.Lock()
	defer c.m.Unlock()
	ids := make([]string, 0, len(c.live))
	for id := range c.live {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Absent returns the live ids missing from present, sorted.
func (c *ActorCache) Absent(present map[string]struct{}) []string {
	c.m.Lock()
	defer c.m.Unlock()
	var gone []string
	for id := range c.live {
		if _, ok := present[id]; !ok {
			gone = append(gone, id)
		}
	}
	sort.Strings(gone)
	return gone
}

// MarkFailed records that id could not be spawned.
func (c *ActorCache) MarkFailed(id string) {
	c.m.Lock()
	defer c.m.Unlock()
	c.failed[id] = struct{}{}
}

func (c *ActorCache) IsFailed(id string) bool {
	c.m.Lock()
	defer c.m.Unlock()
	_, ok := c.failed[id]
	return ok
}

func (c *ActorCache) FailedCount() int {
	c.m.Lock()
	defer c.m.Unlock()
	return len(c.failed)
}
