package session

import (
	"log/slog"
	"sync"
)

// Context holds the run, instance and frame currently being replayed.
// It feeds the log context handler, so reads happen from any goroutine.
type Context struct {
	mu       sync.RWMutex
	runID    string
	instance string
	mapName  string
	frame    int
	active   bool
}

// NewContext creates a Context for the given run.
func NewContext(runID string) *Context {
	return &Context{runID: runID, frame: -1}
}

// RunID returns the id of the current run.
func (c *Context) RunID() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.runID
}

// StartInstance marks the beginning of an instance replay.
func (c *Context) StartInstance(name, mapName string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.instance = name
	c.mapName = mapName
	c.frame = -1
	c.active = true
}

// SetFrame records the frame index being processed.
func (c *Context) SetFrame(i int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.frame = i
}

// EndInstance clears the instance state.
func (c *Context) EndInstance() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.instance = ""
	c.mapName = ""
	c.frame = -1
	c.active = false
}

// Instance returns the current instance name and frame index.
func (c *Context) Instance() (string, int) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.instance, c.frame
}

// Attrs returns the log attributes describing the current position.
func (c *Context) Attrs() []slog.Attr {
	c.mu.RLock()
	defer c.mu.RUnlock()

	attrs := []slog.Attr{slog.String("run", c.runID)}
	if !c.active {
		return attrs
	}
	attrs = append(attrs, slog.String("instance", c.instance), slog.String("map", c.mapName))
	if c.frame >= 0 {
		attrs = append(attrs, slog.Int("frame", c.frame))
	}
	return attrs
}
