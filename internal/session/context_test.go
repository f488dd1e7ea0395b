package session

import (
	"log/slog"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestContext_Attrs(t *testing.T) {
	ctx := NewContext("run-1")

	assert.Equal(t, map[string]string{"run": "run-1"}, attrMap(ctx.Attrs()))

	ctx.StartInstance("RouteScenario_1_Town12_Rep0", "Town12")
	assert.Len(t, ctx.Attrs(), 3, "frame is omitted until set")

	ctx.SetFrame(7)
	assert.Equal(t, map[string]string{
		"run":      "run-1",
		"instance": "RouteScenario_1_Town12_Rep0",
		"map":      "Town12",
		"frame":    "7",
	}, attrMap(ctx.Attrs()))

	name, frame := ctx.Instance()
	assert.Equal(t, "RouteScenario_1_Town12_Rep0", name)
	assert.Equal(t, 7, frame)

	ctx.EndInstance()
	assert.Len(t, ctx.Attrs(), 1)
	assert.Equal(t, "run-1", ctx.RunID())
}

func attrMap(attrs []slog.Attr) map[string]string {
	m := make(map[string]string, len(attrs))
	for _, a := range attrs {
		m[a.Key] = a.Value.String()
	}
	return m
}

func TestContext_ThreadSafe(t *testing.T) {
	ctx := NewContext("run")
	ctx.StartInstance("i", "Town01")

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			ctx.SetFrame(i)
			_ = ctx.Attrs()
		}(i)
	}
	wg.Wait()

	_, frame := ctx.Instance()
	assert.GreaterOrEqual(t, frame, 0)
}
