package simbridge

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/golang/geo/r3"
	ws "github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/b2d-phantom/recorder/internal/sim"
	"github.com/b2d-phantom/recorder/pkg/bridge"
	"github.com/b2d-phantom/recorder/pkg/core"
)

// fakeBridge answers requests like the bridge process would.
type fakeBridge struct {
	t  *testing.T
	mu sync.Mutex

	requests  []bridge.Envelope
	listening map[uint32]bool
	frame     uint64
	nextActor uint32
	// silent request types get no answer
	silent map[string]bool
	// collide makes the first n spawn attempts report a collision
	collide int
}

func (f *fakeBridge) log() []bridge.Envelope {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]bridge.Envelope(nil), f.requests...)
}

func (f *fakeBridge) handle(env bridge.Envelope) (payload any, bErr *bridge.Error, binary [][]byte) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.requests = append(f.requests, env)

	switch env.Type {
	case bridge.TypeGetSettings:
		return bridge.SettingsPayload{FixedDeltaSeconds: 0.1}, nil, nil
	case bridge.TypeListBlueprints:
		return bridge.BlueprintsPayload{Blueprints: []string{"vehicle.tesla.model3", "static.prop.fountain"}}, nil, nil
	case bridge.TypeTrySpawn:
		var p bridge.SpawnPayload
		assert.NoError(f.t, json.Unmarshal(env.Payload, &p))
		if f.collide > 0 {
			f.collide--
			return nil, &bridge.Error{Code: bridge.CodeSpawnCollision, Message: "blocked"}, nil
		}
		if p.Blueprint == "missing" {
			return nil, &bridge.Error{Code: bridge.CodeNotFound, Message: "no blueprint"}, nil
		}
		f.nextActor++
		return bridge.ActorPayload{ID: f.nextActor, TypeID: p.Blueprint, Extent: [3]float64{2, 1, 0.5}}, nil, nil
	case bridge.TypeSpawnLidar:
		f.nextActor++
		return bridge.ActorPayload{ID: f.nextActor, TypeID: "sensor.lidar.ray_cast"}, nil, nil
	case bridge.TypeSensorListen:
		var p bridge.ActorRefPayload
		assert.NoError(f.t, json.Unmarshal(env.Payload, &p))
		f.listening[p.ActorID] = true
	case bridge.TypeSensorStop:
		var p bridge.ActorRefPayload
		assert.NoError(f.t, json.Unmarshal(env.Payload, &p))
		delete(f.listening, p.ActorID)
	case bridge.TypeTick:
		f.frame++
		for id := range f.listening {
			binary = append(binary, bridge.EncodeSensorFrame(bridge.SensorFrame{
				SensorID: id,
				Frame:    f.frame,
				Points:   []float32{1, 2, 3, 0.5},
			}))
		}
		return bridge.TickPayload{Frame: f.frame}, nil, binary
	case bridge.TypeDestroy:
		var p bridge.ActorRefPayload
		assert.NoError(f.t, json.Unmarshal(env.Payload, &p))
		if p.ActorID == 999 {
			return nil, &bridge.Error{Code: bridge.CodeInternal, Message: "kaboom"}, nil
		}
	}
	return nil, nil, nil
}

func startBridge(t *testing.T) (*fakeBridge, string) {
	t.Helper()
	fb := &fakeBridge{t: t, listening: map[uint32]bool{}, silent: map[string]bool{}, nextActor: 100}

	upgrader := ws.Upgrader{CheckOrigin: func(*http.Request) bool { return true }}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		c, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			t.Logf("upgrade error: %v", err)
			return
		}
		defer c.Close()

		for {
			_, msg, err := c.ReadMessage()
			if err != nil {
				return
			}
			var env bridge.Envelope
			if err := json.Unmarshal(msg, &env); err != nil {
				continue
			}

			fb.mu.Lock()
			silent := fb.silent[env.Type]
			fb.mu.Unlock()
			payload, bErr, binary := fb.handle(env)
			if silent {
				continue
			}

			for _, b := range binary {
				if err := c.WriteMessage(ws.BinaryMessage, b); err != nil {
					return
				}
			}
			res := bridge.Envelope{Type: bridge.TypeResult, ID: env.ID, Error: bErr}
			if payload != nil {
				res.Payload, _ = json.Marshal(payload)
			}
			data, _ := json.Marshal(res)
			if err := c.WriteMessage(ws.TextMessage, data); err != nil {
				return
			}
		}
	}))
	t.Cleanup(srv.Close)

	return fb, "ws" + strings.TrimPrefix(srv.URL, "http")
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func dialTest(t *testing.T, url string) *Client {
	t.Helper()
	c, err := Dial(context.Background(), Config{URL: url, Timeout: 2 * time.Second, DialAttempts: 1}, quietLogger())
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })
	return c
}

func TestURL(t *testing.T) {
	assert.Equal(t, "ws://127.0.0.1:2000/bridge", URL("127.0.0.1", 2000))
}

func TestWorld_Calls(t *testing.T) {
	fb, url := startBridge(t)
	c := dialTest(t, url)
	ctx := context.Background()

	world, err := c.LoadWorld(ctx, "Town01")
	require.NoError(t, err)
	assert.Equal(t, "Town01", world.(*World).MapName())

	settings, err := world.Settings(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0.1, settings.FixedDeltaSeconds)
	require.NoError(t, world.ApplySettings(ctx, sim.Settings{SynchronousMode: true, FixedDeltaSeconds: 0.05}))

	bps, err := world.Blueprints(ctx)
	require.NoError(t, err)
	assert.Contains(t, bps, "vehicle.tesla.model3")

	pose := core.Transform{Location: r3.Vector{X: 1, Y: 2, Z: 3}, Rotation: core.Rotation{Yaw: 90}}
	a, err := world.TrySpawn(ctx, "vehicle.tesla.model3", pose)
	require.NoError(t, err)
	assert.Equal(t, uint32(101), a.ID)
	assert.Equal(t, r3.Vector{X: 2, Y: 1, Z: 0.5}, a.Extent)

	require.NoError(t, world.SetSimulatePhysics(ctx, a.ID, false))
	require.NoError(t, world.SetTransform(ctx, a.ID, pose))
	require.NoError(t, world.SetWeather(ctx, core.Weather{Cloudiness: 30}))
	require.NoError(t, world.SetSpectatorTransform(ctx, core.ChaseCamera(pose)))
	require.NoError(t, world.Destroy(ctx, a.ID))

	var types []string
	for _, env := range fb.log() {
		types = append(types, env.Type)
	}
	assert.Equal(t, []string{
		bridge.TypeLoadWorld, bridge.TypeGetSettings, bridge.TypeApplySettings,
		bridge.TypeListBlueprints, bridge.TypeTrySpawn, bridge.TypeSetPhysics,
		bridge.TypeSetTransform, bridge.TypeSetWeather, bridge.TypeSetSpectator,
		bridge.TypeDestroy,
	}, types)

	var spawn bridge.SpawnPayload
	require.NoError(t, json.Unmarshal(fb.log()[4].Payload, &spawn))
	assert.Equal(t, [3]float64{1, 2, 3}, spawn.Transform.Location)
	assert.Equal(t, [3]float64{0, 0, 90}, spawn.Transform.Rotation)
}

func TestWorld_ErrorMapping(t *testing.T) {
	fb, url := startBridge(t)
	c := dialTest(t, url)
	ctx := context.Background()
	world, err := c.LoadWorld(ctx, "Town01")
	require.NoError(t, err)

	fb.mu.Lock()
	fb.collide = 1
	fb.mu.Unlock()
	_, err = world.TrySpawn(ctx, "vehicle.tesla.model3", core.Transform{})
	assert.ErrorIs(t, err, sim.ErrSpawnCollision)

	_, err = world.TrySpawn(ctx, "missing", core.Transform{})
	assert.ErrorIs(t, err, sim.ErrNotFound)

	err = world.Destroy(ctx, 999)
	var bErr *bridge.Error
	require.ErrorAs(t, err, &bErr)
	assert.Equal(t, bridge.CodeInternal, bErr.Code)
}

func TestSensor_ReceivesFrames(t *testing.T) {
	_, url := startBridge(t)
	c := dialTest(t, url)
	ctx := context.Background()
	world, err := c.LoadWorld(ctx, "Town01")
	require.NoError(t, err)

	s, err := world.SpawnLidar(ctx, sim.LidarConfig{Channels: 64}, core.Transform{Location: r3.Vector{Z: 2}}, 101)
	require.NoError(t, err)

	got := make(chan sim.Measurement, 4)
	require.NoError(t, s.Listen(func(m sim.Measurement) { got <- m }))

	frame, err := world.Tick(ctx)
	require.NoError(t, err)
	assert.Equal(t, uint64(1), frame)

	// binary frames are written before the tick result
	select {
	case m := <-got:
		assert.Equal(t, uint64(1), m.Frame)
		assert.Equal(t, []float32{1, 2, 3, 0.5}, m.Points)
	case <-time.After(2 * time.Second):
		t.Fatal("no measurement delivered")
	}

	require.NoError(t, s.Stop(ctx))
	_, err = world.Tick(ctx)
	require.NoError(t, err)
	assert.Empty(t, got)
	require.NoError(t, s.Destroy(ctx))
}

func TestCall_Timeout(t *testing.T) {
	fb, url := startBridge(t)
	fb.mu.Lock()
	fb.silent[bridge.TypeTick] = true
	fb.mu.Unlock()

	c, err := Dial(context.Background(), Config{URL: url, Timeout: 50 * time.Millisecond}, quietLogger())
	require.NoError(t, err)
	defer c.Close()

	world, err := c.LoadWorld(context.Background(), "Town01")
	require.NoError(t, err)
	_, err = world.Tick(context.Background())
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestCall_AfterClose(t *testing.T) {
	_, url := startBridge(t)
	c := dialTest(t, url)
	world, err := c.LoadWorld(context.Background(), "Town01")
	require.NoError(t, err)

	require.NoError(t, c.Close())
	require.NoError(t, c.Close())
	_, err = world.Tick(context.Background())
	assert.ErrorIs(t, err, ErrClosed)
}

func TestDial_RetriesThenFails(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	srv.Close()

	start := time.Now()
	_, err := Dial(context.Background(), Config{URL: url, DialAttempts: 3, DialBackoff: 10 * time.Millisecond}, quietLogger())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "after 3 attempts")
	assert.GreaterOrEqual(t, time.Since(start), 30*time.Millisecond)
}

func TestDial_ContextCancelled(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err := Dial(ctx, Config{URL: url, DialAttempts: 10, DialBackoff: time.Second}, quietLogger())
	assert.Error(t, err)
}
