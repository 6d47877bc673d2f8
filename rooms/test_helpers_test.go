package rooms

import (
	"context"
	"testing"
	"time"

	"github.com/vovakirdan/wirechat-rooms/realtime/rtmem"
)

const eventWait = 2 * time.Second

type testEnv struct {
	hub      *rtmem.Hub
	conn     *rtmem.Conn
	registry *Registry
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	hub := rtmem.NewHub(nil)
	conn := hub.Connect("local")
	t.Cleanup(func() { _ = conn.Close(context.Background()) })
	return &testEnv{hub: hub, conn: conn, registry: NewRegistry(conn, nil)}
}

func (env *testEnv) room(t *testing.T, name string, opts RoomOptions) *Room {
	t.Helper()
	room, err := env.registry.Get(context.Background(), name, opts)
	if err != nil {
		t.Fatalf("get room %q: %v", name, err)
	}
	return room
}

func mustEvent[T any](t *testing.T, ch <-chan T, what string) T {
	t.Helper()
	select {
	case v := <-ch:
		return v
	case <-time.After(eventWait):
		t.Fatalf("timed out waiting for %s", what)
		panic("unreachable")
	}
}

func noEvent[T any](t *testing.T, ch <-chan T, within time.Duration, what string) {
	t.Helper()
	select {
	case v := <-ch:
		t.Fatalf("unexpected %s: %+v", what, v)
	case <-time.After(within):
	}
}

func waitFor(t *testing.T, cond func() bool, what string) {
	t.Helper()
	deadline := time.Now().Add(eventWait)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}
