package rooms

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

func TestRegistrySingletonPerName(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	a, err := env.registry.Get(ctx, "lobby", RoomOptions{})
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	b, err := env.registry.Get(ctx, "lobby", RoomOptions{})
	if err != nil {
		t.Fatalf("second get: %v", err)
	}
	if a != b {
		t.Fatal("expected the same room instance for one name")
	}

	other, err := env.registry.Get(ctx, "side", RoomOptions{})
	if err != nil {
		t.Fatalf("get other: %v", err)
	}
	if other == a {
		t.Fatal("expected distinct rooms for distinct names")
	}
}

func TestRegistryRejectsDifferentOptions(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	if _, err := env.registry.Get(ctx, "lobby", RoomOptions{}); err != nil {
		t.Fatalf("get: %v", err)
	}
	_, err := env.registry.Get(ctx, "lobby", RoomOptions{
		Typing: TypingOptions{Timeout: time.Second},
	})
	if !errors.Is(err, ErrRoomExists) {
		t.Fatalf("expected ErrRoomExists, got %v", err)
	}

	// Options matching the live room's resolved defaults are accepted.
	if _, err := env.registry.Get(ctx, "lobby", DefaultRoomOptions()); err != nil {
		t.Fatalf("get with explicit defaults: %v", err)
	}
}

func TestRegistryGetAfterRelease(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	old, err := env.registry.Get(ctx, "lobby", RoomOptions{})
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if err := old.Attach(ctx); err != nil {
		t.Fatalf("attach: %v", err)
	}
	if err := env.registry.Release(ctx, "lobby"); err != nil {
		t.Fatalf("release: %v", err)
	}
	if got := old.Status(); got != StatusReleased {
		t.Fatalf("expected old room Released, got %v", got)
	}

	fresh, err := env.registry.Get(ctx, "lobby", RoomOptions{})
	if err != nil {
		t.Fatalf("get after release: %v", err)
	}
	if fresh == old {
		t.Fatal("expected a fresh room after release")
	}
	if got := fresh.Status(); got != StatusInitialized {
		t.Fatalf("expected fresh room Initialized, got %v", got)
	}

	// Releasing a name that is not in the registry is a no-op.
	if err := env.registry.Release(ctx, "nowhere"); err != nil {
		t.Fatalf("release of unknown name: %v", err)
	}
}

func TestRegistryGetAwaitsInFlightRelease(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	old, err := env.registry.Get(ctx, "lobby", RoomOptions{})
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if err := old.Attach(ctx); err != nil {
		t.Fatalf("attach: %v", err)
	}

	released := make(chan error, 1)
	go func() { released <- env.registry.Release(ctx, "lobby") }()
	waitFor(t, func() bool {
		s := old.Status()
		return s == StatusReleasing || s == StatusReleased
	}, "release to start")

	// Gets issued once the release is in flight await it and construct a
	// fresh room; the dying instance is never handed back.
	const callers = 4
	rooms := make(chan *Room, callers)
	var wg sync.WaitGroup
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			room, err := env.registry.Get(ctx, "lobby", RoomOptions{})
			if err != nil {
				t.Errorf("concurrent get: %v", err)
				rooms <- nil
				return
			}
			rooms <- room
		}()
	}
	wg.Wait()
	close(rooms)
	if err := mustEvent(t, released, "release to finish"); err != nil {
		t.Fatalf("release: %v", err)
	}

	for room := range rooms {
		if room == nil {
			continue
		}
		if room == old {
			t.Fatal("get returned the released instance")
		}
		if got := room.Status(); got == StatusReleasing || got == StatusReleased {
			t.Fatalf("get returned a dying room in status %v", got)
		}
	}
}

func TestRegistryConcurrentRelease(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	room, err := env.registry.Get(ctx, "lobby", RoomOptions{})
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if err := room.Attach(ctx); err != nil {
		t.Fatalf("attach: %v", err)
	}

	const callers = 6
	var wg sync.WaitGroup
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := env.registry.Release(ctx, "lobby"); err != nil {
				t.Errorf("release: %v", err)
			}
		}()
	}
	wg.Wait()

	if got := room.Status(); got != StatusReleased {
		t.Fatalf("expected Released, got %v", got)
	}
}
