package rooms

import (
	"context"
	"testing"
	"time"

	"github.com/vovakirdan/wirechat-rooms/realtime"
)

func typingRoom(t *testing.T, env *testEnv, name string, timeout time.Duration) *Room {
	t.Helper()
	room := env.room(t, name, RoomOptions{Typing: TypingOptions{Timeout: timeout}})
	if err := room.Attach(context.Background()); err != nil {
		t.Fatalf("attach: %v", err)
	}
	return room
}

func TestTypingStartDebounce(t *testing.T) {
	env := newTestEnv(t)
	room := typingRoom(t, env, "debounce", 150*time.Millisecond)

	events := make(chan TypingEvent, 16)
	off := room.Typing().Subscribe(func(ev TypingEvent) { events <- ev })
	defer off()

	ctx := context.Background()
	for i := 0; i < 3; i++ {
		if err := room.Typing().Start(ctx); err != nil {
			t.Fatalf("start %d: %v", i, err)
		}
		time.Sleep(50 * time.Millisecond)
	}

	ev := mustEvent(t, events, "typing start")
	if !ev.Typing || ev.ClientID != "local" {
		t.Fatalf("unexpected first event: %+v", ev)
	}

	// The last Start re-armed the timer, so the stop arrives once, roughly
	// one timeout after the final keystroke.
	ev = mustEvent(t, events, "typing stop")
	if ev.Typing || ev.ClientID != "local" {
		t.Fatalf("unexpected second event: %+v", ev)
	}
	if len(ev.Currently) != 0 {
		t.Fatalf("expected empty typing set after stop, got %v", ev.Currently)
	}
	noEvent(t, events, 300*time.Millisecond, "extra typing event")
}

func TestTypingSingleStartSingleStop(t *testing.T) {
	env := newTestEnv(t)
	room := typingRoom(t, env, "single", 80*time.Millisecond)

	events := make(chan TypingEvent, 16)
	off := room.Typing().Subscribe(func(ev TypingEvent) { events <- ev })
	defer off()

	if err := room.Typing().Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	start := mustEvent(t, events, "typing start")
	if !start.Typing {
		t.Fatalf("expected start event, got %+v", start)
	}
	stop := mustEvent(t, events, "typing stop")
	if stop.Typing {
		t.Fatalf("expected stop event, got %+v", stop)
	}
	noEvent(t, events, 200*time.Millisecond, "extra typing event")
}

func TestTypingExplicitStop(t *testing.T) {
	env := newTestEnv(t)
	room := typingRoom(t, env, "explicit", time.Minute)

	events := make(chan TypingEvent, 16)
	off := room.Typing().Subscribe(func(ev TypingEvent) { events <- ev })
	defer off()

	ctx := context.Background()
	if err := room.Typing().Start(ctx); err != nil {
		t.Fatalf("start: %v", err)
	}
	mustEvent(t, events, "typing start")

	if err := room.Typing().Stop(ctx); err != nil {
		t.Fatalf("stop: %v", err)
	}
	ev := mustEvent(t, events, "typing stop")
	if ev.Typing {
		t.Fatalf("expected stop event, got %+v", ev)
	}

	// Stopping while idle is a no-op.
	if err := room.Typing().Stop(ctx); err != nil {
		t.Fatalf("second stop: %v", err)
	}
	noEvent(t, events, 100*time.Millisecond, "event after idle stop")
}

func TestTypingRemoteMembers(t *testing.T) {
	env := newTestEnv(t)
	room := typingRoom(t, env, "remote", time.Minute)

	events := make(chan TypingEvent, 16)
	off := room.Typing().Subscribe(func(ev TypingEvent) { events <- ev })
	defer off()

	ctx := context.Background()
	peer := env.hub.Connect("peer")
	defer peer.Close(ctx)
	ch, err := peer.Channel(ChatChannelName("remote"), realtime.ChannelOptions{})
	if err != nil {
		t.Fatalf("peer channel: %v", err)
	}
	if err := ch.Attach(ctx); err != nil {
		t.Fatalf("peer attach: %v", err)
	}

	if err := ch.Presence().Enter(ctx, "typing", nil); err != nil {
		t.Fatalf("peer typing enter: %v", err)
	}
	ev := mustEvent(t, events, "remote typing start")
	if !ev.Typing || ev.ClientID != "peer" {
		t.Fatalf("unexpected event: %+v", ev)
	}
	if got := room.Typing().Current(); len(got) != 1 || got[0] != "peer" {
		t.Fatalf("expected [peer], got %v", got)
	}

	// Re-entering does not produce a duplicate transition.
	if err := ch.Presence().Enter(ctx, "typing", nil); err != nil {
		t.Fatalf("peer re-enter: %v", err)
	}
	noEvent(t, events, 100*time.Millisecond, "duplicate typing start")

	if err := ch.Presence().Leave(ctx, "typing"); err != nil {
		t.Fatalf("peer typing leave: %v", err)
	}
	ev = mustEvent(t, events, "remote typing stop")
	if ev.Typing || ev.ClientID != "peer" {
		t.Fatalf("unexpected event: %+v", ev)
	}
	if got := room.Typing().Current(); len(got) != 0 {
		t.Fatalf("expected empty set, got %v", got)
	}
}

func TestTypingDropsAnonymousPresence(t *testing.T) {
	env := newTestEnv(t)
	room := typingRoom(t, env, "anon", time.Minute)

	events := make(chan TypingEvent, 16)
	off := room.Typing().Subscribe(func(ev TypingEvent) { events <- ev })
	defer off()

	ctx := context.Background()
	ghost := env.hub.Connect("")
	defer ghost.Close(ctx)
	ch, err := ghost.Channel(ChatChannelName("anon"), realtime.ChannelOptions{})
	if err != nil {
		t.Fatalf("ghost channel: %v", err)
	}
	if err := ch.Attach(ctx); err != nil {
		t.Fatalf("ghost attach: %v", err)
	}
	if err := ch.Presence().Enter(ctx, "typing", nil); err != nil {
		t.Fatalf("ghost enter: %v", err)
	}

	noEvent(t, events, 150*time.Millisecond, "typing event without clientId")
	if got := room.Typing().Current(); len(got) != 0 {
		t.Fatalf("expected empty set, got %v", got)
	}
}
