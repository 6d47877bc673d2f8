package rooms

import (
	"context"
	"testing"
	"time"

	"github.com/vovakirdan/wirechat-rooms/realtime"
)

func TestPresenceEnterUpdateLeave(t *testing.T) {
	env := newTestEnv(t)
	room := env.room(t, "members", RoomOptions{})
	ctx := context.Background()
	if err := room.Attach(ctx); err != nil {
		t.Fatalf("attach: %v", err)
	}

	events := make(chan realtime.PresenceEvent, 16)
	off := room.Presence().Subscribe(func(ev realtime.PresenceEvent) { events <- ev })
	defer off()

	if err := room.Presence().Enter(ctx, map[string]any{"mood": "here"}); err != nil {
		t.Fatalf("enter: %v", err)
	}
	ev := mustEvent(t, events, "enter event")
	if ev.Action != realtime.PresenceEnter || ev.ClientID != "local" {
		t.Fatalf("unexpected event: %+v", ev)
	}
	if ev.Data["mood"] != "here" {
		t.Fatalf("enter data lost: %+v", ev.Data)
	}

	peer := env.hub.Connect("peer")
	defer peer.Close(ctx)
	ch, err := peer.Channel(ChatChannelName("members"), realtime.ChannelOptions{})
	if err != nil {
		t.Fatalf("peer channel: %v", err)
	}
	if err := ch.Attach(ctx); err != nil {
		t.Fatalf("peer attach: %v", err)
	}
	if err := ch.Presence().Enter(ctx, "chat", nil); err != nil {
		t.Fatalf("peer enter: %v", err)
	}
	ev = mustEvent(t, events, "peer enter event")
	if ev.ClientID != "peer" || ev.Action != realtime.PresenceEnter {
		t.Fatalf("unexpected event: %+v", ev)
	}

	members, err := room.Presence().Get(ctx)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if len(members) != 2 || members[0].ClientID != "local" || members[1].ClientID != "peer" {
		t.Fatalf("expected sorted members [local peer], got %+v", members)
	}

	if err := room.Presence().Update(ctx, map[string]any{"mood": "away"}); err != nil {
		t.Fatalf("update: %v", err)
	}
	ev = mustEvent(t, events, "update event")
	if ev.Action != realtime.PresenceUpdate || ev.Data["mood"] != "away" {
		t.Fatalf("unexpected event: %+v", ev)
	}

	if err := room.Presence().Leave(ctx); err != nil {
		t.Fatalf("leave: %v", err)
	}
	ev = mustEvent(t, events, "leave event")
	if ev.Action != realtime.PresenceLeave || ev.ClientID != "local" {
		t.Fatalf("unexpected event: %+v", ev)
	}

	members, err = room.Presence().Get(ctx)
	if err != nil {
		t.Fatalf("get after leave: %v", err)
	}
	if len(members) != 1 || members[0].ClientID != "peer" {
		t.Fatalf("expected [peer], got %+v", members)
	}
}

func TestPresenceIgnoresTypingSet(t *testing.T) {
	env := newTestEnv(t)
	room := env.room(t, "sets", RoomOptions{})
	ctx := context.Background()
	if err := room.Attach(ctx); err != nil {
		t.Fatalf("attach: %v", err)
	}

	events := make(chan realtime.PresenceEvent, 16)
	off := room.Presence().Subscribe(func(ev realtime.PresenceEvent) { events <- ev })
	defer off()

	// Typing indicators share the channel but live in their own set; the
	// presence feature must not see them.
	if err := room.Typing().Start(ctx); err != nil {
		t.Fatalf("typing start: %v", err)
	}
	noEvent(t, events, 150*time.Millisecond, "presence event from typing set")
}
