package rtmem

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/vovakirdan/wirechat-rooms/realtime"
)

func mustEvent[T any](t *testing.T, ch <-chan T, what string) T {
	t.Helper()
	select {
	case v := <-ch:
		return v
	case <-time.After(2 * time.Second):
		t.Fatalf("timed out waiting for %s", what)
		panic("unreachable")
	}
}

func attachedChannel(t *testing.T, conn *Conn, name string, params map[string]string) realtime.Channel {
	t.Helper()
	ch, err := conn.Channel(name, realtime.ChannelOptions{Params: params})
	if err != nil {
		t.Fatalf("channel %q: %v", name, err)
	}
	if err := ch.Attach(context.Background()); err != nil {
		t.Fatalf("attach %q: %v", name, err)
	}
	return ch
}

func TestHubFanout(t *testing.T) {
	hub := NewHub(nil)
	ctx := context.Background()

	alice := hub.Connect("alice")
	defer alice.Close(ctx)
	bob := hub.Connect("bob")
	defer bob.Close(ctx)

	chA := attachedChannel(t, alice, "fanout", nil)
	chB := attachedChannel(t, bob, "fanout", nil)

	got := make(chan *realtime.Message, 16)
	chB.Subscribe("chat.message", func(m *realtime.Message) { got <- m })
	echo := make(chan *realtime.Message, 16)
	chA.Subscribe("chat.message", func(m *realtime.Message) { echo <- m })

	stored, err := chA.Publish(ctx, "chat.message", &realtime.Message{
		Action: realtime.ActionMessageCreate,
		Data:   realtime.Data{Text: "hi"},
	})
	if err != nil {
		t.Fatalf("publish: %v", err)
	}
	if stored.Serial == "" || stored.Version == "" || stored.ClientID != "alice" {
		t.Fatalf("stored message missing identity: %+v", stored)
	}

	m := mustEvent(t, got, "message at bob")
	if m.Serial != stored.Serial || m.Data.Text != "hi" {
		t.Fatalf("bob got %+v, want serial %q", m, stored.Serial)
	}
	// The publisher hears its own publish too.
	m = mustEvent(t, echo, "echo at alice")
	if m.Serial != stored.Serial {
		t.Fatalf("alice got %+v, want serial %q", m, stored.Serial)
	}

	// Serials from one channel are strictly increasing.
	second, err := chA.Publish(ctx, "chat.message", &realtime.Message{
		Action: realtime.ActionMessageCreate,
		Data:   realtime.Data{Text: "again"},
	})
	if err != nil {
		t.Fatalf("second publish: %v", err)
	}
	if second.Serial <= stored.Serial {
		t.Fatalf("serials not increasing: %q then %q", stored.Serial, second.Serial)
	}
}

func TestHubUpdateBumpsVersion(t *testing.T) {
	hub := NewHub(nil)
	ctx := context.Background()
	conn := hub.Connect("alice")
	defer conn.Close(ctx)
	ch := attachedChannel(t, conn, "versions", nil)

	created, err := ch.Publish(ctx, "chat.message", &realtime.Message{
		Action: realtime.ActionMessageCreate,
		Data:   realtime.Data{Text: "v1"},
	})
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	updated, err := ch.Publish(ctx, "chat.message", &realtime.Message{
		Serial: created.Serial,
		Action: realtime.ActionMessageUpdate,
		Data:   realtime.Data{Text: "v2"},
	})
	if err != nil {
		t.Fatalf("update: %v", err)
	}
	if updated.Serial != created.Serial {
		t.Fatalf("update changed serial: %q to %q", created.Serial, updated.Serial)
	}
	if updated.Version <= created.Version {
		t.Fatalf("version not bumped: %q then %q", created.Version, updated.Version)
	}
	if !updated.CreatedAt.Equal(created.CreatedAt) {
		t.Fatalf("update changed createdAt: %v to %v", created.CreatedAt, updated.CreatedAt)
	}

	// Updates of unknown serials are rejected.
	if _, err := ch.Publish(ctx, "chat.message", &realtime.Message{
		Serial: "nope@1-1",
		Action: realtime.ActionMessageUpdate,
	}); err == nil {
		t.Fatal("expected update of unknown serial to fail")
	}
}

func TestHubHistoryPaging(t *testing.T) {
	hub := NewHub(nil)
	ctx := context.Background()
	conn := hub.Connect("alice")
	defer conn.Close(ctx)
	ch := attachedChannel(t, conn, "history", nil)

	serials := make([]string, 0, 5)
	for i := 0; i < 5; i++ {
		stored, err := ch.Publish(ctx, "chat.message", &realtime.Message{
			Action: realtime.ActionMessageCreate,
			Data:   realtime.Data{Text: fmt.Sprintf("m%d", i)},
		})
		if err != nil {
			t.Fatalf("publish %d: %v", i, err)
		}
		serials = append(serials, stored.Serial)
	}

	// Latest page, newest first.
	page, err := ch.History(ctx, realtime.HistoryQuery{Limit: 2})
	if err != nil {
		t.Fatalf("history: %v", err)
	}
	if len(page) != 2 || page[0].Serial != serials[4] || page[1].Serial != serials[3] {
		t.Fatalf("unexpected latest page: %+v", page)
	}

	// Page before an explicit boundary, exclusive.
	page, err = ch.History(ctx, realtime.HistoryQuery{Before: serials[3], Limit: 10})
	if err != nil {
		t.Fatalf("history before: %v", err)
	}
	if len(page) != 3 || page[0].Serial != serials[2] || page[2].Serial != serials[0] {
		t.Fatalf("unexpected bounded page: %+v", page)
	}

	if _, err := ch.History(ctx, realtime.HistoryQuery{Before: "missing@1-1"}); err == nil {
		t.Fatal("expected unknown boundary to fail")
	}
}

func TestHubPresenceSets(t *testing.T) {
	hub := NewHub(nil)
	ctx := context.Background()
	alice := hub.Connect("alice")
	defer alice.Close(ctx)
	bob := hub.Connect("bob")
	defer bob.Close(ctx)

	chA := attachedChannel(t, alice, "presence", nil)
	chB := attachedChannel(t, bob, "presence", nil)

	chatEvents := make(chan realtime.PresenceEvent, 16)
	chB.Presence().Subscribe("chat", func(ev realtime.PresenceEvent) { chatEvents <- ev })

	if err := chA.Presence().Enter(ctx, "chat", map[string]any{"k": "v"}); err != nil {
		t.Fatalf("enter chat: %v", err)
	}
	ev := mustEvent(t, chatEvents, "chat enter")
	if ev.ClientID != "alice" || ev.Action != realtime.PresenceEnter || ev.Set != "chat" {
		t.Fatalf("unexpected event: %+v", ev)
	}

	// Sets are independent: entering "typing" is invisible to "chat"
	// subscribers and to "chat" queries.
	if err := chA.Presence().Enter(ctx, "typing", nil); err != nil {
		t.Fatalf("enter typing: %v", err)
	}
	select {
	case ev := <-chatEvents:
		t.Fatalf("typing enter leaked to chat subscriber: %+v", ev)
	case <-time.After(100 * time.Millisecond):
	}

	members, err := chB.Presence().Get(ctx, "chat")
	if err != nil {
		t.Fatalf("get chat: %v", err)
	}
	if len(members) != 1 || members[0].ClientID != "alice" {
		t.Fatalf("unexpected chat members: %+v", members)
	}

	// Leaving a set you never entered is a no-op and emits nothing.
	if err := chB.Presence().Leave(ctx, "chat"); err != nil {
		t.Fatalf("leave: %v", err)
	}
	select {
	case ev := <-chatEvents:
		t.Fatalf("no-op leave emitted %+v", ev)
	case <-time.After(100 * time.Millisecond):
	}
}

func TestHubOptionFreeze(t *testing.T) {
	hub := NewHub(nil)
	ctx := context.Background()
	alice := hub.Connect("alice")
	defer alice.Close(ctx)
	bob := hub.Connect("bob")
	defer bob.Close(ctx)

	attachedChannel(t, alice, "frozen", map[string]string{"occupancy": "metrics"})

	// A conflicting param value is rejected.
	if _, err := bob.Channel("frozen", realtime.ChannelOptions{
		Params: map[string]string{"occupancy": "none"},
	}); err == nil {
		t.Fatal("expected conflicting params to fail")
	}

	// A brand-new param after the first attach is rejected too.
	if _, err := bob.Channel("frozen", realtime.ChannelOptions{
		Params: map[string]string{"rewind": "10"},
	}); err == nil {
		t.Fatal("expected new param after attach to fail")
	}

	// Agreeing params are fine.
	if _, err := bob.Channel("frozen", realtime.ChannelOptions{
		Params: map[string]string{"occupancy": "metrics"},
	}); err != nil {
		t.Fatalf("agreeing params: %v", err)
	}
}

func TestHubFailAttachAndRecovery(t *testing.T) {
	hub := NewHub(nil)
	ctx := context.Background()
	conn := hub.Connect("alice")
	defer conn.Close(ctx)

	boom := errors.New("backend down")
	hub.FailAttach("flaky", boom)

	ch, err := conn.Channel("flaky", realtime.ChannelOptions{})
	if err != nil {
		t.Fatalf("channel: %v", err)
	}
	if err := ch.Attach(ctx); !errors.Is(err, boom) {
		t.Fatalf("expected injected failure, got %v", err)
	}
	if ch.State() != realtime.StateFailed {
		t.Fatalf("expected Failed, got %v", ch.State())
	}
	if !errors.Is(ch.ErrorReason(), boom) {
		t.Fatalf("expected reason %v, got %v", boom, ch.ErrorReason())
	}

	hub.ClearFailAttach("flaky")
	if err := ch.Attach(ctx); err != nil {
		t.Fatalf("attach after clear: %v", err)
	}
	if ch.State() != realtime.StateAttached {
		t.Fatalf("expected Attached, got %v", ch.State())
	}
}

func TestHubSuspendResume(t *testing.T) {
	hub := NewHub(nil)
	ctx := context.Background()
	conn := hub.Connect("alice")
	defer conn.Close(ctx)
	ch := attachedChannel(t, conn, "wobbly", nil)

	changes := make(chan realtime.StateChange, 16)
	ch.OnStateChange(func(sc realtime.StateChange) { changes <- sc })

	cause := errors.New("network blip")
	hub.Suspend("wobbly", cause)
	sc := mustEvent(t, changes, "suspend")
	if sc.Current != realtime.StateSuspended || !errors.Is(sc.Err, cause) {
		t.Fatalf("unexpected transition: %+v", sc)
	}

	hub.Resume("wobbly")
	sc = mustEvent(t, changes, "attaching")
	if sc.Current != realtime.StateAttaching {
		t.Fatalf("unexpected transition: %+v", sc)
	}
	sc = mustEvent(t, changes, "attached")
	if sc.Current != realtime.StateAttached || !sc.Resumed {
		t.Fatalf("expected resumed attach, got %+v", sc)
	}

	// Resuming an already attached channel does nothing.
	hub.Resume("wobbly")
	select {
	case sc := <-changes:
		t.Fatalf("unexpected transition: %+v", sc)
	case <-time.After(100 * time.Millisecond):
	}
}
