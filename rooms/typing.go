package rooms

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/vovakirdan/wirechat-rooms/realtime"
)

// stopPublishTimeout bounds the typing-stop publish fired by timer expiry,
// which has no caller context.
const stopPublishTimeout = 5 * time.Second

// TypingEvent notifies listeners of one typing transition: who changed,
// in which direction, and the full set of currently typing clients after
// the change.
type TypingEvent struct {
	// ClientID is the client that started or stopped typing.
	ClientID string
	// Typing is true for a start, false for a stop.
	Typing bool
	// Currently is the sorted set of typing clients after the transition.
	Currently []string
}

// Typing is the typing indicator feature. The local client's indicator is
// debounced: Start arms a timer for the configured timeout, repeated Start
// calls re-arm it without publishing again, and expiry publishes the stop.
// A generation counter guards re-arms against stale timer fires.
type Typing struct {
	featureChannel
	opts   TypingOptions
	events *emitter[TypingEvent]

	mu     sync.Mutex
	typing map[string]struct{}
	active bool
	gen    uint64
	timer  *time.Timer
}

func newTyping(r *Room, opts TypingOptions) *Typing {
	if opts.Timeout == 0 {
		opts.Timeout = DefaultTypingTimeout
	}
	t := &Typing{
		featureChannel: featureChannel{room: r, name: ChatChannelName(r.name)},
		opts:           opts,
		events:         newEmitter[TypingEvent](r.log),
		typing:         make(map[string]struct{}),
	}
	ch, err := r.channel(t.name)
	if err != nil {
		r.log.Error().Err(err).Msg("typing: channel unavailable")
		return t
	}
	ch.Presence().Subscribe(presenceSetTyping, t.handlePresence)
	return t
}

// handlePresence folds inbound typing presence into the room-scoped set.
// Entries without a clientId are dropped with a logged error, never
// crashing the pipeline.
func (t *Typing) handlePresence(ev realtime.PresenceEvent) {
	if ev.ClientID == "" {
		t.room.log.Error().Str("set", presenceSetTyping).Msg("dropping presence event without clientId")
		return
	}

	t.mu.Lock()
	var changed bool
	started := ev.Action != realtime.PresenceLeave
	if started {
		if _, ok := t.typing[ev.ClientID]; !ok {
			t.typing[ev.ClientID] = struct{}{}
			changed = true
		}
	} else {
		if _, ok := t.typing[ev.ClientID]; ok {
			delete(t.typing, ev.ClientID)
			changed = true
		}
	}
	var snapshot []string
	if changed {
		snapshot = t.snapshotLocked()
	}
	t.mu.Unlock()

	if changed {
		t.events.emit(TypingEvent{ClientID: ev.ClientID, Typing: started, Currently: snapshot})
	}
}

func (t *Typing) snapshotLocked() []string {
	out := make([]string, 0, len(t.typing))
	for id := range t.typing {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

// Subscribe registers fn for typing transitions. The returned func removes
// the subscription.
func (t *Typing) Subscribe(fn func(TypingEvent)) (off func()) {
	return t.events.on(fn)
}

// Current returns the sorted set of clients currently typing.
func (t *Typing) Current() []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.snapshotLocked()
}

// Start marks the local client as typing. The first call of a cycle
// publishes the start event and arms the debounce timer; calls while
// already typing only re-arm the timer, suppressing event storms from
// rapid keystrokes. If the publish fails the state stays idle.
func (t *Typing) Start(ctx context.Context) error {
	t.mu.Lock()
	if t.active {
		t.rearmLocked()
		t.mu.Unlock()
		return nil
	}
	t.mu.Unlock()

	ch, err := t.room.channel(t.name)
	if err != nil {
		return err
	}
	if err := ch.Presence().Enter(ctx, presenceSetTyping, nil); err != nil {
		return wrapError(ErrCodeTransport, "typing start failed", err)
	}

	t.mu.Lock()
	t.active = true
	t.rearmLocked()
	t.mu.Unlock()
	return nil
}

// Stop ends the local typing cycle: cancels the timer and publishes the
// stop event. Stopping while idle is a no-op.
func (t *Typing) Stop(ctx context.Context) error {
	t.mu.Lock()
	if !t.active {
		t.mu.Unlock()
		return nil
	}
	t.disarmLocked()
	t.mu.Unlock()

	return t.publishStop(ctx)
}

// rearmLocked cancels any outstanding timer and arms a fresh one. The
// generation bump invalidates a timer that already fired but has not yet
// taken the lock.
func (t *Typing) rearmLocked() {
	t.gen++
	if t.timer != nil {
		t.timer.Stop()
	}
	gen := t.gen
	t.timer = time.AfterFunc(t.opts.Timeout, func() { t.expire(gen) })
}

func (t *Typing) disarmLocked() {
	t.gen++
	if t.timer != nil {
		t.timer.Stop()
		t.timer = nil
	}
	t.active = false
}

// expire is the timer callback: an internally triggered Stop. A fire from
// a cycle that was already re-armed or stopped is discarded.
func (t *Typing) expire(gen uint64) {
	t.mu.Lock()
	if !t.active || gen != t.gen {
		t.mu.Unlock()
		return
	}
	t.disarmLocked()
	t.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), stopPublishTimeout)
	defer cancel()
	if err := t.publishStop(ctx); err != nil {
		t.room.log.Warn().Err(err).Msg("typing stop on expiry failed")
	}
}

func (t *Typing) publishStop(ctx context.Context) error {
	ch, err := t.room.channel(t.name)
	if err != nil {
		return err
	}
	if err := ch.Presence().Leave(ctx, presenceSetTyping); err != nil {
		return wrapError(ErrCodeTransport, "typing stop failed", err)
	}
	return nil
}

// shutdown cancels the debounce timer without publishing. Called on room
// release; timers must cancel cleanly without side effects.
func (t *Typing) shutdown() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.active {
		t.disarmLocked()
	}
}
