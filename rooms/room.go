package rooms

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/singleflight"

	"github.com/vovakirdan/wirechat-rooms/realtime"
)

// rollbackTimeout bounds the best-effort detaches performed while rolling
// back a partially successful attach or tearing down a released room. The
// caller's context may already be cancelled at that point.
const rollbackTimeout = 10 * time.Second

// ChatChannelName is the channel multiplexing a room's messages, presence,
// typing indicators and occupancy metrics.
func ChatChannelName(room string) string { return "room:" + room + ":chat" }

// ReactionsChannelName is the channel carrying a room's ephemeral reactions.
func ReactionsChannelName(room string) string { return "room:" + room + ":reactions" }

// Events and presence sets multiplexed over the chat channel.
const (
	chatMessageEvent  = "chat.message"
	roomReactionEvent = "room.reaction"
	presenceSetChat   = "chat"
	presenceSetTyping = "typing"
)

// Room aggregates the independently attachable chat features of one named
// room under a single lifecycle. Rooms are owned by a Registry; after
// Release the instance is dead and a fresh one must be obtained.
//
// Lifecycle transitions (attach, detach, release) are serialized by a
// per-room mutex; feature channel callbacks and listener dispatch run on a
// single monitor goroutine, so status listeners observe transitions in
// order and never concurrently.
type Room struct {
	name     string
	opts     RoomOptions
	client   realtime.Client
	log      zerolog.Logger
	channels *channelManager

	lifecycleMu sync.Mutex

	stateMu    sync.Mutex
	status     RoomStatus
	lastErr    error
	opDepth    int
	pending    []dispatchItem
	dirty      bool
	wired      map[string]bool
	sawSuspend map[string]bool
	suspendErr map[string]error

	notify      chan struct{}
	done        chan struct{}
	monitorDone chan struct{}

	statusEvents *emitter[StatusChange]
	discEvents   *emitter[DiscontinuityEvent]

	release singleflight.Group

	messagesOnce  sync.Once
	messages      *Messages
	presenceOnce  sync.Once
	presence      *Presence
	typingOnce    sync.Once
	typing        *Typing
	reactionsOnce sync.Once
	reactions     *Reactions
	occupancyOnce sync.Once
	occupancy     *Occupancy
}

// dispatchItem is one queued listener notification. Exactly one field is set.
type dispatchItem struct {
	status *StatusChange
	disc   *DiscontinuityEvent
}

func newRoom(name string, opts RoomOptions, client realtime.Client, log zerolog.Logger) *Room {
	r := &Room{
		name:        name,
		opts:        opts,
		client:      client,
		log:         log.With().Str("room", name).Logger(),
		channels:    newChannelManager(client),
		status:      StatusInitialized,
		wired:       make(map[string]bool),
		sawSuspend:  make(map[string]bool),
		suspendErr:  make(map[string]error),
		notify:      make(chan struct{}, 1),
		done:        make(chan struct{}),
		monitorDone: make(chan struct{}),
	}
	r.statusEvents = newEmitter[StatusChange](r.log)
	r.discEvents = newEmitter[DiscontinuityEvent](r.log)

	chatParams := map[string]string{}
	if opts.Occupancy.EnableEvents {
		chatParams["occupancy"] = "metrics"
	}
	// Fresh manager, merges cannot conflict.
	_ = r.channels.merge(ChatChannelName(name), chatParams)
	_ = r.channels.merge(ReactionsChannelName(name), nil)

	go r.monitor()
	return r
}

// Name returns the room's unique name.
func (r *Room) Name() string { return r.name }

// Options returns the options the room was created with.
func (r *Room) Options() RoomOptions { return r.opts }

// Status returns the current aggregated room status.
func (r *Room) Status() RoomStatus {
	r.stateMu.Lock()
	defer r.stateMu.Unlock()
	return r.status
}

// Error returns the error behind the current status, if any.
func (r *Room) Error() error {
	r.stateMu.Lock()
	defer r.stateMu.Unlock()
	return r.lastErr
}

// OnStatusChange registers fn for status transitions. Listeners run in
// registration order on the room's monitor goroutine; a panicking listener
// does not stop delivery to the others. The returned func removes the
// listener.
func (r *Room) OnStatusChange(fn func(StatusChange)) (off func()) {
	return r.statusEvents.on(fn)
}

// OffAllStatusChange removes every status listener.
func (r *Room) OffAllStatusChange() { r.statusEvents.offAll() }

// OnDiscontinuity registers fn for transport gap notifications: exactly
// one per feature channel resume from suspension.
func (r *Room) OnDiscontinuity(fn func(DiscontinuityEvent)) (off func()) {
	return r.discEvents.on(fn)
}

// Feature accessors. Features are constructed on first use; their inbound
// subscriptions are live from that point on.

// Messages returns the room's message feature.
func (r *Room) Messages() *Messages {
	r.messagesOnce.Do(func() { r.messages = newMessages(r) })
	return r.messages
}

// Presence returns the room's presence feature.
func (r *Room) Presence() *Presence {
	r.presenceOnce.Do(func() { r.presence = newPresence(r) })
	return r.presence
}

// Typing returns the room's typing indicator feature.
func (r *Room) Typing() *Typing {
	r.typingOnce.Do(func() { r.typing = newTyping(r, r.opts.Typing) })
	return r.typing
}

// Reactions returns the room's reactions feature.
func (r *Room) Reactions() *Reactions {
	r.reactionsOnce.Do(func() { r.reactions = newReactions(r) })
	return r.reactions
}

// Occupancy returns the room's occupancy feature.
func (r *Room) Occupancy() *Occupancy {
	r.occupancyOnce.Do(func() { r.occupancy = newOccupancy(r) })
	return r.occupancy
}

// Attach brings every feature channel of the room live. It is
// all-or-nothing: if any channel fails to attach, the already attached
// ones are detached again and the room ends Failed with the triggering
// error. Attaching an attached room is a no-op.
func (r *Room) Attach(ctx context.Context) error {
	switch r.Status() {
	case StatusReleasing:
		return ErrRoomReleasing
	case StatusReleased:
		return ErrRoomReleased
	}

	r.lifecycleMu.Lock()
	defer r.lifecycleMu.Unlock()
	switch r.Status() {
	case StatusAttached:
		return nil
	case StatusReleasing:
		return ErrRoomReleasing
	case StatusReleased:
		return ErrRoomReleased
	}

	r.beginOp()
	defer r.endOp()
	r.setStatus(StatusAttaching, nil)

	chans, err := r.channels.all()
	if err != nil {
		aerr := wrapError(ErrCodeAttachFailed, "room attach failed", err)
		r.setStatus(StatusFailed, aerr)
		return aerr
	}
	for _, ch := range chans {
		r.wire(ch)
	}

	var attached []realtime.Channel
	for _, ch := range chans {
		if err := ch.Attach(ctx); err != nil {
			r.rollback(attached)
			aerr := wrapError(ErrCodeAttachFailed,
				fmt.Sprintf("attach of channel %q failed", ch.Name()), err)
			r.setStatus(StatusFailed, aerr)
			return aerr
		}
		attached = append(attached, ch)
	}

	r.setStatus(StatusAttached, nil)
	return nil
}

// rollback detaches the channels attached before a later one failed, in
// reverse order, on a fresh context.
func (r *Room) rollback(attached []realtime.Channel) {
	ctx, cancel := context.WithTimeout(context.Background(), rollbackTimeout)
	defer cancel()
	for i := len(attached) - 1; i >= 0; i-- {
		if err := attached[i].Detach(ctx); err != nil {
			r.log.Warn().Err(err).Str("channel", attached[i].Name()).Msg("rollback detach failed")
		}
	}
}

// Detach takes every feature channel down. Individual failures are logged
// and do not stop the remaining detaches; the room ends Detached, or
// Failed carrying the first failure. Detaching a detached room is a no-op.
func (r *Room) Detach(ctx context.Context) error {
	switch r.Status() {
	case StatusReleasing:
		return ErrRoomReleasing
	case StatusReleased:
		return ErrRoomReleased
	}

	r.lifecycleMu.Lock()
	defer r.lifecycleMu.Unlock()
	switch r.Status() {
	case StatusDetached:
		return nil
	case StatusReleasing:
		return ErrRoomReleasing
	case StatusReleased:
		return ErrRoomReleased
	}

	r.beginOp()
	defer r.endOp()
	r.setStatus(StatusDetaching, nil)

	var firstErr error
	for _, ch := range r.channels.requested() {
		if err := ch.Detach(ctx); err != nil {
			r.log.Warn().Err(err).Str("channel", ch.Name()).Msg("detach failed")
			if firstErr == nil {
				firstErr = err
			}
		}
	}

	if firstErr != nil {
		derr := wrapError(ErrCodeDetachFailed, "room detach failed", firstErr)
		r.setStatus(StatusFailed, derr)
		return derr
	}
	r.setStatus(StatusDetached, nil)
	return nil
}

// Release tears the room down permanently. Concurrent and repeated calls
// collapse into one teardown sequence; every caller returns once the room
// is Released and all status listeners have observed the terminal state.
func (r *Room) Release(ctx context.Context) error {
	if r.Status() == StatusReleased {
		return nil
	}
	ch := r.release.DoChan("release", func() (any, error) {
		return nil, r.doRelease()
	})
	select {
	case res := <-ch:
		return res.Err
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (r *Room) doRelease() error {
	r.lifecycleMu.Lock()
	defer r.lifecycleMu.Unlock()
	if r.Status() == StatusReleased {
		return nil
	}

	r.beginOp()
	r.setStatus(StatusReleasing, nil)

	if r.typing != nil {
		r.typing.shutdown()
	}

	ctx, cancel := context.WithTimeout(context.Background(), rollbackTimeout)
	defer cancel()
	for _, ch := range r.channels.requested() {
		if err := ch.Detach(ctx); err != nil {
			r.log.Warn().Err(err).Str("channel", ch.Name()).Msg("detach during release failed")
		}
	}

	r.setStatus(StatusReleased, nil)
	r.endOp()

	close(r.done)
	<-r.monitorDone
	return nil
}

// channel materializes a managed channel and wires its state changes into
// the room's aggregation.
func (r *Room) channel(name string) (realtime.Channel, error) {
	ch, err := r.channels.get(name)
	if err != nil {
		return nil, err
	}
	r.wire(ch)
	return ch, nil
}

func (r *Room) wire(ch realtime.Channel) {
	name := ch.Name()
	r.stateMu.Lock()
	if r.wired[name] {
		r.stateMu.Unlock()
		return
	}
	r.wired[name] = true
	r.stateMu.Unlock()

	ch.OnStateChange(func(sc realtime.StateChange) {
		r.handleChannelEvent(name, sc)
	})
}

// handleChannelEvent records a feature channel transition and nudges the
// monitor. Suspensions are remembered so the attached transition that ends
// them yields exactly one discontinuity notification.
func (r *Room) handleChannelEvent(name string, sc realtime.StateChange) {
	r.stateMu.Lock()
	switch sc.Current {
	case realtime.StateSuspended:
		r.sawSuspend[name] = true
		r.suspendErr[name] = sc.Err
	case realtime.StateAttached:
		if r.sawSuspend[name] || sc.Resumed {
			cause := r.suspendErr[name]
			delete(r.sawSuspend, name)
			delete(r.suspendErr, name)
			r.pending = append(r.pending, dispatchItem{
				disc: &DiscontinuityEvent{Channel: name, Err: cause},
			})
		}
	}
	r.dirty = true
	r.notifyLocked()
	r.stateMu.Unlock()
}

func (r *Room) beginOp() {
	r.stateMu.Lock()
	r.opDepth++
	r.stateMu.Unlock()
}

func (r *Room) endOp() {
	r.stateMu.Lock()
	r.opDepth--
	r.dirty = true
	r.notifyLocked()
	r.stateMu.Unlock()
}

// setStatus records a transition and queues the listener notification.
// Dispatch happens on the monitor goroutine in transition order.
func (r *Room) setStatus(status RoomStatus, err error) {
	r.stateMu.Lock()
	if r.status == status {
		r.lastErr = err
		r.stateMu.Unlock()
		return
	}
	change := StatusChange{Previous: r.status, Current: status, Err: err}
	r.status = status
	r.lastErr = err
	r.pending = append(r.pending, dispatchItem{status: &change})
	r.notifyLocked()
	r.stateMu.Unlock()
}

func (r *Room) notifyLocked() {
	select {
	case r.notify <- struct{}{}:
	default:
	}
}

// monitor is the room's single dispatcher: it delivers queued status and
// discontinuity notifications in order and recomputes the aggregated
// status after feature channel transitions. It drains the queue one final
// time when the room is released.
func (r *Room) monitor() {
	defer close(r.monitorDone)
	for {
		select {
		case <-r.notify:
			r.flush()
		case <-r.done:
			r.flush()
			return
		}
	}
}

func (r *Room) flush() {
	for {
		r.stateMu.Lock()
		items := r.pending
		r.pending = nil
		doAgg := r.dirty && r.opDepth == 0 &&
			r.status != StatusReleasing && r.status != StatusReleased
		r.dirty = false
		r.stateMu.Unlock()

		for _, it := range items {
			switch {
			case it.status != nil:
				r.statusEvents.emit(*it.status)
			case it.disc != nil:
				r.log.Warn().Str("channel", it.disc.Channel).Err(it.disc.Err).
					Msg("discontinuity: channel resumed from suspension")
				r.discEvents.emit(*it.disc)
			}
		}

		if doAgg {
			r.aggregate()
		}

		r.stateMu.Lock()
		more := len(r.pending) > 0 || r.dirty
		r.stateMu.Unlock()
		if !more {
			return
		}
	}
}

// aggregate recomputes the room status as the worst feature channel state.
func (r *Room) aggregate() {
	chans := r.channels.requested()
	if len(chans) == 0 {
		return
	}
	states := make([]realtime.ChannelState, 0, len(chans))
	var worstErr error
	worst := realtime.StateAttached
	for _, ch := range chans {
		s := ch.State()
		states = append(states, s)
		if severity(s) > severity(worst) {
			worst = s
			worstErr = ch.ErrorReason()
		}
	}
	agg := aggregateStatus(states)

	r.stateMu.Lock()
	apply := r.opDepth == 0 &&
		r.status != StatusReleasing && r.status != StatusReleased &&
		r.status != agg
	r.stateMu.Unlock()
	if apply {
		r.setStatus(agg, worstErr)
	}
}
