package rtmem

import (
	"context"
	"fmt"
	"sync"

	"github.com/vovakirdan/wirechat-rooms/realtime"
)

// handleQueueSize bounds the per-handle event queue. Slow consumers drop
// events rather than stalling the hub.
const handleQueueSize = 256

// hubEvent is the union of everything a handle can receive from the hub.
type hubEvent struct {
	event string
	msg   *realtime.Message
	pres  *realtime.PresenceEvent
	occ   *realtime.OccupancyEvent
}

type msgSub struct {
	id int
	fn realtime.MessageFunc
}

type presSub struct {
	id  int
	set string
	fn  realtime.PresenceFunc
}

type occSub struct {
	id int
	fn realtime.OccupancyFunc
}

type stateSub struct {
	id int
	fn realtime.StateFunc
}

// ChannelHandle is one connection's view of a hub channel. Message,
// presence and occupancy events are delivered on a dedicated goroutine so
// a subscriber publishing from its own callback cannot deadlock the hub.
type ChannelHandle struct {
	conn   *Conn
	name   string
	params map[string]string

	events chan hubEvent
	quit   chan struct{}
	once   sync.Once

	mu        sync.Mutex
	state     realtime.ChannelState
	reason    error
	nextSub   int
	msgSubs   map[string][]msgSub
	presSubs  []presSub
	occSubs   []occSub
	stateSubs []stateSub
}

func newChannelHandle(conn *Conn, name string, params map[string]string) *ChannelHandle {
	frozen := make(map[string]string, len(params))
	for k, v := range params {
		frozen[k] = v
	}
	hd := &ChannelHandle{
		conn:    conn,
		name:    name,
		params:  frozen,
		events:  make(chan hubEvent, handleQueueSize),
		quit:    make(chan struct{}),
		state:   realtime.StateInitialized,
		msgSubs: make(map[string][]msgSub),
	}
	go hd.dispatch()
	return hd
}

func (hd *ChannelHandle) dispatch() {
	for {
		select {
		case ev := <-hd.events:
			hd.deliver(ev)
		case <-hd.quit:
			return
		}
	}
}

func (hd *ChannelHandle) deliver(ev hubEvent) {
	hd.mu.Lock()
	var msgFns []realtime.MessageFunc
	var presFns []realtime.PresenceFunc
	var occFns []realtime.OccupancyFunc
	switch {
	case ev.msg != nil:
		for _, s := range hd.msgSubs[ev.event] {
			msgFns = append(msgFns, s.fn)
		}
	case ev.pres != nil:
		for _, s := range hd.presSubs {
			if s.set == ev.pres.Set {
				presFns = append(presFns, s.fn)
			}
		}
	case ev.occ != nil:
		for _, s := range hd.occSubs {
			occFns = append(occFns, s.fn)
		}
	}
	hd.mu.Unlock()

	for _, fn := range msgFns {
		cp := *ev.msg
		fn(&cp)
	}
	for _, fn := range presFns {
		fn(*ev.pres)
	}
	for _, fn := range occFns {
		fn(*ev.occ)
	}
}

func (hd *ChannelHandle) enqueue(ev hubEvent) {
	select {
	case hd.events <- ev:
	default:
		hd.conn.hub.log.Warn().Str("channel", hd.name).Msg("dropping event for slow handle")
	}
}

func (hd *ChannelHandle) stop() {
	hd.once.Do(func() { close(hd.quit) })
}

// Name implements realtime.Channel.
func (hd *ChannelHandle) Name() string { return hd.name }

// State implements realtime.Channel.
func (hd *ChannelHandle) State() realtime.ChannelState {
	hd.mu.Lock()
	defer hd.mu.Unlock()
	return hd.state
}

// ErrorReason implements realtime.Channel.
func (hd *ChannelHandle) ErrorReason() error {
	hd.mu.Lock()
	defer hd.mu.Unlock()
	return hd.reason
}

// setState records a transition and notifies state listeners synchronously,
// preserving transition order for consumers.
func (hd *ChannelHandle) setState(s realtime.ChannelState, err error, resumed bool) {
	hd.mu.Lock()
	prev := hd.state
	hd.state = s
	hd.reason = err
	subs := make([]stateSub, len(hd.stateSubs))
	copy(subs, hd.stateSubs)
	hd.mu.Unlock()

	change := realtime.StateChange{Previous: prev, Current: s, Err: err, Resumed: resumed}
	for _, sub := range subs {
		sub.fn(change)
	}
}

// Attach implements realtime.Channel. Registers the handle with the hub
// channel so broadcasts reach it.
func (hd *ChannelHandle) Attach(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if hd.State() == realtime.StateAttached {
		return nil
	}
	hd.setState(realtime.StateAttaching, nil, false)

	hub := hd.conn.hub
	hub.mu.Lock()
	if err := hub.failAttach[hd.name]; err != nil {
		hub.mu.Unlock()
		hd.setState(realtime.StateFailed, err, false)
		return err
	}
	core, err := hub.ensureChannel(hd.name, hd.params)
	if err != nil {
		hub.mu.Unlock()
		hd.setState(realtime.StateFailed, err, false)
		return err
	}
	core.handles[hd] = struct{}{}
	hub.broadcastOccupancyLocked(core)
	hub.mu.Unlock()

	hd.setState(realtime.StateAttached, nil, false)
	return nil
}

// Detach implements realtime.Channel.
func (hd *ChannelHandle) Detach(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if hd.State() == realtime.StateDetached {
		return nil
	}
	hd.setState(realtime.StateDetaching, nil, false)

	hub := hd.conn.hub
	hub.mu.Lock()
	if core, ok := hub.channels[hd.name]; ok {
		delete(core.handles, hd)
		hub.broadcastOccupancyLocked(core)
	}
	hub.mu.Unlock()

	hd.setState(realtime.StateDetached, nil, false)
	return nil
}

// Publish implements realtime.Channel. The hub assigns identity fields and
// echoes the stored message to every attached handle, the publisher included.
func (hd *ChannelHandle) Publish(ctx context.Context, event string, msg *realtime.Message) (*realtime.Message, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	hub := hd.conn.hub
	hub.mu.Lock()
	core, err := hub.ensureChannel(hd.name, hd.params)
	if err != nil {
		hub.mu.Unlock()
		return nil, err
	}
	stored, err := core.mint(msg, hd.conn.clientID)
	if err != nil {
		hub.mu.Unlock()
		return nil, err
	}
	core.appendHistory(stored)
	hub.broadcastLocked(core, hubEvent{event: event, msg: stored})
	hub.mu.Unlock()

	out := *stored
	return &out, nil
}

// Subscribe implements realtime.Channel.
func (hd *ChannelHandle) Subscribe(event string, fn realtime.MessageFunc) func() {
	hd.mu.Lock()
	hd.nextSub++
	id := hd.nextSub
	hd.msgSubs[event] = append(hd.msgSubs[event], msgSub{id: id, fn: fn})
	hd.mu.Unlock()

	return func() {
		hd.mu.Lock()
		defer hd.mu.Unlock()
		subs := hd.msgSubs[event]
		for i, s := range subs {
			if s.id == id {
				hd.msgSubs[event] = append(subs[:i], subs[i+1:]...)
				return
			}
		}
	}
}

// History implements realtime.Channel: newest-first page of events older
// than q.Before.
func (hd *ChannelHandle) History(ctx context.Context, q realtime.HistoryQuery) ([]*realtime.Message, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	limit := q.Limit
	if limit <= 0 {
		limit = defaultPageLimit
	}

	hub := hd.conn.hub
	hub.mu.Lock()
	defer hub.mu.Unlock()
	core, ok := hub.channels[hd.name]
	if !ok {
		return nil, nil
	}

	end := len(core.history)
	if q.Before != "" {
		end = -1
		for i, m := range core.history {
			if m.Serial == q.Before {
				end = i
				break
			}
		}
		if end < 0 {
			return nil, fmt.Errorf("rtmem: unknown history boundary %q", q.Before)
		}
	}

	start := end - limit
	if start < 0 {
		start = 0
	}
	page := make([]*realtime.Message, 0, end-start)
	for i := end - 1; i >= start; i-- {
		cp := *core.history[i]
		page = append(page, &cp)
	}
	return page, nil
}

// OnStateChange implements realtime.Channel.
func (hd *ChannelHandle) OnStateChange(fn realtime.StateFunc) func() {
	hd.mu.Lock()
	hd.nextSub++
	id := hd.nextSub
	hd.stateSubs = append(hd.stateSubs, stateSub{id: id, fn: fn})
	hd.mu.Unlock()

	return func() {
		hd.mu.Lock()
		defer hd.mu.Unlock()
		for i, s := range hd.stateSubs {
			if s.id == id {
				hd.stateSubs = append(hd.stateSubs[:i], hd.stateSubs[i+1:]...)
				return
			}
		}
	}
}

// OnOccupancy implements realtime.Channel.
func (hd *ChannelHandle) OnOccupancy(fn realtime.OccupancyFunc) func() {
	hd.mu.Lock()
	hd.nextSub++
	id := hd.nextSub
	hd.occSubs = append(hd.occSubs, occSub{id: id, fn: fn})
	hd.mu.Unlock()

	return func() {
		hd.mu.Lock()
		defer hd.mu.Unlock()
		for i, s := range hd.occSubs {
			if s.id == id {
				hd.occSubs = append(hd.occSubs[:i], hd.occSubs[i+1:]...)
				return
			}
		}
	}
}

// Presence implements realtime.Channel.
func (hd *ChannelHandle) Presence() realtime.Presence {
	return &presenceHandle{hd: hd}
}
