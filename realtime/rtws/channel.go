package rtws

import (
	"context"
	"encoding/json"
	"errors"
	"sync"

	"github.com/vovakirdan/wirechat-rooms/internal/wsproto"
	"github.com/vovakirdan/wirechat-rooms/realtime"
)

// channelQueueSize bounds the per-channel inbound queue; slow consumers
// drop events rather than stalling the read loop.
const channelQueueSize = 256

// Channel is the client-side handle of one server channel.
type Channel struct {
	client *Client
	name   string
	params map[string]string

	frames chan *wsproto.Response
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

func newChannel(c *Client, name string, params map[string]string) *Channel {
	frozen := make(map[string]string, len(params))
	for k, v := range params {
		frozen[k] = v
	}
	ch := &Channel{
		client:  c,
		name:    name,
		params:  frozen,
		frames:  make(chan *wsproto.Response, channelQueueSize),
		quit:    make(chan struct{}),
		state:   realtime.StateInitialized,
		msgSubs: make(map[string][]msgSub),
	}
	go ch.dispatch()
	return ch
}

// handleFrame enqueues an unsolicited frame for this channel. State frames
// are applied inline so lifecycle consumers observe transitions in the
// order the server sent them, ahead of any queued data events.
func (ch *Channel) handleFrame(resp *wsproto.Response) {
	if resp.Type == wsproto.TypeState {
		var data wsproto.StateData
		if err := json.Unmarshal(resp.Data, &data); err != nil {
			ch.client.log.Warn().Err(err).Str("channel", ch.name).Msg("bad state frame")
			return
		}
		var reason error
		if data.Reason != "" {
			reason = errors.New(data.Reason)
		}
		ch.setState(stateFromString(data.State), reason, data.Resumed)
		return
	}
	select {
	case ch.frames <- resp:
	default:
		ch.client.log.Warn().Str("channel", ch.name).Msg("dropping frame for slow channel")
	}
}

func (ch *Channel) dispatch() {
	for {
		select {
		case resp := <-ch.frames:
			ch.deliver(resp)
		case <-ch.quit:
			return
		}
	}
}

func (ch *Channel) deliver(resp *wsproto.Response) {
	switch resp.Type {
	case wsproto.TypeEvent:
		var msg realtime.Message
		if err := json.Unmarshal(resp.Data, &msg); err != nil {
			ch.client.log.Warn().Err(err).Str("channel", ch.name).Msg("bad event frame")
			return
		}
		ch.mu.Lock()
		fns := make([]realtime.MessageFunc, 0, len(ch.msgSubs[resp.Event]))
		for _, s := range ch.msgSubs[resp.Event] {
			fns = append(fns, s.fn)
		}
		ch.mu.Unlock()
		for _, fn := range fns {
			cp := msg
			fn(&cp)
		}
	case wsproto.TypePresEvent:
		var ev realtime.PresenceEvent
		if err := json.Unmarshal(resp.Data, &ev); err != nil {
			ch.client.log.Warn().Err(err).Str("channel", ch.name).Msg("bad presence frame")
			return
		}
		ch.mu.Lock()
		fns := make([]realtime.PresenceFunc, 0, len(ch.presSubs))
		for _, s := range ch.presSubs {
			if s.set == ev.Set {
				fns = append(fns, s.fn)
			}
		}
		ch.mu.Unlock()
		for _, fn := range fns {
			fn(ev)
		}
	case wsproto.TypeOccupancy:
		var ev realtime.OccupancyEvent
		if err := json.Unmarshal(resp.Data, &ev); err != nil {
			ch.client.log.Warn().Err(err).Str("channel", ch.name).Msg("bad occupancy frame")
			return
		}
		ch.mu.Lock()
		fns := make([]realtime.OccupancyFunc, 0, len(ch.occSubs))
		for _, s := range ch.occSubs {
			fns = append(fns, s.fn)
		}
		ch.mu.Unlock()
		for _, fn := range fns {
			fn(ev)
		}
	default:
		ch.client.log.Warn().Str("type", resp.Type).Str("channel", ch.name).Msg("unexpected frame type")
	}
}

func (ch *Channel) stop() {
	ch.once.Do(func() { close(ch.quit) })
}

func (ch *Channel) setState(s realtime.ChannelState, err error, resumed bool) {
	ch.mu.Lock()
	prev := ch.state
	ch.state = s
	ch.reason = err
	subs := make([]stateSub, len(ch.stateSubs))
	copy(subs, ch.stateSubs)
	ch.mu.Unlock()

	change := realtime.StateChange{Previous: prev, Current: s, Err: err, Resumed: resumed}
	for _, sub := range subs {
		sub.fn(change)
	}
}

// Name implements realtime.Channel.
func (ch *Channel) Name() string { return ch.name }

// State implements realtime.Channel.
func (ch *Channel) State() realtime.ChannelState {
	ch.mu.Lock()
	defer ch.mu.Unlock()
	return ch.state
}

// ErrorReason implements realtime.Channel.
func (ch *Channel) ErrorReason() error {
	ch.mu.Lock()
	defer ch.mu.Unlock()
	return ch.reason
}

// Attach implements realtime.Channel.
func (ch *Channel) Attach(ctx context.Context) error {
	if ch.State() == realtime.StateAttached {
		return nil
	}
	ch.setState(realtime.StateAttaching, nil, false)

	data, err := json.Marshal(wsproto.AttachData{Params: ch.params})
	if err != nil {
		ch.setState(realtime.StateFailed, err, false)
		return err
	}
	if _, err := ch.client.request(ctx, &wsproto.Request{
		Type:    wsproto.TypeAttach,
		Channel: ch.name,
		Data:    data,
	}); err != nil {
		ch.setState(realtime.StateFailed, err, false)
		return err
	}
	ch.setState(realtime.StateAttached, nil, false)
	return nil
}

// Detach implements realtime.Channel.
func (ch *Channel) Detach(ctx context.Context) error {
	if ch.State() == realtime.StateDetached {
		return nil
	}
	ch.setState(realtime.StateDetaching, nil, false)

	if _, err := ch.client.request(ctx, &wsproto.Request{
		Type:    wsproto.TypeDetach,
		Channel: ch.name,
	}); err != nil {
		ch.setState(realtime.StateFailed, err, false)
		return err
	}
	ch.setState(realtime.StateDetached, nil, false)
	return nil
}

// Publish implements realtime.Channel.
func (ch *Channel) Publish(ctx context.Context, event string, msg *realtime.Message) (*realtime.Message, error) {
	data, err := json.Marshal(wsproto.PublishData{Event: event, Message: *msg})
	if err != nil {
		return nil, err
	}
	resp, err := ch.client.request(ctx, &wsproto.Request{
		Type:    wsproto.TypePublish,
		Channel: ch.name,
		Data:    data,
	})
	if err != nil {
		return nil, err
	}
	var stored realtime.Message
	if err := json.Unmarshal(resp.Data, &stored); err != nil {
		return nil, err
	}
	return &stored, nil
}

// Subscribe implements realtime.Channel.
func (ch *Channel) Subscribe(event string, fn realtime.MessageFunc) func() {
	ch.mu.Lock()
	ch.nextSub++
	id := ch.nextSub
	ch.msgSubs[event] = append(ch.msgSubs[event], msgSub{id: id, fn: fn})
	ch.mu.Unlock()

	return func() {
		ch.mu.Lock()
		defer ch.mu.Unlock()
		subs := ch.msgSubs[event]
		for i, s := range subs {
			if s.id == id {
				ch.msgSubs[event] = append(subs[:i], subs[i+1:]...)
				return
			}
		}
	}
}

// History implements realtime.Channel.
func (ch *Channel) History(ctx context.Context, q realtime.HistoryQuery) ([]*realtime.Message, error) {
	data, err := json.Marshal(wsproto.HistoryData{Before: q.Before, Limit: q.Limit})
	if err != nil {
		return nil, err
	}
	resp, err := ch.client.request(ctx, &wsproto.Request{
		Type:    wsproto.TypeHistory,
		Channel: ch.name,
		Data:    data,
	})
	if err != nil {
		return nil, err
	}
	var result wsproto.HistoryResult
	if err := json.Unmarshal(resp.Data, &result); err != nil {
		return nil, err
	}
	return result.Messages, nil
}

// OnStateChange implements realtime.Channel.
func (ch *Channel) OnStateChange(fn realtime.StateFunc) func() {
	ch.mu.Lock()
	ch.nextSub++
	id := ch.nextSub
	ch.stateSubs = append(ch.stateSubs, stateSub{id: id, fn: fn})
	ch.mu.Unlock()

	return func() {
		ch.mu.Lock()
		defer ch.mu.Unlock()
		for i, s := range ch.stateSubs {
			if s.id == id {
				ch.stateSubs = append(ch.stateSubs[:i], ch.stateSubs[i+1:]...)
				return
			}
		}
	}
}

// OnOccupancy implements realtime.Channel.
func (ch *Channel) OnOccupancy(fn realtime.OccupancyFunc) func() {
	ch.mu.Lock()
	ch.nextSub++
	id := ch.nextSub
	ch.occSubs = append(ch.occSubs, occSub{id: id, fn: fn})
	ch.mu.Unlock()

	return func() {
		ch.mu.Lock()
		defer ch.mu.Unlock()
		for i, s := range ch.occSubs {
			if s.id == id {
				ch.occSubs = append(ch.occSubs[:i], ch.occSubs[i+1:]...)
				return
			}
		}
	}
}

// Presence implements realtime.Channel.
func (ch *Channel) Presence() realtime.Presence {
	return &presenceHandle{ch: ch}
}

func stateFromString(s string) realtime.ChannelState {
	switch s {
	case "attaching":
		return realtime.StateAttaching
	case "attached":
		return realtime.StateAttached
	case "detaching":
		return realtime.StateDetaching
	case "detached":
		return realtime.StateDetached
	case "suspended":
		return realtime.StateSuspended
	case "failed":
		return realtime.StateFailed
	default:
		return realtime.StateInitialized
	}
}
