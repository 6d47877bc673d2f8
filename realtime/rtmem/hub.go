// Package rtmem is an in-process realtime transport: a loopback hub that
// fans events out to every attached handle of a channel. It backs the SDK
// test suite and the demo binary's offline mode.
package rtmem

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/rs/zerolog"

	"github.com/vovakirdan/wirechat-rooms/realtime"
)

const (
	defaultHistoryLimit = 256
	defaultPageLimit    = 50
)

// Hub owns every channel and presence set. All state mutations happen
// under hub.mu; event delivery to handles is asynchronous per handle.
type Hub struct {
	log zerolog.Logger

	mu         sync.Mutex
	channels   map[string]*channelCore
	failAttach map[string]error
}

type serialMeta struct {
	version   int
	createdAt time.Time
}

type channelCore struct {
	name    string
	series  string
	counter int
	params  map[string]string

	history []*realtime.Message
	meta    map[string]*serialMeta

	handles  map[*ChannelHandle]struct{}
	presence map[string]map[string]realtime.Member
}

// NewHub constructs an empty hub. A nil logger disables logging.
func NewHub(logger *zerolog.Logger) *Hub {
	log := zerolog.Nop()
	if logger != nil {
		log = *logger
	}
	return &Hub{
		log:        log,
		channels:   make(map[string]*channelCore),
		failAttach: make(map[string]error),
	}
}

// FailAttach makes every subsequent attach of name fail with err until
// ClearFailAttach is called. Used to exercise attach rollback paths.
func (h *Hub) FailAttach(name string, err error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.failAttach[name] = err
}

// ClearFailAttach removes a previously injected attach failure.
func (h *Hub) ClearFailAttach(name string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.failAttach, name)
}

// Suspend moves every attached handle of name into the suspended state,
// as a transport interruption would.
func (h *Hub) Suspend(name string, err error) {
	h.mu.Lock()
	core := h.channels[name]
	var handles []*ChannelHandle
	if core != nil {
		for hd := range core.handles {
			handles = append(handles, hd)
		}
	}
	h.mu.Unlock()

	for _, hd := range handles {
		hd.setState(realtime.StateSuspended, err, false)
	}
}

// Resume re-attaches every suspended handle of name, flagging the attach
// as a resume so consumers can detect the discontinuity.
func (h *Hub) Resume(name string) {
	h.mu.Lock()
	core := h.channels[name]
	var handles []*ChannelHandle
	if core != nil {
		for hd := range core.handles {
			handles = append(handles, hd)
		}
	}
	h.mu.Unlock()

	for _, hd := range handles {
		if hd.State() != realtime.StateSuspended {
			continue
		}
		hd.setState(realtime.StateAttaching, nil, false)
		hd.setState(realtime.StateAttached, nil, true)
	}
}

// ensureChannel returns the core for name, creating it on first request.
// Params conflicting with the stored set are a configuration error: the
// set is frozen by whoever requested the channel first.
func (h *Hub) ensureChannel(name string, params map[string]string) (*channelCore, error) {
	core, ok := h.channels[name]
	if !ok {
		core = &channelCore{
			name:     name,
			series:   ulid.Make().String(),
			params:   make(map[string]string),
			meta:     make(map[string]*serialMeta),
			handles:  make(map[*ChannelHandle]struct{}),
			presence: make(map[string]map[string]realtime.Member),
		}
		for k, v := range params {
			core.params[k] = v
		}
		h.channels[name] = core
		return core, nil
	}
	for k, v := range params {
		if have, exists := core.params[k]; exists && have != v {
			return nil, fmt.Errorf("channel %q: param %q frozen to %q, refusing %q", name, k, have, v)
		} else if !exists && len(core.handles) > 0 {
			return nil, fmt.Errorf("channel %q: options frozen after first attach, refusing new param %q", name, k)
		} else if !exists {
			core.params[k] = v
		}
	}
	return core, nil
}

// mint assigns identity fields to an outbound message. Creates get a fresh
// serial from the channel series; updates and deletes bump the version of
// an existing serial.
func (core *channelCore) mint(msg *realtime.Message, clientID string) (*realtime.Message, error) {
	now := time.Now()
	stored := *msg
	stored.ClientID = clientID
	stored.Timestamp = now

	switch msg.Action {
	case realtime.ActionMessageUpdate, realtime.ActionMessageDelete:
		if msg.Serial == "" {
			return nil, fmt.Errorf("channel %q: %s requires a serial", core.name, msg.Action)
		}
		meta, ok := core.meta[msg.Serial]
		if !ok {
			return nil, fmt.Errorf("channel %q: unknown serial %q", core.name, msg.Serial)
		}
		meta.version++
		stored.Version = fmt.Sprintf("%08d", meta.version)
		stored.CreatedAt = meta.createdAt
	default:
		core.counter++
		stored.Serial = fmt.Sprintf("%s@%d-%d", core.series, now.UnixMilli(), core.counter)
		stored.Version = fmt.Sprintf("%08d", 1)
		stored.CreatedAt = now
		core.meta[stored.Serial] = &serialMeta{version: 1, createdAt: now}
	}
	return &stored, nil
}

func (core *channelCore) appendHistory(msg *realtime.Message) {
	core.history = append(core.history, msg)
	if len(core.history) > defaultHistoryLimit {
		core.history = core.history[len(core.history)-defaultHistoryLimit:]
	}
}

// occupancy snapshots the channel's occupancy metrics: attached handles
// and distinct clients present in any presence set.
func (core *channelCore) occupancy() realtime.OccupancyEvent {
	clients := make(map[string]struct{})
	for _, set := range core.presence {
		for id := range set {
			clients[id] = struct{}{}
		}
	}
	return realtime.OccupancyEvent{
		Connections:     len(core.handles),
		PresenceMembers: len(clients),
	}
}

// broadcastLocked fans ev out to every attached handle. Callers hold h.mu.
func (h *Hub) broadcastLocked(core *channelCore, ev hubEvent) {
	for hd := range core.handles {
		hd.enqueue(ev)
	}
}

func (h *Hub) broadcastOccupancyLocked(core *channelCore) {
	if core.params["occupancy"] != "metrics" {
		return
	}
	occ := core.occupancy()
	h.broadcastLocked(core, hubEvent{occ: &occ})
}

// Connect opens a hub connection for clientID. Every connection sees its
// own publishes echoed back, like any other subscriber.
func (h *Hub) Connect(clientID string) *Conn {
	return &Conn{
		hub:      h,
		clientID: clientID,
		channels: make(map[string]*ChannelHandle),
	}
}

// Conn is one client connection to the hub.
type Conn struct {
	hub      *Hub
	clientID string

	mu       sync.Mutex
	channels map[string]*ChannelHandle
	closed   bool
}

// ClientID implements realtime.Client.
func (c *Conn) ClientID() string { return c.clientID }

// Channel implements realtime.Client. The first request for a name fixes
// its options hub-wide; conflicting re-requests fail.
func (c *Conn) Channel(name string, opts realtime.ChannelOptions) (realtime.Channel, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil, fmt.Errorf("rtmem: connection closed")
	}
	if hd, ok := c.channels[name]; ok {
		for k, v := range opts.Params {
			if have, exists := hd.params[k]; !exists || have != v {
				return nil, fmt.Errorf("rtmem: channel %q already requested with different options", name)
			}
		}
		return hd, nil
	}

	c.hub.mu.Lock()
	_, err := c.hub.ensureChannel(name, opts.Params)
	c.hub.mu.Unlock()
	if err != nil {
		return nil, err
	}

	hd := newChannelHandle(c, name, opts.Params)
	c.channels[name] = hd
	return hd, nil
}

// Close implements realtime.Client: detaches every handle and stops their
// dispatch loops.
func (c *Conn) Close(ctx context.Context) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	handles := make([]*ChannelHandle, 0, len(c.channels))
	for _, hd := range c.channels {
		handles = append(handles, hd)
	}
	c.mu.Unlock()

	for _, hd := range handles {
		if hd.State() == realtime.StateAttached {
			if err := hd.Detach(ctx); err != nil {
				c.hub.log.Warn().Err(err).Str("channel", hd.Name()).Msg("detach on close")
			}
		}
		hd.stop()
	}
	return nil
}
