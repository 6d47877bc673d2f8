package rtmem

import (
	"context"
	"sort"
	"time"

	"github.com/vovakirdan/wirechat-rooms/realtime"
)

// presenceHandle implements realtime.Presence over one channel handle.
// Presence sets are hub-global per channel; a member entered by one
// connection is visible to every attached handle.
type presenceHandle struct {
	hd *ChannelHandle
}

func (p *presenceHandle) mutate(ctx context.Context, set string, action realtime.PresenceAction, data map[string]any) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	hd := p.hd
	hub := hd.conn.hub
	clientID := hd.conn.clientID
	now := time.Now()

	hub.mu.Lock()
	core, err := hub.ensureChannel(hd.name, hd.params)
	if err != nil {
		hub.mu.Unlock()
		return err
	}
	members := core.presence[set]
	if members == nil {
		members = make(map[string]realtime.Member)
		core.presence[set] = members
	}

	changed := true
	switch action {
	case realtime.PresenceLeave:
		if _, ok := members[clientID]; !ok {
			changed = false
		}
		delete(members, clientID)
	default:
		members[clientID] = realtime.Member{ClientID: clientID, Data: data, UpdatedAt: now}
	}

	if changed {
		hub.broadcastLocked(core, hubEvent{pres: &realtime.PresenceEvent{
			Set:       set,
			Action:    action,
			ClientID:  clientID,
			Data:      data,
			Timestamp: now,
		}})
		hub.broadcastOccupancyLocked(core)
	}
	hub.mu.Unlock()
	return nil
}

func (p *presenceHandle) Enter(ctx context.Context, set string, data map[string]any) error {
	return p.mutate(ctx, set, realtime.PresenceEnter, data)
}

func (p *presenceHandle) Update(ctx context.Context, set string, data map[string]any) error {
	return p.mutate(ctx, set, realtime.PresenceUpdate, data)
}

func (p *presenceHandle) Leave(ctx context.Context, set string) error {
	return p.mutate(ctx, set, realtime.PresenceLeave, nil)
}

func (p *presenceHandle) Get(ctx context.Context, set string) ([]realtime.Member, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	hub := p.hd.conn.hub
	hub.mu.Lock()
	defer hub.mu.Unlock()
	core, ok := hub.channels[p.hd.name]
	if !ok {
		return nil, nil
	}
	members := make([]realtime.Member, 0, len(core.presence[set]))
	for _, m := range core.presence[set] {
		members = append(members, m)
	}
	sort.Slice(members, func(i, j int) bool { return members[i].ClientID < members[j].ClientID })
	return members, nil
}

func (p *presenceHandle) Subscribe(set string, fn realtime.PresenceFunc) func() {
	hd := p.hd
	hd.mu.Lock()
	hd.nextSub++
	id := hd.nextSub
	hd.presSubs = append(hd.presSubs, presSub{id: id, set: set, fn: fn})
	hd.mu.Unlock()

	return func() {
		hd.mu.Lock()
		defer hd.mu.Unlock()
		for i, s := range hd.presSubs {
			if s.id == id {
				hd.presSubs = append(hd.presSubs[:i], hd.presSubs[i+1:]...)
				return
			}
		}
	}
}
