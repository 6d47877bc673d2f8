package rooms

import (
	"context"

	"github.com/vovakirdan/wirechat-rooms/realtime"
)

// Presence is the room presence feature: entering, updating and leaving
// the member set, and observing other clients doing the same.
type Presence struct {
	featureChannel
	events *emitter[realtime.PresenceEvent]
}

func newPresence(r *Room) *Presence {
	p := &Presence{
		featureChannel: featureChannel{room: r, name: ChatChannelName(r.name)},
		events:         newEmitter[realtime.PresenceEvent](r.log),
	}
	ch, err := r.channel(p.name)
	if err != nil {
		r.log.Error().Err(err).Msg("presence: channel unavailable")
		return p
	}
	ch.Presence().Subscribe(presenceSetChat, func(ev realtime.PresenceEvent) {
		if ev.ClientID == "" {
			r.log.Error().Str("set", presenceSetChat).Msg("dropping presence event without clientId")
			return
		}
		p.events.emit(ev)
	})
	return p
}

// Subscribe registers fn for presence changes. The returned func removes
// the subscription.
func (p *Presence) Subscribe(fn func(realtime.PresenceEvent)) (off func()) {
	return p.events.on(fn)
}

// Enter adds the local client to the room's presence set.
func (p *Presence) Enter(ctx context.Context, data map[string]any) error {
	ch, err := p.room.channel(p.name)
	if err != nil {
		return err
	}
	if err := ch.Presence().Enter(ctx, presenceSetChat, data); err != nil {
		return wrapError(ErrCodeTransport, "presence enter failed", err)
	}
	return nil
}

// Update replaces the local client's presence data.
func (p *Presence) Update(ctx context.Context, data map[string]any) error {
	ch, err := p.room.channel(p.name)
	if err != nil {
		return err
	}
	if err := ch.Presence().Update(ctx, presenceSetChat, data); err != nil {
		return wrapError(ErrCodeTransport, "presence update failed", err)
	}
	return nil
}

// Leave removes the local client from the room's presence set.
func (p *Presence) Leave(ctx context.Context) error {
	ch, err := p.room.channel(p.name)
	if err != nil {
		return err
	}
	if err := ch.Presence().Leave(ctx, presenceSetChat); err != nil {
		return wrapError(ErrCodeTransport, "presence leave failed", err)
	}
	return nil
}

// Get returns the current room members, sorted by client id.
func (p *Presence) Get(ctx context.Context) ([]realtime.Member, error) {
	ch, err := p.room.channel(p.name)
	if err != nil {
		return nil, err
	}
	members, err := ch.Presence().Get(ctx, presenceSetChat)
	if err != nil {
		return nil, wrapError(ErrCodeTransport, "presence get failed", err)
	}
	return members, nil
}
