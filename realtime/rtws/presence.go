package rtws

import (
	"context"
	"encoding/json"

	"github.com/vovakirdan/wirechat-rooms/internal/wsproto"
	"github.com/vovakirdan/wirechat-rooms/realtime"
)

// presenceHandle implements realtime.Presence by issuing presence
// requests on the channel's connection.
type presenceHandle struct {
	ch *Channel
}

func (p *presenceHandle) mutate(ctx context.Context, set string, action realtime.PresenceAction, data map[string]any) error {
	payload, err := json.Marshal(wsproto.PresenceData{Set: set, Action: string(action), Data: data})
	if err != nil {
		return err
	}
	_, err = p.ch.client.request(ctx, &wsproto.Request{
		Type:    wsproto.TypePresence,
		Channel: p.ch.name,
		Data:    payload,
	})
	return err
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
	payload, err := json.Marshal(wsproto.PresenceData{Set: set})
	if err != nil {
		return nil, err
	}
	resp, err := p.ch.client.request(ctx, &wsproto.Request{
		Type:    wsproto.TypePresence,
		Channel: p.ch.name,
		Data:    payload,
	})
	if err != nil {
		return nil, err
	}
	var result wsproto.PresenceGetResult
	if err := json.Unmarshal(resp.Data, &result); err != nil {
		return nil, err
	}
	return result.Members, nil
}

func (p *presenceHandle) Subscribe(set string, fn realtime.PresenceFunc) func() {
	ch := p.ch
	ch.mu.Lock()
	ch.nextSub++
	id := ch.nextSub
	ch.presSubs = append(ch.presSubs, presSub{id: id, set: set, fn: fn})
	ch.mu.Unlock()

	return func() {
		ch.mu.Lock()
		defer ch.mu.Unlock()
		for i, s := range ch.presSubs {
			if s.id == id {
				ch.presSubs = append(ch.presSubs[:i], ch.presSubs[i+1:]...)
				return
			}
		}
	}
}
