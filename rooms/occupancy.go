package rooms

import (
	"sync"

	"github.com/vovakirdan/wirechat-rooms/realtime"
)

// Occupancy is the room occupancy feature: connection and presence member
// counts pushed by the transport on membership changes. Requires
// OccupancyOptions.EnableEvents; without it the chat channel is not
// requested with the metrics param and no events arrive.
type Occupancy struct {
	featureChannel
	events *emitter[realtime.OccupancyEvent]

	mu   sync.Mutex
	last realtime.OccupancyEvent
	seen bool
}

func newOccupancy(r *Room) *Occupancy {
	o := &Occupancy{
		featureChannel: featureChannel{room: r, name: ChatChannelName(r.name)},
		events:         newEmitter[realtime.OccupancyEvent](r.log),
	}
	ch, err := r.channel(o.name)
	if err != nil {
		r.log.Error().Err(err).Msg("occupancy: channel unavailable")
		return o
	}
	ch.OnOccupancy(func(ev realtime.OccupancyEvent) {
		o.mu.Lock()
		o.last = ev
		o.seen = true
		o.mu.Unlock()
		o.events.emit(ev)
	})
	return o
}

// Subscribe registers fn for occupancy updates. The returned func removes
// the subscription.
func (o *Occupancy) Subscribe(fn func(realtime.OccupancyEvent)) (off func()) {
	return o.events.on(fn)
}

// Current returns the most recent occupancy metrics, and whether any have
// arrived yet.
func (o *Occupancy) Current() (realtime.OccupancyEvent, bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.last, o.seen
}
