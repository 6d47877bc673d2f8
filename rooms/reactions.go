package rooms

import (
	"context"
	"fmt"
	"time"

	"github.com/vovakirdan/wirechat-rooms/realtime"
)

// Reaction is one ephemeral room reaction. Reactions have no history and
// no supersede semantics; they exist only in flight.
type Reaction struct {
	Name      string
	ClientID  string
	Metadata  Metadata
	CreatedAt time.Time
}

// SendReactionParams describe an outbound reaction.
type SendReactionParams struct {
	Name     string
	Metadata Metadata
}

// Reactions is the room reactions feature, carried on its own channel so
// reaction bursts never contend with the chat channel.
type Reactions struct {
	featureChannel
	events *emitter[Reaction]
}

func newReactions(r *Room) *Reactions {
	rx := &Reactions{
		featureChannel: featureChannel{room: r, name: ReactionsChannelName(r.name)},
		events:         newEmitter[Reaction](r.log),
	}
	ch, err := r.channel(rx.name)
	if err != nil {
		r.log.Error().Err(err).Msg("reactions: channel unavailable")
		return rx
	}
	ch.Subscribe(roomReactionEvent, func(raw *realtime.Message) {
		if raw.ClientID == "" || raw.Data.Text == "" {
			r.log.Error().Msg("dropping malformed reaction event")
			return
		}
		rx.events.emit(Reaction{
			Name:      raw.Data.Text,
			ClientID:  raw.ClientID,
			Metadata:  Metadata(raw.Data.Metadata),
			CreatedAt: raw.Timestamp,
		})
	})
	return rx
}

// Subscribe registers fn for inbound reactions. The returned func removes
// the subscription.
func (rx *Reactions) Subscribe(fn func(Reaction)) (off func()) {
	return rx.events.on(fn)
}

// Send publishes a reaction to the room.
func (rx *Reactions) Send(ctx context.Context, params SendReactionParams) error {
	if params.Name == "" {
		return wrapError(ErrCodeBadOptions, "invalid reaction", fmt.Errorf("reaction requires a name"))
	}
	ch, err := rx.room.channel(rx.name)
	if err != nil {
		return err
	}
	_, err = ch.Publish(ctx, roomReactionEvent, &realtime.Message{
		Action: realtime.ActionMessageCreate,
		Data:   realtime.Data{Text: params.Name, Metadata: params.Metadata},
	})
	if err != nil {
		return wrapError(ErrCodeTransport, "reaction send failed", err)
	}
	return nil
}
