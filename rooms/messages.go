package rooms

import (
	"context"
	"fmt"

	"github.com/vovakirdan/wirechat-rooms/realtime"
)

// Messages is the chat message feature of a room: publishing creates,
// updates and deletes, subscribing to inbound events, and paging back
// through history.
type Messages struct {
	featureChannel
	events *emitter[*MessageEvent]
}

// SendParams describe a new message.
type SendParams struct {
	Text     string
	Metadata Metadata
	Headers  Headers
}

// UpdateParams describe the replacement content of an update.
type UpdateParams struct {
	Text     string
	Metadata Metadata
	Headers  Headers
}

// PaginationQuery selects a backward page of message history.
type PaginationQuery struct {
	// Before is an exclusive serial upper bound; empty means latest.
	Before string
	// Limit caps the page size; the transport default applies when zero.
	Limit int
}

func newMessages(r *Room) *Messages {
	m := &Messages{
		featureChannel: featureChannel{room: r, name: ChatChannelName(r.name)},
		events:         newEmitter[*MessageEvent](r.log),
	}
	ch, err := r.channel(m.name)
	if err != nil {
		r.log.Error().Err(err).Msg("messages: channel unavailable")
		return m
	}
	ch.Subscribe(chatMessageEvent, func(raw *realtime.Message) {
		msg, err := DecodeMessage(raw)
		if err != nil {
			// One bad event never takes down the pipeline.
			r.log.Error().Err(err).Str("serial", raw.Serial).Msg("dropping malformed message event")
			return
		}
		m.events.emit(&MessageEvent{Message: msg})
	})
	return m
}

// Subscribe registers fn for inbound message events. Malformed events are
// dropped and logged before reaching subscribers. The returned func
// removes the subscription.
func (m *Messages) Subscribe(fn func(*MessageEvent)) (off func()) {
	return m.events.on(fn)
}

// Send publishes a new message and returns the stored value with its
// transport-assigned serial and version.
func (m *Messages) Send(ctx context.Context, params SendParams) (*Message, error) {
	return m.publish(ctx, &realtime.Message{
		Action: realtime.ActionMessageCreate,
		Data:   realtime.Data{Text: params.Text, Metadata: params.Metadata},
		Extras: realtime.Extras{Headers: params.Headers},
	})
}

// Update publishes a new version of an existing message and returns the
// updated value. The serial and original author are preserved.
func (m *Messages) Update(ctx context.Context, existing *Message, params UpdateParams) (*Message, error) {
	if existing == nil || existing.Serial == "" {
		return nil, wrapError(ErrCodeBadMessage, "malformed message", fmt.Errorf("update requires an existing message"))
	}
	return m.publish(ctx, &realtime.Message{
		Serial: existing.Serial,
		Action: realtime.ActionMessageUpdate,
		Data:   realtime.Data{Text: params.Text, Metadata: params.Metadata},
		Extras: realtime.Extras{Headers: params.Headers},
	})
}

// Delete publishes a delete of an existing message and returns the
// tombstone value.
func (m *Messages) Delete(ctx context.Context, existing *Message) (*Message, error) {
	if existing == nil || existing.Serial == "" {
		return nil, wrapError(ErrCodeBadMessage, "malformed message", fmt.Errorf("delete requires an existing message"))
	}
	return m.publish(ctx, &realtime.Message{
		Serial: existing.Serial,
		Action: realtime.ActionMessageDelete,
	})
}

func (m *Messages) publish(ctx context.Context, msg *realtime.Message) (*Message, error) {
	ch, err := m.room.channel(m.name)
	if err != nil {
		return nil, err
	}
	stored, err := ch.Publish(ctx, chatMessageEvent, msg)
	if err != nil {
		return nil, wrapError(ErrCodeTransport, "publish failed", err)
	}
	decoded, err := DecodeMessage(stored)
	if err != nil {
		return nil, err
	}
	if decoded.Action == ActionDelete {
		// Tombstones carry no content.
		decoded.Text = ""
		decoded.Metadata = Metadata{}
		decoded.Headers = Headers{}
	}
	return decoded, nil
}

// GetPrevious pages backward through message history, newest first.
// Unlike the subscription pipeline, a malformed stored message fails the
// explicit fetch so the caller sees the problem.
func (m *Messages) GetPrevious(ctx context.Context, q PaginationQuery) ([]*Message, error) {
	ch, err := m.room.channel(m.name)
	if err != nil {
		return nil, err
	}
	raw, err := ch.History(ctx, realtime.HistoryQuery{Before: q.Before, Limit: q.Limit})
	if err != nil {
		return nil, wrapError(ErrCodeTransport, "history fetch failed", err)
	}
	page := make([]*Message, 0, len(raw))
	for _, rm := range raw {
		msg, err := DecodeMessage(rm)
		if err != nil {
			return nil, err
		}
		page = append(page, msg)
	}
	return page, nil
}
