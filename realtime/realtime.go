// Package realtime defines the contract between the rooms SDK and the
// underlying pub/sub transport. Implementations live in subpackages
// (rtmem for the in-process loopback hub, rtws for the websocket client).
package realtime

import (
	"context"
	"time"
)

// ChannelState describes the attach lifecycle of a single channel.
type ChannelState int

const (
	// StateInitialized is the state of a channel that was never attached.
	StateInitialized ChannelState = iota
	// StateAttaching means an attach request is in flight.
	StateAttaching
	// StateAttached means the channel is live and receiving events.
	StateAttached
	// StateDetaching means a detach request is in flight.
	StateDetaching
	// StateDetached means the channel was cleanly detached.
	StateDetached
	// StateSuspended means the transport lost the channel but may recover it.
	StateSuspended
	// StateFailed is terminal for the channel until the next attach attempt.
	StateFailed
)

func (s ChannelState) String() string {
	switch s {
	case StateInitialized:
		return "initialized"
	case StateAttaching:
		return "attaching"
	case StateAttached:
		return "attached"
	case StateDetaching:
		return "detaching"
	case StateDetached:
		return "detached"
	case StateSuspended:
		return "suspended"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// StateChange notifies channel state listeners of a transition.
type StateChange struct {
	Previous ChannelState
	Current  ChannelState
	// Err carries the cause for suspended/failed transitions, nil otherwise.
	Err error
	// Resumed is true when an attached transition recovered an existing
	// server-side channel rather than starting a fresh one.
	Resumed bool
}

// ChannelOptions parameterize a channel at request time. A channel is
// requested once per client; later requests with conflicting options fail.
type ChannelOptions struct {
	// Params are transport-level key/value switches, e.g. "occupancy":"metrics".
	Params map[string]string
}

// Data is the chat payload of a message event.
type Data struct {
	Text     string            `json:"text,omitempty"`
	Metadata map[string]string `json:"metadata,omitempty"`
}

// Extras carries non-authoritative decoration attached by the sender.
type Extras struct {
	Headers map[string]any `json:"headers,omitempty"`
}

// Message is the wire shape of one message event as delivered by the
// transport. Identity fields (Serial, ClientID, Action, Version) are
// authoritative; Data and Extras are free-form.
type Message struct {
	Serial    string    `json:"serial"`
	ClientID  string    `json:"clientId"`
	Action    string    `json:"action"`
	Version   string    `json:"version"`
	CreatedAt time.Time `json:"createdAt"`
	Timestamp time.Time `json:"timestamp"`
	Data      Data      `json:"data"`
	Extras    Extras    `json:"extras"`
}

// Well-known message actions on the wire.
const (
	ActionMessageCreate = "message.create"
	ActionMessageUpdate = "message.update"
	ActionMessageDelete = "message.delete"
)

// PresenceAction is the kind of a presence transition.
type PresenceAction string

const (
	PresenceEnter   PresenceAction = "enter"
	PresenceUpdate  PresenceAction = "update"
	PresenceLeave   PresenceAction = "leave"
	PresencePresent PresenceAction = "present"
)

// PresenceEvent notifies presence subscribers of a membership change
// within one presence set of a channel.
type PresenceEvent struct {
	Set       string         `json:"set"`
	Action    PresenceAction `json:"action"`
	ClientID  string         `json:"clientId"`
	Data      map[string]any `json:"data,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
}

// Member is one entry of a presence set.
type Member struct {
	ClientID  string         `json:"clientId"`
	Data      map[string]any `json:"data,omitempty"`
	UpdatedAt time.Time      `json:"updatedAt"`
}

// OccupancyEvent reports channel occupancy metrics. Emitted only on
// channels requested with the "occupancy":"metrics" param.
type OccupancyEvent struct {
	Connections     int `json:"connections"`
	PresenceMembers int `json:"presenceMembers"`
}

// HistoryQuery selects a backward page of message history.
type HistoryQuery struct {
	// Before is an exclusive serial upper bound; empty means latest.
	Before string
	// Limit caps the page size; implementations apply a default when zero.
	Limit int
}

// MessageFunc consumes inbound message events.
type MessageFunc func(*Message)

// PresenceFunc consumes inbound presence events.
type PresenceFunc func(PresenceEvent)

// StateFunc consumes channel state transitions.
type StateFunc func(StateChange)

// OccupancyFunc consumes occupancy metric events.
type OccupancyFunc func(OccupancyEvent)

// Client is one authenticated connection to the transport.
type Client interface {
	// ClientID identifies the local client on the wire.
	ClientID() string
	// Channel returns the handle for name, creating it on first request.
	// A repeated request with different options fails; the first request
	// freezes the option set.
	Channel(name string, opts ChannelOptions) (Channel, error)
	// Close detaches all channels and tears down the connection.
	Close(ctx context.Context) error
}

// Channel is a named attach/publish/subscribe primitive.
type Channel interface {
	Name() string
	State() ChannelState
	// ErrorReason returns the error behind a suspended or failed state.
	ErrorReason() error

	Attach(ctx context.Context) error
	Detach(ctx context.Context) error

	// Publish sends a message event and returns the stored message with
	// transport-assigned identity fields (serial, version, timestamps).
	Publish(ctx context.Context, event string, msg *Message) (*Message, error)
	// Subscribe registers fn for message events named event. The returned
	// func removes the subscription.
	Subscribe(event string, fn MessageFunc) (off func())
	// History returns messages older than q.Before, newest first.
	History(ctx context.Context, q HistoryQuery) ([]*Message, error)

	OnStateChange(fn StateFunc) (off func())
	OnOccupancy(fn OccupancyFunc) (off func())

	Presence() Presence
}

// Presence manages named presence sets multiplexed over one channel.
// Sets let independent capabilities (room presence, typing indicators)
// share a channel without colliding.
type Presence interface {
	Enter(ctx context.Context, set string, data map[string]any) error
	Update(ctx context.Context, set string, data map[string]any) error
	Leave(ctx context.Context, set string) error
	Get(ctx context.Context, set string) ([]Member, error)
	Subscribe(set string, fn PresenceFunc) (off func())
}
