// Package wsproto defines the JSON envelope spoken by the rtws transport
// client. Requests flow client to server and are acknowledged by id;
// events flow server to client unprompted.
package wsproto

import (
	"encoding/json"

	"github.com/vovakirdan/wirechat-rooms/realtime"
)

const ProtocolVersion = 1

// Request types.
const (
	TypeHello    = "hello"
	TypeAttach   = "attach"
	TypeDetach   = "detach"
	TypePublish  = "publish"
	TypePresence = "presence"
	TypeHistory  = "history"
)

// Response types.
const (
	TypeAck       = "ack"
	TypeError     = "error"
	TypeEvent     = "event"
	TypePresEvent = "presence_event"
	TypeOccupancy = "occupancy"
	TypeState     = "state"
)

// Request is the envelope for frames sent by the client.
type Request struct {
	ID      string          `json:"id,omitempty"`
	Type    string          `json:"type"`
	Channel string          `json:"channel,omitempty"`
	Data    json.RawMessage `json:"data,omitempty"`
}

// Response is the envelope for frames sent by the server: acks correlated
// by id, or unsolicited channel events.
type Response struct {
	ID      string          `json:"id,omitempty"`
	Type    string          `json:"type"`
	Channel string          `json:"channel,omitempty"`
	Event   string          `json:"event,omitempty"`
	Data    json.RawMessage `json:"data,omitempty"`
	Error   *Error          `json:"error,omitempty"`
}

// Error describes a protocol-level error response.
type Error struct {
	Code string `json:"code"`
	Msg  string `json:"msg"`
}

func (e *Error) Error() string { return e.Msg }

// HelloData introduces the client after dialing.
type HelloData struct {
	ClientID string `json:"clientId"`
	Protocol int    `json:"protocol"`
}

// AttachData carries the channel options of an attach request.
type AttachData struct {
	Params map[string]string `json:"params,omitempty"`
}

// PublishData carries an outbound message event; the ack data is the
// stored realtime.Message with server-assigned identity fields.
type PublishData struct {
	Event   string           `json:"event"`
	Message realtime.Message `json:"message"`
}

// PresenceData carries a presence mutation or, as ack data of a get, the
// current member list.
type PresenceData struct {
	Set    string         `json:"set"`
	Action string         `json:"action,omitempty"`
	Data   map[string]any `json:"data,omitempty"`
}

// PresenceGetResult is the ack data of a presence get.
type PresenceGetResult struct {
	Members []realtime.Member `json:"members"`
}

// HistoryData selects a backward history page.
type HistoryData struct {
	Before string `json:"before,omitempty"`
	Limit  int    `json:"limit,omitempty"`
}

// HistoryResult is the ack data of a history request, newest first.
type HistoryResult struct {
	Messages []*realtime.Message `json:"messages"`
}

// StateData notifies the client of a server-side channel state change.
type StateData struct {
	State   string `json:"state"`
	Reason  string `json:"reason,omitempty"`
	Resumed bool   `json:"resumed,omitempty"`
}
