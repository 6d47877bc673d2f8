package rooms

import "time"

// MessageAction distinguishes creates from later edits of the same serial.
type MessageAction int

const (
	ActionCreate MessageAction = iota
	ActionUpdate
	ActionDelete
)

func (a MessageAction) String() string {
	switch a {
	case ActionCreate:
		return "create"
	case ActionUpdate:
		return "update"
	case ActionDelete:
		return "delete"
	default:
		return "unknown"
	}
}

// Metadata is free-form, non-authoritative message decoration.
type Metadata map[string]string

// Headers are free-form scalar decoration carried outside the payload.
type Headers map[string]any

// Message is an immutable chat message value. Edits never mutate a
// Message; Apply returns a fresh value when an event supersedes it.
type Message struct {
	Serial    string
	ClientID  string
	Text      string
	Metadata  Metadata
	Headers   Headers
	Action    MessageAction
	Version   string
	CreatedAt time.Time
	Timestamp time.Time
}

// IsDeleted reports whether the message was superseded by a delete.
func (m *Message) IsDeleted() bool { return m.Action == ActionDelete }

// IsSameMessage reports whether a and b carry the same serial. Identity is
// exact string equality, independent of ordering comparison.
func IsSameMessage(a, b *Message) bool {
	if a == nil || b == nil {
		return false
	}
	return a.Serial == b.Serial
}

// MessageEvent is one inbound create/update/delete event as delivered to
// message subscribers.
type MessageEvent struct {
	Message *Message
}

// Apply resolves an event against the currently held version of the same
// serial. Events for a different serial, and events whose version is not
// strictly newer, return the existing message unchanged; stale replays are
// silently dropped, which makes Apply idempotent. A strictly newer update
// or delete yields a new Message preserving the immutable identity fields
// (serial, clientId, createdAt). Deletes clear text, metadata and headers.
func (m *Message) Apply(event *MessageEvent) *Message {
	if event == nil || event.Message == nil {
		return m
	}
	in := event.Message
	if !IsSameMessage(m, in) {
		return m
	}
	// Versions for one serial are lexicographically ordered strings.
	if in.Version <= m.Version {
		return m
	}

	next := &Message{
		Serial:    m.Serial,
		ClientID:  m.ClientID,
		Action:    in.Action,
		Version:   in.Version,
		CreatedAt: m.CreatedAt,
		Timestamp: in.Timestamp,
	}
	if in.Action == ActionDelete {
		next.Text = ""
		next.Metadata = Metadata{}
		next.Headers = Headers{}
		return next
	}
	next.Text = in.Text
	next.Metadata = in.Metadata
	next.Headers = in.Headers
	return next
}
