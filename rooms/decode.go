package rooms

import (
	"fmt"
	"time"

	"github.com/vovakirdan/wirechat-rooms/realtime"
)

// DecodeMessage turns a wire message into a Message value.
//
// Identity-critical fields are strict: a missing or malformed serial,
// an empty clientId or an unknown action reject the event. Cosmetic
// fields are defaulted: text may be empty, metadata and headers may be
// nil, and a zero timestamp is backfilled from the millis embedded in
// the serial.
func DecodeMessage(raw *realtime.Message) (*Message, error) {
	if raw == nil {
		return nil, wrapError(ErrCodeBadMessage, "malformed message", fmt.Errorf("nil wire message"))
	}

	serial, err := ParseSerial(raw.Serial)
	if err != nil {
		return nil, err
	}
	if raw.ClientID == "" {
		return nil, wrapError(ErrCodeBadMessage, "malformed message", fmt.Errorf("serial %q: missing clientId", raw.Serial))
	}

	action, err := decodeAction(raw.Action)
	if err != nil {
		return nil, err
	}

	ts := raw.Timestamp
	if ts.IsZero() {
		ts = time.UnixMilli(serial.Timestamp)
	}
	createdAt := raw.CreatedAt
	if createdAt.IsZero() {
		createdAt = ts
	}

	return &Message{
		Serial:    raw.Serial,
		ClientID:  raw.ClientID,
		Text:      raw.Data.Text,
		Metadata:  Metadata(raw.Data.Metadata),
		Headers:   Headers(raw.Extras.Headers),
		Action:    action,
		Version:   raw.Version,
		CreatedAt: createdAt,
		Timestamp: ts,
	}, nil
}

func decodeAction(s string) (MessageAction, error) {
	switch s {
	case realtime.ActionMessageCreate:
		return ActionCreate, nil
	case realtime.ActionMessageUpdate:
		return ActionUpdate, nil
	case realtime.ActionMessageDelete:
		return ActionDelete, nil
	default:
		return ActionCreate, wrapError(ErrCodeBadMessage, "malformed message", fmt.Errorf("unknown action %q", s))
	}
}
