package rooms

import "fmt"

// Error codes for SDK errors.
const (
	ErrCodeRoomReleasing     = "room_releasing"
	ErrCodeRoomReleased      = "room_released"
	ErrCodeRoomFailed        = "room_failed"
	ErrCodeBadSerial         = "bad_serial"
	ErrCodeBadMessage        = "bad_message"
	ErrCodeBadOptions        = "bad_options"
	ErrCodeOptionsFrozen     = "channel_options_frozen"
	ErrCodeAttachFailed      = "attach_failed"
	ErrCodeDetachFailed      = "detach_failed"
	ErrCodeTransport         = "transport_error"
	ErrCodeRoomExists        = "room_exists_with_different_options"
)

// ErrorInfo wraps a stable code with a human-readable message and an
// optional cause.
type ErrorInfo struct {
	Code    string
	Message string
	Cause   error
}

func (e *ErrorInfo) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Cause)
	}
	return e.Message
}

func (e *ErrorInfo) Unwrap() error { return e.Cause }

// Is matches any ErrorInfo carrying the same code, so callers can use
// errors.Is against the exported sentinels below.
func (e *ErrorInfo) Is(target error) bool {
	t, ok := target.(*ErrorInfo)
	return ok && t.Code == e.Code
}

func newError(code, msg string) *ErrorInfo {
	return &ErrorInfo{Code: code, Message: msg}
}

func wrapError(code, msg string, cause error) *ErrorInfo {
	return &ErrorInfo{Code: code, Message: msg, Cause: cause}
}

// Sentinel errors surfaced by lifecycle and parsing operations.
var (
	// ErrRoomReleasing rejects operations on a room whose release is in flight.
	ErrRoomReleasing = newError(ErrCodeRoomReleasing, "room is releasing")
	// ErrRoomReleased rejects operations on a released room.
	ErrRoomReleased = newError(ErrCodeRoomReleased, "room is released")
	// ErrMalformedSerial rejects serials missing a required segment.
	ErrMalformedSerial = newError(ErrCodeBadSerial, "malformed serial")
	// ErrMalformedMessage rejects inbound messages missing identity fields.
	ErrMalformedMessage = newError(ErrCodeBadMessage, "malformed message")
	// ErrOptionsFrozen rejects channel option merges after the channel was requested.
	ErrOptionsFrozen = newError(ErrCodeOptionsFrozen, "channel options are frozen")
	// ErrBadOptions rejects conflicting configuration before first use.
	ErrBadOptions = newError(ErrCodeBadOptions, "conflicting options")
	// ErrRoomExists rejects a registry get whose options differ from the live room's.
	ErrRoomExists = newError(ErrCodeRoomExists, "room already exists with different options")
)
