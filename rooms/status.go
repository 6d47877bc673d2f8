package rooms

import "github.com/vovakirdan/wirechat-rooms/realtime"

// RoomStatus is the aggregated lifecycle state of a room.
type RoomStatus int

const (
	// StatusInitialized is a freshly constructed room, never attached.
	StatusInitialized RoomStatus = iota
	// StatusAttaching means an attach sequence is in flight.
	StatusAttaching
	// StatusAttached means every feature channel is live.
	StatusAttached
	// StatusDetaching means a detach sequence is in flight.
	StatusDetaching
	// StatusDetached means the room was cleanly detached.
	StatusDetached
	// StatusSuspended means the transport interrupted at least one feature
	// channel; recovery is possible.
	StatusSuspended
	// StatusFailed is a terminal error state until the next attach attempt.
	StatusFailed
	// StatusReleasing means teardown is in flight.
	StatusReleasing
	// StatusReleased is terminal; the room must not be reused.
	StatusReleased
)

func (s RoomStatus) String() string {
	switch s {
	case StatusInitialized:
		return "initialized"
	case StatusAttaching:
		return "attaching"
	case StatusAttached:
		return "attached"
	case StatusDetaching:
		return "detaching"
	case StatusDetached:
		return "detached"
	case StatusSuspended:
		return "suspended"
	case StatusFailed:
		return "failed"
	case StatusReleasing:
		return "releasing"
	case StatusReleased:
		return "released"
	default:
		return "unknown"
	}
}

// StatusChange notifies room status listeners of a transition.
type StatusChange struct {
	Previous RoomStatus
	Current  RoomStatus
	// Err carries the cause for suspended/failed transitions, nil otherwise.
	Err error
}

// DiscontinuityEvent reports a transport-level gap: a feature channel
// resumed from suspension without a clean detach, so events may have been
// missed. Emitted once per resume.
type DiscontinuityEvent struct {
	// Channel is the name of the resumed feature channel.
	Channel string
	// Err is the error that caused the suspension, if any.
	Err error
}

// severity ranks channel states for worst-wins aggregation. Higher is worse.
func severity(s realtime.ChannelState) int {
	switch s {
	case realtime.StateFailed:
		return 6
	case realtime.StateSuspended:
		return 5
	case realtime.StateDetached:
		return 4
	case realtime.StateDetaching:
		return 3
	case realtime.StateAttaching:
		return 2
	case realtime.StateInitialized:
		return 1
	default: // attached
		return 0
	}
}

// aggregateStatus maps the worst feature channel state onto a room status.
func aggregateStatus(states []realtime.ChannelState) RoomStatus {
	worst := realtime.StateAttached
	for _, s := range states {
		if severity(s) > severity(worst) {
			worst = s
		}
	}
	switch worst {
	case realtime.StateFailed:
		return StatusFailed
	case realtime.StateSuspended:
		return StatusSuspended
	case realtime.StateDetached:
		return StatusDetached
	case realtime.StateDetaching:
		return StatusDetaching
	case realtime.StateAttaching:
		return StatusAttaching
	case realtime.StateInitialized:
		return StatusInitialized
	default:
		return StatusAttached
	}
}
