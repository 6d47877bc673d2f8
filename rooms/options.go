package rooms

import "time"

// DefaultTypingTimeout is how long after the last keystroke a typing
// indicator stays armed before the stop event is published.
const DefaultTypingTimeout = 5 * time.Second

// TypingOptions configure the typing indicator feature.
type TypingOptions struct {
	// Timeout is the debounce window; zero selects DefaultTypingTimeout.
	Timeout time.Duration
}

// OccupancyOptions configure the occupancy feature.
type OccupancyOptions struct {
	// EnableEvents requests occupancy metrics on the room's chat channel.
	// Must be decided before the room first attaches; the channel option
	// set freezes on first use.
	EnableEvents bool
}

// RoomOptions configure a room at registry lookup time. Rooms are
// singletons per name, so a lookup with options differing from the live
// room's fails rather than silently reconfiguring it.
type RoomOptions struct {
	Typing    TypingOptions
	Occupancy OccupancyOptions
}

// DefaultRoomOptions returns the options applied when a zero value is
// passed to Registry.Get. Occupancy events stay opt-in; enabling them
// changes the chat channel's frozen option set.
func DefaultRoomOptions() RoomOptions {
	return RoomOptions{
		Typing: TypingOptions{Timeout: DefaultTypingTimeout},
	}
}

func (o RoomOptions) withDefaults() RoomOptions {
	if o.Typing.Timeout == 0 {
		o.Typing.Timeout = DefaultTypingTimeout
	}
	return o
}

func (o RoomOptions) equal(other RoomOptions) bool {
	return o.Typing.Timeout == other.Typing.Timeout &&
		o.Occupancy.EnableEvents == other.Occupancy.EnableEvents
}
