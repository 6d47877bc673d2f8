package rooms

import "context"

// featureChannel gives a feature its attach/detach pass-through to the
// underlying channel. Embedded by every feature.
type featureChannel struct {
	room *Room
	name string
}

// ChannelName returns the name of the channel the feature operates on.
func (f featureChannel) ChannelName() string { return f.name }

// Attach attaches just this feature's channel, independent of the room
// lifecycle.
func (f featureChannel) Attach(ctx context.Context) error {
	ch, err := f.room.channel(f.name)
	if err != nil {
		return err
	}
	return ch.Attach(ctx)
}

// Detach detaches just this feature's channel.
func (f featureChannel) Detach(ctx context.Context) error {
	ch, err := f.room.channel(f.name)
	if err != nil {
		return err
	}
	return ch.Detach(ctx)
}
