package rooms

import (
	"fmt"
	"sync"

	"github.com/vovakirdan/wirechat-rooms/realtime"
)

// channelManager tracks the channels a room's features multiplex over.
// Feature params are merged per channel until the channel is requested
// from the transport; after that the option set is frozen and conflicting
// merges fail with a configuration error.
type channelManager struct {
	client realtime.Client

	mu      sync.Mutex
	order   []string
	entries map[string]*managedChannel
}

type managedChannel struct {
	name   string
	params map[string]string
	ch     realtime.Channel
}

func newChannelManager(client realtime.Client) *channelManager {
	return &channelManager{
		client:  client,
		entries: make(map[string]*managedChannel),
	}
}

// merge records params for name. Conflicting values are rejected before
// first use; any change at all is rejected once the channel was requested.
func (cm *channelManager) merge(name string, params map[string]string) error {
	cm.mu.Lock()
	defer cm.mu.Unlock()

	entry, ok := cm.entries[name]
	if !ok {
		entry = &managedChannel{name: name, params: make(map[string]string)}
		cm.entries[name] = entry
		cm.order = append(cm.order, name)
	}

	for k, v := range params {
		have, exists := entry.params[k]
		switch {
		case exists && have == v:
			// Agreeing merge, nothing to do.
		case entry.ch != nil:
			return wrapError(ErrCodeOptionsFrozen, "channel options are frozen",
				fmt.Errorf("channel %q requested, cannot merge %q=%q", name, k, v))
		case exists:
			return wrapError(ErrCodeBadOptions, "conflicting options",
				fmt.Errorf("channel %q: param %q requested as both %q and %q", name, k, have, v))
		default:
			entry.params[k] = v
		}
	}
	return nil
}

// get returns the handle for name, requesting it from the transport on
// first use. Requesting freezes the merged option set.
func (cm *channelManager) get(name string) (realtime.Channel, error) {
	cm.mu.Lock()
	defer cm.mu.Unlock()
	return cm.getLocked(name)
}

func (cm *channelManager) getLocked(name string) (realtime.Channel, error) {
	entry, ok := cm.entries[name]
	if !ok {
		entry = &managedChannel{name: name, params: make(map[string]string)}
		cm.entries[name] = entry
		cm.order = append(cm.order, name)
	}
	if entry.ch == nil {
		ch, err := cm.client.Channel(name, realtime.ChannelOptions{Params: entry.params})
		if err != nil {
			return nil, wrapError(ErrCodeTransport, "channel request failed", err)
		}
		entry.ch = ch
	}
	return entry.ch, nil
}

// all requests and returns every managed channel in registration order.
func (cm *channelManager) all() ([]realtime.Channel, error) {
	cm.mu.Lock()
	defer cm.mu.Unlock()
	chans := make([]realtime.Channel, 0, len(cm.order))
	for _, name := range cm.order {
		ch, err := cm.getLocked(name)
		if err != nil {
			return nil, err
		}
		chans = append(chans, ch)
	}
	return chans, nil
}

// requested returns the channels already materialized, without requesting
// new ones. Used by status aggregation.
func (cm *channelManager) requested() []realtime.Channel {
	cm.mu.Lock()
	defer cm.mu.Unlock()
	chans := make([]realtime.Channel, 0, len(cm.order))
	for _, name := range cm.order {
		if entry := cm.entries[name]; entry.ch != nil {
			chans = append(chans, entry.ch)
		}
	}
	return chans
}
