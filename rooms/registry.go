package rooms

import (
	"context"
	"sync"

	"github.com/rs/zerolog"

	"github.com/vovakirdan/wirechat-rooms/realtime"
)

// Registry is the name-keyed cache of rooms: at most one live room per
// name. Applications construct one Registry at the composition root and
// pass it by reference; nothing in the SDK reaches for ambient globals.
type Registry struct {
	client realtime.Client
	log    zerolog.Logger

	mu      sync.Mutex
	entries map[string]*registryEntry
}

type registryEntry struct {
	room *Room
	opts RoomOptions
	// releasing is non-nil once a release is in flight and closed when the
	// room is gone from the registry.
	releasing  chan struct{}
	releaseErr error
}

// NewRegistry constructs a registry over client. A nil logger disables
// logging.
func NewRegistry(client realtime.Client, logger *zerolog.Logger) *Registry {
	log := zerolog.Nop()
	if logger != nil {
		log = *logger
	}
	return &Registry{
		client:  client,
		log:     log,
		entries: make(map[string]*registryEntry),
	}
}

// Get returns the room for name, constructing it on first lookup. A
// lookup whose options differ from the live room's fails with
// ErrRoomExists. If a release for name is in flight, Get awaits it and
// then constructs a fresh room (await-then-recreate); a releasing room is
// never handed back and two live rooms never exist for one name.
func (g *Registry) Get(ctx context.Context, name string, opts RoomOptions) (*Room, error) {
	opts = opts.withDefaults()
	for {
		g.mu.Lock()
		entry, ok := g.entries[name]
		if !ok {
			room := newRoom(name, opts, g.client, g.log)
			g.entries[name] = &registryEntry{room: room, opts: opts}
			g.mu.Unlock()
			g.log.Debug().Str("room", name).Msg("room created")
			return room, nil
		}
		if entry.releasing == nil {
			if !entry.opts.equal(opts) {
				g.mu.Unlock()
				return nil, ErrRoomExists
			}
			room := entry.room
			g.mu.Unlock()
			return room, nil
		}
		wait := entry.releasing
		g.mu.Unlock()

		select {
		case <-wait:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}

// Release tears down the room for name and removes it from the registry.
// Releasing an unknown name is a no-op. Concurrent Release calls collapse
// into one teardown; every caller returns its outcome once the room is
// Released. The teardown itself runs on a background context, so a caller
// abandoning the wait does not abort it.
func (g *Registry) Release(ctx context.Context, name string) error {
	g.mu.Lock()
	entry, ok := g.entries[name]
	if !ok {
		g.mu.Unlock()
		return nil
	}
	if entry.releasing == nil {
		entry.releasing = make(chan struct{})
		go g.runRelease(name, entry)
	}
	wait := entry.releasing
	g.mu.Unlock()

	select {
	case <-wait:
		return entry.releaseErr
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (g *Registry) runRelease(name string, entry *registryEntry) {
	entry.releaseErr = entry.room.Release(context.Background())
	if entry.releaseErr != nil {
		g.log.Warn().Err(entry.releaseErr).Str("room", name).Msg("room release failed")
	} else {
		g.log.Debug().Str("room", name).Msg("room released")
	}

	g.mu.Lock()
	if cur, ok := g.entries[name]; ok && cur == entry {
		delete(g.entries, name)
	}
	g.mu.Unlock()
	close(entry.releasing)
}
