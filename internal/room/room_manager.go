package room

import (
	"context"
	"errors"
	"sync"

	"github.com/rs/zerolog"
	"golang.org/x/sync/singleflight"

	"github.com/mattfrayser/whiteboard-backend/internal/logging"
	"github.com/mattfrayser/whiteboard-backend/internal/metrics"
	"github.com/mattfrayser/whiteboard-backend/internal/store"
)

// Manager is the process-wide registry of loaded rooms. Rooms are loaded
// lazily from the store and stay resident for the life of the process.
type Manager struct {
	store store.Store
	rooms map[string]*Room
	loads singleflight.Group
	log   zerolog.Logger
	mu    sync.RWMutex
}

func NewManager(st store.Store) *Manager {
	return &Manager{
		store: st,
		rooms: make(map[string]*Room),
		log:   logging.WithComponent("registry"),
	}
}

// GetOrLoad returns the resident room, loading it from the store on first
// use. Concurrent callers for the same name share a single load. A store
// failure is logged and yields a fresh room.
func (m *Manager) GetOrLoad(ctx context.Context, name string) *Room {
	if rm, ok := m.Get(name); ok {
		return rm
	}

	v, _, _ := m.loads.Do(name, func() (interface{}, error) {
		if rm, ok := m.Get(name); ok {
			return rm, nil
		}

		// the load outlives the caller that triggered it
		rm := newRoom(name, m.load(context.WithoutCancel(ctx), name))

		m.mu.Lock()
		m.rooms[name] = rm
		count := len(m.rooms)
		m.mu.Unlock()

		metrics.RoomsLoaded.Set(float64(count))
		return rm, nil
	})
	return v.(*Room)
}

func (m *Manager) load(ctx context.Context, name string) *State {
	doc, err := m.store.Find(ctx, name)
	switch {
	case err == nil:
		metrics.StoreLoads.WithLabelValues("found").Inc()
		m.log.Info().Str("room", name).Int("slides", len(doc.Slides)).Msg("room loaded from store")
		return stateFromDocument(doc)
	case errors.Is(err, store.ErrNotFound):
		metrics.StoreLoads.WithLabelValues("not_found").Inc()
		m.log.Info().Str("room", name).Msg("creating new room")
	default:
		metrics.StoreLoads.WithLabelValues("error").Inc()
		m.log.Error().Err(err).Str("room", name).Msg("room load failed, starting empty")
	}
	return NewState()
}

// Get returns the room only if it is already resident.
func (m *Manager) Get(name string) (*Room, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	rm, ok := m.rooms[name]
	return rm, ok
}

// Snapshot returns a deep copy of a resident room.
func (m *Manager) Snapshot(name string) (*store.Document, bool) {
	rm, ok := m.Get(name)
	if !ok {
		return nil, false
	}
	return rm.Snapshot(), true
}

// Count: number of resident rooms
func (m *Manager) Count() int {
	m.mu.RLock()
	defer m.mu.RUnlock()

	return len(m.rooms)
}
