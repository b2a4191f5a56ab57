package memory

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/starkillerOG/HA-motion-blinds/internal/app/domain/device"
	"github.com/starkillerOG/HA-motion-blinds/internal/app/domain/entry"
	"github.com/starkillerOG/HA-motion-blinds/internal/app/storage"
)

// Store is an in-memory implementation of the storage interfaces. It is safe
// for concurrent use and is primarily intended for tests and setups without a
// database.
type Store struct {
	mu      sync.RWMutex
	nextID  int64
	entries map[string]entry.ConfigEntry
	devices map[string]device.Device
}

var _ storage.EntryStore = (*Store)(nil)
var _ storage.DeviceStore = (*Store)(nil)

// New creates an empty store.
func New() *Store {
	return &Store{
		nextID:  1,
		entries: make(map[string]entry.ConfigEntry),
		devices: make(map[string]device.Device),
	}
}

func (s *Store) nextIDLocked() string {
	id := s.nextID
	s.nextID++
	return fmt.Sprintf("%d", id)
}

// EntryStore implementation ---------------------------------------------------

func (s *Store) CreateEntry(_ context.Context, e entry.ConfigEntry) (entry.ConfigEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if e.ID == "" {
		e.ID = s.nextIDLocked()
	} else if _, exists := s.entries[e.ID]; exists {
		return entry.ConfigEntry{}, fmt.Errorf("entry %s already exists", e.ID)
	}
	for _, existing := range s.entries {
		if e.UniqueID != "" && existing.UniqueID == e.UniqueID {
			return entry.ConfigEntry{}, fmt.Errorf("entry with unique id %s already exists", e.UniqueID)
		}
	}

	now := time.Now().UTC()
	e.CreatedAt = now
	e.UpdatedAt = now
	s.entries[e.ID] = e
	return e, nil
}

func (s *Store) UpdateEntry(_ context.Context, e entry.ConfigEntry) (entry.ConfigEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	original, ok := s.entries[e.ID]
	if !ok {
		return entry.ConfigEntry{}, storage.ErrNotFound
	}
	e.CreatedAt = original.CreatedAt
	e.UpdatedAt = time.Now().UTC()
	s.entries[e.ID] = e
	return e, nil
}

func (s *Store) GetEntry(_ context.Context, id string) (entry.ConfigEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	e, ok := s.entries[id]
	if !ok {
		return entry.ConfigEntry{}, storage.ErrNotFound
	}
	return e, nil
}

func (s *Store) GetEntryByUniqueID(_ context.Context, uniqueID string) (entry.ConfigEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, e := range s.entries {
		if e.UniqueID == uniqueID {
			return e, nil
		}
	}
	return entry.ConfigEntry{}, storage.ErrNotFound
}

func (s *Store) ListEntries(_ context.Context) ([]entry.ConfigEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]entry.ConfigEntry, 0, len(s.entries))
	for _, e := range s.entries {
		result = append(result, e)
	}
	return result, nil
}

func (s *Store) DeleteEntry(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.entries[id]; !ok {
		return storage.ErrNotFound
	}
	delete(s.entries, id)
	return nil
}

// DeviceStore implementation --------------------------------------------------

func (s *Store) GetOrCreateDevice(_ context.Context, dev device.Device) (device.Device, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for id, existing := range s.devices {
		if !identifiersMatch(existing.Identifiers, dev.Identifiers) {
			continue
		}
		dev.ID = id
		dev.CreatedAt = existing.CreatedAt
		dev.UpdatedAt = time.Now().UTC()
		dev.Connections = cloneMap(dev.Connections)
		dev.Identifiers = cloneMap(dev.Identifiers)
		s.devices[id] = dev
		return dev, nil
	}

	if dev.ID == "" {
		dev.ID = s.nextIDLocked()
	}
	now := time.Now().UTC()
	dev.CreatedAt = now
	dev.UpdatedAt = now
	dev.Connections = cloneMap(dev.Connections)
	dev.Identifiers = cloneMap(dev.Identifiers)
	s.devices[dev.ID] = dev
	return dev, nil
}

func (s *Store) GetDevice(_ context.Context, id string) (device.Device, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	dev, ok := s.devices[id]
	if !ok {
		return device.Device{}, storage.ErrNotFound
	}
	dev.Connections = cloneMap(dev.Connections)
	dev.Identifiers = cloneMap(dev.Identifiers)
	return dev, nil
}

func (s *Store) ListDevices(_ context.Context, configEntryID string) ([]device.Device, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]device.Device, 0, len(s.devices))
	for _, dev := range s.devices {
		if configEntryID != "" && dev.ConfigEntryID != configEntryID {
			continue
		}
		dev.Connections = cloneMap(dev.Connections)
		dev.Identifiers = cloneMap(dev.Identifiers)
		result = append(result, dev)
	}
	return result, nil
}

func (s *Store) ListEntryIDs(_ context.Context) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	seen := make(map[string]struct{})
	ids := make([]string, 0)
	for _, dev := range s.devices {
		if _, ok := seen[dev.ConfigEntryID]; ok {
			continue
		}
		seen[dev.ConfigEntryID] = struct{}{}
		ids = append(ids, dev.ConfigEntryID)
	}
	return ids, nil
}

func (s *Store) DeleteDevicesForEntry(_ context.Context, configEntryID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for id, dev := range s.devices {
		if dev.ConfigEntryID == configEntryID {
			delete(s.devices, id)
		}
	}
	return nil
}

func identifiersMatch(a, b map[string]string) bool {
	for domain, id := range b {
		if a[domain] == id && id != "" {
			return true
		}
	}
	return false
}

func cloneMap(in map[string]string) map[string]string {
	if in == nil {
		return nil
	}
	out := make(map[string]string, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}
