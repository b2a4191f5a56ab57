// Package entries owns the config-entry lifecycle: gateway connection, the
// shared multicast listener, per-entry coordinators and device registration.
package entries

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/starkillerOG/HA-motion-blinds/internal/app/dispatcher"
	"github.com/starkillerOG/HA-motion-blinds/internal/app/domain/entry"
	"github.com/starkillerOG/HA-motion-blinds/internal/app/metrics"
	"github.com/starkillerOG/HA-motion-blinds/internal/app/services/coordinator"
	"github.com/starkillerOG/HA-motion-blinds/internal/app/services/registry"
	"github.com/starkillerOG/HA-motion-blinds/internal/app/storage"
	"github.com/starkillerOG/HA-motion-blinds/internal/app/system"
	"github.com/starkillerOG/HA-motion-blinds/internal/motion"
	"github.com/starkillerOG/HA-motion-blinds/pkg/logger"
)

// ErrEntryNotReady marks a setup attempt that failed because the gateway
// could not be reached. The entry stays persisted and setup can be retried.
var ErrEntryNotReady = errors.New("config entry not ready")

// apiKeyLength is the fixed length of a Motionblinds account key.
const apiKeyLength = 16

var _ system.Service = (*Service)(nil)

// Listener is the shared push listener contract. *motion.Multicast satisfies
// it; tests substitute a fake.
type Listener interface {
	StartListen() error
	StopListen()
	Register(gatewayMAC string, handler motion.PushHandler)
	Unregister(gatewayMAC string)
}

var _ Listener = (*motion.Multicast)(nil)

// runtime is the live state of one set-up entry.
type runtime struct {
	gateway     motion.Gateway
	coordinator *coordinator.Coordinator
	mac         string
}

// Service manages config entries and their runtime state.
type Service struct {
	store      storage.EntryStore
	connector  motion.Connector
	multicast  Listener
	dispatcher *dispatcher.Dispatcher
	registry   *registry.Service
	log        *logger.Logger

	mu           sync.Mutex
	active       map[string]*runtime
	listenerRefs int
}

// New constructs the entry lifecycle service.
func New(store storage.EntryStore, connector motion.Connector, multicast Listener, disp *dispatcher.Dispatcher, reg *registry.Service, log *logger.Logger) *Service {
	if log == nil {
		log = logger.NewDefault("entries")
	}
	if connector == nil {
		connector = motion.ConnectorFunc(motion.Connect)
	}
	return &Service{
		store:      store,
		connector:  connector,
		multicast:  multicast,
		dispatcher: disp,
		registry:   reg,
		log:        log,
		active:     make(map[string]*runtime),
	}
}

func (s *Service) Name() string { return "entries" }

// Start sets up every persisted entry. Gateways that are not reachable yet
// are logged and left for a later Reload.
func (s *Service) Start(ctx context.Context) error {
	persisted, err := s.store.ListEntries(ctx)
	if err != nil {
		return fmt.Errorf("list entries: %w", err)
	}
	for _, e := range persisted {
		if err := s.Setup(ctx, e.ID); err != nil {
			if errors.Is(err, ErrEntryNotReady) {
				s.log.WithError(err).WithField("entry_id", e.ID).Warn("entry not ready, setup deferred")
				continue
			}
			return err
		}
	}
	return nil
}

// Stop unloads every active entry.
func (s *Service) Stop(ctx context.Context) error {
	s.mu.Lock()
	ids := make([]string, 0, len(s.active))
	for id := range s.active {
		ids = append(ids, id)
	}
	s.mu.Unlock()

	var firstErr error
	for _, id := range ids {
		if err := s.Unload(ctx, id); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// Add validates and persists a new entry, then attempts its setup. The entry
// is returned even when setup fails with ErrEntryNotReady.
func (s *Service) Add(ctx context.Context, title, host, apiKey string, pollInterval time.Duration) (entry.ConfigEntry, error) {
	title = strings.TrimSpace(title)
	host = strings.TrimSpace(host)
	apiKey = strings.TrimSpace(apiKey)

	if host == "" {
		return entry.ConfigEntry{}, fmt.Errorf("host is required")
	}
	if len(apiKey) != apiKeyLength {
		return entry.ConfigEntry{}, fmt.Errorf("api key must be %d characters", apiKeyLength)
	}
	if title == "" {
		title = host
	}
	if pollInterval <= 0 {
		pollInterval = coordinator.DefaultInterval
	}

	e, err := s.store.CreateEntry(ctx, entry.ConfigEntry{
		Title:        title,
		Host:         host,
		APIKey:       apiKey,
		PollInterval: pollInterval,
	})
	if err != nil {
		return entry.ConfigEntry{}, err
	}
	s.log.WithField("entry_id", e.ID).WithField("host", host).Info("config entry added")

	if err := s.Setup(ctx, e.ID); err != nil {
		return e, err
	}
	// Setup adopts the gateway mac as the unique id; hand back the stored
	// entry so the caller sees it.
	return s.store.GetEntry(ctx, e.ID)
}

// Setup connects the entry's gateway and brings up its runtime. The shared
// multicast listener starts with the first holder, counting this setup.
func (s *Service) Setup(ctx context.Context, entryID string) error {
	s.mu.Lock()
	if _, already := s.active[entryID]; already {
		s.mu.Unlock()
		return nil
	}
	s.mu.Unlock()

	e, err := s.store.GetEntry(ctx, entryID)
	if err != nil {
		return err
	}

	// The listener reference is held for the whole setup so a concurrent
	// Unload of the last active entry cannot stop the listener under us.
	if err := s.acquireListener(); err != nil {
		return fmt.Errorf("start multicast listener: %w", err)
	}

	gw, err := s.connector.Connect(ctx, e.Host, e.APIKey)
	if err != nil {
		s.releaseListener()
		return fmt.Errorf("%w: connect %s: %v", ErrEntryNotReady, e.Host, err)
	}

	mac := gw.MAC()
	if e.UniqueID == "" {
		e.UniqueID = mac
		if e, err = s.store.UpdateEntry(ctx, e); err != nil {
			s.releaseListener()
			return fmt.Errorf("record unique id: %w", err)
		}
	}

	coord := coordinator.New(e.ID, e.Title, gw, s.dispatcher, e.PollInterval, s.log)

	s.multicast.Register(mac, func(raw []byte) {
		if motion.AbsorbPush(gw, raw) {
			metrics.RecordMulticastPush(e.ID)
			coord.NotifyPush()
		}
	})

	// Initial fetch so data exists before anyone subscribes. A failed first
	// poll is not fatal; the scheduled polls retry.
	if err := coord.Refresh(ctx); err != nil {
		s.log.WithError(err).WithField("entry_id", e.ID).Warn("initial refresh failed")
	}

	if s.registry != nil {
		if _, err := s.registry.RegisterGateway(ctx, e.ID, e.UniqueID, e.Title, mac, gw.Protocol()); err != nil {
			s.log.WithError(err).WithField("entry_id", e.ID).Warn("device registration failed")
		}
	}

	if err := coord.Start(ctx); err != nil {
		s.multicast.Unregister(mac)
		s.releaseListener()
		return fmt.Errorf("start coordinator: %w", err)
	}

	s.mu.Lock()
	if _, already := s.active[e.ID]; already {
		// Lost a setup race for the same entry; the winner owns the
		// registration and the listener reference.
		s.mu.Unlock()
		_ = coord.Stop(ctx)
		s.releaseListener()
		return nil
	}
	s.active[e.ID] = &runtime{gateway: gw, coordinator: coord, mac: mac}
	s.mu.Unlock()

	s.log.WithField("entry_id", e.ID).WithField("mac", mac).Info("config entry set up")
	return nil
}

// Unload tears down an entry's runtime. The shared multicast listener stops
// when the last active entry unloads.
func (s *Service) Unload(ctx context.Context, entryID string) error {
	s.mu.Lock()
	rt, ok := s.active[entryID]
	if !ok {
		s.mu.Unlock()
		return nil
	}
	delete(s.active, entryID)
	s.mu.Unlock()

	if err := rt.coordinator.Stop(ctx); err != nil {
		s.log.WithError(err).WithField("entry_id", entryID).Warn("coordinator stop failed")
	}
	s.multicast.Unregister(rt.mac)
	s.releaseListener()

	s.log.WithField("entry_id", entryID).Info("config entry unloaded")
	return nil
}

// Reload unloads and sets up an entry again.
func (s *Service) Reload(ctx context.Context, entryID string) error {
	if err := s.Unload(ctx, entryID); err != nil {
		return err
	}
	return s.Setup(ctx, entryID)
}

// Remove unloads an entry and deletes it and its devices permanently.
func (s *Service) Remove(ctx context.Context, entryID string) error {
	if err := s.Unload(ctx, entryID); err != nil {
		return err
	}
	if s.registry != nil {
		if err := s.registry.RemoveForEntry(ctx, entryID); err != nil {
			return fmt.Errorf("remove devices: %w", err)
		}
	}
	return s.store.DeleteEntry(ctx, entryID)
}

// Get returns a persisted entry.
func (s *Service) Get(ctx context.Context, entryID string) (entry.ConfigEntry, error) {
	return s.store.GetEntry(ctx, entryID)
}

// List returns all persisted entries.
func (s *Service) List(ctx context.Context) ([]entry.ConfigEntry, error) {
	return s.store.ListEntries(ctx)
}

// Coordinator returns the live coordinator for an active entry.
func (s *Service) Coordinator(entryID string) (*coordinator.Coordinator, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rt, ok := s.active[entryID]
	if !ok {
		return nil, false
	}
	return rt.coordinator, true
}

// Gateway returns the live gateway for an active entry.
func (s *Service) Gateway(entryID string) (motion.Gateway, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rt, ok := s.active[entryID]
	if !ok {
		return nil, false
	}
	return rt.gateway, true
}

// ActiveCount reports how many entries are currently set up.
func (s *Service) ActiveCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.active)
}

// acquireListener takes one reference on the shared multicast listener,
// starting it for the first holder. References count in-flight setups as
// well as active entries, so the start and stop decisions stay atomic with
// membership changes.
func (s *Service) acquireListener() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listenerRefs == 0 {
		if err := s.multicast.StartListen(); err != nil {
			return err
		}
	}
	s.listenerRefs++
	return nil
}

// releaseListener drops one reference and stops the listener with the last.
func (s *Service) releaseListener() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listenerRefs == 0 {
		return
	}
	s.listenerRefs--
	if s.listenerRefs == 0 {
		s.multicast.StopListen()
	}
}
