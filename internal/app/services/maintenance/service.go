// Package maintenance runs periodic housekeeping jobs: a forced refresh of
// every active coordinator and a sweep that drops device records whose
// config entry no longer exists.
package maintenance

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/starkillerOG/HA-motion-blinds/internal/app/services/entries"
	"github.com/starkillerOG/HA-motion-blinds/internal/app/storage"
	"github.com/starkillerOG/HA-motion-blinds/internal/app/system"
	"github.com/starkillerOG/HA-motion-blinds/pkg/logger"
)

const (
	// DefaultRefreshSpec forces a poll on every active entry so state does
	// not go stale when no push arrives for a long time.
	DefaultRefreshSpec = "@every 6h"
	// DefaultSweepSpec removes device rows orphaned by deleted entries.
	DefaultSweepSpec = "@every 24h"

	jobTimeout = 30 * time.Second
)

var _ system.Service = (*Service)(nil)

// Service schedules the housekeeping jobs on a cron runner.
type Service struct {
	entries *entries.Service
	entryDB storage.EntryStore
	devices storage.DeviceStore
	log     *logger.Logger

	refreshSpec string
	sweepSpec   string

	mu      sync.Mutex
	cron    *cron.Cron
	running bool
}

// New constructs the maintenance service with the default schedules.
func New(svc *entries.Service, entryDB storage.EntryStore, devices storage.DeviceStore, log *logger.Logger) *Service {
	if log == nil {
		log = logger.NewDefault("maintenance")
	}
	return &Service{
		entries:     svc,
		entryDB:     entryDB,
		devices:     devices,
		log:         log,
		refreshSpec: DefaultRefreshSpec,
		sweepSpec:   DefaultSweepSpec,
	}
}

// SetSchedules overrides the cron specs before Start.
func (s *Service) SetSchedules(refreshSpec, sweepSpec string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if refreshSpec != "" {
		s.refreshSpec = refreshSpec
	}
	if sweepSpec != "" {
		s.sweepSpec = sweepSpec
	}
}

func (s *Service) Name() string { return "maintenance" }

// Start registers the jobs and starts the cron runner.
func (s *Service) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return nil
	}

	c := cron.New()
	if _, err := c.AddFunc(s.refreshSpec, s.refreshAll); err != nil {
		return fmt.Errorf("schedule refresh job: %w", err)
	}
	if _, err := c.AddFunc(s.sweepSpec, s.sweepOrphans); err != nil {
		return fmt.Errorf("schedule sweep job: %w", err)
	}
	c.Start()

	s.cron = c
	s.running = true
	s.log.WithField("refresh", s.refreshSpec).WithField("sweep", s.sweepSpec).Info("maintenance jobs scheduled")
	return nil
}

// Stop halts the cron runner and waits for a running job to finish.
func (s *Service) Stop(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.running {
		return nil
	}
	stopCtx := s.cron.Stop()
	select {
	case <-stopCtx.Done():
	case <-ctx.Done():
		return ctx.Err()
	}
	s.cron = nil
	s.running = false
	return nil
}

// refreshAll forces a poll on every active entry.
func (s *Service) refreshAll() {
	ctx, cancel := context.WithTimeout(context.Background(), jobTimeout)
	defer cancel()
	s.RefreshAll(ctx)
}

// RefreshAll polls every active entry once and logs failures.
func (s *Service) RefreshAll(ctx context.Context) {
	persisted, err := s.entries.List(ctx)
	if err != nil {
		s.log.WithError(err).Error("maintenance refresh: list entries")
		return
	}
	for _, e := range persisted {
		coord, ok := s.entries.Coordinator(e.ID)
		if !ok {
			continue
		}
		if err := coord.Refresh(ctx); err != nil {
			s.log.WithError(err).WithField("entry_id", e.ID).Warn("maintenance refresh failed")
		}
	}
}

// sweepOrphans is the scheduled wrapper around SweepOrphans.
func (s *Service) sweepOrphans() {
	ctx, cancel := context.WithTimeout(context.Background(), jobTimeout)
	defer cancel()
	if _, err := s.SweepOrphans(ctx); err != nil {
		s.log.WithError(err).Error("maintenance sweep failed")
	}
}

// SweepOrphans deletes device rows whose config entry no longer exists and
// returns how many entry buckets were cleared.
func (s *Service) SweepOrphans(ctx context.Context) (int, error) {
	persisted, err := s.entryDB.ListEntries(ctx)
	if err != nil {
		return 0, fmt.Errorf("list entries: %w", err)
	}
	known := make(map[string]struct{}, len(persisted))
	for _, e := range persisted {
		known[e.ID] = struct{}{}
	}

	entryIDs, err := s.devices.ListEntryIDs(ctx)
	if err != nil {
		return 0, fmt.Errorf("list device entry ids: %w", err)
	}

	cleared := 0
	for _, entryID := range entryIDs {
		if _, ok := known[entryID]; ok {
			continue
		}
		if err := s.devices.DeleteDevicesForEntry(ctx, entryID); err != nil {
			return cleared, fmt.Errorf("delete devices for %s: %w", entryID, err)
		}
		cleared++
		s.log.WithField("entry_id", entryID).Info("removed orphaned device records")
	}
	return cleared, nil
}
