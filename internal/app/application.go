package app

import (
	"context"
	"fmt"

	"github.com/starkillerOG/HA-motion-blinds/internal/app/dispatcher"
	"github.com/starkillerOG/HA-motion-blinds/internal/app/metrics"
	"github.com/starkillerOG/HA-motion-blinds/internal/app/services/calls"
	entriessvc "github.com/starkillerOG/HA-motion-blinds/internal/app/services/entries"
	"github.com/starkillerOG/HA-motion-blinds/internal/app/services/maintenance"
	"github.com/starkillerOG/HA-motion-blinds/internal/app/services/registry"
	"github.com/starkillerOG/HA-motion-blinds/internal/app/storage"
	"github.com/starkillerOG/HA-motion-blinds/internal/app/storage/memory"
	"github.com/starkillerOG/HA-motion-blinds/internal/app/system"
	"github.com/starkillerOG/HA-motion-blinds/internal/motion"
	"github.com/starkillerOG/HA-motion-blinds/pkg/logger"
)

// Stores encapsulates persistence dependencies. Nil stores default to the
// in-memory implementation.
type Stores struct {
	Entries storage.EntryStore
	Devices storage.DeviceStore
}

// Options tunes optional wiring of the application.
type Options struct {
	// Connector overrides how gateways are reached. Nil uses the UDP
	// connector against real hardware.
	Connector motion.Connector
	// Listener overrides the shared multicast listener. Nil joins the
	// Motionblinds multicast group on the local network.
	Listener entriessvc.Listener
	// RedisURL, when set, mirrors dispatcher signals onto a Redis channel.
	RedisURL string
	// MaintenanceRefreshSpec and MaintenanceSweepSpec override the cron
	// schedules of the housekeeping jobs.
	MaintenanceRefreshSpec string
	MaintenanceSweepSpec   string
}

// Application ties the bridge services together and manages their lifecycle.
type Application struct {
	manager *system.Manager
	log     *logger.Logger
	mirror  *dispatcher.RedisMirror

	Dispatcher  *dispatcher.Dispatcher
	Registry    *registry.Service
	Entries     *entriessvc.Service
	Calls       *calls.Service
	Maintenance *maintenance.Service
}

// metricsMirror counts every dispatched signal.
type metricsMirror struct{}

func (metricsMirror) Relay(signal string, _ map[string]any) {
	metrics.RecordDispatch(signal)
}

// New builds a fully initialised application with the provided stores.
func New(stores Stores, opts Options, log *logger.Logger) (*Application, error) {
	if log == nil {
		log = logger.NewDefault("app")
	}

	mem := memory.New()
	if stores.Entries == nil {
		stores.Entries = mem
	}
	if stores.Devices == nil {
		stores.Devices = mem
	}

	disp := dispatcher.New()
	disp.AttachMirror(metricsMirror{})

	var redisMirror *dispatcher.RedisMirror
	if opts.RedisURL != "" {
		m, err := dispatcher.NewRedisMirror(opts.RedisURL, "", log)
		if err != nil {
			return nil, fmt.Errorf("configure redis mirror: %w", err)
		}
		disp.AttachMirror(m)
		redisMirror = m
	}

	listener := opts.Listener
	if listener == nil {
		listener = motion.NewMulticast(log)
	}

	reg := registry.New(stores.Devices, log)
	entries := entriessvc.New(stores.Entries, opts.Connector, listener, disp, reg, log)
	callService := calls.New(disp, log)
	maint := maintenance.New(entries, stores.Entries, stores.Devices, log)
	maint.SetSchedules(opts.MaintenanceRefreshSpec, opts.MaintenanceSweepSpec)

	manager := system.NewManager()
	for _, svc := range []system.Service{entries, maint} {
		if err := manager.Register(svc); err != nil {
			return nil, fmt.Errorf("register %s: %w", svc.Name(), err)
		}
	}

	return &Application{
		manager:     manager,
		log:         log,
		mirror:      redisMirror,
		Dispatcher:  disp,
		Registry:    reg,
		Entries:     entries,
		Calls:       callService,
		Maintenance: maint,
	}, nil
}

// Attach registers an additional lifecycle-managed service. Call before Start.
func (a *Application) Attach(service system.Service) error {
	return a.manager.Register(service)
}

// Start begins all registered services.
func (a *Application) Start(ctx context.Context) error {
	return a.manager.Start(ctx)
}

// Stop stops all services and closes the Redis mirror when one is attached.
func (a *Application) Stop(ctx context.Context) error {
	err := a.manager.Stop(ctx)
	if a.mirror != nil {
		if cerr := a.mirror.Close(); cerr != nil && err == nil {
			err = cerr
		}
	}
	return err
}
