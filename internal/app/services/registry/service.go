// Package registry manages device registry records.
package registry

import (
	"context"
	"fmt"

	"github.com/starkillerOG/HA-motion-blinds/internal/app/domain/device"
	"github.com/starkillerOG/HA-motion-blinds/internal/app/storage"
	"github.com/starkillerOG/HA-motion-blinds/pkg/logger"
)

// Manufacturer recorded for every registered gateway.
const Manufacturer = "Motionblinds"

// Service manages device registry records.
type Service struct {
	store storage.DeviceStore
	log   *logger.Logger
}

// New constructs a device registry service.
func New(store storage.DeviceStore, log *logger.Logger) *Service {
	if log == nil {
		log = logger.NewDefault("registry")
	}
	return &Service{store: store, log: log}
}

// RegisterGateway records the bridge device for a config entry. Calling it
// again for the same unique id updates the existing record.
func (s *Service) RegisterGateway(ctx context.Context, configEntryID, uniqueID, name, mac, protocol string) (device.Device, error) {
	if configEntryID == "" {
		return device.Device{}, fmt.Errorf("config entry id is required")
	}
	if uniqueID == "" {
		return device.Device{}, fmt.Errorf("unique id is required")
	}
	if mac == "" {
		return device.Device{}, fmt.Errorf("mac is required")
	}

	dev, err := s.store.GetOrCreateDevice(ctx, device.Device{
		ConfigEntryID: configEntryID,
		Connections:   map[string]string{device.ConnectionNetworkMAC: mac},
		Identifiers:   map[string]string{device.IdentifierDomain: uniqueID},
		Manufacturer:  Manufacturer,
		Model:         "Wi-Fi bridge",
		Name:          name,
		SWVersion:     protocol,
	})
	if err != nil {
		return device.Device{}, err
	}
	s.log.WithField("device_id", dev.ID).
		WithField("entry_id", configEntryID).
		WithField("mac", mac).
		Info("gateway device registered")
	return dev, nil
}

// Get retrieves a device record by id.
func (s *Service) Get(ctx context.Context, id string) (device.Device, error) {
	return s.store.GetDevice(ctx, id)
}

// List returns devices, optionally filtered by config entry.
func (s *Service) List(ctx context.Context, configEntryID string) ([]device.Device, error) {
	return s.store.ListDevices(ctx, configEntryID)
}

// RemoveForEntry deletes every device belonging to a config entry.
func (s *Service) RemoveForEntry(ctx context.Context, configEntryID string) error {
	return s.store.DeleteDevicesForEntry(ctx, configEntryID)
}
