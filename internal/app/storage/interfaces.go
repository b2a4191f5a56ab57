package storage

import (
	"context"
	"errors"

	"github.com/starkillerOG/HA-motion-blinds/internal/app/domain/device"
	"github.com/starkillerOG/HA-motion-blinds/internal/app/domain/entry"
)

// ErrNotFound is returned when a record does not exist.
var ErrNotFound = errors.New("not found")

// EntryStore persists gateway config entries.
type EntryStore interface {
	CreateEntry(ctx context.Context, e entry.ConfigEntry) (entry.ConfigEntry, error)
	UpdateEntry(ctx context.Context, e entry.ConfigEntry) (entry.ConfigEntry, error)
	GetEntry(ctx context.Context, id string) (entry.ConfigEntry, error)
	GetEntryByUniqueID(ctx context.Context, uniqueID string) (entry.ConfigEntry, error)
	ListEntries(ctx context.Context) ([]entry.ConfigEntry, error)
	DeleteEntry(ctx context.Context, id string) error
}

// DeviceStore persists device registry records.
type DeviceStore interface {
	// GetOrCreateDevice returns the existing record sharing an identifier
	// with dev, updated in place from dev, or creates a new one.
	GetOrCreateDevice(ctx context.Context, dev device.Device) (device.Device, error)
	GetDevice(ctx context.Context, id string) (device.Device, error)
	// ListDevices returns all devices, or only those belonging to a config
	// entry when configEntryID is non-empty.
	ListDevices(ctx context.Context, configEntryID string) ([]device.Device, error)
	// ListEntryIDs returns the distinct config entry ids that still own
	// device records.
	ListEntryIDs(ctx context.Context) ([]string, error)
	DeleteDevicesForEntry(ctx context.Context, configEntryID string) error
}
