package device

import "time"

// Connection and identifier keys used by the registry.
const (
	ConnectionNetworkMAC = "mac"
	IdentifierDomain     = "motion_blinds"
)

// Device is a registry record for a physical gateway or blind.
type Device struct {
	ID            string
	ConfigEntryID string
	// Connections maps a connection type (e.g. "mac") to its value.
	Connections map[string]string
	// Identifiers maps a domain to an opaque unique id within that domain.
	Identifiers  map[string]string
	Manufacturer string
	Model        string
	Name         string
	SWVersion    string
	CreatedAt    time.Time
	UpdatedAt    time.Time
}
