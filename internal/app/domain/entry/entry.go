package entry

import "time"

// ConfigEntry describes one configured Motionblinds gateway.
type ConfigEntry struct {
	ID           string
	Title        string
	Host         string
	APIKey       string
	UniqueID     string
	PollInterval time.Duration
	CreatedAt    time.Time
	UpdatedAt    time.Time
}
