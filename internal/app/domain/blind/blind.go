package blind

import "time"

// Snapshot captures the last polled state of a single blind.
type Snapshot struct {
	MAC          string
	DeviceType   string
	Position     int
	Angle        int
	BatteryLevel float64
	UpdatedAt    time.Time
}
