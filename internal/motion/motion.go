// Package motion is a narrow client for Motionblinds Wi-Fi gateways. It keeps
// the vendor wire format opaque: requests and responses travel as JSON blobs
// and only the handful of fields the bridge needs are lifted out.
package motion

import (
	"context"
	"time"
)

// UDP port used by the gateway for both unicast commands and multicast pushes.
const (
	GatewayPort    = 32100
	MulticastGroup = "238.0.0.18"
)

// DefaultTimeout bounds a single request/response exchange with the gateway.
const DefaultTimeout = 5 * time.Second

// Gateway is a connected Motionblinds Wi-Fi bridge.
type Gateway interface {
	// Update synchronously refreshes the gateway status and the cached
	// state of every known blind. It blocks for the duration of the
	// network exchange.
	Update() error
	MAC() string
	Protocol() string
	Blinds() map[string]Blind
}

// Blind is a single motorized blind behind a gateway.
type Blind interface {
	MAC() string
	Type() string
	// Position is the current travel position, 0 (open) to 100 (closed).
	Position() int
	Angle() int
	BatteryLevel() float64
	Update() error
	SetPosition(position int) error
	// SetAbsolutePosition targets an absolute position, optionally with a
	// width for top-down-bottom-up blinds. width < 0 means unset.
	SetAbsolutePosition(position, width int) error
	Stop() error
}

// Connector establishes gateway connections. It exists as an interface so the
// entry lifecycle can be exercised without network access.
type Connector interface {
	Connect(ctx context.Context, host, key string) (Gateway, error)
}

// ConnectorFunc adapts a function to the Connector interface.
type ConnectorFunc func(ctx context.Context, host, key string) (Gateway, error)

func (f ConnectorFunc) Connect(ctx context.Context, host, key string) (Gateway, error) {
	return f(ctx, host, key)
}
