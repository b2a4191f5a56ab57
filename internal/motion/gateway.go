package motion

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/tidwall/gjson"
)

// gateway is the UDP-backed Gateway implementation.
type gateway struct {
	transport transport
	key       string

	mu       sync.RWMutex
	mac      string
	protocol string
	token    string
	blinds   map[string]*gatewayBlind
}

var _ Gateway = (*gateway)(nil)

// Connect dials a gateway, enumerates its blinds and refreshes their state
// once. A gateway that cannot be reached returns the transport error so the
// caller can retry setup later.
func Connect(ctx context.Context, host, key string) (Gateway, error) {
	g := &gateway{
		transport: newUDPTransport(host, DefaultTimeout),
		key:       key,
		blinds:    make(map[string]*gatewayBlind),
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := g.fetchDeviceList(); err != nil {
		return nil, err
	}
	if err := g.Update(); err != nil {
		return nil, err
	}
	return g, nil
}

func (g *gateway) fetchDeviceList() error {
	raw, err := g.transport.roundTrip(map[string]any{
		"msgType": "GetDeviceList",
		"msgID":   msgID(),
	})
	if err != nil {
		return err
	}

	mac := field(raw, "mac")
	if mac == "" {
		return fmt.Errorf("gateway answered without a mac")
	}

	g.mu.Lock()
	defer g.mu.Unlock()
	g.mac = mac
	g.protocol = field(raw, "ProtocolVersion")
	g.token = field(raw, "token")

	seen := make(map[string]struct{})
	gjson.GetBytes(raw, "data").ForEach(func(_, item gjson.Result) bool {
		blindMAC := item.Get("mac").String()
		deviceType := item.Get("deviceType").String()
		// The gateway lists itself; only subdevices become blinds.
		if blindMAC == "" || blindMAC == g.mac {
			return true
		}
		seen[blindMAC] = struct{}{}
		if _, known := g.blinds[blindMAC]; !known {
			g.blinds[blindMAC] = &gatewayBlind{gateway: g, mac: blindMAC, deviceType: deviceType}
		}
		return true
	})
	for mac := range g.blinds {
		if _, still := seen[mac]; !still {
			delete(g.blinds, mac)
		}
	}
	return nil
}

// Update refreshes the gateway status and every known blind. The exchange is
// synchronous; callers are expected to run it off the hot path.
func (g *gateway) Update() error {
	if err := g.fetchDeviceList(); err != nil {
		return err
	}
	for _, b := range g.snapshotBlinds() {
		if err := b.Update(); err != nil {
			return err
		}
	}
	return nil
}

func (g *gateway) snapshotBlinds() []*gatewayBlind {
	g.mu.RLock()
	defer g.mu.RUnlock()
	out := make([]*gatewayBlind, 0, len(g.blinds))
	for _, b := range g.blinds {
		out = append(out, b)
	}
	return out
}

func (g *gateway) MAC() string {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.mac
}

func (g *gateway) Protocol() string {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.protocol
}

func (g *gateway) Blinds() map[string]Blind {
	g.mu.RLock()
	defer g.mu.RUnlock()
	out := make(map[string]Blind, len(g.blinds))
	for mac, b := range g.blinds {
		out[mac] = b
	}
	return out
}

// gatewayBlind is a single blind reached through its gateway transport.
type gatewayBlind struct {
	gateway    *gateway
	mac        string
	deviceType string

	mu       sync.RWMutex
	position int
	angle    int
	battery  float64
}

var _ Blind = (*gatewayBlind)(nil)

func (b *gatewayBlind) MAC() string  { return b.mac }
func (b *gatewayBlind) Type() string { return b.deviceType }

func (b *gatewayBlind) Position() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.position
}

func (b *gatewayBlind) Angle() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.angle
}

func (b *gatewayBlind) BatteryLevel() float64 {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.battery
}

func (b *gatewayBlind) Update() error {
	raw, err := b.gateway.transport.roundTrip(map[string]any{
		"msgType":    "ReadDevice",
		"mac":        b.mac,
		"deviceType": b.deviceType,
		"msgID":      msgID(),
	})
	if err != nil {
		return err
	}
	b.absorb(raw)
	return nil
}

// absorb lifts the state fields out of a raw device payload. Raw pushes from
// the multicast listener are fed through the same path.
func (b *gatewayBlind) absorb(raw []byte) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.position = intField(raw, "data.currentPosition")
	b.angle = intField(raw, "data.currentAngle")
	// The gateway reports battery in centivolts.
	b.battery = float64(intField(raw, "data.batteryLevel")) / 100
}

func (b *gatewayBlind) SetPosition(position int) error {
	if position < 0 || position > 100 {
		return fmt.Errorf("position must be within 0..100, got %d", position)
	}
	return b.write(map[string]any{"targetPosition": position})
}

func (b *gatewayBlind) SetAbsolutePosition(position, width int) error {
	if position < 0 || position > 100 {
		return fmt.Errorf("absolute position must be within 0..100, got %d", position)
	}
	data := map[string]any{"targetPosition": position}
	if width >= 0 {
		if width > 100 {
			return fmt.Errorf("width must be within 0..100, got %d", width)
		}
		data["targetWidth"] = width
	}
	return b.write(data)
}

func (b *gatewayBlind) Stop() error {
	return b.write(map[string]any{"operation": 2})
}

func (b *gatewayBlind) write(data map[string]any) error {
	b.gateway.mu.RLock()
	key, token := b.gateway.key, b.gateway.token
	b.gateway.mu.RUnlock()

	access, err := accessToken(key, token)
	if err != nil {
		return fmt.Errorf("derive access token: %w", err)
	}
	raw, err := b.gateway.transport.roundTrip(map[string]any{
		"msgType":     "WriteDevice",
		"mac":         b.mac,
		"deviceType":  b.deviceType,
		"AccessToken": access,
		"msgID":       msgID(),
		"data":        data,
	})
	if err != nil {
		return err
	}
	if field(raw, "actionResult") != "" {
		return fmt.Errorf("gateway rejected command: %s", field(raw, "actionResult"))
	}
	b.absorb(raw)
	return nil
}

// AbsorbPush feeds a raw multicast report into the cached blind state. The
// payload must carry the blind's mac.
func AbsorbPush(g Gateway, raw []byte) bool {
	impl, ok := g.(*gateway)
	if !ok {
		return false
	}
	mac := field(raw, "mac")
	impl.mu.RLock()
	b, found := impl.blinds[mac]
	impl.mu.RUnlock()
	if !found {
		return false
	}
	b.absorb(raw)
	return true
}

// dialDelay spaces retried connection attempts. Exposed for tests.
var dialDelay = 100 * time.Millisecond

// ConnectWithRetry attempts Connect up to attempts times, backing off between
// tries, and returns the last error when every attempt fails.
func ConnectWithRetry(ctx context.Context, host, key string, attempts int) (Gateway, error) {
	if attempts < 1 {
		attempts = 1
	}
	var lastErr error
	for i := 0; i < attempts; i++ {
		g, err := Connect(ctx, host, key)
		if err == nil {
			return g, nil
		}
		lastErr = err
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(dialDelay):
		}
	}
	return nil, lastErr
}
