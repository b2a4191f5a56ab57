package motion

import (
	"context"
	"sync"
)

// FakeGateway is an in-memory Gateway for tests and local development.
type FakeGateway struct {
	mu              sync.Mutex
	GatewayMAC      string
	ProtocolVersion string
	FakeBlinds      map[string]*FakeBlind
	UpdateErr       error
	UpdateCalls     int
}

var _ Gateway = (*FakeGateway)(nil)

// NewFakeGateway returns a gateway with the given mac and no blinds.
func NewFakeGateway(mac string) *FakeGateway {
	return &FakeGateway{
		GatewayMAC:      mac,
		ProtocolVersion: "0.9",
		FakeBlinds:      make(map[string]*FakeBlind),
	}
}

// AddBlind registers a fake blind under the gateway.
func (g *FakeGateway) AddBlind(mac, deviceType string, position int) *FakeBlind {
	b := &FakeBlind{BlindMAC: mac, DeviceType: deviceType, Pos: position}
	g.mu.Lock()
	g.FakeBlinds[mac] = b
	g.mu.Unlock()
	return b
}

// SetUpdateErr makes subsequent Update calls fail with err.
func (g *FakeGateway) SetUpdateErr(err error) {
	g.mu.Lock()
	g.UpdateErr = err
	g.mu.Unlock()
}

func (g *FakeGateway) Update() error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.UpdateCalls++
	if g.UpdateErr != nil {
		return g.UpdateErr
	}
	for _, b := range g.FakeBlinds {
		b.mu.Lock()
		b.updates++
		b.mu.Unlock()
	}
	return nil
}

// Updates reports how many Update calls the gateway has served.
func (g *FakeGateway) Updates() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.UpdateCalls
}

func (g *FakeGateway) MAC() string      { return g.GatewayMAC }
func (g *FakeGateway) Protocol() string { return g.ProtocolVersion }

func (g *FakeGateway) Blinds() map[string]Blind {
	g.mu.Lock()
	defer g.mu.Unlock()
	out := make(map[string]Blind, len(g.FakeBlinds))
	for mac, b := range g.FakeBlinds {
		out[mac] = b
	}
	return out
}

// FakeConnector returns the given gateway for every Connect call, or err when
// set.
func FakeConnector(g Gateway, err error) Connector {
	return ConnectorFunc(func(_ context.Context, _, _ string) (Gateway, error) {
		if err != nil {
			return nil, err
		}
		return g, nil
	})
}

// FakeBlind is an in-memory Blind.
type FakeBlind struct {
	mu         sync.Mutex
	BlindMAC   string
	DeviceType string
	Pos        int
	Ang        int
	Battery    float64
	updates    int
	LastWidth  int
}

var _ Blind = (*FakeBlind)(nil)

func (b *FakeBlind) MAC() string  { return b.BlindMAC }
func (b *FakeBlind) Type() string { return b.DeviceType }

func (b *FakeBlind) Position() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.Pos
}

func (b *FakeBlind) Angle() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.Ang
}

func (b *FakeBlind) BatteryLevel() float64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.Battery
}

func (b *FakeBlind) Update() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.updates++
	return nil
}

func (b *FakeBlind) SetPosition(position int) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.Pos = position
	return nil
}

func (b *FakeBlind) SetAbsolutePosition(position, width int) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.Pos = position
	b.LastWidth = width
	return nil
}

func (b *FakeBlind) Stop() error { return nil }
