package motion

import (
	"fmt"
	"net"
	"sync"

	"github.com/tidwall/gjson"

	"github.com/starkillerOG/HA-motion-blinds/pkg/logger"
)

// PushHandler receives raw multicast payloads addressed to a gateway.
type PushHandler func(raw []byte)

// Multicast listens for local push reports from all gateways on the shared
// multicast group. One instance is shared by every configured gateway; it is
// started once on first use and stopped once when the last user goes away.
type Multicast struct {
	log *logger.Logger

	mu       sync.Mutex
	conn     *net.UDPConn
	handlers map[string]PushHandler
	running  bool
	done     chan struct{}
}

// NewMulticast returns a stopped listener.
func NewMulticast(log *logger.Logger) *Multicast {
	if log == nil {
		log = logger.NewDefault("motion-multicast")
	}
	return &Multicast{
		log:      log,
		handlers: make(map[string]PushHandler),
	}
}

// Register routes pushes whose mac field starts with the gateway mac to the
// handler. Blind reports carry the gateway mac as a prefix of their own.
func (m *Multicast) Register(gatewayMAC string, handler PushHandler) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.handlers[gatewayMAC] = handler
}

// Unregister removes a gateway's push handler.
func (m *Multicast) Unregister(gatewayMAC string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.handlers, gatewayMAC)
}

// StartListen joins the multicast group and begins routing pushes. Calling it
// on a running listener is a no-op.
func (m *Multicast) StartListen() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.running {
		return nil
	}

	group := &net.UDPAddr{IP: net.ParseIP(MulticastGroup), Port: GatewayPort}
	conn, err := net.ListenMulticastUDP("udp4", nil, group)
	if err != nil {
		return fmt.Errorf("join multicast group %s: %w", group, err)
	}
	_ = conn.SetReadBuffer(1 << 16)

	m.conn = conn
	m.running = true
	m.done = make(chan struct{})

	go m.listen(conn, m.done)
	m.log.Info("multicast listener started")
	return nil
}

// StopListen leaves the multicast group. Calling it on a stopped listener is
// a no-op.
func (m *Multicast) StopListen() {
	m.mu.Lock()
	if !m.running {
		m.mu.Unlock()
		return
	}
	conn := m.conn
	done := m.done
	m.conn = nil
	m.running = false
	m.mu.Unlock()

	_ = conn.Close()
	<-done
	m.log.Info("multicast listener stopped")
}

func (m *Multicast) listen(conn *net.UDPConn, done chan struct{}) {
	defer close(done)

	buf := make([]byte, 4096)
	for {
		n, _, err := conn.ReadFromUDP(buf)
		if err != nil {
			// Closed socket means StopListen; anything else is fatal
			// for this listener too.
			return
		}
		raw := make([]byte, n)
		copy(raw, buf[:n])
		m.route(raw)
	}
}

func (m *Multicast) route(raw []byte) {
	mac := gjson.GetBytes(raw, "mac").String()
	if mac == "" {
		return
	}

	m.mu.Lock()
	var handler PushHandler
	for gatewayMAC, h := range m.handlers {
		if len(mac) >= len(gatewayMAC) && mac[:len(gatewayMAC)] == gatewayMAC {
			handler = h
			break
		}
	}
	m.mu.Unlock()

	if handler == nil {
		m.log.WithField("mac", mac).Debug("push for unknown gateway dropped")
		return
	}
	handler(raw)
}

// Running reports whether the listener is active.
func (m *Multicast) Running() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.running
}
