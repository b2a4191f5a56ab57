package motion

import (
	"io"
	"testing"

	"github.com/starkillerOG/HA-motion-blinds/pkg/logger"
)

func discardLogger() *logger.Logger {
	log := logger.NewDefault("test")
	log.SetOutput(io.Discard)
	return log
}

func TestMulticast_RoutesByGatewayMACPrefix(t *testing.T) {
	m := NewMulticast(discardLogger())

	var got []byte
	m.Register("aabbccddeeff", func(raw []byte) { got = raw })

	// Blind reports carry the gateway mac as prefix of their own.
	m.route([]byte(`{"msgType":"Report","mac":"aabbccddeeff0001","data":{"currentPosition":10}}`))
	if got == nil {
		t.Fatal("push not routed to gateway handler")
	}

	got = nil
	m.route([]byte(`{"msgType":"Report","mac":"001122334455","data":{}}`))
	if got != nil {
		t.Fatal("push for unknown gateway must be dropped")
	}

	m.Unregister("aabbccddeeff")
	m.route([]byte(`{"msgType":"Report","mac":"aabbccddeeff0001"}`))
	if got != nil {
		t.Fatal("push routed after unregister")
	}
}

func TestMulticast_IgnoresPayloadWithoutMAC(t *testing.T) {
	m := NewMulticast(discardLogger())
	called := false
	m.Register("", func([]byte) { called = true })

	m.route([]byte(`{"msgType":"Heartbeat"}`))
	if called {
		t.Fatal("payload without mac must not be routed")
	}
}

func TestMulticast_StopWithoutStartIsNoop(t *testing.T) {
	m := NewMulticast(discardLogger())
	m.StopListen()
	if m.Running() {
		t.Fatal("listener must not be running")
	}
}
