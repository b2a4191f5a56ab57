package motion

import (
	"context"
	"encoding/json"
	"fmt"
	"testing"
)

// scriptedTransport answers requests by msgType.
type scriptedTransport struct {
	responses map[string]func(request map[string]any) ([]byte, error)
	requests  []map[string]any
}

func (t *scriptedTransport) roundTrip(request map[string]any) ([]byte, error) {
	t.requests = append(t.requests, request)
	fn, ok := t.responses[request["msgType"].(string)]
	if !ok {
		return nil, fmt.Errorf("unexpected msgType %v", request["msgType"])
	}
	return fn(request)
}

func deviceListAck(mac, protocol, token string, blinds ...string) []byte {
	data := []map[string]any{{"mac": mac, "deviceType": "02000001"}}
	for _, b := range blinds {
		data = append(data, map[string]any{"mac": b, "deviceType": "10000000"})
	}
	raw, _ := json.Marshal(map[string]any{
		"msgType":         "GetDeviceListAck",
		"mac":             mac,
		"ProtocolVersion": protocol,
		"token":           token,
		"data":            data,
	})
	return raw
}

func readDeviceAck(mac string, position, angle, battery int) []byte {
	raw, _ := json.Marshal(map[string]any{
		"msgType": "ReadDeviceAck",
		"mac":     mac,
		"data": map[string]any{
			"currentPosition": position,
			"currentAngle":    angle,
			"batteryLevel":    battery,
		},
	})
	return raw
}

func scriptedGateway(t *testing.T, tr *scriptedTransport) *gateway {
	t.Helper()
	g := &gateway{
		transport: tr,
		key:       "12ab345c-d67e-8f",
		blinds:    make(map[string]*gatewayBlind),
	}
	if err := g.fetchDeviceList(); err != nil {
		t.Fatalf("fetch device list: %v", err)
	}
	return g
}

func TestGateway_DeviceListEnumeratesBlinds(t *testing.T) {
	tr := &scriptedTransport{responses: map[string]func(map[string]any) ([]byte, error){
		"GetDeviceList": func(map[string]any) ([]byte, error) {
			return deviceListAck("aabbccddeeff", "0.9", "1234567890123456", "aabbccddeeff0001", "aabbccddeeff0002"), nil
		},
	}}
	g := scriptedGateway(t, tr)

	if g.MAC() != "aabbccddeeff" {
		t.Fatalf("unexpected mac %q", g.MAC())
	}
	if g.Protocol() != "0.9" {
		t.Fatalf("unexpected protocol %q", g.Protocol())
	}
	if len(g.Blinds()) != 2 {
		t.Fatalf("expected 2 blinds, got %d", len(g.Blinds()))
	}
}

func TestGateway_UpdateRefreshesBlindState(t *testing.T) {
	tr := &scriptedTransport{responses: map[string]func(map[string]any) ([]byte, error){
		"GetDeviceList": func(map[string]any) ([]byte, error) {
			return deviceListAck("aabbccddeeff", "0.9", "1234567890123456", "aabbccddeeff0001"), nil
		},
		"ReadDevice": func(req map[string]any) ([]byte, error) {
			return readDeviceAck(req["mac"].(string), 42, 90, 420), nil
		},
	}}
	g := scriptedGateway(t, tr)

	if err := g.Update(); err != nil {
		t.Fatalf("update: %v", err)
	}
	b := g.Blinds()["aabbccddeeff0001"]
	if b.Position() != 42 || b.Angle() != 90 {
		t.Fatalf("unexpected blind state pos=%d angle=%d", b.Position(), b.Angle())
	}
	if b.BatteryLevel() != 4.2 {
		t.Fatalf("unexpected battery %v", b.BatteryLevel())
	}
}

func TestGateway_WriteCarriesAccessToken(t *testing.T) {
	tr := &scriptedTransport{responses: map[string]func(map[string]any) ([]byte, error){
		"GetDeviceList": func(map[string]any) ([]byte, error) {
			return deviceListAck("aabbccddeeff", "0.9", "1234567890123456", "aabbccddeeff0001"), nil
		},
		"WriteDevice": func(req map[string]any) ([]byte, error) {
			return readDeviceAck(req["mac"].(string), 55, 0, 400), nil
		},
	}}
	g := scriptedGateway(t, tr)

	b := g.Blinds()["aabbccddeeff0001"]
	if err := b.SetAbsolutePosition(55, 80); err != nil {
		t.Fatalf("set absolute position: %v", err)
	}

	last := tr.requests[len(tr.requests)-1]
	if last["AccessToken"] == "" || last["AccessToken"] == nil {
		t.Fatal("write request missing access token")
	}
	data := last["data"].(map[string]any)
	if data["targetPosition"] != 55 || data["targetWidth"] != 80 {
		t.Fatalf("unexpected write payload: %v", data)
	}
	if b.Position() != 55 {
		t.Fatalf("ack not absorbed, position %d", b.Position())
	}
}

func TestBlind_RejectsOutOfRangeTargets(t *testing.T) {
	b := &gatewayBlind{gateway: &gateway{}, mac: "m"}
	if err := b.SetPosition(101); err == nil {
		t.Fatal("expected error for position > 100")
	}
	if err := b.SetAbsolutePosition(-1, -1); err == nil {
		t.Fatal("expected error for negative position")
	}
	if err := b.SetAbsolutePosition(50, 101); err == nil {
		t.Fatal("expected error for width > 100")
	}
}

func TestAccessToken(t *testing.T) {
	token, err := accessToken("abcdefghijklmnop", "0123456789abcdef")
	if err != nil {
		t.Fatalf("access token: %v", err)
	}
	if len(token) != 32 {
		t.Fatalf("expected 32 hex chars, got %d", len(token))
	}
	if _, err := accessToken("short", "0123456789abcdef"); err == nil {
		t.Fatal("expected error for short key")
	}
}

func TestConnectWithRetry_ContextCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := Connect(ctx, "127.0.0.1", "abcdefghijklmnop"); err == nil {
		t.Fatal("expected context error")
	}
}
