package motion

import (
	"crypto/aes"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net"
	"strings"
	"time"

	"github.com/tidwall/gjson"
)

// transport exchanges one JSON request for one JSON response with a gateway.
type transport interface {
	roundTrip(request map[string]any) ([]byte, error)
}

// udpTransport talks to a gateway over unicast UDP. Each exchange opens a
// short-lived socket; the gateway answers on the same flow.
type udpTransport struct {
	addr    string
	timeout time.Duration
}

func newUDPTransport(host string, timeout time.Duration) *udpTransport {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &udpTransport{
		addr:    net.JoinHostPort(host, fmt.Sprintf("%d", GatewayPort)),
		timeout: timeout,
	}
}

func (t *udpTransport) roundTrip(request map[string]any) ([]byte, error) {
	payload, err := json.Marshal(request)
	if err != nil {
		return nil, fmt.Errorf("encode request: %w", err)
	}

	conn, err := net.Dial("udp", t.addr)
	if err != nil {
		return nil, fmt.Errorf("dial gateway: %w", err)
	}
	defer conn.Close()

	if err := conn.SetDeadline(time.Now().Add(t.timeout)); err != nil {
		return nil, err
	}
	if _, err := conn.Write(payload); err != nil {
		return nil, fmt.Errorf("send %s: %w", request["msgType"], err)
	}

	buf := make([]byte, 4096)
	n, err := conn.Read(buf)
	if err != nil {
		// Deadline errors satisfy net.Error with Timeout() == true;
		// callers rely on that to classify the failure.
		return nil, err
	}
	return buf[:n], nil
}

// msgID returns the timestamp-shaped message id the gateway expects.
func msgID() string {
	return time.Now().Format("20060102150405000")
}

// accessToken derives the write-operation token from the account key and the
// token announced by the gateway.
func accessToken(key, token string) (string, error) {
	if len(key) != 16 {
		return "", fmt.Errorf("key must be 16 characters, got %d", len(key))
	}
	if len(token) != 16 {
		return "", fmt.Errorf("gateway token must be 16 characters, got %d", len(token))
	}
	block, err := aes.NewCipher([]byte(key))
	if err != nil {
		return "", err
	}
	out := make([]byte, 16)
	block.Encrypt(out, []byte(token))
	return strings.ToUpper(hex.EncodeToString(out)), nil
}

// field lifts a single string field out of a raw gateway payload.
func field(raw []byte, path string) string {
	return gjson.GetBytes(raw, path).String()
}

// intField lifts a single integer field out of a raw gateway payload.
func intField(raw []byte, path string) int {
	return int(gjson.GetBytes(raw, path).Int())
}
