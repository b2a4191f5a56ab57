package httpapi

import (
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/starkillerOG/HA-motion-blinds/internal/app/services/calls"
	"github.com/starkillerOG/HA-motion-blinds/internal/app/services/coordinator"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// The API is key-authenticated; browser origins are not a trust boundary.
	CheckOrigin: func(*http.Request) bool { return true },
}

const (
	writeWait  = 10 * time.Second
	pingPeriod = 30 * time.Second
)

type event struct {
	Signal  string         `json:"signal"`
	Payload map[string]any `json:"payload"`
	Time    time.Time      `json:"time"`
}

// events streams dispatcher signals over a websocket. The optional ?signal=
// query restricts the stream to one signal; default is the update signal of
// every entry plus service calls.
func (h *handler) events(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.WithError(err).Warn("websocket upgrade failed")
		return
	}
	defer conn.Close()

	signals := r.URL.Query()["signal"]
	if len(signals) == 0 {
		signals = []string{calls.Domain}
		for _, e := range mustList(h, r) {
			signals = append(signals, coordinator.UpdateSignal(e))
		}
	}

	send := make(chan event, 16)
	var removes []func()
	for _, signal := range signals {
		sig := signal
		removes = append(removes, h.app.Dispatcher.Subscribe(sig, func(payload map[string]any) {
			select {
			case send <- event{Signal: sig, Payload: payload, Time: time.Now().UTC()}:
			default:
				// Slow consumer; drop rather than block the dispatcher.
			}
		}))
	}
	defer func() {
		for _, remove := range removes {
			remove()
		}
	}()

	// Reader goroutine notices the peer going away.
	closed := make(chan struct{})
	go func() {
		defer close(closed)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case ev := <-send:
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteJSON(ev); err != nil {
				return
			}
		case <-ticker.C:
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-closed:
			return
		case <-r.Context().Done():
			return
		}
	}
}

// mustList returns the persisted entry ids, swallowing errors; the stream
// falls back to service-call signals only.
func mustList(h *handler, r *http.Request) []string {
	list, err := h.app.Entries.List(r.Context())
	if err != nil {
		h.log.WithError(err).Warn("listing entries for event stream")
		return nil
	}
	ids := make([]string, 0, len(list))
	for _, e := range list {
		ids = append(ids, e.ID)
	}
	return ids
}
