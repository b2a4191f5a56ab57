// Package coordinator schedules periodic gateway polling and fans results out
// to listeners.
package coordinator

import (
	"context"
	"errors"
	"net"
	"sync"
	"time"

	"github.com/starkillerOG/HA-motion-blinds/internal/app/dispatcher"
	"github.com/starkillerOG/HA-motion-blinds/internal/app/domain/blind"
	"github.com/starkillerOG/HA-motion-blinds/internal/app/metrics"
	"github.com/starkillerOG/HA-motion-blinds/internal/app/system"
	"github.com/starkillerOG/HA-motion-blinds/internal/motion"
	"github.com/starkillerOG/HA-motion-blinds/pkg/logger"
)

// DefaultInterval is the poll interval when the entry does not configure one.
const DefaultInterval = 900 * time.Second

// UpdateSignal names the dispatcher signal carrying fresh snapshots for an
// entry.
func UpdateSignal(entryID string) string {
	return "motion_blinds.updated." + entryID
}

var _ system.Service = (*Coordinator)(nil)

// Coordinator polls one gateway at a fixed interval while at least one
// listener is subscribed. The blocking vendor update runs on its own
// goroutine; polls never overlap.
type Coordinator struct {
	entryID    string
	title      string
	gateway    motion.Gateway
	dispatcher *dispatcher.Dispatcher
	log        *logger.Logger
	interval   time.Duration
	timeout    time.Duration

	mu          sync.Mutex
	listeners   map[int]func()
	nextID      int
	data        map[string]blind.Snapshot
	lastSuccess bool
	polling     bool

	cancel  context.CancelFunc
	wg      sync.WaitGroup
	running bool
}

// New creates a coordinator for one config entry.
func New(entryID, title string, gw motion.Gateway, disp *dispatcher.Dispatcher, interval time.Duration, log *logger.Logger) *Coordinator {
	if log == nil {
		log = logger.NewDefault("coordinator")
	}
	if interval <= 0 {
		interval = DefaultInterval
	}
	return &Coordinator{
		entryID:    entryID,
		title:      title,
		gateway:    gw,
		dispatcher: disp,
		log:        log.WithField("entry_id", entryID),
		interval:   interval,
		timeout:    motion.DefaultTimeout * 2,
		listeners:  make(map[int]func()),
		data:       make(map[string]blind.Snapshot),
	}
}

func (c *Coordinator) Name() string { return "coordinator-" + c.entryID }

// Start begins interval polling. Ticks while nobody listens skip the gateway
// entirely.
func (c *Coordinator) Start(ctx context.Context) error {
	c.mu.Lock()
	if c.running {
		c.mu.Unlock()
		return nil
	}
	runCtx, cancel := context.WithCancel(context.Background())
	c.cancel = cancel
	c.running = true
	interval := c.interval
	c.mu.Unlock()

	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-runCtx.Done():
				return
			case <-ticker.C:
				if c.ListenerCount() == 0 {
					continue
				}
				if err := c.Refresh(runCtx); err != nil {
					c.log.WithError(err).Warn("scheduled gateway poll failed")
				}
			}
		}
	}()

	c.log.WithField("interval", interval).Info("coordinator started")
	return nil
}

// Stop halts polling and waits for an in-flight poll loop iteration.
func (c *Coordinator) Stop(ctx context.Context) error {
	c.mu.Lock()
	if !c.running {
		c.mu.Unlock()
		return nil
	}
	cancel := c.cancel
	c.running = false
	c.cancel = nil
	c.mu.Unlock()

	if cancel != nil {
		cancel()
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		c.wg.Wait()
	}()

	select {
	case <-done:
	case <-ctx.Done():
		return ctx.Err()
	}

	c.log.Info("coordinator stopped")
	return nil
}

// AddListener subscribes to successful refreshes and returns the remove
// function. Polling only happens while at least one listener is registered.
func (c *Coordinator) AddListener(fn func()) func() {
	c.mu.Lock()
	id := c.nextID
	c.nextID++
	c.listeners[id] = fn
	c.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			c.mu.Lock()
			delete(c.listeners, id)
			c.mu.Unlock()
		})
	}
}

// ListenerCount reports the number of subscribed listeners.
func (c *Coordinator) ListenerCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.listeners)
}

// Refresh polls the gateway once, immediately. The blocking vendor call runs
// on a separate goroutine; a refresh while another poll is in flight returns
// without touching the gateway.
func (c *Coordinator) Refresh(ctx context.Context) error {
	c.mu.Lock()
	if c.polling {
		c.mu.Unlock()
		return nil
	}
	c.polling = true
	c.mu.Unlock()

	pollCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	start := time.Now()
	errCh := make(chan error, 1)
	go func() {
		errCh <- c.gateway.Update()
	}()

	var err error
	select {
	case err = <-errCh:
		c.clearPolling()
	case <-pollCtx.Done():
		err = pollCtx.Err()
		// The abandoned update still owns the gateway. Hold the poll
		// slot until it returns so updates never overlap.
		go func() {
			<-errCh
			c.clearPolling()
		}()
	}
	err = translateTimeout(err)
	metrics.RecordGatewayPoll(c.entryID, time.Since(start), err)

	c.mu.Lock()
	c.lastSuccess = err == nil
	c.mu.Unlock()

	if err != nil {
		return err
	}

	c.absorbSnapshots()
	c.notifyListeners()
	if c.dispatcher != nil {
		c.dispatcher.Send(UpdateSignal(c.entryID), map[string]any{
			"entry_id": c.entryID,
			"title":    c.title,
			"blinds":   c.Data(),
		})
	}
	return nil
}

func (c *Coordinator) clearPolling() {
	c.mu.Lock()
	c.polling = false
	c.mu.Unlock()
}

func (c *Coordinator) absorbSnapshots() {
	now := time.Now().UTC()
	fresh := make(map[string]blind.Snapshot)
	for mac, b := range c.gateway.Blinds() {
		fresh[mac] = blind.Snapshot{
			MAC:          b.MAC(),
			DeviceType:   b.Type(),
			Position:     b.Position(),
			Angle:        b.Angle(),
			BatteryLevel: b.BatteryLevel(),
			UpdatedAt:    now,
		}
	}
	c.mu.Lock()
	c.data = fresh
	c.mu.Unlock()
}

func (c *Coordinator) notifyListeners() {
	c.mu.Lock()
	listeners := make([]func(), 0, len(c.listeners))
	for _, fn := range c.listeners {
		listeners = append(listeners, fn)
	}
	c.mu.Unlock()

	for _, fn := range listeners {
		fn()
	}
}

// NotifyPush re-reads the gateway's cached blind state after a multicast push
// and fans the fresh snapshots out without a network poll.
func (c *Coordinator) NotifyPush() {
	c.absorbSnapshots()
	c.mu.Lock()
	c.lastSuccess = true
	c.mu.Unlock()
	c.notifyListeners()
	if c.dispatcher != nil {
		c.dispatcher.Send(UpdateSignal(c.entryID), map[string]any{
			"entry_id": c.entryID,
			"title":    c.title,
			"blinds":   c.Data(),
		})
	}
}

// Data returns the last successfully polled snapshots.
func (c *Coordinator) Data() map[string]blind.Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make(map[string]blind.Snapshot, len(c.data))
	for mac, snap := range c.data {
		out[mac] = snap
	}
	return out
}

// LastUpdateSuccess reports whether the most recent poll succeeded.
func (c *Coordinator) LastUpdateSuccess() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastSuccess
}

// Gateway exposes the polled gateway.
func (c *Coordinator) Gateway() motion.Gateway { return c.gateway }

// EntryID names the config entry this coordinator serves.
func (c *Coordinator) EntryID() string { return c.entryID }

// translateTimeout maps a network-level timeout onto the deadline error the
// refresh machinery understands. Every other error keeps its identity.
func translateTimeout(err error) error {
	if err == nil {
		return nil
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return context.DeadlineExceeded
	}
	return err
}
