package entries

import (
	"context"
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/starkillerOG/HA-motion-blinds/internal/app/dispatcher"
	"github.com/starkillerOG/HA-motion-blinds/internal/app/domain/entry"
	"github.com/starkillerOG/HA-motion-blinds/internal/app/services/registry"
	"github.com/starkillerOG/HA-motion-blinds/internal/app/storage/memory"
	"github.com/starkillerOG/HA-motion-blinds/internal/motion"
	"github.com/starkillerOG/HA-motion-blinds/pkg/logger"
)

const testKey = "abcdefghijklmnop"

func testLogger() *logger.Logger {
	log := logger.NewDefault("test")
	log.SetOutput(io.Discard)
	return log
}

// fakeListener records multicast lifecycle transitions.
type fakeListener struct {
	mu       sync.Mutex
	starts   int
	stops    int
	handlers map[string]motion.PushHandler
}

func newFakeListener() *fakeListener {
	return &fakeListener{handlers: make(map[string]motion.PushHandler)}
}

func (l *fakeListener) StartListen() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.starts++
	return nil
}

func (l *fakeListener) StopListen() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.stops++
}

func (l *fakeListener) Register(mac string, handler motion.PushHandler) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.handlers[mac] = handler
}

func (l *fakeListener) Unregister(mac string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.handlers, mac)
}

func (l *fakeListener) counts() (int, int) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.starts, l.stops
}

func testService(connector motion.Connector) (*Service, *fakeListener, *registry.Service) {
	store := memory.New()
	listener := newFakeListener()
	reg := registry.New(store, testLogger())
	svc := New(store, connector, listener, dispatcher.New(), reg, testLogger())
	return svc, listener, reg
}

func TestService_AddSetsUpEntryAndRegistersDevice(t *testing.T) {
	gw := motion.NewFakeGateway("aabbccddeeff")
	gw.AddBlind("aabbccddeeff0001", "10000000", 10)
	svc, listener, reg := testService(motion.FakeConnector(gw, nil))
	ctx := context.Background()

	e, err := svc.Add(ctx, "Living room", "192.168.1.10", testKey, time.Hour)
	if err != nil {
		t.Fatalf("add: %v", err)
	}
	if svc.ActiveCount() != 1 {
		t.Fatalf("expected 1 active entry, got %d", svc.ActiveCount())
	}
	// The returned entry reflects the adopted unique id, not the value
	// persisted before setup ran.
	if e.UniqueID != "aabbccddeeff" {
		t.Fatalf("returned entry missing unique id: %#v", e)
	}

	stored, err := svc.Get(ctx, e.ID)
	if err != nil {
		t.Fatalf("get entry: %v", err)
	}
	if stored.UniqueID != "aabbccddeeff" {
		t.Fatalf("unique id not recorded: %#v", stored)
	}

	starts, _ := listener.counts()
	if starts != 1 {
		t.Fatalf("expected multicast started once, got %d", starts)
	}

	devices, err := reg.List(ctx, e.ID)
	if err != nil || len(devices) != 1 {
		t.Fatalf("expected registered device: %v %d", err, len(devices))
	}
	dev := devices[0]
	if dev.Model != "Wi-Fi bridge" || dev.SWVersion != gw.Protocol() {
		t.Fatalf("unexpected device record: %#v", dev)
	}

	coord, ok := svc.Coordinator(e.ID)
	if !ok {
		t.Fatal("coordinator not exposed")
	}
	if len(coord.Data()) != 1 {
		t.Fatal("initial refresh did not collect snapshots")
	}
}

func TestService_AddValidation(t *testing.T) {
	svc, _, _ := testService(motion.FakeConnector(motion.NewFakeGateway("aa"), nil))
	ctx := context.Background()

	if _, err := svc.Add(ctx, "t", "", testKey, 0); err == nil {
		t.Fatal("expected error for missing host")
	}
	if _, err := svc.Add(ctx, "t", "192.168.1.10", "short", 0); err == nil {
		t.Fatal("expected error for short api key")
	}
}

func TestService_UnreachableGatewayIsNotReady(t *testing.T) {
	svc, listener, _ := testService(motion.FakeConnector(nil, errors.New("no route to host")))
	ctx := context.Background()

	e, err := svc.Add(ctx, "t", "192.168.1.10", testKey, 0)
	if !errors.Is(err, ErrEntryNotReady) {
		t.Fatalf("expected ErrEntryNotReady, got %v", err)
	}
	// Entry stays persisted for a later retry.
	if _, err := svc.Get(ctx, e.ID); err != nil {
		t.Fatalf("entry must stay persisted: %v", err)
	}
	if svc.ActiveCount() != 0 {
		t.Fatal("failed setup must not leave an active runtime")
	}

	starts, stops := listener.counts()
	if starts != 1 || stops != 1 {
		t.Fatalf("listener must be stopped again after failed first setup, starts=%d stops=%d", starts, stops)
	}
}

func TestService_MulticastSharedAcrossEntries(t *testing.T) {
	macs := []string{"aabbccddee01", "aabbccddee02"}
	var idx int
	connector := motion.ConnectorFunc(func(context.Context, string, string) (motion.Gateway, error) {
		gw := motion.NewFakeGateway(macs[idx])
		idx++
		return gw, nil
	})
	svc, listener, _ := testService(connector)
	ctx := context.Background()

	first, err := svc.Add(ctx, "one", "192.168.1.10", testKey, time.Hour)
	if err != nil {
		t.Fatalf("add first: %v", err)
	}
	second, err := svc.Add(ctx, "two", "192.168.1.11", testKey, time.Hour)
	if err != nil {
		t.Fatalf("add second: %v", err)
	}

	starts, stops := listener.counts()
	if starts != 1 || stops != 0 {
		t.Fatalf("multicast must start exactly once, starts=%d stops=%d", starts, stops)
	}

	if err := svc.Unload(ctx, first.ID); err != nil {
		t.Fatalf("unload first: %v", err)
	}
	if _, stops := listener.counts(); stops != 0 {
		t.Fatal("listener must keep running while an entry remains")
	}

	if err := svc.Unload(ctx, second.ID); err != nil {
		t.Fatalf("unload second: %v", err)
	}
	if _, stops := listener.counts(); stops != 1 {
		t.Fatal("listener must stop with the last entry")
	}
}

func TestService_ListenerSurvivesUnloadDuringConcurrentSetup(t *testing.T) {
	release := make(chan struct{})
	connecting := make(chan struct{})
	var calls int
	connector := motion.ConnectorFunc(func(context.Context, string, string) (motion.Gateway, error) {
		calls++
		if calls == 1 {
			return motion.NewFakeGateway("aabbccddee01"), nil
		}
		close(connecting)
		<-release
		return motion.NewFakeGateway("aabbccddee02"), nil
	})
	svc, listener, _ := testService(connector)
	ctx := context.Background()

	first, err := svc.Add(ctx, "one", "192.168.1.10", testKey, time.Hour)
	if err != nil {
		t.Fatalf("add first: %v", err)
	}

	done := make(chan error, 1)
	go func() {
		_, err := svc.Add(ctx, "two", "192.168.1.11", testKey, time.Hour)
		done <- err
	}()
	<-connecting

	// The last active entry goes away while the second setup is still
	// connecting. The in-flight setup holds its own listener reference.
	if err := svc.Unload(ctx, first.ID); err != nil {
		t.Fatalf("unload first: %v", err)
	}
	close(release)
	if err := <-done; err != nil {
		t.Fatalf("add second: %v", err)
	}

	if svc.ActiveCount() != 1 {
		t.Fatalf("expected 1 active entry, got %d", svc.ActiveCount())
	}
	starts, stops := listener.counts()
	if starts != 1 || stops != 0 {
		t.Fatalf("listener must keep running for the surviving entry, starts=%d stops=%d", starts, stops)
	}
}

func TestService_PushRoutedIntoCoordinator(t *testing.T) {
	gw := motion.NewFakeGateway("aabbccddeeff")
	gw.AddBlind("aabbccddeeff0001", "10000000", 10)
	svc, listener, _ := testService(motion.FakeConnector(gw, nil))
	ctx := context.Background()

	e, err := svc.Add(ctx, "t", "192.168.1.10", testKey, time.Hour)
	if err != nil {
		t.Fatalf("add: %v", err)
	}

	coord, _ := svc.Coordinator(e.ID)
	notified := make(chan struct{}, 1)
	remove := coord.AddListener(func() {
		select {
		case notified <- struct{}{}:
		default:
		}
	})
	defer remove()

	listener.mu.Lock()
	handler := listener.handlers["aabbccddeeff"]
	listener.mu.Unlock()
	if handler == nil {
		t.Fatal("push handler not registered")
	}

	// Fake gateways do not absorb raw pushes, so no notification happens;
	// the handler must still be callable without panicking.
	handler([]byte(`{"mac":"aabbccddeeff0001","data":{"currentPosition":55}}`))

	if err := svc.Remove(ctx, e.ID); err != nil {
		t.Fatalf("remove: %v", err)
	}
	if _, err := svc.Get(ctx, e.ID); err == nil {
		t.Fatal("entry must be deleted after remove")
	}
}

func TestService_ReloadKeepsEntryActive(t *testing.T) {
	gw := motion.NewFakeGateway("aabbccddeeff")
	svc, _, _ := testService(motion.FakeConnector(gw, nil))
	ctx := context.Background()

	e, err := svc.Add(ctx, "t", "192.168.1.10", testKey, time.Hour)
	if err != nil {
		t.Fatalf("add: %v", err)
	}
	if err := svc.Reload(ctx, e.ID); err != nil {
		t.Fatalf("reload: %v", err)
	}
	if svc.ActiveCount() != 1 {
		t.Fatalf("expected entry active after reload, got %d", svc.ActiveCount())
	}
}

func TestService_StartSetsUpPersistedEntries(t *testing.T) {
	store := memory.New()
	listener := newFakeListener()
	gw := motion.NewFakeGateway("aabbccddeeff")
	svc := New(store, motion.FakeConnector(gw, nil), listener, dispatcher.New(), nil, testLogger())
	ctx := context.Background()

	if _, err := store.CreateEntry(ctx, entry.ConfigEntry{
		Title:        "seeded",
		Host:         "192.168.1.10",
		APIKey:       testKey,
		PollInterval: time.Hour,
	}); err != nil {
		t.Fatalf("seed entry: %v", err)
	}

	if err := svc.Start(ctx); err != nil {
		t.Fatalf("start: %v", err)
	}
	if svc.ActiveCount() != 1 {
		t.Fatal("persisted entry not set up on start")
	}
	if err := svc.Stop(ctx); err != nil {
		t.Fatalf("stop: %v", err)
	}
	if svc.ActiveCount() != 0 {
		t.Fatal("entries must unload on stop")
	}
}
