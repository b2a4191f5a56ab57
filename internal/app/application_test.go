package app

import (
	"context"
	"io"
	"testing"
	"time"

	"github.com/starkillerOG/HA-motion-blinds/internal/motion"
	"github.com/starkillerOG/HA-motion-blinds/pkg/logger"
)

func testLogger() *logger.Logger {
	log := logger.NewDefault("test")
	log.SetOutput(io.Discard)
	return log
}

type idleListener struct{}

func (idleListener) StartListen() error                  { return nil }
func (idleListener) StopListen()                         {}
func (idleListener) Register(string, motion.PushHandler) {}
func (idleListener) Unregister(string)                   {}

func TestApplicationLifecycle(t *testing.T) {
	gw := motion.NewFakeGateway("aabbccddeeff")
	gw.AddBlind("aabbccddeeff0001", "10000000", 40)

	application, err := New(Stores{}, Options{
		Connector: motion.FakeConnector(gw, nil),
		Listener:  idleListener{},
	}, testLogger())
	if err != nil {
		t.Fatalf("new application: %v", err)
	}

	ctx := context.Background()
	if err := application.Start(ctx); err != nil {
		t.Fatalf("start: %v", err)
	}
	defer func() {
		if err := application.Stop(ctx); err != nil {
			t.Fatalf("stop: %v", err)
		}
	}()

	e, err := application.Entries.Add(ctx, "Hall", "192.168.1.10", "abcdefghijklmnop", time.Hour)
	if err != nil {
		t.Fatalf("add entry: %v", err)
	}

	devices, err := application.Registry.List(ctx, e.ID)
	if err != nil || len(devices) != 1 {
		t.Fatalf("expected gateway device registered: %v %d", err, len(devices))
	}

	coord, ok := application.Entries.Coordinator(e.ID)
	if !ok {
		t.Fatal("coordinator missing for active entry")
	}
	if len(coord.Data()) != 1 {
		t.Fatal("expected one blind snapshot after initial refresh")
	}
}

func TestServiceCallReachesSubscriber(t *testing.T) {
	gw := motion.NewFakeGateway("aabbccddeeff")
	application, err := New(Stores{}, Options{
		Connector: motion.FakeConnector(gw, nil),
		Listener:  idleListener{},
	}, testLogger())
	if err != nil {
		t.Fatalf("new application: %v", err)
	}

	got := make(chan map[string]any, 1)
	remove := application.Dispatcher.Subscribe(
		"motion_blinds",
		func(payload map[string]any) { got <- payload },
	)
	defer remove()

	err = application.Calls.Call(context.Background(), "set_absolute_position", map[string]any{
		"entity_id":         "cover.hall",
		"absolute_position": 75,
	})
	if err != nil {
		t.Fatalf("service call: %v", err)
	}

	select {
	case payload := <-got:
		if payload["absolute_position"] != 75 {
			t.Fatalf("unexpected payload: %#v", payload)
		}
	default:
		t.Fatal("service call payload not delivered")
	}
}
